package timectrl

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// SimClock is an interface for accessing simulation time. Components that
// stamp shares and reports depend on it rather than on a concrete
// controller.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime waits one Tick of wall-clock time between rounds.
	RealTime Mode = iota
	// Accelerated runs rounds back to back while still stepping by Tick.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// TimeController drives payload rounds and notifies registered listeners
// once per round.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	clock       clockwork.Clock
	currentTime time.Time
	listeners   []func(ctx context.Context, round int, simTime time.Time)
}

// Option customises a TimeController.
type Option func(*TimeController)

// WithClock sets the clock RealTime mode waits on.
func WithClock(c clockwork.Clock) Option {
	return func(tc *TimeController) { tc.clock = c }
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode, opts ...Option) *TimeController {
	tc := &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		clock:       clockwork.NewRealClock(),
		currentTime: start,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(tc)
		}
	}
	return tc
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves simulation time to t.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// AddListener registers a callback invoked on every round. Rounds are
// numbered from 1.
func (tc *TimeController) AddListener(fn func(ctx context.Context, round int, simTime time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Run executes rounds synchronously. It returns when all rounds ran or ctx
// is done; rounds <= 0 runs until ctx is done.
func (tc *TimeController) Run(ctx context.Context, rounds int) error {
	tc.mu.Lock()
	simTime := tc.StartTime
	tc.currentTime = simTime
	listeners := append([]func(context.Context, int, time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	var ticks <-chan time.Time
	if tc.Mode == RealTime {
		ticker := tc.clock.NewTicker(tc.Tick)
		defer ticker.Stop()
		ticks = ticker.Chan()
	}

	for round := 1; rounds <= 0 || round <= rounds; round++ {
		if ticks != nil {
			select {
			case <-ticks:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		simTime = simTime.Add(tc.Tick)
		tc.SetTime(simTime)
		for _, fn := range listeners {
			fn(ctx, round, simTime)
		}
	}
	return nil
}

// Start runs the controller in a separate goroutine. The returned channel
// yields Run's result and is then closed.
func (tc *TimeController) Start(ctx context.Context, rounds int) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- tc.Run(ctx, rounds)
	}()
	return done
}
