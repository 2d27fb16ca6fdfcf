package relay

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/signalsfoundry/sensornet-simulator/internal/sharing"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// DefaultTimeout is the acknowledgment timeout TD.
const DefaultTimeout = 500 * time.Millisecond

// Monitor hands a message to a relay and waits for the relay's echo.
//
// Relays answer according to their FailureInjection: honest relays echo
// at once, silent relays never do, delayed relays echo from a timer after
// their configured delay and tampering relays echo altered content. The
// timer write to the relay's last-received slot is the only work that
// happens off the caller's goroutine.
type Monitor struct {
	clock   clockwork.Clock
	timeout time.Duration
	hash    model.HashFunc
}

// MonitorOption customises a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorClock sets the clock timeouts and delayed echoes run on.
func WithMonitorClock(c clockwork.Clock) MonitorOption {
	return func(m *Monitor) { m.clock = c }
}

// WithTimeout sets TD.
func WithTimeout(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.timeout = d }
}

// WithHash sets the hash a tampering relay uses to disguise its echo.
func WithHash(h model.HashFunc) MonitorOption {
	return func(m *Monitor) { m.hash = h }
}

// NewMonitor builds a Monitor.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		clock:   clockwork.NewRealClock(),
		timeout: DefaultTimeout,
		hash:    model.HashSHA256,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}
	return m
}

// Timeout returns TD.
func (m *Monitor) Timeout() time.Duration { return m.timeout }

// Send transmits msg from sender to relay and blocks until the relay
// echoes it or TD elapses. It returns ErrTimeout when no echo arrives in
// time and ErrTampered when the echoed hash differs from msg.Hash.
func (m *Monitor) Send(ctx context.Context, sender, relay *model.Node, msg *model.Message) error {
	sender.SetLastSent(msg)

	acks := make(chan *model.Message, 1)
	echo := func(e *model.Message) {
		relay.SetLastReceived(e)
		select {
		case acks <- e:
		default:
		}
	}

	switch relay.Failure.Behavior {
	case model.BehaviorSilent:
	case model.BehaviorDelayed:
		// Late echoes still land in the relay's slot after the sender has
		// given up.
		m.clock.AfterFunc(relay.Failure.Delay, func() { echo(msg) })
	case model.BehaviorTamper:
		echo(m.tamper(msg))
	default:
		echo(msg)
	}

	timer := m.clock.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case got := <-acks:
		if got.Hash != msg.Hash {
			return ErrTampered
		}
		return nil
	case <-timer.Chan():
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) tamper(msg *model.Message) *model.Message {
	altered := *msg
	altered.Payload = append([]byte(nil), msg.Payload...)
	if len(altered.Payload) == 0 {
		altered.Payload = []byte{0}
	}
	altered.Payload[0] ^= 0xff
	h, err := sharing.Digest(m.hash, 0, altered.Payload)
	if err != nil || h == msg.Hash {
		h = "tampered:" + msg.Hash
	}
	altered.Hash = h
	return &altered
}
