// Package relay moves shares hop by hop from their origin to the sink.
//
// At every hop the orchestrator forwards straight to the sink when it is in
// mutual range. Otherwise it ranks the sender's neighbors with the
// Selector, hands the share to the best one through the Monitor and falls
// back to the next-best relay when the monitor reports a timeout or a
// tampered echo. Every failure is reported to the reputation service.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/internal/observability"
	"github.com/signalsfoundry/sensornet-simulator/kb"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// DefaultMaxRetries bounds the monitored attempts per hop.
const DefaultMaxRetries = 3

// Share outcomes recorded in metrics.
const (
	OutcomeDelivered   = "delivered"
	OutcomeFailed      = "delivery_failed"
	OutcomeHopLimit    = "hop_limit"
	OutcomeUnreachable = "unreachable"
	OutcomeCanceled    = "canceled"
)

// Hop attempt results recorded in metrics.
const (
	HopOK       = "ok"
	HopTimeout  = "timeout"
	HopTampered = "tampered"
)

// MetricsRecorder receives hop and share outcomes.
type MetricsRecorder interface {
	ObserveHop(result string)
	ObserveShare(outcome string, hops int)
}

// Delivery is the result of transmitting one share.
type Delivery struct {
	ShareIndex int
	// Path is the share's traversed path. It ends with model.SinkID when
	// the share was delivered.
	Path []string
	Hops int
	// Attempts counts monitored relay hand-offs, successful or not.
	Attempts int
	// Reroutes counts hops that succeeded only after an earlier candidate
	// failed.
	Reroutes int
	// Failures holds one *HopError per failed attempt.
	Failures []error
	Err      error
}

// Delivered reports whether the share reached the sink.
func (d Delivery) Delivered() bool { return d.Err == nil }

// Orchestrator drives shares across the network.
type Orchestrator struct {
	store      *kb.KnowledgeBase
	routes     core.RoutingTable
	rep        Reputations
	monitor    *Monitor
	selector   *Selector
	energy     core.EnergyModel
	epsilon    float64
	maxRetries int
	hopLimit   int

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithMetrics attaches a hop and share outcome recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer overrides the tracer used for transmission spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMaxRetries sets the number of monitored attempts per hop.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) { o.maxRetries = n }
}

// WithEnergyModel sets the radio model used for scoring and debits.
func WithEnergyModel(m core.EnergyModel) Option {
	return func(o *Orchestrator) { o.energy = m }
}

// WithEpsilon sets the distance offset of the interest function.
func WithEpsilon(eps float64) Option {
	return func(o *Orchestrator) { o.epsilon = eps }
}

// WithHopLimit replaces the default hop budget of
// max(routing lower bound, node count).
func WithHopLimit(n int) Option {
	return func(o *Orchestrator) { o.hopLimit = n }
}

// NewOrchestrator wires an orchestrator over the knowledge base, routing
// table, reputation view and monitor.
func NewOrchestrator(store *kb.KnowledgeBase, routes core.RoutingTable, rep Reputations, monitor *Monitor, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("relay: kb is nil")
	}
	if rep == nil {
		return nil, fmt.Errorf("relay: reputation view is nil")
	}
	if monitor == nil {
		monitor = NewMonitor()
	}
	o := &Orchestrator{
		store:      store,
		routes:     routes,
		rep:        rep,
		monitor:    monitor,
		energy:     core.DefaultEnergyModel(),
		epsilon:    DefaultEpsilon,
		maxRetries: DefaultMaxRetries,
		log:        logging.Noop(),
		tracer:     observability.Tracer("relay"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.log == nil {
		o.log = logging.Noop()
	}
	if o.maxRetries <= 0 {
		return nil, fmt.Errorf("relay: max retries must be positive, got %d", o.maxRetries)
	}
	o.selector = NewSelector(store, rep, o.energy, o.epsilon)
	return o, nil
}

// HopLimit returns the global hop budget for one share.
func (o *Orchestrator) HopLimit() int {
	if o.hopLimit > 0 {
		return o.hopLimit
	}
	return max(o.routes.LowerBound(), o.store.NodeCount())
}

// Transmit moves share from its origin, share.Traversed[0], to the sink.
// share.Traversed is extended in place and is kept on failure.
//
// A hop that runs out of retries does not end the transmission: the next
// round resumes at the same node with the failed relays still excluded.
// Each round, successful or not, consumes one unit of the hop budget, and
// so does the final hop into the sink; Hops never exceeds HopLimit. The
// transmission fails with ErrDeliveryFailed once a node has no eligible
// relay left and with ErrHopLimitExceeded once the budget is spent.
func (o *Orchestrator) Transmit(ctx context.Context, share *model.Share) Delivery {
	origin := share.Origin()
	ctx, span := o.tracer.Start(ctx, "relay.Transmit", trace.WithAttributes(
		attribute.Int("share.index", share.Index),
		attribute.String("share.origin", origin),
	))
	defer span.End()
	ctx, log := logging.WithShareLogger(ctx, o.log, share.Index)

	d := o.transmit(ctx, share)
	d.Path = append([]string(nil), share.Traversed...)

	outcome := OutcomeDelivered
	switch {
	case d.Err == nil:
	case errors.Is(d.Err, ErrUnreachableSource):
		outcome = OutcomeUnreachable
	case errors.Is(d.Err, ErrHopLimitExceeded):
		outcome = OutcomeHopLimit
	case errors.Is(d.Err, context.Canceled), errors.Is(d.Err, context.DeadlineExceeded):
		outcome = OutcomeCanceled
	default:
		outcome = OutcomeFailed
	}
	if o.metrics != nil {
		o.metrics.ObserveShare(outcome, d.Hops)
	}

	span.SetAttributes(
		attribute.Int("share.hops", d.Hops),
		attribute.Int("share.attempts", d.Attempts),
		attribute.String("share.outcome", outcome),
	)
	if d.Err != nil {
		span.RecordError(d.Err)
		span.SetStatus(codes.Error, outcome)
		log.Warn(ctx, "share transmission failed",
			logging.String("origin", origin),
			logging.Any("path", d.Path),
			logging.Err(d.Err),
		)
	} else {
		log.Info(ctx, "share delivered",
			logging.String("origin", origin),
			logging.Int("hops", d.Hops),
			logging.Int("reroutes", d.Reroutes),
		)
	}
	return d
}

func (o *Orchestrator) transmit(ctx context.Context, share *model.Share) Delivery {
	d := Delivery{ShareIndex: share.Index}
	origin := share.Origin()
	if o.store.GetNode(origin) == nil {
		d.Err = &HopError{Share: share.Index, Node: origin, Err: fmt.Errorf("%w: %w %q", ErrDeliveryFailed, kb.ErrNodeNotFound, origin)}
		return d
	}
	sink := o.store.Sink()
	if sink == nil {
		d.Err = &HopError{Share: share.Index, Node: origin, Err: fmt.Errorf("%w: %w", ErrDeliveryFailed, core.ErrNoSink)}
		return d
	}
	if !o.routes.Entry(origin).HasBound && !core.SinkInRange(o.store, origin) {
		d.Err = &HopError{Share: share.Index, Node: origin, Err: fmt.Errorf("%w: %w", ErrUnreachableSource, ErrDeliveryFailed)}
		return d
	}

	bits := core.PayloadBits(len(share.Payload))
	limit := o.HopLimit()
	excluded := make(map[string]bool)
	cur := origin
	round := 0

	for {
		if err := ctx.Err(); err != nil {
			d.Err = &HopError{Share: share.Index, Node: cur, Hop: round, Err: err}
			return d
		}
		node := o.store.GetNode(cur)

		if round >= limit {
			d.Err = &HopError{Share: share.Index, Node: cur, Hop: round, Err: fmt.Errorf("%w: %d rounds", ErrHopLimitExceeded, limit)}
			return d
		}
		if core.SinkInRange(o.store, cur) {
			o.debit(ctx, cur, o.energy.TransmitCost(core.Distance(node.Location, sink.Location), bits))
			share.Traversed = append(share.Traversed, model.SinkID)
			d.Hops++
			return d
		}
		round++

		advanced, err := o.hop(ctx, share, node, round, bits, excluded, &d)
		if err != nil {
			d.Err = err
			return d
		}
		if advanced != "" {
			cur = advanced
			continue
		}
		if _, ok := o.selector.Best(cur, share, excluded); !ok {
			d.Err = &HopError{Share: share.Index, Node: cur, Hop: round, Err: fmt.Errorf("%w: no eligible relay", ErrDeliveryFailed)}
			return d
		}
		o.logger(ctx).Debug(ctx, "hop retries exhausted, resuming", logging.Node(cur), logging.Hop(round))
	}
}

// hop runs up to maxRetries monitored attempts from node. It returns the
// relay that accepted the share, or "" when none did.
func (o *Orchestrator) hop(ctx context.Context, share *model.Share, node *model.Node, round, bits int, excluded map[string]bool, d *Delivery) (string, error) {
	failed := false
	for try := 0; try < o.maxRetries; try++ {
		cand, ok := o.selector.Best(node.ID, share, excluded)
		if !ok {
			return "", nil
		}
		relay := o.store.GetNode(cand.ID)
		d.Attempts++
		o.debit(ctx, node.ID, o.energy.TransmitCost(cand.Distance, bits))

		err := o.monitor.Send(ctx, node, relay, o.message(share))
		if err == nil {
			o.observeHop(HopOK)
			share.Traversed = append(share.Traversed, cand.ID)
			d.Hops++
			if failed {
				d.Reroutes++
			}
			return cand.ID, nil
		}
		if ctx.Err() != nil {
			return "", &HopError{Share: share.Index, Node: node.ID, Candidate: cand.ID, Hop: round, Err: err}
		}

		failed = true
		excluded[cand.ID] = true
		hopErr := &HopError{Share: share.Index, Node: node.ID, Candidate: cand.ID, Hop: round, Err: err}
		d.Failures = append(d.Failures, hopErr)

		kind := model.AnomalyTimeout
		result := HopTimeout
		if errors.Is(err, ErrTampered) {
			kind, result = model.AnomalyTampered, HopTampered
		}
		o.observeHop(result)
		o.logger(ctx).Warn(ctx, "relay attempt failed",
			logging.Node(node.ID),
			logging.Hop(round),
			logging.String("candidate", cand.ID),
			logging.Int("attempt", try+1),
			logging.Err(err),
		)
		o.rep.Report(ctx, node.ID, cand.ID, kind, share.Index)
	}
	return "", nil
}

func (o *Orchestrator) message(share *model.Share) *model.Message {
	return &model.Message{
		ID:            uuid.NewString(),
		Timestamp:     o.monitor.clock.Now(),
		SuggestedPath: share.SuggestedPath,
		Traversed:     append([]string(nil), share.Traversed...),
		Hash:          share.Hash,
		Payload:       share.Payload,
	}
}

func (o *Orchestrator) debit(ctx context.Context, id string, cost float64) {
	if _, err := o.store.DebitEnergy(id, cost); err != nil {
		o.logger(ctx).Warn(ctx, "energy debit failed", logging.Node(id), logging.Err(err))
	}
}

func (o *Orchestrator) observeHop(result string) {
	if o.metrics != nil {
		o.metrics.ObserveHop(result)
	}
}

// logger prefers the share-scoped logger carried by ctx.
func (o *Orchestrator) logger(ctx context.Context) logging.Logger {
	return logging.FromContext(ctx, o.log)
}
