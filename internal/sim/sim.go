// Package sim runs the payload pipeline end to end: seal for the sink,
// split into t+1 shares, relay every share independently, collect the
// survivors at the sink, reconstruct and open.
package sim

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/internal/config"
	"github.com/signalsfoundry/sensornet-simulator/internal/envelope"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/internal/observability"
	"github.com/signalsfoundry/sensornet-simulator/internal/relay"
	"github.com/signalsfoundry/sensornet-simulator/internal/reputation"
	"github.com/signalsfoundry/sensornet-simulator/internal/sharing"
	"github.com/signalsfoundry/sensornet-simulator/kb"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// Reconstruction results recorded in metrics.
const (
	ReconstructOK     = "ok"
	ReconstructFailed = "failed"
)

// Outcome summarises one payload delivery.
type Outcome struct {
	PayloadID  string
	Source     string
	Deliveries []relay.Delivery
	// Delivered is the number of shares that reached the sink.
	Delivered int
	// Plaintext is the payload recovered at the sink.
	Plaintext []byte
}

// Simulator owns the wired components of one simulated network.
type Simulator struct {
	store  *kb.KnowledgeBase
	cfg    config.Config
	routes core.RoutingTable
	rep    *reputation.Service
	orch   *relay.Orchestrator

	log        logging.Logger
	metrics    *observability.SimCollector
	routeStats *observability.RoutingCollector
	tracer     trace.Tracer
	clock      clockwork.Clock
	random     io.Reader
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Simulator) { s.log = l }
}

// WithCollector records share, hop, report and reconstruction metrics.
func WithCollector(c *observability.SimCollector) Option {
	return func(s *Simulator) { s.metrics = c }
}

// WithRoutingCollector records routing-table build metrics.
func WithRoutingCollector(c *observability.RoutingCollector) Option {
	return func(s *Simulator) { s.routeStats = c }
}

// WithClock sets the clock used for timeouts and timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Simulator) { s.clock = c }
}

// WithRandom sets the entropy source for keys and envelopes.
func WithRandom(r io.Reader) Option {
	return func(s *Simulator) { s.random = r }
}

// New builds routing state and wires reputation, monitor and orchestrator
// over store. The sink gets a fresh key pair if it has none.
func New(store *kb.KnowledgeBase, cfg config.Config, opts ...Option) (*Simulator, error) {
	if store == nil {
		return nil, errors.New("sim: kb is nil")
	}
	s := &Simulator{
		store:  store,
		cfg:    cfg,
		log:    logging.Noop(),
		tracer: observability.Tracer("sim"),
		clock:  clockwork.NewRealClock(),
		random: rand.Reader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = logging.Noop()
	}

	sink := store.Sink()
	if sink == nil {
		return nil, core.ErrNoSink
	}
	if sink.PrivateKey == nil {
		priv, err := envelope.GenerateKeyPair(s.random)
		if err != nil {
			return nil, fmt.Errorf("sink keys: %w", err)
		}
		sink.PrivateKey = priv
		sink.PublicKey = priv.PublicKey()
	}

	if err := s.buildRoutes(); err != nil {
		return nil, err
	}

	repOpts := []reputation.Option{
		reputation.WithLogger(s.log),
		reputation.WithClock(s.clock),
		reputation.WithFlagThreshold(cfg.Reputation.FlagThreshold),
		reputation.WithReportCache(cfg.Reputation.ReportCacheSize),
	}
	if cfg.Reputation.ReportRate > 0 {
		repOpts = append(repOpts, reputation.WithRateLimit(rate.Limit(cfg.Reputation.ReportRate), cfg.Reputation.ReportBurst))
	}
	if s.metrics != nil {
		repOpts = append(repOpts, reputation.WithMetrics(s.metrics))
	}
	rep, err := reputation.New(store, repOpts...)
	if err != nil {
		return nil, err
	}
	s.rep = rep

	monitor := relay.NewMonitor(
		relay.WithMonitorClock(s.clock),
		relay.WithTimeout(cfg.Relay.Timeout),
		relay.WithHash(sink.Hash),
	)
	orchOpts := []relay.Option{
		relay.WithLogger(s.log),
		relay.WithMaxRetries(cfg.Relay.MaxRetries),
		relay.WithEnergyModel(cfg.EnergyModel()),
		relay.WithEpsilon(cfg.Relay.Epsilon),
	}
	if s.metrics != nil {
		orchOpts = append(orchOpts, relay.WithMetrics(s.metrics))
	}
	orch, err := relay.NewOrchestrator(store, s.routes, rep, monitor, orchOpts...)
	if err != nil {
		return nil, err
	}
	s.orch = orch
	return s, nil
}

func (s *Simulator) buildRoutes() error {
	started := s.clock.Now()
	routes, err := core.BuildRoutingTable(s.store, core.RoutingOptions{MaxPathsPerNode: s.cfg.Routing.MaxPathsPerNode})
	if err != nil {
		return fmt.Errorf("build routing table: %w", err)
	}
	if err := routes.Validate(s.store); err != nil {
		return err
	}
	s.routes = routes

	reachable := 0
	for _, e := range routes {
		if e.HasBound {
			reachable++
		}
	}
	unreachable := s.store.NodeCount() - reachable
	if s.routeStats != nil {
		s.routeStats.ObserveBuild(s.clock.Since(started), reachable, unreachable, routes.LowerBound())
	}
	s.log.Info(context.Background(), "routing table built",
		logging.Int("reachable", reachable),
		logging.Int("unreachable", unreachable),
		logging.Int("lower_bound", routes.LowerBound()),
	)
	return nil
}

// Routes returns the routing table.
func (s *Simulator) Routes() core.RoutingTable { return s.routes }

// Reputation returns the reputation service.
func (s *Simulator) Reputation() *reputation.Service { return s.rep }

// Orchestrator returns the relay orchestrator.
func (s *Simulator) Orchestrator() *relay.Orchestrator { return s.orch }

// DefaultSource returns the reachable node farthest from the sink, ties
// broken by ID.
func (s *Simulator) DefaultSource() (string, error) {
	best, bestDist := "", -1.0
	for _, n := range s.store.ListNodes() {
		if !s.routes.Entry(n.ID).HasBound {
			continue
		}
		d, err := core.DistanceToSink(s.store, n.ID)
		if err != nil {
			return "", err
		}
		if d > bestDist {
			best, bestDist = n.ID, d
		}
	}
	if best == "" {
		return "", errors.New("sim: no node can reach the sink")
	}
	return best, nil
}

// Deliver sends plaintext from source to the sink as t+1 shares and
// returns what the sink recovered. The error wraps
// sharing.ErrInsufficientShares when fewer than t shares arrived.
func (s *Simulator) Deliver(ctx context.Context, source string, plaintext []byte) (Outcome, error) {
	ctx, log := logging.WithPayloadLogger(ctx, s.log)
	payloadID := logging.PayloadIDFromContext(ctx)
	out := Outcome{PayloadID: payloadID, Source: source}

	ctx, span := s.tracer.Start(ctx, "sim.Deliver", trace.WithAttributes(
		attribute.String("payload.id", payloadID),
		attribute.String("payload.source", source),
		attribute.Int("payload.bytes", len(plaintext)),
	))
	defer span.End()

	err := s.deliver(ctx, log, source, plaintext, &out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		log.Warn(ctx, "payload not recovered",
			logging.String("source", source),
			logging.Int("delivered", out.Delivered),
			logging.Err(err),
		)
		return out, err
	}
	span.SetAttributes(attribute.Int("payload.delivered_shares", out.Delivered))
	log.Info(ctx, "payload recovered",
		logging.String("source", source),
		logging.Int("delivered", out.Delivered),
		logging.Int("shares", len(out.Deliveries)),
	)
	return out, nil
}

func (s *Simulator) deliver(ctx context.Context, log logging.Logger, source string, plaintext []byte, out *Outcome) error {
	if s.store.GetNode(source) == nil {
		return fmt.Errorf("%w: source %q", kb.ErrNodeNotFound, source)
	}
	sink := s.store.Sink()
	t := s.cfg.Threshold

	blob, err := envelope.Seal(s.random, sink.PublicKey, plaintext)
	if err != nil {
		return fmt.Errorf("seal payload: %w", err)
	}
	shares, err := sharing.Split(blob, t,
		sharing.WithHash(sink.Hash),
		sharing.WithOrigin(source),
		sharing.WithPayloadID(out.PayloadID),
		sharing.WithSuggestedPaths(s.routes.Entry(source).Paths),
		sharing.WithClock(s.clock),
	)
	if err != nil {
		return fmt.Errorf("split payload: %w", err)
	}
	log.Debug(ctx, "payload split", logging.Int("threshold", t), logging.Int("shares", len(shares)))

	var collected []model.Share
	for i := range shares {
		d := s.orch.Transmit(ctx, &shares[i])
		out.Deliveries = append(out.Deliveries, d)
		if d.Delivered() {
			collected = append(collected, shares[i])
		}
		s.rep.Flush(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	out.Delivered = len(collected)

	recovered, err := sharing.Combine(collected, t, sink.Hash)
	if err != nil {
		s.observeReconstruction(ReconstructFailed)
		return fmt.Errorf("reconstruct payload: %w", err)
	}
	pt, err := envelope.Open(sink.PrivateKey, recovered)
	if err != nil {
		s.observeReconstruction(ReconstructFailed)
		return fmt.Errorf("open payload: %w", err)
	}
	s.observeReconstruction(ReconstructOK)
	out.Plaintext = pt
	return nil
}

func (s *Simulator) observeReconstruction(result string) {
	if s.metrics != nil {
		s.metrics.ObserveReconstruction(result)
	}
}
