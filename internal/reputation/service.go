// Package reputation tracks how far the network trusts each relay.
//
// Observers that catch a relay dropping or altering a share send an anomaly
// report toward the sink. The sink folds accepted reports into per-node
// suspicion counters and pushes the new reputation to the reported node's
// direct neighbors, whose local views drive relay selection.
package reputation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/kb"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// ErrNoRouteToSink is returned when an anomaly report cannot be forwarded
// any closer to the sink.
var ErrNoRouteToSink = errors.New("no route to sink")

// Report statuses recorded in metrics.
const (
	StatusAccepted    = "accepted"
	StatusNoRoute     = "no_route"
	StatusDuplicate   = "duplicate"
	StatusRateLimited = "rate_limited"
)

// DefaultFlagThreshold is the reputation below which a relay is skipped.
const DefaultFlagThreshold = 0.05

// MetricsRecorder receives report outcomes.
type MetricsRecorder interface {
	ObserveReport(kind, status string)
}

// Update is one reputation change published by the sink.
type Update struct {
	Node   string
	Record model.ReputationRecord
}

// Service is the reputation authority shared by the relay orchestrator and
// the sink. All reputation state changes go through Aggregate and
// Broadcast.
type Service struct {
	mu sync.Mutex

	store *kb.KnowledgeBase

	records map[string]model.ReputationRecord
	// views[observer][suspect] is the observer's cached reputation of a
	// neighbor.
	views   map[string]map[string]float64
	pending []model.AnomalyReport

	seen          *lru.Cache[string, struct{}]
	cacheSize     int
	limiter       *rate.Limiter
	flagThreshold float64

	log     logging.Logger
	metrics MetricsRecorder
	clock   clockwork.Clock
}

// Option customises Service construction.
type Option func(*Service)

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics attaches a report outcome recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock sets the clock used to timestamp reports and meter intake.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithFlagThreshold sets the reputation below which IsFlagged is true.
func WithFlagThreshold(th float64) Option {
	return func(s *Service) { s.flagThreshold = th }
}

// WithReportCache sets how many report IDs the sink remembers for
// duplicate suppression.
func WithReportCache(size int) Option {
	return func(s *Service) { s.cacheSize = size }
}

// WithRateLimit caps the sustained rate of reports the sink accepts.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(s *Service) { s.limiter = rate.NewLimiter(r, burst) }
}

// New constructs a Service over store.
func New(store *kb.KnowledgeBase, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("reputation: kb is nil")
	}
	s := &Service{
		store:         store,
		records:       make(map[string]model.ReputationRecord),
		views:         make(map[string]map[string]float64),
		cacheSize:     1024,
		limiter:       rate.NewLimiter(rate.Inf, 1),
		flagThreshold: DefaultFlagThreshold,
		log:           logging.Noop(),
		clock:         clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = logging.Noop()
	}
	seen, err := lru.New[string, struct{}](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("reputation: report cache: %w", err)
	}
	s.seen = seen
	return s, nil
}

// Detect builds an anomaly report in which reporter accuses suspect.
func (s *Service) Detect(reporter, suspect string, kind model.AnomalyKind, shareIndex int) model.AnomalyReport {
	r := model.AnomalyReport{
		ID:         uuid.NewString(),
		Kind:       kind,
		Reporter:   reporter,
		Suspect:    suspect,
		ShareIndex: shareIndex,
		Timestamp:  s.clock.Now(),
	}
	if n := s.store.GetNode(suspect); n != nil {
		r.SuspectLocation = n.Location
	}
	return r
}

// Route forwards a report hop by hop from its reporter toward the sink.
// Each hop picks the in-range neighbor closest to the sink, skipping the
// suspect and nodes the report already visited. The returned report
// carries the route taken.
func (s *Service) Route(report model.AnomalyReport) (model.AnomalyReport, error) {
	sink := s.store.Sink()
	if sink == nil {
		return report, fmt.Errorf("%w: no sink", ErrNoRouteToSink)
	}
	if s.store.GetNode(report.Reporter) == nil {
		return report, fmt.Errorf("%w: unknown reporter %q", ErrNoRouteToSink, report.Reporter)
	}

	visited := map[string]bool{report.Reporter: true}
	route := []string{report.Reporter}
	cur := report.Reporter
	for {
		if core.SinkInRange(s.store, cur) {
			report.Route = append(route, model.SinkID)
			return report, nil
		}
		next := ""
		best := math.Inf(1)
		for _, nbr := range s.store.Neighbors(cur) {
			if nbr == report.Suspect || visited[nbr] {
				continue
			}
			d, err := core.DistanceToSink(s.store, nbr)
			if err != nil {
				continue
			}
			if d < best {
				best, next = d, nbr
			}
		}
		if next == "" {
			report.Route = route
			return report, fmt.Errorf("%w: report %s stuck at %s", ErrNoRouteToSink, report.ID, cur)
		}
		visited[next] = true
		route = append(route, next)
		cur = next
	}
}

// Report raises an anomaly: it builds the report, routes it to the sink and
// queues it for aggregation. Reports that cannot reach the sink are logged
// and dropped; Report then returns false.
func (s *Service) Report(ctx context.Context, reporter, suspect string, kind model.AnomalyKind, shareIndex int) bool {
	report := s.Detect(reporter, suspect, kind, shareIndex)
	routed, err := s.Route(report)
	if err != nil {
		s.logger(ctx).Warn(ctx, "anomaly report dropped",
			logging.String("report_id", report.ID),
			logging.String("reporter", reporter),
			logging.String("suspect", suspect),
			logging.String("kind", string(kind)),
			logging.Err(err),
		)
		s.observe(kind, StatusNoRoute)
		return false
	}
	s.Submit(routed)
	s.logger(ctx).Debug(ctx, "anomaly report queued",
		logging.String("report_id", routed.ID),
		logging.String("suspect", suspect),
		logging.Any("route", routed.Route),
	)
	return true
}

// Submit queues a report that has reached the sink.
func (s *Service) Submit(report model.AnomalyReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, report)
}

// Pending returns the number of reports waiting for aggregation.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Aggregate processes queued reports in arrival order. Every accepted
// report on a node applies gamma += 1, k += 1, pv = gamma^-k. It returns
// one update per reported node in first-report order.
func (s *Service) Aggregate(ctx context.Context) []Update {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil

	var order []string
	touched := make(map[string]bool)
	for _, r := range batch {
		if s.seen.Contains(r.ID) {
			s.observe(r.Kind, StatusDuplicate)
			continue
		}
		s.seen.Add(r.ID, struct{}{})
		if !s.limiter.AllowN(s.clock.Now(), 1) {
			s.observe(r.Kind, StatusRateLimited)
			s.logger(ctx).Warn(ctx, "anomaly report rate limited",
				logging.String("report_id", r.ID),
				logging.String("suspect", r.Suspect),
			)
			continue
		}

		rec, ok := s.records[r.Suspect]
		if !ok {
			rec = model.ReputationRecord{Gamma: 1, K: 0, PV: 1}
		}
		rec.Gamma++
		rec.K++
		rec.PV = decay(rec.Gamma, rec.K)
		s.records[r.Suspect] = rec
		s.observe(r.Kind, StatusAccepted)

		if !touched[r.Suspect] {
			touched[r.Suspect] = true
			order = append(order, r.Suspect)
		}
	}

	updates := make([]Update, 0, len(order))
	for _, id := range order {
		updates = append(updates, Update{Node: id, Record: s.records[id]})
	}
	s.mu.Unlock()

	for _, u := range updates {
		s.logger(ctx).Info(ctx, "reputation updated",
			logging.Node(u.Node),
			logging.Int("k", u.Record.K),
			logging.Float("pv", u.Record.PV),
		)
	}
	return updates
}

// Broadcast publishes updates: the reported node's own reputation is set
// and each of its direct neighbors refreshes its cached view of it.
func (s *Service) Broadcast(ctx context.Context, updates []Update) {
	for _, u := range updates {
		if err := s.store.SetReputation(u.Node, u.Record); err != nil {
			s.logger(ctx).Warn(ctx, "reputation broadcast skipped", logging.Node(u.Node), logging.Err(err))
			continue
		}
		neighbors := s.store.Neighbors(u.Node)

		s.mu.Lock()
		for _, nbr := range neighbors {
			view, ok := s.views[nbr]
			if !ok {
				view = make(map[string]float64)
				s.views[nbr] = view
			}
			view[u.Node] = u.Record.PV
		}
		s.mu.Unlock()
	}
}

// Flush aggregates queued reports and broadcasts the result.
func (s *Service) Flush(ctx context.Context) []Update {
	updates := s.Aggregate(ctx)
	s.Broadcast(ctx, updates)
	return updates
}

// Record returns the sink's record for a node.
func (s *Service) Record(id string) (model.ReputationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Reputation returns observer's view of candidate. Without a cached view
// it falls back to the candidate's published reputation, 1.0 by default.
func (s *Service) Reputation(observer, candidate string) float64 {
	s.mu.Lock()
	pv, ok := s.views[observer][candidate]
	s.mu.Unlock()
	if ok {
		return pv
	}
	if n := s.store.GetNode(candidate); n != nil {
		return n.Reputation
	}
	return 1.0
}

// IsFlagged reports whether observer considers candidate malicious.
func (s *Service) IsFlagged(observer, candidate string) bool {
	return s.Reputation(observer, candidate) < s.flagThreshold
}

func (s *Service) observe(kind model.AnomalyKind, status string) {
	if s.metrics != nil {
		s.metrics.ObserveReport(string(kind), status)
	}
}

func (s *Service) logger(ctx context.Context) logging.Logger {
	return logging.FromContext(ctx, s.log)
}

// decay returns gamma^-k, floored at the smallest positive float64 so a
// heavily reported node keeps a non-zero reputation once the power
// underflows.
func decay(gamma, k int) float64 {
	return max(math.Pow(float64(gamma), -float64(k)), math.SmallestNonzeroFloat64)
}
