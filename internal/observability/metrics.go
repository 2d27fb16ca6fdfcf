package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/sensornet-simulator/kb"
)

// SimCollector bundles Prometheus metrics for share delivery, relay
// monitoring and the reputation service.
type SimCollector struct {
	gatherer prometheus.Gatherer

	SharesTotal     *prometheus.CounterVec
	ShareHops       prometheus.Histogram
	HopAttempts     *prometheus.CounterVec
	AnomalyReports  *prometheus.CounterVec
	Reconstructions *prometheus.CounterVec

	NodeReputation *prometheus.GaugeVec
	NodeEnergy     *prometheus.GaugeVec
}

// NewSimCollector registers simulator metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	shares, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsn_shares_total",
		Help: "Shares handed to the relay orchestrator, labeled by outcome (delivered, timeout, tampered, delivery_failed, hop_limit, unreachable).",
	}, []string{"outcome"}), "wsn_shares_total")
	if err != nil {
		return nil, err
	}

	hops, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wsn_share_hops",
		Help:    "Hops taken by delivered shares.",
		Buckets: prometheus.LinearBuckets(1, 1, 16),
	}), "wsn_share_hops")
	if err != nil {
		return nil, err
	}

	attempts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsn_hop_attempts_total",
		Help: "Monitored hop attempts, labeled by result (ok, timeout, tampered).",
	}, []string{"result"}), "wsn_hop_attempts_total")
	if err != nil {
		return nil, err
	}

	reports, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsn_anomaly_reports_total",
		Help: "Anomaly reports, labeled by kind and status (accepted, no_route, duplicate, rate_limited).",
	}, []string{"kind", "status"}), "wsn_anomaly_reports_total")
	if err != nil {
		return nil, err
	}

	recon, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wsn_reconstructions_total",
		Help: "Payload reconstructions at the sink, labeled by result (ok, insufficient, error).",
	}, []string{"result"}), "wsn_reconstructions_total")
	if err != nil {
		return nil, err
	}

	reputation, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wsn_node_reputation",
		Help: "Reputation pv last published by the sink for each node.",
	}, []string{"node"}), "wsn_node_reputation")
	if err != nil {
		return nil, err
	}

	energy, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wsn_node_energy",
		Help: "Residual energy of each node.",
	}, []string{"node"}), "wsn_node_energy")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:        gatherer,
		SharesTotal:     shares,
		ShareHops:       hops,
		HopAttempts:     attempts,
		AnomalyReports:  reports,
		Reconstructions: recon,
		NodeReputation:  reputation,
		NodeEnergy:      energy,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveShare records the terminal outcome of one share transmission.
func (c *SimCollector) ObserveShare(outcome string, hops int) {
	if c == nil {
		return
	}
	if c.SharesTotal != nil {
		c.SharesTotal.WithLabelValues(outcome).Inc()
	}
	if outcome == "delivered" && c.ShareHops != nil {
		c.ShareHops.Observe(float64(hops))
	}
}

// ObserveHop records one monitored hop attempt.
func (c *SimCollector) ObserveHop(result string) {
	if c == nil || c.HopAttempts == nil {
		return
	}
	c.HopAttempts.WithLabelValues(result).Inc()
}

// ObserveReport records what happened to an anomaly report.
func (c *SimCollector) ObserveReport(kind, status string) {
	if c == nil || c.AnomalyReports == nil {
		return
	}
	c.AnomalyReports.WithLabelValues(kind, status).Inc()
}

// ObserveReconstruction records a sink-side reconstruction attempt.
func (c *SimCollector) ObserveReconstruction(result string) {
	if c == nil || c.Reconstructions == nil {
		return
	}
	c.Reconstructions.WithLabelValues(result).Inc()
}

// Watch keeps the per-node energy and reputation gauges in step with the
// knowledge base. It returns the unsubscribe function.
func (c *SimCollector) Watch(store *kb.KnowledgeBase) func() {
	if c == nil || store == nil {
		return func() {}
	}
	for _, n := range store.ListNodes() {
		c.NodeEnergy.WithLabelValues(n.ID).Set(n.Energy)
		c.NodeReputation.WithLabelValues(n.ID).Set(n.Reputation)
	}
	return store.Subscribe(func(e kb.Event) {
		c.NodeEnergy.WithLabelValues(e.NodeID).Set(e.Energy)
		c.NodeReputation.WithLabelValues(e.NodeID).Set(e.Reputation)
	})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
