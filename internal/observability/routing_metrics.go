package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RoutingCollector exposes routing-table construction metrics.
type RoutingCollector struct {
	gatherer prometheus.Gatherer

	BuildDuration    prometheus.Histogram
	BuildsTotal      prometheus.Counter
	ReachableNodes   prometheus.Gauge
	UnreachableNodes prometheus.Gauge
	HopLowerBound    prometheus.Gauge
}

// NewRoutingCollector registers routing metrics against the provided registerer.
func NewRoutingCollector(reg prometheus.Registerer) (*RoutingCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	buildHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wsn_routing_build_duration_seconds",
		Help:    "Duration of routing-table construction.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	buildHistogram, err := registerHistogram(reg, buildHistogram, "wsn_routing_build_duration_seconds")
	if err != nil {
		return nil, err
	}

	builds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wsn_routing_builds_total",
		Help: "Cumulative number of routing-table constructions.",
	})
	builds, err = registerCounter(reg, builds, "wsn_routing_builds_total")
	if err != nil {
		return nil, err
	}

	reachable := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wsn_routing_reachable_nodes",
		Help: "Nodes that received a hop bound in the last routing build.",
	})
	reachable, err = registerGauge(reg, reachable, "wsn_routing_reachable_nodes")
	if err != nil {
		return nil, err
	}

	unreachable := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wsn_routing_unreachable_nodes",
		Help: "Nodes left without a hop bound in the last routing build.",
	})
	unreachable, err = registerGauge(reg, unreachable, "wsn_routing_unreachable_nodes")
	if err != nil {
		return nil, err
	}

	lowerBound := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wsn_routing_hop_lower_bound",
		Help: "Largest hop bound P assigned in the last routing build.",
	})
	lowerBound, err = registerGauge(reg, lowerBound, "wsn_routing_hop_lower_bound")
	if err != nil {
		return nil, err
	}

	return &RoutingCollector{
		gatherer:         gatherer,
		BuildDuration:    buildHistogram,
		BuildsTotal:      builds,
		ReachableNodes:   reachable,
		UnreachableNodes: unreachable,
		HopLowerBound:    lowerBound,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *RoutingCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveBuild records one routing-table construction.
func (c *RoutingCollector) ObserveBuild(d time.Duration, reachable, unreachable, lowerBound int) {
	if c == nil {
		return
	}
	if c.BuildDuration != nil {
		c.BuildDuration.Observe(d.Seconds())
	}
	if c.BuildsTotal != nil {
		c.BuildsTotal.Inc()
	}
	if c.ReachableNodes != nil {
		c.ReachableNodes.Set(float64(reachable))
	}
	if c.UnreachableNodes != nil {
		c.UnreachableNodes.Set(float64(unreachable))
	}
	if c.HopLowerBound != nil {
		c.HopLowerBound.Set(float64(lowerBound))
	}
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
