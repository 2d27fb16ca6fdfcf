package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/internal/config"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/internal/observability"
	"github.com/signalsfoundry/sensornet-simulator/internal/sim"
	"github.com/signalsfoundry/sensornet-simulator/kb"
	"github.com/signalsfoundry/sensornet-simulator/timectrl"
)

// Options are the command-line overrides applied on top of the loaded
// configuration. Zero values keep the configured setting.
type Options struct {
	ConfigPath   string
	TopologyPath string
	MetricsAddr  string
	Source       string
	Payloads     int
	Threshold    int
	Seed         uint64
	RealTime     bool
}

// Summary is what a run reports once all payload rounds finished.
type Summary struct {
	Source    string
	Payloads  int
	Recovered int
	Shares    int
	Delivered int
	Flagged   []string
}

func main() {
	var opts Options
	flag.StringVar(&opts.ConfigPath, "config", "", "path to a YAML/JSON/TOML configuration file")
	flag.StringVar(&opts.TopologyPath, "topology", "", "JSON scenario file; overrides random placement")
	flag.StringVar(&opts.MetricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics")
	flag.StringVar(&opts.Source, "source", "", "originating node ID (default: farthest reachable node)")
	flag.IntVar(&opts.Payloads, "payloads", 0, "number of payloads to deliver")
	flag.IntVar(&opts.Threshold, "t", 0, "reconstruction threshold t")
	flag.Uint64Var(&opts.Seed, "seed", 0, "random placement seed")
	flag.BoolVar(&opts.RealTime, "realtime", false, "wait one interval of wall-clock time between payloads")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig(opts)
	if err != nil {
		logging.NewFromEnv().Error(ctx, "invalid configuration", logging.Err(err))
		os.Exit(2)
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})

	summary, err := run(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
	printSummary(os.Stdout, summary)
}

// loadConfig reads the configuration file and environment, then applies
// flag overrides.
func loadConfig(opts Options) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if opts.TopologyPath != "" {
		cfg.Topology.Path = opts.TopologyPath
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if opts.Source != "" {
		cfg.Run.Source = opts.Source
	}
	if opts.Payloads > 0 {
		cfg.Run.Payloads = opts.Payloads
	}
	if opts.Threshold > 0 {
		cfg.Threshold = opts.Threshold
	}
	if opts.Seed != 0 {
		cfg.Topology.Seed = opts.Seed
	}
	if opts.RealTime {
		cfg.Run.Accelerated = false
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Config, log logging.Logger) (Summary, error) {
	var summary Summary

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return summary, fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	collector, err := observability.NewSimCollector(reg)
	if err != nil {
		return summary, fmt.Errorf("init metrics: %w", err)
	}
	routing, err := observability.NewRoutingCollector(reg)
	if err != nil {
		return summary, fmt.Errorf("init metrics: %w", err)
	}
	if srv := serveMetrics(cfg.Metrics.Addr, collector, log); srv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	store, err := buildTopology(ctx, cfg, log)
	if err != nil {
		return summary, err
	}
	unwatch := collector.Watch(store)
	defer unwatch()

	s, err := sim.New(store, cfg,
		sim.WithLogger(log),
		sim.WithCollector(collector),
		sim.WithRoutingCollector(routing),
	)
	if err != nil {
		return summary, err
	}

	source := cfg.Run.Source
	if source == "" {
		if source, err = s.DefaultSource(); err != nil {
			return summary, err
		}
	}
	summary.Source = source

	mode := timectrl.Accelerated
	if !cfg.Run.Accelerated {
		mode = timectrl.RealTime
	}
	tc := timectrl.NewTimeController(time.Now().UTC(), cfg.Run.Interval, mode)
	tc.AddListener(func(ctx context.Context, round int, simTime time.Time) {
		payload := make([]byte, cfg.Run.PayloadBytes)
		if _, err := rand.Read(payload); err != nil {
			log.Error(ctx, "payload generation failed", logging.Err(err))
			return
		}
		out, err := s.Deliver(ctx, source, payload)
		summary.Payloads++
		summary.Shares += len(out.Deliveries)
		summary.Delivered += out.Delivered
		if err == nil {
			summary.Recovered++
		}
		log.Info(ctx, "payload round complete",
			logging.Int("round", round),
			logging.String("sim_time", simTime.Format(time.RFC3339)),
			logging.String("payload_id", out.PayloadID),
			logging.Int("delivered_shares", out.Delivered),
			logging.Bool("recovered", err == nil),
		)
	})

	log.Info(ctx, "starting simulation",
		logging.Int("nodes", store.NodeCount()),
		logging.String("source", source),
		logging.Int("threshold", cfg.Threshold),
		logging.Int("payloads", cfg.Run.Payloads),
		logging.String("mode", mode.String()),
	)
	if err := tc.Run(ctx, cfg.Run.Payloads); err != nil && !errors.Is(err, context.Canceled) {
		return summary, err
	}

	for _, n := range store.ListNodes() {
		if n.Reputation < cfg.Reputation.FlagThreshold {
			summary.Flagged = append(summary.Flagged, n.ID)
		}
	}
	return summary, nil
}

// buildTopology loads the scenario file, or places nodes at random around
// the configured sink.
func buildTopology(ctx context.Context, cfg config.Config, log logging.Logger) (*kb.KnowledgeBase, error) {
	store := kb.NewKnowledgeBase()
	if cfg.Topology.Path != "" {
		f, err := os.Open(cfg.Topology.Path)
		if err != nil {
			return nil, fmt.Errorf("open topology %q: %w", cfg.Topology.Path, err)
		}
		defer f.Close()
		topo, err := core.LoadTopology(store, f)
		if err != nil {
			return nil, fmt.Errorf("load topology %q: %w", cfg.Topology.Path, err)
		}
		log.Info(ctx, "loaded topology",
			logging.String("path", cfg.Topology.Path),
			logging.Int("nodes", len(topo.NodeIDs)),
			logging.Int("links", topo.Links),
		)
		return store, nil
	}

	store.SetSink(cfg.Sink())
	topo, err := core.RandomPlacement(store, cfg.PlacementConfig(), cfg.Topology.Seed)
	if err != nil {
		return nil, fmt.Errorf("random placement: %w", err)
	}
	log.Info(ctx, "placed nodes",
		logging.Int("nodes", len(topo.NodeIDs)),
		logging.Int("links", topo.Links),
		logging.Any("seed", cfg.Topology.Seed),
	)
	return store, nil
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func printSummary(w io.Writer, s Summary) {
	fmt.Fprintf(w, "source %s: %d/%d payloads recovered, %d/%d shares delivered\n",
		s.Source, s.Recovered, s.Payloads, s.Delivered, s.Shares)
	if len(s.Flagged) > 0 {
		fmt.Fprintf(w, "flagged relays: %v\n", s.Flagged)
	}
}
