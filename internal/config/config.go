// Package config holds the simulator configuration: compiled-in defaults,
// optional file and environment overrides, and validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// EnvPrefix prefixes every environment override, e.g. WSN_RELAY_TIMEOUT.
const EnvPrefix = "WSN"

// MaxThreshold caps t so generator matrices stay small.
const MaxThreshold = 256

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full simulator configuration.
type Config struct {
	// Threshold is t: payloads are split into t+1 shares, any t of which
	// reconstruct it.
	Threshold  int              `mapstructure:"threshold"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Reputation ReputationConfig `mapstructure:"reputation"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	Energy     EnergyConfig     `mapstructure:"energy"`
	Topology   TopologyConfig   `mapstructure:"topology"`
	Run        RunConfig        `mapstructure:"run"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// RelayConfig tunes hop-by-hop transmission.
type RelayConfig struct {
	// Timeout is TD, how long a sender waits for a relay's acknowledgment.
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	// Epsilon keeps the interest function finite next to the sink.
	Epsilon float64 `mapstructure:"epsilon"`
}

// ReputationConfig tunes the anomaly service.
type ReputationConfig struct {
	// FlagThreshold is the pv below which a neighbor is treated as
	// malicious and skipped as a relay.
	FlagThreshold   float64 `mapstructure:"flag_threshold"`
	ReportCacheSize int     `mapstructure:"report_cache_size"`
	// ReportRate limits reports the sink accepts per second. Zero means
	// unlimited.
	ReportRate  float64 `mapstructure:"report_rate"`
	ReportBurst int     `mapstructure:"report_burst"`
}

// RoutingConfig tunes routing-table construction.
type RoutingConfig struct {
	MaxPathsPerNode int `mapstructure:"max_paths_per_node"`
}

// EnergyConfig holds the radio model constants.
type EnergyConfig struct {
	Eelec float64 `mapstructure:"eelec"`
	Efs   float64 `mapstructure:"efs"`
	Emp   float64 `mapstructure:"emp"`
	D0    float64 `mapstructure:"d0"`
}

// TopologyConfig selects where nodes come from: a JSON file when Path is
// set, otherwise a seeded random placement.
type TopologyConfig struct {
	Path      string     `mapstructure:"path"`
	Nodes     int        `mapstructure:"nodes"`
	Area      float64    `mapstructure:"area"`
	E0        float64    `mapstructure:"e0"`
	Theta     float64    `mapstructure:"theta"`
	RadiusMin float64    `mapstructure:"radius_min"`
	RadiusMax float64    `mapstructure:"radius_max"`
	Seed      uint64     `mapstructure:"seed"`
	Sink      SinkConfig `mapstructure:"sink"`
}

// SinkConfig places the sink for random topologies.
type SinkConfig struct {
	X              float64 `mapstructure:"x"`
	Y              float64 `mapstructure:"y"`
	Radius         float64 `mapstructure:"radius"`
	BroadcastRange float64 `mapstructure:"broadcast_range"`
	MaxHops        int     `mapstructure:"max_hops"`
	Lambda         float64 `mapstructure:"lambda"`
	Hash           string  `mapstructure:"hash"`
}

// RunConfig drives the payload rounds of the command-line simulator.
type RunConfig struct {
	Payloads     int           `mapstructure:"payloads"`
	PayloadBytes int           `mapstructure:"payload_bytes"`
	Interval     time.Duration `mapstructure:"interval"`
	Accelerated  bool          `mapstructure:"accelerated"`
	// Source pins the originating node. Empty picks the farthest reachable
	// node from the sink.
	Source string `mapstructure:"source"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the server.
	Addr string `mapstructure:"addr"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	em := core.DefaultEnergyModel()
	return Config{
		Threshold: 3,
		Relay: RelayConfig{
			Timeout:    500 * time.Millisecond,
			MaxRetries: 3,
			Epsilon:    1e-3,
		},
		Reputation: ReputationConfig{
			FlagThreshold:   0.05,
			ReportCacheSize: 1024,
			ReportRate:      0,
			ReportBurst:     16,
		},
		Routing: RoutingConfig{MaxPathsPerNode: 64},
		Energy: EnergyConfig{
			Eelec: em.Eelec,
			Efs:   em.Efs,
			Emp:   em.Emp,
			D0:    em.D0,
		},
		Topology: TopologyConfig{
			Nodes:     50,
			Area:      100,
			E0:        50,
			Theta:     0.5,
			RadiusMin: 15,
			RadiusMax: 30,
			Seed:      42,
			Sink: SinkConfig{
				X:              50,
				Y:              50,
				Radius:         30,
				BroadcastRange: 50,
				Lambda:         model.DefaultLambda,
				Hash:           string(model.HashSHA256),
			},
		},
		Run: RunConfig{
			Payloads:     5,
			PayloadBytes: 64,
			Interval:     time.Second,
			Accelerated:  true,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{
			ServiceName: "wsnsim",
			Exporter:    "stdout",
			SampleRatio: 1,
		},
	}
}

// Load reads configuration from path (yaml, json or toml by extension)
// layered over Default, then applies WSN_* environment overrides. An empty
// path skips the file.
func Load(path string) (Config, error) {
	vip := viper.New()
	setDefaults(vip, Default())
	vip.SetEnvPrefix(EnvPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vip.AutomaticEnv()

	if path != "" {
		vip.SetConfigFile(path)
		if err := vip.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Default()
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := vip.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key with viper so AutomaticEnv can find it.
func setDefaults(vip *viper.Viper, d Config) {
	vip.SetDefault("threshold", d.Threshold)

	vip.SetDefault("relay.timeout", d.Relay.Timeout)
	vip.SetDefault("relay.max_retries", d.Relay.MaxRetries)
	vip.SetDefault("relay.epsilon", d.Relay.Epsilon)

	vip.SetDefault("reputation.flag_threshold", d.Reputation.FlagThreshold)
	vip.SetDefault("reputation.report_cache_size", d.Reputation.ReportCacheSize)
	vip.SetDefault("reputation.report_rate", d.Reputation.ReportRate)
	vip.SetDefault("reputation.report_burst", d.Reputation.ReportBurst)

	vip.SetDefault("routing.max_paths_per_node", d.Routing.MaxPathsPerNode)

	vip.SetDefault("energy.eelec", d.Energy.Eelec)
	vip.SetDefault("energy.efs", d.Energy.Efs)
	vip.SetDefault("energy.emp", d.Energy.Emp)
	vip.SetDefault("energy.d0", d.Energy.D0)

	vip.SetDefault("topology.path", d.Topology.Path)
	vip.SetDefault("topology.nodes", d.Topology.Nodes)
	vip.SetDefault("topology.area", d.Topology.Area)
	vip.SetDefault("topology.e0", d.Topology.E0)
	vip.SetDefault("topology.theta", d.Topology.Theta)
	vip.SetDefault("topology.radius_min", d.Topology.RadiusMin)
	vip.SetDefault("topology.radius_max", d.Topology.RadiusMax)
	vip.SetDefault("topology.seed", d.Topology.Seed)
	vip.SetDefault("topology.sink.x", d.Topology.Sink.X)
	vip.SetDefault("topology.sink.y", d.Topology.Sink.Y)
	vip.SetDefault("topology.sink.radius", d.Topology.Sink.Radius)
	vip.SetDefault("topology.sink.broadcast_range", d.Topology.Sink.BroadcastRange)
	vip.SetDefault("topology.sink.max_hops", d.Topology.Sink.MaxHops)
	vip.SetDefault("topology.sink.lambda", d.Topology.Sink.Lambda)
	vip.SetDefault("topology.sink.hash", d.Topology.Sink.Hash)

	vip.SetDefault("run.payloads", d.Run.Payloads)
	vip.SetDefault("run.payload_bytes", d.Run.PayloadBytes)
	vip.SetDefault("run.interval", d.Run.Interval)
	vip.SetDefault("run.accelerated", d.Run.Accelerated)
	vip.SetDefault("run.source", d.Run.Source)

	vip.SetDefault("log.level", d.Log.Level)
	vip.SetDefault("log.format", d.Log.Format)
	vip.SetDefault("metrics.addr", d.Metrics.Addr)

	vip.SetDefault("tracing.enabled", d.Tracing.Enabled)
	vip.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	vip.SetDefault("tracing.exporter", d.Tracing.Exporter)
	vip.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	vip.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
}

// ApplyDefaults fills zero values that have a meaningful default.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Threshold == 0 {
		c.Threshold = d.Threshold
	}
	if c.Relay.Timeout == 0 {
		c.Relay.Timeout = d.Relay.Timeout
	}
	if c.Relay.MaxRetries == 0 {
		c.Relay.MaxRetries = d.Relay.MaxRetries
	}
	if c.Relay.Epsilon == 0 {
		c.Relay.Epsilon = d.Relay.Epsilon
	}
	if c.Reputation.ReportCacheSize == 0 {
		c.Reputation.ReportCacheSize = d.Reputation.ReportCacheSize
	}
	if c.Reputation.ReportBurst == 0 {
		c.Reputation.ReportBurst = d.Reputation.ReportBurst
	}
	if c.Energy == (EnergyConfig{}) {
		c.Energy = d.Energy
	}
	if c.Topology.Sink.Lambda == 0 {
		c.Topology.Sink.Lambda = d.Topology.Sink.Lambda
	}
	if c.Topology.Sink.Hash == "" {
		c.Topology.Sink.Hash = d.Topology.Sink.Hash
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Threshold < 2 || c.Threshold > MaxThreshold:
		return fmt.Errorf("%w: threshold %d outside [2,%d]", ErrInvalidConfig, c.Threshold, MaxThreshold)
	case c.Relay.Timeout <= 0:
		return fmt.Errorf("%w: relay.timeout must be positive", ErrInvalidConfig)
	case c.Relay.MaxRetries < 1:
		return fmt.Errorf("%w: relay.max_retries must be at least 1", ErrInvalidConfig)
	case c.Relay.Epsilon <= 0:
		return fmt.Errorf("%w: relay.epsilon must be positive", ErrInvalidConfig)
	case c.Reputation.FlagThreshold < 0 || c.Reputation.FlagThreshold >= 1:
		return fmt.Errorf("%w: reputation.flag_threshold %v outside [0,1)", ErrInvalidConfig, c.Reputation.FlagThreshold)
	case c.Reputation.ReportCacheSize < 1:
		return fmt.Errorf("%w: reputation.report_cache_size must be positive", ErrInvalidConfig)
	case c.Reputation.ReportRate < 0:
		return fmt.Errorf("%w: reputation.report_rate must not be negative", ErrInvalidConfig)
	case c.Routing.MaxPathsPerNode < 0:
		return fmt.Errorf("%w: routing.max_paths_per_node must not be negative", ErrInvalidConfig)
	case c.Energy.Eelec < 0 || c.Energy.Efs < 0 || c.Energy.Emp < 0 || c.Energy.D0 <= 0:
		return fmt.Errorf("%w: energy model constants must be non-negative with d0 > 0", ErrInvalidConfig)
	}

	switch model.HashFunc(c.Topology.Sink.Hash) {
	case model.HashSHA256, model.HashBLAKE3:
	default:
		return fmt.Errorf("%w: topology.sink.hash %q", ErrInvalidConfig, c.Topology.Sink.Hash)
	}
	if c.Topology.Sink.Lambda <= 0 {
		return fmt.Errorf("%w: topology.sink.lambda must be positive", ErrInvalidConfig)
	}
	if c.Topology.Path == "" {
		t := c.Topology
		if t.Nodes < 1 || t.Area <= 0 || t.E0 <= 0 || t.Theta < 0 {
			return fmt.Errorf("%w: random topology needs nodes, area and e0", ErrInvalidConfig)
		}
		if t.RadiusMin <= 0 || t.RadiusMax < t.RadiusMin {
			return fmt.Errorf("%w: topology radius range [%v,%v]", ErrInvalidConfig, t.RadiusMin, t.RadiusMax)
		}
		if t.Sink.Radius <= 0 {
			return fmt.Errorf("%w: topology.sink.radius must be positive", ErrInvalidConfig)
		}
	}
	if c.Run.Payloads < 0 || c.Run.PayloadBytes < 1 {
		return fmt.Errorf("%w: run needs a non-negative payload count and positive payload size", ErrInvalidConfig)
	}
	return nil
}

// EnergyModel converts the energy section into a core.EnergyModel.
func (c Config) EnergyModel() core.EnergyModel {
	return core.EnergyModel{
		Eelec: c.Energy.Eelec,
		Efs:   c.Energy.Efs,
		Emp:   c.Energy.Emp,
		D0:    c.Energy.D0,
	}
}

// PlacementConfig converts the topology section into a core.PlacementConfig.
func (c Config) PlacementConfig() core.PlacementConfig {
	t := c.Topology
	return core.PlacementConfig{
		Nodes:     t.Nodes,
		Area:      t.Area,
		E0:        t.E0,
		Theta:     t.Theta,
		RadiusMin: t.RadiusMin,
		RadiusMax: t.RadiusMax,
	}
}

// Sink builds the sink described by the topology section. Key material is
// generated later by the simulator.
func (c Config) Sink() *model.Sink {
	s := c.Topology.Sink
	return &model.Sink{
		ID:             model.SinkID,
		Location:       r2.Vec{X: s.X, Y: s.Y},
		Radius:         s.Radius,
		BroadcastRange: s.BroadcastRange,
		MaxHops:        s.MaxHops,
		Lambda:         s.Lambda,
		Hash:           model.HashFunc(s.Hash),
	}
}
