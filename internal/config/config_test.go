package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/model"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := Default()
	if cfg.Threshold != d.Threshold || cfg.Relay != d.Relay || cfg.Reputation != d.Reputation {
		t.Fatalf("Load(\"\") = %+v, want defaults", cfg)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wsn.yaml")
	data := `
threshold: 5
relay:
  timeout: 250ms
  max_retries: 2
reputation:
  flag_threshold: 0.1
topology:
  nodes: 12
  sink:
    hash: blake3
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Threshold != 5 {
		t.Fatalf("Threshold = %d, want 5", cfg.Threshold)
	}
	if cfg.Relay.Timeout != 250*time.Millisecond || cfg.Relay.MaxRetries != 2 {
		t.Fatalf("Relay = %+v", cfg.Relay)
	}
	if cfg.Reputation.FlagThreshold != 0.1 {
		t.Fatalf("FlagThreshold = %v, want 0.1", cfg.Reputation.FlagThreshold)
	}
	if cfg.Topology.Nodes != 12 || cfg.Topology.Sink.Hash != "blake3" {
		t.Fatalf("Topology = %+v", cfg.Topology)
	}
	// Untouched keys keep their defaults.
	if cfg.Relay.Epsilon != Default().Relay.Epsilon || cfg.Topology.Area != Default().Topology.Area {
		t.Fatalf("defaults lost for unset keys: %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WSN_THRESHOLD", "4")
	t.Setenv("WSN_RELAY_TIMEOUT", "2s")
	t.Setenv("WSN_TOPOLOGY_SINK_LAMBDA", "0.8")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Threshold != 4 || cfg.Relay.Timeout != 2*time.Second || cfg.Topology.Sink.Lambda != 0.8 {
		t.Fatalf("env overrides not applied: threshold=%d timeout=%v lambda=%v",
			cfg.Threshold, cfg.Relay.Timeout, cfg.Topology.Sink.Lambda)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("WSN_THRESHOLD", "1")
	if _, err := Load(""); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Load error = %v, want ErrInvalidConfig", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"threshold too big": func(c *Config) { c.Threshold = MaxThreshold + 1 },
		"zero timeout":      func(c *Config) { c.Relay.Timeout = 0 },
		"no retries":        func(c *Config) { c.Relay.MaxRetries = 0 },
		"flag threshold":    func(c *Config) { c.Reputation.FlagThreshold = 1 },
		"negative rate":     func(c *Config) { c.Reputation.ReportRate = -1 },
		"bad hash":          func(c *Config) { c.Topology.Sink.Hash = "md5" },
		"radius range":      func(c *Config) { c.Topology.RadiusMin, c.Topology.RadiusMax = 10, 5 },
		"no sink radius":    func(c *Config) { c.Topology.Sink.Radius = 0 },
		"empty payload":     func(c *Config) { c.Run.PayloadBytes = 0 },
		"zero d0":           func(c *Config) { c.Energy.D0 = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: Validate = %v, want ErrInvalidConfig", name, err)
		}
	}

	// A file topology does not need random placement settings.
	cfg := Default()
	cfg.Topology.Path = "scenario.json"
	cfg.Topology.Nodes = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("file topology Validate = %v", err)
	}
}

func TestApplyDefaultsFillsZeroes(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	d := Default()
	if cfg.Threshold != d.Threshold || cfg.Relay.Timeout != d.Relay.Timeout || cfg.Energy != d.Energy {
		t.Fatalf("ApplyDefaults = %+v", cfg)
	}
	if cfg.Topology.Sink.Hash != string(model.HashSHA256) {
		t.Fatalf("sink hash = %q, want sha256", cfg.Topology.Sink.Hash)
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	sink := cfg.Sink()
	if sink.ID != model.SinkID || sink.Location.X != 50 || sink.Radius != 30 || sink.Hash != model.HashSHA256 {
		t.Fatalf("Sink() = %+v", sink)
	}
	if em := cfg.EnergyModel(); em.D0 != 50 || em.Eelec != 0.1 {
		t.Fatalf("EnergyModel() = %+v", em)
	}
	if pc := cfg.PlacementConfig(); pc.Nodes != 50 || pc.RadiusMax != 30 {
		t.Fatalf("PlacementConfig() = %+v", pc)
	}
}
