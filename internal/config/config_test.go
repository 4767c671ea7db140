package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arbiterlabs/arbiter/internal/aggregate"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("listen addr = %s", cfg.ListenAddr)
	}
	if cfg.SybilThreshold != 0.75 || cfg.CollusionSimilarityThreshold != 0.85 {
		t.Fatalf("detection defaults = %v / %v", cfg.SybilThreshold, cfg.CollusionSimilarityThreshold)
	}
	if cfg.MinSpectralEntropy != 0.6 || cfg.MaxSpectralEntropy != 0.9 {
		t.Fatalf("entropy band = [%v, %v]", cfg.MinSpectralEntropy, cfg.MaxSpectralEntropy)
	}
	if !cfg.EnableInstantPenalty {
		t.Fatal("instant penalty should default on")
	}
	if cfg.ConsensusSimilarityThreshold != 0.3 {
		t.Fatalf("consensus threshold = %v", cfg.ConsensusSimilarityThreshold)
	}
	if cfg.AggregationMethod != string(aggregate.MethodMean) {
		t.Fatalf("aggregation method = %q", cfg.AggregationMethod)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbiter.yaml")
	yaml := `
listen_addr: ":9090"
sybil_threshold: 0.8
commit_timeout_ms: 10000
enable_instant_penalty: false
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("listen addr = %s", cfg.ListenAddr)
	}
	if cfg.SybilThreshold != 0.8 {
		t.Fatalf("sybil threshold = %v", cfg.SybilThreshold)
	}
	if cfg.CommitTimeoutMS != 10000 {
		t.Fatalf("commit timeout = %v", cfg.CommitTimeoutMS)
	}
	if cfg.EnableInstantPenalty {
		t.Fatal("instant penalty should be off")
	}
	// Unset keys keep their defaults.
	if cfg.RevealTimeoutMS != 30000 {
		t.Fatalf("reveal timeout = %v", cfg.RevealTimeoutMS)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ARBITER_SYBIL_THRESHOLD", "0.65")
	t.Setenv("ARBITER_GATEWAY_RATE_LIMIT", "120")

	dir := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SybilThreshold != 0.65 {
		t.Fatalf("sybil threshold = %v, want env override 0.65", cfg.SybilThreshold)
	}
	if cfg.GatewayRateLimit != 120 {
		t.Fatalf("rate limit = %v, want env override 120", cfg.GatewayRateLimit)
	}
}

func TestValidationFailures(t *testing.T) {
	valid, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero commit timeout", func(c *Config) { c.CommitTimeoutMS = 0 }},
		{"negative reveal timeout", func(c *Config) { c.RevealTimeoutMS = -1 }},
		{"zero vector dim", func(c *Config) { c.VectorDim = 0 }},
		{"consensus threshold above 1", func(c *Config) { c.ConsensusSimilarityThreshold = 1.5 }},
		{"unknown aggregation method", func(c *Config) { c.AggregationMethod = "mode" }},
		{"sybil threshold above 1", func(c *Config) { c.SybilThreshold = 1.2 }},
		{"inverted entropy band", func(c *Config) { c.MinSpectralEntropy = 0.95 }},
		{"zero diversity", func(c *Config) { c.MinModelDiversity = 0 }},
		{"zero penalty factor", func(c *Config) { c.ReputationPenaltyFactor = 0 }},
		{"zero rate limit", func(c *Config) { c.GatewayRateLimit = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
