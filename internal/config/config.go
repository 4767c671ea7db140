// Package config loads arbiter daemon configuration from arbiter.yaml and
// ARBITER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/arbiterlabs/arbiter/internal/aggregate"
	"github.com/arbiterlabs/arbiter/internal/defense"
)

// Config is the full daemon configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DataDir    string `mapstructure:"data_dir"`

	// Session defaults used when a task request does not override them.
	CommitTimeoutMS int64 `mapstructure:"commit_timeout_ms"`
	RevealTimeoutMS int64 `mapstructure:"reveal_timeout_ms"`
	VectorDim       int   `mapstructure:"vector_dim"`

	// Consensus clustering, looser than the collusion threshold so honest
	// variation is not punished.
	ConsensusSimilarityThreshold float64 `mapstructure:"consensus_similarity_threshold"`

	// AggregationMethod collapses the valid agents' summaries into the
	// consensus value; weighted methods use reputation voting weights.
	AggregationMethod string `mapstructure:"aggregation_method"`

	// Detection thresholds, mapped onto defense.Config.
	SybilThreshold               float64 `mapstructure:"sybil_threshold"`
	CollusionSimilarityThreshold float64 `mapstructure:"collusion_similarity_threshold"`
	MinModelDiversity            int     `mapstructure:"min_model_diversity"`
	MinSpectralEntropy           float64 `mapstructure:"min_spectral_entropy"`
	MaxSpectralEntropy           float64 `mapstructure:"max_spectral_entropy"`
	TimingAnomalyThreshold       float64 `mapstructure:"timing_anomaly_threshold"`
	ReputationPenaltyFactor      float64 `mapstructure:"reputation_penalty_factor"`
	EnableInstantPenalty         bool    `mapstructure:"enable_instant_penalty"`

	// GatewayRateLimit is submissions per minute per connection.
	GatewayRateLimit int `mapstructure:"gateway_rate_limit"`
}

// Load reads arbiter.yaml from the working directory (or the path given) and
// overlays ARBITER_* environment variables. A missing config file is not an
// error; the defaults are complete.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("arbiter")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ARBITER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := defense.DefaultConfig()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("data_dir", "data")
	v.SetDefault("commit_timeout_ms", 30_000)
	v.SetDefault("reveal_timeout_ms", 30_000)
	v.SetDefault("vector_dim", 8)
	v.SetDefault("consensus_similarity_threshold", 0.3)
	v.SetDefault("aggregation_method", string(aggregate.MethodMean))
	v.SetDefault("sybil_threshold", d.SybilThreshold)
	v.SetDefault("collusion_similarity_threshold", d.CollusionSimilarityThreshold)
	v.SetDefault("min_model_diversity", d.MinModelDiversity)
	v.SetDefault("min_spectral_entropy", d.MinSpectralEntropy)
	v.SetDefault("max_spectral_entropy", d.MaxSpectralEntropy)
	v.SetDefault("timing_anomaly_threshold", d.TimingAnomalyThreshold)
	v.SetDefault("reputation_penalty_factor", d.ReputationPenaltyFactor)
	v.SetDefault("enable_instant_penalty", d.EnableInstantPenalty)
	v.SetDefault("gateway_rate_limit", 60)
}

// Validate rejects configurations that would misbehave at runtime. The daemon
// fails fast rather than running with a nonsense threshold.
func (c *Config) Validate() error {
	if c.CommitTimeoutMS <= 0 || c.RevealTimeoutMS <= 0 {
		return fmt.Errorf("config: phase timeouts must be positive")
	}
	if c.VectorDim < 1 {
		return fmt.Errorf("config: vector_dim must be at least 1")
	}
	if c.ConsensusSimilarityThreshold < 0 || c.ConsensusSimilarityThreshold > 1 {
		return fmt.Errorf("config: consensus_similarity_threshold %v outside [0,1]", c.ConsensusSimilarityThreshold)
	}
	if !aggregate.Method(c.AggregationMethod).Valid() {
		return fmt.Errorf("config: unknown aggregation_method %q", c.AggregationMethod)
	}
	if c.GatewayRateLimit < 1 {
		return fmt.Errorf("config: gateway_rate_limit must be at least 1")
	}
	return c.Defense().Validate()
}

// Defense projects the detection settings into a defense.Config.
func (c *Config) Defense() defense.Config {
	return defense.Config{
		SybilThreshold:               c.SybilThreshold,
		CollusionSimilarityThreshold: c.CollusionSimilarityThreshold,
		MinModelDiversity:            c.MinModelDiversity,
		MinSpectralEntropy:           c.MinSpectralEntropy,
		MaxSpectralEntropy:           c.MaxSpectralEntropy,
		TimingAnomalyThreshold:       c.TimingAnomalyThreshold,
		ReputationPenaltyFactor:      c.ReputationPenaltyFactor,
		EnableInstantPenalty:         c.EnableInstantPenalty,
	}
}
