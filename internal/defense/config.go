package defense

import "fmt"

// Config holds the detection thresholds and penalty knobs. Zero values are
// never valid; construct via DefaultConfig and override.
type Config struct {
	// SybilThreshold is the max pairwise similarity tolerated between agents
	// sharing a network origin before they are flagged as one actor.
	SybilThreshold float64

	// CollusionSimilarityThreshold flags any agent pair at or above this
	// cosine similarity, regardless of origin.
	CollusionSimilarityThreshold float64

	// MinModelDiversity is the minimum number of distinct spectral clusters
	// a session's agents must span.
	MinModelDiversity int

	// Healthy band for normalized spectral entropy. Below: degenerate or
	// copied output. Above: noise-like non-computation.
	MinSpectralEntropy float64
	MaxSpectralEntropy float64

	// TimingAnomalyThreshold is the z-score multiplier for the per-agent
	// response-time history check.
	TimingAnomalyThreshold float64

	// ReputationPenaltyFactor scales every penalty delta.
	ReputationPenaltyFactor float64

	// EnableInstantPenalty applies deltas synchronously when evidence is
	// recorded instead of batching until aggregation. Fast exclusion of
	// repeat offenders within a single session depends on this.
	EnableInstantPenalty bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SybilThreshold:               0.75,
		CollusionSimilarityThreshold: 0.85,
		MinModelDiversity:            3,
		MinSpectralEntropy:           0.6,
		MaxSpectralEntropy:           0.9,
		TimingAnomalyThreshold:       2.5,
		ReputationPenaltyFactor:      0.5,
		EnableInstantPenalty:         true,
	}
}

// Validate fails fast on out-of-range thresholds so a misconfigured session
// never starts.
func (c Config) Validate() error {
	unit := map[string]float64{
		"sybil_threshold":                c.SybilThreshold,
		"collusion_similarity_threshold": c.CollusionSimilarityThreshold,
		"min_spectral_entropy":           c.MinSpectralEntropy,
		"max_spectral_entropy":           c.MaxSpectralEntropy,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if c.MinSpectralEntropy >= c.MaxSpectralEntropy {
		return fmt.Errorf("min_spectral_entropy %v must be below max_spectral_entropy %v",
			c.MinSpectralEntropy, c.MaxSpectralEntropy)
	}
	if c.MinModelDiversity < 1 {
		return fmt.Errorf("min_model_diversity must be at least 1, got %d", c.MinModelDiversity)
	}
	if c.TimingAnomalyThreshold <= 0 {
		return fmt.Errorf("timing_anomaly_threshold must be positive, got %v", c.TimingAnomalyThreshold)
	}
	if c.ReputationPenaltyFactor <= 0 {
		return fmt.Errorf("reputation_penalty_factor must be positive, got %v", c.ReputationPenaltyFactor)
	}
	return nil
}
