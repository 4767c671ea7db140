package defense

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of misbehavior categories. The detector set is
// fixed; switches over Kind should be exhaustive.
type Kind string

const (
	KindSybil        Kind = "sybil"
	KindCollusion    Kind = "collusion"
	KindTiming       Kind = "timing"
	KindSpectral     Kind = "spectral"
	KindHashMismatch Kind = "hash_mismatch"
)

// basePenalty is the per-kind penalty in credit points, scaled by the
// evidence severity and the configured penalty factor.
func basePenalty(kind Kind) float64 {
	switch kind {
	case KindSybil:
		return 80
	case KindCollusion:
		return 70
	case KindHashMismatch:
		return 90
	case KindTiming:
		return 30
	case KindSpectral:
		return 50
	default:
		return 0
	}
}

// Evidence is one recorded misbehavior finding. Append-only: once recorded
// it is referenced by penalty application and never mutated. Exactly one
// detail field is set, matching Kind.
type Evidence struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id"`
	Kind       Kind    `json:"kind"`
	Severity   float64 `json:"severity"` // (0,1]
	DetectedAt int64   `json:"detected_at"`

	Sybil        *SybilDetail        `json:"sybil,omitempty"`
	Collusion    *CollusionDetail    `json:"collusion,omitempty"`
	Timing       *TimingDetail       `json:"timing,omitempty"`
	Spectral     *SpectralDetail     `json:"spectral,omitempty"`
	HashMismatch *HashMismatchDetail `json:"hash_mismatch,omitempty"`
}

// HashMismatchDetail records a reveal that failed the commitment binding
// check. The reveal itself was already rejected; the evidence drives the
// reputation penalty.
type HashMismatchDetail struct {
	AgentID string `json:"agent_id"`
}

// SybilDetail names every agent sharing a suspicious origin.
type SybilDetail struct {
	Origin          string   `json:"origin"`
	SuspectedAgents []string `json:"suspected_agents"`
	Similarity      float64  `json:"similarity"`
}

// CollusionDetail records one suspiciously similar pair.
type CollusionDetail struct {
	AgentA     string  `json:"agent_a"`
	AgentB     string  `json:"agent_b"`
	Similarity float64 `json:"similarity"`
}

// TimingDetail records an implausible or suspiciously uniform duration.
type TimingDetail struct {
	AgentID    string `json:"agent_id"`
	ObservedMS int64  `json:"observed_ms"`
	MinMS      int64  `json:"min_ms"`
	Uniform    bool   `json:"uniform,omitempty"`
}

// SpectralDetail records a response whose entropy fell outside the healthy
// band, or a session whose agents cluster into too few distinct models.
type SpectralDetail struct {
	AgentID               string  `json:"agent_id"`
	Entropy               float64 `json:"entropy"`
	MinEntropy            float64 `json:"min_entropy"`
	MaxEntropy            float64 `json:"max_entropy"`
	InsufficientDiversity bool    `json:"insufficient_diversity,omitempty"`
}

// Agents returns every agent implicated by this evidence.
func (e *Evidence) Agents() []string {
	switch e.Kind {
	case KindSybil:
		if e.Sybil != nil {
			return e.Sybil.SuspectedAgents
		}
	case KindCollusion:
		if e.Collusion != nil {
			return []string{e.Collusion.AgentA, e.Collusion.AgentB}
		}
	case KindTiming:
		if e.Timing != nil {
			return []string{e.Timing.AgentID}
		}
	case KindSpectral:
		if e.Spectral != nil {
			return []string{e.Spectral.AgentID}
		}
	case KindHashMismatch:
		if e.HashMismatch != nil {
			return []string{e.HashMismatch.AgentID}
		}
	}
	return nil
}

func newEvidence(sessionID string, kind Kind, severity float64) Evidence {
	if severity <= 0 {
		severity = 1
	}
	if severity > 1 {
		severity = 1
	}
	return Evidence{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Kind:       kind,
		Severity:   severity,
		DetectedAt: time.Now().UnixMilli(),
	}
}
