package reputation

import "math"

// Credit bounds. Score updates saturate at the bounds, never wrap.
const (
	MinCredit     = 0.0
	MaxCredit     = 1000.0
	InitialCredit = 500.0
)

// Deactivation rule: agents flagged as outliers this many times with a
// success rate under half are retired from weighting.
const (
	deactivateOutlierCount = 10
	deactivateSuccessRate  = 0.5
)

// historyCap bounds the per-agent update history.
const historyCap = 100

// Score is the bounded trust metric for one agent, shared across sessions.
// All mutation goes through the ledger's Apply entry points.
type Score struct {
	AgentID         string   `json:"agent_id"`
	Credit          float64  `json:"credit"`
	TotalTasks      uint64   `json:"total_tasks"`
	SuccessfulTasks uint64   `json:"successful_tasks"`
	OutlierCount    uint64   `json:"outlier_count"`
	Active          bool     `json:"active"`
	LastUpdated     int64    `json:"last_updated"` // unix ms
	History         []Update `json:"history,omitempty"`
}

// Update is one applied reputation change, kept for audit.
type Update struct {
	Reason    string  `json:"reason"`
	Delta     float64 `json:"delta"`
	OldCredit float64 `json:"old_credit"`
	NewCredit float64 `json:"new_credit"`
	Timestamp int64   `json:"timestamp"`
}

// Tier buckets a credit value into a named reputation band.
type Tier string

const (
	TierNewcomer Tier = "newcomer"
	TierCopper   Tier = "copper"
	TierIron     Tier = "iron"
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierDiamond  Tier = "diamond"
	TierPlatinum Tier = "platinum"
)

// TierFor maps a credit value to its band.
func TierFor(credit float64) Tier {
	switch {
	case credit >= 900:
		return TierPlatinum
	case credit >= 800:
		return TierDiamond
	case credit >= 700:
		return TierGold
	case credit >= 600:
		return TierSilver
	case credit >= 500:
		return TierBronze
	case credit >= 400:
		return TierIron
	case credit >= 300:
		return TierCopper
	default:
		return TierNewcomer
	}
}

// Tier returns the agent's current band.
func (s *Score) Tier() Tier {
	return TierFor(s.Credit)
}

// SuccessRate is the share of tasks in which the agent landed in the valid
// consensus set.
func (s *Score) SuccessRate() float64 {
	if s.TotalTasks == 0 {
		return 0
	}
	return float64(s.SuccessfulTasks) / float64(s.TotalTasks)
}

// VotingWeight is the agent's influence in weighted aggregation:
// credit scaled by a logarithmic task-count bonus.
func (s *Score) VotingWeight() float64 {
	if !s.Active {
		return 0
	}
	taskBonus := math.Log(float64(s.TotalTasks + 1))
	return s.Credit * taskBonus / 10
}

// clamp saturates credit at the bounds.
func clamp(credit float64) float64 {
	if credit < MinCredit {
		return MinCredit
	}
	if credit > MaxCredit {
		return MaxCredit
	}
	return credit
}
