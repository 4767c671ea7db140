package aggregate

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/arbiterlabs/arbiter/internal/defense"
	"github.com/arbiterlabs/arbiter/internal/fingerprint"
	"github.com/arbiterlabs/arbiter/internal/reputation"
)

// ErrInsufficientValidReveals is session-fatal: aggregation needs at least 2
// verified reveals to mean anything.
var ErrInsufficientValidReveals = errors.New("fewer than 2 valid reveals to aggregate")

// DefaultSimilarityThreshold partitions agents into valid/outlier sets. It is
// deliberately looser than the collusion threshold: it screens for relevance
// to the committee answer, not for identicalness.
const DefaultSimilarityThreshold = 0.3

// rewardBase is the maximum per-session reward in credit points; the actual
// reward is proportional to the agent's mean similarity.
const rewardBase = 10.0

// spectralFeatureCount is how many leading eigenvalues of the session's
// response matrix end up on the published result.
const spectralFeatureCount = 3

// Result is the finalized outcome of one session's aggregation.
type Result struct {
	SessionID           string             `json:"session_id"`
	Method              Method             `json:"method"`
	ConsensusValue      float64            `json:"consensus_value"`
	ConsensusSimilarity float64            `json:"consensus_similarity"`
	ValidAgents         []string           `json:"valid_agents"`
	Outliers            []string           `json:"outliers"`
	PassRate            float64            `json:"pass_rate"`
	Centroid            []float64          `json:"centroid,omitempty"`
	SpectralFeatures    []float64          `json:"spectral_features,omitempty"`
	Degenerate          bool               `json:"degenerate,omitempty"`
	Evidence            []defense.Evidence `json:"evidence,omitempty"`
}

// Aggregator turns a session's verified responses into a consensus value
// and a valid/outlier partition, rewarding valid agents through the shared
// reputation ledger.
type Aggregator struct {
	ledger              *reputation.Ledger
	SimilarityThreshold float64
	Method              Method
}

// New creates an aggregator over the shared ledger. threshold <= 0 falls
// back to DefaultSimilarityThreshold; an empty method falls back to the
// arithmetic mean.
func New(ledger *reputation.Ledger, threshold float64, method Method) *Aggregator {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if method == "" {
		method = MethodMean
	}
	return &Aggregator{ledger: ledger, SimilarityThreshold: threshold, Method: method}
}

// Aggregate is deterministic for a fixed set of responses and thresholds:
// same partition, same value, every call.
func (a *Aggregator) Aggregate(sessionID string, responses []*fingerprint.AgentResponse, evidence []defense.Evidence) (*Result, error) {
	if len(responses) < 2 {
		return nil, ErrInsufficientValidReveals
	}

	// Sort by agent for deterministic iteration; map order must never leak
	// into the result.
	sorted := make([]*fingerprint.AgentResponse, len(responses))
	copy(sorted, responses)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AgentID < sorted[j].AgentID })

	vectors := make([][]float64, len(sorted))
	for i, r := range sorted {
		vectors[i] = r.CausalResponse
	}
	meanSims := fingerprint.MeanPairwiseSimilarity(vectors)

	var valid, outliers []string
	validIdx := make([]int, 0, len(sorted))
	for i, r := range sorted {
		if meanSims[i] >= a.SimilarityThreshold {
			valid = append(valid, r.AgentID)
			validIdx = append(validIdx, i)
		} else {
			outliers = append(outliers, r.AgentID)
		}
	}

	result := &Result{
		SessionID:           sessionID,
		Method:              a.Method,
		ConsensusSimilarity: meanOfAllPairs(vectors),
		SpectralFeatures:    fingerprint.ExtractSpectralFeatures(vectors, spectralFeatureCount),
		Evidence:            evidence,
	}

	// Documented fallback: with no agent above the threshold the session
	// still resolves by averaging everyone, flagged as degenerate.
	if len(valid) == 0 {
		result.Degenerate = true
		for i, r := range sorted {
			valid = append(valid, r.AgentID)
			validIdx = append(validIdx, i)
		}
		outliers = nil
		log.Printf("[aggregate] session %s degenerate consensus: no agent above threshold %.2f",
			sessionID, a.SimilarityThreshold)
	}

	summaries := make([]float64, len(validIdx))
	weights := make([]float64, len(validIdx))
	var totalWeight float64
	for k, i := range validIdx {
		summaries[k] = sorted[i].Summary()
		if score, ok := a.ledger.Get(sorted[i].AgentID); ok {
			weights[k] = score.VotingWeight()
		}
		totalWeight += weights[k]
	}
	// A committee of unscored agents carries uniform weight; the weighted
	// methods must not divide by a zero total.
	if totalWeight == 0 {
		for k := range weights {
			weights[k] = 1
		}
	}
	value, err := Combine(a.Method, summaries, weights)
	if err != nil {
		return nil, fmt.Errorf("combine with %s: %w", a.Method, err)
	}
	result.ConsensusValue = value
	result.ValidAgents = valid
	result.Outliers = outliers
	result.PassRate = float64(len(valid)) / float64(len(sorted))

	validVectors := make([][]float64, len(validIdx))
	for k, i := range validIdx {
		validVectors[k] = sorted[i].CausalResponse
	}
	result.Centroid = fingerprint.Centroid(validVectors)
	for _, id := range outliers {
		for _, r := range sorted {
			if r.AgentID == id {
				log.Printf("[aggregate] session %s outlier %s at distance %.4f from centroid",
					sessionID, id, fingerprint.EuclideanDistance(r.CausalResponse, result.Centroid))
			}
		}
	}

	// Reward valid agents proportionally to their agreement with the
	// committee; penalties were already handled by the defense manager.
	for _, i := range validIdx {
		sim := meanSims[i]
		if sim < 0 {
			sim = 0
		}
		a.ledger.ApplyReward(sorted[i].AgentID, rewardBase*sim, "consensus_valid")
	}

	log.Printf("[aggregate] session %s: value=%.6f similarity=%.3f valid=%d outliers=%d",
		sessionID, result.ConsensusValue, result.ConsensusSimilarity, len(valid), len(outliers))
	return result, nil
}

// meanOfAllPairs is the diagnostic consensus similarity: the mean cosine
// similarity over every unordered pair in the full participant set.
func meanOfAllPairs(vectors [][]float64) float64 {
	n := len(vectors)
	if n < 2 {
		return 0
	}
	var sum float64
	var pairs int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum += fingerprint.CosineSimilarity(vectors[i], vectors[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}
