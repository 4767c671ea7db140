package defense

import (
	"sort"

	"github.com/arbiterlabs/arbiter/internal/fingerprint"
)

// detectSybil groups responses by declared network origin and flags any
// origin whose agents answered too similarly to be independent. All agents
// on the flagged origin are named, not just the most similar pair.
func detectSybil(sessionID string, responses []*fingerprint.AgentResponse, origins map[string]string, threshold float64) []Evidence {
	byOrigin := make(map[string][]*fingerprint.AgentResponse)
	for _, r := range responses {
		origin, ok := origins[r.AgentID]
		if !ok || origin == "" {
			continue
		}
		byOrigin[origin] = append(byOrigin[origin], r)
	}

	var out []Evidence
	for origin, group := range byOrigin {
		if len(group) < 2 {
			continue
		}
		var maxSim float64
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				sim := fingerprint.CosineSimilarity(group[i].CausalResponse, group[j].CausalResponse)
				if sim > maxSim {
					maxSim = sim
				}
			}
		}
		if maxSim <= threshold {
			continue
		}
		agents := make([]string, len(group))
		for i, r := range group {
			agents[i] = r.AgentID
		}
		sort.Strings(agents)

		ev := newEvidence(sessionID, KindSybil, maxSim)
		ev.Sybil = &SybilDetail{
			Origin:          origin,
			SuspectedAgents: agents,
			Similarity:      maxSim,
		}
		out = append(out, ev)
	}
	return out
}

// detectCollusion flags every agent pair whose causal responses are at or
// above the similarity threshold, regardless of origin.
func detectCollusion(sessionID string, responses []*fingerprint.AgentResponse, threshold float64) []Evidence {
	var out []Evidence
	for i := 0; i < len(responses); i++ {
		for j := i + 1; j < len(responses); j++ {
			sim := fingerprint.CosineSimilarity(responses[i].CausalResponse, responses[j].CausalResponse)
			if sim < threshold {
				continue
			}
			a, b := responses[i].AgentID, responses[j].AgentID
			if b < a {
				a, b = b, a
			}
			ev := newEvidence(sessionID, KindCollusion, sim)
			ev.Collusion = &CollusionDetail{AgentA: a, AgentB: b, Similarity: sim}
			out = append(out, ev)
		}
	}
	return out
}

// detectSpectral checks each response's normalized entropy against the
// healthy band, then checks the session-wide model diversity: agents whose
// entropies cluster within diversityEpsilon of each other count as one model.
func detectSpectral(sessionID string, responses []*fingerprint.AgentResponse, cfg Config) []Evidence {
	var out []Evidence
	entropies := make([]float64, len(responses))
	for i, r := range responses {
		h := fingerprint.NormalizedEntropy(r.CausalResponse)
		entropies[i] = h
		if h >= cfg.MinSpectralEntropy && h <= cfg.MaxSpectralEntropy {
			continue
		}
		// Severity grows with distance from the nearest band edge.
		var dist float64
		if h < cfg.MinSpectralEntropy {
			dist = cfg.MinSpectralEntropy - h
		} else {
			dist = h - cfg.MaxSpectralEntropy
		}
		sev := 0.5 + dist
		ev := newEvidence(sessionID, KindSpectral, sev)
		ev.Spectral = &SpectralDetail{
			AgentID:    r.AgentID,
			Entropy:    h,
			MinEntropy: cfg.MinSpectralEntropy,
			MaxEntropy: cfg.MaxSpectralEntropy,
		}
		out = append(out, ev)
	}

	if len(responses) >= cfg.MinModelDiversity {
		if clusters := countEntropyClusters(entropies); clusters < cfg.MinModelDiversity {
			for i, r := range responses {
				ev := newEvidence(sessionID, KindSpectral, 0.5)
				ev.Spectral = &SpectralDetail{
					AgentID:               r.AgentID,
					Entropy:               entropies[i],
					MinEntropy:            cfg.MinSpectralEntropy,
					MaxEntropy:            cfg.MaxSpectralEntropy,
					InsufficientDiversity: true,
				}
				out = append(out, ev)
			}
		}
	}
	return out
}

// diversityEpsilon is the entropy gap below which two agents are assumed to
// run the same underlying model.
const diversityEpsilon = 0.1

func countEntropyClusters(entropies []float64) int {
	if len(entropies) == 0 {
		return 0
	}
	sorted := make([]float64, len(entropies))
	copy(sorted, entropies)
	sort.Float64s(sorted)

	clusters := 1
	last := sorted[0]
	for _, h := range sorted[1:] {
		if h-last > diversityEpsilon {
			clusters++
			last = h
		}
	}
	return clusters
}
