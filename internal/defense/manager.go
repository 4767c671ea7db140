package defense

import (
	"log"
	"math"
	"sync"

	"github.com/arbiterlabs/arbiter/internal/fingerprint"
	"github.com/arbiterlabs/arbiter/internal/guard"
	"github.com/arbiterlabs/arbiter/internal/reputation"
)

// historyWindow bounds the per-agent response-time history used by the
// z-score check.
const historyWindow = 100

// minHistoryForZScore is how many samples an agent needs before the z-score
// check is meaningful.
const minHistoryForZScore = 10

// Manager runs the four detectors over revealed data and funnels every
// finding into the shared reputation ledger. Evidence is append-only;
// findings are recorded even when the session ultimately succeeds.
type Manager struct {
	mu sync.Mutex

	cfg    Config
	ledger *reputation.Ledger

	evidence  []Evidence
	byAgent   map[string]map[Kind]bool
	penalized map[string]bool // evidence IDs already applied

	origins       map[string]string  // agent -> declared network origin
	responseTimes map[string][]int64 // agent -> rolling duration history (ms)
}

// NewManager creates a defense manager writing penalties and rewards into
// ledger.
func NewManager(cfg Config, ledger *reputation.Ledger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:           cfg,
		ledger:        ledger,
		byAgent:       make(map[string]map[Kind]bool),
		penalized:     make(map[string]bool),
		origins:       make(map[string]string),
		responseTimes: make(map[string][]int64),
	}, nil
}

// RegisterOrigin records an agent's declared network origin, captured
// out-of-band by the transport. Used by the Sybil detector.
func (m *Manager) RegisterOrigin(agentID, origin string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.origins[agentID] = origin
}

// Evaluate runs the Sybil, collusion and spectral detectors over a session's
// revealed responses and records every finding. Returns the new evidence.
func (m *Manager) Evaluate(sessionID string, responses []*fingerprint.AgentResponse) []Evidence {
	m.mu.Lock()
	origins := make(map[string]string, len(m.origins))
	for k, v := range m.origins {
		origins[k] = v
	}
	cfg := m.cfg
	m.mu.Unlock()

	var found []Evidence
	found = append(found, detectSybil(sessionID, responses, origins, cfg.SybilThreshold)...)
	found = append(found, detectCollusion(sessionID, responses, cfg.CollusionSimilarityThreshold)...)
	found = append(found, detectSpectral(sessionID, responses, cfg)...)

	for i := range found {
		m.Record(found[i])
	}
	return found
}

// RecordTiming converts a guard finding into timing evidence and records it.
func (m *Manager) RecordTiming(a guard.Anomaly) Evidence {
	ev := newEvidence(a.SessionID, KindTiming, timingSeverity(a))
	ev.Timing = &TimingDetail{
		AgentID:    a.AgentID,
		ObservedMS: a.ObservedMS,
		MinMS:      a.MinMS,
		Uniform:    a.Uniform,
	}
	m.Record(ev)
	return ev
}

// timingSeverity scales with how far below the floor the observation fell;
// uniformity findings carry a fixed moderate severity.
func timingSeverity(a guard.Anomaly) float64 {
	if a.Uniform {
		return 0.6
	}
	if a.MinMS <= 0 {
		return 1
	}
	return 1 - float64(a.ObservedMS)/float64(a.MinMS)
}

// RecordHashMismatch records binding-check evidence for an agent whose
// reveal was rejected.
func (m *Manager) RecordHashMismatch(sessionID, agentID string) Evidence {
	ev := newEvidence(sessionID, KindHashMismatch, 1)
	ev.HashMismatch = &HashMismatchDetail{AgentID: agentID}
	m.Record(ev)
	return ev
}

// ObserveResponseTime appends a duration to the agent's rolling history and
// runs the z-score check against it. Returns timing evidence when the new
// observation deviates beyond the configured threshold.
func (m *Manager) ObserveResponseTime(sessionID, agentID string, observedMS int64) *Evidence {
	m.mu.Lock()
	times := append(m.responseTimes[agentID], observedMS)
	if len(times) > historyWindow {
		times = times[len(times)-historyWindow:]
	}
	m.responseTimes[agentID] = times
	threshold := m.cfg.TimingAnomalyThreshold
	m.mu.Unlock()

	if len(times) < minHistoryForZScore {
		return nil
	}

	var sum float64
	for _, t := range times {
		sum += float64(t)
	}
	mean := sum / float64(len(times))
	var variance float64
	for _, t := range times {
		d := float64(t) - mean
		variance += d * d
	}
	variance /= float64(len(times))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return nil
	}

	z := math.Abs(float64(observedMS)-mean) / stddev
	if z <= threshold {
		return nil
	}

	ev := newEvidence(sessionID, KindTiming, math.Min(z/(2*threshold), 1))
	ev.Timing = &TimingDetail{AgentID: agentID, ObservedMS: observedMS}
	m.Record(ev)
	return &ev
}

// Record appends evidence and, when instant penalties are enabled, applies
// the reputation delta immediately. Each evidence item is applied at most
// once; ApplyPending picks up whatever Record deferred.
func (m *Manager) Record(ev Evidence) {
	m.mu.Lock()
	m.evidence = append(m.evidence, ev)
	for _, agent := range ev.Agents() {
		kinds, ok := m.byAgent[agent]
		if !ok {
			kinds = make(map[Kind]bool)
			m.byAgent[agent] = kinds
		}
		kinds[ev.Kind] = true
	}
	instant := m.cfg.EnableInstantPenalty
	m.mu.Unlock()

	log.Printf("[defense] %s evidence recorded for session %s (severity %.2f)",
		ev.Kind, ev.SessionID, ev.Severity)

	if instant {
		m.applyPenalty(ev)
	}
}

// ApplyPending applies penalties for all evidence not yet applied. Called at
// aggregation time when instant penalties are disabled.
func (m *Manager) ApplyPending() int {
	m.mu.Lock()
	var pending []Evidence
	for _, ev := range m.evidence {
		if !m.penalized[ev.ID] {
			pending = append(pending, ev)
		}
	}
	m.mu.Unlock()

	for _, ev := range pending {
		m.applyPenalty(ev)
	}
	return len(pending)
}

func (m *Manager) applyPenalty(ev Evidence) {
	m.mu.Lock()
	if m.penalized[ev.ID] {
		m.mu.Unlock()
		return
	}
	m.penalized[ev.ID] = true
	factor := m.cfg.ReputationPenaltyFactor
	m.mu.Unlock()

	delta := basePenalty(ev.Kind) * ev.Severity * factor
	for _, agent := range ev.Agents() {
		m.ledger.ApplyPenalty(agent, delta, string(ev.Kind))
	}
}

// MaliciousAgents returns every flagged agent with the kinds of evidence
// recorded against it.
func (m *Manager) MaliciousAgents() map[string][]Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]Kind, len(m.byAgent))
	for agent, kinds := range m.byAgent {
		for kind := range kinds {
			out[agent] = append(out[agent], kind)
		}
	}
	return out
}

// ReputationOf returns the agent's current credit, if the ledger knows it.
func (m *Manager) ReputationOf(agentID string) (float64, bool) {
	s, ok := m.ledger.Get(agentID)
	if !ok {
		return 0, false
	}
	return s.Credit, true
}

// EvidenceLog returns a copy of all recorded evidence.
func (m *Manager) EvidenceLog() []Evidence {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Evidence, len(m.evidence))
	copy(out, m.evidence)
	return out
}

// SessionEvidence returns the evidence recorded for one session.
func (m *Manager) SessionEvidence(sessionID string) []Evidence {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Evidence
	for _, ev := range m.evidence {
		if ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out
}
