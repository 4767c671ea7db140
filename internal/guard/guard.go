package guard

import (
	"errors"
	"math"
	"sync"
	"time"
)

// ErrAlreadyStarted is returned when an agent records a second computation
// start for the same session.
var ErrAlreadyStarted = errors.New("computation start already recorded")

const (
	// DefaultMinPlausibleMS is the hard floor under which a computation is
	// considered implausibly fast: pre-fetched, copied, or fabricated.
	DefaultMinPlausibleMS = 100

	// DefaultCVFloor is the minimum coefficient of variation of durations
	// across a session's agents. Below it the timings are too uniform to be
	// independent computations.
	DefaultCVFloor = 0.05

	// minSamplesForUniformity is how many durations a session needs before
	// the cross-agent uniformity check is meaningful.
	minSamplesForUniformity = 3
)

// Anomaly describes a timing finding. It is evidence for the defense
// manager, never a reason to reject the reveal itself.
type Anomaly struct {
	SessionID  string
	AgentID    string
	ObservedMS int64
	MinMS      int64
	Uniform    bool // true when flagged by the cross-agent uniformity check
}

// Guard enforces plausible computation latency per agent. It never sleeps or
// reads the wall clock on the hot path; durations are recorded by the caller.
type Guard struct {
	mu        sync.Mutex
	starts    map[string]map[string]int64 // session -> agent -> start ms
	durations map[string]map[string]int64 // session -> agent -> observed ms

	MinPlausibleMS int64
	CVFloor        float64

	now func() int64
}

// New returns a guard with the given floor values; non-positive arguments
// fall back to the defaults.
func New(minPlausibleMS int64, cvFloor float64) *Guard {
	if minPlausibleMS <= 0 {
		minPlausibleMS = DefaultMinPlausibleMS
	}
	if cvFloor <= 0 {
		cvFloor = DefaultCVFloor
	}
	return &Guard{
		starts:         make(map[string]map[string]int64),
		durations:      make(map[string]map[string]int64),
		MinPlausibleMS: minPlausibleMS,
		CVFloor:        cvFloor,
		now:            func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the guard's clock for tests.
func (g *Guard) SetClock(now func() int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// RecordStart marks when an agent begins computing. Idempotence violation is
// an error: a second start for the same (session, agent) would let the agent
// reset its own timer.
func (g *Guard) RecordStart(sessionID, agentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	agents, ok := g.starts[sessionID]
	if !ok {
		agents = make(map[string]int64)
		g.starts[sessionID] = agents
	}
	if _, ok := agents[agentID]; ok {
		return ErrAlreadyStarted
	}
	agents[agentID] = g.now()
	return nil
}

// RecordDuration stores an observed computation duration and returns the
// floor-check result. A duration under MinPlausibleMS yields an Anomaly;
// the duration is still recorded for the cross-agent check either way.
func (g *Guard) RecordDuration(sessionID, agentID string, observedMS int64) *Anomaly {
	g.mu.Lock()
	agents, ok := g.durations[sessionID]
	if !ok {
		agents = make(map[string]int64)
		g.durations[sessionID] = agents
	}
	agents[agentID] = observedMS
	g.mu.Unlock()

	return g.VerifyDuration(sessionID, agentID, observedMS, g.MinPlausibleMS)
}

// ElapsedSinceStart returns milliseconds since RecordStart for the agent,
// or false if no start was recorded.
func (g *Guard) ElapsedSinceStart(sessionID, agentID string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	start, ok := g.starts[sessionID][agentID]
	if !ok {
		return 0, false
	}
	return g.now() - start, true
}

// VerifyDuration checks a single observed duration against the hard floor.
// Returns an Anomaly when observed < min, nil otherwise.
func (g *Guard) VerifyDuration(sessionID, agentID string, observedMS, minPlausibleMS int64) *Anomaly {
	if observedMS >= minPlausibleMS {
		return nil
	}
	return &Anomaly{
		SessionID:  sessionID,
		AgentID:    agentID,
		ObservedMS: observedMS,
		MinMS:      minPlausibleMS,
	}
}

// CheckUniformity runs the cross-agent check for a session: when the
// coefficient of variation of all recorded durations falls below CVFloor,
// every agent in the session is flagged. Individually plausible durations do
// not exempt an agent from this check; synchronized scripting produces
// exactly that pattern.
func (g *Guard) CheckUniformity(sessionID string) []Anomaly {
	g.mu.Lock()
	defer g.mu.Unlock()

	agents := g.durations[sessionID]
	if len(agents) < minSamplesForUniformity {
		return nil
	}

	var sum float64
	for _, d := range agents {
		sum += float64(d)
	}
	mean := sum / float64(len(agents))
	if mean == 0 {
		return nil
	}

	var variance float64
	for _, d := range agents {
		diff := float64(d) - mean
		variance += diff * diff
	}
	variance /= float64(len(agents))
	cv := math.Sqrt(variance) / mean

	if cv >= g.CVFloor {
		return nil
	}

	anomalies := make([]Anomaly, 0, len(agents))
	for agentID, d := range agents {
		anomalies = append(anomalies, Anomaly{
			SessionID:  sessionID,
			AgentID:    agentID,
			ObservedMS: d,
			MinMS:      g.MinPlausibleMS,
			Uniform:    true,
		})
	}
	return anomalies
}

// Forget drops all state for a session once it has resolved.
func (g *Guard) Forget(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.starts, sessionID)
	delete(g.durations, sessionID)
}
