package reputation

import (
	"log"
	"sync"
	"time"
)

// Store is the durable sink for scores. The in-memory ledger is the
// authoritative view during a session; persistence is write-through and
// best-effort.
type Store interface {
	SaveScore(s *Score) error
}

// Ledger holds the in-memory reputation view shared across sessions. All
// mutation funnels through ApplyPenalty and ApplyReward, each atomic per
// agent under the ledger lock.
type Ledger struct {
	mu     sync.RWMutex
	scores map[string]*Score
	store  Store // optional
	now    func() int64
}

// NewLedger creates an empty ledger. store may be nil for a purely
// in-memory view.
func NewLedger(store Store) *Ledger {
	return &Ledger{
		scores: make(map[string]*Score),
		store:  store,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the ledger's clock for tests.
func (l *Ledger) SetClock(now func() int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Seed installs a previously persisted score, replacing any in-memory state
// for the agent. Used at startup to restore the durable copy.
func (l *Ledger) Seed(s Score) {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := s
	l.scores[s.AgentID] = &copied
}

// ApplyPenalty subtracts |delta| from the agent's credit and counts an
// outlier incident. Saturates at the bounds.
func (l *Ledger) ApplyPenalty(agentID string, delta float64, reason string) Score {
	if delta < 0 {
		delta = -delta
	}
	return l.apply(agentID, -delta, reason, false)
}

// ApplyReward adds |delta| to the agent's credit and counts a successful
// task. Saturates at the bounds.
func (l *Ledger) ApplyReward(agentID string, delta float64, reason string) Score {
	if delta < 0 {
		delta = -delta
	}
	return l.apply(agentID, delta, reason, true)
}

func (l *Ledger) apply(agentID string, delta float64, reason string, success bool) Score {
	l.mu.Lock()
	s := l.getOrCreateLocked(agentID)

	old := s.Credit
	s.Credit = clamp(s.Credit + delta)
	s.TotalTasks++
	if success {
		s.SuccessfulTasks++
	} else {
		s.OutlierCount++
	}
	s.LastUpdated = l.now()

	if s.OutlierCount > deactivateOutlierCount && s.SuccessRate() < deactivateSuccessRate {
		s.Active = false
	}

	s.History = append(s.History, Update{
		Reason:    reason,
		Delta:     delta,
		OldCredit: old,
		NewCredit: s.Credit,
		Timestamp: s.LastUpdated,
	})
	if len(s.History) > historyCap {
		s.History = s.History[len(s.History)-historyCap:]
	}

	snapshot := *s
	store := l.store
	l.mu.Unlock()

	if store != nil {
		if err := store.SaveScore(&snapshot); err != nil {
			log.Printf("[reputation] persist score for %s: %v", agentID, err)
		}
	}
	return snapshot
}

// Decay multiplies every active agent's credit by factor, flooring tiny
// residues at zero. Applied periodically so idle reputation erodes.
func (l *Ledger) Decay(factor float64) int {
	if factor <= 0 || factor >= 1 {
		return 0
	}
	l.mu.Lock()
	var snapshots []Score
	for _, s := range l.scores {
		if s.Credit <= 0 {
			continue
		}
		s.Credit *= factor
		if s.Credit < 0.01 {
			s.Credit = 0
		}
		s.LastUpdated = l.now()
		snapshots = append(snapshots, *s)
	}
	store := l.store
	l.mu.Unlock()

	if store != nil {
		for i := range snapshots {
			if err := store.SaveScore(&snapshots[i]); err != nil {
				log.Printf("[reputation] persist decayed score for %s: %v", snapshots[i].AgentID, err)
			}
		}
	}
	return len(snapshots)
}

// Get returns a copy of the agent's score, if known.
func (l *Ledger) Get(agentID string) (Score, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.scores[agentID]
	if !ok {
		return Score{}, false
	}
	return *s, true
}

// Credit returns the agent's current credit, defaulting to InitialCredit for
// unknown agents so weighting never divides by an absent score.
func (l *Ledger) Credit(agentID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.scores[agentID]; ok {
		return s.Credit
	}
	return InitialCredit
}

// All returns copies of every score in the ledger.
func (l *Ledger) All() []Score {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Score, 0, len(l.scores))
	for _, s := range l.scores {
		out = append(out, *s)
	}
	return out
}

func (l *Ledger) getOrCreateLocked(agentID string) *Score {
	s, ok := l.scores[agentID]
	if !ok {
		s = &Score{
			AgentID:     agentID,
			Credit:      InitialCredit,
			Active:      true,
			LastUpdated: l.now(),
		}
		l.scores[agentID] = s
	}
	return s
}
