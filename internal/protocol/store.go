package protocol

import "sync"

// storeKey identifies one agent's entry within one session.
type storeKey struct {
	sessionID string
	agentID   string
}

// CommitmentStore is an append-only log of commitments keyed by
// (session, agent). Entries are never mutated or removed; phase-gated
// visibility is the coordinator's job, not the store's.
type CommitmentStore struct {
	mu      sync.RWMutex
	entries map[storeKey]Commitment
}

// NewCommitmentStore returns an empty commitment store.
func NewCommitmentStore() *CommitmentStore {
	return &CommitmentStore{entries: make(map[storeKey]Commitment)}
}

// Put appends a commitment. Returns false if the agent already committed in
// this session.
func (s *CommitmentStore) Put(sessionID string, c Commitment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey{sessionID, c.AgentID}
	if _, ok := s.entries[key]; ok {
		return false
	}
	s.entries[key] = c
	return true
}

// Get returns the commitment for (session, agent), if any.
func (s *CommitmentStore) Get(sessionID, agentID string) (Commitment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.entries[storeKey{sessionID, agentID}]
	return c, ok
}

// Count returns the number of commitments recorded for a session.
func (s *CommitmentStore) Count(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key := range s.entries {
		if key.sessionID == sessionID {
			n++
		}
	}
	return n
}

// All returns a snapshot of every commitment in a session.
func (s *CommitmentStore) All(sessionID string) []Commitment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Commitment
	for key, c := range s.entries {
		if key.sessionID == sessionID {
			out = append(out, c)
		}
	}
	return out
}

// RevealStore is an append-only log of verified reveals keyed by
// (session, agent). The coordinator only inserts reveals that passed the
// commitment hash check, so a reveal here always has a matching commitment.
type RevealStore struct {
	mu      sync.RWMutex
	entries map[storeKey]Reveal
}

// NewRevealStore returns an empty reveal store.
func NewRevealStore() *RevealStore {
	return &RevealStore{entries: make(map[storeKey]Reveal)}
}

// Put appends a reveal. Returns false if the agent already revealed in this
// session.
func (s *RevealStore) Put(sessionID string, r Reveal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey{sessionID, r.AgentID}
	if _, ok := s.entries[key]; ok {
		return false
	}
	s.entries[key] = r
	return true
}

// Has reports whether the agent has revealed in this session.
func (s *RevealStore) Has(sessionID, agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[storeKey{sessionID, agentID}]
	return ok
}

// Count returns the number of reveals recorded for a session.
func (s *RevealStore) Count(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key := range s.entries {
		if key.sessionID == sessionID {
			n++
		}
	}
	return n
}

// All returns a snapshot of every reveal in a session. Callers must not
// expose the result to agent-facing APIs before the reveal phase closes.
func (s *RevealStore) All(sessionID string) []Reveal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Reveal
	for key, r := range s.entries {
		if key.sessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}
