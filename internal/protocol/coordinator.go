package protocol

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultQuorumFraction is the minimum share of participants that must
// reveal for a session to proceed to aggregation.
const DefaultQuorumFraction = 0.6

// Coordinator owns every consensus session and is the only component that
// mutates session phase. All per-session state is guarded by one lock per
// session, so concurrent submissions from multiple agents interleave safely.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[string]*session

	commits *CommitmentStore
	reveals *RevealStore

	quorumFraction float64
	now            func() int64 // unix ms; injectable for tests
}

type session struct {
	mu              sync.Mutex
	id              string
	participants    map[string]bool
	phase           Phase
	commitDeadline  int64
	revealDeadline  int64
	revealTimeoutMS int64
	failureReason   string
	startedAt       int64
}

// Status is a read-only snapshot of a session.
type Status struct {
	SessionID      string `json:"session_id"`
	Phase          string `json:"phase"`
	Participants   int    `json:"participants"`
	Commitments    int    `json:"commitments"`
	Reveals        int    `json:"reveals"`
	CommitDeadline int64  `json:"commit_deadline"`
	RevealDeadline int64  `json:"reveal_deadline"`
	FailureReason  string `json:"failure_reason,omitempty"`
}

// NewCoordinator creates a coordinator with empty stores. quorumFraction <= 0
// falls back to DefaultQuorumFraction.
func NewCoordinator(quorumFraction float64) *Coordinator {
	if quorumFraction <= 0 {
		quorumFraction = DefaultQuorumFraction
	}
	return &Coordinator{
		sessions:       make(map[string]*session),
		commits:        NewCommitmentStore(),
		reveals:        NewRevealStore(),
		quorumFraction: quorumFraction,
		now:            func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the coordinator's clock. Tests use this to drive
// deadlines without sleeping; the coordinator itself never sleeps.
func (c *Coordinator) SetClock(now func() int64) {
	c.now = now
}

// StartSession creates a session in PhaseCommitting for the given
// participants. Consensus needs at least 2 independent opinions; both phase
// timeouts must be positive.
func (c *Coordinator) StartSession(participants []string, commitTimeout, revealTimeout time.Duration) (string, error) {
	if len(participants) < 2 {
		return "", ErrInvalidParticipants
	}
	if commitTimeout <= 0 || revealTimeout <= 0 {
		return "", ErrInvalidTimeout
	}

	set := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p == "" {
			return "", fmt.Errorf("%w: empty agent id", ErrInvalidParticipants)
		}
		if set[p] {
			return "", fmt.Errorf("%w: duplicate agent %s", ErrInvalidParticipants, p)
		}
		set[p] = true
	}

	now := c.now()
	s := &session{
		id:              uuid.New().String(),
		participants:    set,
		phase:           PhaseCommitting,
		commitDeadline:  now + commitTimeout.Milliseconds(),
		revealTimeoutMS: revealTimeout.Milliseconds(),
		startedAt:       now,
	}

	c.mu.Lock()
	c.sessions[s.id] = s
	c.mu.Unlock()

	log.Printf("[protocol] session %s started with %d participants", s.id, len(set))
	return s.id, nil
}

// SubmitCommitment records an agent's commitment. Fails with
// ErrPhaseMismatch outside the commit phase, ErrUnknownAgent for
// non-participants and ErrDuplicateCommitment on a second submission.
func (c *Coordinator) SubmitCommitment(sessionID string, commitment Commitment) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A commit arriving after the deadline forces the transition first, so
	// the caller sees PhaseMismatch rather than a silent late accept.
	c.advanceLocked(s)

	if s.phase != PhaseCommitting {
		return ErrPhaseMismatch
	}
	if !s.participants[commitment.AgentID] {
		return ErrUnknownAgent
	}
	if !c.commits.Put(sessionID, commitment) {
		return ErrDuplicateCommitment
	}

	// All participants committed: no reason to wait out the deadline.
	c.advanceLocked(s)
	return nil
}

// SubmitReveal validates a reveal against its commitment and records it.
// The hash check is what makes the commitment binding; it is never skipped.
func (c *Coordinator) SubmitReveal(sessionID string, reveal Reveal) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c.advanceLocked(s)

	if s.phase != PhaseRevealing {
		return ErrPhaseMismatch
	}
	if !s.participants[reveal.AgentID] {
		return ErrUnknownAgent
	}

	commitment, ok := c.commits.Get(sessionID, reveal.AgentID)
	if !ok {
		return ErrNoMatchingCommitment
	}
	if c.reveals.Has(sessionID, reveal.AgentID) {
		return ErrDuplicateReveal
	}

	computed := ComputeCommitmentHash(reveal.ResponseData, reveal.Nonce)
	if computed != commitment.CommitmentHash || reveal.Nonce != commitment.Nonce {
		return ErrHashMismatch
	}

	if !c.reveals.Put(sessionID, reveal) {
		return ErrDuplicateReveal
	}

	c.advanceLocked(s)
	return nil
}

// AdvancePhase forces a deadline check. Called by the timeout worker; also
// invoked internally whenever a submission lands.
func (c *Coordinator) AdvancePhase(sessionID string) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.advanceLocked(s)
	return nil
}

// advanceLocked applies every forward transition currently justified by the
// clock or by submission counts. Must be called with s.mu held.
func (c *Coordinator) advanceLocked(s *session) {
	now := c.now()

	if s.phase == PhaseCommitting {
		committed := c.commits.Count(s.id)
		switch {
		case committed == len(s.participants):
			s.phase = PhaseRevealing
			s.revealDeadline = now + s.revealTimeoutMS
			log.Printf("[protocol] session %s entering reveal phase (%d/%d committed)",
				s.id, committed, len(s.participants))
		case now >= s.commitDeadline:
			// Reveals can never exceed commitments, so a commit phase that
			// closes below quorum cannot recover. Fail now instead of
			// waiting out a reveal deadline nobody can meet.
			if !c.quorumMet(committed, len(s.participants)) {
				s.phase = PhaseFailed
				s.failureReason = ReasonInsufficientParticipation
				log.Printf("[protocol] session %s failed: %d/%d commitments below quorum",
					s.id, committed, len(s.participants))
				return
			}
			s.phase = PhaseRevealing
			s.revealDeadline = now + s.revealTimeoutMS
			log.Printf("[protocol] session %s entering reveal phase (%d/%d committed)",
				s.id, committed, len(s.participants))
		}
	}

	if s.phase == PhaseRevealing {
		revealed := c.reveals.Count(s.id)
		committed := c.commits.Count(s.id)
		done := committed > 0 && revealed == committed
		if done || now >= s.revealDeadline {
			if c.quorumMet(revealed, len(s.participants)) {
				s.phase = PhaseAggregating
				log.Printf("[protocol] session %s entering aggregation (%d/%d revealed)",
					s.id, revealed, len(s.participants))
			} else {
				s.phase = PhaseFailed
				s.failureReason = ReasonInsufficientParticipation
				log.Printf("[protocol] session %s failed: %d/%d reveals below quorum",
					s.id, revealed, len(s.participants))
			}
		}
	}
}

// quorumMet reports whether revealed meets both the hard floor of 2 and the
// configured quorum fraction.
func (c *Coordinator) quorumMet(revealed, participants int) bool {
	if revealed < 2 {
		return false
	}
	return float64(revealed) >= c.quorumFraction*float64(participants)
}

// Status returns a snapshot of the session.
func (c *Coordinator) Status(sessionID string) (Status, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		SessionID:      s.id,
		Phase:          s.phase.String(),
		Participants:   len(s.participants),
		Commitments:    c.commits.Count(s.id),
		Reveals:        c.reveals.Count(s.id),
		CommitDeadline: s.commitDeadline,
		RevealDeadline: s.revealDeadline,
		FailureReason:  s.failureReason,
	}, nil
}

// Phase returns the current phase of the session.
func (c *Coordinator) Phase(sessionID string) (Phase, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return PhaseFailed, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, nil
}

// Participants returns the participant set of the session.
func (c *Coordinator) Participants(sessionID string) ([]string, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.participants))
	for p := range s.participants {
		out = append(out, p)
	}
	return out, nil
}

// RevealedResponses hands the session's reveals to the aggregator. Only
// exposed once the reveal phase has closed; agent-facing callers can never
// observe partial reveal contents mid-phase.
func (c *Coordinator) RevealedResponses(sessionID string) ([]Reveal, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAggregating && !s.phase.Terminal() {
		return nil, ErrPhaseMismatch
	}
	return c.reveals.All(sessionID), nil
}

// Commitments returns the session's commitments for defense-side analysis.
func (c *Coordinator) Commitments(sessionID string) ([]Commitment, error) {
	if _, err := c.session(sessionID); err != nil {
		return nil, err
	}
	return c.commits.All(sessionID), nil
}

// Complete marks an aggregating session as completed. No-op error when the
// session is not in PhaseAggregating.
func (c *Coordinator) Complete(sessionID string) error {
	return c.finish(sessionID, PhaseCompleted, "")
}

// Fail moves an aggregating session into the failed sink with a reason.
func (c *Coordinator) Fail(sessionID, reason string) error {
	return c.finish(sessionID, PhaseFailed, reason)
}

func (c *Coordinator) finish(sessionID string, phase Phase, reason string) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAggregating {
		return ErrPhaseMismatch
	}
	s.phase = phase
	s.failureReason = reason
	log.Printf("[protocol] session %s finished: %s", s.id, phase)
	return nil
}

// SessionIDs returns the IDs of all known sessions.
func (c *Coordinator) SessionIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (c *Coordinator) session(sessionID string) (*session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}
