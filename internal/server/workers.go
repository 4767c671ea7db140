package server

import (
	"context"
	"log"
	"time"

	"github.com/arbiterlabs/arbiter/internal/defense"
	"github.com/arbiterlabs/arbiter/internal/fingerprint"
	"github.com/arbiterlabs/arbiter/internal/protocol"
)

// DecayFactor is the hourly multiplicative reputation decay. Idle agents
// drift toward zero instead of squatting on old credit.
const DecayFactor = 0.995

// phaseTick is how often the driver re-checks session deadlines.
const phaseTick = 250 * time.Millisecond

// interventionTolerance is the maximum distance between the issued
// intervention vector and an agent's echo of it.
const interventionTolerance = 1e-9

// StartWorkers launches all background goroutines. Call with a cancellable
// context for graceful shutdown.
func (s *Server) StartWorkers(ctx context.Context) {
	go s.runPhaseDriver(ctx)
	go s.runReputationDecay(ctx)
}

// runPhaseDriver advances every live session against its deadlines and
// finalizes sessions that reach aggregation.
func (s *Server) runPhaseDriver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(phaseTick):
			s.driveSessions()
		}
	}
}

func (s *Server) driveSessions() {
	for _, id := range s.coord.SessionIDs() {
		if err := s.coord.AdvancePhase(id); err != nil {
			continue
		}
		phase, err := s.coord.Phase(id)
		if err != nil || phase != protocol.PhaseAggregating {
			continue
		}

		s.mu.Lock()
		done := s.finalized[id]
		if !done {
			s.finalized[id] = true
		}
		s.mu.Unlock()
		if done {
			continue
		}

		s.finalizeSession(id)
	}
}

// finalizeSession runs the full post-reveal pipeline: decode, timing
// uniformity, detection, penalty application, aggregation, publication.
func (s *Server) finalizeSession(sessionID string) {
	reveals, err := s.coord.RevealedResponses(sessionID)
	if err != nil {
		log.Printf("[worker] load reveals for %s: %v", sessionID, err)
		return
	}

	responses := make([]*fingerprint.AgentResponse, 0, len(reveals))
	for _, r := range reveals {
		resp, err := fingerprint.Decode(r.ResponseData, s.cfg.VectorDim)
		if err != nil {
			// The hash matched, so the agent committed to malformed data.
			// Excluded from aggregation but not an integrity violation.
			log.Printf("[worker] undecodable reveal from %s in %s: %v", r.AgentID, sessionID, err)
			continue
		}
		responses = append(responses, resp)
	}

	for _, a := range s.guard.CheckUniformity(sessionID) {
		s.manager.RecordTiming(a)
	}
	s.manager.Evaluate(sessionID, responses)

	if !s.cfg.EnableInstantPenalty {
		if n := s.manager.ApplyPending(); n > 0 {
			log.Printf("[worker] applied %d deferred penalties for %s", n, sessionID)
		}
	}

	// Only fabricated identities and broken commitment bindings eject a
	// response from aggregation. Collusion, timing and spectral findings
	// penalize reputation but the response still counts; the aggregator's
	// similarity partition handles genuine outliers.
	evidence := s.manager.SessionEvidence(sessionID)
	implicated := make(map[string]bool)
	for _, ev := range evidence {
		if ev.Kind != defense.KindSybil && ev.Kind != defense.KindHashMismatch {
			continue
		}
		for _, agent := range ev.Agents() {
			implicated[agent] = true
		}
	}

	perturbation := s.interventionVector(sessionID)

	clean := responses[:0:0]
	for _, resp := range responses {
		if implicated[resp.AgentID] {
			continue
		}
		// Agents that declared a computation start were handed the session's
		// intervention vector and must echo it back; a response computed on
		// a different basis is not comparable.
		if _, started := s.guard.ElapsedSinceStart(sessionID, resp.AgentID); started && perturbation != nil {
			if len(resp.InterventionVector) != len(perturbation) ||
				fingerprint.EuclideanDistance(resp.InterventionVector, perturbation) > interventionTolerance {
				log.Printf("[worker] intervention mismatch from %s in %s", resp.AgentID, sessionID)
				continue
			}
		}
		clean = append(clean, resp)
	}

	result, err := s.aggregator.Aggregate(sessionID, clean, evidence)
	if err != nil {
		log.Printf("[worker] aggregation failed for %s: %v", sessionID, err)
		if err := s.coord.Fail(sessionID, protocol.ReasonAggregationFailed); err != nil {
			log.Printf("[worker] fail session %s: %v", sessionID, err)
		}
		s.guard.Forget(sessionID)
		return
	}

	// Publication is best effort. A consensus value is still a consensus
	// value if the database write fails.
	receipt, err := s.db.Publish(result)
	if err != nil {
		log.Printf("[worker] publish result for %s: %v", sessionID, err)
	} else {
		log.Printf("[worker] session %s completed: value=%.4f valid=%d outliers=%d receipt=%s",
			sessionID, result.ConsensusValue, len(result.ValidAgents), len(result.Outliers), receipt.ID)
	}

	if err := s.coord.Complete(sessionID); err != nil {
		log.Printf("[worker] complete session %s: %v", sessionID, err)
	}
	s.guard.Forget(sessionID)
}

// runReputationDecay applies the hourly decay factor to every tracked score.
func (s *Server) runReputationDecay(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Hour):
			if n := s.ledger.Decay(DecayFactor); n > 0 {
				log.Printf("[worker] decayed %d reputation scores", n)
			}
		}
	}
}
