// Package server exposes the arbiter HTTP API and the agent WebSocket
// gateway, and runs the background workers that drive sessions to
// completion.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arbiterlabs/arbiter/internal/aggregate"
	"github.com/arbiterlabs/arbiter/internal/config"
	"github.com/arbiterlabs/arbiter/internal/defense"
	"github.com/arbiterlabs/arbiter/internal/fingerprint"
	"github.com/arbiterlabs/arbiter/internal/guard"
	"github.com/arbiterlabs/arbiter/internal/protocol"
	"github.com/arbiterlabs/arbiter/internal/ratelimit"
	"github.com/arbiterlabs/arbiter/internal/reputation"
	"github.com/arbiterlabs/arbiter/internal/storage"
)

// Server owns one coordinator, one defense manager, and one reputation
// ledger. All sessions share them.
type Server struct {
	cfg        *config.Config
	db         *storage.DB
	coord      *protocol.Coordinator
	guard      *guard.Guard
	manager    *defense.Manager
	aggregator *aggregate.Aggregator
	ledger     *reputation.Ledger
	limiter    *ratelimit.PerAgent
	router     chi.Router

	mu            sync.Mutex
	finalized     map[string]bool
	perturbations map[string][]float64 // session -> intervention vector
}

// perturbationMagnitude bounds each component of a session's intervention
// vector.
const perturbationMagnitude = 0.5

// New wires the full pipeline and registers all routes.
func New(cfg *config.Config, db *storage.DB) (*Server, error) {
	ledger := reputation.NewLedger(db)

	// Restore the durable reputation view so restarts do not reset credit.
	scores, err := db.ListScores()
	if err != nil {
		return nil, err
	}
	for _, s := range scores {
		ledger.Seed(s)
	}

	manager, err := defense.NewManager(cfg.Defense(), ledger)
	if err != nil {
		return nil, err
	}

	aggregator := aggregate.New(ledger, cfg.ConsensusSimilarityThreshold,
		aggregate.Method(cfg.AggregationMethod))

	s := &Server{
		cfg:           cfg,
		db:            db,
		coord:         protocol.NewCoordinator(protocol.DefaultQuorumFraction),
		guard:         guard.New(guard.DefaultMinPlausibleMS, guard.DefaultCVFloor),
		manager:       manager,
		aggregator:    aggregator,
		ledger:        ledger,
		limiter:       ratelimit.NewPerAgent(cfg.GatewayRateLimit, time.Minute),
		finalized:     make(map[string]bool),
		perturbations: make(map[string][]float64),
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleStartSession)
		r.Get("/", s.handleListSessions)
		r.Get("/{id}", s.handleSessionStatus)
		r.Get("/{id}/result", s.handleSessionResult)
		r.Get("/{id}/evidence", s.handleSessionEvidence)
	})

	r.Route("/api/reputation", func(r chi.Router) {
		r.Get("/", s.handleListReputation)
		r.Get("/{agent}", s.handleAgentReputation)
	})

	r.Get("/api/malicious", s.handleMaliciousAgents)

	r.Get("/ws", s.handleGateway)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "arbiter",
	})
}

type startSessionRequest struct {
	Participants    []string `json:"participants"`
	CommitTimeoutMS int64    `json:"commit_timeout_ms,omitempty"`
	RevealTimeoutMS int64    `json:"reveal_timeout_ms,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	commitMS := req.CommitTimeoutMS
	if commitMS == 0 {
		commitMS = s.cfg.CommitTimeoutMS
	}
	revealMS := req.RevealTimeoutMS
	if revealMS == 0 {
		revealMS = s.cfg.RevealTimeoutMS
	}

	id, err := s.coord.StartSession(req.Participants,
		time.Duration(commitMS)*time.Millisecond,
		time.Duration(revealMS)*time.Millisecond)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Each session probes the agents with a fresh intervention vector. It is
	// handed out to participants when they declare computation start and
	// published here only after the commit phase closes.
	vec, err := fingerprint.GeneratePerturbation(s.cfg.VectorDim, perturbationMagnitude)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate perturbation failed")
		return
	}
	s.mu.Lock()
	s.perturbations[id] = vec
	s.mu.Unlock()

	status, _ := s.coord.Status(id)
	writeJSON(w, http.StatusCreated, status)
}

// sessionView is a Status plus the session's intervention vector, disclosed
// once commitments can no longer be changed.
type sessionView struct {
	protocol.Status
	InterventionVector []float64 `json:"intervention_vector,omitempty"`
}

func (s *Server) viewOf(status protocol.Status) sessionView {
	view := sessionView{Status: status}
	if status.Phase != protocol.PhasePending.String() && status.Phase != protocol.PhaseCommitting.String() {
		s.mu.Lock()
		view.InterventionVector = s.perturbations[status.SessionID]
		s.mu.Unlock()
	}
	return view
}

// interventionVector returns the session's perturbation for gateway
// disclosure at computation start.
func (s *Server) interventionVector(sessionID string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perturbations[sessionID]
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.coord.SessionIDs()
	statuses := make([]sessionView, 0, len(ids))
	for _, id := range ids {
		if status, err := s.coord.Status(id); err == nil {
			statuses = append(statuses, s.viewOf(status))
		}
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.coord.Status(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(status))
}

func (s *Server) handleSessionResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.db.GetResult(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load result failed")
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "no result for session")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSessionEvidence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, s.manager.SessionEvidence(id))
}

func (s *Server) handleListReputation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.All())
}

func (s *Server) handleAgentReputation(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "agent")
	score, ok := s.ledger.Get(agent)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleMaliciousAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.MaliciousAgents())
}

// statusForError maps protocol sentinels onto HTTP-ish error strings for the
// gateway. The mapping is deliberately coarse; agents key on the string.
func statusForError(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownSession):
		return "unknown_session"
	case errors.Is(err, protocol.ErrUnknownAgent):
		return "unknown_agent"
	case errors.Is(err, protocol.ErrPhaseMismatch):
		return "phase_mismatch"
	case errors.Is(err, protocol.ErrDuplicateCommitment), errors.Is(err, protocol.ErrDuplicateReveal):
		return "duplicate_submission"
	case errors.Is(err, protocol.ErrNoMatchingCommitment):
		return "no_matching_commitment"
	case errors.Is(err, protocol.ErrHashMismatch):
		return "hash_mismatch"
	default:
		return "internal_error"
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
