package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arbiterlabs/arbiter/internal/identity"
	"github.com/arbiterlabs/arbiter/internal/protocol"
)

// GatewayMessage is the JSON message format for agent WebSocket communication.
type GatewayMessage struct {
	Type    string          `json:"type"` // "register", "start", "commit", "reveal", "disconnect"
	Payload json.RawMessage `json:"payload"`
}

// GatewayResponse is a JSON response sent back to the agent.
type GatewayResponse struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// RegisterPayload is the payload for a "register" message. The signature
// proves possession of the key behind the agent ID; the network origin is
// taken from the connection, not the payload.
type RegisterPayload struct {
	AgentID   string `json:"agent_id"`
	PublicKey []byte `json:"public_key"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// StartPayload marks the beginning of an agent's computation for a session.
type StartPayload struct {
	SessionID string `json:"session_id"`
}

// CommitPayload carries a commitment hash and its nonce, both hex encoded.
type CommitPayload struct {
	SessionID      string `json:"session_id"`
	CommitmentHash string `json:"commitment_hash"`
	Nonce          string `json:"nonce"`
}

// RevealPayload carries the exact bytes the commitment hash covers. Response
// stays a RawMessage so re-encoding cannot perturb the hashed bytes.
type RevealPayload struct {
	SessionID string          `json:"session_id"`
	Response  json.RawMessage `json:"response"`
	Nonce     string          `json:"nonce"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleGateway upgrades the connection and processes agent messages until
// disconnect. One goroutine per agent connection.
func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	origin := remoteHost(r)
	var agentID string

	for {
		var msg GatewayMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[gateway] websocket read error: %v", err)
			}
			return
		}

		if agentID != "" && !s.limiter.Allow(agentID) {
			writeGatewayError(conn, "rate_limited")
			continue
		}

		switch msg.Type {
		case "register":
			var payload RegisterPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				writeGatewayError(conn, "invalid register payload")
				continue
			}
			if err := identity.VerifyRegistration(payload.AgentID, payload.Timestamp, payload.Signature, payload.PublicKey); err != nil {
				writeGatewayError(conn, err.Error())
				continue
			}
			agentID = payload.AgentID
			s.manager.RegisterOrigin(agentID, origin)
			if !replyGateway(conn, "registered", map[string]string{"agent_id": agentID, "origin": origin}) {
				return
			}

		case "start":
			if agentID == "" {
				writeGatewayError(conn, "not registered")
				continue
			}
			var payload StartPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				writeGatewayError(conn, "invalid start payload")
				continue
			}
			if err := s.guard.RecordStart(payload.SessionID, agentID); err != nil {
				writeGatewayError(conn, err.Error())
				continue
			}
			// The agent computes on this session's intervention vector and
			// must echo it in its revealed response.
			if !replyGateway(conn, "start_ack", map[string]any{
				"session_id":          payload.SessionID,
				"intervention_vector": s.interventionVector(payload.SessionID),
			}) {
				return
			}

		case "commit":
			if agentID == "" {
				writeGatewayError(conn, "not registered")
				continue
			}
			var payload CommitPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				writeGatewayError(conn, "invalid commit payload")
				continue
			}
			if err := s.submitCommitment(agentID, payload); err != nil {
				writeGatewayError(conn, statusForError(err))
				continue
			}
			if !replyGateway(conn, "committed", map[string]string{"session_id": payload.SessionID}) {
				return
			}

		case "reveal":
			if agentID == "" {
				writeGatewayError(conn, "not registered")
				continue
			}
			var payload RevealPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				writeGatewayError(conn, "invalid reveal payload")
				continue
			}
			if err := s.submitReveal(agentID, payload); err != nil {
				writeGatewayError(conn, statusForError(err))
				continue
			}
			if !replyGateway(conn, "revealed", map[string]string{"session_id": payload.SessionID}) {
				return
			}

		case "disconnect":
			_ = conn.WriteJSON(GatewayResponse{
				Type:    "disconnected",
				Payload: map[string]string{"status": "ok"},
			})
			if agentID != "" {
				s.limiter.Forget(agentID)
			}
			return

		default:
			writeGatewayError(conn, fmt.Sprintf("unknown message type %q", msg.Type))
		}
	}
}

func (s *Server) submitCommitment(agentID string, payload CommitPayload) error {
	hash, err := parseHex32(payload.CommitmentHash)
	if err != nil {
		return fmt.Errorf("commitment hash: %w", err)
	}
	nonce, err := parseHex32(payload.Nonce)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	return s.coord.SubmitCommitment(payload.SessionID, protocol.Commitment{
		AgentID:        agentID,
		CommitmentHash: hash,
		Nonce:          nonce,
		Timestamp:      time.Now().UnixMilli(),
	})
}

func (s *Server) submitReveal(agentID string, payload RevealPayload) error {
	nonce, err := parseHex32(payload.Nonce)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}

	err = s.coord.SubmitReveal(payload.SessionID, protocol.Reveal{
		AgentID:      agentID,
		ResponseData: []byte(payload.Response),
		Nonce:        nonce,
		Timestamp:    time.Now().UnixMilli(),
	})
	if err != nil {
		if statusForError(err) == "hash_mismatch" {
			ev := s.manager.RecordHashMismatch(payload.SessionID, agentID)
			log.Printf("[gateway] hash mismatch from %s in session %s (evidence %s)",
				agentID, payload.SessionID, ev.ID)
		}
		return err
	}

	// Timing is observed only for accepted reveals. A rejected reveal never
	// reaches aggregation, so its timing is noise.
	if elapsed, ok := s.guard.ElapsedSinceStart(payload.SessionID, agentID); ok {
		if a := s.guard.RecordDuration(payload.SessionID, agentID, elapsed); a != nil {
			s.manager.RecordTiming(*a)
		}
		if ev := s.manager.ObserveResponseTime(payload.SessionID, agentID, elapsed); ev != nil {
			log.Printf("[gateway] timing outlier from %s in session %s (evidence %s)",
				agentID, payload.SessionID, ev.ID)
		}
	}
	return nil
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseHex32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func replyGateway(conn *websocket.Conn, msgType string, payload interface{}) bool {
	if err := conn.WriteJSON(GatewayResponse{Type: msgType, Payload: payload}); err != nil {
		log.Printf("[gateway] websocket write error: %v", err)
		return false
	}
	return true
}

func writeGatewayError(conn *websocket.Conn, msg string) {
	_ = conn.WriteJSON(GatewayResponse{
		Type:    "error",
		Payload: map[string]string{"error": msg},
	})
}
