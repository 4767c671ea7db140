package protocol

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// Commitment binds an agent to a response before it is revealed. Immutable
// once stored; one per (session, agent).
type Commitment struct {
	AgentID        string   `json:"agent_id"`
	CommitmentHash [32]byte `json:"commitment_hash"`
	Timestamp      int64    `json:"timestamp"` // unix ms
	Nonce          [32]byte `json:"nonce"`
}

// Reveal is the disclosed response plus the nonce used in its commitment
// hash. Accepted only when ComputeCommitmentHash(ResponseData, Nonce) equals
// the stored commitment hash.
type Reveal struct {
	AgentID      string   `json:"agent_id"`
	ResponseData []byte   `json:"response_data"`
	Nonce        [32]byte `json:"nonce"`
	Timestamp    int64    `json:"timestamp"` // unix ms
}

// ComputeCommitmentHash returns SHA-256(data ‖ nonce).
func ComputeCommitmentHash(data []byte, nonce [32]byte) [32]byte {
	h := sha256.New()
	h.Write(data)
	h.Write(nonce[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// GenerateNonce returns 32 bytes from crypto/rand.
func GenerateNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// NewCommitment computes the commitment for response data under a fresh
// nonce. Agent-side helper; the coordinator only ever verifies.
func NewCommitment(agentID string, data []byte, ts int64) (Commitment, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return Commitment{}, err
	}
	return Commitment{
		AgentID:        agentID,
		CommitmentHash: ComputeCommitmentHash(data, nonce),
		Timestamp:      ts,
		Nonce:          nonce,
	}, nil
}
