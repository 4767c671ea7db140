// Package identity provides Ed25519-based agent identification and
// registration proof for the arbiter gateway.
package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"
)

// TimestampWindow is the maximum age of a registration proof before it is
// rejected.
const TimestampWindow = 5 * time.Minute

// AgentIDFromPublicKey returns the first 8 bytes of a public key encoded as
// 16-character lowercase hexadecimal. This serves as the agent's short
// identifier throughout a session.
func AgentIDFromPublicKey(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub[:8])
}

// SignRegistration produces a hex-encoded signature proving possession of the
// private key behind an agent ID. The signature covers:
//
//	agentID + timestamp
func SignRegistration(agentID string, ts int64, priv ed25519.PrivateKey) string {
	msg := agentID + strconv.FormatInt(ts, 10)
	return hex.EncodeToString(ed25519.Sign(priv, []byte(msg)))
}

// VerifyRegistration checks that:
//  1. The agent ID is actually derived from the public key.
//  2. The timestamp is within TimestampWindow of the current time.
//  3. The Ed25519 signature is valid for the reconstructed message.
//
// Returns a descriptive error on failure.
func VerifyRegistration(agentID string, ts int64, sigHex string, pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key length %d", len(pub))
	}
	if derived := AgentIDFromPublicKey(pub); derived != agentID {
		return fmt.Errorf("agent id %q does not match public key (expected %q)", agentID, derived)
	}

	diff := math.Abs(float64(time.Now().Unix() - ts))
	if diff > TimestampWindow.Seconds() {
		return fmt.Errorf("timestamp expired: %.0fs drift exceeds %v window", diff, TimestampWindow)
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}

	msg := agentID + strconv.FormatInt(ts, 10)
	if !ed25519.Verify(pub, []byte(msg), sig) {
		return fmt.Errorf("ed25519 signature verification failed")
	}

	return nil
}
