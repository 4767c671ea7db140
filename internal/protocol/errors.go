package protocol

import "errors"

// Per-call protocol errors. These are returned to the submitting agent and
// never affect other agents' ability to proceed.
var (
	ErrInvalidParticipants  = errors.New("session requires at least 2 participants")
	ErrInvalidTimeout       = errors.New("phase timeout must be positive")
	ErrUnknownSession       = errors.New("unknown session")
	ErrUnknownAgent         = errors.New("agent is not a session participant")
	ErrPhaseMismatch        = errors.New("operation not valid in current phase")
	ErrDuplicateCommitment  = errors.New("agent already committed")
	ErrDuplicateReveal      = errors.New("agent already revealed")
	ErrNoMatchingCommitment = errors.New("no commitment on file for agent")

	// ErrHashMismatch is the binding check of the whole scheme: the revealed
	// data and nonce must hash to the committed value. It must never be
	// bypassed or downgraded to a log line.
	ErrHashMismatch = errors.New("reveal does not match commitment hash")
)

// Session-fatal failure reasons, recorded on the session when it enters
// PhaseFailed.
const (
	ReasonInsufficientParticipation = "insufficient_participation"
	ReasonAggregationFailed         = "aggregation_failed"
)
