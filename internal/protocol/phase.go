package protocol

// Phase is the lifecycle stage of a consensus session. Sessions only ever
// move forward; Completed and Failed are terminal.
type Phase int

const (
	PhasePending Phase = iota
	PhaseCommitting
	PhaseRevealing
	PhaseAggregating
	PhaseCompleted
	PhaseFailed
)

// String returns the lowercase wire name of the phase.
func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseCommitting:
		return "committing"
	case PhaseRevealing:
		return "revealing"
	case PhaseAggregating:
		return "aggregating"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are allowed from p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}
