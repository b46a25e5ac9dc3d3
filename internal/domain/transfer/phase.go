package transfer

// Phase is a state of the per-job transfer state machine.
type Phase int

const (
	// PhaseResolving checks which target hosts are reachable.
	PhaseResolving Phase = iota
	// PhaseStartingReceivers launches receivers on reachable hosts.
	PhaseStartingReceivers
	// PhaseAwaitingQuorum counts confirmed receivers.
	PhaseAwaitingQuorum
	// PhaseSending runs the sender.
	PhaseSending
	// PhaseVerifying compares remote file sizes with the source.
	PhaseVerifying
	// PhaseCleaningUp stops every receiver.
	PhaseCleaningUp
	// PhaseDone is terminal.
	PhaseDone
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseResolving:
		return "resolving"
	case PhaseStartingReceivers:
		return "starting-receivers"
	case PhaseAwaitingQuorum:
		return "awaiting-quorum"
	case PhaseSending:
		return "sending"
	case PhaseVerifying:
		return "verifying"
	case PhaseCleaningUp:
		return "cleaning-up"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}
