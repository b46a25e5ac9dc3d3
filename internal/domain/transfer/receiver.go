package transfer

// ReceiverStatus is the lifecycle state of a remote receiver process.
type ReceiverStatus int

const (
	// ReceiverStarting means a start attempt has been issued but not confirmed.
	ReceiverStarting ReceiverStatus = iota
	// ReceiverRunning means a liveness probe confirmed the remote process.
	ReceiverRunning
	// ReceiverFailed means the start attempt failed at some stage.
	ReceiverFailed
	// ReceiverStopped means a stop signal has been sent.
	ReceiverStopped
)

// String returns a readable status name.
func (s ReceiverStatus) String() string {
	switch s {
	case ReceiverStarting:
		return "starting"
	case ReceiverRunning:
		return "running"
	case ReceiverFailed:
		return "failed"
	case ReceiverStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Liveness is the outcome of a process-presence probe.
type Liveness int

const (
	// LivenessUnknown means the probe itself failed.
	LivenessUnknown Liveness = iota
	// LivenessRunning means the process was found.
	LivenessRunning
	// LivenessNotRunning means the probe succeeded and found no process.
	LivenessNotRunning
)

// String returns a readable liveness name.
func (l Liveness) String() string {
	switch l {
	case LivenessRunning:
		return "running"
	case LivenessNotRunning:
		return "not running"
	default:
		return "unknown"
	}
}

// Confirmed reports whether the probe positively found the process.
// Unknown is treated as not running.
func (l Liveness) Confirmed() bool {
	return l == LivenessRunning
}

// ReceiverHandle tracks one receiver process on one host.
type ReceiverHandle struct {
	// Host is where the receiver runs.
	Host Host
	// DestinationPath is the remote file the receiver writes.
	DestinationPath string
	// Port is the UDP port base the receiver listens on.
	Port int
	// Status is the current lifecycle state.
	Status ReceiverStatus
	// Err keeps the reason of a failed start.
	Err error
}

// Clone returns a copy of the handle.
func (h *ReceiverHandle) Clone() *ReceiverHandle {
	if h == nil {
		return nil
	}

	cloned := *h

	return &cloned
}

// IsRunning reports whether the receiver was confirmed running.
func (h *ReceiverHandle) IsRunning() bool {
	return h != nil && h.Status == ReceiverRunning
}
