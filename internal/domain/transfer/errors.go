package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrResolution is returned when an inventory group is missing or has no members.
	ErrResolution = errors.New("host resolution failed")
	// ErrConnect is returned when a remote host cannot be reached.
	ErrConnect = errors.New("connect failed")
	// ErrTimeout is returned when a remote or local operation exceeds its deadline.
	ErrTimeout = errors.New("operation timed out")
	// ErrNoReachableHosts is returned when every target host of a job is unreachable.
	ErrNoReachableHosts = errors.New("no reachable hosts")
	// ErrReceiverStart is returned when a receiver could not be started on a host.
	ErrReceiverStart = errors.New("receiver start failed")
	// ErrPrecondition is returned when the sender quorum is not satisfied.
	ErrPrecondition = errors.New("precondition failed")
	// ErrSenderBusy is returned when another sender process is already running locally.
	ErrSenderBusy = errors.New("sender already running")
	// ErrSendFailed is returned when the sender process exits with a non-zero code.
	ErrSendFailed = errors.New("send failed")
	// ErrVerificationMismatch is returned when a remote file size differs from the source.
	ErrVerificationMismatch = errors.New("verification mismatch")
)

// HostError attaches the failing host to an error.
type HostError struct {
	// Host is the target the error belongs to.
	Host Host
	// Err is the underlying cause.
	Err error
}

// NewHostError wraps err with the host it happened on.
func NewHostError(host Host, err error) error {
	if err == nil {
		return nil
	}

	return &HostError{
		Host: host,
		Err:  err,
	}
}

// Error implements the error interface.
func (e *HostError) Error() string {
	return fmt.Sprintf("%s: %v", e.Host, e.Err)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *HostError) Unwrap() error {
	return e.Err
}
