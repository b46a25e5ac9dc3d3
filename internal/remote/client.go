package remote

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/alessio/shellescape"

	"github.com/oshokin/imgcast/internal/config"
	"github.com/oshokin/imgcast/internal/domain/transfer"
)

// Mode selects how a remote command is run.
type Mode int

const (
	// ModeSynchronous waits for the remote command to exit.
	ModeSynchronous Mode = iota
	// ModeDetached returns as soon as the command is started in the background.
	ModeDetached
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeDetached {
		return "detached"
	}

	return "synchronous"
}

// Request is one remote command.
type Request struct {
	// Command is a shell command line, already quoted.
	Command string
	// Mode selects synchronous or detached execution.
	Mode Mode
	// CaptureFile receives the output of a detached command on the remote host.
	CaptureFile string
}

// Result is the outcome of a remote command that ran.
type Result struct {
	// ExitCode is the remote exit status. Detached requests report the launch status.
	ExitCode int
	// Stdout is the captured standard output of a synchronous command.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
}

// Succeeded reports a zero exit status.
func (r *Result) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}

// Client runs commands on remote hosts.
type Client interface {
	Run(ctx context.Context, host transfer.Host, req Request) (*Result, error)
}

// defaultCaptureFile is used when a detached request names no capture file.
const defaultCaptureFile = "/dev/null"

// Synchronous builds a request that waits for the command.
func Synchronous(args ...string) Request {
	return Request{
		Command: Quote(args...),
		Mode:    ModeSynchronous,
	}
}

// Detached builds a request that starts the command in the background.
func Detached(captureFile string, args ...string) Request {
	return Request{
		Command:     Quote(args...),
		Mode:        ModeDetached,
		CaptureFile: captureFile,
	}
}

// Quote joins args into a shell-safe command line.
func Quote(args ...string) string {
	return shellescape.QuoteCommand(args)
}

// CommandLine returns the shell line actually sent to the host for req.
// Detached commands are wrapped in nohup with stdin closed and output
// redirected, so the remote shell returns immediately.
func CommandLine(req Request) string {
	if req.Mode != ModeDetached {
		return req.Command
	}

	capture := req.CaptureFile
	if capture == "" {
		capture = defaultCaptureFile
	}

	return fmt.Sprintf(
		"nohup sh -c %s > %s 2>&1 < /dev/null &",
		shellescape.Quote(req.Command),
		shellescape.Quote(capture),
	)
}

// New creates the client selected by the configuration.
//
//nolint:ireturn // Callers depend on the interface to swap backends.
func New(cfg *config.Config) (Client, error) {
	if cfg.DryRun {
		return NewDryRunClient(), nil
	}

	switch cfg.SSH.Backend {
	case config.BackendNative:
		return NewNativeClient(cfg)
	default:
		return NewOpenSSHClient(cfg), nil
	}
}

// callTimeout is the overall deadline of one request: connecting plus running.
// Detached requests only need to be acknowledged, so they share the same bound.
func callTimeout(connect, command time.Duration) time.Duration {
	return connect + command
}

// timeoutSeconds renders a duration as whole seconds, rounded up, at least 1.
func timeoutSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

// classifyContextError maps an expired call deadline to ErrTimeout.
// It returns nil when the context is still alive.
func classifyContextError(parent, call context.Context, host transfer.Host) error {
	if call.Err() == nil {
		return nil
	}

	if parent.Err() != nil {
		return transfer.NewHostError(host, parent.Err())
	}

	return transfer.NewHostError(host, transfer.ErrTimeout)
}
