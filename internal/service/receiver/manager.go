package receiver

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strconv"
	"time"

	"github.com/oshokin/imgcast/internal/config"
	"github.com/oshokin/imgcast/internal/domain/transfer"
	"github.com/oshokin/imgcast/internal/logger"
	"github.com/oshokin/imgcast/internal/parallel"
	"github.com/oshokin/imgcast/internal/remote"
)

// Receiver policy passed to every receiver.
const (
	// StatPeriod is the statistics interval in milliseconds.
	StatPeriod = 5000
	// StartTimeout is how long, in seconds, a receiver waits for the sender to appear.
	StartTimeout = 300
	// ReceiveTimeout is how long, in seconds, a receiver tolerates a silent sender mid-transfer.
	ReceiveTimeout = 120
)

const (
	// pgrepNoMatch is the pgrep/pkill exit status for "no process matched".
	pgrepNoMatch = 1
	// logFilePrefix names receiver log and capture files on targets.
	logFilePrefix = "imgcast-receiver-"
)

// stage names a step of the receiver start sequence.
type stage string

const (
	stageBinaryProbe stage = "binary probe"
	stageDirectory   stage = "create destination directory"
	stageLaunch      stage = "launch"
	stageLiveness    stage = "liveness probe"
)

// errBinaryMissing is returned when the receiver executable is not on the remote PATH.
var errBinaryMissing = errors.New("receiver binary not found")

// Manager owns the receiver lifecycle for one job at a time.
type Manager struct {
	// client runs commands on targets.
	client remote.Client
	// binary is the receiver executable on targets.
	binary string
	// iface is the broadcast network interface.
	iface string
	// remoteLogDir holds receiver logs and output captures on targets.
	remoteLogDir string
	// settleDelay is waited between the detached start and the liveness probe.
	settleDelay time.Duration
	// parallelism caps concurrent hosts; zero means unlimited.
	parallelism int
}

// New creates a manager from the configuration.
func New(client remote.Client, cfg *config.Config) *Manager {
	settleDelay := cfg.ReceiverSettleDelay
	if cfg.DryRun {
		settleDelay = 0
	}

	return &Manager{
		client:       client,
		binary:       cfg.ReceiverBinary,
		iface:        cfg.Interface,
		remoteLogDir: cfg.RemoteLogDir,
		settleDelay:  settleDelay,
		parallelism:  cfg.Parallelism,
	}
}

// StartAll starts a receiver for job on every host concurrently.
// The returned map holds one handle per host; only positively probed receivers are Running.
func (m *Manager) StartAll(ctx context.Context, hosts []transfer.Host, job *transfer.Job) map[transfer.Host]*transfer.ReceiverHandle {
	ctx = logger.WithName(ctx, "receiver")

	handles := parallel.Map(ctx, m.parallelism, hosts, func(ctx context.Context, host transfer.Host) *transfer.ReceiverHandle {
		return m.start(ctx, host, job)
	})

	result := make(map[transfer.Host]*transfer.ReceiverHandle, len(handles))
	for _, handle := range handles {
		result[handle.Host] = handle
	}

	return result
}

// StopAll sends a stop signal to every handle that is not already stopped.
// Failures are logged and otherwise ignored. Calling it again for the same handles does nothing.
func (m *Manager) StopAll(ctx context.Context, handles map[transfer.Host]*transfer.ReceiverHandle) {
	ctx = logger.WithName(ctx, "receiver")

	pending := make([]*transfer.ReceiverHandle, 0, len(handles))
	for _, handle := range handles {
		if handle.Status != transfer.ReceiverStopped {
			pending = append(pending, handle)
		}
	}

	slices.SortFunc(pending, func(a, b *transfer.ReceiverHandle) int {
		return cmp.Compare(a.Host, b.Host)
	})

	parallel.ForEach(ctx, m.parallelism, pending, func(ctx context.Context, handle *transfer.ReceiverHandle) {
		m.stop(ctx, handle)
	})
}

// Running returns the hosts whose receivers were confirmed running, sorted.
func Running(handles map[transfer.Host]*transfer.ReceiverHandle) []transfer.Host {
	hosts := make([]transfer.Host, 0, len(handles))

	for host, handle := range handles {
		if handle.IsRunning() {
			hosts = append(hosts, host)
		}
	}

	slices.Sort(hosts)

	return hosts
}

// Probe reports whether the receiver for port is running on host.
func (m *Manager) Probe(ctx context.Context, host transfer.Host, port int) (transfer.Liveness, error) {
	res, err := m.client.Run(ctx, host, remote.Synchronous("pgrep", "-f", m.processPattern(port)))
	if err != nil {
		return transfer.LivenessUnknown, err
	}

	switch res.ExitCode {
	case 0:
		return transfer.LivenessRunning, nil
	case pgrepNoMatch:
		return transfer.LivenessNotRunning, nil
	default:
		return transfer.LivenessUnknown, fmt.Errorf("pgrep exited with code %d", res.ExitCode)
	}
}

// start runs the start sequence for one host and never returns a nil handle.
func (m *Manager) start(ctx context.Context, host transfer.Host, job *transfer.Job) *transfer.ReceiverHandle {
	handle := &transfer.ReceiverHandle{
		Host:            host,
		DestinationPath: job.DestinationPath(),
		Port:            job.Port,
		Status:          transfer.ReceiverStarting,
	}

	fail := func(stage stage, err error) *transfer.ReceiverHandle {
		handle.Status = transfer.ReceiverFailed
		handle.Err = transfer.NewHostError(host, fmt.Errorf("%w: %s: %w", transfer.ErrReceiverStart, stage, err))

		logger.WarnKV(ctx, "Receiver start failed", "host", host, "stage", stage, "error", err)

		return handle
	}

	if err := m.runChecked(ctx, host, remote.Synchronous("command", "-v", m.binary), errBinaryMissing); err != nil {
		return fail(stageBinaryProbe, err)
	}

	// The remote shell opens the capture file before nohup starts.
	dirs := []string{"mkdir", "-p", job.DestinationDir}
	if m.remoteLogDir != job.DestinationDir {
		dirs = append(dirs, m.remoteLogDir)
	}

	if err := m.runChecked(ctx, host, remote.Synchronous(dirs...), nil); err != nil {
		return fail(stageDirectory, err)
	}

	launch := remote.Detached(m.captureFile(job.Port), m.args(job)...)
	if err := m.runChecked(ctx, host, launch, nil); err != nil {
		return fail(stageLaunch, err)
	}

	if err := sleep(ctx, m.settleDelay); err != nil {
		return fail(stageLiveness, err)
	}

	liveness, err := m.Probe(ctx, host, job.Port)
	if err != nil {
		return fail(stageLiveness, err)
	}

	if !liveness.Confirmed() {
		return fail(stageLiveness, fmt.Errorf("receiver is %s", liveness))
	}

	handle.Status = transfer.ReceiverRunning

	logger.DebugKV(ctx, "Receiver running", "host", host, "port", job.Port, "file", handle.DestinationPath)

	return handle
}

// stop signals one receiver and marks its handle stopped.
func (m *Manager) stop(ctx context.Context, handle *transfer.ReceiverHandle) {
	res, err := m.client.Run(ctx, handle.Host, remote.Synchronous("pkill", "-f", m.processPattern(handle.Port)))

	switch {
	case err != nil:
		logger.WarnKV(ctx, "Receiver stop failed", "host", handle.Host, "error", err)
	case res.ExitCode == pgrepNoMatch:
		logger.DebugKV(ctx, "Receiver already exited", "host", handle.Host)
	case !res.Succeeded():
		logger.WarnKV(ctx, "Receiver stop failed", "host", handle.Host, "exit_code", res.ExitCode)
	default:
		logger.DebugKV(ctx, "Receiver stopped", "host", handle.Host)
	}

	handle.Status = transfer.ReceiverStopped
}

// runChecked runs req and turns a non-zero exit into an error.
// exitErr replaces the generic exit error when set.
func (m *Manager) runChecked(ctx context.Context, host transfer.Host, req remote.Request, exitErr error) error {
	res, err := m.client.Run(ctx, host, req)
	if err != nil {
		return err
	}

	if res.Succeeded() {
		return nil
	}

	if exitErr != nil {
		return exitErr
	}

	return fmt.Errorf("exit code %d: %s", res.ExitCode, res.Stderr)
}

// args builds the receiver command line for job.
func (m *Manager) args(job *transfer.Job) []string {
	args := []string{
		m.binary,
		"--portbase", strconv.Itoa(job.Port),
		"--interface", m.iface,
		"--file", job.DestinationPath(),
		"--stat-period", strconv.Itoa(StatPeriod),
		"--start-timeout", strconv.Itoa(StartTimeout),
		"--receive-timeout", strconv.Itoa(ReceiveTimeout),
		"--sync",
	}

	if job.Compression.Enabled() {
		args = append(args, "--pipe", job.Compression.ReceiverPipe())
	}

	return append(args,
		"--log", path.Join(m.remoteLogDir, logFilePrefix+strconv.Itoa(job.Port)+".log"),
		"--nokbd",
	)
}

// captureFile is the remote file receiving the detached output.
func (m *Manager) captureFile(port int) string {
	return path.Join(m.remoteLogDir, logFilePrefix+strconv.Itoa(port)+".out")
}

// processPattern matches the receiver bound to port in a full command line.
// The first letter is bracketed so the pattern never matches the shell running pgrep.
// The port is followed by a space or the end of line so 1024 does not match 10240.
func (m *Manager) processPattern(port int) string {
	name := path.Base(m.binary)

	return "[" + name[:1] + "]" + name[1:] + ".*--portbase " + strconv.Itoa(port) + "( |$)"
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
