package sender

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/alessio/shellescape"
	"github.com/mitchellh/go-ps"

	"github.com/oshokin/imgcast/internal/config"
	"github.com/oshokin/imgcast/internal/domain/transfer"
	"github.com/oshokin/imgcast/internal/executor"
	"github.com/oshokin/imgcast/internal/logger"
)

// Sender policy tuned for a gigabit link with headroom.
const (
	// MinWait is the minimum time, in seconds, to wait for receivers after the quorum is met.
	MinWait = 10
	// MaxWait is the maximum time, in seconds, to wait for receivers before starting.
	MaxWait = 60
	// RetriesUntilDrop is how many retransmissions a silent receiver gets before it is dropped.
	RetriesUntilDrop = 30
	// SliceSize is the number of blocks per slice.
	SliceSize = 112
)

const (
	// logFilePrefix names sender log and output files.
	logFilePrefix = "imgcast-sender-"
	// commMaxLength is the length Linux truncates process names to.
	commMaxLength = 15
)

// ProcessLister returns the local process table.
type ProcessLister func() ([]ps.Process, error)

// Controller launches the sender process.
type Controller struct {
	// runner starts local processes.
	runner executor.Runner
	// processes lists local processes for the busy check.
	processes ProcessLister
	// binary is the sender executable.
	binary string
	// iface is the broadcast network interface.
	iface string
	// bandwidth is the bitrate ceiling.
	bandwidth string
	// logDir receives the sender log and output; empty uses the temp directory.
	logDir string
	// transferTimeout bounds one sender run.
	transferTimeout time.Duration
	// dryRun logs the command instead of running it.
	dryRun bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithRunner replaces the process runner.
func WithRunner(runner executor.Runner) Option {
	return func(c *Controller) {
		c.runner = runner
	}
}

// WithProcessLister replaces the process table source.
func WithProcessLister(lister ProcessLister) Option {
	return func(c *Controller) {
		c.processes = lister
	}
}

// New creates a controller from the configuration.
func New(cfg *config.Config, opts ...Option) *Controller {
	c := &Controller{
		runner:          executor.New(),
		processes:       ps.Processes,
		binary:          cfg.SenderBinary,
		iface:           cfg.Interface,
		bandwidth:       cfg.Bandwidth,
		logDir:          cfg.LogDir,
		transferTimeout: cfg.TransferTimeout,
		dryRun:          cfg.DryRun,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Send runs exactly one sender for job, waiting for confirmed receivers.
// It fails with ErrPrecondition before anything runs when no receiver is confirmed.
//
//nolint:funlen // Sequential launch steps read better together.
func (c *Controller) Send(ctx context.Context, job *transfer.Job, confirmed int) (*transfer.SendResult, error) {
	ctx = logger.WithName(ctx, "sender")

	if confirmed < 1 {
		return nil, fmt.Errorf("%w: %d confirmed receivers", transfer.ErrPrecondition, confirmed)
	}

	args := c.Args(job, confirmed)

	if c.dryRun {
		logger.InfoKV(ctx, "[dry-run] Sender command", "command", shellescape.QuoteCommand(append([]string{c.binary}, args...)))

		return &transfer.SendResult{DryRun: true}, nil
	}

	if err := c.checkNotBusy(ctx); err != nil {
		return nil, err
	}

	var runOpts []executor.Option

	output, closeOutput, err := c.openOutput(job.Port)
	if err != nil {
		logger.WarnKV(ctx, "Sender output file unavailable", "error", err)
	} else {
		defer closeOutput()

		runOpts = append(runOpts, executor.WithOutput(output))
	}

	runCtx, cancel := context.WithTimeout(ctx, c.transferTimeout)
	defer cancel()

	logger.InfoKV(ctx, "Starting sender", "job", job.String(), "min_receivers", confirmed, "bandwidth", c.bandwidth)

	startedAt := time.Now()
	res, err := c.runner.Run(runCtx, c.binary, args, runOpts...)

	result := &transfer.SendResult{
		Duration: time.Since(startedAt),
		ExitCode: -1,
	}

	if res != nil {
		result.ExitCode = res.ExitCode
	}

	switch {
	case ctx.Err() != nil:
		return result, fmt.Errorf("%w: %w", transfer.ErrSendFailed, ctx.Err())
	case runCtx.Err() != nil:
		return result, fmt.Errorf("%w: %w after %s", transfer.ErrSendFailed, transfer.ErrTimeout, c.transferTimeout)
	case err != nil:
		return result, fmt.Errorf("%w: exit code %d: %w", transfer.ErrSendFailed, result.ExitCode, err)
	}

	result.ExitCode = 0

	logger.InfoKV(ctx, "Sender finished", "duration", result.Duration.String())

	return result, nil
}

// Args builds the sender arguments for job.
func (c *Controller) Args(job *transfer.Job, confirmed int) []string {
	args := []string{
		"--file", job.SourcePath,
		"--portbase", strconv.Itoa(job.Port),
		"--interface", c.iface,
		"--full-duplex",
		"--max-bitrate", c.bandwidth,
		"--min-receivers", strconv.Itoa(confirmed),
		"--min-wait", strconv.Itoa(MinWait),
		"--max-wait", strconv.Itoa(MaxWait),
		"--retries-until-drop", strconv.Itoa(RetriesUntilDrop),
		"--slice-size", strconv.Itoa(SliceSize),
	}

	if job.Compression.Enabled() {
		args = append(args, "--pipe", job.Compression.SenderPipe())
	}

	return append(args,
		"--log", filepath.Join(c.dir(), logFilePrefix+strconv.Itoa(job.Port)+".log"),
		"--nokbd",
	)
}

// checkNotBusy refuses to start while another sender runs locally.
func (c *Controller) checkNotBusy(ctx context.Context) error {
	processList, err := c.processes()
	if err != nil {
		logger.WarnKV(ctx, "Sender busy check skipped", "error", err)
		return nil
	}

	name := path.Base(c.binary)
	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if matchesExecutable(process.Executable(), name) {
			return fmt.Errorf("%w: %s (pid %d)", transfer.ErrSenderBusy, name, process.Pid())
		}
	}

	return nil
}

// openOutput creates the file the sender output is copied to.
func (c *Controller) openOutput(port int) (*os.File, func(), error) {
	dir := c.dir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, nil, err
	}

	file, err := os.Create(filepath.Join(dir, logFilePrefix+strconv.Itoa(port)+".out"))
	if err != nil {
		return nil, nil, err
	}

	return file, func() {
		_ = file.Close()
	}, nil
}

// dir returns the local log directory.
func (c *Controller) dir() string {
	if c.logDir == "" {
		return os.TempDir()
	}

	return c.logDir
}

// matchesExecutable compares a process name with the sender name.
// Linux reports at most 15 characters of the name.
func matchesExecutable(processName, name string) bool {
	if processName == name {
		return true
	}

	return len(name) > commMaxLength && processName == name[:commMaxLength]
}
