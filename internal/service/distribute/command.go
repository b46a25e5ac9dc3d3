package distribute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/imgcast/internal/api/grpc/status"
	"github.com/oshokin/imgcast/internal/config"
	"github.com/oshokin/imgcast/internal/domain/transfer"
	"github.com/oshokin/imgcast/internal/inventory"
	"github.com/oshokin/imgcast/internal/logger"
	"github.com/oshokin/imgcast/internal/remote"
	"github.com/oshokin/imgcast/internal/service/coordinator"
	"github.com/oshokin/imgcast/internal/service/receiver"
	"github.com/oshokin/imgcast/internal/service/sender"
	"github.com/oshokin/imgcast/internal/service/session"
)

// Options holds the command line overrides. Zero values keep the settings file values.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// Source is the image file or directory to broadcast.
	Source string
	// Inventory overrides the inventory source.
	Inventory string
	// Group overrides the inventory group.
	Group string
	// PortBase overrides the UDP port base of the first job.
	PortBase int
	// Bandwidth overrides the sender bitrate ceiling.
	Bandwidth string
	// Compression overrides the codec; "none" disables it.
	Compression string
	// DestinationDir overrides the remote destination directory.
	DestinationDir string
	// LogDir overrides the local log directory.
	LogDir string
	// ConnectTimeout overrides the remote connect timeout.
	ConnectTimeout time.Duration
	// TransferTimeout overrides the sender timeout.
	TransferTimeout time.Duration
	// Quorum overrides the minimum number of running receivers.
	Quorum int
	// StatusAddress overrides the status endpoint listen address.
	StatusAddress string
	// DryRun logs commands instead of running them.
	DryRun bool
	// Verbose enables debug logging.
	Verbose bool
}

// ErrSessionFailed is returned when at least one job failed or the session halted.
var ErrSessionFailed = errors.New("broadcast session failed")

// Run executes one broadcast session and returns an error unless every job succeeded.
//
//nolint:funlen // Linear wiring of the session components.
func Run(ctx context.Context, opts *Options) error {
	// Load settings and apply command line overrides.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if err = applyOverrides(cfg, opts); err != nil {
		return err
	}

	// Configure logging before anything logs through the context.
	closeLog, err := setupLogger(cfg, opts.Verbose)
	if err != nil {
		return err
	}

	defer closeLog()

	ctx = logger.WithName(ctx, "imgcast")

	if cfg.DryRun {
		logger.Info(ctx, "Dry run: commands are logged, nothing is executed")
	}

	// Resolve the target group once per session.
	hosts, err := inventory.NewChain(cfg.Inventory).Resolve(ctx, cfg.Group)
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Resolved target hosts", "group", cfg.Group, "count", len(hosts))

	jobs, err := session.DiscoverJobs(opts.Source, cfg, hosts)
	if err != nil {
		return fmt.Errorf("discover images: %w", err)
	}

	client, err := remote.New(cfg)
	if err != nil {
		return fmt.Errorf("create remote client: %w", err)
	}

	if closer, ok := client.(io.Closer); ok {
		defer func() {
			_ = closer.Close()
		}()
	}

	var coordinatorOpts []coordinator.Option

	// Optional status endpoint for external monitors.
	if cfg.StatusAddress != "" {
		statusServer, stopStatus, err := startStatusServer(ctx, cfg.StatusAddress)
		if err != nil {
			return err
		}

		defer stopStatus()

		coordinatorOpts = append(coordinatorOpts, coordinator.WithObserver(statusServer))
	}

	jobCoordinator := coordinator.New(cfg, client, receiver.New(client, cfg), sender.New(cfg), coordinatorOpts...)

	summary := session.New(jobCoordinator, cfg).Run(ctx, jobs)

	logSummary(ctx, summary, len(jobs))

	if !summary.Succeeded() {
		if summary.Err != nil {
			return fmt.Errorf("%w: %w", ErrSessionFailed, summary.Err)
		}

		return fmt.Errorf("%w: %d of %d jobs failed", ErrSessionFailed, summary.FailedJobs, len(jobs))
	}

	return nil
}

// applyOverrides copies the set options into cfg and validates the result.
func applyOverrides(cfg *config.Config, opts *Options) error {
	overrideString(&cfg.Inventory, opts.Inventory)
	overrideString(&cfg.Group, opts.Group)
	overrideString(&cfg.Bandwidth, opts.Bandwidth)
	overrideString(&cfg.Compression, opts.Compression)
	overrideString(&cfg.DestinationDir, opts.DestinationDir)
	overrideString(&cfg.LogDir, opts.LogDir)
	overrideString(&cfg.StatusAddress, opts.StatusAddress)

	if opts.PortBase != 0 {
		cfg.PortBase = opts.PortBase
	}

	if opts.ConnectTimeout > 0 {
		cfg.ConnectTimeout = opts.ConnectTimeout
	}

	if opts.TransferTimeout > 0 {
		cfg.TransferTimeout = opts.TransferTimeout
	}

	if opts.Quorum != 0 {
		cfg.Quorum = opts.Quorum
	}

	cfg.DryRun = cfg.DryRun || opts.DryRun

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	return nil
}

// overrideString replaces value when override is set.
func overrideString(value *string, override string) {
	if override != "" {
		*value = override
	}
}

// setupLogger applies the verbosity and attaches the log file when a log directory is set.
func setupLogger(cfg *config.Config, verbose bool) (func(), error) {
	if verbose {
		logger.SetLevel(zap.DebugLevel)
	}

	if cfg.LogDir == "" {
		return func() {}, nil
	}

	fileLogger, path, closeFn, err := logger.NewWithFile(nil, cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	previous := logger.Logger()
	logger.SetLogger(fileLogger)
	logger.Logger().Debugw("Logging to file", "path", path)

	return func() {
		logger.SetLogger(previous)

		_ = closeFn()
	}, nil
}

// startStatusServer listens on address and serves the status endpoint in the background.
// The returned stop function shuts the server down and waits for it.
func startStatusServer(ctx context.Context, address string) (*status.Server, func(), error) {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", address, err)
	}

	server := status.NewServer()

	serveCtx, cancel := context.WithCancel(ctx)

	var g errgroup.Group

	g.Go(func() error {
		return server.Serve(serveCtx, lis)
	})

	stop := func() {
		cancel()

		if err := g.Wait(); err != nil {
			logger.WarnKV(ctx, "Status server failed", "error", err)
		}
	}

	return server, stop, nil
}

// logSummary prints the per-job outcome.
func logSummary(ctx context.Context, summary *transfer.Summary, total int) {
	for _, result := range summary.Results {
		kvs := []any{
			"file", result.Job.DestinationFilename,
			"port", result.Job.Port,
			"succeeded_hosts", len(result.SucceededHosts),
		}

		for host, err := range result.FailedHosts {
			logger.WarnKV(ctx, "Host failed", "file", result.Job.DestinationFilename, "host", host, "error", err)
		}

		for host, err := range result.ExcludedHosts {
			logger.WarnKV(ctx, "Host excluded", "file", result.Job.DestinationFilename, "host", host, "error", err)
		}

		if result.Succeeded() {
			logger.InfoKV(ctx, "Job succeeded", kvs...)
			continue
		}

		logger.ErrorKV(ctx, "Job failed", append(kvs, "error", result.Err)...)
	}

	logger.InfoKV(ctx, "Summary",
		"jobs", total,
		"attempted", len(summary.Results),
		"succeeded", summary.SucceededJobs,
		"failed", summary.FailedJobs,
		"halted", summary.Halted)
}
