package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oshokin/imgcast/internal/config"
	"github.com/oshokin/imgcast/internal/domain/transfer"
	"github.com/oshokin/imgcast/internal/logger"
	"github.com/oshokin/imgcast/internal/parallel"
	"github.com/oshokin/imgcast/internal/remote"
	"github.com/oshokin/imgcast/internal/service/receiver"
)

// Receivers manages the remote receivers of a job.
type Receivers interface {
	StartAll(ctx context.Context, hosts []transfer.Host, job *transfer.Job) map[transfer.Host]*transfer.ReceiverHandle
	StopAll(ctx context.Context, handles map[transfer.Host]*transfer.ReceiverHandle)
}

// Sender runs the local sender of a job.
type Sender interface {
	Send(ctx context.Context, job *transfer.Job, confirmed int) (*transfer.SendResult, error)
}

// Observer is notified about job progress. Calls are made from the coordinator goroutine.
type Observer interface {
	// PhaseChanged is called when a job enters a phase.
	PhaseChanged(job *transfer.Job, phase transfer.Phase)
	// JobFinished is called once with the final result.
	JobFinished(result *transfer.Result)
}

// Coordinator runs jobs one at a time.
type Coordinator struct {
	// client probes connectivity and remote file sizes.
	client remote.Client
	// receivers starts and stops receivers.
	receivers Receivers
	// sender runs the sender.
	sender Sender
	// observer is optional.
	observer Observer
	// quorum is the minimum number of running receivers.
	quorum int
	// senderSettleDelay is waited between quorum confirmation and the sender launch.
	senderSettleDelay time.Duration
	// cleanupTimeout bounds stopping every receiver.
	cleanupTimeout time.Duration
	// parallelism caps concurrent hosts.
	parallelism int
	// dryRun skips verification and delays.
	dryRun bool
	// sourceSize returns the size of a local file.
	sourceSize func(path string) (int64, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserver reports progress to observer.
func WithObserver(observer Observer) Option {
	return func(c *Coordinator) {
		c.observer = observer
	}
}

// New creates a coordinator from the configuration and its collaborators.
func New(cfg *config.Config, client remote.Client, receivers Receivers, sender Sender, opts ...Option) *Coordinator {
	c := &Coordinator{
		client:            client,
		receivers:         receivers,
		sender:            sender,
		quorum:            max(1, cfg.Quorum),
		senderSettleDelay: cfg.SenderSettleDelay,
		cleanupTimeout:    cfg.ConnectTimeout + cfg.CommandTimeout,
		parallelism:       cfg.Parallelism,
		dryRun:            cfg.DryRun,
		sourceSize:        fileSize,
	}

	if c.dryRun {
		c.senderSettleDelay = 0
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run drives job through every phase and returns its result.
// The job failure, if any, is in Result.Err.
func (c *Coordinator) Run(ctx context.Context, job *transfer.Job) *transfer.Result {
	ctx = logger.WithKV(logger.WithName(ctx, "coordinator"), "file", job.DestinationFilename, "port", job.Port)

	result := transfer.NewResult(job)
	result.DryRun = c.dryRun

	defer c.finish(ctx, result)

	// Resolving.
	c.enter(ctx, result, transfer.PhaseResolving)

	reachable := c.resolve(ctx, job, result)
	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	if len(reachable) == 0 {
		result.Err = fmt.Errorf("%w: none of %d target hosts answered", transfer.ErrNoReachableHosts, len(job.TargetHosts))
		return result
	}

	// StartingReceivers.
	c.enter(ctx, result, transfer.PhaseStartingReceivers)

	handles := c.receivers.StartAll(ctx, reachable, job)

	defer c.cleanup(ctx, result, handles)

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	for _, host := range reachable {
		if handle := handles[host]; !handle.IsRunning() {
			result.MarkFailed(host, handleError(handle))
		}
	}

	// AwaitingQuorum.
	c.enter(ctx, result, transfer.PhaseAwaitingQuorum)

	running := receiver.Running(handles)
	if len(running) < c.quorum {
		result.Err = fmt.Errorf("%w: %d of %d receivers running, quorum is %d",
			transfer.ErrPrecondition, len(running), len(reachable), c.quorum)

		return result
	}

	// Sending.
	c.enter(ctx, result, transfer.PhaseSending)

	if err := c.send(ctx, job, running, result); err != nil {
		result.Err = err

		for _, host := range running {
			result.MarkFailed(host, err)
		}

		return result
	}

	// Verifying.
	c.enter(ctx, result, transfer.PhaseVerifying)

	if err := c.verify(ctx, job, running, result); err != nil {
		result.Err = err
		return result
	}

	return result
}

// enter records phase and notifies the observer.
func (c *Coordinator) enter(ctx context.Context, result *transfer.Result, phase transfer.Phase) {
	if phase < transfer.PhaseCleaningUp {
		result.Phase = phase
	}

	logger.DebugKV(ctx, "Entering phase", "phase", phase.String())

	if c.observer != nil {
		c.observer.PhaseChanged(result.Job, phase)
	}
}

// resolve probes every target host and returns the reachable ones in target order.
func (c *Coordinator) resolve(ctx context.Context, job *transfer.Job, result *transfer.Result) []transfer.Host {
	probes := parallel.Map(ctx, c.parallelism, job.TargetHosts, func(ctx context.Context, host transfer.Host) error {
		res, err := c.client.Run(ctx, host, remote.Synchronous("true"))
		if err != nil {
			return err
		}

		if !res.Succeeded() {
			return transfer.NewHostError(host, fmt.Errorf("%w: probe exited with code %d", transfer.ErrConnect, res.ExitCode))
		}

		return nil
	})

	reachable := make([]transfer.Host, 0, len(job.TargetHosts))

	for i, host := range job.TargetHosts {
		if err := probes[i]; err != nil {
			logger.WarnKV(ctx, "Host unreachable, excluded from job", "host", host, "error", err)
			result.MarkExcluded(host, err)

			continue
		}

		reachable = append(reachable, host)
	}

	return reachable
}

// send waits for receivers to settle and runs the sender.
func (c *Coordinator) send(ctx context.Context, job *transfer.Job, running []transfer.Host, result *transfer.Result) error {
	if err := sleep(ctx, c.senderSettleDelay); err != nil {
		return err
	}

	sendResult, err := c.sender.Send(ctx, job, len(running))
	result.Send = sendResult

	return err
}

// verify compares the remote file size on every running host with the source size.
// Every host is checked; the job fails if any host does not match.
func (c *Coordinator) verify(ctx context.Context, job *transfer.Job, running []transfer.Host, result *transfer.Result) error {
	if c.dryRun {
		for _, host := range running {
			result.MarkSucceeded(host)
		}

		return nil
	}

	expected, err := c.sourceSize(job.SourcePath)
	if err != nil {
		err = fmt.Errorf("stat source: %w", err)

		for _, host := range running {
			result.MarkFailed(host, err)
		}

		return err
	}

	checks := parallel.Map(ctx, c.parallelism, running, func(ctx context.Context, host transfer.Host) error {
		return c.verifyHost(ctx, host, job.DestinationPath(), expected)
	})

	var failures []error

	for i, host := range running {
		if err := checks[i]; err != nil {
			logger.WarnKV(ctx, "Verification failed", "host", host, "error", err)
			result.MarkFailed(host, err)

			failures = append(failures, err)

			continue
		}

		result.MarkSucceeded(host)
	}

	if len(failures) > 0 {
		return fmt.Errorf("verification failed on %d of %d hosts: %w", len(failures), len(running), errors.Join(failures...))
	}

	result.Verified = true

	logger.InfoKV(ctx, "Verified", "hosts", len(running), "size", expected)

	return nil
}

// verifyHost compares the size of remotePath on host with expected.
func (c *Coordinator) verifyHost(ctx context.Context, host transfer.Host, remotePath string, expected int64) error {
	res, err := c.client.Run(ctx, host, remote.Synchronous("stat", "-c", "%s", remotePath))
	if err != nil {
		return err
	}

	if !res.Succeeded() {
		return transfer.NewHostError(host, fmt.Errorf("stat exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
	}

	actual, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return transfer.NewHostError(host, fmt.Errorf("parse remote size: %w", err))
	}

	if actual != expected {
		return transfer.NewHostError(host, fmt.Errorf("%w: remote size %d, local size %d",
			transfer.ErrVerificationMismatch, actual, expected))
	}

	return nil
}

// cleanup stops every receiver, even when ctx is already canceled.
func (c *Coordinator) cleanup(ctx context.Context, result *transfer.Result, handles map[transfer.Host]*transfer.ReceiverHandle) {
	c.enter(ctx, result, transfer.PhaseCleaningUp)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cleanupTimeout)
	defer cancel()

	c.receivers.StopAll(stopCtx, handles)
}

// finish closes the result and reports it.
func (c *Coordinator) finish(ctx context.Context, result *transfer.Result) {
	result.FinishedAt = time.Now()

	c.enter(ctx, result, transfer.PhaseDone)

	if result.Succeeded() {
		logger.InfoKV(ctx, "Job succeeded",
			"hosts", len(result.SucceededHosts),
			"failed", len(result.FailedHosts),
			"excluded", len(result.ExcludedHosts))
	} else {
		logger.ErrorKV(ctx, "Job failed", "phase", result.Phase.String(), "error", result.Err)
	}

	if c.observer != nil {
		c.observer.JobFinished(result)
	}
}

// handleError returns the failure reason of a handle that is not running.
func handleError(handle *transfer.ReceiverHandle) error {
	if handle == nil {
		return transfer.ErrReceiverStart
	}

	if handle.Err != nil {
		return handle.Err
	}

	return fmt.Errorf("%w: receiver is %s", transfer.ErrReceiverStart, handle.Status)
}

// fileSize returns the size of a local file.
func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	return info.Size(), nil
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
