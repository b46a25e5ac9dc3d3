package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/imgcast/internal/config"
	"github.com/oshokin/imgcast/internal/domain/transfer"
	"github.com/oshokin/imgcast/internal/logger"
	"github.com/oshokin/imgcast/internal/repository/report"
)

// PortStride is the distance between the port bases of consecutive jobs.
// Sender and receivers use a pair of ports starting at the base.
const PortStride = 2

// maxPortBase is the highest base that still leaves room for the port pair.
const maxPortBase = 65534

// errPortRange is returned when a job port base would leave the UDP port range.
var errPortRange = errors.New("job port out of range")

// JobRunner runs one job to completion.
type JobRunner interface {
	Run(ctx context.Context, job *transfer.Job) *transfer.Result
}

// Session runs jobs strictly one after another.
type Session struct {
	// runner executes a single job.
	runner JobRunner
	// portBase is the port base of the first job.
	portBase int
	// jobPause separates consecutive jobs.
	jobPause time.Duration
	// reports stores the session report; nil disables it.
	reports report.Repository
	// dryRun is recorded in the report.
	dryRun bool
}

// New creates a session from the configuration.
func New(runner JobRunner, cfg *config.Config) *Session {
	jobPause := cfg.JobPause
	if cfg.DryRun {
		jobPause = 0
	}

	var reports report.Repository
	if cfg.LogDir != "" {
		reports = report.NewFileRepository(cfg.LogDir)
	}

	return &Session{
		runner:   runner,
		portBase: cfg.PortBase,
		jobPause: jobPause,
		reports:  reports,
		dryRun:   cfg.DryRun,
	}
}

// Run executes jobs in order. Job i uses port base + i*PortStride.
// The session halts when a job has no reachable hosts or ctx is canceled;
// other job failures do not stop the remaining jobs.
func (s *Session) Run(ctx context.Context, jobs []*transfer.Job) *transfer.Summary {
	ctx = logger.WithName(ctx, "session")

	startedAt := time.Now()
	summary := new(transfer.Summary)

	for i, job := range jobs {
		if i > 0 {
			if err := sleep(ctx, s.jobPause); err != nil {
				summary.Halt(err)
				break
			}
		}

		port := s.portBase + i*PortStride
		if port > maxPortBase {
			summary.Halt(fmt.Errorf("%w: job %d needs port %d", errPortRange, i+1, port))
			break
		}

		job = job.WithPort(port)

		logger.InfoKV(ctx, "Starting job", "index", i+1, "total", len(jobs), "job", job.String())

		result := s.runner.Run(ctx, job)
		summary.Add(result)

		if errors.Is(result.Err, transfer.ErrNoReachableHosts) {
			summary.Halt(result.Err)
			break
		}

		if err := ctx.Err(); err != nil {
			summary.Halt(err)
			break
		}
	}

	if summary.Halted {
		logger.ErrorKV(ctx, "Session halted",
			"attempted", len(summary.Results),
			"skipped", len(jobs)-len(summary.Results),
			"error", summary.Err)
	}

	logger.InfoKV(ctx, "Session finished",
		"succeeded_jobs", summary.SucceededJobs,
		"failed_jobs", summary.FailedJobs)

	if s.reports != nil {
		s.saveReport(ctx, summary, startedAt)
	}

	return summary
}

// saveReport persists the summary; failures are only logged.
func (s *Session) saveReport(ctx context.Context, summary *transfer.Summary, startedAt time.Time) {
	sessionReport := report.New(summary, startedAt, time.Now(), s.dryRun)

	operator, err := report.DetectOperator()
	if err != nil {
		logger.DebugKV(ctx, "Operator unknown", "error", err)
	} else {
		sessionReport.Operator = operator
	}

	path, err := s.reports.Save(ctx, sessionReport)
	if err != nil {
		logger.WarnKV(ctx, "Session report not written", "error", err)
		return
	}

	logger.InfoKV(ctx, "Session report written", "path", path)
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
