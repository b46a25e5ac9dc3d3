package transfer

import (
	"slices"
	"time"
)

// SendResult is the outcome of one sender run.
type SendResult struct {
	// ExitCode is the sender process exit code.
	ExitCode int
	// Duration is how long the sender ran.
	Duration time.Duration
	// DryRun is set when no process was started.
	DryRun bool
}

// Result is the outcome of one job.
type Result struct {
	// Job is the job this result belongs to.
	Job *Job
	// Phase is the furthest working phase reached; cleanup and completion do not overwrite it.
	Phase Phase
	// SucceededHosts received and verified the file.
	SucceededHosts []Host
	// FailedHosts maps hosts that did not get a verified copy to the reason.
	FailedHosts map[Host]error
	// ExcludedHosts maps unreachable hosts to the warning recorded for them.
	ExcludedHosts map[Host]error
	// Send is the sender outcome, nil when the sender never ran.
	Send *SendResult
	// Verified is set when every running host passed verification.
	Verified bool
	// DryRun is set when nothing was executed.
	DryRun bool
	// Err is the job-level failure, nil on success.
	Err error
	// StartedAt is when the job started.
	StartedAt time.Time
	// FinishedAt is when the job finished, after cleanup.
	FinishedAt time.Time
}

// NewResult creates an empty result for the job.
func NewResult(job *Job) *Result {
	return &Result{
		Job:           job,
		Phase:         PhaseResolving,
		FailedHosts:   make(map[Host]error),
		ExcludedHosts: make(map[Host]error),
		StartedAt:     time.Now(),
	}
}

// Succeeded reports whether the job finished without a job-level error.
func (r *Result) Succeeded() bool {
	return r != nil && r.Err == nil
}

// MarkSucceeded records a verified host.
func (r *Result) MarkSucceeded(host Host) {
	if slices.Contains(r.SucceededHosts, host) {
		return
	}

	r.SucceededHosts = append(r.SucceededHosts, host)
	slices.Sort(r.SucceededHosts)
}

// MarkFailed records a host failure. The first reason recorded for a host wins.
func (r *Result) MarkFailed(host Host, err error) {
	if _, found := r.FailedHosts[host]; found {
		return
	}

	r.FailedHosts[host] = err
}

// MarkExcluded records a host that was left out of the job.
func (r *Result) MarkExcluded(host Host, err error) {
	r.ExcludedHosts[host] = err
}

// Summary aggregates the results of a session.
type Summary struct {
	// Results holds one entry per attempted job, in order.
	Results []*Result
	// SucceededJobs counts successful jobs.
	SucceededJobs int
	// FailedJobs counts failed jobs.
	FailedJobs int
	// Halted is set when the session stopped before attempting every job.
	Halted bool
	// Err is the reason the session halted.
	Err error
}

// Add appends a job result and updates the counters.
func (s *Summary) Add(result *Result) {
	s.Results = append(s.Results, result)

	if result.Succeeded() {
		s.SucceededJobs++
		return
	}

	s.FailedJobs++
}

// Halt marks the session as stopped early.
func (s *Summary) Halt(err error) {
	s.Halted = true
	s.Err = err
}

// Succeeded reports whether every attempted job succeeded and nothing halted the session.
func (s *Summary) Succeeded() bool {
	return s.FailedJobs == 0 && !s.Halted
}
