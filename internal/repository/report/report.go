package report

import (
	"time"

	"github.com/oshokin/imgcast/internal/domain/transfer"
)

// Report is the persisted outcome of a session.
type Report struct {
	// StartedAt is when the first job started.
	StartedAt time.Time `yaml:"started_at"`
	// FinishedAt is when the session finished.
	FinishedAt time.Time `yaml:"finished_at"`
	// Operator is who ran the session and from where.
	Operator *Operator `yaml:"operator,omitempty"`
	// DryRun is set when nothing was executed.
	DryRun bool `yaml:"dry_run"`
	// Succeeded is set when every job succeeded.
	Succeeded bool `yaml:"succeeded"`
	// Halted is set when jobs were skipped.
	Halted bool `yaml:"halted"`
	// Error is the halt reason.
	Error string `yaml:"error,omitempty"`
	// Jobs holds one entry per attempted job.
	Jobs []Job `yaml:"jobs"`
}

// Job is the persisted outcome of one job.
type Job struct {
	// Source is the local file.
	Source string `yaml:"source"`
	// Destination is the remote file.
	Destination string `yaml:"destination"`
	// Port is the port base the job used.
	Port int `yaml:"port"`
	// Compression is the codec, empty when disabled.
	Compression string `yaml:"compression,omitempty"`
	// Phase is the furthest phase reached.
	Phase string `yaml:"phase"`
	// Succeeded is set when the job succeeded.
	Succeeded bool `yaml:"succeeded"`
	// Verified is set when every running host passed verification.
	Verified bool `yaml:"verified"`
	// Error is the job failure.
	Error string `yaml:"error,omitempty"`
	// SenderExitCode is absent when the sender never ran.
	SenderExitCode *int `yaml:"sender_exit_code,omitempty"`
	// Duration is the job wall time.
	Duration string `yaml:"duration"`
	// SucceededHosts received a verified copy.
	SucceededHosts []string `yaml:"succeeded_hosts,omitempty"`
	// FailedHosts maps hosts to failure reasons.
	FailedHosts map[string]string `yaml:"failed_hosts,omitempty"`
	// ExcludedHosts maps unreachable hosts to warnings.
	ExcludedHosts map[string]string `yaml:"excluded_hosts,omitempty"`
}

// New converts a session summary into its persisted form.
func New(summary *transfer.Summary, startedAt, finishedAt time.Time, dryRun bool) *Report {
	report := &Report{
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		DryRun:     dryRun,
		Succeeded:  summary.Succeeded(),
		Halted:     summary.Halted,
		Error:      errorString(summary.Err),
		Jobs:       make([]Job, 0, len(summary.Results)),
	}

	for _, result := range summary.Results {
		report.Jobs = append(report.Jobs, newJob(result))
	}

	return report
}

// newJob converts one job result.
func newJob(result *transfer.Result) Job {
	job := result.Job

	report := Job{
		Source:        job.SourcePath,
		Destination:   job.DestinationPath(),
		Port:          job.Port,
		Compression:   string(job.Compression),
		Phase:         result.Phase.String(),
		Succeeded:     result.Succeeded(),
		Verified:      result.Verified,
		Error:         errorString(result.Err),
		Duration:      result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond).String(),
		FailedHosts:   hostErrors(result.FailedHosts),
		ExcludedHosts: hostErrors(result.ExcludedHosts),
	}

	if result.Send != nil {
		exitCode := result.Send.ExitCode
		report.SenderExitCode = &exitCode
	}

	for _, host := range result.SucceededHosts {
		report.SucceededHosts = append(report.SucceededHosts, host.String())
	}

	return report
}

// hostErrors renders per-host errors, nil when empty.
func hostErrors(errs map[transfer.Host]error) map[string]string {
	if len(errs) == 0 {
		return nil
	}

	result := make(map[string]string, len(errs))
	for host, err := range errs {
		result[host.String()] = errorString(err)
	}

	return result
}

// errorString returns the error text or an empty string.
func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
