package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Result holds the captured output and exit code of a process.
type Result struct {
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
	// ExitCode is the process exit code, -1 when the process did not run to completion.
	ExitCode int
}

// Runner starts local processes.
type Runner interface {
	// Run starts name with args and waits for it to exit.
	// A non-zero exit code is reported through Result.ExitCode together with an *exec.ExitError.
	Run(ctx context.Context, name string, args []string, opts ...Option) (*Result, error)
}

// Options configures one process run.
type Options struct {
	// Stdout receives a copy of the standard output when set.
	Stdout io.Writer
	// Stderr receives a copy of the standard error when set.
	Stderr io.Writer
	// Stdin is attached to the process when set.
	Stdin io.Reader
}

// Option modifies Options.
type Option func(*Options)

// WithOutput tees stdout and stderr into w, e.g. a log file.
func WithOutput(w io.Writer) Option {
	return func(o *Options) {
		o.Stdout = w
		o.Stderr = w
	}
}

// WithStdin attaches r as the process standard input.
func WithStdin(r io.Reader) Option {
	return func(o *Options) {
		o.Stdin = r
	}
}

// CommandRunner runs processes with os/exec.
type CommandRunner struct{}

// New creates a runner backed by os/exec.
func New() *CommandRunner {
	return new(CommandRunner)
}

// Run implements Runner.
func (r *CommandRunner) Run(ctx context.Context, name string, args []string, opts ...Option) (*Result, error) {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	var stdout, stderr bytes.Buffer

	// Both streams copy concurrently; a shared sink needs serialised writes.
	if options.Stdout != nil && options.Stdout == options.Stderr {
		shared := &lockedWriter{w: options.Stdout}
		options.Stdout, options.Stderr = shared, shared
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = teeWriter(&stdout, options.Stdout)
	cmd.Stderr = teeWriter(&stderr, options.Stderr)
	cmd.Stdin = options.Stdin

	err := cmd.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(err),
	}

	if err != nil {
		return result, fmt.Errorf("run %s: %w", name, err)
	}

	return result, nil
}

// ExitCode extracts the exit code from an error returned by Run.
// It reports false when the process did not exit on its own.
func ExitCode(err error) (int, bool) {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, false
	}

	code := exitErr.ExitCode()

	return code, code >= 0
}

// IsNotFound reports whether Run failed because the executable is not installed.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}

// exitCode maps a Run error to the Result exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	if code, ok := ExitCode(err); ok {
		return code
	}

	return -1
}

// teeWriter returns buffer alone or buffer plus extra.
func teeWriter(buffer *bytes.Buffer, extra io.Writer) io.Writer {
	if extra == nil {
		return buffer
	}

	return io.MultiWriter(buffer, extra)
}

// lockedWriter serialises writes to w.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// Write implements io.Writer.
func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.w.Write(p)
}
