package sender

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/imgcast/internal/config"
	"github.com/oshokin/imgcast/internal/domain/transfer"
	"github.com/oshokin/imgcast/internal/executor"
)

// fakeRunner records sender invocations.
type fakeRunner struct {
	// calls counts Run invocations.
	calls int
	// name and args record the last invocation.
	name string
	args []string
	// exitCode is reported by Run; non-zero also returns an error.
	exitCode int
	// output is written to the configured output sink.
	output string
	// block waits for the context instead of returning.
	block bool
}

// Run implements executor.Runner.
func (f *fakeRunner) Run(ctx context.Context, name string, args []string, opts ...executor.Option) (*executor.Result, error) {
	f.calls++
	f.name = name
	f.args = args

	var options executor.Options
	for _, opt := range opts {
		opt(&options)
	}

	if options.Stdout != nil && f.output != "" {
		_, _ = options.Stdout.Write([]byte(f.output))
	}

	if f.block {
		<-ctx.Done()
		return &executor.Result{ExitCode: -1}, ctx.Err()
	}

	if f.exitCode != 0 {
		return &executor.Result{ExitCode: f.exitCode}, fmt.Errorf("run %s: exit status %d", name, f.exitCode)
	}

	return &executor.Result{}, nil
}

// fakeProcess implements ps.Process.
type fakeProcess struct {
	pid  int
	name string
}

func (p fakeProcess) Pid() int            { return p.pid }
func (p fakeProcess) PPid() int           { return 1 }
func (p fakeProcess) Executable() string { return p.name }

func listing(processes ...ps.Process) ProcessLister {
	return func() ([]ps.Process, error) {
		return processes, nil
	}
}

func testController(t *testing.T, runner *fakeRunner, lister ProcessLister) *Controller {
	t.Helper()

	cfg := config.Default()
	cfg.LogDir = t.TempDir()

	return New(cfg, WithRunner(runner), WithProcessLister(lister))
}

func testJob() *transfer.Job {
	return &transfer.Job{
		SourcePath:          "/srv/images/win11.img",
		DestinationFilename: "win11.img",
		DestinationDir:      "/var/lib/imgcast",
		Port:                9002,
	}
}

// TestSend_Success checks the sender command line and the output file.
func TestSend_Success(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{output: "Transfer complete.\n"}
	controller := testController(t, runner, listing(fakeProcess{pid: 10, name: "bash"}))

	res, err := controller.Send(context.Background(), testJob(), 3)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.False(t, res.DryRun)

	require.Equal(t, 1, runner.calls)
	require.Equal(t, config.DefaultSenderBinary, runner.name)
	require.Equal(t, []string{
		"--file", "/srv/images/win11.img",
		"--portbase", "9002",
		"--interface", "eth0",
		"--full-duplex",
		"--max-bitrate", "900m",
		"--min-receivers", "3",
		"--min-wait", "10",
		"--max-wait", "60",
		"--retries-until-drop", "30",
		"--slice-size", "112",
		"--log", filepath.Join(controller.logDir, "imgcast-sender-9002.log"),
		"--nokbd",
	}, runner.args)

	output, err := os.ReadFile(filepath.Join(controller.logDir, "imgcast-sender-9002.out"))
	require.NoError(t, err)
	require.Equal(t, "Transfer complete.\n", string(output))
}

// TestSend_Compression checks the compression pipe.
func TestSend_Compression(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	controller := testController(t, runner, listing())

	job := testJob()
	job.Compression = transfer.CompressionZstd

	_, err := controller.Send(context.Background(), job, 1)
	require.NoError(t, err)
	require.Contains(t, runner.args, "--pipe")
	require.Contains(t, runner.args, "zstd -q -c -1")
}

// TestSend_Refusals checks the cases where no sender is started.
func TestSend_Refusals(t *testing.T) {
	t.Parallel()

	t.Run("no confirmed receivers", func(t *testing.T) {
		t.Parallel()

		runner := &fakeRunner{}
		controller := testController(t, runner, listing())

		_, err := controller.Send(context.Background(), testJob(), 0)
		require.ErrorIs(t, err, transfer.ErrPrecondition)
		require.Zero(t, runner.calls)
	})

	t.Run("sender already running", func(t *testing.T) {
		t.Parallel()

		runner := &fakeRunner{}
		controller := testController(t, runner, listing(fakeProcess{pid: os.Getpid() + 1, name: "udp-sender"}))

		_, err := controller.Send(context.Background(), testJob(), 2)
		require.ErrorIs(t, err, transfer.ErrSenderBusy)
		require.Zero(t, runner.calls)
	})

	t.Run("dry run", func(t *testing.T) {
		t.Parallel()

		runner := &fakeRunner{}
		controller := testController(t, runner, listing(fakeProcess{pid: 99, name: "udp-sender"}))
		controller.dryRun = true

		res, err := controller.Send(context.Background(), testJob(), 2)
		require.NoError(t, err)
		require.True(t, res.DryRun)
		require.Zero(t, runner.calls)
	})
}

// TestSend_ProcessListError checks that an unreadable process table does not block the send.
func TestSend_ProcessListError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	controller := testController(t, runner, func() ([]ps.Process, error) {
		return nil, errors.New("permission denied")
	})

	_, err := controller.Send(context.Background(), testJob(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, runner.calls)
}

// TestSend_Failures checks exit code and timeout handling.
func TestSend_Failures(t *testing.T) {
	t.Parallel()

	t.Run("non-zero exit", func(t *testing.T) {
		t.Parallel()

		runner := &fakeRunner{exitCode: 1}
		controller := testController(t, runner, listing())

		res, err := controller.Send(context.Background(), testJob(), 1)
		require.ErrorIs(t, err, transfer.ErrSendFailed)
		require.Equal(t, 1, res.ExitCode)
		require.Equal(t, 1, runner.calls)
	})

	t.Run("transfer timeout", func(t *testing.T) {
		t.Parallel()

		runner := &fakeRunner{block: true}
		controller := testController(t, runner, listing())
		controller.transferTimeout = 10 * time.Millisecond

		_, err := controller.Send(context.Background(), testJob(), 1)
		require.ErrorIs(t, err, transfer.ErrSendFailed)
		require.ErrorIs(t, err, transfer.ErrTimeout)
	})

	t.Run("canceled", func(t *testing.T) {
		t.Parallel()

		runner := &fakeRunner{block: true}
		controller := testController(t, runner, listing())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := controller.Send(ctx, testJob(), 1)
		require.ErrorIs(t, err, transfer.ErrSendFailed)
		require.ErrorIs(t, err, context.Canceled)
		require.NotErrorIs(t, err, transfer.ErrTimeout)
	})
}

// TestSend_RealProcess runs a stand-in sender through the real runner.
func TestSend_RealProcess(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}

	cfg := config.Default()
	cfg.LogDir = t.TempDir()
	cfg.SenderBinary = "false"

	controller := New(cfg, WithProcessLister(listing()))

	res, err := controller.Send(context.Background(), testJob(), 1)
	require.ErrorIs(t, err, transfer.ErrSendFailed)
	require.Equal(t, 1, res.ExitCode)
}

func TestMatchesExecutable(t *testing.T) {
	t.Parallel()

	require.True(t, matchesExecutable("udp-sender", "udp-sender"))
	require.False(t, matchesExecutable("udp-receiver", "udp-sender"))
	require.True(t, matchesExecutable("custom-udp-send", "custom-udp-sender-v2"))
}
