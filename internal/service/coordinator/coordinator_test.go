package coordinator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/oshokin/imgcast/internal/config"
	"github.com/oshokin/imgcast/internal/domain/transfer"
	"github.com/oshokin/imgcast/internal/remote/remotetest"
	"github.com/oshokin/imgcast/internal/service/receiver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testSourceSize = 4096

// fakeReceivers starts receivers everywhere except on failing hosts.
type fakeReceivers struct {
	mu sync.Mutex
	// failing hosts get a Failed handle.
	failing []transfer.Host
	// started records StartAll host lists.
	started [][]transfer.Host
	// stops counts StopAll calls.
	stops int
	// stopCtxErr is the context error seen by the last StopAll.
	stopCtxErr error
	// stopped is the number of handles passed to the last StopAll.
	stopped int
}

func (f *fakeReceivers) StartAll(_ context.Context, hosts []transfer.Host, job *transfer.Job) map[transfer.Host]*transfer.ReceiverHandle {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.started = append(f.started, hosts)

	handles := make(map[transfer.Host]*transfer.ReceiverHandle, len(hosts))
	for _, host := range hosts {
		handle := &transfer.ReceiverHandle{Host: host, Port: job.Port, Status: transfer.ReceiverRunning}
		if slices.Contains(f.failing, host) {
			handle.Status = transfer.ReceiverFailed
			handle.Err = transfer.NewHostError(host, transfer.ErrReceiverStart)
		}

		handles[host] = handle
	}

	return handles
}

func (f *fakeReceivers) StopAll(ctx context.Context, handles map[transfer.Host]*transfer.ReceiverHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stops++
	f.stopCtxErr = ctx.Err()
	f.stopped = len(handles)
}

// fakeSender records sends.
type fakeSender struct {
	// calls counts Send invocations.
	calls int
	// confirmed is the receiver count of the last call.
	confirmed int
	// err is returned from Send.
	err error
	// block waits for the context.
	block bool
	// panics makes Send panic.
	panics bool
	// started is closed when a blocking Send starts.
	started chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, _ *transfer.Job, confirmed int) (*transfer.SendResult, error) {
	f.calls++
	f.confirmed = confirmed

	if f.panics {
		panic("sender exploded")
	}

	if f.block {
		close(f.started)
		<-ctx.Done()

		return &transfer.SendResult{ExitCode: -1}, errors.Join(transfer.ErrSendFailed, ctx.Err())
	}

	if f.err != nil {
		return &transfer.SendResult{ExitCode: 1}, f.err
	}

	return &transfer.SendResult{}, nil
}

// recordingObserver keeps every phase change.
type recordingObserver struct {
	phases   []transfer.Phase
	finished []*transfer.Result
}

func (o *recordingObserver) PhaseChanged(_ *transfer.Job, phase transfer.Phase) {
	o.phases = append(o.phases, phase)
}

func (o *recordingObserver) JobFinished(result *transfer.Result) {
	o.finished = append(o.finished, result)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.SenderSettleDelay = time.Millisecond

	return cfg
}

func testJob(hosts ...transfer.Host) *transfer.Job {
	return &transfer.Job{
		SourcePath:          "/srv/images/win11.img",
		DestinationFilename: "win11.img",
		DestinationDir:      "/var/lib/imgcast",
		Port:                9000,
		TargetHosts:         hosts,
	}
}

// sizeRule answers the verification probe.
func sizeRule(host transfer.Host, stdout string) remotetest.Rule {
	return remotetest.Rule{Host: host, Contains: "stat -c", Stdout: stdout}
}

func newTestCoordinator(cfg *config.Config, client *remotetest.Client, receivers Receivers, sender Sender, opts ...Option) *Coordinator {
	c := New(cfg, client, receivers, sender, opts...)
	c.sourceSize = func(string) (int64, error) {
		return testSourceSize, nil
	}

	return c
}

// TestRun_AllHealthy checks the success path and the observed phase sequence.
func TestRun_AllHealthy(t *testing.T) {
	t.Parallel()

	client := remotetest.New(remotetest.Rule{Contains: "stat -c", Stdout: "4096\n"})
	receivers := new(fakeReceivers)
	sender := new(fakeSender)
	observer := new(recordingObserver)

	c := newTestCoordinator(testConfig(), client, receivers, sender, WithObserver(observer))

	result := c.Run(context.Background(), testJob("pc-01", "pc-02", "pc-03"))

	require.NoError(t, result.Err)
	require.True(t, result.Succeeded())
	require.True(t, result.Verified)
	require.Equal(t, []transfer.Host{"pc-01", "pc-02", "pc-03"}, result.SucceededHosts)
	require.Empty(t, result.FailedHosts)
	require.Empty(t, result.ExcludedHosts)
	require.Equal(t, transfer.PhaseVerifying, result.Phase)
	require.False(t, result.FinishedAt.IsZero())

	require.Equal(t, 1, sender.calls)
	require.Equal(t, 3, sender.confirmed)
	require.Equal(t, 1, receivers.stops)
	require.Equal(t, 3, receivers.stopped)
	require.Len(t, client.CallsContaining("stat -c %s /var/lib/imgcast/win11.img"), 3)

	require.Equal(t, []transfer.Phase{
		transfer.PhaseResolving,
		transfer.PhaseStartingReceivers,
		transfer.PhaseAwaitingQuorum,
		transfer.PhaseSending,
		transfer.PhaseVerifying,
		transfer.PhaseCleaningUp,
		transfer.PhaseDone,
	}, observer.phases)
	require.Len(t, observer.finished, 1)
}

// TestRun_PartialReachability checks that unreachable hosts are excluded and the rest proceed.
func TestRun_PartialReachability(t *testing.T) {
	t.Parallel()

	client := remotetest.New(
		remotetest.Unreachable("pc-02", 0),
		remotetest.Rule{Contains: "stat -c", Stdout: "4096"},
	)
	receivers := new(fakeReceivers)
	sender := new(fakeSender)

	result := newTestCoordinator(testConfig(), client, receivers, sender).Run(context.Background(), testJob("pc-01", "pc-02", "pc-03"))

	require.NoError(t, result.Err)
	require.Equal(t, [][]transfer.Host{{"pc-01", "pc-03"}}, receivers.started)
	require.Equal(t, []transfer.Host{"pc-01", "pc-03"}, result.SucceededHosts)
	require.Contains(t, result.ExcludedHosts, transfer.Host("pc-02"))
	require.ErrorIs(t, result.ExcludedHosts["pc-02"], transfer.ErrConnect)
	require.Equal(t, 2, sender.confirmed)
}

// TestRun_NoReachableHosts checks that nothing starts when every host is down.
func TestRun_NoReachableHosts(t *testing.T) {
	t.Parallel()

	client := remotetest.New(remotetest.Rule{Contains: "true", Err: transfer.ErrTimeout})
	receivers := new(fakeReceivers)
	sender := new(fakeSender)

	result := newTestCoordinator(testConfig(), client, receivers, sender).Run(context.Background(), testJob("pc-01", "pc-02"))

	require.ErrorIs(t, result.Err, transfer.ErrNoReachableHosts)
	require.Equal(t, transfer.PhaseResolving, result.Phase)
	require.Len(t, result.ExcludedHosts, 2)
	require.Empty(t, receivers.started)
	require.Zero(t, receivers.stops)
	require.Zero(t, sender.calls)
}

// TestRun_QuorumNotMet checks that the sender never runs without enough receivers.
func TestRun_QuorumNotMet(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		quorum   int
		failing  []transfer.Host
	}{
		{"zero running", 1, []transfer.Host{"pc-01", "pc-02"}},
		{"below quorum", 2, []transfer.Host{"pc-02"}},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			cfg.Quorum = tt.quorum

			receivers := &fakeReceivers{failing: tt.failing}
			sender := new(fakeSender)

			result := newTestCoordinator(cfg, remotetest.New(), receivers, sender).Run(context.Background(), testJob("pc-01", "pc-02"))

			require.ErrorIs(t, result.Err, transfer.ErrPrecondition)
			require.Equal(t, transfer.PhaseAwaitingQuorum, result.Phase)
			require.Zero(t, sender.calls)
			require.Equal(t, 1, receivers.stops)
			require.Equal(t, 2, receivers.stopped)

			for _, host := range tt.failing {
				require.ErrorIs(t, result.FailedHosts[host], transfer.ErrReceiverStart)
			}
		})
	}
}

// TestRun_VerificationMismatch checks that every host is verified and the job is downgraded.
func TestRun_VerificationMismatch(t *testing.T) {
	t.Parallel()

	client := remotetest.New(
		sizeRule("pc-01", "1024"),
		remotetest.Rule{Host: "pc-02", Contains: "stat -c", ExitCode: 1},
		sizeRule("pc-03", "4096"),
	)
	receivers := new(fakeReceivers)

	result := newTestCoordinator(testConfig(), client, receivers, new(fakeSender)).Run(context.Background(), testJob("pc-01", "pc-02", "pc-03"))

	require.ErrorIs(t, result.Err, transfer.ErrVerificationMismatch)
	require.False(t, result.Verified)
	require.Equal(t, transfer.PhaseVerifying, result.Phase)
	require.Len(t, client.CallsContaining("stat -c"), 3)
	require.Equal(t, []transfer.Host{"pc-03"}, result.SucceededHosts)
	require.ErrorIs(t, result.FailedHosts["pc-01"], transfer.ErrVerificationMismatch)
	require.Error(t, result.FailedHosts["pc-02"])
	require.NotErrorIs(t, result.FailedHosts["pc-02"], transfer.ErrVerificationMismatch)
	require.Equal(t, 1, receivers.stops)
}

// TestRun_SendFailed checks that a sender failure skips verification but not cleanup.
func TestRun_SendFailed(t *testing.T) {
	t.Parallel()

	client := remotetest.New()
	receivers := new(fakeReceivers)
	sender := &fakeSender{err: transfer.ErrSendFailed}

	result := newTestCoordinator(testConfig(), client, receivers, sender).Run(context.Background(), testJob("pc-01"))

	require.ErrorIs(t, result.Err, transfer.ErrSendFailed)
	require.Equal(t, transfer.PhaseSending, result.Phase)
	require.Equal(t, 1, result.Send.ExitCode)
	require.ErrorIs(t, result.FailedHosts["pc-01"], transfer.ErrSendFailed)
	require.Empty(t, client.CallsContaining("stat"))
	require.Equal(t, 1, receivers.stops)
}

// TestRun_CanceledWhileSending checks that cleanup runs with a live context after an interrupt.
func TestRun_CanceledWhileSending(t *testing.T) {
	t.Parallel()

	receivers := new(fakeReceivers)
	sender := &fakeSender{block: true, started: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-sender.started
		cancel()
	}()

	result := newTestCoordinator(testConfig(), remotetest.New(), receivers, sender).Run(ctx, testJob("pc-01", "pc-02"))

	require.ErrorIs(t, result.Err, context.Canceled)
	require.Equal(t, 1, receivers.stops)
	require.NoError(t, receivers.stopCtxErr)
}

// TestRun_PanicStillCleansUp checks that a panic does not skip cleanup.
func TestRun_PanicStillCleansUp(t *testing.T) {
	t.Parallel()

	receivers := new(fakeReceivers)
	c := newTestCoordinator(testConfig(), remotetest.New(), receivers, &fakeSender{panics: true})

	require.Panics(t, func() {
		c.Run(context.Background(), testJob("pc-01"))
	})
	require.Equal(t, 1, receivers.stops)
}

// TestRun_DryRun checks that verification is skipped.
func TestRun_DryRun(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DryRun = true

	client := remotetest.New()
	receivers := new(fakeReceivers)

	result := newTestCoordinator(cfg, client, receivers, new(fakeSender)).Run(context.Background(), testJob("pc-01", "pc-02"))

	require.NoError(t, result.Err)
	require.True(t, result.DryRun)
	require.False(t, result.Verified)
	require.Equal(t, []transfer.Host{"pc-01", "pc-02"}, result.SucceededHosts)
	require.Empty(t, client.CallsContaining("stat"))
	require.Equal(t, 1, receivers.stops)
}

// TestRun_WithReceiverManager runs the coordinator against the real receiver manager.
func TestRun_WithReceiverManager(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ReceiverSettleDelay = time.Millisecond

	client := remotetest.New(
		remotetest.Rule{Host: "pc-03", Contains: "pgrep", ExitCode: 1},
		remotetest.Rule{Contains: "stat -c", Stdout: "4096"},
	)
	sender := new(fakeSender)

	result := newTestCoordinator(cfg, client, receiver.New(client, cfg), sender).Run(context.Background(), testJob("pc-01", "pc-02", "pc-03"))

	require.NoError(t, result.Err)
	require.Equal(t, 2, sender.confirmed)
	require.Equal(t, []transfer.Host{"pc-01", "pc-02"}, result.SucceededHosts)
	require.ErrorIs(t, result.FailedHosts["pc-03"], transfer.ErrReceiverStart)
	require.Len(t, client.CallsContaining("pkill"), 3)
}
