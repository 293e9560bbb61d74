package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ssuji15/trainpool/internal/config"
	"github.com/ssuji15/trainpool/internal/strategy"
	"github.com/ssuji15/trainpool/internal/testutil"
	"github.com/ssuji15/trainpool/internal/wire"
	"github.com/ssuji15/trainpool/model"
	"github.com/stretchr/testify/require"
)

type foreverStrategy struct{}

func (foreverStrategy) Name() string { return "forever" }

func (foreverStrategy) Train(context.Context, *model.Dataset) (*model.Code, error) {
	for {
		time.Sleep(time.Hour)
	}
}

type crashStrategy struct{}

func (crashStrategy) Name() string { return "crash" }

func (crashStrategy) Train(context.Context, *model.Dataset) (*model.Code, error) {
	panic("training blew up")
}

type failStrategy struct{}

func (failStrategy) Name() string { return "fail" }

func (failStrategy) Train(context.Context, *model.Dataset) (*model.Code, error) {
	return nil, errors.New("not enough rows")
}

func testRegistry() *strategy.Registry {
	r := strategy.Default()
	r.MustRegister(foreverStrategy{})
	r.MustRegister(crashStrategy{})
	r.MustRegister(failStrategy{})
	return r
}

func TestMain(m *testing.M) {
	RunChildIfRequested(testRegistry())
	os.Exit(m.Run())
}

type recordingLauncher struct {
	Launcher
	mu       sync.Mutex
	attempts []Attempt
}

func (l *recordingLauncher) Start(ctx context.Context, req []byte) (Attempt, error) {
	a, err := l.Launcher.Start(ctx, req)
	if err == nil {
		l.mu.Lock()
		l.attempts = append(l.attempts, a)
		l.mu.Unlock()
	}
	return a, err
}

func newRunner(t *testing.T, timeout time.Duration) (*Runner, *recordingLauncher) {
	t.Helper()
	pl, err := NewProcessLauncher()
	require.NoError(t, err)
	rl := &recordingLauncher{Launcher: pl}
	return NewRunner(rl, timeout), rl
}

func requireReaped(t *testing.T, rl *recordingLauncher) {
	t.Helper()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	require.NotEmpty(t, rl.attempts)
	for _, a := range rl.attempts {
		pa := a.(*processAttempt)
		require.NotNil(t, pa.cmd.ProcessState, "child %d was not waited for", pa.Pid())
		require.ErrorIs(t, syscall.Kill(pa.Pid(), 0), syscall.ESRCH)
	}
}

func TestRunnerProcessTrainsJob(t *testing.T) {
	t.Parallel()

	runner, rl := newRunner(t, 20*time.Second)
	d := testutil.Dataset(t, 0)
	job := model.NewJob("stump", d)

	require.NoError(t, runner.Process(context.Background(), job))
	require.True(t, job.Trained())
	require.Equal(t, "stump", job.Code.Strategy)
	require.Equal(t, int64(6), job.Score)
	require.Equal(t, job.Code.Score(d), job.Score)
	require.NotNil(t, job.StartTime)
	require.NotNil(t, job.EndTime)

	requireReaped(t, rl)
}

func TestRunnerTimeout(t *testing.T) {
	t.Parallel()

	timeout := 300 * time.Millisecond
	runner, rl := newRunner(t, timeout)
	job := model.NewJob("forever", testutil.Dataset(t, 0))

	start := time.Now()
	err := runner.Process(context.Background(), job)
	elapsed := time.Since(start)

	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
	require.False(t, job.Trained())
	require.Zero(t, job.Score)
	require.Less(t, elapsed, timeout+3*time.Second)

	requireReaped(t, rl)
}

func TestRunnerContextCancel(t *testing.T) {
	t.Parallel()

	runner, rl := newRunner(t, time.Minute)
	job := model.NewJob("forever", testutil.Dataset(t, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.Error(t, runner.Process(ctx, job))
	require.Less(t, time.Since(start), 5*time.Second)
	require.False(t, job.Trained())

	requireReaped(t, rl)
}

func TestRunnerFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		strategy string
	}{
		{"child panics", "crash"},
		{"training returns an error", "fail"},
		{"strategy unknown to the child", "does-not-exist"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			runner, rl := newRunner(t, 20*time.Second)
			job := model.NewJob(tt.strategy, testutil.Dataset(t, 0))

			require.Error(t, runner.Process(context.Background(), job))
			require.False(t, job.Trained())
			require.Nil(t, job.Code)

			requireReaped(t, rl)
		})
	}
}

func TestRunChild(t *testing.T) {
	t.Parallel()

	reg := testRegistry()
	d := testutil.Dataset(t, 0)

	req, err := EncodeRequest("majority", d)
	require.NoError(t, err)

	var out bytes.Buffer
	require.Equal(t, exitOK, runChild(reg, bytes.NewReader(req), &out))

	r := wire.NewReader(&out)
	score := r.ReadVarint()
	code, err := wire.ReadCode(r)
	require.NoError(t, err)
	require.Equal(t, int64(3), score)
	require.Equal(t, "majority", code.Strategy)

	tests := []struct {
		name string
		in   []byte
		want int
	}{
		{"garbage request", []byte{0xff, 0xff, 0xff}, exitBadRequest},
		{"unknown strategy", mustEncode(t, "nope", d), exitUnknownStrategy},
		{"failed training", mustEncode(t, "fail", d), exitTrainFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.Equal(t, tt.want, runChild(reg, bytes.NewReader(tt.in), &out))
			require.Zero(t, out.Len())
		})
	}
}

func mustEncode(t *testing.T, name string, d *model.Dataset) []byte {
	t.Helper()
	b, err := EncodeRequest(name, d)
	require.NoError(t, err)
	return b
}

func TestNewDockerLauncherRejectsBadSeccomp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	profile := filepath.Join(dir, "seccomp.json")
	require.NoError(t, os.WriteFile(profile, []byte(`{"syscalls": []}`), 0o644))

	_, err := NewDockerLauncher(&config.SandboxConfig{
		SANDBOX_TYPE:    "docker",
		IMAGE:           "trainpool/trainer:latest",
		WORK_DIR:        filepath.Join(dir, "work"),
		SECCOMP_PROFILE: profile,
	})
	require.Error(t, err)

	_, err = NewDockerLauncher(&config.SandboxConfig{
		SANDBOX_TYPE:    "docker",
		WORK_DIR:        filepath.Join(dir, "work"),
		SECCOMP_PROFILE: filepath.Join(dir, "missing.json"),
	})
	require.Error(t, err)
}
