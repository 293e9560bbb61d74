package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// ProcessLauncher re-executes a binary (by default the running one) as a
// training child. The request goes to the child's stdin and the result
// comes back on an inherited pipe.
type ProcessLauncher struct {
	path string
	args []string
}

func NewProcessLauncher() (*ProcessLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("sandbox: locate executable: %w", err)
	}
	return &ProcessLauncher{path: exe}, nil
}

func (l *ProcessLauncher) Start(ctx context.Context, req []byte) (Attempt, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(l.path, l.args...)
	cmd.Env = append(os.Environ(), ChildEnv+"=1")
	cmd.Stdin = bytes.NewReader(req)
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{pw}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	// The child holds the only write end now, so its exit ends the stream.
	pw.Close()

	return &processAttempt{cmd: cmd, result: pr}, nil
}

type processAttempt struct {
	cmd    *exec.Cmd
	result *os.File

	once    sync.Once
	killErr error
}

func (a *processAttempt) ID() string {
	return strconv.Itoa(a.cmd.Process.Pid)
}

func (a *processAttempt) Pid() int {
	return a.cmd.Process.Pid
}

func (a *processAttempt) Result(deadline time.Time) (io.Reader, error) {
	if err := a.result.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	return a.result, nil
}

func (a *processAttempt) Kill() error {
	a.once.Do(func() {
		pid := a.cmd.Process.Pid
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			a.killErr = err
			_ = a.cmd.Process.Kill()
		}
		// Wait reports the SIGKILL we just sent; only reaping matters.
		_ = a.cmd.Wait()
		a.result.Close()
	})
	return a.killErr
}
