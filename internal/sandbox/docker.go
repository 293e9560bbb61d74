package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ssuji15/trainpool/internal/config"
	dockerservice "github.com/ssuji15/trainpool/internal/service/docker_service"
	"github.com/ssuji15/trainpool/internal/util"
)

const (
	inputFile  = "request.bin"
	outputFile = "result.bin"
)

// DockerLauncher runs each attempt in its own network-less container of
// SANDBOX_IMAGE. The image entrypoint must be a binary that calls
// RunChildIfRequested. Request and result are exchanged as files in a
// per-attempt directory bind-mounted into the container.
type DockerLauncher struct {
	docker  *dockerservice.DockerService
	cfg     *config.SandboxConfig
	seccomp string
}

func NewDockerLauncher(cfg *config.SandboxConfig) (*DockerLauncher, error) {
	if err := util.EnsureDirExist(cfg.WORK_DIR); err != nil {
		return nil, err
	}
	var seccomp string
	if cfg.SECCOMP_PROFILE != "" {
		profile, err := util.LoadSeccomp(cfg.SECCOMP_PROFILE)
		if err != nil {
			return nil, fmt.Errorf("sandbox: seccomp profile: %w", err)
		}
		b, err := json.Marshal(profile)
		if err != nil {
			return nil, err
		}
		seccomp = string(b)
	}
	ds, err := dockerservice.NewDockerService()
	if err != nil {
		return nil, err
	}
	return &DockerLauncher{docker: ds, cfg: cfg, seccomp: seccomp}, nil
}

func (l *DockerLauncher) Start(ctx context.Context, req []byte) (Attempt, error) {
	id := uuid.NewString()
	dir := filepath.Join(l.cfg.WORK_DIR, id)
	if err := util.EnsureDirExist(dir); err != nil {
		return nil, err
	}
	// the container runs as an unprivileged user
	if err := os.Chmod(dir, 0o777); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, inputFile), req, 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	cid, err := l.docker.RunContainer(ctx, dockerservice.CreateOptions{
		Name:    "trainpool-" + id,
		Image:   l.cfg.IMAGE,
		Runtime: l.cfg.RUNTIME,
		WorkDir: dir,
		EnvVars: map[string]string{
			ChildEnv:  "1",
			InputEnv:  filepath.Join(dockerservice.MountPoint, inputFile),
			OutputEnv: filepath.Join(dockerservice.MountPoint, outputFile),
		},
		Labels:      map[string]string{"trainpool.attempt": id},
		CPUQuota:    l.cfg.CPU_QUOTA,
		MemoryLimit: l.cfg.MEMORY_LIMIT,
		SeccompJSON: l.seccomp,
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("sandbox: run container: %w", err)
	}
	return &dockerAttempt{launcher: l, id: id, containerID: cid, dir: dir}, nil
}

type dockerAttempt struct {
	launcher    *DockerLauncher
	id          string
	containerID string
	dir         string

	once    sync.Once
	killErr error
}

func (a *dockerAttempt) ID() string {
	return a.id
}

func (a *dockerAttempt) Result(deadline time.Time) (io.Reader, error) {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	status, err := a.launcher.docker.WaitExit(ctx, a.containerID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, os.ErrDeadlineExceeded
		}
		return nil, err
	}
	if status != 0 {
		return nil, fmt.Errorf("container exited with status %d", status)
	}
	b, err := os.ReadFile(filepath.Join(a.dir, outputFile))
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

func (a *dockerAttempt) Kill() error {
	a.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := a.launcher.docker.RemoveContainer(ctx, a.containerID); err != nil {
			a.killErr = err
		}
		if err := os.RemoveAll(a.dir); err != nil && a.killErr == nil {
			a.killErr = err
		}
	})
	return a.killErr
}
