package dockerservice

import (
	"context"
	"fmt"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"
)

// CreateOptions describes one locked-down, network-less container.
type CreateOptions struct {
	Name        string
	Image       string
	Cmd         []string
	Runtime     string
	WorkDir     string // host dir bind-mounted at MountPoint
	EnvVars     map[string]string
	Labels      map[string]string
	CPUQuota    int64
	MemoryLimit int64
	// SeccompJSON is an inline OCI seccomp profile; empty keeps the
	// daemon default.
	SeccompJSON string
}

const MountPoint = "/work"

type DockerService struct {
	docker *client.Client
}

func NewDockerService() (*DockerService, error) {
	dc, err := NewDockerClient()
	if err != nil {
		return nil, fmt.Errorf("unable to initialise docker: %w", err)
	}
	return &DockerService{
		docker: dc,
	}, nil
}

// RunContainer creates and starts a container and returns its id. A
// container that fails to start is removed.
func (d *DockerService) RunContainer(ctx context.Context, opts CreateOptions) (string, error) {
	var mounts []mount.Mount
	if opts.WorkDir != "" {
		mounts = []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: opts.WorkDir,
				Target: MountPoint,
			},
		}
	}

	env := make([]string, 0, len(opts.EnvVars))
	for k, v := range opts.EnvVars {
		env = append(env, k+"="+v)
	}

	var securityOpt []string
	if opts.SeccompJSON != "" {
		securityOpt = append(securityOpt, "seccomp="+opts.SeccompJSON)
	}

	pl := int64(32)
	hostCfg := &container.HostConfig{
		Runtime:        opts.Runtime,
		NetworkMode:    container.NetworkMode(network.NetworkNone),
		ReadonlyRootfs: true,
		SecurityOpt:    append(securityOpt, "no-new-privileges"),
		Resources: container.Resources{
			CPUPeriod: 100000,
			CPUQuota:  opts.CPUQuota,
			Memory:    opts.MemoryLimit,
			PidsLimit: &pl,
		},
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,mode=0777,size=67108864",
		},
		Mounts: mounts,
	}
	cfg := &container.Config{
		Image:  opts.Image,
		Labels: opts.Labels,
		User:   "1000:1000",
		Cmd:    opts.Cmd,
		Env:    env,
	}

	created, err := d.docker.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:           cfg,
		HostConfig:       hostCfg,
		NetworkingConfig: &network.NetworkingConfig{},
		Name:             opts.Name,
	})
	if err != nil {
		return "", err
	}

	if _, err := d.docker.ContainerStart(ctx, created.ID, client.ContainerStartOptions{}); err != nil {
		_, _ = d.RemoveContainer(context.WithoutCancel(ctx), created.ID)
		return "", err
	}
	return created.ID, nil
}

func (d *DockerService) RemoveContainer(ctx context.Context, id string) (client.ContainerRemoveResult, error) {
	return d.docker.ContainerRemove(ctx, id, client.ContainerRemoveOptions{
		Force: true,
	})
}

// WaitExit blocks until the container stops or ctx is done and returns
// the exit status.
func (d *DockerService) WaitExit(ctx context.Context, id string) (int64, error) {
	res := d.docker.ContainerWait(ctx, id, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	select {
	case err := <-res.Error:
		return 0, err
	case status := <-res.Result:
		return status.StatusCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (d *DockerService) Close() error {
	return d.docker.Close()
}
