package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ContainerLauncher execs the target binary inside an already-running
// sandbox container instead of the host sandbox-exec wrapper, for
// deployments configured with the "container" sandbox backend, where the
// container's own isolation stands in for a kernel sandbox profile.
type ContainerLauncher struct {
	api         *client.Client
	containerID string
}

// NewContainerLauncher connects to the local Docker daemon and targets the
// given already-running container. Nothing in the daemon creates or starts
// it; the id comes from the sandboxContainerId configuration field (see
// daemon.buildLauncher).
func NewContainerLauncher(containerID string) (*ContainerLauncher, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: docker client: %w", err)
	}
	if strings.TrimSpace(containerID) == "" {
		_ = api.Close()
		return nil, errors.New("sandbox: container id required")
	}
	return &ContainerLauncher{api: api, containerID: containerID}, nil
}

func (l *ContainerLauncher) Close() error {
	if l == nil || l.api == nil {
		return nil
	}
	return l.api.Close()
}

// Launch runs bin+args inside the sandbox container. profilePath is
// ignored here: the container boundary itself is the sandbox, so per-exec
// kernel profiles don't apply in this backend.
func (l *ContainerLauncher) Launch(ctx context.Context, _ string, bin string, args, env []string, maxOutputBytes int) (ExecResult, error) {
	execResp, err := l.api.ContainerExecCreate(ctx, l.containerID, types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          append([]string{bin}, args...),
		Env:          env,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("sandbox: exec create: %w", err)
	}

	attach, err := l.api.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("sandbox: exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("sandbox: read exec stream: %w", err)
	}

	inspect, err := l.api.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("sandbox: exec inspect: %w", err)
	}

	out, truncated := capBytes(stdout.Bytes(), maxOutputBytes)
	return ExecResult{Stdout: out, Stderr: stderr.Bytes(), ExitCode: inspect.ExitCode, Truncated: truncated}, nil
}
