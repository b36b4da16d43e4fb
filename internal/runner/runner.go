// Package runner executes a pipeline configuration locally in
// Docker, one container per step, so a draft config can be
// validated before it is pushed to Bitbucket.
package runner

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pipewright/pipewright/internal/pipelineconfig"
	"github.com/pipewright/pipewright/pkg/log"
	"github.com/pkg/errors"
)

type dockerBackend interface {
	ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(context.Context, *container.Config, *container.HostConfig, *network.NetworkingConfig, *ocispec.Platform, string) (container.CreateResponse, error)
	ContainerStart(context.Context, string, container.StartOptions) error
	ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(context.Context, string, container.RemoveOptions) error
}

type Runner struct {
	backend   dockerBackend
	workspace string
}

// New connects to the local Docker daemon. The workspace
// directory, when set, is bind mounted at /workspace in every
// step container.
func New(workspace string) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "connect to docker")
	}

	return &Runner{backend: cli, workspace: workspace}, nil
}

// Result is the outcome of a local pipeline run.
type Result struct {
	Passed bool
	Output string
	Error  string
}

// Run executes the default pipeline steps in order, stopping
// at the first failing step. A failing step yields a Result
// with Passed false, not an error; errors are reserved for
// infrastructure problems such as an unreachable daemon.
func (r *Runner) Run(ctx context.Context, cfg *pipelineconfig.Config, env map[string]string) (*Result, error) {
	var out strings.Builder

	for _, step := range cfg.DefaultSteps() {
		fmt.Fprintf(&out, "=== Running step: %s ===\n", step.Name)

		exitCode, logs, err := r.runStep(ctx, step, env)
		out.WriteString(logs)

		if err != nil {
			return nil, errors.Wrapf(err, "step %q", step.Name)
		}
		if exitCode != 0 {
			fmt.Fprintf(&out, "=== Step failed with exit code %d ===\n", exitCode)
			return &Result{
				Passed: false,
				Output: out.String(),
				Error:  fmt.Sprintf("step %q exited with code %d", step.Name, exitCode),
			}, nil
		}

		fmt.Fprintf(&out, "=== Step completed ===\n")
	}

	return &Result{Passed: true, Output: out.String()}, nil
}

func (r *Runner) runStep(ctx context.Context, step pipelineconfig.Step, env map[string]string) (int64, string, error) {
	log.Info("pulling image", "image", step.Image, "step", step.Name)

	pull, err := r.backend.ImagePull(ctx, step.Image, image.PullOptions{})
	if err != nil {
		return 0, "", errors.Wrap(err, "pull image")
	}
	io.Copy(io.Discard, pull)
	pull.Close()

	envSlice := make([]string, 0, len(env))
	for k, v := range env {
		envSlice = append(envSlice, k+"="+v)
	}

	cfg := &container.Config{
		Image:      step.Image,
		Cmd:        []string{"/bin/sh", "-c", strings.Join(step.Script, " && ")},
		Env:        envSlice,
		WorkingDir: "/workspace",
	}

	host := &container.HostConfig{}
	if r.workspace != "" {
		host.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: r.workspace,
			Target: "/workspace",
		}}
	}

	created, err := r.backend.ContainerCreate(ctx, cfg, host, nil, nil, "")
	if err != nil {
		return 0, "", errors.Wrap(err, "create container")
	}
	defer r.backend.ContainerRemove(context.Background(), created.ID,
		container.RemoveOptions{Force: true})

	if err = r.backend.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return 0, "", errors.Wrap(err, "start container")
	}

	waitCh, errCh := r.backend.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case status := <-waitCh:
		if status.Error != nil {
			return 0, "", errors.New(status.Error.Message)
		}
		exitCode = status.StatusCode
	case err = <-errCh:
		return 0, "", errors.Wrap(err, "wait for container")
	case <-ctx.Done():
		return 0, "", ctx.Err()
	}

	logs, err := r.backend.ContainerLogs(ctx, created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return 0, "", errors.Wrap(err, "fetch container logs")
	}
	defer logs.Close()

	var buf strings.Builder
	if _, err = stdcopy.StdCopy(&buf, &buf, logs); err != nil {
		return 0, "", errors.Wrap(err, "read container logs")
	}

	return exitCode, buf.String(), nil
}
