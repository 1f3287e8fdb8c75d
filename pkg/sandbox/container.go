package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"remedy-copilot/pkg/runner"
)

// ContainerSpec describes the isolated environment a validation runs in.
// Capabilities are always dropped and no-new-privileges is always set,
// the spec only controls the parts that vary per adapter.
type ContainerSpec struct {
	Image       string
	WorkDir     string
	RepoPath    string
	NetworkOn   bool
	MemoryLimit string
	CPULimit    string
}

// ContainerRuntime creates and drives sandbox containers.
type ContainerRuntime interface {
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	Exec(ctx context.Context, containerID string, timeout time.Duration, command []string) (*runner.RunResult, error)
	Cleanup(ctx context.Context, containerID string)
}

// DockerRuntime drives containers through the docker CLI.
type DockerRuntime struct {
	runner runner.CommandRunner
	logger zerolog.Logger
}

var _ ContainerRuntime = (*DockerRuntime)(nil)

// NewDockerRuntime creates a docker-backed runtime.
func NewDockerRuntime(r runner.CommandRunner, logger zerolog.Logger) *DockerRuntime {
	return &DockerRuntime{
		runner: r,
		logger: logger.With().Str("component", "docker_runtime").Logger(),
	}
}

// Create starts a long-lived container with the repo mounted at the
// work dir and the hardening flags applied.
func (d *DockerRuntime) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	name := "fixval-" + uuid.NewString()[:8]
	workDir := spec.WorkDir
	if workDir == "" {
		workDir = "/workspace"
	}
	args := []string{
		"docker", "run", "-d",
		"--name", name,
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"-v", spec.RepoPath + ":" + workDir + ":rw",
		"-w", workDir,
	}
	if !spec.NetworkOn {
		args = append(args, "--network", "none")
	}
	if spec.MemoryLimit != "" {
		args = append(args, "--memory", spec.MemoryLimit)
	}
	if spec.CPULimit != "" {
		args = append(args, "--cpus", spec.CPULimit)
	}
	args = append(args, spec.Image, "sleep", "infinity")

	res, err := d.runner.Run(ctx, "", 60*time.Second, args...)
	if err != nil {
		return "", fmt.Errorf("docker run: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("docker run failed: %s", strings.TrimSpace(res.Output))
	}
	d.logger.Debug().Str("container", name).Str("image", spec.Image).Msg("sandbox container started")
	return name, nil
}

// Exec runs a command inside the container via docker exec.
func (d *DockerRuntime) Exec(ctx context.Context, containerID string, timeout time.Duration, command []string) (*runner.RunResult, error) {
	args := append([]string{"docker", "exec", containerID}, command...)
	return d.runner.Run(ctx, "", timeout, args...)
}

// Cleanup force-removes the container. Errors are logged, not returned,
// cleanup runs on every exit path.
func (d *DockerRuntime) Cleanup(ctx context.Context, containerID string) {
	res, err := d.runner.Run(ctx, "", 30*time.Second, "docker", "rm", "-f", containerID)
	if err != nil || res.ExitCode != 0 {
		d.logger.Warn().Str("container", containerID).Msg("failed to remove sandbox container")
	}
}

// ReplayStep is one scripted command outcome for the replay runtime.
type ReplayStep struct {
	Match    string
	Output   string
	ExitCode int
	TimedOut bool
}

// ReplayRuntime satisfies ContainerRuntime without docker: each Exec is
// answered from the script. Used by tests and by record-and-replay
// pipeline runs.
type ReplayRuntime struct {
	Script    []ReplayStep
	CreateErr error

	Created  []ContainerSpec
	Executed [][]string
	Cleaned  []string
}

var _ ContainerRuntime = (*ReplayRuntime)(nil)

func (r *ReplayRuntime) Create(_ context.Context, spec ContainerSpec) (string, error) {
	if r.CreateErr != nil {
		return "", r.CreateErr
	}
	r.Created = append(r.Created, spec)
	return fmt.Sprintf("replay-%d", len(r.Created)), nil
}

func (r *ReplayRuntime) Exec(_ context.Context, _ string, _ time.Duration, command []string) (*runner.RunResult, error) {
	r.Executed = append(r.Executed, command)
	joined := strings.Join(command, " ")
	for _, s := range r.Script {
		if strings.Contains(joined, s.Match) {
			return &runner.RunResult{Output: s.Output, ExitCode: s.ExitCode, TimedOut: s.TimedOut}, nil
		}
	}
	return &runner.RunResult{}, nil
}

func (r *ReplayRuntime) Cleanup(_ context.Context, containerID string) {
	r.Cleaned = append(r.Cleaned, containerID)
}
