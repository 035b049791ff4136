// Package docker implements the sandbox provider on a local container engine.
package docker

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/oklog/ulid/v2"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/provider"
)

const (
	// defaultImage ships git plus a Node toolchain, which covers the agent
	// CLIs installed through npm.
	defaultImage = "node:22-bookworm"

	workspaceDir = "/workspace"

	taskLabel     = "taskmill.task_id"
	snapshotLabel = "taskmill.snapshot_id"

	snapshotRepo = "taskmill/snapshot"
)

// DockerClient is the interface for Docker operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerCommit(ctx context.Context, containerID string, options container.CommitOptions) (container.CommitResponse, error)
}

// ProviderConfig is the configuration for the Docker provider.
type ProviderConfig struct {
	Client DockerClient
	Logger log.Logger
}

func (c *ProviderConfig) defaults() error {
	if c.Client == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "provider.Docker"})
	return nil
}

// Provider is the Docker implementation of provider.Provider.
type Provider struct {
	client DockerClient
	logger log.Logger
}

// NewProvider creates a new Docker provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Provider{
		client: cfg.Client,
		logger: cfg.Logger,
	}, nil
}

// Type returns the Docker provider type.
func (p *Provider) Type() model.ProviderType { return model.ProviderTypeDocker }

// Create provisions a container sandbox and clones the repository into its
// workspace. Cancellation is checked between every internal step and any
// partially created container is removed before returning.
func (p *Provider) Create(ctx context.Context, cfg model.SandboxConfig, opts provider.CreateOpts, logger log.Logger) (*model.SandboxResult, error) {
	if logger == nil {
		logger = p.logger
	}
	if err := cfg.Validate(); err != nil {
		return &model.SandboxResult{Success: false, Error: err.Error()}, nil
	}

	img := cfg.Image
	if img == "" {
		img = defaultImage
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	containerName := fmt.Sprintf("taskmill-%s", strings.ToLower(id))

	cancelled := func() bool { return opts.CancelCheck != nil && opts.CancelCheck(ctx) }
	progress := func(step string) {
		if opts.OnProgress != nil {
			opts.OnProgress(step)
		}
	}

	if cancelled() {
		return &model.SandboxResult{Cancelled: true}, nil
	}

	// Step 1: pull the image.
	progress("pulling sandbox image")
	logger.Infof("[1/4] Pulling image: %s", img)
	pullResp, err := p.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return &model.SandboxResult{Success: false, Error: categorizeDaemonError(err)}, nil
	}
	// Consume the pull response to ensure it completes.
	_, _ = io.Copy(io.Discard, pullResp)
	pullResp.Close()

	if cancelled() {
		return &model.SandboxResult{Cancelled: true}, nil
	}

	// Step 2: create the container.
	progress("creating container")
	logger.Infof("[2/4] Creating container: %s", containerName)

	var envVars []string
	for k, v := range cfg.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}

	containerConfig := &container.Config{
		Image:      img,
		Env:        envVars,
		WorkingDir: workspaceDir,
		Cmd:        []string{"tail", "-f", "/dev/null"}, // Keep container running.
		Labels:     map[string]string{taskLabel: cfg.TaskID},
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(cfg.Resources.VCPUs * 1e9),
			Memory:   int64(cfg.Resources.MemoryMB) * 1024 * 1024,
		},
	}

	createResp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return &model.SandboxResult{Success: false, Error: categorizeDaemonError(err)}, nil
	}
	containerID := createResp.ID

	cleanup := func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.client.ContainerRemove(rmCtx, containerID, container.RemoveOptions{Force: true}); err != nil && !isGone(err) {
			logger.Errorf("Could not remove partially created container %s: %v", containerName, err)
		}
	}

	if cancelled() {
		cleanup()
		return &model.SandboxResult{Cancelled: true}, nil
	}

	// Step 3: start the container.
	progress("starting container")
	logger.Infof("[3/4] Starting container: %s", containerName)
	if err := p.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		cleanup()
		return &model.SandboxResult{Success: false, Error: categorizeDaemonError(err)}, nil
	}

	sandbox := &model.SandboxInstance{
		ID:      id,
		Type:    model.ProviderTypeDocker,
		Domain:  fmt.Sprintf("%s.localhost", containerName),
		WorkDir: workspaceDir,
		Metadata: map[string]string{
			"container_id":   containerID,
			"container_name": containerName,
			"task_id":        cfg.TaskID,
		},
		CreatedAt: time.Now().UTC(),
	}

	if cancelled() {
		p.destroyContainer(context.Background(), containerID, logger)
		return &model.SandboxResult{Cancelled: true}, nil
	}

	// Step 4: clone the repository. The clone URL may embed a token, so it is
	// never logged; only the sanitized failure category surfaces.
	progress("cloning repository")
	logger.Infof("[4/4] Cloning repository into %s", workspaceDir)
	cloneArgs := []string{"git", "clone"}
	if cfg.CloneDepth > 0 {
		cloneArgs = append(cloneArgs, "--depth", fmt.Sprintf("%d", cfg.CloneDepth))
	}
	cloneArgs = append(cloneArgs, cfg.RepoURL, workspaceDir)

	var cloneErr strings.Builder
	execRes, err := p.Exec(ctx, sandbox, cloneArgs, model.ExecOpts{Stderr: &cloneErr})
	if err != nil || execRes.ExitCode != 0 {
		p.destroyContainer(context.Background(), containerID, logger)
		if ctx.Err() != nil {
			return &model.SandboxResult{Success: false, Error: "repository clone timed out: the repository may be too large"}, nil
		}
		logger.Debugf("Clone failed: %v (%s)", err, cloneErr.String())
		return &model.SandboxResult{Success: false, Error: "could not clone repository: check the URL and access token"}, nil
	}

	logger.Infof("Created Docker sandbox: %s (container: %s)", id, containerName)

	return &model.SandboxResult{Success: true, Sandbox: sandbox, Domain: sandbox.Domain}, nil
}

// Exec executes a command inside a running container sandbox.
func (p *Provider) Exec(ctx context.Context, sandbox *model.SandboxInstance, command []string, opts model.ExecOpts) (*model.ExecResult, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("command cannot be empty: %w", model.ErrNotValid)
	}

	containerName := sandbox.Metadata["container_name"]
	if containerName == "" {
		containerName = fmt.Sprintf("taskmill-%s", strings.ToLower(sandbox.ID))
	}

	args := []string{"exec", "-i"}
	workingDir := opts.WorkingDir
	if workingDir == "" {
		workingDir = sandbox.WorkDir
	}
	if workingDir != "" {
		args = append(args, "-w", workingDir)
	}
	for k, v := range opts.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, containerName)
	args = append(args, command...)

	p.logger.Debugf("Executing command in container %s: %s ...", containerName, command[0])

	cmd := exec.CommandContext(ctx, "docker", args...)
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}
	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	}
	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	}

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			p.logger.Debugf("Command exited with code %d", exitCode)
		} else {
			if strings.Contains(err.Error(), "No such container") {
				return nil, fmt.Errorf("container %s: %w", containerName, model.ErrNotFound)
			}
			if strings.Contains(err.Error(), "is not running") {
				return nil, fmt.Errorf("container %s is not running: %w", containerName, model.ErrNotValid)
			}
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
	}

	return &model.ExecResult{ExitCode: exitCode}, nil
}

// Destroy stops and removes the container. Destroying an already removed
// container succeeds.
func (p *Provider) Destroy(ctx context.Context, sandbox *model.SandboxInstance, logger log.Logger) error {
	if logger == nil {
		logger = p.logger
	}

	containerID := sandbox.Metadata["container_id"]
	if containerID == "" {
		containerID = fmt.Sprintf("taskmill-%s", strings.ToLower(sandbox.ID))
	}

	p.destroyContainer(ctx, containerID, logger)
	logger.Infof("Destroyed Docker sandbox: %s", sandbox.ID)

	return nil
}

// Snapshot commits the sandbox container to a local image so a keep-alive
// workspace survives container removal.
func (p *Provider) Snapshot(ctx context.Context, sandbox *model.SandboxInstance, snapshotID string) error {
	containerID := sandbox.Metadata["container_id"]
	if containerID == "" {
		containerID = fmt.Sprintf("taskmill-%s", strings.ToLower(sandbox.ID))
	}

	ref := snapshotRef(snapshotID)
	_, err := p.client.ContainerCommit(ctx, containerID, container.CommitOptions{
		Reference: ref,
		Comment:   fmt.Sprintf("taskmill sandbox %s", sandbox.ID),
		Pause:     true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "No such container") {
			return fmt.Errorf("container for sandbox %s: %w", sandbox.ID, model.ErrNotFound)
		}
		return fmt.Errorf("could not commit container: %w", err)
	}

	p.logger.Infof("Snapshotted sandbox %s as %s", sandbox.ID, ref)

	return nil
}

// Restore creates and starts a fresh container from a snapshot image. The
// restored workspace contains the files committed at snapshot time.
func (p *Provider) Restore(ctx context.Context, snapshotID string) (*model.SandboxInstance, error) {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	containerName := fmt.Sprintf("taskmill-%s", strings.ToLower(id))

	containerConfig := &container.Config{
		Image:      snapshotRef(snapshotID),
		WorkingDir: workspaceDir,
		Cmd:        []string{"tail", "-f", "/dev/null"}, // Keep container running.
		Labels:     map[string]string{snapshotLabel: snapshotID},
	}

	createResp, err := p.client.ContainerCreate(ctx, containerConfig, &container.HostConfig{}, nil, nil, containerName)
	if err != nil {
		if strings.Contains(err.Error(), "No such image") {
			return nil, fmt.Errorf("snapshot %s: %w", snapshotID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not create container from snapshot: %w", err)
	}

	if err := p.client.ContainerStart(ctx, createResp.ID, container.StartOptions{}); err != nil {
		p.destroyContainer(context.Background(), createResp.ID, p.logger)
		return nil, fmt.Errorf("could not start restored container: %w", err)
	}

	sandbox := &model.SandboxInstance{
		ID:      id,
		Type:    model.ProviderTypeDocker,
		Domain:  fmt.Sprintf("%s.localhost", containerName),
		WorkDir: workspaceDir,
		Metadata: map[string]string{
			"container_id":   createResp.ID,
			"container_name": containerName,
			"snapshot_id":    snapshotID,
		},
		CreatedAt: time.Now().UTC(),
	}

	p.logger.Infof("Restored snapshot %s into sandbox %s (container: %s)", snapshotID, id, containerName)

	return sandbox, nil
}

func snapshotRef(snapshotID string) string {
	return fmt.Sprintf("%s:%s", snapshotRepo, strings.ToLower(snapshotID))
}

func (p *Provider) destroyContainer(ctx context.Context, containerID string, logger log.Logger) {
	timeout := 10
	if err := p.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil && !isGone(err) {
		logger.Debugf("Could not stop container %s: %v", containerID, err)
	}
	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !isGone(err) {
		logger.Warningf("Could not remove container %s: %v", containerID, err)
	}
}

func isGone(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "No such container") || strings.Contains(err.Error(), "already in progress"))
}

func categorizeDaemonError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Cannot connect to the Docker daemon"):
		return "docker daemon is not reachable: is it running?"
	case strings.Contains(msg, "toomanyrequests"):
		return "image registry rate limit reached: retry later"
	case strings.Contains(msg, "not found") || strings.Contains(msg, "manifest unknown"):
		return "sandbox image not found"
	}
	return "could not provision sandbox"
}
