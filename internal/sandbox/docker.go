package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/taskbench/taskbench/internal/common/config"
	"github.com/taskbench/taskbench/internal/common/logger"
)

// Containers created by the docker provider carry this label so stray
// ones can be found and removed by operators.
const dockerKeyLabel = "taskbench.key"

// DockerProvider creates execution contexts backed by long-running
// Docker containers. Each key maps to one container kept alive with a
// sleep entrypoint; commands run inside it via the exec API.
type DockerProvider struct {
	cli    *client.Client
	cfg    config.SandboxConfig
	logger *logger.Logger

	mu       sync.Mutex
	contexts map[string]*dockerContext
}

// NewDockerProvider creates a provider talking to the configured daemon.
func NewDockerProvider(cfg config.SandboxConfig, log *logger.Logger) (*DockerProvider, error) {
	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
	}
	if cfg.DockerHost != "" {
		opts = append(opts, client.WithHost(cfg.DockerHost))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerProvider{
		cli:      cli,
		cfg:      cfg,
		logger:   log.WithFields(zap.String("provider", "docker")),
		contexts: make(map[string]*dockerContext),
	}, nil
}

// Acquire returns the context for key, creating and starting the
// backing container on first use. An existing stopped container for the
// same key is restarted rather than recreated.
func (p *DockerProvider) Acquire(ctx context.Context, key string) (Context, error) {
	p.mu.Lock()
	if dc, ok := p.contexts[key]; ok {
		p.mu.Unlock()
		return dc, nil
	}
	p.mu.Unlock()

	containerID, err := p.findContainer(ctx, key)
	if err != nil {
		return nil, err
	}

	if containerID == "" {
		containerID, err = p.createContainer(ctx, key)
		if err != nil {
			return nil, err
		}
	}

	if err := p.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container for %s: %w", key, err)
	}

	dc := &dockerContext{
		key:         key,
		containerID: containerID,
		cli:         p.cli,
		logger:      p.logger.WithFields(zap.String("container_id", containerID[:12])),
	}

	p.mu.Lock()
	p.contexts[key] = dc
	p.mu.Unlock()

	return dc, nil
}

// Close closes the Docker client. Containers are left running.
func (p *DockerProvider) Close() error {
	p.mu.Lock()
	p.contexts = make(map[string]*dockerContext)
	p.mu.Unlock()
	return p.cli.Close()
}

func (p *DockerProvider) findContainer(ctx context.Context, key string) (string, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", fmt.Sprintf("%s=%s", dockerKeyLabel, key))

	containers, err := p.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to list containers: %w", err)
	}
	if len(containers) == 0 {
		return "", nil
	}
	return containers[0].ID, nil
}

func (p *DockerProvider) createContainer(ctx context.Context, key string) (string, error) {
	name := p.cfg.NamePrefix + sanitizeName(key)

	p.logger.Info("creating sandbox container",
		zap.String("key", key),
		zap.String("image", p.cfg.DockerImage),
		zap.String("name", name))

	containerCfg := &container.Config{
		Image: p.cfg.DockerImage,
		Cmd:   []string{"sleep", "infinity"},
		Labels: map[string]string{
			dockerKeyLabel: key,
		},
	}
	hostCfg := &container.HostConfig{}

	resp, err := p.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container for %s: %w", key, err)
	}
	return resp.ID, nil
}

// dockerContext addresses a single running container.
type dockerContext struct {
	key         string
	containerID string
	cli         *client.Client
	logger      *logger.Logger
}

func (c *dockerContext) Key() string {
	return c.key
}

func (c *dockerContext) Run(ctx context.Context, opts RunOpts, name string, args ...string) (*ExecResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	execResp, err := c.cli.ContainerExecCreate(ctx, c.containerID, container.ExecOptions{
		Cmd:          append([]string{name}, args...),
		WorkingDir:   opts.Dir,
		Env:          opts.Env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := c.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := c.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
		Success:  inspect.ExitCode == 0,
	}, nil
}

func (c *dockerContext) StartDetached(ctx context.Context, opts StartOpts, name string, args ...string) error {
	execResp, err := c.cli.ContainerExecCreate(ctx, c.containerID, container.ExecOptions{
		Cmd:        append([]string{name}, args...),
		WorkingDir: opts.Dir,
		Env:        opts.Env,
		Detach:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to create exec: %w", err)
	}

	if err := c.cli.ContainerExecStart(ctx, execResp.ID, container.ExecStartOptions{Detach: true}); err != nil {
		return fmt.Errorf("failed to start detached exec: %w", err)
	}

	c.logger.Debug("started detached process", zap.String("command", name))
	return nil
}

func (c *dockerContext) OpenStream(ctx context.Context, name string, args ...string) (Stream, error) {
	execResp, err := c.cli.ContainerExecCreate(ctx, c.containerID, container.ExecOptions{
		Cmd:          append([]string{name}, args...),
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := c.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}

	// Demultiplex the docker stream into separate stdout and stderr pipes.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(stdoutW, stderrW, attach.Reader)
		_ = stdoutW.CloseWithError(copyErr)
		_ = stderrW.CloseWithError(copyErr)
	}()

	c.logger.Debug("opened output stream", zap.String("command", name))

	wait := func() error {
		inspectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		inspect, err := c.cli.ContainerExecInspect(inspectCtx, execResp.ID)
		if err != nil {
			return fmt.Errorf("failed to inspect exec: %w", err)
		}
		if inspect.ExitCode != 0 {
			return fmt.Errorf("stream command exited with code %d", inspect.ExitCode)
		}
		return nil
	}
	stop := func() error {
		attach.Close()
		return nil
	}

	return newLineStream(stdoutR, stderrR, wait, stop), nil
}
