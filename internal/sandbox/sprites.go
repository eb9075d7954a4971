package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sprites "github.com/superfly/sprites-go"
	"go.uber.org/zap"

	"github.com/taskbench/taskbench/internal/common/config"
	"github.com/taskbench/taskbench/internal/common/logger"
)

const (
	spriteCreateTimeout = 120 * time.Second
	spriteNameMaxLen    = 48
)

// SpritesProvider creates execution contexts backed by Sprites.dev
// remote sandboxes. Sprites are created lazily: the first command sent
// to a sprite name provisions it.
type SpritesProvider struct {
	client *sprites.Client
	prefix string
	logger *logger.Logger

	mu       sync.Mutex
	contexts map[string]*spriteContext
}

// NewSpritesProvider creates a provider using the configured API token.
func NewSpritesProvider(cfg config.SandboxConfig, log *logger.Logger) (*SpritesProvider, error) {
	if cfg.SpritesToken == "" {
		return nil, fmt.Errorf("sprites API token not configured (set SPRITES_API_TOKEN)")
	}

	return &SpritesProvider{
		client:   sprites.New(cfg.SpritesToken),
		prefix:   cfg.NamePrefix,
		logger:   log.WithFields(zap.String("provider", "sprites")),
		contexts: make(map[string]*spriteContext),
	}, nil
}

// Acquire returns the context for key, provisioning the sprite on first use.
func (p *SpritesProvider) Acquire(ctx context.Context, key string) (Context, error) {
	p.mu.Lock()
	if sc, ok := p.contexts[key]; ok {
		p.mu.Unlock()
		return sc, nil
	}
	p.mu.Unlock()

	name := p.spriteName(key)
	sprite := p.client.Sprite(name)

	p.logger.Info("provisioning sprite",
		zap.String("key", key),
		zap.String("sprite_name", name))

	// Lazy create on first command
	stepCtx, cancel := context.WithTimeout(ctx, spriteCreateTimeout)
	defer cancel()

	out, err := sprite.CommandContext(stepCtx, "echo", "sandbox-ready").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to create sprite %s: %w", name, err)
	}
	if !strings.Contains(string(out), "sandbox-ready") {
		return nil, fmt.Errorf("unexpected sprite output: %s", string(out))
	}

	sc := &spriteContext{
		key:    key,
		sprite: sprite,
		logger: p.logger.WithFields(zap.String("sprite_name", name)),
	}

	p.mu.Lock()
	p.contexts[key] = sc
	p.mu.Unlock()

	return sc, nil
}

// Close drops cached contexts. Sprites themselves are left running.
func (p *SpritesProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contexts = make(map[string]*spriteContext)
	return nil
}

func (p *SpritesProvider) spriteName(key string) string {
	name := p.prefix + sanitizeName(key)
	if len(name) > spriteNameMaxLen {
		name = name[:spriteNameMaxLen]
	}
	return strings.TrimRight(name, "-")
}

// spriteContext addresses a single provisioned sprite.
type spriteContext struct {
	key    string
	sprite *sprites.Sprite
	logger *logger.Logger
}

func (c *spriteContext) Key() string {
	return c.key
}

func (c *spriteContext) Run(ctx context.Context, opts RunOpts, name string, args ...string) (*ExecResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := c.sprite.CommandContext(ctx, name, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	err := cmd.Wait()
	res := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err == nil {
		res.Success = true
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Non-zero exit is reported via the result, not as an error.
	res.ExitCode = 1
	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) {
		res.ExitCode = ec.ExitCode()
	}
	return res, nil
}

func (c *spriteContext) StartDetached(_ context.Context, opts StartOpts, name string, args ...string) error {
	// Background context so the process outlives this call.
	cmd := c.sprite.CommandContext(context.Background(), name, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	c.logger.Debug("started detached process", zap.String("command", name))
	return nil
}

func (c *spriteContext) OpenStream(ctx context.Context, name string, args ...string) (Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	cmd := c.sprite.CommandContext(streamCtx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	c.logger.Debug("opened output stream", zap.String("command", name))

	return newLineStream(stdout, stderr,
		func() error { return cmd.Wait() },
		func() error { cancel(); return nil },
	), nil
}

// sanitizeName maps a context key to characters valid in sprite and
// container names.
func sanitizeName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
