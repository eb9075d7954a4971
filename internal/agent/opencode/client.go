package opencode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskbench/taskbench/internal/common/logger"
	"github.com/taskbench/taskbench/internal/sandbox"
)

// StreamMarker prefixes every SSE payload line emitted by the stream
// command so consumers can separate event data from any other output
// the pipeline produces.
const StreamMarker = "@@event@@"

const (
	probeTimeout   = 5 * time.Second
	requestTimeout = 30 * time.Second
	abortTimeout   = 10 * time.Second
)

// Client talks to an OpenCode server running inside a sandbox. The
// server binds to localhost inside the sandbox, so every request is a
// curl invocation executed through the sandbox context.
type Client struct {
	sb     sandbox.Context
	port   int
	logger *logger.Logger
}

// NewClient creates a client for the server on the given port inside sb.
func NewClient(sb sandbox.Context, port int, log *logger.Logger) *Client {
	return &Client{
		sb:     sb,
		port:   port,
		logger: log.WithFields(zap.String("agent", "opencode")),
	}
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", c.port, path)
}

// Probe reports whether the server is up and healthy. Transport
// failures and malformed bodies both read as not ready.
func (c *Client) Probe(ctx context.Context) bool {
	res, err := c.sb.Run(ctx, sandbox.RunOpts{Timeout: probeTimeout},
		"curl", "-sf", "--max-time", "3", c.url("/global/health"))
	if err != nil || !res.Success {
		return false
	}

	var health HealthResponse
	if err := json.Unmarshal([]byte(res.Stdout), &health); err != nil {
		return false
	}

	if health.Healthy {
		c.logger.Debug("agent server healthy", zap.String("version", health.Version))
	}
	return health.Healthy
}

// CreateSession creates a new session and returns its ID.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	res, err := c.sb.Run(ctx, sandbox.RunOpts{Timeout: requestTimeout},
		"curl", "-sS", "-X", "POST",
		"-H", "Content-Type: application/json",
		"-d", "{}",
		c.url("/session"))
	if err != nil {
		return "", fmt.Errorf("session create request failed: %w", err)
	}
	if !res.Success {
		return "", fmt.Errorf("session create request failed: %s", res.Stderr)
	}

	var sess SessionResponse
	if err := json.Unmarshal([]byte(res.Stdout), &sess); err == nil && sess.ID != "" {
		c.logger.Info("session created", zap.String("session_id", sess.ID))
		return sess.ID, nil
	}

	var errEnv ErrorEnvelope
	if err := json.Unmarshal([]byte(res.Stdout), &errEnv); err == nil && errEnv.Name != "" {
		return "", fmt.Errorf("session create rejected: %s: %s", errEnv.Name, errEnv.GetMessage())
	}

	return "", fmt.Errorf("unexpected session response: %s", res.Stdout)
}

// DispatchPrompt sends the prompt to a session without waiting for the
// agent to finish working. The message endpoint blocks until the turn
// completes, so the request is launched detached; failures after
// dispatch surface as session.error events on the stream.
func (c *Client) DispatchPrompt(ctx context.Context, sessionID, prompt string) error {
	body, err := json.Marshal(PromptRequest{
		Parts: []TextPartInput{{Type: "text", Text: prompt}},
	})
	if err != nil {
		return fmt.Errorf("failed to encode prompt: %w", err)
	}

	err = c.sb.StartDetached(ctx, sandbox.StartOpts{},
		"curl", "-s", "-X", "POST",
		"-H", "Content-Type: application/json",
		"-d", string(body),
		c.url("/session/"+sessionID+"/message"))
	if err != nil {
		return fmt.Errorf("failed to dispatch prompt: %w", err)
	}

	c.logger.Info("prompt dispatched", zap.String("session_id", sessionID))
	return nil
}

// Abort asks the server to stop the session's current work. The server
// treats abort as advisory, so a failed request is reported but the
// session may already be idle.
func (c *Client) Abort(ctx context.Context, sessionID string) error {
	res, err := c.sb.Run(ctx, sandbox.RunOpts{Timeout: abortTimeout},
		"curl", "-sS", "-X", "POST",
		c.url("/session/"+sessionID+"/abort"))
	if err != nil {
		return fmt.Errorf("abort request failed: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("abort request failed: %s", res.Stderr)
	}

	c.logger.Info("session abort requested", zap.String("session_id", sessionID))
	return nil
}

// StreamCommand returns the command that tails the server's SSE stream
// and emits one marker-prefixed JSON payload per line on stdout.
func (c *Client) StreamCommand() (string, []string) {
	pipeline := fmt.Sprintf(
		"curl -sN %s | sed -un 's/^data: \\{0,1\\}/%s/p'",
		c.url("/event"), StreamMarker)
	return "sh", []string{"-c", pipeline}
}
