// Package orchestrator drives the task lifecycle: it provisions an
// execution context per task, boots the coding agent inside it, and
// exposes the narrow operations callers use afterwards (event
// subscription, diff, abort). The orchestrator keeps no task table;
// every operation is addressed by caller-supplied identifiers.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskbench/taskbench/internal/agent/opencode"
	"github.com/taskbench/taskbench/internal/common/config"
	"github.com/taskbench/taskbench/internal/common/logger"
	"github.com/taskbench/taskbench/internal/events"
	"github.com/taskbench/taskbench/internal/events/bus"
	"github.com/taskbench/taskbench/internal/sandbox"
	"github.com/taskbench/taskbench/internal/stream"
)

const (
	diffTimeout = 30 * time.Second

	eventSource = "orchestrator"
)

// agentClient is the slice of the agent protocol the orchestrator uses.
type agentClient interface {
	Probe(ctx context.Context) bool
	CreateSession(ctx context.Context) (string, error)
	DispatchPrompt(ctx context.Context, sessionID, prompt string) error
	Abort(ctx context.Context, sessionID string) error
	StreamCommand() (string, []string)
}

// Orchestrator owns the execution-context provider and the agent
// configuration shared by all tasks.
type Orchestrator struct {
	provider sandbox.Provider
	bus      bus.EventBus
	cfg      config.AgentConfig
	logger   *logger.Logger

	// newAgent builds the protocol client for a context. Swapped in tests.
	newAgent func(sb sandbox.Context) agentClient
}

// New creates an orchestrator on top of the given provider and bus.
func New(provider sandbox.Provider, eventBus bus.EventBus, cfg config.AgentConfig, log *logger.Logger) *Orchestrator {
	o := &Orchestrator{
		provider: provider,
		bus:      eventBus,
		cfg:      cfg,
		logger:   log,
	}
	o.newAgent = func(sb sandbox.Context) agentClient {
		return opencode.NewClient(sb, cfg.Port, log)
	}
	return o
}

// OpenEvents opens a live, session-filtered event subscription for a
// task. The subscription reads from the agent's SSE stream inside the
// task's execution context and ends when that stream ends; it does not
// reconnect.
func (o *Orchestrator) OpenEvents(ctx context.Context, taskID, sessionID string) (*stream.Subscription, error) {
	sb, err := o.provider.Acquire(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire execution context: %w", err)
	}

	name, args := o.newAgent(sb).StreamCommand()
	s, err := sb.OpenStream(ctx, name, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}

	return stream.NewSubscription(taskID, sessionID, s, o.logger), nil
}

// GetDiff returns the working-tree diff against the last commit inside
// the task's execution context. A missing context, missing repository,
// or clean tree all yield an empty diff rather than an error.
func (o *Orchestrator) GetDiff(ctx context.Context, taskID string) (string, error) {
	log := o.logger.WithTaskID(taskID)

	sb, err := o.provider.Acquire(ctx, taskID)
	if err != nil {
		log.Warn("diff requested for unavailable context", zap.Error(err))
		return "", nil
	}

	res, err := sb.Run(ctx, sandbox.RunOpts{Timeout: diffTimeout},
		"git", "-C", o.cfg.WorkspacePath, "diff", "HEAD")
	if err != nil {
		log.Warn("diff command failed", zap.Error(err))
		return "", nil
	}
	if !res.Success {
		log.Debug("diff returned non-zero", zap.String("stderr", res.Stderr))
		return "", nil
	}

	return res.Stdout, nil
}

// Abort forwards an abort signal to the agent session. The signal is
// best-effort: once the forwarding call has been made the operation
// reports success, whatever the agent did with it. The execution
// context stays up so the caller can keep watching the event stream
// for the terminal event.
func (o *Orchestrator) Abort(ctx context.Context, taskID, sessionID string) error {
	log := o.logger.WithTaskID(taskID).WithSessionID(sessionID)

	sb, err := o.provider.Acquire(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to acquire execution context: %w", err)
	}

	if err := o.newAgent(sb).Abort(ctx, sessionID); err != nil {
		log.Warn("abort forwarding failed", zap.Error(err))
	}

	o.publish(ctx, events.TaskAborted, map[string]interface{}{
		"task_id":    taskID,
		"session_id": sessionID,
	})

	log.Info("task abort forwarded")
	return nil
}

// publish emits a lifecycle notification. Bus failures are logged and
// swallowed; notifications are advisory.
func (o *Orchestrator) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, subject, bus.NewEvent(subject, eventSource, data)); err != nil {
		o.logger.Warn("failed to publish lifecycle event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
