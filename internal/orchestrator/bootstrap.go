package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskbench/taskbench/internal/common/logger"
	"github.com/taskbench/taskbench/internal/common/tracing"
	"github.com/taskbench/taskbench/internal/events"
	"github.com/taskbench/taskbench/internal/sandbox"
	"github.com/taskbench/taskbench/internal/task/models"
)

// Bootstrap step names, in execution order.
const (
	StepAcquireContext = "acquire_context"
	StepClone          = "clone"
	StepStartAgent     = "start_agent"
	StepWaitReady      = "wait_ready"
	StepCreateSession  = "create_session"
	StepDispatchPrompt = "dispatch_prompt"
)

const cloneTimeout = 120 * time.Second

// BootstrapError reports which step of the bring-up sequence failed.
// No step is retried and no partial state is rolled back; the context
// is left as-is for diagnosis.
type BootstrapError struct {
	Step string
	Err  error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *BootstrapError) Unwrap() error {
	return e.Err
}

// CreateTask drives a context from empty to "agent running and
// prompted". Steps run strictly in order and the first failure aborts
// the whole sequence. On success the returned Task is the caller's only
// record of the task; the server keeps nothing.
func (o *Orchestrator) CreateTask(ctx context.Context, repoURL, branch, prompt string) (*models.Task, error) {
	taskID := newTaskID()
	createdAt := time.Now().UTC()

	ctx, span := tracing.TraceBootstrap(ctx, taskID, repoURL, branch)
	defer span.End()

	log := o.logger.WithTaskID(taskID)
	log.Info("creating task",
		zap.String("repo_url", repoURL),
		zap.String("branch", branch))

	sb, err := o.acquireContext(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if err := o.cloneRepository(ctx, sb, repoURL, branch); err != nil {
		return nil, err
	}

	if err := o.startAgent(ctx, sb, log); err != nil {
		return nil, err
	}

	agent := o.newAgent(sb)

	if err := o.waitForAgent(ctx, agent); err != nil {
		return nil, err
	}

	sessionID, err := o.createSession(ctx, agent)
	if err != nil {
		return nil, err
	}
	log = log.WithSessionID(sessionID)

	if err := o.dispatchPrompt(ctx, agent, sessionID, prompt); err != nil {
		return nil, err
	}

	task := &models.Task{
		ID:        taskID,
		RepoURL:   repoURL,
		Branch:    branch,
		Prompt:    prompt,
		Status:    models.StatusRunning,
		SessionID: sessionID,
		CreatedAt: createdAt,
		StartedAt: time.Now().UTC(),
	}

	o.publish(ctx, events.TaskCreated, map[string]interface{}{
		"task_id":    task.ID,
		"session_id": task.SessionID,
		"repo_url":   task.RepoURL,
		"branch":     task.Branch,
	})

	log.Info("task created")
	return task, nil
}

func (o *Orchestrator) acquireContext(ctx context.Context, taskID string) (sandbox.Context, error) {
	stepCtx, span := tracing.TraceBootstrapStep(ctx, StepAcquireContext)
	sb, err := o.provider.Acquire(stepCtx, taskID)
	tracing.EndStep(span, err)
	if err != nil {
		return nil, &BootstrapError{Step: StepAcquireContext, Err: err}
	}
	return sb, nil
}

func (o *Orchestrator) cloneRepository(ctx context.Context, sb sandbox.Context, repoURL, branch string) error {
	stepCtx, span := tracing.TraceBootstrapStep(ctx, StepClone)

	res, err := sb.Run(stepCtx, sandbox.RunOpts{
		Timeout: cloneTimeout,
		Env:     []string{"GIT_TERMINAL_PROMPT=0"},
	},
		"git", "clone", "--depth", "1", "--single-branch",
		"--branch", branch, cloneURL(repoURL), o.cfg.WorkspacePath)

	if err == nil && !res.Success {
		// Surface git's own message verbatim; it names the cause
		// (bad URL, unknown branch, auth) better than any wrapper.
		err = errors.New(strings.TrimSpace(res.Stderr))
	}
	tracing.EndStep(span, err)
	if err != nil {
		return &BootstrapError{Step: StepClone, Err: err}
	}
	return nil
}

func (o *Orchestrator) startAgent(ctx context.Context, sb sandbox.Context, log *logger.Logger) error {
	stepCtx, span := tracing.TraceBootstrapStep(ctx, StepStartAgent)

	env := o.agentEnv()
	if o.cfg.InsecureSkipTLSVerify {
		log.Warn("TLS certificate verification DISABLED for agent process; outbound connections are not authenticated")
	}

	err := sb.StartDetached(stepCtx, sandbox.StartOpts{Dir: o.cfg.WorkspacePath, Env: env},
		"opencode", "serve",
		"--hostname", "0.0.0.0",
		"--port", strconv.Itoa(o.cfg.Port))
	tracing.EndStep(span, err)
	if err != nil {
		return &BootstrapError{Step: StepStartAgent, Err: err}
	}
	return nil
}

func (o *Orchestrator) waitForAgent(ctx context.Context, agent agentClient) error {
	stepCtx, span := tracing.TraceBootstrapStep(ctx, StepWaitReady)

	ready := WaitUntilReady(stepCtx, agent.Probe, o.cfg.ReadinessAttempts, o.cfg.ReadinessInterval())

	var err error
	if !ready {
		err = fmt.Errorf("agent server failed to become ready after %d attempts", o.cfg.ReadinessAttempts)
	}
	tracing.EndStep(span, err)
	if err != nil {
		return &BootstrapError{Step: StepWaitReady, Err: err}
	}
	return nil
}

func (o *Orchestrator) createSession(ctx context.Context, agent agentClient) (string, error) {
	stepCtx, span := tracing.TraceBootstrapStep(ctx, StepCreateSession)
	sessionID, err := agent.CreateSession(stepCtx)
	tracing.EndStep(span, err)
	if err != nil {
		return "", &BootstrapError{Step: StepCreateSession, Err: err}
	}
	return sessionID, nil
}

func (o *Orchestrator) dispatchPrompt(ctx context.Context, agent agentClient, sessionID, prompt string) error {
	stepCtx, span := tracing.TraceBootstrapStep(ctx, StepDispatchPrompt)
	err := agent.DispatchPrompt(stepCtx, sessionID, prompt)
	tracing.EndStep(span, err)
	if err != nil {
		return &BootstrapError{Step: StepDispatchPrompt, Err: err}
	}
	return nil
}

// agentEnv builds the environment for the agent process. The agent makes
// outbound TLS calls to model providers, so the certificate bundle has
// to resolve inside the sandbox image.
func (o *Orchestrator) agentEnv() []string {
	var env []string
	if o.cfg.CABundlePath != "" {
		env = append(env,
			"SSL_CERT_FILE="+o.cfg.CABundlePath,
			"NODE_EXTRA_CA_CERTS="+o.cfg.CABundlePath)
	}
	if o.cfg.InsecureSkipTLSVerify {
		env = append(env, "NODE_TLS_REJECT_UNAUTHORIZED=0")
	}
	return env
}

// newTaskID generates an identifier unique enough for concurrent
// creation without any shared counter: time prefix plus random suffix.
func newTaskID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("task-%d-%s", time.Now().UnixMilli(), suffix)
}
