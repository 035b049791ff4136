// Package task drives the task state machine: it takes a pending task through
// sandbox provisioning, agent execution, commit and push, racing the whole
// pipeline against a heartbeat-extendable timeout.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskmill/taskmill/internal/agent"
	"github.com/taskmill/taskmill/internal/gitops"
	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/orchestrator"
	"github.com/taskmill/taskmill/internal/provider"
	"github.com/taskmill/taskmill/internal/registry"
	"github.com/taskmill/taskmill/internal/runner"
	"github.com/taskmill/taskmill/internal/storage"
)

// AgentFactory builds the executor and git service bound to a provider.
type AgentFactory func(t model.AgentType, prov provider.Provider, logger log.Logger) (agent.Executor, *gitops.Service, error)

// ServiceConfig is the configuration for the task processor.
type ServiceConfig struct {
	Repo         storage.TaskRepository
	Connectors   storage.ConnectorRepository
	Orchestrator *orchestrator.Service
	Selector     provider.Selector
	Registry     *registry.Registry

	Namer   Namer
	Limiter Limiter
	// AgentFactory may be replaced in tests.
	AgentFactory AgentFactory

	// SandboxImage overrides the provider's default image.
	SandboxImage string
	// SandboxEnv is extra environment injected into every sandbox.
	SandboxEnv map[string]string
	// RepoToken authenticates repository clone and push. It is embedded into
	// the clone URL and must never be logged.
	RepoToken string

	// Timeout is the hard bound on one task pipeline.
	Timeout time.Duration
	// WarningLead is how long before the timeout the warning log fires.
	WarningLead time.Duration
	// HeartbeatGrace bounds both how stale a heartbeat may be to justify an
	// extension and the total extension budget past Timeout.
	HeartbeatGrace time.Duration
	// ExtensionInterval is the size of a single timeout extension.
	ExtensionInterval time.Duration
	// NameWait bounds the wait for out-of-band name generation.
	NameWait time.Duration
	// WatchTick is the watchdog poll interval.
	WatchTick time.Duration

	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repo == nil {
		return fmt.Errorf("task repository is required")
	}
	if c.Orchestrator == nil {
		return fmt.Errorf("orchestrator is required")
	}
	if c.Selector == nil {
		return fmt.Errorf("provider selector is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}
	if c.Namer == nil {
		c.Namer = PromptNamer{}
	}
	if c.Limiter == nil {
		c.Limiter = unlimited{}
	}
	if c.AgentFactory == nil {
		c.AgentFactory = defaultAgentFactory
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Minute
	}
	if c.WarningLead == 0 {
		c.WarningLead = time.Minute
	}
	if c.HeartbeatGrace == 0 {
		c.HeartbeatGrace = 5 * time.Minute
	}
	if c.ExtensionInterval == 0 {
		c.ExtensionInterval = time.Minute
	}
	if c.NameWait == 0 {
		c.NameWait = 10 * time.Second
	}
	if c.WatchTick == 0 {
		c.WatchTick = time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "task.Service"})
	return nil
}

func defaultAgentFactory(t model.AgentType, prov provider.Provider, logger log.Logger) (agent.Executor, *gitops.Service, error) {
	r, err := runner.NewRunner(runner.RunnerConfig{Provider: prov, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	git, err := gitops.NewService(gitops.ServiceConfig{Runner: r, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	exec, err := agent.New(t, agent.ExecutorConfig{Runner: r, Git: git, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return exec, git, nil
}

// Service processes tasks end to end.
type Service struct {
	cfg ServiceConfig
}

// NewService creates a new task processor.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Service{cfg: cfg}, nil
}

// ProcessTaskWithTimeout starts the full pipeline in the background. It never
// reports an error to the caller: the task row always ends in a terminal
// status.
func (s *Service) ProcessTaskWithTimeout(taskID string) {
	go s.Process(context.Background(), taskID)
}

// outcome is the terminal result of one pipeline run.
type outcome struct {
	status     model.TaskStatus
	errMsg     string
	pushFailed bool
}

// Process runs the pipeline synchronously, racing it against the task
// timeout. It always writes a terminal status.
func (s *Service) Process(ctx context.Context, taskID string) {
	logger := s.cfg.Logger.WithValues(log.Kv{"task-id": taskID})

	task, err := s.cfg.Repo.GetTask(ctx, taskID)
	if err != nil {
		logger.Errorf("Could not load task: %s", err)
		return
	}

	if task.Status == model.TaskStatusPending {
		if err := s.update(ctx, taskID, model.TaskUpdate{Status: statusPtr(model.TaskStatusProcessing)}); err != nil {
			logger.Errorf("Could not mark task processing: %s", err)
			return
		}
		task.Status = model.TaskStatusProcessing
		if err := s.cfg.Repo.AppendMessage(ctx, taskID, model.MessageRoleUser, task.Prompt); err != nil {
			logger.Warningf("Could not persist prompt message: %s", err)
		}
	}

	if err := s.cfg.Limiter.Acquire(ctx, task.UserID); err != nil {
		s.finish(ctx, taskID, outcome{status: model.TaskStatusError, errMsg: "too many running tasks, try again later"}, logger)
		return
	}
	defer s.cfg.Limiter.Release(task.UserID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hb := &heartbeat{}
	pipelineDone := make(chan outcome, 1)
	go func() {
		pipelineDone <- s.pipeline(runCtx, task, hb, cancel, logger)
	}()

	s.watch(ctx, taskID, hb, cancel, pipelineDone, logger)
}

// watch races the pipeline against the extendable deadline.
func (s *Service) watch(ctx context.Context, taskID string, hb *heartbeat, cancel context.CancelFunc, pipelineDone <-chan outcome, logger log.Logger) {
	start := time.Now()
	deadline := start.Add(s.cfg.Timeout)
	maxDeadline := deadline.Add(s.cfg.HeartbeatGrace)
	warned := false

	ticker := time.NewTicker(s.cfg.WatchTick)
	defer ticker.Stop()

	for {
		select {
		case out := <-pipelineDone:
			s.finish(ctx, taskID, out, logger)
			return
		case <-ticker.C:
		}

		now := time.Now()
		if !warned && now.After(deadline.Add(-s.cfg.WarningLead)) {
			warned = true
			s.appendLog(ctx, taskID, "task is about to reach its time limit", logger)
		}
		if !now.After(deadline) {
			continue
		}

		if hb.extendable(now, s.cfg.HeartbeatGrace) && deadline.Before(maxDeadline) {
			deadline = deadline.Add(s.cfg.ExtensionInterval)
			warned = false
			n := hb.extend()
			if err := s.update(ctx, taskID, model.TaskUpdate{HeartbeatExtension: &n}); err != nil {
				logger.Debugf("Could not persist extension count: %s", err)
			}
			s.appendLog(ctx, taskID, "time limit extended, a nested agent operation is still running", logger)
			continue
		}

		cancel()
		// Let the pipeline unwind and release its sandbox before recording
		// the timeout.
		<-pipelineDone
		s.finish(ctx, taskID, outcome{status: model.TaskStatusError, errMsg: "task timed out"}, logger)
		return
	}
}

// pipeline is the sequential task work: naming, sandbox, agent, commit, push.
func (s *Service) pipeline(ctx context.Context, task *model.Task, hb *heartbeat, cancelRun context.CancelFunc, logger log.Logger) outcome {
	cancelled := func(ctx context.Context) bool {
		if ctx.Err() != nil {
			return true
		}
		t, err := s.cfg.Repo.GetTask(ctx, task.ID)
		return err == nil && t.CancelRequested
	}

	branchName, title := s.awaitName(ctx, task.Prompt, logger)
	if title != "" && task.Title == "" {
		if err := s.update(ctx, task.ID, model.TaskUpdate{Title: &title}); err != nil {
			logger.Debugf("Could not persist title: %s", err)
		}
	}

	if cancelled(ctx) {
		return outcome{status: model.TaskStatusStopped}
	}

	s.appendLog(ctx, task.ID, "provisioning sandbox", logger)
	created, err := s.cfg.Orchestrator.CreateSandbox(ctx, orchestrator.CreateRequest{
		Task:        task,
		BranchName:  branchName,
		RepoToken:   s.cfg.RepoToken,
		Image:       s.cfg.SandboxImage,
		Env:         s.cfg.SandboxEnv,
		CancelCheck: cancelled,
		OnProgress: func(step string) {
			s.appendLog(ctx, task.ID, step, logger)
		},
	})
	if err != nil {
		return outcome{status: model.TaskStatusError, errMsg: categorize(err)}
	}
	if created.Cancelled {
		return outcome{status: model.TaskStatusStopped}
	}

	sandbox := created.Sandbox
	if err := s.update(ctx, task.ID, model.TaskUpdate{
		SandboxID:   &sandbox.ID,
		SandboxType: &sandbox.Type,
		BranchName:  &created.Branch,
		Progress:    intPtr(40),
	}); err != nil {
		logger.Warningf("Could not persist sandbox handle: %s", err)
	}

	s.cfg.Registry.Register(task.ID, registry.Handle{Sandbox: sandbox, Cancel: cancelRun})
	defer s.cfg.Registry.Unregister(task.ID)
	defer s.teardown(sandbox, task.KeepAlive, logger)

	if cancelled(ctx) {
		return outcome{status: model.TaskStatusStopped}
	}

	prov, err := s.cfg.Selector.ForType(sandbox.Type)
	if err != nil {
		return outcome{status: model.TaskStatusError, errMsg: "sandbox provider is unavailable"}
	}
	exec, git, err := s.cfg.AgentFactory(task.AgentType, prov, logger)
	if err != nil {
		return outcome{status: model.TaskStatusError, errMsg: "agent backend is unavailable"}
	}

	resumed := task.SessionID != ""
	s.appendLog(ctx, task.ID, fmt.Sprintf("preparing %s agent", task.AgentType), logger)
	if err := exec.EnsureInstalled(ctx, sandbox, resumed); err != nil {
		return outcome{status: model.TaskStatusError, errMsg: "could not install the agent in the sandbox"}
	}

	var connectors []model.Connector
	if s.cfg.Connectors != nil {
		connectors, err = s.cfg.Connectors.ListConnectors(ctx, task.UserID)
		if err != nil {
			logger.Warningf("Could not list connectors, continuing without: %s", err)
		}
	}

	s.appendLog(ctx, task.ID, "running agent", logger)
	res, err := exec.Execute(ctx, agent.ExecuteRequest{
		Sandbox:     sandbox,
		Instruction: task.Prompt,
		Model:       task.Model,
		SessionID:   task.SessionID,
		Resumed:     resumed,
		Credentials: created.Credentials,
		Connectors:  connectors,
		CancelCheck: cancelled,
		OnActivity:  hb.recorder(s.cfg.Repo, task.ID, logger),
	})
	if res != nil && res.SessionID != "" {
		if uerr := s.update(ctx, task.ID, model.TaskUpdate{SessionID: &res.SessionID}); uerr != nil {
			logger.Debugf("Could not persist session id: %s", uerr)
		}
	}
	if err != nil {
		if errors.Is(err, model.ErrCancelled) {
			return outcome{status: model.TaskStatusStopped}
		}
		return outcome{status: model.TaskStatusError, errMsg: categorize(err)}
	}
	if !res.Success {
		return outcome{status: model.TaskStatusError, errMsg: res.Error}
	}

	if res.Reply != "" {
		if merr := s.cfg.Repo.AppendMessage(ctx, task.ID, model.MessageRoleAssistant, res.Reply); merr != nil {
			logger.Warningf("Could not persist agent reply: %s", merr)
		}
	}

	if err := s.update(ctx, task.ID, model.TaskUpdate{Progress: intPtr(80)}); err != nil {
		logger.Debugf("Could not persist progress: %s", err)
	}

	if !res.ChangesDetected {
		s.appendLog(ctx, task.ID, "agent finished without file changes", logger)
		return outcome{status: model.TaskStatusCompleted}
	}

	s.appendLog(ctx, task.ID, "committing changes", logger)
	if err := git.CommitAll(ctx, sandbox, commitMessage(task, title)); err != nil {
		return outcome{status: model.TaskStatusError, errMsg: "could not commit the agent's changes"}
	}

	s.appendLog(ctx, task.ID, fmt.Sprintf("pushing branch %s", created.Branch), logger)
	push := git.Push(ctx, sandbox, created.Branch)

	return outcome{status: model.TaskStatusCompleted, pushFailed: push.PushFailed}
}

// awaitName waits a bounded time for out-of-band name generation.
func (s *Service) awaitName(ctx context.Context, prompt string, logger log.Logger) (string, string) {
	type named struct{ branch, title string }
	ch := make(chan named, 1)
	go func() {
		branch, title, err := s.cfg.Namer.Name(ctx, prompt)
		if err != nil {
			logger.Debugf("Name generation failed: %s", err)
			ch <- named{}
			return
		}
		ch <- named{branch: branch, title: title}
	}()

	select {
	case n := <-ch:
		return n.branch, n.title
	case <-time.After(s.cfg.NameWait):
		logger.Warningf("Name generation timed out, falling back to generated names")
		return "", ""
	case <-ctx.Done():
		return "", ""
	}
}

// teardown releases the sandbox after the pipeline, honoring keep-alive. It
// runs on its own context so a cancelled pipeline still cleans up.
func (s *Service) teardown(sandbox *model.SandboxInstance, keepAlive bool, logger log.Logger) {
	if keepAlive {
		logger.Infof("Keeping sandbox %s alive as requested", sandbox.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	prov, err := s.cfg.Selector.ForType(sandbox.Type)
	if err != nil {
		logger.Errorf("Could not resolve provider for teardown: %s", err)
		return
	}
	if err := prov.Destroy(ctx, sandbox, logger); err != nil {
		logger.Errorf("Could not destroy sandbox %s: %s", sandbox.ID, err)
	}
}

// finish writes the terminal status. A task already moved to a terminal
// status by a concurrent stop keeps it.
func (s *Service) finish(ctx context.Context, taskID string, out outcome, logger log.Logger) {
	current, err := s.cfg.Repo.GetTask(ctx, taskID)
	if err != nil {
		logger.Errorf("Could not load task for finish: %s", err)
		return
	}
	if !current.Status.CanTransitionTo(out.status) {
		logger.Debugf("Task already %s, not moving to %s", current.Status, out.status)
		return
	}

	update := model.TaskUpdate{Status: &out.status}
	if out.errMsg != "" {
		update.Error = &out.errMsg
	}
	if out.status == model.TaskStatusCompleted {
		update.Progress = intPtr(100)
	}
	if out.pushFailed {
		t := true
		update.PushFailed = &t
	}

	if err := s.update(ctx, taskID, update); err != nil {
		logger.Errorf("Could not write terminal status: %s", err)
		return
	}
	logger.Infof("Task finished with status %s", out.status)
}

func (s *Service) update(ctx context.Context, taskID string, update model.TaskUpdate) error {
	return s.cfg.Repo.UpdateTask(ctx, taskID, update)
}

func (s *Service) appendLog(ctx context.Context, taskID, message string, logger log.Logger) {
	if err := s.cfg.Repo.AppendLog(ctx, taskID, message); err != nil {
		logger.Debugf("Could not append task log: %s", err)
	}
}

// categorize maps pipeline errors to static user-facing messages. Raw error
// text never reaches the task record.
func categorize(err error) string {
	switch {
	case errors.Is(err, model.ErrMissingCredential):
		return "no credential is configured for the selected agent"
	case errors.Is(err, model.ErrProvisionTimeout):
		return "the sandbox was not ready in time, the repository may be too large or have too many dependencies"
	case errors.Is(err, model.ErrAgentStalled):
		return "the agent stopped responding"
	case errors.Is(err, model.ErrOutputLimitExceeded):
		return "the agent produced too much output"
	case errors.Is(err, model.ErrRateLimited):
		return "too many running tasks, try again later"
	case errors.Is(err, model.ErrNotValid):
		return "the task configuration is not valid"
	}
	return "the task failed unexpectedly"
}

func commitMessage(task *model.Task, title string) string {
	if title != "" {
		return title
	}
	if task.Title != "" {
		return task.Title
	}
	msg := task.Prompt
	if len(msg) > 72 {
		msg = msg[:72]
	}
	return msg
}

func statusPtr(s model.TaskStatus) *model.TaskStatus { return &s }
func intPtr(i int) *int                              { return &i }
