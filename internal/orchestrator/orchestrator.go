// Package orchestrator sequences sandbox provisioning: credentials, clone,
// dependency install, git setup and branch strategy. Every step honors a
// shared cancellation predicate before proceeding.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskmill/taskmill/internal/credentials"
	"github.com/taskmill/taskmill/internal/detect"
	"github.com/taskmill/taskmill/internal/gitops"
	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/provider"
	"github.com/taskmill/taskmill/internal/runner"
)

// ServiceConfig is the configuration for the orchestrator service.
type ServiceConfig struct {
	Selector    provider.Selector
	Credentials credentials.Resolver

	// CloneDepth is the git history depth fetched into sandboxes.
	CloneDepth int
	// ProvisionTimeout bounds sandbox creation including the clone.
	ProvisionTimeout time.Duration
	// StartDevServer enables the optional dev server step for detected
	// node projects.
	StartDevServer bool

	GitAuthorName  string
	GitAuthorEmail string

	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Selector == nil {
		return fmt.Errorf("provider selector is required")
	}
	if c.Credentials == nil {
		return fmt.Errorf("credentials resolver is required")
	}
	if c.CloneDepth == 0 {
		c.CloneDepth = 1
	}
	if c.ProvisionTimeout == 0 {
		c.ProvisionTimeout = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "orchestrator.Service"})
	return nil
}

// Service provisions ready-to-use sandboxes for tasks.
type Service struct {
	selector    provider.Selector
	credentials credentials.Resolver

	cloneDepth       int
	provisionTimeout time.Duration
	startDevServer   bool

	gitAuthorName  string
	gitAuthorEmail string

	logger log.Logger
}

// NewService creates a new orchestrator service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		selector:         cfg.Selector,
		credentials:      cfg.Credentials,
		cloneDepth:       cfg.CloneDepth,
		provisionTimeout: cfg.ProvisionTimeout,
		startDevServer:   cfg.StartDevServer,
		gitAuthorName:    cfg.GitAuthorName,
		gitAuthorEmail:   cfg.GitAuthorEmail,
		logger:           cfg.Logger,
	}, nil
}

// CreateRequest describes one sandbox to provision.
type CreateRequest struct {
	Task *model.Task

	// RepoToken is a short-lived token embedded into the clone URL. It must
	// never appear in logs or progress messages.
	RepoToken string
	// BranchName is the precomputed branch name, may be empty.
	BranchName string

	Image string
	Env   map[string]string

	CancelCheck provider.CancelCheck
	OnProgress  func(step string)
}

// CreateResult is the outcome of a provisioning run. Cancelled results leave
// nothing behind.
type CreateResult struct {
	Sandbox      *model.SandboxInstance
	Cancelled    bool
	Branch       string
	Environment  detect.Environment
	DevServerURL string
	// Credentials are the resolved backend credentials, handed to the agent
	// executor so resolution happens exactly once.
	Credentials model.AgentCredentials
}

// CreateSandbox runs the provisioning sequence for a task. Expected failures
// return sentinel-wrapped errors; a cancelled run returns Cancelled with no
// error and no live sandbox.
func (s *Service) CreateSandbox(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	task := req.Task
	if task == nil {
		return nil, fmt.Errorf("task is required: %w", model.ErrNotValid)
	}
	logger := s.logger.WithValues(log.Kv{"task-id": task.ID})

	cancelled := func() bool {
		return req.CancelCheck != nil && req.CancelCheck(ctx)
	}
	progress := func(step string) {
		if req.OnProgress != nil {
			req.OnProgress(step)
		}
		logger.Infof("%s", step)
	}

	// Credentials first: a missing key must fail before anything is created.
	creds, err := s.credentials.ResolveKey(ctx, task.UserID, task.AgentType.Vendor())
	if err != nil {
		return nil, fmt.Errorf("could not resolve credentials: %w", err)
	}
	if creds.Empty() {
		return nil, fmt.Errorf("no %s credential configured for agent %q: %w", task.AgentType.Vendor(), task.AgentType, model.ErrMissingCredential)
	}

	if cancelled() {
		return &CreateResult{Cancelled: true}, nil
	}

	cloneURL, err := gitops.AuthenticatedCloneURL(task.RepoURL, req.RepoToken)
	if err != nil {
		return nil, err
	}

	prov, err := s.selector.ForType(task.SandboxType)
	if err != nil {
		return nil, fmt.Errorf("no provider for type %q: %w", task.SandboxType, err)
	}

	progress("creating sandbox")
	sandbox, err := s.provision(ctx, prov, task, cloneURL, req, logger)
	if err != nil {
		return nil, err
	}
	if sandbox == nil {
		return &CreateResult{Cancelled: true}, nil
	}

	// From here on every failure and cancellation must destroy the sandbox.
	result := &CreateResult{Sandbox: sandbox, Credentials: creds}

	r, err := runner.NewRunner(runner.RunnerConfig{Provider: prov, Logger: logger})
	if err != nil {
		s.destroy(ctx, prov, sandbox, logger)
		return nil, err
	}

	if cancelled() {
		s.destroy(ctx, prov, sandbox, logger)
		return &CreateResult{Cancelled: true}, nil
	}

	progress("installing dependencies")
	result.Environment = s.installDependencies(ctx, r, sandbox, logger)

	if cancelled() {
		s.destroy(ctx, prov, sandbox, logger)
		return &CreateResult{Cancelled: true}, nil
	}

	git, err := gitops.NewService(gitops.ServiceConfig{
		Runner:      r,
		AuthorName:  s.gitAuthorName,
		AuthorEmail: s.gitAuthorEmail,
		Logger:      logger,
	})
	if err != nil {
		s.destroy(ctx, prov, sandbox, logger)
		return nil, err
	}

	progress("configuring git")
	if err := git.ConfigureIdentity(ctx, sandbox); err != nil {
		s.destroy(ctx, prov, sandbox, logger)
		return nil, fmt.Errorf("could not configure git identity: %w", err)
	}

	if cancelled() {
		s.destroy(ctx, prov, sandbox, logger)
		return &CreateResult{Cancelled: true}, nil
	}

	branch := gitops.BranchStrategy(task.BranchName, req.BranchName)
	progress(fmt.Sprintf("checking out branch %s", branch))
	if err := git.CheckoutBranch(ctx, sandbox, branch); err != nil {
		s.destroy(ctx, prov, sandbox, logger)
		return nil, fmt.Errorf("could not prepare branch %q: %w", branch, err)
	}
	result.Branch = branch

	if s.startDevServer && result.Environment.Kind == detect.KindNode && !cancelled() {
		result.DevServerURL = s.launchDevServer(ctx, r, sandbox, logger)
	}

	return result, nil
}

// provision runs the provider create with the provisioning bound. A nil
// sandbox with nil error means the create was cancelled.
func (s *Service) provision(ctx context.Context, prov provider.Provider, task *model.Task, cloneURL string, req CreateRequest, logger log.Logger) (*model.SandboxInstance, error) {
	createCtx, cancel := context.WithTimeout(ctx, s.provisionTimeout)
	defer cancel()

	res, err := prov.Create(createCtx, model.SandboxConfig{
		TaskID:     task.ID,
		RepoURL:    cloneURL,
		CloneDepth: s.cloneDepth,
		Image:      req.Image,
		Env:        req.Env,
	}, provider.CreateOpts{
		CancelCheck: req.CancelCheck,
		OnProgress:  req.OnProgress,
	}, logger)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || createCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("sandbox was not ready after %s, the repository may be too large or have too many dependencies: %w", s.provisionTimeout, model.ErrProvisionTimeout)
		}
		return nil, fmt.Errorf("could not create sandbox: %w", err)
	}

	if res.Cancelled {
		return nil, nil
	}
	if !res.Success {
		return nil, fmt.Errorf("could not create sandbox: %s", res.Error)
	}
	return res.Sandbox, nil
}

// installDependencies detects the project kind and installs dependencies.
// Install failures degrade the run, the agent is still attempted.
func (s *Service) installDependencies(ctx context.Context, r *runner.Runner, sandbox *model.SandboxInstance, logger log.Logger) detect.Environment {
	detector, err := detect.NewDetector(detect.DetectorConfig{Runner: r, Logger: logger})
	if err != nil {
		logger.Warningf("Could not build detector: %s", err)
		return detect.Environment{Kind: detect.KindUnknown}
	}

	env := detector.Detect(ctx, sandbox)
	logger.Infof("Detected %s project", env.Kind)

	if err := detector.Install(ctx, sandbox, env); err != nil {
		logger.Warningf("Dependency install failed, continuing without: %s", err)
	}
	return env
}

// launchDevServer starts a background dev server and returns its URL. Best
// effort: failures only log. Server output stays in the sandbox.
func (s *Service) launchDevServer(ctx context.Context, r *runner.Runner, sandbox *model.SandboxInstance, logger log.Logger) string {
	script := "nohup npm run dev >/tmp/devserver.log 2>&1 & echo started"
	if _, err := r.RunShell(ctx, sandbox, script, model.ExecOpts{}, 30*time.Second); err != nil {
		logger.Warningf("Could not start dev server: %s", err)
		return ""
	}
	if sandbox.Domain == "" {
		return ""
	}
	return fmt.Sprintf("https://%s", sandbox.Domain)
}

func (s *Service) destroy(ctx context.Context, prov provider.Provider, sandbox *model.SandboxInstance, logger log.Logger) {
	if err := prov.Destroy(ctx, sandbox, logger); err != nil {
		logger.Errorf("Could not destroy sandbox %s: %s", sandbox.ID, err)
	}
}
