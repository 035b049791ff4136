// Package gitops runs the git plumbing inside a sandbox: identity and
// credential configuration, branch management, commits and pushes.
package gitops

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/runner"
)

const gitTimeout = 2 * time.Minute

// ServiceConfig is the configuration for the git service.
type ServiceConfig struct {
	Runner *runner.Runner
	// AuthorName and AuthorEmail are the git identity configured in sandboxes.
	AuthorName  string
	AuthorEmail string
	Logger      log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if c.AuthorName == "" {
		c.AuthorName = "taskmill"
	}
	if c.AuthorEmail == "" {
		c.AuthorEmail = "taskmill@localhost"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "gitops.Service"})
	return nil
}

// Service handles git operations in sandboxes.
type Service struct {
	runner      *runner.Runner
	authorName  string
	authorEmail string
	logger      log.Logger
}

// NewService creates a new git service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		runner:      cfg.Runner,
		authorName:  cfg.AuthorName,
		authorEmail: cfg.AuthorEmail,
		logger:      cfg.Logger,
	}, nil
}

// AuthenticatedCloneURL embeds a short-lived token into an https repo URL.
// The result must never be logged.
func AuthenticatedCloneURL(repoURL, token string) (string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("repo url is not valid: %w", model.ErrNotValid)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		// ssh and friends carry their own auth.
		return repoURL, nil
	}
	if token != "" {
		u.User = url.UserPassword("x-access-token", token)
	}
	return u.String(), nil
}

// ConfigureIdentity sets the git author identity and credential storage
// inside the sandbox.
func (s *Service) ConfigureIdentity(ctx context.Context, sandbox *model.SandboxInstance) error {
	steps := [][]string{
		{"git", "config", "user.name", s.authorName},
		{"git", "config", "user.email", s.authorEmail},
		{"git", "config", "credential.helper", "store"},
	}
	for _, step := range steps {
		res, err := s.runner.Run(ctx, sandbox, step, model.ExecOpts{}, gitTimeout)
		if err != nil {
			return fmt.Errorf("could not configure git identity: %w", err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("could not configure git identity (exit %d)", res.ExitCode)
		}
	}

	return nil
}

// BranchStrategy decides the branch to work on.
//
// Priority: an existing branch name (resume), a precomputed name generated
// out-of-band, and as last resort a timestamp plus random suffix.
func BranchStrategy(existing, precomputed string) string {
	if existing != "" {
		return existing
	}
	if precomputed != "" {
		return precomputed
	}
	return fallbackBranchName(time.Now().UTC())
}

func fallbackBranchName(now time.Time) string {
	n, _ := rand.Int(rand.Reader, big.NewInt(1<<20))
	return fmt.Sprintf("taskmill/%s-%05x", now.Format("20060102-150405"), n.Int64())
}

var safeBranchRegexp = regexp.MustCompile(`[^a-zA-Z0-9/_.-]+`)

// SanitizeBranchName reduces an arbitrary title to a usable branch name.
func SanitizeBranchName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	name = strings.ReplaceAll(name, " ", "-")
	name = safeBranchRegexp.ReplaceAllString(name, "")
	name = strings.Trim(name, "-/.")
	if len(name) > 80 {
		name = name[:80]
	}
	return name
}

// CheckoutBranch checks out the branch, creating it when it doesn't exist.
func (s *Service) CheckoutBranch(ctx context.Context, sandbox *model.SandboxInstance, branch string) error {
	var errOut strings.Builder
	res, err := s.runner.Run(ctx, sandbox, []string{"git", "checkout", branch}, model.ExecOpts{Stderr: &errOut}, gitTimeout)
	if err != nil {
		return fmt.Errorf("could not checkout branch: %w", err)
	}
	if res.ExitCode == 0 {
		return nil
	}

	res, err = s.runner.Run(ctx, sandbox, []string{"git", "checkout", "-b", branch}, model.ExecOpts{Stderr: &errOut}, gitTimeout)
	if err != nil {
		return fmt.Errorf("could not create branch: %w", err)
	}
	if res.ExitCode != 0 {
		s.logger.Debugf("Branch creation failed: %s", errOut.String())
		return fmt.Errorf("could not create branch %q", branch)
	}

	return nil
}

// HasChanges reports whether the working tree has any uncommitted
// modification. This is the trust boundary for agent success: backends
// over-report, the diff does not.
func (s *Service) HasChanges(ctx context.Context, sandbox *model.SandboxInstance) (bool, error) {
	var out strings.Builder
	res, err := s.runner.Run(ctx, sandbox, []string{"git", "status", "--porcelain"}, model.ExecOpts{Stdout: &out}, gitTimeout)
	if err != nil {
		return false, fmt.Errorf("could not check working tree: %w", err)
	}
	if res.ExitCode != 0 {
		return false, fmt.Errorf("git status failed with exit code %d", res.ExitCode)
	}

	return strings.TrimSpace(out.String()) != "", nil
}

// CommitAll stages and commits every working tree change.
func (s *Service) CommitAll(ctx context.Context, sandbox *model.SandboxInstance, message string) error {
	res, err := s.runner.Run(ctx, sandbox, []string{"git", "add", "-A"}, model.ExecOpts{}, gitTimeout)
	if err != nil {
		return fmt.Errorf("could not stage changes: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("git add failed with exit code %d", res.ExitCode)
	}

	res, err = s.runner.Run(ctx, sandbox, []string{"git", "commit", "-m", message}, model.ExecOpts{}, gitTimeout)
	if err != nil {
		return fmt.Errorf("could not commit changes: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("git commit failed with exit code %d", res.ExitCode)
	}

	return nil
}

// PushResult reports a push outcome. A failed push is not fatal to a task:
// the committed work survives in the sandbox.
type PushResult struct {
	Success    bool
	PushFailed bool
}

// Push pushes the branch to origin.
func (s *Service) Push(ctx context.Context, sandbox *model.SandboxInstance, branch string) PushResult {
	var errOut strings.Builder
	res, err := s.runner.Run(ctx, sandbox, []string{"git", "push", "-u", "origin", branch}, model.ExecOpts{Stderr: &errOut}, gitTimeout)
	if err != nil || res.ExitCode != 0 {
		s.logger.Warningf("Push of branch %s failed", branch)
		s.logger.Debugf("Push failure detail: %v (%s)", err, errOut.String())
		return PushResult{Success: false, PushFailed: true}
	}

	return PushResult{Success: true}
}
