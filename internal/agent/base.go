package agent

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
)

const installTimeout = 3 * time.Minute

// commandParams is what a backend needs to build its invocation argv.
type commandParams struct {
	Instruction string
	Model       string
	// SessionID is already validated against the backend's identifier shape;
	// empty means no resumable session.
	SessionID string
	Resumed   bool
}

// backend is the per-CLI specialization behind the shared executor. Each
// implementation is a stateless value describing one agent CLI.
type backend interface {
	kind() model.AgentType
	binary() string
	// installScript is the shell line that installs the CLI in a sandbox.
	installScript() string
	// env maps resolved credentials to the CLI's environment variables.
	env(creds model.AgentCredentials) map[string]string
	// connectorFile renders MCP connector configuration. An empty path means
	// the backend has no connector support and connectors are skipped.
	connectorFile(connectors []model.Connector) (string, []byte, error)
	command(p commandParams) []string
	parser() parseFunc
	validSessionID(id string) bool
}

// executor runs one backend through the shared streaming loop.
type executor struct {
	cfg ExecutorConfig
	b   backend
}

func newExecutor(cfg ExecutorConfig, b backend) *executor {
	cfg.Logger = cfg.Logger.WithValues(log.Kv{"svc": "agent.Executor", "agent": string(b.kind())})
	return &executor{cfg: cfg, b: b}
}

func (e *executor) Name() model.AgentType { return e.b.kind() }

// EnsureInstalled checks for the backend binary and installs it when missing.
// Resumed sandboxes are never reinstalled.
func (e *executor) EnsureInstalled(ctx context.Context, sandbox *model.SandboxInstance, resumed bool) error {
	probe := fmt.Sprintf("command -v %s >/dev/null 2>&1", e.b.binary())
	res, err := e.cfg.Runner.RunShell(ctx, sandbox, probe, model.ExecOpts{}, 30*time.Second)
	if err == nil && res.ExitCode == 0 {
		return nil
	}
	if resumed {
		return nil
	}

	e.cfg.Logger.Infof("Installing %s in sandbox %s", e.b.binary(), sandbox.ID)
	res, err = e.cfg.Runner.RunShell(ctx, sandbox, e.b.installScript(), model.ExecOpts{}, installTimeout)
	if err != nil {
		return fmt.Errorf("could not install %s: %w", e.b.binary(), err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("install of %s exited with code %d", e.b.binary(), res.ExitCode)
	}
	return nil
}

// completion verdicts of the streaming wait loop.
type verdict int

const (
	verdictFinished verdict = iota
	verdictStalled
	verdictCapped
	verdictCancelled
	verdictTimeout
)

func (e *executor) Execute(ctx context.Context, req ExecuteRequest) (*model.AgentExecutionResult, error) {
	result := &model.AgentExecutionResult{AgentType: e.b.kind()}

	if req.Credentials.Empty() {
		result.Error = fmt.Sprintf("no credential available for %s", e.b.kind())
		return result, fmt.Errorf("%s: %w", result.Error, model.ErrMissingCredential)
	}
	env := e.b.env(req.Credentials)

	instruction := SanitizeInstruction(req.Instruction)
	session := req.SessionID
	if session != "" && !e.b.validSessionID(session) {
		e.cfg.Logger.Warningf("Session id %q does not match %s identifier shape, continuing latest session instead", session, e.b.kind())
		session = ""
	}

	if err := e.writeConnectors(ctx, req); err != nil {
		// Connector setup failures degrade the run, they do not abort it.
		e.cfg.Logger.Warningf("Could not configure connectors: %s", err)
	}

	acc := newAccumulator(e.b.parser(), e.cfg.MaxOutputBytes, func(name string, end bool) {
		if req.OnActivity == nil {
			return
		}
		act := model.SubAgentActivity{Name: name, Kind: "tool", Status: model.SubAgentRunning, StartedAt: time.Now()}
		if end {
			now := time.Now()
			act.Status = model.SubAgentCompleted
			act.CompletedAt = &now
		}
		req.OnActivity(act)
	})

	argv := e.b.command(commandParams{
		Instruction: instruction,
		Model:       req.Model,
		SessionID:   session,
		Resumed:     req.Resumed,
	})

	procCtx, procCancel := context.WithCancel(ctx)
	defer procCancel()

	procDone := make(chan error, 1)
	go func() {
		_, err := e.cfg.Runner.Run(procCtx, req.Sandbox, argv, model.ExecOpts{
			Env:    env,
			Stdout: acc,
			Stderr: acc,
		}, e.cfg.MaxWait+30*time.Second)
		procDone <- err
	}()

	v, exited := e.await(ctx, req, acc, procDone, procCancel)

	if !exited {
		// Let the writer drain before the final snapshot.
		select {
		case <-procDone:
		case <-time.After(5 * time.Second):
		}
	}
	acc.Flush()

	result.Output = acc.Snapshot()
	result.Reply = acc.Reply()
	result.SessionID = acc.SessionID()

	switch v {
	case verdictCancelled:
		result.Error = "execution cancelled"
		return result, fmt.Errorf("agent execution: %w", model.ErrCancelled)
	case verdictStalled:
		result.Error = fmt.Sprintf("no output for %s", e.cfg.InactivityTimeout)
		return result, fmt.Errorf("agent stream stalled: %w", model.ErrAgentStalled)
	case verdictCapped:
		result.Error = fmt.Sprintf("output exceeded %d bytes", e.cfg.MaxOutputBytes)
		return result, fmt.Errorf("agent output: %w", model.ErrOutputLimitExceeded)
	}

	// Changes come from the working tree, never from the backend's own
	// verdict. A dirty tree is the signal downstream commit and push act on.
	changes, err := e.cfg.Git.HasChanges(ctx, req.Sandbox)
	if err != nil {
		e.cfg.Logger.Warningf("Could not check working tree: %s", err)
	}
	result.ChangesDetected = changes

	if isErr, errText := acc.TerminalError(); isErr {
		if errText == "" {
			errText = "backend reported an error"
		}
		result.Error = errText
		return result, nil
	}

	// A run that produced essentially nothing and never reached a terminal
	// event failed, even when the process exited cleanly.
	if acc.Len() < e.cfg.MinOutputBytes && !acc.Completed() && !changes {
		result.Error = "agent produced no output"
		return result, nil
	}

	result.Success = true
	return result, nil
}

// await polls the accumulator until the run ends one way or another. The
// second return reports whether the process itself already exited, meaning
// there is nothing left to drain from procDone.
func (e *executor) await(ctx context.Context, req ExecuteRequest, acc *accumulator, procDone <-chan error, procCancel context.CancelFunc) (verdict, bool) {
	start := time.Now()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-procDone:
			return verdictFinished, true
		case <-ctx.Done():
			procCancel()
			return verdictCancelled, false
		case <-ticker.C:
		}

		if req.CancelCheck != nil && req.CancelCheck(ctx) {
			procCancel()
			return verdictCancelled, false
		}
		if acc.Capped() {
			procCancel()
			return verdictCapped, false
		}
		if acc.Completed() {
			// The backend said it is done. Some CLIs linger afterwards, so
			// the process is stopped rather than waited on.
			procCancel()
			return verdictFinished, false
		}
		if time.Since(acc.LastActivity()) > e.cfg.InactivityTimeout {
			procCancel()
			return verdictStalled, false
		}
		if time.Since(start) > e.cfg.MaxWait {
			procCancel()
			return verdictTimeout, false
		}
	}
}

func (e *executor) writeConnectors(ctx context.Context, req ExecuteRequest) error {
	if len(req.Connectors) == 0 {
		return nil
	}
	file, content, err := e.b.connectorFile(req.Connectors)
	if err != nil {
		return err
	}
	if file == "" {
		e.cfg.Logger.Debugf("%s has no connector support, skipping %d connectors", e.b.kind(), len(req.Connectors))
		return nil
	}

	if dir := path.Dir(file); dir != "." {
		if _, err := e.cfg.Runner.RunShell(ctx, req.Sandbox, fmt.Sprintf("mkdir -p %s", dir), model.ExecOpts{}, 15*time.Second); err != nil {
			return fmt.Errorf("could not create %s: %w", dir, err)
		}
	}
	res, err := e.cfg.Runner.Run(ctx, req.Sandbox, []string{"sh", "-c", "cat > " + file}, model.ExecOpts{
		Stdin: bytes.NewReader(content),
	}, 15*time.Second)
	if err != nil {
		return fmt.Errorf("could not write %s: %w", file, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("writing %s exited with code %d", file, res.ExitCode)
	}
	return nil
}
