package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/docker/docker/client"

	"github.com/taskmill/taskmill/internal/storage/sqlite"
)

type DoctorCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("doctor", "Run preflight checks for running tasks.")

	return c
}

func (c DoctorCommand) Name() string { return c.Cmd.FullCommand() }

type checkStatus string

const (
	checkStatusOK      checkStatus = "ok"
	checkStatusWarning checkStatus = "warning"
	checkStatusError   checkStatus = "error"
)

type checkResult struct {
	id      string
	status  checkStatus
	message string
}

func (c DoctorCommand) Run(ctx context.Context) error {
	out := c.rootCmd.Stdout

	results := []checkResult{
		c.checkGit(),
		c.checkDocker(ctx),
		c.checkDatabase(ctx),
	}
	results = append(results, c.checkCredentials()...)

	// Print results
	totalErrors := 0
	totalWarnings := 0

	fmt.Fprintf(out, "Checking task runner setup...\n")
	for _, r := range results {
		icon := getStatusIcon(r.status)
		fmt.Fprintf(out, "  %s %-24s %s\n", icon, r.id, r.message)

		switch r.status {
		case checkStatusError:
			totalErrors++
		case checkStatusWarning:
			totalWarnings++
		}
	}

	// Summary
	fmt.Fprintln(out)
	if totalErrors == 0 && totalWarnings == 0 {
		fmt.Fprintln(out, "All checks passed!")
	} else {
		var summary []string
		if totalErrors > 0 {
			summary = append(summary, fmt.Sprintf("%d error(s)", totalErrors))
		}
		if totalWarnings > 0 {
			summary = append(summary, fmt.Sprintf("%d warning(s)", totalWarnings))
		}
		fmt.Fprintf(out, "%s\n", strings.Join(summary, ", "))
	}

	// Return error if there are any errors
	if totalErrors > 0 {
		return fmt.Errorf("preflight checks failed with %d error(s)", totalErrors)
	}

	return nil
}

func (c DoctorCommand) checkGit() checkResult {
	path, err := exec.LookPath("git")
	if err != nil {
		return checkResult{id: "git-binary", status: checkStatusError, message: "git not found in PATH"}
	}
	return checkResult{id: "git-binary", status: checkStatusOK, message: path}
}

func (c DoctorCommand) checkDocker(ctx context.Context) checkResult {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return checkResult{id: "docker-daemon", status: checkStatusWarning, message: fmt.Sprintf("could not create client: %s (local provider still available)", err)}
	}
	defer cli.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(pingCtx); err != nil {
		return checkResult{id: "docker-daemon", status: checkStatusWarning, message: fmt.Sprintf("daemon not reachable: %s (local provider still available)", err)}
	}
	return checkResult{id: "docker-daemon", status: checkStatusOK, message: "daemon reachable"}
}

func (c DoctorCommand) checkDatabase(ctx context.Context) checkResult {
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: c.rootCmd.Logger,
	})
	if err != nil {
		return checkResult{id: "database", status: checkStatusError, message: fmt.Sprintf("could not open %s: %s", c.rootCmd.DBPath, err)}
	}
	defer repo.Close()

	return checkResult{id: "database", status: checkStatusOK, message: c.rootCmd.DBPath}
}

// checkCredentials reports which agent vendors have a key in the environment.
// Missing keys are warnings: only the vendors actually used need one.
func (c DoctorCommand) checkCredentials() []checkResult {
	vendorVars := []struct {
		vendor string
		envVar string
	}{
		{"anthropic", "ANTHROPIC_API_KEY"},
		{"openai", "OPENAI_API_KEY"},
		{"google", "GEMINI_API_KEY"},
		{"opencode", "OPENCODE_API_KEY"},
		{"dashscope", "DASHSCOPE_API_KEY"},
	}

	results := make([]checkResult, 0, len(vendorVars))
	for _, v := range vendorVars {
		id := "credential-" + v.vendor
		if os.Getenv(v.envVar) == "" {
			results = append(results, checkResult{id: id, status: checkStatusWarning, message: v.envVar + " not set"})
			continue
		}
		results = append(results, checkResult{id: id, status: checkStatusOK, message: v.envVar + " set"})
	}

	return results
}

func getStatusIcon(status checkStatus) string {
	switch status {
	case checkStatusOK:
		return "OK"
	case checkStatusWarning:
		return "!!"
	case checkStatusError:
		return "XX"
	default:
		return "??"
	}
}
