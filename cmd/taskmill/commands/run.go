package commands

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/taskmill/taskmill/internal/credentials"
	"github.com/taskmill/taskmill/internal/envspec"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/orchestrator"
	"github.com/taskmill/taskmill/internal/registry"
	"github.com/taskmill/taskmill/internal/storage/sqlite"
	"github.com/taskmill/taskmill/internal/task"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	prompt    string
	taskFile  string
	repoURL   string
	agentType string
	modelName string
	provider  string
	branch    string
	keepAlive bool
	timeout   time.Duration
	image     string
	envSpecs  []string
	repoToken string
}

// taskFileSpec is the YAML shape accepted by --task-file. Flags given on the
// command line override the file values.
type taskFileSpec struct {
	Prompt    string            `yaml:"prompt"`
	Repo      string            `yaml:"repo"`
	Agent     string            `yaml:"agent"`
	Model     string            `yaml:"model"`
	Provider  string            `yaml:"provider"`
	Branch    string            `yaml:"branch"`
	KeepAlive bool              `yaml:"keep_alive"`
	Image     string            `yaml:"image"`
	Env       map[string]string `yaml:"env"`
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Run a coding task in a fresh sandbox.")

	c.Cmd.Flag("prompt", "Instruction for the agent.").Short('p').StringVar(&c.prompt)
	c.Cmd.Flag("task-file", "YAML file describing the task (flags override it).").Short('f').StringVar(&c.taskFile)
	c.Cmd.Flag("repo", "Repository URL to clone into the sandbox.").StringVar(&c.repoURL)
	c.Cmd.Flag("agent", "Agent backend (defaults to claude).").EnumVar(&c.agentType,
		string(model.AgentTypeClaude), string(model.AgentTypeCodex), string(model.AgentTypeGemini),
		string(model.AgentTypeOpenCode), string(model.AgentTypeAider), string(model.AgentTypeQwen))
	c.Cmd.Flag("model", "Model override passed to the agent backend.").StringVar(&c.modelName)
	c.Cmd.Flag("provider", "Sandbox provider (defaults to docker).").EnumVar(&c.provider,
		string(model.ProviderTypeDocker), string(model.ProviderTypeLocal), string(model.ProviderTypeFake))
	c.Cmd.Flag("branch", "Branch name to work on (generated when empty).").StringVar(&c.branch)
	c.Cmd.Flag("keep-alive", "Keep the sandbox running after the task finishes.").BoolVar(&c.keepAlive)
	c.Cmd.Flag("timeout", "Hard bound on the task pipeline.").Default("15m").DurationVar(&c.timeout)
	c.Cmd.Flag("image", "Sandbox image override (docker provider).").StringVar(&c.image)
	c.Cmd.Flag("env", "Environment variable for the sandbox (KEY=value, or KEY to pass through). Repeatable.").Short('e').StringsVar(&c.envSpecs)
	c.Cmd.Flag("repo-token", "Token for cloning and pushing the repository (private repos).").Envar("TASKMILL_REPO_TOKEN").StringVar(&c.repoToken)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	t, image, env, err := c.buildTask()
	if err != nil {
		return err
	}

	// Initialize storage (SQLite).
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}
	defer repo.Close()

	selector, err := c.rootCmd.newSelector()
	if err != nil {
		return fmt.Errorf("could not create sandbox providers: %w", err)
	}

	resolver := credentials.EnvResolver{GatewayURL: os.Getenv("TASKMILL_GATEWAY_URL")}

	orch, err := orchestrator.NewService(orchestrator.ServiceConfig{
		Selector:    selector,
		Credentials: resolver,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("could not create orchestrator: %w", err)
	}

	reg, err := registry.NewRegistry(registry.RegistryConfig{
		Repo:     repo,
		Selector: selector,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create registry: %w", err)
	}

	svc, err := task.NewService(task.ServiceConfig{
		Repo:         repo,
		Connectors:   repo,
		Orchestrator: orch,
		Selector:     selector,
		Registry:     reg,
		Timeout:      c.timeout,
		SandboxImage: image,
		SandboxEnv:   env,
		RepoToken:    c.repoToken,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("could not create task service: %w", err)
	}

	if err := repo.CreateTask(ctx, *t); err != nil {
		return fmt.Errorf("could not create task: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Task %s started\n", t.ID)

	// The processor owns the lifecycle from here, including the timeout and
	// the terminal status write. Run it synchronously.
	svc.Process(ctx, t.ID)

	final, err := repo.GetTask(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("could not read task result: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Status: %s\n", final.Status)
	if final.Title != "" {
		fmt.Fprintf(c.rootCmd.Stdout, "Title:  %s\n", final.Title)
	}
	if final.BranchName != "" {
		fmt.Fprintf(c.rootCmd.Stdout, "Branch: %s\n", final.BranchName)
	}
	if final.PushFailed {
		fmt.Fprintf(c.rootCmd.Stdout, "Push:   failed (changes committed in sandbox)\n")
	}
	if final.Error != "" {
		fmt.Fprintf(c.rootCmd.Stdout, "Error:  %s\n", final.Error)
	}

	if final.Status == model.TaskStatusError {
		return fmt.Errorf("task finished with error: %s", final.Error)
	}

	return nil
}

// buildTask merges the task file and the flags into a new pending task plus
// the sandbox image/env overrides.
func (c RunCommand) buildTask() (*model.Task, string, map[string]string, error) {
	spec := taskFileSpec{}
	if c.taskFile != "" {
		data, err := os.ReadFile(c.taskFile)
		if err != nil {
			return nil, "", nil, fmt.Errorf("could not read task file: %w", err)
		}
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, "", nil, fmt.Errorf("could not parse task file: %w", err)
		}
	}

	if c.prompt != "" {
		spec.Prompt = c.prompt
	}
	if c.repoURL != "" {
		spec.Repo = c.repoURL
	}
	if c.agentType != "" {
		spec.Agent = c.agentType
	}
	if c.modelName != "" {
		spec.Model = c.modelName
	}
	if c.provider != "" {
		spec.Provider = c.provider
	}
	if c.branch != "" {
		spec.Branch = c.branch
	}
	if c.keepAlive {
		spec.KeepAlive = true
	}
	if c.image != "" {
		spec.Image = c.image
	}

	flagEnv, err := envspec.Parse(c.envSpecs)
	if err != nil {
		return nil, "", nil, fmt.Errorf("invalid --env: %w", err)
	}
	env := envspec.Merge(spec.Env, flagEnv)

	if spec.Prompt == "" {
		return nil, "", nil, fmt.Errorf("a prompt is required (--prompt or task file)")
	}
	if spec.Repo == "" {
		return nil, "", nil, fmt.Errorf("a repository URL is required (--repo or task file)")
	}
	if spec.Agent == "" {
		spec.Agent = string(model.AgentTypeClaude)
	}
	if spec.Provider == "" {
		spec.Provider = string(model.ProviderTypeDocker)
	}

	now := time.Now()
	t := &model.Task{
		ID:          ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		UserID:      "local",
		Prompt:      spec.Prompt,
		RepoURL:     spec.Repo,
		AgentType:   model.AgentType(spec.Agent),
		Model:       spec.Model,
		Status:      model.TaskStatusPending,
		BranchName:  spec.Branch,
		SandboxType: model.ProviderType(spec.Provider),
		KeepAlive:   spec.KeepAlive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := t.Validate(); err != nil {
		return nil, "", nil, fmt.Errorf("invalid task: %w", err)
	}

	return t, spec.Image, env, nil
}
