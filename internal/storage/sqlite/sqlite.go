package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taskmill/taskmill/internal/log"
	"github.com/taskmill/taskmill/internal/model"
	"github.com/taskmill/taskmill/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.TaskRepository and
// storage.ConnectorRepository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// CreateTask creates a new task in the repository.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	var lastHeartbeat *int64
	if t.LastHeartbeat != nil {
		u := t.LastHeartbeat.Unix()
		lastHeartbeat = &u
	}

	query := `
		INSERT INTO tasks (
			id, user_id, prompt, repo_url, agent_type, model,
			status, progress, error,
			branch_name, title,
			sandbox_id, sandbox_type, keep_alive,
			session_id, cancel_requested,
			last_heartbeat, heartbeat_extension, push_failed,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		t.ID,
		t.UserID,
		t.Prompt,
		t.RepoURL,
		t.AgentType,
		t.Model,
		t.Status,
		t.Progress,
		t.Error,
		t.BranchName,
		t.Title,
		t.SandboxID,
		t.SandboxType,
		boolToInt(t.KeepAlive),
		t.SessionID,
		boolToInt(t.CancelRequested),
		lastHeartbeat,
		t.HeartbeatExtension,
		boolToInt(t.PushFailed),
		t.CreatedAt.Unix(),
		now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	query := taskSelect + ` WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get task: %w", err)
	}

	return task, nil
}

// ListTasks returns all tasks sorted by creation time.
func (r *Repository) ListTasks(ctx context.Context) ([]model.Task, error) {
	query := taskSelect + ` ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}

	return tasks, rows.Err()
}

// UpdateTask applies a partial update to a task.
func (r *Repository) UpdateTask(ctx context.Context, id string, update model.TaskUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Unix()}

	addSet := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = ?", column))
		args = append(args, value)
	}

	if update.Status != nil {
		addSet("status", string(*update.Status))
	}
	if update.Progress != nil {
		addSet("progress", *update.Progress)
	}
	if update.Error != nil {
		addSet("error", *update.Error)
	}
	if update.BranchName != nil {
		addSet("branch_name", *update.BranchName)
	}
	if update.Title != nil {
		addSet("title", *update.Title)
	}
	if update.SandboxID != nil {
		addSet("sandbox_id", *update.SandboxID)
	}
	if update.SandboxType != nil {
		addSet("sandbox_type", string(*update.SandboxType))
	}
	if update.SessionID != nil {
		addSet("session_id", *update.SessionID)
	}
	if update.CancelRequested != nil {
		addSet("cancel_requested", boolToInt(*update.CancelRequested))
	}
	if update.LastHeartbeat != nil {
		addSet("last_heartbeat", update.LastHeartbeat.Unix())
	}
	if update.HeartbeatExtension != nil {
		addSet("heartbeat_extension", *update.HeartbeatExtension)
	}
	if update.PushFailed != nil {
		addSet("push_failed", boolToInt(*update.PushFailed))
	}

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("could not update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	return nil
}

// AppendLog appends an ordered log entry to a task.
func (r *Repository) AppendLog(ctx context.Context, taskID string, message string) error {
	query := `
		INSERT INTO task_logs (task_id, sequence, message, created_at)
		VALUES (?, (SELECT COALESCE(MAX(sequence), 0) + 1 FROM task_logs WHERE task_id = ?), ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, taskID, taskID, message, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("could not append log: %w", err)
	}

	return nil
}

// ListLogs returns the ordered log entries of a task.
func (r *Repository) ListLogs(ctx context.Context, taskID string) ([]model.LogEntry, error) {
	query := `SELECT task_id, sequence, message, created_at FROM task_logs WHERE task_id = ? ORDER BY sequence ASC`
	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not list logs: %w", err)
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var createdAt int64
		if err := rows.Scan(&e.TaskID, &e.Sequence, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("could not scan log entry: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// AppendMessage appends an ordered conversation message to a task.
func (r *Repository) AppendMessage(ctx context.Context, taskID string, role model.MessageRole, content string) error {
	query := `
		INSERT INTO task_messages (task_id, sequence, role, content, created_at)
		VALUES (?, (SELECT COALESCE(MAX(sequence), 0) + 1 FROM task_messages WHERE task_id = ?), ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, taskID, taskID, string(role), content, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("could not append message: %w", err)
	}

	return nil
}

// ListMessages returns the ordered conversation messages of a task.
func (r *Repository) ListMessages(ctx context.Context, taskID string) ([]model.ConversationMessage, error) {
	query := `SELECT task_id, sequence, role, content, created_at FROM task_messages WHERE task_id = ? ORDER BY sequence ASC`
	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.ConversationMessage
	for rows.Next() {
		var m model.ConversationMessage
		var role string
		var createdAt int64
		if err := rows.Scan(&m.TaskID, &m.Sequence, &role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("could not scan message: %w", err)
		}
		m.Role = model.MessageRole(role)
		m.CreatedAt = time.Unix(createdAt, 0).UTC()
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// ListConnectors returns the configured connectors of a user.
func (r *Repository) ListConnectors(ctx context.Context, userID string) ([]model.Connector, error) {
	query := `
		SELECT name, kind, command, args, env, url, headers, oauth_credentials
		FROM connectors WHERE user_id = ? ORDER BY name ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("could not list connectors: %w", err)
	}
	defer rows.Close()

	var connectors []model.Connector
	for rows.Next() {
		var c model.Connector
		var args, env, headers, oauth string
		if err := rows.Scan(&c.Name, &c.Kind, &c.Command, &args, &env, &c.URL, &headers, &oauth); err != nil {
			return nil, fmt.Errorf("could not scan connector: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &c.Args); err != nil {
			return nil, fmt.Errorf("could not decode connector args: %w", err)
		}
		if err := json.Unmarshal([]byte(env), &c.Env); err != nil {
			return nil, fmt.Errorf("could not decode connector env: %w", err)
		}
		if err := json.Unmarshal([]byte(headers), &c.Headers); err != nil {
			return nil, fmt.Errorf("could not decode connector headers: %w", err)
		}
		if err := json.Unmarshal([]byte(oauth), &c.OAuthCredentials); err != nil {
			return nil, fmt.Errorf("could not decode connector credentials: %w", err)
		}
		connectors = append(connectors, c)
	}

	return connectors, rows.Err()
}

const taskSelect = `
	SELECT id, user_id, prompt, repo_url, agent_type, model,
		status, progress, error,
		branch_name, title,
		sandbox_id, sandbox_type, keep_alive,
		session_id, cancel_requested,
		last_heartbeat, heartbeat_extension, push_failed,
		created_at, updated_at
	FROM tasks
`

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*model.Task, error) {
	var t model.Task
	var keepAlive, cancelRequested, pushFailed int
	var lastHeartbeat *int64
	var createdAt, updatedAt int64

	err := row.Scan(
		&t.ID, &t.UserID, &t.Prompt, &t.RepoURL, &t.AgentType, &t.Model,
		&t.Status, &t.Progress, &t.Error,
		&t.BranchName, &t.Title,
		&t.SandboxID, &t.SandboxType, &keepAlive,
		&t.SessionID, &cancelRequested,
		&lastHeartbeat, &t.HeartbeatExtension, &pushFailed,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.KeepAlive = keepAlive != 0
	t.CancelRequested = cancelRequested != 0
	t.PushFailed = pushFailed != 0
	if lastHeartbeat != nil {
		hb := time.Unix(*lastHeartbeat, 0).UTC()
		t.LastHeartbeat = &hb
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint violations in the error text.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
