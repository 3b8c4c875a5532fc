package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (creating when needed) the sqlite database at path and applies migrations.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &SQLiteStore{db: conn}, nil
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// NewID returns a time ordered identifier.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

const taskColumns = `id, owner_id, repo_id, repo_url, base_branch, title, description, priority, initiator,
	model_provider, model, status, assigned_workspace_id, branch_name, merge_request_url,
	keep_workspace_alive, created_at, updated_at`

func (s *SQLiteStore) CreateTask(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.OwnerID, task.RepoID, task.RepoURL, task.BaseBranch, task.Title, task.Description,
		string(task.Priority), string(task.Initiator), task.ModelProvider, task.Model, string(task.Status),
		nullIfEmpty(task.AssignedWorkspaceID), nullIfEmpty(task.BranchName), nullIfEmpty(task.MergeRequestURL),
		task.KeepWorkspaceAlive, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return task, err
}

func (s *SQLiteStore) ListTasksByOwner(ctx context.Context, ownerID string) ([]Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
}

func (s *SQLiteStore) ListTasksByStatus(ctx context.Context, status TaskStatus) ([]Task, error) {
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY updated_at ASC`, string(status))
}

func (s *SQLiteStore) listTasks(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) TransitionTask(ctx context.Context, id string, to TaskStatus, updatedAt int64, from ...TaskStatus) (Task, error) {
	if len(from) == 0 {
		return Task{}, errors.New("transition requires at least one source status")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{string(to), updatedAt, id}
	for _, status := range from {
		args = append(args, string(status))
	}

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return Task{}, fmt.Errorf("transition task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Task{}, err
	}

	task, err := s.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if affected == 0 {
		return task, ErrStatusConflict
	}
	return task, nil
}

func (s *SQLiteStore) PatchTask(ctx context.Context, id string, patch TaskPatch) (Task, error) {
	sets := []string{"updated_at = ?"}
	args := []any{patch.UpdatedAt}
	if patch.AssignedWorkspaceID != nil {
		sets = append(sets, "assigned_workspace_id = ?")
		args = append(args, nullIfEmpty(*patch.AssignedWorkspaceID))
	}
	if patch.BranchName != nil {
		sets = append(sets, "branch_name = ?")
		args = append(args, nullIfEmpty(*patch.BranchName))
	}
	if patch.MergeRequestURL != nil {
		sets = append(sets, "merge_request_url = ?")
		args = append(args, nullIfEmpty(*patch.MergeRequestURL))
	}
	if patch.KeepWorkspaceAlive != nil {
		sets = append(sets, "keep_workspace_alive = ?")
		args = append(args, *patch.KeepWorkspaceAlive)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return Task{}, fmt.Errorf("patch task: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return s.GetTask(ctx, id)
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return err
}

const workspaceColumns = `id, provider_id, template, status, keep_alive, created_at, last_used_at`

func (s *SQLiteStore) CreateWorkspace(ctx context.Context, workspace Workspace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO workspaces (`+workspaceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		workspace.ID, workspace.ProviderID, workspace.Template, string(workspace.Status),
		workspace.KeepAlive, workspace.CreatedAt, workspace.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	for i, taskID := range workspace.AssignedTasks {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO workspace_tasks (workspace_id, task_id, position) VALUES (?, ?, ?)`, workspace.ID, taskID, i+1); err != nil {
			return fmt.Errorf("insert workspace task: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	return s.getWorkspace(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = ?`, id)
}

func (s *SQLiteStore) GetWorkspaceByProviderID(ctx context.Context, providerID string) (Workspace, error) {
	return s.getWorkspace(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE provider_id = ?`, providerID)
}

func (s *SQLiteStore) getWorkspace(ctx context.Context, query string, key string) (Workspace, error) {
	row := s.db.QueryRowContext(ctx, query, key)
	workspace, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Workspace{}, fmt.Errorf("workspace %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Workspace{}, err
	}
	assigned, err := s.assignedTasks(ctx, []string{workspace.ID})
	if err != nil {
		return Workspace{}, err
	}
	workspace.AssignedTasks = assigned[workspace.ID]
	return workspace, nil
}

func (s *SQLiteStore) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	return s.listWorkspaces(ctx, `SELECT `+workspaceColumns+` FROM workspaces ORDER BY created_at ASC`)
}

func (s *SQLiteStore) ListWorkspacesByStatus(ctx context.Context, status WorkspaceStatus) ([]Workspace, error) {
	return s.listWorkspaces(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE status = ? ORDER BY created_at ASC`, string(status))
}

func (s *SQLiteStore) listWorkspaces(ctx context.Context, query string, args ...any) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	workspaces := []Workspace{}
	ids := []string{}
	for rows.Next() {
		workspace, err := scanWorkspace(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		workspaces = append(workspaces, workspace)
		ids = append(ids, workspace.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	assigned, err := s.assignedTasks(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range workspaces {
		workspaces[i].AssignedTasks = assigned[workspaces[i].ID]
	}
	return workspaces, nil
}

func (s *SQLiteStore) assignedTasks(ctx context.Context, workspaceIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(workspaceIDs))
	if len(workspaceIDs) == 0 {
		return result, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(workspaceIDs)), ", ")
	args := make([]any, 0, len(workspaceIDs))
	for _, id := range workspaceIDs {
		args = append(args, id)
		result[id] = []string{}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT workspace_id, task_id FROM workspace_tasks WHERE workspace_id IN (`+placeholders+`) ORDER BY workspace_id, position`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var workspaceID, taskID string
		if err := rows.Scan(&workspaceID, &taskID); err != nil {
			return nil, err
		}
		result[workspaceID] = append(result[workspaceID], taskID)
	}
	return result, rows.Err()
}

// UpdateWorkspaceStatus overwrites the status. A terminated workspace only accepts terminated.
func (s *SQLiteStore) UpdateWorkspaceStatus(ctx context.Context, id string, status WorkspaceStatus, lastUsedAt int64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE workspaces SET status = ?, last_used_at = ?
WHERE id = ? AND (status != 'terminated' OR ? = 'terminated')`,
		string(status), lastUsedAt, id, string(status))
	if err != nil {
		return fmt.Errorf("update workspace status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.GetWorkspace(ctx, id); err != nil {
		return err
	}
	return ErrStatusConflict
}

func (s *SQLiteStore) AppendWorkspaceTask(ctx context.Context, id string, taskID string, lastUsedAt int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE workspaces SET last_used_at = ? WHERE id = ?`, lastUsedAt, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	_, err = tx.ExecContext(ctx, `
INSERT OR IGNORE INTO workspace_tasks (workspace_id, task_id, position)
SELECT ?, ?, COALESCE(MAX(position), 0) + 1 FROM workspace_tasks WHERE workspace_id = ?`,
		id, taskID, id)
	if err != nil {
		return fmt.Errorf("append workspace task: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteWorkspace(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) AppendLog(ctx context.Context, entry ExecutionLog) (ExecutionLog, error) {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO execution_logs (id, task_id, workspace_id, status, payload, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TaskID, entry.WorkspaceID, string(entry.Status), entry.Payload, nullIfEmpty(entry.Error), entry.CreatedAt)
	if err != nil {
		return ExecutionLog{}, fmt.Errorf("append log: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return ExecutionLog{}, err
	}
	entry.Seq = seq
	return entry, nil
}

func (s *SQLiteStore) ListLogsByTask(ctx context.Context, taskID string) ([]ExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, id, task_id, workspace_id, status, payload, error, created_at
FROM execution_logs WHERE task_id = ? ORDER BY created_at ASC, seq ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []ExecutionLog{}
	for rows.Next() {
		var entry ExecutionLog
		var status string
		var errText sql.NullString
		if err := rows.Scan(&entry.Seq, &entry.ID, &entry.TaskID, &entry.WorkspaceID, &status, &entry.Payload, &errText, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Status = LogStatus(status)
		entry.Error = errText.String
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var task Task
	var priority, initiator, status string
	var assigned, branch, mergeURL sql.NullString
	err := row.Scan(
		&task.ID, &task.OwnerID, &task.RepoID, &task.RepoURL, &task.BaseBranch, &task.Title, &task.Description,
		&priority, &initiator, &task.ModelProvider, &task.Model, &status,
		&assigned, &branch, &mergeURL, &task.KeepWorkspaceAlive, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	task.Priority = TaskPriority(priority)
	task.Initiator = TaskInitiator(initiator)
	task.Status = TaskStatus(status)
	task.AssignedWorkspaceID = assigned.String
	task.BranchName = branch.String
	task.MergeRequestURL = mergeURL.String
	return task, nil
}

func scanWorkspace(row rowScanner) (Workspace, error) {
	var workspace Workspace
	var status string
	err := row.Scan(&workspace.ID, &workspace.ProviderID, &workspace.Template, &status,
		&workspace.KeepAlive, &workspace.CreatedAt, &workspace.LastUsedAt)
	if err != nil {
		return Workspace{}, err
	}
	workspace.Status = WorkspaceStatus(status)
	return workspace, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
