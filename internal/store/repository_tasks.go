package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/frankbria/codeframe-sub003/pkg/models"
)

// taskUpdateWhitelist is the set of Task columns UpdateTaskFields may
// touch. Spec.md §4.10: "field-update methods accept only whitelisted
// column sets and fail otherwise."
var taskUpdateWhitelist = map[string]bool{
	"status":                  true,
	"assigned_to":             true,
	"quality_gate_status":     true,
	"quality_gate_failures":   true,
	"requires_human_approval": true,
	"commit_sha":              true,
	"completed_at":            true,
}

// GetTask fetches a single task by id.
func (d *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return getTask(ctx, d.conn, id)
}

func getTask(ctx context.Context, q queryer, id string) (*models.Task, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, project_id, issue_id, task_number, title, description, status,
		       assigned_to, priority, quality_gate_status, quality_gate_failures,
		       requires_human_approval, commit_sha, touched_files,
		       created_at, updated_at, completed_at
		FROM tasks WHERE id = $1`, id)

	var t models.Task
	var failuresRaw, touchedRaw []byte
	var completedAt sql.NullTime

	err := row.Scan(&t.ID, &t.ProjectID, &t.IssueID, &t.TaskNumber, &t.Title, &t.Description,
		&t.Status, &t.AssignedTo, &t.Priority, &t.QualityGateStatus, &failuresRaw,
		&t.RequiresHumanApproval, &t.CommitSHA, &touchedRaw,
		&t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}

	if err := json.Unmarshal(failuresRaw, &t.QualityGateFailures); err != nil {
		return nil, fmt.Errorf("decode quality_gate_failures: %w", err)
	}
	if err := json.Unmarshal(touchedRaw, &t.TouchedFiles); err != nil {
		return nil, fmt.Errorf("decode touched_files: %w", err)
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// InsertTask creates a new task row.
func (d *DB) InsertTask(ctx context.Context, t models.Task) error {
	failures, err := json.Marshal(t.QualityGateFailures)
	if err != nil {
		return fmt.Errorf("encode quality_gate_failures: %w", err)
	}
	touched, err := json.Marshal(t.TouchedFiles)
	if err != nil {
		return fmt.Errorf("encode touched_files: %w", err)
	}

	_, err = d.conn.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, issue_id, task_number, title, description, status,
		                    assigned_to, priority, quality_gate_status, quality_gate_failures,
		                    requires_human_approval, commit_sha, touched_files)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		t.ID, t.ProjectID, t.IssueID, t.TaskNumber, t.Title, t.Description, t.Status,
		t.AssignedTo, t.Priority, t.QualityGateStatus, failures,
		t.RequiresHumanApproval, t.CommitSHA, touched)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTaskFields applies a whitelisted set of column updates to a task.
// Any key outside taskUpdateWhitelist fails the whole call.
func (d *DB) UpdateTaskFields(ctx context.Context, taskID string, fields map[string]any) error {
	return updateTaskFields(ctx, d.conn, taskID, fields)
}

// updateTaskFieldsTx is the transactional variant used by completeTask's
// single evidence+task-status transaction.
func updateTaskFieldsTx(ctx context.Context, tx *sql.Tx, taskID string, fields map[string]any) error {
	return updateTaskFields(ctx, tx, taskID, fields)
}

func updateTaskFields(ctx context.Context, ex execer, taskID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	i := 1
	for col, val := range fields {
		if !taskUpdateWhitelist[col] {
			return fmt.Errorf("column %q is not whitelisted for update: %w", col, ErrInvalidColumn)
		}
		v := val
		if col == "quality_gate_failures" {
			encoded, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("encode quality_gate_failures: %w", err)
			}
			v = encoded
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, v)
		i++
	}
	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, taskID)

	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = $%d", joinClauses(setClauses), i)
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update task %s: %w", taskID, err)
	}
	return nil
}

func joinClauses(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// queryer is the read surface shared by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// execer is the write surface shared by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
