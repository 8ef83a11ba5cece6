package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/frankbria/codeframe-sub003/pkg/models"
)

// GetProject fetches a single project by id, used by WorkerAgent to
// resolve a task's project_root when the caller doesn't supply one.
func (d *DB) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, name, workspace_path, status, phase, created_at, updated_at
		FROM projects WHERE id = $1`, id)

	var p models.Project
	err := row.Scan(&p.ID, &p.Name, &p.WorkspacePath, &p.Status, &p.Phase, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return &p, nil
}

// InsertProject creates a new project row.
func (d *DB) InsertProject(ctx context.Context, p models.Project) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO projects (id, name, workspace_path, status, phase)
		VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.Name, p.WorkspacePath, p.Status, p.Phase)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}
