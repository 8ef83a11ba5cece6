package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/frankbria/codeframe-sub003/pkg/models"
)

// InsertBlocker creates a PENDING blocker row.
func (d *DB) InsertBlocker(ctx context.Context, b models.Blocker) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO blockers (id, agent_id, project_id, task_id, type, question, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		b.ID, b.AgentID, b.ProjectID, b.TaskID, b.Type, b.Question, b.Status, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert blocker: %w", err)
	}
	return nil
}

// ResolveBlocker does the conditional PENDING -> RESOLVED transition
// atomically, matching the teacher's status='PENDING' WHERE-clause
// idiom. Returns false (no error) if the row was not PENDING or did
// not exist.
func (d *DB) ResolveBlocker(ctx context.Context, id, answer string, resolvedAt time.Time) (bool, error) {
	res, err := d.conn.ExecContext(ctx, `
		UPDATE blockers SET status = 'RESOLVED', answer = $1, resolved_at = $2
		WHERE id = $3 AND status = 'PENDING'`, answer, resolvedAt, id)
	if err != nil {
		return false, fmt.Errorf("resolve blocker %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ExpireStaleBlockers transitions PENDING -> EXPIRED for blockers older
// than cutoff, returning the ids transitioned.
func (d *DB) ExpireStaleBlockers(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx, `
		UPDATE blockers SET status = 'EXPIRED'
		WHERE status = 'PENDING' AND created_at < $1
		RETURNING id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expire stale blockers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PendingBlockerFor returns the oldest PENDING blocker for an agent, or
// nil if none exists.
func (d *DB) PendingBlockerFor(ctx context.Context, agentID string) (*models.Blocker, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, agent_id, project_id, task_id, type, question, answer, status, created_at, resolved_at
		FROM blockers WHERE agent_id = $1 AND status = 'PENDING'
		ORDER BY created_at ASC LIMIT 1`, agentID)

	b, err := scanBlocker(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pending blocker for %s: %w", agentID, err)
	}
	return b, nil
}

// CountBlockersByStatusAndType returns counts grouped by (status, type)
// for a project, used by BlockerRegistry.metrics.
func (d *DB) CountBlockersByStatusAndType(ctx context.Context, projectID string) (map[string]map[string]int, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT status, type, COUNT(*) FROM blockers WHERE project_id = $1 GROUP BY status, type`, projectID)
	if err != nil {
		return nil, fmt.Errorf("count blockers: %w", err)
	}
	defer rows.Close()

	out := map[string]map[string]int{}
	for rows.Next() {
		var status, typ string
		var count int
		if err := rows.Scan(&status, &typ, &count); err != nil {
			return nil, err
		}
		if out[status] == nil {
			out[status] = map[string]int{}
		}
		out[status][typ] = count
	}
	return out, rows.Err()
}

// ResolvedBlockerDurations returns resolved_at - created_at (seconds)
// for every RESOLVED blocker in a project, used to compute
// avg_resolution_time.
func (d *DB) ResolvedBlockerDurations(ctx context.Context, projectID string) ([]float64, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT EXTRACT(EPOCH FROM (resolved_at - created_at))
		FROM blockers WHERE project_id = $1 AND status = 'RESOLVED' AND resolved_at IS NOT NULL`, projectID)
	if err != nil {
		return nil, fmt.Errorf("resolved blocker durations: %w", err)
	}
	defer rows.Close()

	var durations []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		durations = append(durations, d)
	}
	return durations, rows.Err()
}

func scanBlocker(row *sql.Row) (*models.Blocker, error) {
	var b models.Blocker
	var resolvedAt sql.NullTime
	err := row.Scan(&b.ID, &b.AgentID, &b.ProjectID, &b.TaskID, &b.Type, &b.Question,
		&b.Answer, &b.Status, &b.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		b.ResolvedAt = &resolvedAt.Time
	}
	return &b, nil
}
