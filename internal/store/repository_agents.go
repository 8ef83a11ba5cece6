package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/frankbria/codeframe-sub003/pkg/models"
)

// agentUpdateWhitelist is the set of Agent columns UpdateAgentFields may
// touch, mirroring the task whitelist pattern.
var agentUpdateWhitelist = map[string]bool{
	"status":                    true,
	"maturity":                  true,
	"maturity_score":            true,
	"metrics":                   true,
	"last_assessed_at":          true,
	"completed_count_at_assess": true,
}

// GetAgent fetches a single agent by id.
func (d *DB) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, type, maturity, maturity_score, status, metrics,
		       last_assessed_at, completed_count_at_assess, created_at
		FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

// InsertAgent creates a new agent row at the maturity level a carries.
func (d *DB) InsertAgent(ctx context.Context, a models.Agent) error {
	metrics, err := json.Marshal(a.Metrics)
	if err != nil {
		return fmt.Errorf("encode agent metrics: %w", err)
	}
	_, err = d.conn.ExecContext(ctx, `
		INSERT INTO agents (id, type, maturity, maturity_score, status, metrics)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.Type, a.Maturity, a.MaturityScore, a.Status, metrics)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// UpdateAgentFields applies a whitelisted set of column updates, used by
// MaturityAssessor after each periodic assessment and by the worker loop
// for status transitions.
func (d *DB) UpdateAgentFields(ctx context.Context, agentID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	i := 1
	for col, val := range fields {
		if !agentUpdateWhitelist[col] {
			return fmt.Errorf("column %q is not whitelisted for update: %w", col, ErrInvalidColumn)
		}
		v := val
		if col == "metrics" {
			encoded, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("encode agent metrics: %w", err)
			}
			v = encoded
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, v)
		i++
	}
	args = append(args, agentID)

	query := fmt.Sprintf("UPDATE agents SET %s WHERE id = $%d", joinClauses(setClauses), i)
	if _, err := d.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update agent %s: %w", agentID, err)
	}
	return nil
}

// CompletedTaskCount returns how many tasks an agent has completed in
// total, used by MaturityAssessor's new-completed-tasks trigger
// (DefaultMinTasksSinceLast) and as completion_rate's numerator.
func (d *DB) CompletedTaskCount(ctx context.Context, agentID string) (int, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE assigned_to = $1 AND status = 'completed'`, agentID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("completed task count for %s: %w", agentID, err)
	}
	return n, nil
}

// AssignedTaskCount returns how many tasks have ever been assigned to an
// agent (completed, failed, or otherwise), used as the denominator for
// completion_rate.
func (d *DB) AssignedTaskCount(ctx context.Context, agentID string) (int, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE assigned_to = $1`, agentID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("assigned task count for %s: %w", agentID, err)
	}
	return n, nil
}

// TestPassRatesForAgent returns the PassRate() of every test_results row
// belonging to a task assigned to this agent, newest first, used by
// MaturityAssessor.avg_test_pass_rate.
func (d *DB) TestPassRatesForAgent(ctx context.Context, agentID string, limit int) ([]float64, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT tr.passed, tr.failed
		FROM test_results tr
		JOIN tasks t ON t.id = tr.task_id
		WHERE t.assigned_to = $1 AND t.status = 'completed'
		ORDER BY t.completed_at DESC NULLS LAST
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("test pass rates for %s: %w", agentID, err)
	}
	defer rows.Close()

	var rates []float64
	for rows.Next() {
		var passed, failed int
		if err := rows.Scan(&passed, &failed); err != nil {
			return nil, err
		}
		total := passed + failed
		if total == 0 {
			rates = append(rates, 1.0)
			continue
		}
		rates = append(rates, float64(passed)/float64(total))
	}
	return rates, rows.Err()
}

// CompletedTasksWithoutCorrectionsCount returns how many of an agent's
// completed tasks have zero correction_attempts rows, the numerator of
// MaturityAssessor's self_correction_rate.
func (d *DB) CompletedTasksWithoutCorrectionsCount(ctx context.Context, agentID string) (int, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks t
		WHERE t.assigned_to = $1 AND t.status = 'completed'
		  AND NOT EXISTS (SELECT 1 FROM correction_attempts ca WHERE ca.task_id = t.id)`, agentID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("completed tasks without corrections for %s: %w", agentID, err)
	}
	return n, nil
}

// ListAgentIDs returns every agent id, used by MaturityAssessor's
// periodic sweep to find assessment candidates.
func (d *DB) ListAgentIDs(ctx context.Context) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT id FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agent ids: %w", err)
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

func scanAgent(row *sql.Row) (*models.Agent, error) {
	var a models.Agent
	var metricsRaw []byte
	var lastAssessedAt sql.NullTime

	err := row.Scan(&a.ID, &a.Type, &a.Maturity, &a.MaturityScore, &a.Status, &metricsRaw,
		&lastAssessedAt, &a.CompletedCountAtAssess, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	if err := json.Unmarshal(metricsRaw, &a.Metrics); err != nil {
		return nil, fmt.Errorf("decode agent metrics: %w", err)
	}
	if lastAssessedAt.Valid {
		a.LastAssessedAt = &lastAssessedAt.Time
	}
	return &a, nil
}
