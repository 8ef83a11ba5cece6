package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/frankbria/codeframe-sub003/pkg/models"
)

// InsertTestResult upserts the single TestResult row for a task.
func (d *DB) InsertTestResult(ctx context.Context, tr models.TestResult) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO test_results (task_id, status, passed, failed, errors, skipped, duration_seconds, output)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status, passed = EXCLUDED.passed, failed = EXCLUDED.failed,
			errors = EXCLUDED.errors, skipped = EXCLUDED.skipped,
			duration_seconds = EXCLUDED.duration_seconds, output = EXCLUDED.output`,
		tr.TaskID, tr.Status, tr.Passed, tr.Failed, tr.Errors, tr.Skipped, tr.DurationSeconds, tr.Output)
	if err != nil {
		return fmt.Errorf("insert test result: %w", err)
	}
	return nil
}

// LatestTestResultForTask returns the stored TestResult for a task,
// whatever the task's status.
func (d *DB) LatestTestResultForTask(ctx context.Context, taskID string) (*models.TestResult, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT task_id, status, passed, failed, errors, skipped, duration_seconds, output
		FROM test_results WHERE task_id = $1`, taskID)

	var tr models.TestResult
	err := row.Scan(&tr.TaskID, &tr.Status, &tr.Passed, &tr.Failed, &tr.Errors, &tr.Skipped,
		&tr.DurationSeconds, &tr.Output)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest test result for %s: %w", taskID, err)
	}
	return &tr, nil
}

// InsertEvidence writes an Evidence row. Called either standalone (on
// verification failure) or inside the completion transaction (on
// success).
func (d *DB) InsertEvidence(ctx context.Context, ev models.Evidence) error {
	return insertEvidence(ctx, d.conn, ev)
}

// insertEvidenceTx is the transactional variant used by completeTask.
func insertEvidenceTx(ctx context.Context, tx *sql.Tx, ev models.Evidence) error {
	return insertEvidence(ctx, tx, ev)
}

func insertEvidence(ctx context.Context, ex execer, ev models.Evidence) error {
	testResult, err := json.Marshal(ev.TestResult)
	if err != nil {
		return fmt.Errorf("encode test_result: %w", err)
	}
	skipViolations, err := json.Marshal(ev.SkipViolations)
	if err != nil {
		return fmt.Errorf("encode skip_violations: %w", err)
	}
	qualityMetrics, err := json.Marshal(ev.QualityMetrics)
	if err != nil {
		return fmt.Errorf("encode quality_metrics: %w", err)
	}
	verificationErrors, err := json.Marshal(ev.VerificationErrors)
	if err != nil {
		return fmt.Errorf("encode verification_errors: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO evidence (id, task_id, agent_id, task_description, verified, test_result,
		                       skip_violations, coverage, quality_metrics, verification_errors,
		                       language, framework)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		ev.ID, ev.TaskID, ev.AgentID, ev.TaskDescription, ev.Verified, testResult,
		skipViolations, ev.Coverage, qualityMetrics, verificationErrors, ev.Language, ev.Framework)
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

// CompleteTaskWithEvidence runs the single transaction spec.md §4.8
// step 8 requires: insert evidence, then mark the task completed, with
// full rollback on any error.
func (d *DB) CompleteTaskWithEvidence(ctx context.Context, ev models.Evidence, taskID string, completedAt any) error {
	return d.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insertEvidenceTx(ctx, tx, ev); err != nil {
			return err
		}
		return updateTaskFieldsTx(ctx, tx, taskID, map[string]any{
			"status":              models.TaskStatusCompleted,
			"quality_gate_status": models.QualityGateStatusPassed,
			"completed_at":        completedAt,
		})
	})
}

// InsertCorrectionAttempt records a worker self-correction cycle.
func (d *DB) InsertCorrectionAttempt(ctx context.Context, c models.CorrectionAttempt) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO correction_attempts (id, task_id, attempt_number, error_analysis,
		                                  fix_description, code_changes, test_result_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.TaskID, c.AttemptNumber, c.ErrorAnalysis, c.FixDescription, c.CodeChanges, c.TestResultID)
	if err != nil {
		return fmt.Errorf("insert correction attempt: %w", err)
	}
	return nil
}

// CountCorrectionAttempts returns how many correction attempts a task
// has recorded, used to enforce the at-most-3 invariant.
func (d *DB) CountCorrectionAttempts(ctx context.Context, taskID string) (int, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM correction_attempts WHERE task_id = $1`, taskID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count correction attempts: %w", err)
	}
	return n, nil
}

// InsertTokenUsage appends a TokenUsage record.
func (d *DB) InsertTokenUsage(ctx context.Context, tu models.TokenUsage) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO token_usage (id, task_id, agent_id, project_id, model, input_tokens,
		                          output_tokens, estimated_cost_usd, call_type)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		tu.ID, tu.TaskID, tu.AgentID, tu.ProjectID, tu.Model, tu.InputTokens,
		tu.OutputTokens, tu.EstimatedCostUSD, tu.CallType)
	if err != nil {
		return fmt.Errorf("insert token usage: %w", err)
	}
	return nil
}

// InsertAuditLog appends an audit record. Failures here must never block
// the caller's primary operation (spec.md §7); callers should log and
// continue rather than propagate this error up through a blocking path.
func (d *DB) InsertAuditLog(ctx context.Context, a models.AuditLog) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	_, err = d.conn.ExecContext(ctx, `
		INSERT INTO audit_log (id, event_type, user_id, resource_type, resource_id, ip_address, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.EventType, a.UserID, a.ResourceType, a.ResourceID, a.IPAddress, metadata)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
