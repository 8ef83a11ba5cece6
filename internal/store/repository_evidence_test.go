package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankbria/codeframe-sub003/pkg/models"
	"github.com/frankbria/codeframe-sub003/test/dbtest"
)

func TestCompleteTaskWithEvidence_CommitsBoth(t *testing.T) {
	ctx := context.Background()
	db := dbtest.NewDB(t)
	projectID, issueID := seedProjectAndIssue(t, ctx, db)

	taskID := uuid.NewString()
	require.NoError(t, db.InsertTask(ctx, models.Task{
		ID: taskID, ProjectID: projectID, IssueID: issueID, TaskNumber: "3.1",
		Title: "t", Status: models.TaskStatusInProgress,
		QualityGateStatus: models.QualityGateStatusRunning, QualityGateFailures: []models.GateFailure{},
		TouchedFiles: []string{},
	}))

	ev := models.Evidence{
		ID: uuid.NewString(), TaskID: taskID, AgentID: uuid.NewString(),
		Verified: true,
		TestResult: models.TestResult{TaskID: taskID, Status: models.TestResultPassed, Passed: 5},
		QualityMetrics: models.QualityMetricsSnapshot{Timestamp: time.Now()},
		Language: "go", Framework: "testing",
	}
	completedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.CompleteTaskWithEvidence(ctx, ev, taskID, completedAt))

	got, err := db.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, models.QualityGateStatusPassed, got.QualityGateStatus)
	require.NotNil(t, got.CompletedAt)

	var count int
	row := db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM evidence WHERE task_id = $1`, taskID)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestInsertTestResult_UpsertsOnConflict(t *testing.T) {
	ctx := context.Background()
	db := dbtest.NewDB(t)
	projectID, issueID := seedProjectAndIssue(t, ctx, db)

	taskID := uuid.NewString()
	require.NoError(t, db.InsertTask(ctx, models.Task{
		ID: taskID, ProjectID: projectID, IssueID: issueID, TaskNumber: "3.2",
		Title: "t", Status: models.TaskStatusInProgress,
		QualityGateStatus: models.QualityGateStatusRunning, QualityGateFailures: []models.GateFailure{},
		TouchedFiles: []string{},
	}))

	require.NoError(t, db.InsertTestResult(ctx, models.TestResult{TaskID: taskID, Status: models.TestResultFailed, Passed: 2, Failed: 3}))
	require.NoError(t, db.InsertTestResult(ctx, models.TestResult{TaskID: taskID, Status: models.TestResultPassed, Passed: 5, Failed: 0}))

	got, err := db.LatestTestResultForTask(ctx, taskID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.TestResultPassed, got.Status)
	assert.Equal(t, 5, got.Passed)
	assert.Equal(t, 0, got.Failed)
}

func TestCorrectionAttempts_InsertAndCount(t *testing.T) {
	ctx := context.Background()
	db := dbtest.NewDB(t)
	projectID, issueID := seedProjectAndIssue(t, ctx, db)

	taskID := uuid.NewString()
	require.NoError(t, db.InsertTask(ctx, models.Task{
		ID: taskID, ProjectID: projectID, IssueID: issueID, TaskNumber: "3.3",
		Title: "t", Status: models.TaskStatusInProgress,
		QualityGateStatus: models.QualityGateStatusFailed, QualityGateFailures: []models.GateFailure{},
		TouchedFiles: []string{},
	}))

	for i := 1; i <= 2; i++ {
		require.NoError(t, db.InsertCorrectionAttempt(ctx, models.CorrectionAttempt{
			ID: uuid.NewString(), TaskID: taskID, AttemptNumber: i,
			ErrorAnalysis: "lint failure", FixDescription: "reformatted",
		}))
	}

	n, err := db.CountCorrectionAttempts(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInsertTokenUsageAndAuditLog(t *testing.T) {
	ctx := context.Background()
	db := dbtest.NewDB(t)

	tu := models.TokenUsage{
		ID: uuid.NewString(), AgentID: uuid.NewString(), ProjectID: uuid.NewString(),
		Model: "claude-sonnet-4", InputTokens: 1000, OutputTokens: 250,
		EstimatedCostUSD: 0.01, CallType: models.CallTypeTaskExecution,
	}
	require.NoError(t, db.InsertTokenUsage(ctx, tu))

	var count int
	row := db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM token_usage WHERE id = $1`, tu.ID)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)

	al := models.AuditLog{
		ID: uuid.NewString(), EventType: "blocker_created", ResourceType: "blocker",
		ResourceID: uuid.NewString(), Metadata: map[string]any{"agent_id": tu.AgentID},
	}
	require.NoError(t, db.InsertAuditLog(ctx, al))

	row = db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log WHERE id = $1`, al.ID)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}
