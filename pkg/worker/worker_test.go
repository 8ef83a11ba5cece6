package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankbria/codeframe-sub003/pkg/blocker"
	"github.com/frankbria/codeframe-sub003/pkg/contextmgr"
	"github.com/frankbria/codeframe-sub003/pkg/evidence"
	"github.com/frankbria/codeframe-sub003/pkg/gates"
	"github.com/frankbria/codeframe-sub003/pkg/llm"
	"github.com/frankbria/codeframe-sub003/pkg/maturity"
	"github.com/frankbria/codeframe-sub003/pkg/models"
	"github.com/frankbria/codeframe-sub003/pkg/worker"
)

// fakeBackend is a single in-memory store satisfying every persistence
// interface WorkerAgent and its composed components need, grounded on
// the per-package fakeStore doubles used across this tree's tests.
type fakeBackend struct {
	mu sync.Mutex

	tasks        map[string]models.Task
	projects     map[string]models.Project
	evidence     []models.Evidence
	tokenUsages  []models.TokenUsage
	testResults  map[string]models.TestResult
	agents       map[string]models.Agent
	blockers     map[string]models.Blocker
	contextItems map[string]models.ContextItem
	checkpoints  []models.ContextCheckpoint
	auditLogs    []models.AuditLog
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tasks:        map[string]models.Task{},
		projects:     map[string]models.Project{},
		agents:       map[string]models.Agent{},
		blockers:     map[string]models.Blocker{},
		contextItems: map[string]models.ContextItem{},
		testResults:  map[string]models.TestResult{},
	}
}

// --- worker.Store -------------------------------------------------------

func (f *fakeBackend) GetTask(_ context.Context, id string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, errors.New("task not found")
	}
	return &t, nil
}

func (f *fakeBackend) UpdateTaskFields(_ context.Context, taskID string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return errors.New("task not found")
	}
	if status, ok := fields["status"].(models.TaskStatus); ok {
		t.Status = status
	}
	f.tasks[taskID] = t
	return nil
}

func (f *fakeBackend) GetProject(_ context.Context, id string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, errors.New("project not found")
	}
	return &p, nil
}

func (f *fakeBackend) InsertEvidence(_ context.Context, ev models.Evidence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evidence = append(f.evidence, ev)
	return nil
}

func (f *fakeBackend) CompleteTaskWithEvidence(_ context.Context, ev models.Evidence, taskID string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evidence = append(f.evidence, ev)
	t, ok := f.tasks[taskID]
	if !ok {
		return errors.New("task not found")
	}
	t.Status = models.TaskStatusCompleted
	t.QualityGateStatus = models.QualityGateStatusPassed
	now := time.Now().UTC()
	t.CompletedAt = &now
	f.tasks[taskID] = t
	return nil
}

func (f *fakeBackend) InsertTokenUsage(_ context.Context, tu models.TokenUsage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenUsages = append(f.tokenUsages, tu)
	return nil
}

func (f *fakeBackend) InsertTestResult(_ context.Context, tr models.TestResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.testResults[tr.TaskID] = tr
	return nil
}

// --- blocker.Store --------------------------------------------------------

func (f *fakeBackend) InsertBlocker(_ context.Context, b models.Blocker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockers[b.ID] = b
	return nil
}

func (f *fakeBackend) ResolveBlocker(_ context.Context, id, answer string, resolvedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blockers[id]
	if !ok || b.Status != models.BlockerStatusPending {
		return false, nil
	}
	b.Status = models.BlockerStatusResolved
	b.Answer = answer
	b.ResolvedAt = &resolvedAt
	f.blockers[id] = b
	return true, nil
}

func (f *fakeBackend) ExpireStaleBlockers(_ context.Context, cutoff time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, b := range f.blockers {
		if b.Status == models.BlockerStatusPending && b.CreatedAt.Before(cutoff) {
			b.Status = models.BlockerStatusExpired
			f.blockers[id] = b
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeBackend) PendingBlockerFor(_ context.Context, agentID string) (*models.Blocker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *models.Blocker
	for _, b := range f.blockers {
		if b.AgentID != agentID || b.Status != models.BlockerStatusPending {
			continue
		}
		b := b
		if oldest == nil || b.CreatedAt.Before(oldest.CreatedAt) {
			oldest = &b
		}
	}
	return oldest, nil
}

func (f *fakeBackend) CountBlockersByStatusAndType(_ context.Context, projectID string) (map[string]map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]map[string]int{}
	for _, b := range f.blockers {
		if b.ProjectID != projectID {
			continue
		}
		if out[string(b.Status)] == nil {
			out[string(b.Status)] = map[string]int{}
		}
		out[string(b.Status)][string(b.Type)]++
	}
	return out, nil
}

func (f *fakeBackend) ResolvedBlockerDurations(_ context.Context, projectID string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []float64
	for _, b := range f.blockers {
		if b.ProjectID == projectID && b.Status == models.BlockerStatusResolved && b.ResolvedAt != nil {
			out = append(out, b.ResolvedAt.Sub(b.CreatedAt).Seconds())
		}
	}
	return out, nil
}

// --- maturity.Store ---------------------------------------------------

func (f *fakeBackend) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return nil, errors.New("agent not found")
	}
	return &a, nil
}

func (f *fakeBackend) UpdateAgentFields(_ context.Context, agentID string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[agentID]
	if !ok {
		return errors.New("agent not found")
	}
	if level, ok := fields["maturity"].(models.MaturityLevel); ok {
		a.Maturity = level
	}
	f.agents[agentID] = a
	return nil
}

func (f *fakeBackend) ListAgentIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.agents {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeBackend) AssignedTaskCount(_ context.Context, agentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tasks {
		if t.AssignedTo == agentID {
			n++
		}
	}
	return n, nil
}

func (f *fakeBackend) CompletedTaskCount(_ context.Context, agentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tasks {
		if t.AssignedTo == agentID && t.Status == models.TaskStatusCompleted {
			n++
		}
	}
	return n, nil
}

func (f *fakeBackend) TestPassRatesForAgent(_ context.Context, _ string, _ int) ([]float64, error) {
	return nil, nil
}

func (f *fakeBackend) CompletedTasksWithoutCorrectionsCount(_ context.Context, _ string) (int, error) {
	return 0, nil
}

func (f *fakeBackend) InsertAuditLog(_ context.Context, a models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditLogs = append(f.auditLogs, a)
	return nil
}

// --- contextmgr.Store ---------------------------------------------------

func (f *fakeBackend) InsertContextItem(_ context.Context, item models.ContextItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contextItems[item.ID] = item
	return nil
}

func (f *fakeBackend) ListContextItems(_ context.Context, projectID, agentID string, tier *models.Tier, limit, offset int) ([]models.ContextItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ContextItem
	for _, it := range f.contextItems {
		if it.ProjectID != projectID || it.AgentID != agentID {
			continue
		}
		if tier != nil && it.Tier != *tier {
			continue
		}
		out = append(out, it)
	}
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeBackend) TouchContextItems(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if it, ok := f.contextItems[id]; ok {
			it.AccessCount++
			it.LastAccessed = time.Now().UTC()
			f.contextItems[id] = it
		}
	}
	return nil
}

func (f *fakeBackend) UpdateContextItemScore(_ context.Context, id string, score float64, tier *models.Tier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.contextItems[id]
	if !ok {
		return errors.New("item not found")
	}
	it.ImportanceScore = score
	if tier != nil {
		it.Tier = *tier
	}
	f.contextItems[id] = it
	return nil
}

func (f *fakeBackend) DeleteColdItems(_ context.Context, projectID, agentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, it := range f.contextItems {
		if it.ProjectID == projectID && it.AgentID == agentID && it.Tier == models.TierCold {
			delete(f.contextItems, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeBackend) InsertContextCheckpoint(_ context.Context, cp models.ContextCheckpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoints = append(f.checkpoints, cp)
	return nil
}

// --- gates test doubles ---------------------------------------------------

type stubRunner struct {
	byName map[string]gates.Output
}

func newStubRunner() *stubRunner { return &stubRunner{byName: map[string]gates.Output{}} }

func (s *stubRunner) set(name string, out gates.Output) { s.byName[name] = out }

func (s *stubRunner) Run(_ context.Context, _, name string, _ ...string) gates.Output {
	if out, ok := s.byName[name]; ok {
		return out
	}
	return gates.Output{NotFound: true}
}

func passingRunner() *stubRunner {
	s := newStubRunner()
	s.set("ruff", gates.Output{ExitCode: 0})
	s.set("mypy", gates.Output{ExitCode: 0})
	s.set("pytest", gates.Output{ExitCode: 0, Stdout: "3 passed in 0.1s\nTOTAL  92%"})
	return s
}

type noopDetector struct{}

func (noopDetector) DetectAll(context.Context, string, []string) ([]models.SkipViolation, error) {
	return nil, nil
}

// --- llm test double ---------------------------------------------------

type stubLLMClient struct {
	resp llm.CallResponse
	err  error
}

func (s stubLLMClient) Call(context.Context, llm.CallRequest) (llm.CallResponse, error) {
	return s.resp, s.err
}

// --- harness ---------------------------------------------------------

func newTestAgent(t *testing.T, backend *fakeBackend, pipeline *gates.Pipeline, client llm.Client) *worker.WorkerAgent {
	t.Helper()
	gateway := llm.New(client)
	return worker.New(
		"agent-1", models.AgentTypeBackend, backend, gateway, pipeline,
		evidence.New(), contextmgr.New(backend, time.Hour), blocker.New(backend),
		maturity.New(backend, time.Hour),
	)
}

func newPipeline(runner *stubRunner) *gates.Pipeline {
	return gates.New(gates.WithRunner(runner), gates.WithSkipDetector(noopDetector{}))
}

func seedProjectAndTask(backend *fakeBackend, projectRoot string, touchedFiles []string) models.Task {
	project := models.Project{ID: "proj-1", Name: "demo", WorkspacePath: projectRoot, Status: models.ProjectStatusActive}
	backend.projects[project.ID] = project

	task := models.Task{
		ID: "task-1", ProjectID: project.ID, TaskNumber: "1", Title: "Do the thing",
		Description: "Implement the thing.", Status: models.TaskStatusInProgress,
		AssignedTo: "agent-1", TouchedFiles: touchedFiles,
	}
	backend.tasks[task.ID] = task
	return task
}

// --- CompleteTask scenarios ---------------------------------------------

func TestCompleteTask_S1_AllPassCompletesWithVerifiedEvidence(t *testing.T) {
	backend := newFakeBackend()
	dir := t.TempDir()
	task := seedProjectAndTask(backend, dir, []string{"src/widget.py"})

	agent := newTestAgent(t, backend, newPipeline(passingRunner()), stubLLMClient{})

	result, err := agent.CompleteTask(context.Background(), task, "")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "completed", result.Status)
	require.Len(t, backend.evidence, 1)
	assert.True(t, backend.evidence[0].Verified)

	updated, err := backend.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, updated.Status)
	assert.NotNil(t, updated.CompletedAt)

	tr, ok := backend.testResults[task.ID]
	require.True(t, ok, "test result should be persisted for maturity's pass-rate query")
	assert.Equal(t, task.ID, tr.TaskID)

	state, err := agent.SessionState(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, []string{task.ID}, state.LastSession.CompletedTasks)
}

func TestCompleteTask_S2_FailingTestsBlockWithEvidenceBlocker(t *testing.T) {
	backend := newFakeBackend()
	dir := t.TempDir()
	task := seedProjectAndTask(backend, dir, []string{"src/widget.py"})

	runner := passingRunner()
	runner.set("pytest", gates.Output{ExitCode: 1, Stdout: "3 passed, 2 failed in 0.1s\nTOTAL  92%"})
	agent := newTestAgent(t, backend, newPipeline(runner), stubLLMClient{})

	result, err := agent.CompleteTask(context.Background(), task, "")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "blocked", result.Status)
	require.NotEmpty(t, result.BlockerID)

	b, ok := backend.blockers[result.BlockerID]
	require.True(t, ok)
	assert.Contains(t, b.Question, "Evidence verification failed")

	require.Len(t, backend.evidence, 1)
	assert.False(t, backend.evidence[0].Verified)

	updated, err := backend.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, updated.Status)
}

func TestCompleteTask_S3_LowCoverageBlocks(t *testing.T) {
	backend := newFakeBackend()
	dir := t.TempDir()
	task := seedProjectAndTask(backend, dir, []string{"src/widget.py"})

	runner := passingRunner()
	runner.set("pytest", gates.Output{ExitCode: 0, Stdout: "3 passed in 0.1s\nTOTAL  72%"})
	agent := newTestAgent(t, backend, newPipeline(runner), stubLLMClient{})

	result, err := agent.CompleteTask(context.Background(), task, "")
	require.NoError(t, err)

	assert.Equal(t, "blocked", result.Status)
	require.Len(t, backend.evidence, 1)
	assert.False(t, backend.evidence[0].Verified)
	assert.Contains(t, stringsJoin(backend.evidence[0].VerificationErrors), "coverage below minimum")
}

func TestCompleteTask_S4_RiskyFileRequiresApprovalEvenOnSuccess(t *testing.T) {
	backend := newFakeBackend()
	dir := t.TempDir()
	task := seedProjectAndTask(backend, dir, []string{"src/auth.py"})

	agent := newTestAgent(t, backend, newPipeline(passingRunner()), stubLLMClient{})

	result, err := agent.CompleteTask(context.Background(), task, "")
	require.NoError(t, err)

	assert.Equal(t, "completed", result.Status)
	assert.True(t, result.QualityGateResult.RequiresHumanApproval)
}

func TestCompleteTask_MissingProjectIDFailsFast(t *testing.T) {
	backend := newFakeBackend()
	agent := newTestAgent(t, backend, newPipeline(passingRunner()), stubLLMClient{})

	_, err := agent.CompleteTask(context.Background(), models.Task{ID: "orphan"}, "")
	require.ErrorIs(t, err, worker.ErrMissingProjectID)
}

func TestCompleteTask_ResolvesProjectRootWhenNotGiven(t *testing.T) {
	backend := newFakeBackend()
	dir := t.TempDir()
	task := seedProjectAndTask(backend, dir, []string{"src/widget.py"})

	agent := newTestAgent(t, backend, newPipeline(passingRunner()), stubLLMClient{})
	result, err := agent.CompleteTask(context.Background(), task, "")
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
}

func TestCompleteTask_GateFailureBlocksWithoutEvidenceInvalidation(t *testing.T) {
	backend := newFakeBackend()
	dir := t.TempDir()
	task := seedProjectAndTask(backend, dir, []string{"src/widget.py"})

	runner := passingRunner()
	runner.set("mypy", gates.Output{ExitCode: 1, Stdout: "error: bad type"})
	agent := newTestAgent(t, backend, newPipeline(runner), stubLLMClient{})

	result, err := agent.CompleteTask(context.Background(), task, "")
	require.NoError(t, err)

	assert.Equal(t, "blocked", result.Status)
	require.NotEmpty(t, result.BlockerID)
	b, ok := backend.blockers[result.BlockerID]
	require.True(t, ok)
	assert.Contains(t, b.Question, "Quality gates failed")
}

func stringsJoin(errs []string) string {
	out := ""
	for _, e := range errs {
		out += e + "\n"
	}
	return out
}

// --- ExecuteTask ---------------------------------------------------------

func TestExecuteTask_Success(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-12345")
	backend := newFakeBackend()
	client := stubLLMClient{resp: llm.CallResponse{Content: "done", InputTokens: 10, OutputTokens: 5}}
	agent := newTestAgent(t, backend, newPipeline(passingRunner()), client)

	task := models.Task{ID: "t1", ProjectID: "proj-1", TaskNumber: "1", Title: "Title", Description: "Desc"}
	result, err := agent.ExecuteTask(context.Background(), task, "claude-sonnet-4-5", 0)
	require.NoError(t, err)

	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, "done", result.Output)
	assert.False(t, result.TokenTrackingFailed)
	require.Len(t, backend.tokenUsages, 1)
	assert.Equal(t, 10, backend.tokenUsages[0].InputTokens)
}

func TestExecuteTask_EmptyResponseStillCompletes(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-12345")
	backend := newFakeBackend()
	client := stubLLMClient{resp: llm.CallResponse{Content: ""}}
	agent := newTestAgent(t, backend, newPipeline(passingRunner()), client)

	task := models.Task{ID: "t1", ProjectID: "proj-1", TaskNumber: "1", Title: "Title", Description: "Desc"}
	result, err := agent.ExecuteTask(context.Background(), task, "claude-sonnet-4-5", 0)
	require.NoError(t, err)

	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, "", result.Output)
}

func TestExecuteTask_UnsupportedModelFailsFast(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-12345")
	backend := newFakeBackend()
	agent := newTestAgent(t, backend, newPipeline(passingRunner()), stubLLMClient{})

	task := models.Task{ID: "t1", ProjectID: "proj-1"}
	_, err := agent.ExecuteTask(context.Background(), task, "not-a-real-model", 0)
	require.ErrorIs(t, err, worker.ErrUnsupportedModel)
}

func TestExecuteTask_MissingCredentialsFailsFast(t *testing.T) {
	backend := newFakeBackend()
	agent := newTestAgent(t, backend, newPipeline(passingRunner()), stubLLMClient{})

	task := models.Task{ID: "t1", ProjectID: "proj-1"}
	_, err := agent.ExecuteTask(context.Background(), task, "claude-sonnet-4-5", 0)
	require.ErrorIs(t, err, worker.ErrMissingCredentials)
}

func TestExecuteTask_MalformedCredentialsFailsFast(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "not-a-real-key")
	backend := newFakeBackend()
	agent := newTestAgent(t, backend, newPipeline(passingRunner()), stubLLMClient{})

	task := models.Task{ID: "t1", ProjectID: "proj-1"}
	_, err := agent.ExecuteTask(context.Background(), task, "claude-sonnet-4-5", 0)
	require.ErrorIs(t, err, worker.ErrMalformedCredentials)
}

func TestExecuteTask_AgentRateLimitSurfacesAsFailedResult(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-12345")
	backend := newFakeBackend()
	client := stubLLMClient{resp: llm.CallResponse{Content: "done"}}
	gateway := llm.New(client, llm.WithRateLimit(0))
	agent := worker.New("agent-1", models.AgentTypeBackend, backend, gateway, newPipeline(passingRunner()),
		evidence.New(), contextmgr.New(backend, time.Hour), blocker.New(backend), maturity.New(backend, time.Hour))

	task := models.Task{ID: "t1", ProjectID: "proj-1"}
	result, err := agent.ExecuteTask(context.Background(), task, "claude-sonnet-4-5", 0)
	require.NoError(t, err)

	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, "AGENT_RATE_LIMIT_EXCEEDED", result.Error)
}

func TestExecuteTask_CostLimitSurfacesAsFailedResult(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-12345")
	backend := newFakeBackend()
	client := stubLLMClient{resp: llm.CallResponse{Content: "done"}}
	gateway := llm.New(client, llm.WithMaxCostPerTask(0.0000001))
	agent := worker.New("agent-1", models.AgentTypeBackend, backend, gateway, newPipeline(passingRunner()),
		evidence.New(), contextmgr.New(backend, time.Hour), blocker.New(backend), maturity.New(backend, time.Hour))

	task := models.Task{ID: "t1", ProjectID: "proj-1"}
	result, err := agent.ExecuteTask(context.Background(), task, "claude-sonnet-4-5", 0)
	require.NoError(t, err)

	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, "COST_LIMIT_EXCEEDED", result.Error)
}

// --- Maturity / context wrappers ----------------------------------------

func TestAssessMaturity_DelegatesToAssessor(t *testing.T) {
	backend := newFakeBackend()
	backend.agents["agent-1"] = models.Agent{ID: "agent-1", Maturity: models.MaturityD1}
	agent := newTestAgent(t, backend, newPipeline(passingRunner()), stubLLMClient{})

	result, err := agent.AssessMaturity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.MaturityD1, result.Level)
}

func TestContextWrappers_NoActiveTaskErrors(t *testing.T) {
	backend := newFakeBackend()
	agent := newTestAgent(t, backend, newPipeline(passingRunner()), stubLLMClient{})
	ctx := context.Background()

	_, err := agent.SaveContextItem(ctx, models.ItemTypeTask, "note")
	require.ErrorIs(t, err, worker.ErrNoActiveTask)

	_, err = agent.LoadContext(ctx, nil, 10, 0)
	require.ErrorIs(t, err, worker.ErrNoActiveTask)

	_, err = agent.ShouldFlashSave(ctx, false)
	require.ErrorIs(t, err, worker.ErrNoActiveTask)

	_, err = agent.FlashSave(ctx)
	require.ErrorIs(t, err, worker.ErrNoActiveTask)

	_, err = agent.UpdateTiers(ctx)
	require.ErrorIs(t, err, worker.ErrNoActiveTask)
}

func TestContextWrappers_RoundTripAfterCompleteTask(t *testing.T) {
	backend := newFakeBackend()
	dir := t.TempDir()
	task := seedProjectAndTask(backend, dir, []string{"src/widget.py"})
	agent := newTestAgent(t, backend, newPipeline(passingRunner()), stubLLMClient{})
	ctx := context.Background()

	_, err := agent.CompleteTask(ctx, task, "")
	require.NoError(t, err)

	item, err := agent.SaveContextItem(ctx, models.ItemTypeTask, "implemented the thing")
	require.NoError(t, err)
	require.NotEmpty(t, item.ID)

	loaded, err := agent.LoadContext(ctx, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got, err := agent.GetContextItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "implemented the thing", got.Content)

	missing, err := agent.GetContextItem(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := agent.UpdateTiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	should, err := agent.ShouldFlashSave(ctx, true)
	require.NoError(t, err)
	assert.True(t, should)

	fsResult, err := agent.FlashSave(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, fsResult.CheckpointID)
}

func TestShouldRecommendContextReset_TriggersOnResponseCount(t *testing.T) {
	backend := newFakeBackend()
	dir := t.TempDir()
	task := seedProjectAndTask(backend, dir, []string{"src/widget.py"})

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-12345")
	client := stubLLMClient{resp: llm.CallResponse{Content: "done"}}
	agent := newTestAgent(t, backend, newPipeline(passingRunner()), client)

	for i := 0; i < 3; i++ {
		_, err := agent.ExecuteTask(context.Background(), task, "claude-sonnet-4-5", 0)
		require.NoError(t, err)
	}

	rec, err := agent.ShouldRecommendContextReset(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, rec.ShouldReset)
	assert.Contains(t, rec.Reasons[0], "response count")
}

func TestShouldRecommendContextReset_NoActiveTaskErrors(t *testing.T) {
	backend := newFakeBackend()
	agent := newTestAgent(t, backend, newPipeline(passingRunner()), stubLLMClient{})

	_, err := agent.ShouldRecommendContextReset(context.Background(), 20)
	require.ErrorIs(t, err, worker.ErrNoActiveTask)
}
