// Package worker implements the WorkerAgent: the orchestrator that turns
// an assigned task into either an LLM-produced draft (executeTask) or a
// verified completion (completeTask), and carries the thin per-agent
// wrappers over ContextManager, MaturityAssessor, and the quality
// tracker's context-reset recommendation.
//
// Grounded on pkg/agent/base_agent.go's Controller-delegating Execute
// method for the staged, numbered-step orchestration shape and its
// errors.Is-based classification of a sub-operation's failure, and on
// codeframe/agents/worker_agent.py's execute_task/complete_task for the
// exact step sequence, prompt format, and credential-validation rules.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frankbria/codeframe-sub003/pkg/blocker"
	"github.com/frankbria/codeframe-sub003/pkg/contextmgr"
	"github.com/frankbria/codeframe-sub003/pkg/evidence"
	"github.com/frankbria/codeframe-sub003/pkg/gates"
	"github.com/frankbria/codeframe-sub003/pkg/llm"
	"github.com/frankbria/codeframe-sub003/pkg/maturity"
	"github.com/frankbria/codeframe-sub003/pkg/models"
)

// DefaultMaxTokens is executeTask's max_tokens default.
const DefaultMaxTokens = 4096

// credentialEnvVar names the provider credential WorkerAgent validates
// before every LLM call, matching the Anthropic provider's key shape.
const credentialEnvVar = "ANTHROPIC_API_KEY"

const credentialPrefix = "sk-ant-"

// Sentinel errors returned by validation/credential failures, which per
// spec.md §7 fail fast and are never retried.
var (
	ErrMissingProjectID     = errors.New("task has no project id")
	ErrNoActiveTask         = errors.New("no active task")
	ErrUnsupportedModel     = errors.New("unsupported model")
	ErrMissingCredentials   = fmt.Errorf("%s environment variable is required", credentialEnvVar)
	ErrMalformedCredentials = fmt.Errorf("%s has an invalid format", credentialEnvVar)
)

// Store is the persistence surface WorkerAgent needs beyond what its
// composed components (ContextManager, BlockerRegistry, MaturityAssessor)
// already own.
type Store interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTaskFields(ctx context.Context, taskID string, fields map[string]any) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	InsertEvidence(ctx context.Context, ev models.Evidence) error
	CompleteTaskWithEvidence(ctx context.Context, ev models.Evidence, taskID string, completedAt any) error
	InsertTokenUsage(ctx context.Context, tu models.TokenUsage) error
	InsertTestResult(ctx context.Context, tr models.TestResult) error
}

// ExecuteResult is executeTask's return shape.
type ExecuteResult struct {
	Status              string // "completed" or "failed"
	Output              string
	InputTokens         int
	OutputTokens        int
	Model               string
	TokenTrackingFailed bool
	Error               string
}

// CompleteResult is completeTask's return shape.
type CompleteResult struct {
	Success           bool
	Status            string // "completed", "blocked", or "failed"
	QualityGateResult gates.Result
	BlockerID         string
	Message           string
	EvidenceID        string
	EvidenceErrors    []string
	Degradation       *maturity.DegradationReport
}

// WorkerAgent orchestrates task execution and completion for a single
// agent identity. It is not safe for concurrent task executions against
// the same instance (spec.md §5): the orchestrator is expected to assign
// one task per agent at a time.
type WorkerAgent struct {
	AgentID      string
	AgentType    models.AgentType
	DefaultModel string
	SystemPrompt string

	store    Store
	gateway  *llm.Gateway
	gates    *gates.Pipeline
	verifier *evidence.Verifier
	context  *contextmgr.Manager
	blockers *blocker.Registry
	assessor *maturity.Assessor

	mu             sync.Mutex
	currentTask    *models.Task
	currentProject *models.Project
	responseCount  int
}

// Option configures a WorkerAgent.
type Option func(*WorkerAgent)

// WithDefaultModel sets the model used by executeTask when none is given.
func WithDefaultModel(model string) Option {
	return func(w *WorkerAgent) { w.DefaultModel = model }
}

// WithSystemPrompt overrides the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(w *WorkerAgent) { w.SystemPrompt = prompt }
}

// New constructs a WorkerAgent from its composed components.
func New(
	agentID string,
	agentType models.AgentType,
	store Store,
	gateway *llm.Gateway,
	pipeline *gates.Pipeline,
	verifier *evidence.Verifier,
	contextMgr *contextmgr.Manager,
	blockers *blocker.Registry,
	assessor *maturity.Assessor,
	opts ...Option,
) *WorkerAgent {
	w := &WorkerAgent{
		AgentID:      agentID,
		AgentType:    agentType,
		DefaultModel: "claude-sonnet-4-5",
		SystemPrompt: "You are a helpful software development assistant.",
		store:        store,
		gateway:      gateway,
		gates:        pipeline,
		verifier:     verifier,
		context:      contextMgr,
		blockers:     blockers,
		assessor:     assessor,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ExecuteTask sends task to the LLM and returns its draft output. It
// never raises for transient provider failures, agent rate limiting, or
// cost-guardrail refusals — those come back as a {status:"failed"}
// result per spec.md §7. Only validation (unsupported model) and
// credential failures return a Go error, since those fail fast and are
// never retried.
func (w *WorkerAgent) ExecuteTask(ctx context.Context, task models.Task, model string, maxTokens int) (ExecuteResult, error) {
	w.mu.Lock()
	w.currentTask = &task
	w.mu.Unlock()

	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if model == "" {
		model = w.DefaultModel
	}

	if _, ok := llm.DefaultModelPricing[model]; !ok {
		return ExecuteResult{}, fmt.Errorf("%w: %s", ErrUnsupportedModel, model)
	}
	if err := validateCredentials(); err != nil {
		return ExecuteResult{}, err
	}

	prompt := buildTaskPrompt(task)

	resp, err := w.gateway.Call(ctx, llm.CallParams{
		AgentID:   w.AgentID,
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		CallRequest: llm.CallRequest{
			Model:     model,
			System:    w.SystemPrompt,
			Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompt}},
			MaxTokens: maxTokens,
		},
	})
	if err != nil {
		if errors.Is(err, llm.ErrAgentRateLimitExceeded) {
			return ExecuteResult{
				Status: "failed",
				Output: "Agent rate limit exceeded. Wait before retrying.",
				Error:  "AGENT_RATE_LIMIT_EXCEEDED",
			}, nil
		}
		if errors.Is(err, llm.ErrCostLimitExceeded) {
			return ExecuteResult{
				Status: "failed",
				Output: "Task exceeds cost limit",
				Error:  "COST_LIMIT_EXCEEDED",
			}, nil
		}
		// Every other failure is a transient provider error the gateway
		// already retried to exhaustion: surface as failed, never raise.
		slog.Warn("llm call failed", "agent_id", w.AgentID, "task_id", task.ID, "error", err)
		return ExecuteResult{Status: "failed", Output: "LLM call failed: " + err.Error(), Error: err.Error()}, nil
	}

	if resp.Content == "" {
		slog.Warn("empty response from llm", "agent_id", w.AgentID, "task_id", task.ID)
	}

	tokenTrackingFailed := false
	if err := w.store.InsertTokenUsage(ctx, models.TokenUsage{
		ID:               uuid.NewString(),
		TaskID:           task.ID,
		AgentID:          w.AgentID,
		ProjectID:        task.ProjectID,
		Model:            model,
		InputTokens:      resp.InputTokens,
		OutputTokens:     resp.OutputTokens,
		EstimatedCostUSD: estimateCost(model, resp.InputTokens, resp.OutputTokens),
		CallType:         models.CallTypeTaskExecution,
		Timestamp:        time.Now().UTC(),
	}); err != nil {
		slog.Warn("token usage tracking failed", "agent_id", w.AgentID, "task_id", task.ID, "error", err)
		tokenTrackingFailed = true
	}

	w.mu.Lock()
	w.responseCount++
	w.mu.Unlock()

	return ExecuteResult{
		Status:              "completed",
		Output:              resp.Content,
		InputTokens:         resp.InputTokens,
		OutputTokens:        resp.OutputTokens,
		Model:               model,
		TokenTrackingFailed: tokenTrackingFailed,
	}, nil
}

// CompleteTask runs the nine-step completion workflow: quality gates,
// evidence collection and verification, degradation tracking, and
// (only on full success) the single evidence+status transaction.
func (w *WorkerAgent) CompleteTask(ctx context.Context, task models.Task, projectRoot string) (CompleteResult, error) {
	w.mu.Lock()
	w.currentTask = &task
	w.mu.Unlock()

	// 1. Derive project_id.
	if task.ProjectID == "" {
		return CompleteResult{}, fmt.Errorf("task %s: %w", task.ID, ErrMissingProjectID)
	}

	// 2. Resolve project_root from the task's project if not given.
	if projectRoot == "" {
		project, err := w.store.GetProject(ctx, task.ProjectID)
		if err != nil {
			return CompleteResult{}, fmt.Errorf("resolve project root for task %s: %w", task.ID, err)
		}
		w.mu.Lock()
		w.currentProject = project
		w.mu.Unlock()
		projectRoot = project.WorkspacePath
	}

	// 3. Run quality gates.
	gateResult := w.gates.RunAll(ctx, task, projectRoot)

	// 3b. Persist the test run regardless of outcome: TestPassRatesForAgent
	// (and so MaturityAssessor.avg_test_pass_rate) reads this table, not
	// the evidence JSONB blob.
	gateResult.TestResult.TaskID = task.ID
	if err := w.store.InsertTestResult(ctx, gateResult.TestResult); err != nil {
		slog.Error("persisting test result failed", "task_id", task.ID, "error", err)
	}

	// 4. Detect language/framework; the gate pipeline already synthesizes
	// a zero-tests "no_tests" result (100% pass rate via PassRate's
	// vacuous-pass rule) when no test files matched, so no separate
	// absence check is needed here.
	language, framework := detectLanguageFramework(task.TouchedFiles)

	// 5. Collect and verify evidence.
	ev := w.verifier.Collect(task.ID, w.AgentID, task.Description, gateResult.TestResult,
		gateResult.SkipViolations, gateResult.Coverage, language, framework)
	valid := w.verifier.Verify(&ev)

	if !valid {
		if err := w.store.InsertEvidence(ctx, ev); err != nil {
			slog.Error("persisting failed evidence", "task_id", task.ID, "error", err)
		}
		report := evidence.GenerateReport(ev)
		b, err := w.blockers.Create(ctx, w.AgentID, task.ProjectID, task.ID, models.BlockerTypeSync,
			fmt.Sprintf("Evidence verification failed for task %s\n\n%s", task.ID, report))
		if err != nil {
			return CompleteResult{}, fmt.Errorf("create evidence blocker for task %s: %w", task.ID, err)
		}
		return CompleteResult{
			Status:            "blocked",
			QualityGateResult: gateResult,
			BlockerID:         b.ID,
			Message:           "Evidence verification failed",
			EvidenceID:        ev.ID,
			EvidenceErrors:    ev.VerificationErrors,
		}, nil
	}

	// 6. Record quality metrics for trend tracking.
	tracker := maturity.NewTracker(projectRoot)
	w.mu.Lock()
	responseCount := w.responseCount
	w.mu.Unlock()
	if err := tracker.Record(qualitySnapshot(ev, responseCount)); err != nil {
		slog.Warn("recording quality snapshot failed", "task_id", task.ID, "error", err)
	}

	// 7. Check for quality degradation.
	degradation, err := tracker.CheckDegradation(maturity.DefaultDegradationThreshold)
	if err != nil {
		slog.Warn("degradation check failed", "task_id", task.ID, "error", err)
	} else if degradation.HasDegradation {
		b, err := w.blockers.Create(ctx, w.AgentID, task.ProjectID, task.ID, models.BlockerTypeSync,
			fmt.Sprintf("Quality degradation detected for agent %s: %v", w.AgentID, degradation.Issues))
		if err != nil {
			return CompleteResult{}, fmt.Errorf("create degradation blocker for task %s: %w", task.ID, err)
		}
		return CompleteResult{
			Status:            "blocked",
			QualityGateResult: gateResult,
			BlockerID:         b.ID,
			Message:           "Quality degradation detected",
			EvidenceID:        ev.ID,
			Degradation:       &degradation,
		}, nil
	}

	// 8. Gates passed: one transaction spanning evidence insert and task
	// completion, rollback on any error.
	if gateResult.Passed {
		ev.Verified = true
		if err := w.store.CompleteTaskWithEvidence(ctx, ev, task.ID, time.Now().UTC()); err != nil {
			return CompleteResult{}, fmt.Errorf("complete task %s: %w", task.ID, err)
		}

		summary := fmt.Sprintf("Completed task %s: %s", task.ID, task.Description)
		if err := maturity.RecordTaskCompletion(projectRoot, task.ID, summary, nil, nil, 0); err != nil {
			slog.Warn("recording session state failed", "task_id", task.ID, "error", err)
		}

		return CompleteResult{
			Success:           true,
			Status:            "completed",
			QualityGateResult: gateResult,
			Message:           "Task completed",
			EvidenceID:        ev.ID,
		}, nil
	}

	// 9. Gates failed but evidence was valid: create a gate blocker.
	b, err := w.blockers.Create(ctx, w.AgentID, task.ProjectID, task.ID, models.BlockerTypeSync,
		fmt.Sprintf("Quality gates failed for task %s:\n%s", task.ID, formatGateFailures(gateResult.Failures)))
	if err != nil {
		return CompleteResult{}, fmt.Errorf("create gate blocker for task %s: %w", task.ID, err)
	}
	return CompleteResult{
		Status:            "blocked",
		QualityGateResult: gateResult,
		BlockerID:         b.ID,
		Message:           "Quality gates failed",
	}, nil
}

// AssessMaturity re-scores this agent's historical task record.
func (w *WorkerAgent) AssessMaturity(ctx context.Context) (maturity.Result, error) {
	return w.assessor.Assess(ctx, w.AgentID)
}

// ShouldRecommendContextReset evaluates both context-reset triggers
// against the current project's quality history.
func (w *WorkerAgent) ShouldRecommendContextReset(ctx context.Context, maxResponses int) (maturity.ResetRecommendation, error) {
	if maxResponses <= 0 {
		maxResponses = maturity.DefaultMaxResponses
	}
	workspace, err := w.currentWorkspacePath(ctx)
	if err != nil {
		return maturity.ResetRecommendation{}, err
	}
	w.mu.Lock()
	responseCount := w.responseCount
	w.mu.Unlock()
	return maturity.NewTracker(workspace).ShouldResetContext(responseCount, maxResponses, true)
}

// SessionState returns the current project's cross-session handoff
// record, or nil if none has been written yet (or the file is
// corrupt).
func (w *WorkerAgent) SessionState(ctx context.Context) (*maturity.SessionState, error) {
	workspace, err := w.currentWorkspacePath(ctx)
	if err != nil {
		return nil, err
	}
	return maturity.LoadSessionState(workspace)
}

// FlashSave checkpoints and archives the current (project, agent)'s COLD
// context items.
func (w *WorkerAgent) FlashSave(ctx context.Context) (contextmgr.FlashSaveResult, error) {
	projectID, err := w.currentProjectID()
	if err != nil {
		return contextmgr.FlashSaveResult{}, err
	}
	return w.context.FlashSave(ctx, projectID, w.AgentID)
}

// ShouldFlashSave reports whether the current agent's context has
// crossed the flash-save token threshold.
func (w *WorkerAgent) ShouldFlashSave(ctx context.Context, force bool) (bool, error) {
	projectID, err := w.currentProjectID()
	if err != nil {
		return false, err
	}
	return w.context.ShouldFlashSave(ctx, projectID, w.AgentID, force)
}

// UpdateTiers recomputes scores and tier assignments for the current
// agent's context items.
func (w *WorkerAgent) UpdateTiers(ctx context.Context) (int, error) {
	projectID, err := w.currentProjectID()
	if err != nil {
		return 0, err
	}
	return w.context.UpdateTiers(ctx, projectID, w.AgentID)
}

// SaveContextItem persists a new context item for the current agent.
func (w *WorkerAgent) SaveContextItem(ctx context.Context, itemType models.ItemType, content string) (models.ContextItem, error) {
	projectID, err := w.currentProjectID()
	if err != nil {
		return models.ContextItem{}, err
	}
	return w.context.Save(ctx, projectID, w.AgentID, itemType, content)
}

// LoadContext returns the current agent's context items, optionally
// filtered by tier.
func (w *WorkerAgent) LoadContext(ctx context.Context, tier *models.Tier, limit, offset int) ([]models.ContextItem, error) {
	projectID, err := w.currentProjectID()
	if err != nil {
		return nil, err
	}
	return w.context.Load(ctx, projectID, w.AgentID, tier, limit, offset)
}

// GetContextItem returns a single item by id from the current agent's
// context, or nil if it isn't found.
func (w *WorkerAgent) GetContextItem(ctx context.Context, itemID string) (*models.ContextItem, error) {
	items, err := w.LoadContext(ctx, nil, 10000, 0)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == itemID {
			return &items[i], nil
		}
	}
	return nil, nil
}

// currentProjectID returns the active task's project id. Per spec.md
// §4.8, session context is derived strictly from the current task; no
// method needing project_id may be called without one.
func (w *WorkerAgent) currentProjectID() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentProject != nil {
		return w.currentProject.ID, nil
	}
	if w.currentTask == nil {
		return "", ErrNoActiveTask
	}
	if w.currentTask.ProjectID == "" {
		return "", ErrMissingProjectID
	}
	return w.currentTask.ProjectID, nil
}

// currentWorkspacePath resolves (and caches) the current project's
// workspace path, fetching the project record if it hasn't been
// resolved yet.
func (w *WorkerAgent) currentWorkspacePath(ctx context.Context) (string, error) {
	w.mu.Lock()
	project := w.currentProject
	task := w.currentTask
	w.mu.Unlock()

	if project != nil {
		return project.WorkspacePath, nil
	}
	if task == nil {
		return "", ErrNoActiveTask
	}
	if task.ProjectID == "" {
		return "", ErrMissingProjectID
	}

	project, err := w.store.GetProject(ctx, task.ProjectID)
	if err != nil {
		return "", fmt.Errorf("resolve workspace path: %w", err)
	}
	w.mu.Lock()
	w.currentProject = project
	w.mu.Unlock()
	return project.WorkspacePath, nil
}

// buildTaskPrompt matches the original's exact "Task #N: Title /
// Description: ... / Please complete..." layout.
func buildTaskPrompt(task models.Task) string {
	title := defaultIfEmpty(strings.TrimSpace(task.Title), "Untitled")
	description := defaultIfEmpty(strings.TrimSpace(task.Description), "No description provided.")
	return fmt.Sprintf(
		"Task #%s: %s\n\nDescription:\n%s\n\nPlease complete this task and provide a summary of the work done.",
		task.TaskNumber, title, description)
}

func defaultIfEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// validateCredentials checks for a present, correctly shaped provider
// key before any call is made, masking it in logs to the last four
// characters (spec.md §7).
func validateCredentials() error {
	key := os.Getenv(credentialEnvVar)
	if key == "" {
		return ErrMissingCredentials
	}
	if !strings.HasPrefix(key, credentialPrefix) {
		slog.Error("invalid provider credential format", "masked", maskCredential(key))
		return ErrMalformedCredentials
	}
	return nil
}

func maskCredential(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return credentialPrefix + "***" + key[len(key)-4:]
}

func estimateCost(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := llm.DefaultModelPricing[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)*pricing.InputPricePerToken + float64(outputTokens)*pricing.OutputPricePerToken
}

// detectLanguageFramework infers the primary language/framework from a
// task's touched files, falling back to Python/pytest with no files
// given, mirroring the quality-gate pipeline's own detection fallback.
func detectLanguageFramework(touchedFiles []string) (language, framework string) {
	hasSuffix := func(suffixes ...string) bool {
		for _, f := range touchedFiles {
			lower := strings.ToLower(f)
			for _, s := range suffixes {
				if strings.HasSuffix(lower, s) {
					return true
				}
			}
		}
		return false
	}

	switch {
	case hasSuffix(".ts", ".tsx"):
		return "typescript", "jest"
	case hasSuffix(".js", ".jsx"):
		return "javascript", "jest"
	default:
		return "python", "pytest"
	}
}

func qualitySnapshot(ev models.Evidence, responseCount int) models.QualityMetricsSnapshot {
	coverage := 0.0
	if ev.Coverage != nil {
		coverage = *ev.Coverage
	}
	return models.QualityMetricsSnapshot{
		Timestamp:       time.Now().UTC(),
		ResponseCount:   responseCount,
		TestPassRate:    ev.TestResult.PassRate() * 100.0,
		CoveragePercent: coverage,
		PassedCount:     ev.TestResult.Passed,
		FailedCount:     ev.TestResult.Failed,
		Language:        ev.Language,
		Framework:       ev.Framework,
	}
}

func formatGateFailures(failures []models.GateFailure) string {
	var b strings.Builder
	for _, f := range failures {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Severity, f.Gate, f.Reason)
	}
	return b.String()
}
