package models

import "time"

// ProjectStatus is the lifecycle status of a Project.
type ProjectStatus string

const (
	ProjectStatusInit      ProjectStatus = "init"
	ProjectStatusPlanning  ProjectStatus = "planning"
	ProjectStatusRunning   ProjectStatus = "running"
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusPaused    ProjectStatus = "paused"
	ProjectStatusCompleted ProjectStatus = "completed"
)

// ProjectPhase is the planning-pipeline phase of a Project.
type ProjectPhase string

const (
	ProjectPhaseDiscovery ProjectPhase = "discovery"
	ProjectPhasePlanning  ProjectPhase = "planning"
	ProjectPhaseActive    ProjectPhase = "active"
	ProjectPhaseReview    ProjectPhase = "review"
	ProjectPhaseComplete  ProjectPhase = "complete"
)

// Project is a unit of work the core reads but does not itself drive
// through its lifecycle; only WorkspacePath is consumed by the core.
type Project struct {
	ID            string
	Name          string
	WorkspacePath string
	Status        ProjectStatus
	Phase         ProjectPhase
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Issue is the parent of Tasks, carrying its position in planning.
type Issue struct {
	ID           string
	ProjectID    string
	Title        string
	Priority     int // 0 highest .. 4 lowest
	WorkflowStep int // 1-15
	CreatedAt    time.Time
}

// TaskStatus is the lifecycle status of a Task.
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusAssigned    TaskStatus = "assigned"
	TaskStatusInProgress  TaskStatus = "in_progress"
	TaskStatusBlocked     TaskStatus = "blocked"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
)

// QualityGateStatus tracks where a Task sits in the gate pipeline.
type QualityGateStatus string

const (
	QualityGateStatusPending QualityGateStatus = "pending"
	QualityGateStatusRunning QualityGateStatus = "running"
	QualityGateStatusPassed  QualityGateStatus = "passed"
	QualityGateStatusFailed  QualityGateStatus = "failed"
)

// Task is the unit of worker execution.
type Task struct {
	ID                    string
	ProjectID             string
	IssueID               string
	TaskNumber            string // hierarchical, e.g. "3.2.1"
	Title                 string
	Description           string
	Status                TaskStatus
	AssignedTo            string // agent id
	Priority              int
	QualityGateStatus     QualityGateStatus
	QualityGateFailures   []GateFailure
	RequiresHumanApproval bool
	CommitSHA             string

	// TouchedFiles lists file paths the task's change set touched; used
	// by QualityGates for project-type detection and risky-file checks.
	// Not part of spec.md's persisted column list, mirrored from the
	// Python original's task._test_files convention.
	TouchedFiles []string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// AgentType is the role of an Agent.
type AgentType string

const (
	AgentTypeLead     AgentType = "lead"
	AgentTypeBackend  AgentType = "backend"
	AgentTypeFrontend AgentType = "frontend"
	AgentTypeTest     AgentType = "test"
	AgentTypeReview   AgentType = "review"
)

// MaturityLevel is the D1-D4 coaching scale.
type MaturityLevel string

const (
	MaturityD1 MaturityLevel = "D1" // directive
	MaturityD2 MaturityLevel = "D2" // coaching
	MaturityD3 MaturityLevel = "D3" // supporting
	MaturityD4 MaturityLevel = "D4" // delegating
)

// AgentStatus is the current activity state of an Agent.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusWorking AgentStatus = "working"
	AgentStatusBlocked AgentStatus = "blocked"
	AgentStatusOffline AgentStatus = "offline"
)

// AgentMetrics is the serialized metrics blob carried on Agent.
type AgentMetrics struct {
	CompletionRate     float64 `json:"completion_rate"`
	AvgTestPassRate    float64 `json:"avg_test_pass_rate"`
	SelfCorrectionRate float64 `json:"self_correction_rate"`
}

// Agent is a named worker backed by an LLM.
type Agent struct {
	ID                    string
	Type                  AgentType
	Maturity              MaturityLevel
	MaturityScore         float64
	Status                AgentStatus
	Metrics               AgentMetrics
	LastAssessedAt        *time.Time
	CompletedCountAtAssess int
	CreatedAt             time.Time
}

// ItemType is the kind of content a ContextItem holds.
type ItemType string

const (
	ItemTypeTask       ItemType = "TASK"
	ItemTypeCode       ItemType = "CODE"
	ItemTypeError      ItemType = "ERROR"
	ItemTypeTestResult ItemType = "TEST_RESULT"
	ItemTypePRDSection ItemType = "PRD_SECTION"
)

// Tier is the HOT/WARM/COLD label derived from importance score.
type Tier string

const (
	TierHot  Tier = "HOT"
	TierWarm Tier = "WARM"
	TierCold Tier = "COLD"
)

// ContextItem is a piece of text an agent chooses to remember.
type ContextItem struct {
	ID              string
	ProjectID       string
	AgentID         string
	ItemType        ItemType
	Content         string
	ImportanceScore float64
	Tier            Tier
	AccessCount     int
	CreatedAt       time.Time
	LastAccessed    time.Time
}

// ContextCheckpoint is an immutable snapshot taken at flash-save time.
type ContextCheckpoint struct {
	ID               string
	ProjectID        string
	AgentID          string
	ItemsCount       int
	ItemsArchived    int
	HotItemsRetained int
	TokenCount       int
	Items            []ContextItem // full pre-archive snapshot, write-only
	CreatedAt        time.Time
}

// BlockerType distinguishes task-halting from informational blockers.
type BlockerType string

const (
	BlockerTypeSync  BlockerType = "SYNC"
	BlockerTypeAsync BlockerType = "ASYNC"
)

// BlockerStatus is the blocker state machine's state.
type BlockerStatus string

const (
	BlockerStatusPending  BlockerStatus = "PENDING"
	BlockerStatusResolved BlockerStatus = "RESOLVED"
	BlockerStatusExpired  BlockerStatus = "EXPIRED"
)

// Blocker is a question-answer artifact that pauses (SYNC) or annotates
// (ASYNC) a task.
type Blocker struct {
	ID         string
	AgentID    string
	ProjectID  string
	TaskID     string // optional, may be empty
	Type       BlockerType
	Question   string // <= 2000 chars
	Answer     string // <= 5000 chars, empty until resolved
	Status     BlockerStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// TestResultStatus is the outcome of a test-runner invocation.
type TestResultStatus string

const (
	TestResultPassed  TestResultStatus = "passed"
	TestResultFailed  TestResultStatus = "failed"
	TestResultError   TestResultStatus = "error"
	TestResultTimeout TestResultStatus = "timeout"
	TestResultNoTests TestResultStatus = "no_tests"
)

// TestResult is written by QualityGates after running a test suite.
type TestResult struct {
	TaskID          string
	Status          TestResultStatus
	Passed          int
	Failed          int
	Errors          int
	Skipped         int
	DurationSeconds float64
	Output          string
}

// PassRate returns passed/(passed+failed), or 1.0 when there is nothing
// to divide by (no tests run is treated as a vacuous pass).
func (t TestResult) PassRate() float64 {
	total := t.Passed + t.Failed
	if total == 0 {
		return 1.0
	}
	return float64(t.Passed) / float64(total)
}

// SkipViolation is a single detected test-skip marker.
type SkipViolation struct {
	File     string
	Line     int
	Pattern  string
	Context  string
	Severity string // "error" or "warning"
	Reason   string
}

// GateFailure is a single gate failure carried by a gate result.
type GateFailure struct {
	Gate     string
	Reason   string
	Details  string
	Severity Severity
}

// Severity is the failure severity of a gate finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// CallType classifies a TokenUsage record by what triggered the LLM call.
type CallType string

const (
	CallTypeTaskExecution CallType = "task_execution"
	CallTypeCodeReview    CallType = "code_review"
	CallTypeCoordination  CallType = "coordination"
	CallTypeOther         CallType = "other"
)

// Evidence is the structured, verifiable record of a completion attempt.
type Evidence struct {
	ID                string
	TaskID            string
	AgentID           string
	TaskDescription   string
	Verified          bool
	TestResult        TestResult
	SkipViolations    []SkipViolation
	Coverage          *float64
	QualityMetrics    QualityMetricsSnapshot
	VerificationErrors []string
	Language          string
	Framework         string
	Timestamp         time.Time
}

// QualityMetricsSnapshot is the embedded quality-metrics record carried
// on Evidence and appended to the per-project quality-history file.
type QualityMetricsSnapshot struct {
	Timestamp       time.Time `yaml:"timestamp" json:"timestamp"`
	ResponseCount   int       `yaml:"response_count" json:"response_count"`
	TestPassRate    float64   `yaml:"test_pass_rate" json:"test_pass_rate"`
	CoveragePercent float64   `yaml:"coverage_percentage" json:"coverage_percentage"`
	PassedCount     int       `yaml:"passed_count" json:"passed_count"`
	FailedCount     int       `yaml:"failed_count" json:"failed_count"`
	Language        string    `yaml:"language" json:"language"`
	Framework       string    `yaml:"framework" json:"framework"`
}

// TokenUsage is an append-only record of a single LLM call's cost.
type TokenUsage struct {
	ID              string
	TaskID          string
	AgentID         string
	ProjectID       string
	Model           string
	InputTokens     int
	OutputTokens    int
	EstimatedCostUSD float64
	CallType        CallType
	Timestamp       time.Time
}

// AuditLog is an append-only security/operational audit record.
type AuditLog struct {
	ID           string
	EventType    string
	UserID       string // nullable
	ResourceType string
	ResourceID   string
	IPAddress    string
	Metadata     map[string]any
	Timestamp    time.Time
}

// CorrectionAttempt records a worker's self-correction cycle for a task.
// Invariant: at most 3 per task (enforced by the caller, not this type).
type CorrectionAttempt struct {
	ID             string
	TaskID         string
	AttemptNumber  int // 1..3
	ErrorAnalysis  string
	FixDescription string
	CodeChanges    string
	TestResultID   string // optional reference
	CreatedAt      time.Time
}
