// Package maturity implements the MaturityAssessor: a periodic scoring
// pass over an agent's historical task record that maps a weighted
// completion/test/self-correction score onto the D1-D4 coaching scale.
//
// Grounded on codeframe/agents/worker_agent.py's assess_maturity method
// for the exact weighted formula and level thresholds, with the
// periodic sweep shaped after pkg/cleanup/service.go's ticker pattern
// (also already adapted by pkg/contextmgr and pkg/blocker in this tree).
package maturity

import (
	"context"
	"log/slog"
	"time"

	"github.com/frankbria/codeframe-sub003/pkg/models"
)

// DefaultMinTasksSinceLast is the "at least N new completed tasks since
// the last assessment" trigger threshold.
const DefaultMinTasksSinceLast = 5

// DefaultReassessAfter is the "last assessment older than this" trigger.
const DefaultReassessAfter = 24 * time.Hour

// Store is the persistence surface MaturityAssessor needs.
type Store interface {
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	UpdateAgentFields(ctx context.Context, agentID string, fields map[string]any) error
	ListAgentIDs(ctx context.Context) ([]string, error)
	AssignedTaskCount(ctx context.Context, agentID string) (int, error)
	CompletedTaskCount(ctx context.Context, agentID string) (int, error)
	TestPassRatesForAgent(ctx context.Context, agentID string, limit int) ([]float64, error)
	CompletedTasksWithoutCorrectionsCount(ctx context.Context, agentID string) (int, error)
	InsertAuditLog(ctx context.Context, a models.AuditLog) error
}

// Result is assess's return shape.
type Result struct {
	Level   models.MaturityLevel
	Score   float64
	Metrics models.AgentMetrics
	Changed bool
}

// Assessor computes and persists maturity assessments.
type Assessor struct {
	store             Store
	minTasksSinceLast int
	reassessAfter     time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	tick   time.Duration
}

// Option configures an Assessor.
type Option func(*Assessor)

// WithMinTasksSinceLast overrides DefaultMinTasksSinceLast.
func WithMinTasksSinceLast(n int) Option { return func(a *Assessor) { a.minTasksSinceLast = n } }

// WithReassessAfter overrides DefaultReassessAfter.
func WithReassessAfter(d time.Duration) Option { return func(a *Assessor) { a.reassessAfter = d } }

// New constructs an Assessor. tick is the interval for the optional
// periodic sweep (Start/Stop); it has no effect if the loop is never
// started.
func New(store Store, tick time.Duration, opts ...Option) *Assessor {
	a := &Assessor{
		store:             store,
		minTasksSinceLast: DefaultMinTasksSinceLast,
		reassessAfter:     DefaultReassessAfter,
		tick:              tick,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ShouldAssess reports whether agent is due for reassessment: never
// assessed, last assessment older than reassessAfter, or at least
// minTasksSinceLast new completed tasks since the recorded count.
func (a *Assessor) ShouldAssess(ctx context.Context, agent models.Agent) (bool, error) {
	if agent.LastAssessedAt == nil {
		return true, nil
	}
	if time.Since(*agent.LastAssessedAt) > a.reassessAfter {
		return true, nil
	}
	completed, err := a.store.CompletedTaskCount(ctx, agent.ID)
	if err != nil {
		return false, err
	}
	return completed-agent.CompletedCountAtAssess >= a.minTasksSinceLast, nil
}

// Assess computes the agent's current maturity score and level,
// persists the result, and emits an agent.maturity.assessed audit
// entry. With no completed tasks it returns D1 with zero metrics.
func (a *Assessor) Assess(ctx context.Context, agentID string) (Result, error) {
	agent, err := a.store.GetAgent(ctx, agentID)
	if err != nil {
		return Result{}, err
	}
	oldLevel := agent.Maturity

	completed, err := a.store.CompletedTaskCount(ctx, agentID)
	if err != nil {
		return Result{}, err
	}

	if completed == 0 {
		result := Result{Level: models.MaturityD1, Changed: oldLevel != models.MaturityD1}
		a.persist(ctx, agentID, result, completed)
		a.audit(ctx, agentID, oldLevel, result)
		return result, nil
	}

	total, err := a.store.AssignedTaskCount(ctx, agentID)
	if err != nil {
		return Result{}, err
	}
	completionRate := 0.0
	if total > 0 {
		completionRate = float64(completed) / float64(total)
	}

	rates, err := a.store.TestPassRatesForAgent(ctx, agentID, completed)
	if err != nil {
		return Result{}, err
	}
	avgTestPassRate := mean(rates)

	correctionFree, err := a.store.CompletedTasksWithoutCorrectionsCount(ctx, agentID)
	if err != nil {
		return Result{}, err
	}
	selfCorrectionRate := float64(correctionFree) / float64(completed)

	score := 0.4*completionRate + 0.3*avgTestPassRate + 0.3*selfCorrectionRate
	level := levelForScore(score)

	result := Result{
		Level: level,
		Score: roundTo(score, 4),
		Metrics: models.AgentMetrics{
			CompletionRate:     roundTo(completionRate, 4),
			AvgTestPassRate:    roundTo(avgTestPassRate, 4),
			SelfCorrectionRate: roundTo(selfCorrectionRate, 4),
		},
		Changed: oldLevel != level,
	}

	a.persist(ctx, agentID, result, completed)
	a.audit(ctx, agentID, oldLevel, result)

	slog.Info("agent maturity assessed", "agent_id", agentID, "level", result.Level,
		"score", result.Score, "changed", result.Changed)

	return result, nil
}

func (a *Assessor) persist(ctx context.Context, agentID string, result Result, completed int) {
	err := a.store.UpdateAgentFields(ctx, agentID, map[string]any{
		"maturity":                  result.Level,
		"maturity_score":            result.Score,
		"metrics":                   result.Metrics,
		"last_assessed_at":          time.Now().UTC(),
		"completed_count_at_assess": completed,
	})
	if err != nil {
		slog.Error("persisting maturity assessment failed", "agent_id", agentID, "error", err)
	}
}

// audit failures never block the assessment itself (spec.md §7): log
// and continue.
func (a *Assessor) audit(ctx context.Context, agentID string, oldLevel models.MaturityLevel, result Result) {
	err := a.store.InsertAuditLog(ctx, models.AuditLog{
		EventType:    "agent.maturity.assessed",
		ResourceType: "agent",
		ResourceID:   agentID,
		Metadata: map[string]any{
			"old_level": oldLevel,
			"new_level": result.Level,
			"score":     result.Score,
			"metrics":   result.Metrics,
		},
	})
	if err != nil {
		slog.Warn("maturity assessment audit log failed", "agent_id", agentID, "error", err)
	}
}

func levelForScore(score float64) models.MaturityLevel {
	switch {
	case score >= 0.9:
		return models.MaturityD4
	case score >= 0.7:
		return models.MaturityD3
	case score >= 0.5:
		return models.MaturityD2
	default:
		return models.MaturityD1
	}
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0.0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func roundTo(v float64, places int) float64 {
	scale := 1.0
	for i := 0; i < places; i++ {
		scale *= 10
	}
	return float64(int64(v*scale+0.5)) / scale
}

// Start launches the periodic assessment sweep: every tick, list every
// agent and assess those ShouldAssess flags as due.
func (a *Assessor) Start(ctx context.Context) {
	if a.cancel != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	go a.run(ctx)

	slog.Info("maturity assessment sweep started", "interval", a.tick)
}

// Stop signals the sweep to exit and waits for it to finish.
func (a *Assessor) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
	slog.Info("maturity assessment sweep stopped")
}

func (a *Assessor) run(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweepOnce(ctx)
		}
	}
}

func (a *Assessor) sweepOnce(ctx context.Context) {
	ids, err := a.store.ListAgentIDs(ctx)
	if err != nil {
		slog.Error("maturity sweep: listing agents failed", "error", err)
		return
	}
	for _, id := range ids {
		agent, err := a.store.GetAgent(ctx, id)
		if err != nil {
			slog.Error("maturity sweep: fetching agent failed", "agent_id", id, "error", err)
			continue
		}
		due, err := a.ShouldAssess(ctx, *agent)
		if err != nil {
			slog.Error("maturity sweep: should-assess check failed", "agent_id", id, "error", err)
			continue
		}
		if !due {
			continue
		}
		if _, err := a.Assess(ctx, id); err != nil {
			slog.Error("maturity sweep: assessment failed", "agent_id", id, "error", err)
		}
	}
}
