// Package blocker implements the BlockerRegistry: SYNC/ASYNC blocker
// creation with per-agent in-memory rate limiting, resolution, staleness
// expiry, and project-level metrics.
//
// Grounded on codeframe/persistence/repositories/blocker_repository.py
// for the rate limit, question/answer length caps, and metrics formulas,
// and pkg/session/manager.go for the sync.RWMutex-guarded in-memory
// bookkeeping shape. The per-agent rate-limit window is deliberately
// in-memory, not a database query, matching the Python original's
// process-local dict convention: it resets on restart.
package blocker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frankbria/codeframe-sub003/pkg/models"
)

// MaxQuestionChars and MaxAnswerChars are the input-length caps enforced
// on create/resolve.
const (
	MaxQuestionChars = 2000
	MaxAnswerChars   = 5000
)

// RateLimitPerMinute is the maximum blockers a single agent may create
// within any trailing 60-second window.
const RateLimitPerMinute = 10

// DefaultStaleAfter is how long a PENDING blocker may sit before
// ExpireStale transitions it to EXPIRED.
const DefaultStaleAfter = 24 * time.Hour

// ErrRateLimitExceeded is returned by Create when an agent has already
// created RateLimitPerMinute blockers in the trailing minute.
var ErrRateLimitExceeded = fmt.Errorf("blocker rate limit exceeded")

// ErrQuestionTooLong and ErrAnswerTooLong guard the length caps.
var (
	ErrQuestionTooLong = fmt.Errorf("question exceeds %d characters", MaxQuestionChars)
	ErrAnswerTooLong   = fmt.Errorf("answer exceeds %d characters", MaxAnswerChars)
)

// Store is the persistence surface BlockerRegistry needs.
type Store interface {
	InsertBlocker(ctx context.Context, b models.Blocker) error
	ResolveBlocker(ctx context.Context, id, answer string, resolvedAt time.Time) (bool, error)
	ExpireStaleBlockers(ctx context.Context, cutoff time.Time) ([]string, error)
	PendingBlockerFor(ctx context.Context, agentID string) (*models.Blocker, error)
	CountBlockersByStatusAndType(ctx context.Context, projectID string) (map[string]map[string]int, error)
	ResolvedBlockerDurations(ctx context.Context, projectID string) ([]float64, error)
}

// Metrics mirrors get_blocker_metrics's return shape.
type Metrics struct {
	AvgResolutionTimeSeconds *float64
	ExpirationRatePercent    float64
	TotalBlockers            int
	ResolvedCount            int
	ExpiredCount             int
	PendingCount             int
	SyncCount                int
	AsyncCount               int
}

// Registry creates, resolves, and expires blockers, rate-limiting
// creation per agent via an in-memory sliding window.
type Registry struct {
	store Store

	mu      sync.Mutex
	windows map[string][]time.Time

	staleAfter time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithStaleAfter overrides DefaultStaleAfter for the expiry loop.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Registry) { r.staleAfter = d }
}

// New constructs a Registry.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:      store,
		windows:    map[string][]time.Time{},
		staleAfter: DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create inserts a new PENDING blocker after checking the agent's
// per-minute rate limit and the question length cap.
func (r *Registry) Create(ctx context.Context, agentID, projectID, taskID string, blockerType models.BlockerType, question string) (models.Blocker, error) {
	if len(question) > MaxQuestionChars {
		return models.Blocker{}, ErrQuestionTooLong
	}
	if !r.allow(agentID) {
		return models.Blocker{}, fmt.Errorf("agent %s: %w", agentID, ErrRateLimitExceeded)
	}

	b := models.Blocker{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		ProjectID: projectID,
		TaskID:    taskID,
		Type:      blockerType,
		Question:  question,
		Status:    models.BlockerStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.InsertBlocker(ctx, b); err != nil {
		return models.Blocker{}, fmt.Errorf("create blocker: %w", err)
	}
	return b, nil
}

// Resolve answers a PENDING blocker. Returns false (no error) if the
// blocker was already resolved/expired or does not exist.
func (r *Registry) Resolve(ctx context.Context, id, answer string) (bool, error) {
	if len(answer) > MaxAnswerChars {
		return false, ErrAnswerTooLong
	}
	resolved, err := r.store.ResolveBlocker(ctx, id, answer, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("resolve blocker %s: %w", id, err)
	}
	return resolved, nil
}

// PendingFor returns the oldest PENDING blocker for an agent, or nil if
// none exists.
func (r *Registry) PendingFor(ctx context.Context, agentID string) (*models.Blocker, error) {
	b, err := r.store.PendingBlockerFor(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("pending blocker for %s: %w", agentID, err)
	}
	return b, nil
}

// ExpireStale transitions PENDING blockers older than staleAfter to
// EXPIRED and returns their ids.
func (r *Registry) ExpireStale(ctx context.Context) ([]string, error) {
	cutoff := time.Now().UTC().Add(-r.staleAfter)
	ids, err := r.store.ExpireStaleBlockers(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expire stale blockers: %w", err)
	}
	return ids, nil
}

// Metrics computes the avg-resolution-time / expiration-rate / counts
// summary for a project.
func (r *Registry) Metrics(ctx context.Context, projectID string) (Metrics, error) {
	counts, err := r.store.CountBlockersByStatusAndType(ctx, projectID)
	if err != nil {
		return Metrics{}, fmt.Errorf("count blockers: %w", err)
	}
	durations, err := r.store.ResolvedBlockerDurations(ctx, projectID)
	if err != nil {
		return Metrics{}, fmt.Errorf("resolved blocker durations: %w", err)
	}

	m := Metrics{}
	for status, byType := range counts {
		for typ, n := range byType {
			m.TotalBlockers += n
			switch status {
			case string(models.BlockerStatusResolved):
				m.ResolvedCount += n
			case string(models.BlockerStatusExpired):
				m.ExpiredCount += n
			case string(models.BlockerStatusPending):
				m.PendingCount += n
			}
			switch typ {
			case string(models.BlockerTypeSync):
				m.SyncCount += n
			case string(models.BlockerTypeAsync):
				m.AsyncCount += n
			}
		}
	}

	if len(durations) > 0 {
		var sum float64
		for _, d := range durations {
			sum += d
		}
		avg := sum / float64(len(durations))
		m.AvgResolutionTimeSeconds = &avg
	}

	completed := m.ResolvedCount + m.ExpiredCount
	if completed > 0 {
		m.ExpirationRatePercent = (float64(m.ExpiredCount) / float64(completed)) * 100.0
	}

	return m, nil
}

// allow records a creation attempt for agentID and reports whether it
// falls under RateLimitPerMinute within the trailing 60-second window.
func (r *Registry) allow(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)

	window := r.windows[agentID]
	pruned := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) >= RateLimitPerMinute {
		r.windows[agentID] = pruned
		return false
	}

	pruned = append(pruned, now)
	r.windows[agentID] = pruned
	return true
}

// Start launches the periodic stale-blocker expiry loop.
func (r *Registry) Start(ctx context.Context, interval time.Duration) {
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.run(ctx, interval)

	slog.Info("blocker expiry loop started", "interval", interval, "stale_after", r.staleAfter)
}

// Stop signals the expiry loop to exit and waits for it to finish.
func (r *Registry) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	slog.Info("blocker expiry loop stopped")
}

func (r *Registry) run(ctx context.Context, interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := r.ExpireStale(ctx)
			if err != nil {
				slog.Error("blocker expiry failed", "error", err)
				continue
			}
			if len(ids) > 0 {
				slog.Info("expired stale blockers", "count", len(ids))
			}
		}
	}
}
