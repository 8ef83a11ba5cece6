// Package contextmgr manages per-agent context scoring, tier assignment,
// and flash-save archival.
//
// Grounded on codeframe/lib/context_manager.go's constants and flash-save
// workflow, with the periodic recalculation loop shaped after
// pkg/cleanup/service.go's ticker pattern.
package contextmgr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/frankbria/codeframe-sub003/pkg/models"
	"github.com/frankbria/codeframe-sub003/pkg/scoring"
	"github.com/frankbria/codeframe-sub003/pkg/tokencount"
)

// TokenLimit is the hard per-agent context budget.
const TokenLimit = 180000

// FlashSaveThreshold is 80% of TokenLimit; crossing it triggers archival.
const FlashSaveThreshold = int(TokenLimit * 0.8)

// Store is the persistence surface ContextManager needs.
type Store interface {
	InsertContextItem(ctx context.Context, item models.ContextItem) error
	ListContextItems(ctx context.Context, projectID, agentID string, tier *models.Tier, limit, offset int) ([]models.ContextItem, error)
	TouchContextItems(ctx context.Context, ids []string) error
	UpdateContextItemScore(ctx context.Context, id string, score float64, tier *models.Tier) error
	DeleteColdItems(ctx context.Context, projectID, agentID string) (int, error)
	InsertContextCheckpoint(ctx context.Context, cp models.ContextCheckpoint) error
}

// FlashSaveResult mirrors the Python FlashSaveResponse shape.
type FlashSaveResult struct {
	CheckpointID        string
	TokensBefore        int
	TokensAfter         int
	ReductionPercentage float64
	ItemsArchived       int
	HotItemsRetained    int
	WarmItemsRetained   int
}

// Manager recalculates scores, reassigns tiers, and performs flash saves.
type Manager struct {
	store   Store
	counter *tokencount.Counter

	cancel context.CancelFunc
	done   chan struct{}
	tick   time.Duration
}

// New constructs a Manager. tick is the interval for the optional
// background recalculation loop (Start/Stop); it has no effect if the
// loop is never started.
func New(store Store, tick time.Duration) *Manager {
	return &Manager{
		store:   store,
		counter: tokencount.New(),
		tick:    tick,
	}
}

// Save persists a newly produced context item, scoring and tiering it on
// the way in.
func (m *Manager) Save(ctx context.Context, projectID, agentID string, itemType models.ItemType, content string) (models.ContextItem, error) {
	now := time.Now().UTC()
	score := scoring.ComputeScore(itemType, now, 0, now)
	item := models.ContextItem{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		AgentID:         agentID,
		ItemType:        itemType,
		Content:         content,
		ImportanceScore: score,
		Tier:            scoring.AssignTier(score),
		AccessCount:     0,
		CreatedAt:       now,
		LastAccessed:    now,
	}
	if err := m.store.InsertContextItem(ctx, item); err != nil {
		return models.ContextItem{}, fmt.Errorf("save context item: %w", err)
	}
	return item, nil
}

// Load returns the items for (project, agent), optionally filtered by
// tier, and marks them as accessed.
func (m *Manager) Load(ctx context.Context, projectID, agentID string, tier *models.Tier, limit, offset int) ([]models.ContextItem, error) {
	items, err := m.store.ListContextItems(ctx, projectID, agentID, tier, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("load context items: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	if err := m.store.TouchContextItems(ctx, ids); err != nil {
		return nil, fmt.Errorf("touch context items: %w", err)
	}
	return items, nil
}

// RecalculateScores recomputes importance scores for every item an agent
// holds, without touching tiers. Returns the number of items updated.
func (m *Manager) RecalculateScores(ctx context.Context, projectID, agentID string) (int, error) {
	items, err := m.store.ListContextItems(ctx, projectID, agentID, nil, 10000, 0)
	if err != nil {
		return 0, fmt.Errorf("list context items: %w", err)
	}

	for _, item := range items {
		score := scoring.ComputeScore(item.ItemType, item.CreatedAt, item.AccessCount, time.Now().UTC())
		if err := m.store.UpdateContextItemScore(ctx, item.ID, score, nil); err != nil {
			return 0, fmt.Errorf("update score for %s: %w", item.ID, err)
		}
	}
	return len(items), nil
}

// UpdateTiers recomputes scores and reassigns tiers for every item an
// agent holds. Returns the number of items updated.
func (m *Manager) UpdateTiers(ctx context.Context, projectID, agentID string) (int, error) {
	items, err := m.store.ListContextItems(ctx, projectID, agentID, nil, 10000, 0)
	if err != nil {
		return 0, fmt.Errorf("list context items: %w", err)
	}

	for _, item := range items {
		score := scoring.ComputeScore(item.ItemType, item.CreatedAt, item.AccessCount, time.Now().UTC())
		tier := scoring.AssignTier(score)
		if err := m.store.UpdateContextItemScore(ctx, item.ID, score, &tier); err != nil {
			return 0, fmt.Errorf("update tier for %s: %w", item.ID, err)
		}
	}
	return len(items), nil
}

// ShouldFlashSave reports whether an agent's total context token count
// has crossed FlashSaveThreshold. force always returns true, matching a
// manual trigger.
func (m *Manager) ShouldFlashSave(ctx context.Context, projectID, agentID string, force bool) (bool, error) {
	if force {
		return true, nil
	}

	items, err := m.store.ListContextItems(ctx, projectID, agentID, nil, 10000, 0)
	if err != nil {
		return false, fmt.Errorf("list context items: %w", err)
	}
	if len(items) == 0 {
		return false, nil
	}

	total := m.counter.CountContext(contentsOf(items))
	return total >= FlashSaveThreshold, nil
}

// FlashSave checkpoints an agent's full context state and archives its
// COLD-tier items, matching the Python original's 6-step sequence.
func (m *Manager) FlashSave(ctx context.Context, projectID, agentID string) (FlashSaveResult, error) {
	items, err := m.store.ListContextItems(ctx, projectID, agentID, nil, 10000, 0)
	if err != nil {
		return FlashSaveResult{}, fmt.Errorf("list context items: %w", err)
	}

	tokensBefore := m.counter.CountContext(contentsOf(items))

	var hot, warm, cold int
	for _, it := range items {
		switch it.Tier {
		case models.TierHot:
			hot++
		case models.TierWarm:
			warm++
		case models.TierCold:
			cold++
		}
	}

	checkpoint := models.ContextCheckpoint{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		AgentID:          agentID,
		ItemsCount:       len(items),
		ItemsArchived:    cold,
		HotItemsRetained: hot,
		TokenCount:       tokensBefore,
		Items:            items,
		CreatedAt:        time.Now().UTC(),
	}
	if err := m.store.InsertContextCheckpoint(ctx, checkpoint); err != nil {
		return FlashSaveResult{}, fmt.Errorf("insert checkpoint: %w", err)
	}

	if _, err := m.store.DeleteColdItems(ctx, projectID, agentID); err != nil {
		return FlashSaveResult{}, fmt.Errorf("archive cold items: %w", err)
	}

	remaining, err := m.store.ListContextItems(ctx, projectID, agentID, nil, 10000, 0)
	if err != nil {
		return FlashSaveResult{}, fmt.Errorf("list remaining items: %w", err)
	}
	tokensAfter := m.counter.CountContext(contentsOf(remaining))

	var reduction float64
	if tokensBefore > 0 {
		reduction = (float64(tokensBefore-tokensAfter) / float64(tokensBefore)) * 100
	}

	return FlashSaveResult{
		CheckpointID:        checkpoint.ID,
		TokensBefore:        tokensBefore,
		TokensAfter:         tokensAfter,
		ReductionPercentage: roundTo(reduction, 2),
		ItemsArchived:       cold,
		HotItemsRetained:    hot,
		WarmItemsRetained:   warm,
	}, nil
}

// Start launches the periodic recalculation loop for a single
// (project, agent) pair. It is a no-op if already started.
func (m *Manager) Start(ctx context.Context, projectID, agentID string) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.run(ctx, projectID, agentID)

	slog.Info("context manager recalculation loop started",
		"project_id", projectID, "agent_id", agentID, "interval", m.tick)
}

// Stop signals the recalculation loop to exit and waits for it to finish.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	slog.Info("context manager recalculation loop stopped")
}

func (m *Manager) run(ctx context.Context, projectID, agentID string) {
	defer close(m.done)

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.UpdateTiers(ctx, projectID, agentID); err != nil {
				slog.Error("context tier recalculation failed", "error", err, "agent_id", agentID)
				continue
			}
			shouldSave, err := m.ShouldFlashSave(ctx, projectID, agentID, false)
			if err != nil {
				slog.Error("flash save check failed", "error", err, "agent_id", agentID)
				continue
			}
			if shouldSave {
				if _, err := m.FlashSave(ctx, projectID, agentID); err != nil {
					slog.Error("flash save failed", "error", err, "agent_id", agentID)
				}
			}
		}
	}
}

func contentsOf(items []models.ContextItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Content
	}
	return out
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int(v*mult+0.5)) / mult
}
