package blocker_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankbria/codeframe-sub003/pkg/blocker"
	"github.com/frankbria/codeframe-sub003/pkg/models"
)

type fakeStore struct {
	mu       sync.Mutex
	blockers map[string]models.Blocker
}

func newFakeStore() *fakeStore {
	return &fakeStore{blockers: map[string]models.Blocker{}}
}

func (f *fakeStore) InsertBlocker(_ context.Context, b models.Blocker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockers[b.ID] = b
	return nil
}

func (f *fakeStore) ResolveBlocker(_ context.Context, id, answer string, resolvedAt time.Time) (bool, error) {
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

func (f *fakeStore) ExpireStaleBlockers(_ context.Context, cutoff time.Time) ([]string, error) {
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

func (f *fakeStore) PendingBlockerFor(_ context.Context, agentID string) (*models.Blocker, error) {
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

func (f *fakeStore) CountBlockersByStatusAndType(_ context.Context, projectID string) (map[string]map[string]int, error) {
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

func (f *fakeStore) ResolvedBlockerDurations(_ context.Context, projectID string) ([]float64, error) {
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

func TestCreate_RejectsOverlongQuestion(t *testing.T) {
	reg := blocker.New(newFakeStore())
	_, err := reg.Create(context.Background(), "agent-1", "proj-1", "", models.BlockerTypeSync, strings.Repeat("x", blocker.MaxQuestionChars+1))
	require.ErrorIs(t, err, blocker.ErrQuestionTooLong)
}

func TestCreate_EnforcesRateLimit(t *testing.T) {
	reg := blocker.New(newFakeStore())
	ctx := context.Background()

	for i := 0; i < blocker.RateLimitPerMinute; i++ {
		_, err := reg.Create(ctx, "agent-1", "proj-1", "", models.BlockerTypeSync, "q")
		require.NoError(t, err)
	}

	_, err := reg.Create(ctx, "agent-1", "proj-1", "", models.BlockerTypeSync, "one too many")
	require.ErrorIs(t, err, blocker.ErrRateLimitExceeded)

	_, err = reg.Create(ctx, "agent-2", "proj-1", "", models.BlockerTypeSync, "different agent unaffected")
	require.NoError(t, err)
}

func TestResolve_TransitionsOnce(t *testing.T) {
	reg := blocker.New(newFakeStore())
	ctx := context.Background()

	b, err := reg.Create(ctx, "agent-1", "proj-1", "", models.BlockerTypeSync, "which db?")
	require.NoError(t, err)

	resolved, err := reg.Resolve(ctx, b.ID, "postgres")
	require.NoError(t, err)
	assert.True(t, resolved)

	again, err := reg.Resolve(ctx, b.ID, "ignored")
	require.NoError(t, err)
	assert.False(t, again)
}

func TestResolve_RejectsOverlongAnswer(t *testing.T) {
	reg := blocker.New(newFakeStore())
	_, err := reg.Resolve(context.Background(), "whatever", strings.Repeat("a", blocker.MaxAnswerChars+1))
	require.ErrorIs(t, err, blocker.ErrAnswerTooLong)
}

func TestPendingFor_ReturnsOldestOnly(t *testing.T) {
	store := newFakeStore()
	reg := blocker.New(store)
	ctx := context.Background()

	first, err := reg.Create(ctx, "agent-1", "proj-1", "", models.BlockerTypeAsync, "first")
	require.NoError(t, err)
	_, err = reg.Create(ctx, "agent-1", "proj-1", "", models.BlockerTypeAsync, "second")
	require.NoError(t, err)

	pending, err := reg.PendingFor(ctx, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, first.ID, pending.ID)
}

func TestExpireStale_OnlyAffectsOldEnoughPending(t *testing.T) {
	store := newFakeStore()
	reg := blocker.New(store, blocker.WithStaleAfter(time.Hour))
	ctx := context.Background()

	store.blockers["old"] = models.Blocker{
		ID: "old", AgentID: "a", ProjectID: "p", Type: models.BlockerTypeSync,
		Status: models.BlockerStatusPending, CreatedAt: time.Now().Add(-2 * time.Hour),
	}
	store.blockers["new"] = models.Blocker{
		ID: "new", AgentID: "a", ProjectID: "p", Type: models.BlockerTypeSync,
		Status: models.BlockerStatusPending, CreatedAt: time.Now(),
	}

	expired, err := reg.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, expired)
}

func TestMetrics_ComputesExpirationRateAndAvgDuration(t *testing.T) {
	store := newFakeStore()
	reg := blocker.New(store)
	ctx := context.Background()

	resolvedAt := time.Now()
	store.blockers["r1"] = models.Blocker{
		ID: "r1", ProjectID: "p", Type: models.BlockerTypeSync, Status: models.BlockerStatusResolved,
		CreatedAt: resolvedAt.Add(-10 * time.Second), ResolvedAt: &resolvedAt,
	}
	store.blockers["e1"] = models.Blocker{
		ID: "e1", ProjectID: "p", Type: models.BlockerTypeAsync, Status: models.BlockerStatusExpired,
		CreatedAt: time.Now(),
	}

	metrics, err := reg.Metrics(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.TotalBlockers)
	assert.Equal(t, 1, metrics.ResolvedCount)
	assert.Equal(t, 1, metrics.ExpiredCount)
	assert.Equal(t, 50.0, metrics.ExpirationRatePercent)
	require.NotNil(t, metrics.AvgResolutionTimeSeconds)
	assert.InDelta(t, 10.0, *metrics.AvgResolutionTimeSeconds, 0.5)
}

func TestStartStop_RunsExpiryLoopWithoutPanicking(t *testing.T) {
	reg := blocker.New(newFakeStore())
	reg.Start(context.Background(), 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	reg.Stop()
}
