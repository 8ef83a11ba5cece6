package scoring_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/frankbria/codeframe-sub003/pkg/models"
	"github.com/frankbria/codeframe-sub003/pkg/scoring"
)

func TestComputeScore_FreshTaskItem(t *testing.T) {
	now := time.Now()
	score := scoring.ComputeScore(models.ItemTypeTask, now, 0, now)
	// type_weight=1.0, age_decay=1.0 (age=0), access_boost=0
	assert.InDelta(t, 0.8, score, 1e-9)
	assert.Equal(t, models.TierHot, scoring.AssignTier(score))
}

func TestComputeScore_UnknownTypeDefaultsToHalfWeight(t *testing.T) {
	now := time.Now()
	score := scoring.ComputeScore(models.ItemType("MYSTERY"), now, 0, now)
	assert.InDelta(t, 0.6, score, 1e-9)
}

func TestComputeScore_NegativeAccessCountTreatedAsZero(t *testing.T) {
	now := time.Now()
	withNegative := scoring.ComputeScore(models.ItemTypeCode, now, -5, now)
	withZero := scoring.ComputeScore(models.ItemTypeCode, now, 0, now)
	assert.Equal(t, withZero, withNegative)
}

func TestComputeScore_FutureCreatedAtTreatedAsZeroAge(t *testing.T) {
	now := time.Now()
	future := now.Add(24 * time.Hour)
	score := scoring.ComputeScore(models.ItemTypeTask, future, 0, now)
	assert.InDelta(t, 0.8, score, 1e-9)
}

func TestComputeScore_ScoreAlwaysInUnitRange(t *testing.T) {
	now := time.Now()
	for _, access := range []int{0, 1, 10, 1000, 1_000_000} {
		for _, days := range []float64{0, 1, 5, 30, 365} {
			created := now.Add(-time.Duration(days*24) * time.Hour)
			score := scoring.ComputeScore(models.ItemTypeError, created, access, now)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	}
}

func TestAssignTier_Boundaries(t *testing.T) {
	assert.Equal(t, models.TierHot, scoring.AssignTier(0.8))
	assert.Equal(t, models.TierWarm, scoring.AssignTier(0.7999999))
	assert.Equal(t, models.TierWarm, scoring.AssignTier(0.4))
	assert.Equal(t, models.TierCold, scoring.AssignTier(0.3999999))
}

func TestAssignTier_Monotonic(t *testing.T) {
	scores := []float64{0.0, 0.1, 0.39, 0.4, 0.6, 0.79, 0.8, 0.95, 1.0}
	for i := 1; i < len(scores); i++ {
		prevTier := scoring.AssignTier(scores[i-1])
		currTier := scoring.AssignTier(scores[i])
		assert.GreaterOrEqual(t, scoring.TierRank(currTier), scoring.TierRank(prevTier))
	}
}
