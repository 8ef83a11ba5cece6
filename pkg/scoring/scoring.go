// Package scoring computes context-item importance scores and tiers.
//
// It is a pure, dependency-free package deliberately, matching the
// teacher's treatment of small self-contained helpers (pkg/masking's
// regex-pattern compilation): no I/O, no clock dependency beyond a
// passed-in "now", no allocation beyond the returned value.
package scoring

import (
	"math"
	"time"

	"github.com/frankbria/codeframe-sub003/pkg/models"
)

// typeWeights assigns the fixed contribution of each ContextItem kind.
var typeWeights = map[models.ItemType]float64{
	models.ItemTypeTask:       1.0,
	models.ItemTypeCode:       0.8,
	models.ItemTypeError:      0.7,
	models.ItemTypeTestResult: 0.6,
	models.ItemTypePRDSection: 0.5,
}

const defaultTypeWeight = 0.5

// ComputeScore returns an importance score in [0, 1] for a context item
// created at createdAt, accessed accessCount times, most recently at
// lastAccessed, evaluated as of now.
//
//	score = 0.4*type_weight + 0.4*age_decay + 0.2*access_boost
//	age_decay    = exp(-0.5 * age_days), age_days < 0 treated as 0
//	access_boost = min(1.0, log(access_count+1) / 10), count < 0 treated as 0
func ComputeScore(itemType models.ItemType, createdAt time.Time, accessCount int, now time.Time) float64 {
	weight, ok := typeWeights[itemType]
	if !ok {
		weight = defaultTypeWeight
	}

	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	ageDecay := math.Exp(-0.5 * ageDays)

	if accessCount < 0 {
		accessCount = 0
	}
	accessBoost := math.Log(float64(accessCount)+1) / 10
	if accessBoost > 1.0 {
		accessBoost = 1.0
	}

	score := 0.4*weight + 0.4*ageDecay + 0.2*accessBoost
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// AssignTier maps a score to HOT/WARM/COLD. Boundaries are inclusive on
// the HOT and WARM lower edges: a score of exactly 0.8 is HOT, exactly
// 0.4 is WARM.
func AssignTier(score float64) models.Tier {
	switch {
	case score >= 0.8:
		return models.TierHot
	case score >= 0.4:
		return models.TierWarm
	default:
		return models.TierCold
	}
}

// TierRank gives COLD < WARM < HOT an ordinal for monotonicity checks.
func TierRank(t models.Tier) int {
	switch t {
	case models.TierCold:
		return 0
	case models.TierWarm:
		return 1
	case models.TierHot:
		return 2
	default:
		return -1
	}
}
