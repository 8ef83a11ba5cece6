package maturity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/frankbria/codeframe-sub003/pkg/models"
)

// DefaultDegradationThreshold is the default peak-to-recent drop, in
// percentage points, that counts as degradation.
const DefaultDegradationThreshold = 10.0

// DefaultMaxResponses is the response-count trigger for a context
// reset recommendation.
const DefaultMaxResponses = 20

// historyFileName is relative to a project's workspace root.
const historyFileName = ".codeframe/quality_history.json"

// DegradationReport is CheckDegradation's verdict.
type DegradationReport struct {
	HasDegradation bool
	Issues         []string
	CoverageDrop   float64
	PassRateDrop   float64
	Peak           models.QualityMetricsSnapshot
	Recent         models.QualityMetricsSnapshot
}

// ResetRecommendation is ShouldResetContext's verdict.
type ResetRecommendation struct {
	ShouldReset    bool
	Reasons        []string
	Recommendation string
}

// Tracker is the language-agnostic companion to Assessor: it keeps an
// append-only per-project history of quality snapshots and detects
// degradation from the historical peak.
//
// Grounded on codeframe/enforcement/quality_tracker.py for the peak
// (mean of pass-rate and coverage) and recent (latest, or mean of last
// three) windowing.
type Tracker struct {
	projectPath string
}

// NewTracker returns a Tracker rooted at a project's workspace path.
func NewTracker(projectPath string) *Tracker {
	return &Tracker{projectPath: projectPath}
}

func (t *Tracker) historyPath() string {
	return filepath.Join(t.projectPath, historyFileName)
}

// Record appends a quality snapshot to the project's history file.
func (t *Tracker) Record(snap models.QualityMetricsSnapshot) error {
	history, err := t.loadHistory()
	if err != nil {
		return err
	}
	history = append(history, snap)
	return t.saveHistory(history)
}

// loadHistory reads the history file. A missing or corrupt file yields
// an empty history rather than an error, matching the per-project
// session-state file's "corrupt yields null" tolerance (spec.md §6).
func (t *Tracker) loadHistory() ([]models.QualityMetricsSnapshot, error) {
	data, err := os.ReadFile(t.historyPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read quality history: %w", err)
	}

	var history []models.QualityMetricsSnapshot
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, nil
	}
	return history, nil
}

func (t *Tracker) saveHistory(history []models.QualityMetricsSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(t.historyPath()), 0o755); err != nil {
		return fmt.Errorf("create quality history dir: %w", err)
	}
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode quality history: %w", err)
	}
	if err := os.WriteFile(t.historyPath(), data, 0o600); err != nil {
		return fmt.Errorf("write quality history: %w", err)
	}
	return nil
}

// CheckDegradation compares the historical peak against the most
// recent checkpoint (or the mean of the last three, with 3+ recorded)
// and flags degradation when either coverage or pass rate has dropped
// by more than threshold percentage points. Fewer than two checkpoints
// never counts as degraded.
func (t *Tracker) CheckDegradation(threshold float64) (DegradationReport, error) {
	history, err := t.loadHistory()
	if err != nil {
		return DegradationReport{}, err
	}
	if len(history) < 2 {
		return DegradationReport{}, nil
	}

	peak := findPeak(history)
	recent := history[len(history)-1]
	if len(history) >= 3 {
		recent = movingAverage(history[len(history)-3:])
	}

	report := DegradationReport{
		Peak:         peak,
		Recent:       recent,
		CoverageDrop: peak.CoveragePercent - recent.CoveragePercent,
		PassRateDrop: peak.TestPassRate - recent.TestPassRate,
	}

	if report.CoverageDrop > threshold {
		report.HasDegradation = true
		report.Issues = append(report.Issues, fmt.Sprintf(
			"coverage: %.1f%% (peak: %.1f%%, drop: %.1f%%)",
			recent.CoveragePercent, peak.CoveragePercent, report.CoverageDrop))
	}
	if report.PassRateDrop > threshold {
		report.HasDegradation = true
		report.Issues = append(report.Issues, fmt.Sprintf(
			"pass rate: %.1f%% (peak: %.1f%%, drop: %.1f%%)",
			recent.TestPassRate, peak.TestPassRate, report.PassRateDrop))
	}

	return report, nil
}

// ShouldResetContext evaluates both context-reset triggers: a response
// count at or past maxResponses, and (when checkDegradation is set) a
// degraded quality trend at DefaultDegradationThreshold.
func (t *Tracker) ShouldResetContext(responseCount, maxResponses int, checkDegradation bool) (ResetRecommendation, error) {
	var reasons []string

	if responseCount >= maxResponses {
		reasons = append(reasons, fmt.Sprintf(
			"response count (%d) exceeds maximum (%d)", responseCount, maxResponses))
	}

	if checkDegradation {
		degradation, err := t.CheckDegradation(DefaultDegradationThreshold)
		if err != nil {
			return ResetRecommendation{}, err
		}
		if degradation.HasDegradation {
			reasons = append(reasons, fmt.Sprintf("quality degradation detected: %v", degradation.Issues))
		}
	}

	rec := ResetRecommendation{ShouldReset: len(reasons) > 0, Reasons: reasons}
	if rec.ShouldReset {
		rec.Recommendation = "Context reset recommended"
	} else {
		rec.Recommendation = "Context can continue"
	}
	return rec, nil
}

func findPeak(history []models.QualityMetricsSnapshot) models.QualityMetricsSnapshot {
	peak := history[0]
	peakScore := combinedScore(peak)
	for _, h := range history[1:] {
		if s := combinedScore(h); s > peakScore {
			peak, peakScore = h, s
		}
	}
	return peak
}

func combinedScore(s models.QualityMetricsSnapshot) float64 {
	return (s.TestPassRate + s.CoveragePercent) / 2
}

func movingAverage(window []models.QualityMetricsSnapshot) models.QualityMetricsSnapshot {
	n := float64(len(window))
	var avg models.QualityMetricsSnapshot
	var passed, failed int
	for _, s := range window {
		avg.TestPassRate += s.TestPassRate
		avg.CoveragePercent += s.CoveragePercent
		passed += s.PassedCount
		failed += s.FailedCount
	}
	avg.TestPassRate /= n
	avg.CoveragePercent /= n
	avg.PassedCount = int(float64(passed) / n)
	avg.FailedCount = int(float64(failed) / n)
	return avg
}
