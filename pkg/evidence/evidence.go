// Package evidence implements the EvidenceVerifier: it turns a quality
// gate run's raw test/coverage/skip data into a structured, immutable
// Evidence record, validates that record against a configurable policy,
// and renders it into the deterministic report text a blocker carries.
//
// Grounded on pkg/services/errors.go's sentinel-error style for the
// verification-failure list (each rule violation becomes one plain-text
// entry, matching the ValidationError convention's "one message per
// field" shape) and codeframe/agents/worker_agent.py's evidence-blocker
// report formatting.
package evidence

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/frankbria/codeframe-sub003/pkg/models"
)

// Defaults mirror spec'd evidence-policy defaults.
const (
	DefaultMinCoverage = 85.0
	DefaultMinPassRate = 100.0
)

// maxReportedViolations caps how many skip violations GenerateReport
// lists before collapsing the rest into an "N more" marker.
const maxReportedViolations = 10

// Config is the evidence-verification policy.
type Config struct {
	RequireCoverage   bool
	MinCoverage       float64
	AllowSkippedTests bool
	MinPassRate       float64
}

// DefaultConfig returns the policy's documented defaults.
func DefaultConfig() Config {
	return Config{
		RequireCoverage:   true,
		MinCoverage:       DefaultMinCoverage,
		AllowSkippedTests: false,
		MinPassRate:       DefaultMinPassRate,
	}
}

// Verifier collects and verifies Evidence records.
type Verifier struct {
	cfg Config
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithConfig overrides the default Config.
func WithConfig(cfg Config) Option { return func(v *Verifier) { v.cfg = cfg } }

// New constructs a Verifier with DefaultConfig unless overridden.
func New(opts ...Option) *Verifier {
	v := &Verifier{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Collect builds an Evidence record from a completed quality-gate run.
// coverage may be nil when the coverage gate didn't produce a number.
func (v *Verifier) Collect(
	taskID, agentID, taskDescription string,
	testResult models.TestResult,
	skipViolations []models.SkipViolation,
	coverage *float64,
	language, framework string,
) models.Evidence {
	return models.Evidence{
		ID:              uuid.NewString(),
		TaskID:          taskID,
		AgentID:         agentID,
		TaskDescription: taskDescription,
		TestResult:      testResult,
		SkipViolations:  skipViolations,
		Coverage:        coverage,
		Language:        language,
		Framework:       framework,
		Timestamp:       time.Now().UTC(),
	}
}

// Verify checks ev against the policy, setting ev.Verified and
// ev.VerificationErrors in place, and returns the same verdict.
func (v *Verifier) Verify(ev *models.Evidence) bool {
	var errs []string

	passRate := ev.TestResult.PassRate() * 100.0
	if passRate < v.cfg.MinPassRate {
		errs = append(errs, fmt.Sprintf(
			"pass rate below minimum: %.1f%% < %.1f%%", passRate, v.cfg.MinPassRate))
	}

	if v.cfg.RequireCoverage {
		switch {
		case ev.Coverage == nil:
			errs = append(errs, "coverage required but not reported")
		case *ev.Coverage < v.cfg.MinCoverage:
			errs = append(errs, fmt.Sprintf(
				"coverage below minimum: %.1f%% < %.1f%%", *ev.Coverage, v.cfg.MinCoverage))
		}
	}

	if !v.cfg.AllowSkippedTests && ev.TestResult.Skipped > 0 {
		errs = append(errs, fmt.Sprintf("skipped tests not allowed: %d skipped", ev.TestResult.Skipped))
	}

	for _, sv := range ev.SkipViolations {
		errs = append(errs, fmt.Sprintf("skip violation in %s:%d - %s", sv.File, sv.Line, sv.Pattern))
	}

	ev.VerificationErrors = errs
	ev.Verified = len(errs) == 0
	return ev.Verified
}

// GenerateReport renders a deterministic multi-line report suitable for
// inclusion in a blocker's question text.
func GenerateReport(ev models.Evidence) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Evidence for task %s\n", ev.TaskID)
	fmt.Fprintf(&b, "Agent: %s\n", ev.AgentID)
	fmt.Fprintf(&b, "Language: %s", ev.Language)
	if ev.Framework != "" {
		fmt.Fprintf(&b, " (%s)", ev.Framework)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Test result: %s (%d passed, %d failed, %d errors, %d skipped)\n",
		ev.TestResult.Status, ev.TestResult.Passed, ev.TestResult.Failed,
		ev.TestResult.Errors, ev.TestResult.Skipped)

	if ev.Coverage != nil {
		fmt.Fprintf(&b, "Coverage: %.1f%%\n", *ev.Coverage)
	} else {
		b.WriteString("Coverage: not reported\n")
	}

	fmt.Fprintf(&b, "Verified: %t\n", ev.Verified)

	if len(ev.VerificationErrors) > 0 {
		b.WriteString("Verification errors:\n")
		shown := ev.VerificationErrors
		truncated := 0
		// Verify appends one entry per skip violation after every other
		// error, so only that trailing run is capped.
		if extra := len(ev.SkipViolations) - maxReportedViolations; extra > 0 && extra <= len(shown) {
			truncated = extra
			shown = shown[:len(shown)-extra]
		}
		for _, e := range shown {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
		if truncated > 0 {
			fmt.Fprintf(&b, "  - ... %d more\n", truncated)
		}
	}

	return b.String()
}
