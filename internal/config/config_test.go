package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/frankbria/codeframe-sub003/internal/config"
)

func TestDefaults_MatchDocumentedValues(t *testing.T) {
	d := config.Defaults()
	assert.Equal(t, 10, d.AgentRateLimit)
	assert.Equal(t, 1.0, d.MaxCostPerTask)
	assert.True(t, d.RequireCoverage)
	assert.Equal(t, 85.0, d.MinCoverage)
	assert.False(t, d.AllowSkippedTests)
	assert.Equal(t, 100.0, d.MinPassRate)
	assert.True(t, d.EnableSkipDetection)
	assert.Equal(t, config.DeploymentDevelopment, d.DeploymentMode)
	assert.Equal(t, config.SecurityEnforcementWarn, d.SecurityEnforcement)
	assert.Equal(t, config.AuditVerbosityLow, d.AuditVerbosity)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("AGENT_RATE_LIMIT", "25")
	t.Setenv("MAX_COST_PER_TASK", "2.50")
	t.Setenv("CODEFRAME_ALLOW_SKIPPED_TESTS", "true")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, 25, cfg.AgentRateLimit)
	assert.Equal(t, 2.50, cfg.MaxCostPerTask)
	assert.True(t, cfg.AllowSkippedTests)
	// untouched fields keep their defaults
	assert.Equal(t, 85.0, cfg.MinCoverage)
}

func TestLoad_InvalidEnvValueFallsBackToDefault(t *testing.T) {
	t.Setenv("AGENT_RATE_LIMIT", "not-a-number")
	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, 10, cfg.AgentRateLimit)
}
