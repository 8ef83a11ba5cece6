// Package config loads the core engine's environment-driven settings.
//
// Modeled on the teacher's pkg/config.Initialize entrypoint: defaults are
// expressed as a Go struct literal, then overridden by whatever the
// process environment sets, merged with dario.cat/mergo exactly as
// pkg/config/loader.go merges YAML-sourced overrides onto built-in
// defaults. A .env file (if present) is loaded first via joho/godotenv,
// matching cmd/tarsy/main.go's startup sequence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
)

// DeploymentMode gates how strictly security enforcement behaves.
type DeploymentMode string

const (
	DeploymentSaaSSandboxed   DeploymentMode = "saas_sandboxed"
	DeploymentSaaSUnsandboxed DeploymentMode = "saas_unsandboxed"
	DeploymentSelfHosted      DeploymentMode = "selfhosted"
	DeploymentDevelopment     DeploymentMode = "development"
)

// SecurityEnforcement is the strictness level for risky-change handling.
type SecurityEnforcement string

const (
	SecurityEnforcementStrict   SecurityEnforcement = "strict"
	SecurityEnforcementWarn     SecurityEnforcement = "warn"
	SecurityEnforcementDisabled SecurityEnforcement = "disabled"
)

// AuditVerbosity controls how much the audit logger writes.
type AuditVerbosity string

const (
	AuditVerbosityHigh AuditVerbosity = "high"
	AuditVerbosityLow  AuditVerbosity = "low"
)

// Config is the process-wide settings object, loaded once at startup and
// passed explicitly to component constructors (spec.md §9: "global
// mutable state" is modeled as explicit structs, not package globals).
type Config struct {
	AgentRateLimit   int     // AGENT_RATE_LIMIT, calls/minute per agent
	MaxCostPerTask   float64 // MAX_COST_PER_TASK, USD

	RequireCoverage    bool    // CODEFRAME_REQUIRE_COVERAGE
	MinCoverage        float64 // CODEFRAME_MIN_COVERAGE
	AllowSkippedTests  bool    // CODEFRAME_ALLOW_SKIPPED_TESTS
	MinPassRate        float64 // CODEFRAME_MIN_PASS_RATE
	EnableSkipDetection bool   // CODEFRAME_ENABLE_SKIP_DETECTION

	DeploymentMode      DeploymentMode
	SecurityEnforcement SecurityEnforcement
	AuditVerbosity      AuditVerbosity

	Database DatabaseConfig
}

// DatabaseConfig holds Postgres connection settings, mirroring
// pkg/database.Config.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Defaults returns the built-in baseline, matching the defaults table in
// spec.md §6 exactly.
func Defaults() Config {
	return Config{
		AgentRateLimit:      10,
		MaxCostPerTask:      1.0,
		RequireCoverage:     true,
		MinCoverage:         85.0,
		AllowSkippedTests:   false,
		MinPassRate:         100.0,
		EnableSkipDetection: true,
		DeploymentMode:      DeploymentDevelopment,
		SecurityEnforcement: SecurityEnforcementWarn,
		AuditVerbosity:      AuditVerbosityLow,
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "codeframe",
			Database: "codeframe",
			SSLMode:  "disable",
		},
	}
}

// Load reads a .env file if present, then overlays environment variables
// onto Defaults() via mergo, and returns the final Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	base := Defaults()
	overrides := fromEnv()

	if err := mergo.Merge(&base, overrides, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}

	// mergo skips zero-valued overrides, so booleans explicitly set to
	// false in the environment are applied here.
	if v, ok := boolFromEnv("CODEFRAME_REQUIRE_COVERAGE"); ok {
		base.RequireCoverage = v
	}
	if v, ok := boolFromEnv("CODEFRAME_ALLOW_SKIPPED_TESTS"); ok {
		base.AllowSkippedTests = v
	}
	if v, ok := boolFromEnv("CODEFRAME_ENABLE_SKIP_DETECTION"); ok {
		base.EnableSkipDetection = v
	}

	return &base, nil
}

// fromEnv builds a partial Config from whichever environment variables
// are actually set, leaving everything else zero-valued so mergo's
// WithOverride only touches fields the environment explicitly names.
// mergo ignores zero values, so a numeric variable set to 0 leaves the
// default in place; Load re-applies the boolean variables itself.
func fromEnv() Config {
	var c Config

	if v, ok := intFromEnv("AGENT_RATE_LIMIT"); ok {
		c.AgentRateLimit = v
	}
	if v, ok := floatFromEnv("MAX_COST_PER_TASK"); ok {
		c.MaxCostPerTask = v
	}
	if v, ok := boolFromEnv("CODEFRAME_REQUIRE_COVERAGE"); ok {
		c.RequireCoverage = v
	}
	if v, ok := floatFromEnv("CODEFRAME_MIN_COVERAGE"); ok {
		c.MinCoverage = v
	}
	if v, ok := boolFromEnv("CODEFRAME_ALLOW_SKIPPED_TESTS"); ok {
		c.AllowSkippedTests = v
	}
	if v, ok := floatFromEnv("CODEFRAME_MIN_PASS_RATE"); ok {
		c.MinPassRate = v
	}
	if v, ok := boolFromEnv("CODEFRAME_ENABLE_SKIP_DETECTION"); ok {
		c.EnableSkipDetection = v
	}
	if v := os.Getenv("CODEFRAME_DEPLOYMENT_MODE"); v != "" {
		c.DeploymentMode = DeploymentMode(v)
	}
	if v := os.Getenv("CODEFRAME_SECURITY_ENFORCEMENT"); v != "" {
		c.SecurityEnforcement = SecurityEnforcement(v)
	}
	if v := os.Getenv("AUDIT_VERBOSITY"); v != "" {
		c.AuditVerbosity = AuditVerbosity(v)
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v, ok := intFromEnv("DB_PORT"); ok {
		c.Database.Port = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.Database = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		c.Database.SSLMode = v
	}

	return c
}

func intFromEnv(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer environment value, ignoring", "key", key, "value", raw)
		return 0, false
	}
	return v, true
}

func floatFromEnv(key string) (float64, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("invalid float environment value, ignoring", "key", key, "value", raw)
		return 0, false
	}
	return v, true
}

func boolFromEnv(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("invalid boolean environment value, ignoring", "key", key, "value", raw)
		return false, false
	}
	return v, true
}
