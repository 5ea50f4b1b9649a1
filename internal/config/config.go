// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all trust-core configuration.
type Config struct {
	// Storage settings.
	DatabasePath string // sqlite file path; ":memory:" is valid for tests.

	// Session descriptor settings (internal/session).
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	SessionTokenTTL   time.Duration

	// Gate / outcome tuning overrides. Zero value means "use the tier default".
	FeedbackWindowTier12 time.Duration
	FeedbackWindowTier34 time.Duration
	ConfirmationTTL      time.Duration
	CorrectionWindow     time.Duration

	// Knowledge Discovery settings.
	MaxLookupMS    int    // Bound on concurrent SOP + memory lookup, in milliseconds.
	SOPBaseDir     string // Allow-listed base directory for SOP file loads.
	MemoryStoreURL string // External MemoryStore client endpoint; empty disables it.

	// Enforcement Engine settings.
	EnforcementLevel    string        // disabled | advisory | category | strict
	EnforcementCooldown time.Duration // Suppresses repeated injections for the same cooldown key.
	MaxKnowledgeLength  int           // Total rendered payload length, truncation marker beyond this.

	// Override Manager rate limiting.
	OverrideGrantsPerHour int // Per-category cap on setOverride grants.

	// Idempotency key cleanup.
	IdempotencyCompletedTTL time.Duration
	IdempotencyCleanupEvery time.Duration

	// Background sweeper cadence.
	SweepInterval time.Duration

	// MCP transport.
	MCPTransport string // "stdio" or "sse"
	MCPAddr      string // listen address when MCPTransport == "sse"

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if any environment variable contains an unparseable value.
// Missing variables use sensible defaults; only malformed values are rejected.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		DatabasePath:      envStr("CORTEX_DB_PATH", "cortex-trust.db"),
		JWTPrivateKeyPath: envStr("CORTEX_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:  envStr("CORTEX_JWT_PUBLIC_KEY", ""),
		SOPBaseDir:        envStr("CORTEX_SOP_BASE_DIR", "./knowledge/sops"),
		MemoryStoreURL:    envStr("CORTEX_MEMORY_STORE_URL", ""),
		EnforcementLevel:  envStr("CORTEX_ENFORCEMENT_LEVEL", "advisory"),
		MCPTransport:      envStr("CORTEX_MCP_TRANSPORT", "stdio"),
		MCPAddr:           envStr("CORTEX_MCP_ADDR", ":8090"),
		OTELEndpoint:      envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:       envStr("OTEL_SERVICE_NAME", "cortex-trust-core"),
		LogLevel:          envStr("CORTEX_LOG_LEVEL", "info"),
	}

	// Integer fields.
	cfg.MaxLookupMS, errs = collectInt(errs, "CORTEX_MAX_LOOKUP_MS", 150)
	cfg.OverrideGrantsPerHour, errs = collectInt(errs, "CORTEX_OVERRIDE_GRANTS_PER_HOUR", 6)
	cfg.MaxKnowledgeLength, errs = collectInt(errs, "CORTEX_MAX_KNOWLEDGE_LENGTH", 4000)

	// Boolean fields.
	cfg.OTELInsecure, errs = collectBool(errs, "OTEL_EXPORTER_OTLP_INSECURE", false)

	// Duration fields. Feedback windows and the confirmation/correction TTLs
	// default to zero, meaning "use the tier default baked into
	// internal/model.FeedbackWindow" — only an explicit override changes them.
	cfg.SessionTokenTTL, errs = collectDuration(errs, "CORTEX_SESSION_TOKEN_TTL", time.Hour)
	cfg.FeedbackWindowTier12, errs = collectDuration(errs, "CORTEX_FEEDBACK_WINDOW_TIER12", 0)
	cfg.FeedbackWindowTier34, errs = collectDuration(errs, "CORTEX_FEEDBACK_WINDOW_TIER34", 0)
	cfg.ConfirmationTTL, errs = collectDuration(errs, "CORTEX_CONFIRMATION_TTL", 0)
	cfg.CorrectionWindow, errs = collectDuration(errs, "CORTEX_CORRECTION_WINDOW", 0)
	cfg.IdempotencyCompletedTTL, errs = collectDuration(errs, "CORTEX_IDEMPOTENCY_TTL", 7*24*time.Hour)
	cfg.IdempotencyCleanupEvery, errs = collectDuration(errs, "CORTEX_IDEMPOTENCY_CLEANUP_INTERVAL", time.Hour)
	cfg.SweepInterval, errs = collectDuration(errs, "CORTEX_SWEEP_INTERVAL", 60*time.Second)
	cfg.EnforcementCooldown, errs = collectDuration(errs, "CORTEX_ENFORCEMENT_COOLDOWN", 60*time.Second)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// collectInt parses an int env var, appending any error to the accumulator.
func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectBool parses a bool env var, appending any error to the accumulator.
func collectBool(errs []error, key string, fallback bool) (bool, []error) {
	v, err := envBool(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectDuration parses a duration env var, appending any error to the accumulator.
func collectDuration(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v, err := envDuration(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// Validate checks that required configuration is present and sane.
func (c Config) Validate() error {
	var errs []error

	if c.DatabasePath == "" {
		errs = append(errs, errors.New("config: CORTEX_DB_PATH is required"))
	}
	if c.MaxLookupMS <= 0 {
		errs = append(errs, errors.New("config: CORTEX_MAX_LOOKUP_MS must be positive"))
	}
	if c.OverrideGrantsPerHour <= 0 {
		errs = append(errs, errors.New("config: CORTEX_OVERRIDE_GRANTS_PER_HOUR must be positive"))
	}
	if c.SessionTokenTTL <= 0 {
		errs = append(errs, errors.New("config: CORTEX_SESSION_TOKEN_TTL must be positive"))
	}
	if c.IdempotencyCompletedTTL <= 0 {
		errs = append(errs, errors.New("config: CORTEX_IDEMPOTENCY_TTL must be positive"))
	}
	if c.IdempotencyCleanupEvery <= 0 {
		errs = append(errs, errors.New("config: CORTEX_IDEMPOTENCY_CLEANUP_INTERVAL must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("config: CORTEX_SWEEP_INTERVAL must be positive"))
	}
	if c.MCPTransport != "stdio" && c.MCPTransport != "sse" {
		errs = append(errs, errors.New("config: CORTEX_MCP_TRANSPORT must be \"stdio\" or \"sse\""))
	}
	switch c.EnforcementLevel {
	case "disabled", "advisory", "category", "strict":
	default:
		errs = append(errs, errors.New("config: CORTEX_ENFORCEMENT_LEVEL must be one of disabled|advisory|category|strict"))
	}
	if c.EnforcementCooldown <= 0 {
		errs = append(errs, errors.New("config: CORTEX_ENFORCEMENT_COOLDOWN must be positive"))
	}
	if c.MaxKnowledgeLength <= 0 {
		errs = append(errs, errors.New("config: CORTEX_MAX_KNOWLEDGE_LENGTH must be positive"))
	}
	if c.JWTPrivateKeyPath != "" {
		if err := validateKeyFile(c.JWTPrivateKeyPath, "CORTEX_JWT_PRIVATE_KEY"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.JWTPublicKeyPath != "" {
		if err := validateKeyFile(c.JWTPublicKeyPath, "CORTEX_JWT_PUBLIC_KEY"); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// validateKeyFile checks that a key file exists, is readable, is non-empty,
// and has restrictive permissions (owner-only on Unix).
func validateKeyFile(path, envVar string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: %s %q: %w", envVar, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s %q is a directory, expected a file", envVar, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("config: %s %q is empty", envVar, path)
	}
	perm := info.Mode().Perm()
	if perm&0o077 != 0 {
		return fmt.Errorf("config: %s %q has overly permissive mode %04o (expected 0600 or stricter)", envVar, path, perm)
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
