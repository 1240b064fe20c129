// Package config loads and validates client configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all client configuration.
type Config struct {
	// Backend settings.
	BaseURL        string // Root URL of the workbench backend.
	Token          string // Static bearer token. Takes precedence over key exchange.
	APIKey         string // Exchanged for a bearer token at /auth/token.
	AgentID        string // Agent identity for the key exchange.
	JWTPrivateKey  string // Path to an Ed25519 private key PEM for signed assertions.
	RequestTimeout time.Duration

	// Conversation scope attached to every invocation.
	ConversationID string
	PluginID       string

	// Polling and wait budgets.
	PollInitial       time.Duration
	PollMax           time.Duration
	PollFactor        float64
	ListTimeout       time.Duration
	MutationTimeout   time.Duration
	BulkDeleteTimeout time.Duration
	ImportTimeout     time.Duration
	PageSize          int

	// Caches.
	ArtifactCacheBytes int64
	PolicyTTL          time.Duration

	// Outbound throttling. RPS <= 0 disables the limiter.
	RateLimitRPS   float64
	RateLimitBurst int

	// LedgerURL selects the run ledger: empty for in-memory, postgres:// or sqlite://.
	LedgerURL   string
	ActionsFile string // Optional YAML action policy file.

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	str := func(key, def string) string { return envStr(key, def) }
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		errs = append(errs, err)
		return v
	}
	flt := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		errs = append(errs, err)
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		errs = append(errs, err)
		return v
	}
	boolean := func(key string, def bool) bool {
		v, err := envBool(key, def)
		errs = append(errs, err)
		return v
	}

	cfg := Config{
		BaseURL:            str("WORKBENCH_BASE_URL", "http://localhost:3010"),
		Token:              str("WORKBENCH_TOKEN", ""),
		APIKey:             str("WORKBENCH_API_KEY", ""),
		AgentID:            str("WORKBENCH_AGENT_ID", ""),
		JWTPrivateKey:      str("WORKBENCH_JWT_PRIVATE_KEY", ""),
		RequestTimeout:     dur("WORKBENCH_REQUEST_TIMEOUT", 30*time.Second),
		ConversationID:     str("WORKBENCH_CONVERSATION_ID", ""),
		PluginID:           str("WORKBENCH_PLUGIN_ID", ""),
		PollInitial:        dur("WORKBENCH_POLL_INITIAL", 200*time.Millisecond),
		PollMax:            dur("WORKBENCH_POLL_MAX", time.Second),
		PollFactor:         flt("WORKBENCH_POLL_FACTOR", 1.3),
		ListTimeout:        dur("WORKBENCH_LIST_TIMEOUT", 15*time.Second),
		MutationTimeout:    dur("WORKBENCH_MUTATION_TIMEOUT", 25*time.Second),
		BulkDeleteTimeout:  dur("WORKBENCH_BULK_DELETE_TIMEOUT", 25*time.Second),
		ImportTimeout:      dur("WORKBENCH_IMPORT_TIMEOUT", 30*time.Minute),
		PageSize:           num("WORKBENCH_PAGE_SIZE", 50),
		ArtifactCacheBytes: int64(num("WORKBENCH_ARTIFACT_CACHE_BYTES", 8<<20)),
		PolicyTTL:          dur("WORKBENCH_POLICY_TTL", 5*time.Minute),
		RateLimitRPS:       flt("WORKBENCH_RATE_LIMIT_RPS", 20),
		RateLimitBurst:     num("WORKBENCH_RATE_LIMIT_BURST", 40),
		LedgerURL:          str("WORKBENCH_LEDGER_URL", ""),
		ActionsFile:        str("WORKBENCH_ACTIONS_FILE", ""),
		OTELEndpoint:       str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:        str("OTEL_SERVICE_NAME", "workbench"),
		OTELInsecure:       boolean("WORKBENCH_OTEL_INSECURE", false),
		LogLevel:           str("WORKBENCH_LOG_LEVEL", "info"),
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("WORKBENCH_BASE_URL is required"))
	} else if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("WORKBENCH_BASE_URL=%q must be an http(s) URL", c.BaseURL))
	}
	if c.APIKey != "" && c.AgentID == "" {
		errs = append(errs, errors.New("WORKBENCH_AGENT_ID is required with WORKBENCH_API_KEY"))
	}
	if c.PollInitial <= 0 || c.PollMax < c.PollInitial {
		errs = append(errs, errors.New("WORKBENCH_POLL_INITIAL must be positive and not exceed WORKBENCH_POLL_MAX"))
	}
	if c.PollFactor < 1 {
		errs = append(errs, errors.New("WORKBENCH_POLL_FACTOR must be at least 1"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, errors.New("WORKBENCH_PAGE_SIZE must be positive"))
	}
	if c.ArtifactCacheBytes < 0 {
		errs = append(errs, errors.New("WORKBENCH_ARTIFACT_CACHE_BYTES must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"WORKBENCH_LIST_TIMEOUT":        c.ListTimeout,
		"WORKBENCH_MUTATION_TIMEOUT":    c.MutationTimeout,
		"WORKBENCH_BULK_DELETE_TIMEOUT": c.BulkDeleteTimeout,
		"WORKBENCH_IMPORT_TIMEOUT":      c.ImportTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// HasCredential reports whether any way of authenticating is configured.
func (c Config) HasCredential() bool {
	return c.Token != "" || c.APIKey != "" || c.JWTPrivateKey != ""
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
