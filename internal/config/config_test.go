package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "fast")
	_, err := envFloat("TEST_FLOAT_BAD", 1.3)
	if err == nil {
		t.Fatal("expected error for non-numeric value, got nil")
	}
	if got := err.Error(); got != `TEST_FLOAT_BAD="fast" is not a valid number` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidPageSize(t *testing.T) {
	t.Setenv("WORKBENCH_PAGE_SIZE", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid WORKBENCH_PAGE_SIZE")
	}
	// Error should mention the variable name and value.
	if got := err.Error(); !strings.Contains(got, "WORKBENCH_PAGE_SIZE") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention WORKBENCH_PAGE_SIZE and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("WORKBENCH_PAGE_SIZE", "abc")
	t.Setenv("WORKBENCH_POLL_MAX", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "WORKBENCH_PAGE_SIZE") {
		t.Fatalf("error should mention WORKBENCH_PAGE_SIZE, got: %s", got)
	}
	if !strings.Contains(got, "WORKBENCH_POLL_MAX") {
		t.Fatalf("error should mention WORKBENCH_POLL_MAX, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.PollInitial != 200*time.Millisecond || cfg.PollMax != time.Second || cfg.PollFactor != 1.3 {
		t.Fatalf("unexpected poll defaults: %s %s %v", cfg.PollInitial, cfg.PollMax, cfg.PollFactor)
	}
	if cfg.ListTimeout != 15*time.Second {
		t.Fatalf("expected default list timeout 15s, got %s", cfg.ListTimeout)
	}
	if cfg.HasCredential() {
		t.Fatal("expected no credential by default")
	}
}

func TestValidateRejectsInconsistentPolling(t *testing.T) {
	t.Setenv("WORKBENCH_POLL_INITIAL", "2s")
	t.Setenv("WORKBENCH_POLL_MAX", "1s")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "WORKBENCH_POLL_INITIAL") {
		t.Fatalf("expected poll bounds error, got: %v", err)
	}
}

func TestValidateAPIKeyNeedsAgent(t *testing.T) {
	t.Setenv("WORKBENCH_API_KEY", "k")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "WORKBENCH_AGENT_ID") {
		t.Fatalf("expected agent id error, got: %v", err)
	}
}
