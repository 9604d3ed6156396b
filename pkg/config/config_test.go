package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Vector.Backend != "qdrant" {
		t.Errorf("expected default backend qdrant, got %s", cfg.Vector.Backend)
	}
	if cfg.Vector.Qdrant.GRPCPort != 6334 {
		t.Errorf("expected default grpc_port 6334, got %d", cfg.Vector.Qdrant.GRPCPort)
	}
	if cfg.Provider.EmbedModel != "embed-v4.0" {
		t.Errorf("expected default embed model embed-v4.0, got %s", cfg.Provider.EmbedModel)
	}
	if cfg.Governance.WeekStart != "sunday" {
		t.Errorf("expected default week_start sunday, got %s", cfg.Governance.WeekStart)
	}
	if cfg.Governance.MaxRequestsPerMinute != 30 {
		t.Errorf("expected default max_requests_per_minute 30, got %d", cfg.Governance.MaxRequestsPerMinute)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 70000
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestValidate_InvalidBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vector.Backend = "elasticsearch"
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for unsupported backend")
	}
}

func TestValidate_InvalidWeekStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Governance.WeekStart = "someday"
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for unknown weekday")
	}
}

func TestValidate_InvalidTimezone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Governance.Timezone = "Mars/Olympus_Mons"
	err := Validate(cfg)
	if err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = -1
	cfg.Telemetry.Tracing.SampleRate = 5.0
	cfg.Governance.MaxRequestsPerMinute = -1
	err := Validate(cfg)
	if err == nil {
		t.Error("expected multiple validation errors")
	}
}

func TestWeekStartDay(t *testing.T) {
	tests := []struct {
		in   string
		want time.Weekday
	}{
		{"sunday", time.Sunday},
		{"Monday", time.Monday},
		{"SATURDAY", time.Saturday},
		{"", time.Sunday},
		{"bogus", time.Sunday},
	}

	for _, tt := range tests {
		g := GovernanceConfig{WeekStart: tt.in}
		if got := g.WeekStartDay(); got != tt.want {
			t.Errorf("WeekStartDay(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLocation(t *testing.T) {
	g := GovernanceConfig{}
	loc, err := g.Location()
	if err != nil {
		t.Fatalf("empty timezone should resolve: %v", err)
	}
	if loc != time.UTC {
		t.Errorf("expected UTC, got %v", loc)
	}

	g.Timezone = "America/Los_Angeles"
	loc, err = g.Location()
	if err != nil {
		t.Fatalf("valid timezone should resolve: %v", err)
	}
	if loc.String() != "America/Los_Angeles" {
		t.Errorf("expected America/Los_Angeles, got %v", loc)
	}
}

func TestInterpolateEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "hello")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
		{"${NONEXISTENT_VAR:-fallback}", "fallback"},
		{"${NONEXISTENT_VAR}", "${NONEXISTENT_VAR}"},
		{"no-vars-here", "no-vars-here"},
		{"${TEST_VAR:-default}", "hello"}, // env var exists, ignore default
	}

	for _, tt := range tests {
		result := InterpolateEnv(tt.input)
		if result != tt.expected {
			t.Errorf("InterpolateEnv(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  port: 9090
  host: 127.0.0.1

vector:
  backend: pinecone
  pinecone:
    api_key: pk-test
    index: apple-docs
    namespace: prod

governance:
  week_start: monday
  max_requests_per_minute: 60
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "appledex.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.Vector.Backend != "pinecone" {
		t.Errorf("expected backend pinecone, got %s", cfg.Vector.Backend)
	}
	if cfg.Vector.Pinecone.IndexName != "apple-docs" {
		t.Errorf("expected index apple-docs, got %s", cfg.Vector.Pinecone.IndexName)
	}
	if cfg.Vector.Pinecone.Namespace != "prod" {
		t.Errorf("expected namespace prod, got %s", cfg.Vector.Pinecone.Namespace)
	}
	if cfg.Governance.WeekStartDay() != time.Monday {
		t.Errorf("expected Monday week start, got %v", cfg.Governance.WeekStartDay())
	}
	if cfg.Governance.MaxRequestsPerMinute != 60 {
		t.Errorf("expected max_requests_per_minute 60, got %d", cfg.Governance.MaxRequestsPerMinute)
	}
}

func TestLoadFromFile_WithEnvInterpolation(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "sk-test-123")
	t.Setenv("TEST_DSN", "postgres://app@localhost/appledex")

	content := `
provider:
  api_keys:
    - ${TEST_PROVIDER_KEY}

postgres:
  dsn: ${TEST_DSN}
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "appledex.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if len(cfg.Provider.APIKeys) != 1 {
		t.Fatalf("expected 1 API key, got %d", len(cfg.Provider.APIKeys))
	}
	if cfg.Provider.APIKeys[0] != "sk-test-123" {
		t.Errorf("expected interpolated API key, got %s", cfg.Provider.APIKeys[0])
	}
	if cfg.Postgres.DSN != "postgres://app@localhost/appledex" {
		t.Errorf("expected interpolated DSN, got %s", cfg.Postgres.DSN)
	}
}

func TestLoadFromFile_InvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/appledex.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "appledex.yaml")
	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(cfgPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadFromFile_InvalidValues(t *testing.T) {
	content := `
server:
  port: 99999
governance:
  week_start: noday
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "appledex.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(cfgPath)
	if err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadFromFile_DefaultsPreserved(t *testing.T) {
	// Partial config should preserve defaults for unset fields
	content := `
server:
  port: 3000
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "appledex.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("expected port 3000, got %d", cfg.Server.Port)
	}
	// Defaults should be preserved for unset fields
	if cfg.Vector.Backend != "qdrant" {
		t.Errorf("expected default backend qdrant, got %s", cfg.Vector.Backend)
	}
	if cfg.Provider.RerankModel != "rerank-v3.5" {
		t.Errorf("expected default rerank model, got %s", cfg.Provider.RerankModel)
	}
}

func TestGenerateTemplate(t *testing.T) {
	tmpl := GenerateTemplate()

	// Verify key sections exist
	required := []string{
		"server:", "port:", "host:",
		"provider:", "api_keys:", "embed_model:", "rerank_model:",
		"vector:", "backend:", "qdrant:", "pinecone:",
		"postgres:", "dsn:",
		"redis:",
		"governance:", "week_start:", "webhook_url:",
		"telemetry:", "tracing:",
	}

	for _, s := range required {
		if !strings.Contains(tmpl, s) {
			t.Errorf("template missing %q", s)
		}
	}
}
