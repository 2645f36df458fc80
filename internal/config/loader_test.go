package config_test

import (
	"strings"
	"testing"

	"github.com/valet-labs/valet/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
providers:
  completion:
    primary:
      name: openai
      api_key: sk-test
      model: gpt-4o
      options:
        seed: 7
    fallbacks:
      - name: ollama
        base_url: http://localhost:11434
        model: llama3
speech:
  language: en-US
  interim_results: true
capture:
  max_retries: 5
  retry_delay_ms: 250
  session_timeout_ms: 60000
store:
  postgres_dsn: "postgres://localhost/valet"
`

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}

	primary := cfg.Providers.Completion.Primary
	if primary.Name != "openai" || primary.Model != "gpt-4o" {
		t.Errorf("primary = %+v, want openai/gpt-4o", primary)
	}
	if v, ok := primary.Options["seed"]; !ok || v != 7 {
		t.Errorf("primary options seed = %v, want 7", v)
	}
	if len(cfg.Providers.Completion.Fallbacks) != 1 {
		t.Fatalf("fallbacks = %d, want 1", len(cfg.Providers.Completion.Fallbacks))
	}
	if cfg.Providers.Completion.Fallbacks[0].Name != "ollama" {
		t.Errorf("fallback name = %q, want ollama", cfg.Providers.Completion.Fallbacks[0].Name)
	}

	if cfg.Speech.Language != "en-US" || !cfg.Speech.InterimResults {
		t.Errorf("speech = %+v, want en-US with interim results", cfg.Speech)
	}
	if cfg.Capture.MaxRetries != 5 || cfg.Capture.RetryDelayMS != 250 || cfg.Capture.SessionTimeoutMS != 60000 {
		t.Errorf("capture = %+v, want 5/250/60000", cfg.Capture)
	}
	if cfg.Store.PostgresDSN == "" {
		t.Error("postgres_dsn should be set")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(`
server:
  listen_addr: ":8080"
  max_connections: 10
`))
	if err == nil {
		t.Fatal("unknown fields should be rejected")
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server: [broken"))
	if err == nil {
		t.Fatal("malformed YAML should be rejected")
	}
}

func TestLoadFromReader_ValidationFailuresJoined(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(`
server:
  log_level: loud
capture:
  max_retries: -2
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "server.log_level") || !strings.Contains(err.Error(), "capture.max_retries") {
		t.Errorf("joined error should name both fields, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/valet.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFromReader_EmptyOptionalSections(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(`
server:
  listen_addr: ":9090"
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.Completion.Primary.Name != "" {
		t.Error("primary should default to empty")
	}
	if cfg.Store.PostgresDSN != "" {
		t.Error("postgres_dsn should default to empty")
	}
}
