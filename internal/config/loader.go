package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidCompletionNames lists known completion provider names. Used by
// [Validate] to warn about unrecognised names.
var ValidCompletionNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral",
	"groq", "llamacpp", "llamafile", "openai-native",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Completion providers
	primary := cfg.Providers.Completion.Primary
	if primary.Name == "" {
		slog.Warn("no completion provider configured; intent resolution and explanations will always fall back")
	} else {
		validateCompletionName("providers.completion.primary", primary.Name)
	}
	for i, fb := range cfg.Providers.Completion.Fallbacks {
		prefix := fmt.Sprintf("providers.completion.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if primary.Name == "" {
			errs = append(errs, fmt.Errorf("%s: fallbacks require a configured primary", prefix))
		}
		validateCompletionName(prefix, fb.Name)
	}

	// Capture tuning
	if cfg.Capture.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("capture.max_retries %d must not be negative", cfg.Capture.MaxRetries))
	}
	if cfg.Capture.RetryDelayMS < 0 {
		errs = append(errs, fmt.Errorf("capture.retry_delay_ms %d must not be negative", cfg.Capture.RetryDelayMS))
	}
	if cfg.Capture.SessionTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("capture.session_timeout_ms %d must not be negative", cfg.Capture.SessionTimeoutMS))
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; command history will not survive restarts")
	}

	return errors.Join(errs...)
}

// validateCompletionName logs a warning if name is not found in
// [ValidCompletionNames].
func validateCompletionName(field, name string) {
	if slices.Contains(ValidCompletionNames, name) {
		return
	}
	slog.Warn("unknown completion provider name, may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidCompletionNames,
	)
}
