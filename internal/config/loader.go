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

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":     {"gemini-live"},
	"generate": {"gemini", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the defaults.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
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

	// Providers: unknown names only warn.
	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("generate", cfg.Providers.Generate.Name)

	// Audio
	a := cfg.Audio
	if a.InputSampleRate < 0 || a.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio sample rates must be positive (input %d, output %d)", a.InputSampleRate, a.OutputSampleRate))
	}
	if a.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", a.FrameSize))
	}
	if a.CaptureBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_buffer %d must not be negative", a.CaptureBuffer))
	}
	if a.SendQueue < 0 {
		errs = append(errs, fmt.Errorf("audio.send_queue %d must not be negative", a.SendQueue))
	}
	if a.InputSampleRate != 0 && a.InputSampleRate != DefaultInputSampleRate {
		slog.Warn("audio.input_sample_rate differs from 16000; the live service may reject the stream",
			"input_sample_rate", a.InputSampleRate)
	}

	// Focus
	f := cfg.Focus
	if f.Interval < 0 {
		errs = append(errs, fmt.Errorf("focus.interval %s must be positive", f.Interval))
	}
	if f.Width < 0 || f.Height < 0 {
		errs = append(errs, fmt.Errorf("focus snapshot size %dx%d is invalid", f.Width, f.Height))
	}
	if f.Quality < 0 || f.Quality > 100 {
		errs = append(errs, fmt.Errorf("focus.quality %d is out of range [1, 100]", f.Quality))
	}

	// Document
	if cfg.Document.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("document.max_bytes %d must not be negative", cfg.Document.MaxBytes))
	}

	// Profile
	if cfg.Profile.SQLitePath != "" && cfg.Profile.PostgresDSN != "" {
		slog.Warn("profile.sqlite_path and profile.postgres_dsn are both set; using PostgreSQL")
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must not be negative", cfg.Resilience.MaxFailures))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.reset_timeout %s must not be negative", cfg.Resilience.ResetTimeout))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
