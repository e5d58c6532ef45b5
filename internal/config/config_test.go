package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/neurolink/internal/config"
	"github.com/MrWong99/neurolink/pkg/provider/generate"
	"github.com/MrWong99/neurolink/pkg/provider/live"
)

const validYAML = `
server:
  listen_addr: "127.0.0.1:9464"
  log_level: debug
providers:
  live:
    name: gemini-live
    model: gemini-2.5-flash-native-audio-preview-09-2025
  generate:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
audio:
  voice: Puck
  send_queue: 8
focus:
  enabled: true
  device: /dev/video2
  interval: 5s
  discard_stale: true
document:
  persona: "Answer briefly."
profile:
  sqlite_path: /tmp/neurolink.db
resilience:
  max_failures: 3
  reset_timeout: 1m
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:9464" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.Generate.Name != "openai" || cfg.Providers.Generate.APIKey != "sk-test" {
		t.Errorf("generate provider: got %+v", cfg.Providers.Generate)
	}
	if cfg.Audio.Voice != "Puck" {
		t.Errorf("voice: got %q, want Puck", cfg.Audio.Voice)
	}
	if cfg.Audio.SendQueue != 8 {
		t.Errorf("send_queue: got %d, want 8", cfg.Audio.SendQueue)
	}
	// Unset audio fields fall back to defaults.
	if cfg.Audio.FrameSize != config.DefaultFrameSize {
		t.Errorf("frame_size: got %d, want %d", cfg.Audio.FrameSize, config.DefaultFrameSize)
	}
	if !cfg.Focus.Enabled || cfg.Focus.Device != "/dev/video2" {
		t.Errorf("focus: got %+v", cfg.Focus)
	}
	if cfg.Focus.Interval != 5*time.Second {
		t.Errorf("focus.interval: got %s, want 5s", cfg.Focus.Interval)
	}
	if !cfg.Focus.DiscardStale {
		t.Error("focus.discard_stale: got false, want true")
	}
	if cfg.Document.Persona != "Answer briefly." {
		t.Errorf("persona: got %q", cfg.Document.Persona)
	}
	if cfg.Resilience.MaxFailures != 3 || cfg.Resilience.ResetTimeout != time.Minute {
		t.Errorf("resilience: got %+v", cfg.Resilience)
	}
}

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config should be valid, got: %v", err)
	}

	want := config.Default()
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Providers.Live.Name != config.DefaultLiveProvider {
		t.Errorf("live provider: got %q", cfg.Providers.Live.Name)
	}
	if cfg.Providers.Generate.Name != config.DefaultGenerateProvider {
		t.Errorf("generate provider: got %q", cfg.Providers.Generate.Name)
	}
	if cfg.Audio != want.Audio {
		t.Errorf("audio: got %+v, want %+v", cfg.Audio, want.Audio)
	}
	if cfg.Audio.InputSampleRate != 16000 || cfg.Audio.OutputSampleRate != 24000 || cfg.Audio.FrameSize != 4096 {
		t.Errorf("audio rates: got %+v", cfg.Audio)
	}
	if cfg.Audio.Voice != "Zephyr" {
		t.Errorf("voice: got %q, want Zephyr", cfg.Audio.Voice)
	}
	if cfg.Focus.Interval != 10*time.Second {
		t.Errorf("focus.interval: got %s, want 10s", cfg.Focus.Interval)
	}
	if cfg.Focus.Width != 120 || cfg.Focus.Height != 90 || cfg.Focus.Quality != 30 {
		t.Errorf("focus snapshot: got %dx%d q%d", cfg.Focus.Width, cfg.Focus.Height, cfg.Focus.Quality)
	}
	if !strings.Contains(cfg.Focus.Prompt, "'FOCUSED' or 'DISTRACTED'") {
		t.Errorf("focus prompt: got %q", cfg.Focus.Prompt)
	}
	if !strings.HasPrefix(cfg.Document.Persona, "You are the Neuro-Link Communicator.") {
		t.Errorf("persona: got %q", cfg.Document.Persona)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("audio:\n  volume: 11\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/neurolink.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: verbose\n"))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestRegistry_UnknownLive(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateLive(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownGenerate(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateGenerate(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredLive(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var got config.ProviderEntry
	reg.RegisterLive("stub", func(e config.ProviderEntry) (live.Provider, error) {
		got = e
		return &stubLive{}, nil
	})

	p, err := reg.CreateLive(config.ProviderEntry{Name: "stub", Model: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
	if got.Model != "m1" {
		t.Errorf("factory received model %q, want m1", got.Model)
	}
}

func TestRegistry_RegisteredGenerate(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterGenerate("stub", func(config.ProviderEntry) (generate.Provider, error) {
		return &stubGenerate{}, nil
	})

	p, err := reg.CreateGenerate(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := errors.New("bad api key")
	reg.RegisterGenerate("broken", func(config.ProviderEntry) (generate.Provider, error) {
		return nil, want
	})

	_, err := reg.CreateGenerate(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, want) {
		t.Errorf("expected factory error, got: %v", err)
	}
}

// ── stubs ─────────────────────────────────────────────────────────────────────

type stubLive struct{}

func (s *stubLive) Connect(context.Context, live.SessionConfig) (live.Session, error) {
	return nil, nil
}

type stubGenerate struct{}

func (s *stubGenerate) Generate(context.Context, generate.Request) (string, error) {
	return "", nil
}
