package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/neurolink/internal/config"
	"github.com/MrWong99/neurolink/internal/credential"
	"github.com/MrWong99/neurolink/internal/resilience"
	"github.com/MrWong99/neurolink/pkg/provider/generate"
	geminigen "github.com/MrWong99/neurolink/pkg/provider/generate/gemini"
	oaigen "github.com/MrWong99/neurolink/pkg/provider/generate/openai"
	"github.com/MrWong99/neurolink/pkg/provider/live"
	geminilive "github.com/MrWong99/neurolink/pkg/provider/live/gemini"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, audio config.AudioConfig) {
	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		opts := []geminilive.Option{geminilive.WithSendQueue(audio.SendQueue)}
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterGenerate("gemini", func(entry config.ProviderEntry) (generate.Provider, error) {
		var opts []geminigen.Option
		if entry.Model != "" {
			opts = append(opts, geminigen.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminigen.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, geminigen.WithTimeout(d))
		}
		return geminigen.New(context.Background(), entry.APIKey, opts...)
	})

	reg.RegisterGenerate("openai", func(entry config.ProviderEntry) (generate.Provider, error) {
		var opts []oaigen.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaigen.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaigen.WithTimeout(d))
		}
		return oaigen.New(entry.APIKey, entry.Model, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// registry returns a provider registry holding the built-in factories and
// any added through c.providers.
func (c *cli) registry() *config.Registry {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, c.cfg.Audio)
	if c.providers != nil {
		c.providers(reg)
	}
	return reg
}

// withCredential fills entry.APIKey from the environment or keychain when
// the config leaves it empty.
func withCredential(entry config.ProviderEntry) (config.ProviderEntry, error) {
	key, src, err := credential.Resolve(entry.APIKey)
	if err != nil {
		return entry, fmt.Errorf("%w (run `neurolink credential set` or export GEMINI_API_KEY)", err)
	}
	slog.Debug("api key resolved", "provider", entry.Name, "source", src, "key", credential.Mask(key))
	entry.APIKey = key
	return entry, nil
}

func buildLive(cfg *config.Config, reg *config.Registry) (live.Provider, error) {
	entry, err := withCredential(cfg.Providers.Live)
	if err != nil {
		return nil, err
	}
	p, err := reg.CreateLive(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		return nil, fmt.Errorf("live provider %q is not supported", entry.Name)
	} else if err != nil {
		return nil, fmt.Errorf("create live provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "live", "name", entry.Name)
	return p, nil
}

func buildGenerate(cfg *config.Config, reg *config.Registry) (generate.Provider, error) {
	entry, err := withCredential(cfg.Providers.Generate)
	if err != nil {
		return nil, err
	}
	p, err := reg.CreateGenerate(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		return nil, fmt.Errorf("generate provider %q is not supported", entry.Name)
	} else if err != nil {
		return nil, fmt.Errorf("create generate provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "generate", "name", entry.Name)
	return p, nil
}

// newBreaker returns a circuit breaker for one-shot requests of the given
// kind ("focus", "document").
func newBreaker(kind string, rc config.ResilienceConfig) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         kind,
		MaxFailures:  rc.MaxFailures,
		ResetTimeout: rc.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Info("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration option such as timeout: "30s".
func optDuration(opts map[string]any, key string) time.Duration {
	raw := optString(opts, key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("ignoring invalid provider option", "key", key, "value", raw, "err", err)
		return 0
	}
	return d
}
