package main

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/neurolink/internal/config"
	"github.com/MrWong99/neurolink/pkg/provider/generate"
	"github.com/MrWong99/neurolink/pkg/provider/generate/mock"
)

// writeStill writes a small PNG frame for the --image flag.
func writeStill(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	path := filepath.Join(dir, "frame.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunFocus_StillImage(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "neurolink.yaml")
	yaml := `
server:
  log_level: warn
  listen_addr: 127.0.0.1:0
providers:
  generate:
    name: mock
    api_key: test-key
    model: vision-test
focus:
  interval: 20ms
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	gen := &mock.Provider{Responses: []mock.Response{{Text: "DISTRACTED"}, {Text: "FOCUSED"}}}
	var gotKey string
	c := &cli{
		configPath: cfgPath,
		cfg:        cfg,
		fromFile:   true,
		providers: func(reg *config.Registry) {
			reg.RegisterGenerate("mock", func(e config.ProviderEntry) (generate.Provider, error) {
				gotKey = e.APIKey
				return gen, nil
			})
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := c.runFocus(ctx, writeStill(t, dir)); err != nil {
		t.Fatalf("runFocus: %v", err)
	}

	if gotKey != "test-key" {
		t.Errorf("factory got api key %q", gotKey)
	}
	if gen.Calls() < 2 {
		t.Fatalf("classifications = %d, want several at a 20ms interval", gen.Calls())
	}
	req := gen.LastRequest()
	if req.Model != "vision-test" || req.Inline.MIMEType != "image/jpeg" || len(req.Inline.Data) == 0 {
		t.Errorf("last request = model %q, mime %q, %d bytes", req.Model, req.Inline.MIMEType, len(req.Inline.Data))
	}
}

func TestRunFocus_MissingImage(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	cfg := config.Default()
	cfg.Providers.Generate = config.ProviderEntry{Name: "mock", APIKey: "test-key"}
	c := &cli{
		cfg: cfg,
		providers: func(reg *config.Registry) {
			reg.RegisterGenerate("mock", func(config.ProviderEntry) (generate.Provider, error) {
				return &mock.Provider{}, nil
			})
		},
	}

	if err := c.runFocus(context.Background(), filepath.Join(t.TempDir(), "absent.png")); err == nil {
		t.Fatal("runFocus with a missing image should fail")
	}
}
