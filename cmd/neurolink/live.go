package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/neurolink/internal/bridge"
	"github.com/MrWong99/neurolink/internal/config"
	"github.com/MrWong99/neurolink/internal/focus"
	"github.com/MrWong99/neurolink/internal/health"
	"github.com/MrWong99/neurolink/internal/observe"
	"github.com/MrWong99/neurolink/internal/profile"
	"github.com/MrWong99/neurolink/pkg/audio/capture"
	"github.com/MrWong99/neurolink/pkg/audio/playback"
	"github.com/MrWong99/neurolink/pkg/provider/generate"
	"github.com/MrWong99/neurolink/pkg/provider/live"
	"github.com/MrWong99/neurolink/pkg/video"
)

// driftAlert is printed whenever the focus probe reports DISTRACTED.
const driftAlert = "Mind drift detected. Synchronizing corrective training..."

func newLiveCmd(c *cli) *cobra.Command {
	var withFocus bool
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Talk to your AI twin over the microphone (PREMIUM)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runLive(cmd.Context(), withFocus || c.cfg.Focus.Enabled)
		},
	}
	cmd.Flags().BoolVar(&withFocus, "focus", false, "run the camera focus guardian alongside the dialogue")
	return cmd
}

func newFocusCmd(c *cli) *cobra.Command {
	var still string
	cmd := &cobra.Command{
		Use:   "focus",
		Short: "Run the camera focus guardian on its own",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runFocus(cmd.Context(), still)
		},
	}
	cmd.Flags().StringVar(&still, "image", "", "classify this still image instead of the camera (testing aid)")
	return cmd
}

func (c *cli) runLive(parent context.Context, withFocus bool) error {
	cfg := c.cfg
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := profile.Open(ctx, cfg.Profile)
	if err != nil {
		return err
	}
	defer store.Close()

	prof, err := store.Load(ctx)
	if errors.Is(err, profile.ErrNotFound) {
		return errors.New("no profile yet: run `neurolink profile init` first")
	} else if err != nil {
		return err
	}
	if !prof.CanUseLiveAudio() {
		fmt.Fprintln(os.Stderr, bridge.UpgradeHint)
		return bridge.ErrPremiumRequired
	}

	tel, err := initTelemetry(ctx)
	if err != nil {
		return err
	}
	defer tel.close()

	reg := c.registry()

	liveProvider, err := buildLive(cfg, reg)
	if err != nil {
		return err
	}

	var probe *focus.Probe
	if withFocus {
		gen, err := buildGenerate(cfg, reg)
		if err != nil {
			return err
		}
		probe = newProbe(cfg, video.Webcam{Device: cfg.Focus.Device}, gen, tel.metrics)
	}

	b := bridge.New(bridge.Config{
		Live: liveProvider,
		Session: live.SessionConfig{
			Model:        cfg.Providers.Live.Model,
			Voice:        cfg.Audio.Voice,
			Instructions: cfg.Audio.Instructions,
			Transcribe:   cfg.Audio.Transcribe,
		},
		Source: capture.MalgoSource{},
		CaptureOptions: []capture.Option{
			capture.WithSampleRate(cfg.Audio.InputSampleRate),
			capture.WithFrameSize(cfg.Audio.FrameSize),
			capture.WithBuffer(cfg.Audio.CaptureBuffer),
		},
		Output: func() (playback.Output, error) {
			return playback.OpenDevice(cfg.Audio.OutputSampleRate)
		},
		OutputRate: cfg.Audio.OutputSampleRate,
		Profile:    prof,
		Metrics:    tel.metrics,
		OnTranscript: func(tr live.Transcript) {
			fmt.Printf("[%s] %s\n", tr.Role, tr.Text)
		},
	})
	b.OnStateChange(func(s live.State) {
		slog.Info("live session state", "state", s.String())
	})

	printStartupSummary(cfg, probe != nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if w := c.watch(probe); w != nil {
		defer w.Stop()
	}

	if err := b.Start(gctx); err != nil {
		if errors.Is(err, bridge.ErrPremiumRequired) {
			fmt.Fprintln(os.Stderr, bridge.UpgradeHint)
		}
		return err
	}
	slog.Info("connected; speak to your twin, press Ctrl+C to hang up")

	g.Go(func() error {
		err := b.Wait()
		// The dialogue is over, for whatever reason; take the rest down too.
		cancel()
		if err != nil {
			return fmt.Errorf("live session: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return b.Stop()
	})

	checkers := []health.Checker{
		health.StateChecker("live", b.State, live.StateOpen),
		{Name: "profile", Check: store.Ping},
	}
	if probe != nil {
		if err := probe.Start(gctx); err != nil {
			slog.Warn("focus guardian unavailable, continuing without it", "err", err)
		} else {
			checkers = append(checkers, health.Checker{Name: "focus", Check: probeReady(probe)})
			g.Go(func() error {
				<-gctx.Done()
				probe.Stop()
				return nil
			})
		}
	}

	if cfg.Server.ListenAddr != "" {
		g.Go(func() error { return serveHTTP(gctx, cfg.Server.ListenAddr, tel, checkers...) })
	}

	err = g.Wait()
	slog.Info("goodbye")
	return err
}

func (c *cli) runFocus(parent context.Context, still string) error {
	cfg := c.cfg
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := initTelemetry(ctx)
	if err != nil {
		return err
	}
	defer tel.close()

	reg := c.registry()
	gen, err := buildGenerate(cfg, reg)
	if err != nil {
		return err
	}

	var camera video.Camera = video.Webcam{Device: cfg.Focus.Device}
	if still != "" {
		if camera, err = video.LoadStill(still); err != nil {
			return err
		}
	}
	probe := newProbe(cfg, camera, gen, tel.metrics)

	printStartupSummary(cfg, true)
	if w := c.watch(probe); w != nil {
		defer w.Stop()
	}

	if err := probe.Start(ctx); err != nil {
		return err
	}
	slog.Info("focus guardian active, press Ctrl+C to stop", "interval", cfg.Focus.Interval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		probe.Stop()
		return nil
	})
	if cfg.Server.ListenAddr != "" {
		g.Go(func() error {
			return serveHTTP(gctx, cfg.Server.ListenAddr, tel, health.Checker{Name: "focus", Check: probeReady(probe)})
		})
	}
	return g.Wait()
}

// newProbe builds the focus probe from configuration.
func newProbe(cfg *config.Config, camera video.Camera, gen generate.Provider, m *observe.Metrics) *focus.Probe {
	opts := []focus.Option{
		focus.WithInterval(cfg.Focus.Interval),
		focus.WithSnapshot(cfg.Focus.Width, cfg.Focus.Height, cfg.Focus.Quality),
		focus.WithPrompt(cfg.Focus.Prompt),
		focus.WithModel(cfg.Providers.Generate.Model),
		focus.WithDiscardStale(cfg.Focus.DiscardStale),
		focus.WithBreaker(newBreaker("focus", cfg.Resilience)),
		focus.WithMetrics(m, cfg.Providers.Generate.Name),
	}
	p := focus.New(camera, gen, opts...)
	p.OnChange(func(s focus.State) {
		slog.Info("focus state", "state", s.String())
		if s == focus.StateDistracted {
			fmt.Fprintln(os.Stderr, driftAlert)
		}
	})
	return p
}

func probeReady(p *focus.Probe) func(context.Context) error {
	return func(context.Context) error {
		if !p.Active() {
			return errors.New("probe stopped")
		}
		return nil
	}
}

// watch starts hot reload of the config file. Log level and focus interval
// apply immediately; everything else needs a restart. Returns nil when the
// configuration did not come from a file.
func (c *cli) watch(probe *focus.Probe) *config.Watcher {
	if !c.fromFile {
		return nil
	}
	w, err := config.NewWatcher(c.configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.FocusIntervalChanged && probe != nil {
			probe.SetInterval(d.NewFocusInterval)
			slog.Info("focus interval changed", "interval", d.NewFocusInterval)
		}
		if d.RestartRequired {
			slog.Warn("configuration changed in a way that requires a restart to take effect")
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
		return nil
	}
	return w
}
