// Command neurolink is the cognitive twin companion: a live voice dialogue
// with a remote model, a camera focus guardian, and document Q&A.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/MrWong99/neurolink/internal/config"
	"github.com/MrWong99/neurolink/internal/credential"
)

const defaultConfigPath = "neurolink.yaml"

// logLevel is shared by the process logger so config reloads can change it.
var logLevel slog.LevelVar

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "neurolink: %v\n", err)
		return 1
	}
	return 0
}

// cli holds the state shared by all subcommands after the persistent
// pre-run has loaded configuration.
type cli struct {
	configPath string
	envFile    string

	// cfg is the loaded configuration.
	cfg *config.Config

	// fromFile is true when cfg was read from configPath, which enables hot
	// reload.
	fromFile bool

	// providers, if set, registers additional provider factories after the
	// built-in ones.
	providers func(*config.Registry)
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "neurolink",
		Short:         "Your AI thinking twin: live voice dialogue, focus guardian and document Q&A",
		Version:       fmt.Sprintf("%s %s/%s", version(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd.Flags().Changed("config"))
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", defaultConfigPath, "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", "", "load environment variables from this file (default: ./.env if present)")

	root.AddCommand(
		newLiveCmd(c),
		newFocusCmd(c),
		newAskCmd(c),
		newProfileCmd(c),
		newCredentialCmd(c),
	)
	return root
}

// load reads the .env file and the configuration, and installs the logger.
// A missing default config file falls back to built-in defaults; a missing
// file named explicitly is an error.
func (c *cli) load(explicit bool) error {
	if err := credential.LoadEnv(c.envFile); err != nil {
		return err
	}

	cfg, err := config.Load(c.configPath)
	switch {
	case err == nil:
		c.fromFile = true
	case errors.Is(err, os.ErrNotExist) && !explicit:
		cfg = config.Default()
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("config file %q not found", c.configPath)
	default:
		return err
	}
	c.cfg = cfg

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Debug("configuration loaded", "path", c.configPath, "from_file", c.fromFile)
	return nil
}

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	logLevel.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, focus bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Neuro-Link — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Live", providerLabel(cfg.Providers.Live))
	printRow("Generate", providerLabel(cfg.Providers.Generate))
	printRow("Voice", cfg.Audio.Voice)
	printRow("Mic / speaker", fmt.Sprintf("%d / %d Hz", cfg.Audio.InputSampleRate, cfg.Audio.OutputSampleRate))
	if focus {
		printRow("Focus probe", "every "+cfg.Focus.Interval.String())
	} else {
		printRow("Focus probe", "(disabled)")
	}
	if cfg.Profile.PostgresDSN != "" {
		printRow("Profile store", "postgres")
	} else {
		printRow("Profile store", "sqlite")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}
