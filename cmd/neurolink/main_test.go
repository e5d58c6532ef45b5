package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/neurolink/internal/config"
	"github.com/MrWong99/neurolink/internal/docquery"
)

// execute runs the root command with args against a config file that keeps
// the profile database in a temp dir.
func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "neurolink.yaml")
	yaml := "server:\n  log_level: warn\nprofile:\n  sqlite_path: " + filepath.Join(dir, "profile.db") + "\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProfileLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, cfg, "profile", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "No profile yet") {
		t.Errorf("show on empty store = %q", out)
	}

	out, err = execute(t, cfg, "profile", "init", "--name", "Ada", "--age", "29", "--strength", "Logic", "--strength", "Memory")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, want := range []string{"Profile synchronized.", "Ada", "Logic, Memory", "8.5", "110", "FREE"} {
		if !strings.Contains(out, want) {
			t.Errorf("init output missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, cfg, "profile", "upgrade"); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	out, err = execute(t, cfg, "profile", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "PREMIUM") {
		t.Errorf("after upgrade: %q", out)
	}

	if _, err := execute(t, cfg, "profile", "reset"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	out, _ = execute(t, cfg, "profile", "show")
	if !strings.Contains(out, "No profile yet") {
		t.Errorf("after reset: %q", out)
	}
}

func TestProfileInit_RejectsInvalidTier(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := execute(t, cfg, "profile", "init", "--name", "Ada", "--age", "29", "--tier", "GOLD"); err == nil {
		t.Error("init with an unknown tier should fail")
	}
}

func TestAsk_WithoutDocument(t *testing.T) {
	cfg := writeConfig(t)
	out, err := execute(t, cfg, "ask", "what", "should", "I", "study?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if strings.TrimSpace(out) != docquery.NoDocumentReply {
		t.Errorf("ask = %q, want the no-document reply", out)
	}
}

func TestAsk_RejectsNonPDF(t *testing.T) {
	cfg := writeConfig(t)
	txt := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(txt, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, cfg, "ask", "--doc", txt, "summarise"); err == nil {
		t.Error("ask with a non-PDF document should fail")
	}
}

func TestCredentialStatus_FromEnv(t *testing.T) {
	cfg := writeConfig(t)
	t.Setenv("NEUROLINK_API_KEY", "sk-test-abcd1234")
	out, err := execute(t, cfg, "credential", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "****1234 (from env)") {
		t.Errorf("status = %q", out)
	}
}

func TestExplicitMissingConfig(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "absent.yaml"), "profile", "show")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want config not found", err)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOptDuration(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"timeout": "30s", "bad": "soon", "num": 5}
	if got := optDuration(opts, "timeout"); got != 30*time.Second {
		t.Errorf("timeout = %v", got)
	}
	for _, key := range []string{"bad", "num", "missing"} {
		if got := optDuration(opts, key); got != 0 {
			t.Errorf("%s = %v, want 0", key, got)
		}
	}
	if got := optDuration(nil, "timeout"); got != 0 {
		t.Errorf("nil map = %v", got)
	}
}
