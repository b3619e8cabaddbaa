package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  bot_token: "123:abc"
  chat_id: 42
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Monitor.CheckInterval != time.Minute {
		t.Fatalf("check interval = %s", cfg.Monitor.CheckInterval)
	}
	if cfg.Monitor.Cooldown != 5*time.Minute {
		t.Fatalf("cooldown = %s", cfg.Monitor.Cooldown)
	}
	if cfg.Monitor.MaxRules != 20 || cfg.Monitor.AnomalyCeilingPct != 1000 {
		t.Fatalf("unexpected monitor defaults %+v", cfg.Monitor)
	}
	if cfg.Monitor.AlignToInterval || cfg.Monitor.StartupDelay != 0 {
		t.Fatalf("scheduler alignment should be off by default: %+v", cfg.Monitor)
	}
	if cfg.Telegram.PollTimeout != 30*time.Second || cfg.Telegram.ErrorBackoff != 5*time.Second {
		t.Fatalf("unexpected telegram defaults %+v", cfg.Telegram)
	}
	if cfg.State.RulesFile != "bot_state.json" || cfg.State.HistoryFile != "price_history.json" {
		t.Fatalf("unexpected state files %+v", cfg.State)
	}
	if len(cfg.Monitor.Defaults.Symbols) != 5 {
		t.Fatalf("expected 5 default symbols, got %v", cfg.Monitor.Defaults.Symbols)
	}

	windows, err := cfg.DefaultWindows()
	if err != nil {
		t.Fatalf("default windows: %v", err)
	}
	if len(windows) != 3 || windows[0].WindowMinutes != 5 || windows[2].WindowMinutes != 60 {
		t.Fatalf("windows not sorted: %+v", windows)
	}
	if windows[1].ThresholdPct.String() != "1" {
		t.Fatalf("15min threshold = %s", windows[1].ThresholdPct)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
telegram:
  bot_token: "123:abc"
  chat_id: 42
`)
	t.Setenv("PRICEWATCH_MONITOR_COOLDOWN", "90s")
	t.Setenv("PRICEWATCH_MONITOR_ALIGN_TO_INTERVAL", "true")
	t.Setenv("PRICEWATCH_MONITOR_STARTUP_DELAY", "15s")
	t.Setenv("PRICEWATCH_PROXY_ENABLED", "true")
	t.Setenv("PRICEWATCH_PROXY_URL", "http://127.0.0.1:8080")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Monitor.Cooldown != 90*time.Second {
		t.Fatalf("env override ignored: %s", cfg.Monitor.Cooldown)
	}
	if !cfg.Monitor.AlignToInterval || cfg.Monitor.StartupDelay != 15*time.Second {
		t.Fatalf("scheduler overrides ignored: %+v", cfg.Monitor)
	}
	if cfg.ProxyURL() != "http://127.0.0.1:8080" {
		t.Fatalf("proxy url = %q", cfg.ProxyURL())
	}
}

func TestValidateRequiresTelegramCredentials(t *testing.T) {
	path := writeConfig(t, "telegram:\n  enabled: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error without bot token")
	}

	path = writeConfig(t, "telegram:\n  enabled: false\n")
	if _, err := Load(path); err != nil {
		t.Fatalf("disabled telegram should not need credentials: %v", err)
	}
}

func TestValidateRejectsBadWindows(t *testing.T) {
	path := writeConfig(t, `
telegram:
  enabled: false
monitor:
  defaults:
    windows:
      abc: 1.0
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for non-numeric window")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if cfg.ResolveMaxPoints(0) != 500 {
		t.Fatalf("expected config default")
	}
	if cfg.ResolveMaxPoints(10) != 10 {
		t.Fatalf("expected override")
	}
}
