package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate runs the test in a fresh directory with no WT_ environment and no
// user config, and resets the singleton afterwards.
func isolate(t *testing.T) string {
	t.Helper()
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "WT_") || strings.HasPrefix(env, "ANTHROPIC_API_KEY=") {
			key, _, _ := strings.Cut(env, "=")
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("HOME", filepath.Join(dir, "home"))
	t.Chdir(dir)
	t.Cleanup(ResetForTesting)
	return dir
}

func writeProjectConfig(t *testing.T, dir, content string) string {
	t.Helper()
	cfgDir := filepath.Join(dir, DirName)
	if err := os.MkdirAll(cfgDir, 0o750); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	isolate(t)
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.DataDir != DirName {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, DirName)
	}
	if cfg.Remote.SheetName != "WasteData" || cfg.Remote.URL != "" {
		t.Errorf("Remote = %+v", cfg.Remote)
	}
	if cfg.Sync.MaxRetries != 3 || cfg.Sync.BaseDelay() != time.Second || cfg.Sync.Backoff != "exponential" {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.Sync.Auto.Enabled || cfg.Sync.Auto.Interval() != 15*time.Minute {
		t.Errorf("Auto = %+v", cfg.Sync.Auto)
	}
	if cfg.Dashboard.Port != 8080 || cfg.Log.Level != "info" {
		t.Errorf("Dashboard = %+v, Log = %+v", cfg.Dashboard, cfg.Log)
	}
	if got := cfg.DBPath(); got != filepath.Join(DirName, "state.db") {
		t.Errorf("DBPath = %q", got)
	}
	if ConfigFileUsed() != "" {
		t.Errorf("ConfigFileUsed = %q, want none", ConfigFileUsed())
	}
}

func TestProjectConfigFromSubdirectory(t *testing.T) {
	dir := isolate(t)
	path := writeProjectConfig(t, dir, `
remote:
  url: https://script.example.com/macros/s/abc/exec
  spreadsheet-id: sheet-123
sync:
  max-retries: 5
  backoff: linear
  auto:
    enabled: true
    interval-minutes: 2
`)
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatal(err)
	}
	t.Chdir(sub)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if !strings.HasSuffix(ConfigFileUsed(), filepath.Join(DirName, "config.yaml")) {
		t.Errorf("ConfigFileUsed = %q, want %q", ConfigFileUsed(), path)
	}
	if cfg.Remote.SpreadsheetID != "sheet-123" || cfg.Sync.MaxRetries != 5 || cfg.Sync.Backoff != "linear" {
		t.Errorf("config not loaded from file: %+v", cfg)
	}
	if !cfg.Sync.Auto.Enabled || cfg.Sync.Auto.IntervalMinutes != 2 {
		t.Errorf("Auto = %+v", cfg.Sync.Auto)
	}
	if !strings.HasSuffix(cfg.DataDir, DirName) || !filepath.IsAbs(cfg.DataDir) {
		t.Errorf("DataDir = %q, want the project directory", cfg.DataDir)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := isolate(t)
	writeProjectConfig(t, dir, "sync:\n  max-retries: 5\n")
	t.Setenv("WT_SYNC_MAX_RETRIES", "7")
	t.Setenv("WT_SYNC_AUTO_INTERVAL_MINUTES", "30")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want env override 7", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.Auto.IntervalMinutes != 30 {
		t.Errorf("IntervalMinutes = %d, want 30", cfg.Sync.Auto.IntervalMinutes)
	}
	if cfg.Report.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want ANTHROPIC_API_KEY fallback", cfg.Report.APIKey)
	}
}

func TestLoadClampsAndValidates(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "retries clamped",
			env:  map[string]string{"WT_SYNC_MAX_RETRIES": "0", "WT_SYNC_AUTO_INTERVAL_MINUTES": "0"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Sync.MaxRetries != 1 || cfg.Sync.Auto.IntervalMinutes != 1 {
					t.Errorf("Sync = %+v, want clamped to 1", cfg.Sync)
				}
			},
		},
		{
			name:    "bad backoff",
			env:     map[string]string{"WT_SYNC_BACKOFF": "fibonacci"},
			wantErr: "Backoff",
		},
		{
			name:    "bad port",
			env:     map[string]string{"WT_DASHBOARD_PORT": "70000"},
			wantErr: "Port",
		},
		{
			name:    "bad url",
			env:     map[string]string{"WT_REMOTE_URL": "not a url"},
			wantErr: "URL",
		},
		{
			name:    "bad log level",
			env:     map[string]string{"WT_LOG_LEVEL": "verbose"},
			wantErr: "Level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, val := range tt.env {
				t.Setenv(k, val)
			}
			if err := Initialize(); err != nil {
				t.Fatal(err)
			}
			cfg, err := Load()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() err = %v, want mention of %s", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() returned error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestNotInitialized(t *testing.T) {
	ResetForTesting()
	if _, err := Load(); err != ErrNotInitialized {
		t.Errorf("Load() err = %v, want ErrNotInitialized", err)
	}
	if err := Set("sync.backoff", "linear"); err != ErrNotInitialized {
		t.Errorf("Set() err = %v, want ErrNotInitialized", err)
	}
}
