package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestSetCreatesProjectConfig(t *testing.T) {
	dir := isolate(t)
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}

	if err := Set("sync.max-retries", "5"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := Set("sync.auto.enabled", "true"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := Set("remote.sheet-name", "Waste 2567"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	path := filepath.Join(dir, DirName, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	syncDoc, _ := doc["sync"].(map[string]any)
	if syncDoc["max-retries"] != 5 {
		t.Errorf("max-retries stored as %#v, want int 5", syncDoc["max-retries"])
	}
	if auto, _ := syncDoc["auto"].(map[string]any); auto["enabled"] != true {
		t.Errorf("auto.enabled stored as %#v", auto["enabled"])
	}

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.MaxRetries != 5 || !cfg.Sync.Auto.Enabled || cfg.Remote.SheetName != "Waste 2567" {
		t.Errorf("config after Set = %+v", cfg)
	}
}

func TestSetPreservesOtherKeys(t *testing.T) {
	dir := isolate(t)
	path := writeProjectConfig(t, dir, "remote:\n  spreadsheet-id: keep-me\n")
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}

	if err := Set("remote.url", "https://script.example.com/exec"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "keep-me") || !strings.Contains(string(data), "script.example.com") {
		t.Errorf("config file = %s", data)
	}
}

func TestSetRejects(t *testing.T) {
	dir := isolate(t)
	path := writeProjectConfig(t, dir, "sync:\n  backoff: linear\n")
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}

	if err := Set("no.such.key", "1"); err == nil {
		t.Error("Set accepted an unknown key")
	}

	if err := Set("sync.backoff", "sideways"); err == nil {
		t.Fatal("Set accepted an invalid backoff")
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "linear") {
		t.Errorf("invalid value was persisted: %s", data)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("config unusable after rejected Set: %v", err)
	}
	if cfg.Sync.Backoff != "linear" {
		t.Errorf("Backoff = %q, want linear", cfg.Sync.Backoff)
	}
}

func TestReloadPicksUpEdits(t *testing.T) {
	dir := isolate(t)
	path := writeProjectConfig(t, dir, "sync:\n  auto:\n    interval-minutes: 10\n")
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("sync:\n  auto:\n    interval-minutes: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Reload()
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if cfg.Sync.Auto.IntervalMinutes != 3 {
		t.Errorf("IntervalMinutes = %d, want 3", cfg.Sync.Auto.IntervalMinutes)
	}
}
