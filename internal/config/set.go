package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Keys lists the settings accepted by Set.
var Keys = []string{
	"data-dir",
	"remote.url",
	"remote.spreadsheet-id",
	"remote.sheet-name",
	"sync.max-retries",
	"sync.base-delay-ms",
	"sync.backoff",
	"sync.silent",
	"sync.auto.enabled",
	"sync.auto.interval-minutes",
	"dashboard.port",
	"report.model",
	"report.api-key",
	"log.level",
}

// IsKnownKey reports whether key is a wastetrack setting.
func IsKnownKey(key string) bool {
	return slices.Contains(Keys, key)
}

// Set writes key=value to the config file and reloads it. The value is
// parsed as a YAML scalar, so "3" is stored as an int and "true" as a bool.
// The file is the one currently loaded, else the project
// .wastetrack/config.yaml, which is created if needed.
func Set(key, value string) error {
	if v == nil {
		return ErrNotInitialized
	}
	if !IsKnownKey(key) {
		return fmt.Errorf("unknown config key %q", key)
	}

	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil || parsed == nil {
		parsed = value
	}

	path := writablePath()
	doc := map[string]any{}
	data, err := os.ReadFile(path)
	existed := err == nil
	switch {
	case existed:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	setNested(doc, strings.Split(key, "."), parsed)

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := writeAtomic(path, out); err != nil {
		return err
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if _, err := Load(); err != nil {
		// Restore the previous file.
		if existed {
			_ = writeAtomic(path, data)
		} else {
			_ = os.Remove(path)
		}
		_ = v.ReadInConfig()
		return err
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

func writablePath() string {
	if used := v.ConfigFileUsed(); used != "" {
		return used
	}
	if projectDir != "" {
		return filepath.Join(projectDir, "config.yaml")
	}
	return filepath.Join(DirName, "config.yaml")
}

func setNested(doc map[string]any, path []string, value any) {
	for _, part := range path[:len(path)-1] {
		next, ok := doc[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			doc[part] = next
		}
		doc = next
	}
	doc[path[len(path)-1]] = value
}
