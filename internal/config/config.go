// Package config loads wastetrack settings from config.yaml, WT_* environment
// variables and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DirName is the project data directory, holding state.db, daemon.log and
// the project config.yaml.
const DirName = ".wastetrack"

// ErrNotInitialized is returned when Load or Set is called before Initialize.
var ErrNotInitialized = errors.New("config not initialized")

var (
	v *viper.Viper
	// projectDir is the .wastetrack directory found while walking up from the
	// working directory, or "" when none exists.
	projectDir string
)

var validate = validator.New()

// Config is the typed view over the viper settings.
type Config struct {
	DataDir   string `validate:"required"`
	Remote    RemoteConfig
	Sync      SyncConfig
	Dashboard DashboardConfig
	Report    ReportConfig
	Log       LogConfig
}

// RemoteConfig locates the spreadsheet web app.
type RemoteConfig struct {
	URL           string `validate:"omitempty,url"`
	SpreadsheetID string
	SheetName     string `validate:"required"`
}

// SyncConfig holds retry and auto-sync settings.
type SyncConfig struct {
	MaxRetries  int    `validate:"min=1"`
	BaseDelayMS int    `validate:"min=0"`
	Backoff     string `validate:"oneof=linear exponential"`
	Silent      bool
	Auto        AutoSyncConfig
}

// AutoSyncConfig controls the daemon's periodic sync.
type AutoSyncConfig struct {
	Enabled         bool
	IntervalMinutes int `validate:"min=1"`
}

// DashboardConfig configures the live status server.
type DashboardConfig struct {
	Port int `validate:"min=1,max=65535"`
}

// ReportConfig configures the AI report generator.
type ReportConfig struct {
	Model  string `validate:"required"`
	APIKey string
}

// LogConfig sets the minimum log level.
type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

// BaseDelay returns the retry base delay.
func (c SyncConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// Interval returns the auto-sync period.
func (c AutoSyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// LogPath returns the daemon log path.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "daemon.log")
}

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")
	projectDir = ""

	// Precedence: project .wastetrack/config.yaml > ~/.config/wt/config.yaml
	configFileSet := false

	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			candidate := filepath.Join(dir, DirName)
			if info, err := os.Stat(candidate); err == nil && info.IsDir() {
				projectDir = candidate
				configPath := filepath.Join(candidate, "config.yaml")
				if _, err := os.Stat(configPath); err == nil {
					v.SetConfigFile(configPath)
					configFileSet = true
				}
				break
			}
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "wt", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// WT_SYNC_MAX_RETRIES maps to sync.max-retries.
	v.SetEnvPrefix("WT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	dataDir := DirName
	if projectDir != "" {
		dataDir = projectDir
	}
	v.SetDefault("data-dir", dataDir)

	v.SetDefault("remote.url", "")
	v.SetDefault("remote.spreadsheet-id", "")
	v.SetDefault("remote.sheet-name", "WasteData")

	v.SetDefault("sync.max-retries", 3)
	v.SetDefault("sync.base-delay-ms", 1000)
	v.SetDefault("sync.backoff", "exponential")
	v.SetDefault("sync.silent", false)
	v.SetDefault("sync.auto.enabled", false)
	v.SetDefault("sync.auto.interval-minutes", 15)

	v.SetDefault("dashboard.port", 8080)

	v.SetDefault("report.model", "claude-sonnet-4-5")
	v.SetDefault("report.api-key", "")
	_ = v.BindEnv("report.api-key", "WT_REPORT_API_KEY", "ANTHROPIC_API_KEY")

	v.SetDefault("log.level", "info")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// ResetForTesting clears the config state, allowing Initialize() to be called again.
// Not thread-safe.
func ResetForTesting() {
	v = nil
	projectDir = ""
}

// ConfigFileUsed returns the loaded config file path, or "" when running on
// defaults and environment only.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// Reload re-reads the config file and returns the new typed config.
func Reload() (*Config, error) {
	if v == nil {
		return nil, ErrNotInitialized
	}
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return Load()
}

// Load returns the validated typed config. Retry and interval values below
// one are clamped to one.
func Load() (*Config, error) {
	if v == nil {
		return nil, ErrNotInitialized
	}

	cfg := &Config{
		DataDir: v.GetString("data-dir"),
		Remote: RemoteConfig{
			URL:           strings.TrimSpace(v.GetString("remote.url")),
			SpreadsheetID: strings.TrimSpace(v.GetString("remote.spreadsheet-id")),
			SheetName:     v.GetString("remote.sheet-name"),
		},
		Sync: SyncConfig{
			MaxRetries:  max(v.GetInt("sync.max-retries"), 1),
			BaseDelayMS: v.GetInt("sync.base-delay-ms"),
			Backoff:     strings.ToLower(v.GetString("sync.backoff")),
			Silent:      v.GetBool("sync.silent"),
			Auto: AutoSyncConfig{
				Enabled:         v.GetBool("sync.auto.enabled"),
				IntervalMinutes: max(v.GetInt("sync.auto.interval-minutes"), 1),
			},
		},
		Dashboard: DashboardConfig{Port: v.GetInt("dashboard.port")},
		Report: ReportConfig{
			Model:  v.GetString("report.model"),
			APIKey: v.GetString("report.api-key"),
		},
		Log: LogConfig{Level: strings.ToLower(v.GetString("log.level"))},
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// GetString returns a raw setting.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// AllSettings returns every known setting with its effective value.
func AllSettings() map[string]any {
	if v == nil {
		return nil
	}
	return v.AllSettings()
}
