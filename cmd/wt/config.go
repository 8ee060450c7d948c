package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srikhai/wastetrack/internal/config"
	"github.com/srikhai/wastetrack/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Show or change settings",
	Long: `Show or change wt settings.

Settings are read from .wastetrack/config.yaml in this directory or a parent,
else ~/.config/wt/config.yaml. Environment variables override the file:
sync.max-retries is WT_SYNC_MAX_RETRIES.

Keys:
  remote.url                   Spreadsheet web app URL
  remote.spreadsheet-id        Spreadsheet ID
  remote.sheet-name            Sheet name (default WasteData)
  sync.max-retries             Attempts per record (min 1)
  sync.base-delay-ms           Retry base delay
  sync.backoff                 linear or exponential
  sync.silent                  Suppress sync notifications
  sync.auto.enabled            Run periodic sync in the daemon
  sync.auto.interval-minutes   Auto-sync period (min 1)
  dashboard.port               Dashboard port
  report.model                 Anthropic model for reports
  report.api-key               Anthropic API key
  log.level                    debug, info, warn, error

Examples:
  wt config set remote.url "https://script.google.com/macros/s/.../exec"
  wt config set sync.auto.enabled true
  wt config show`,
}

// secretKeys are masked by config show.
var secretKeys = map[string]bool{"report.api-key": true}

// flatten turns viper's nested settings into dotted keys.
func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

func mask(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective settings",
	Run: func(cmd *cobra.Command, args []string) {
		settings := map[string]any{}
		flatten("", config.AllSettings(), settings)
		for key := range secretKeys {
			if s, ok := settings[key].(string); ok && s != "" {
				settings[key] = mask(s)
			}
		}

		if jsonOutput {
			outputJSON(map[string]any{"file": config.ConfigFileUsed(), "settings": settings})
			return
		}

		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		file := config.ConfigFileUsed()
		if file == "" {
			file = "(none, using defaults)"
		}
		fmt.Printf("%s %s\n\n", ui.RenderBold("Config file:"), file)
		for _, k := range keys {
			fmt.Printf("  %-28s %v\n", k, settings[k])
		}
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		key, value := args[0], args[1]

		if err := config.Set(key, value); err != nil {
			fmt.Fprintf(os.Stderr, "Error setting config: %v\n", err)
			exit(1)
		}

		shown := value
		if secretKeys[key] {
			shown = mask(value)
		}
		if jsonOutput {
			outputJSON(map[string]string{"key": key, "value": shown, "location": config.ConfigFileUsed()})
			return
		}
		fmt.Printf("Set %s = %s (in %s)\n", key, shown, config.ConfigFileUsed())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}
