// Package config provides CLI commands for managing logfunnel configuration.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	appconfig "github.com/Iron-Ham/logfunnel/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Wrapper functions for exec to allow testing
var execLookPath = exec.LookPath
var execCommand = exec.Command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify logfunnel configuration",
	Long: `View or modify logfunnel configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  logfunnel config set sink.dir /var/log/logfunnel
  logfunnel config set sink.format json
  logfunnel config set listener.join_timeout 1m

Run 'logfunnel config show' to list every key.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/logfunnel/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in your editor",
	Long: `Open the config file in your preferred editor.

Uses $EDITOR environment variable, or falls back to common editors (vim, nano, vi).
If no config file exists, creates one with default values first.`,
	RunE: runConfigEdit,
}

var configResetCmd = &cobra.Command{
	Use:   "reset [key]",
	Short: "Reset configuration to defaults",
	Long: `Reset configuration values to their defaults.

Without arguments, resets all configuration to defaults.
With a key argument, resets only that specific key.

Examples:
  logfunnel config reset             # Reset all to defaults
  logfunnel config reset sink.format # Reset only sink.format to default`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigReset,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configResetCmd)
}

// Register adds all config-related commands to the given parent command.
// This is the main entry point for integrating the config subpackage with
// the root command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

// keyKind describes how a settable key's value is parsed.
type keyKind int

const (
	kindString keyKind = iota
	kindInt
	kindBool
	kindDuration
	kindLevel
	kindFormat
	kindMode
)

// settableKeys lists every key 'config set' and 'config reset' accept.
var settableKeys = map[string]keyKind{
	"queue.dir":                kindString,
	"queue.buffer_size":        kindInt,
	"queue.drain_timeout":      kindDuration,
	"queue.flush_timeout":      kindDuration,
	"listener.join_timeout":    kindDuration,
	"listener.stop_grace":      kindDuration,
	"listener.spec_file":       kindString,
	"listener.metrics_addr":    kindString,
	"sink.dir":                 kindString,
	"sink.file_name":           kindString,
	"sink.format":              kindFormat,
	"sink.mode":                kindMode,
	"sink.console":             kindBool,
	"sink.max_size_mb":         kindInt,
	"sink.max_backups":         kindInt,
	"sink.compress":            kindBool,
	"producer.count":           kindInt,
	"producer.records":         kindInt,
	"producer.interval":        kindDuration,
	"producer.level":           kindLevel,
	"coordinator.process_name": kindString,
}

func sortedKeys() []string {
	keys := make([]string, 0, len(settableKeys))
	for k := range settableKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseValue validates value for key and returns its typed form.
func parseValue(key, value string) (any, error) {
	kind, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'logfunnel config show' to see valid keys", key)
	}

	switch kind {
	case kindBool:
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case kindInt:
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return intVal, nil
	case kindDuration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a duration such as 5s", key)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return d.String(), nil
	case kindLevel:
		return oneOf(key, strings.ToLower(value), appconfig.ValidLogLevels())
	case kindFormat:
		return oneOf(key, value, appconfig.ValidSinkFormats())
	case kindMode:
		return oneOf(key, value, appconfig.ValidSinkModes())
	default:
		return value, nil
	}
}

func oneOf(key, value string, valid []string) (any, error) {
	if !slices.Contains(valid, value) {
		return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
			key, value, strings.Join(valid, ", "))
	}
	return value, nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg := appconfig.Get()

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintln(out)

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	data, err := yaml.Marshal(showView(cfg))
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// showView mirrors the config file layout.
func showView(cfg *appconfig.Config) map[string]map[string]any {
	return map[string]map[string]any{
		"queue": {
			"dir":           cfg.Queue.Dir,
			"buffer_size":   cfg.Queue.BufferSize,
			"drain_timeout": cfg.Queue.DrainTimeout.String(),
			"flush_timeout": cfg.Queue.FlushTimeout.String(),
		},
		"listener": {
			"join_timeout": cfg.Listener.JoinTimeout.String(),
			"stop_grace":   cfg.Listener.StopGrace.String(),
			"spec_file":    cfg.Listener.SpecFile,
			"metrics_addr": cfg.Listener.MetricsAddr,
		},
		"sink": {
			"dir":         cfg.Sink.Dir,
			"file_name":   cfg.Sink.FileName,
			"format":      cfg.Sink.Format,
			"mode":        cfg.Sink.Mode,
			"console":     cfg.Sink.Console,
			"max_size_mb": cfg.Sink.MaxSizeMB,
			"max_backups": cfg.Sink.MaxBackups,
			"compress":    cfg.Sink.Compress,
		},
		"producer": {
			"count":    cfg.Producer.Count,
			"records":  cfg.Producer.Records,
			"interval": cfg.Producer.Interval.String(),
			"level":    cfg.Producer.Level,
		},
		"coordinator": {
			"process_name": cfg.Coordinator.ProcessName,
		},
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseValue(key, args[1])
	if err != nil {
		return err
	}

	// Ensure config directory exists
	configDir := appconfig.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set the value in viper
	viper.Set(key, typedValue)

	// Write to config file
	configFile := appconfig.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)

	return nil
}

// defaultConfigContent is the commented config file written by 'config init'.
const defaultConfigContent = `# logfunnel configuration
# Every key can also be set through LOGFUNNEL_<SECTION>_<KEY>,
# e.g. LOGFUNNEL_SINK_DIR for sink.dir.

# Aggregation queue
queue:
  # Directory of the queue socket (empty: private temporary directory)
  dir: ""
  # Cap on records each producer buffers locally (0: unbounded)
  buffer_size: 0
  # How long the listener waits for producers after the sentinel
  drain_timeout: 5s
  # How long a producer waits to flush on exit
  flush_timeout: 5s

# Listener process
listener:
  # How long the coordinator waits for the listener to exit
  join_timeout: 30s
  # Delay between interrupt and kill when stopping a process
  stop_grace: 3s
  # Optional YAML handler spec; replaces the sink section when set
  spec_file: ""
  # Serve Prometheus metrics here, e.g. 127.0.0.1:9464
  metrics_addr: ""

# Default handlers: one file and an optional console stream
sink:
  # Log directory (default: current directory, %ProgramData% on Windows)
  dir: .
  file_name: mptest_log.txt
  # text or json
  format: text
  # truncate or append
  mode: truncate
  console: true
  # Rotate past this size (0 disables rotation)
  max_size_mb: 10
  max_backups: 3
  # Gzip rotated files
  compress: false

# Demo producers started by 'logfunnel run'
producer:
  count: 10
  records: 10
  interval: 0s
  # Producer-side minimum level: debug, info, warning, error, critical
  level: debug

coordinator:
  # Process name on the coordinator's own records
  process_name: MainProcess
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := appconfig.ConfigDir()
	configFile := appconfig.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'logfunnel config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Edit this file to customize logfunnel's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := appconfig.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(appconfig.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/logfunnel/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_SINK_DIR)\n", appconfig.EnvPrefix, appconfig.EnvPrefix)

	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()

	// Check if config file exists, if not create it
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "Config file doesn't exist, creating with defaults...\n")
		if err := runConfigInit(cmd, args); err != nil {
			return err
		}
	}

	// Find an editor
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		// Try common editors
		for _, e := range []string{"vim", "nano", "vi"} {
			if _, err := execLookPath(e); err == nil {
				editor = e
				break
			}
		}
	}
	if editor == "" {
		return fmt.Errorf("no editor found. Set $EDITOR environment variable")
	}

	// Open the editor
	editorCmd := execCommand(editor, configFile)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Config file saved: %s\n", configFile)
	return nil
}

// defaultValues maps every settable key to its default.
func defaultValues() map[string]any {
	values := make(map[string]any, len(settableKeys))
	for section, keys := range showView(appconfig.Default()) {
		for key, value := range keys {
			values[section+"."+key] = value
		}
	}
	return values
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	defaults := defaultValues()

	if len(args) == 0 {
		// Reset all values
		for _, key := range sortedKeys() {
			viper.Set(key, defaults[key])
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Reset all configuration to defaults.")
	} else {
		// Reset specific key
		key := args[0]
		value, ok := defaults[key]
		if !ok {
			return fmt.Errorf("unknown configuration key: %s\nRun 'logfunnel config show' to see valid keys", key)
		}
		viper.Set(key, value)
		fmt.Fprintf(cmd.OutOrStdout(), "Reset %s to default: %v\n", key, value)
	}

	// Write to config file
	configFile := appconfig.ConfigFile()

	// Ensure config directory exists
	configDir := appconfig.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}
