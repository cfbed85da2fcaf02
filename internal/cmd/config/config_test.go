package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	appconfig "github.com/Iron-Ham/logfunnel/internal/config"
	"github.com/spf13/viper"
)

// isolateConfig points the config directory at a temp dir and resets viper.
func isolateConfig(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	viper.Reset()
	appconfig.SetDefaults()
	t.Cleanup(viper.Reset)
	return filepath.Join(tmpDir, "logfunnel")
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		want    any
		wantErr bool
	}{
		{"string", "sink.dir", "/var/log", "/var/log", false},
		{"int", "producer.count", "4", 4, false},
		{"negative int", "producer.count", "-1", nil, true},
		{"not an int", "queue.buffer_size", "lots", nil, true},
		{"bool true", "sink.console", "true", true, false},
		{"bool false", "sink.compress", "false", false, false},
		{"bad bool", "sink.console", "yes", nil, true},
		{"duration", "listener.join_timeout", "1m", "1m0s", false},
		{"bad duration", "queue.drain_timeout", "soon", nil, true},
		{"negative duration", "queue.flush_timeout", "-1s", nil, true},
		{"level lowercased", "producer.level", "WARNING", "warning", false},
		{"bad level", "producer.level", "loud", nil, true},
		{"format", "sink.format", "json", "json", false},
		{"bad format", "sink.format", "xml", nil, true},
		{"mode", "sink.mode", "append", "append", false},
		{"bad mode", "sink.mode", "overwrite", nil, true},
		{"unknown key", "sink.colour", "red", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseValue(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseValue(%q, %q) error = %v, wantErr %v", tt.key, tt.value, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseValue(%q, %q) = %v (%T), want %v (%T)", tt.key, tt.value, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestDefaultValuesCoverSettableKeys(t *testing.T) {
	defaults := defaultValues()
	for _, key := range sortedKeys() {
		if _, ok := defaults[key]; !ok {
			t.Errorf("settable key %s has no default", key)
		}
	}
	if len(defaults) != len(settableKeys) {
		t.Errorf("defaultValues() has %d keys, settableKeys has %d", len(defaults), len(settableKeys))
	}
}

func TestRunConfigInit(t *testing.T) {
	dir := isolateConfig(t)
	var buf bytes.Buffer
	configInitCmd.SetOut(&buf)
	defer configInitCmd.SetOut(nil)

	if err := runConfigInit(configInitCmd, nil); err != nil {
		t.Fatalf("runConfigInit() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "file_name: mptest_log.txt") {
		t.Error("config file missing sink defaults")
	}

	// A second init refuses to overwrite
	if err := runConfigInit(configInitCmd, nil); err == nil {
		t.Error("Expected error when config file exists, got nil")
	}
}

func TestDefaultConfigContentLoads(t *testing.T) {
	isolateConfig(t)
	viper.SetConfigType("yaml")
	if err := viper.ReadConfig(strings.NewReader(defaultConfigContent)); err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}
	cfg, err := appconfig.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := appconfig.Default()
	if cfg.Sink != want.Sink {
		t.Errorf("Sink = %+v, want %+v", cfg.Sink, want.Sink)
	}
	if cfg.Producer != want.Producer {
		t.Errorf("Producer = %+v, want %+v", cfg.Producer, want.Producer)
	}
}

func TestRunConfigSetAndReset(t *testing.T) {
	dir := isolateConfig(t)
	var buf bytes.Buffer
	configSetCmd.SetOut(&buf)
	configResetCmd.SetOut(&buf)
	defer configSetCmd.SetOut(nil)
	defer configResetCmd.SetOut(nil)

	if err := runConfigSet(configSetCmd, []string{"sink.format", "json"}); err != nil {
		t.Fatalf("runConfigSet() error = %v", err)
	}
	if got := viper.GetString("sink.format"); got != "json" {
		t.Errorf("sink.format = %q, want json", got)
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "json") {
		t.Errorf("config file does not hold the new value:\n%s", data)
	}

	if err := runConfigSet(configSetCmd, []string{"sink.format", "xml"}); err == nil {
		t.Error("Expected error for invalid format, got nil")
	}

	if err := runConfigReset(configResetCmd, []string{"sink.format"}); err != nil {
		t.Fatalf("runConfigReset() error = %v", err)
	}
	if got := viper.GetString("sink.format"); got != "text" {
		t.Errorf("sink.format after reset = %q, want text", got)
	}

	if err := runConfigReset(configResetCmd, []string{"no.such.key"}); err == nil {
		t.Error("Expected error for unknown key, got nil")
	}
}

func TestRunConfigShow(t *testing.T) {
	isolateConfig(t)
	var buf bytes.Buffer
	configShowCmd.SetOut(&buf)
	defer configShowCmd.SetOut(nil)

	if err := runConfigShow(configShowCmd, nil); err != nil {
		t.Fatalf("runConfigShow() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Config file: (none - using defaults)", "process_name: MainProcess", "join_timeout: 30s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunConfigEditUsesEditor(t *testing.T) {
	dir := isolateConfig(t)
	t.Setenv("EDITOR", "true")
	var buf bytes.Buffer
	configEditCmd.SetOut(&buf)
	configInitCmd.SetOut(&buf)
	defer configEditCmd.SetOut(nil)
	defer configInitCmd.SetOut(nil)

	if err := runConfigEdit(configEditCmd, nil); err != nil {
		t.Fatalf("runConfigEdit() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Errorf("edit did not create the config file: %v", err)
	}
}
