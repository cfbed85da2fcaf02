package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override config
// keys, e.g. LOGFUNNEL_SINK_DIR for sink.dir.
const EnvPrefix = "LOGFUNNEL"

// Config represents the complete logfunnel configuration
type Config struct {
	Queue       QueueConfig       `mapstructure:"queue"`
	Listener    ListenerConfig    `mapstructure:"listener"`
	Sink        SinkConfig        `mapstructure:"sink"`
	Producer    ProducerConfig    `mapstructure:"producer"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
}

// QueueConfig controls the aggregation queue
type QueueConfig struct {
	// Dir is where the queue socket is created. Empty means a private
	// temporary directory that is removed on exit.
	Dir string `mapstructure:"dir"`
	// BufferSize caps each producer's local buffer, in records. Zero means
	// unbounded (default: 0)
	BufferSize int `mapstructure:"buffer_size"`
	// DrainTimeout bounds how long the listener waits for producer
	// connections to close after the sentinel (default: 5s)
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	// FlushTimeout bounds a producer's final flush (default: 5s)
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

// ListenerConfig controls the listener process
type ListenerConfig struct {
	// JoinTimeout bounds the wait for the listener after the sentinel is
	// sent (default: 30s)
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
	// StopGrace is how long a stopped process gets between interrupt and
	// kill (default: 3s)
	StopGrace time.Duration `mapstructure:"stop_grace"`
	// SpecFile is an optional YAML handler spec file. When empty the
	// sink.* keys describe a file handler and an optional console handler.
	SpecFile string `mapstructure:"spec_file"`
	// MetricsAddr serves Prometheus metrics when set, e.g. "127.0.0.1:9464"
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// SinkConfig describes the default sink handlers
type SinkConfig struct {
	// Dir is the log directory (default: platform log directory)
	Dir string `mapstructure:"dir"`
	// FileName is the sink file name inside Dir (default: "mptest_log.txt")
	FileName string `mapstructure:"file_name"`
	// Format is "text" or "json" (default: "text")
	Format string `mapstructure:"format"`
	// Mode is "truncate" or "append" (default: "truncate")
	Mode string `mapstructure:"mode"`
	// Console also writes every record to stderr (default: true)
	Console bool `mapstructure:"console"`
	// MaxSizeMB rotates the file past this size; 0 disables rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Path returns the full sink file path.
func (s *SinkConfig) Path() string {
	return filepath.Join(s.Dir, s.FileName)
}

// ProducerConfig controls the demo producers started by "logfunnel run"
type ProducerConfig struct {
	// Count is the number of producer processes (default: 10)
	Count int `mapstructure:"count"`
	// Records is how many records each producer emits (default: 10)
	Records int `mapstructure:"records"`
	// Interval is the pause between records (default: 0)
	Interval time.Duration `mapstructure:"interval"`
	// Level is the producer-side minimum level (default: "debug")
	Level string `mapstructure:"level"`
}

// CoordinatorConfig controls the coordinating process
type CoordinatorConfig struct {
	// ProcessName stamps the coordinator's own records (default: "MainProcess")
	ProcessName string `mapstructure:"process_name"`
}

// DefaultLogDir returns the platform log directory: the common application
// data directory on Windows and the current directory elsewhere.
func DefaultLogDir() string {
	if runtime.GOOS == "windows" {
		if dir := os.Getenv("ProgramData"); dir != "" {
			return dir
		}
	}
	return "."
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			Dir:          "",
			BufferSize:   0,
			DrainTimeout: 5 * time.Second,
			FlushTimeout: 5 * time.Second,
		},
		Listener: ListenerConfig{
			JoinTimeout: 30 * time.Second,
			StopGrace:   3 * time.Second,
			SpecFile:    "",
			MetricsAddr: "",
		},
		Sink: SinkConfig{
			Dir:        DefaultLogDir(),
			FileName:   "mptest_log.txt",
			Format:     "text",
			Mode:       "truncate",
			Console:    true,
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
		Producer: ProducerConfig{
			Count:    10,
			Records:  10,
			Interval: 0,
			Level:    "debug",
		},
		Coordinator: CoordinatorConfig{
			ProcessName: "MainProcess",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Queue defaults
	viper.SetDefault("queue.dir", defaults.Queue.Dir)
	viper.SetDefault("queue.buffer_size", defaults.Queue.BufferSize)
	viper.SetDefault("queue.drain_timeout", defaults.Queue.DrainTimeout)
	viper.SetDefault("queue.flush_timeout", defaults.Queue.FlushTimeout)

	// Listener defaults
	viper.SetDefault("listener.join_timeout", defaults.Listener.JoinTimeout)
	viper.SetDefault("listener.stop_grace", defaults.Listener.StopGrace)
	viper.SetDefault("listener.spec_file", defaults.Listener.SpecFile)
	viper.SetDefault("listener.metrics_addr", defaults.Listener.MetricsAddr)

	// Sink defaults
	viper.SetDefault("sink.dir", defaults.Sink.Dir)
	viper.SetDefault("sink.file_name", defaults.Sink.FileName)
	viper.SetDefault("sink.format", defaults.Sink.Format)
	viper.SetDefault("sink.mode", defaults.Sink.Mode)
	viper.SetDefault("sink.console", defaults.Sink.Console)
	viper.SetDefault("sink.max_size_mb", defaults.Sink.MaxSizeMB)
	viper.SetDefault("sink.max_backups", defaults.Sink.MaxBackups)
	viper.SetDefault("sink.compress", defaults.Sink.Compress)

	// Producer defaults
	viper.SetDefault("producer.count", defaults.Producer.Count)
	viper.SetDefault("producer.records", defaults.Producer.Records)
	viper.SetDefault("producer.interval", defaults.Producer.Interval)
	viper.SetDefault("producer.level", defaults.Producer.Level)

	// Coordinator defaults
	viper.SetDefault("coordinator.process_name", defaults.Coordinator.ProcessName)
}

// BindEnv makes every config key overridable through LOGFUNNEL_* environment
// variables, with dots replaced by underscores.
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "logfunnel")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".logfunnel"
	}
	return filepath.Join(home, ".config", "logfunnel")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidSinkFormats returns the list of valid sink formats
func ValidSinkFormats() []string {
	return []string{"text", "json"}
}

// ValidSinkModes returns the list of valid sink file modes
func ValidSinkModes() []string {
	return []string{"truncate", "append"}
}
