package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/logfunnel/internal/config"
	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/record"
)

// SpecVersion is the current handler spec format version.
const SpecVersion = "1"

// Handler types understood by a Spec.
const (
	TypeFile   = "file"
	TypeStream = "stream"
)

// Spec is a declarative sink configuration: named handlers and the loggers
// they attach to.
//
//	version: "1"
//	handlers:
//	  file:
//	    type: file
//	    path: ./mptest_log.txt
//	    mode: truncate
//	  console:
//	    type: stream
//	    level: warning
//	root:
//	  handlers: [file, console]
//	loggers:
//	  d.e.f:
//	    handlers: [file]
//	    propagate: false
type Spec struct {
	Version  string                 `yaml:"version"`
	Palette  string                 `yaml:"palette,omitempty"`
	Handlers map[string]HandlerSpec `yaml:"handlers"`
	Root     LoggerSpec             `yaml:"root"`
	Loggers  map[string]LoggerSpec  `yaml:"loggers,omitempty"`
}

// HandlerSpec describes one handler.
type HandlerSpec struct {
	Type   string `yaml:"type"`
	Format string `yaml:"format,omitempty"`
	Level  string `yaml:"level,omitempty"`

	// File handlers
	Path       string `yaml:"path,omitempty"`
	Mode       string `yaml:"mode,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`

	// Stream handlers
	Stream string `yaml:"stream,omitempty"`
	Color  string `yaml:"color,omitempty"`
}

// LoggerSpec attaches handlers to a logger.
type LoggerSpec struct {
	Handlers  []string `yaml:"handlers,omitempty"`
	Propagate *bool    `yaml:"propagate,omitempty"`
}

// DefaultSpec describes the sink.* configuration: one file handler and, when
// enabled, a console handler, both on the root logger.
func DefaultSpec(cfg config.SinkConfig) *Spec {
	s := &Spec{
		Version: SpecVersion,
		Handlers: map[string]HandlerSpec{
			"file": {
				Type:       TypeFile,
				Format:     cfg.Format,
				Path:       cfg.Path(),
				Mode:       cfg.Mode,
				MaxSizeMB:  cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				Compress:   cfg.Compress,
			},
		},
		Root: LoggerSpec{Handlers: []string{"file"}},
	}
	if cfg.Console {
		s.Handlers["console"] = HandlerSpec{Type: TypeStream, Stream: "stderr", Color: ColorAuto}
		s.Root.Handlers = append(s.Root.Handlers, "console")
	}
	return s
}

// ParseSpec parses and validates spec YAML.
func ParseSpec(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing sink spec: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSpec reads a spec file.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sink spec: %w", err)
	}
	return ParseSpec(data)
}

// Marshal encodes the spec as YAML.
func (s *Spec) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// WriteFile writes the spec to path with owner-only permissions.
func (s *Spec) WriteFile(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("encoding sink spec: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing sink spec: %w", err)
	}
	return nil
}

// Validate checks the spec for structural errors.
func (s *Spec) Validate() error {
	if s.Version != SpecVersion {
		return ferrors.NewValidationError(fmt.Sprintf("unsupported spec version (supported: %s)", SpecVersion)).
			WithField("version").WithValue(s.Version)
	}
	for _, name := range sortedKeys(s.Handlers) {
		if err := s.Handlers[name].validate(name); err != nil {
			return err
		}
	}
	if err := s.validateRefs("root", s.Root); err != nil {
		return err
	}
	for _, name := range sortedKeys(s.Loggers) {
		if name == "" {
			return ferrors.NewValidationError("logger name must not be empty; use root").WithField("loggers")
		}
		if err := s.validateRefs("loggers."+name, s.Loggers[name]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Spec) validateRefs(field string, ls LoggerSpec) error {
	for _, ref := range ls.Handlers {
		if _, ok := s.Handlers[ref]; !ok {
			return ferrors.NewValidationError("unknown handler").WithField(field + ".handlers").WithValue(ref)
		}
	}
	return nil
}

func (h HandlerSpec) validate(name string) error {
	field := "handlers." + name
	if _, err := FormatterFor(h.Format); err != nil {
		return ferrors.NewValidationError("unknown format").WithField(field + ".format").WithValue(h.Format)
	}
	if h.Level != "" {
		if _, err := record.ParseLevel(h.Level); err != nil {
			return ferrors.NewValidationError("unknown level").WithField(field + ".level").WithValue(h.Level).WithCause(err)
		}
	}
	switch h.Type {
	case TypeFile:
		if h.Path == "" {
			return ferrors.NewValidationError("file handler needs a path").WithField(field + ".path")
		}
		if h.Mode != "" && !slices.Contains(config.ValidSinkModes(), h.Mode) {
			return ferrors.NewValidationError("unknown mode").WithField(field + ".mode").WithValue(h.Mode)
		}
		if h.MaxSizeMB < 0 || h.MaxBackups < 0 {
			return ferrors.NewValidationError("rotation limits must be non-negative").WithField(field)
		}
	case TypeStream:
		switch h.Stream {
		case "", "stderr", "stdout":
		default:
			return ferrors.NewValidationError("stream must be stderr or stdout").WithField(field + ".stream").WithValue(h.Stream)
		}
		switch h.Color {
		case "", ColorAuto, ColorNever:
		default:
			return ferrors.NewValidationError("color must be auto or never").WithField(field + ".color").WithValue(h.Color)
		}
	default:
		return ferrors.NewValidationError("unknown handler type").WithField(field + ".type").WithValue(h.Type)
	}
	return nil
}

// Build creates the handlers and attaches them to reg. Handlers referenced
// by several loggers are shared. On failure any handler already opened is
// closed.
func (s *Spec) Build(reg *Registry) (err error) {
	if err := s.Validate(); err != nil {
		return err
	}

	palette := DefaultPalette()
	if s.Palette != "" {
		if palette, err = LoadPaletteFile(s.Palette); err != nil {
			return err
		}
	}

	built := make(map[string]Handler, len(s.Handlers))
	defer func() {
		if err != nil {
			for _, h := range built {
				_ = h.Close()
			}
		}
	}()
	for _, name := range sortedKeys(s.Handlers) {
		h, err := s.Handlers[name].build(name, palette)
		if err != nil {
			return ferrors.Wrapf(err, "building handler %s", name)
		}
		built[name] = h
	}

	for _, ref := range s.Root.Handlers {
		reg.AddHandler(record.RootLogger, built[ref])
	}
	for _, name := range sortedKeys(s.Loggers) {
		ls := s.Loggers[name]
		for _, ref := range ls.Handlers {
			reg.AddHandler(name, built[ref])
		}
		if ls.Propagate != nil {
			reg.SetPropagate(name, *ls.Propagate)
		}
	}
	return nil
}

func (h HandlerSpec) build(name string, palette *Palette) (Handler, error) {
	formatter, err := FormatterFor(h.Format)
	if err != nil {
		return nil, err
	}

	var out Handler
	switch h.Type {
	case TypeFile:
		path := h.Path
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		out, err = NewFileHandler(path, FileOptions{
			Name:      name,
			Formatter: formatter,
			Rotation: logging.RotationConfig{
				MaxSizeMB:  h.MaxSizeMB,
				MaxBackups: h.MaxBackups,
				Compress:   h.Compress,
				Truncate:   h.Mode != "append",
			},
		})
		if err != nil {
			return nil, err
		}
	case TypeStream:
		var w io.Writer = os.Stderr
		if h.Stream == "stdout" {
			w = os.Stdout
		}
		out = NewStreamHandler(w, StreamOptions{Name: name, Formatter: formatter, Color: h.Color, Palette: palette})
	}

	if h.Level != "" {
		level, _ := record.ParseLevel(h.Level)
		out = WithLevel(out, level)
	}
	return out, nil
}

// Configure returns the listener configuration callable for s.
func (s *Spec) Configure() ConfigureFunc {
	return func(reg *Registry) error {
		return s.Build(reg)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
