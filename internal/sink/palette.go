package sink

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/logfunnel/internal/record"
)

// PaletteFile is a level colour palette loaded from YAML.
type PaletteFile struct {
	// Name is the palette's display name
	Name string `yaml:"name"`
	// Version is the palette file format version (currently "1")
	Version string `yaml:"version"`
	// Levels maps level colours. Unset levels use the default palette.
	Levels PaletteLevels `yaml:"levels"`
}

// PaletteLevels holds one hex colour per level.
type PaletteLevels struct {
	Debug    string `yaml:"debug,omitempty"`
	Info     string `yaml:"info,omitempty"`
	Warning  string `yaml:"warning,omitempty"`
	Error    string `yaml:"error,omitempty"`
	Critical string `yaml:"critical,omitempty"`
}

// Palette maps each level to a foreground colour.
type Palette struct {
	Name   string
	colors map[record.Level]lipgloss.Color
}

// hexColorRegex validates hex color format.
var hexColorRegex = regexp.MustCompile(`^#([0-9A-Fa-f]{3}|[0-9A-Fa-f]{6})$`)

// DefaultPalette returns the built-in level colours.
func DefaultPalette() *Palette {
	return &Palette{
		Name: "default",
		colors: map[record.Level]lipgloss.Color{
			record.LevelDebug:    lipgloss.Color("#9CA3AF"), // muted gray
			record.LevelInfo:     lipgloss.Color("#60A5FA"), // blue
			record.LevelWarning:  lipgloss.Color("#F59E0B"), // amber
			record.LevelError:    lipgloss.Color("#F87171"), // red
			record.LevelCritical: lipgloss.Color("#A78BFA"), // purple
		},
	}
}

// LoadPaletteFile loads a palette from a YAML file.
func LoadPaletteFile(path string) (*Palette, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading palette file: %w", err)
	}
	return ParsePalette(data)
}

// ParsePalette parses and validates palette YAML.
func ParsePalette(data []byte) (*Palette, error) {
	var pf PaletteFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing palette file: %w", err)
	}
	if err := pf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid palette: %w", err)
	}
	return pf.ToPalette(), nil
}

// Validate checks that the palette file is well-formed.
func (p *PaletteFile) Validate() error {
	if p.Name == "" {
		return errors.New("palette name is required")
	}
	if p.Version == "" {
		return errors.New("palette version is required")
	}
	if p.Version != "1" {
		return fmt.Errorf("unsupported palette version: %s (supported: 1)", p.Version)
	}

	for name, color := range p.Levels.byName() {
		if color != "" && !hexColorRegex.MatchString(color) {
			return fmt.Errorf("color '%s' has invalid format: %s (expected #RGB or #RRGGBB)", name, color)
		}
	}
	return nil
}

func (l PaletteLevels) byName() map[string]string {
	return map[string]string{
		"debug":    l.Debug,
		"info":     l.Info,
		"warning":  l.Warning,
		"error":    l.Error,
		"critical": l.Critical,
	}
}

// ToPalette converts the file into a Palette, filling gaps from the default.
func (p *PaletteFile) ToPalette() *Palette {
	base := DefaultPalette()
	return &Palette{
		Name: p.Name,
		colors: map[record.Level]lipgloss.Color{
			record.LevelDebug:    colorOrDefault(p.Levels.Debug, base.colors[record.LevelDebug]),
			record.LevelInfo:     colorOrDefault(p.Levels.Info, base.colors[record.LevelInfo]),
			record.LevelWarning:  colorOrDefault(p.Levels.Warning, base.colors[record.LevelWarning]),
			record.LevelError:    colorOrDefault(p.Levels.Error, base.colors[record.LevelError]),
			record.LevelCritical: colorOrDefault(p.Levels.Critical, base.colors[record.LevelCritical]),
		},
	}
}

// File converts the palette back into its YAML form.
func (p *Palette) File() *PaletteFile {
	return &PaletteFile{
		Name:    p.Name,
		Version: "1",
		Levels: PaletteLevels{
			Debug:    string(p.colors[record.LevelDebug]),
			Info:     string(p.colors[record.LevelInfo]),
			Warning:  string(p.colors[record.LevelWarning]),
			Error:    string(p.colors[record.LevelError]),
			Critical: string(p.colors[record.LevelCritical]),
		},
	}
}

// ExportPalette renders p as palette YAML.
func ExportPalette(p *Palette) ([]byte, error) {
	data, err := yaml.Marshal(p.File())
	if err != nil {
		return nil, fmt.Errorf("marshaling palette: %w", err)
	}
	return data, nil
}

func colorOrDefault(value string, fallback lipgloss.Color) lipgloss.Color {
	if value == "" {
		return fallback
	}
	return lipgloss.Color(value)
}

// Color returns the colour for level.
func (p *Palette) Color(level record.Level) lipgloss.Color {
	return p.colors[level]
}

// Styles builds one style per level for renderer r. Errors and criticals
// are bold.
func (p *Palette) Styles(r *lipgloss.Renderer) map[record.Level]lipgloss.Style {
	styles := make(map[record.Level]lipgloss.Style, len(p.colors))
	for level, color := range p.colors {
		s := r.NewStyle().Foreground(color)
		if level >= record.LevelError {
			s = s.Bold(true)
		}
		styles[level] = s
	}
	return styles
}
