package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	appconfig "github.com/Iron-Ham/logfunnel/internal/config"
	"github.com/Iron-Ham/logfunnel/internal/record"
	"github.com/Iron-Ham/logfunnel/internal/sink"
	"github.com/spf13/cobra"
)

var paletteCmd = &cobra.Command{
	Use:   "palette",
	Short: "Manage console level colours",
	Long: `Manage the level colour palettes used by console handlers.

Palettes are YAML files stored in ~/.config/logfunnel/palettes/. A handler
spec selects one with its top-level "palette" key.

Use 'palette export' to print the built-in palette as a starting point.
Use 'palette check' to validate a palette file.`,
}

var paletteExportCmd = &cobra.Command{
	Use:   "export [output-file]",
	Short: "Export the built-in palette to YAML",
	Long: `Export the built-in palette to YAML format for customization.

If no output file is specified, the YAML is printed to stdout.

Examples:
  logfunnel config palette export              # Print to stdout
  logfunnel config palette export mine.yaml    # Save to file`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPaletteExport,
}

var paletteCheckCmd = &cobra.Command{
	Use:   "check <palette-file>",
	Short: "Validate a palette file and show its colours",
	Args:  cobra.ExactArgs(1),
	RunE:  runPaletteCheck,
}

var palettePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the custom palettes directory path",
	RunE:  runPalettePath,
}

var paletteCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new palette from the built-in one",
	Long: `Create a new palette file in your palettes directory.

Example:
  logfunnel config palette create solarized
  # Creates ~/.config/logfunnel/palettes/solarized.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runPaletteCreate,
}

// palettesDirFunc is replaceable in tests.
var palettesDirFunc = func() string {
	return filepath.Join(appconfig.ConfigDir(), "palettes")
}

// PalettesDir returns the custom palettes directory.
func PalettesDir() string {
	return palettesDirFunc()
}

func init() {
	paletteCmd.AddCommand(paletteExportCmd)
	paletteCmd.AddCommand(paletteCheckCmd)
	paletteCmd.AddCommand(palettePathCmd)
	paletteCmd.AddCommand(paletteCreateCmd)
	configCmd.AddCommand(paletteCmd)
}

func runPaletteExport(cmd *cobra.Command, args []string) error {
	data, err := sink.ExportPalette(sink.DefaultPalette())
	if err != nil {
		return fmt.Errorf("exporting palette: %w", err)
	}

	// If output file specified, write to file
	if len(args) > 0 {
		outputPath := args[0]
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("writing to %s: %w", outputPath, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Palette exported to: %s\n", outputPath)
		return nil
	}

	// Otherwise print to stdout
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runPaletteCheck(cmd *cobra.Command, args []string) error {
	palette, err := sink.LoadPaletteFile(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Palette: %s\n", palette.Name)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Level Colors:")
	for _, level := range record.Levels() {
		fmt.Fprintf(out, "  %-9s %s\n", level.String()+":", palette.Color(level))
	}
	return nil
}

func runPalettePath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	dir := PalettesDir()
	fmt.Fprintln(out, dir)

	// Check if directory exists
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Note: This directory does not exist yet.")
		fmt.Fprintln(out, "It will be created when you add your first palette.")
	}
	return nil
}

func runPaletteCreate(cmd *cobra.Command, args []string) error {
	name := args[0]

	// Validate the name
	if name == "" {
		return fmt.Errorf("palette name cannot be empty")
	}
	if strings.ContainsAny(name, "/\\:*?\"<>|") {
		return fmt.Errorf("palette name contains invalid characters")
	}

	dir := PalettesDir()
	path := filepath.Join(dir, name+".yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("palette '%s' already exists at %s", name, path)
	}

	base := sink.DefaultPalette()
	base.Name = name
	data, err := sink.ExportPalette(base)
	if err != nil {
		return fmt.Errorf("creating palette: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating palettes directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("creating palette: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created new palette: %s\n", path)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Edit this file to customize the level colors, then reference it")
	fmt.Fprintf(out, "from a handler spec:\n  palette: %s\n", path)
	return nil
}
