package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gitdeck/gitdeck/internal/config"
	"github.com/gitdeck/gitdeck/internal/ui"
)

var settingsCmd = &cobra.Command{
	Use:     "settings",
	GroupID: "advanced",
	Short:   "Show, export and import the global settings",
}

// formatFor picks the --format flag, else the file extension, else json
func formatFor(cmd *cobra.Command, file string) (config.Format, error) {
	if f, _ := cmd.Flags().GetString("format"); f != "" {
		return config.ParseFormat(f)
	}
	if ext := strings.TrimPrefix(filepath.Ext(file), "."); ext != "" {
		return config.ParseFormat(ext)
	}
	return config.FormatJSON, nil
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		f, err := formatFor(cmd, "")
		if err != nil {
			return err
		}
		return config.Export(os.Stdout, a.settings, f)
	}),
}

var settingsExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the settings to a json, toml or yaml file",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		f, err := formatFor(cmd, args[0])
		if err != nil {
			return err
		}
		out, err := os.Create(args[0])
		if err != nil {
			return err
		}
		if err := config.Export(out, a.settings, f); err != nil {
			_ = out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		fmt.Printf("%s Settings exported to %s\n", ui.RenderPass("✓"), args[0])
		return nil
	}),
}

var settingsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the settings with a json, toml or yaml file",
	Long: `Replace the settings with the contents of a file. Fields missing from
the file take their default values.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		f, err := formatFor(cmd, args[0])
		if err != nil {
			return err
		}
		in, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer in.Close()

		s, err := config.Import(in, f)
		if err != nil {
			return err
		}
		if err := a.saveSettings(cmd.Context(), s); err != nil {
			return err
		}
		fmt.Printf("%s Settings imported from %s\n", ui.RenderPass("✓"), args[0])
		return nil
	}),
}

func init() {
	for _, c := range []*cobra.Command{settingsShowCmd, settingsExportCmd, settingsImportCmd} {
		c.Flags().String("format", "", "json, toml or yaml")
		settingsCmd.AddCommand(c)
	}
	rootCmd.AddCommand(settingsCmd)
}
