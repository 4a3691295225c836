package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/config"
)

var (
	configPath string
	outputDir  string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "fabricator",
	Short: "Fabricator - long-form fiction generator",
	Long: `Fabricator turns a premise into a novel, short story or web novel by
outlining chapters, splitting them into scenes and writing each scene with
a language model.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default $XDG_CONFIG_HOME/fabricator/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "Directory that receives project folders")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func Execute() error {
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// init writes the config, so it must not require one
	if cmd == initCmd {
		return nil
	}

	path := configPath
	if path == "" {
		path = config.Path()
	}
	loaded, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if outputDir != "" {
		loaded.Paths.OutputDir = outputDir
	}
	cfg = loaded

	slog.Debug("config loaded",
		"path", path,
		"output_dir", cfg.Paths.OutputDir,
		"providers", cfg.Schemes())
	return nil
}
