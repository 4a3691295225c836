package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Write the default configuration to the config path. API keys are stored
as ${ENV} placeholders and resolved from the environment or .env at load time.`,
	RunE: runInit,
}

var (
	initForce    bool
	initProvider string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config")
	initCmd.Flags().StringVar(&initProvider, "provider", "anthropic", "Default provider: anthropic, openai, openrouter or ollama")
}

var defaultModels = map[string]string{
	"anthropic":  "anthropic://claude-sonnet-4-5",
	"openai":     "openai://gpt-4.1",
	"openrouter": "openrouter://anthropic/claude-sonnet-4.5",
	"ollama":     "ollama://llama3.1",
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.Path()
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	model, ok := defaultModels[initProvider]
	if !ok {
		return fmt.Errorf("unknown provider %q", initProvider)
	}

	c := config.DefaultConfig()
	c.AI.Providers = map[string]config.ProviderConfig{initProvider: {}}
	c.AI.Models = map[string]string{"default": model}
	if outputDir != "" {
		c.Paths.OutputDir = outputDir
	}

	if err := config.Save(c, path); err != nil {
		return err
	}
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.LorebookDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	fmt.Fprintf(cmd.OutOrStdout(), "Lorebooks are read from %s\n", c.Paths.LorebookDir)
	return nil
}
