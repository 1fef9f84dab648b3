package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/creastat/llmkit/pkg/config"
	"github.com/creastat/llmkit/pkg/logger"
)

const envPrefix = "LLMKIT"

var (
	configPath string
	logLevel   string

	// current is built in PersistentPreRunE unless a test installed one
	current *app
)

var rootCmd = &cobra.Command{
	Use:   "llmctl",
	Short: "Chat with LLM providers and manage vector stores",
	Long: `llmctl talks to OpenAI-compatible and Gemini chat providers and keeps
a vector store of embedded documents for similarity search.

Settings come from an optional config file and LLMKIT_* environment variables.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if current == nil {
			return nil
		}
		err := current.close()
		current = nil
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level from settings")
}

func setup(cmd *cobra.Command, args []string) error {
	if current != nil {
		return nil
	}

	settings, err := config.LoadSettings(envPrefix, configPath)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if logLevel != "" {
		settings.LogLevel = logLevel
	}

	current = newApp(settings, logger.New(settings.LogLevel))
	return nil
}

// outf and outln write command results to stdout; logs go to stderr
func outf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

func outln(cmd *cobra.Command, args ...any) {
	fmt.Fprintln(cmd.OutOrStdout(), args...)
}
