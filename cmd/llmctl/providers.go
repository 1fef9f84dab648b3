package main

import (
	"github.com/spf13/cobra"

	"github.com/creastat/llmkit/pkg/providers/factory"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the chat and embedding providers llmctl can open",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range factory.Names() {
			outln(cmd, name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
