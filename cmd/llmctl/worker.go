package main

import (
	"github.com/spf13/cobra"

	"github.com/creastat/llmkit/pkg/ingest"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued ingest tasks",
	Long: `Consumes add and delete tasks queued with --async and applies them to
the configured vector store. Stops on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := current.vectorStore(ctx)
	if err != nil {
		return err
	}

	log := current.logger.With("component", "ingest")
	srv := ingest.NewServer(current.settings.Ingest, log)
	return ingest.Run(ctx, srv, ingest.NewHandler(store, log))
}
