package main

import (
	"github.com/spf13/cobra"

	"github.com/creastat/llmkit/pkg/ingest"
	"github.com/creastat/llmkit/pkg/vectorstore"
)

var (
	ingestAsync bool
	deleteAsync bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Embed and store documents from a YAML file",
	Long: `Loads documents listed under a "documents:" key of a YAML file, embeds
those without an embedding and upserts them. With --async the documents are
queued for the ingest worker instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id...]",
	Short: "Delete documents by ID",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDelete,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestAsync, "async", false, "queue documents for the ingest worker")
	deleteCmd.Flags().BoolVar(&deleteAsync, "async", false, "queue the deletion for the ingest worker")
	rootCmd.AddCommand(ingestCmd, deleteCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	docs, err := vectorstore.LoadDocumentsFile(args[0])
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		outln(cmd, "No documents found.")
		return nil
	}

	if ingestAsync {
		enq := ingest.NewEnqueuer(current.settings.Ingest, current.logger)
		defer enq.Close()

		ids, err := enq.AddDocuments(ctx, docs)
		if err != nil {
			return err
		}
		outf(cmd, "Queued %d documents.\n", len(ids))
		return nil
	}

	store, err := current.vectorStore(ctx)
	if err != nil {
		return err
	}
	if err := store.Add(ctx, docs); err != nil {
		return err
	}
	outf(cmd, "Added %d documents.\n", len(docs))
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if deleteAsync {
		enq := ingest.NewEnqueuer(current.settings.Ingest, current.logger)
		defer enq.Close()

		if err := enq.DeleteDocuments(ctx, args); err != nil {
			return err
		}
		outf(cmd, "Queued deletion of %d documents.\n", len(args))
		return nil
	}

	// Deleting needs no embedder, so open the backend alone
	backend, err := current.storageBackend(ctx)
	if err != nil {
		return err
	}
	if err := backend.Delete(ctx, args); err != nil {
		return err
	}
	outf(cmd, "Deleted %d documents.\n", len(args))
	return nil
}
