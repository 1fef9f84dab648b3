package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/creastat/llmkit/pkg/models"
)

var (
	searchTopK      int
	searchThreshold float64
	searchFilter    map[string]string
	searchJSON      bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the vector store",
	Long: `Embeds the query and returns the most similar stored documents, best first.
Scores are in [0,1]; --threshold drops documents scoring below it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", models.DefaultTopK, "maximum number of results")
	searchCmd.Flags().Float64VarP(&searchThreshold, "threshold", "t", 0, "minimum similarity score")
	searchCmd.Flags().StringToStringVarP(&searchFilter, "filter", "f", nil, "metadata filter as key=value")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := current.vectorStore(ctx)
	if err != nil {
		return err
	}

	docs, err := store.SimilaritySearch(ctx, models.SearchRequest{
		Query:     strings.Join(args, " "),
		TopK:      searchTopK,
		Threshold: searchThreshold,
		Filter:    searchFilter,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		for i := range docs {
			docs[i].Embedding = nil
		}
		data, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		outln(cmd, string(data))
		return nil
	}

	if len(docs) == 0 {
		outln(cmd, "No results found.")
		return nil
	}
	for i, d := range docs {
		outf(cmd, "  [%d] %s (%.3f)\n", i+1, d.ID, d.Score)
		outf(cmd, "      %s\n", d.Text)
	}
	return nil
}
