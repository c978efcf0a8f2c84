package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"chemsearch/searchservice/internal/search"
)

var suggestCmd = &cobra.Command{
	Use:   "suggest TEXT",
	Short: "List compound names that complete TEXT",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSuggest,
}

func runSuggest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", limit)
	}
	text := strings.Join(args, " ")

	items, err := newLookup().Autocomplete(ctx, text, limit)
	if err != nil {
		return err
	}
	return formatSuggestions(cmd.OutOrStdout(), items)
}

func init() {
	suggestCmd.Flags().Int("limit", search.DefaultSuggestionLimit, "maximum number of suggestions")

	rootCmd.AddCommand(suggestCmd)
}
