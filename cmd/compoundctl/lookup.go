package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"chemsearch/searchservice/internal/search"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup NAME",
	Short: "Resolve a compound name into a full record",
	Long: `Lookup maps NAME to a PubChem compound identifier and fetches the record
details. A detail that fails is reported but does not fail the command; only
an unknown name does.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLookup,
}

func runLookup(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	name := strings.Join(args, " ")
	resolver := search.NewResolver(newLookup())
	resolution, err := resolver.Resolve(ctx, name, search.ResolveHooks{})
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatResolution(cmd.OutOrStdout(), resolution, jsonOutput)
}

func init() {
	lookupCmd.Flags().Bool("json", false, "output the resolution as JSON")

	rootCmd.AddCommand(lookupCmd)
}
