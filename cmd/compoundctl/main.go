// Package main is the entry point for the compoundctl CLI, a one-shot
// client for the compound lookup pipeline.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chemsearch/searchservice/internal/app"
	"chemsearch/searchservice/internal/providers/pubchem"
	"chemsearch/searchservice/internal/search"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "compoundctl",
	Short: "Look up chemical compounds on PubChem",
	Long: `compoundctl resolves compound names against PubChem from the command line.

It runs the same two-stage pipeline as the search service: the name is mapped
to a compound identifier, then description, properties, 3D record and preview
image are fetched in parallel and merged into one record.`,
	SilenceUsage: true,
}

// serviceConfig supplies the defaults shared with the search service.
var serviceConfig = app.LoadConfig()

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./compoundctl.yaml or ~/.config/compoundctl/config.yaml)")
	rootCmd.PersistentFlags().String("base-url", serviceConfig.PubChemBaseURL, "PubChem base URL")
	rootCmd.PersistentFlags().Duration("timeout", serviceConfig.LookupTimeout, "per-request timeout")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")

	_ = viper.BindPFlag("base_url", rootCmd.PersistentFlags().Lookup("base-url"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("compoundctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "compoundctl"))
		}
	}

	viper.SetEnvPrefix("COMPOUNDCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLookup builds the PubChem client from the resolved configuration.
func newLookup() *search.HealthLookup {
	logger := app.NewLogger(viper.GetString("log_level"), "text")
	slog.SetDefault(logger)

	client := pubchem.NewClient(pubchem.Config{
		BaseURL:       viper.GetString("base_url"),
		Client:        &http.Client{Timeout: viper.GetDuration("timeout")},
		UserAgent:     serviceConfig.UserAgent,
		RatePerSecond: serviceConfig.LookupRatePerSec,
		MaxConcurrent: serviceConfig.LookupMaxInFlight,
	})
	return search.NewHealthLookup(client, search.WithExpectedErrors(pubchem.IsNotFound))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
