// finsage triages financial questions: classify, delegate, review, audit.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"finsage/internal/config"
	"finsage/internal/orchestrator"
	"finsage/internal/policy"
	"finsage/internal/responder"
	"finsage/internal/search"
	"finsage/internal/store"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "finsage",
	Short: "Triage and answer financial questions with an auditable hand-off pipeline",
	Long: "Finsage classifies financial questions, delegates them to the matching\n" +
		"responder, forces assumption-based answers through critic review, and\n" +
		"records every turn, tool call and hand-off on an audit trail.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildController wires the store, policy engine, generation backend and
// search adapters into a controller. The caller owns the returned store.
func buildController(ctx context.Context, cfg *config.Config) (*orchestrator.Controller, store.Store, error) {
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	gen := responder.NewGenerator(cfg)
	web := search.NewWebSearch(cfg.WebSearchURL)

	return orchestrator.New(db, engine, gen, web, cfg), db, nil
}
