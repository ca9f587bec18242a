package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"finsage/internal/config"
	"finsage/internal/orchestrator"
)

var batchFlags struct {
	outputDir string
	workers   int
}

var batchCmd = &cobra.Command{
	Use:   "batch <question-set.yaml>",
	Short: "Run a question set and write each run's audit trail to disk",
	Long: `Runs every question in a YAML question set and writes one audit trail
JSON file per run into the output directory.

The question set format:

  questions:
    - id: q1
      text: "What is Acme Corp's market debt to equity ratio?"
      context: fixtures/acme_financials.txt
      entity: Acme Corp

Exits non-zero if any run ends FAILED.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	f := batchCmd.Flags()
	f.StringVarP(&batchFlags.outputDir, "output", "o", "finsage-out", "Directory for audit trail JSON files")
	f.IntVar(&batchFlags.workers, "workers", 4, "Concurrent runs")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	qs, err := orchestrator.LoadQuestionSet(args[0])
	if err != nil {
		return err
	}

	ctrl, db, err := buildController(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := os.MkdirAll(batchFlags.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	results, err := ctrl.RunBatch(cmd.Context(), qs, batchFlags.workers)
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		data, err := json.MarshalIndent(res.Trail, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode audit trail: %w", err)
		}
		path := filepath.Join(batchFlags.outputDir, res.Trail.Run.RunID+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		if res.Failed {
			failed++
		}
	}

	log.Printf("batch complete: %d runs, %d failed, trails in %s", len(results), failed, batchFlags.outputDir)
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(results))
	}
	return nil
}
