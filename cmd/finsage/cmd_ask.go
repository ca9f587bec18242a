package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"finsage/internal/config"
	"finsage/internal/domain"
)

var askFlags struct {
	contextRef string
	entity     string
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Run a single question and print its audit trail",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	f := askCmd.Flags()
	f.StringVarP(&askFlags.contextRef, "context", "c", "", "Path to the context document (required)")
	f.StringVar(&askFlags.entity, "entity", "", "Entity the question concerns (default: derived from context)")
	askCmd.MarkFlagRequired("context")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	ctrl, db, err := buildController(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	trail, err := ctrl.Execute(cmd.Context(), domain.Question{
		Text:       args[0],
		ContextRef: askFlags.contextRef,
		Entity:     askFlags.entity,
	})
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(trail, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode audit trail: %w", err)
	}
	fmt.Println(string(data))

	if trail.Run.Status == domain.RunStatusFailed {
		return fmt.Errorf("run %s failed", trail.Run.RunID)
	}
	return nil
}
