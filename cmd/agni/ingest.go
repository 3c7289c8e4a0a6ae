package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/fyerfyer/agni-rag/internal/ingest"
	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a single document and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			path := args[0]
			res, ingestErr := a.orchestrator.Ingest(cmd.Context(), ingest.Request{
				Filename: filepath.Base(path),
				Path:     path,
			})

			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			if err := out.Encode(res); err != nil {
				return err
			}
			if ingestErr != nil {
				return fmt.Errorf("ingestion %s: %w", res.Status, ingestErr)
			}
			return nil
		},
	}
}
