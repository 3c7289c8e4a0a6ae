package main

import (
	"os"

	"github.com/fyerfyer/agni-rag/api/middleware"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		middleware.GetLogger().WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agni",
		Short:         "Agni RAG: document ingestion and question answering",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(newServeCmd(), newIngestCmd(), newWorkerCmd())
	return root
}
