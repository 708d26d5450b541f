package main

import (
	"fmt"
	"log/slog"

	"github.com/phylogo/treesearch/internal/server"
	"github.com/phylogo/treesearch/internal/store"
	"github.com/spf13/cobra"
)

var (
	serveAddr    string
	serveDataDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts an HTTP server exposing the search engine as a job API. Jobs are
created with POST /api/v1/jobs and progress is streamed over SSE from
/api/v1/jobs/{id}/stream. Checkpoints are persisted under the data directory
so interrupted jobs can be resumed.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	checkpointStore, err := store.NewFSStore(serveDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	srv := server.NewServer(serveAddr, checkpointStore)

	slog.Info("Starting server", "addr", serveAddr, "data_dir", serveDataDir)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
