package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mindwtr/mindwtr/internal/cloudserver"
	"github.com/mindwtr/mindwtr/internal/logging"
)

var cloudCmd = &cobra.Command{
	Use:     "cloud",
	GroupID: "advanced",
	Short:   "Self-hosted cloud sync endpoint",
}

var cloudServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the cloud sync API",
	Long: `Serve the cloud sync API used by the cloud backend.

Each bearer token gets its own document, stored in the data directory under
the SHA-256 of the token. Put the server behind HTTPS; clients refuse plain
HTTP except on localhost.

Endpoints:
  GET  /health
  GET  /v1/data
  PUT  /v1/data

Examples:
  mindwtr cloud serve
  mindwtr cloud serve --listen 127.0.0.1:9000 --data-dir /srv/mindwtr`,
	Args: cobra.NoArgs,
	RunE: runCloudServe,
}

var (
	cloudListen  string
	cloudDataDir string
)

func init() {
	rootCmd.AddCommand(cloudCmd)
	cloudCmd.AddCommand(cloudServeCmd)
	cloudServeCmd.Flags().StringVar(&cloudListen, "listen", "", "Address to listen on (default from config, :8787)")
	cloudServeCmd.Flags().StringVar(&cloudDataDir, "data-dir", "", "Directory for stored documents (default <data-dir>/cloud)")
}

func runCloudServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cloudListen != "" {
		cfg.Cloud.Listen = cloudListen
	}
	if cloudDataDir != "" {
		cfg.Cloud.DataDir = cloudDataDir
	}

	logs, err := logging.Open(logging.Options{Path: cfg.LogPath()})
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer logs.Close()

	server, err := cloudserver.New(&cloudserver.Config{
		Listen:  cfg.Cloud.Listen,
		DataDir: cfg.CloudDataDir(),
		Logger:  logs.Logger("cloud"),
	})
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cloud sync server listening on %s\n", cfg.Cloud.Listen)
	fmt.Fprintf(out, "Documents: %s\n", server.DataDir())
	fmt.Fprintln(out, "Press Ctrl+C to stop...")
	return server.Run(ctx)
}
