package main

import (
	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Run the sync daemon with a live WebSocket dashboard",
	Long: `Run the sync daemon and broadcast its progress over a WebSocket.

Messages:
- sync_started: a sync run began
- sync_complete: a run finished, with added/updated/conflict counts
- sync_error: a run failed, with the step that failed
- external_merge: another program edited the data file and it was merged
- status: sent once on connect

Example usage:
  mindwtr dashboard                   # Start on the configured port (8080)
  mindwtr dashboard --port 9000       # Start on custom port

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	Args: cobra.NoArgs,
	RunE: withApp(appOptions{LongRunning: true}, func(app *App, cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		return runWatch(app, cmd, true, port)
	}),
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 0, "Port to listen on (default from config)")
	rootCmd.AddCommand(dashboardCmd)
}
