// Command mindwtr syncs a local mindwtr data file with a file, WebDAV or
// cloud backend and keeps it in sync in the background.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mindwtr/mindwtr/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "mindwtr",
	Short: "Offline-first sync for mindwtr data",
	Long: `mindwtr keeps a local task document in sync with a shared copy.

The local document is merged record by record with the copy on the active
backend (a shared file, a WebDAV server or a mindwtr cloud server). Every
device keeps working offline; the newest edit of each record wins.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	dataDirFlag string
	storeFlag   string
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory (overrides MINDWTR_DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Local store: file or sqlite (overrides MINDWTR_STORE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
