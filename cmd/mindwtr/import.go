package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mindwtr/mindwtr/internal/migrate"
	"github.com/mindwtr/mindwtr/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "data",
	Short:   "Merge a mindwtr document or JSONL task export into local data",
	Long: `Merge another copy of the data into the local document.

The input may be a full mindwtr document (including an old mindwtr-sync.json)
or a JSONL file with one task per line. Records are merged the same way a
sync merges them, so importing the same file twice changes nothing.

Examples:
  mindwtr import ~/Dropbox/mindwtr-sync.json
  mindwtr import tasks.jsonl --dry-run
  mindwtr import old.json --backup`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(appOptions{}, runImport),
}

var (
	importDryRun bool
	importBackup bool
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Show what would change without writing")
	importCmd.Flags().BoolVar(&importBackup, "backup", false, "Save a copy of the local document next to the input before writing")
}

func runImport(app *App, cmd *cobra.Command, args []string) error {
	res, err := migrate.ImportFile(cmd.Context(), app.Store, migrate.ImportOptions{
		From:          args[0],
		DryRun:        importDryRun,
		Backup:        importBackup,
		RetentionDays: app.Config.Sync.TombstoneRetentionDays,
	})
	if err != nil {
		return err
	}
	printImport(cmd.OutOrStdout(), res, importDryRun)
	return nil
}

func printImport(w io.Writer, res *migrate.ImportResult, dryRun bool) {
	verb := "Imported"
	if dryRun {
		verb = "Would import"
	}
	fmt.Fprintf(w, "%s %s %s (%s)\n", ui.RenderPass("✓"), verb, ui.Count(res.Records, "record"), res.Format)
	fmt.Fprintf(w, "   Added: %d\n", res.Stats.TotalAdded())
	fmt.Fprintf(w, "   Updated: %d\n", res.Stats.TotalUpdated())
	if n := res.Stats.TotalConflicts(); n > 0 {
		fmt.Fprintf(w, "   %s\n", ui.RenderWarn(fmt.Sprintf("Conflicts: %d (kept local)", n)))
	}
	if res.Purged > 0 {
		fmt.Fprintf(w, "   Purged: %d\n", res.Purged)
	}
	if !res.Changed {
		fmt.Fprintln(w, ui.RenderMuted("   Local data already contains everything in this file."))
	}
	if res.BackupCreated != "" {
		fmt.Fprintf(w, "   Backup: %s\n", res.BackupCreated)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "   %s %s\n", ui.RenderWarn("skipped"), e)
	}
}
