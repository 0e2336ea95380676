package main

import (
	"fmt"
	"io"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/mindwtr/mindwtr/internal/schema"
	"github.com/mindwtr/mindwtr/internal/syncer"
	"github.com/mindwtr/mindwtr/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Merge the local document with the active backend",
	Long: `Run one sync cycle against the active backend.

The cycle reads the local and remote documents, merges them record by record
(newest edit wins), writes the result locally and then to the backend, and
records the outcome in the sync history.

With --dry-run the merge is computed but nothing is written; the difference
between the local and the merged document is printed as a unified diff.

Examples:
  mindwtr sync
  mindwtr sync --dry-run
  mindwtr sync --format json`,
	Args: cobra.NoArgs,
	RunE: withApp(appOptions{}, runSync),
}

var (
	syncDryRun  bool
	syncFormat  string
	syncContext int
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Show what would change without writing")
	syncCmd.Flags().StringVar(&syncFormat, "format", formatText, "Output format: text, json or yaml")
	syncCmd.Flags().IntVar(&syncContext, "unified", 3, "Lines of unified diff context for --dry-run")
}

func runSync(app *App, cmd *cobra.Command, args []string) error {
	if err := checkFormat(syncFormat); err != nil {
		return err
	}
	orch, err := app.NewOrchestrator(nil)
	if err != nil {
		return err
	}
	defer orch.Close()

	out := cmd.OutOrStdout()
	if syncDryRun {
		preview, err := orch.DryRun(cmd.Context())
		if err != nil {
			return err
		}
		return printPreview(out, preview, syncFormat, syncContext)
	}

	res := orch.PerformSync(cmd.Context())
	if err := printResult(out, res, syncFormat); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("sync failed")
	}
	return nil
}

func printResult(w io.Writer, res syncer.Result, format string) error {
	if format != formatText {
		return writeStructured(w, res, format)
	}

	if !res.Success {
		step := ""
		if res.Step != "" {
			step = fmt.Sprintf(" (%s)", res.Step)
		}
		fmt.Fprintf(w, "%s Sync failed%s: %s\n", ui.RenderFail("✗"), step, res.Error)
		return nil
	}

	mark := ui.RenderPass("✓")
	if res.Status == syncer.StatusConflict {
		mark = ui.RenderWarn("⚠")
	}
	fmt.Fprintf(w, "%s Sync %s via %s in %v\n", mark, res.Status, ui.RenderAccent(string(res.Backend)), res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	if res.Stats != nil {
		fmt.Fprintf(w, "   Added: %d\n", res.Stats.TotalAdded())
		fmt.Fprintf(w, "   Updated: %d\n", res.Stats.TotalUpdated())
		fmt.Fprintf(w, "   Conflicts: %d\n", res.Stats.TotalConflicts())
		if ids := res.Stats.ConflictIDs(5); len(ids) > 0 {
			fmt.Fprintf(w, "   %s\n", ui.RenderMuted(fmt.Sprintf("conflicting ids: %v", ids)))
		}
	}
	return nil
}

type previewReport struct {
	Backend   string `json:"backend" yaml:"backend"`
	Added     int    `json:"added" yaml:"added"`
	Updated   int    `json:"updated" yaml:"updated"`
	Conflicts int    `json:"conflicts" yaml:"conflicts"`
	Diff      string `json:"diff" yaml:"diff"`
}

func printPreview(w io.Writer, p *syncer.Preview, format string, lines int) error {
	diff, err := documentDiff(p.Local, p.Merged, lines)
	if err != nil {
		return err
	}
	report := previewReport{
		Backend:   string(p.Backend),
		Added:     p.Stats.TotalAdded(),
		Updated:   p.Stats.TotalUpdated(),
		Conflicts: p.Stats.TotalConflicts(),
		Diff:      diff,
	}
	if format != formatText {
		return writeStructured(w, report, format)
	}

	fmt.Fprintf(w, "%s Dry run via %s: %d added, %d updated, %d conflicts\n",
		ui.RenderAccent("→"), report.Backend, report.Added, report.Updated, report.Conflicts)
	if diff == "" {
		fmt.Fprintln(w, ui.RenderMuted("Local document is already up to date."))
		return nil
	}
	fmt.Fprint(w, diff)
	return nil
}

// documentDiff returns a unified diff of two documents' JSON encodings, or
// "" when they are equal.
func documentDiff(local, merged schema.AppData, lines int) (string, error) {
	a, err := schema.Marshal(local)
	if err != nil {
		return "", err
	}
	b, err := schema.Marshal(merged)
	if err != nil {
		return "", err
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: "local",
		ToFile:   "merged",
		Context:  lines,
	})
}
