package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mindwtr/mindwtr/internal/schema"
	"github.com/mindwtr/mindwtr/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "sync",
	Short:   "List recent sync runs",
	Long: `List recent sync runs, newest first.

--since accepts an RFC 3339 timestamp, a Go duration ("36h") or a natural
language expression ("yesterday", "last monday", "3 days ago").

Examples:
  mindwtr history
  mindwtr history --since yesterday
  mindwtr history --limit 5 --format json`,
	Args: cobra.NoArgs,
	RunE: withApp(appOptions{}, runHistory),
}

var (
	historySince  string
	historyLimit  int
	historyFormat string
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historySince, "since", "", "Only show runs after this time")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Show at most this many runs (0 for all)")
	historyCmd.Flags().StringVar(&historyFormat, "format", formatText, "Output format: text, json or yaml")
}

func runHistory(app *App, cmd *cobra.Command, args []string) error {
	if err := checkFormat(historyFormat); err != nil {
		return err
	}
	now := time.Now()
	var since time.Time
	if historySince != "" {
		var err error
		if since, err = parseSince(historySince, now); err != nil {
			return err
		}
	}

	entries := filterHistory(app.Store.Snapshot().Settings.History(), since)
	if historyLimit > 0 && len(entries) > historyLimit {
		entries = entries[:historyLimit]
	}
	return printHistory(cmd.OutOrStdout(), entries, historyFormat, now)
}

// parseSince resolves a --since value relative to now.
func parseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(text); err == nil && d > 0 {
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: not a time, duration or date expression", text)
	}
	return r.Time, nil
}

// filterHistory keeps entries at or after since. A zero since keeps all.
func filterHistory(entries []schema.SyncHistoryEntry, since time.Time) []schema.SyncHistoryEntry {
	if since.IsZero() {
		return entries
	}
	out := make([]schema.SyncHistoryEntry, 0, len(entries))
	for _, e := range entries {
		at, ok := schema.ParseTime(e.At)
		if !ok || at.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func printHistory(w io.Writer, entries []schema.SyncHistoryEntry, format string, now time.Time) error {
	if format != formatText {
		if entries == nil {
			entries = []schema.SyncHistoryEntry{}
		}
		return writeStructured(w, entries, format)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("No sync runs recorded."))
		return nil
	}

	for _, e := range entries {
		ago := e.At
		if at, ok := schema.ParseTime(e.At); ok {
			ago = ui.RelativeTime(at, now)
		}
		line := fmt.Sprintf("%-8s %-7s %s", ui.RenderStatus(e.Status), e.Backend, ui.RenderMuted(ago))
		if e.Conflicts > 0 {
			line += "  " + ui.RenderWarn(ui.Count(e.Conflicts, "conflict"))
		}
		if e.MaxClockSkewMs > 0 {
			line += "  " + ui.RenderMuted(fmt.Sprintf("skew %v", time.Duration(e.MaxClockSkewMs)*time.Millisecond))
		}
		if e.Error != "" {
			line += "  " + e.Error
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
