package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mindwtr/mindwtr/internal/loadtest"
	"github.com/mindwtr/mindwtr/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "advanced",
	Short:   "Measure merge performance on a generated document",
	Long: `Generate a document and a diverged remote copy, then merge them
repeatedly on concurrent workers.

Every merge is checked against the expected added, updated and conflict
counts and must produce the same document as every other merge.

Examples:
  # Default settings (1000 tasks, 30% changed, 8 workers)
  mindwtr bench

  # A larger document with more churn
  mindwtr bench --tasks 20000 --divergence 0.6

  # Output statistics as JSON
  mindwtr bench --format json`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

var (
	benchTasks      int
	benchDivergence float64
	benchWorkers    int
	benchMerges     int
	benchSeed       int64
	benchFormat     string
)

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().IntVar(&benchTasks, "tasks", 1000, "Number of tasks in the generated document")
	benchCmd.Flags().Float64Var(&benchDivergence, "divergence", 0.3, "Fraction of tasks changed on one or both sides (0.0-1.0)")
	benchCmd.Flags().IntVar(&benchWorkers, "workers", 8, "Number of concurrent workers")
	benchCmd.Flags().IntVar(&benchMerges, "merges", 10, "Number of merges per worker")
	benchCmd.Flags().Int64Var(&benchSeed, "seed", 42, "Random seed for the generated changes")
	benchCmd.Flags().StringVar(&benchFormat, "format", formatText, "Output format: text, json or yaml")
}

type benchReport struct {
	Tasks      int                    `json:"tasks" yaml:"tasks"`
	Divergence float64                `json:"divergence" yaml:"divergence"`
	Expected   loadtest.Expected      `json:"expected" yaml:"expected"`
	Latency    *loadtest.LatencyStats `json:"latency" yaml:"latency"`
}

func runBench(cmd *cobra.Command, args []string) error {
	if err := checkFormat(benchFormat); err != nil {
		return err
	}
	if benchWorkers <= 0 || benchMerges <= 0 {
		return fmt.Errorf("--workers and --merges must be positive")
	}

	fixture, err := loadtest.GenerateFixture(benchTasks, benchDivergence, benchSeed)
	if err != nil {
		return err
	}
	if err := fixture.VerifyIdempotent(); err != nil {
		return fmt.Errorf("merge check failed: %w", err)
	}
	stats, err := fixture.RunConcurrentMerges(benchWorkers, benchMerges)
	if err != nil {
		return fmt.Errorf("concurrent merges failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if benchFormat != formatText {
		return writeStructured(out, benchReport{
			Tasks:      benchTasks,
			Divergence: benchDivergence,
			Expected:   fixture.Want,
			Latency:    stats,
		}, benchFormat)
	}

	fmt.Fprintf(out, "%s %s, %d%% changed: %d added, %d updated, %d conflicts per merge\n\n",
		ui.RenderPass("✓"), ui.Count(benchTasks, "task"), int(benchDivergence*100),
		fixture.Want.Added, fixture.Want.Updated, fixture.Want.Conflicts)
	stats.Fprint(out)
	return nil
}
