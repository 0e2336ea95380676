// Package loadtest generates diverging copies of a document and measures
// how the merge engine handles them.
//
// A Fixture simulates two devices that started from the same document and
// then edited it independently: some records changed on one side, some were
// deleted, some were created on the other device and some were edited on
// both at the same instant. The expected merge counts are recorded while the
// fixture is built so a run can be checked against them.
package loadtest

import (
	"fmt"
	"io"
	"math/rand"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/mindwtr/mindwtr/internal/canonical"
	"github.com/mindwtr/mindwtr/internal/merge"
	"github.com/mindwtr/mindwtr/internal/schema"
)

// Expected holds the merge counts a fixture is built to produce.
type Expected struct {
	Added     int `json:"added" yaml:"added"`
	Updated   int `json:"updated" yaml:"updated"`
	Conflicts int `json:"conflicts" yaml:"conflicts"`
}

// Fixture is a local and a remote copy of the same document.
type Fixture struct {
	Local      schema.AppData
	Remote     schema.AppData
	Records    int
	Divergence float64
	Want       Expected
}

// LatencyStats captures merge timings.
type LatencyStats struct {
	Min         time.Duration   `json:"min" yaml:"min"`
	Max         time.Duration   `json:"max" yaml:"max"`
	Mean        time.Duration   `json:"mean" yaml:"mean"`
	P50         time.Duration   `json:"p50" yaml:"p50"`
	P95         time.Duration   `json:"p95" yaml:"p95"`
	P99         time.Duration   `json:"p99" yaml:"p99"`
	TotalMerges int             `json:"totalMerges" yaml:"totalMerges"`
	Durations   []time.Duration `json:"-" yaml:"-"`
}

// GenerateFixture builds a document with numTasks tasks and a remote copy in
// which roughly divergence of them changed. The same seed yields the same
// fixture.
//
// Changed records are spread evenly over four kinds:
//   - edited later on the remote
//   - edited later locally
//   - deleted later on the remote
//   - edited on both sides with the same timestamp (a conflict)
//
// A further numTasks*divergence/4 tasks exist only on the remote.
func GenerateFixture(numTasks int, divergence float64, seed int64) (*Fixture, error) {
	if numTasks <= 0 {
		return nil, fmt.Errorf("numTasks must be positive")
	}
	if divergence < 0 || divergence > 1 {
		return nil, fmt.Errorf("divergence must be between 0.0 and 1.0")
	}

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	local := schema.Empty()
	for i := 0; i < numTasks; i++ {
		local.Tasks = append(local.Tasks, newTask(fmt.Sprintf("test-%05d", i), i, base.Add(time.Duration(i)*time.Minute)))
	}
	remote := local.Clone()

	f := &Fixture{Records: numTasks, Divergence: divergence}
	rng := rand.New(rand.NewSource(seed))
	later := base.Add(time.Duration(numTasks)*time.Minute + time.Hour)

	for _, i := range rng.Perm(numTasks)[:int(float64(numTasks)*divergence)] {
		l, r := local.Tasks[i], remote.Tasks[i]
		switch rng.Intn(4) {
		case 0:
			r["title"] = r.Title() + " (edited remotely)"
			r.Touch(later)
			f.Want.Updated++
		case 1:
			l["title"] = l.Title() + " (edited locally)"
			l.Touch(later)
			f.Want.Updated++
		case 2:
			schema.MarkDeleted(r, later)
			f.Want.Updated++
		case 3:
			l["title"] = l.Title() + " (local)"
			r["title"] = r.Title() + " (remote)"
			l.Touch(later)
			r.Touch(later)
			f.Want.Conflicts++
		}
	}

	extra := int(float64(numTasks) * divergence / 4)
	for i := 0; i < extra; i++ {
		remote.Tasks = append(remote.Tasks, newTask(fmt.Sprintf("remote-%05d", i), numTasks+i, later))
		f.Want.Added++
	}

	f.Local, f.Remote = local, remote
	return f, nil
}

func newTask(id string, n int, at time.Time) schema.Record {
	ts := schema.FormatTime(at)
	return schema.Record{
		"id":        id,
		"title":     fmt.Sprintf("Task %d", n),
		"status":    schema.StatusNext,
		"tags":      []any{"loadtest", fmt.Sprintf("batch-%d", n/100)},
		"contexts":  []any{},
		"createdAt": ts,
		"updatedAt": ts,
	}
}

// Check merges the fixture once and compares the counts with Want.
func (f *Fixture) Check() (merge.Result, error) {
	res := merge.Merge(f.Local.Clone(), f.Remote.Clone())
	got := Expected{
		Added:     res.Stats.TotalAdded(),
		Updated:   res.Stats.TotalUpdated(),
		Conflicts: res.Stats.TotalConflicts(),
	}
	if got != f.Want {
		return res, fmt.Errorf("merge counts %+v, want %+v", got, f.Want)
	}
	return res, nil
}

// VerifyIdempotent checks that merging the remote copy into an already
// merged document yields the same document.
func (f *Fixture) VerifyIdempotent() error {
	first, err := f.Check()
	if err != nil {
		return err
	}
	again := merge.Merge(first.Data.Clone(), f.Remote.Clone())
	if !canonical.Equal(first.Data, again.Data) {
		return fmt.Errorf("second merge produced a different document")
	}
	return nil
}

// RunConcurrentMerges merges the fixture mergesPerWorker times on each of
// numWorkers goroutines and returns the timings. Every merge must produce
// the same document.
func (f *Fixture) RunConcurrentMerges(numWorkers, mergesPerWorker int) (*LatencyStats, error) {
	if numWorkers <= 0 || mergesPerWorker <= 0 {
		return nil, fmt.Errorf("numWorkers and mergesPerWorker must be positive")
	}
	first, err := f.Check()
	if err != nil {
		return nil, err
	}
	want, err := canonical.HashValue(first.Data)
	if err != nil {
		return nil, err
	}

	p := pool.NewWithResults[[]time.Duration]().WithErrors().WithMaxGoroutines(numWorkers)
	for w := 0; w < numWorkers; w++ {
		worker := w
		p.Go(func() ([]time.Duration, error) {
			durations := make([]time.Duration, 0, mergesPerWorker)
			for j := 0; j < mergesPerWorker; j++ {
				local, remote := f.Local.Clone(), f.Remote.Clone()

				start := time.Now()
				res := merge.Merge(local, remote)
				durations = append(durations, time.Since(start))

				got, err := canonical.HashValue(res.Data)
				if err != nil {
					return nil, fmt.Errorf("worker %d merge %d: %w", worker, j, err)
				}
				if got != want {
					return nil, fmt.Errorf("worker %d merge %d: document hash %s, want %s", worker, j, got, want)
				}
			}
			return durations, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, err
	}
	var all []time.Duration
	for _, d := range results {
		all = append(all, d...)
	}
	return computeLatencyStats(all), nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Mean:        sum / time.Duration(len(durations)),
		P50:         sorted[len(sorted)*50/100],
		P95:         sorted[len(sorted)*95/100],
		P99:         sorted[len(sorted)*99/100],
		TotalMerges: len(durations),
		Durations:   sorted,
	}
}

// Fprint writes the statistics as an aligned block.
func (s *LatencyStats) Fprint(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Merges:  %d\n", s.TotalMerges)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
