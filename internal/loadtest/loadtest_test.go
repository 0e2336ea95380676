package loadtest

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mindwtr/mindwtr/internal/canonical"
)

// TestGenerateFixture verifies the fixture shape and the expected counts.
func TestGenerateFixture(t *testing.T) {
	f, err := GenerateFixture(200, 0.4, 42)
	if err != nil {
		t.Fatalf("GenerateFixture() failed: %v", err)
	}

	if len(f.Local.Tasks) != 200 {
		t.Errorf("local tasks = %d, want 200", len(f.Local.Tasks))
	}
	if len(f.Remote.Tasks) != 220 {
		t.Errorf("remote tasks = %d, want 220", len(f.Remote.Tasks))
	}
	if got := f.Want.Updated + f.Want.Conflicts; got != 80 {
		t.Errorf("changed records = %d, want 80", got)
	}
	if f.Want.Added != 20 {
		t.Errorf("Want.Added = %d, want 20", f.Want.Added)
	}

	if _, err := f.Check(); err != nil {
		t.Errorf("Check() failed: %v", err)
	}
	if err := f.VerifyIdempotent(); err != nil {
		t.Errorf("VerifyIdempotent() failed: %v", err)
	}
}

// TestGenerateFixture_Deterministic verifies the seed fixes the fixture.
func TestGenerateFixture_Deterministic(t *testing.T) {
	a, _ := GenerateFixture(50, 0.5, 7)
	b, _ := GenerateFixture(50, 0.5, 7)
	if !canonical.Equal(a.Remote, b.Remote) || a.Want != b.Want {
		t.Error("fixtures with the same seed differ")
	}
}

// TestGenerateFixture_Invalid verifies argument checks.
func TestGenerateFixture_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		tasks      int
		divergence float64
	}{
		{"no tasks", 0, 0.3},
		{"negative divergence", 10, -0.1},
		{"divergence above one", 10, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := GenerateFixture(tt.tasks, tt.divergence, 1); err == nil {
				t.Error("GenerateFixture() succeeded, want error")
			}
		})
	}
}

// TestRunConcurrentMerges verifies concurrent merges agree and are timed.
func TestRunConcurrentMerges(t *testing.T) {
	f, err := GenerateFixture(100, 0.3, 42)
	if err != nil {
		t.Fatalf("GenerateFixture() failed: %v", err)
	}

	stats, err := f.RunConcurrentMerges(8, 5)
	if err != nil {
		t.Fatalf("RunConcurrentMerges() failed: %v", err)
	}
	if stats.TotalMerges != 40 {
		t.Errorf("TotalMerges = %d, want 40", stats.TotalMerges)
	}
	if stats.Min > stats.P50 || stats.P50 > stats.P99 || stats.P99 > stats.Max {
		t.Errorf("percentiles out of order: %+v", stats)
	}

	var buf bytes.Buffer
	stats.Fprint(&buf)
	if !strings.Contains(buf.String(), "Total Merges:  40") {
		t.Errorf("Fprint() = %q", buf.String())
	}

	if _, err := f.RunConcurrentMerges(0, 1); err == nil {
		t.Error("RunConcurrentMerges(0, 1) succeeded, want error")
	}
}

// TestComputeLatencyStats verifies percentile selection.
func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}
	s := computeLatencyStats(durations)
	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond || s.P95 != 96*time.Millisecond || s.P99 != 100*time.Millisecond {
		t.Errorf("P50/P95/P99 = %v/%v/%v", s.P50, s.P95, s.P99)
	}
	if s.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", s.Mean)
	}
	if empty := computeLatencyStats(nil); empty.TotalMerges != 0 {
		t.Errorf("empty TotalMerges = %d", empty.TotalMerges)
	}
}
