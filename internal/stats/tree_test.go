package stats

import (
	"testing"
	"time"

	"github.com/xtxerr/viewtally/internal/calendar"
	"github.com/xtxerr/viewtally/internal/errors"
)

var utc = calendar.MustResolver("UTC")

func bucketAt(y int, m time.Month, d, h int) calendar.Bucket {
	return utc.Resolve(time.Date(y, m, d, h, 15, 0, 0, time.UTC))
}

func TestApply_RepeatedIncrements(t *testing.T) {
	b := bucketAt(2024, time.March, 5, 14)

	for _, n := range []int{1, 2, 7, 100} {
		var tree []YearStat
		for i := 0; i < n; i++ {
			tree = Apply(tree, b)
		}

		if len(tree) != 1 {
			t.Fatalf("n=%d: expected 1 year, got %d", n, len(tree))
		}
		y := tree[0]
		m := y.Months[0]
		w := m.Weeks[0]
		d := w.Days[0]
		h := d.Hours[0]

		for name, got := range map[string]int64{
			"year": y.TotalLoads, "month": m.TotalLoads, "week": w.TotalLoads,
			"day": d.TotalLoads, "hour": h.TotalLoads,
		} {
			if got != int64(n) {
				t.Errorf("n=%d: %s totalLoads = %d, want %d", n, name, got, n)
			}
		}
		if err := Verify(tree); err != nil {
			t.Errorf("n=%d: Verify: %v", n, err)
		}
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	b := bucketAt(2024, time.March, 5, 14)
	before := Apply(nil, b)

	after := Apply(before, b)

	if before[0].TotalLoads != 1 {
		t.Errorf("input mutated: year total = %d, want 1", before[0].TotalLoads)
	}
	if before[0].Months[0].Weeks[0].Days[0].Hours[0].TotalLoads != 1 {
		t.Error("input hour leaf mutated")
	}
	if after[0].TotalLoads != 2 {
		t.Errorf("result year total = %d, want 2", after[0].TotalLoads)
	}
}

func TestApply_PreservesFirstSeenOrder(t *testing.T) {
	var tree []YearStat
	// Later instants first: order must follow insertion, not chronology.
	tree = Apply(tree, bucketAt(2025, time.February, 10, 9))
	tree = Apply(tree, bucketAt(2024, time.December, 31, 23))
	tree = Apply(tree, bucketAt(2025, time.January, 2, 3))
	tree = Apply(tree, bucketAt(2025, time.February, 10, 1))

	if tree[0].Year != 2025 || tree[1].Year != 2024 {
		t.Fatalf("years out of insertion order: %d, %d", tree[0].Year, tree[1].Year)
	}
	months := tree[0].Months
	if months[0].Month != "February" || months[1].Month != "January" {
		t.Errorf("months out of insertion order: %s, %s", months[0].Month, months[1].Month)
	}
	hours := months[0].Weeks[0].Days[0].Hours
	if len(hours) != 2 || hours[0].Hour != 9 || hours[1].Hour != 1 {
		t.Errorf("hours out of insertion order: %+v", hours)
	}
	if got := Total(tree); got != 4 {
		t.Errorf("Total = %d, want 4", got)
	}
	if err := Verify(tree); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestSeed(t *testing.T) {
	b := bucketAt(2024, time.January, 1, 0)
	tree := Seed(b)

	if len(tree) != 1 {
		t.Fatalf("expected one year, got %d", len(tree))
	}
	hours := tree[0].Months[0].Weeks[0].Days[0].Hours
	if len(hours) != 1 || hours[0].Hour != 0 || hours[0].TotalLoads != 0 {
		t.Errorf("unexpected seeded leaf: %+v", hours)
	}
	if Total(tree) != 0 {
		t.Errorf("seed total = %d, want 0", Total(tree))
	}

	// An increment at the seeded bucket reuses the seeded path.
	tree = Apply(tree, b)
	if len(tree[0].Months[0].Weeks[0].Days[0].Hours) != 1 {
		t.Error("increment at seeded bucket created a duplicate leaf")
	}
}

func TestVerify_DetectsCorruption(t *testing.T) {
	tree := Apply(nil, bucketAt(2024, time.May, 1, 8))
	tree[0].Months[0].TotalLoads = 5

	if err := Verify(tree); !errors.Is(err, errors.ErrCorruptTree) {
		t.Errorf("expected ErrCorruptTree, got %v", err)
	}

	dup := Apply(nil, bucketAt(2024, time.May, 1, 8))
	dup = append(dup, dup[0])
	if err := Verify(dup); !errors.Is(err, errors.ErrCorruptTree) {
		t.Errorf("expected duplicate year to be rejected, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	var tree []YearStat
	for i := 0; i < 3; i++ {
		tree = Apply(tree, bucketAt(2024, time.June, 1, 10))
	}
	tree = Apply(tree, bucketAt(2024, time.June, 2, 11))

	s := Summarize(tree)

	if s.Total != 4 {
		t.Errorf("Total = %d, want 4", s.Total)
	}
	if s.Years[2024] != 4 {
		t.Errorf("Years[2024] = %d, want 4", s.Years[2024])
	}
	if s.Months["2024/June"] != 4 {
		t.Errorf("Months[2024/June] = %d, want 4", s.Months["2024/June"])
	}
	if s.Days["2024-06-01"] != 3 || s.Days["2024-06-02"] != 1 {
		t.Errorf("Days = %v", s.Days)
	}
	if s.ActiveHour != 10 {
		t.Errorf("ActiveHour = %d, want 10", s.ActiveHour)
	}
	if s.P50 == nil || s.P99 == nil {
		t.Fatal("expected percentiles")
	}
	if *s.P50 < 0.99 || *s.P99 > 3.03 || *s.P50 > *s.P99 {
		t.Errorf("percentiles out of range: p50=%f p99=%f", *s.P50, *s.P99)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	if s.Total != 0 || s.ActiveHour != -1 || s.P50 != nil {
		t.Errorf("unexpected empty summary: %+v", s)
	}
}
