package calendar

import (
	"testing"
	"time"

	"github.com/xtxerr/viewtally/internal/errors"
)

func TestResolve_UTC(t *testing.T) {
	r := MustResolver("UTC")

	got := r.Resolve(time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC))
	want := Bucket{Year: 2024, Month: time.January, Week: 1, Day: "2024-01-01", Hour: 0}

	if got != want {
		t.Errorf("Resolve = %+v, want %+v", got, want)
	}
	if got.MonthName() != "January" {
		t.Errorf("MonthName = %q, want January", got.MonthName())
	}
}

func TestResolve_ZoneShiftsDay(t *testing.T) {
	r := MustResolver("Asia/Jerusalem")

	// 22:30 UTC on Dec 31 is already Jan 1 in Jerusalem (UTC+2 in winter).
	got := r.Resolve(time.Date(2023, 12, 31, 22, 30, 0, 0, time.UTC))

	if got.Year != 2024 || got.Month != time.January || got.Day != "2024-01-01" || got.Hour != 0 {
		t.Errorf("Resolve = %+v, want 2024-01-01 hour 0", got)
	}
	if got.Week != 1 {
		t.Errorf("Week = %d, want 1", got.Week)
	}
}

func TestWeekOfYear(t *testing.T) {
	tests := []struct {
		name string
		date time.Time
		want int
	}{
		{"jan 1", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), 1},
		{"jan 7", time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC), 1},
		{"jan 8", time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC), 2},
		{"dec 30 non-leap", time.Date(2025, 12, 30, 0, 0, 0, 0, time.UTC), 52},
		{"dec 31 non-leap", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), 53},
		{"dec 31 leap", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), 53},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WeekOfYear(tt.date); got != tt.want {
				t.Errorf("WeekOfYear(%s) = %d, want %d", tt.date.Format(DayLayout), got, tt.want)
			}
		})
	}
}

func TestNewResolver_UnknownZone(t *testing.T) {
	_, err := NewResolver("Mars/Olympus_Mons")
	if !errors.Is(err, errors.ErrUnknownZone) {
		t.Errorf("expected ErrUnknownZone, got %v", err)
	}

	r, err := NewResolver("")
	if err != nil {
		t.Fatalf("empty zone: %v", err)
	}
	if r.Location() != time.UTC {
		t.Errorf("empty zone should resolve to UTC, got %v", r.Location())
	}
}
