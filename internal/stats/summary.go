package stats

import (
	"strconv"

	"github.com/DataDog/sketches-go/ddsketch"
)

// DefaultAccuracy is the relative accuracy of hourly percentiles (1%).
const DefaultAccuracy = 0.01

// Summary is a read-side digest of one record's tree.
type Summary struct {
	Total      int64
	Years      map[int]int64
	Months     map[string]int64 // "2024/January"
	Days       map[string]int64 // "2024-01-01"
	ActiveHour int              // hour of day with the most loads, -1 if none
	Hours      int              // number of hour leaves

	// Percentiles of per-hour loads across all leaves; nil when empty.
	P50 *float64
	P90 *float64
	P99 *float64
}

// Summarize walks tree once and builds its Summary.
func Summarize(tree []YearStat) Summary {
	return SummarizeWithAccuracy(tree, DefaultAccuracy)
}

// SummarizeWithAccuracy is Summarize with a custom sketch accuracy.
func SummarizeWithAccuracy(tree []YearStat, accuracy float64) Summary {
	s := Summary{
		Years:      make(map[int]int64),
		Months:     make(map[string]int64),
		Days:       make(map[string]int64),
		ActiveHour: -1,
	}

	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		sketch = nil
	}

	byHour := make(map[int]int64)
	for _, y := range tree {
		s.Years[y.Year] += y.TotalLoads
		for _, m := range y.Months {
			s.Months[monthKey(y.Year, m.Month)] += m.TotalLoads
		}
	}
	Walk(tree, func(_ YearStat, _ MonthStat, _ WeekStat, d DayStat, h HourStat) {
		s.Total += h.TotalLoads
		s.Hours++
		s.Days[d.Date] += h.TotalLoads
		byHour[h.Hour] += h.TotalLoads
		if sketch != nil {
			sketch.Add(float64(h.TotalLoads))
		}
	})

	var best int64 = -1
	for hour := 0; hour < 24; hour++ {
		if n, ok := byHour[hour]; ok && n > best {
			best = n
			s.ActiveHour = hour
		}
	}

	if sketch != nil && s.Hours > 0 {
		p50, err50 := sketch.GetValueAtQuantile(0.50)
		p90, err90 := sketch.GetValueAtQuantile(0.90)
		p99, err99 := sketch.GetValueAtQuantile(0.99)
		if err50 == nil && err90 == nil && err99 == nil {
			s.P50, s.P90, s.P99 = &p50, &p90, &p99
		}
	}

	return s
}

func monthKey(year int, month string) string {
	return strconv.Itoa(year) + "/" + month
}
