// Package stats implements the per-record load counter tree
// (Year -> Month -> Week -> Day -> Hour).
//
// Every level keeps totalLoads plus its children in first-seen order.
// Keys are unique per level and the tree is never sorted.
package stats

import (
	"fmt"

	"github.com/xtxerr/viewtally/internal/calendar"
	"github.com/xtxerr/viewtally/internal/errors"
)

// YearStat is the root level of the tree.
type YearStat struct {
	Year       int         `json:"year"`
	TotalLoads int64       `json:"totalLoads"`
	Months     []MonthStat `json:"months"`
}

// MonthStat is keyed by canonical English month name.
type MonthStat struct {
	Month      string     `json:"month"`
	TotalLoads int64      `json:"totalLoads"`
	Weeks      []WeekStat `json:"weeks"`
}

// WeekStat is keyed by day-of-year week number (1..53).
type WeekStat struct {
	WeekNumber int       `json:"weekNumber"`
	TotalLoads int64     `json:"totalLoads"`
	Days       []DayStat `json:"days"`
}

// DayStat is keyed by YYYY-MM-DD in the configured zone.
type DayStat struct {
	Date       string     `json:"date"`
	TotalLoads int64      `json:"totalLoads"`
	Hours      []HourStat `json:"hours"`
}

// HourStat is a leaf keyed by hour of day (0..23).
type HourStat struct {
	Hour       int   `json:"hour"`
	TotalLoads int64 `json:"totalLoads"`
}

// Apply records exactly one load event at bucket b and returns the updated
// tree. The input is not modified.
//
// Missing levels along the path are appended zero-initialized, then the
// leaf and every ancestor are incremented by one.
func Apply(tree []YearStat, b calendar.Bucket) []YearStat {
	out := Clone(tree)
	y, m, w, d, h := locate(&out, b)

	out[y].TotalLoads++
	out[y].Months[m].TotalLoads++
	out[y].Months[m].Weeks[w].TotalLoads++
	out[y].Months[m].Weeks[w].Days[d].TotalLoads++
	out[y].Months[m].Weeks[w].Days[d].Hours[h].TotalLoads++

	return out
}

// Seed returns a fresh tree holding one zero-valued path for bucket b.
// New history records start with this tree.
func Seed(b calendar.Bucket) []YearStat {
	var tree []YearStat
	locate(&tree, b)
	return tree
}

// locate finds or creates every node on b's path and returns their indexes.
func locate(tree *[]YearStat, b calendar.Bucket) (y, m, w, d, h int) {
	y = indexOf(len(*tree), func(i int) bool { return (*tree)[i].Year == b.Year })
	if y < 0 {
		*tree = append(*tree, YearStat{Year: b.Year, Months: []MonthStat{}})
		y = len(*tree) - 1
	}
	ys := &(*tree)[y]

	month := b.MonthName()
	m = indexOf(len(ys.Months), func(i int) bool { return ys.Months[i].Month == month })
	if m < 0 {
		ys.Months = append(ys.Months, MonthStat{Month: month, Weeks: []WeekStat{}})
		m = len(ys.Months) - 1
	}
	ms := &ys.Months[m]

	w = indexOf(len(ms.Weeks), func(i int) bool { return ms.Weeks[i].WeekNumber == b.Week })
	if w < 0 {
		ms.Weeks = append(ms.Weeks, WeekStat{WeekNumber: b.Week, Days: []DayStat{}})
		w = len(ms.Weeks) - 1
	}
	ws := &ms.Weeks[w]

	d = indexOf(len(ws.Days), func(i int) bool { return ws.Days[i].Date == b.Day })
	if d < 0 {
		ws.Days = append(ws.Days, DayStat{Date: b.Day, Hours: []HourStat{}})
		d = len(ws.Days) - 1
	}
	ds := &ws.Days[d]

	h = indexOf(len(ds.Hours), func(i int) bool { return ds.Hours[i].Hour == b.Hour })
	if h < 0 {
		ds.Hours = append(ds.Hours, HourStat{Hour: b.Hour})
		h = len(ds.Hours) - 1
	}
	return y, m, w, d, h
}

func indexOf(n int, match func(int) bool) int {
	for i := 0; i < n; i++ {
		if match(i) {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of tree.
func Clone(tree []YearStat) []YearStat {
	if tree == nil {
		return nil
	}
	out := make([]YearStat, len(tree))
	for i, y := range tree {
		out[i] = y
		out[i].Months = make([]MonthStat, len(y.Months))
		for j, m := range y.Months {
			out[i].Months[j] = m
			out[i].Months[j].Weeks = make([]WeekStat, len(m.Weeks))
			for k, w := range m.Weeks {
				out[i].Months[j].Weeks[k] = w
				out[i].Months[j].Weeks[k].Days = make([]DayStat, len(w.Days))
				for l, d := range w.Days {
					out[i].Months[j].Weeks[k].Days[l] = d
					out[i].Months[j].Weeks[k].Days[l].Hours = append([]HourStat(nil), d.Hours...)
				}
			}
		}
	}
	return out
}

// Total returns the sum of all hour leaves.
func Total(tree []YearStat) int64 {
	var total int64
	Walk(tree, func(_ YearStat, _ MonthStat, _ WeekStat, _ DayStat, h HourStat) {
		total += h.TotalLoads
	})
	return total
}

// Walk calls fn for every hour leaf with its ancestors, in tree order.
func Walk(tree []YearStat, fn func(YearStat, MonthStat, WeekStat, DayStat, HourStat)) {
	for _, y := range tree {
		for _, m := range y.Months {
			for _, w := range m.Weeks {
				for _, d := range w.Days {
					for _, h := range d.Hours {
						fn(y, m, w, d, h)
					}
				}
			}
		}
	}
}

// Verify checks that keys are unique per level and that every node's
// totalLoads equals the sum of its children.
func Verify(tree []YearStat) error {
	years := make(map[int]struct{}, len(tree))
	for _, y := range tree {
		if _, dup := years[y.Year]; dup {
			return fmt.Errorf("duplicate year %d: %w", y.Year, errors.ErrCorruptTree)
		}
		years[y.Year] = struct{}{}

		var ySum int64
		months := make(map[string]struct{}, len(y.Months))
		for _, m := range y.Months {
			if _, dup := months[m.Month]; dup {
				return fmt.Errorf("duplicate month %d/%s: %w", y.Year, m.Month, errors.ErrCorruptTree)
			}
			months[m.Month] = struct{}{}

			var mSum int64
			weeks := make(map[int]struct{}, len(m.Weeks))
			for _, w := range m.Weeks {
				if _, dup := weeks[w.WeekNumber]; dup {
					return fmt.Errorf("duplicate week %d/%s/%d: %w", y.Year, m.Month, w.WeekNumber, errors.ErrCorruptTree)
				}
				weeks[w.WeekNumber] = struct{}{}

				var wSum int64
				days := make(map[string]struct{}, len(w.Days))
				for _, d := range w.Days {
					if _, dup := days[d.Date]; dup {
						return fmt.Errorf("duplicate day %s: %w", d.Date, errors.ErrCorruptTree)
					}
					days[d.Date] = struct{}{}

					var dSum int64
					hours := make(map[int]struct{}, len(d.Hours))
					for _, h := range d.Hours {
						if _, dup := hours[h.Hour]; dup {
							return fmt.Errorf("duplicate hour %s %d: %w", d.Date, h.Hour, errors.ErrCorruptTree)
						}
						hours[h.Hour] = struct{}{}
						if h.TotalLoads < 0 {
							return fmt.Errorf("negative hour %s %d: %w", d.Date, h.Hour, errors.ErrCorruptTree)
						}
						dSum += h.TotalLoads
					}
					if dSum != d.TotalLoads {
						return fmt.Errorf("day %s total %d != %d: %w", d.Date, d.TotalLoads, dSum, errors.ErrCorruptTree)
					}
					wSum += d.TotalLoads
				}
				if wSum != w.TotalLoads {
					return fmt.Errorf("week %d total %d != %d: %w", w.WeekNumber, w.TotalLoads, wSum, errors.ErrCorruptTree)
				}
				mSum += w.TotalLoads
			}
			if mSum != m.TotalLoads {
				return fmt.Errorf("month %s total %d != %d: %w", m.Month, m.TotalLoads, mSum, errors.ErrCorruptTree)
			}
			ySum += m.TotalLoads
		}
		if ySum != y.TotalLoads {
			return fmt.Errorf("year %d total %d != %d: %w", y.Year, y.TotalLoads, ySum, errors.ErrCorruptTree)
		}
	}
	return nil
}
