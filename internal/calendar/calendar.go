// Package calendar converts instants into the calendar buckets used as stat
// tree keys: year, month, week, day and hour in one fixed time zone.
//
// The week number is day-of-year based (ceil(yearDay/7)) and never spills
// into an adjoining year. It is not ISO-8601. Existing stat keys depend on
// this scheme, so it must not be "corrected".
package calendar

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/xtxerr/viewtally/internal/errors"
)

// DayLayout is the layout of Bucket.Day keys.
const DayLayout = "2006-01-02"

// Bucket identifies one leaf path in the stat tree.
type Bucket struct {
	Year  int
	Month time.Month
	Week  int
	Day   string
	Hour  int
}

// MonthName returns the canonical English month name used as month key.
func (b Bucket) MonthName() string {
	return b.Month.String()
}

// String returns a compact representation for logs.
func (b Bucket) String() string {
	return fmt.Sprintf("%d/%s/w%d/%s/%02dh", b.Year, b.MonthName(), b.Week, b.Day, b.Hour)
}

// Resolver resolves instants in a single fixed location.
//
// One Resolver is shared across a whole aggregation pass so that every
// record in the pass lands in the same bucket.
type Resolver struct {
	loc *time.Location
}

// NewResolver loads the named zone. An empty name means UTC.
func NewResolver(zone string) (*Resolver, error) {
	if zone == "" {
		return &Resolver{loc: time.UTC}, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%q: %w: %v", zone, errors.ErrUnknownZone, err)
	}
	return &Resolver{loc: loc}, nil
}

// MustResolver is NewResolver for static zone names. It panics on error.
func MustResolver(zone string) *Resolver {
	r, err := NewResolver(zone)
	if err != nil {
		panic(err)
	}
	return r
}

// Location returns the resolver's zone.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Resolve converts t into its bucket in the resolver's zone.
func (r *Resolver) Resolve(t time.Time) Bucket {
	return Resolve(t, r.loc)
}

// Resolve converts t into its bucket in loc.
func Resolve(t time.Time, loc *time.Location) Bucket {
	z := t.In(loc)
	return Bucket{
		Year:  z.Year(),
		Month: z.Month(),
		Week:  WeekOfYear(z),
		Day:   z.Format(DayLayout),
		Hour:  z.Hour(),
	}
}

// WeekOfYear returns ceil(yearDay/7) for t in its own location.
// Jan 1-7 is week 1; Dec 31 of a leap year is week 53.
func WeekOfYear(t time.Time) int {
	return (t.YearDay() + 6) / 7
}
