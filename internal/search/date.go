package search

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// dateLayouts are the accepted endpoint granularities, finest first. step
// advances a start of unit to the start of the next one.
var dateLayouts = []struct {
	layout string
	step   func(time.Time) time.Time
}{
	{"2006-01-02", func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }},
	{"2006-01", func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }},
	{"2006", func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }},
}

// minDateYear is the earliest year a date endpoint may name. The zero
// time.Time marks an open bound, so year 1 cannot be a closed one.
const minDateYear = 1900

// dateUnit returns the first and last instant of the day, month or year
// named by s, in UTC.
func dateUnit(s string) (start, end time.Time, err error) {
	for _, l := range dateLayouts {
		if len(s) != len(l.layout) {
			continue
		}
		t, err := time.ParseInLocation(l.layout, s, time.UTC)
		if err != nil {
			continue
		}
		if t.Year() < minDateYear {
			return time.Time{}, time.Time{}, fmt.Errorf("date %q is before %d", s, minDateYear)
		}
		return t, l.step(t).Add(-time.Nanosecond), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("malformed date %q, want YYYY, YYYY-MM or YYYY-MM-DD", s)
}

// parseDateRange parses D, A..B, A.. or ..B. A lower bound means the start
// of its unit and an upper bound the end of its unit, so date:2024-01..2024-02
// covers all of January and February.
func parseDateRange(v string) (from, to time.Time, err error) {
	lo, hi, isRange := strings.Cut(v, "..")
	if !isRange {
		return dateUnit(v)
	}
	if lo == "" && hi == "" {
		return time.Time{}, time.Time{}, errors.New("date range needs at least one endpoint")
	}
	if lo != "" {
		if from, _, err = dateUnit(lo); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if hi != "" {
		if _, to, err = dateUnit(hi); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("date range %q ends before it starts", v)
	}
	return from, to, nil
}
