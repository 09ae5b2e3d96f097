package domain

import (
	"fmt"
	"time"
)

// MonthSpan is one half-open month interval [Start, End) in UTC.
type MonthSpan struct {
	Year  int
	Month time.Month
	Start time.Time
	End   time.Time
}

// Key is the canonical span identifier used in cache keys, e.g. "2025-04".
func (s MonthSpan) Key() string {
	return fmt.Sprintf("%04d-%02d", s.Year, int(s.Month))
}

// Contains reports whether t falls inside the span.
func (s MonthSpan) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// TimeWindow is the ordered set of disjoint month spans covered by a build.
type TimeWindow struct {
	Spans []MonthSpan
}

// NewTimeWindow derives the spans for the first `months` months of each year
// from `years` ago through the current year. A span still in progress at the
// current instant is excluded: its contents are not final yet, and the cache
// must only ever hold immutable history. Leap days fall out of time.Date
// normalization.
func NewTimeWindow(years, months int) TimeWindow {
	now := clock.Now().UTC()
	var spans []MonthSpan
	for y := now.Year() - years; y <= now.Year(); y++ {
		for m := 1; m <= months; m++ {
			start := time.Date(y, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
			end := start.AddDate(0, 1, 0)
			if end.After(now) {
				continue
			}
			spans = append(spans, MonthSpan{Year: y, Month: time.Month(m), Start: start, End: end})
		}
	}
	return TimeWindow{Spans: spans}
}

// Contains reports whether t falls inside any span.
func (w TimeWindow) Contains(t time.Time) bool {
	for _, s := range w.Spans {
		if s.Contains(t) {
			return true
		}
	}
	return false
}

// Years lists the distinct calendar years covered, ascending.
func (w TimeWindow) Years() []int {
	var out []int
	for _, s := range w.Spans {
		if len(out) == 0 || out[len(out)-1] != s.Year {
			out = append(out, s.Year)
		}
	}
	return out
}
