package search

import (
	"fmt"
	"time"
)

// Period narrows a search to a named time span relative to "now".
type Period string

const (
	PeriodAll       Period = ""
	PeriodToday     Period = "today"
	PeriodYesterday Period = "yesterday"
	PeriodWeek      Period = "week"
	PeriodMonth     Period = "month"
)

// ParsePeriod validates a wire-level period string.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodAll, PeriodToday, PeriodYesterday, PeriodWeek, PeriodMonth:
		return Period(s), nil
	}
	return PeriodAll, fmt.Errorf("unknown time period %q", s)
}

// Bounds returns the [start, end) span for the period. For PeriodAll the
// second return is false and no filtering applies.
func (p Period) Bounds(now time.Time) (time.Time, time.Time, bool) {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case PeriodToday:
		return midnight, now.Add(time.Second), true
	case PeriodYesterday:
		return midnight.Add(-24 * time.Hour), midnight, true
	case PeriodWeek:
		return now.Add(-7 * 24 * time.Hour), now.Add(time.Second), true
	case PeriodMonth:
		return now.Add(-30 * 24 * time.Hour), now.Add(time.Second), true
	}
	return time.Time{}, time.Time{}, false
}
