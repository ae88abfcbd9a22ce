package syncer

import (
	"time"

	"github.com/briefcast-io/calsync/internal/provider"
)

// DefaultRange returns the rolling sync range: monthsBack full months before
// now through the end of the month monthsForward ahead.
func DefaultRange(now time.Time, monthsBack, monthsForward int) (time.Time, time.Time) {
	now = now.UTC()
	start := monthStart(now).AddDate(0, -monthsBack, 0)
	end := monthStart(now).AddDate(0, monthsForward+1, 0)
	return start, end
}

// MonthWindows partitions [start, end) into month-sized windows, oldest
// first. The first and last windows are clipped to the requested bounds, so
// mid-month inputs stay mid-month.
func MonthWindows(start, end time.Time) []provider.Window {
	start = start.UTC()
	end = end.UTC()
	if !start.Before(end) {
		return nil
	}

	var windows []provider.Window
	cursor := start
	for cursor.Before(end) {
		next := monthStart(cursor).AddDate(0, 1, 0)
		if next.After(end) {
			next = end
		}
		windows = append(windows, provider.Window{Start: cursor, End: next})
		cursor = next
	}
	return windows
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
