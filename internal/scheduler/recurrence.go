package scheduler

import (
	"fmt"
	"time"

	"call-reminder-backend/internal/models"
)

// NextAfter advances from by whole pattern units until the result is after now.
// Steps are counted from from, so the cadence stays aligned to it. Monthly steps
// keep the day of month, clamped to the last day of the target month.
func NextAfter(from, now time.Time, p models.RecurringPattern) (time.Time, error) {
	for n := 1; ; n++ {
		next, err := occurrence(from, p, n)
		if err != nil {
			return time.Time{}, err
		}
		if next.After(now) {
			return next, nil
		}
	}
}

// occurrence returns the n-th occurrence after from
func occurrence(from time.Time, p models.RecurringPattern, n int) (time.Time, error) {
	switch p {
	case models.RecurDaily:
		return from.AddDate(0, 0, n), nil
	case models.RecurWeekly:
		return from.AddDate(0, 0, 7*n), nil
	case models.RecurMonthly:
		return addMonthClamped(from, n), nil
	default:
		return time.Time{}, fmt.Errorf("unknown recurring pattern %q", p)
	}
}

func addMonthClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}
