package search

import (
	"strings"
	"time"
)

// ResolveDateRange turns a natural-language expression into concrete
// [from, to] bounds (both inclusive) against loc. Unrecognised expressions
// return ok=false so the caller can fall back to an explicit from/to, per
// spec.md §4.8 ("resolved against process timezone").
func ResolveDateRange(expr string, now time.Time, loc *time.Location) (from, to time.Time, ok bool) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	startOfDay := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
	endOfDay := func(t time.Time) time.Time {
		return startOfDay(t).Add(24*time.Hour - time.Nanosecond)
	}

	switch strings.ToLower(strings.TrimSpace(expr)) {
	case "today":
		return startOfDay(now), endOfDay(now), true
	case "yesterday":
		y := now.AddDate(0, 0, -1)
		return startOfDay(y), endOfDay(y), true
	case "this week":
		weekday := int(now.Weekday())
		start := startOfDay(now).AddDate(0, 0, -weekday)
		return start, endOfDay(now), true
	case "last week":
		weekday := int(now.Weekday())
		start := startOfDay(now).AddDate(0, 0, -weekday-7)
		end := start.AddDate(0, 0, 6)
		return start, endOfDay(end), true
	case "this month":
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return start, endOfDay(now), true
	case "last month":
		firstOfThisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		firstOfLastMonth := firstOfThisMonth.AddDate(0, -1, 0)
		lastOfLastMonth := firstOfThisMonth.Add(-time.Nanosecond)
		return firstOfLastMonth, lastOfLastMonth, true
	case "last 7 days":
		return startOfDay(now.AddDate(0, 0, -6)), endOfDay(now), true
	case "last 30 days":
		return startOfDay(now.AddDate(0, 0, -29)), endOfDay(now), true
	default:
		return time.Time{}, time.Time{}, false
	}
}
