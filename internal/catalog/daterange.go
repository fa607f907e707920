package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// DateRange is a half-open interval of calendar days [Start, End)
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// String renders the range in the form accepted by ParseDateRange
func (r DateRange) String() string {
	return r.Start.Format(dateLayout) + ".." + r.End.Format(dateLayout)
}

// Days returns the number of days covered by the range
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// IsMonth reports whether the range covers exactly one calendar month
func (r DateRange) IsMonth() bool {
	return r.Start.Day() == 1 && r.End.Equal(r.Start.AddDate(0, 1, 0))
}

// Previous returns the range of equal length immediately before this one.
// Calendar months map to the previous calendar month.
func (r DateRange) Previous() DateRange {
	if r.IsMonth() {
		return DateRange{Start: r.Start.AddDate(0, -1, 0), End: r.Start}
	}
	days := r.Days()
	return DateRange{Start: r.Start.AddDate(0, 0, -days), End: r.Start}
}

// Month returns the month number of the range start
func (r DateRange) Month() int {
	return int(r.Start.Month())
}

// Year returns the year of the range start
func (r DateRange) Year() int {
	return r.Start.Year()
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthRange returns the given calendar month
func MonthRange(year int, month time.Month) DateRange {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return DateRange{Start: start, End: start.AddDate(0, 1, 0)}
}

var lastNDaysPattern = regexp.MustCompile(`^last_(\d{1,3})_days$`)

// ResolvePeriod resolves a relative period keyword against now.
// Weeks start on Monday.
func ResolvePeriod(keyword string, now time.Time) (DateRange, bool) {
	today := day(now)
	switch keyword {
	case "today":
		return DateRange{Start: today, End: today.AddDate(0, 0, 1)}, true
	case "yesterday":
		return DateRange{Start: today.AddDate(0, 0, -1), End: today}, true
	case "this_week":
		start := today.AddDate(0, 0, -weekdayOffset(today))
		return DateRange{Start: start, End: start.AddDate(0, 0, 7)}, true
	case "last_week":
		start := today.AddDate(0, 0, -weekdayOffset(today)-7)
		return DateRange{Start: start, End: start.AddDate(0, 0, 7)}, true
	case "this_month":
		return MonthRange(today.Year(), today.Month()), true
	case "last_month":
		prev := today.AddDate(0, 0, -today.Day()+1).AddDate(0, -1, 0)
		return MonthRange(prev.Year(), prev.Month()), true
	case "this_year":
		start := time.Date(today.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return DateRange{Start: start, End: start.AddDate(1, 0, 0)}, true
	case "last_year":
		start := time.Date(today.Year()-1, 1, 1, 0, 0, 0, 0, time.UTC)
		return DateRange{Start: start, End: start.AddDate(1, 0, 0)}, true
	}

	if m := lastNDaysPattern.FindStringSubmatch(keyword); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 {
			return DateRange{}, false
		}
		return DateRange{Start: today.AddDate(0, 0, -n+1), End: today.AddDate(0, 0, 1)}, true
	}

	return DateRange{}, false
}

func weekdayOffset(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// ParseDateRange accepts a period keyword, a year ("2025"), a month
// ("2025-06"), a single day ("2025-06-15") or an explicit range
// ("2025-06-01..2025-07-01", end exclusive).
func ParseDateRange(value string, now time.Time) (DateRange, error) {
	value = strings.TrimSpace(value)
	if r, ok := ResolvePeriod(value, now); ok {
		return r, nil
	}

	if start, end, ok := strings.Cut(value, ".."); ok {
		s, err := time.Parse(dateLayout, strings.TrimSpace(start))
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid range start %q", start)
		}
		e, err := time.Parse(dateLayout, strings.TrimSpace(end))
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid range end %q", end)
		}
		if !e.After(s) {
			return DateRange{}, fmt.Errorf("range end must be after start")
		}
		return DateRange{Start: s, End: e}, nil
	}

	if t, err := time.Parse(dateLayout, value); err == nil {
		return DateRange{Start: t, End: t.AddDate(0, 0, 1)}, nil
	}
	if t, err := time.Parse("2006-01", value); err == nil {
		return MonthRange(t.Year(), t.Month()), nil
	}
	if t, err := time.Parse("2006", value); err == nil {
		return DateRange{Start: t, End: t.AddDate(1, 0, 0)}, nil
	}

	return DateRange{}, fmt.Errorf("unrecognized date range %q", value)
}

// ParseDate accepts "today", "yesterday" or a YYYY-MM-DD date
func ParseDate(value string, now time.Time) (time.Time, error) {
	switch strings.TrimSpace(value) {
	case "today":
		return day(now), nil
	case "yesterday":
		return day(now).AddDate(0, 0, -1), nil
	}
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return t, nil
}
