// Package holiday answers whether a local calendar date is a Chinese
// workday. Statutory holidays and the shifted working weekends around them
// come from the annual State Council announcements; the tables below must be
// extended each year when the next announcement is published.
package holiday

import (
	"time"

	"github.com/everping/everping/internal/models"
)

// Oracle reports workday/holiday status for a local calendar date.
type Oracle interface {
	// IsWorkday reports whether date is a working day. ok is false when the
	// date falls outside table coverage, in which case callers must treat
	// the oracle as unavailable.
	IsWorkday(date time.Time) (workday bool, ok bool)
}

// Allowed applies a trigger's holiday policy for the given date. An
// unavailable oracle always allows.
func Allowed(oracle Oracle, policy models.HolidayPolicy, date time.Time) bool {
	if policy == models.HolidayPolicyNone || policy == "" {
		return true
	}
	workday, ok := oracle.IsWorkday(date)
	if !ok {
		return true
	}
	switch policy {
	case models.HolidayPolicyCNWorkdayOnly:
		return workday
	case models.HolidayPolicySkipCNHoliday:
		// Weekends count as holidays here, same as rest days.
		return workday
	case models.HolidayPolicySkipCNWorkday:
		return !workday
	default:
		return true
	}
}

// Calendar is the table-backed Oracle for the Chinese public calendar.
type Calendar struct{}

var _ Oracle = (*Calendar)(nil)

// IsWorkday implements Oracle. A date is a workday when it is a weekday
// that is not a statutory holiday, or a weekend shifted into a working day.
func (c *Calendar) IsWorkday(date time.Time) (bool, bool) {
	year := date.Year()
	if _, covered := holidays[year]; !covered {
		return false, false
	}
	key := date.Format(time.DateOnly)
	if holidays[year][key] {
		return false, true
	}
	if workdays[year][key] {
		return true, true
	}
	wd := date.Weekday()
	return wd != time.Saturday && wd != time.Sunday, true
}

// holidays lists statutory rest days per year.
var holidays = map[int]map[string]bool{
	2024: dateSet(
		"2024-01-01",
		"2024-02-10", "2024-02-11", "2024-02-12", "2024-02-13", "2024-02-14", "2024-02-15", "2024-02-16", "2024-02-17",
		"2024-04-04", "2024-04-05", "2024-04-06",
		"2024-05-01", "2024-05-02", "2024-05-03", "2024-05-04", "2024-05-05",
		"2024-06-08", "2024-06-09", "2024-06-10",
		"2024-09-15", "2024-09-16", "2024-09-17",
		"2024-10-01", "2024-10-02", "2024-10-03", "2024-10-04", "2024-10-05", "2024-10-06", "2024-10-07",
	),
	2025: dateSet(
		"2025-01-01",
		"2025-01-28", "2025-01-29", "2025-01-30", "2025-01-31", "2025-02-01", "2025-02-02", "2025-02-03", "2025-02-04",
		"2025-04-04", "2025-04-05", "2025-04-06",
		"2025-05-01", "2025-05-02", "2025-05-03", "2025-05-04", "2025-05-05",
		"2025-05-31", "2025-06-01", "2025-06-02",
		"2025-10-01", "2025-10-02", "2025-10-03", "2025-10-04", "2025-10-05", "2025-10-06", "2025-10-07", "2025-10-08",
	),
	2026: dateSet(
		"2026-01-01", "2026-01-02",
		"2026-02-16", "2026-02-17", "2026-02-18", "2026-02-19", "2026-02-20", "2026-02-21", "2026-02-22",
		"2026-04-04", "2026-04-05", "2026-04-06",
		"2026-05-01", "2026-05-02", "2026-05-03", "2026-05-04", "2026-05-05",
		"2026-06-19", "2026-06-20", "2026-06-21",
		"2026-09-25", "2026-09-26", "2026-09-27",
		"2026-10-01", "2026-10-02", "2026-10-03", "2026-10-04", "2026-10-05", "2026-10-06", "2026-10-07",
	),
}

// workdays lists weekend dates shifted into working days per year.
var workdays = map[int]map[string]bool{
	2024: dateSet(
		"2024-02-04", "2024-02-18",
		"2024-04-07", "2024-04-28",
		"2024-05-11",
		"2024-09-14", "2024-09-29",
		"2024-10-12",
	),
	2025: dateSet(
		"2025-01-26", "2025-02-08",
		"2025-04-27",
		"2025-09-28", "2025-10-11",
	),
	2026: dateSet(
		"2026-02-14", "2026-02-28",
		"2026-05-09",
		"2026-09-20", "2026-10-10",
	),
}

func dateSet(dates ...string) map[string]bool {
	set := make(map[string]bool, len(dates))
	for _, d := range dates {
		set[d] = true
	}
	return set
}
