package retention

import (
	"fmt"
	"sort"
	"time"

	"github.com/de-stash/dump2s3/cmd/internal/constants"
)

const (
	dailyCount   = 7
	weeklyCount  = 4
	monthlyCount = 3
)

// weeklyDays are the fixed day-of-month anchors of the weekly tier. Weekly
// backups align to these calendar days instead of stepping back in rolling
// 7-day increments, so two neighboring weekly dates can lie fewer than seven
// days apart when the walk starts mid-month.
var weeklyDays = map[int]bool{22: true, 15: true, 8: true, 1: true}

// Set contains the calendar dates whose backup folders survive a retention
// run. Membership is keyed on the formatted date so it cannot drift from the
// folder names found in the bucket listing.
type Set struct {
	dates map[string]bool
}

func newSet() *Set {
	return &Set{dates: map[string]bool{}}
}

func (s *Set) add(dates ...time.Time) {
	for _, d := range dates {
		s.dates[d.Format(constants.DateFormat)] = true
	}
}

// Contains reports whether the given folder date (YYYY-MM-DD) is kept.
func (s *Set) Contains(date string) bool {
	return s.dates[date]
}

// Dates returns all kept dates in ascending order.
func (s *Set) Dates() []string {
	dates := make([]string, 0, len(s.dates))
	for d := range s.dates {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Len returns the number of kept dates. The three tiers are computed
// independently and may overlap, so this is data dependent and must not be
// asserted against a constant.
func (s *Set) Len() int {
	return len(s.dates)
}

// Parse parses a reference date in YYYY-MM-DD form.
func Parse(date string) (time.Time, error) {
	t, err := time.Parse(constants.DateFormat, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid reference date %q: %w", date, err)
	}
	return t, nil
}

// Daily returns the reference date and the six days before it.
func Daily(today time.Time) []time.Time {
	dates := make([]time.Time, 0, dailyCount)
	for i := range dailyCount {
		dates = append(dates, today.AddDate(0, 0, -i))
	}
	return dates
}

// Weekly walks backward day by day from the day before the reference date
// and collects the first four dates whose day of month is a weekly anchor.
func Weekly(today time.Time) []time.Time {
	dates := make([]time.Time, 0, weeklyCount)
	for current := today.AddDate(0, 0, -1); len(dates) < weeklyCount; current = current.AddDate(0, 0, -1) {
		if weeklyDays[current.Day()] {
			dates = append(dates, current)
		}
	}
	return dates
}

// Monthly returns the first of the month of the day before the given anchor
// and the firsts of the two months before that. The month decrement is
// explicit calendar arithmetic with a year wrap at January, raw day-count
// subtraction would drift on months of unequal length.
func Monthly(anchor time.Time) []time.Time {
	start := anchor.AddDate(0, 0, -1)
	year, month := start.Year(), start.Month()

	dates := make([]time.Time, 0, monthlyCount)
	for range monthlyCount {
		dates = append(dates, time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
		if month == time.January {
			month = time.December
			year--
		} else {
			month--
		}
	}
	return dates
}

// ComputeKeepDates derives the set of calendar dates whose backups must
// survive, given the current date: seven daily backups, four weekly
// checkpoints and three monthly checkpoints. The monthly tier anchors on the
// oldest weekly date. Overlapping tier dates collapse in the set.
func ComputeKeepDates(today time.Time) *Set {
	daily := Daily(today)
	weekly := Weekly(today)
	monthly := Monthly(weekly[len(weekly)-1])

	s := newSet()
	s.add(daily...)
	s.add(weekly...)
	s.add(monthly...)
	return s
}
