// Package recurrence expands a recurrence rule into concrete calendar dates.
// All arithmetic is done on UTC midnights; dates travel as YYYY-MM-DD strings
// and times of day as HH:MM:SS, combined timezone-naively in UTC.
package recurrence

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"slotbook/internal/domain"
)

// MaxOccurrences caps expansion to guard against pathological rules.
const MaxOccurrences = 2000

const dateLayout = "2006-01-02"

var (
	ErrStartAfterUntil    = errors.New("start date must be before or equal to until date")
	ErrTooManyOccurrences = errors.New("too many occurrences generated")
	ErrInvalidDate        = errors.New("invalid date, use YYYY-MM-DD")
	ErrInvalidTime        = errors.New("invalid time format, use HH:MM or HH:MM:SS")
	ErrInvalidFrequency   = errors.New("invalid frequency")
	ErrNoOccurrences      = errors.New("no occurrences generated for the provided recurrence settings")
)

type Rule struct {
	Frequency     domain.Frequency
	IntervalCount int
	Weekdays      []int // 0=Sunday..6=Saturday; empty means "start date's weekday" for weekly rules
	StartDate     string
	UntilDate     string
}

var (
	timeHMS = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`)
	timeHM  = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

// NormalizeTime accepts HH:MM or HH:MM:SS and returns HH:MM:SS.
func NormalizeTime(s string) (string, error) {
	switch {
	case timeHMS.MatchString(s):
		return s, nil
	case timeHM.MatchString(s):
		return s + ":00", nil
	default:
		return "", ErrInvalidTime
	}
}

// NormalizeWeekdays maps 7 to 0 (Sunday), drops out-of-range values,
// deduplicates and sorts.
func NormalizeWeekdays(weekdays []int) []int {
	seen := make(map[int]bool, len(weekdays))
	out := make([]int, 0, len(weekdays))
	for _, v := range weekdays {
		if v == 7 {
			v = 0
		}
		if v < 0 || v > 6 || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// ParseDate parses a YYYY-MM-DD string into a UTC midnight instant.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// CombineUTC joins a calendar date with a time of day into one UTC instant.
// The series timezone field is deliberately not consulted here; occurrence
// wall-clock times are stored as literal UTC combinations.
func CombineUTC(dateOnly, timeOfDay string) (time.Time, error) {
	norm, err := NormalizeTime(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(dateLayout+" 15:04:05", dateOnly+" "+norm, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, dateOnly)
	}
	return t, nil
}

// Expand walks the rule's date range day by day and returns the ordered list
// of occurrence dates as YYYY-MM-DD strings.
func Expand(r Rule) ([]string, error) {
	start, err := ParseDate(r.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := ParseDate(r.UntilDate)
	if err != nil {
		return nil, err
	}
	if start.After(end) {
		return nil, ErrStartAfterUntil
	}

	interval := r.IntervalCount
	if interval < 1 {
		interval = 1
	}
	weekdays := NormalizeWeekdays(r.Weekdays)

	var out []string
	for cursor := start; !cursor.After(end); cursor = cursor.AddDate(0, 0, 1) {
		switch r.Frequency {
		case domain.FrequencyDaily:
			days := int(cursor.Sub(start).Hours() / 24)
			if days%interval != 0 {
				continue
			}
		case domain.FrequencyWeekly:
			active := weekdays
			if len(active) == 0 {
				active = []int{int(start.Weekday())}
			}
			if !containsInt(active, int(cursor.Weekday())) {
				continue
			}
			weeks := int(cursor.Sub(start).Hours() / 24 / 7)
			if weeks%interval != 0 {
				continue
			}
		case domain.FrequencyMonthly:
			if cursor.Day() != start.Day() {
				continue
			}
			if monthDiff(start, cursor)%interval != 0 {
				continue
			}
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidFrequency, r.Frequency)
		}

		out = append(out, cursor.Format(dateLayout))
		if len(out) > MaxOccurrences {
			return nil, fmt.Errorf("%w (over %d), reduce the date range or increase the interval",
				ErrTooManyOccurrences, MaxOccurrences)
		}
	}

	return out, nil
}

func monthDiff(start, current time.Time) int {
	return (current.Year()-start.Year())*12 + int(current.Month()) - int(start.Month())
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
