package task

import (
	"fmt"
	"time"
)

// ParseDeadline interprets a voice-transcribed date/time string relative
// to now, following the original implementation's date-normalization
// rule: a bare date (no time-of-day) that falls exactly one calendar day
// ahead of now is stamped with now's time-of-day rather than noon, so a
// "tomorrow" request lands near the moment it was spoken. Any other bare
// date defaults to noon local. A string carrying an explicit time is
// used as-is.
func ParseDeadline(raw string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, now.Location()); err == nil {
		return t, nil
	}

	bareDate, err := time.ParseInLocation("2006-01-02", raw, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized deadline %q", raw)
	}

	daysDiff := daysBetween(now, bareDate)
	if daysDiff == 1 {
		return time.Date(bareDate.Year(), bareDate.Month(), bareDate.Day(),
			now.Hour(), now.Minute(), now.Second(), 0, now.Location()), nil
	}

	return time.Date(bareDate.Year(), bareDate.Month(), bareDate.Day(),
		12, 0, 0, 0, now.Location()), nil
}

// daysBetween returns the whole-day difference between the calendar
// dates of from and to, ignoring time-of-day.
func daysBetween(from, to time.Time) int {
	fromDate := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	toDate := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, to.Location())
	return int(toDate.Sub(fromDate).Hours() / 24)
}

// ShiftGranularity selects the UI navigation granularity for a deadline
// shift of the given absolute size in days, per the original
// implementation's thresholds.
type ShiftGranularity string

const (
	GranularityDaily   ShiftGranularity = "daily"
	GranularityWeekly  ShiftGranularity = "weekly"
	GranularityMonthly ShiftGranularity = "monthly"
)

// SignificantShift reports whether a deadline change of absDays days
// warrants a client navigation command, and if so which granularity.
func SignificantShift(absDays int) (ShiftGranularity, bool) {
	if absDays < 3 {
		return "", false
	}
	switch {
	case absDays >= 25:
		return GranularityMonthly, true
	case absDays >= 6:
		return GranularityWeekly, true
	default:
		return GranularityDaily, true
	}
}
