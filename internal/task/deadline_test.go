package task

import (
	"testing"
	"time"
)

func TestParseDeadline_TomorrowInheritsTimeOfDay(t *testing.T) {
	now := time.Date(2025, 11, 16, 9, 30, 15, 0, time.UTC)
	got, err := ParseDeadline("2025-11-17", now)
	if err != nil {
		t.Fatalf("ParseDeadline: %v", err)
	}
	if got.Hour() != 9 || got.Minute() != 30 || got.Second() != 15 {
		t.Errorf("got %v, want time-of-day inherited from now (09:30:15)", got)
	}
	if got.Day() != 17 {
		t.Errorf("got day %d, want 17", got.Day())
	}
}

func TestParseDeadline_OtherBareDateDefaultsToNoon(t *testing.T) {
	now := time.Date(2025, 11, 16, 9, 30, 15, 0, time.UTC)
	got, err := ParseDeadline("2025-11-25", now)
	if err != nil {
		t.Fatalf("ParseDeadline: %v", err)
	}
	if got.Hour() != 12 || got.Minute() != 0 {
		t.Errorf("got %v, want noon", got)
	}
}

func TestParseDeadline_ExplicitTimePassesThrough(t *testing.T) {
	now := time.Date(2025, 11, 16, 9, 0, 0, 0, time.UTC)
	got, err := ParseDeadline("2025-11-17T10:00:00", now)
	if err != nil {
		t.Fatalf("ParseDeadline: %v", err)
	}
	if got.Hour() != 10 {
		t.Errorf("got hour %d, want 10 (explicit time preserved)", got.Hour())
	}
}

func TestParseDeadline_RejectsGarbage(t *testing.T) {
	if _, err := ParseDeadline("not a date", time.Now()); err == nil {
		t.Error("expected error for unparseable deadline")
	}
}

func TestSignificantShift_Thresholds(t *testing.T) {
	cases := []struct {
		days int
		want ShiftGranularity
		ok   bool
	}{
		{1, "", false},
		{2, "", false},
		{3, GranularityDaily, true},
		{5, GranularityDaily, true},
		{6, GranularityWeekly, true},
		{24, GranularityWeekly, true},
		{25, GranularityMonthly, true},
		{100, GranularityMonthly, true},
	}
	for _, c := range cases {
		gran, ok := SignificantShift(c.days)
		if ok != c.ok || gran != c.want {
			t.Errorf("SignificantShift(%d) = (%q, %v), want (%q, %v)", c.days, gran, ok, c.want, c.ok)
		}
	}
}
