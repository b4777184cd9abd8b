package market

import (
	"testing"
	"time"
)

func kst(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

func TestIsMarketOpen_Weekday(t *testing.T) {
	cal := NewCalendarFromHolidays(nil)
	loc := kst(t)

	// Monday 2026-01-05.
	cases := []struct {
		hour, min int
		want      bool
	}{
		{8, 59, false},
		{9, 0, true},
		{12, 30, true},
		{15, 30, true}, // close boundary is inclusive
		{15, 31, false},
		{20, 0, false},
	}
	for _, tc := range cases {
		now := time.Date(2026, 1, 5, tc.hour, tc.min, 0, 0, loc)
		if got := cal.IsMarketOpen(now); got != tc.want {
			t.Errorf("%02d:%02d: got %t, want %t", tc.hour, tc.min, got, tc.want)
		}
	}
}

func TestIsMarketOpen_Weekend(t *testing.T) {
	cal := NewCalendarFromHolidays(nil)
	loc := kst(t)

	saturday := time.Date(2026, 1, 3, 10, 0, 0, 0, loc)
	sunday := time.Date(2026, 1, 4, 10, 0, 0, 0, loc)
	if cal.IsMarketOpen(saturday) || cal.IsMarketOpen(sunday) {
		t.Error("weekend must be closed")
	}
}

func TestIsMarketOpen_Holiday(t *testing.T) {
	cal := NewCalendarFromHolidays(map[string]string{
		"2026-01-01": "New Year's Day",
	})
	loc := kst(t)

	newYear := time.Date(2026, 1, 1, 10, 0, 0, 0, loc) // a Thursday
	if cal.IsMarketOpen(newYear) {
		t.Error("holiday must be closed")
	}
	if cal.HolidayReason(newYear) != "New Year's Day" {
		t.Errorf("unexpected holiday reason %q", cal.HolidayReason(newYear))
	}
}

func TestIsMarketOpen_ConvertsFromOtherTimezone(t *testing.T) {
	cal := NewCalendarFromHolidays(nil)

	// Monday 2026-01-05 01:00 UTC is 10:00 KST.
	utc := time.Date(2026, 1, 5, 1, 0, 0, 0, time.UTC)
	if !cal.IsMarketOpen(utc) {
		t.Error("UTC time inside KST market hours must be open")
	}
}

func TestNextAndPreviousTradingDay(t *testing.T) {
	cal := NewCalendarFromHolidays(map[string]string{
		"2026-01-06": "Exchange Holiday",
	})
	loc := kst(t)

	// Monday 2026-01-05: next trading day skips the Tuesday holiday.
	monday := time.Date(2026, 1, 5, 12, 0, 0, 0, loc)
	next := cal.NextTradingDay(monday)
	if next.Format("2006-01-02") != "2026-01-07" {
		t.Errorf("next trading day: got %s, want 2026-01-07", next.Format("2006-01-02"))
	}

	// Monday 2026-01-05: previous trading day is Friday 2026-01-02.
	prev := cal.PreviousTradingDay(monday)
	if prev.Format("2006-01-02") != "2026-01-02" {
		t.Errorf("previous trading day: got %s, want 2026-01-02", prev.Format("2006-01-02"))
	}
}

func TestTimeUntilNextSession(t *testing.T) {
	cal := NewCalendarFromHolidays(nil)
	loc := kst(t)

	// Monday 08:00: one hour until open.
	beforeOpen := time.Date(2026, 1, 5, 8, 0, 0, 0, loc)
	if d := cal.TimeUntilNextSession(beforeOpen); d != time.Hour {
		t.Errorf("before open: got %v, want 1h", d)
	}

	// During hours: zero.
	during := time.Date(2026, 1, 5, 10, 0, 0, 0, loc)
	if d := cal.TimeUntilNextSession(during); d != 0 {
		t.Errorf("during hours: got %v, want 0", d)
	}

	// Friday after close: next open is Monday 09:00.
	fridayEvening := time.Date(2026, 1, 9, 16, 0, 0, 0, loc)
	want := time.Date(2026, 1, 12, 9, 0, 0, 0, loc).Sub(fridayEvening)
	if d := cal.TimeUntilNextSession(fridayEvening); d != want {
		t.Errorf("friday evening: got %v, want %v", d, want)
	}
}

func TestNewCalendar_BadTimezone(t *testing.T) {
	if _, err := NewCalendar("Not/AZone", ""); err == nil {
		t.Error("expected error for unknown timezone")
	}
}
