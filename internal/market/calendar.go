// Package market handles market state awareness for the KRX.
//
// Design rules:
//   - The system must know if today is a trading day.
//   - The system must know if the market is currently open.
//   - One central Calendar; no scattered time checks.
package market

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DefaultTimezone is the KRX exchange timezone.
const DefaultTimezone = "Asia/Seoul"

// KRX market hours. The close boundary is inclusive: a tick firing at
// exactly 15:30 still trades.
const (
	MarketOpenHour  = 9
	MarketOpenMin   = 0
	MarketCloseHour = 15
	MarketCloseMin  = 30
)

// Calendar provides exchange calendar and market state information.
type Calendar struct {
	loc      *time.Location
	holidays map[string]string // date (2006-01-02) -> reason
}

// HolidayEntry represents a single exchange holiday.
type HolidayEntry struct {
	Date   string `json:"date"`   // YYYY-MM-DD
	Reason string `json:"reason"` // e.g. "Seollal", "Chuseok"
}

// NewCalendar creates a Calendar for the given timezone name (empty
// means Asia/Seoul) and an optional JSON holiday file containing an
// array of HolidayEntry objects.
func NewCalendar(timezone, holidayFilePath string) (*Calendar, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("market calendar: load timezone %s: %w", timezone, err)
	}

	holidays := map[string]string{}
	if holidayFilePath != "" {
		data, err := os.ReadFile(holidayFilePath)
		if err != nil {
			return nil, fmt.Errorf("market calendar: read holidays file: %w", err)
		}
		var entries []HolidayEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("market calendar: parse holidays: %w", err)
		}
		for _, e := range entries {
			holidays[e.Date] = e.Reason
		}
	}

	return &Calendar{loc: loc, holidays: holidays}, nil
}

// NewCalendarFromHolidays creates a Calendar directly from a holiday map
// in the default timezone. Useful for testing.
func NewCalendarFromHolidays(holidays map[string]string) *Calendar {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		panic(fmt.Sprintf("market calendar: load %s: %v", DefaultTimezone, err))
	}
	if holidays == nil {
		holidays = map[string]string{}
	}
	return &Calendar{loc: loc, holidays: holidays}
}

// Location returns the calendar's exchange timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsTradingDay returns true if the given date is a weekday that is not
// an exchange holiday.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	d := date.In(c.loc)

	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}

	if _, isHoliday := c.holidays[d.Format("2006-01-02")]; isHoliday {
		return false
	}

	return true
}

// HolidayReason returns the reason for a holiday, or empty string.
func (c *Calendar) HolidayReason(date time.Time) string {
	return c.holidays[date.In(c.loc).Format("2006-01-02")]
}

// IsMarketOpen returns true if the KRX is in trading hours: a trading
// day, between 09:00 and 15:30 inclusive.
func (c *Calendar) IsMarketOpen(now time.Time) bool {
	t := now.In(c.loc)

	if !c.IsTradingDay(t) {
		return false
	}

	currentMinutes := t.Hour()*60 + t.Minute()
	openMinutes := MarketOpenHour*60 + MarketOpenMin
	closeMinutes := MarketCloseHour*60 + MarketCloseMin

	return currentMinutes >= openMinutes && currentMinutes <= closeMinutes
}

// TimeUntilNextSession returns the duration until the next market open,
// or 0 if the market is currently open.
func (c *Calendar) TimeUntilNextSession(now time.Time) time.Duration {
	t := now.In(c.loc)

	if c.IsMarketOpen(t) {
		return 0
	}

	candidate := t
	for i := 0; i < 10; i++ {
		if i == 0 && c.IsTradingDay(candidate) {
			todayOpen := time.Date(candidate.Year(), candidate.Month(), candidate.Day(),
				MarketOpenHour, MarketOpenMin, 0, 0, c.loc)
			if t.Before(todayOpen) {
				return todayOpen.Sub(t)
			}
		}

		candidate = candidate.AddDate(0, 0, 1)
		if c.IsTradingDay(candidate) {
			nextOpen := time.Date(candidate.Year(), candidate.Month(), candidate.Day(),
				MarketOpenHour, MarketOpenMin, 0, 0, c.loc)
			return nextOpen.Sub(t)
		}
	}

	// Shouldn't happen with reasonable holiday data.
	return 24 * time.Hour
}

// NextTradingDay returns the next trading day after the given date.
func (c *Calendar) NextTradingDay(date time.Time) time.Time {
	candidate := date.In(c.loc).AddDate(0, 0, 1)
	for i := 0; i < 10; i++ {
		if c.IsTradingDay(candidate) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// PreviousTradingDay returns the most recent trading day before the
// given date.
func (c *Calendar) PreviousTradingDay(date time.Time) time.Time {
	candidate := date.In(c.loc).AddDate(0, 0, -1)
	for i := 0; i < 10; i++ {
		if c.IsTradingDay(candidate) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, -1)
	}
	return candidate
}
