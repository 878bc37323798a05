// Package calendar provides trading-day arithmetic and the call-auction
// windows for the A-share session.
//
// The exchange core trusts its callers on calendar questions; this package
// is the host-side collaborator that answers them. Dates are YYYYMMDD
// integers in exchange time (UTC+8). Only weekends are treated as
// non-trading days; public holidays come from the host's own data and can
// be layered on via WithHolidays.
package calendar

import (
	"time"

	"github.com/neomantra/ymdflag"
)

// CST is the exchange timezone.
var CST = time.FixedZone("CST", 8*3600)

// Calendar answers trading-day questions. The zero value treats every
// weekday as a trading day.
type Calendar struct {
	holidays map[int]bool // YYYYMMDD -> closed
}

// New returns a calendar with no holidays configured.
func New() *Calendar {
	return &Calendar{holidays: make(map[int]bool)}
}

// WithHolidays marks extra non-trading dates (YYYYMMDD) and returns the
// calendar for chaining.
func (c *Calendar) WithHolidays(dates ...int) *Calendar {
	for _, d := range dates {
		c.holidays[d] = true
	}
	return c
}

// ToTime converts a YYYYMMDD date to midnight exchange time.
func ToTime(ymd int) time.Time {
	return time.Date(ymd/10000, time.Month((ymd/100)%100), ymd%100, 0, 0, 0, 0, CST)
}

// FromTime converts a time to its YYYYMMDD exchange date.
func FromTime(t time.Time) int {
	return int(ymdflag.TimeToYMD(t.In(CST)))
}

// IsTradingDay reports whether the date is a weekday and not a configured
// holiday.
func (c *Calendar) IsTradingDay(ymd int) bool {
	if c.holidays[ymd] {
		return false
	}
	switch ToTime(ymd).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// NextTradingDay returns the first trading day strictly after ymd.
func (c *Calendar) NextTradingDay(ymd int) int {
	t := ToTime(ymd)
	for {
		t = t.AddDate(0, 0, 1)
		next := FromTime(t)
		if c.IsTradingDay(next) {
			return next
		}
	}
}

// Call-auction windows in which order cancellation is forbidden by the
// exchange rules: the opening auction freeze 09:20-09:25 and the closing
// auction 14:57-15:00.
var cancelWindows = [][2]int{
	{9*60 + 20, 9*60 + 25},
	{14*60 + 57, 15 * 60},
}

// InCancelForbiddenWindow reports whether the millisecond timestamp falls
// inside a window where cancels must be blocked. Start inclusive, end
// exclusive.
func InCancelForbiddenWindow(tsMillis int64) bool {
	t := time.UnixMilli(tsMillis).In(CST)
	minutes := t.Hour()*60 + t.Minute()
	for _, w := range cancelWindows {
		if minutes >= w[0] && minutes < w[1] {
			return true
		}
	}
	return false
}
