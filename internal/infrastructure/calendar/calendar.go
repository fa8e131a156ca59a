// Package calendar provides the business calendar injected into pipeline
// runs: weekends and configured holidays are non-business days.
package calendar

import (
	"time"

	"github.com/loanpurchase/backend/internal/domain/shared"
)

// BusinessCalendar implements pipeline.Calendar. The business date and the
// lifecycle clock are separate: pinning "today" for a replay leaves Now on
// the wall clock, so run timestamps stay comparable with the reconciler's.
type BusinessCalendar struct {
	clock    func() time.Time
	today    *time.Time
	holidays map[time.Time]bool
}

// Option configures a BusinessCalendar
type Option func(*BusinessCalendar)

// WithClock overrides the wall clock
func WithClock(clock func() time.Time) Option {
	return func(c *BusinessCalendar) {
		c.clock = clock
	}
}

// WithToday pins the business date returned by Today
func WithToday(d time.Time) Option {
	return func(c *BusinessCalendar) {
		day := shared.DateOf(d)
		c.today = &day
	}
}

// WithHolidays marks dates as non-business days
func WithHolidays(days ...time.Time) Option {
	return func(c *BusinessCalendar) {
		for _, d := range days {
			c.holidays[shared.DateOf(d)] = true
		}
	}
}

// New creates a calendar reading the wall clock in UTC
func New(opts ...Option) *BusinessCalendar {
	c := &BusinessCalendar{
		clock:    func() time.Time { return time.Now().UTC() },
		holidays: make(map[time.Time]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fixed returns a wall-clock calendar whose business date is pinned to
// today. Replays and tests use it.
func Fixed(today time.Time, holidays ...time.Time) *BusinessCalendar {
	return New(WithToday(today), WithHolidays(holidays...))
}

// Now returns the current instant
func (c *BusinessCalendar) Now() time.Time {
	return c.clock()
}

// Today returns the business date at midnight UTC
func (c *BusinessCalendar) Today() time.Time {
	if c.today != nil {
		return *c.today
	}
	return shared.DateOf(c.clock())
}

// IsBusinessDay reports whether d is neither a weekend nor a holiday
func (c *BusinessCalendar) IsBusinessDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[shared.DateOf(d)]
}

// AddBusinessDays moves n business days from d; negative n moves backwards.
// Zero returns d unchanged.
func (c *BusinessCalendar) AddBusinessDays(d time.Time, n int) time.Time {
	day := shared.DateOf(d)
	step := 1
	if n < 0 {
		step, n = -1, -n
	}
	for n > 0 {
		day = day.AddDate(0, 0, step)
		if c.IsBusinessDay(day) {
			n--
		}
	}
	return day
}
