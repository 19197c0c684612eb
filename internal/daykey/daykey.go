// Package daykey implements the single day-boundary rule shared by the set
// builder seeds, the streak calculator and the score aggregator.
package daykey

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Layout is the canonical date key format.
const Layout = "2006-01-02"

// KeyAt returns the date key for t. The day rolls over at cutoffHour local
// time in loc, so instants before the cutoff belong to the previous date.
func KeyAt(t time.Time, cutoffHour int, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	y, m, d := local.Date()
	if local.Hour() < cutoffHour {
		d--
	}
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC).Format(Layout)
}

// TodayKey resolves the zone by name and returns the key for now.
func TodayKey(now time.Time, cutoffHour int, tz string) (string, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return KeyAt(now, cutoffHour, loc), nil
}

// Clock answers "what day is it" questions against an injectable clock.
type Clock struct {
	clock      clockwork.Clock
	cutoffHour int
	loc        *time.Location
}

// NewClock builds a Clock for the given cutoff hour and IANA zone name.
// A nil clock uses the real wall clock.
func NewClock(clock clockwork.Clock, cutoffHour int, tz string) (*Clock, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cutoffHour < 0 || cutoffHour > 23 {
		return nil, fmt.Errorf("cutoff hour %d out of range", cutoffHour)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return &Clock{clock: clock, cutoffHour: cutoffHour, loc: loc}, nil
}

// Now returns the underlying clock time.
func (c *Clock) Now() time.Time { return c.clock.Now() }

// Location returns the zone the boundary is evaluated in.
func (c *Clock) Location() *time.Location { return c.loc }

// CutoffHour returns the local rollover hour.
func (c *Clock) CutoffHour() int { return c.cutoffHour }

// Today returns the current date key.
func (c *Clock) Today() string {
	return KeyAt(c.clock.Now(), c.cutoffHour, c.loc)
}

// NextReset returns the next instant at which Today changes.
func (c *Clock) NextReset() time.Time {
	now := c.clock.Now().In(c.loc)
	y, m, d := now.Date()
	reset := time.Date(y, m, d, c.cutoffHour, 0, 0, 0, c.loc)
	if !reset.After(now) {
		reset = time.Date(y, m, d+1, c.cutoffHour, 0, 0, 0, c.loc)
	}
	return reset
}

// Parse validates a date key and returns it as midday UTC of that date.
func Parse(key string) (time.Time, error) {
	t, err := time.Parse(Layout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q: %w", key, err)
	}
	return t.Add(12 * time.Hour), nil
}

// AddDays shifts a date key by n calendar days.
func AddDays(key string, n int) (string, error) {
	t, err := Parse(key)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(Layout), nil
}

// DaysBetween returns b minus a in whole days.
func DaysBetween(a, b string) (int, error) {
	ta, err := Parse(a)
	if err != nil {
		return 0, err
	}
	tb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return int(tb.Sub(ta).Round(24*time.Hour) / (24 * time.Hour)), nil
}
