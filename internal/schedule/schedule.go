// Package schedule turns published "HH:MM" times into absolute timestamps.
//
// All times are resolved in one fixed service zone taken from configuration,
// never in the zone of the host running the service. A stop time earlier than
// its trip's start time belongs to the next calendar day, so trips running
// past midnight keep increasing expected times.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidClock = errors.New("invalid schedule time")

// Clock is a wall-clock time of day with minute resolution.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "H:MM" or "HH:MM" with hours 0-23 and minutes 0-59.
func ParseClock(s string) (Clock, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(h) < 1 || len(h) > 2 || len(m) != 2 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

// Before reports whether c is strictly earlier in the day than o.
func (c Clock) Before(o Clock) bool { return c.Minutes() < o.Minutes() }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Resolver resolves clocks against calendar days of a fixed zone.
type Resolver struct {
	Location *time.Location
}

// NewResolver returns a resolver for loc; nil means UTC.
func NewResolver(loc *time.Location) Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return Resolver{Location: loc}
}

func (r Resolver) zone() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// ServiceDate returns midnight of t's calendar day in the service zone.
func (r Resolver) ServiceDate(t time.Time) time.Time {
	y, m, d := t.In(r.zone()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.zone())
}

// At returns c on referenceDate's calendar day, seconds zeroed.
func (r Resolver) At(c Clock, referenceDate time.Time) time.Time {
	y, m, d := referenceDate.In(r.zone()).Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, r.zone())
}

// Resolve parses timeStr and places it on referenceDate's calendar day.
func (r Resolver) Resolve(timeStr string, referenceDate time.Time) (time.Time, error) {
	c, err := ParseClock(timeStr)
	if err != nil {
		return time.Time{}, err
	}
	return r.At(c, referenceDate), nil
}

// ResolveFrom resolves timeStr for a trip that starts at start on
// referenceDate. Times earlier than start roll over to the next day.
func (r Resolver) ResolveFrom(timeStr string, start Clock, referenceDate time.Time) (time.Time, error) {
	c, err := ParseClock(timeStr)
	if err != nil {
		return time.Time{}, err
	}
	t := r.At(c, referenceDate)
	if c.Before(start) {
		y, m, d := t.Date()
		t = time.Date(y, m, d+1, c.Hour, c.Minute, 0, 0, r.zone())
	}
	return t, nil
}
