package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klokku/calcache/pkg/event"
)

var ErrBadTime = errors.New("unparseable time")

const TimeLayout = "15:04"

// Accepted input layouts, matched against the upper-cased input.
var timeLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
	"3 PM",
	"3PM",
}

// ParseTime accepts a handful of common clock formats and returns the time
// normalised to HH:MM.
func ParseTime(s string) (string, error) {
	value := strings.ToUpper(strings.TrimSpace(s))
	if value == "" {
		return "", fmt.Errorf("%w: empty", ErrBadTime)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(TimeLayout), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrBadTime, s)
}

// Duration returns the length of a time span given as two HH:MM strings. An
// end before the start is taken to be on the following day.
func Duration(startTime, endTime string) (time.Duration, error) {
	start, err := time.Parse(TimeLayout, startTime)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadTime, startTime)
	}
	end, err := time.Parse(TimeLayout, endTime)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadTime, endTime)
	}
	if end.Before(start) {
		end = end.AddDate(0, 0, 1)
	}
	return end.Sub(start), nil
}

// wallClock interprets an ISO date and HH:MM time as local time in loc.
func wallClock(date, clock string, loc *time.Location) (time.Time, error) {
	d, err := event.ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	if clock == "" {
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc), nil
	}
	c, err := time.Parse(TimeLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTime, clock)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), 0, 0, loc), nil
}

func loadZone(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

func dateOf(t time.Time) string {
	return t.Format(event.DateLayout)
}

func clockOf(t time.Time) string {
	return t.Format(TimeLayout)
}
