package event

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

var ErrInvalidEvent = errors.New("invalid event")

var canonicalTime = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Validate checks that e is a well-formed member of its variant.
func (e Event) Validate() error {
	if e.Title == "" {
		return fmt.Errorf("%w: missing title", ErrInvalidEvent)
	}
	if e.Timezone != "" {
		if _, err := time.LoadLocation(e.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidEvent, e.Timezone)
		}
	}
	if e.AllDay {
		if e.StartTime != "" || e.EndTime != "" {
			return fmt.Errorf("%w: all-day event with times", ErrInvalidEvent)
		}
	} else {
		if !canonicalTime.MatchString(e.StartTime) {
			return fmt.Errorf("%w: bad start time %q", ErrInvalidEvent, e.StartTime)
		}
		if e.EndTime != "" && !canonicalTime.MatchString(e.EndTime) {
			return fmt.Errorf("%w: bad end time %q", ErrInvalidEvent, e.EndTime)
		}
	}

	switch e.Type {
	case TypeSingle:
		return e.validateSingle()
	case TypeRecurring:
		return e.validateRecurring()
	case TypeRRule:
		return e.validateRRule()
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
}

func (e Event) validateSingle() error {
	if _, err := ParseDate(e.Date); err != nil {
		return err
	}
	if e.EndDate != "" {
		if _, err := ParseDate(e.EndDate); err != nil {
			return err
		}
		if e.EndDate < e.Date {
			return fmt.Errorf("%w: end date %s before date %s", ErrInvalidEvent, e.EndDate, e.Date)
		}
	}
	if e.InstanceDate != "" {
		if e.RecurringEventID == "" {
			return fmt.Errorf("%w: instance date on an event that is not an override", ErrInvalidEvent)
		}
		if _, err := ParseDate(e.InstanceDate); err != nil {
			return err
		}
	}
	if e.CompletedAt != nil && !e.Task {
		return fmt.Errorf("%w: completion on a non-task event", ErrInvalidEvent)
	}
	if len(e.SkipDates) > 0 || e.RRule != "" || len(e.DaysOfWeek) > 0 || e.RepeatOn != nil {
		return fmt.Errorf("%w: recurrence fields on a single event", ErrInvalidEvent)
	}
	return nil
}

func (e Event) validateRecurring() error {
	patterns := 0
	if len(e.DaysOfWeek) > 0 {
		patterns++
		for _, d := range e.DaysOfWeek {
			if _, err := ParseWeekdayLetter(d); err != nil {
				return err
			}
		}
	}
	if e.RepeatOn != nil {
		patterns++
		if e.RepeatOn.Week == 0 || e.RepeatOn.Week < -1 || e.RepeatOn.Week > 5 {
			return fmt.Errorf("%w: repeatOn week %d", ErrInvalidEvent, e.RepeatOn.Week)
		}
		if e.RepeatOn.Weekday < time.Sunday || e.RepeatOn.Weekday > time.Saturday {
			return fmt.Errorf("%w: repeatOn weekday %d", ErrInvalidEvent, e.RepeatOn.Weekday)
		}
	} else if e.DayOfMonth != 0 {
		patterns++
		if e.DayOfMonth < 1 || e.DayOfMonth > 31 {
			return fmt.Errorf("%w: day of month %d", ErrInvalidEvent, e.DayOfMonth)
		}
	}
	if patterns != 1 {
		return fmt.Errorf("%w: recurring event needs exactly one pattern", ErrInvalidEvent)
	}
	if e.Month != 0 && (e.Month < 1 || e.Month > 12 || e.DayOfMonth == 0) {
		return fmt.Errorf("%w: yearly pattern needs month and day of month", ErrInvalidEvent)
	}
	if e.RepeatInterval < 0 {
		return fmt.Errorf("%w: negative repeat interval", ErrInvalidEvent)
	}
	for _, d := range []string{e.StartRecur, e.EndRecur} {
		if d == "" {
			continue
		}
		if _, err := ParseDate(d); err != nil {
			return err
		}
	}
	if e.Date != "" || e.RecurringEventID != "" || e.RRule != "" {
		return fmt.Errorf("%w: single or rrule fields on a recurring event", ErrInvalidEvent)
	}
	return e.validateSkipDates()
}

func (e Event) validateRRule() error {
	if e.RRule == "" {
		return fmt.Errorf("%w: missing rrule", ErrInvalidEvent)
	}
	if _, err := ParseDate(e.StartDate); err != nil {
		return err
	}
	if e.Date != "" || e.RecurringEventID != "" || len(e.DaysOfWeek) > 0 {
		return fmt.Errorf("%w: single or recurring fields on an rrule event", ErrInvalidEvent)
	}
	return e.validateSkipDates()
}

func (e Event) validateSkipDates() error {
	for _, d := range e.SkipDates {
		if _, err := ParseDate(d); err != nil {
			return err
		}
	}
	return nil
}
