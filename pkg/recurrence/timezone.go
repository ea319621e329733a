package recurrence

import (
	"fmt"
	"time"

	"github.com/klokku/calcache/pkg/event"
)

// ConvertEvent re-expresses the date and time fields of ev, interpreted as
// wall-clock time in sourceZone, as wall-clock time in targetZone.
//
// All-day events are returned unchanged. Skip dates of masters are converted
// one by one through the master's start time, because a fixed day offset is
// wrong across a DST transition.
func ConvertEvent(ev event.Event, sourceZone, targetZone string) (event.Event, error) {
	out := ev.Clone()
	if ev.AllDay {
		return out, nil
	}
	src, err := loadZone(sourceZone)
	if err != nil {
		return event.Event{}, err
	}
	dst, err := loadZone(targetZone)
	if err != nil {
		return event.Event{}, err
	}

	switch ev.Type {
	case event.TypeSingle:
		err = convertSingle(&out, ev, src, dst)
	case event.TypeRecurring:
		err = convertRecurring(&out, ev, src, dst)
	case event.TypeRRule:
		err = convertRRule(&out, ev, src, dst)
	default:
		err = fmt.Errorf("%w: unknown type %q", event.ErrInvalidEvent, ev.Type)
	}
	if err != nil {
		return event.Event{}, err
	}
	out.Timezone = targetZone
	return out, nil
}

func convertSingle(out *event.Event, ev event.Event, src, dst *time.Location) error {
	start, err := wallClock(ev.Date, ev.StartTime, src)
	if err != nil {
		return err
	}
	newStart := start.In(dst)
	out.Date = dateOf(newStart)
	out.StartTime = clockOf(newStart)
	if ev.InstanceDate != "" {
		instance, err := convertDate(ev.InstanceDate, ev.StartTime, src, dst)
		if err != nil {
			return err
		}
		out.InstanceDate = instance
	}

	if ev.EndTime == "" {
		if ev.EndDate != "" {
			endDate, err := convertDate(ev.EndDate, ev.StartTime, src, dst)
			if err != nil {
				return err
			}
			out.EndDate = endDate
		}
		return nil
	}
	endDate := ev.EndDate
	if endDate == "" {
		endDate = ev.Date
	}
	end, err := wallClock(endDate, ev.EndTime, src)
	if err != nil {
		return err
	}
	newEnd := end.In(dst)
	out.EndTime = clockOf(newEnd)
	if dateOf(newEnd) == out.Date {
		out.EndDate = ""
	} else {
		out.EndDate = dateOf(newEnd)
	}
	return nil
}

func convertRecurring(out *event.Event, ev event.Event, src, dst *time.Location) error {
	ref := ev.StartRecur
	if ref == "" {
		ref = dateOf(time.Now().In(src))
	}
	start, err := wallClock(ref, ev.StartTime, src)
	if err != nil {
		return err
	}
	newStart := start.In(dst)
	out.StartTime = clockOf(newStart)
	if ev.StartRecur != "" {
		out.StartRecur = dateOf(newStart)
	}

	if ev.EndTime != "" {
		end, err := wallClock(ref, ev.EndTime, src)
		if err != nil {
			return err
		}
		if end.Before(start) {
			end = end.AddDate(0, 0, 1)
		}
		out.EndTime = clockOf(end.In(dst))
	}
	if ev.EndRecur != "" {
		if out.EndRecur, err = convertDate(ev.EndRecur, ev.StartTime, src, dst); err != nil {
			return err
		}
	}

	if shift := dayShift(start, newStart); shift != 0 && len(ev.DaysOfWeek) > 0 {
		days := make([]string, 0, len(ev.DaysOfWeek))
		for _, letter := range ev.DaysOfWeek {
			wd, err := event.ParseWeekdayLetter(letter)
			if err != nil {
				return err
			}
			days = append(days, event.WeekdayLetter(time.Weekday((int(wd)+shift+7)%7)))
		}
		out.DaysOfWeek = days
	}

	return convertSkipDates(out, ev, src, dst)
}

func convertRRule(out *event.Event, ev event.Event, src, dst *time.Location) error {
	start, err := wallClock(ev.StartDate, ev.StartTime, src)
	if err != nil {
		return err
	}
	newStart := start.In(dst)
	out.StartDate = dateOf(newStart)
	out.StartTime = clockOf(newStart)

	if ev.EndTime != "" {
		end, err := wallClock(ev.StartDate, ev.EndTime, src)
		if err != nil {
			return err
		}
		if end.Before(start) {
			end = end.AddDate(0, 0, 1)
		}
		out.EndTime = clockOf(end.In(dst))
	}
	return convertSkipDates(out, ev, src, dst)
}

func convertSkipDates(out *event.Event, ev event.Event, src, dst *time.Location) error {
	if len(ev.SkipDates) == 0 {
		return nil
	}
	converted := make([]string, 0, len(ev.SkipDates))
	for _, d := range ev.SkipDates {
		t, err := wallClock(d, ev.StartTime, src)
		if err != nil {
			return err
		}
		converted = append(converted, dateOf(t.In(dst)))
	}
	out.SkipDates = converted
	return nil
}

func convertDate(date, clock string, src, dst *time.Location) (string, error) {
	t, err := wallClock(date, clock, src)
	if err != nil {
		return "", err
	}
	return dateOf(t.In(dst)), nil
}

// dayShift returns how many calendar days the wall-clock date moved.
func dayShift(before, after time.Time) int {
	b := time.Date(before.Year(), before.Month(), before.Day(), 0, 0, 0, 0, time.UTC)
	a := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, time.UTC)
	return int(a.Sub(b).Hours() / 24)
}
