package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klokku/calcache/pkg/event"
)

// ResourceSeparator joins category and sub-category in a resource id.
const ResourceSeparator = "::"

type ExtendedProps struct {
	Category         string     `json:"category,omitempty"`
	SubCategory      string     `json:"subCategory,omitempty"`
	RecurringEventID string     `json:"recurringEventId,omitempty"`
	IsTask           bool       `json:"isTask,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	DaysOfWeek       []string   `json:"daysOfWeek,omitempty"`
	StartRecur       string     `json:"startRecur,omitempty"`
	EndRecur         string     `json:"endRecur,omitempty"`
}

// RenderInput is what the rendering layer receives for one stored event.
// Single events carry Start/End in the display zone; masters carry a
// Recurrence instead.
type RenderInput struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	AllDay        bool          `json:"allDay"`
	Start         string        `json:"start,omitempty"`
	End           string        `json:"end,omitempty"`
	RRule         string        `json:"rrule,omitempty"`
	Recurrence    *Recurrence   `json:"recurrence,omitempty"`
	ResourceID    string        `json:"resourceId,omitempty"`
	ExtendedProps ExtendedProps `json:"extendedProps"`
}

// RenderEdit is an event as the rendering layer hands it back after a user
// moved, resized or edited it. End is exclusive.
type RenderEdit struct {
	Title         string        `json:"title"`
	Start         time.Time     `json:"start"`
	End           *time.Time    `json:"end,omitempty"`
	AllDay        bool          `json:"allDay"`
	ResourceID    string        `json:"resourceId,omitempty"`
	ExtendedProps ExtendedProps `json:"extendedProps"`
}

// ToRenderInput converts a stored event for display in displayZone. It
// returns ErrNoOccurrences for masters that never fire.
func ToRenderInput(id string, ev event.Event, displayZone string) (RenderInput, error) {
	in := RenderInput{
		ID:         id,
		Title:      ev.Title,
		AllDay:     ev.AllDay,
		ResourceID: ResourceID(ev.Category, ev.SubCategory),
		ExtendedProps: ExtendedProps{
			Category:         ev.Category,
			SubCategory:      ev.SubCategory,
			RecurringEventID: ev.RecurringEventID,
			IsTask:           ev.Task,
			CompletedAt:      ev.CompletedAt,
		},
	}

	if ev.IsMaster() {
		rec, err := BuildRecurrence(ev, displayZone)
		if err != nil {
			return RenderInput{}, err
		}
		in.Recurrence = rec
		in.RRule = rec.String()
		if ev.Type == event.TypeRecurring {
			in.ExtendedProps.DaysOfWeek = ev.DaysOfWeek
			in.ExtendedProps.StartRecur = ev.StartRecur
			in.ExtendedProps.EndRecur = ev.EndRecur
		}
		return in, nil
	}

	if ev.AllDay {
		endDate := ev.EndDate
		if endDate == "" {
			endDate = ev.Date
		}
		end, err := event.ParseDate(endDate)
		if err != nil {
			return RenderInput{}, err
		}
		in.Start = ev.Date
		in.End = dateOf(end.AddDate(0, 0, 1))
		return in, nil
	}

	zone := ev.Timezone
	if zone == "" {
		zone = displayZone
	}
	converted, err := ConvertEvent(ev, zone, displayZone)
	if err != nil {
		return RenderInput{}, err
	}
	loc, err := loadZone(displayZone)
	if err != nil {
		return RenderInput{}, err
	}
	start, err := wallClock(converted.Date, converted.StartTime, loc)
	if err != nil {
		return RenderInput{}, err
	}
	in.Start = start.Format(time.RFC3339)
	if converted.EndTime != "" {
		endDate := converted.EndDate
		if endDate == "" {
			endDate = converted.Date
		}
		end, err := wallClock(endDate, converted.EndTime, loc)
		if err != nil {
			return RenderInput{}, err
		}
		if end.Before(start) {
			end = end.AddDate(0, 0, 1)
		}
		in.End = end.Format(time.RFC3339)
	}
	return in, nil
}

// ResourceID builds the structured resource identifier for a category pair.
func ResourceID(category, subCategory string) string {
	if category == "" {
		return ""
	}
	if subCategory == "" {
		return category
	}
	return category + ResourceSeparator + subCategory
}

// ParseResourceID splits a resource identifier into category and sub-category.
func ParseResourceID(id string) (category, subCategory string) {
	category, subCategory, _ = strings.Cut(id, ResourceSeparator)
	return category, subCategory
}

// FromRenderEdit turns a renderer edit back into a canonical event. Times are
// read in displayZone; when targetZone differs the result is converted into
// it so the event keeps its authoring zone.
func FromRenderEdit(edit RenderEdit, displayZone, targetZone string) (event.Event, error) {
	if edit.Start.IsZero() {
		return event.Event{}, errors.New("render edit has no start")
	}
	loc, err := loadZone(displayZone)
	if err != nil {
		return event.Event{}, err
	}
	start := edit.Start.In(loc)

	ev := event.Event{
		Title:    edit.Title,
		AllDay:   edit.AllDay,
		Timezone: displayZone,
	}
	ev.Category, ev.SubCategory = edit.ExtendedProps.Category, edit.ExtendedProps.SubCategory
	if edit.ResourceID != "" {
		ev.Category, ev.SubCategory = ParseResourceID(edit.ResourceID)
	}

	var endDate string
	if edit.End != nil {
		end := edit.End.In(loc)
		if end.Before(start) {
			return event.Event{}, fmt.Errorf("render edit ends before it starts")
		}
		if !edit.AllDay {
			ev.StartTime = clockOf(start)
			ev.EndTime = clockOf(end)
		}
		// the renderer's end is exclusive
		endDate = dateOf(end.Add(-time.Nanosecond))
	} else if !edit.AllDay {
		ev.StartTime = clockOf(start)
	}

	props := edit.ExtendedProps
	if len(props.DaysOfWeek) > 0 {
		ev.Type = event.TypeRecurring
		ev.DaysOfWeek = append([]string(nil), props.DaysOfWeek...)
		ev.StartRecur = props.StartRecur
		ev.EndRecur = props.EndRecur
	} else {
		ev.Type = event.TypeSingle
		ev.Date = dateOf(start)
		if endDate != "" && endDate > ev.Date {
			ev.EndDate = endDate
		}
		ev.Task = props.IsTask
		if props.IsTask && props.CompletedAt != nil {
			t := *props.CompletedAt
			ev.CompletedAt = &t
		}
		ev.RecurringEventID = props.RecurringEventID
	}
	if ev.AllDay {
		ev.Timezone = ""
	}

	if ev.AllDay || targetZone == "" || targetZone == displayZone {
		return ev, nil
	}
	return ConvertEvent(ev, displayZone, targetZone)
}
