package view

import (
	"time"

	"github.com/klokku/calcache/pkg/event"
	"github.com/klokku/calcache/pkg/recurrence"
)

type EventDTO struct {
	recurrence.RenderInput
	CalendarID string `json:"calendarId"`
	Editable   bool   `json:"editable"`
	// Color is the category colour, empty when the category has none.
	Color string `json:"color,omitempty"`
}

type SourceDTO struct {
	CalendarID string     `json:"calendarId"`
	Name       string     `json:"name"`
	Color      string     `json:"color"`
	Editable   bool       `json:"editable"`
	Events     []EventDTO `json:"events"`
}

type OccurrenceDTO struct {
	ID               string    `json:"id"`
	CalendarID       string    `json:"calendarId"`
	Title            string    `json:"title"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	AllDay           bool      `json:"allDay"`
	RecurringEventID string    `json:"recurringEventId,omitempty"`
	Color            string    `json:"color,omitempty"`
}

type CreatedDTO struct {
	ID string `json:"id"`
}

type CompletionDTO struct {
	Done bool `json:"done"`
}

type MoveDTO struct {
	CalendarID string `json:"calendarId"`
}

type UpdatesDTO struct {
	Seq uint64 `json:"seq"`
}

// mergeEdit applies a renderer edit onto the stored event. Identity fields
// always come from the stored event. A master keeps its recurrence rule; only
// weekly patterns can be reshaped from the renderer.
func mergeEdit(stored, edited event.Event) event.Event {
	if !stored.IsMaster() {
		out := edited
		out.ID = stored.ID
		out.RecurringEventID = stored.RecurringEventID
		out.InstanceDate = ""
		if stored.IsOverride() && out.Date != stored.OccurrenceDate() {
			out.InstanceDate = stored.OccurrenceDate()
		}
		if stored.Timezone == "" {
			out.Timezone = ""
		}
		return out
	}

	out := stored.Clone()
	out.Title = edited.Title
	out.Category, out.SubCategory = edited.Category, edited.SubCategory
	out.AllDay = edited.AllDay
	out.StartTime, out.EndTime = edited.StartTime, edited.EndTime
	if stored.Timezone != "" {
		out.Timezone = edited.Timezone
	}
	if out.AllDay {
		out.StartTime, out.EndTime, out.Timezone = "", "", ""
	}
	weekly := stored.Type == event.TypeRecurring && stored.DayOfMonth == 0 && stored.RepeatOn == nil
	if weekly && edited.Type == event.TypeRecurring {
		out.DaysOfWeek = append([]string(nil), edited.DaysOfWeek...)
		out.StartRecur, out.EndRecur = edited.StartRecur, edited.EndRecur
	}
	return out
}
