package event

import (
	"slices"
	"time"
)

type Type string

const (
	TypeSingle    Type = "single"
	TypeRecurring Type = "recurring"
	TypeRRule     Type = "rrule"
)

// DateLayout is the ISO calendar date format used for every date field.
const DateLayout = "2006-01-02"

// Event is the canonical event representation shared by every backend.
//
// It is a tagged union: Type selects which of the variant field groups below
// is meaningful. Fields of the other variants must be left zero; Validate
// enforces this.
type Event struct {
	Type        Type   `json:"type" yaml:"type"`
	Title       string `json:"title" yaml:"title"`
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	SubCategory string `json:"subCategory,omitempty" yaml:"subCategory,omitempty"`
	AllDay      bool   `json:"allDay" yaml:"allDay"`
	// Timezone is the IANA zone the event was authored in. Empty means the
	// display zone.
	Timezone  string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	StartTime string `json:"startTime,omitempty" yaml:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty" yaml:"endTime,omitempty"`

	// single
	Date             string     `json:"date,omitempty" yaml:"date,omitempty"`
	EndDate          string     `json:"endDate,omitempty" yaml:"endDate,omitempty"`
	Task             bool       `json:"task,omitempty" yaml:"task,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
	RecurringEventID string     `json:"recurringEventId,omitempty" yaml:"recurringEventId,omitempty"`
	// InstanceDate is the occurrence an override replaces when the override
	// was moved to another day. Empty means Date.
	InstanceDate string `json:"instanceDate,omitempty" yaml:"instanceDate,omitempty"`

	// recurring
	DaysOfWeek     []string  `json:"daysOfWeek,omitempty" yaml:"daysOfWeek,omitempty"`
	DayOfMonth     int       `json:"dayOfMonth,omitempty" yaml:"dayOfMonth,omitempty"`
	Month          int       `json:"month,omitempty" yaml:"month,omitempty"`
	RepeatOn       *RepeatOn `json:"repeatOn,omitempty" yaml:"repeatOn,omitempty"`
	RepeatInterval int       `json:"repeatInterval,omitempty" yaml:"repeatInterval,omitempty"`
	StartRecur     string    `json:"startRecur,omitempty" yaml:"startRecur,omitempty"`
	EndRecur       string    `json:"endRecur,omitempty" yaml:"endRecur,omitempty"`

	// rrule
	RRule     string `json:"rrule,omitempty" yaml:"rrule,omitempty"`
	StartDate string `json:"startDate,omitempty" yaml:"startDate,omitempty"`

	// recurring and rrule
	SkipDates []string `json:"skipDates,omitempty" yaml:"skipDates,omitempty"`
}

// RepeatOn selects the N-th weekday of a month. Week -1 means the last one.
type RepeatOn struct {
	Week    int          `json:"week" yaml:"week"`
	Weekday time.Weekday `json:"weekday" yaml:"weekday"`
}

// IsOverride reports whether e replaces a single occurrence of a master.
func (e Event) IsOverride() bool {
	return e.Type == TypeSingle && e.RecurringEventID != ""
}

// IsMaster reports whether e generates occurrences.
func (e Event) IsMaster() bool {
	return e.Type == TypeRecurring || e.Type == TypeRRule
}

// IsCompleted reports whether e is a task that has been marked done.
func (e Event) IsCompleted() bool {
	return e.Task && e.CompletedAt != nil
}

func (e Event) HasSkipDate(date string) bool {
	return slices.Contains(e.SkipDates, date)
}

// AddSkipDate adds date to the skip list, keeping it sorted and free of duplicates.
func (e *Event) AddSkipDate(date string) {
	if e.HasSkipDate(date) {
		return
	}
	e.SkipDates = append(e.SkipDates, date)
	slices.Sort(e.SkipDates)
}

// RemoveSkipDate removes date from the skip list and reports whether it was present.
func (e *Event) RemoveSkipDate(date string) bool {
	idx := slices.Index(e.SkipDates, date)
	if idx < 0 {
		return false
	}
	e.SkipDates = slices.Delete(e.SkipDates, idx, idx+1)
	return true
}

// Clone returns a deep copy of e.
func (e Event) Clone() Event {
	c := e
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	if e.RepeatOn != nil {
		r := *e.RepeatOn
		c.RepeatOn = &r
	}
	if e.DaysOfWeek != nil {
		c.DaysOfWeek = slices.Clone(e.DaysOfWeek)
	}
	if e.SkipDates != nil {
		c.SkipDates = slices.Clone(e.SkipDates)
	}
	return c
}

// Equal reports whether two events carry the same data. Nil and empty slices
// compare equal, as do completion instants in different locations.
func (e Event) Equal(o Event) bool {
	if e.Type != o.Type || e.Title != o.Title || e.ID != o.ID ||
		e.Category != o.Category || e.SubCategory != o.SubCategory ||
		e.AllDay != o.AllDay || e.Timezone != o.Timezone ||
		e.StartTime != o.StartTime || e.EndTime != o.EndTime {
		return false
	}
	if e.Date != o.Date || e.EndDate != o.EndDate || e.Task != o.Task ||
		e.RecurringEventID != o.RecurringEventID || e.InstanceDate != o.InstanceDate {
		return false
	}
	if (e.CompletedAt == nil) != (o.CompletedAt == nil) ||
		(e.CompletedAt != nil && !e.CompletedAt.Equal(*o.CompletedAt)) {
		return false
	}
	if !slices.Equal(e.DaysOfWeek, o.DaysOfWeek) || e.DayOfMonth != o.DayOfMonth ||
		e.Month != o.Month || e.RepeatInterval != o.RepeatInterval ||
		e.StartRecur != o.StartRecur || e.EndRecur != o.EndRecur {
		return false
	}
	if (e.RepeatOn == nil) != (o.RepeatOn == nil) ||
		(e.RepeatOn != nil && *e.RepeatOn != *o.RepeatOn) {
		return false
	}
	return e.RRule == o.RRule && e.StartDate == o.StartDate &&
		slices.Equal(e.SkipDates, o.SkipDates)
}

// OccurrenceDate returns the master occurrence an override stands in for.
func (e Event) OccurrenceDate() string {
	if e.InstanceDate != "" {
		return e.InstanceDate
	}
	return e.Date
}

// BaseDate returns the date the event is anchored on: Date for single events,
// StartRecur for recurring masters and StartDate for rrule events.
func (e Event) BaseDate() string {
	switch e.Type {
	case TypeRecurring:
		return e.StartRecur
	case TypeRRule:
		return e.StartDate
	default:
		return e.Date
	}
}
