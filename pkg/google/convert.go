package google

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/klokku/calcache/pkg/event"
	"github.com/klokku/calcache/pkg/recurrence"
	log "github.com/sirupsen/logrus"
	gcal "google.golang.org/api/calendar/v3"
)

const untitled = "(No title)"

// Private extended properties carrying the fields Google has no place for.
const (
	propCategory         = "category"
	propSubCategory      = "subCategory"
	propTask             = "task"
	propCompletedAt      = "completedAt"
	propRecurringEventID = "recurringEventId"
	propInstanceDate     = "instanceDate"
	propPattern          = "pattern"
	propFloating         = "floating"
	propOpenEnded        = "openEnded"
)

// pattern keeps the day-of-week style recurrence so that it survives the
// trip through an RRULE.
type pattern struct {
	DaysOfWeek     []string        `json:"daysOfWeek,omitempty"`
	DayOfMonth     int             `json:"dayOfMonth,omitempty"`
	Month          int             `json:"month,omitempty"`
	RepeatOn       *event.RepeatOn `json:"repeatOn,omitempty"`
	RepeatInterval int             `json:"repeatInterval,omitempty"`
	StartRecur     string          `json:"startRecur,omitempty"`
	EndRecur       string          `json:"endRecur,omitempty"`
}

func toGoogle(ev event.Event, defaultZone string) (*gcal.Event, error) {
	zone := ev.Timezone
	if zone == "" {
		zone = defaultZone
	}
	props := map[string]string{}
	ge := &gcal.Event{
		Summary:            ev.Title,
		ExtendedProperties: &gcal.EventExtendedProperties{Private: props},
	}
	setProp := func(key, value string) {
		if value != "" {
			props[key] = value
		}
	}
	setProp(propCategory, ev.Category)
	setProp(propSubCategory, ev.SubCategory)
	setProp(propRecurringEventID, ev.RecurringEventID)
	setProp(propInstanceDate, ev.InstanceDate)
	if ev.Task {
		props[propTask] = "true"
	}
	if ev.CompletedAt != nil {
		props[propCompletedAt] = ev.CompletedAt.UTC().Format(time.RFC3339)
	}
	if ev.Timezone == "" {
		props[propFloating] = "true"
	}
	if !ev.AllDay && ev.EndTime == "" {
		props[propOpenEnded] = "true"
	}

	startDate, endDate := ev.Date, ev.EndDate
	if ev.IsMaster() {
		rec, err := recurrence.BuildRecurrence(ev, zone)
		if err != nil {
			return nil, err
		}
		startDate = rec.DTStart.Local[:len(event.DateLayout)]
		endDate = ""
		for _, line := range strings.Split(rec.String(), "\n") {
			if !strings.HasPrefix(line, "DTSTART") {
				ge.Recurrence = append(ge.Recurrence, line)
			}
		}
		if ev.Type == event.TypeRecurring {
			data, err := json.Marshal(pattern{
				DaysOfWeek:     ev.DaysOfWeek,
				DayOfMonth:     ev.DayOfMonth,
				Month:          ev.Month,
				RepeatOn:       ev.RepeatOn,
				RepeatInterval: ev.RepeatInterval,
				StartRecur:     ev.StartRecur,
				EndRecur:       ev.EndRecur,
			})
			if err != nil {
				return nil, fmt.Errorf("unable to marshal recurrence pattern: %v", err)
			}
			props[propPattern] = string(data)
		}
	}
	if endDate == "" {
		endDate = startDate
	}

	if ev.AllDay {
		last, err := event.ParseDate(endDate)
		if err != nil {
			return nil, err
		}
		ge.Start = &gcal.EventDateTime{Date: startDate}
		ge.End = &gcal.EventDateTime{Date: last.AddDate(0, 0, 1).Format(event.DateLayout)}
		return ge, nil
	}

	endClock := ev.EndTime
	if endClock == "" {
		endClock = ev.StartTime
	}
	if ev.IsMaster() && endClock < ev.StartTime {
		next, err := event.ParseDate(endDate)
		if err != nil {
			return nil, err
		}
		endDate = next.AddDate(0, 0, 1).Format(event.DateLayout)
	}
	ge.Start = &gcal.EventDateTime{DateTime: startDate + "T" + ev.StartTime + ":00", TimeZone: zone}
	ge.End = &gcal.EventDateTime{DateTime: endDate + "T" + endClock + ":00", TimeZone: zone}
	return ge, nil
}

// fromGoogle converts a full listing, including cancelled items. Instances
// that differ from their series become overrides and their original dates
// are added to the master's skip dates.
func fromGoogle(items []*gcal.Event) []event.Event {
	var (
		events     []event.Event
		exceptions []*gcal.Event
		masters    = map[string]int{}
	)
	for _, item := range items {
		if item.RecurringEventId != "" {
			exceptions = append(exceptions, item)
			continue
		}
		if item.Status == "cancelled" {
			continue
		}
		ev, err := fromGoogleEvent(item)
		if err != nil {
			log.Warnf("skipping Google event %s: %v", item.Id, err)
			continue
		}
		if ev.IsMaster() {
			masters[ev.ID] = len(events)
		}
		events = append(events, ev)
	}

	for _, item := range exceptions {
		idx, ok := masters[item.RecurringEventId]
		if !ok {
			continue
		}
		master := &events[idx]
		date, err := originalDate(item.OriginalStartTime, master.Timezone)
		if err != nil {
			log.Warnf("skipping Google instance %s: %v", item.Id, err)
			continue
		}
		master.AddSkipDate(date)
		if item.Status == "cancelled" {
			continue
		}
		ev, err := fromGoogleEvent(item)
		if err != nil {
			log.Warnf("skipping Google instance %s: %v", item.Id, err)
			continue
		}
		ev.Type = event.TypeSingle
		ev.RecurringEventID = master.ID
		ev.InstanceDate = ""
		if ev.Date != date {
			ev.InstanceDate = date
		}
		events = append(events, ev)
	}
	return events
}

func fromGoogleEvent(item *gcal.Event) (event.Event, error) {
	if item.Start == nil || item.End == nil {
		return event.Event{}, fmt.Errorf("missing start or end")
	}
	var props map[string]string
	if item.ExtendedProperties != nil {
		props = item.ExtendedProperties.Private
	}

	ev := event.Event{
		Type:             event.TypeSingle,
		ID:               item.Id,
		Title:            item.Summary,
		Category:         props[propCategory],
		SubCategory:      props[propSubCategory],
		RecurringEventID: props[propRecurringEventID],
		InstanceDate:     props[propInstanceDate],
		Task:             props[propTask] == "true",
	}
	if ev.Title == "" {
		ev.Title = untitled
	}
	if raw := props[propCompletedAt]; raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return event.Event{}, fmt.Errorf("bad completion time %q", raw)
		}
		ev.CompletedAt = &t
	}

	var startDate, endDate string
	if item.Start.Date != "" {
		ev.AllDay = true
		startDate = item.Start.Date
		end, err := event.ParseDate(item.End.Date)
		if err != nil {
			return event.Event{}, err
		}
		endDate = end.AddDate(0, 0, -1).Format(event.DateLayout)
	} else {
		loc, zone, err := zoneOf(item.Start)
		if err != nil {
			return event.Event{}, err
		}
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return event.Event{}, err
		}
		end, err := time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			return event.Event{}, err
		}
		start, end = start.In(loc), end.In(loc)
		ev.Timezone = zone
		ev.StartTime = start.Format(recurrence.TimeLayout)
		if props[propOpenEnded] != "true" {
			ev.EndTime = end.Format(recurrence.TimeLayout)
		}
		startDate = start.Format(event.DateLayout)
		endDate = end.Format(event.DateLayout)
	}
	if props[propFloating] == "true" {
		ev.Timezone = ""
	}

	if len(item.Recurrence) == 0 {
		ev.Date = startDate
		if endDate > startDate {
			ev.EndDate = endDate
		}
		return ev, nil
	}

	zone := ev.Timezone
	if zone == "" && !ev.AllDay {
		zone = item.Start.TimeZone
	}
	for _, line := range item.Recurrence {
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "RRULE"):
			ev.RRule = recurrence.NormalizeRRule(line)
		case strings.HasPrefix(upper, "EXDATE"):
			for _, date := range exDates(line, zone) {
				ev.AddSkipDate(date)
			}
		}
	}
	if raw := props[propPattern]; raw != "" {
		var p pattern
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return event.Event{}, fmt.Errorf("bad recurrence pattern: %v", err)
		}
		ev.Type = event.TypeRecurring
		ev.DaysOfWeek = p.DaysOfWeek
		ev.DayOfMonth = p.DayOfMonth
		ev.Month = p.Month
		ev.RepeatOn = p.RepeatOn
		ev.RepeatInterval = p.RepeatInterval
		ev.StartRecur = p.StartRecur
		ev.EndRecur = p.EndRecur
		ev.RRule = ""
		return ev, nil
	}
	ev.Type = event.TypeRRule
	ev.StartDate = startDate
	return ev, nil
}

func zoneOf(dt *gcal.EventDateTime) (*time.Location, string, error) {
	if dt.TimeZone == "" {
		return time.UTC, "UTC", nil
	}
	loc, err := time.LoadLocation(dt.TimeZone)
	if err != nil {
		return nil, "", fmt.Errorf("unknown time zone %q", dt.TimeZone)
	}
	return loc, dt.TimeZone, nil
}

// originalDate returns the date an instance was generated for, in the
// master's zone.
func originalDate(dt *gcal.EventDateTime, zone string) (string, error) {
	if dt == nil {
		return "", fmt.Errorf("instance has no original start")
	}
	if dt.Date != "" {
		return dt.Date, nil
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return "", err
	}
	if zone != "" {
		if loc, err := time.LoadLocation(zone); err == nil {
			t = t.In(loc)
		}
	}
	return t.Format(event.DateLayout), nil
}

// exDates reads the dates of an EXDATE content line. UTC values are moved
// into zone first, other values keep their wall-clock date.
func exDates(line, zone string) []string {
	_, values, ok := strings.Cut(line, ":")
	if !ok {
		return nil
	}
	var loc *time.Location
	if zone != "" {
		loc, _ = time.LoadLocation(zone)
	}
	var dates []string
	for _, v := range strings.Split(values, ",") {
		v = strings.TrimSpace(v)
		if len(v) < 8 {
			continue
		}
		if strings.HasSuffix(v, "Z") && loc != nil {
			if t, err := time.Parse("20060102T150405Z", v); err == nil {
				dates = append(dates, t.In(loc).Format(event.DateLayout))
				continue
			}
		}
		t, err := time.Parse("20060102", v[:8])
		if err != nil {
			continue
		}
		dates = append(dates, t.Format(event.DateLayout))
	}
	return dates
}
