package ical

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/klokku/calcache/pkg/event"
	"github.com/klokku/calcache/pkg/recurrence"
	log "github.com/sirupsen/logrus"
)

var ErrEmptyFeed = errors.New("empty calendar feed")

const untitled = "(No title)"

// Parse converts the VEVENTs of an iCalendar document into events. Recurring
// VEVENTs become rrule events, and VEVENTs with a RECURRENCE-ID become
// overrides of their master, whose skip dates gain the replaced date.
// Events that cannot be converted are logged and skipped.
func Parse(body []byte) ([]event.Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyFeed
	}
	cal, err := ics.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar: %w", err)
	}

	var (
		events    []event.Event
		overrides []override
		masters   = map[string]int{}
	)
	for _, ve := range cal.Events() {
		ev, recurrenceID, cancelled, err := convert(ve)
		if err != nil {
			log.Warnf("skipping VEVENT: %v", err)
			continue
		}
		if recurrenceID != nil {
			overrides = append(overrides, override{event: ev, recurrenceID: *recurrenceID, cancelled: cancelled})
			continue
		}
		if cancelled {
			continue
		}
		if ev.IsMaster() {
			masters[ev.ID] = len(events)
		}
		events = append(events, ev)
	}

	for _, o := range overrides {
		idx, ok := masters[o.event.ID]
		if !ok {
			if o.cancelled {
				continue
			}
			// orphaned instance, keep it as a plain event
			events = append(events, o.event)
			continue
		}
		master := &events[idx]
		date := o.recurrenceID.dateIn(master.Timezone)
		master.AddSkipDate(date)
		if o.cancelled {
			continue
		}
		ev := o.event
		ev.RecurringEventID = master.ID
		ev.ID = master.ID + "#" + date
		if ev.Date != date {
			ev.InstanceDate = date
		}
		events = append(events, ev)
	}
	return events, nil
}

type override struct {
	event        event.Event
	recurrenceID icsTime
	cancelled    bool
}

// icsTime is a DATE or DATE-TIME property value. Floating values carry their
// wall clock in UTC with floating set.
type icsTime struct {
	t        time.Time
	dateOnly bool
	floating bool
	zone     string
}

func (v icsTime) dateIn(zone string) string {
	if v.dateOnly || v.floating || zone == "" {
		return v.t.Format(event.DateLayout)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return v.t.Format(event.DateLayout)
	}
	return v.t.In(loc).Format(event.DateLayout)
}

func convert(ve *ics.VEvent) (ev event.Event, recurrenceID *icsTime, cancelled bool, err error) {
	uid := value(ve, ics.ComponentPropertyUniqueId)
	if uid == "" {
		return ev, nil, false, errors.New("missing UID")
	}
	startProp := ve.GetProperty(ics.ComponentPropertyDtStart)
	if startProp == nil {
		return ev, nil, false, fmt.Errorf("%s: missing DTSTART", uid)
	}
	start, err := parseProperty(startProp)
	if err != nil {
		return ev, nil, false, fmt.Errorf("%s: %w", uid, err)
	}

	ev = event.Event{
		Type:     event.TypeSingle,
		ID:       uid,
		Title:    unescape(value(ve, ics.ComponentPropertySummary)),
		Timezone: start.zone,
		AllDay:   start.dateOnly,
	}
	if ev.Title == "" {
		ev.Title = untitled
	}
	if categories := value(ve, "CATEGORIES"); categories != "" {
		ev.Category = strings.TrimSpace(strings.Split(categories, ",")[0])
	}
	cancelled = strings.EqualFold(value(ve, "STATUS"), "CANCELLED")

	startDate := start.t.Format(event.DateLayout)
	endDate := startDate
	if !ev.AllDay {
		ev.StartTime = start.t.Format(recurrence.TimeLayout)
	}
	if end, ok, err := endOf(ve, start); err != nil {
		return ev, nil, false, fmt.Errorf("%s: %w", uid, err)
	} else if ok {
		if ev.AllDay {
			// DTEND is exclusive for all-day events
			last := end.t.AddDate(0, 0, -1)
			if last.After(start.t) {
				endDate = last.Format(event.DateLayout)
			}
		} else {
			endDate = end.t.Format(event.DateLayout)
			ev.EndTime = end.t.Format(recurrence.TimeLayout)
		}
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		rid, err := parseProperty(ridProp)
		if err != nil {
			return ev, nil, false, fmt.Errorf("%s: bad RECURRENCE-ID: %w", uid, err)
		}
		recurrenceID = &rid
	}

	rule := value(ve, ics.ComponentPropertyRrule)
	if rule == "" || recurrenceID != nil {
		ev.Date = startDate
		if endDate > startDate {
			ev.EndDate = endDate
		}
		return ev, recurrenceID, cancelled, nil
	}

	ev.Type = event.TypeRRule
	ev.RRule = recurrence.NormalizeRRule(rule)
	ev.StartDate = startDate
	for _, p := range ve.GetProperties(ics.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			ex, err := parseValue(part, p.ICalParameters)
			if err != nil {
				log.Warnf("%s: ignoring EXDATE %q: %v", uid, part, err)
				continue
			}
			ev.AddSkipDate(ex.dateIn(ev.Timezone))
		}
	}
	return ev, nil, cancelled, nil
}

// endOf resolves DTEND or DURATION into the start's zone.
func endOf(ve *ics.VEvent, start icsTime) (icsTime, bool, error) {
	if p := ve.GetProperty(ics.ComponentPropertyDtEnd); p != nil {
		end, err := parseProperty(p)
		if err != nil {
			return icsTime{}, false, fmt.Errorf("bad DTEND: %w", err)
		}
		if !start.floating && !end.floating && start.zone != "" {
			if loc, err := time.LoadLocation(start.zone); err == nil {
				end.t = end.t.In(loc)
			}
		}
		return end, true, nil
	}
	if raw := value(ve, "DURATION"); raw != "" {
		d, err := parseDuration(raw)
		if err != nil {
			return icsTime{}, false, err
		}
		end := start
		end.t = start.t.Add(d)
		return end, true, nil
	}
	return icsTime{}, false, nil
}

func parseProperty(p *ics.IANAProperty) (icsTime, error) {
	return parseValue(p.Value, p.ICalParameters)
}

func parseValue(raw string, params map[string][]string) (icsTime, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == len("20060102") {
		t, err := time.Parse("20060102", raw)
		if err != nil {
			return icsTime{}, err
		}
		return icsTime{t: t, dateOnly: true, floating: true}, nil
	}
	if strings.HasSuffix(raw, "Z") {
		t, err := time.Parse("20060102T150405Z", raw)
		if err != nil {
			return icsTime{}, err
		}
		return icsTime{t: t, zone: "UTC"}, nil
	}
	if tzids := params["TZID"]; len(tzids) > 0 && tzids[0] != "" {
		tzid := strings.Trim(tzids[0], `"`)
		if loc, err := time.LoadLocation(tzid); err == nil {
			t, err := time.ParseInLocation("20060102T150405", raw, loc)
			if err != nil {
				return icsTime{}, err
			}
			return icsTime{t: t, zone: tzid}, nil
		}
		log.Warnf("unknown TZID %q, treating %s as floating", tzid, raw)
	}
	t, err := time.Parse("20060102T150405", raw)
	if err != nil {
		return icsTime{}, err
	}
	return icsTime{t: t, floating: true}, nil
}

var durationPattern = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

func parseDuration(raw string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, fmt.Errorf("bad DURATION %q", raw)
	}
	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, unit := range units {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+2])
		if err != nil {
			return 0, err
		}
		d += time.Duration(n) * unit
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

func value(ve *ics.VEvent, prop ics.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

var unescaper = strings.NewReplacer(`\,`, ",", `\;`, ";", `\n`, " ", `\N`, " ", `\\`, `\`)

func unescape(s string) string {
	return unescaper.Replace(s)
}
