package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klokku/calcache/pkg/event"
	"github.com/teambition/rrule-go"
)

var ErrNoOccurrences = errors.New("recurrence ends before its first occurrence")

// Masters without a start bound are anchored here.
const defaultRecurrenceStart = "1970-01-01"

const anchorLayout = "2006-01-02T15:04:05"

var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Anchor is a wall-clock instant tagged with the zone it is expressed in.
// All-day anchors carry a bare date and no zone.
type Anchor struct {
	Local string `json:"local"`
	TZID  string `json:"tzid,omitempty"`
}

func (a Anchor) IsDate() bool {
	return len(a.Local) == len(event.DateLayout)
}

// Time resolves the anchor to an absolute instant. Date anchors resolve to
// midnight UTC.
func (a Anchor) Time() (time.Time, error) {
	if a.IsDate() {
		return event.ParseDate(a.Local)
	}
	loc := time.UTC
	if a.TZID != "" {
		var err error
		if loc, err = loadZone(a.TZID); err != nil {
			return time.Time{}, err
		}
	}
	t, err := time.ParseInLocation(anchorLayout, a.Local, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: anchor %q", ErrBadTime, a.Local)
	}
	return t, nil
}

func (a Anchor) property(name string) string {
	value := strings.NewReplacer("-", "", ":", "").Replace(a.Local)
	if a.IsDate() {
		return name + ";VALUE=DATE:" + value
	}
	if a.TZID == "" {
		return name + ":" + value
	}
	return name + ";TZID=" + a.TZID + ":" + value
}

// Recurrence is the render-ready form of a recurring master.
type Recurrence struct {
	DTStart  Anchor        `json:"dtstart"`
	RRule    string        `json:"rrule"`
	ExDates  []Anchor      `json:"exdate,omitempty"`
	Duration time.Duration `json:"duration"`
	AllDay   bool          `json:"allDay"`
}

// String renders the recurrence as iCalendar content lines.
func (r Recurrence) String() string {
	lines := []string{r.DTStart.property("DTSTART"), "RRULE:" + r.RRule}
	for _, ex := range r.ExDates {
		lines = append(lines, ex.property("EXDATE"))
	}
	return strings.Join(lines, "\n")
}

// BuildRecurrence describes a recurring or rrule master for the renderer.
//
// Recurring masters are anchored in their own zone, falling back to
// displayZone. Rrule masters are always anchored in their authoring zone;
// conversion to the display zone is left to the renderer's expansion.
func BuildRecurrence(ev event.Event, displayZone string) (*Recurrence, error) {
	switch ev.Type {
	case event.TypeRecurring:
		return buildFromPattern(ev, displayZone)
	case event.TypeRRule:
		return buildFromRRule(ev, displayZone)
	default:
		return nil, fmt.Errorf("%w: %s event has no recurrence", event.ErrInvalidEvent, ev.Type)
	}
}

func buildFromPattern(ev event.Event, displayZone string) (*Recurrence, error) {
	zone := ev.Timezone
	if zone == "" {
		zone = displayZone
	}
	loc, err := loadZone(zone)
	if err != nil {
		return nil, err
	}
	opt, err := patternOption(ev)
	if err != nil {
		return nil, err
	}

	baseDate := ev.StartRecur
	if baseDate == "" {
		baseDate = defaultRecurrenceStart
	}
	base, err := wallClock(baseDate, ev.StartTime, loc)
	if err != nil {
		return nil, err
	}

	if ev.EndRecur != "" {
		first, err := FirstOccurrence(ev, base)
		if err != nil {
			return nil, err
		}
		until, err := wallClock(ev.EndRecur, ev.StartTime, loc)
		if err != nil {
			return nil, err
		}
		if first.IsZero() || until.Before(first) {
			return nil, ErrNoOccurrences
		}
		if ev.AllDay {
			until, _ = event.ParseDate(ev.EndRecur)
		}
		opt.Until = until
	}

	rec := &Recurrence{
		DTStart: anchor(baseDate, ev.StartTime, zone, ev.AllDay),
		RRule:   opt.RRuleString(),
		AllDay:  ev.AllDay,
	}
	if err := fillTiming(rec, ev, zone); err != nil {
		return nil, err
	}
	return rec, nil
}

func buildFromRRule(ev event.Event, displayZone string) (*Recurrence, error) {
	zone := ev.Timezone
	if zone == "" {
		zone = displayZone
	}
	if _, err := loadZone(zone); err != nil {
		return nil, err
	}
	rule := NormalizeRRule(ev.RRule)
	if _, err := rrule.StrToROption(rule); err != nil {
		return nil, fmt.Errorf("%w: bad rrule %q: %v", event.ErrInvalidEvent, ev.RRule, err)
	}
	if _, err := event.ParseDate(ev.StartDate); err != nil {
		return nil, err
	}

	rec := &Recurrence{
		DTStart: anchor(ev.StartDate, ev.StartTime, zone, ev.AllDay),
		RRule:   rule,
		AllDay:  ev.AllDay,
	}
	if err := fillTiming(rec, ev, zone); err != nil {
		return nil, err
	}
	return rec, nil
}

// fillTiming sets the duration and one exception anchor per skip date, all
// using the master's own start time in zone.
func fillTiming(rec *Recurrence, ev event.Event, zone string) error {
	if ev.AllDay {
		rec.Duration = 24 * time.Hour
	} else if ev.EndTime != "" {
		d, err := Duration(ev.StartTime, ev.EndTime)
		if err != nil {
			return err
		}
		rec.Duration = d
	}
	for _, d := range ev.SkipDates {
		if _, err := event.ParseDate(d); err != nil {
			return err
		}
		rec.ExDates = append(rec.ExDates, anchor(d, ev.StartTime, zone, ev.AllDay))
	}
	return nil
}

func anchor(date, clock, zone string, allDay bool) Anchor {
	if allDay {
		return Anchor{Local: date}
	}
	return Anchor{Local: date + "T" + clock + ":00", TZID: zone}
}

func patternOption(ev event.Event) (rrule.ROption, error) {
	opt := rrule.ROption{Interval: 1}
	if ev.RepeatInterval > 1 {
		opt.Interval = ev.RepeatInterval
	}
	switch {
	case len(ev.DaysOfWeek) > 0:
		opt.Freq = rrule.WEEKLY
		for _, letter := range ev.DaysOfWeek {
			wd, err := event.ParseWeekdayLetter(letter)
			if err != nil {
				return opt, err
			}
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
		}
	case ev.RepeatOn != nil:
		opt.Freq = rrule.MONTHLY
		opt.Byweekday = []rrule.Weekday{rruleWeekdays[ev.RepeatOn.Weekday].Nth(ev.RepeatOn.Week)}
	case ev.Month != 0:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{ev.Month}
		opt.Bymonthday = []int{ev.DayOfMonth}
	case ev.DayOfMonth != 0:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{ev.DayOfMonth}
	default:
		return opt, fmt.Errorf("%w: recurring event without a pattern", event.ErrInvalidEvent)
	}
	return opt, nil
}

// FirstOccurrence returns the first generated occurrence at or after base,
// or the zero time when the pattern never fires. For weekly patterns this is
// base plus the smallest day offset to any selected weekday.
func FirstOccurrence(ev event.Event, base time.Time) (time.Time, error) {
	if len(ev.DaysOfWeek) > 0 {
		minOffset := 7
		for _, letter := range ev.DaysOfWeek {
			wd, err := event.ParseWeekdayLetter(letter)
			if err != nil {
				return time.Time{}, err
			}
			offset := (int(wd) - int(base.Weekday()) + 7) % 7
			if offset < minOffset {
				minOffset = offset
			}
		}
		return base.AddDate(0, 0, minOffset), nil
	}
	opt, err := patternOption(ev)
	if err != nil {
		return time.Time{}, err
	}
	opt.Dtstart = base
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", event.ErrInvalidEvent, err)
	}
	return r.After(base, true), nil
}

// NormalizeRRule strips DTSTART lines and the RRULE: prefix from a rule as it
// appears in feeds, leaving the bare rule parameters.
func NormalizeRRule(raw string) string {
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToUpper(line), "DTSTART") {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(line), "RRULE:") {
			return line[len("RRULE:"):]
		}
		if !strings.Contains(line, ":") {
			return line
		}
	}
	return ""
}
