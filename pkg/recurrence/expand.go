package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

const defaultMaxOccurrences = 5000

type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Expand lists the occurrences of rec that start within [from, to], with
// exception dates removed. Timed occurrences keep the wall-clock time of the
// anchor's zone across DST changes.
func Expand(rec *Recurrence, from, to time.Time) ([]Occurrence, error) {
	if to.Before(from) {
		return nil, errors.New("expand: range end is before range start")
	}
	opt, err := rrule.StrToROption(rec.RRule)
	if err != nil {
		return nil, fmt.Errorf("expand: parse rrule %q: %w", rec.RRule, err)
	}
	start, err := rec.DTStart.Time()
	if err != nil {
		return nil, err
	}
	opt.Dtstart = start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("expand: %w", err)
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range rec.ExDates {
		t, err := ex.Time()
		if err != nil {
			return nil, err
		}
		set.ExDate(t.In(start.Location()))
	}

	times := set.Between(from.In(start.Location()), to.In(start.Location()), true)
	if len(times) > defaultMaxOccurrences {
		times = times[:defaultMaxOccurrences]
	}
	out := make([]Occurrence, 0, len(times))
	for _, t := range times {
		occ := Occurrence{Start: t}
		if rec.AllDay {
			occ.End = t.AddDate(0, 0, 1)
		} else {
			occ.End = t.Add(rec.Duration)
		}
		out = append(out, occ)
	}
	return out, nil
}
