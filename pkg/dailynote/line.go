package dailynote

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/klokku/calcache/pkg/event"
)

var (
	listItem   = regexp.MustCompile(`^(\s*)[-*]\s+(?:\[( |x|X)\]\s+)?(.*)$`)
	timeRange  = regexp.MustCompile(`^(\d{1,2}:\d{2})(?:\s*-\s*(\d{1,2}:\d{2}))?\s+`)
	inlineAttr = regexp.MustCompile(`\[([A-Za-z]+)::\s*([^\]]*)\]`)
)

// parseLine reads an event from a list item such as
// "- [ ] 10:00-11:00 Title [category:: Work]". ok is false for lines that are
// not list items or have no title.
func parseLine(line, date string) (ev event.Event, ok bool, err error) {
	m := listItem.FindStringSubmatch(line)
	if m == nil {
		return event.Event{}, false, nil
	}
	ev = event.Event{Type: event.TypeSingle, Date: date}
	checkbox, text := m[2], m[3]
	if checkbox != "" {
		ev.Task = true
	}

	if tm := timeRange.FindStringSubmatch(text); tm != nil {
		ev.StartTime = padClock(tm[1])
		if tm[2] != "" {
			ev.EndTime = padClock(tm[2])
		}
		text = text[len(tm[0]):]
	} else {
		ev.AllDay = true
	}

	for _, attr := range inlineAttr.FindAllStringSubmatch(text, -1) {
		value := strings.TrimSpace(attr[2])
		switch attr[1] {
		case "category":
			ev.Category = value
		case "subCategory":
			ev.SubCategory = value
		case "timezone":
			ev.Timezone = value
		case "endDate":
			ev.EndDate = value
		case "id":
			ev.ID = value
		case "completed":
			t, perr := time.Parse(time.RFC3339, value)
			if perr != nil {
				return event.Event{}, true, fmt.Errorf("%w: bad completion time %q", event.ErrInvalidEvent, value)
			}
			ev.CompletedAt = &t
		}
	}
	if ev.Task && (checkbox == "x" || checkbox == "X") && ev.CompletedAt == nil {
		t, perr := event.ParseDate(date)
		if perr != nil {
			return event.Event{}, true, perr
		}
		ev.CompletedAt = &t
	}

	ev.Title = strings.Join(strings.Fields(inlineAttr.ReplaceAllString(text, "")), " ")
	if ev.Title == "" {
		return event.Event{}, false, nil
	}
	return ev, true, nil
}

func padClock(s string) string {
	if len(s) == 4 {
		return "0" + s
	}
	return s
}

// formatLine is the inverse of parseLine. The date is carried by the note
// name and is not written.
func formatLine(ev event.Event) string {
	var b strings.Builder
	b.WriteString("- ")
	if ev.Task {
		if ev.IsCompleted() {
			b.WriteString("[x] ")
		} else {
			b.WriteString("[ ] ")
		}
	}
	if !ev.AllDay && ev.StartTime != "" {
		b.WriteString(ev.StartTime)
		if ev.EndTime != "" {
			b.WriteString("-" + ev.EndTime)
		}
		b.WriteString(" ")
	}
	b.WriteString(ev.Title)
	attr := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&b, " [%s:: %s]", key, value)
		}
	}
	attr("category", ev.Category)
	attr("subCategory", ev.SubCategory)
	attr("timezone", ev.Timezone)
	attr("endDate", ev.EndDate)
	attr("id", ev.ID)
	if ev.CompletedAt != nil {
		attr("completed", ev.CompletedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}
