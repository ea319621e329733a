package caldav

import (
	"context"
	"errors"
	"testing"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/klokku/calcache/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

type stubClient struct {
	calendars []caldav.Calendar
	objects   []caldav.CalendarObject
	queryErr  error
	queried   []string
}

func (s *stubClient) FindCurrentUserPrincipal(context.Context) (string, error) {
	return "/principals/ana/", nil
}

func (s *stubClient) FindCalendarHomeSet(_ context.Context, principal string) (string, error) {
	return principal + "calendars/", nil
}

func (s *stubClient) FindCalendars(context.Context, string) ([]caldav.Calendar, error) {
	return s.calendars, nil
}

func (s *stubClient) QueryCalendar(_ context.Context, path string, query *caldav.CalendarQuery) ([]caldav.CalendarObject, error) {
	s.queried = append(s.queried, path)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.objects, nil
}

func object(path string, events ...*goical.Event) caldav.CalendarObject {
	cal := goical.NewCalendar()
	cal.Props.SetText(goical.PropVersion, "2.0")
	cal.Props.SetText(goical.PropProductID, "-//calcache//test//EN")
	for _, ev := range events {
		cal.Children = append(cal.Children, ev.Component)
	}
	return caldav.CalendarObject{Path: path, Data: cal}
}

func vevent(uid, summary string, start time.Time) *goical.Event {
	ev := goical.NewEvent()
	ev.Props.SetText(goical.PropUID, uid)
	ev.Props.SetText(goical.PropSummary, summary)
	ev.Props.SetDateTime(goical.PropDateTimeStamp, start)
	ev.Props.SetDateTime(goical.PropDateTimeStart, start)
	ev.Props.SetDateTime(goical.PropDateTimeEnd, start.Add(time.Hour))
	return ev
}

func TestCalendar_GetEvents(t *testing.T) {
	t.Run("should convert calendar objects", func(t *testing.T) {
		// given
		review := vevent("review", "Review", time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC))
		weekly := vevent("weekly", "Weekly", time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC))
		weekly.Props.SetText(goical.PropRecurrenceRule, "FREQ=WEEKLY;BYDAY=MO")
		client := &stubClient{objects: []caldav.CalendarObject{
			object("/cal/work/review.ics", review),
			object("/cal/work/weekly.ics", weekly),
			{Path: "/cal/work/empty.ics"},
		}}
		cal := New("work", "Work", "", "/cal/work/", client)

		// when
		events, err := cal.GetEvents(ctx)

		// then
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, []string{"/cal/work/"}, client.queried)
		single := events[0].Event
		assert.Equal(t, "Review", single.Title)
		assert.Equal(t, "UTC", single.Timezone)
		assert.Equal(t, "2025-01-10", single.Date)
		assert.Equal(t, "14:00", single.StartTime)
		assert.Equal(t, "15:00", single.EndTime)
		assert.Nil(t, events[0].Location)
		master := events[1].Event
		assert.Equal(t, event.TypeRRule, master.Type)
		assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO", master.RRule)

		id, ok := cal.GetLocalIdentifier(master)
		assert.True(t, ok)
		assert.Equal(t, "weekly", id)
	})

	t.Run("should discover the first event collection", func(t *testing.T) {
		client := &stubClient{calendars: []caldav.Calendar{
			{Path: "/principals/ana/calendars/tasks/", SupportedComponentSet: []string{goical.CompToDo}},
			{Path: "/principals/ana/calendars/home/", SupportedComponentSet: []string{goical.CompEvent, goical.CompToDo}},
		}}
		cal := New("home", "Home", "", "", client)

		require.NoError(t, cal.Revalidate(ctx))
		require.NoError(t, cal.Revalidate(ctx))

		assert.Equal(t, []string{"/principals/ana/calendars/home/", "/principals/ana/calendars/home/"}, client.queried)
	})

	t.Run("should fail without an event collection", func(t *testing.T) {
		client := &stubClient{calendars: []caldav.Calendar{
			{Path: "/tasks/", SupportedComponentSet: []string{goical.CompToDo}},
		}}

		_, err := New("home", "Home", "", "", client).GetEvents(ctx)

		assert.ErrorIs(t, err, ErrNoCalendar)
	})

	t.Run("should keep previous events when a refresh fails", func(t *testing.T) {
		client := &stubClient{objects: []caldav.CalendarObject{
			object("/cal/a.ics", vevent("a", "A", time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC))),
		}}
		cal := New("work", "Work", "", "/cal/", client)
		_, err := cal.GetEvents(ctx)
		require.NoError(t, err)
		client.queryErr = errors.New("server down")

		assert.Error(t, cal.Revalidate(ctx))
		events, err := cal.GetEvents(ctx)

		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}
