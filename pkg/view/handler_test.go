package view

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/klokku/calcache/pkg/calendar"
	"github.com/klokku/calcache/pkg/event"
	"github.com/klokku/calcache/pkg/event_cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

type fixture struct {
	handler *Handler
	cache   *event_cache.Cache
	local   *calendar.StubCalendar
	archive *calendar.StubCalendar
	feed    *calendar.StubCalendar
}

func setupHandlerTest(t *testing.T) *fixture {
	local := calendar.NewStubCalendar("local")
	local.Seed(event.Event{Type: event.TypeSingle, Title: "Dentist", Category: "health", Date: "2025-01-10", StartTime: "10:00", EndTime: "11:00"})
	local.Seed(event.Event{Type: event.TypeRecurring, Title: "Standup", DaysOfWeek: []string{"M", "W"}, StartRecur: "2025-01-01", StartTime: "09:00", EndTime: "09:15", SkipDates: []string{"2025-01-08"}})
	local.Seed(event.Event{Type: event.TypeSingle, Title: "Standup", Date: "2025-01-08", StartTime: "11:00", EndTime: "11:15", RecurringEventID: "local/Standup.md"})
	archive := calendar.NewStubCalendar("archive")
	feed := calendar.NewReadOnlyStubCalendar("feed")
	feed.Seed(event.Event{Type: event.TypeSingle, Title: "Holiday", AllDay: true, Date: "2025-01-06"})

	cache := event_cache.New(event_cache.Options{
		Calendars:       []calendar.Calendar{local, archive, feed},
		DisplayTimezone: "UTC",
	})
	require.NoError(t, cache.Populate(ctx))
	require.NoError(t, cache.WaitForIdentifiers(ctx))

	handler := NewHandler(cache, map[string]string{"health": "#ff0000"})
	return &fixture{handler: handler, cache: cache, local: local, archive: archive, feed: feed}
}

func (f *fixture) idAt(t *testing.T, path string) string {
	t.Helper()
	for _, source := range f.cache.GetAllEvents() {
		for _, stored := range source.Events {
			if stored.Location != nil && stored.Location.Path == path {
				return stored.SessionID
			}
		}
	}
	t.Fatalf("no event stored at %s", path)
	return ""
}

func request(method, target string, body any, vars map[string]string) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func TestHandler_GetSources(t *testing.T) {
	f := setupHandlerTest(t)
	w := httptest.NewRecorder()

	f.handler.GetSources(w, request(http.MethodGet, "/api/sources", nil, nil))

	require.Equal(t, http.StatusOK, w.Code)
	var sources []SourceDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sources))
	require.Len(t, sources, 3)

	local := sources[0]
	assert.Equal(t, "local", local.CalendarID)
	assert.True(t, local.Editable)
	require.Len(t, local.Events, 3)
	byTitle := map[string][]EventDTO{}
	for _, ev := range local.Events {
		byTitle[ev.Title] = append(byTitle[ev.Title], ev)
	}
	dentist := byTitle["Dentist"][0]
	assert.Equal(t, "2025-01-10T10:00:00Z", dentist.Start)
	assert.Equal(t, "2025-01-10T11:00:00Z", dentist.End)
	assert.Equal(t, "#ff0000", dentist.Color)
	assert.Equal(t, "health", dentist.ResourceID)
	assert.True(t, dentist.Editable)

	feed := sources[2]
	assert.False(t, feed.Editable)
	require.Len(t, feed.Events, 1)
	assert.Equal(t, "2025-01-06", feed.Events[0].Start)
	assert.Equal(t, "2025-01-07", feed.Events[0].End)
	assert.False(t, feed.Events[0].Editable)
}

func TestHandler_GetOccurrences(t *testing.T) {
	t.Run("should expand recurring events within the range", func(t *testing.T) {
		f := setupHandlerTest(t)
		w := httptest.NewRecorder()

		f.handler.GetOccurrences(w, request(http.MethodGet, "/api/occurrences?from=2025-01-06&to=2025-01-12", nil, nil))

		require.Equal(t, http.StatusOK, w.Code)
		var occurrences []OccurrenceDTO
		require.NoError(t, json.NewDecoder(w.Body).Decode(&occurrences))
		titles := map[string]int{}
		for _, o := range occurrences {
			titles[o.Title]++
		}
		// Monday 6th only; Wednesday 8th is replaced by its override
		assert.Equal(t, 2, titles["Standup"])
		assert.Equal(t, 1, titles["Dentist"])
		assert.Equal(t, 1, titles["Holiday"])
	})

	t.Run("should reject a bad range", func(t *testing.T) {
		f := setupHandlerTest(t)

		for _, query := range []string{"?from=2025-01-12&to=2025-01-06", "?from=yesterday&to=2025-01-06", "?to=2025-01-06"} {
			w := httptest.NewRecorder()
			f.handler.GetOccurrences(w, request(http.MethodGet, "/api/occurrences"+query, nil, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code, query)
		}
	})
}

func TestHandler_CreateEvent(t *testing.T) {
	t.Run("should create an event in an editable calendar", func(t *testing.T) {
		f := setupHandlerTest(t)
		w := httptest.NewRecorder()
		body := map[string]any{"title": "Gym", "date": "2025-01-11", "startTime": "18:00", "endTime": "19:00"}

		f.handler.CreateEvent(w, request(http.MethodPost, "/api/calendars/local/events", body, map[string]string{"calendarId": "local"}))

		require.Equal(t, http.StatusCreated, w.Code)
		var created CreatedDTO
		require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
		ev, ok := f.cache.GetEventByID(created.ID)
		require.True(t, ok)
		assert.Equal(t, event.TypeSingle, ev.Type)
		_, ok = f.local.Stored("local/2025-01-11 Gym.md")
		assert.True(t, ok)
	})

	tests := []struct {
		name       string
		calendarID string
		body       any
		want       int
	}{
		{"should refuse a read-only calendar", "feed", map[string]any{"title": "Gym", "date": "2025-01-11"}, http.StatusForbidden},
		{"should report an unknown calendar", "nope", map[string]any{"title": "Gym", "date": "2025-01-11"}, http.StatusNotFound},
		{"should reject an invalid event", "local", map[string]any{"date": "2025-01-11"}, http.StatusBadRequest},
		{"should reject a malformed body", "local", "not an event", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupHandlerTest(t)
			w := httptest.NewRecorder()

			f.handler.CreateEvent(w, request(http.MethodPost, "/", tt.body, map[string]string{"calendarId": tt.calendarID}))

			assert.Equal(t, tt.want, w.Code)
			var resp map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestHandler_UpdateEvent(t *testing.T) {
	t.Run("should apply a renderer edit", func(t *testing.T) {
		f := setupHandlerTest(t)
		id := f.idAt(t, "local/2025-01-10 Dentist.md")
		w := httptest.NewRecorder()
		body := map[string]any{
			"title":         "Dentist",
			"start":         "2025-01-10T12:00:00Z",
			"end":           "2025-01-10T13:30:00Z",
			"resourceId":    "health",
			"extendedProps": map[string]any{},
		}

		f.handler.UpdateEvent(w, request(http.MethodPut, "/api/events/"+id, body, map[string]string{"id": id}))

		require.Equal(t, http.StatusNoContent, w.Code)
		stored, ok := f.local.Stored("local/2025-01-10 Dentist.md")
		require.True(t, ok)
		assert.Equal(t, "12:00", stored.StartTime)
		assert.Equal(t, "13:30", stored.EndTime)
		assert.Equal(t, "health", stored.Category)
		assert.Empty(t, stored.Timezone)
	})

	t.Run("should keep the rule of a recurring event", func(t *testing.T) {
		f := setupHandlerTest(t)
		id := f.idAt(t, "local/Standup.md")
		w := httptest.NewRecorder()
		body := map[string]any{
			"title": "Standup",
			"start": "2025-01-06T09:30:00Z",
			"end":   "2025-01-06T09:45:00Z",
		}

		f.handler.UpdateEvent(w, request(http.MethodPut, "/", body, map[string]string{"id": id}))

		require.Equal(t, http.StatusNoContent, w.Code)
		stored, ok := f.local.Stored("local/Standup.md")
		require.True(t, ok)
		assert.Equal(t, event.TypeRecurring, stored.Type)
		assert.Equal(t, []string{"M", "W"}, stored.DaysOfWeek)
		assert.Equal(t, []string{"2025-01-08"}, stored.SkipDates)
		assert.Equal(t, "09:30", stored.StartTime)
	})

	t.Run("should report a missing event", func(t *testing.T) {
		f := setupHandlerTest(t)
		w := httptest.NewRecorder()
		body := map[string]any{"title": "x", "start": "2025-01-06T09:30:00Z"}

		f.handler.UpdateEvent(w, request(http.MethodPut, "/", body, map[string]string{"id": "missing"}))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_DeleteEvent(t *testing.T) {
	t.Run("should delete a single event", func(t *testing.T) {
		f := setupHandlerTest(t)
		id := f.idAt(t, "local/2025-01-10 Dentist.md")
		w := httptest.NewRecorder()

		f.handler.DeleteEvent(w, request(http.MethodDelete, "/", nil, map[string]string{"id": id}))

		assert.Equal(t, http.StatusNoContent, w.Code)
		_, ok := f.cache.GetEventByID(id)
		assert.False(t, ok)
		_, ok = f.local.Stored("local/2025-01-10 Dentist.md")
		assert.False(t, ok)
	})

	t.Run("should ask for a choice when overrides exist", func(t *testing.T) {
		f := setupHandlerTest(t)
		id := f.idAt(t, "local/Standup.md")
		w := httptest.NewRecorder()

		f.handler.DeleteEvent(w, request(http.MethodDelete, "/", nil, map[string]string{"id": id}))

		assert.Equal(t, http.StatusConflict, w.Code)
		_, ok := f.local.Stored("local/Standup.md")
		assert.True(t, ok)
	})

	t.Run("should promote overrides on request", func(t *testing.T) {
		f := setupHandlerTest(t)
		id := f.idAt(t, "local/Standup.md")
		w := httptest.NewRecorder()

		f.handler.DeleteEvent(w, request(http.MethodDelete, "/?children=promote", nil, map[string]string{"id": id}))

		assert.Equal(t, http.StatusNoContent, w.Code)
		_, ok := f.local.Stored("local/Standup.md")
		assert.False(t, ok)
		promoted, ok := f.local.Stored("local/2025-01-08 Standup.md")
		require.True(t, ok)
		assert.Empty(t, promoted.RecurringEventID)
	})

	t.Run("should delete overrides on request", func(t *testing.T) {
		f := setupHandlerTest(t)
		id := f.idAt(t, "local/Standup.md")
		w := httptest.NewRecorder()

		f.handler.DeleteEvent(w, request(http.MethodDelete, "/?children=delete", nil, map[string]string{"id": id}))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, 1, f.local.Len())
	})

	t.Run("should reject an unknown choice", func(t *testing.T) {
		f := setupHandlerTest(t)
		id := f.idAt(t, "local/Standup.md")
		w := httptest.NewRecorder()

		f.handler.DeleteEvent(w, request(http.MethodDelete, "/?children=keep", nil, map[string]string{"id": id}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_Instances(t *testing.T) {
	t.Run("should create an override", func(t *testing.T) {
		f := setupHandlerTest(t)
		id := f.idAt(t, "local/Standup.md")
		w := httptest.NewRecorder()

		f.handler.CreateInstance(w, request(http.MethodPost, "/", map[string]any{"title": "Planning"},
			map[string]string{"id": id, "date": "2025-01-13"}))

		require.Equal(t, http.StatusCreated, w.Code)
		master, ok := f.local.Stored("local/Standup.md")
		require.True(t, ok)
		assert.Contains(t, master.SkipDates, "2025-01-13")
		override, ok := f.local.Stored("local/2025-01-13 Planning.md")
		require.True(t, ok)
		assert.Equal(t, "local/Standup.md", override.RecurringEventID)
	})

	t.Run("should reject a bad date", func(t *testing.T) {
		f := setupHandlerTest(t)
		id := f.idAt(t, "local/Standup.md")
		w := httptest.NewRecorder()

		f.handler.CreateInstance(w, request(http.MethodPost, "/", nil, map[string]string{"id": id, "date": "13/01/2025"}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("should mark an occurrence done", func(t *testing.T) {
		f := setupHandlerTest(t)
		id := f.idAt(t, "local/Standup.md")
		w := httptest.NewRecorder()

		f.handler.SetInstanceCompletion(w, request(http.MethodPut, "/", CompletionDTO{Done: true},
			map[string]string{"id": id, "date": "2025-01-15"}))

		require.Equal(t, http.StatusNoContent, w.Code)
		override, ok := f.local.Stored("local/2025-01-15 Standup.md")
		require.True(t, ok)
		assert.True(t, override.Task)
		assert.NotNil(t, override.CompletedAt)
	})

	t.Run("should refuse a single event", func(t *testing.T) {
		f := setupHandlerTest(t)
		id := f.idAt(t, "local/2025-01-10 Dentist.md")
		w := httptest.NewRecorder()

		f.handler.SetInstanceCompletion(w, request(http.MethodPut, "/", CompletionDTO{Done: true},
			map[string]string{"id": id, "date": "2025-01-10"}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_MoveEvent(t *testing.T) {
	f := setupHandlerTest(t)
	id := f.idAt(t, "local/2025-01-10 Dentist.md")
	w := httptest.NewRecorder()

	f.handler.MoveEvent(w, request(http.MethodPut, "/", MoveDTO{CalendarID: "archive"}, map[string]string{"id": id}))

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, f.archive.Len())
	_, ok := f.local.Stored("local/2025-01-10 Dentist.md")
	assert.False(t, ok)
	_, ok = f.cache.GetEventByID(id)
	assert.True(t, ok)
}

func TestHandler_Revalidate(t *testing.T) {
	f := setupHandlerTest(t)
	before := f.cache.LastNotification()
	w := httptest.NewRecorder()

	f.handler.Revalidate(w, request(http.MethodPost, "/api/revalidate?force=true", nil, nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, f.feed.RevalidateCalls)

	w = httptest.NewRecorder()
	f.handler.GetUpdates(w, request(http.MethodGet, "/api/updates", nil, nil))
	var updates UpdatesDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&updates))
	assert.Greater(t, updates.Seq, before)
}

func TestMergeEdit(t *testing.T) {
	t.Run("should keep identity of a single event", func(t *testing.T) {
		stored := event.Event{Type: event.TypeSingle, ID: "abc", Title: "Old", Date: "2025-01-10", StartTime: "10:00", Timezone: "Europe/Berlin", RecurringEventID: "master"}
		edited := event.Event{Type: event.TypeSingle, Title: "New", Date: "2025-01-11", StartTime: "11:00", Timezone: "Europe/Berlin"}

		merged := mergeEdit(stored, edited)

		assert.Equal(t, "abc", merged.ID)
		assert.Equal(t, "master", merged.RecurringEventID)
		assert.Equal(t, "New", merged.Title)
		assert.Equal(t, "2025-01-11", merged.Date)
		assert.Equal(t, "Europe/Berlin", merged.Timezone)
	})

	t.Run("should remember the occurrence a dragged override replaces", func(t *testing.T) {
		stored := event.Event{Type: event.TypeSingle, Title: "Standup", Date: "2025-01-13", AllDay: true, RecurringEventID: "local/Standup.md"}

		moved := mergeEdit(stored, event.Event{Type: event.TypeSingle, Title: "Standup", Date: "2025-01-14", AllDay: true})
		assert.Equal(t, "2025-01-14", moved.Date)
		assert.Equal(t, "2025-01-13", moved.InstanceDate)

		back := mergeEdit(moved, event.Event{Type: event.TypeSingle, Title: "Standup", Date: "2025-01-13", AllDay: true})
		assert.Empty(t, back.InstanceDate)

		again := mergeEdit(moved, event.Event{Type: event.TypeSingle, Title: "Standup", Date: "2025-01-15", AllDay: true})
		assert.Equal(t, "2025-01-13", again.InstanceDate)
	})

	t.Run("should keep a monthly pattern", func(t *testing.T) {
		stored := event.Event{Type: event.TypeRecurring, Title: "Rent", DayOfMonth: 1, StartTime: "08:00"}
		edited := event.Event{Type: event.TypeRecurring, Title: "Rent", DaysOfWeek: []string{"M"}, AllDay: true}

		merged := mergeEdit(stored, edited)

		assert.Equal(t, 1, merged.DayOfMonth)
		assert.Empty(t, merged.DaysOfWeek)
		assert.True(t, merged.AllDay)
		assert.Empty(t, merged.StartTime)
	})
}
