package event_cache

import (
	"context"
	"errors"
	"testing"

	"github.com/klokku/calcache/pkg/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_FileUpdated(t *testing.T) {
	t.Run("should replace events of a changed file", func(t *testing.T) {
		local := calendar.NewStubCalendar("local")
		local.Seed(single("Dentist", "2025-01-10"))
		h := setup(t, nil, local)
		oldID := idAt(t, h.cache, "local/2025-01-10 Dentist.md")
		changed := single("Dentist", "2025-01-10")
		changed.EndTime = "12:00"
		local.Seed(changed)

		err := h.cache.FileUpdated(ctx, "local/2025-01-10 Dentist.md")

		require.NoError(t, err)
		_, ok := h.cache.GetEventByID(oldID)
		assert.False(t, ok)
		newID := idAt(t, h.cache, "local/2025-01-10 Dentist.md")
		ev, _ := h.cache.GetEventByID(newID)
		assert.Equal(t, "12:00", ev.EndTime)

		notifications := h.views.all()
		require.Len(t, notifications, 1)
		assert.Equal(t, []string{oldID}, notifications[0].Events.ToRemove)
		require.Len(t, notifications[0].Events.ToAdd, 1)
		assert.Equal(t, newID, notifications[0].Events.ToAdd[0].SessionID)
	})

	t.Run("should do nothing when the file is unchanged", func(t *testing.T) {
		local := calendar.NewStubCalendar("local")
		local.Seed(single("Dentist", "2025-01-10"))
		h := setup(t, nil, local)
		id := idAt(t, h.cache, "local/2025-01-10 Dentist.md")

		require.NoError(t, h.cache.FileUpdated(ctx, "local/2025-01-10 Dentist.md"))
		require.NoError(t, h.cache.FileUpdated(ctx, "elsewhere/notes.md"))

		assert.Equal(t, id, idAt(t, h.cache, "local/2025-01-10 Dentist.md"))
		assert.Empty(t, h.views.all())
	})

	t.Run("should be ignored during a silent batch", func(t *testing.T) {
		local := calendar.NewStubCalendar("local")
		h := setup(t, nil, local)
		_, err := h.cache.AddEvent(ctx, "local", single("Dentist", "2025-01-10"), UpdateOptions{Silent: true})
		require.NoError(t, err)
		changed := single("Dentist", "2025-01-10")
		changed.EndTime = "12:00"
		local.Seed(changed)

		require.NoError(t, h.cache.FileUpdated(ctx, "local/2025-01-10 Dentist.md"))

		ev, _ := h.cache.GetEventByID(idAt(t, h.cache, "local/2025-01-10 Dentist.md"))
		assert.Equal(t, "11:00", ev.EndTime)
		assert.Empty(t, h.views.all())
	})
}

// unreadableFileCalendar claims every path but cannot read any of them.
type unreadableFileCalendar struct {
	*calendar.StubCalendar
}

func (unreadableFileCalendar) ContainsPath(string) bool { return true }

func (unreadableFileCalendar) GetEventsInFile(context.Context, string) ([]calendar.EventResponse, error) {
	return nil, errors.New("permission denied")
}

func TestCache_FileUpdated_PartialFailure(t *testing.T) {
	local := calendar.NewStubCalendar("local")
	local.Seed(single("Dentist", "2025-01-10"))
	broken := unreadableFileCalendar{calendar.NewStubCalendar("broken")}
	h := setup(t, nil, local, broken)
	oldID := idAt(t, h.cache, "local/2025-01-10 Dentist.md")
	changed := single("Dentist", "2025-01-10")
	changed.EndTime = "12:00"
	local.Seed(changed)

	err := h.cache.FileUpdated(ctx, "local/2025-01-10 Dentist.md")

	assert.Error(t, err)
	newID := idAt(t, h.cache, "local/2025-01-10 Dentist.md")
	notifications := h.views.all()
	require.Len(t, notifications, 1)
	assert.Equal(t, []string{oldID}, notifications[0].Events.ToRemove)
	require.Len(t, notifications[0].Events.ToAdd, 1)
	assert.Equal(t, newID, notifications[0].Events.ToAdd[0].SessionID)
}

func TestCache_PathDeleted(t *testing.T) {
	local := calendar.NewStubCalendar("local")
	local.Seed(single("Dentist", "2025-01-10"))
	local.Seed(single("Gym", "2025-01-11"))
	h := setup(t, nil, local)
	id := idAt(t, h.cache, "local/2025-01-10 Dentist.md")

	h.cache.PathDeleted("local/2025-01-10 Dentist.md")
	h.cache.PathDeleted("local/never-existed.md")

	assert.Equal(t, 1, h.cache.Count())
	notifications := h.views.all()
	require.Len(t, notifications, 1)
	assert.Equal(t, []string{id}, notifications[0].Events.ToRemove)
}
