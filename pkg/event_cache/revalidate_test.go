package event_cache

import (
	"errors"
	"testing"

	"github.com/klokku/calcache/pkg/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_RevalidateRemoteCalendars(t *testing.T) {
	t.Run("should replace remote events and notify per calendar", func(t *testing.T) {
		feed := calendar.NewReadOnlyStubCalendar("feed")
		feed.Seed(single("Webinar", "2025-01-10"))
		h := setup(t, nil, feed)
		feed.Seed(single("Keynote", "2025-01-11"))

		err := h.cache.RevalidateRemoteCalendars(ctx, false)

		require.NoError(t, err)
		assert.Equal(t, 1, feed.RevalidateCalls)
		assert.Equal(t, 2, h.cache.Count())
		notifications := h.views.all()
		require.Len(t, notifications, 1)
		assert.Equal(t, NotificationCalendar, notifications[0].Kind)
		assert.Equal(t, "feed", notifications[0].Calendar.CalendarID)
		assert.False(t, notifications[0].Calendar.Editable)
		assert.Len(t, notifications[0].Calendar.Events, 2)
	})

	t.Run("should throttle unforced passes", func(t *testing.T) {
		feed := calendar.NewReadOnlyStubCalendar("feed")
		h := setup(t, nil, feed)

		require.NoError(t, h.cache.RevalidateRemoteCalendars(ctx, false))
		require.NoError(t, h.cache.RevalidateRemoteCalendars(ctx, false))
		assert.Equal(t, 1, feed.RevalidateCalls)

		h.clock.Advance(MinRevalidationInterval - 1)
		require.NoError(t, h.cache.RevalidateRemoteCalendars(ctx, false))
		assert.Equal(t, 1, feed.RevalidateCalls)

		h.clock.Advance(1)
		require.NoError(t, h.cache.RevalidateRemoteCalendars(ctx, false))
		assert.Equal(t, 2, feed.RevalidateCalls)

		require.NoError(t, h.cache.RevalidateRemoteCalendars(ctx, true))
		assert.Equal(t, 3, feed.RevalidateCalls)
	})

	t.Run("should skip a pass while another one runs", func(t *testing.T) {
		feed := calendar.NewReadOnlyStubCalendar("feed")
		h := setup(t, nil, feed)
		h.cache.revalidating.Store(true)

		require.NoError(t, h.cache.RevalidateRemoteCalendars(ctx, true))

		assert.Equal(t, 0, feed.RevalidateCalls)
	})

	t.Run("should aggregate failures into one notice", func(t *testing.T) {
		offline := calendar.NewReadOnlyStubCalendar("offline")
		offline.Seed(single("Old", "2025-01-10"))
		broken := calendar.NewReadOnlyStubCalendar("broken")
		healthy := calendar.NewReadOnlyStubCalendar("healthy")
		healthy.Seed(single("Fresh", "2025-01-10"))
		h := setup(t, nil, offline, broken, healthy)
		offline.RevalidateErr = errors.New("offline")
		broken.GetEventsErr = errors.New("bad feed")

		err := h.cache.RevalidateRemoteCalendars(ctx, true)

		assert.Error(t, err)
		notices := h.notices.all()
		require.Len(t, notices, 1)
		assert.Contains(t, notices[0], "2 calendar(s)")
		assert.Contains(t, notices[0], "offline")
		assert.Contains(t, notices[0], "broken")
		assert.Equal(t, 2, h.cache.Count())

		notifications := h.views.all()
		require.Len(t, notifications, 1)
		assert.Equal(t, "healthy", notifications[0].Calendar.CalendarID)
	})

	t.Run("should require a populated cache", func(t *testing.T) {
		c := New(Options{Calendars: []calendar.Calendar{calendar.NewReadOnlyStubCalendar("feed")}})

		assert.ErrorIs(t, c.RevalidateRemoteCalendars(ctx, true), ErrNotInitialized)
	})
}
