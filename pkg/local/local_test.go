package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klokku/calcache/pkg/calendar"
	"github.com/klokku/calcache/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func dentist() event.Event {
	return event.Event{
		Type:      event.TypeSingle,
		Title:     "Dentist",
		Date:      "2025-01-10",
		StartTime: "10:00",
		EndTime:   "11:00",
		Category:  "Health",
	}
}

func TestCalendar_CreateAndRead(t *testing.T) {
	t.Run("should write a note and read it back", func(t *testing.T) {
		// given
		dir := t.TempDir()
		cal := New("notes", "Notes", "#ff0000", dir)

		// when
		created, loc, err := cal.CreateEvent(ctx, dentist())

		// then
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "2025-01-10 Dentist.md"), loc.Path)
		events, err := cal.GetEvents(ctx)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.True(t, created.Equal(events[0].Event))
		assert.Equal(t, loc, events[0].Location)
	})

	t.Run("should refuse to overwrite an existing note", func(t *testing.T) {
		cal := New("notes", "Notes", "", t.TempDir())
		_, _, err := cal.CreateEvent(ctx, dentist())
		require.NoError(t, err)

		_, _, err = cal.CreateEvent(ctx, dentist())

		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("should skip notes without frontmatter or with broken yaml", func(t *testing.T) {
		// given
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "plain.md"), []byte("# just notes\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.md"), []byte("---\ntitle: [\n---\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte{0x89}, 0o644))
		cal := New("notes", "Notes", "", dir)
		_, _, err := cal.CreateEvent(ctx, dentist())
		require.NoError(t, err)

		// when
		events, err := cal.GetEvents(ctx)

		// then
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "Dentist", events[0].Event.Title)
	})

	t.Run("should read a hand-written note", func(t *testing.T) {
		// given
		dir := t.TempDir()
		note := "---\ntitle: Standup\ntype: recurring\ndaysOfWeek: [M, W, F]\nstartTime: \"09:00\"\nendTime: \"09:15\"\nskipDates: [2025-01-13]\n---\nAgenda\n"
		path := filepath.Join(dir, "Standup.md")
		require.NoError(t, os.WriteFile(path, []byte(note), 0o644))
		cal := New("notes", "Notes", "", dir)

		// when
		events, err := cal.GetEventsInFile(ctx, path)

		// then
		require.NoError(t, err)
		require.Len(t, events, 1)
		ev := events[0].Event
		assert.Equal(t, event.TypeRecurring, ev.Type)
		assert.Equal(t, []string{"M", "W", "F"}, ev.DaysOfWeek)
		assert.Equal(t, []string{"2025-01-13"}, ev.SkipDates)
		assert.NoError(t, ev.Validate())
	})
}

func TestCalendar_ModifyEvent(t *testing.T) {
	t.Run("should rename the note and keep its body", func(t *testing.T) {
		// given
		dir := t.TempDir()
		cal := New("notes", "Notes", "", dir)
		_, loc, err := cal.CreateEvent(ctx, dentist())
		require.NoError(t, err)
		content, err := os.ReadFile(loc.Path)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(loc.Path, append(content, []byte("Bring x-rays\n")...), 0o644))
		moved := dentist()
		moved.Date = "2025-01-12"
		var reported calendar.Location

		// when
		err = cal.ModifyEvent(ctx, *loc, moved, func(l calendar.Location) { reported = l })

		// then
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "2025-01-12 Dentist.md"), reported.Path)
		assert.NoFileExists(t, loc.Path)
		content, err = os.ReadFile(reported.Path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "Bring x-rays")
		assert.Contains(t, string(content), "2025-01-12")
	})

	t.Run("should not clobber another note", func(t *testing.T) {
		cal := New("notes", "Notes", "", t.TempDir())
		_, loc, err := cal.CreateEvent(ctx, dentist())
		require.NoError(t, err)
		other := dentist()
		other.Title = "Gym"
		_, _, err = cal.CreateEvent(ctx, other)
		require.NoError(t, err)
		called := false

		err = cal.ModifyEvent(ctx, *loc, other, func(calendar.Location) { called = true })

		assert.ErrorIs(t, err, ErrAlreadyExists)
		assert.False(t, called)
		assert.FileExists(t, loc.Path)
	})
}

func TestCalendar_DeleteEvent(t *testing.T) {
	cal := New("notes", "Notes", "", t.TempDir())
	_, loc, err := cal.CreateEvent(ctx, dentist())
	require.NoError(t, err)

	require.NoError(t, cal.DeleteEvent(ctx, *loc))

	assert.NoFileExists(t, loc.Path)
	events, err := cal.GetEventsInFile(ctx, loc.Path)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Error(t, cal.DeleteEvent(ctx, *loc))
}

func TestCalendar_Paths(t *testing.T) {
	dir := t.TempDir()
	cal := New("notes", "Notes", "", dir)

	assert.True(t, cal.ContainsPath(filepath.Join(dir, "a.md")))
	assert.True(t, cal.ContainsPath(filepath.Join(dir, "sub", "a.md")))
	assert.False(t, cal.ContainsPath(filepath.Join(dir, "a.txt")))
	assert.False(t, cal.ContainsPath(filepath.Join(filepath.Dir(dir), "a.md")))

	id, ok := cal.GetLocalIdentifier(event.Event{Type: event.TypeRecurring, Title: "Stand/up"})
	assert.True(t, ok)
	assert.Equal(t, "Standup.md", id)
	id, _ = cal.GetLocalIdentifier(dentist())
	assert.Equal(t, "2025-01-10 Dentist.md", id)
	_, ok = cal.GetLocalIdentifier(event.Event{Title: "  "})
	assert.False(t, ok)
}
