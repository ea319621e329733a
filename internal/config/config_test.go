package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "application.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("should use defaults when the file is missing", func(t *testing.T) {
		// when
		app, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

		// then
		require.NoError(t, err)
		assert.Equal(t, ":8181", app.Listen)
		assert.Equal(t, "UTC", app.DisplayTimezone)
		assert.Equal(t, 4, app.RevalidateParallelism)
		assert.Empty(t, app.Calendars)
	})

	t.Run("should read calendars and categories from yaml", func(t *testing.T) {
		// given
		path := writeConfig(t, `
displaytimezone: Europe/Berlin
categories:
  Work: "#FF0000"
  Home: "#0f0"
calendars:
  - id: notes
    type: local
    local:
      directory: /tmp/notes
  - id: journal
    type: dailynote
    dailynote:
      directory: /tmp/journal
  - id: holidays
    type: ics
    name: Public holidays
    color: "#00FF00"
    ics:
      url: https://example.com/holidays.ics
`)

		// when
		app, err := Load(path)

		// then
		require.NoError(t, err)
		assert.Equal(t, "Europe/Berlin", app.DisplayTimezone)
		assert.Equal(t, map[string]string{"Work": "#ff0000", "Home": "#00ff00"}, app.Categories)
		require.Len(t, app.Calendars, 3)
		assert.Equal(t, "notes", app.Calendars[0].Name)
		assert.Equal(t, "/tmp/notes", app.Calendars[0].Local.Directory)
		assert.Equal(t, defaultDailyNoteHeading, app.Calendars[1].DailyNote.Heading)
		assert.Equal(t, "Public holidays", app.Calendars[2].Name)
		assert.Equal(t, "#00ff00", app.Calendars[2].Color)
		assert.Equal(t, "https://example.com/holidays.ics", app.Calendars[2].ICS.URL)
	})

	t.Run("should let environment variables override the file", func(t *testing.T) {
		// given
		path := writeConfig(t, "displaytimezone: Europe/Berlin\n")
		t.Setenv("CALCACHE_DISPLAYTIMEZONE", "Asia/Tokyo")
		t.Setenv("CALCACHE_LISTEN", ":9000")

		// when
		app, err := Load(path)

		// then
		require.NoError(t, err)
		assert.Equal(t, "Asia/Tokyo", app.DisplayTimezone)
		assert.Equal(t, ":9000", app.Listen)
	})

	t.Run("should reject an invalid file", func(t *testing.T) {
		// given
		path := writeConfig(t, "displaytimezone: Mars/Olympus\n")

		// when
		_, err := Load(path)

		// then
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestApplication_Validate(t *testing.T) {
	valid := func() Application {
		return Application{DisplayTimezone: "UTC", RefreshCron: "*/5 * * * *"}
	}

	tests := []struct {
		name   string
		modify func(a *Application)
	}{
		{"bad cron", func(a *Application) { a.RefreshCron = "every minute" }},
		{"negative parallelism", func(a *Application) { a.RevalidateParallelism = -1 }},
		{"bad log level", func(a *Application) { a.LogLevel = "loud" }},
		{"bad category colour", func(a *Application) { a.Categories = map[string]string{"Work": "red"} }},
		{"calendar without id", func(a *Application) {
			a.Calendars = []CalendarSource{{Type: TypeLocal, Local: Local{Directory: "/tmp"}}}
		}},
		{"duplicate calendar id", func(a *Application) {
			a.Calendars = []CalendarSource{
				{ID: "a", Type: TypeLocal, Local: Local{Directory: "/tmp"}},
				{ID: "a", Type: TypeICS, ICS: ICS{URL: "https://example.com/a.ics"}},
			}
		}},
		{"unknown type", func(a *Application) { a.Calendars = []CalendarSource{{ID: "a", Type: "outlook"}} }},
		{"local without directory", func(a *Application) { a.Calendars = []CalendarSource{{ID: "a", Type: TypeLocal}} }},
		{"caldav without url", func(a *Application) { a.Calendars = []CalendarSource{{ID: "a", Type: TypeCalDAV}} }},
		{"google without credentials", func(a *Application) {
			a.Calendars = []CalendarSource{{ID: "a", Type: TypeGoogle, Google: Google{ClientId: "id"}}}
		}},
	}
	for _, tt := range tests {
		t.Run("should reject "+tt.name, func(t *testing.T) {
			app := valid()
			tt.modify(&app)

			assert.ErrorIs(t, app.Validate(), ErrInvalidConfig)
		})
	}

	t.Run("should default the google calendar id", func(t *testing.T) {
		app := valid()
		app.Calendars = []CalendarSource{{ID: "g", Type: TypeGoogle, Google: Google{ClientId: "id", ClientSecret: "secret", RefreshToken: "token"}}}

		require.NoError(t, app.Validate())
		assert.Equal(t, "primary", app.Calendars[0].Google.CalendarId)
	})
}
