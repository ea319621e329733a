package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	TypeLocal     = "local"
	TypeDailyNote = "dailynote"
	TypeICS       = "ics"
	TypeCalDAV    = "caldav"
	TypeGoogle    = "google"
)

type Application struct {
	Host                  string            `koanf:"host"`
	Listen                string            `koanf:"listen"`
	DisplayTimezone       string            `koanf:"displaytimezone"`
	RefreshCron           string            `koanf:"refreshcron"`
	RevalidateParallelism int               `koanf:"revalidateparallelism"`
	LogLevel              string            `koanf:"loglevel"`
	Categories            map[string]string `koanf:"categories"`
	Calendars             []CalendarSource  `koanf:"calendars"`
}

// CalendarSource describes one configured backend. Only the block matching
// Type is read.
type CalendarSource struct {
	ID        string    `koanf:"id"`
	Type      string    `koanf:"type"`
	Name      string    `koanf:"name"`
	Color     string    `koanf:"color"`
	Local     Local     `koanf:"local"`
	DailyNote DailyNote `koanf:"dailynote"`
	ICS       ICS       `koanf:"ics"`
	CalDAV    CalDAV    `koanf:"caldav"`
	Google    Google    `koanf:"google"`
}

type Local struct {
	Directory string `koanf:"directory"`
}

type DailyNote struct {
	Directory string `koanf:"directory"`
	Heading   string `koanf:"heading"`
}

type ICS struct {
	URL      string `koanf:"url"`
	CacheDir string `koanf:"cachedir"`
}

type CalDAV struct {
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Path     string `koanf:"path"`
}

type Google struct {
	ClientId     string `koanf:"clientid"`
	ClientSecret string `koanf:"clientsecret"`
	RefreshToken string `koanf:"refreshtoken"`
	CalendarId   string `koanf:"calendarid"`
}

const defaultDailyNoteHeading = "## Events"

func defaults() Application {
	return Application{
		Host:                  "http://localhost:8181",
		Listen:                ":8181",
		DisplayTimezone:       "UTC",
		RefreshCron:           "*/15 * * * *",
		RevalidateParallelism: 4,
	}
}

func Load(path string) (Application, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: "CALCACHE_",
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, "CALCACHE_")), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}

	if err := app.Validate(); err != nil {
		return Application{}, err
	}
	return app, nil
}

// Validate checks the loaded configuration and normalises colours and
// per-calendar defaults in place.
func (a *Application) Validate() error {
	if _, err := time.LoadLocation(a.DisplayTimezone); err != nil {
		return fmt.Errorf("%w: display timezone %q: %v", ErrInvalidConfig, a.DisplayTimezone, err)
	}
	if a.RefreshCron != "" {
		if _, err := cron.ParseStandard(a.RefreshCron); err != nil {
			return fmt.Errorf("%w: refresh cron %q: %v", ErrInvalidConfig, a.RefreshCron, err)
		}
	}
	if a.RevalidateParallelism < 0 {
		return fmt.Errorf("%w: revalidate parallelism must not be negative", ErrInvalidConfig)
	}
	if a.LogLevel != "" {
		if _, err := log.ParseLevel(a.LogLevel); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	for name, hex := range a.Categories {
		normalized, err := NormalizeColor(hex)
		if err != nil {
			return fmt.Errorf("%w: category %q: %v", ErrInvalidConfig, name, err)
		}
		a.Categories[name] = normalized
	}

	seen := map[string]bool{}
	for i := range a.Calendars {
		src := &a.Calendars[i]
		if src.ID == "" {
			return fmt.Errorf("%w: calendar #%d has no id", ErrInvalidConfig, i+1)
		}
		if seen[src.ID] {
			return fmt.Errorf("%w: duplicate calendar id %q", ErrInvalidConfig, src.ID)
		}
		seen[src.ID] = true
		if src.Name == "" {
			src.Name = src.ID
		}
		if src.Color != "" {
			normalized, err := NormalizeColor(src.Color)
			if err != nil {
				return fmt.Errorf("%w: calendar %q: %v", ErrInvalidConfig, src.ID, err)
			}
			src.Color = normalized
		}
		if err := src.validateVariant(); err != nil {
			return err
		}
	}
	return nil
}

func (s *CalendarSource) validateVariant() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: calendar %q of type %s requires %s", ErrInvalidConfig, s.ID, s.Type, field)
	}
	switch s.Type {
	case TypeLocal:
		if s.Local.Directory == "" {
			return missing("local.directory")
		}
	case TypeDailyNote:
		if s.DailyNote.Directory == "" {
			return missing("dailynote.directory")
		}
		if s.DailyNote.Heading == "" {
			s.DailyNote.Heading = defaultDailyNoteHeading
		}
	case TypeICS:
		if s.ICS.URL == "" {
			return missing("ics.url")
		}
	case TypeCalDAV:
		if s.CalDAV.URL == "" {
			return missing("caldav.url")
		}
	case TypeGoogle:
		if s.Google.ClientId == "" || s.Google.ClientSecret == "" || s.Google.RefreshToken == "" {
			return missing("google.clientid, google.clientsecret and google.refreshtoken")
		}
		if s.Google.CalendarId == "" {
			s.Google.CalendarId = "primary"
		}
	default:
		return fmt.Errorf("%w: calendar %q has unknown type %q", ErrInvalidConfig, s.ID, s.Type)
	}
	return nil
}

// NormalizeColor parses a hex colour and returns it in lowercase #rrggbb form.
func NormalizeColor(hex string) (string, error) {
	c, err := colorful.Hex(strings.TrimSpace(hex))
	if err != nil {
		return "", err
	}
	return c.Hex(), nil
}
