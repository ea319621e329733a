package calendar_provider

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/klokku/calcache/internal/config"
	"github.com/klokku/calcache/pkg/caldav"
	"github.com/klokku/calcache/pkg/calendar"
	"github.com/klokku/calcache/pkg/dailynote"
	"github.com/klokku/calcache/pkg/google"
	"github.com/klokku/calcache/pkg/ical"
	"github.com/klokku/calcache/pkg/local"
	"github.com/lucasb-eyer/go-colorful"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

var ErrUnknownType = errors.New("unknown calendar type")

// CalendarProvider turns configured sources into calendar adapters. It is the
// only place that looks at the type tag.
type CalendarProvider struct {
	displayTimezone string
	fetcher         *ical.Fetcher
	googleOptions   []option.ClientOption
	caldavClient    func(cfg config.CalDAV) (caldav.Client, error)
}

type Option func(*CalendarProvider)

func WithFetcher(f *ical.Fetcher) Option {
	return func(p *CalendarProvider) { p.fetcher = f }
}

func WithGoogleOptions(opts ...option.ClientOption) Option {
	return func(p *CalendarProvider) { p.googleOptions = opts }
}

func WithCalDAVClient(newClient func(cfg config.CalDAV) (caldav.Client, error)) Option {
	return func(p *CalendarProvider) { p.caldavClient = newClient }
}

func NewCalendarProvider(displayTimezone string, opts ...Option) *CalendarProvider {
	p := &CalendarProvider{
		displayTimezone: displayTimezone,
		caldavClient: func(cfg config.CalDAV) (caldav.Client, error) {
			return caldav.NewClient(cfg.URL, cfg.Username, cfg.Password)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.fetcher == nil {
		p.fetcher = ical.NewFetcher(nil, "")
	}
	return p
}

// GetCalendars builds every source. A source that cannot be built is logged
// and left out so that the others still load.
func (p *CalendarProvider) GetCalendars(ctx context.Context, sources []config.CalendarSource) []calendar.Calendar {
	calendars := make([]calendar.Calendar, 0, len(sources))
	for _, src := range sources {
		cal, err := p.GetCalendar(ctx, src)
		if err != nil {
			log.Errorf("failed to set up calendar %s: %v", src.ID, err)
			continue
		}
		calendars = append(calendars, cal)
	}
	return calendars
}

func (p *CalendarProvider) GetCalendar(ctx context.Context, src config.CalendarSource) (calendar.Calendar, error) {
	name := src.Name
	if name == "" {
		name = src.ID
	}
	color := src.Color
	if color == "" {
		color = DefaultColor(src.ID)
	}

	switch src.Type {
	case config.TypeLocal:
		return local.New(src.ID, name, color, src.Local.Directory), nil
	case config.TypeDailyNote:
		return dailynote.New(src.ID, name, color, src.DailyNote.Directory, src.DailyNote.Heading), nil
	case config.TypeICS:
		fetcher := p.fetcher
		if src.ICS.CacheDir != "" {
			fetcher = ical.NewFetcher(nil, src.ICS.CacheDir)
		}
		return ical.New(src.ID, name, color, src.ICS.URL, fetcher), nil
	case config.TypeCalDAV:
		client, err := p.caldavClient(src.CalDAV)
		if err != nil {
			return nil, err
		}
		return caldav.New(src.ID, name, color, src.CalDAV.Path, client), nil
	case config.TypeGoogle:
		service, err := google.NewService(ctx, src.Google, p.googleOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Google Calendar: %w", err)
		}
		return google.New(src.ID, name, color, src.Google.CalendarId, p.displayTimezone, service), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, src.Type)
}

// DefaultColor derives a stable colour from a calendar id.
func DefaultColor(id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	hue := float64(h.Sum32()%360)
	return colorful.Hsv(hue, 0.55, 0.8).Hex()
}
