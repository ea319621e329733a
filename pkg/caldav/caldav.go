package caldav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/klokku/calcache/pkg/calendar"
	"github.com/klokku/calcache/pkg/event"
	"github.com/klokku/calcache/pkg/ical"
	log "github.com/sirupsen/logrus"
)

const Type = "caldav"

var ErrNoCalendar = errors.New("no event calendar found on the server")

// Client is the part of the CalDAV client used here.
type Client interface {
	FindCurrentUserPrincipal(ctx context.Context) (string, error)
	FindCalendarHomeSet(ctx context.Context, principal string) (string, error)
	FindCalendars(ctx context.Context, calendarHomeSet string) ([]caldav.Calendar, error)
	QueryCalendar(ctx context.Context, calendar string, query *caldav.CalendarQuery) ([]caldav.CalendarObject, error)
}

// NewClient connects to endpoint with basic authentication.
func NewClient(endpoint, username, password string) (Client, error) {
	var httpClient webdav.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	if username != "" {
		httpClient = webdav.HTTPClientWithBasicAuth(httpClient, username, password)
	}
	client, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create CalDAV client for %s: %w", endpoint, err)
	}
	return client, nil
}

// Calendar is a read-only view of one CalDAV collection.
type Calendar struct {
	id     string
	name   string
	color  string
	path   string
	client Client

	mu     sync.Mutex
	events []event.Event
	loaded bool
}

// New creates the calendar. An empty path selects the first collection that
// holds events.
func New(id, name, color, path string, client Client) *Calendar {
	return &Calendar{id: id, name: name, color: color, path: path, client: client}
}

func (c *Calendar) ID() string                          { return c.id }
func (c *Calendar) Type() string                        { return Type }
func (c *Calendar) Name() string                        { return c.name }
func (c *Calendar) Color() string                       { return c.color }
func (c *Calendar) Capabilities() calendar.Capabilities { return calendar.Capabilities{} }

func (c *Calendar) GetLocalIdentifier(ev event.Event) (string, bool) {
	return ev.ID, ev.ID != ""
}

func (c *Calendar) GetEvents(ctx context.Context) ([]calendar.EventResponse, error) {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	if !loaded {
		if err := c.Revalidate(ctx); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return ical.Responses(c.events), nil
}

func (c *Calendar) Revalidate(ctx context.Context) error {
	path, err := c.collection(ctx)
	if err != nil {
		return err
	}
	objects, err := c.client.QueryCalendar(ctx, path, &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     goical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name:  goical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: goical.CompEvent}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to query calendar %s: %w", c.id, err)
	}
	events := decodeObjects(objects)
	log.Debugf("calendar %s: %d events from %d objects", c.id, len(events), len(objects))

	c.mu.Lock()
	c.events = events
	c.loaded = true
	c.mu.Unlock()
	return nil
}

func (c *Calendar) collection(ctx context.Context) (string, error) {
	c.mu.Lock()
	path := c.path
	c.mu.Unlock()
	if path != "" {
		return path, nil
	}

	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal: %w", err)
	}
	homeSet, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home: %w", err)
	}
	calendars, err := c.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("failed to list calendars: %w", err)
	}
	for _, cal := range calendars {
		if supportsEvents(cal) {
			log.Infof("calendar %s: using collection %s (%s)", c.id, cal.Path, cal.Name)
			c.mu.Lock()
			c.path = cal.Path
			c.mu.Unlock()
			return cal.Path, nil
		}
	}
	return "", ErrNoCalendar
}

func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if comp == goical.CompEvent {
			return true
		}
	}
	return false
}

// decodeObjects re-encodes every calendar object and converts it with the
// iCalendar feed parser. Each object holds one series with its overrides.
func decodeObjects(objects []caldav.CalendarObject) []event.Event {
	var events []event.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		var buf bytes.Buffer
		if err := goical.NewEncoder(&buf).Encode(obj.Data); err != nil {
			log.Warnf("skipping calendar object %s: %v", obj.Path, err)
			continue
		}
		parsed, err := ical.Parse(buf.Bytes())
		if err != nil {
			log.Warnf("skipping calendar object %s: %v", obj.Path, err)
			continue
		}
		events = append(events, parsed...)
	}
	return events
}
