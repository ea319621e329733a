package google

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klokku/calcache/pkg/calendar"
	"github.com/klokku/calcache/pkg/event"
	log "github.com/sirupsen/logrus"
	gcal "google.golang.org/api/calendar/v3"
)

const Type = "google"

// Calendar is an editable Google calendar. Events are listed as series so
// that recurring events keep their rules; the listing is refreshed on
// Revalidate.
type Calendar struct {
	service     *gcal.Service
	id          string
	name        string
	color       string
	calendarId  string
	defaultZone string

	mu     sync.Mutex
	events []event.Event
	loaded bool
}

func New(id, name, color, calendarId, defaultZone string, service *gcal.Service) *Calendar {
	return &Calendar{
		service:     service,
		id:          id,
		name:        name,
		color:       color,
		calendarId:  calendarId,
		defaultZone: defaultZone,
	}
}

func (c *Calendar) ID() string    { return c.id }
func (c *Calendar) Type() string  { return Type }
func (c *Calendar) Name() string  { return c.name }
func (c *Calendar) Color() string { return c.color }

func (c *Calendar) Capabilities() calendar.Capabilities {
	return calendar.Capabilities{CanCreate: true, CanEdit: true, CanDelete: true}
}

// GetLocalIdentifier returns the Google event id.
func (c *Calendar) GetLocalIdentifier(ev event.Event) (string, bool) {
	return ev.ID, ev.ID != ""
}

func (c *Calendar) ContainsPath(string) bool { return false }

func (c *Calendar) GetEventsInFile(context.Context, string) ([]calendar.EventResponse, error) {
	return []calendar.EventResponse{}, nil
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
	out := make([]calendar.EventResponse, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, calendar.EventResponse{Event: ev.Clone(), Location: &calendar.Location{Remote: ev.ID}})
	}
	return out, nil
}

func (c *Calendar) Revalidate(ctx context.Context) error {
	var items []*gcal.Event
	err := c.service.Events.List(c.calendarId).
		SingleEvents(false).
		ShowDeleted(true).
		MaxResults(2500).
		Pages(ctx, func(page *gcal.Events) error {
			items = append(items, page.Items...)
			return nil
		})
	if err != nil {
		err := fmt.Errorf("unable to retrieve events from Google Calendar: %v", err)
		log.Error(err)
		return err
	}
	events := fromGoogle(items)
	log.Debugf("calendar %s: %d events from %d Google items", c.id, len(events), len(items))

	c.mu.Lock()
	c.events = events
	c.loaded = true
	c.mu.Unlock()
	return nil
}

func (c *Calendar) CreateEvent(ctx context.Context, ev event.Event) (event.Event, *calendar.Location, error) {
	log.Debugf("Adding event %q to calendar: %s", ev.Title, c.calendarId)
	ge, err := toGoogle(ev, c.defaultZone)
	if err != nil {
		return event.Event{}, nil, err
	}
	// event ids are base32hex, which a UUID without dashes satisfies
	ge.Id = strings.ReplaceAll(uuid.NewString(), "-", "")

	result, err := c.service.Events.Insert(c.calendarId, ge).Context(ctx).Do()
	if err != nil {
		err := fmt.Errorf("unable to insert event in Google Calendar: %v", err)
		log.Error(err)
		return event.Event{}, nil, err
	}
	ev.ID = result.Id
	return ev, &calendar.Location{Remote: result.Id}, nil
}

func (c *Calendar) ModifyEvent(ctx context.Context, loc calendar.Location, ev event.Event, onLocationUpdated func(calendar.Location)) error {
	ge, err := toGoogle(ev, c.defaultZone)
	if err != nil {
		return err
	}
	result, err := c.service.Events.Update(c.calendarId, loc.Remote, ge).Context(ctx).Do()
	if err != nil {
		err := fmt.Errorf("unable to update event in Google Calendar: %v", err)
		log.Error(err)
		return err
	}
	onLocationUpdated(calendar.Location{Remote: result.Id})
	return nil
}

func (c *Calendar) DeleteEvent(ctx context.Context, loc calendar.Location) error {
	if err := c.service.Events.Delete(c.calendarId, loc.Remote).Context(ctx).Do(); err != nil {
		err := fmt.Errorf("unable to delete event from Google Calendar: %v", err)
		log.Error(err)
		return err
	}
	return nil
}
