package ical

import (
	"context"
	"fmt"
	"sync"

	"github.com/klokku/calcache/pkg/calendar"
	"github.com/klokku/calcache/pkg/event"
	log "github.com/sirupsen/logrus"
)

const Type = "ics"

// Calendar is a read-only subscription to an iCalendar feed. The feed is
// downloaded on first use and again on every Revalidate.
type Calendar struct {
	id      string
	name    string
	color   string
	url     string
	fetcher *Fetcher

	mu     sync.Mutex
	events []event.Event
	loaded bool
}

func New(id, name, color, url string, fetcher *Fetcher) *Calendar {
	if fetcher == nil {
		fetcher = NewFetcher(nil, "")
	}
	return &Calendar{id: id, name: name, color: color, url: url, fetcher: fetcher}
}

func (c *Calendar) ID() string                          { return c.id }
func (c *Calendar) Type() string                        { return Type }
func (c *Calendar) Name() string                        { return c.name }
func (c *Calendar) Color() string                       { return c.color }
func (c *Calendar) Capabilities() calendar.Capabilities { return calendar.Capabilities{} }

// GetLocalIdentifier returns the UID of a master or single event, or
// UID#date for an override.
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
	return Responses(c.events), nil
}

func (c *Calendar) Revalidate(ctx context.Context) error {
	body, err := c.fetcher.Fetch(ctx, c.url)
	if err != nil {
		return fmt.Errorf("failed to fetch calendar %s: %w", c.id, err)
	}
	events, err := Parse(body)
	if err != nil {
		return fmt.Errorf("failed to read calendar %s: %w", c.id, err)
	}
	log.Debugf("calendar %s: %d events from feed", c.id, len(events))

	c.mu.Lock()
	c.events = events
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// Responses wraps parsed events for a calendar that has no write-back
// locations.
func Responses(events []event.Event) []calendar.EventResponse {
	out := make([]calendar.EventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, calendar.EventResponse{Event: ev.Clone()})
	}
	return out
}
