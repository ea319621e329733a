package calendar

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klokku/calcache/pkg/event"
)

// StubCalendar is an in-memory editable calendar for tests. Each event lives
// in its own virtual file named after its date and title, so the local
// identifier changes when either does.
type StubCalendar struct {
	mu     sync.Mutex
	id     string
	caps   Capabilities
	data   map[string]event.Event // path -> event
	remote bool

	// FailOn makes the named operation ("create", "modify", "delete", "get")
	// fail for events whose title matches the value.
	FailOn          map[string]string
	GetEventsErr    error
	RevalidateErr   error
	RevalidateCalls int
}

func NewStubCalendar(id string) *StubCalendar {
	return &StubCalendar{
		id:     id,
		caps:   Capabilities{CanCreate: true, CanEdit: true, CanDelete: true},
		data:   map[string]event.Event{},
		FailOn: map[string]string{},
	}
}

// NewReadOnlyStubCalendar returns a stub that behaves like a remote feed.
func NewReadOnlyStubCalendar(id string) *StubCalendar {
	c := NewStubCalendar(id)
	c.caps = Capabilities{}
	c.remote = true
	return c
}

func (c *StubCalendar) ID() string                 { return c.id }
func (c *StubCalendar) Type() string               { return "stub" }
func (c *StubCalendar) Name() string               { return c.id }
func (c *StubCalendar) Color() string              { return "#3788d8" }
func (c *StubCalendar) Capabilities() Capabilities { return c.caps }

func (c *StubCalendar) pathFor(ev event.Event) string {
	if ev.Date != "" {
		return path.Join(c.id, ev.Date+" "+ev.Title+".md")
	}
	return path.Join(c.id, ev.Title+".md")
}

// Seed stores an event without going through CreateEvent.
func (c *StubCalendar) Seed(ev event.Event) Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pathFor(ev)
	c.data[p] = ev.Clone()
	return Location{Path: p}
}

// Stored returns the persisted copy of the event at path.
func (c *StubCalendar) Stored(p string) (event.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.data[p]
	return ev, ok
}

func (c *StubCalendar) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *StubCalendar) GetEvents(_ context.Context) ([]EventResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetEventsErr != nil {
		return nil, c.GetEventsErr
	}
	paths := make([]string, 0, len(c.data))
	for p := range c.data {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	events := make([]EventResponse, 0, len(paths))
	for _, p := range paths {
		loc := c.location(p)
		events = append(events, EventResponse{Event: c.data[p].Clone(), Location: loc})
	}
	return events, nil
}

func (c *StubCalendar) location(p string) *Location {
	if c.remote {
		return nil
	}
	return &Location{Path: p}
}

func (c *StubCalendar) GetLocalIdentifier(ev event.Event) (string, bool) {
	if ev.Title == "" {
		return "", false
	}
	return c.pathFor(ev), true
}

func (c *StubCalendar) ContainsPath(p string) bool {
	return !c.remote && strings.HasPrefix(p, c.id+"/")
}

func (c *StubCalendar) GetEventsInFile(_ context.Context, p string) ([]EventResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.data[p]
	if !ok {
		return []EventResponse{}, nil
	}
	return []EventResponse{{Event: ev.Clone(), Location: c.location(p)}}, nil
}

func (c *StubCalendar) CreateEvent(_ context.Context, ev event.Event) (event.Event, *Location, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailOn["create"] == ev.Title {
		return event.Event{}, nil, fmt.Errorf("stub: create %q failed", ev.Title)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	p := c.pathFor(ev)
	if _, exists := c.data[p]; exists {
		return event.Event{}, nil, fmt.Errorf("stub: event already exists at %s", p)
	}
	c.data[p] = ev.Clone()
	return ev, c.location(p), nil
}

func (c *StubCalendar) ModifyEvent(_ context.Context, loc Location, ev event.Event, onLocationUpdated func(Location)) error {
	c.mu.Lock()
	if c.FailOn["modify"] == ev.Title {
		c.mu.Unlock()
		return fmt.Errorf("stub: modify %q failed", ev.Title)
	}
	if _, ok := c.data[loc.Path]; !ok {
		c.mu.Unlock()
		return errors.New("stub: event with given path not found")
	}
	delete(c.data, loc.Path)
	p := c.pathFor(ev)
	c.data[p] = ev.Clone()
	c.mu.Unlock()

	onLocationUpdated(Location{Path: p})
	return nil
}

func (c *StubCalendar) DeleteEvent(_ context.Context, loc Location) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.data[loc.Path]
	if !ok {
		return errors.New("stub: event with given path not found")
	}
	if c.FailOn["delete"] == ev.Title {
		return fmt.Errorf("stub: delete %q failed", ev.Title)
	}
	delete(c.data, loc.Path)
	return nil
}

func (c *StubCalendar) Revalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RevalidateCalls++
	return c.RevalidateErr
}

// Cleanup drops every stored event.
func (c *StubCalendar) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = map[string]event.Event{}
}
