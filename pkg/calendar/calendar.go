package calendar

import (
	"context"
	"errors"

	"github.com/klokku/calcache/pkg/event"
)

var ErrNotSupported = errors.New("operation not supported by calendar")

// Location is an adapter-defined handle used by the owning calendar to write an
// event back. Path is set only for file-backed events.
type Location struct {
	Path   string `json:"path,omitempty"`
	Line   int    `json:"line,omitempty"`
	Remote string `json:"remote,omitempty"`
}

type EventResponse struct {
	Event    event.Event
	Location *Location
}

type Capabilities struct {
	CanCreate bool
	CanEdit   bool
	CanDelete bool
}

// Calendar is implemented by every backend adapter.
type Calendar interface {
	ID() string
	Type() string
	Name() string
	Color() string
	Capabilities() Capabilities
	GetEvents(ctx context.Context) ([]EventResponse, error)
	// GetLocalIdentifier returns the calendar-specific persistent identifier of
	// an event, or false when the event cannot be durably referenced.
	GetLocalIdentifier(ev event.Event) (string, bool)
}

// Editable calendars persist user edits.
type Editable interface {
	Calendar
	// ContainsPath reports whether a file belongs to this calendar. Calendars
	// that are not file-backed always return false.
	ContainsPath(path string) bool
	GetEventsInFile(ctx context.Context, path string) ([]EventResponse, error)
	CreateEvent(ctx context.Context, ev event.Event) (event.Event, *Location, error)
	// ModifyEvent must call onLocationUpdated with the new location before it
	// returns successfully.
	ModifyEvent(ctx context.Context, loc Location, ev event.Event, onLocationUpdated func(Location)) error
	DeleteEvent(ctx context.Context, loc Location) error
}

// Remote calendars re-sync from their source before the next GetEvents.
type Remote interface {
	Calendar
	Revalidate(ctx context.Context) error
}
