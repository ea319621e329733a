package event_cache

import (
	"context"

	"github.com/klokku/calcache/internal/event_bus"
	"github.com/klokku/calcache/pkg/event_store"
	log "github.com/sirupsen/logrus"
)

// NotificationEventType is the bus topic carrying view notifications.
const NotificationEventType event_bus.EventType = "cache.view"

type NotificationKind string

const (
	// NotificationEvents lists session ids to drop and stored events to (re)add.
	NotificationEvents NotificationKind = "events"
	// NotificationCalendar replaces every event of one calendar.
	NotificationCalendar NotificationKind = "calendar"
	// NotificationResync asks the view to reload everything.
	NotificationResync NotificationKind = "resync"
)

type EventsUpdate struct {
	ToRemove []string                  `json:"toRemove"`
	ToAdd    []event_store.StoredEvent `json:"toAdd"`
}

// Source is the full event set of one calendar as the view shows it.
type Source struct {
	CalendarID string                    `json:"calendarId"`
	Name       string                    `json:"name"`
	Color      string                    `json:"color"`
	Editable   bool                      `json:"editable"`
	Events     []event_store.StoredEvent `json:"events"`
}

type Notification struct {
	Seq      uint64           `json:"seq"`
	Kind     NotificationKind `json:"kind"`
	Events   *EventsUpdate    `json:"events,omitempty"`
	Calendar *Source          `json:"calendar,omitempty"`
}

// On registers a view listener. The returned function unregisters it.
func (c *Cache) On(listener func(Notification)) (unsubscribe func()) {
	return event_bus.SubscribeTyped[Notification](c.bus, NotificationEventType,
		func(e event_bus.EventT[Notification]) error {
			listener(e.Data)
			return nil
		})
}

// LastNotification returns the sequence number of the latest notification.
func (c *Cache) LastNotification() uint64 {
	return c.seq.Load()
}

func (c *Cache) publish(n Notification) {
	n.Seq = c.seq.Add(1)
	if err := c.bus.Publish(event_bus.NewEvent(context.Background(), NotificationEventType, n)); err != nil {
		log.Errorf("failed to deliver %s notification: %v", n.Kind, err)
	}
}

// Notifier shows short messages to the user.
type Notifier interface {
	Notice(message string)
}

type LogNotifier struct{}

func (LogNotifier) Notice(message string) {
	log.Info(message)
}
