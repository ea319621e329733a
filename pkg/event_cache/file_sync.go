package event_cache

import (
	"context"
	"fmt"

	"github.com/klokku/calcache/pkg/calendar"
	"github.com/klokku/calcache/pkg/event_store"
	log "github.com/sirupsen/logrus"
)

// FileUpdated reloads the events of a file that changed outside the cache.
// Nothing happens while a silent batch is waiting for its flush, since the
// change most likely came from that batch.
func (c *Cache) FileUpdated(ctx context.Context, path string) error {
	if c.bulkUpdating.Load() {
		log.Debugf("bulk update in progress, ignoring change to %s", path)
		return nil
	}

	var toRemove, toAdd []string
	for _, cal := range c.calendarList() {
		editable, ok := cal.(calendar.Editable)
		if !ok || !editable.ContainsPath(path) {
			continue
		}
		events, err := editable.GetEventsInFile(ctx, path)
		if err != nil {
			if len(toRemove) > 0 || len(toAdd) > 0 {
				c.flush(toRemove, toAdd)
			}
			return fmt.Errorf("failed to read %s from calendar %s: %w", path, cal.ID(), err)
		}
		events = validEvents(cal.ID(), events)

		c.mu.Lock()
		existing := c.store.GetEventsInFileAndCalendar(path, cal.ID())
		if sameEvents(existing, events) {
			c.mu.Unlock()
			continue
		}
		for _, stored := range existing {
			c.ids.remove(stored.SessionID)
			c.store.Delete(stored.SessionID)
			toRemove = append(toRemove, stored.SessionID)
		}
		for _, resp := range events {
			id := c.newSessionIDLocked()
			c.store.Add(cal.ID(), resp.Location, id, resp.Event)
			c.trackLocked(cal.ID(), id, resp.Event)
			toAdd = append(toAdd, id)
		}
		c.mu.Unlock()
	}

	if len(toRemove) == 0 && len(toAdd) == 0 {
		return nil
	}
	c.flush(toRemove, toAdd)
	return nil
}

// PathDeleted drops every event that came from a deleted file.
func (c *Cache) PathDeleted(path string) {
	if c.bulkUpdating.Load() {
		log.Debugf("bulk update in progress, ignoring deletion of %s", path)
		return
	}
	c.mu.Lock()
	removed := c.store.DeleteEventsAtPath(path)
	for _, id := range removed {
		c.ids.remove(id)
	}
	c.mu.Unlock()

	if len(removed) > 0 {
		c.flush(removed, nil)
	}
}

// sameEvents reports whether a file still holds the stored events, ignoring
// order.
func sameEvents(stored []event_store.StoredEvent, fresh []calendar.EventResponse) bool {
	if len(stored) != len(fresh) {
		return false
	}
	used := make([]bool, len(fresh))
	for _, s := range stored {
		found := false
		for i, f := range fresh {
			if !used[i] && s.Event.Equal(f.Event) && sameLocation(s.Location, f.Location) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sameLocation(a, b *calendar.Location) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
