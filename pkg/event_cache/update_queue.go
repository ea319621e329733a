package event_cache

import (
	"github.com/klokku/calcache/pkg/event_store"
)

// updateQueue collects the changes of silent calls until the next flush.
type updateQueue struct {
	toRemove []string
	toAdd    []string
}

// emit either publishes a change right away or, for silent calls, queues it
// and raises the bulk-update flag.
func (c *Cache) emit(toRemove []string, toAdd []string, silent bool) {
	if !silent {
		c.flush(toRemove, toAdd)
		return
	}
	c.mu.Lock()
	c.queue.toRemove = append(c.queue.toRemove, toRemove...)
	c.queue.toAdd = append(c.queue.toAdd, toAdd...)
	c.bulkUpdating.Store(true)
	c.mu.Unlock()
}

// settle publishes changes that silent sub-steps of a non-silent call left
// queued, so that an early error return does not leave the bulk flag raised.
func (c *Cache) settle(opts UpdateOptions) {
	if !opts.Silent && c.bulkUpdating.Load() {
		c.flush(nil, nil)
	}
}

// FlushUpdateQueue merges the given changes with everything queued by silent
// calls, clears the bulk-update flag and publishes one notification.
//
// A session id that was queued for removal and then re-added is reported in
// both lists; added entries carry the event's state at flush time.
func (c *Cache) FlushUpdateQueue(toRemove []string, toAdd []event_store.StoredEvent) {
	ids := make([]string, 0, len(toAdd))
	for _, stored := range toAdd {
		ids = append(ids, stored.SessionID)
	}
	c.flush(toRemove, ids)
}

func (c *Cache) flush(toRemove []string, toAdd []string) {
	c.mu.Lock()
	removeIDs := dedup(append(c.queue.toRemove, toRemove...))
	addIDs := dedup(append(c.queue.toAdd, toAdd...))
	c.queue = updateQueue{}
	c.bulkUpdating.Store(false)

	added := make([]event_store.StoredEvent, 0, len(addIDs))
	for _, id := range addIDs {
		if stored, ok := c.storedLocked(id); ok {
			added = append(added, stored)
		}
	}
	c.mu.Unlock()

	c.publish(Notification{
		Kind:   NotificationEvents,
		Events: &EventsUpdate{ToRemove: removeIDs, ToAdd: added},
	})
}

// IsBulkUpdating reports whether silent changes are waiting for a flush.
func (c *Cache) IsBulkUpdating() bool {
	return c.bulkUpdating.Load()
}

func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
