package event_cache

import (
	"context"
	"sync"

	"github.com/klokku/calcache/pkg/event"
	log "github.com/sirupsen/logrus"
)

const globalSeparator = "::"

// GlobalIdentifier joins a calendar id and a calendar-local identifier.
func GlobalIdentifier(calendarID, localID string) string {
	return calendarID + globalSeparator + localID
}

// identifiers maps global identifiers to session ids. It is guarded by the
// cache mutex; ready is closed once the initial build has finished.
type identifiers struct {
	byGlobal  map[string]string
	bySession map[string]string
	ready     chan struct{}
	once      sync.Once
}

func newIdentifiers() *identifiers {
	return &identifiers{
		byGlobal:  make(map[string]string),
		bySession: make(map[string]string),
		ready:     make(chan struct{}),
	}
}

func (ids *identifiers) markReady() {
	ids.once.Do(func() { close(ids.ready) })
}

func (ids *identifiers) set(global, sessionID string) {
	if previous, ok := ids.bySession[sessionID]; ok && previous != global {
		ids.remove(sessionID)
	}
	ids.byGlobal[global] = sessionID
	ids.bySession[sessionID] = global
}

func (ids *identifiers) remove(sessionID string) {
	global, ok := ids.bySession[sessionID]
	if !ok {
		return
	}
	delete(ids.bySession, sessionID)
	if ids.byGlobal[global] == sessionID {
		delete(ids.byGlobal, global)
	}
}

// trackLocked records the global identifier of an event. Must hold c.mu.
func (c *Cache) trackLocked(calendarID, sessionID string, ev event.Event) {
	cal, ok := c.calendars[calendarID]
	if !ok {
		return
	}
	localID, ok := cal.GetLocalIdentifier(ev)
	if !ok {
		c.ids.remove(sessionID)
		return
	}
	c.ids.set(GlobalIdentifier(calendarID, localID), sessionID)
}

func (c *Cache) buildIdentifiers(ids *identifiers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer ids.markReady()

	if c.ids != ids {
		// a newer reset replaced this map
		return
	}
	ids.byGlobal = make(map[string]string)
	ids.bySession = make(map[string]string)
	for _, stored := range c.store.GetAllEvents() {
		c.trackLocked(stored.CalendarID, stored.SessionID, stored.Event)
	}
	log.Debugf("identifier map built with %d entries", len(ids.byGlobal))
}

// WaitForIdentifiers blocks until the identifier map built after Populate is
// ready.
func (c *Cache) WaitForIdentifiers(ctx context.Context) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	ready := c.ids.ready
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionIDForGlobal resolves calendarID::localID to a session id. Callers
// that run right after Populate should WaitForIdentifiers first.
func (c *Cache) SessionIDForGlobal(calendarID, localID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids.byGlobal[GlobalIdentifier(calendarID, localID)]
	return id, ok
}

// resolveMaster finds the session id of the master an override points at.
func (c *Cache) resolveMaster(ctx context.Context, calendarID, recurringEventID string) (string, bool, error) {
	if err := c.WaitForIdentifiers(ctx); err != nil {
		return "", false, err
	}
	id, ok := c.SessionIDForGlobal(calendarID, recurringEventID)
	return id, ok, nil
}
