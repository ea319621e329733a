package event_cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/klokku/calcache/pkg/event"
	"github.com/klokku/calcache/pkg/event_store"
	log "github.com/sirupsen/logrus"
)

type DeleteChoice int

const (
	DeleteCancel DeleteChoice = iota
	// DeletePromoteChildren keeps the overrides as standalone events.
	DeletePromoteChildren
	// DeleteAllInstances removes the overrides together with the master.
	DeleteAllInstances
)

// DeletePrompter asks the user what to do with the overrides of a recurring
// event that is about to be deleted.
type DeletePrompter interface {
	ChooseDelete(ctx context.Context, master event.Event, overrides int) (DeleteChoice, error)
}

// RecurringManager handles recurring masters and their override children.
type RecurringManager struct {
	cache    *Cache
	prompter DeletePrompter
}

// Children returns the overrides pointing at the given master, from the
// master's own calendar.
func (m *RecurringManager) Children(masterID string) []event_store.StoredEvent {
	c := m.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	details, ok := c.store.GetDetails(masterID)
	if !ok || !details.Event.IsMaster() {
		return nil
	}
	cal, ok := c.calendars[details.CalendarID]
	if !ok {
		return nil
	}
	localID, ok := cal.GetLocalIdentifier(details.Event)
	if !ok {
		return nil
	}
	return c.childrenLocked(details.CalendarID, localID)
}

func (c *Cache) childrenLocked(calendarID, masterLocalID string) []event_store.StoredEvent {
	var children []event_store.StoredEvent
	for _, stored := range c.store.GetEventsInCalendar(calendarID) {
		if stored.Event.IsOverride() && stored.Event.RecurringEventID == masterLocalID {
			children = append(children, stored)
		}
	}
	return children
}

// HandleDelete resolves the deletion of a master with overrides through the
// prompter. Nothing is changed until a choice is made.
func (m *RecurringManager) HandleDelete(ctx context.Context, masterID string, overrides int) error {
	if m.prompter == nil {
		return fmt.Errorf("%w: %d override(s) depend on event %s", ErrConfirmationRequired, overrides, masterID)
	}
	master, ok := m.cache.GetEventByID(masterID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, masterID)
	}
	choice, err := m.prompter.ChooseDelete(ctx, master, overrides)
	if err != nil {
		return fmt.Errorf("delete choice for event %s: %w", masterID, err)
	}
	switch choice {
	case DeletePromoteChildren:
		return m.PromoteChildren(ctx, masterID)
	case DeleteAllInstances:
		return m.DeleteAllInstances(ctx, masterID)
	default:
		log.Debugf("deletion of event %s cancelled", masterID)
		return nil
	}
}

// PromoteChildren turns every override of the master into a standalone
// event, then deletes the master.
func (m *RecurringManager) PromoteChildren(ctx context.Context, masterID string) error {
	c := m.cache
	children := m.Children(masterID)
	failed := 0
	for _, child := range children {
		err := c.ProcessEvent(ctx, child.SessionID, func(ev event.Event) event.Event {
			ev.RecurringEventID = ""
			ev.InstanceDate = ""
			return ev
		}, UpdateOptions{Silent: true})
		if err != nil {
			failed++
			log.Errorf("failed to promote override %s: %v", child.SessionID, err)
		}
	}
	err := c.deleteEvent(ctx, masterID, UpdateOptions{Silent: true, Force: true}, false)
	c.FlushUpdateQueue(nil, nil)

	m.summarize("Promoted", len(children), failed)
	return err
}

// DeleteAllInstances deletes every override of the master and the master.
func (m *RecurringManager) DeleteAllInstances(ctx context.Context, masterID string) error {
	c := m.cache
	children := m.Children(masterID)
	failed := 0
	for _, child := range children {
		if err := c.deleteEvent(ctx, child.SessionID, UpdateOptions{Silent: true, Force: true}, false); err != nil {
			failed++
			log.Errorf("failed to delete override %s: %v", child.SessionID, err)
		}
	}
	err := c.deleteEvent(ctx, masterID, UpdateOptions{Silent: true, Force: true}, false)
	c.FlushUpdateQueue(nil, nil)

	m.summarize("Deleted", len(children), failed)
	return err
}

func (m *RecurringManager) summarize(verb string, total, failed int) {
	if total == 0 {
		return
	}
	msg := fmt.Sprintf("%s %d of %d override(s)", verb, total-failed, total)
	m.cache.notifier.Notice(msg)
}

// CreateOverride replaces the occurrence of the master on date with a single
// event built from the master and the non-empty fields of data. It returns
// the session id of the new event.
func (m *RecurringManager) CreateOverride(ctx context.Context, masterID, date string, data event.Event) (string, error) {
	c := m.cache
	details, err := c.details(masterID)
	if err != nil {
		return "", err
	}
	master := details.Event
	if !master.IsMaster() {
		return "", fmt.Errorf("%w: event %s is not recurring", event.ErrInvalidEvent, masterID)
	}
	if _, err := event.ParseDate(date); err != nil {
		return "", err
	}
	cal, err := c.GetCalendar(details.CalendarID)
	if err != nil {
		return "", err
	}
	localID, ok := cal.GetLocalIdentifier(master)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoLocalIdentifier, masterID)
	}

	override := overrideFor(master, localID, date, data)
	if err := override.Validate(); err != nil {
		return "", err
	}

	overrideID, err := c.AddEvent(ctx, details.CalendarID, override, UpdateOptions{Silent: true})
	if err != nil {
		c.FlushUpdateQueue(nil, nil)
		return "", err
	}
	updated := master.Clone()
	updated.AddSkipDate(date)
	if err := c.UpdateEventWithID(ctx, masterID, updated, UpdateOptions{Silent: true}); err != nil {
		// an override must never exist without its skip date
		if rollbackErr := c.deleteEvent(ctx, overrideID, UpdateOptions{Silent: true, Force: true}, false); rollbackErr != nil {
			log.Errorf("failed to remove override %s after failed master update: %v", overrideID, rollbackErr)
		}
		c.FlushUpdateQueue(nil, nil)
		return "", fmt.Errorf("failed to add skip date to event %s: %w", masterID, err)
	}
	c.FlushUpdateQueue(nil, nil)
	return overrideID, nil
}

func overrideFor(master event.Event, masterLocalID, date string, data event.Event) event.Event {
	ev := event.Event{
		Type:             event.TypeSingle,
		Title:            master.Title,
		Category:         master.Category,
		SubCategory:      master.SubCategory,
		AllDay:           master.AllDay,
		Timezone:         master.Timezone,
		StartTime:        master.StartTime,
		EndTime:          master.EndTime,
		Date:             date,
		RecurringEventID: masterLocalID,
	}
	if data.Title != "" {
		ev.Title = data.Title
	}
	if data.Category != "" {
		ev.Category, ev.SubCategory = data.Category, data.SubCategory
	}
	if data.Date != "" && data.Date != date {
		ev.Date = data.Date
		ev.InstanceDate = date
	}
	ev.EndDate = data.EndDate
	switch {
	case data.AllDay:
		ev.AllDay, ev.StartTime, ev.EndTime = true, "", ""
	case data.StartTime != "":
		ev.AllDay, ev.StartTime, ev.EndTime = false, data.StartTime, data.EndTime
	}
	if data.Timezone != "" {
		ev.Timezone = data.Timezone
	}
	if ev.AllDay {
		ev.Timezone = ""
	}
	ev.Task = data.Task
	if data.CompletedAt != nil {
		t := *data.CompletedAt
		ev.CompletedAt = &t
	}
	return ev
}

// ToggleInstance marks one occurrence done or not done. sessionID may be the
// master, in which case date selects the occurrence, or an existing override.
// Marking an occurrence undone deletes its override.
func (m *RecurringManager) ToggleInstance(ctx context.Context, sessionID, date string, done bool) error {
	c := m.cache
	ev, ok := c.GetEventByID(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, sessionID)
	}

	overrideID := ""
	switch {
	case ev.IsOverride():
		overrideID = sessionID
	case ev.IsMaster():
		for _, child := range m.Children(sessionID) {
			if child.Event.OccurrenceDate() == date {
				overrideID = child.SessionID
				break
			}
		}
	default:
		return fmt.Errorf("%w: event %s is not recurring", event.ErrInvalidEvent, sessionID)
	}

	if overrideID == "" {
		if !done {
			return nil
		}
		now := c.clock.Now()
		_, err := m.CreateOverride(ctx, sessionID, date, event.Event{Task: true, CompletedAt: &now})
		return err
	}
	if !done {
		return c.DeleteEvent(ctx, overrideID, UpdateOptions{})
	}
	now := c.clock.Now()
	return c.ProcessEvent(ctx, overrideID, func(ev event.Event) event.Event {
		ev.Task = true
		ev.CompletedAt = &now
		return ev
	}, UpdateOptions{})
}

// restoreSkipDate removes an override's date from its master. An orphan
// override is only logged.
func (m *RecurringManager) restoreSkipDate(ctx context.Context, override event_store.Details) {
	c := m.cache
	masterID, ok, err := c.resolveMaster(ctx, override.CalendarID, override.Event.RecurringEventID)
	if err != nil {
		log.Warnf("cannot resolve master of override %q: %v", override.Event.Title, err)
		return
	}
	if !ok {
		log.Warnf("override %q points at missing event %s, deleting it standalone",
			override.Event.Title, override.Event.RecurringEventID)
		return
	}
	date := override.Event.OccurrenceDate()
	master, ok := c.GetEventByID(masterID)
	if !ok || !master.HasSkipDate(date) {
		return
	}
	master.RemoveSkipDate(date)
	if err := c.UpdateEventWithID(ctx, masterID, master, UpdateOptions{Silent: true}); err != nil {
		log.Errorf("failed to restore %s on event %s: %v", date, masterID, err)
	}
}

// cascadeRename repoints every override of a master whose local identifier
// changes from oldLocal to newLocal. Children inherit the master's new title
// and category. Failures are counted, not returned.
func (m *RecurringManager) cascadeRename(ctx context.Context, calendarID, oldLocal, newLocal string, master event.Event) {
	c := m.cache
	c.mu.Lock()
	children := c.childrenLocked(calendarID, oldLocal)
	c.mu.Unlock()

	failed := 0
	for _, child := range children {
		err := c.ProcessEvent(ctx, child.SessionID, func(ev event.Event) event.Event {
			ev.RecurringEventID = newLocal
			ev.Title = master.Title
			ev.Category = master.Category
			ev.SubCategory = master.SubCategory
			return ev
		}, UpdateOptions{Silent: true})
		if err != nil {
			failed++
			log.Errorf("failed to repoint override %s: %v", child.SessionID, err)
		}
	}
	m.summarize("Updated", len(children), failed)
}

// IsConfirmationRequired reports whether err asks for a delete choice.
func IsConfirmationRequired(err error) bool {
	return errors.Is(err, ErrConfirmationRequired)
}
