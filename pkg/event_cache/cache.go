package event_cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klokku/calcache/internal/event_bus"
	"github.com/klokku/calcache/internal/utils"
	"github.com/klokku/calcache/pkg/calendar"
	"github.com/klokku/calcache/pkg/event"
	"github.com/klokku/calcache/pkg/event_store"
	log "github.com/sirupsen/logrus"
)

var (
	ErrCalendarNotRegistered = errors.New("calendar not registered")
	ErrCalendarNotEditable   = errors.New("calendar not editable")
	ErrMissingLocation       = errors.New("event has no location")
	ErrEventNotFound         = errors.New("event not found")
	ErrNoLocalIdentifier     = errors.New("event has no persistent identifier")
	ErrConfirmationRequired  = errors.New("deleting a recurring event with overrides requires a choice")
	ErrNotInitialized        = errors.New("event cache not populated")
)

const defaultRevalidateParallelism = 4

type Options struct {
	Calendars       []calendar.Calendar
	DisplayTimezone string
	Bus             *event_bus.EventBus
	Clock           utils.Clock
	Notifier        Notifier
	// Prompter resolves deletes of recurring events that have overrides.
	// Without one such deletes fail with ErrConfirmationRequired.
	Prompter              DeletePrompter
	RevalidateParallelism int
	// RevalidateOnPopulate starts a background revalidation of remote
	// calendars after every Populate.
	RevalidateOnPopulate bool
}

// UpdateOptions control a single mutation. Silent mutations are queued until
// the next FlushUpdateQueue; Force skips the recurring-delete choice.
type UpdateOptions struct {
	Silent bool
	Force  bool
}

// Cache is the single entry point for reading and mutating events. The
// mutex guards the store, the identifier map and the update queue; it is
// never held while a calendar does I/O.
type Cache struct {
	mu              sync.Mutex
	store           *event_store.Store
	calendars       map[string]calendar.Calendar
	calendarOrder   []string
	displayTimezone string
	nextID          uint64
	initialized     bool
	ids             *identifiers
	queue           updateQueue

	bulkUpdating     atomic.Bool
	revalidating     atomic.Bool
	lastRevalidation time.Time
	seq              atomic.Uint64

	bus                  *event_bus.EventBus
	clock                utils.Clock
	notifier             Notifier
	parallelism          int
	revalidateOnPopulate bool
	recurring            *RecurringManager
}

func New(opts Options) *Cache {
	c := &Cache{
		store:                event_store.NewStore(),
		ids:                  newIdentifiers(),
		bus:                  opts.Bus,
		clock:                opts.Clock,
		notifier:             opts.Notifier,
		parallelism:          opts.RevalidateParallelism,
		revalidateOnPopulate: opts.RevalidateOnPopulate,
	}
	if c.bus == nil {
		c.bus = event_bus.NewEventBus()
	}
	if c.clock == nil {
		c.clock = utils.SystemClock{}
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{}
	}
	if c.parallelism <= 0 {
		c.parallelism = defaultRevalidateParallelism
	}
	c.recurring = &RecurringManager{cache: c, prompter: opts.Prompter}
	c.Reset(opts.Calendars, opts.DisplayTimezone)
	return c
}

// Reset drops every stored event and registers a new set of calendars. The
// cache must be populated again before use.
func (c *Cache) Reset(calendars []calendar.Calendar, displayTimezone string) {
	c.mu.Lock()
	c.store.Clear()
	c.calendars = make(map[string]calendar.Calendar, len(calendars))
	c.calendarOrder = c.calendarOrder[:0]
	for _, cal := range calendars {
		if _, dup := c.calendars[cal.ID()]; dup {
			log.Warnf("calendar %s registered twice, keeping the first one", cal.ID())
			continue
		}
		c.calendars[cal.ID()] = cal
		c.calendarOrder = append(c.calendarOrder, cal.ID())
	}
	c.displayTimezone = displayTimezone
	c.nextID = 0
	c.initialized = false
	c.ids.markReady()
	c.ids = newIdentifiers()
	c.queue = updateQueue{}
	c.lastRevalidation = time.Time{}
	c.bulkUpdating.Store(false)
	c.mu.Unlock()

	c.publish(Notification{Kind: NotificationResync})
}

func (c *Cache) DisplayTimezone() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayTimezone
}

func (c *Cache) Recurring() *RecurringManager {
	return c.recurring
}

// Populate fetches every calendar and fills the store. A calendar that fails
// to load contributes no events; invalid events are skipped. The identifier
// map is built in the background, see WaitForIdentifiers.
func (c *Cache) Populate(ctx context.Context) error {
	cals := c.calendarList()

	fetched := make([][]calendar.EventResponse, len(cals))
	for i, cal := range cals {
		events, err := cal.GetEvents(ctx)
		if err != nil {
			log.Errorf("failed to load calendar %s: %v", cal.ID(), err)
			continue
		}
		fetched[i] = validEvents(cal.ID(), events)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.store.Clear()
	c.ids.markReady()
	c.ids = newIdentifiers()
	total := 0
	for i, cal := range cals {
		for _, resp := range fetched[i] {
			c.store.Add(cal.ID(), resp.Location, c.newSessionIDLocked(), resp.Event)
			total++
		}
	}
	c.initialized = true
	ids := c.ids
	c.mu.Unlock()

	log.Debugf("populated event cache with %d events from %d calendars", total, len(cals))
	go c.buildIdentifiers(ids)
	c.publish(Notification{Kind: NotificationResync})

	if c.revalidateOnPopulate {
		go func() {
			if err := c.RevalidateRemoteCalendars(context.Background(), false); err != nil {
				log.Warnf("initial revalidation: %v", err)
			}
		}()
	}
	return nil
}

func validEvents(calendarID string, events []calendar.EventResponse) []calendar.EventResponse {
	valid := make([]calendar.EventResponse, 0, len(events))
	for _, resp := range events {
		if err := resp.Event.Validate(); err != nil {
			log.Warnf("skipping event %q from calendar %s: %v", resp.Event.Title, calendarID, err)
			continue
		}
		valid = append(valid, resp)
	}
	return valid
}

func (c *Cache) newSessionIDLocked() string {
	c.nextID++
	return strconv.FormatUint(c.nextID, 10)
}

func (c *Cache) calendarList() []calendar.Calendar {
	c.mu.Lock()
	defer c.mu.Unlock()
	cals := make([]calendar.Calendar, 0, len(c.calendarOrder))
	for _, id := range c.calendarOrder {
		cals = append(cals, c.calendars[id])
	}
	return cals
}

func (c *Cache) GetCalendar(calendarID string) (calendar.Calendar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cal, ok := c.calendars[calendarID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCalendarNotRegistered, calendarID)
	}
	return cal, nil
}

// editableCalendar returns the calendar if it supports the capability
// selected by allowed.
func (c *Cache) editableCalendar(calendarID string, allowed func(calendar.Capabilities) bool) (calendar.Editable, error) {
	cal, err := c.GetCalendar(calendarID)
	if err != nil {
		return nil, err
	}
	editable, ok := cal.(calendar.Editable)
	if !ok || !allowed(cal.Capabilities()) {
		return nil, fmt.Errorf("%w: %s", ErrCalendarNotEditable, calendarID)
	}
	return editable, nil
}

func canCreate(c calendar.Capabilities) bool { return c.CanCreate }
func canEdit(c calendar.Capabilities) bool   { return c.CanEdit }
func canDelete(c calendar.Capabilities) bool { return c.CanDelete }

func (c *Cache) storedLocked(sessionID string) (event_store.StoredEvent, bool) {
	details, ok := c.store.GetDetails(sessionID)
	if !ok {
		return event_store.StoredEvent{}, false
	}
	return event_store.StoredEvent{
		Event:      details.Event,
		SessionID:  sessionID,
		CalendarID: details.CalendarID,
		Location:   details.Location,
	}, true
}

func (c *Cache) GetEventByID(sessionID string) (event.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.GetByID(sessionID)
}

func (c *Cache) GetDetails(sessionID string) (event_store.Details, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.GetDetails(sessionID)
}

func (c *Cache) details(sessionID string) (event_store.Details, error) {
	details, ok := c.GetDetails(sessionID)
	if !ok {
		return event_store.Details{}, fmt.Errorf("%w: %s", ErrEventNotFound, sessionID)
	}
	return details, nil
}

// GetAllEvents returns one source per registered calendar, in registration
// order.
func (c *Cache) GetAllEvents() []Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	sources := make([]Source, 0, len(c.calendarOrder))
	for _, id := range c.calendarOrder {
		sources = append(sources, c.sourceLocked(c.calendars[id]))
	}
	return sources
}

func (c *Cache) sourceLocked(cal calendar.Calendar) Source {
	return Source{
		CalendarID: cal.ID(),
		Name:       cal.Name(),
		Color:      cal.Color(),
		Editable:   cal.Capabilities().CanEdit,
		Events:     c.store.GetEventsInCalendar(cal.ID()),
	}
}

// IsEventEditable reports whether the event's calendar accepts edits and the
// event can be written back.
func (c *Cache) IsEventEditable(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	details, ok := c.store.GetDetails(sessionID)
	if !ok || details.Location == nil {
		return false
	}
	cal, ok := c.calendars[details.CalendarID]
	if !ok {
		return false
	}
	_, editable := cal.(calendar.Editable)
	return editable && cal.Capabilities().CanEdit
}

func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Count()
}

// AddEvent persists ev in the given calendar and stores the result.
func (c *Cache) AddEvent(ctx context.Context, calendarID string, ev event.Event, opts UpdateOptions) (string, error) {
	cal, err := c.editableCalendar(calendarID, canCreate)
	if err != nil {
		return "", err
	}
	if err := ev.Validate(); err != nil {
		return "", err
	}
	created, loc, err := cal.CreateEvent(ctx, ev)
	if err != nil {
		return "", fmt.Errorf("failed to create event in calendar %s: %w", calendarID, err)
	}

	c.mu.Lock()
	id := c.newSessionIDLocked()
	c.store.Add(calendarID, loc, id, created)
	c.trackLocked(calendarID, id, created)
	c.mu.Unlock()

	c.emit(nil, []string{id}, opts.Silent)
	return id, nil
}

// UpdateEventWithID writes ev over the stored event. When a recurring master
// changes its local identifier, its overrides are repointed once the master
// is written.
func (c *Cache) UpdateEventWithID(ctx context.Context, sessionID string, ev event.Event, opts UpdateOptions) error {
	defer c.settle(opts)
	details, err := c.details(sessionID)
	if err != nil {
		return err
	}
	cal, err := c.editableCalendar(details.CalendarID, canEdit)
	if err != nil {
		return err
	}
	if details.Location == nil {
		return fmt.Errorf("%w: %s", ErrMissingLocation, sessionID)
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	var oldLocal, newLocal string
	renamed := false
	if details.Event.IsMaster() {
		var hadID, hasID bool
		oldLocal, hadID = cal.GetLocalIdentifier(details.Event)
		newLocal, hasID = cal.GetLocalIdentifier(ev)
		renamed = hadID && hasID && oldLocal != newLocal
	}

	swapped := false
	swap := func(loc calendar.Location) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.store.Add(details.CalendarID, &loc, sessionID, ev)
		c.trackLocked(details.CalendarID, sessionID, ev)
		swapped = true
	}
	if err := cal.ModifyEvent(ctx, *details.Location, ev, swap); err != nil {
		return fmt.Errorf("failed to modify event %s: %w", sessionID, err)
	}
	if !swapped {
		log.Warnf("calendar %s did not report a location for event %s", details.CalendarID, sessionID)
		swap(*details.Location)
	}
	if renamed {
		c.recurring.cascadeRename(ctx, details.CalendarID, oldLocal, newLocal, ev)
	}

	c.emit([]string{sessionID}, []string{sessionID}, opts.Silent)
	return nil
}

// ProcessEvent applies transform to the stored event and saves the result.
func (c *Cache) ProcessEvent(ctx context.Context, sessionID string, transform func(event.Event) event.Event, opts UpdateOptions) error {
	ev, ok := c.GetEventByID(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, sessionID)
	}
	return c.UpdateEventWithID(ctx, sessionID, transform(ev), opts)
}

// DeleteEvent removes an event. Deleting a recurring master that has
// overrides is handed to the recurring manager unless forced. Once an
// override is deleted its date is removed from the master's skip dates.
func (c *Cache) DeleteEvent(ctx context.Context, sessionID string, opts UpdateOptions) error {
	return c.deleteEvent(ctx, sessionID, opts, true)
}

func (c *Cache) deleteEvent(ctx context.Context, sessionID string, opts UpdateOptions, undoOverride bool) error {
	defer c.settle(opts)
	details, err := c.details(sessionID)
	if err != nil {
		return err
	}
	cal, err := c.editableCalendar(details.CalendarID, canDelete)
	if err != nil {
		return err
	}
	if details.Location == nil {
		return fmt.Errorf("%w: %s", ErrMissingLocation, sessionID)
	}

	if details.Event.IsMaster() && !opts.Force {
		if children := c.recurring.Children(sessionID); len(children) > 0 {
			return c.recurring.HandleDelete(ctx, sessionID, len(children))
		}
	}
	if err := cal.DeleteEvent(ctx, *details.Location); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", sessionID, err)
	}
	c.mu.Lock()
	c.ids.remove(sessionID)
	c.store.Delete(sessionID)
	c.mu.Unlock()

	if undoOverride && details.Event.IsOverride() {
		c.recurring.restoreSkipDate(ctx, details)
	}

	c.emit([]string{sessionID}, nil, opts.Silent)
	return nil
}

// MoveEventToCalendar recreates an event in another editable calendar and
// deletes the original. The session id is kept.
func (c *Cache) MoveEventToCalendar(ctx context.Context, sessionID, calendarID string) error {
	details, err := c.details(sessionID)
	if err != nil {
		return err
	}
	if details.CalendarID == calendarID {
		return nil
	}
	if details.Event.IsMaster() || details.Event.IsOverride() {
		return fmt.Errorf("%w: recurring events cannot change calendar", calendar.ErrNotSupported)
	}
	source, err := c.editableCalendar(details.CalendarID, canDelete)
	if err != nil {
		return err
	}
	target, err := c.editableCalendar(calendarID, canCreate)
	if err != nil {
		return err
	}
	if details.Location == nil {
		return fmt.Errorf("%w: %s", ErrMissingLocation, sessionID)
	}

	created, loc, err := target.CreateEvent(ctx, details.Event)
	if err != nil {
		return fmt.Errorf("failed to create event in calendar %s: %w", calendarID, err)
	}
	if err := source.DeleteEvent(ctx, *details.Location); err != nil {
		if loc != nil {
			if rollbackErr := target.DeleteEvent(ctx, *loc); rollbackErr != nil {
				log.Errorf("event %s now exists in both %s and %s: %v", sessionID, details.CalendarID, calendarID, rollbackErr)
			}
		}
		return fmt.Errorf("failed to delete event %s from calendar %s: %w", sessionID, details.CalendarID, err)
	}

	c.mu.Lock()
	c.ids.remove(sessionID)
	c.store.Add(calendarID, loc, sessionID, created)
	c.trackLocked(calendarID, sessionID, created)
	c.mu.Unlock()

	c.emit([]string{sessionID}, []string{sessionID}, false)
	return nil
}
