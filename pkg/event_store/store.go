package event_store

import (
	"sort"

	"github.com/klokku/calcache/pkg/calendar"
	"github.com/klokku/calcache/pkg/event"
)

type StoredEvent struct {
	Event      event.Event        `json:"event"`
	SessionID  string             `json:"id"`
	CalendarID string             `json:"calendarId"`
	Location   *calendar.Location `json:"location,omitempty"`
}

type Details struct {
	Event      event.Event
	CalendarID string
	Location   *calendar.Location
}

type entry struct {
	event      event.Event
	calendarID string
	location   *calendar.Location
}

// Store indexes events by session id, owning calendar and originating file.
//
// Store is not safe for concurrent use; its owner serialises access.
type Store struct {
	events     map[string]entry
	byCalendar map[string]map[string]struct{}
	byPath     map[string]map[string]struct{}
}

func NewStore() *Store {
	s := &Store{}
	s.Clear()
	return s
}

func (s *Store) Clear() {
	s.events = make(map[string]entry)
	s.byCalendar = make(map[string]map[string]struct{})
	s.byPath = make(map[string]map[string]struct{})
}

// Add stores ev under sessionID, replacing any previous entry with that id.
func (s *Store) Add(calendarID string, location *calendar.Location, sessionID string, ev event.Event) string {
	if _, exists := s.events[sessionID]; exists {
		s.Delete(sessionID)
	}
	var loc *calendar.Location
	if location != nil {
		l := *location
		loc = &l
	}
	s.events[sessionID] = entry{event: ev.Clone(), calendarID: calendarID, location: loc}
	addToIndex(s.byCalendar, calendarID, sessionID)
	if loc != nil && loc.Path != "" {
		addToIndex(s.byPath, loc.Path, sessionID)
	}
	return sessionID
}

// Delete removes the event and reports whether it existed.
func (s *Store) Delete(sessionID string) bool {
	e, ok := s.events[sessionID]
	if !ok {
		return false
	}
	delete(s.events, sessionID)
	removeFromIndex(s.byCalendar, e.calendarID, sessionID)
	if e.location != nil && e.location.Path != "" {
		removeFromIndex(s.byPath, e.location.Path, sessionID)
	}
	return true
}

func (s *Store) GetByID(sessionID string) (event.Event, bool) {
	e, ok := s.events[sessionID]
	if !ok {
		return event.Event{}, false
	}
	return e.event.Clone(), true
}

func (s *Store) GetDetails(sessionID string) (Details, bool) {
	e, ok := s.events[sessionID]
	if !ok {
		return Details{}, false
	}
	return Details{Event: e.event.Clone(), CalendarID: e.calendarID, Location: copyLocation(e.location)}, true
}

func (s *Store) GetAllEvents() []StoredEvent {
	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	return s.collect(ids)
}

func (s *Store) GetEventsInCalendar(calendarID string) []StoredEvent {
	return s.collect(keys(s.byCalendar[calendarID]))
}

func (s *Store) GetEventsInFile(path string) []StoredEvent {
	return s.collect(keys(s.byPath[path]))
}

func (s *Store) GetEventsInFileAndCalendar(path, calendarID string) []StoredEvent {
	inCalendar := s.byCalendar[calendarID]
	ids := make([]string, 0)
	for id := range s.byPath[path] {
		if _, ok := inCalendar[id]; ok {
			ids = append(ids, id)
		}
	}
	return s.collect(ids)
}

// DeleteEventsAtPath removes every event that originated from path.
func (s *Store) DeleteEventsAtPath(path string) []string {
	ids := sortedKeys(s.byPath[path])
	for _, id := range ids {
		s.Delete(id)
	}
	return ids
}

func (s *Store) DeleteEventsInCalendar(calendarID string) []string {
	ids := sortedKeys(s.byCalendar[calendarID])
	for _, id := range ids {
		s.Delete(id)
	}
	return ids
}

func (s *Store) Count() int {
	return len(s.events)
}

func (s *Store) collect(ids []string) []StoredEvent {
	sort.Strings(ids)
	out := make([]StoredEvent, 0, len(ids))
	for _, id := range ids {
		e := s.events[id]
		out = append(out, StoredEvent{
			Event:      e.event.Clone(),
			SessionID:  id,
			CalendarID: e.calendarID,
			Location:   copyLocation(e.location),
		})
	}
	return out
}

func copyLocation(l *calendar.Location) *calendar.Location {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

func addToIndex(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeFromIndex(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := keys(set)
	sort.Strings(out)
	return out
}
