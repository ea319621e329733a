package view

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/klokku/calcache/internal/rest"
	"github.com/klokku/calcache/pkg/calendar"
	"github.com/klokku/calcache/pkg/event"
	"github.com/klokku/calcache/pkg/event_cache"
	"github.com/klokku/calcache/pkg/recurrence"
	log "github.com/sirupsen/logrus"
)

var ErrInvalidRange = errors.New("invalid range")

type Handler struct {
	cache      *event_cache.Cache
	categories map[string]string
}

func NewHandler(cache *event_cache.Cache, categories map[string]string) *Handler {
	if categories == nil {
		categories = map[string]string{}
	}
	return &Handler{cache: cache, categories: categories}
}

func (h *Handler) GetSources(w http.ResponseWriter, r *http.Request) {
	zone := h.cache.DisplayTimezone()
	sources := h.cache.GetAllEvents()

	result := make([]SourceDTO, 0, len(sources))
	for _, source := range sources {
		dto := SourceDTO{
			CalendarID: source.CalendarID,
			Name:       source.Name,
			Color:      source.Color,
			Editable:   source.Editable,
			Events:     make([]EventDTO, 0, len(source.Events)),
		}
		for _, stored := range source.Events {
			in, err := recurrence.ToRenderInput(stored.SessionID, stored.Event, zone)
			if err != nil {
				if !errors.Is(err, recurrence.ErrNoOccurrences) {
					log.Warnf("skipping event %q of calendar %s: %v", stored.Event.Title, source.CalendarID, err)
				}
				continue
			}
			dto.Events = append(dto.Events, EventDTO{
				RenderInput: in,
				CalendarID:  source.CalendarID,
				Editable:    source.Editable && stored.Location != nil,
				Color:       h.categories[stored.Event.Category],
			})
		}
		result = append(result, dto)
	}
	rest.WriteJSON(w, http.StatusOK, result)
}

// GetOccurrences expands every event into concrete occurrences overlapping
// [from, to]. Both bounds accept RFC 3339 or a plain date in the display zone.
func (h *Handler) GetOccurrences(w http.ResponseWriter, r *http.Request) {
	zone := h.cache.DisplayTimezone()
	loc, err := time.LoadLocation(zone)
	if err != nil {
		rest.WriteError(w, http.StatusInternalServerError, "invalid display timezone", err.Error())
		return
	}
	from, err := parseBound(r.URL.Query().Get("from"), loc)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "invalid 'from' parameter", err.Error())
		return
	}
	to, err := parseBound(r.URL.Query().Get("to"), loc)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "invalid 'to' parameter", err.Error())
		return
	}
	if to.Before(from) {
		rest.WriteError(w, http.StatusBadRequest, ErrInvalidRange.Error(), "'to' is before 'from'")
		return
	}

	occurrences := make([]OccurrenceDTO, 0)
	for _, source := range h.cache.GetAllEvents() {
		for _, stored := range source.Events {
			ev := stored.Event
			base := OccurrenceDTO{
				ID:               stored.SessionID,
				CalendarID:       source.CalendarID,
				Title:            ev.Title,
				AllDay:           ev.AllDay,
				RecurringEventID: ev.RecurringEventID,
				Color:            h.categories[ev.Category],
			}
			if ev.IsMaster() {
				rec, err := recurrence.BuildRecurrence(ev, zone)
				if err != nil {
					if !errors.Is(err, recurrence.ErrNoOccurrences) {
						log.Warnf("cannot expand event %q: %v", ev.Title, err)
					}
					continue
				}
				expanded, err := recurrence.Expand(rec, from, to)
				if err != nil {
					log.Warnf("cannot expand event %q: %v", ev.Title, err)
					continue
				}
				for _, occ := range expanded {
					o := base
					o.Start, o.End = occ.Start, occ.End
					occurrences = append(occurrences, o)
				}
				continue
			}

			in, err := recurrence.ToRenderInput(stored.SessionID, ev, zone)
			if err != nil {
				log.Warnf("skipping event %q: %v", ev.Title, err)
				continue
			}
			start, err := parseBound(in.Start, loc)
			if err != nil {
				continue
			}
			end := start
			if in.End != "" {
				if end, err = parseBound(in.End, loc); err != nil {
					continue
				}
			}
			if start.After(to) || end.Before(from) {
				continue
			}
			base.Start, base.End = start, end
			occurrences = append(occurrences, base)
		}
	}
	rest.WriteJSON(w, http.StatusOK, occurrences)
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	calendarID := mux.Vars(r)["calendarId"]

	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if ev.Type == "" {
		ev.Type = event.TypeSingle
	}

	id, err := h.cache.AddEvent(r.Context(), calendarID, ev, event_cache.UpdateOptions{})
	if err != nil {
		h.writeCacheError(w, "failed to create event", err)
		return
	}
	rest.WriteJSON(w, http.StatusCreated, CreatedDTO{ID: id})
}

// UpdateEvent applies a renderer edit to a stored event.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var edit recurrence.RenderEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	details, ok := h.cache.GetDetails(id)
	if !ok {
		rest.WriteError(w, http.StatusNotFound, "event not found", id)
		return
	}

	zone := h.cache.DisplayTimezone()
	edited, err := recurrence.FromRenderEdit(edit, zone, details.Event.Timezone)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "invalid event", err.Error())
		return
	}
	merged := mergeEdit(details.Event, edited)

	if err := h.cache.UpdateEventWithID(r.Context(), id, merged, event_cache.UpdateOptions{}); err != nil {
		h.writeCacheError(w, "failed to update event", err)
		return
	}
	h.resync(r.Context(), details.Location)
	w.WriteHeader(http.StatusNoContent)
}

// DeleteEvent removes an event. children=promote or children=delete resolves
// a recurring event with overrides; without it such a delete answers 409.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	ctx := r.Context()

	details, ok := h.cache.GetDetails(id)
	if !ok {
		rest.WriteError(w, http.StatusNotFound, "event not found", id)
		return
	}

	var err error
	switch children := r.URL.Query().Get("children"); children {
	case "promote":
		err = h.cache.Recurring().PromoteChildren(ctx, id)
	case "delete":
		err = h.cache.Recurring().DeleteAllInstances(ctx, id)
	case "":
		err = h.cache.DeleteEvent(ctx, id, event_cache.UpdateOptions{Force: force})
	default:
		rest.WriteError(w, http.StatusBadRequest, "invalid 'children' parameter", children)
		return
	}
	if err != nil {
		h.writeCacheError(w, "failed to delete event", err)
		return
	}
	h.resync(ctx, details.Location)
	w.WriteHeader(http.StatusNoContent)
}

// CreateInstance creates an override for one occurrence of a recurring
// event. The body may carry fields that differ from the master.
func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, date := vars["id"], vars["date"]
	if _, err := event.ParseDate(date); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "invalid date", err.Error())
		return
	}

	var data event.Event
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			rest.WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}

	overrideID, err := h.cache.Recurring().CreateOverride(r.Context(), id, date, data)
	if err != nil {
		h.writeCacheError(w, "failed to create instance", err)
		return
	}
	rest.WriteJSON(w, http.StatusCreated, CreatedDTO{ID: overrideID})
}

func (h *Handler) SetInstanceCompletion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, date := vars["id"], vars["date"]
	if _, err := event.ParseDate(date); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "invalid date", err.Error())
		return
	}

	var completion CompletionDTO
	if err := json.NewDecoder(r.Body).Decode(&completion); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.cache.Recurring().ToggleInstance(r.Context(), id, date, completion.Done); err != nil {
		h.writeCacheError(w, "failed to update completion", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MoveEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var move MoveDTO
	if err := json.NewDecoder(r.Body).Decode(&move); err != nil || move.CalendarID == "" {
		rest.WriteError(w, http.StatusBadRequest, "invalid request body", "calendarId is required")
		return
	}
	details, ok := h.cache.GetDetails(id)
	if !ok {
		rest.WriteError(w, http.StatusNotFound, "event not found", id)
		return
	}
	if err := h.cache.MoveEventToCalendar(r.Context(), id, move.CalendarID); err != nil {
		h.writeCacheError(w, "failed to move event", err)
		return
	}
	h.resync(r.Context(), details.Location)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Revalidate(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := h.cache.RevalidateRemoteCalendars(r.Context(), force); err != nil {
		h.writeCacheError(w, "revalidation failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetUpdates(w http.ResponseWriter, r *http.Request) {
	rest.WriteJSON(w, http.StatusOK, UpdatesDTO{Seq: h.cache.LastNotification()})
}

// resync re-reads a file after a mutation so that positional locations of
// its other events stay current.
func (h *Handler) resync(ctx context.Context, loc *calendar.Location) {
	if loc == nil || loc.Path == "" {
		return
	}
	if err := h.cache.FileUpdated(ctx, loc.Path); err != nil {
		log.Warnf("failed to re-read %s: %v", loc.Path, err)
	}
}

func (h *Handler) writeCacheError(w http.ResponseWriter, message string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Errorf("%s: %v", message, err)
	}
	rest.WriteError(w, status, message, err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, event_cache.ErrEventNotFound),
		errors.Is(err, event_cache.ErrCalendarNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, event_cache.ErrConfirmationRequired):
		return http.StatusConflict
	case errors.Is(err, event_cache.ErrCalendarNotEditable),
		errors.Is(err, event_cache.ErrMissingLocation),
		errors.Is(err, event_cache.ErrNoLocalIdentifier),
		errors.Is(err, calendar.ErrNotSupported):
		return http.StatusForbidden
	case errors.Is(err, event.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, event_cache.ErrNotInitialized):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func parseBound(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing value")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(event.DateLayout, s, loc)
}
