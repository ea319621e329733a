package event_cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klokku/calcache/pkg/calendar"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// MinRevalidationInterval is the shortest time between two unforced
// revalidation passes.
const MinRevalidationInterval = 5 * time.Minute

// RevalidateRemoteCalendars re-syncs every remote calendar concurrently and
// replaces its events. Only one pass runs at a time; unforced passes are
// throttled. Calendars that fail keep their previous events and are reported
// together in one notice.
func (c *Cache) RevalidateRemoteCalendars(ctx context.Context, force bool) error {
	if !c.revalidating.CompareAndSwap(false, true) {
		log.Debug("revalidation already in progress, skipping")
		return nil
	}
	defer c.revalidating.Store(false)

	now := c.clock.Now()
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if !force && !c.lastRevalidation.IsZero() && now.Sub(c.lastRevalidation) < MinRevalidationInterval {
		c.mu.Unlock()
		log.Debugf("last revalidation at %s, skipping", c.lastRevalidation.Format(time.RFC3339))
		return nil
	}
	c.lastRevalidation = now
	var remotes []calendar.Remote
	for _, id := range c.calendarOrder {
		if remote, ok := c.calendars[id].(calendar.Remote); ok {
			remotes = append(remotes, remote)
		}
	}
	c.mu.Unlock()

	if len(remotes) == 0 {
		return nil
	}

	results := make([]error, len(remotes))
	var g errgroup.Group
	g.SetLimit(c.parallelism)
	for i, remote := range remotes {
		g.Go(func() error {
			results[i] = c.revalidateCalendar(ctx, remote)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	var errs []error
	for i, err := range results {
		if err != nil {
			log.Errorf("failed to revalidate calendar %s: %v", remotes[i].ID(), err)
			failed = append(failed, remotes[i].Name())
			errs = append(errs, err)
		}
	}
	if len(failed) > 0 {
		c.notifier.Notice(fmt.Sprintf("Failed to refresh %d calendar(s): %s", len(failed), strings.Join(failed, ", ")))
		return errors.Join(errs...)
	}
	return nil
}

func (c *Cache) revalidateCalendar(ctx context.Context, remote calendar.Remote) error {
	if err := remote.Revalidate(ctx); err != nil {
		return fmt.Errorf("revalidate: %w", err)
	}
	events, err := remote.GetEvents(ctx)
	if err != nil {
		return fmt.Errorf("get events: %w", err)
	}
	events = validEvents(remote.ID(), events)

	c.mu.Lock()
	if _, ok := c.calendars[remote.ID()]; !ok {
		// removed by a reset while fetching
		c.mu.Unlock()
		return nil
	}
	for _, id := range c.store.DeleteEventsInCalendar(remote.ID()) {
		c.ids.remove(id)
	}
	for _, resp := range events {
		id := c.newSessionIDLocked()
		c.store.Add(remote.ID(), resp.Location, id, resp.Event)
		c.trackLocked(remote.ID(), id, resp.Event)
	}
	source := c.sourceLocked(remote)
	c.mu.Unlock()

	log.Debugf("revalidated calendar %s: %d events", remote.ID(), len(events))
	c.publish(Notification{Kind: NotificationCalendar, Calendar: &source})
	return nil
}
