package app

import (
	"context"
	"fmt"

	"github.com/klokku/calcache/internal/config"
	"github.com/klokku/calcache/internal/event_bus"
	"github.com/klokku/calcache/internal/utils"
	"github.com/klokku/calcache/pkg/calendar_provider"
	"github.com/klokku/calcache/pkg/event_cache"
	"github.com/klokku/calcache/pkg/ical"
	"github.com/klokku/calcache/pkg/view"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	Clock utils.Clock
	Bus   *event_bus.EventBus

	CalendarProvider *calendar_provider.CalendarProvider
	Cache            *event_cache.Cache
	ViewHandler      *view.Handler

	Scheduler *cron.Cron
}

// BuildDependencies initializes and wires all application services and handlers.
func BuildDependencies(ctx context.Context, cfg config.Application) (*Dependencies, error) {
	deps := &Dependencies{}

	deps.Clock = &utils.SystemClock{}
	deps.Bus = event_bus.NewEventBus()

	deps.CalendarProvider = calendar_provider.NewCalendarProvider(cfg.DisplayTimezone,
		calendar_provider.WithFetcher(ical.NewFetcher(nil, "")))
	calendars := deps.CalendarProvider.GetCalendars(ctx, cfg.Calendars)

	deps.Cache = event_cache.New(event_cache.Options{
		Calendars:             calendars,
		DisplayTimezone:       cfg.DisplayTimezone,
		Bus:                   deps.Bus,
		Clock:                 deps.Clock,
		RevalidateParallelism: cfg.RevalidateParallelism,
		RevalidateOnPopulate:  true,
	})
	deps.Cache.On(func(n event_cache.Notification) {
		log.Debugf("view notification #%d (%s)", n.Seq, n.Kind)
	})

	deps.ViewHandler = view.NewHandler(deps.Cache, cfg.Categories)

	if cfg.RefreshCron != "" {
		deps.Scheduler = cron.New()
		_, err := deps.Scheduler.AddFunc(cfg.RefreshCron, func() {
			if err := deps.Cache.RevalidateRemoteCalendars(context.Background(), false); err != nil {
				log.Warnf("scheduled revalidation: %v", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule revalidation: %w", err)
		}
	}

	return deps, nil
}
