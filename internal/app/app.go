package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/klokku/calcache/internal/config"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	ConfigPath string
	// Listen overrides the configured listen address when set.
	Listen string
}

// Application wires configuration, the event cache, router, and server lifecycle.
type Application struct {
	cfg    config.Application
	deps   *Dependencies
	router *mux.Router
	srv    *http.Server
}

// NewApplication loads the configuration and builds the HTTP application,
// ready to Run().
func NewApplication(ctx context.Context, opts Options) (*Application, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" {
		level, _ := log.ParseLevel(cfg.LogLevel)
		log.SetLevel(level)
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	deps, err := BuildDependencies(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	SetupMiddleware(r)
	RegisterRoutes(r, deps)

	srv := &http.Server{
		Handler:      r,
		Addr:         cfg.Listen,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Application{cfg: cfg, deps: deps, router: r, srv: srv}, nil
}

// Run populates the cache, starts the refresh schedule and serves HTTP until
// ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.deps.Cache.Populate(ctx); err != nil {
		return err
	}
	log.Infof("Loaded %d events from %d calendar(s)", a.deps.Cache.Count(), len(a.cfg.Calendars))

	if a.deps.Scheduler != nil {
		a.deps.Scheduler.Start()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Starting server on %s", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")
		if a.deps.Scheduler != nil {
			<-a.deps.Scheduler.Stop().Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
