// Package app wires the form service together: upstream client, catalog
// cache, session manager, audit store, and lifecycle-managed runners.
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/paydeck/formflow/internal/app/services/session"
	"github.com/paydeck/formflow/internal/app/storage"
	"github.com/paydeck/formflow/internal/app/storage/memory"
	"github.com/paydeck/formflow/internal/app/storage/postgres"
	"github.com/paydeck/formflow/internal/app/system"
	"github.com/paydeck/formflow/internal/config"
	"github.com/paydeck/formflow/internal/form/events"
	"github.com/paydeck/formflow/internal/upstream"
	"github.com/paydeck/formflow/pkg/logger"
)

// Application ties the service components together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Catalog  upstream.API
	Sessions *session.Manager
	Audit    storage.SubmissionAuditStore
	Events   *events.RingBuffer

	closers []func() error
}

// New builds a fully initialised application from configuration.
func New(cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	api := upstream.API(upstream.NewClient(upstream.Config{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		Timeout: cfg.Upstream.Timeout(),
	}, log))

	a := &Application{
		manager: system.NewManager(),
		log:     log,
		Events:  events.NewRingBuffer(cfg.Pipeline.EventBufferSize),
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		api = upstream.NewCachedAPI(api, client, upstream.CacheConfig{}, log)
		a.closers = append(a.closers, client.Close)
		log.WithField("addr", cfg.Redis.Addr).Info("catalog cache enabled")
	} else {
		log.Warn("FORMFLOW_REDIS_ADDR not set; catalog cache disabled")
	}
	a.Catalog = api

	if cfg.Postgres.DSN != "" {
		store, err := postgres.Open(cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		if err := store.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("migrate audit store: %w", err)
		}
		a.Audit = store
		a.closers = append(a.closers, store.Close)
		log.Info("postgres submission audit enabled")
	} else {
		a.Audit = memory.New()
		log.Warn("FORMFLOW_POSTGRES_DSN not set; using in-memory submission audit")
	}

	a.Sessions = session.NewManager(a.Catalog, a.Audit, a.Events, cfg.Pipeline.DebounceDelay(), log)

	refresher := upstream.NewRefresher(a.Catalog, cfg.Pipeline.RefreshSchedule, log)
	if err := a.manager.Register(refresher); err != nil {
		return nil, fmt.Errorf("register %s: %w", refresher.Name(), err)
	}

	return a, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(svc system.Service) error {
	return a.manager.Register(svc)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and releases held connections.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	for _, closeFn := range a.closers {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
