// Cron-scheduled catalog warmer. Re-lists categories and their providers
// on a configurable schedule so the read-through cache stays warm and
// first-screen loads do not pay an upstream round trip.
package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/paydeck/formflow/pkg/logger"
)

// Refresher periodically warms the catalog listings.
type Refresher struct {
	api      API
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewRefresher creates a refresher. The schedule uses cron spec strings
// such as "@every 5m".
func NewRefresher(api API, schedule string, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("catalog-refresher")
	}
	if schedule == "" {
		schedule = "@every 5m"
	}
	return &Refresher{api: api, schedule: schedule, log: log}
}

// Name identifies the refresher to the lifecycle manager.
func (r *Refresher) Name() string { return "catalog-refresher" }

// Start schedules the warmer and runs one warm-up immediately.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.warm(context.Background()) }); err != nil {
		r.mu.Unlock()
		return err
	}
	r.cron = c
	r.running = true
	r.mu.Unlock()

	go r.warm(ctx)
	c.Start()
	r.log.WithField("schedule", r.schedule).Info("catalog refresher started")
	return nil
}

// Stop halts the schedule and waits for a running warm-up to finish.
func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c := r.cron
	r.cron = nil
	r.running = false
	r.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	r.log.Info("catalog refresher stopped")
	return nil
}

// warm lists categories and, per category, providers.
func (r *Refresher) warm(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	categories, err := r.api.ListCategories(ctx)
	if err != nil {
		r.log.WithError(err).Warn("catalog warm-up failed")
		return
	}
	for _, category := range categories {
		if _, err := r.api.ListProviders(ctx, category.Code); err != nil {
			r.log.WithError(err).
				WithField("category", category.Code).
				Warn("provider warm-up failed")
		}
	}
	r.log.WithField("categories", len(categories)).Debug("catalog warmed")
}
