// Read-through Redis cache for catalog listings. Only the idempotent
// listing calls are cached; validation, quoting, and submission always
// pass through. Empty listings are cached (a valid result); errors are
// not. A failing cache degrades to the upstream call with a warning.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/paydeck/formflow/internal/app/domain/catalog"
	"github.com/paydeck/formflow/internal/app/domain/draft"
	"github.com/paydeck/formflow/pkg/logger"
)

// CacheConfig configures listing TTLs.
type CacheConfig struct {
	CategoryTTL time.Duration
	ProviderTTL time.Duration
	PackageTTL  time.Duration
}

// CachedAPI wraps an API with a Redis read-through cache for listings.
type CachedAPI struct {
	next   API
	client *redis.Client
	cfg    CacheConfig
	log    *logger.Logger
}

var _ API = (*CachedAPI)(nil)

// NewCachedAPI wraps next with the cache.
func NewCachedAPI(next API, client *redis.Client, cfg CacheConfig, log *logger.Logger) *CachedAPI {
	if log == nil {
		log = logger.NewDefault("upstream-cache")
	}
	if cfg.CategoryTTL <= 0 {
		cfg.CategoryTTL = time.Hour
	}
	if cfg.ProviderTTL <= 0 {
		cfg.ProviderTTL = 30 * time.Minute
	}
	if cfg.PackageTTL <= 0 {
		cfg.PackageTTL = 10 * time.Minute
	}
	return &CachedAPI{next: next, client: client, cfg: cfg, log: log}
}

// lookup fills target from the cache, returning false on miss or cache
// failure.
func (c *CachedAPI) lookup(ctx context.Context, key string, target any) bool {
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("key", key).Warn("catalog cache read failed")
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("catalog cache entry corrupt")
		return false
	}
	return true
}

func (c *CachedAPI) store(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("catalog cache write failed")
	}
}

// ListCategories lists categories through the cache.
func (c *CachedAPI) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	const key = "formflow:catalog:categories"
	var cached []catalog.Category
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}
	fresh, err := c.next.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh, c.cfg.CategoryTTL)
	return fresh, nil
}

// ListProviders lists providers through the cache.
func (c *CachedAPI) ListProviders(ctx context.Context, categoryCode string) ([]catalog.Provider, error) {
	key := "formflow:catalog:providers:" + categoryCode
	var cached []catalog.Provider
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}
	fresh, err := c.next.ListProviders(ctx, categoryCode)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh, c.cfg.ProviderTTL)
	return fresh, nil
}

// ListPackages lists packages through the cache. An empty listing is a
// valid, cacheable result.
func (c *CachedAPI) ListPackages(ctx context.Context, providerCode string) ([]catalog.Package, error) {
	key := "formflow:catalog:packages:" + providerCode
	var cached []catalog.Package
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}
	fresh, err := c.next.ListPackages(ctx, providerCode)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh, c.cfg.PackageTTL)
	return fresh, nil
}

// ValidateIdentifier passes through.
func (c *CachedAPI) ValidateIdentifier(ctx context.Context, key draft.ValidationKey) (draft.ValidationResult, error) {
	return c.next.ValidateIdentifier(ctx, key)
}

// QuoteFee passes through.
func (c *CachedAPI) QuoteFee(ctx context.Context, key draft.FeeKey) (draft.FeeBreakdown, error) {
	return c.next.QuoteFee(ctx, key)
}

// Submit passes through.
func (c *CachedAPI) Submit(ctx context.Context, d draft.TransactionDraft) (draft.Receipt, error) {
	return c.next.Submit(ctx, d)
}
