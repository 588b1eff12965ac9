// Package catalog caches strategy definitions, schemas and readmes.
package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"marko-dashboard/internal/clock"
	"marko-dashboard/internal/logging"
	"marko-dashboard/internal/models"
)

// Source fetches catalog resources from the backend.
type Source interface {
	CatalogDefinitions(ctx context.Context) ([]models.CatalogEntry, error)
	CatalogSchema(ctx context.Context, id string) (*models.TelemetrySchema, error)
	CatalogReadme(ctx context.Context, id string) (string, error)
}

// Config holds cache settings.
type Config struct {
	TTL    time.Duration
	Clock  clock.Clock
	Logger zerolog.Logger
}

// Cache serves the catalog. Definitions expire after the TTL; schemas are
// kept for the life of the cache; readmes are never cached.
type Cache struct {
	source Source
	ttl    time.Duration
	clock  clock.Clock
	logger zerolog.Logger
	group  singleflight.Group

	mu          sync.RWMutex
	definitions []models.CatalogEntry
	fetchedAt   time.Time
	schemas     map[string]*models.TelemetrySchema
}

// New creates a cache. A zero TTL uses five minutes.
func New(source Source, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Cache{
		source:  source,
		ttl:     cfg.TTL,
		clock:   cfg.Clock,
		logger:  logging.WithComponent(cfg.Logger, "catalog"),
		schemas: make(map[string]*models.TelemetrySchema),
	}
}

// Definitions returns the definition list, fetching it when the cached copy
// is older than the TTL or force is set. When a refetch fails the previous
// list, if any, is returned together with the error.
func (c *Cache) Definitions(ctx context.Context, force bool) ([]models.CatalogEntry, error) {
	if !force {
		c.mu.RLock()
		fresh := c.definitions != nil && c.clock.Now().Sub(c.fetchedAt) < c.ttl
		list := c.definitions
		c.mu.RUnlock()
		if fresh {
			return cloneEntries(list), nil
		}
	}

	v, err, shared := c.group.Do("definitions", func() (interface{}, error) {
		list, err := c.source.CatalogDefinitions(ctx)
		if err != nil {
			return nil, err
		}
		if list == nil {
			list = []models.CatalogEntry{}
		}
		c.mu.Lock()
		c.definitions = list
		c.fetchedAt = c.clock.Now()
		c.mu.Unlock()
		return list, nil
	})
	if err != nil {
		logging.LogPoll(c.logger, "catalog", "", err)
		c.mu.RLock()
		prev := c.definitions
		c.mu.RUnlock()
		return cloneEntries(prev), err
	}
	if shared {
		c.logger.Debug().Msg("Joined in-flight definitions fetch")
	}
	return cloneEntries(v.([]models.CatalogEntry)), nil
}

// Search returns the definitions whose id or name contains query.
func (c *Cache) Search(ctx context.Context, query string) ([]models.CatalogEntry, error) {
	list, err := c.Definitions(ctx, false)
	if err != nil && list == nil {
		return nil, err
	}
	return models.FilterCatalog(list, query), err
}

// Definition returns one definition by id.
func (c *Cache) Definition(ctx context.Context, id string) (models.CatalogEntry, bool) {
	list, _ := c.Definitions(ctx, false)
	for _, e := range list {
		if e.ID == id {
			return e, true
		}
	}
	return models.CatalogEntry{}, false
}

// Schema returns the schema for id, or nil when it cannot be fetched.
// Failures are not cached.
func (c *Cache) Schema(ctx context.Context, id string) *models.TelemetrySchema {
	c.mu.RLock()
	s, ok := c.schemas[id]
	c.mu.RUnlock()
	if ok {
		return cloneSchema(s)
	}

	v, err, _ := c.group.Do("schema:"+id, func() (interface{}, error) {
		s, err := c.source.CatalogSchema(ctx, id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.schemas[id] = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("definition", id).Msg("Schema unavailable")
		return nil
	}
	return cloneSchema(v.(*models.TelemetrySchema))
}

// Readme returns the definition's documentation. ok is false on 404 and on
// any other failure.
func (c *Cache) Readme(ctx context.Context, id string) (text string, ok bool) {
	text, err := c.source.CatalogReadme(ctx, id)
	if err != nil {
		c.logger.Debug().Err(err).Str("definition", id).Msg("Readme unavailable")
		return "", false
	}
	return text, true
}

// Invalidate drops every cached entry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.definitions = nil
	c.fetchedAt = time.Time{}
	c.schemas = make(map[string]*models.TelemetrySchema)
	c.mu.Unlock()
}

func cloneEntries(in []models.CatalogEntry) []models.CatalogEntry {
	if in == nil {
		return nil
	}
	out := make([]models.CatalogEntry, len(in))
	copy(out, in)
	return out
}

func cloneSchema(s *models.TelemetrySchema) *models.TelemetrySchema {
	if s == nil {
		return nil
	}
	out := &models.TelemetrySchema{
		TelemetryFields: append([]string(nil), s.TelemetryFields...),
		DefaultParams:   make(map[string]interface{}, len(s.DefaultParams)),
	}
	for k, v := range s.DefaultParams {
		out.DefaultParams[k] = v
	}
	return out
}
