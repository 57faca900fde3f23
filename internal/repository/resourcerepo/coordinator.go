// Package resourcerepo coordinates the three cache tiers. Loads are
// answered from memory when possible, then from the durable local
// store, and only then from the network; failed refreshes fall back
// to whatever cached copy exists rather than surfacing an error.
package resourcerepo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"eventwish-sync/internal/config"
	"eventwish-sync/internal/domain/resource"
	apperrors "eventwish-sync/internal/errors"
	"eventwish-sync/internal/infrastructure/cache"
	"eventwish-sync/internal/infrastructure/connectivity"
	"eventwish-sync/internal/infrastructure/netclient"
	"eventwish-sync/internal/infrastructure/sqlite"
	"eventwish-sync/internal/metrics"
	"eventwish-sync/internal/stream"
)

// Fetcher is the slice of the network client the coordinator needs.
type Fetcher interface {
	Fetch(ctx context.Context, t resource.Type, key, etag, cacheControl string) (netclient.Result, error)
	FetchList(ctx context.Context, t resource.Type, q netclient.ListQuery, etag, cacheControl string) (netclient.Result, error)
}

// Connectivity is the slice of the connectivity monitor the
// coordinator consults before spending bandwidth.
type Connectivity interface {
	Online() bool
	Metered() bool
	CacheControlHint() string
}

// MemoryCache is the in-process tier.
type MemoryCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
	DeleteByPrefix(prefix string) int
	Clear()
}

// LocalStore is the durable tier.
type LocalStore interface {
	Get(ctx context.Context, t resource.Type, key string) (resource.Entity, error)
	Upsert(ctx context.Context, entity resource.Entity) error
	UpsertAll(ctx context.Context, entities []resource.Entity) error
	MarkStaleByType(ctx context.Context, t resource.Type) (int64, error)
	DeleteByType(ctx context.Context, t resource.Type) (int64, error)
	DeleteAll(ctx context.Context) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	ListByType(ctx context.Context, t resource.Type) ([]resource.Entity, error)
	Watch(ctx context.Context, t resource.Type, key string) <-chan resource.Entity
}

// Result is the payload stream element for single-resource loads.
type Result = stream.Resource[json.RawMessage]

// ListResult is the stream element for full-collection loads.
type ListResult = stream.Resource[[]resource.Entity]

// Coordinator implements the tiered load algorithm.
type Coordinator struct {
	memory  MemoryCache
	store   LocalStore
	fetcher Fetcher
	conn    Connectivity
	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *zap.Logger
	clock   func() time.Time

	cfgMu sync.RWMutex
	cfg   config.CacheConfig

	// generations orders concurrent fetches per cache key so a slow
	// early response cannot clobber a later successful write.
	genMu       sync.Mutex
	generations map[string]uint64
}

// New creates a coordinator. metrics may be nil; logging defaults to
// a no-op logger.
func New(memory MemoryCache, store LocalStore, fetcher Fetcher, conn Connectivity, cfg config.CacheConfig, collector *metrics.Collector, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if collector == nil {
		collector = metrics.NewCollector("eventwish_test")
	}
	return &Coordinator{
		memory:      memory,
		store:       store,
		fetcher:     fetcher,
		conn:        conn,
		cfg:         cfg,
		metrics:     collector,
		tracer:      otel.Tracer("eventwish-sync/resourcerepo"),
		logger:      logger,
		clock:       time.Now,
		generations: make(map[string]uint64),
	}
}

// beginFetch allocates the next generation token for a cache key.
func (c *Coordinator) beginFetch(cacheKey string) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	c.generations[cacheKey]++
	return c.generations[cacheKey]
}

// isCurrent reports whether gen is still the newest fetch for the
// key. Writes guarded by a superseded token are discarded.
func (c *Coordinator) isCurrent(cacheKey string, gen uint64) bool {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.generations[cacheKey] == gen
}

// LoadResource starts a tiered load and returns its state stream. The
// first element is always LOADING. The stream may receive further
// SUCCESS elements from background revalidation; it never regresses
// to LOADING after a terminal state.
func (c *Coordinator) LoadResource(ctx context.Context, t resource.Type, key string, forceRefresh bool) *stream.Subject[Result] {
	subject := stream.NewSubjectOf(stream.Loading[json.RawMessage]())

	if !t.Known() {
		subject.Publish(stream.Failure[json.RawMessage](apperrors.UnsupportedType(string(t))))
		return subject
	}

	go c.load(ctx, subject, t, key, forceRefresh)
	return subject
}

func (c *Coordinator) load(ctx context.Context, subject *stream.Subject[Result], t resource.Type, key string, forceRefresh bool) {
	ctx, span := c.tracer.Start(ctx, "coordinator.load",
		trace.WithAttributes(
			attribute.String("resource.type", string(t)),
			attribute.String("resource.key", key),
			attribute.Bool("force_refresh", forceRefresh)))
	defer span.End()

	cacheKey := resource.CacheKey(t, key)

	if !forceRefresh {
		if payload, ok := c.memory.Get(cacheKey); ok {
			c.metrics.CacheHits.WithLabelValues("memory").Inc()
			c.metrics.LoadOutcomes.WithLabelValues(string(t), "memory_hit").Inc()
			subject.Publish(stream.Success(json.RawMessage(payload)))
			c.maybeRevalidate(ctx, subject, t, key)
			return
		}
		c.metrics.CacheMisses.WithLabelValues("memory").Inc()
	}

	entity, err := c.store.Get(ctx, t, key)
	found := err == nil
	if found {
		c.metrics.CacheHits.WithLabelValues("local").Inc()
	} else {
		c.metrics.CacheMisses.WithLabelValues("local").Inc()
	}

	now := c.clock()
	if found && !forceRefresh && entity.Usable(now) {
		c.promote(entity, now)
		c.metrics.LoadOutcomes.WithLabelValues(string(t), "local_hit").Inc()
		subject.Publish(stream.Success(entity.Data))
		c.maybeRevalidate(ctx, subject, t, key)
		return
	}

	if !c.conn.Online() {
		if found && entity.HasData() {
			c.metrics.StaleServed.Inc()
			c.metrics.LoadOutcomes.WithLabelValues(string(t), "stale_offline").Inc()
			subject.Publish(stream.StaleSuccess(entity.Data, "offline, showing cached data"))
			return
		}
		c.metrics.LoadOutcomes.WithLabelValues(string(t), "offline_error").Inc()
		subject.Publish(stream.Failure[json.RawMessage](apperrors.Offline(resource.Ref(t, key))))
		return
	}

	c.fetchAndPublish(ctx, subject, t, key, entity, found)
}

// fetchAndPublish runs the network leg of a load. entity carries the
// stored row when found is true, for conditional requests and stale
// fallback.
func (c *Coordinator) fetchAndPublish(ctx context.Context, subject *stream.Subject[Result], t resource.Type, key string, entity resource.Entity, found bool) {
	cacheKey := resource.CacheKey(t, key)
	gen := c.beginFetch(cacheKey)

	var etag string
	if found {
		etag = entity.ETag
	}

	start := c.clock()
	result, err := c.fetcher.Fetch(ctx, t, key, etag, c.conn.CacheControlHint())
	c.metrics.FetchDuration.WithLabelValues(string(t)).Observe(c.clock().Sub(start).Seconds())

	switch {
	case err != nil:
		if found && entity.HasData() {
			c.logger.Warn("refresh failed, serving cached data",
				zap.String("resource", resource.Ref(t, key)),
				zap.Error(err))
			c.metrics.StaleServed.Inc()
			c.metrics.LoadOutcomes.WithLabelValues(string(t), "stale_fallback").Inc()
			subject.Publish(stream.StaleSuccess(entity.Data, warningFor(err)))
			return
		}
		c.metrics.LoadOutcomes.WithLabelValues(string(t), "error").Inc()
		subject.Publish(stream.Failure[json.RawMessage](err))

	case result.NotModified:
		c.metrics.NotModified.Inc()
		if !found {
			// A 304 without a stored row should not happen; treat it
			// as a server fault rather than inventing a payload.
			subject.Publish(stream.Failure[json.RawMessage](
				apperrors.Server(304, "not-modified response without cached data")))
			return
		}
		now := c.clock()
		entity.Refresh(entity.Data, coalesce(result.ETag, entity.ETag), now.Add(c.ttlFor(t, result.MaxAge)))
		if c.isCurrent(cacheKey, gen) {
			if err := c.store.Upsert(ctx, entity); err != nil {
				c.logger.Warn("persisting revalidation failed", zap.Error(err))
			}
			c.promote(entity, now)
		}
		c.metrics.LoadOutcomes.WithLabelValues(string(t), "revalidated").Inc()
		subject.Publish(stream.Success(entity.Data))

	default:
		if !json.Valid(result.Body) {
			err := apperrors.Malformed(resource.Ref(t, key), fmt.Errorf("response is not valid JSON"))
			c.metrics.LoadOutcomes.WithLabelValues(string(t), "malformed").Inc()
			subject.Publish(stream.Failure[json.RawMessage](err))
			return
		}
		now := c.clock()
		fresh := resource.NewEntity(t, key, result.Body, result.ETag, now.Add(c.ttlFor(t, result.MaxAge)))
		if c.isCurrent(cacheKey, gen) {
			if err := c.store.Upsert(ctx, *fresh); err != nil {
				c.logger.Warn("persisting fetched resource failed", zap.Error(err))
			}
			c.promote(*fresh, now)
		}
		c.metrics.LoadOutcomes.WithLabelValues(string(t), "fetched").Inc()
		subject.Publish(stream.Success(fresh.Data))
	}
}

// maybeRevalidate kicks off a detached conditional refresh after a
// cache hit. Skipped on metered or offline links. On success the
// subject receives the fresh payload; failures stay silent because
// the caller already has usable data.
func (c *Coordinator) maybeRevalidate(ctx context.Context, subject *stream.Subject[Result], t resource.Type, key string) {
	if !c.conn.Online() || c.conn.Metered() {
		return
	}
	go func() {
		entity, err := c.store.Get(ctx, t, key)
		if err != nil {
			return
		}
		if !revalidationDue(entity, c.clock()) {
			return
		}
		cacheKey := resource.CacheKey(t, key)
		gen := c.beginFetch(cacheKey)
		result, err := c.fetcher.Fetch(ctx, t, key, entity.ETag, c.conn.CacheControlHint())
		if err != nil || result.NotModified {
			return
		}
		if !json.Valid(result.Body) {
			return
		}
		now := c.clock()
		fresh := resource.NewEntity(t, key, result.Body, result.ETag, now.Add(c.ttlFor(t, result.MaxAge)))
		if !c.isCurrent(cacheKey, gen) {
			return
		}
		if err := c.store.Upsert(ctx, *fresh); err != nil {
			return
		}
		c.promote(*fresh, now)
		subject.Publish(stream.Success(fresh.Data))
	}()
}

// ResourcesByType starts a full-collection load. A successful fetch
// replaces all rows of the type via mark-stale-then-upsert, so a
// crash mid-write degrades to stale data instead of losing rows.
func (c *Coordinator) ResourcesByType(ctx context.Context, t resource.Type, forceRefresh bool) *stream.Subject[ListResult] {
	subject := stream.NewSubjectOf(stream.Loading[[]resource.Entity]())

	if !t.Known() {
		subject.Publish(stream.Failure[[]resource.Entity](apperrors.UnsupportedType(string(t))))
		return subject
	}

	go c.loadCollection(ctx, subject, t, forceRefresh)
	return subject
}

func (c *Coordinator) loadCollection(ctx context.Context, subject *stream.Subject[ListResult], t resource.Type, forceRefresh bool) {
	ctx, span := c.tracer.Start(ctx, "coordinator.load_collection",
		trace.WithAttributes(
			attribute.String("resource.type", string(t)),
			attribute.Bool("force_refresh", forceRefresh)))
	defer span.End()

	cached, err := c.store.ListByType(ctx, t)
	if err != nil {
		c.logger.Warn("listing cached resources failed", zap.String("type", string(t)), zap.Error(err))
	}

	now := c.clock()
	if !forceRefresh && len(cached) > 0 && allUsable(cached, now) {
		c.metrics.LoadOutcomes.WithLabelValues(string(t), "local_hit").Inc()
		subject.Publish(stream.Success(cached))
		return
	}

	if !c.conn.Online() {
		if len(cached) > 0 {
			c.metrics.StaleServed.Inc()
			subject.Publish(stream.StaleSuccess(cached, "offline, showing cached data"))
			return
		}
		subject.Publish(stream.Failure[[]resource.Entity](apperrors.Offline(string(t))))
		return
	}

	result, err := c.fetcher.FetchList(ctx, t, netclient.ListQuery{}, "", c.conn.CacheControlHint())
	if err != nil {
		if len(cached) > 0 {
			c.metrics.StaleServed.Inc()
			subject.Publish(stream.StaleSuccess(cached, warningFor(err)))
			return
		}
		subject.Publish(stream.Failure[[]resource.Entity](err))
		return
	}

	entities, err := c.decodeCollection(t, result, c.clock())
	if err != nil {
		subject.Publish(stream.Failure[[]resource.Entity](err))
		return
	}

	if _, err := c.store.MarkStaleByType(ctx, t); err != nil {
		c.logger.Warn("marking rows stale failed", zap.String("type", string(t)), zap.Error(err))
	}
	if err := c.store.UpsertAll(ctx, entities); err != nil {
		c.logger.Warn("replacing rows failed", zap.String("type", string(t)), zap.Error(err))
	}
	c.memory.DeleteByPrefix(t.CachePrefix())
	now = c.clock()
	for _, entity := range entities {
		c.promote(entity, now)
	}

	c.metrics.LoadOutcomes.WithLabelValues(string(t), "fetched").Inc()
	subject.Publish(stream.Success(entities))
}

// decodeCollection parses a list response body into entities. Accepts
// either a bare JSON array or an {items: [...]} envelope; every item
// must carry a string id.
func (c *Coordinator) decodeCollection(t resource.Type, result netclient.Result, now time.Time) ([]resource.Entity, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(result.Body, &items); err != nil {
		var envelope struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(result.Body, &envelope); err != nil || envelope.Items == nil {
			return nil, apperrors.Malformed(string(t), fmt.Errorf("unexpected list shape"))
		}
		items = envelope.Items
	}

	expiration := now.Add(c.ttlFor(t, result.MaxAge))
	entities := make([]resource.Entity, 0, len(items))
	for _, item := range items {
		var header struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item, &header); err != nil || header.ID == "" {
			return nil, apperrors.Malformed(string(t), fmt.Errorf("list item missing id"))
		}
		entities = append(entities, *resource.NewEntity(t, header.ID, item, result.ETag, expiration))
	}
	return entities, nil
}

// SaveResource writes an entity through both cache tiers. Used for
// payloads produced locally rather than fetched.
func (c *Coordinator) SaveResource(ctx context.Context, entity resource.Entity) error {
	if !entity.Type.Known() {
		return apperrors.UnsupportedType(string(entity.Type))
	}
	if entity.ExpirationTime.IsZero() {
		entity.ExpirationTime = c.clock().Add(c.configuredTTL(entity.Type))
	}
	if entity.LastUpdated.IsZero() {
		entity.LastUpdated = c.clock()
	}

	// Supersede any in-flight fetch so a slow network response cannot
	// overwrite this newer write.
	c.beginFetch(resource.CacheKey(entity.Type, entity.Key))

	if err := c.store.Upsert(ctx, entity); err != nil {
		return err
	}
	c.promote(entity, c.clock())
	return nil
}

// Watch exposes the durable tier's per-row stream.
func (c *Coordinator) Watch(ctx context.Context, t resource.Type, key string) <-chan resource.Entity {
	return c.store.Watch(ctx, t, key)
}

// ClearType drops a type from both tiers.
func (c *Coordinator) ClearType(ctx context.Context, t resource.Type) error {
	c.memory.DeleteByPrefix(t.CachePrefix())
	_, err := c.store.DeleteByType(ctx, t)
	return err
}

// ClearAll drops everything from both tiers.
func (c *Coordinator) ClearAll(ctx context.Context) error {
	c.memory.Clear()
	return c.store.DeleteAll(ctx)
}

// StartExpiredSweep deletes expired durable rows every interval until
// ctx is done.
func (c *Coordinator) StartExpiredSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := c.store.DeleteExpired(ctx, c.clock()); err != nil {
					c.logger.Warn("expired sweep failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// promote writes an entity into the memory cache with its remaining
// lifetime as TTL.
func (c *Coordinator) promote(entity resource.Entity, now time.Time) {
	ttl := entity.ExpirationTime.Sub(now)
	if ttl <= 0 {
		return
	}
	c.memory.Set(resource.CacheKey(entity.Type, entity.Key), entity.Data, ttl)
}

// ttlFor picks the freshness window: server max-age wins, otherwise
// the configured per-type default.
func (c *Coordinator) ttlFor(t resource.Type, maxAge time.Duration) time.Duration {
	if maxAge > 0 {
		return maxAge
	}
	return c.configuredTTL(t)
}

func (c *Coordinator) configuredTTL(t resource.Type) time.Duration {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg.TTLFor(t)
}

// UpdateCacheConfig swaps the TTL table, typically after a
// configuration reload. In-flight loads keep the window they started
// with.
func (c *Coordinator) UpdateCacheConfig(cfg config.CacheConfig) {
	c.cfgMu.Lock()
	c.cfg = cfg
	c.cfgMu.Unlock()
}

// revalidateFraction is the share of the freshness window that may
// remain before a served cache hit is refreshed in the background.
const revalidateFraction = 0.1

// revalidationDue reports whether a cache hit warrants a conditional
// refresh: stale or expired rows always, fresh rows once they near
// the end of their freshness window.
func revalidationDue(entity resource.Entity, now time.Time) bool {
	if entity.Stale || entity.IsExpired(now) {
		return true
	}
	lifetime := entity.ExpirationTime.Sub(entity.LastUpdated)
	if lifetime <= 0 {
		return false
	}
	remaining := entity.ExpirationTime.Sub(now)
	return float64(remaining) <= float64(lifetime)*revalidateFraction
}

func allUsable(entities []resource.Entity, now time.Time) bool {
	for _, e := range entities {
		if !e.Usable(now) {
			return false
		}
	}
	return true
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func warningFor(err error) string {
	return fmt.Sprintf("refresh failed, showing cached data: %v", err)
}

var (
	_ MemoryCache  = (*cache.Memory)(nil)
	_ LocalStore   = (*sqlite.ResourceStore)(nil)
	_ Connectivity = (*connectivity.Monitor)(nil)
	_ Fetcher      = (*netclient.Client)(nil)
)
