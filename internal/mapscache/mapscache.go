// Package mapscache fronts a mapping/places provider with four lookup
// strategies that share one TTL store: by place id, by geographic grid cell,
// by normalized text query and by distance-matrix batch.
//
// The cache never calls the provider. Callers look up, fetch on a miss and
// store the result, or hand a loader to one of the Load methods.
package mapscache

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/places-cache/internal/cache"
	"github.com/mohammed-shakir/places-cache/internal/cache/keys"
	"github.com/mohammed-shakir/places-cache/internal/cache/ttlstore"
	"github.com/mohammed-shakir/places-cache/internal/core/observability"
)

const (
	StrategyPlace = "place"
	StrategyGeo   = "geo"
	StrategyQuery = "query"
	StrategyBatch = "batch"
)

type Options struct {
	// TTLs defaults to cache.DefaultTTLs.
	TTLs cache.TTLTable
	// GridSize in degrees, defaults to keys.DefaultGridSize.
	GridSize float64
	Clock    clock.Clock
	Logger   *slog.Logger
}

type Cache struct {
	store    *ttlstore.Store
	ttls     cache.TTLTable
	gridSize float64
	log      *slog.Logger
	sf       singleflight.Group
}

func New(opts Options) (*Cache, error) {
	ttls := opts.TTLs
	if ttls == nil {
		ttls = cache.DefaultTTLs()
	}
	if err := ttls.Validate(); err != nil {
		return nil, err
	}
	grid := opts.GridSize
	if grid == 0 {
		grid = keys.DefaultGridSize
	}
	if grid < 0 || math.IsNaN(grid) || math.IsInf(grid, 0) {
		return nil, fmt.Errorf("grid size %v must be positive and finite", grid)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		store:    ttlstore.New(ttlstore.WithClock(opts.Clock)),
		ttls:     ttls,
		gridSize: grid,
		log:      log,
	}, nil
}

// Store exposes the underlying store, e.g. to attach a Sweeper.
func (c *Cache) Store() *ttlstore.Store { return c.store }

func (c *Cache) GridSize() float64 { return c.gridSize }

func (c *Cache) SetByPlaceID(placeID string, data any, typ cache.EntryType) error {
	return c.set(StrategyPlace, keys.PlaceKey(placeID, typ), data, typ)
}

func (c *Cache) GetByPlaceID(placeID string, typ cache.EntryType) (any, bool) {
	return c.get(StrategyPlace, keys.PlaceKey(placeID, typ), typ)
}

// SetByGeoGrid stores data for the grid cell containing (lat, lng). Any later
// lookup inside the same cell hits.
func (c *Cache) SetByGeoGrid(lat, lng float64, data any, typ cache.EntryType) error {
	cell, err := keys.GridCellFor(lat, lng, c.gridSize)
	if err != nil {
		return err
	}
	return c.set(StrategyGeo, keys.GeoKey(cell, typ), data, typ)
}

func (c *Cache) GetByGeoGrid(lat, lng float64, typ cache.EntryType) (any, bool, error) {
	cell, err := keys.GridCellFor(lat, lng, c.gridSize)
	if err != nil {
		return nil, false, err
	}
	v, ok := c.get(StrategyGeo, keys.GeoKey(cell, typ), typ)
	return v, ok, nil
}

func (c *Cache) SetByQuery(query string, data any, typ cache.EntryType) error {
	return c.set(StrategyQuery, keys.QueryKey(query, typ), data, typ)
}

func (c *Cache) GetByQuery(query string, typ cache.EntryType) (any, bool) {
	return c.get(StrategyQuery, keys.QueryKey(query, typ), typ)
}

// SetBatchDistanceMatrix always uses the distance-matrix TTL.
func (c *Cache) SetBatchDistanceMatrix(origins, destinations []string, data any) error {
	return c.set(StrategyBatch, keys.BatchCacheKey(origins, destinations), data, cache.DistanceMatrix)
}

func (c *Cache) GetBatchDistanceMatrix(origins, destinations []string) (any, bool) {
	return c.get(StrategyBatch, keys.BatchCacheKey(origins, destinations), cache.DistanceMatrix)
}

func (c *Cache) Stats() ttlstore.Stats { return c.store.Stats() }

func (c *Cache) Cleanup() int {
	n := c.store.Cleanup()
	c.log.Debug("cache cleanup", "removed", n)
	return n
}

func (c *Cache) ClearPattern(substr string) int {
	n := c.store.ClearPattern(substr)
	c.log.Info("cache entries cleared", "pattern", substr, "removed", n)
	return n
}

func (c *Cache) ClearType(typ cache.EntryType) (int, error) {
	if !typ.Valid() {
		return 0, fmt.Errorf("%w: %q", cache.ErrUnknownType, string(typ))
	}
	n := c.store.ClearType(typ)
	c.log.Info("cache entries cleared", "type", string(typ), "removed", n)
	return n, nil
}

// Clear drops everything, e.g. when the user session ends.
func (c *Cache) Clear() int {
	n := c.store.Clear()
	c.log.Info("cache cleared", "removed", n)
	return n
}

func (c *Cache) set(strategy, key string, data any, typ cache.EntryType) error {
	ttl, err := c.ttls.TTL(typ)
	if err != nil {
		return err
	}
	c.store.Set(key, data, ttl, typ)
	observability.IncCacheSet(strategy, string(typ))
	return nil
}

func (c *Cache) get(strategy, key string, typ cache.EntryType) (any, bool) {
	v, ok := c.store.Get(key)
	observability.ObserveLookup(strategy, string(typ), ok)
	return v, ok
}

// As converts a cached value to T. A nil value converts to the zero T.
func As[T any](v any) (T, bool) {
	var zero T
	if v == nil {
		return zero, true
	}
	t, ok := v.(T)
	return t, ok
}
