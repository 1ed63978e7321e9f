package mapscache

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shakir/places-cache/internal/cache"
	"github.com/mohammed-shakir/places-cache/internal/cache/keys"
)

// LoadTimeout bounds a shared load once it is detached from the caller that
// started it.
const LoadTimeout = 30 * time.Second

// Loader fetches the value for a miss, normally from the mapping provider.
type Loader func(ctx context.Context) (any, error)

// LoadByPlaceID returns the cached value or calls load once, stores the
// result and returns it. hit reports whether the value came from the cache.
// Concurrent misses for the same key share a single load. Errors are
// returned and never cached.
func (c *Cache) LoadByPlaceID(ctx context.Context, placeID string, typ cache.EntryType, load Loader) (v any, hit bool, err error) {
	return c.load(ctx, StrategyPlace, keys.PlaceKey(placeID, typ), typ, load)
}

func (c *Cache) LoadByGeoGrid(ctx context.Context, lat, lng float64, typ cache.EntryType, load Loader) (v any, hit bool, err error) {
	cell, err := keys.GridCellFor(lat, lng, c.gridSize)
	if err != nil {
		return nil, false, err
	}
	return c.load(ctx, StrategyGeo, keys.GeoKey(cell, typ), typ, load)
}

// LoadByGeoGridVariant is LoadByGeoGrid for requests whose answer also
// depends on variant, e.g. a nearby search radius. Area invalidation still
// matches the entry by its cell.
func (c *Cache) LoadByGeoGridVariant(ctx context.Context, lat, lng float64, variant string, typ cache.EntryType, load Loader) (v any, hit bool, err error) {
	cell, err := keys.GridCellFor(lat, lng, c.gridSize)
	if err != nil {
		return nil, false, err
	}
	return c.load(ctx, StrategyGeo, keys.GeoVariantKey(cell, typ, variant), typ, load)
}

func (c *Cache) LoadByQuery(ctx context.Context, query string, typ cache.EntryType, load Loader) (v any, hit bool, err error) {
	return c.load(ctx, StrategyQuery, keys.QueryKey(query, typ), typ, load)
}

func (c *Cache) LoadBatchDistanceMatrix(ctx context.Context, origins, destinations []string, load Loader) (v any, hit bool, err error) {
	return c.load(ctx, StrategyBatch, keys.BatchCacheKey(origins, destinations), cache.DistanceMatrix, load)
}

func (c *Cache) load(ctx context.Context, strategy, key string, typ cache.EntryType, load Loader) (any, bool, error) {
	if _, err := c.ttls.TTL(typ); err != nil {
		return nil, false, err
	}
	if v, ok := c.get(strategy, key, typ); ok {
		return v, true, nil
	}

	ch := c.sf.DoChan(key, func() (any, error) {
		// a previous flight may have filled the key between our miss and now
		if v, ok := c.store.Get(key); ok {
			return v, nil
		}
		// the flight outlives any single caller, so waiters only detach
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LoadTimeout)
		defer cancel()
		v, err := load(lctx)
		if err != nil {
			return nil, err
		}
		if err := c.set(strategy, key, v, typ); err != nil {
			return nil, err
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("load %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, false, fmt.Errorf("load %s: %w", key, res.Err)
		}
		return res.Val, false, nil
	}
}
