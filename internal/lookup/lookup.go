// Package lookup answers mapping requests from the cache and falls back to
// the provider on a miss.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammed-shakir/places-cache/internal/cache"
	"github.com/mohammed-shakir/places-cache/internal/logger"
	"github.com/mohammed-shakir/places-cache/internal/mapscache"
)

// Provider is the upstream the service falls back to.
type Provider interface {
	PlaceDetails(ctx context.Context, placeID string) (json.RawMessage, error)
	Autocomplete(ctx context.Context, input string) (json.RawMessage, error)
	ReverseGeocode(ctx context.Context, lat, lng float64) (json.RawMessage, error)
	NearbySearch(ctx context.Context, lat, lng float64, radius int, kind string) (json.RawMessage, error)
	Directions(ctx context.Context, origin, destination string) (json.RawMessage, error)
	DistanceMatrix(ctx context.Context, origins, destinations []string) (json.RawMessage, error)
}

// DefaultNearbyRadius is used when a nearby search gives no radius.
const DefaultNearbyRadius = 1000

type Result struct {
	Data json.RawMessage
	Hit  bool
}

type Options struct {
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

type Service struct {
	cache  *mapscache.Cache
	up     Provider
	log    *slog.Logger
	tracer trace.Tracer
}

func New(c *mapscache.Cache, up Provider, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Service{
		cache:  c,
		up:     up,
		log:    log,
		tracer: tp.Tracer("github.com/mohammed-shakir/places-cache/internal/lookup"),
	}
}

func (s *Service) PlaceDetails(ctx context.Context, placeID string) (Result, error) {
	placeID = strings.TrimSpace(placeID)
	if placeID == "" {
		return Result{}, fmt.Errorf("%w: empty place id", ErrInvalidRequest)
	}
	return s.run(ctx, "place_details", mapscache.StrategyPlace, cache.PlaceDetails,
		func(ctx context.Context, load mapscache.Loader) (any, bool, error) {
			return s.cache.LoadByPlaceID(ctx, placeID, cache.PlaceDetails, load)
		},
		func(ctx context.Context) (json.RawMessage, error) { return s.up.PlaceDetails(ctx, placeID) },
		attribute.String("place.id", placeID))
}

func (s *Service) Autocomplete(ctx context.Context, input string) (Result, error) {
	if strings.TrimSpace(input) == "" {
		return Result{}, fmt.Errorf("%w: empty query", ErrInvalidRequest)
	}
	return s.run(ctx, "autocomplete", mapscache.StrategyQuery, cache.Autocomplete,
		func(ctx context.Context, load mapscache.Loader) (any, bool, error) {
			return s.cache.LoadByQuery(ctx, input, cache.Autocomplete, load)
		},
		func(ctx context.Context) (json.RawMessage, error) { return s.up.Autocomplete(ctx, input) })
}

// ReverseGeocode answers from the grid cell containing lat,lng, so the
// upstream is asked for the first point seen in a cell.
func (s *Service) ReverseGeocode(ctx context.Context, lat, lng float64) (Result, error) {
	return s.run(ctx, "reverse_geocode", mapscache.StrategyGeo, cache.Geocoding,
		func(ctx context.Context, load mapscache.Loader) (any, bool, error) {
			return s.cache.LoadByGeoGrid(ctx, lat, lng, cache.Geocoding, load)
		},
		func(ctx context.Context) (json.RawMessage, error) { return s.up.ReverseGeocode(ctx, lat, lng) },
		attribute.Float64("geo.lat", lat), attribute.Float64("geo.lng", lng))
}

func (s *Service) NearbySearch(ctx context.Context, lat, lng float64, radius int, kind string) (Result, error) {
	if radius < 0 {
		return Result{}, fmt.Errorf("%w: negative radius", ErrInvalidRequest)
	}
	if radius == 0 {
		radius = DefaultNearbyRadius
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	variant := "r=" + strconv.Itoa(radius)
	if kind != "" {
		variant += ",t=" + kind
	}
	return s.run(ctx, "nearby_search", mapscache.StrategyGeo, cache.NearbySearch,
		func(ctx context.Context, load mapscache.Loader) (any, bool, error) {
			return s.cache.LoadByGeoGridVariant(ctx, lat, lng, variant, cache.NearbySearch, load)
		},
		func(ctx context.Context) (json.RawMessage, error) {
			return s.up.NearbySearch(ctx, lat, lng, radius, kind)
		},
		attribute.Float64("geo.lat", lat), attribute.Float64("geo.lng", lng), attribute.Int("geo.radius", radius))
}

// Directions caches by the normalized "origin to destination" text.
func (s *Service) Directions(ctx context.Context, origin, destination string) (Result, error) {
	if strings.TrimSpace(origin) == "" || strings.TrimSpace(destination) == "" {
		return Result{}, fmt.Errorf("%w: origin and destination are required", ErrInvalidRequest)
	}
	return s.run(ctx, "directions", mapscache.StrategyQuery, cache.Directions,
		func(ctx context.Context, load mapscache.Loader) (any, bool, error) {
			return s.cache.LoadByQuery(ctx, origin+" to "+destination, cache.Directions, load)
		},
		func(ctx context.Context) (json.RawMessage, error) { return s.up.Directions(ctx, origin, destination) })
}

func (s *Service) DistanceMatrix(ctx context.Context, origins, destinations []string) (Result, error) {
	if len(origins) == 0 || len(destinations) == 0 {
		return Result{}, fmt.Errorf("%w: origins and destinations are required", ErrInvalidRequest)
	}
	return s.run(ctx, "distance_matrix", mapscache.StrategyBatch, cache.DistanceMatrix,
		func(ctx context.Context, load mapscache.Loader) (any, bool, error) {
			return s.cache.LoadBatchDistanceMatrix(ctx, origins, destinations, load)
		},
		func(ctx context.Context) (json.RawMessage, error) {
			return s.up.DistanceMatrix(ctx, origins, destinations)
		},
		attribute.Int("matrix.origins", len(origins)), attribute.Int("matrix.destinations", len(destinations)))
}

type loadFunc func(ctx context.Context, load mapscache.Loader) (any, bool, error)

type fetchFunc func(ctx context.Context) (json.RawMessage, error)

func (s *Service) run(ctx context.Context, op, strategy string, typ cache.EntryType, lf loadFunc, fetch fetchFunc, attrs ...attribute.KeyValue) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "lookup."+op)
	defer span.End()
	span.SetAttributes(attrs...)
	span.SetAttributes(
		attribute.String("cache.strategy", strategy),
		attribute.String("cache.type", string(typ)),
	)

	ctx = logger.WithEntryType(ctx, string(typ))
	v, hit, err := lf(ctx, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.WarnContext(ctx, "lookup failed", "op", op, "err", err)
		return Result{}, err
	}
	span.SetStatus(codes.Ok, "")

	ctx = logger.WithOutcome(ctx, outcome(hit))
	s.log.DebugContext(ctx, "lookup", "op", op, "strategy", strategy)

	data, ok := mapscache.As[json.RawMessage](v)
	if !ok {
		return Result{}, fmt.Errorf("lookup %s: cached value has type %T", op, v)
	}
	return Result{Data: data, Hit: hit}, nil
}

func outcome(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
