// Package router exposes the lookup service and cache administration over
// HTTP.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/places-cache/internal/cache"
	"github.com/mohammed-shakir/places-cache/internal/cache/ttlstore"
	"github.com/mohammed-shakir/places-cache/internal/lookup"
	"github.com/mohammed-shakir/places-cache/internal/mapscache"
)

// Lookup answers mapping requests, from cache when possible.
type Lookup interface {
	PlaceDetails(ctx context.Context, placeID string) (lookup.Result, error)
	Autocomplete(ctx context.Context, input string) (lookup.Result, error)
	ReverseGeocode(ctx context.Context, lat, lng float64) (lookup.Result, error)
	NearbySearch(ctx context.Context, lat, lng float64, radius int, kind string) (lookup.Result, error)
	Directions(ctx context.Context, origin, destination string) (lookup.Result, error)
	DistanceMatrix(ctx context.Context, origins, destinations []string) (lookup.Result, error)
}

// Admin is the cache maintenance surface.
type Admin interface {
	Stats() ttlstore.Stats
	Cleanup() int
	Clear() int
	ClearPattern(substr string) int
	ClearType(typ cache.EntryType) (int, error)
	InvalidateArea(bb mapscache.BBox, typ cache.EntryType) (int, error)
}

var (
	_ Lookup = (*lookup.Service)(nil)
	_ Admin  = (*mapscache.Cache)(nil)
)

type API struct {
	lookup Lookup
	admin  Admin
	log    *slog.Logger
}

func New(l Lookup, a Admin, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{lookup: l, admin: a, log: log}
}

// Mount registers the /v1 lookup routes and, when an Admin is set, the
// /admin/cache routes.
func (a *API) Mount(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/places/{placeID}", a.placeDetails)
		r.Get("/autocomplete", a.autocomplete)
		r.Get("/geocode/reverse", a.reverseGeocode)
		r.Get("/nearby", a.nearby)
		r.Get("/directions", a.directions)
		r.Get("/distancematrix", a.distanceMatrix)
	})
	if a.admin == nil {
		return
	}
	r.Route("/admin/cache", func(r chi.Router) {
		r.Get("/stats", a.stats)
		r.Post("/cleanup", a.cleanup)
		r.Post("/clear", a.clear)
		r.Delete("/entries", a.deleteEntries)
	})
}

func writeResult(w http.ResponseWriter, res lookup.Result) {
	w.Header().Set("Content-Type", "application/json")
	if res.Hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
