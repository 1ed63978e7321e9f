package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mohammed-shakir/places-cache/internal/cache"
	"github.com/mohammed-shakir/places-cache/internal/cache/ttlstore"
	"github.com/mohammed-shakir/places-cache/internal/lookup"
	"github.com/mohammed-shakir/places-cache/internal/mapscache"
)

type statsResponse struct {
	ttlstore.Stats
	HitRatePercent string `json:"hit_rate_percent"`
}

type removedResponse struct {
	Removed int `json:"removed"`
}

func (a *API) stats(w http.ResponseWriter, _ *http.Request) {
	s := a.admin.Stats()
	writeJSON(w, http.StatusOK, statsResponse{Stats: s, HitRatePercent: s.HitRatePercent()})
}

func (a *API) cleanup(w http.ResponseWriter, r *http.Request) {
	n := a.admin.Cleanup()
	a.log.InfoContext(r.Context(), "admin cleanup", "removed", n)
	writeJSON(w, http.StatusOK, removedResponse{Removed: n})
}

func (a *API) clear(w http.ResponseWriter, r *http.Request) {
	n := a.admin.Clear()
	a.log.InfoContext(r.Context(), "admin clear", "removed", n)
	writeJSON(w, http.StatusOK, removedResponse{Removed: n})
}

// deleteEntries removes by bbox (optionally narrowed by type), by key
// pattern, or by type, in that order of precedence. A pattern cannot be
// narrowed by type.
func (a *API) deleteEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pattern := q.Get("pattern")
	rawType := strings.TrimSpace(q.Get("type"))
	rawBBox := strings.TrimSpace(q.Get("bbox"))

	var typ cache.EntryType
	if rawType != "" {
		t, err := cache.ParseType(rawType)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		typ = t
	}

	var (
		n   int
		err error
	)
	switch {
	case rawBBox != "":
		bb, perr := mapscache.ParseBBox(rawBBox)
		if perr != nil {
			a.writeError(w, r, perr)
			return
		}
		n, err = a.admin.InvalidateArea(bb, typ)
	case pattern != "" && typ != "":
		err = fmt.Errorf("%w: pattern and type cannot be combined", lookup.ErrInvalidRequest)
	case pattern != "":
		n = a.admin.ClearPattern(pattern)
	case typ != "":
		n, err = a.admin.ClearType(typ)
	default:
		err = fmt.Errorf("%w: one of pattern, type or bbox is required", lookup.ErrInvalidRequest)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.log.InfoContext(r.Context(), "admin delete entries",
		"pattern", pattern, "type", string(typ), "bbox", rawBBox, "removed", n)
	writeJSON(w, http.StatusOK, removedResponse{Removed: n})
}
