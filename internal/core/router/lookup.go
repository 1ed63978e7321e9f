package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (a *API) placeDetails(w http.ResponseWriter, r *http.Request) {
	res, err := a.lookup.PlaceDetails(r.Context(), chi.URLParam(r, "placeID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

func (a *API) autocomplete(w http.ResponseWriter, r *http.Request) {
	res, err := a.lookup.Autocomplete(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

func (a *API) reverseGeocode(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := parseLatLng(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.lookup.ReverseGeocode(r.Context(), lat, lng)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

func (a *API) nearby(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := parseLatLng(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	radius, err := parseOptionalInt(r.URL.Query().Get("radius"), "radius")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.lookup.NearbySearch(r.Context(), lat, lng, radius, r.URL.Query().Get("type"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

func (a *API) directions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := a.lookup.Directions(r.Context(), q.Get("origin"), q.Get("destination"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

func (a *API) distanceMatrix(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := a.lookup.DistanceMatrix(r.Context(), splitPipe(q.Get("origins")), splitPipe(q.Get("destinations")))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeResult(w, res)
}

// splitPipe splits "a|b|c" and drops blank parts.
func splitPipe(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
