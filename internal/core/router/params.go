package router

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/places-cache/internal/lookup"
)

func parseLatLng(r *http.Request) (lat, lng float64, err error) {
	q := r.URL.Query()
	if lat, err = parseFloat(q.Get("lat"), "lat"); err != nil {
		return 0, 0, err
	}
	if lng, err = parseFloat(q.Get("lng"), "lng"); err != nil {
		return 0, 0, err
	}
	return lat, lng, nil
}

func parseFloat(v, name string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("%w: missing required parameter: %s", lookup.ErrInvalidRequest, name)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", lookup.ErrInvalidRequest, name, err)
	}
	return f, nil
}

func parseOptionalInt(v, name string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", lookup.ErrInvalidRequest, name, err)
	}
	return n, nil
}
