package router

import (
	"context"
	"errors"
	"net/http"

	"github.com/mohammed-shakir/places-cache/internal/cache"
	"github.com/mohammed-shakir/places-cache/internal/cache/keys"
	"github.com/mohammed-shakir/places-cache/internal/lookup"
	"github.com/mohammed-shakir/places-cache/internal/provider"
)

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lookup.ErrInvalidRequest),
		errors.Is(err, keys.ErrInvalidCoordinate),
		errors.Is(err, cache.ErrUnknownType):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, provider.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.log.WarnContext(r.Context(), "request failed", "path", r.URL.Path, "status", code, "err", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}
