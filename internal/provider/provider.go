// Package provider calls the upstream mapping REST API whose responses the
// cache stores.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/places-cache/internal/core/observability"
)

var (
	ErrNotFound    = errors.New("provider: not found")
	ErrRateLimited = errors.New("provider: rate limited")
)

const (
	EndpointPlaceDetails   = "place_details"
	EndpointAutocomplete   = "autocomplete"
	EndpointReverseGeocode = "reverse_geocode"
	EndpointNearbySearch   = "nearby_search"
	EndpointDirections     = "directions"
	EndpointDistanceMatrix = "distance_matrix"
)

var paths = map[string]string{
	EndpointPlaceDetails:   "place/details/json",
	EndpointAutocomplete:   "place/autocomplete/json",
	EndpointReverseGeocode: "geocode/json",
	EndpointNearbySearch:   "place/nearbysearch/json",
	EndpointDirections:     "directions/json",
	EndpointDistanceMatrix: "distancematrix/json",
}

type Options struct {
	BaseURL    string
	APIKey     string
	RPS        float64
	Burst      int
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	logger   *slog.Logger
	client   *http.Client
	base     *url.URL
	apiKey   string
	timeout  time.Duration
	limiter  *rate.Limiter
	startNow func() time.Time // for tests
}

func New(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse provider url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse provider url: %q is not absolute", opts.BaseURL)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return &Client{
		logger:   opts.Logger,
		client:   opts.HTTPClient,
		base:     u,
		apiKey:   opts.APIKey,
		timeout:  opts.Timeout,
		limiter:  lim,
		startNow: time.Now,
	}, nil
}

func (c *Client) PlaceDetails(ctx context.Context, placeID string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("place_id", placeID)
	return c.fetch(ctx, EndpointPlaceDetails, q)
}

func (c *Client) Autocomplete(ctx context.Context, input string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("input", input)
	return c.fetch(ctx, EndpointAutocomplete, q)
}

func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("latlng", latLng(lat, lng))
	return c.fetch(ctx, EndpointReverseGeocode, q)
}

// NearbySearch searches radius metres around lat,lng. An empty kind
// searches every place type.
func (c *Client) NearbySearch(ctx context.Context, lat, lng float64, radius int, kind string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("location", latLng(lat, lng))
	q.Set("radius", strconv.Itoa(radius))
	if kind != "" {
		q.Set("type", kind)
	}
	return c.fetch(ctx, EndpointNearbySearch, q)
}

func (c *Client) Directions(ctx context.Context, origin, destination string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("origin", origin)
	q.Set("destination", destination)
	return c.fetch(ctx, EndpointDirections, q)
}

func (c *Client) DistanceMatrix(ctx context.Context, origins, destinations []string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("origins", strings.Join(origins, "|"))
	q.Set("destinations", strings.Join(destinations, "|"))
	return c.fetch(ctx, EndpointDistanceMatrix, q)
}

func latLng(lat, lng float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lng, 'f', -1, 64)
}

// envelope is the part of every response body the client inspects.
type envelope struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

func (c *Client) fetch(ctx context.Context, endpoint string, q url.Values) (json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		observability.IncUpstreamError(endpoint, "throttled")
		return nil, fmt.Errorf("%s: wait for quota: %w", endpoint, err)
	}

	u := c.base.ResolveReference(&url.URL{Path: paths[endpoint]})
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := c.startNow()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.IncUpstreamError(endpoint, "transport")
		return nil, fmt.Errorf("%s: do request: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency(endpoint, dur.Seconds())
	c.logger.DebugContext(ctx, "provider call done",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"duration", dur.String())

	switch {
	case resp.StatusCode == http.StatusNotFound:
		observability.IncUpstreamError(endpoint, "not_found")
		return nil, fmt.Errorf("%s: %w", endpoint, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		observability.IncUpstreamError(endpoint, "rate_limited")
		return nil, fmt.Errorf("%s: %w", endpoint, ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		observability.IncUpstreamError(endpoint, "status")
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("%s: upstream status %d: %s", endpoint, resp.StatusCode, string(b))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.IncUpstreamError(endpoint, "read")
		return nil, fmt.Errorf("%s: read body: %w", endpoint, err)
	}
	if err := checkEnvelope(b); err != nil {
		observability.IncUpstreamError(endpoint, "status")
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return json.RawMessage(bytes.TrimSpace(b)), nil
}

// checkEnvelope maps the body status field. ZERO_RESULTS is a valid,
// cacheable answer.
func checkEnvelope(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	switch env.Status {
	case "", "OK", "ZERO_RESULTS":
		return nil
	case "NOT_FOUND":
		return ErrNotFound
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return ErrRateLimited
	default:
		if env.ErrorMessage != "" {
			return fmt.Errorf("upstream status %s: %s", env.Status, env.ErrorMessage)
		}
		return fmt.Errorf("upstream status %s", env.Status)
	}
}
