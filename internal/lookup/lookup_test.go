package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mohammed-shakir/places-cache/internal/cache"
	"github.com/mohammed-shakir/places-cache/internal/cache/keys"
	"github.com/mohammed-shakir/places-cache/internal/mapscache"
	"github.com/mohammed-shakir/places-cache/internal/provider"
)

var _ Provider = (*provider.Client)(nil)

type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int
	args  []any
	err   error
}

func (f *fakeProvider) record(op string, args ...any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[op]++
	f.args = args
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"status":"OK","op":"` + op + `"}`), nil
}

func (f *fakeProvider) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeProvider) PlaceDetails(_ context.Context, id string) (json.RawMessage, error) {
	return f.record("details", id)
}

func (f *fakeProvider) Autocomplete(_ context.Context, q string) (json.RawMessage, error) {
	return f.record("autocomplete", q)
}

func (f *fakeProvider) ReverseGeocode(_ context.Context, lat, lng float64) (json.RawMessage, error) {
	return f.record("geocode", lat, lng)
}

func (f *fakeProvider) NearbySearch(_ context.Context, lat, lng float64, radius int, kind string) (json.RawMessage, error) {
	return f.record("nearby", lat, lng, radius, kind)
}

func (f *fakeProvider) Directions(_ context.Context, o, d string) (json.RawMessage, error) {
	return f.record("directions", o, d)
}

func (f *fakeProvider) DistanceMatrix(_ context.Context, o, d []string) (json.RawMessage, error) {
	return f.record("matrix", o, d)
}

type fixture struct {
	svc   *Service
	up    *fakeProvider
	cache *mapscache.Cache
	clock *clock.Mock
	spans *tracetest.SpanRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mc := clock.NewMock()
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := mapscache.New(mapscache.Options{Clock: mc, Logger: discard})
	if err != nil {
		t.Fatalf("mapscache.New: %v", err)
	}
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	up := &fakeProvider{}
	return &fixture{
		svc:   New(c, up, Options{Logger: discard, TracerProvider: tp}),
		up:    up,
		cache: c,
		clock: mc,
		spans: rec,
	}
}

func TestPlaceDetails_MissThenHit(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	r, err := f.svc.PlaceDetails(ctx, "ChIJ123")
	if err != nil || r.Hit {
		t.Fatalf("first=%+v,%v", r, err)
	}
	r, err = f.svc.PlaceDetails(ctx, " ChIJ123 ")
	if err != nil || !r.Hit {
		t.Fatalf("second=%+v,%v", r, err)
	}
	if string(r.Data) != `{"status":"OK","op":"details"}` {
		t.Fatalf("data=%s", r.Data)
	}
	if n := f.up.count("details"); n != 1 {
		t.Fatalf("upstream calls=%d want 1", n)
	}

	f.clock.Add(73 * time.Hour)
	if r, _ := f.svc.PlaceDetails(ctx, "ChIJ123"); r.Hit {
		t.Fatalf("expected miss after ttl")
	}
}

func TestAutocomplete_NormalizedQueriesShareEntry(t *testing.T) {
	f := newFixture(t)
	_, _ = f.svc.Autocomplete(t.Context(), "Parque  Central")
	r, err := f.svc.Autocomplete(t.Context(), "parque central!")
	if err != nil || !r.Hit {
		t.Fatalf("second=%+v,%v", r, err)
	}
	if _, ok := f.cache.GetByQuery("PARQUE CENTRAL", cache.Autocomplete); !ok {
		t.Fatalf("entry not stored under the normalized query")
	}
}

func TestReverseGeocode_SameCellHits(t *testing.T) {
	f := newFixture(t)
	_, _ = f.svc.ReverseGeocode(t.Context(), 40.41651, -3.70379)
	r, err := f.svc.ReverseGeocode(t.Context(), 40.41659, -3.70321)
	if err != nil || !r.Hit {
		t.Fatalf("second=%+v,%v", r, err)
	}
	if _, err := f.svc.ReverseGeocode(t.Context(), 91, 0); !errors.Is(err, keys.ErrInvalidCoordinate) {
		t.Fatalf("err=%v", err)
	}
}

func TestNearbySearch_RadiusAndKindArePartOfKey(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	_, _ = f.svc.NearbySearch(ctx, 1, 1, 0, "")
	if r, _ := f.svc.NearbySearch(ctx, 1, 1, DefaultNearbyRadius, ""); !r.Hit {
		t.Fatalf("default radius should hit")
	}
	if r, _ := f.svc.NearbySearch(ctx, 1, 1, 500, ""); r.Hit {
		t.Fatalf("different radius should miss")
	}
	if r, _ := f.svc.NearbySearch(ctx, 1, 1, 500, "Cafe"); r.Hit {
		t.Fatalf("kind filter should miss")
	}
	if r, _ := f.svc.NearbySearch(ctx, 1, 1, 500, " cafe "); !r.Hit {
		t.Fatalf("kind is case and space insensitive")
	}
	if n := f.up.count("nearby"); n != 3 {
		t.Fatalf("upstream calls=%d want 3", n)
	}
	if _, err := f.svc.NearbySearch(ctx, 1, 1, -1, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err=%v", err)
	}
}

func TestDirectionsAndMatrix(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	_, _ = f.svc.Directions(ctx, "Madrid", "Toledo")
	if r, _ := f.svc.Directions(ctx, "madrid", "TOLEDO"); !r.Hit {
		t.Fatalf("directions should hit after normalization")
	}
	if r, _ := f.svc.Directions(ctx, "Toledo", "Madrid"); r.Hit {
		t.Fatalf("reverse route must miss")
	}

	_, _ = f.svc.DistanceMatrix(ctx, []string{"B", "A"}, []string{"C"})
	if r, _ := f.svc.DistanceMatrix(ctx, []string{"A", "B"}, []string{"C"}); !r.Hit {
		t.Fatalf("matrix should hit regardless of order")
	}
	if _, err := f.svc.DistanceMatrix(ctx, nil, []string{"C"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err=%v", err)
	}
}

func TestUpstreamErrorIsReturnedAndNotCached(t *testing.T) {
	f := newFixture(t)
	f.up.err = provider.ErrNotFound
	if _, err := f.svc.PlaceDetails(t.Context(), "gone"); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
	f.up.err = nil
	r, err := f.svc.PlaceDetails(t.Context(), "gone")
	if err != nil || r.Hit {
		t.Fatalf("retry=%+v,%v", r, err)
	}
}

func TestInvalidInputSkipsProvider(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.PlaceDetails(t.Context(), "  "); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err=%v", err)
	}
	if _, err := f.svc.Autocomplete(t.Context(), ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err=%v", err)
	}
	if _, err := f.svc.Directions(t.Context(), "a", " "); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err=%v", err)
	}
	if len(f.up.calls) != 0 {
		t.Fatalf("provider called: %v", f.up.calls)
	}
}

func TestSpans(t *testing.T) {
	f := newFixture(t)
	_, _ = f.svc.PlaceDetails(t.Context(), "p")
	_, _ = f.svc.PlaceDetails(t.Context(), "p")
	f.up.err = errors.New("boom")
	_, _ = f.svc.Autocomplete(t.Context(), "q")

	spans := f.spans.Ended()
	if len(spans) != 3 {
		t.Fatalf("spans=%d want 3", len(spans))
	}
	if spans[0].Name() != "lookup.place_details" {
		t.Fatalf("name=%q", spans[0].Name())
	}
	wantHit := []bool{false, true}
	for i, want := range wantHit {
		if got := attr(spans[i].Attributes(), "cache.hit"); got.AsBool() != want {
			t.Fatalf("span %d cache.hit=%v want %v", i, got.AsBool(), want)
		}
	}
	if got := attr(spans[0].Attributes(), "cache.strategy"); got.AsString() != mapscache.StrategyPlace {
		t.Fatalf("strategy=%q", got.AsString())
	}
	if spans[2].Status().Code != codes.Error {
		t.Fatalf("failed lookup span status=%v", spans[2].Status())
	}
}

func attr(kvs []attribute.KeyValue, key string) attribute.Value {
	for _, kv := range kvs {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}
