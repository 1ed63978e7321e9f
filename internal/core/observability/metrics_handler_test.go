package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTP_LabelsByRouteAndStatus(t *testing.T) {
	route := "/v1/places/{placeID}"
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", route, "404"))
	ObserveHTTP("GET", route, 200, 0.002)
	ObserveHTTP("GET", route, 404, 0.001)
	ObserveHTTP("GET", route, 404, 0.001)

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", route, "404")) - before; got != 2 {
		t.Fatalf("404 count delta=%v want 2", got)
	}
}

func TestDefaultHandler_ExposesServiceMetrics(t *testing.T) {
	ExposeBuildInfo("")
	ObserveUpstreamLatency("place_details", 0.05)
	IncUpstreamError("place_details", "rate_limited")

	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`places_cache_build_info{version="dev"} 1`,
		`upstream_errors_total{endpoint="place_details",kind="rate_limited"}`,
		`upstream_latency_seconds_count{endpoint="place_details"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in payload:\n%s", want, body)
		}
	}
}
