// Command loadgen drives a places-cache instance with a Zipf-skewed mix of
// lookups and reports latency percentiles and the observed hit ratio.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mohammed-shakir/places-cache/internal/logger"
)

type Config struct {
	BaseURL         string
	Concurrency     int
	Duration        time.Duration
	ZipfS           float64
	ZipfV           float64
	PoolSize        int
	OutputPrefix    string
	RequestTimeout  time.Duration
	AppendTimestamp bool
}

func loadConfig(args []string) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("loadgen", flag.ContinueOnError)
	fs.StringVar(&cfg.BaseURL, "target", "http://localhost:8090", "places-cache base URL")
	fs.IntVar(&cfg.Concurrency, "concurrency", 16, "Concurrent workers")
	fs.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	fs.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	fs.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	fs.IntVar(&cfg.PoolSize, "pool", 256, "Distinct requests in the pool")
	fs.StringVar(&cfg.OutputPrefix, "out", "results/loadgen", "Output file prefix (JSON/CSV)")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "Per-request timeout")
	fs.BoolVar(&cfg.AppendTimestamp, "append-ts", true, "Append UTC timestamp to output prefix")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.Concurrency < 1 || cfg.PoolSize < 1 {
		return Config{}, fmt.Errorf("concurrency and pool must be positive")
	}
	if cfg.ZipfS <= 1 || cfg.ZipfV < 1 {
		return Config{}, fmt.Errorf("zipf needs s>1 and v>=1")
	}
	return cfg, nil
}

// request is one entry of the workload pool, a path with its query.
type request struct {
	Kind string
	Path string
}

var (
	hotCenters = [][2]float64{
		{40.4168, -3.7038}, // Madrid
		{41.3874, 2.1686},  // Barcelona
		{48.8566, 2.3522},  // Paris
		{59.3293, 18.0686}, // Stockholm
	}
	queries = []string{"coffee", "pharmacy", "train station", "museum", "hotel", "bakery", "park", "bookstore"}
	kinds   = []string{"cafe", "restaurant", "atm", ""}
)

// makePool mixes every lookup kind. Low indexes, which Zipf favours, are
// clustered around hotCenters so repeated draws hit the same grid cells.
func makePool(n int, r *rand.Rand) []request {
	pool := make([]request, 0, n)
	for i := 0; len(pool) < n; i++ {
		c := hotCenters[i%len(hotCenters)]
		spread := 0.002
		if i >= n/4 {
			spread = 0.5
		}
		lat := c[0] + (r.Float64()-0.5)*spread
		lng := c[1] + (r.Float64()-0.5)*spread
		q := url.Values{}

		switch i % 6 {
		case 0:
			pool = append(pool, request{"place_details", "/v1/places/place-" + strconv.Itoa(i%97)})
		case 1:
			q.Set("q", queries[i%len(queries)])
			pool = append(pool, request{"autocomplete", "/v1/autocomplete?" + q.Encode()})
		case 2:
			q.Set("lat", strconv.FormatFloat(lat, 'f', 5, 64))
			q.Set("lng", strconv.FormatFloat(lng, 'f', 5, 64))
			pool = append(pool, request{"reverse_geocode", "/v1/geocode/reverse?" + q.Encode()})
		case 3:
			q.Set("lat", strconv.FormatFloat(lat, 'f', 5, 64))
			q.Set("lng", strconv.FormatFloat(lng, 'f', 5, 64))
			q.Set("radius", strconv.Itoa(500*(1+i%3)))
			if k := kinds[i%len(kinds)]; k != "" {
				q.Set("type", k)
			}
			pool = append(pool, request{"nearby_search", "/v1/nearby?" + q.Encode()})
		case 4:
			q.Set("origin", queries[i%len(queries)])
			q.Set("destination", queries[(i+3)%len(queries)])
			pool = append(pool, request{"directions", "/v1/directions?" + q.Encode()})
		default:
			q.Set("origins", queries[i%len(queries)]+"|"+queries[(i+1)%len(queries)])
			q.Set("destinations", queries[(i+2)%len(queries)])
			pool = append(pool, request{"distance_matrix", "/v1/distancematrix?" + q.Encode()})
		}
	}
	return pool
}

type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	Cache     string
	ErrorMsg  string
	Kind      string
}

type summary struct {
	StartTime     time.Time        `json:"start"`
	EndTime       time.Time        `json:"end"`
	DurationSec   float64          `json:"duration_sec"`
	TotalRequests int64            `json:"total"`
	SuccessCount  int64            `json:"success"`
	ErrorCount    int64            `json:"errors"`
	Hits          int64            `json:"hits"`
	HitRatio      float64          `json:"hit_ratio"`
	ThroughputRPS float64          `json:"throughput_rps"`
	P50Ms         float64          `json:"p50_ms"`
	P95Ms         float64          `json:"p95_ms"`
	P99Ms         float64          `json:"p99_ms"`
	ByKind        map[string]int64 `json:"by_kind"`
	Concurrency   int              `json:"concurrency"`
	ZipfS         float64          `json:"zipf_s"`
	ZipfV         float64          `json:"zipf_v"`
	Pool          int              `json:"pool"`
	Target        string           `json:"target"`
}

type aggregate struct {
	total, success, errors, hits int64
	byKind                       map[string]int64
	latMs                        []float64
}

func (a *aggregate) add(s sample) {
	a.total++
	a.byKind[s.Kind]++
	if s.ErrorMsg != "" || s.Status < 200 || s.Status >= 300 {
		a.errors++
		return
	}
	a.success++
	if s.Cache == "HIT" {
		a.hits++
	}
	a.latMs = append(a.latMs, float64(s.Latency.Microseconds())/1000.0)
}

func (a *aggregate) summarize(cfg Config, start, end time.Time) summary {
	sort.Float64s(a.latMs)
	elapsed := end.Sub(start).Seconds()
	s := summary{
		StartTime:     start.UTC(),
		EndTime:       end.UTC(),
		DurationSec:   elapsed,
		TotalRequests: a.total,
		SuccessCount:  a.success,
		ErrorCount:    a.errors,
		Hits:          a.hits,
		P50Ms:         percentile(a.latMs, 50),
		P95Ms:         percentile(a.latMs, 95),
		P99Ms:         percentile(a.latMs, 99),
		ByKind:        a.byKind,
		Concurrency:   cfg.Concurrency,
		ZipfS:         cfg.ZipfS,
		ZipfV:         cfg.ZipfV,
		Pool:          cfg.PoolSize,
		Target:        cfg.BaseURL,
	}
	if a.success > 0 {
		s.HitRatio = float64(a.hits) / float64(a.success)
	}
	if elapsed > 0 {
		s.ThroughputRPS = float64(a.total) / elapsed
	}
	return s
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	zl := logger.Build(logger.Config{Level: "info", Console: true, Component: "loadgen"}, os.Stderr)
	log := logger.NewSlog(&zl)

	cfg, err := loadConfig(args)
	if err != nil {
		log.Error("invalid flags", "err", err)
		return 2
	}
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Error("mkdir results", "err", err)
		return 1
	}
	prefix := cfg.OutputPrefix
	if cfg.AppendTimestamp {
		prefix = fmt.Sprintf("%s_%s", prefix, time.Now().UTC().Format("20060102_150405Z"))
	}

	seed := time.Now().UnixNano()
	pool := makePool(cfg.PoolSize, rand.New(rand.NewSource(seed)))
	base := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        1024,
			MaxIdleConnsPerHost: 256,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Error("open csv", "err", err)
		return 1
	}
	defer func() { _ = csvFile.Close() }()
	csvWriter := csv.NewWriter(csvFile)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	samples := make(chan sample, 4096)
	done := make(chan *aggregate, 1)
	go func() {
		agg := &aggregate{byKind: map[string]int64{}, latMs: make([]float64, 0, 1<<16)}
		_ = csvWriter.Write([]string{"timestamp", "latency_ms", "status", "cache", "kind", "error"})
		for s := range samples {
			agg.add(s)
			_ = csvWriter.Write([]string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				fmt.Sprintf("%.3f", float64(s.Latency.Microseconds())/1000.0),
				strconv.Itoa(s.Status),
				s.Cache,
				s.Kind,
				s.ErrorMsg,
			})
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Warn("csv flush", "err", err)
		}
		done <- agg
	}()

	start := time.Now()
	log.Info("loadgen start", "target", base, "duration", cfg.Duration.String(),
		"concurrency", cfg.Concurrency, "pool", len(pool), "zipf_s", cfg.ZipfS, "zipf_v", cfg.ZipfV)

	var wg sync.WaitGroup
	for id := range cfg.Concurrency {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			zipf := rand.NewZipf(rand.New(rand.NewSource(seed+int64(id)+1)), cfg.ZipfS, cfg.ZipfV, uint64(len(pool)-1))
			for ctx.Err() == nil {
				req := pool[int(zipf.Uint64())]
				s := fire(ctx, httpClient, base, req)
				select {
				case samples <- s:
				case <-ctx.Done():
					return
				}
			}
		}(id)
	}
	wg.Wait()
	close(samples)

	agg := <-done
	sum := agg.summarize(cfg, start, time.Now())

	if f, err := os.Create(filepath.Clean(jsonPath)); err == nil {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sum)
		_ = f.Close()
	}

	log.Info("loadgen done",
		"total", sum.TotalRequests, "success", sum.SuccessCount, "errors", sum.ErrorCount,
		"hit_ratio", math.Round(sum.HitRatio*1000)/1000, "rps", math.Round(sum.ThroughputRPS),
		"p50_ms", sum.P50Ms, "p95_ms", sum.P95Ms, "p99_ms", sum.P99Ms,
		"summary", jsonPath, "samples", csvPath)
	return 0
}

func fire(ctx context.Context, c *http.Client, base string, r request) sample {
	s := sample{Timestamp: time.Now(), Kind: r.Kind}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+r.Path, nil)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	s.Latency = time.Since(s.Timestamp)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	s.Status = resp.StatusCode
	s.Cache = resp.Header.Get("X-Cache")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.ErrorMsg = "status=" + strconv.Itoa(resp.StatusCode)
	}
	return s
}

func percentile(sortedValues []float64, p float64) float64 {
	// zero rather than NaN keeps the summary JSON-encodable
	if len(sortedValues) == 0 {
		return 0
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
