package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/places-cache/internal/cache"
	"github.com/mohammed-shakir/places-cache/internal/cache/keys"
)

type ProviderCfg struct {
	BaseURL string
	APIKey  string
	RPS     float64
	Burst   int
	Timeout time.Duration
}

type CacheCfg struct {
	GridSize      float64
	SweepInterval time.Duration
	TTLOverrides  map[string]time.Duration
}

type InvalidationCfg struct {
	Enabled      bool
	Driver       string
	Topic        string
	Brokers      string
	GroupID      string
	RedisChannel string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr           string
	LogLevel       string
	LogConsole     bool
	LogSampleN     int
	RedisAddr      string
	Provider       ProviderCfg
	Cache          CacheCfg
	Invalidation   InvalidationCfg
	Metrics        MetricsCfg
	TracingEnabled bool
}

// Load reads an optional .env file and then the environment.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		// variables already set in the process win over the file
		_ = godotenv.Load(f)
	}
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),
		RedisAddr:  getenv("REDIS_ADDR", "localhost:6379"),
		Provider: ProviderCfg{
			BaseURL: getenv("PROVIDER_BASE_URL", "https://maps.googleapis.com/maps/api"),
			APIKey:  getenv("PROVIDER_API_KEY", ""),
			RPS:     getfloat("PROVIDER_RPS", 10),
			Burst:   getint("PROVIDER_BURST", 20),
			Timeout: getduration("PROVIDER_TIMEOUT", 10*time.Second),
		},
		Cache: CacheCfg{
			GridSize:      getfloat("CACHE_GRID_SIZE", keys.DefaultGridSize),
			SweepInterval: getduration("CACHE_SWEEP_INTERVAL", 30*time.Minute),
			TTLOverrides:  parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "")),
		},
		Invalidation: InvalidationCfg{
			Enabled:      getbool("INVALIDATION_ENABLED", false),
			Driver:       strings.ToLower(getenv("INVALIDATION_DRIVER", "none")),
			Topic:        getenv("KAFKA_TOPIC", "places-cache-invalidation"),
			Brokers:      getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID:      getenv("KAFKA_GROUP_ID", "places-cache"),
			RedisChannel: getenv("REDIS_CHANNEL", "places-cache:invalidate"),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9090"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
		TracingEnabled: getbool("TRACING_ENABLED", false),
	}
}

// TTLs returns the default table with CACHE_TTL_OVERRIDES applied.
func (c Config) TTLs() (cache.TTLTable, error) {
	t, err := cache.DefaultTTLs().WithOverrides(c.Cache.TTLOverrides)
	if err != nil {
		return nil, fmt.Errorf("CACHE_TTL_OVERRIDES: %w", err)
	}
	return t, nil
}

func (c Config) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(c.Invalidation.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "AUTOCOMPLETE=12h,DIRECTIONS=6h" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			out[k] = d
		}
	}
	return out
}
