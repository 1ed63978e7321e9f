package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mohammed-shakir/places-cache/internal/cache"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"ADDR", "CACHE_GRID_SIZE", "CACHE_TTL_OVERRIDES", "INVALIDATION_DRIVER", "PROVIDER_RPS"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	if cfg.Addr != ":8090" {
		t.Fatalf("Addr=%q", cfg.Addr)
	}
	if cfg.Cache.GridSize != 0.001 {
		t.Fatalf("GridSize=%v", cfg.Cache.GridSize)
	}
	if cfg.Cache.SweepInterval != 30*time.Minute {
		t.Fatalf("SweepInterval=%v", cfg.Cache.SweepInterval)
	}
	if cfg.Invalidation.Driver != "none" || cfg.Invalidation.Enabled {
		t.Fatalf("invalidation=%+v", cfg.Invalidation)
	}
	ttls, err := cfg.TTLs()
	if err != nil {
		t.Fatalf("TTLs: %v", err)
	}
	if !reflect.DeepEqual(ttls, cache.DefaultTTLs()) {
		t.Fatalf("ttls=%v", ttls)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CACHE_TTL_OVERRIDES", "autocomplete=12h, DIRECTIONS=7h,bad,=1h,GEOCODING=nope")
	t.Setenv("INVALIDATION_ENABLED", "yes")
	t.Setenv("INVALIDATION_DRIVER", "Redis")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")
	t.Setenv("PROVIDER_TIMEOUT", "3s")
	t.Setenv("LOG_SAMPLE_N", "x")

	cfg := FromEnv()
	want := map[string]time.Duration{"autocomplete": 12 * time.Hour, "DIRECTIONS": 7 * time.Hour}
	if !reflect.DeepEqual(cfg.Cache.TTLOverrides, want) {
		t.Fatalf("overrides=%v want %v", cfg.Cache.TTLOverrides, want)
	}
	if !cfg.Invalidation.Enabled || cfg.Invalidation.Driver != "redis" {
		t.Fatalf("invalidation=%+v", cfg.Invalidation)
	}
	if got := cfg.BrokerList(); !reflect.DeepEqual(got, []string{"a:9092", "b:9092"}) {
		t.Fatalf("brokers=%v", got)
	}
	if cfg.Provider.Timeout != 3*time.Second || cfg.LogSampleN != 0 {
		t.Fatalf("provider=%+v sampleN=%d", cfg.Provider, cfg.LogSampleN)
	}

	ttls, err := cfg.TTLs()
	if err != nil {
		t.Fatalf("TTLs: %v", err)
	}
	if ttls[cache.Autocomplete] != 12*time.Hour || ttls[cache.Directions] != 7*time.Hour {
		t.Fatalf("ttls=%v", ttls)
	}
}

func TestTTLs_RejectsUnknownType(t *testing.T) {
	t.Setenv("CACHE_TTL_OVERRIDES", "WEATHER=1h")
	if _, err := FromEnv().TTLs(); !errors.Is(err, cache.ErrUnknownType) {
		t.Fatalf("err=%v want ErrUnknownType", err)
	}
}

func TestLoad_DotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("REDIS_CHANNEL=from-file\nADDR=:7000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ADDR", ":9999")
	t.Setenv("REDIS_CHANNEL", "")
	os.Unsetenv("REDIS_CHANNEL")

	cfg := Load(path)
	if cfg.Addr != ":9999" {
		t.Fatalf("Addr=%q want process value", cfg.Addr)
	}
	if cfg.Invalidation.RedisChannel != "from-file" {
		t.Fatalf("RedisChannel=%q want file value", cfg.Invalidation.RedisChannel)
	}
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	t.Setenv("ADDR", ":8123")
	cfg := Load(filepath.Join(t.TempDir(), "nope.env"))
	if cfg.Addr != ":8123" {
		t.Fatalf("Addr=%q", cfg.Addr)
	}
}
