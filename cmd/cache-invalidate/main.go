// Command cache-invalidate publishes one invalidation event to the bus the
// places-cache instances listen on.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mohammed-shakir/places-cache/internal/cache"
	"github.com/mohammed-shakir/places-cache/internal/core/config"
	"github.com/mohammed-shakir/places-cache/internal/invalidation"
	"github.com/mohammed-shakir/places-cache/internal/invalidation/publish"
	"github.com/mohammed-shakir/places-cache/internal/invalidation/redissub"
	"github.com/mohammed-shakir/places-cache/internal/logger"
	"github.com/mohammed-shakir/places-cache/internal/mapscache"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

type flags struct {
	driver  string
	op      string
	pattern string
	typ     string
	session string
	bbox    string
	envFile string
	timeout time.Duration
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("cache-invalidate", flag.ContinueOnError)
	fs.StringVar(&f.driver, "driver", "", "kafka or redis (defaults to INVALIDATION_DRIVER)")
	fs.StringVar(&f.op, "op", "", "clear, clear_pattern, clear_type, clear_area or cleanup")
	fs.StringVar(&f.pattern, "pattern", "", "key substring for clear_pattern")
	fs.StringVar(&f.typ, "type", "", "entry type for clear_type, optional filter for clear_area")
	fs.StringVar(&f.session, "session", "", "session id, recorded with clear")
	fs.StringVar(&f.bbox, "bbox", "", "minLat,minLng,maxLat,maxLng for clear_area")
	fs.StringVar(&f.envFile, "env", ".env", "optional dotenv file")
	fs.DurationVar(&f.timeout, "timeout", 10*time.Second, "publish timeout")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func buildEvent(f flags) (invalidation.Event, error) {
	ev := invalidation.NewEvent(invalidation.Op(strings.ToLower(strings.TrimSpace(f.op))))
	ev.Pattern = f.pattern
	ev.Session = f.session
	ev.Source = "cache-invalidate"
	if f.typ != "" {
		t, err := cache.ParseType(f.typ)
		if err != nil {
			return invalidation.Event{}, err
		}
		ev.Type = t
	}
	if f.bbox != "" {
		bb, err := mapscache.ParseBBox(f.bbox)
		if err != nil {
			return invalidation.Event{}, err
		}
		ev.BBox = &bb
	}
	if err := ev.Validate(); err != nil {
		return invalidation.Event{}, err
	}
	return ev, nil
}

func newPublisher(ctx context.Context, driver string, cfg config.Config) (publish.Publisher, error) {
	switch driver {
	case "kafka":
		brokers := cfg.BrokerList()
		if len(brokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is empty")
		}
		return publish.NewKafka(brokers, cfg.Invalidation.Topic)
	case "redis":
		rdb, err := redissub.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return publish.NewRedis(rdb, cfg.Invalidation.RedisChannel), nil
	default:
		return nil, fmt.Errorf("unknown driver %q (want kafka or redis)", driver)
	}
}

func run(args []string) int {
	f, err := parseFlags(args)
	if err != nil {
		return 2
	}
	cfg := config.Load(f.envFile)

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Component: "cache-invalidate",
	}, os.Stderr)
	log := logger.NewSlog(&zl)

	ev, err := buildEvent(f)
	if err != nil {
		log.Error("invalid event", "err", err)
		return 2
	}

	driver := strings.ToLower(strings.TrimSpace(f.driver))
	if driver == "" {
		driver = cfg.Invalidation.Driver
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	pub, err := newPublisher(ctx, driver, cfg)
	if err != nil {
		log.Error("publisher setup failed", "driver", driver, "err", err)
		return 1
	}
	defer func() { _ = pub.Close() }()

	if err := pub.Publish(ctx, ev); err != nil {
		log.Error("publish failed", "driver", driver, "err", err)
		return 1
	}
	log.Info("invalidation published", "driver", driver, "id", ev.ID, "op", string(ev.Op))
	return 0
}
