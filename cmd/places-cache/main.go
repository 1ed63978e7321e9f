package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammed-shakir/places-cache/internal/cache/ttlstore"
	"github.com/mohammed-shakir/places-cache/internal/core/config"
	"github.com/mohammed-shakir/places-cache/internal/core/health"
	"github.com/mohammed-shakir/places-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/places-cache/internal/core/observability"
	"github.com/mohammed-shakir/places-cache/internal/core/router"
	"github.com/mohammed-shakir/places-cache/internal/core/server"
	"github.com/mohammed-shakir/places-cache/internal/invalidation"
	"github.com/mohammed-shakir/places-cache/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/places-cache/internal/invalidation/redissub"
	"github.com/mohammed-shakir/places-cache/internal/logger"
	"github.com/mohammed-shakir/places-cache/internal/lookup"
	"github.com/mohammed-shakir/places-cache/internal/mapscache"
	"github.com/mohammed-shakir/places-cache/internal/metrics"
	"github.com/mohammed-shakir/places-cache/internal/provider"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

// invalidationRunner is a background bus listener feeding the Applier.
type invalidationRunner interface {
	Start(ctx context.Context) error
	Stop()
	Readiness() (bool, []int32)
}

func run() int {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	cfg := config.Load(*envFile)

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "places-cache",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mp := setupMetrics(ctx, cfg, appLog)

	tp, shutdownTracing, err := setupTracing(cfg)
	if err != nil {
		appLog.Error("tracing setup failed", "err", err)
		return 1
	}
	defer shutdownTracing()

	ttls, err := cfg.TTLs()
	if err != nil {
		appLog.Error("invalid ttl configuration", "err", err)
		return 1
	}
	mc, err := mapscache.New(mapscache.Options{
		TTLs:     ttls,
		GridSize: cfg.Cache.GridSize,
		Logger:   appLog.With("component", "cache"),
	})
	if err != nil {
		appLog.Error("cache setup failed", "err", err)
		return 1
	}

	sweeper := ttlstore.NewSweeper(mc.Store(), cfg.Cache.SweepInterval, appLog)
	if err := sweeper.Start(ctx); err != nil {
		appLog.Error("sweeper start failed", "err", err)
		return 1
	}
	defer sweeper.Stop()

	up, err := provider.New(provider.Options{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		RPS:        cfg.Provider.RPS,
		Burst:      cfg.Provider.Burst,
		Timeout:    cfg.Provider.Timeout,
		HTTPClient: httpclient.NewOutbound(cfg.Provider.Timeout),
		Logger:     appLog,
	})
	if err != nil {
		appLog.Error("provider setup failed", "err", err)
		return 1
	}
	svc := lookup.New(mc, up, lookup.Options{Logger: appLog, TracerProvider: tp})

	var ready health.ReadinessReporter = health.AlwaysReady
	runner, err := newInvalidationRunner(cfg, mc, appLog, mp)
	if err != nil {
		appLog.Error("invalidation setup failed", "err", err)
		return 1
	}
	if runner != nil {
		if err := runner.Start(ctx); err != nil {
			appLog.Error("invalidation start failed", "driver", cfg.Invalidation.Driver, "err", err)
			return 1
		}
		defer runner.Stop()
		ready = runner
	}

	appLog.Info("starting places-cache",
		"addr", cfg.Addr,
		"version", Version,
		"provider", cfg.Provider.BaseURL,
		"grid_size", mc.GridSize(),
		"invalidation", cfg.Invalidation.Driver)

	deps := server.Deps{
		Logger: appLog,
		API:    router.New(svc, mc, appLog),
		Ready:  ready,
	}
	if mp != nil {
		deps.Metrics = mp.Handler()
	}
	handler := server.NewRouter(deps)
	if err := server.Run(ctx, cfg.Addr, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// setupMetrics returns nil when metrics are disabled.
func setupMetrics(ctx context.Context, cfg config.Config, log *slog.Logger) *metrics.Provider {
	if !cfg.Metrics.Enabled {
		observability.Init(nil, false)
		return nil
	}
	p := metrics.Init(metrics.Config{
		Enabled: true,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer(), true)
	observability.ExposeBuildInfo(Version)

	go func() {
		if err := p.Serve(ctx, log); err != nil {
			log.Error("metrics server exited", "err", err)
		}
	}()
	return p
}

func setupTracing(cfg config.Config) (trace.TracerProvider, func(), error) {
	if !cfg.TracingEnabled {
		return otel.GetTracerProvider(), func() {}, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, nil, fmt.Errorf("stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp, func() { _ = tp.Shutdown(context.Background()) }, nil
}

// newInvalidationRunner returns nil when no bus is configured.
func newInvalidationRunner(cfg config.Config, mc *mapscache.Cache, log *slog.Logger, mp *metrics.Provider) (invalidationRunner, error) {
	driver := cfg.Invalidation.Driver
	if !cfg.Invalidation.Enabled || driver == "" || driver == "none" {
		return nil, nil
	}
	applier := invalidation.NewApplier(mc, driver, log)

	switch driver {
	case "kafka":
		brokers := cfg.BrokerList()
		if len(brokers) == 0 {
			return nil, errors.New("kafka invalidation needs KAFKA_BROKERS")
		}
		opts := kafkaconsumer.Options{Logger: log}
		if mp != nil {
			opts.Register = mp.Registerer()
		}
		kc := kafkaconsumer.DefaultConfig(brokers, cfg.Invalidation.Topic, cfg.Invalidation.GroupID)
		return kafkaconsumer.New(kc, applier, opts), nil
	case "redis":
		dialCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rdb, err := redissub.Dial(dialCtx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return redissub.New(rdb, cfg.Invalidation.RedisChannel, applier, log), nil
	default:
		return nil, fmt.Errorf("unknown INVALIDATION_DRIVER %q (want none, kafka or redis)", driver)
	}
}
