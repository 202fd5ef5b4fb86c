// Command authcore-server runs the authcore engine behind its JSON/HTTP API.
//
// Configuration is read from the file named by AUTHCORE_CONFIG (default
// configs/authcore.yaml) and overridden by AUTHCORE_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/httpapi"
	"github.com/MrEthical07/authcore/internal/config"
	"github.com/MrEthical07/authcore/internal/logging"
	otelexport "github.com/MrEthical07/authcore/metrics/export/otel"
	promexport "github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/memory"
	"github.com/MrEthical07/authcore/store/postgres"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Set at build time via -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "configs/authcore.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting authcore", "version", version, "config", configPath)

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	proxies, err := cfg.TrustedProxies()
	if err != nil {
		return err
	}

	rdb, closeRedis, err := openRedis(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeRedis()

	records, auditSink, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := authcore.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithRecords(records).
		WithAuditSink(auditSink).
		WithLogger(log).
		Build()
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	log.Info("engine ready",
		"signing_algorithm", report.SigningAlgorithm,
		"access_ttl", report.AccessTTL.String(),
		"refresh_ttl", report.RefreshTTL.String(),
		"refresh_rotation", report.RefreshRotationEnabled,
		"rate_limiting", report.RateLimitingActive,
		"audit", report.AuditEnabled,
	)

	deps := httpapi.Deps{
		Config:         cfg.Server,
		Engine:         engine,
		Logger:         log,
		TrustedProxies: proxies,
		Version:        version,
	}
	if cfg.Metrics.Enabled {
		switch cfg.Metrics.Exporter {
		case "otel":
			stopMetrics, err := startOTelMetrics(cfg.Metrics, engine, os.Stdout)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := stopMetrics(shutdownCtx); err != nil {
					log.Error("error stopping otel metrics", "error", err)
				}
			}()
			log.Info("otel metrics enabled", "interval", cfg.Metrics.OTelInterval.String())
		default:
			deps.Metrics = promexport.NewPrometheusExporter(engine).Handler()
		}
	}
	srv, err := httpapi.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	if err := srv.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}
	log.Info("authcore stopped", "audit_dropped", engine.AuditDropped())
	return nil
}

// startOTelMetrics pushes the engine's counters to w as OpenTelemetry JSON
// every cfg.OTelInterval. The returned func flushes once more and stops
// the provider.
func startOTelMetrics(cfg config.MetricsConfig, source otelexport.Source, w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("creating otel exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTelInterval))),
	)
	observer, err := otelexport.New(provider.Meter("github.com/MrEthical07/authcore"), source)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, fmt.Errorf("registering otel metrics: %w", err)
	}

	return func(ctx context.Context) error {
		flushErr := provider.ForceFlush(ctx)
		closeErr := observer.Close()
		return errors.Join(flushErr, closeErr, provider.Shutdown(ctx))
	}, nil
}

func getConfigPath() string {
	if path := os.Getenv("AUTHCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func openRedis(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (redis.UniversalClient, func(), error) {
	addr := cfg.Addr
	var mr *miniredis.Miniredis
	if cfg.Embedded {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("starting embedded redis: %w", err)
		}
		addr = mr.Addr()
		log.Warn("using embedded redis; state is lost on restart", "address", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	closeFn := func() {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	log.Info("redis connected", "address", addr)
	return client, closeFn, nil
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Records, authcore.AuditSink, func(), error) {
	var sink authcore.AuditSink = authcore.NoOpSink{}
	if cfg.Auth.AuditSink == "log" {
		sink = authcore.NewSlogSink(log)
	}

	if cfg.Database.Driver != "postgres" {
		log.Warn("using in-memory record store; accounts are lost on restart")
		return memory.New(), sink, func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	closeFn := func() {
		log.Info("closing database")
		if err := db.Close(); err != nil {
			log.Error("error closing database", "error", err)
		}
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(ctx, db); err != nil {
			closeFn()
			return nil, nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database migrations complete")
	}

	if cfg.Auth.AuditSink == "postgres" {
		sink = postgres.NewAuditSink(db, log)
	}
	return postgres.New(db), sink, closeFn, nil
}
