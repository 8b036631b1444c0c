package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/mvt-tileserver/internal/cache"
	"github.com/mohammed-shakir/mvt-tileserver/internal/cache/memory"
	"github.com/mohammed-shakir/mvt-tileserver/internal/cache/redisstore"
	"github.com/mohammed-shakir/mvt-tileserver/internal/catalog"
	"github.com/mohammed-shakir/mvt-tileserver/internal/core/config"
	"github.com/mohammed-shakir/mvt-tileserver/internal/core/health"
	"github.com/mohammed-shakir/mvt-tileserver/internal/core/server"
	"github.com/mohammed-shakir/mvt-tileserver/internal/db"
	"github.com/mohammed-shakir/mvt-tileserver/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/mvt-tileserver/internal/logger"
	"github.com/mohammed-shakir/mvt-tileserver/internal/metrics"
	"github.com/mohammed-shakir/mvt-tileserver/internal/tileservice"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	dbFlag := flag.String("db", "", "postgres connection string (overrides DATABASE_URL)")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}
	if *dbFlag != "" {
		cfg.DB.URL = strings.TrimSpace(*dbFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "tileserver",
		Version:   Version,
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", "err", err)
		return 2
	}
	appLog.Info("starting tileserver", "version", Version, "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prov := metrics.Init(metrics.Config{
		Path: cfg.MetricsPath,
		Build: metrics.BuildInfo{
			Version:   firstNonEmpty(os.Getenv("BUILD_VERSION"), Version),
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		appLog.Error("database pool setup failed", "err", err)
		return 1
	}
	// closed last, after every user of the pool has returned
	defer pool.Close()
	prov.Register(db.NewStatsCollector(pool))

	tileCache, err := newCache(ctx, cfg.Cache)
	if err != nil {
		appLog.Error("tile cache setup failed", "driver", cfg.Cache.Driver, "err", err)
		return 1
	}
	defer func() { _ = tileCache.Close() }()

	cat := catalog.New(catalog.PoolSource(pool), cfg.TilesetsRefresh, appLog)
	if err := cat.Refresh(ctx); err != nil {
		// not fatal: readiness stays red and the next tick retries
		appLog.Warn("initial tileset catalog load failed", "err", err)
	}

	svc := tileservice.New(cat, tileCache, tileservice.PoolFetcher(pool), tileservice.Options{
		TTL:         cfg.Cache.TTL,
		OpTimeout:   cfg.Cache.OpTimeout,
		LoadTimeout: cfg.TileLoadTimeout,
	}, appLog)

	handler := server.NewHandler(appLog, server.Deps{
		Tiles:       svc,
		Metrics:     prov.Handler(),
		MetricsPath: prov.Path(),
		Ready: map[string]health.Check{
			"db":      pool.Ping,
			"catalog": cat.Ready,
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, cfg, appLog, handler) })
	g.Go(func() error { return cat.Run(gctx) })
	if cfg.Invalidation.Enabled {
		consumer := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation), appLog, tileCache, cat).
			WithInvalidator(svc)
		g.Go(func() error { return consumer.Start(gctx) })
	}

	if err := g.Wait(); err != nil {
		appLog.Error("tileserver exited with error", "err", err)
		return 1
	}
	appLog.Info("tileserver stopped")
	return 0
}

func poolConfig(cfg config.Config) db.Config {
	return db.Config{
		URL:               cfg.DB.URL,
		PoolSize:          cfg.DB.PoolSize,
		MinConns:          cfg.DB.MinConns,
		AcquireTimeout:    cfg.DB.AcquireTimeout,
		MaxConnLifetime:   cfg.DB.MaxConnLifetime,
		MaxConnIdleTime:   cfg.DB.MaxConnIdleTime,
		HealthCheckPeriod: cfg.DB.HealthCheckPeriod,
		ConnectTimeout:    cfg.DB.ConnectTimeout,
		StatementTimeout:  cfg.DB.StatementTimeout,
		ApplicationName:   "tileserver",
		PingOnStart:       cfg.DB.PingOnStart,
	}
}

func newCache(ctx context.Context, c config.CacheCfg) (cache.Interface, error) {
	switch c.Driver {
	case "", "none":
		return cache.Nop{}, nil
	case "memory":
		return memory.New(c.Size, c.TTL), nil
	case "redis":
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rc, err := redisstore.New(dialCtx, c.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("redis %s: %w", c.RedisAddr, err)
		}
		return rc, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", c.Driver)
	}
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
