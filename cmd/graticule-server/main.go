package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sqlnice/graticule/internal/cache/redisstore"
	"github.com/sqlnice/graticule/internal/core/config"
	"github.com/sqlnice/graticule/internal/core/observability"
	"github.com/sqlnice/graticule/internal/core/server"
	"github.com/sqlnice/graticule/internal/logger"
	"github.com/sqlnice/graticule/internal/metrics"
	"github.com/sqlnice/graticule/internal/overlay"
	"github.com/sqlnice/graticule/internal/session"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// overriding listen address via flag
	addrFlag := flag.String("addr", "", "listen address override")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "graticule-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)
	slog.SetDefault(appLog)

	p := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Build: metrics.BuildInfo{
			Version:   os.Getenv("BUILD_VERSION"),
			Revision:  os.Getenv("BUILD_REVISION"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer(), cfg.MetricsEnabled)
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting graticule-server",
		"addr", cfg.Addr,
		"version", Version,
		"cache", cfg.Cache.Enabled,
		"interval", cfg.GridInterval,
		"sessions", cfg.Session.Limit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *redisstore.Client
	if cfg.Cache.Enabled {
		c, err := redisstore.New(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			appLog.Error("redis unavailable", "err", err, "addr", cfg.Cache.RedisAddr)
			return 1
		}
		defer func() { _ = c.Close() }()
		store = c
	}

	svc := overlay.New(zl, store, cfg.Cache, overlay.WithFontFile(cfg.LabelFontFile))
	sessions := session.NewManager(zl, svc, cfg)
	defer sessions.Close()

	err := server.Run(ctx, cfg, appLog, server.Deps{
		Overlay:  svc,
		Sessions: sessions,
		Ready:    svc,
		Metrics:  p.Handler(),
	})
	if err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
