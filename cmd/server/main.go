package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/onichip/pettrack-backend-go/internal/api"
	"github.com/onichip/pettrack-backend-go/internal/cache"
	"github.com/onichip/pettrack-backend-go/internal/config"
	"github.com/onichip/pettrack-backend-go/internal/database"
	"github.com/onichip/pettrack-backend-go/internal/geocoding"
	"github.com/onichip/pettrack-backend-go/internal/metrics"
	"github.com/onichip/pettrack-backend-go/internal/middleware"
	"github.com/onichip/pettrack-backend-go/internal/mqtt"
	"github.com/onichip/pettrack-backend-go/internal/repository"
	"github.com/onichip/pettrack-backend-go/internal/service"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML or JSON config file")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// 初始化数据库
	db, err := database.OpenAndMigrate(ctx, database.Config{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	entities := repository.NewEntityRepository(db)
	history := repository.NewLocationRepository(db)
	alerts := repository.NewAlertRepository(db)
	lastKnown := repository.NewLastKnownRepository(db)

	var wifiCache service.WifiCacheStore = repository.NewWifiCacheRepository(db)
	if cfg.Wifi.CacheBackend == "redis" {
		rc, err := cache.Dial(ctx, cfg.Wifi.RedisAddr, cfg.Wifi.RedisPassword, cfg.Wifi.RedisDB)
		if err != nil {
			return err
		}
		defer rc.Close()
		wifiCache = rc
		logger.Info("using redis wifi cache", "addr", cfg.Wifi.RedisAddr)
	}

	providers := geocoding.FromConfig(cfg.Wifi)
	if len(providers) == 0 {
		logger.Warn("no geolocation providers configured, wifi reports rely on cache and fallback", "fallback", cfg.Wifi.Fallback.Mode)
	}
	resolver := service.NewWifiResolver(wifiCache, providers, service.WifiResolverConfig{
		MinSignalDBm:          cfg.Wifi.MinSignalDBm,
		MaxAccessPoints:       cfg.Wifi.MaxAccessPoints,
		HybridMinSignalDBm:    cfg.Wifi.HybridMinSignalDBm,
		HybridMaxAccessPoints: cfg.Wifi.HybridMaxAccessPoints,
		MaxCellTowers:         cfg.Wifi.MaxCellTowers,
		DefaultRadioType:      cfg.Wifi.DefaultRadioType,
		CacheTTL:              cfg.Wifi.CacheTTL,
		ProviderTimeout:       cfg.Wifi.ProviderTimeout,
		ResolveTimeout:        cfg.Wifi.ResolveTimeout,
	}, logger)

	geofences := service.NewGeofenceService(repository.NewGeofenceRepository(db), alerts, entities, cfg.Geofence, logger)
	ingestion := service.NewIngestionService(service.IngestionDeps{
		Evaluator: service.NewGeofenceEvaluator(geofences, history, logger),
		Resolver:  resolver,
		History:   history,
		Alerts:    alerts,
		Telemetry: repository.NewTelemetryRepository(db),
		LastKnown: lastKnown,
	}, cfg.Wifi.Fallback, logger)

	metrics.Register()

	limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateWindow)
	go limiter.Run(ctx.Done())
	go resolver.RunSweeper(ctx, cfg.CacheSweepInterval)

	// 初始化路由
	router := api.SetupRouter(cfg, api.Services{
		Ingestion: ingestion,
		Locations: service.NewLocationService(history, lastKnown, cfg.History),
		Geofences: geofences,
		Alerts:    service.NewAlertService(alerts),
		Entities:  service.NewEntityService(entities),
	}, limiter, logger)

	if cfg.MQTT.Enabled {
		sub := mqtt.NewSubscriber(cfg.MQTT, ingestion, logger)
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer sub.Stop()
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		// 启动服务器
		logger.Info("server starting", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
