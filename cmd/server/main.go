// Package main is the entry point for the map view server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xkazm04/course-sub000/internal/api"
	"github.com/xkazm04/course-sub000/internal/cache"
	"github.com/xkazm04/course-sub000/internal/config"
	"github.com/xkazm04/course-sub000/internal/loader"
	"github.com/xkazm04/course-sub000/internal/render"
	"github.com/xkazm04/course-sub000/internal/service"
	"github.com/xkazm04/course-sub000/internal/syncstore"
	"github.com/xkazm04/course-sub000/internal/upstream"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	devLog := flag.Bool("dev", false, "Use development (console) logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(*devLog)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting map view server",
		zap.Int("port", cfg.Server.Port),
		zap.String("upstream", cfg.Upstream.BaseURL))

	// Shared cache for viewport queries and node lookups.
	cacheManager, err := cache.NewManager(cache.Config{
		QueryCacheSizeMB: cfg.Cache.QuerySizeMB,
		QueryTTL:         time.Duration(cfg.Cache.QueryTTLMinutes) * time.Minute,
		NodeCacheSize:    cfg.Cache.NodeCacheSize,
		NodeTTL:          time.Duration(cfg.Cache.NodeTTLMinutes) * time.Minute,
	})
	if err != nil {
		logger.Fatal("failed to initialize cache", zap.Error(err))
	}
	defer cacheManager.Close()

	upstreamClient := upstream.NewClient(upstream.Config{
		ContentBaseURL: cfg.Upstream.BaseURL,
		Timeout:        time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		Logger:         logger,
	})

	nodeLoader := loader.New(loader.Config{
		Fetcher: upstreamClient,
		Cache:   cacheManager,
		Logger:  logger,
	})

	persister, err := syncstore.NewSQLiteStore(cfg.Sync.SQLitePath)
	if err != nil {
		logger.Fatal("failed to initialize sync persistence", zap.Error(err))
	}
	defer persister.Close()
	logger.Info("sync persistence ready", zap.String("sqlite", cfg.Sync.SQLitePath))

	registry := api.NewSessionRegistry(api.SessionRegistryConfig{
		MaxSessions:  cfg.Server.MaxSessions,
		IdleTTL:      time.Duration(cfg.Server.SessionTTLMinutes) * time.Minute,
		PollInterval: time.Duration(cfg.Sync.PollIntervalSeconds) * time.Second,
		Upstream:     upstreamClient,
		Loader:       nodeLoader,
		Persister:    persister,
		EngineConfig: service.MapServiceConfig{
			HexSpacing:      cfg.Engine.HexSpacing,
			MaxRenderNodes:  cfg.Engine.MaxRenderNodes,
			ConnectionDist:  cfg.Engine.ConnectionDist,
			ClusterGridSize: cfg.Engine.ClusterGridSize,
			FrameInterval:   time.Duration(cfg.Engine.FrameIntervalMS) * time.Millisecond,
		},
		Logger: logger,
	})

	frameRenderer := render.NewFrameRenderer(render.Config{
		Width:     cfg.Render.Width,
		Height:    cfg.Render.Height,
		HexRadius: cfg.Render.HexRadius,
	})

	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		Cache:       cacheManager,
		Upstream:    upstreamClient,
		Renderer:    frameRenderer,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit: api.RateLimitConfig{
			Enabled:           cfg.Server.RateLimitRPS > 0,
			RequestsPerSecond: cfg.Server.RateLimitRPS,
			BurstSize:         cfg.Server.RateLimitBurst,
			TrustProxy:        cfg.Server.TrustProxy,
			Logger:            logger,
		},
		Logger: logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registry.Shutdown(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func buildLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
