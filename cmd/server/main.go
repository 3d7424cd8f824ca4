package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	http_handler "tally.bridge/internal/adapters/handler/http"
	"tally.bridge/internal/adapters/handler/mqtt"
	"tally.bridge/internal/adapters/queue/local"
	redis_adapter "tally.bridge/internal/adapters/queue/redis"
	"tally.bridge/internal/adapters/repository/memory"
	"tally.bridge/internal/adapters/repository/pg"
	"tally.bridge/internal/adapters/repository/sqlite"
	"tally.bridge/internal/config"
	"tally.bridge/internal/core/logger"
	"tally.bridge/internal/core/ports"
	"tally.bridge/internal/core/services"
	"tally.bridge/internal/core/tracing"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	bridgeFile, err := config.LoadBridgeFile(cfg.BridgeConfigFile)
	if err != nil {
		log.Fatalf("failed to load bridge config: %v", err)
	}

	// Initialize structured logger
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting Tally Bridge", "version", version, "store", cfg.StoreDriver)

	// Initialize tracing
	if cfg.EnableTracing {
		shutdownTracing, err := tracing.Init(cfg.ServiceName, version, cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("Failed to initialize tracing", "error", err)
		} else {
			logger.Info("Tracing initialized", "endpoint", cfg.OTLPEndpoint)
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Error("Failed to shutdown tracing", "error", err)
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize adapters
	store, err := openStore(cfg)
	if err != nil {
		logger.Error("Failed to init storage", "driver", cfg.StoreDriver, "error", err)
		log.Fatalf("failed to init storage: %v", err)
	}
	defer store.Close()

	var (
		bus         ports.EventBus
		configStore ports.ConfigStore
		rejects     ports.RejectStore
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisClient, err = redis_adapter.NewClient(cfg.RedisURL)
		if err != nil {
			logger.Error("Failed to init redis", "error", err)
			log.Fatalf("failed to init redis: %v", err)
		}
		defer redisClient.Close()
		adapter := redis_adapter.NewRedisAdapter(redisClient)
		bus, configStore = adapter, adapter
		rejects = redis_adapter.NewRejectStore(redisClient)
		logger.Info("Redis event bus enabled")
	} else {
		bus = local.NewBus()
		logger.Info("Using in-process event bus")
	}

	// Initialize domain services
	liveness := bridgeFile.Liveness
	activity := services.NewActivityLog(cfg.ActivityLogSize)
	registry := services.NewRegistry(
		services.WithHardTimeout(liveness.HardTimeout),
		services.WithRegistryActivityLog(activity),
		services.WithRegistryEvents(bus),
	)
	keeper := services.NewHeartbeatKeeper(registry, services.GracePolicy{
		Grace:         liveness.Grace,
		Hard:          liveness.HardTimeout,
		MaxExtensions: liveness.MaxExtensions,
	}, activity, bus, services.WithKeeperInterval(liveness.KeeperInterval))

	bridgeConfig := services.NewConfigService(bridgeFile.Bridge, configStore)
	if err := bridgeConfig.Load(ctx); err != nil {
		logger.Warn("Falling back to file/default bridge config", "error", err)
	}

	engineOpts := []services.EngineOption{}
	if rejects != nil {
		engineOpts = append(engineOpts, services.WithRejectStore(rejects))
	}
	orchestrator := services.NewOrchestrator(services.OrchestratorDeps{
		Registry:     registry,
		Engine:       services.NewReconcileEngine(store, engineOpts...),
		Store:        store,
		Config:       bridgeConfig,
		Activity:     activity,
		Events:       bus,
		StrictWindow: liveness.StrictTimeout,
	})
	healthService := services.NewHealthService(store, redisClient, registry, version)

	go keeper.Start(ctx)

	hub := http_handler.NewHub(bus)
	go hub.Run(ctx)
	go hub.EventConsumer(ctx)

	// Initialize MQTT Publisher
	if cfg.MQTTBroker != "" {
		mqttPublisher, err := mqtt.NewPublisher(bus, cfg.MQTTBroker, cfg.MQTTTopicPrefix)
		if err != nil {
			logger.Error("Failed to init MQTT publisher", "broker", cfg.MQTTBroker, "error", err)
		} else {
			mqttPublisher.Start(ctx)
			logger.Info("MQTT Publisher started", "broker", cfg.MQTTBroker)
		}
	}

	httpServer := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: http_handler.NewServer(http_handler.Deps{
			Registry:       registry,
			Orchestrator:   orchestrator,
			Config:         bridgeConfig,
			Activity:       activity,
			Health:         healthService,
			Rejects:        rejects,
			Hub:            hub,
			DisableMetrics: !cfg.EnableMetrics,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start HTTP Server
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP Server starting", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server failed", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	orchestrator.Wait()
	logger.Info("Tally Bridge stopped")
}

func openStore(cfg *config.Config) (ports.Storage, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		return pg.NewRepository(cfg.DatabaseURL)
	case config.StoreSQLite:
		return sqlite.NewRepository(cfg.SQLitePath)
	default:
		return memory.NewRepository(), nil
	}
}
