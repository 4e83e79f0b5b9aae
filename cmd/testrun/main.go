package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aescanero/dago-testrun/internal/application/orchestrator"
	"github.com/aescanero/dago-testrun/internal/application/sessions"
	"github.com/aescanero/dago-testrun/internal/config"
	backendhttp "github.com/aescanero/dago-testrun/pkg/adapters/backend/http"
	backendmemory "github.com/aescanero/dago-testrun/pkg/adapters/backend/memory"
	eventsmemory "github.com/aescanero/dago-testrun/pkg/adapters/events/memory"
	eventsredis "github.com/aescanero/dago-testrun/pkg/adapters/events/redis"
	"github.com/aescanero/dago-testrun/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/dago-testrun/pkg/adapters/storage/memory"
	storageredis "github.com/aescanero/dago-testrun/pkg/adapters/storage/redis"
	"github.com/aescanero/dago-testrun/pkg/api/grpc"
	"github.com/aescanero/dago-testrun/pkg/api/http"
	"github.com/aescanero/dago-testrun/pkg/api/websocket"
	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
	"github.com/aescanero/dago-testrun/pkg/telemetry"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting test-run service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx := context.Background()

	// Tracing
	if cfg.TracingEnabled {
		tp, err := telemetry.NewTracerProvider(ctx, "testrun")
		if err != nil {
			logger.Fatal("failed to create tracer provider", zap.Error(err))
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("tracer provider shutdown error", zap.Error(err))
			}
		}()
	}

	// Initialize Redis client
	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		// Test Redis connection
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Initialize adapters
	var eventBus ports.EventBus
	if cfg.EventsBackend == "redis" {
		eventBus = eventsredis.NewStreamsEventBus(redisClient, eventsredis.Config{
			ConsumerGroup: cfg.Events.ConsumerGroup,
			ConsumerName:  fmt.Sprintf("%s-%d", cfg.Events.ConsumerName, os.Getpid()),
			MaxLen:        cfg.Events.MaxLen,
		}, logger)
	} else {
		eventBus = eventsmemory.NewInMemoryEventBus(logger)
	}

	var snapshotStorage ports.SnapshotStorage
	if cfg.StorageBackend == "redis" {
		snapshotStorage = storageredis.NewSnapshotStorage(redisClient, cfg.Run.SnapshotTTL, logger)
	} else {
		snapshotStorage = storagememory.NewInMemorySnapshotStorage()
	}

	runClient, documents := initBackend(cfg, logger)

	metricsCollector := prometheus.NewCollector(nil)

	// Initialize API servers
	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Initialize application components
	registry := sessions.NewRegistry(&sessions.Config{
		Client:         runClient,
		Validator:      orchestrator.NewValidator(),
		Reporter:       metricsCollector,
		Storage:        snapshotStorage,
		EventBus:       eventBus,
		Metrics:        metricsCollector,
		Documents:      documents,
		PollInterval:   cfg.Run.PollInterval,
		MaxSessions:    cfg.Sessions.MaxSessions,
		HealthInterval: cfg.Sessions.HealthInterval,
		OnHealth: func(status *sessions.HealthStatus) {
			grpcServer.SetServing(status.Healthy)
		},
		Logger: logger,
	})
	registry.Start()

	httpServer := http.NewServer(&http.Config{
		Port:         cfg.HTTPPort,
		Registry:     registry,
		Storage:      snapshotStorage,
		StartTimeout: cfg.Timeouts.StartTimeout,
		APIToken:     cfg.APIToken,
		Logger:       logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(eventBus, registry.Topic(), func(workflowID string) (domain.Snapshot, bool) {
		sess, err := registry.Get(workflowID)
		if err != nil {
			return domain.Snapshot{}, false
		}
		return sess.Manager().Snapshot(), true
	}, logger)
	httpServer.SetupWebSocket(wsHandler)

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("test-run service started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("backend", cfg.Backend.Kind),
		zap.String("events", cfg.EventsBackend),
		zap.String("storage", cfg.StorageBackend))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Shutdown components
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Error("session registry shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("test-run service shut down complete")
}

// initBackend creates the run client and the per-session document factory
func initBackend(cfg *config.Config, logger *zap.Logger) (ports.RunClient, sessions.DocumentFactory) {
	if cfg.Backend.Kind == "memory" {
		logger.Warn("using in-memory backend, every run succeeds without executing")
		return backendmemory.NewClient(), func(string, string) ports.Document {
			return backendmemory.NewDocument()
		}
	}

	client := backendhttp.NewClient(&backendhttp.Config{
		BaseURL:     cfg.Backend.BaseURL,
		Token:       cfg.Backend.Token,
		Timeout:     cfg.Backend.Timeout,
		TriggerPath: cfg.Backend.TriggerPath,
	}, logger)

	return client, func(workflowID, spaceID string) ports.Document {
		return backendhttp.NewCanvas(client, workflowID, spaceID, logger)
	}
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
