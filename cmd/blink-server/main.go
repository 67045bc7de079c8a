package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/redis/go-redis/v9"
	"github.com/triage-ai/blinkguard/internal/action"
	"github.com/triage-ai/blinkguard/internal/api"
	"github.com/triage-ai/blinkguard/internal/chread"
	"github.com/triage-ai/blinkguard/internal/metrics"
	"github.com/triage-ai/blinkguard/internal/registry"
	"github.com/triage-ai/blinkguard/internal/resolver"
	"github.com/triage-ai/blinkguard/internal/storage"
	"github.com/triage-ai/blinkguard/internal/store"
	"github.com/triage-ai/blinkguard/internal/trust"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

const healthService = "blinkguard.v1.BlinkService"

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("BLINK_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("BLINK_HTTP_PORT", "8080")
	grpcPort := envOrDefault("BLINK_GRPC_PORT", "9090")
	registryURL := envOrDefault("BLINK_REGISTRY_URL", registry.DefaultURL)
	registryTTL := envOrDefaultDuration("BLINK_REGISTRY_TTL", registry.DefaultTTL)
	descriptorTTL := envOrDefaultDuration("BLINK_DESCRIPTOR_TTL", action.DefaultDescriptorTTL)
	manifestTTL := envOrDefaultDuration("BLINK_MANIFEST_TTL", resolver.DefaultManifestTTL)
	fetchTimeout := envOrDefaultDuration("BLINK_FETCH_TIMEOUT", 10*time.Second)
	policyPath := os.Getenv("BLINK_POLICY_FILE")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	redisURL := os.Getenv("REDIS_URL")
	cacheTTL := envOrDefaultInt("BLINK_AUTH_CACHE_TTL_S", 30)

	logger.Info("starting blink server",
		zap.String("http_port", httpPort),
		zap.String("grpc_port", grpcPort),
		zap.String("registry_url", registryURL),
		zap.Duration("registry_ttl", registryTTL),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	m := metrics.New()
	httpClient := &http.Client{Timeout: fetchTimeout}

	// Security registry, refreshed in the background
	reg := registry.NewCache(registry.CacheConfig{
		RegistryURL: registryURL,
		HTTPClient:  httpClient,
		TTL:         registryTTL,
		Logger:      logger,
		OnRefresh:   m.ObserveRegistry,
	})
	go reg.Run(ctx)

	// Server policy, hot reloaded from BLINK_POLICY_FILE
	policy, err := trust.NewPolicyHolder(policyPath, logger)
	if err != nil {
		logger.Fatal("failed to load policy", zap.String("path", policyPath), zap.Error(err))
	}
	go func() {
		if err := policy.Watch(ctx); err != nil {
			logger.Warn("policy watcher stopped", zap.Error(err))
		}
	}()

	// Descriptor cache: Redis or in-memory fallback
	var descriptors action.DescriptorCache = action.NewMemoryCache(descriptorTTL)
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis connection failed, using in-memory descriptor cache", zap.Error(err))
		} else {
			descriptors = action.NewRedisCache(rdb, descriptorTTL, logger)
			logger.Info("redis descriptor cache connected")
		}
	}

	// Storage: ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// Postgres pool (projects, API keys and per-project policies)
	var pgStore *store.Store
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgStore = store.NewStore(db)
		logger.Info("postgres connected")
	} else {
		logger.Info("no POSTGRES_DSN set, blink endpoints run unauthenticated under the server policy")
	}

	// ClickHouse reader (for events/analytics HTTP endpoints)
	var chReader *chread.Reader
	if clickhouseDSN != "" {
		chReader, err = chread.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
			chReader = nil
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	deps := &api.Dependencies{
		Store:     pgStore,
		Resolver:  resolver.New(resolver.NewManifestClient(httpClient, manifestTTL, logger), logger),
		Evaluator: trust.NewEvaluator(reg, logger),
		Registry:  reg,
		Actions: action.NewClient(action.ClientConfig{
			HTTPClient: httpClient,
			Cache:      descriptors,
			Logger:     logger,
			OnFetch:    m.ObserveDescriptorFetch,
		}),
		Policy:   policy,
		Writer:   writer,
		Reader:   chReader,
		Metrics:  m,
		Logger:   logger,
		CacheTTL: time.Duration(cacheTTL) * time.Second,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// gRPC health server for load balancer checks
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              30 * time.Second,
			Timeout:           5 * time.Second,
		}),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", grpcPort), zap.Error(err))
	}
	go func() {
		logger.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("grpc server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("blink server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
