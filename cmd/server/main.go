package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/docsync/internal/application/listing"
	"github.com/erp/docsync/internal/application/live"
	"github.com/erp/docsync/internal/application/mutation"
	"github.com/erp/docsync/internal/application/notification"
	"github.com/erp/docsync/internal/domain/document"
	"github.com/erp/docsync/internal/domain/ledger"
	"github.com/erp/docsync/internal/infrastructure/auth"
	"github.com/erp/docsync/internal/infrastructure/changefeed"
	"github.com/erp/docsync/internal/infrastructure/config"
	"github.com/erp/docsync/internal/infrastructure/event"
	"github.com/erp/docsync/internal/infrastructure/logger"
	"github.com/erp/docsync/internal/infrastructure/persistence"
	"github.com/erp/docsync/internal/infrastructure/telemetry"
	"github.com/erp/docsync/internal/interfaces/http/handler"
	"github.com/erp/docsync/internal/interfaces/http/middleware"
	"github.com/erp/docsync/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const version = "1.0.0"

//	@title			Document Sync API
//	@version		1.0
//	@description	Owner-scoped financial documents with live collections and notifications

//	@BasePath	/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}, cfg.App.Name)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting document sync server",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("driver", cfg.Database.Driver),
		zap.String("relay", cfg.Sync.Relay),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Telemetry
	logsProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logs provider", zap.Error(err))
	}
	defer shutdown(log, "logs provider", logsProvider.Shutdown)
	log = logsProvider.Bridge(log)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer shutdown(log, "tracer provider", tracerProvider.Shutdown)

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer shutdown(log, "meter provider", meterProvider.Shutdown)

	meter := meterProvider.Meter(cfg.Telemetry.ServiceName)
	syncMetrics, err := telemetry.NewSyncMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}

	// Change relay and Redis
	var redisClient *redis.Client
	if cfg.Sync.Relay == config.RelayRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Error("Error closing redis client", zap.Error(err))
			}
		}()
	}

	// Document store
	var (
		store document.Store
		db    *persistence.Database
	)
	if cfg.Database.Driver == config.DriverMemory {
		feed := relay(ctx, cfg, redisClient, nil, log)
		store = persistence.NewMemoryDocumentStore(
			persistence.WithChangeNotifier(feed),
			persistence.WithStoreLogger(log),
		)
		log.Info("Using in-memory document store")
	} else {
		gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
			logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
		db, err = persistence.NewDatabase(&cfg.Database, persistence.WithGormLogger(gormLog))
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Error("Error closing database", zap.Error(err))
			}
		}()

		dbSystem := "sqlite"
		if cfg.Database.Driver == config.DriverPostgres {
			dbSystem = "postgresql"
		}
		tracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
			DBSystem:        dbSystem,
		}, log)
		if err := tracing.Register(db.DB); err != nil {
			log.Fatal("Failed to register database tracing", zap.Error(err))
		}
		if err := db.Migrate(); err != nil {
			log.Fatal("Failed to migrate documents table", zap.Error(err))
		}

		feed := relay(ctx, cfg, redisClient, db, log)
		store = persistence.NewGormDocumentStore(db.DB,
			persistence.WithChangeNotifier(feed),
			persistence.WithStoreLogger(log),
		)
		log.Info("Database connected successfully")
	}

	// Event bus and notification surfaces
	eventBus := event.NewInMemoryEventBus(log)
	hub := notification.NewHub(
		notification.WithHubLogger(log),
		notification.WithClientBuffer(cfg.Sync.ClientBufferSize),
	)
	toasts := notification.NewToastHandler(hub, log)
	eventBus.Subscribe(toasts, toasts.EventTypes()...)

	var diagnostics *notification.DiagnosticsRecorder
	if cfg.Diagnostics.Enabled {
		diagnostics = notification.NewDiagnosticsRecorder(cfg.Diagnostics.BufferSize, log)
		eventBus.Subscribe(diagnostics, diagnostics.EventTypes()...)
	}

	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer shutdown(log, "event bus", eventBus.Stop)

	// Application services
	mutationRouter := mutation.NewRouter(eventBus, hub, log)
	mutationRouter.SetMetrics(syncMetrics)

	pipeline := mutation.NewPipeline(store,
		mutation.WithLogger(log),
		mutation.WithMetrics(syncMetrics),
		mutation.WithTotalPolicy(ledger.ParseTotalPolicy(cfg.Sync.TotalPolicy)),
		mutation.WithRetry(mutation.RetryPolicy{
			MaxAttempts:     cfg.Sync.RetryMaxAttempts,
			InitialInterval: cfg.Sync.RetryInitial,
			MaxInterval:     cfg.Sync.RetryMaxInterval,
		}),
	)
	pager := listing.NewPager(store, mutationRouter, cfg.Sync.PageSize, log)

	manager := live.NewManager(store, eventBus, log)
	manager.SetMetrics(syncMetrics)
	defer manager.Close()

	// Auth
	jwtService := auth.NewJWTService(cfg.JWT)
	var revocations auth.RevocationList = auth.NewMemoryRevocationList()
	if redisClient != nil {
		revocations = auth.NewRedisRevocationList(redisClient)
	}

	// HTTP
	collectionHandler := handler.NewCollectionHandler(pipeline, pager, mutationRouter, cfg.Sync.MaxPageSize, log)
	streamHandler := handler.NewStreamHandler(manager, hub,
		handler.WithStreamLogger(log),
		handler.WithStreamHeartbeat(cfg.Sync.HeartbeatInterval),
		handler.WithStreamAuth(jwtService, revocations),
	)
	defer streamHandler.Stop()

	var systemPinger handler.Pinger
	if db != nil {
		systemPinger = db
	}
	handlers := router.Handlers{
		System:      handler.NewSystemHandler(cfg.App.Name, version, systemPinger),
		Collections: collectionHandler,
		Streams:     streamHandler,
		Auth:        handler.NewAuthHandler(jwtService, revocations, log),
		DevTokens:   cfg.App.Env != "production",
	}
	if diagnostics != nil {
		handlers.Diagnostics = handler.NewDiagnosticsHandler(diagnostics)
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.HTTPMetrics(meter))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(middleware.CORSConfigFrom(cfg.HTTP)))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	jwtConfig := middleware.DefaultJWTConfig(jwtService)
	jwtConfig.Revocations = revocations
	jwtConfig.Logger = log
	if handlers.DevTokens {
		jwtConfig.SkipPaths = append(jwtConfig.SkipPaths, "/api/v1/auth/token", "/api/v1/system/info")
	}
	engine.Use(middleware.JWTAuthMiddlewareWithConfig(jwtConfig))
	engine.Use(middleware.SpanEnricher())
	engine.Use(logger.GinMiddleware(log))

	router.SetupRoutes(engine, handlers, router.WithAPIVersion("v1"))

	// SSE responses stay open, so there is no write timeout
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// streams never finish on their own; end them before draining
	streamHandler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	stop()

	log.Info("Server exited gracefully")
}

// relay builds the change notifier listeners are woken through and starts
// its receive loop
func relay(ctx context.Context, cfg *config.Config, client *redis.Client, db *persistence.Database, log *zap.Logger) changefeed.Notifier {
	switch cfg.Sync.Relay {
	case config.RelayRedis:
		n := changefeed.NewRedisNotifierWithClient(client,
			changefeed.WithChannel(cfg.Redis.Channel),
			changefeed.WithLogger(log),
		)
		go func() {
			if err := n.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("Redis change relay stopped", zap.Error(err))
			}
		}()
		return n
	case config.RelayPostgres:
		if db == nil || cfg.Database.Driver != config.DriverPostgres {
			log.Fatal("The postgres relay needs the postgres driver")
		}
		sqlDB, err := db.DB.DB()
		if err != nil {
			log.Fatal("Failed to get sql.DB for change relay", zap.Error(err))
		}
		n := changefeed.NewPostgresNotifier(sqlDB, cfg.Database.DSN(), log)
		go func() {
			if err := n.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("Postgres change relay stopped", zap.Error(err))
			}
		}()
		return n
	}
	return changefeed.NewLocal()
}

func shutdown(log *zap.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Error("Error shutting down "+name, zap.Error(err))
	}
}
