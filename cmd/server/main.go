package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tinko_recovery/internal/channels"
	"tinko_recovery/internal/config"
	"tinko_recovery/internal/handlers"
	"tinko_recovery/internal/logger"
	appMiddleware "tinko_recovery/internal/middleware"
	"tinko_recovery/internal/recovery"
	"tinko_recovery/internal/services"
	"tinko_recovery/internal/store"
)

// lockLease bounds how long a crashed instance can hold a payment lock in Redis.
const lockLease = 30 * time.Second

func main() {
	// Load environment variables
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// The logger is not configured yet.
		logger.Initialize("development")
		logger.Log.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Initialize(cfg.Env)
	defer logger.Log.Sync() //nolint:errcheck
	log := logger.Log

	// Initialize store
	var st store.Store
	if cfg.DatabaseURL != "" {
		db, err := services.InitDB(cfg.DatabaseURL, log)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		if err := services.AutoMigrate(db, log); err != nil {
			log.Fatal("Failed to run database migrations", zap.Error(err))
		}
		st = store.NewGormStore(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store; state is lost on restart")
		st = store.NewMemoryStore()
	}

	// Per-payment locking: Redis when shared across instances, in-process otherwise
	var locker recovery.Locker = recovery.NewKeyedMutex()
	if cfg.RedisURL != "" {
		cache, err := services.NewRedisCache(cfg.RedisURL, log)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer cache.Close()
		locker = services.NewRedisLocker(cache, "tinko:lock:", lockLease)
	}

	registry, err := channels.BuildRegistry(cfg.Channels, cfg.Policy.ChannelsInUse(), log.Named("channels"))
	if err != nil {
		log.Fatal("Failed to configure channels", zap.Error(err))
	}

	engine := recovery.NewEngine(st, locker, registry, cfg.Policy, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = appMiddleware.CustomErrorHandler

	// Middleware
	e.Use(middleware.Recover())
	e.Use(logger.RequestLogger())

	handlers.RegisterRoutes(e, st, engine.Ingestor, appMiddleware.NewRateLimiter(cfg.APIRateLimit))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "Tinko recovery engine is running"})
	})

	// Start server
	go func() {
		log.Info("Server starting", zap.String("port", cfg.Port), zap.Int("schedule_steps", len(cfg.Policy.Plan())))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server stopped unexpectedly", zap.Error(err))
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", zap.Error(err))
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		log.Error("Engine shutdown failed", zap.Error(err))
	}
	cancel()
	log.Info("Server stopped")
}
