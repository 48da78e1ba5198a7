package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"tinko_recovery/internal/channels"
	"tinko_recovery/internal/config"
	"tinko_recovery/internal/logger"
	"tinko_recovery/internal/recovery"
	"tinko_recovery/internal/services"
	"tinko_recovery/internal/store"
)

// lockLease bounds how long a crashed worker can hold a payment lock in Redis.
const lockLease = 30 * time.Second

// The worker runs the reconciliation sweep on its own, without timers. It
// executes overdue attempts left behind by server instances that went away.
func main() {
	// Load environment variables
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Initialize("development")
		logger.Log.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Initialize(cfg.Env)
	defer logger.Log.Sync() //nolint:errcheck
	log := logger.Log

	// Initialize Database
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	st := store.NewGormStore(db)

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

	executor := recovery.NewExecutor(st, locker, registry, cfg.Policy, log.Named("executor"))
	sweeper := recovery.NewSweeper(st, executor, nil, cfg.Policy, log.Named("sweeper"))

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("Shutting down worker...")
		cancel()
	}()

	log.Info("Worker started", zap.String("sweep_rrule", cfg.Policy.SweepRRule))
	if err := sweeper.Run(ctx); err != nil {
		log.Fatal("Worker stopped", zap.Error(err))
	}
}
