package services

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tinko_recovery/internal/models"
)

// InitDB initializes the database connection with connection pooling
func InitDB(dsn string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// Get underlying sql.DB to configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("Database connection established")
	return db, nil
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("Running database migrations...")

	err := db.AutoMigrate(
		&models.Merchant{},
		&models.PaymentEvent{},
		&models.RecoveryAttempt{},
		&models.WebhookDelivery{},
	)
	if err != nil {
		return err
	}

	log.Info("Database migrations completed")
	return nil
}
