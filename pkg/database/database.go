// Package database optionally persists a run's findings (crashes, timeouts,
// exemplar improvements) so they can be queried across runs. It is enabled
// by DATABASE_URL; without it the recorder is a no-op.
package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"shrinkfuzz/config"
)

func NewRecorder(cfg *config.AppConfig, logger *zap.Logger) (*Recorder, error) {
	rec := &Recorder{
		command: cfg.Command,
		logger:  logger.Named("database"),
	}
	if cfg.DatabaseURL == "" {
		return rec, nil
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := db.AutoMigrate(&Crash{}, &Timeout{}, &Exemplar{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	rec.db = db
	rec.logger.Debug("connected to database")
	return rec, nil
}
