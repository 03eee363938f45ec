// Package database opens the gorm Postgres connection and applies migrations.
package database

import (
	"fmt"
	"time"

	authdomain "mailrecall-backend/internal/auth/domain"
	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/pkg/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewPostgresConnection(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Migrate creates the relational tables shared by every vector backend.
// The pgvector extension is enabled here so the pgvector store can migrate its own table.
func Migrate(db *gorm.DB, withVectorExtension bool) error {
	if withVectorExtension {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("enable pgvector extension: %w", err)
		}
	}
	if err := db.AutoMigrate(&emaildomain.SearchHistoryEntry{}, &authdomain.MailboxCredential{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
