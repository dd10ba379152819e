package repository

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/timmy/shotguess/internal/config"
	"github.com/timmy/shotguess/internal/domain"
	"github.com/timmy/shotguess/internal/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// activeJobIndexSQL closes the window between "find active" and "create": at most one
// in-progress or paused row per import type.
const activeJobIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS idx_import_progress_active
ON import_progress (import_type) WHERE status IN ('in_progress', 'paused')`

// InitDB opens the configured database and runs migrations.
// Parameters:
//   - cfg: database configuration including driver and connection settings.
// Returns:
//   - *gorm.DB: initialized database handle.
//   - error: non-nil if connection or migration fails.
func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	}

	var db *gorm.DB
	var err error

	switch cfg.Driver {
	case "postgres":
		logger.Info("Using PostgreSQL database")
		db, err = initPostgres(cfg, gormConfig)
	case "sqlite", "":
		logger.Info("Using SQLite database at %s", cfg.Path)
		db, err = initSQLite(cfg, gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// Migrate creates or updates every table the engine and its collaborators use.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.ImportProgress{},
		&domain.Game{},
		&domain.Screenshot{},
		&domain.GameSession{},
		&domain.SessionGuess{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := db.Exec(activeJobIndexSQL).Error; err != nil {
		return fmt.Errorf("failed to create active job index: %w", err)
	}
	return nil
}

func initPostgres(cfg *config.DatabaseConfig, gormConfig *gorm.Config) (*gorm.DB, error) {
	// Simple protocol keeps transaction poolers (pgbouncer, Supabase 6543) working
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.ConnectionString(),
		PreferSimpleProtocol: true,
	}), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return db, nil
}

func initSQLite(cfg *config.DatabaseConfig, gormConfig *gorm.Config) (*gorm.DB, error) {
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.ConnectionString()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	db.Exec("PRAGMA foreign_keys=ON")

	return db, nil
}
