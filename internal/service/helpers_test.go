package service

import (
	"path/filepath"
	"testing"

	"github.com/timmy/shotguess/internal/config"
	"github.com/timmy/shotguess/internal/repository"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "service.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
