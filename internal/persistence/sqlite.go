package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ShapArt/outlook-exporter/internal/config"
)

// NewSQLite opens the local ticket database, creating its directory first.
func NewSQLite(ctx context.Context, cfg config.SQLiteConfig, logger *zap.Logger) (*gorm.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ensureSQLiteDirectory(cfg.Path); err != nil {
		return nil, fmt.Errorf("ensure sqlite directory: %w", err)
	}

	dsn := cfg.Path
	if !strings.Contains(dsn, "?") {
		dsn += fmt.Sprintf("?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", cfg.BusyTimeoutMS)
	}
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one writer keeps CAS transactions from failing with SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)

	logger.Info("database opened", zap.String("driver", "sqlite"), zap.String("path", cfg.Path))
	return db, nil
}

// CloseSQLite releases the underlying connection pool.
func CloseSQLite(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func ensureSQLiteDirectory(path string) error {
	candidate := strings.TrimSpace(path)
	if candidate == "" || strings.Contains(candidate, ":memory:") {
		return nil
	}
	candidate = strings.TrimPrefix(candidate, "file:")
	if idx := strings.Index(candidate, "?"); idx >= 0 {
		candidate = candidate[:idx]
	}
	dir := filepath.Dir(candidate)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// PingSQLite verifies the database file is still reachable.
func PingSQLite(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
