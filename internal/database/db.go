package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"taskwatch/internal/config"
	"taskwatch/internal/models"
)

// Open connects to the journal database and runs auto-migration.
// URLs: sqlite://<path> (":memory:" allowed) or postgres(ql)://...
func Open(cfg config.DatabaseConfig, log *zap.SugaredLogger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	dialector, err := dialectorFor(cfg.URL, log)
	if err != nil {
		return nil, err
	}

	gormLogger := logger.Default.LogMode(logger.Warn)
	if cfg.Debug {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate: %w", err)
	}

	log.Infow("database initialized",
		"max_open", cfg.MaxOpenConns, "max_idle", cfg.MaxIdleConns, "max_lifetime", cfg.ConnMaxLifetime)
	return db, nil
}

func dialectorFor(databaseURL string, log *zap.SugaredLogger) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dbPath := strings.TrimPrefix(databaseURL, "sqlite://")
		if dbPath == "" {
			return nil, fmt.Errorf("sqlite database path is empty")
		}
		if dbPath != ":memory:" {
			if dir := filepath.Dir(dbPath); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("failed to create database directory: %w", err)
				}
			}
			log.Infow("using sqlite database", "path", dbPath)
		}
		return sqlite.Open(dbPath), nil
	case strings.HasPrefix(databaseURL, "postgresql://"), strings.HasPrefix(databaseURL, "postgres://"):
		return postgres.Open(databaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported database URL format: %s", databaseURL)
	}
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.WaitRecord{},
		&models.ChildWatch{},
	)
}

// Close closes the underlying connection pool
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
