package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DatabaseConfig struct {
	Path          string
	LogLevel      string
	BusyTimeoutMs int
}

func NewConnection(dbConfig *DatabaseConfig) (*gorm.DB, error) {
	if dbConfig == nil || dbConfig.Path == "" {
		return nil, fmt.Errorf("database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbConfig.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	busyTimeout := dbConfig.BusyTimeoutMs
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}

	// WAL keeps readers unblocked while a sync transaction commits.
	dsn := fmt.Sprintf(
		"%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d",
		dbConfig.Path, busyTimeout,
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel(dbConfig.LogLevel)),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; a second connection would only queue on
	// the database lock.
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToUpper(level) {
	case "SILENT":
		return logger.Silent
	case "INFO":
		return logger.Info
	case "ERROR":
		return logger.Error
	default:
		return logger.Warn
	}
}
