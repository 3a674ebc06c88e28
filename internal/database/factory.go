package database

import (
	"fmt"
	"os"
	"path/filepath"

	"podlog/internal/config"
)

// NewDatabaseFromConfig creates a SQLiteDatabase based on the database config type.
// In-memory databases are migrated on creation; file databases are expected
// to be migrated explicitly and are only checked by the caller.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, "podlog.db"))
	case "memory":
		db, err := NewSQLiteDatabase(memoryPath)
		if err != nil {
			return nil, err
		}
		if err := db.MigrateUp(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating in-memory database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
