package database

import (
	"fmt"
	"os"
	"path/filepath"

	"camarc/internal/camarc"
	"camarc/internal/config"
)

// OpenFromConfig opens the configured database without checking its schema.
// In-memory databases are migrated immediately since they start empty.
func OpenFromConfig(cfg config.DatabaseConfig, hostID string) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, hostID+".db"))
	case "memory":
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// NewDatabaseFromConfig opens the configured database and verifies that its
// schema is current. Run `camarc db migrate` to fix a stale schema.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string) (camarc.Database, error) {
	db, err := OpenFromConfig(cfg, hostID)
	if err != nil {
		return nil, err
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("checking database schema: %w", err)
	}
	return db, nil
}
