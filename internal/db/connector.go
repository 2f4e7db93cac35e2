// Package db opens GORM connections for the supported database backends.
package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database types.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
)

// Config selects a backend and its connection string.
type Config struct {
	// Type is one of sqlite, postgres, or mysql.
	Type string
	// DSN is the driver connection string. For sqlite this is a file path
	// or :memory:.
	DSN string
	// Silent suppresses GORM query logging.
	Silent bool
}

// Connect opens a GORM connection for the configured backend.
func Connect(cfg Config) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case TypeSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case TypePostgres:
		dialector = postgres.Open(cfg.DSN)
	case TypeMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type %q (expected sqlite, postgres, or mysql)", cfg.Type)
	}

	gormCfg := &gorm.Config{}
	if cfg.Silent {
		gormCfg.Logger = logger.Default.LogMode(logger.Silent)
	}

	gormDB, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Type, err)
	}
	return gormDB, nil
}
