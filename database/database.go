// Package database provides persistence for the squeeze-radar learning engine.
//
// This package includes:
//   - Database connection management using GORM and PostgreSQL
//   - The MemoryStore repository: conversations, recommendations, per-symbol
//     stock memory, market patterns, and versioned strategy parameters
//   - A raw database/sql connection used by the aggregate performance queries
//
// Key Concepts:
//   - recommendations are written once and mutated once (outcome closure)
//   - stock_memory rows hold exact running aggregates, never recomputed
//   - strategy_parameters is insert-only; activating a version is an atomic swap
package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database holds the GORM database connection and provides access to the underlying DB instance.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM database instance for direct access when needed.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect establishes database connection using GORM
func Connect(host string, port int, dbname, user, password string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Silent logging for production
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
