package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
	_ "modernc.org/sqlite"
)

// openSQLite opens the Community tier database. modernc.org/sqlite is pure
// Go, so the engine ships as a single static binary.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./eligibility.db"
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL keeps fact appends from blocking evaluation reads; the busy
	// timeout covers the async worker writing decisions concurrently with
	// the API.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids lock thrash.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}
