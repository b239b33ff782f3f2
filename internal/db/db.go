package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"tofyx-server/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens the telemetry store. The caller is expected to have checked
// cfg.StoreConfigured() first; opening with an empty DATABASE_URL is an error.
func Open(cfg config.Config) (*sql.DB, error) {
	if !cfg.StoreConfigured() {
		return nil, fmt.Errorf("db open: DATABASE_URL not set")
	}

	dsn, err := buildDSN(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if cfg.AppEnv == "dev" && cfg.LogLevel <= slog.LevelDebug {
		connector, err := NewLoggingConnector(dsn, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		db = sql.OpenDB(connector)
	} else {
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
	}

	// Pooling (SQLite is typically best with low concurrency; tune if needed)
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// Validate connectivity early
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return db, nil
}

func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

func buildDSN(path string) (string, error) {
	// Ensure directory exists for file-backed sqlite db
	dir := filepath.Dir(path)
	if dir != "." && !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	// - busy_timeout: helps with "database is locked" under concurrent use
	// - journal_mode=WAL: better concurrent reads/writes
	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	// If caller provided something like "file:/data/app.db?x=y", don't double-wrap
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
	if path == ":memory:" {
		return path, nil
	}

	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
