package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type DB struct {
	*sql.DB
}

// DSN builds a lib/pq connection string
func DSN(host, port, user, password, dbname, sslmode string) string {
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode,
	)
}

func New(dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		prefix VARCHAR(16) UNIQUE NOT NULL,
		key_hash VARCHAR(255) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		last_used_at TIMESTAMP WITH TIME ZONE,
		revoked BOOLEAN DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(prefix);

	CREATE TABLE IF NOT EXISTS platform_settings (
		provider VARCHAR(32) PRIMARY KEY,
		cookies TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS resolution_log (
		id UUID PRIMARY KEY,
		api_key_id UUID REFERENCES api_keys(id) ON DELETE SET NULL,
		url TEXT NOT NULL,
		provider VARCHAR(32),
		method VARCHAR(64),
		success BOOLEAN NOT NULL,
		error_code VARCHAR(64),
		grade VARCHAR(16),
		cached BOOLEAN DEFAULT FALSE,
		duration_ms BIGINT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_resolution_log_created_at ON resolution_log(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_resolution_log_api_key_id ON resolution_log(api_key_id);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
