package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultApplicationName = "docvecd"
	// Vector scans over a large corpus are the slowest statements we run.
	defaultStatementTimeout = 30 * time.Second
)

// Config holds database connection configuration
type Config struct {
	URL              string
	MaxConns         int32
	MinConns         int32
	ApplicationName  string
	StatementTimeout time.Duration
}

// NewPool opens a pgx pool tagged with the application name and a
// server-side statement timeout, then pings it.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}

	params := poolConfig.ConnConfig.RuntimeParams
	if _, ok := params["application_name"]; !ok {
		name := cfg.ApplicationName
		if name == "" {
			name = defaultApplicationName
		}
		params["application_name"] = name
	}
	timeout := cfg.StatementTimeout
	if timeout <= 0 {
		timeout = defaultStatementTimeout
	}
	params["statement_timeout"] = fmt.Sprintf("%d", timeout.Milliseconds())

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
