package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"fairbill/internal/config"
)

// NewPool creates a pgx connection pool from the database configuration and
// verifies connectivity with a ping so misconfiguration fails at startup
// rather than on the first payment.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("db: failed to parse database URL: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("db: failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: failed to ping database: %w", err)
	}

	return pool, nil
}

// PoolProbe reports database health for the /health endpoint by pinging the
// connection pool.
type PoolProbe struct {
	pool *pgxpool.Pool
}

// NewPoolProbe creates a health probe for the given pool.
func NewPoolProbe(pool *pgxpool.Pool) *PoolProbe {
	return &PoolProbe{pool: pool}
}

// Name identifies the probe in health check responses.
func (p *PoolProbe) Name() string { return "database" }

// Check pings the database, respecting the context deadline.
func (p *PoolProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
