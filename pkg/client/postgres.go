package client

import (
	"context"
	"time"

	"rsvp/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	postgresConnectAttempts = 5
	postgresConnectBackoff  = 2 * time.Second
)

// SetPostgres opens a pgx pool, retrying while the database container starts.
func (c *Client) SetPostgres(log *logger.Logger, dsn string, maxConns int32) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		log.Fatal("Failed to parse PostgreSQL DSN", "error", err)
	}

	poolCfg.MaxConns = maxConns
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= postgresConnectAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				cancel()
				break
			}
			pool.Close()
		}
		cancel()
		log.Warn("PostgreSQL connect attempt failed",
			"attempt", attempt,
			"max_attempts", postgresConnectAttempts,
			"error", err,
		)
		time.Sleep(postgresConnectBackoff)
	}
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", "error", err)
	}

	log.Info("Successfully connected to PostgreSQL", "max_conns", maxConns)
	c.Postgres = pool
}
