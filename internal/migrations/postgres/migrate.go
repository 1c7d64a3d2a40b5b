package postgres

import (
	"context"
	"fmt"

	"rsvp/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrations are applied in order and recorded in schema_migrations. Never
// edit an applied migration; append a new one.
var Migrations = []migration{
	{
		Version: 1,
		Name:    "create_capacity_snapshots",
		SQL: `CREATE TABLE IF NOT EXISTS capacity_snapshots (
			event_id   TEXT PRIMARY KEY,
			capacity   INTEGER NOT NULL CHECK (capacity >= 0),
			occupied   INTEGER NOT NULL DEFAULT 0,
			version    BIGINT NOT NULL DEFAULT 1,
			status     TEXT NOT NULL CHECK (status IN ('draft', 'published', 'cancelled', 'completed', 'deleted')),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT occupied_within_capacity CHECK (occupied BETWEEN 0 AND capacity)
		)`,
	},
	{
		Version: 2,
		Name:    "create_reservations",
		SQL: `CREATE TABLE IF NOT EXISTS reservations (
			reservation_id TEXT NOT NULL,
			event_id       TEXT NOT NULL REFERENCES capacity_snapshots (event_id),
			requester_id   TEXT NOT NULL,
			state          TEXT NOT NULL CHECK (state IN ('pending', 'confirmed', 'rejected', 'cancelled')),
			version        BIGINT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (event_id, requester_id)
		)`,
	},
	{
		Version: 3,
		Name:    "index_reservations_listing",
		SQL:     `CREATE INDEX IF NOT EXISTS reservations_event_created_idx ON reservations (event_id, created_at, requester_id)`,
	},
	{
		Version: 4,
		Name:    "index_reservations_active",
		SQL:     `CREATE INDEX IF NOT EXISTS reservations_event_state_idx ON reservations (event_id, state)`,
	},
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool, log *logger.Logger) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return err
	}

	for _, m := range Migrations {
		if applied[m.Version] {
			continue
		}
		if err := apply(ctx, pool, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		log.Info("Applied migration", "version", m.Version, "name", m.Name)
	}

	log.Info("All PostgreSQL migrations applied", "count", len(Migrations))
	return nil
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[int]bool, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("failed to scan schema_migrations: %w", err)
	}

	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func apply(ctx context.Context, pool *pgxpool.Pool, m migration) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
		return err
	})
}
