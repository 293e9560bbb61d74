package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ssuji15/trainpool/internal/config"
)

type DB struct {
	Pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS training_runs (
	id            UUID PRIMARY KEY,
	strategy      TEXT NOT NULL,
	dataset_hash  TEXT NOT NULL,
	trained       BOOLEAN NOT NULL,
	score         BIGINT NOT NULL,
	location      TEXT NOT NULL,
	creation_time TIMESTAMPTZ NOT NULL,
	start_time    TIMESTAMPTZ,
	end_time      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS training_runs_dataset_idx ON training_runs (dataset_hash);
`

func New(ctx context.Context, cfg *config.PostgresConfig) (*DB, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pg config: %w", err)
	}

	pcfg.MaxConns = 10
	pcfg.MinConns = 1
	pcfg.MaxConnLifetime = time.Hour
	pcfg.HealthCheckPeriod = 30 * time.Second

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Migrate creates the tables the repositories use.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (d *DB) Close() {
	d.Pool.Close()
}
