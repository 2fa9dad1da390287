package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"muse-sync/internal/app"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgres connects to postgres and returns a pool wrapper.
func NewPostgres(ctx context.Context, cfg app.Config, log *slog.Logger) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.PGURL)
	if err != nil {
		return nil, fmt.Errorf("parse pg url: %w", err)
	}
	pcfg.MaxConns = int32(cfg.PGMaxConn)

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Close() { p.pool.Close() }
