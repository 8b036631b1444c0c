package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxBackend struct {
	pool *pgxpool.Pool
}

func (b *pgxBackend) acquire(ctx context.Context) (lease, error) {
	c, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgxpool acquire: %w", err)
	}
	return c, nil
}

func (b *pgxBackend) ping(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pgxpool ping: %w", err)
	}
	return nil
}

func (b *pgxBackend) counts() (total, idle int32) {
	s := b.pool.Stat()
	return s.TotalConns(), s.IdleConns()
}

func (b *pgxBackend) close() { b.pool.Close() }
