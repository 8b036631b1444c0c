// Package catalog keeps the set of servable tilesets, refreshed from PostGIS.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/mvt-tileserver/internal/core/model"
	"github.com/mohammed-shakir/mvt-tileserver/internal/core/observability"
	"github.com/mohammed-shakir/mvt-tileserver/internal/db"
	"github.com/mohammed-shakir/mvt-tileserver/internal/postgis"
)

var ErrNotLoaded = errors.New("catalog: not loaded")

type Source interface {
	Load(ctx context.Context) (model.Tilesets, error)
}

type SourceFunc func(ctx context.Context) (model.Tilesets, error)

func (f SourceFunc) Load(ctx context.Context) (model.Tilesets, error) { return f(ctx) }

// PoolSource reads geometry_columns over one pooled connection.
func PoolSource(p *db.Pool) Source {
	return SourceFunc(func(ctx context.Context) (model.Tilesets, error) {
		var out model.Tilesets
		err := p.WithConn(ctx, func(ctx context.Context, c *db.Conn) error {
			var err error
			out, err = postgis.GetTilesets(ctx, c)
			return err
		})
		return out, err
	})
}

type Catalog struct {
	src      Source
	interval time.Duration
	log      *slog.Logger

	snap atomic.Pointer[model.Tilesets]
	sf   singleflight.Group
}

func New(src Source, interval time.Duration, log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{src: src, interval: interval, log: log}
}

// Refresh loads a fresh snapshot. Concurrent callers share one load; on failure
// the previous snapshot stays in place.
func (c *Catalog) Refresh(ctx context.Context) error {
	_, err, _ := c.sf.Do("refresh", func() (any, error) {
		ts, err := c.src.Load(ctx)
		observability.ObserveCatalogRefresh(len(ts), err)
		if err != nil {
			return nil, fmt.Errorf("catalog refresh: %w", err)
		}
		if ts == nil {
			ts = model.Tilesets{}
		}
		prev := c.snap.Swap(&ts)
		if prev == nil || len(*prev) != len(ts) {
			c.log.Info("tileset catalog loaded", "tilesets", len(ts))
		}
		return nil, nil
	})
	return err
}

func (c *Catalog) Lookup(id string) (model.Tileset, bool) {
	p := c.snap.Load()
	if p == nil {
		return model.Tileset{}, false
	}
	ts, ok := (*p)[id]
	return ts, ok
}

// All returns the current snapshot, sorted by id
func (c *Catalog) All() []model.Tileset {
	p := c.snap.Load()
	if p == nil {
		return nil
	}
	ids := p.IDs()
	out := make([]model.Tileset, 0, len(ids))
	for _, id := range ids {
		out = append(out, (*p)[id])
	}
	return out
}

func (c *Catalog) Loaded() bool { return c.snap.Load() != nil }

// Ready satisfies health checks
func (c *Catalog) Ready(context.Context) error {
	if !c.Loaded() {
		return ErrNotLoaded
	}
	return nil
}

// Run refreshes every interval until ctx is done. A zero interval disables the
// loop; Run then just waits for ctx.
func (c *Catalog) Run(ctx context.Context) error {
	if c.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("tileset catalog refresh failed", "err", err)
			}
		}
	}
}
