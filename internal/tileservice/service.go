// Package tileservice turns a tile address into tile bytes: catalog check, cache,
// then one pooled PostGIS query per distinct tile in flight.
package tileservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/mvt-tileserver/internal/cache"
	"github.com/mohammed-shakir/mvt-tileserver/internal/cache/keys"
	"github.com/mohammed-shakir/mvt-tileserver/internal/core/model"
	"github.com/mohammed-shakir/mvt-tileserver/internal/core/observability"
	"github.com/mohammed-shakir/mvt-tileserver/internal/db"
	mylog "github.com/mohammed-shakir/mvt-tileserver/internal/logger"
	"github.com/mohammed-shakir/mvt-tileserver/internal/postgis"
)

var ErrUnknownTileset = errors.New("tileservice: unknown tileset")

type Catalog interface {
	Lookup(id string) (model.Tileset, bool)
	All() []model.Tileset
}

// Fetcher runs one tile query. PoolFetcher is the production implementation.
type Fetcher func(ctx context.Context, r postgis.TileRequest) ([]byte, error)

// PoolFetcher checks out one connection for the query and always gives it back.
func PoolFetcher(p *db.Pool) Fetcher {
	return func(ctx context.Context, r postgis.TileRequest) ([]byte, error) {
		var body []byte
		err := p.WithConn(ctx, func(ctx context.Context, c *db.Conn) error {
			var err error
			body, err = postgis.GetTile(ctx, c, r)
			return err
		})
		return body, err
	}
}

type Tile struct {
	Body   []byte
	ETag   string
	Cached bool
}

// Empty reports a tile with no features; it is a valid result, not an error.
func (t Tile) Empty() bool { return len(t.Body) == 0 }

type Options struct {
	TTL       time.Duration
	OpTimeout time.Duration

	// LoadTimeout bounds a shared tile load, which outlives any single caller.
	LoadTimeout time.Duration
}

const defaultLoadTimeout = 30 * time.Second

type Service struct {
	cat   Catalog
	cache cache.Interface
	fetch Fetcher
	opts  Options
	log   *slog.Logger

	sf singleflight.Group

	mu  sync.Mutex
	gen map[string]uint64
}

func New(cat Catalog, c cache.Interface, fetch Fetcher, opts Options, log *slog.Logger) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultLoadTimeout
	}
	return &Service{cat: cat, cache: c, fetch: fetch, opts: opts, log: log, gen: map[string]uint64{}}
}

func (s *Service) Tilesets() []model.Tileset { return s.cat.All() }

func (s *Service) Tileset(id string) (model.Tileset, bool) { return s.cat.Lookup(id) }

func (s *Service) Tile(ctx context.Context, addr model.TileAddress) (Tile, error) {
	ts, ok := s.cat.Lookup(addr.Tileset)
	if !ok {
		return Tile{}, fmt.Errorf("%w: %q", ErrUnknownTileset, addr.Tileset)
	}
	req := postgis.TileRequest{
		Schema:     ts.Schema,
		Table:      ts.Table,
		GeomColumn: ts.GeometryColumn,
		Z:          addr.Z,
		X:          addr.X,
		Y:          addr.Y,
	}
	if err := req.Validate(); err != nil {
		return Tile{}, err
	}

	ctx = mylog.WithTileset(ctx, addr.Tileset)
	ctx = mylog.WithTile(ctx, addr.String())
	key := keys.Tile(addr.Tileset, addr.Z, addr.X, addr.Y)

	if body, ok := s.cacheGet(ctx, key); ok {
		observability.IncCacheHit()
		return Tile{Body: body, ETag: keys.ETag(body), Cached: true}, nil
	}
	observability.IncCacheMiss()

	// the shared load is detached from every caller; each caller only stops
	// waiting when its own context ends
	ch := s.sf.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.LoadTimeout)
		defer cancel()
		return s.load(lctx, addr.Tileset, key, req)
	})
	select {
	case <-ctx.Done():
		return Tile{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Tile{}, res.Err
		}
		body, _ := res.Val.([]byte)
		return Tile{Body: body, ETag: keys.ETag(body)}, nil
	}
}

// Invalidate marks loads of tileset already in flight as stale. Their result is
// still returned to callers but never written to the cache, so a body read
// before a change cannot land after the change's cache delete.
func (s *Service) Invalidate(tileset string) {
	s.mu.Lock()
	s.gen[tileset]++
	s.mu.Unlock()
}

func (s *Service) generation(tileset string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[tileset]
}

func (s *Service) load(ctx context.Context, tileset, key string, req postgis.TileRequest) ([]byte, error) {
	gen := s.generation(tileset)
	start := time.Now()
	body, err := s.fetch(ctx, req)
	outcome := "ok"
	switch {
	case errors.Is(err, postgis.ErrEmptyResult):
		outcome, body, err = "empty", []byte{}, nil
	case err != nil:
		outcome = "error"
	case len(body) == 0:
		outcome = "empty"
	}
	observability.ObserveTileQuery(tileset, outcome, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	observability.ObserveTileBytes(tileset, len(body))
	if s.generation(tileset) != gen {
		s.log.DebugContext(ctx, "tileset invalidated during load, not caching", "key", key)
		return body, nil
	}
	s.cacheSet(ctx, key, body)
	return body, nil
}

func (s *Service) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.OpTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.OpTimeout)
	}
	return context.WithCancel(ctx)
}

// cache errors degrade to a miss
func (s *Service) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	cctx, cancel := s.opContext(ctx)
	defer cancel()
	body, ok, err := s.cache.Get(cctx, key)
	if err != nil {
		s.log.WarnContext(ctx, "tile cache get failed", "key", key, "err", err)
		return nil, false
	}
	return body, ok
}

func (s *Service) cacheSet(ctx context.Context, key string, body []byte) {
	cctx, cancel := s.opContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.cache.Set(cctx, key, body, s.opts.TTL); err != nil {
		s.log.WarnContext(ctx, "tile cache set failed", "key", key, "err", err)
	}
}
