// Package db owns the bounded PostgreSQL connection pool shared by request handlers.
package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/semaphore"
)

var (
	ErrConfig       = errors.New("db: invalid pool configuration")
	ErrPoolInit     = errors.New("db: pool initialization failed")
	ErrLookup       = errors.New("db: no connection pool registered")
	ErrPoolAcquire  = errors.New("db: acquire connection")
	ErrConnReleased = errors.New("db: connection already released")
)

type Config struct {
	URL               string
	PoolSize          int
	MinConns          int
	AcquireTimeout    time.Duration
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	StatementTimeout  time.Duration
	ApplicationName   string
	PingOnStart       bool
}

// lease is one checked-out connection of the backing manager
type lease interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Release()
}

type backend interface {
	acquire(ctx context.Context) (lease, error)
	ping(ctx context.Context) error
	counts() (total, idle int32)
	close()
}

// Pool hands out at most size connections at a time. Safe for concurrent use.
type Pool struct {
	be             backend
	sem            *semaphore.Weighted
	size           int64
	acquireTimeout time.Duration

	inUse         atomic.Int64
	acquires      atomic.Uint64
	releases      atomic.Uint64
	acquireErrors atomic.Uint64
	closed        atomic.Bool
	closeOnce     sync.Once
}

// NewPool validates cfg and builds a pgx-backed pool. Connections are opened lazily
// by pgxpool unless PingOnStart is set.
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	pcfg, err := parseConfig(cfg)
	if err != nil {
		return nil, err
	}

	pp, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPoolInit, err)
	}
	be := &pgxBackend{pool: pp}

	if cfg.PingOnStart {
		pingCtx, cancel := withTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		if err := be.ping(pingCtx); err != nil {
			be.close()
			return nil, fmt.Errorf("%w: ping: %w", ErrPoolInit, err)
		}
	}
	return newPool(be, cfg.PoolSize, cfg.AcquireTimeout), nil
}

func newPool(be backend, size int, acquireTimeout time.Duration) *Pool {
	return &Pool{
		be:             be,
		sem:            semaphore.NewWeighted(int64(size)),
		size:           int64(size),
		acquireTimeout: acquireTimeout,
	}
}

func parseConfig(cfg Config) (*pgxpool.Config, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("%w: connection string is required", ErrConfig)
	}
	if cfg.PoolSize <= 0 || cfg.PoolSize > math.MaxInt32 {
		return nil, fmt.Errorf("%w: pool size must be in [1,%d] (got %d)", ErrConfig, math.MaxInt32, cfg.PoolSize)
	}
	if cfg.MinConns < 0 || cfg.MinConns > cfg.PoolSize {
		return nil, fmt.Errorf("%w: min conns must be in [0,%d] (got %d)", ErrConfig, cfg.PoolSize, cfg.MinConns)
	}
	if cfg.AcquireTimeout < 0 {
		return nil, fmt.Errorf("%w: acquire timeout must not be negative", ErrConfig)
	}

	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse connection string: %w", ErrConfig, err)
	}

	pc.MaxConns = int32(cfg.PoolSize)
	pc.MinConns = int32(cfg.MinConns)
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		pc.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	if cfg.ConnectTimeout > 0 {
		pc.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if pc.ConnConfig.RuntimeParams == nil {
		pc.ConnConfig.RuntimeParams = map[string]string{}
	}
	if cfg.ApplicationName != "" {
		pc.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	// server side cancellation of long tile queries
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	return pc, nil
}

// Acquire checks out one connection from p. A nil p is a wiring error.
func Acquire(ctx context.Context, p *Pool) (*Conn, error) {
	if p == nil {
		return nil, ErrLookup
	}
	return p.Acquire(ctx)
}

// Acquire blocks until a connection is free, ctx is done, or the acquire timeout
// elapses. The returned Conn must be released.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p == nil {
		return nil, ErrLookup
	}
	if p.closed.Load() {
		p.acquireErrors.Add(1)
		return nil, fmt.Errorf("%w: pool closed", ErrPoolAcquire)
	}

	actx, cancel := withTimeout(ctx, p.acquireTimeout)
	defer cancel()

	if err := p.sem.Acquire(actx, 1); err != nil {
		p.acquireErrors.Add(1)
		return nil, fmt.Errorf("%w: wait for free slot (size=%d): %w", ErrPoolAcquire, p.size, err)
	}

	l, err := p.be.acquire(actx)
	if err != nil {
		p.sem.Release(1)
		p.acquireErrors.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrPoolAcquire, err)
	}

	p.inUse.Add(1)
	p.acquires.Add(1)
	return &Conn{pool: p, lease: l}, nil
}

// WithConn runs fn with a checked-out connection and releases it on every exit
// path, including panics.
func (p *Pool) WithConn(ctx context.Context, fn func(ctx context.Context, c *Conn) error) error {
	c, err := Acquire(ctx, p)
	if err != nil {
		return err
	}
	defer c.Release()
	return fn(ctx, c)
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil {
		return ErrLookup
	}
	return p.WithConn(ctx, func(ctx context.Context, c *Conn) error {
		return c.Ping(ctx)
	})
}

// Close tears down the backing manager. Safe to call more than once.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.be.close()
	})
}

type Stats struct {
	MaxConns      int64
	InUse         int64
	TotalConns    int32
	IdleConns     int32
	Acquires      uint64
	Releases      uint64
	AcquireErrors uint64
}

func (p *Pool) Stats() Stats {
	total, idle := p.be.counts()
	return Stats{
		MaxConns:      p.size,
		InUse:         p.inUse.Load(),
		TotalConns:    total,
		IdleConns:     idle,
		Acquires:      p.acquires.Load(),
		Releases:      p.releases.Load(),
		AcquireErrors: p.acquireErrors.Load(),
	}
}

// Conn is a connection borrowed from a Pool, owned by one request.
type Conn struct {
	pool *Pool

	mu    sync.Mutex
	lease lease
}

// Release returns the connection to the pool. Only the first call has an effect.
func (c *Conn) Release() {
	c.mu.Lock()
	l := c.lease
	c.lease = nil
	c.mu.Unlock()
	if l == nil {
		return
	}

	l.Release()
	c.pool.inUse.Add(-1)
	c.pool.releases.Add(1)
	c.pool.sem.Release(1)
}

func (c *Conn) current() lease {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lease
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	l := c.current()
	if l == nil {
		return nil, ErrConnReleased
	}
	return l.Query(ctx, sql, args...)
}

func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	l := c.current()
	if l == nil {
		return errRow{err: ErrConnReleased}
	}
	return l.QueryRow(ctx, sql, args...)
}

func (c *Conn) Ping(ctx context.Context) error {
	l := c.current()
	if l == nil {
		return ErrConnReleased
	}
	if err := l.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// returns context with timeout if set
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
