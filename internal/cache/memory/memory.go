// Package memory is an in-process tile cache backed by an expiring LRU.
package memory

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/mvt-tileserver/internal/core/observability"
)

// Store keeps at most size tiles. Entries expire after the TTL given to New;
// the lru has one TTL for all entries so the ttl passed to Set is ignored.
type Store struct {
	lru *expirable.LRU[string, []byte]
}

func New(size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = 1
	}
	return &Store{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
		return nil, false, err
	}
	v, ok := s.lru.Get(key)
	observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
	return v, ok, nil
}

func (s *Store) Set(ctx context.Context, key string, val []byte, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	s.lru.Add(key, append([]byte(nil), val...))
	observability.ObserveCacheOp("set", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	start := time.Now()
	for _, k := range keys {
		s.lru.Remove(k)
	}
	observability.ObserveCacheOp("del", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) DelPrefix(_ context.Context, prefix string) (int, error) {
	start := time.Now()
	n := 0
	for _, k := range s.lru.Keys() {
		if strings.HasPrefix(k, prefix) && s.lru.Remove(k) {
			n++
		}
	}
	observability.ObserveCacheOp("del_prefix", nil, time.Since(start).Seconds())
	return n, nil
}

func (s *Store) Len() int { return s.lru.Len() }

func (s *Store) Close() error {
	s.lru.Purge()
	return nil
}
