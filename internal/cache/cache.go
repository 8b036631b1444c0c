// Package cache defines the tile byte cache used in front of PostGIS.
package cache

import (
	"context"
	"time"
)

// Interface is implemented by the memory and redis stores. A miss is reported
// as ok=false with a nil error.
type Interface interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	DelPrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}

// Nop caches nothing
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Del(context.Context, ...string) error { return nil }
func (Nop) DelPrefix(context.Context, string) (int, error) { return 0, nil }
func (Nop) Close() error { return nil }
