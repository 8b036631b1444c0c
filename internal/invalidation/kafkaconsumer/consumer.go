// Package kafkaconsumer applies tileset change events from Kafka to the tile cache.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/mvt-tileserver/internal/cache/keys"
	"github.com/mohammed-shakir/mvt-tileserver/internal/core/model"
	obs "github.com/mohammed-shakir/mvt-tileserver/internal/core/observability"
	"github.com/mohammed-shakir/mvt-tileserver/internal/invalidation"
	mylog "github.com/mohammed-shakir/mvt-tileserver/internal/logger"
)

type Cache interface {
	Del(ctx context.Context, keys ...string) error
	DelPrefix(ctx context.Context, prefix string) (int, error)
}

type Catalog interface {
	Lookup(id string) (model.Tileset, bool)
	Refresh(ctx context.Context) error
}

// Invalidator is told about a tileset change before its keys are deleted, so
// loads already in flight do not write their stale bodies back.
type Invalidator interface {
	Invalidate(tileset string)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  Cache
	cat    Catalog
	inv    Invalidator
	seen   *lru.Cache[string, struct{}]
}

func New(cfg Config, logger *slog.Logger, c Cache, cat Catalog) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.DedupeSize
	if size <= 0 {
		size = 4096
	}
	seen, _ := lru.New[string, struct{}](size)
	return &Consumer{cfg: cfg, logger: logger, cache: c, cat: cat, seen: seen}
}

func (c *Consumer) WithInvalidator(inv Invalidator) *Consumer {
	c.inv = inv
	return c
}

// consumes invalidation events from kafka until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil || c.cat == nil {
		return errors.New("kafkaconsumer: missing dependencies (cache/catalog)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	handler := &groupHandler{process: c.ProcessOne}

	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "kafka consumer error", "err", err, "topic", c.cfg.Topic)
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "kafka invalidation consumer shutting down")
			return nil
		}
	}
}

// ProcessOne applies one event. Undecodable or invalid events are dropped so
// they cannot block the partition; cache failures are returned for redelivery.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.ObserveInvalidation("invalid", 0, err)
		c.logger.ErrorContext(ctx, "dropping undecodable invalidation event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.ObserveInvalidation("invalid", 0, err)
		c.logger.WarnContext(ctx, "dropping invalid invalidation event",
			"tileset", ev.Tileset, "offset", msg.Offset, "err", err)
		return nil
	}

	key := ev.DedupeKey()
	if c.alreadyApplied(key) {
		c.logger.DebugContext(ctx, "duplicate invalidation event", "id", key)
		return nil
	}

	ctx = mylog.WithTileset(ctx, ev.Tileset)
	if _, ok := c.cat.Lookup(ev.Tileset); !ok {
		// a table created after the last refresh has nothing cached yet
		if err := c.cat.Refresh(ctx); err != nil {
			c.logger.WarnContext(ctx, "catalog refresh after unknown tileset failed", "err", err)
		}
	}

	if c.inv != nil {
		c.inv.Invalidate(ev.Tileset)
	}
	n, err := c.apply(ctx, ev)
	obs.ObserveInvalidation(ev.Op, n, err)
	if err != nil {
		return err
	}
	c.markApplied(key)
	c.logger.DebugContext(ctx, "invalidated tiles", "op", ev.Op, "keys", n)
	return nil
}

func (c *Consumer) apply(ctx context.Context, ev invalidation.Event) (int, error) {
	if ev.BBox != nil {
		tiles, err := invalidation.TilesForBBox(*ev.BBox, c.cfg.MinZoom, c.cfg.MaxZoom, c.cfg.MaxTiles)
		switch {
		case err == nil:
			delKeys := make([]string, 0, len(tiles))
			for _, t := range tiles {
				delKeys = append(delKeys, keys.Tile(ev.Tileset, int(t.Z), int(t.X), int(t.Y)))
			}
			if err := c.cache.Del(ctx, delKeys...); err != nil {
				return 0, fmt.Errorf("cache del %d keys: %w", len(delKeys), err)
			}
			return len(delKeys), nil
		case errors.Is(err, invalidation.ErrTooManyTiles):
			c.logger.InfoContext(ctx, "bbox too large, clearing whole tileset", "err", err)
		default:
			return 0, fmt.Errorf("tiles for bbox: %w", err)
		}
	}
	n, err := c.cache.DelPrefix(ctx, keys.TilesetPrefix(ev.Tileset))
	if err != nil {
		return n, fmt.Errorf("cache del prefix: %w", err)
	}
	return n, nil
}

func (c *Consumer) alreadyApplied(key string) bool { return c.seen.Contains(key) }

func (c *Consumer) markApplied(key string) { c.seen.Add(key, struct{}{}) }
