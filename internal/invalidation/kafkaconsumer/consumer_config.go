package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/mvt-tileserver/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool

	// zoom levels whose cached tiles a bbox event removes
	MinZoom, MaxZoom int
	// above this many tiles a bbox event clears the whole tileset instead
	MaxTiles int
	// event ids remembered for redelivery dedupe
	DedupeSize int
}

func FromConfig(c config.InvalidationCfg) Config {
	return Config{
		Brokers:             c.Brokers,
		Topic:               c.Topic,
		GroupID:             c.GroupID,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: false,
		MinZoom:             c.MinZoom,
		MaxZoom:             c.MaxZoom,
		MaxTiles:            10000,
		DedupeSize:          4096,
	}
}
