// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"sort"
)

// Tileset describes one servable spatial table.
type Tileset struct {
	Schema         string `json:"schema"`
	Table          string `json:"table"`
	GeometryColumn string `json:"geometry_column"`
	SRID           int32  `json:"srid"`
	GeometryType   string `json:"geometry_type"`
}

// ID returns the "schema.table" lookup key
func (t Tileset) ID() string {
	return TilesetID(t.Schema, t.Table)
}

func TilesetID(schema, table string) string {
	return schema + "." + table
}

// Tilesets maps "schema.table" to its Tileset.
type Tilesets map[string]Tileset

// IDs returns the keys in sorted order
func (ts Tilesets) IDs() []string {
	out := make([]string, 0, len(ts))
	for id := range ts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type TileAddress struct {
	Tileset string
	Z, X, Y int
}

// String representation matching the tile route path
func (a TileAddress) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", a.Tileset, a.Z, a.X, a.Y)
}
