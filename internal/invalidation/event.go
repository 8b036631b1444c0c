// Package invalidation describes change events for tilesets and maps them to the
// tiles they affect.
package invalidation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// web mercator latitude limit
const maxLat = 85.05112878

var ErrTooManyTiles = errors.New("invalidation: bbox covers too many tiles")

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Tileset string    `json:"tileset"`
	TS      time.Time `json:"ts"`
	ID      string    `json:"id,omitempty"`
	Source  string    `json:"source,omitempty"`
	BBox    *BBox     `json:"bbox,omitempty"`
}

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid,omitempty"`
}

// Bound returns the box as an orb.Bound in lon/lat
func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.X1, b.Y1}, Max: orb.Point{b.X2, b.Y2}}
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete":
	case "truncate":
		if e.BBox != nil {
			return fmt.Errorf("truncate must not carry a bbox")
		}
	default:
		return fmt.Errorf("op must be insert|update|delete|truncate")
	}
	schema, table, ok := strings.Cut(strings.TrimSpace(e.Tileset), ".")
	if !ok || schema == "" || table == "" {
		return fmt.Errorf("tileset must be schema.table")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if e.BBox == nil {
		return nil
	}
	bb := *e.BBox
	if bb.SRID != "" && bb.SRID != "EPSG:4326" {
		return fmt.Errorf("bbox.srid must be EPSG:4326")
	}
	if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
		return fmt.Errorf("bbox longitude out of range")
	}
	if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
		return fmt.Errorf("bbox latitude out of range")
	}
	if bb.X2 < bb.X1 || bb.Y2 < bb.Y1 {
		return fmt.Errorf("bbox must satisfy x2>=x1 and y2>=y1")
	}
	return nil
}

// DedupeKey identifies an event for at-least-once delivery. Events without an
// id fall back to tileset, op and timestamp.
func (e Event) DedupeKey() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Tileset + "|" + e.Op + "|" + e.TS.UTC().Format(time.RFC3339Nano)
}

// TilesForBBox lists every tile between minZ and maxZ that intersects bb. It
// stops with ErrTooManyTiles once more than limit tiles would be returned; a
// limit <= 0 means no limit.
func TilesForBBox(bb BBox, minZ, maxZ, limit int) ([]maptile.Tile, error) {
	if minZ < 0 || maxZ < minZ || maxZ > 30 {
		return nil, fmt.Errorf("invalid zoom range [%d,%d]", minZ, maxZ)
	}
	b := bb.Bound()
	b.Min[1] = clampLat(b.Min[1])
	b.Max[1] = clampLat(b.Max[1])

	var out []maptile.Tile
	for z := minZ; z <= maxZ; z++ {
		zoom := maptile.Zoom(z)
		// tile rows grow southwards, so the top left corner is (minLon, maxLat)
		tl := maptile.At(orb.Point{b.Min[0], b.Max[1]}, zoom)
		br := maptile.At(orb.Point{b.Max[0], b.Min[1]}, zoom)
		last := uint32(1)<<uint(z) - 1
		x0, x1 := min(tl.X, last), min(br.X, last)
		y0, y1 := min(tl.Y, last), min(br.Y, last)

		n := int(x1-x0+1) * int(y1-y0+1)
		if limit > 0 && len(out)+n > limit {
			return nil, fmt.Errorf("%w: more than %d at zoom %d", ErrTooManyTiles, limit, z)
		}
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				out = append(out, maptile.New(x, y, zoom))
			}
		}
	}
	return out, nil
}

func clampLat(v float64) float64 {
	return max(-maxLat, min(maxLat, v))
}
