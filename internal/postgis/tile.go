// Package postgis builds and runs the PostGIS statements behind tiles and the tileset catalog.
package postgis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/paulmach/orb/maptile"
)

const (
	Extent      = 4096
	Buffer      = 256
	TileSRID    = 4326
	DefaultGeom = "geom"
	MaxZoom     = 30
)

var (
	ErrInvalidRequest  = errors.New("postgis: invalid tile request")
	ErrQuery           = errors.New("postgis: query failed")
	ErrEmptyResult     = errors.New("postgis: query returned no rows")
	ErrUnknownRelation = errors.New("postgis: unknown schema, table or column")
)

// Querier is the part of a checked-out connection used here.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type TileRequest struct {
	Schema     string
	Table      string
	GeomColumn string
	Z, X, Y    int
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

func validIdent(s string) bool {
	return len(s) <= 63 && identPattern.MatchString(s)
}

func (r TileRequest) geomColumn() string {
	if r.GeomColumn == "" {
		return DefaultGeom
	}
	return r.GeomColumn
}

func (r TileRequest) Validate() error {
	if !validIdent(r.Schema) {
		return fmt.Errorf("%w: schema %q", ErrInvalidRequest, r.Schema)
	}
	if !validIdent(r.Table) {
		return fmt.Errorf("%w: table %q", ErrInvalidRequest, r.Table)
	}
	if !validIdent(r.geomColumn()) {
		return fmt.Errorf("%w: geometry column %q", ErrInvalidRequest, r.GeomColumn)
	}
	if r.Z < 0 || r.Z > MaxZoom {
		return fmt.Errorf("%w: zoom %d outside [0,%d]", ErrInvalidRequest, r.Z, MaxZoom)
	}
	if r.X < 0 || r.Y < 0 || int64(r.X) > math.MaxUint32 || int64(r.Y) > math.MaxUint32 {
		return fmt.Errorf("%w: tile coordinate %d/%d out of range", ErrInvalidRequest, r.X, r.Y)
	}
	t := maptile.New(uint32(r.X), uint32(r.Y), maptile.Zoom(r.Z))
	if !t.Valid() {
		return fmt.Errorf("%w: tile %d/%d/%d out of range", ErrInvalidRequest, r.Z, r.X, r.Y)
	}
	return nil
}

const tileSQL = `SELECT ST_AsMVT(q, $1, %d, 'geom') FROM (` +
	`SELECT ST_AsMVTGeom(%s, TileBBox($2, $3, $4, %d), %d, %d, true) AS geom ` +
	`FROM %s) AS q`

// BuildTileQuery renders the tile statement. Identifiers are quoted, the layer
// name and tile coordinates are bind parameters.
func BuildTileQuery(r TileRequest) (string, []any, error) {
	if err := r.Validate(); err != nil {
		return "", nil, err
	}
	rel := pgx.Identifier{r.Schema, r.Table}.Sanitize()
	geom := pgx.Identifier{r.geomColumn()}.Sanitize()
	sql := fmt.Sprintf(tileSQL, Extent, geom, TileSRID, Extent, Buffer, rel)
	return sql, []any{r.Table, r.Z, r.X, r.Y}, nil
}

// GetTile executes the tile statement once and returns the MVT payload. A tile
// with no features is a zero-length slice and a nil error.
func GetTile(ctx context.Context, q Querier, r TileRequest) ([]byte, error) {
	sql, args, err := BuildTileQuery(r)
	if err != nil {
		return nil, err
	}

	var tile []byte
	if err := q.QueryRow(ctx, sql, args...).Scan(&tile); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: tile %s.%s/%d/%d/%d", ErrEmptyResult, r.Schema, r.Table, r.Z, r.X, r.Y)
		}
		return nil, queryError("tile", err)
	}
	if tile == nil {
		tile = []byte{}
	}
	return tile, nil
}

// undefined_table, invalid_schema_name, undefined_column
var unknownRelationCodes = map[string]bool{
	"42P01": true,
	"3F000": true,
	"42703": true,
}

func queryError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && unknownRelationCodes[pgErr.Code] {
		return fmt.Errorf("%w: %s: %w: %w", ErrQuery, op, ErrUnknownRelation, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrQuery, op, err)
}
