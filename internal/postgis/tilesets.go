package postgis

import (
	"context"

	"github.com/mohammed-shakir/mvt-tileserver/internal/core/model"
)

const tilesetsSQL = `SELECT f_table_schema, f_table_name, f_geometry_column, srid, type ` +
	`FROM geometry_columns ` +
	`ORDER BY f_table_schema, f_table_name, f_geometry_column`

// GetTilesets reads geometry_columns into a map keyed by "schema.table". For a
// table with several geometry columns the first column in name order wins, so
// the map holds one entry per table and can be smaller than the row count.
func GetTilesets(ctx context.Context, q Querier) (model.Tilesets, error) {
	rows, err := q.Query(ctx, tilesetsSQL)
	if err != nil {
		return nil, queryError("tilesets", err)
	}
	defer rows.Close()

	out := model.Tilesets{}
	for rows.Next() {
		var ts model.Tileset
		if err := rows.Scan(&ts.Schema, &ts.Table, &ts.GeometryColumn, &ts.SRID, &ts.GeometryType); err != nil {
			return nil, queryError("tilesets scan", err)
		}
		id := ts.ID()
		if _, dup := out[id]; dup {
			continue
		}
		out[id] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("tilesets rows", err)
	}
	return out, nil
}
