package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/mvt-tileserver/internal/cache/keys"
	"github.com/mohammed-shakir/mvt-tileserver/internal/core/model"
	"github.com/mohammed-shakir/mvt-tileserver/internal/core/observability"
	"github.com/mohammed-shakir/mvt-tileserver/internal/db"
	"github.com/mohammed-shakir/mvt-tileserver/internal/postgis"
	"github.com/mohammed-shakir/mvt-tileserver/internal/tileservice"
)

const (
	ContentTypeMVT = "application/vnd.mapbox-vector-tile"
	TileRoute      = "/tiles/{tileset}/{z}/{x}/{y}"
)

// TileSource serves tiles and the tileset catalog
type TileSource interface {
	Tile(ctx context.Context, addr model.TileAddress) (tileservice.Tile, error)
	Tilesets() []model.Tileset
	Tileset(id string) (model.Tileset, bool)
}

func HandleTile(logger *slog.Logger, src TileSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, TileRoute, sw.code, time.Since(start).Seconds())
		}()

		addr, err := ParseTileAddress(
			chi.URLParam(r, "tileset"),
			chi.URLParam(r, "z"),
			chi.URLParam(r, "x"),
			chi.URLParam(r, "y"),
		)
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			return
		}

		tile, err := src.Tile(r.Context(), addr)
		if err != nil {
			code := StatusFor(err)
			if code >= http.StatusInternalServerError {
				logger.ErrorContext(r.Context(), "tile request failed", "tile", addr.String(), "err", err)
			}
			if code == http.StatusServiceUnavailable {
				sw.Header().Set("Retry-After", "1")
			}
			http.Error(sw, http.StatusText(code), code)
			return
		}

		h := sw.Header()
		h.Set("ETag", tile.ETag)
		h.Set("Cache-Control", "public, max-age=60")
		if tile.Cached {
			h.Set("X-Cache", "hit")
		} else {
			h.Set("X-Cache", "miss")
		}

		if keys.MatchETag(r.Header.Get("If-None-Match"), tile.ETag) {
			sw.WriteHeader(http.StatusNotModified)
			return
		}
		if tile.Empty() {
			sw.WriteHeader(http.StatusNoContent)
			return
		}
		h.Set("Content-Type", ContentTypeMVT)
		h.Set("Content-Length", strconv.Itoa(len(tile.Body)))
		sw.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = sw.Write(tile.Body)
		}
	}
}

func HandleTilesets(src TileSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		all := src.Tilesets()
		if all == nil {
			all = []model.Tileset{}
		}
		writeJSON(w, http.StatusOK, all)
		observability.ObserveHTTP(r.Method, "/tilesets", http.StatusOK, time.Since(start).Seconds())
	}
}

func HandleTileset(src TileSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := chi.URLParam(r, "id")
		ts, ok := src.Tileset(id)
		code := http.StatusOK
		if !ok {
			code = http.StatusNotFound
			http.Error(w, fmt.Sprintf("unknown tileset %q", id), code)
		} else {
			writeJSON(w, code, ts)
		}
		observability.ObserveHTTP(r.Method, "/tilesets/{id}", code, time.Since(start).Seconds())
	}
}

// StatusFor maps service errors onto HTTP status codes
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, postgis.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, tileservice.ErrUnknownTileset), errors.Is(err, postgis.ErrUnknownRelation):
		return http.StatusNotFound
	case errors.Is(err, postgis.ErrEmptyResult):
		return http.StatusNoContent
	case errors.Is(err, db.ErrPoolAcquire):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads this
		return 499
	default:
		return http.StatusInternalServerError
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseTileAddress normalizes the path values of the tile route. y may carry a
// .pbf or .mvt suffix.
func ParseTileAddress(tileset, zRaw, xRaw, yRaw string) (model.TileAddress, error) {
	tileset = strings.TrimSpace(tileset)
	if tileset == "" {
		return model.TileAddress{}, errors.New("missing tileset")
	}
	yRaw = strings.TrimSuffix(strings.TrimSuffix(yRaw, ".pbf"), ".mvt")

	z, err := parseCoord("z", zRaw)
	if err != nil {
		return model.TileAddress{}, err
	}
	x, err := parseCoord("x", xRaw)
	if err != nil {
		return model.TileAddress{}, err
	}
	y, err := parseCoord("y", yRaw)
	if err != nil {
		return model.TileAddress{}, err
	}
	if z > postgis.MaxZoom {
		return model.TileAddress{}, fmt.Errorf("z must be in [0,%d]", postgis.MaxZoom)
	}
	if limit := 1 << z; x >= limit || y >= limit {
		return model.TileAddress{}, fmt.Errorf("x and y must be in [0,%d) at zoom %d", limit, z)
	}
	return model.TileAddress{Tileset: tileset, Z: z, X: x, Y: y}, nil
}

func parseCoord(name, v string) (int, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 31)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, v)
	}
	return int(n), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
