package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/mvt-tileserver/internal/cache/keys"
	"github.com/mohammed-shakir/mvt-tileserver/internal/core/model"
	"github.com/mohammed-shakir/mvt-tileserver/internal/db"
	"github.com/mohammed-shakir/mvt-tileserver/internal/logger"
	"github.com/mohammed-shakir/mvt-tileserver/internal/postgis"
	"github.com/mohammed-shakir/mvt-tileserver/internal/tileservice"
)

type fakeSource struct {
	tile  tileservice.Tile
	err   error
	lastA model.TileAddress
	sets  []model.Tileset
}

func (f *fakeSource) Tile(_ context.Context, a model.TileAddress) (tileservice.Tile, error) {
	f.lastA = a
	return f.tile, f.err
}

func (f *fakeSource) Tilesets() []model.Tileset { return f.sets }

func (f *fakeSource) Tileset(id string) (model.Tileset, bool) {
	for _, ts := range f.sets {
		if ts.ID() == id {
			return ts, true
		}
	}
	return model.Tileset{}, false
}

func mux(src TileSource) http.Handler {
	r := chi.NewRouter()
	r.Get(TileRoute, HandleTile(logger.Discard(), src))
	r.Get("/tilesets", HandleTilesets(src))
	r.Get("/tilesets/{id}", HandleTileset(src))
	return r
}

func get(t *testing.T, h http.Handler, path string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandleTile_ServesBody(t *testing.T) {
	body := []byte{0x1a, 0x03, 0x0a, 0x01, 0x61}
	src := &fakeSource{tile: tileservice.Tile{Body: body, ETag: keys.ETag(body)}}
	rr := get(t, mux(src), "/tiles/public.roads/2/1/3.pbf")

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != ContentTypeMVT {
		t.Fatalf("content-type=%q", ct)
	}
	if rr.Header().Get("X-Cache") != "miss" || rr.Header().Get("ETag") != keys.ETag(body) {
		t.Fatalf("headers=%v", rr.Header())
	}
	if rr.Body.String() != string(body) {
		t.Fatalf("body=%x want %x", rr.Body.Bytes(), body)
	}
	want := model.TileAddress{Tileset: "public.roads", Z: 2, X: 1, Y: 3}
	if src.lastA != want {
		t.Fatalf("addr=%+v want %+v", src.lastA, want)
	}
}

func TestHandleTile_WithoutSuffixAndCachedHeader(t *testing.T) {
	src := &fakeSource{tile: tileservice.Tile{Body: []byte("x"), ETag: keys.ETag([]byte("x")), Cached: true}}
	rr := get(t, mux(src), "/tiles/public.roads/0/0/0")
	if rr.Code != http.StatusOK || rr.Header().Get("X-Cache") != "hit" {
		t.Fatalf("status=%d x-cache=%q", rr.Code, rr.Header().Get("X-Cache"))
	}
}

func TestHandleTile_NotModified(t *testing.T) {
	body := []byte("tile")
	src := &fakeSource{tile: tileservice.Tile{Body: body, ETag: keys.ETag(body)}}
	rr := get(t, mux(src), "/tiles/public.roads/0/0/0.pbf", "If-None-Match", keys.ETag(body))
	if rr.Code != http.StatusNotModified {
		t.Fatalf("status=%d want 304", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("304 must not carry a body, got %d bytes", rr.Body.Len())
	}
}

func TestHandleTile_EmptyTileIsNoContent(t *testing.T) {
	src := &fakeSource{tile: tileservice.Tile{Body: []byte{}, ETag: keys.ETag(nil)}}
	rr := get(t, mux(src), "/tiles/public.roads/0/0/0.pbf")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d want 204", rr.Code)
	}
}

func TestHandleTile_BadPathIsBadRequestWithoutCallingService(t *testing.T) {
	src := &fakeSource{}
	rr := get(t, mux(src), "/tiles/public.roads/1/5/0.pbf")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rr.Code)
	}
	if src.lastA != (model.TileAddress{}) {
		t.Fatalf("service called with %+v", src.lastA)
	}
}

func TestHandleTile_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: schema", postgis.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: %q", tileservice.ErrUnknownTileset, "x.y"), http.StatusNotFound},
		{fmt.Errorf("%w: %w", postgis.ErrQuery, postgis.ErrUnknownRelation), http.StatusNotFound},
		{postgis.ErrEmptyResult, http.StatusNoContent},
		{fmt.Errorf("%w: %w", db.ErrPoolAcquire, context.DeadlineExceeded), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: boom", postgis.ErrQuery), http.StatusInternalServerError},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := get(t, mux(&fakeSource{err: tc.err}), "/tiles/public.roads/0/0/0.pbf")
		if rr.Code != tc.want {
			t.Fatalf("err=%v status=%d want %d", tc.err, rr.Code, tc.want)
		}
		if tc.want == http.StatusServiceUnavailable && rr.Header().Get("Retry-After") == "" {
			t.Fatal("503 should carry Retry-After")
		}
	}
}

func TestHandleTilesets(t *testing.T) {
	src := &fakeSource{sets: []model.Tileset{
		{Schema: "public", Table: "parks", GeometryColumn: "geom", SRID: 4326, GeometryType: "POLYGON"},
		{Schema: "public", Table: "roads", GeometryColumn: "geom", SRID: 4326, GeometryType: "LINESTRING"},
	}}
	h := mux(src)

	rr := get(t, h, "/tilesets")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var got []model.Tileset
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[1].Table != "roads" {
		t.Fatalf("tilesets=%+v", got)
	}

	rr = get(t, h, "/tilesets/public.roads")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	rr = get(t, h, "/tilesets/public.missing")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}
}

func TestHandleTilesets_EmptyIsArray(t *testing.T) {
	rr := get(t, mux(&fakeSource{}), "/tilesets")
	if got := rr.Body.String(); got != "[]\n" {
		t.Fatalf("body=%q want []", got)
	}
}
