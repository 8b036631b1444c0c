package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammed-shakir/mvt-tileserver/internal/core/health"
	"github.com/mohammed-shakir/mvt-tileserver/internal/core/model"
	"github.com/mohammed-shakir/mvt-tileserver/internal/logger"
	"github.com/mohammed-shakir/mvt-tileserver/internal/tileservice"
)

type stubTiles struct{}

func (stubTiles) Tile(context.Context, model.TileAddress) (tileservice.Tile, error) {
	return tileservice.Tile{Body: []byte("mvt"), ETag: `"1"`}, nil
}
func (stubTiles) Tilesets() []model.Tileset { return nil }
func (stubTiles) Tileset(string) (model.Tileset, bool) {
	return model.Tileset{}, false
}

func TestNewHandler_Routes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	h := NewHandler(logger.Discard(), Deps{
		Tiles:       stubTiles{},
		Metrics:     metrics,
		MetricsPath: "/internal/metrics",
		Ready:       map[string]health.Check{"db": func(context.Context) error { return nil }},
	})

	cases := map[string]int{
		"/healthz":                      http.StatusOK,
		"/readyz":                       http.StatusOK,
		"/internal/metrics":             http.StatusOK,
		"/tilesets":                     http.StatusOK,
		"/tilesets/public.nope":         http.StatusNotFound,
		"/tiles/public.roads/0/0/0.pbf": http.StatusOK,
		"/tiles/public.roads/0/0":       http.StatusNotFound,
	}
	for path, want := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != want {
			t.Fatalf("%s status=%d want %d", path, rr.Code, want)
		}
	}
}

func TestNewHandler_HeadTile(t *testing.T) {
	h := NewHandler(logger.Discard(), Deps{Tiles: stubTiles{}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodHead, "/tiles/public.roads/0/0/0", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("HEAD status=%d want 200", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("HEAD wrote %d body bytes", rr.Body.Len())
	}
	if got := rr.Header().Get("Content-Length"); got != "3" {
		t.Fatalf("Content-Length=%q want 3", got)
	}
	if rr.Header().Get("ETag") != `"1"` {
		t.Fatalf("ETag=%q", rr.Header().Get("ETag"))
	}
}
