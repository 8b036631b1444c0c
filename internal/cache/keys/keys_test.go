package keys

import (
	"regexp"
	"strings"
	"testing"
	"unicode"
)

func TestTile_Format(t *testing.T) {
	got := Tile("public.roads", 3, 4, 5)
	if got != "tile:v1:public.roads:3:4:5" {
		t.Fatalf("Tile=%q", got)
	}
	if !strings.HasPrefix(got, TilesetPrefix("public.roads")) {
		t.Fatalf("tile key %q does not start with its tileset prefix", got)
	}
}

func TestTilesetPrefix_DoesNotMatchLongerName(t *testing.T) {
	k := Tile("public.roads_v2", 0, 0, 0)
	if strings.HasPrefix(k, TilesetPrefix("public.roads")) {
		t.Fatalf("prefix of public.roads matched %q", k)
	}
}

func TestTileset_SanitizedToASCII(t *testing.T) {
	k := Tile(" odd:schema.väg  name ", 1, 0, 0)
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	// exactly the five separators of the key layout
	if n := strings.Count(k, ":"); n != 5 {
		t.Fatalf("key %q has %d separators want 5", k, n)
	}
}

func TestETag(t *testing.T) {
	a := ETag([]byte{0x1a, 0x05})
	b := ETag([]byte{0x1a, 0x05})
	c := ETag([]byte{0x1a, 0x06})
	if a != b {
		t.Fatalf("etag not deterministic: %s vs %s", a, b)
	}
	if a == c {
		t.Fatal("different bodies produced the same etag")
	}
	if !regexp.MustCompile(`^"[0-9a-f]{16}"$`).MatchString(a) {
		t.Fatalf("unexpected etag shape %s", a)
	}
	if ETag(nil) != ETag([]byte{}) {
		t.Fatal("nil and empty body should share an etag")
	}
}

func TestMatchETag(t *testing.T) {
	tag := ETag([]byte("tile"))
	cases := []struct {
		header string
		want   bool
	}{
		{"", false},
		{"*", true},
		{tag, true},
		{`"0000000000000000", ` + tag, true},
		{"W/" + tag, true},
		{`"0000000000000000"`, false},
	}
	for _, tc := range cases {
		if got := MatchETag(tc.header, tag); got != tc.want {
			t.Fatalf("MatchETag(%q)=%v want %v", tc.header, got, tc.want)
		}
	}
}
