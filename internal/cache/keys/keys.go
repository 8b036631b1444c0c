// Package keys builds cache keys and ETags for vector tiles.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Version is bumped when the tile encoding changes so old entries stop matching.
const Version = "v1"

// Tile returns tile:v1:<tileset>:<z>:<x>:<y>
func Tile(tileset string, z, x, y int) string {
	return fmt.Sprintf("%s%d:%d:%d", TilesetPrefix(tileset), z, x, y)
}

// TilesetPrefix returns the prefix shared by every key of one tileset. It ends in
// ':' so "public.roads" never matches "public.roads_v2".
func TilesetPrefix(tileset string) string {
	return "tile:" + Version + ":" + sanitizeTileset(strings.TrimSpace(tileset)) + ":"
}

// ETag is a strong validator derived from the tile body
func ETag(body []byte) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
}

// MatchETag reports whether an If-None-Match header value matches etag.
func MatchETag(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for c := range strings.SplitSeq(header, ",") {
		c = strings.TrimSpace(c)
		c = strings.TrimPrefix(c, "W/")
		if c == etag {
			return true
		}
	}
	return false
}

func sanitizeTileset(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '.' || r == '_' || r == '$':
			out = r
		default:
			// ':' and anything non-ASCII would break prefix matching
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
