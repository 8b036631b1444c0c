package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestSetGetDel_HappyPath(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	body := []byte{0x1a, 0x00, 0xff}
	if err := rc.Set(ctx, "k1", body, 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := rc.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("Get ok=%v err=%v", ok, err)
	}
	if string(got) != string(body) {
		t.Fatalf("Get=%x want %x", got, body)
	}

	if err := rc.Del(ctx, "k1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, err := rc.Get(ctx, "k1"); ok || err != nil {
		t.Fatalf("after Del ok=%v err=%v", ok, err)
	}
}

func TestGet_MissIsNotAnError(t *testing.T) {
	rc, _ := newMini(t)
	v, ok, err := rc.Get(context.Background(), "missing")
	if err != nil || ok || v != nil {
		t.Fatalf("miss: v=%v ok=%v err=%v", v, ok, err)
	}
}

func TestSet_AppliesTTL(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()
	if err := rc.Set(ctx, "ttl", []byte("x"), 30*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL("ttl"); ttl != 30*time.Second {
		t.Fatalf("ttl=%v want 30s", ttl)
	}
	mr.FastForward(31 * time.Second)
	if _, ok, _ := rc.Get(ctx, "ttl"); ok {
		t.Fatal("expected key to expire")
	}
}

func TestDelPrefix_RemovesOnlyMatchingKeys(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	for i := range 1200 {
		_ = mr.Set(fmt.Sprintf("tile:v1:public.roads:12:%d:0", i), "x")
	}
	_ = mr.Set("tile:v1:public.roads_v2:0:0:0", "x")
	_ = mr.Set("tile:v1:public.parks:0:0:0", "x")

	n, err := rc.DelPrefix(ctx, "tile:v1:public.roads:")
	if err != nil {
		t.Fatalf("DelPrefix: %v", err)
	}
	if n != 1200 {
		t.Fatalf("removed=%d want 1200", n)
	}
	if !mr.Exists("tile:v1:public.roads_v2:0:0:0") || !mr.Exists("tile:v1:public.parks:0:0:0") {
		t.Fatalf("unrelated keys deleted: %v", mr.Keys())
	}
	if left := len(mr.Keys()); left != 2 {
		t.Fatalf("keys left=%d want 2", left)
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, _, err := rc.Get(ctx, "k"); err == nil {
		t.Fatalf("expected error on Get with canceled context")
	}
	if err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("expected error on Del with canceled context")
	}
	if _, err := rc.DelPrefix(ctx, "k"); err == nil {
		t.Fatalf("expected error on DelPrefix with canceled context")
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}
