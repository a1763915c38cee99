package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupDeduper(t *testing.T, ttl time.Duration) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		rc.Close()
		m.Close()
	})
	return NewRedisDeduper(rc, ttl), m
}

func TestDeduperAdd(t *testing.T) {
	d, _ := setupDeduper(t, time.Minute)
	ctx := context.Background()

	added, err := d.Add(ctx, "k1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !added {
		t.Fatal("first add should report newly added")
	}

	added, err = d.Add(ctx, "k1")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if added {
		t.Fatal("duplicate add should report existing")
	}
}

func TestDeduperRemoveAllowsRetry(t *testing.T) {
	d, _ := setupDeduper(t, time.Minute)
	ctx := context.Background()

	if _, err := d.Add(ctx, "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := d.Remove(ctx, "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err := d.Add(ctx, "k1")
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if !added {
		t.Fatal("key should be addable again after removal")
	}
}

func TestDeduperKeyExpires(t *testing.T) {
	d, m := setupDeduper(t, time.Second)
	ctx := context.Background()

	if _, err := d.Add(ctx, "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	m.FastForward(2 * time.Second)

	added, err := d.Add(ctx, "k1")
	if err != nil {
		t.Fatalf("add after expiry: %v", err)
	}
	if !added {
		t.Fatal("expired key should be addable again")
	}
}
