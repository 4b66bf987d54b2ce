package cache

import (
	"testing"
	"time"
)

func TestStoreSetGet(t *testing.T) {
	store := NewStore(time.Minute)

	store.Set("GET /api/services", Entry{Status: 200, ContentType: "application/json", Body: []byte(`[]`)}, 0)

	entry, ok := store.Get("GET /api/services")
	if !ok {
		t.Fatalf("expected hit")
	}
	if entry.Status != 200 || string(entry.Body) != `[]` {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	if entry.ExpiresAt.Sub(entry.StoredAt) != time.Minute {
		t.Fatalf("expected default ttl, got %s", entry.ExpiresAt.Sub(entry.StoredAt))
	}

	if _, ok := store.Get("GET /api/other"); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestStoreOverwriteKeepsSingleEntry(t *testing.T) {
	store := NewStore(time.Minute)

	store.Set("key", Entry{Status: 200, Body: []byte("one")}, time.Minute)
	store.Set("key", Entry{Status: 200, Body: []byte("two")}, time.Minute)

	if got := store.Len(); got != 1 {
		t.Fatalf("expected single entry, got %d", got)
	}
	entry, ok := store.Get("key")
	if !ok || string(entry.Body) != "two" {
		t.Fatalf("expected latest value, got %#v", entry)
	}
}

func TestStoreLazyEviction(t *testing.T) {
	now := time.Now()
	store := NewStore(time.Minute, WithClock(func() time.Time { return now }))

	store.Set("key", Entry{Status: 200, Body: []byte("stale")}, time.Second)
	now = now.Add(2 * time.Second)

	if _, ok := store.Get("key"); ok {
		t.Fatalf("expected expired entry to miss")
	}
	if got := store.Len(); got != 0 {
		t.Fatalf("expected lazy eviction to remove entry, got %d", got)
	}
}

func TestStoreFlushAllIdempotent(t *testing.T) {
	store := NewStore(time.Minute)
	store.Set("a", Entry{Status: 200}, time.Minute)
	store.Set("b", Entry{Status: 200}, time.Minute)

	store.FlushAll()
	if got := store.Len(); got != 0 {
		t.Fatalf("expected empty store after flush, got %d", got)
	}
	store.FlushAll()
	if got := store.Len(); got != 0 {
		t.Fatalf("expected second flush to be a no-op, got %d", got)
	}
}

func TestStoreSweepRemovesOnlyExpired(t *testing.T) {
	now := time.Now()
	store := NewStore(time.Minute, WithClock(func() time.Time { return now }))

	store.Set("fresh", Entry{Status: 200}, time.Hour)
	store.Set("stale", Entry{Status: 200}, time.Second)
	now = now.Add(time.Minute)

	if removed := store.Sweep(); removed != 1 {
		t.Fatalf("expected one removal, got %d", removed)
	}
	if _, ok := store.Get("fresh"); !ok {
		t.Fatalf("expected fresh entry to survive sweep")
	}
}

func TestStoreStats(t *testing.T) {
	store := NewStore(time.Minute)
	store.Set("key", Entry{Status: 200}, time.Minute)

	store.Get("key")
	store.Get("missing")

	stats := store.Stats()
	if stats.Entries != 1 || stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}
