package state

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestKVPutGetDelete(t *testing.T) {
	kv := NewKV(openTestDB(t))
	ctx := context.Background()

	if err := kv.Put(ctx, "command:abc", []byte(`{"id":"abc"}`), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := kv.Get(ctx, "command:abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"id":"abc"}` {
		t.Fatalf("unexpected value: %s", got)
	}

	// Overwrite keeps a single row.
	if err := kv.Put(ctx, "command:abc", []byte(`{"id":"abc","v":2}`), 0); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err = kv.Get(ctx, "command:abc")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if string(got) != `{"id":"abc","v":2}` {
		t.Fatalf("unexpected overwritten value: %s", got)
	}

	if err := kv.Delete(ctx, "command:abc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := kv.Get(ctx, "command:abc"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestKVTTLExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	kv := NewKV(openTestDB(t)).WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := kv.Put(ctx, "command_response:x", []byte("r"), time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}

	now = now.Add(59 * time.Minute)
	if _, err := kv.Get(ctx, "command_response:x"); err != nil {
		t.Fatalf("expected live value: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := kv.Get(ctx, "command_response:x"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestKVPrefixSkipsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	kv := NewKV(openTestDB(t)).WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := kv.Put(ctx, "command_response:a", []byte("a"), time.Minute); err != nil {
		t.Fatalf("put a: %v", err)
	}
	now = now.Add(time.Second)
	if err := kv.Put(ctx, "command_response:b", []byte("b"), time.Hour); err != nil {
		t.Fatalf("put b: %v", err)
	}
	if err := kv.Put(ctx, "other:c", []byte("c"), time.Hour); err != nil {
		t.Fatalf("put c: %v", err)
	}

	now = now.Add(5 * time.Minute)
	values, err := kv.Prefix(ctx, "command_response:", 10)
	if err != nil {
		t.Fatalf("prefix: %v", err)
	}
	if len(values) != 1 || string(values[0]) != "b" {
		t.Fatalf("expected only live b, got %v", values)
	}
}

func TestKVPurgeExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	kv := NewKV(openTestDB(t)).WithClock(func() time.Time { return now })
	ctx := context.Background()

	_ = kv.Put(ctx, "a", []byte("a"), time.Minute)
	_ = kv.Put(ctx, "b", []byte("b"), 0)

	now = now.Add(time.Hour)
	purged, err := kv.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
	if _, err := kv.Get(ctx, "b"); err != nil {
		t.Fatalf("expected b to survive: %v", err)
	}
}
