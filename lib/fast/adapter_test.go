package fast

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/tkv/lib/db"
	"github.com/ValentinKolb/tkv/lib/db/engines/maple"
)

func newTestAdapter(t *testing.T, quota int) *Adapter {
	t.Helper()
	a, err := Open(&Options{Prefix: "tkv:", QuotaBytes: quota, NumShards: 2})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestReadWriteRemove(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t, 0)

	if _, ok, err := a.Read(ctx, "theme"); ok || err != nil {
		t.Fatalf("Expected miss on empty adapter, got ok=%v err=%v", ok, err)
	}

	if err := a.Write(ctx, "theme", []byte(`"dark"`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	v, ok, err := a.Read(ctx, "theme")
	if err != nil || !ok || string(v) != `"dark"` {
		t.Fatalf("Expected \"dark\", got %s ok=%v err=%v", v, ok, err)
	}

	if err := a.Remove(ctx, "theme"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, ok, _ := a.Read(ctx, "theme"); ok {
		t.Errorf("Expected miss after Remove")
	}
	if err := a.Remove(ctx, "theme"); err != nil {
		t.Errorf("Removing a missing key should not fail, got %v", err)
	}
}

func TestInvalidJSON(t *testing.T) {
	ctx := context.Background()
	database := maple.NewMapleDB(&maple.DBOptions{NumShards: 1, QuotaBytes: 0})
	a := NewWithDB(database, "tkv:")

	err := a.Write(ctx, "theme", []byte("not json"))
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("Expected ErrSerialization, got %v", err)
	}
	if database.Has("tkv:theme") {
		t.Errorf("Invalid value must not be stored")
	}

	// a corrupted value written by someone else reads as a miss
	_ = database.Set("tkv:broken", []byte("{"))
	if _, ok, err := a.Read(ctx, "broken"); ok || err != nil {
		t.Errorf("Expected corrupted value to read as miss, got ok=%v err=%v", ok, err)
	}
}

func TestQuota(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t, 32)

	if err := a.Write(ctx, "small", []byte(`"ok"`)); err != nil {
		t.Fatalf("Expected small write to succeed, got %v", err)
	}

	err := a.Write(ctx, "large", []byte(`"`+strings.Repeat("x", 64)+`"`))
	if !errors.Is(err, db.ErrQuotaExceeded) {
		t.Fatalf("Expected ErrQuotaExceeded, got %v", err)
	}
	if _, ok, _ := a.Read(ctx, "large"); ok {
		t.Errorf("Rejected write must not be readable")
	}
	if v, _, _ := a.Read(ctx, "small"); string(v) != `"ok"` {
		t.Errorf("Existing value must survive a rejected write")
	}
}

func TestNamespace(t *testing.T) {
	ctx := context.Background()
	database := maple.NewMapleDB(&maple.DBOptions{NumShards: 2, QuotaBytes: 0})
	a := NewWithDB(database, "tkv:")

	_ = database.Set("other-app:theme", []byte(`"light"`))
	_ = a.Write(ctx, "theme", []byte(`"dark"`))
	_ = a.Write(ctx, "locale", []byte(`"de"`))

	keys, err := a.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "locale" || keys[1] != "theme" {
		t.Errorf("Expected [locale theme], got %v", keys)
	}

	if err := a.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if keys, _ := a.Keys(ctx); len(keys) != 0 {
		t.Errorf("Expected no keys after Clear, got %v", keys)
	}
	if !database.Has("other-app:theme") {
		t.Errorf("Clear must not touch keys outside the namespace")
	}
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fast", "snapshot.bin")

	opts := &Options{Prefix: "tkv:", SnapshotPath: path, FlushInterval: time.Hour}

	a, err := Open(opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = a.Write(ctx, "theme", []byte(`"dark"`))
	_ = a.Write(ctx, "last_sync", []byte(`1700000000000`))
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	b, err := Open(opts)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer b.Close()

	v, ok, _ := b.Read(ctx, "theme")
	if !ok || string(v) != `"dark"` {
		t.Errorf("Expected value to survive restart, got %s ok=%v", v, ok)
	}
	if keys, _ := b.Keys(ctx); len(keys) != 2 {
		t.Errorf("Expected 2 keys after restart, got %v", keys)
	}
}

func TestBackgroundFlush(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.bin")

	a, err := Open(&Options{Prefix: "tkv:", SnapshotPath: path, FlushInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer a.Close()

	_ = a.Write(ctx, "theme", []byte(`"dark"`))

	deadline := time.Now().Add(2 * time.Second)
	for a.dirty.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if a.dirty.Load() {
		t.Fatal("Expected background flush to clear the dirty flag")
	}

	// read the snapshot with an independent adapter
	b, err := Open(&Options{Prefix: "tkv:", SnapshotPath: path, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer b.Close()
	if _, ok, _ := b.Read(ctx, "theme"); !ok {
		t.Errorf("Expected flushed value in snapshot")
	}
}
