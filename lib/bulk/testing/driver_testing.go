// Package testing provides a conformance suite for bulk.Driver implementations.
//
//	func TestDriver(t *testing.T) {
//		bulktesting.RunDriverTests(t, mydriver.New())
//	}
package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/tkv/lib/bulk"
)

// RunDriverTests runs the conformance suite against driver.
func RunDriverTests(t *testing.T, driver bulk.Driver) {
	t.Run(driver.Name(), func(t *testing.T) {
		t.Run("Upgrade", func(t *testing.T) {
			testUpgrade(t, driver)
		})

		t.Run("PutGet", func(t *testing.T) {
			testPutGet(t, open(t, driver))
		})

		t.Run("Keys", func(t *testing.T) {
			testKeys(t, open(t, driver))
		})

		t.Run("EmptyKey", func(t *testing.T) {
			testEmptyKey(t, open(t, driver))
		})

		t.Run("DeleteClear", func(t *testing.T) {
			testDeleteClear(t, open(t, driver))
		})

		t.Run("MissingStore", func(t *testing.T) {
			testMissingStore(t, open(t, driver))
		})

		t.Run("Reopen", func(t *testing.T) {
			testReopen(t, driver)
		})

		t.Run("Concurrency", func(t *testing.T) {
			testConcurrency(t, open(t, driver))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

const store = "kv"

// open creates an upgraded database in a temporary directory.
func open(t *testing.T, driver bulk.Driver) bulk.Database {
	t.Helper()
	ctx := context.Background()

	database, err := driver.Open(ctx, filepath.Join(t.TempDir(), "test."+driver.Name()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if err := database.Upgrade(ctx, 1, []string{store}); err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	return database
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testUpgrade(t *testing.T, driver bulk.Driver) {
	ctx := context.Background()

	database, err := driver.Open(ctx, filepath.Join(t.TempDir(), "upgrade."+driver.Name()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer database.Close()

	version, err := database.Version(ctx)
	if err != nil || version != 0 {
		t.Fatalf("Expected version 0 for a new database, got %d (%v)", version, err)
	}
	if ok, _ := database.HasStore(ctx, store); ok {
		t.Fatalf("Expected no store in a new database")
	}

	if err := database.Upgrade(ctx, 1, []string{store}); err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	if version, _ := database.Version(ctx); version != 1 {
		t.Errorf("Expected version 1 after upgrade, got %d", version)
	}
	if ok, _ := database.HasStore(ctx, store); !ok {
		t.Errorf("Expected store %s after upgrade", store)
	}

	// upgrading keeps existing stores and their data
	_ = database.Put(ctx, store, "theme", []byte("dark"))
	if err := database.Upgrade(ctx, 2, []string{store, "blobs"}); err != nil {
		t.Fatalf("Second upgrade failed: %v", err)
	}
	if version, _ := database.Version(ctx); version != 2 {
		t.Errorf("Expected version 2, got %d", version)
	}
	if ok, _ := database.HasStore(ctx, "blobs"); !ok {
		t.Errorf("Expected new store after second upgrade")
	}
	if v, ok, _ := database.Get(ctx, store, "theme"); !ok || string(v) != "dark" {
		t.Errorf("Upgrade must keep existing records, got %q %v", v, ok)
	}
}

func testEmptyKey(t *testing.T, database bulk.Database) {
	ctx := context.Background()

	if err := database.Delete(ctx, store, ""); err != nil {
		t.Errorf("Deleting a missing empty key failed: %v", err)
	}
	if err := database.Put(ctx, store, "", []byte("root")); err != nil {
		t.Fatalf("Put with empty key failed: %v", err)
	}
	_ = database.Put(ctx, store, "a", []byte("a"))

	if v, ok, err := database.Get(ctx, store, ""); err != nil || !ok || string(v) != "root" {
		t.Errorf("Expected root, got %q ok=%v err=%v", v, ok, err)
	}
	keys, err := database.Keys(ctx, store)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "" || keys[1] != "a" {
		t.Errorf("Expected [\"\" a], got %q", keys)
	}

	if err := database.Delete(ctx, store, ""); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := database.Get(ctx, store, ""); ok {
		t.Errorf("Expected empty key to be deleted")
	}
}

func testPutGet(t *testing.T, database bulk.Database) {
	ctx := context.Background()

	if _, ok, err := database.Get(ctx, store, "missing"); ok || err != nil {
		t.Errorf("Expected miss without error, got ok=%v err=%v", ok, err)
	}

	record := []byte(`{"key":"a","value":1,"timestamp":1}`)
	if err := database.Put(ctx, store, "a", record); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	v, ok, err := database.Get(ctx, store, "a")
	if err != nil || !ok || !bytes.Equal(v, record) {
		t.Fatalf("Expected %s, got %s ok=%v err=%v", record, v, ok, err)
	}

	replaced := []byte(`{"key":"a","value":2,"timestamp":2}`)
	_ = database.Put(ctx, store, "a", replaced)
	if v, _, _ := database.Get(ctx, store, "a"); !bytes.Equal(v, replaced) {
		t.Errorf("Expected overwrite to replace the record, got %s", v)
	}

	large := bytes.Repeat([]byte("x"), 6*1024*1024)
	if err := database.Put(ctx, store, "large", large); err != nil {
		t.Fatalf("Put of a large record failed: %v", err)
	}
	if v, _, _ := database.Get(ctx, store, "large"); len(v) != len(large) {
		t.Errorf("Expected %d bytes, got %d", len(large), len(v))
	}
}

func testKeys(t *testing.T, database bulk.Database) {
	ctx := context.Background()

	if keys, err := database.Keys(ctx, store); err != nil || len(keys) != 0 {
		t.Fatalf("Expected no keys, got %v (%v)", keys, err)
	}

	for _, k := range []string{"c", "a", "b"} {
		_ = database.Put(ctx, store, k, []byte(k))
	}

	keys, err := database.Keys(ctx, store)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if fmt.Sprint(keys) != "[a b c]" {
		t.Errorf("Expected [a b c], got %v", keys)
	}
}

func testDeleteClear(t *testing.T, database bulk.Database) {
	ctx := context.Background()

	_ = database.Put(ctx, store, "a", []byte("1"))
	_ = database.Put(ctx, store, "b", []byte("2"))

	if err := database.Delete(ctx, store, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := database.Get(ctx, store, "a"); ok {
		t.Errorf("Expected key to be gone after Delete")
	}
	if err := database.Delete(ctx, store, "a"); err != nil {
		t.Errorf("Deleting a missing key should not fail, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := database.Clear(ctx, store); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		if keys, _ := database.Keys(ctx, store); len(keys) != 0 {
			t.Errorf("Expected no keys after Clear, got %v", keys)
		}
		if ok, _ := database.HasStore(ctx, store); !ok {
			t.Errorf("Clear must keep the store")
		}
	}

	if err := database.Put(ctx, store, "c", []byte("3")); err != nil {
		t.Errorf("Put after Clear failed: %v", err)
	}
}

func testMissingStore(t *testing.T, database bulk.Database) {
	ctx := context.Background()

	if _, _, err := database.Get(ctx, "absent", "a"); !errors.Is(err, bulk.ErrNoStore) {
		t.Errorf("Expected ErrNoStore from Get, got %v", err)
	}
	if err := database.Put(ctx, "absent", "a", []byte("1")); !errors.Is(err, bulk.ErrNoStore) {
		t.Errorf("Expected ErrNoStore from Put, got %v", err)
	}
	if _, err := database.Keys(ctx, "absent"); !errors.Is(err, bulk.ErrNoStore) {
		t.Errorf("Expected ErrNoStore from Keys, got %v", err)
	}
}

func testReopen(t *testing.T, driver bulk.Driver) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen."+driver.Name())

	database, err := driver.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = database.Upgrade(ctx, 3, []string{store})
	_ = database.Put(ctx, store, "theme", []byte("dark"))
	if err := database.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := driver.Open(ctx, path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	if version, _ := reopened.Version(ctx); version != 3 {
		t.Errorf("Expected version 3 after reopen, got %d", version)
	}
	if v, ok, _ := reopened.Get(ctx, store, "theme"); !ok || string(v) != "dark" {
		t.Errorf("Expected record to survive reopen, got %q %v", v, ok)
	}
}

func testConcurrency(t *testing.T, database bulk.Database) {
	ctx := context.Background()

	const writers = 4
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("w%d-%03d", w, i)
				if err := database.Put(ctx, store, key, []byte(key)); err != nil {
					t.Errorf("Put %s failed: %v", key, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	keys, err := database.Keys(ctx, store)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != writers*perWriter {
		t.Errorf("Expected %d keys, got %d", writers*perWriter, len(keys))
	}
}
