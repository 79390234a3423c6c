package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/tkv/lib/db"
)

// DBFactory creates a new instance of a KVDB implementation.
// quotaBytes limits the accounted size, 0 means unlimited.
type DBFactory func(quotaBytes int) db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory(0))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(0))
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory(0))
		})

		t.Run("Keys", func(t *testing.T) {
			testKeys(t, factory(0))
		})

		t.Run("Accounting", func(t *testing.T) {
			testAccounting(t, factory(0))
		})

		t.Run("Quota", func(t *testing.T) {
			testQuota(t, factory(64))
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory(0))
		})

		t.Run("Concurrency", func(t *testing.T) {
			testConcurrency(t, factory(0))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	if err := database.Set(testKey, testValue1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	result, exists := database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	if err := database.Set(testKey, testValue2); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	result, exists = database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after overwrite", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	if _, exists = database.Get("nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	// Get must return a copy
	retrievedValue, _ := database.Get(testKey)
	retrievedValue[0] = 'X'
	originalValue, _ := database.Get(testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	// Set must copy its input
	input := []byte("mutable")
	_ = database.Set("copy-key", input)
	input[0] = 'X'
	stored, _ := database.Get("copy-key")
	if string(stored) != "mutable" {
		t.Errorf("Set should copy the value, got %s", stored)
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	testKey := "delete-test-key"
	_ = database.Set(testKey, []byte("delete-test-value"))

	if _, exists := database.Get(testKey); !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}

	database.Delete(testKey)

	if _, exists := database.Get(testKey); exists {
		t.Errorf("Expected key %s to not exist after Delete", testKey)
	}

	// deleting a missing key is a no-op
	database.Delete("nonexistent-key")
	database.Delete(testKey)

	if database.Len() != 0 {
		t.Errorf("Expected empty database, got %d entries", database.Len())
	}
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureHas|db.FeatureDelete)

	if database.Has("has-key") {
		t.Errorf("Expected Has to return false for a missing key")
	}

	_ = database.Set("has-key", []byte{})
	if !database.Has("has-key") {
		t.Errorf("Expected Has to return true for a key with an empty value")
	}

	database.Delete("has-key")
	if database.Has("has-key") {
		t.Errorf("Expected Has to return false after Delete")
	}
}

func testKeys(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureKeys)

	for _, k := range []string{"app:theme", "app:locale", "app:", "other:theme", "application"} {
		_ = database.Set(k, []byte("v"))
	}

	keys := database.Keys("app:")
	sort.Strings(keys)
	expected := []string{"app:", "app:locale", "app:theme"}
	if fmt.Sprint(keys) != fmt.Sprint(expected) {
		t.Errorf("Expected keys %v, got %v", expected, keys)
	}

	if all := database.Keys(""); len(all) != 5 {
		t.Errorf("Expected 5 keys for empty prefix, got %d", len(all))
	}

	if none := database.Keys("missing:"); len(none) != 0 {
		t.Errorf("Expected no keys, got %v", none)
	}
}

func testAccounting(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureDelete)

	_ = database.Set("abc", []byte("12345")) // 8
	_ = database.Set("de", []byte("1"))      // 3
	if used := database.UsedBytes(); used != 11 {
		t.Errorf("Expected 11 used bytes, got %d", used)
	}

	_ = database.Set("abc", []byte("1")) // 4
	if used := database.UsedBytes(); used != 7 {
		t.Errorf("Expected 7 used bytes after shrinking, got %d", used)
	}

	database.Delete("de")
	if used := database.UsedBytes(); used != 4 {
		t.Errorf("Expected 4 used bytes after delete, got %d", used)
	}

	if database.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", database.Len())
	}
}

func testQuota(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureQuota)

	// quota is 64 bytes
	if err := database.Set("k1", bytes.Repeat([]byte("a"), 40)); err != nil {
		t.Fatalf("Expected write within quota to succeed, got %v", err)
	}

	err := database.Set("k2", bytes.Repeat([]byte("b"), 40))
	if !errors.Is(err, db.ErrQuotaExceeded) {
		t.Fatalf("Expected ErrQuotaExceeded, got %v", err)
	}
	if database.Has("k2") {
		t.Errorf("Rejected write must not create the key")
	}

	// overwriting with a larger value that does not fit keeps the old value
	err = database.Set("k1", bytes.Repeat([]byte("c"), 80))
	if !errors.Is(err, db.ErrQuotaExceeded) {
		t.Fatalf("Expected ErrQuotaExceeded on overwrite, got %v", err)
	}
	if v, _ := database.Get("k1"); !bytes.Equal(v, bytes.Repeat([]byte("a"), 40)) {
		t.Errorf("Rejected overwrite must keep the previous value")
	}

	// overwrites that fit reuse the budget of the old value
	if err := database.Set("k1", bytes.Repeat([]byte("d"), 60)); err != nil {
		t.Errorf("Expected overwrite within quota to succeed, got %v", err)
	}

	database.Delete("k1")
	if err := database.Set("k2", bytes.Repeat([]byte("b"), 40)); err != nil {
		t.Errorf("Expected write to succeed after freeing space, got %v", err)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory(0)
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	testData := map[string][]byte{
		"key1":      []byte("value1"),
		"key2":      []byte("value2"),
		"empty":     {},
		"binary":    {0x00, 0xff, 0x10},
		"unicode-ß": []byte("größe"),
	}
	for k, v := range testData {
		_ = database.Set(k, v)
	}

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Failed to save database: %v", err)
	}

	newDB := factory(0)
	defer newDB.Close()

	_ = newDB.Set("stale", []byte("replaced by load"))

	if err := newDB.Load(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Failed to load database: %v", err)
	}

	for k, expected := range testData {
		value, exists := newDB.Get(k)
		if !exists {
			t.Errorf("Key %s not found after loading", k)
			continue
		}
		if !bytes.Equal(value, expected) {
			t.Errorf("Value mismatch for key %s after loading: expected %v, got %v", k, expected, value)
		}
	}

	if newDB.Has("stale") {
		t.Errorf("Load should replace the previous content")
	}
	if newDB.UsedBytes() != database.UsedBytes() {
		t.Errorf("Expected %d used bytes after load, got %d", database.UsedBytes(), newDB.UsedBytes())
	}

	// garbage input must fail and keep the content
	if err := newDB.Load(bytes.NewReader([]byte("not a snapshot"))); err == nil {
		t.Errorf("Expected error when loading invalid data")
	}
	if !newDB.Has("key1") {
		t.Errorf("Failed load must keep the previous content")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	t.Run("EmptyKey", func(t *testing.T) {
		_ = database.Set("", []byte("empty key value"))
		if v, ok := database.Get(""); !ok || string(v) != "empty key value" {
			t.Errorf("Expected the empty key to be stored, got %q %v", v, ok)
		}
	})

	t.Run("NilValue", func(t *testing.T) {
		_ = database.Set("nil-value", nil)
		v, ok := database.Get("nil-value")
		if !ok {
			t.Errorf("Expected key with nil value to exist")
		}
		if len(v) != 0 {
			t.Errorf("Expected empty value, got %v", v)
		}
	})

	t.Run("LargeValue", func(t *testing.T) {
		large := bytes.Repeat([]byte{0x42}, 1024*1024)
		if err := database.Set("large", large); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if v, _ := database.Get("large"); !bytes.Equal(v, large) {
			t.Errorf("Large value mismatch")
		}
	})
}

func testConcurrency(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	const goroutines = 8
	const perGoroutine = 500

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				key := fmt.Sprintf("g%d-key-%d", g, i)
				_ = database.Set(key, []byte(key))
				if v, ok := database.Get(key); !ok || string(v) != key {
					t.Errorf("Expected to read own write for %s", key)
				}
				if i%2 == 1 {
					database.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	if n := database.Len(); n != goroutines*perGoroutine/2 {
		t.Errorf("Expected %d entries, got %d", goroutines*perGoroutine/2, n)
	}

	expectedBytes := 0
	for _, k := range database.Keys("") {
		expectedBytes += 2 * len(k)
	}
	if used := database.UsedBytes(); used != expectedBytes {
		t.Errorf("Expected %d used bytes, got %d", expectedBytes, used)
	}
}
