package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/mvkv/lib/db"
)

// DBFactory is a function that creates a new instance of a KVEngine implementation
type DBFactory func() db.KVEngine

// RunKVEngineTests runs a comprehensive test suite for a KVEngine implementation.
func RunKVEngineTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("ReadYourWrites", func(t *testing.T) {
			testReadYourWrites(t, factory())
		})

		t.Run("Rollback", func(t *testing.T) {
			testRollback(t, factory())
		})

		t.Run("PrefixScan", func(t *testing.T) {
			testPrefixScan(t, factory())
		})

		t.Run("ScanStop", func(t *testing.T) {
			testScanStop(t, factory())
		})

		t.Run("ReadOnly", func(t *testing.T) {
			testReadOnly(t, factory())
		})

		t.Run("TxnDone", func(t *testing.T) {
			testTxnDone(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("ConcurrentCommits", func(t *testing.T) {
			testConcurrentCommits(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the engine supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, engine db.KVEngine, feature db.Feature) {
	if !engine.SupportsFeature(feature) {
		t.Skip()
	}
}

// update runs fn in a write transaction and commits it
func update(t testing.TB, engine db.KVEngine, fn func(txn db.Txn) error) {
	t.Helper()
	txn, err := engine.Begin(true)
	if err != nil {
		t.Fatalf("Begin(write) failed: %v", err)
	}
	if err := fn(txn); err != nil {
		txn.Rollback()
		t.Fatalf("write transaction failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

// get reads key in a fresh read transaction
func get(t testing.TB, engine db.KVEngine, key string) ([]byte, bool) {
	t.Helper()
	txn, err := engine.Begin(false)
	if err != nil {
		t.Fatalf("Begin(read) failed: %v", err)
	}
	defer txn.Rollback()

	value, err := txn.Get([]byte(key))
	if errors.Is(err, db.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", key, err)
	}
	return value, true
}

// scan collects all keys with the given prefix
func scan(t testing.TB, engine db.KVEngine, prefix string) []string {
	t.Helper()
	txn, err := engine.Begin(false)
	if err != nil {
		t.Fatalf("Begin(read) failed: %v", err)
	}
	defer txn.Rollback()

	var keys []string
	err = txn.Scan([]byte(prefix), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	if err != nil {
		t.Fatalf("Scan(%s) failed: %v", prefix, err)
	}
	return keys
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	update(t, engine, func(txn db.Txn) error {
		return txn.Set([]byte(testKey), testValue1)
	})

	result, exists := get(t, engine, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	update(t, engine, func(txn db.Txn) error {
		return txn.Set([]byte(testKey), testValue2)
	})

	result, exists = get(t, engine, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	if _, exists = get(t, engine, "nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return ErrNotFound")
	}

	retrievedValue, _ := get(t, engine, testKey)
	retrievedValue[0] = 'X'

	originalValue, _ := get(t, engine, testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}
}

func testDelete(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	update(t, engine, func(txn db.Txn) error {
		return txn.Set([]byte("delete-key"), []byte("value"))
	})
	update(t, engine, func(txn db.Txn) error {
		return txn.Delete([]byte("delete-key"))
	})

	if _, exists := get(t, engine, "delete-key"); exists {
		t.Errorf("Expected key to not exist after Delete")
	}

	// deleting a missing key is not an error
	update(t, engine, func(txn db.Txn) error {
		return txn.Delete([]byte("never-existed"))
	})
}

func testReadYourWrites(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	update(t, engine, func(txn db.Txn) error {
		return txn.Set([]byte("p/committed"), []byte("c"))
	})

	txn, err := engine.Begin(true)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer txn.Rollback()

	if err := txn.Set([]byte("p/pending"), []byte("p")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := txn.Delete([]byte("p/committed")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	value, err := txn.Get([]byte("p/pending"))
	if err != nil || !bytes.Equal(value, []byte("p")) {
		t.Errorf("Expected own pending write to be visible, got %s (%v)", value, err)
	}
	if _, err := txn.Get([]byte("p/committed")); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected own delete to be visible, got %v", err)
	}

	var keys []string
	err = txn.Scan([]byte("p/"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "p/pending" {
		t.Errorf("Expected scan to see [p/pending], got %v", keys)
	}

	// other transactions must not see uncommitted writes
	if _, exists := get(t, engine, "p/pending"); exists {
		t.Errorf("Uncommitted write visible to other transaction")
	}
}

func testRollback(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	txn, err := engine.Begin(true)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	_ = txn.Set([]byte("rolled-back"), []byte("value"))
	txn.Rollback()

	if _, exists := get(t, engine, "rolled-back"); exists {
		t.Errorf("Expected rolled back write to be discarded")
	}

	// rollback after commit is a no-op
	txn, _ = engine.Begin(true)
	_ = txn.Set([]byte("kept"), []byte("value"))
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	txn.Rollback()

	if _, exists := get(t, engine, "kept"); !exists {
		t.Errorf("Rollback after Commit must not discard data")
	}
}

func testPrefixScan(t *testing.T, engine db.KVEngine) {
	defer engine.Close()
	requireFeature(t, engine, db.FeaturePrefixScan)

	update(t, engine, func(txn db.Txn) error {
		for _, k := range []string{"b/2", "a/1", "b/1", "b/3", "c/1", "b"} {
			if err := txn.Set([]byte(k), []byte("v-"+k)); err != nil {
				return err
			}
		}
		return nil
	})

	keys := scan(t, engine, "b/")
	expected := []string{"b/1", "b/2", "b/3"}
	if fmt.Sprint(keys) != fmt.Sprint(expected) {
		t.Errorf("Expected %v, got %v", expected, keys)
	}

	if keys := scan(t, engine, "x/"); len(keys) != 0 {
		t.Errorf("Expected empty scan, got %v", keys)
	}

	if keys := scan(t, engine, ""); len(keys) != 6 {
		t.Errorf("Expected 6 keys for empty prefix, got %v", keys)
	}

	// binary keys with 0xff bytes
	update(t, engine, func(txn db.Txn) error {
		if err := txn.Set([]byte{0xff, 0xff, 0x01}, []byte("x")); err != nil {
			return err
		}
		return txn.Set([]byte{0xff, 0xff}, []byte("y"))
	})
	if keys := scan(t, engine, string([]byte{0xff, 0xff})); len(keys) != 2 {
		t.Errorf("Expected 2 keys with 0xff prefix, got %d", len(keys))
	}
}

func testScanStop(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	update(t, engine, func(txn db.Txn) error {
		for i := 0; i < 10; i++ {
			if err := txn.Set([]byte(fmt.Sprintf("s/%02d", i)), []byte("v")); err != nil {
				return err
			}
		}
		return nil
	})

	txn, _ := engine.Begin(false)
	defer txn.Rollback()

	count := 0
	_ = txn.Scan([]byte("s/"), func(_, _ []byte) bool {
		count++
		return count < 3
	})
	if count != 3 {
		t.Errorf("Expected scan to stop after 3 keys, got %d", count)
	}
}

func testReadOnly(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	txn, err := engine.Begin(false)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer txn.Rollback()

	if err := txn.Set([]byte("k"), []byte("v")); err == nil {
		t.Errorf("Expected Set on read transaction to fail")
	}
	if err := txn.Delete([]byte("k")); err == nil {
		t.Errorf("Expected Delete on read transaction to fail")
	}
}

func testTxnDone(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	txn, _ := engine.Begin(true)
	_ = txn.Set([]byte("k"), []byte("v"))
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := txn.Set([]byte("k2"), []byte("v")); err == nil {
		t.Errorf("Expected Set on committed transaction to fail")
	}
}

func testEdgeCases(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	// empty value
	update(t, engine, func(txn db.Txn) error {
		return txn.Set([]byte("empty-value"), []byte{})
	})
	value, exists := get(t, engine, "empty-value")
	if !exists || len(value) != 0 {
		t.Errorf("Expected empty value to be stored, got %v (%v)", value, exists)
	}

	// large value: stored as is, or rejected with ErrTooBig
	large := bytes.Repeat([]byte("x"), 1<<20)
	txn, err := engine.Begin(true)
	if err != nil {
		t.Fatalf("Begin(write) failed: %v", err)
	}
	switch err := txn.Set([]byte("large"), large); {
	case errors.Is(err, db.ErrTooBig):
		txn.Rollback()
		if _, exists := get(t, engine, "large"); exists {
			t.Errorf("Rejected large value must not be stored")
		}
	case err != nil:
		txn.Rollback()
		t.Fatalf("Set(large) failed: %v", err)
	default:
		if err := txn.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		value, _ = get(t, engine, "large")
		if !bytes.Equal(value, large) {
			t.Errorf("Large value mismatch")
		}
	}

	// many writes in one transaction
	update(t, engine, func(txn db.Txn) error {
		for i := 0; i < 1000; i++ {
			if err := txn.Set([]byte(fmt.Sprintf("many/%04d", i)), []byte{byte(i)}); err != nil {
				return err
			}
		}
		return nil
	})
	if keys := scan(t, engine, "many/"); len(keys) != 1000 {
		t.Errorf("Expected 1000 keys, got %d", len(keys))
	}
}

func testConcurrentCommits(t *testing.T, engine db.KVEngine) {
	defer engine.Close()

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				txn, err := engine.Begin(true)
				if err != nil {
					t.Errorf("Begin failed: %v", err)
					return
				}
				_ = txn.Set([]byte(fmt.Sprintf("w%d/%03d", w, i)), []byte("v"))
				if err := txn.Commit(); err != nil {
					t.Errorf("Commit failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		if keys := scan(t, engine, fmt.Sprintf("w%d/", w)); len(keys) != perWorker {
			t.Errorf("Worker %d: expected %d keys, got %d", w, perWorker, len(keys))
		}
	}
}
