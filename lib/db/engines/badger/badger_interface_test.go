package badger

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/mvkv/lib/db"
	dbtesting "github.com/ValentinKolb/mvkv/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVEngineTests(t, "BadgerDB(in-memory)", func() db.KVEngine {
		engine, err := NewBadgerDB(InMemoryOptions())
		if err != nil {
			t.Fatalf("failed to open badger: %v", err)
		}
		return engine
	})
}

func TestOnDisk(t *testing.T) {
	dbtesting.RunKVEngineTests(t, "BadgerDB(disk)", func() db.KVEngine {
		opts := DefaultOptions(t.TempDir())
		opts.SyncWrites = false
		engine, err := NewBadgerDB(opts)
		if err != nil {
			t.Fatalf("failed to open badger: %v", err)
		}
		return engine
	})
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()

	engine, err := NewBadgerDB(DefaultOptions(dir))
	if err != nil {
		t.Fatalf("failed to open badger: %v", err)
	}
	txn, _ := engine.Begin(true)
	_ = txn.Set([]byte("persisted"), []byte("value"))
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	engine, err = NewBadgerDB(DefaultOptions(dir))
	if err != nil {
		t.Fatalf("failed to reopen badger: %v", err)
	}
	defer engine.Close()

	txn, _ = engine.Begin(false)
	defer txn.Rollback()
	value, err := txn.Get([]byte("persisted"))
	if err != nil || string(value) != "value" {
		t.Errorf("Expected persisted value after reopen, got %q (%v)", value, err)
	}
	if !engine.SupportsFeature(db.FeaturePersistent | db.FeatureSyncWrites) {
		t.Errorf("Expected on-disk engine to report persistence features")
	}
}

func TestInMemoryValueLimit(t *testing.T) {
	engine, err := NewBadgerDB(InMemoryOptions())
	if err != nil {
		t.Fatalf("failed to open badger: %v", err)
	}
	defer engine.Close()

	txn, _ := engine.Begin(true)
	if err := txn.Set([]byte("fits"), make([]byte, inMemoryValueLimit-1)); err != nil {
		t.Fatalf("Set below the limit failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	txn, _ = engine.Begin(true)
	defer txn.Rollback()
	if err := txn.Set([]byte("too-big"), make([]byte, inMemoryValueLimit)); !errors.Is(err, db.ErrTooBig) {
		t.Errorf("Expected ErrTooBig at the limit, got %v", err)
	}
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVEngineBenchmarks(b, "BadgerDB", func() db.KVEngine {
		engine, err := NewBadgerDB(InMemoryOptions())
		if err != nil {
			b.Fatalf("failed to open badger: %v", err)
		}
		return engine
	})
}
