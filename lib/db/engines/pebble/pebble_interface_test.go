package pebble

import (
	"testing"

	"github.com/ValentinKolb/mvkv/lib/db"
	dbtesting "github.com/ValentinKolb/mvkv/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVEngineTests(t, "PebbleDB(in-memory)", func() db.KVEngine {
		engine, err := NewPebbleDB(InMemoryOptions())
		if err != nil {
			t.Fatalf("failed to open pebble: %v", err)
		}
		return engine
	})
}

func TestOnDisk(t *testing.T) {
	dbtesting.RunKVEngineTests(t, "PebbleDB(disk)", func() db.KVEngine {
		engine, err := NewPebbleDB(&DBOptions{Path: t.TempDir()})
		if err != nil {
			t.Fatalf("failed to open pebble: %v", err)
		}
		return engine
	})
}

func TestSnapshotIsolation(t *testing.T) {
	engine, err := NewPebbleDB(InMemoryOptions())
	if err != nil {
		t.Fatalf("failed to open pebble: %v", err)
	}
	defer engine.Close()

	if !engine.SupportsFeature(db.FeatureSnapshotRead) {
		t.Fatalf("Expected pebble to support snapshot reads")
	}

	reader, _ := engine.Begin(false)
	defer reader.Rollback()

	writer, _ := engine.Begin(true)
	_ = writer.Set([]byte("later"), []byte("v"))
	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if _, err := reader.Get([]byte("later")); err != db.ErrNotFound {
		t.Errorf("Expected snapshot to hide later commit, got %v", err)
	}
}

func TestClosed(t *testing.T) {
	engine, err := NewPebbleDB(InMemoryOptions())
	if err != nil {
		t.Fatalf("failed to open pebble: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := engine.Begin(true); err != db.ErrClosed {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVEngineBenchmarks(b, "PebbleDB", func() db.KVEngine {
		engine, err := NewPebbleDB(InMemoryOptions())
		if err != nil {
			b.Fatalf("failed to open pebble: %v", err)
		}
		return engine
	})
}
