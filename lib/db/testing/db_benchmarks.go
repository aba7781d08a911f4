package testing

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/mvkv/lib/db"
)

// RunKVEngineBenchmarks runs all benchmarks for a key-value engine implementation
func RunKVEngineBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Set", func(b *testing.B) {
		benchmarkSet(b, factory())
	})

	b.Run("SetBatch", func(b *testing.B) {
		benchmarkSetBatch(b, factory())
	})

	b.Run("SetLargeValue", func(b *testing.B) {
		benchmarkSetLargeValue(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("PrefixScan", func(b *testing.B) {
		benchmarkPrefixScan(b, factory())
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for single key write transactions
func benchmarkSet(b *testing.B, engine db.KVEngine) {
	b.Cleanup(func() {
		_ = engine.Close()
	})

	var counter atomic.Uint64
	value := []byte("benchmark-value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := []byte(fmt.Sprintf("key-%d", counter.Add(1)))
			txn, err := engine.Begin(true)
			if err != nil {
				b.Error(err)
				return
			}
			_ = txn.Set(key, value)
			if err := txn.Commit(); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// Benchmark for transactions with 100 writes each
func benchmarkSetBatch(b *testing.B, engine db.KVEngine) {
	b.Cleanup(func() {
		_ = engine.Close()
	})

	value := []byte("benchmark-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		txn, err := engine.Begin(true)
		if err != nil {
			b.Fatal(err)
		}
		for j := 0; j < 100; j++ {
			_ = txn.Set([]byte(fmt.Sprintf("batch-%d-%d", i, j)), value)
		}
		if err := txn.Commit(); err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for writes of 64 KiB values (the default slice size)
func benchmarkSetLargeValue(b *testing.B, engine db.KVEngine) {
	b.Cleanup(func() {
		_ = engine.Close()
	})

	value := make([]byte, 64*1024)
	rand.Read(value)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		txn, err := engine.Begin(true)
		if err != nil {
			b.Fatal(err)
		}
		_ = txn.Set([]byte(fmt.Sprintf("large-%d", i%1000)), value)
		if err := txn.Commit(); err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for point reads
func benchmarkGet(b *testing.B, engine db.KVEngine) {
	b.Cleanup(func() {
		_ = engine.Close()
	})

	const numKeys = 10000
	txn, _ := engine.Begin(true)
	for i := 0; i < numKeys; i++ {
		_ = txn.Set([]byte(fmt.Sprintf("key-%d", i)), []byte("value"))
	}
	if err := txn.Commit(); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			txn, err := engine.Begin(false)
			if err != nil {
				b.Error(err)
				return
			}
			_, _ = txn.Get([]byte(fmt.Sprintf("key-%d", r.Intn(numKeys))))
			txn.Rollback()
		}
	})
}

// Benchmark for prefix scans over 100 keys
func benchmarkPrefixScan(b *testing.B, engine db.KVEngine) {
	b.Cleanup(func() {
		_ = engine.Close()
	})

	txn, _ := engine.Begin(true)
	for p := 0; p < 100; p++ {
		for i := 0; i < 100; i++ {
			_ = txn.Set([]byte(fmt.Sprintf("p%03d/%03d", p, i)), []byte("value"))
		}
	}
	if err := txn.Commit(); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		txn, _ := engine.Begin(false)
		_ = txn.Scan([]byte(fmt.Sprintf("p%03d/", i%100)), func(_, _ []byte) bool { return true })
		txn.Rollback()
	}
}

// Benchmark for a 80/20 read/write mix
func benchmarkMixedUsage(b *testing.B, engine db.KVEngine) {
	b.Cleanup(func() {
		_ = engine.Close()
	})

	const numKeys = 1000

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := []byte(fmt.Sprintf("key-%d", r.Intn(numKeys)))
			if r.Intn(100) < 20 {
				txn, err := engine.Begin(true)
				if err != nil {
					b.Error(err)
					return
				}
				_ = txn.Set(key, []byte("value"))
				// write conflicts are expected under contention for some engines
				_ = txn.Commit()
				continue
			}
			txn, err := engine.Begin(false)
			if err != nil {
				b.Error(err)
				return
			}
			_, _ = txn.Get(key)
			txn.Rollback()
		}
	})
}
