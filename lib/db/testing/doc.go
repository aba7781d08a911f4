// Package testing is the conformance suite for db.KVEngine implementations.
// Every engine runs the same tests, so the stores above can rely on one
// contract regardless of the engine they are opened on.
//
// The suite covers point reads and writes, read-your-writes inside a
// transaction, rollback, ordered prefix scans (including early stop),
// read-only and finished transactions, empty and large values, and
// concurrent commits. Tests that need an optional feature are skipped when
// the engine does not report it.
//
// Example usage:
//
//	func TestMyEngine(t *testing.T) {
//		dbtesting.RunKVEngineTests(t, "my-engine", func() db.KVEngine {
//			return NewMyEngine()
//		})
//	}
//
//	func BenchmarkMyEngine(b *testing.B) {
//		dbtesting.RunKVEngineBenchmarks(b, "my-engine", func() db.KVEngine {
//			return NewMyEngine()
//		})
//	}
package testing
