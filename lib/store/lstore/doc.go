// Package lstore implements the single version variant of store.IStore. It
// writes user keys directly into a db.KVEngine, one engine transaction per
// operation, and keeps no history, commits or slices.
//
// It exists next to the multi-version store (mvstore) for deployments that
// need a plain key-value namespace on the same engines and the same server
// and CLI surface. Deletes of missing keys report RetCNotFound and key and
// value sizes are validated the same way mvstore validates them, so callers
// can switch variants without changing their error handling.
//
// Usage Example:
//
//	s, err := lstore.NewLocalStore(func() (db.KVEngine, error) {
//	    return maple.NewMapleDB(nil), nil
//	})
//	err = s.Put("session:123", data)
//	value, ok, err := s.Get("session:123")
package lstore
