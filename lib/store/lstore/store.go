package lstore

import (
	"errors"
	"sync/atomic"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lstore")

const (
	maxKeyLength   = 1024
	maxValueLength = 4 << 20
)

type storeImpl struct {
	db     db.KVEngine
	writes atomic.Uint64
	closed atomic.Bool
}

// NewLocalStore creates a single version store on the engine returned by
// factory. It keeps no history: every write replaces the previous value.
func NewLocalStore(factory store.DBFactory) (store.IStore, error) {
	engine, err := factory()
	if err != nil {
		return nil, store.FromEngine(err)
	}
	return &storeImpl{db: engine}, nil
}

// update runs fn in one engine write transaction
func (s *storeImpl) update(fn func(txn db.Txn) error) error {
	if s.closed.Load() {
		return store.NewError(store.RetCInternalError, "store is closed")
	}
	txn, err := s.db.Begin(true)
	if err != nil {
		return store.FromEngine(err)
	}
	if err := fn(txn); err != nil {
		txn.Rollback()
		return store.FromEngine(err)
	}
	if err := txn.Commit(); err != nil {
		return store.FromEngine(err)
	}
	s.writes.Add(1)
	return nil
}

// view runs fn in one engine read transaction
func (s *storeImpl) view(fn func(txn db.Txn) error) error {
	if s.closed.Load() {
		return store.NewError(store.RetCInternalError, "store is closed")
	}
	txn, err := s.db.Begin(false)
	if err != nil {
		return store.FromEngine(err)
	}
	defer txn.Rollback()
	return fn(txn)
}

func validateKey(key string) error {
	if len(key) == 0 || len(key) > maxKeyLength {
		return store.Errorf(store.RetCInvalidArgs, "key length %d out of range [1, %d]", len(key), maxKeyLength)
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Put(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if len(value) > maxValueLength {
		return store.Errorf(store.RetCInvalidArgs, "value length %d exceeds %d", len(value), maxValueLength)
	}
	return s.update(func(txn db.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *storeImpl) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.update(func(txn db.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
}

func (s *storeImpl) Clear() error {
	return s.update(func(txn db.Txn) error {
		var keys [][]byte
		if err := txn.Scan(nil, func(key, _ []byte) bool {
			keys = append(keys, key)
			return true
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		log.Debugf("cleared %d keys", len(keys))
		return nil
	})
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	var value []byte
	err := s.view(func(txn db.Txn) error {
		v, err := txn.Get([]byte(key))
		value = v
		return err
	})
	if errors.Is(err, db.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.FromEngine(err)
	}
	return value, true, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

func (s *storeImpl) Entries(prefix string) ([]store.Entry, error) {
	var entries []store.Entry
	err := s.view(func(txn db.Txn) error {
		return txn.Scan([]byte(prefix), func(key, value []byte) bool {
			entries = append(entries, store.Entry{Key: string(key), Value: value})
			return true
		})
	})
	if err != nil {
		return nil, store.FromEngine(err)
	}
	return entries, nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	info := s.db.GetInfo()
	info.Metadata = &struct {
		Kind   store.Kind `json:"kind"`
		Writes uint64     `json:"writes"`
		Engine any        `json:"engine"`
	}{
		Kind:   store.KindLocal,
		Writes: s.writes.Load(),
		Engine: info.Metadata,
	}
	return info, nil
}

func (s *storeImpl) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return store.FromEngine(s.db.Close())
}
