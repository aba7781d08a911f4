package mvstore

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ValentinKolb/mvkv/lib/db"
	"github.com/ValentinKolb/mvkv/lib/store"
	"github.com/ValentinKolb/mvkv/lib/store/mvstore/internal"
	"github.com/klauspost/compress/zstd"
)

// --------------------------------------------------------------------------
// SliceStore
// --------------------------------------------------------------------------

// sliceStore keeps content addressed, reference counted value blocks. All
// methods work on the caller's engine transaction, so refcount changes
// commit or roll back together with the rows that own them.
//
// Thread-safety: sliceStore has no mutable state besides the zstd coders,
// which are safe for concurrent EncodeAll/DecodeAll.
type sliceStore struct {
	threshold int
	blockSize int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

func newSliceStore(opts *Options) (*sliceStore, error) {
	s := &sliceStore{threshold: opts.SliceThreshold, blockSize: opts.BlockSize}
	if opts.CompressSlices {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		s.enc = enc
	}
	// the decoder is always available, a store may have been written with
	// compression enabled
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	s.dec = dec
	return s, nil
}

func (s *sliceStore) close() {
	if s.enc != nil {
		_ = s.enc.Close()
	}
	s.dec.Close()
}

// Store turns value into a value object. Values up to the threshold are kept
// inline; larger values are split into blocks and every distinct block is
// referenced once (created with refcount 1 or incremented). Hashes keeps
// one entry per block in value order.
func (s *sliceStore) Store(txn db.Txn, value []byte) (internal.ValueObject, error) {
	if len(value) <= s.threshold {
		return internal.ValueObject{Data: append([]byte{}, value...), Length: uint64(len(value))}, nil
	}

	obj := internal.ValueObject{Sliced: true, Length: uint64(len(value))}
	seen := make(map[internal.Hash]struct{})
	for off := 0; off < len(value); off += s.blockSize {
		end := min(off+s.blockSize, len(value))
		block := value[off:end]
		h := internal.Hash(sha256.Sum256(block))
		obj.Hashes = append(obj.Hashes, h)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		if err := s.addRef(txn, h, block); err != nil {
			return internal.ValueObject{}, err
		}
	}
	return obj, nil
}

// distinct returns the hashes of obj without repetitions, first occurrence
// first
func distinct(hashes []internal.Hash) []internal.Hash {
	seen := make(map[internal.Hash]struct{}, len(hashes))
	out := make([]internal.Hash, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// AddRefs increments the refcount of every distinct slice of obj. Used
// when an existing value object is referenced by a new row.
func (s *sliceStore) AddRefs(txn db.Txn, obj internal.ValueObject) error {
	for _, h := range distinct(obj.Hashes) {
		if err := s.addRef(txn, h, nil); err != nil {
			return err
		}
	}
	return nil
}

// addRef increments the refcount of h, creating the slice from block if it
// does not exist. An existing slice is never rewritten.
func (s *sliceStore) addRef(txn db.Txn, h internal.Hash, block []byte) error {
	sl, err := s.get(txn, h)
	switch {
	case err == nil:
		sl.RefCount++
	case errors.Is(err, db.ErrNotFound):
		if block == nil {
			return store.Errorf(store.RetCUnexpectedData, "slice %x referenced but missing", h[:8])
		}
		sl = &internal.Slice{RefCount: 1, Data: append([]byte{}, block...)}
		if s.enc != nil {
			sl.Data = s.enc.EncodeAll(block, nil)
			sl.Compressed = true
		}
	default:
		return err
	}
	return txn.Set(internal.SliceKey(h), internal.EncodeSlice(sl))
}

// Release decrements the refcount of every distinct slice of obj and deletes slices
// that are no longer referenced. A missing slice is logged and skipped, the
// refcount never drops below zero.
func (s *sliceStore) Release(txn db.Txn, obj internal.ValueObject) error {
	if !obj.Sliced {
		return nil
	}
	for _, h := range distinct(obj.Hashes) {
		sl, err := s.get(txn, h)
		if errors.Is(err, db.ErrNotFound) {
			log.Warningf("release of missing slice %x", h[:8])
			continue
		}
		if err != nil {
			return err
		}
		if sl.RefCount <= 1 {
			if err := txn.Delete(internal.SliceKey(h)); err != nil {
				return err
			}
			continue
		}
		sl.RefCount--
		if err := txn.Set(internal.SliceKey(h), internal.EncodeSlice(sl)); err != nil {
			return err
		}
	}
	return nil
}

// Load reassembles the value of obj
func (s *sliceStore) Load(txn db.Txn, obj internal.ValueObject) ([]byte, error) {
	if !obj.Sliced {
		return append([]byte{}, obj.Data...), nil
	}
	out := make([]byte, 0, obj.Length)
	for _, h := range obj.Hashes {
		sl, err := s.get(txn, h)
		if errors.Is(err, db.ErrNotFound) {
			return nil, store.Errorf(store.RetCUnexpectedData, "slice %x of value missing", h[:8])
		}
		if err != nil {
			return nil, err
		}
		data := sl.Data
		if sl.Compressed {
			if data, err = s.dec.DecodeAll(sl.Data, nil); err != nil {
				return nil, store.Errorf(store.RetCUnexpectedData, "decompress slice %x: %v", h[:8], err)
			}
		}
		out = append(out, data...)
	}
	if uint64(len(out)) != obj.Length {
		return nil, store.Errorf(store.RetCUnexpectedData, "value length %d, expected %d", len(out), obj.Length)
	}
	return out, nil
}

// RefCount returns the refcount of h, zero if the slice does not exist
func (s *sliceStore) RefCount(txn db.Txn, h internal.Hash) (uint64, error) {
	sl, err := s.get(txn, h)
	if errors.Is(err, db.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return sl.RefCount, nil
}

// Count returns the number of stored slices
func (s *sliceStore) Count(txn db.Txn) (int, error) {
	n := 0
	err := txn.Scan(internal.SlicePrefix(), func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

func (s *sliceStore) get(txn db.Txn, h internal.Hash) (*internal.Slice, error) {
	raw, err := txn.Get(internal.SliceKey(h))
	if err != nil {
		return nil, err
	}
	sl, err := internal.DecodeSlice(raw)
	if err != nil {
		return nil, store.Errorf(store.RetCUnexpectedData, "slice %x: %v", h[:8], err)
	}
	return sl, nil
}

// sameValue compares two value objects without loading slices
func sameValue(a, b internal.ValueObject) bool {
	if a.Sliced != b.Sliced || a.Length != b.Length {
		return false
	}
	if !a.Sliced {
		return bytes.Equal(a.Data, b.Data)
	}
	if len(a.Hashes) != len(b.Hashes) {
		return false
	}
	for i := range a.Hashes {
		if a.Hashes[i] != b.Hashes[i] {
			return false
		}
	}
	return true
}
