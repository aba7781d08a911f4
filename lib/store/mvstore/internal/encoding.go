// Package internal holds the persisted layout of the multi-version store:
// row types, key builders and the binary codecs for records, commits and
// slices.
//
// Key layout (one byte namespace prefix):
//
//	d | hashKey(32) | version(8)      -> Record
//	v | version(8)  | hashKey(32)     -> empty (rows written at a version)
//	k | userKey     | version(8)      -> empty (ADD rows by literal key)
//	c | commitID                      -> Commit
//	h                                 -> header commit id
//	s | sliceHash(32)                 -> Slice
//	m | name                          -> uint64 meta value
//
// All integers are big endian so that engine ordering equals numeric order.
package internal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// HashLen is the length of a hash key and of a slice hash (SHA-256)
const HashLen = 32

// Hash is a SHA-256 digest
type Hash [HashLen]byte

// ClearHashKey is the hash key of clear rows. No SHA-256 digest of a user
// key is expected to collide with it.
var ClearHashKey = func() Hash {
	var h Hash
	for i := range h {
		h[i] = 0xff
	}
	return h
}()

// ClearKey is the literal key stored in clear rows
var ClearKey = []byte("clear")

const (
	prefixData    = 'd'
	prefixVersion = 'v'
	prefixKey     = 'k'
	prefixCommit  = 'c'
	prefixHeader  = 'h'
	prefixSlice   = 's'
	prefixMeta    = 'm'
	prefixPending = 'p'
)

// ErrMalformed is returned by the decoders for truncated or invalid input
var ErrMalformed = errors.New("malformed row")

// --------------------------------------------------------------------------
// Row types
// --------------------------------------------------------------------------

// OperFlag is the operation of a record plus the local bit
type OperFlag uint8

const (
	FlagAdd   OperFlag = 0x01
	FlagDel   OperFlag = 0x02
	FlagClear OperFlag = 0x03
	FlagLocal OperFlag = 0x08

	kindMask OperFlag = 0x07
)

// Kind returns the operation without the local bit
func (f OperFlag) Kind() OperFlag { return f & kindMask }

// IsLocal reports whether the row is visible to reads
func (f OperFlag) IsLocal() bool { return f&FlagLocal != 0 }

func (f OperFlag) String() string {
	var s string
	switch f.Kind() {
	case FlagAdd:
		s = "ADD"
	case FlagDel:
		s = "DEL"
	case FlagClear:
		s = "CLEAR"
	default:
		s = fmt.Sprintf("0x%02x", uint8(f.Kind()))
	}
	if f.IsLocal() {
		s += "|LOCAL"
	}
	return s
}

// ValueObject is either the raw value or the list of slices it was split into
type ValueObject struct {
	Sliced bool
	Data   []byte // raw value, only if !Sliced
	Hashes []Hash // slice hashes in value order, only if Sliced
	Length uint64 // total value length
}

// Record is one row of the data log
type Record struct {
	Key           []byte
	HashKey       Hash
	Value         ValueObject
	Flag          OperFlag
	Version       uint64
	Timestamp     uint64
	OrigTimestamp uint64
	Seq           uint64
}

// Newer reports whether r sorts after o in (timestamp, seq) order
func (r *Record) Newer(o *Record) bool {
	if r.Timestamp != o.Timestamp {
		return r.Timestamp > o.Timestamp
	}
	return r.Seq > o.Seq
}

// Commit is one node of the commit DAG
type Commit struct {
	ID        []byte `json:"id"`
	Left      []byte `json:"left,omitempty"`
	Right     []byte `json:"right,omitempty"`
	Version   uint64 `json:"version"`
	Timestamp uint64 `json:"timestamp"`
	Local     bool   `json:"local"`
	Device    string `json:"device"`
}

// Slice is one content addressed block
type Slice struct {
	RefCount   uint64
	Compressed bool
	Data       []byte
}

// --------------------------------------------------------------------------
// Keys
// --------------------------------------------------------------------------

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// DataPrefix returns the prefix of all rows of hashKey
func DataPrefix(h Hash) []byte {
	return append([]byte{prefixData}, h[:]...)
}

// DataKey returns the key of the row of hashKey written at version
func DataKey(h Hash, version uint64) []byte {
	return append(DataPrefix(h), u64(version)...)
}

// AllDataPrefix returns the prefix of every data row
func AllDataPrefix() []byte { return []byte{prefixData} }

// ParseDataKey splits a data row key
func ParseDataKey(k []byte) (h Hash, version uint64, err error) {
	if len(k) != 1+HashLen+8 || k[0] != prefixData {
		return h, 0, fmt.Errorf("%w: data key of length %d", ErrMalformed, len(k))
	}
	copy(h[:], k[1:1+HashLen])
	return h, binary.BigEndian.Uint64(k[1+HashLen:]), nil
}

// VersionPrefix returns the prefix of the version index of version
func VersionPrefix(version uint64) []byte {
	return append([]byte{prefixVersion}, u64(version)...)
}

// VersionKey returns the version index key of a row
func VersionKey(version uint64, h Hash) []byte {
	return append(VersionPrefix(version), h[:]...)
}

// ParseVersionKey returns the hash key of a version index key
func ParseVersionKey(k []byte) (Hash, error) {
	var h Hash
	if len(k) != 1+8+HashLen || k[0] != prefixVersion {
		return h, fmt.Errorf("%w: version key of length %d", ErrMalformed, len(k))
	}
	copy(h[:], k[9:])
	return h, nil
}

// KeyIndexPrefix returns the prefix of literal key index entries whose user
// key starts with keyPrefix
func KeyIndexPrefix(keyPrefix []byte) []byte {
	return append([]byte{prefixKey}, keyPrefix...)
}

// KeyIndexKey returns the literal key index entry of an ADD row
func KeyIndexKey(userKey []byte, version uint64) []byte {
	return append(KeyIndexPrefix(userKey), u64(version)...)
}

// ParseKeyIndexKey splits a literal key index entry
func ParseKeyIndexKey(k []byte) (userKey []byte, version uint64, err error) {
	if len(k) < 1+8 || k[0] != prefixKey {
		return nil, 0, fmt.Errorf("%w: key index entry of length %d", ErrMalformed, len(k))
	}
	return k[1 : len(k)-8], binary.BigEndian.Uint64(k[len(k)-8:]), nil
}

// CommitKey returns the key of a commit node
func CommitKey(id []byte) []byte {
	return append([]byte{prefixCommit}, id...)
}

// CommitPrefix returns the prefix of all commit nodes
func CommitPrefix() []byte { return []byte{prefixCommit} }

// HeaderKey returns the key holding the header commit id
func HeaderKey() []byte { return []byte{prefixHeader} }

// PendingKey marks a foreign commit that no merge has covered yet
func PendingKey(id []byte) []byte {
	return append([]byte{prefixPending}, id...)
}

// PendingPrefix returns the prefix of all pending markers
func PendingPrefix() []byte { return []byte{prefixPending} }

// SliceKey returns the key of a slice
func SliceKey(h Hash) []byte {
	return append([]byte{prefixSlice}, h[:]...)
}

// SlicePrefix returns the prefix of all slices
func SlicePrefix() []byte { return []byte{prefixSlice} }

// MetaKey returns the key of a meta value
func MetaKey(name string) []byte {
	return append([]byte{prefixMeta}, name...)
}

// EncodeU64 encodes a meta value
func EncodeU64(v uint64) []byte { return u64(v) }

// DecodeU64 decodes a meta value
func DecodeU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: meta value of length %d", ErrMalformed, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// --------------------------------------------------------------------------
// Codec helpers
// --------------------------------------------------------------------------

type writer struct{ bytes.Buffer }

func (w *writer) u8(v uint8) { w.WriteByte(v) }

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func (w *writer) u64(v uint64) { w.Write(u64(v)) }

func (w *writer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.Write(b)
}

type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.pos, len(r.data))
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) bytes() []byte {
	n := int(r.u32())
	if !r.need(n) {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.data[r.pos:r.pos+n])
	r.pos += n
	return v
}

func (r *reader) hash() Hash {
	var h Hash
	if r.need(HashLen) {
		copy(h[:], r.data[r.pos:r.pos+HashLen])
		r.pos += HashLen
	}
	return h
}

func (r *reader) done() error {
	if r.err == nil && r.pos != len(r.data) {
		r.err = fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.data)-r.pos)
	}
	return r.err
}

// --------------------------------------------------------------------------
// Record codec
// --------------------------------------------------------------------------

const (
	valueRaw    uint8 = 0
	valueSliced uint8 = 1
)

// EncodeRecord serializes a record
func EncodeRecord(rec *Record) []byte {
	var w writer
	w.u8(uint8(rec.Flag))
	w.u64(rec.Version)
	w.u64(rec.Timestamp)
	w.u64(rec.OrigTimestamp)
	w.u64(rec.Seq)
	w.bytes(rec.Key)
	w.Write(rec.HashKey[:])
	if rec.Value.Sliced {
		w.u8(valueSliced)
		w.u64(rec.Value.Length)
		w.u32(uint32(len(rec.Value.Hashes)))
		for _, h := range rec.Value.Hashes {
			w.Write(h[:])
		}
	} else {
		w.u8(valueRaw)
		w.bytes(rec.Value.Data)
	}
	return w.Bytes()
}

// DecodeRecord parses a record written by EncodeRecord
func DecodeRecord(data []byte) (*Record, error) {
	r := &reader{data: data}
	rec := &Record{}
	rec.Flag = OperFlag(r.u8())
	rec.Version = r.u64()
	rec.Timestamp = r.u64()
	rec.OrigTimestamp = r.u64()
	rec.Seq = r.u64()
	rec.Key = r.bytes()
	rec.HashKey = r.hash()
	switch r.u8() {
	case valueRaw:
		rec.Value.Data = r.bytes()
		rec.Value.Length = uint64(len(rec.Value.Data))
	case valueSliced:
		rec.Value.Sliced = true
		rec.Value.Length = r.u64()
		n := int(r.u32())
		if n > len(data)/HashLen {
			return nil, fmt.Errorf("%w: %d slice hashes in %d bytes", ErrMalformed, n, len(data))
		}
		rec.Value.Hashes = make([]Hash, n)
		for i := range rec.Value.Hashes {
			rec.Value.Hashes[i] = r.hash()
		}
	default:
		if r.err == nil {
			return nil, fmt.Errorf("%w: unknown value type", ErrMalformed)
		}
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return rec, nil
}

// --------------------------------------------------------------------------
// Commit codec
// --------------------------------------------------------------------------

const commitLocal uint8 = 1 << 0

// EncodeCommit serializes a commit node
func EncodeCommit(c *Commit) []byte {
	var w writer
	var flags uint8
	if c.Local {
		flags |= commitLocal
	}
	w.u8(flags)
	w.u64(c.Version)
	w.u64(c.Timestamp)
	w.bytes(c.ID)
	w.bytes(c.Left)
	w.bytes(c.Right)
	w.bytes([]byte(c.Device))
	return w.Bytes()
}

// DecodeCommit parses a commit node written by EncodeCommit
func DecodeCommit(data []byte) (*Commit, error) {
	r := &reader{data: data}
	c := &Commit{}
	c.Local = r.u8()&commitLocal != 0
	c.Version = r.u64()
	c.Timestamp = r.u64()
	c.ID = r.bytes()
	c.Left = nilIfEmpty(r.bytes())
	c.Right = nilIfEmpty(r.bytes())
	c.Device = string(r.bytes())
	if err := r.done(); err != nil {
		return nil, err
	}
	return c, nil
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// --------------------------------------------------------------------------
// Slice codec
// --------------------------------------------------------------------------

// EncodeSlice serializes a slice row
func EncodeSlice(s *Slice) []byte {
	out := make([]byte, 9+len(s.Data))
	binary.BigEndian.PutUint64(out, s.RefCount)
	if s.Compressed {
		out[8] = 1
	}
	copy(out[9:], s.Data)
	return out
}

// DecodeSlice parses a slice row
func DecodeSlice(data []byte) (*Slice, error) {
	if len(data) < 9 {
		return nil, fmt.Errorf("%w: slice row of length %d", ErrMalformed, len(data))
	}
	return &Slice{
		RefCount:   binary.BigEndian.Uint64(data),
		Compressed: data[8] == 1,
		Data:       append([]byte(nil), data[9:]...),
	}, nil
}
