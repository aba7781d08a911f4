package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/mvkv/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey     byte = 1 << 0
	hasValue   byte = 1 << 1
	hasOk      byte = 1 << 2
	hasErr     byte = 1 << 3
	hasEntries byte = 1 << 4
	hasCommits byte = 1 << 5
	hasMeta    byte = 1 << 6
)

// Per element flags of entries and commits
const (
	entryHasValue byte = 1 << 0
	commitLocal   byte = 1 << 0
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

/*
Layout (all integers big endian):

	[MsgType u8][flags u8]
	[key]       u32 length + bytes          if hasKey
	[value]     u32 length + bytes          if hasValue
	[ok]        u8                          if hasOk
	[err]       u8 code + u32 length + text if hasErr
	[entries]   u32 count + entries         if hasEntries
	[commits]   u32 count + commits         if hasCommits
	[meta]      u32 length + bytes          if hasMeta

An entry is [flags u8][key][value if entryHasValue][flag u8][ts u64][orig ts u64],
a commit is [flags u8][id][left][right][version u64][ts u64][device].
*/

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	w := &binWriter{buf: make([]byte, 2, b.sizeBytes(msg))}
	w.buf[0] = byte(msg.MsgType)

	var flags byte
	if msg.Key != "" {
		flags |= hasKey
		w.bytes([]byte(msg.Key))
	}
	if msg.Value != nil {
		flags |= hasValue
		w.bytes(msg.Value)
	}
	if msg.Ok {
		flags |= hasOk
		w.u8(1)
	}
	if msg.Err != "" || msg.Code != 0 {
		flags |= hasErr
		w.u8(msg.Code)
		w.bytes([]byte(msg.Err))
	}
	if msg.Entries != nil {
		flags |= hasEntries
		w.u32(uint32(len(msg.Entries)))
		for _, e := range msg.Entries {
			var ef byte
			if e.Value != nil {
				ef |= entryHasValue
			}
			w.u8(ef)
			w.bytes(e.Key)
			if e.Value != nil {
				w.bytes(e.Value)
			}
			w.u8(e.Flag)
			w.u64(e.Timestamp)
			w.u64(e.OrigTimestamp)
		}
	}
	if msg.Commits != nil {
		flags |= hasCommits
		w.u32(uint32(len(msg.Commits)))
		for _, c := range msg.Commits {
			var cf byte
			if c.Local {
				cf |= commitLocal
			}
			w.u8(cf)
			w.bytes(c.ID)
			w.bytes(c.Left)
			w.bytes(c.Right)
			w.u64(c.Version)
			w.u64(c.Timestamp)
			w.bytes([]byte(c.Device))
		}
	}
	if msg.Meta != nil {
		flags |= hasMeta
		w.bytes(msg.Meta)
	}

	// Set flags byte after knowing which fields are present
	w.buf[1] = flags
	return w.buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}
	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := data[1]
	r := &binReader{data: data, pos: 2}

	if flags&hasKey != 0 {
		msg.Key = string(r.bytes("key"))
	}
	if flags&hasValue != 0 {
		// present but empty stays a non nil slice
		msg.Value = r.bytes("value")
	}
	if flags&hasOk != 0 {
		msg.Ok = r.u8("ok flag") != 0
	}
	if flags&hasErr != 0 {
		msg.Code = r.u8("error code")
		msg.Err = string(r.bytes("error"))
	}
	if flags&hasEntries != 0 {
		n := r.count("entries", 1+4+1+8+8)
		msg.Entries = make([]common.Entry, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			var e common.Entry
			ef := r.u8("entry flags")
			e.Key = r.bytes("entry key")
			if ef&entryHasValue != 0 {
				e.Value = r.bytes("entry value")
			}
			e.Flag = r.u8("entry flag")
			e.Timestamp = r.u64("entry timestamp")
			e.OrigTimestamp = r.u64("entry original timestamp")
			msg.Entries = append(msg.Entries, e)
		}
	}
	if flags&hasCommits != 0 {
		n := r.count("commits", 1+4*4+8+8)
		msg.Commits = make([]common.CommitNode, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			var c common.CommitNode
			c.Local = r.u8("commit flags")&commitLocal != 0
			c.ID = r.bytes("commit id")
			c.Left = emptyToNil(r.bytes("commit left parent"))
			c.Right = emptyToNil(r.bytes("commit right parent"))
			c.Version = r.u64("commit version")
			c.Timestamp = r.u64("commit timestamp")
			c.Device = string(r.bytes("commit device"))
			msg.Commits = append(msg.Commits, c)
		}
	}
	if flags&hasMeta != 0 {
		msg.Meta = r.bytes("meta")
	}
	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2

	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Ok {
		size++
	}
	if msg.Err != "" || msg.Code != 0 {
		size += 1 + 4 + len(msg.Err)
	}
	if msg.Entries != nil {
		size += 4
		for _, e := range msg.Entries {
			size += 1 + 4 + len(e.Key) + 1 + 8 + 8
			if e.Value != nil {
				size += 4 + len(e.Value)
			}
		}
	}
	if msg.Commits != nil {
		size += 4
		for _, c := range msg.Commits {
			size += 1 + 4*4 + len(c.ID) + len(c.Left) + len(c.Right) + len(c.Device) + 8 + 8
		}
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}
	return size
}

func emptyToNil(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// binWriter appends to a buffer sized by sizeBytes
type binWriter struct {
	buf []byte
}

func (w *binWriter) u8(v byte) { w.buf = append(w.buf, v) }

func (w *binWriter) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *binWriter) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *binWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// binReader reads fields in order and keeps the first error
type binReader struct {
	data []byte
	pos  int
	err  error
}

func (r *binReader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return false
	}
	return true
}

func (r *binReader) u8(field string) byte {
	if !r.need(1, field) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *binReader) u32(field string) uint32 {
	if !r.need(4, field) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *binReader) u64(field string) uint64 {
	if !r.need(8, field) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// bytes reads a length prefixed field into a fresh slice
func (r *binReader) bytes(field string) []byte {
	n := int(r.u32(field + " length"))
	if !r.need(n, field+" data") {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+n])
	r.pos += n
	return out
}

// count reads an element count and rejects counts the remaining data
// cannot hold
func (r *binReader) count(field string, minElemSize int) int {
	n := int(r.u32(field + " count"))
	if r.err == nil && n > (len(r.data)-r.pos)/minElemSize {
		r.err = fmt.Errorf("data too short for %d %s", n, field)
		return 0
	}
	return n
}
