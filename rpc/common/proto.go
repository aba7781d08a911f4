package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/mvkv/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key   string `json:"key,omitempty"`   // Used for: Put, Get, Has, Delete, Entries (prefix)
	Value []byte `json:"value,omitempty"` // Used for: Put (request), Get (response), SyncEntries (commit id)

	// Collections
	Entries []Entry      `json:"entries,omitempty"` // Used for: Entries, SyncEntries responses
	Commits []CommitNode `json:"commits,omitempty"` // Used for: SyncTree (request: known tips), SyncLatest and SyncTree responses

	// Response only fields
	Ok   bool   `json:"ok,omitempty"`   // Used for: Get, Has responses
	Code uint8  `json:"code,omitempty"` // store.RetCode of Err
	Err  string `json:"err,omitempty"`  // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Used for: Info response (json encoded db.DatabaseInfo)
}

// Entry is a key-value pair or a commit row on the wire. Flag and the
// timestamps are only set for commit rows.
type Entry struct {
	Key           []byte `json:"key"`
	Value         []byte `json:"value,omitempty"`
	Flag          uint8  `json:"flag,omitempty"`
	Timestamp     uint64 `json:"ts,omitempty"`
	OrigTimestamp uint64 `json:"orig_ts,omitempty"`
}

// CommitNode is a commit on the wire. As a SyncTree request it only carries
// Device and ID.
type CommitNode struct {
	ID        []byte `json:"id"`
	Left      []byte `json:"left,omitempty"`
	Right     []byte `json:"right,omitempty"`
	Version   uint64 `json:"version,omitempty"`
	Timestamp uint64 `json:"ts,omitempty"`
	Local     bool   `json:"local,omitempty"`
	Device    string `json:"device"`
}

// SetError stores err in the response. Store errors keep their code.
func (m *Message) SetError(err error) {
	if err == nil {
		return
	}
	var se *store.Error
	if errors.As(err, &se) {
		m.Code = uint8(se.Code)
		m.Err = se.Msg
		return
	}
	m.Code = uint8(store.RetCInternalError)
	m.Err = err.Error()
}

// AsError returns the error carried by a response, as a *store.Error
func (m *Message) AsError() error {
	if m.Err == "" && m.MsgType != MsgTError {
		return nil
	}
	code := store.RetCode(m.Code)
	if code == store.RetCSuccess {
		code = store.RetCInternalError
	}
	return store.NewError(code, m.Err)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewResponse creates a response of type t that only carries err
func NewResponse(t MessageType, err error) *Message {
	msg := &Message{MsgType: t}
	msg.SetError(err)
	return msg
}

// NewPutRequest creates a new Put request
func NewPutRequest(key string, value []byte) *Message {
	return &Message{
		MsgType: MsgTKVPut,
		Key:     key,
		Value:   value,
	}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVDelete,
		Key:     key,
	}
}

// NewClearRequest creates a new Clear request
func NewClearRequest() *Message {
	return &Message{MsgType: MsgTKVClear}
}

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVGet,
		Key:     key,
	}
}

// NewGetResponse creates a new Get response
func NewGetResponse(value []byte, ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVGet,
		Ok:      ok,
		Value:   value,
	}
	msg.SetError(err)
	return msg
}

// NewHasRequest creates a new Has request
func NewHasRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVHas,
		Key:     key,
	}
}

// NewHasResponse creates a new Has response
func NewHasResponse(ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVHas,
		Ok:      ok,
	}
	msg.SetError(err)
	return msg
}

// NewEntriesRequest creates a new Entries request for all keys with prefix
func NewEntriesRequest(prefix string) *Message {
	return &Message{
		MsgType: MsgTKVEntries,
		Key:     prefix,
	}
}

// NewEntriesResponse creates a new Entries response
func NewEntriesResponse(entries []store.Entry, err error) *Message {
	msg := &Message{MsgType: MsgTKVEntries}
	if err != nil {
		msg.SetError(err)
		return msg
	}
	msg.Entries = make([]Entry, len(entries))
	for i, e := range entries {
		msg.Entries[i] = Entry{Key: []byte(e.Key), Value: e.Value}
	}
	return msg
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{MsgType: MsgTKVInfo}
}

// NewInfoResponse creates a new Info response. info is sent as json.
func NewInfoResponse(info any, err error) *Message {
	msg := &Message{MsgType: MsgTKVInfo}
	if err != nil {
		msg.SetError(err)
		return msg
	}
	meta, err := json.Marshal(info)
	if err != nil {
		msg.SetError(fmt.Errorf("encode info: %w", err))
		return msg
	}
	msg.Meta = meta
	return msg
}

// NewSyncLatestRequest asks for the newest commit per device
func NewSyncLatestRequest() *Message {
	return &Message{MsgType: MsgTSyncLatest}
}

// NewSyncTreeRequest asks for the commits not covered by knownTips
func NewSyncTreeRequest(knownTips map[string][]byte) *Message {
	msg := &Message{MsgType: MsgTSyncTree}
	for device, id := range knownTips {
		msg.Commits = append(msg.Commits, CommitNode{ID: id, Device: device})
	}
	return msg
}

// NewSyncEntriesRequest asks for the rows of commit id
func NewSyncEntriesRequest(id []byte) *Message {
	return &Message{
		MsgType: MsgTSyncEntries,
		Value:   id,
	}
}

// NewCommitsResponse creates a SyncLatest or SyncTree response
func NewCommitsResponse(t MessageType, commits []CommitNode, err error) *Message {
	msg := &Message{MsgType: t, Commits: commits}
	msg.SetError(err)
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Code:    uint8(store.RetCInternalError),
		Err:     err,
	}
}

// KnownTips reads the known tips of a SyncTree request
func (m *Message) KnownTips() map[string][]byte {
	tips := make(map[string][]byte, len(m.Commits))
	for _, c := range m.Commits {
		tips[c.Device] = c.ID
	}
	return tips
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:     "success",
	MsgTError:       "error",
	MsgTKVPut:       "put",
	MsgTKVGet:       "get",
	MsgTKVHas:       "has",
	MsgTKVDelete:    "delete",
	MsgTKVClear:     "clear",
	MsgTKVEntries:   "entries",
	MsgTKVInfo:      "info",
	MsgTSyncLatest:  "syncLatest",
	MsgTSyncTree:    "syncTree",
	MsgTSyncEntries: "syncEntries",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for mt, name := range messageTypeNames {
		if name == s {
			*t = mt
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IStore operations

	MsgTKVPut     // Insert or update a key
	MsgTKVGet     // Get a value by key
	MsgTKVHas     // Check if a key exists
	MsgTKVDelete  // Delete a key
	MsgTKVClear   // Delete every key
	MsgTKVEntries // List all pairs below a prefix
	MsgTKVInfo    // Store and engine information

	// Sync operations (multi-version stores only)

	MsgTSyncLatest  // Newest commit per device
	MsgTSyncTree    // Commits the caller is missing
	MsgTSyncEntries // Rows of one commit
)
