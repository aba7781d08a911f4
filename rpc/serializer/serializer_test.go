package serializer

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/mvkv/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Put request
		{
			MsgType: common.MsgTKVPut,
			Key:     "test-key",
			Value:   []byte("test-value"),
		},

		// Get response
		{
			MsgType: common.MsgTKVGet,
			Value:   []byte("test-value"),
			Ok:      true,
		},

		// Error response
		{
			MsgType: common.MsgTError,
			Code:    6,
			Err:     "test error message",
		},

		// Entries response
		{
			MsgType: common.MsgTKVEntries,
			Entries: []common.Entry{
				{Key: []byte("a"), Value: []byte("1")},
				{Key: []byte("b"), Value: []byte("2")},
			},
		},

		// Commit rows
		{
			MsgType: common.MsgTSyncEntries,
			Entries: []common.Entry{
				{Key: []byte("a"), Value: []byte("1"), Flag: 1, Timestamp: 10, OrigTimestamp: 7},
				{Key: []byte("b"), Flag: 2, Timestamp: 11, OrigTimestamp: 11},
				{Key: []byte("clear"), Flag: 3, Timestamp: 12, OrigTimestamp: 12},
			},
		},

		// Commit tree
		{
			MsgType: common.MsgTSyncTree,
			Commits: []common.CommitNode{
				{ID: []byte("c1"), Version: 1, Timestamp: 100, Local: true, Device: "a"},
				{ID: []byte("c2"), Left: []byte("c1"), Version: 2, Timestamp: 200, Local: true, Device: "a"},
				{ID: []byte("m1"), Left: []byte("c2"), Right: []byte("x9"), Version: 5, Timestamp: 300, Device: "b"},
			},
		},

		// Info response
		{
			MsgType: common.MsgTKVInfo,
			Meta:    []byte(`{"db_type":"maple"}`),
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// Test each message type (don't test for MsgTUnknown since this should raise an error)
			for msgType := common.MsgTSuccess; msgType <= common.MsgTSyncEntries; msgType++ {
				msg := common.Message{MsgType: msgType}

				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				// Check type
				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	// Test cases for empty or zero values
	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Message with empty value slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTKVPut,
				Key:     "test",
				Value:   []byte{},
			},
		},
		{
			name: "Message with empty meta slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTKVInfo,
				Meta:    []byte{},
			},
		},
		{
			name: "Empty entry list but not nil",
			msg: common.Message{
				MsgType: common.MsgTKVEntries,
				Entries: []common.Entry{},
			},
		},
		{
			name: "Entry with empty value but not nil",
			msg: common.Message{
				MsgType: common.MsgTKVEntries,
				Entries: []common.Entry{{Key: []byte("k"), Value: []byte{}}},
			},
		},
		{
			name: "Error code without text",
			msg: common.Message{
				MsgType: common.MsgTKVGet,
				Code:    4,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result common.Message
			if err := serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			// reflect.DeepEqual tells nil and empty slices apart
			if !reflect.DeepEqual(tc.msg, result) {
				t.Errorf("Round trip mismatch:\nOriginal: %#v\nResult:   %#v", tc.msg, result)
			}
		})
	}
}

// TestBinaryDeserializeResetsMessage tests that fields of a reused message are cleared
func TestBinaryDeserializeResetsMessage(t *testing.T) {
	serializer := NewBinarySerializer()
	data, err := serializer.Serialize(common.Message{MsgType: common.MsgTSuccess})
	if err != nil {
		t.Fatal(err)
	}

	msg := common.Message{Key: "old", Value: []byte("old"), Ok: true, Err: "old"}
	if err := serializer.Deserialize(data, &msg); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(msg, common.Message{MsgType: common.MsgTSuccess}) {
		t.Errorf("stale fields after deserialize: %+v", msg)
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1}, // Only message type, no flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0}, // Message type 1, no flags
			expectError: false,
		},
		{
			name:        "Invalid length for key",
			data:        []byte{1, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims key length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid length for value",
			data:        []byte{1, 2, 0, 0, 0, 10}, // Claims value length 10 but no bytes provided
			expectError: true,
		},
		{
			name:        "Entry count larger than data",
			data:        []byte{1, 16, 0xFF, 0xFF, 0xFF, 0xFF},
			expectError: true,
		},
		{
			name:        "Truncated commit",
			data:        []byte{1, 32, 0, 0, 0, 1, 0, 0, 0, 0, 2, 'i'},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"binary", "JSON", "gob"} {
		if _, err := ByName(name); err != nil {
			t.Errorf("ByName(%q): %v", name, err)
		}
	}
	if _, err := ByName("xml"); err == nil {
		t.Error("expected an error for an unknown serializer")
	}
}
