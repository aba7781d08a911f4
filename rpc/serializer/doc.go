// Package serializer converts RPC messages to bytes and back. It defines a
// common interface and three implementations; ByName selects one from
// configuration.
//
// The package focuses on:
//   - Providing a consistent interface for different serialization formats
//   - Offering multiple implementations with different performance characteristics
//   - Supporting efficient encoding of the system's message structure
//   - Minimizing memory allocations and processing overhead
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format implementation optimized for speed
//     and space efficiency. Uses a flag-based approach to encode only present fields,
//     with length prefixed lists for entries and commit nodes. It keeps the
//     difference between nil and empty byte slices.
//
//   - gobSerializerImpl: Implementation using Go's built-in gob encoding, offering
//     good compatibility with Go's type system but with larger serialized sizes.
//
//   - jsonSerializerImpl: Implementation using JSON encoding, useful for debugging
//     or interoperability with other systems, but with lower performance.
//
// Performance Characteristics:
//
//   - Binary: the smallest payloads and the fewest allocations. Commit trees
//     and commit rows dominate sync traffic, so it is the default of the CLI.
//
//   - JSON: readable on the wire, useful with curl while debugging. Values
//     grow by a third through base64.
//
//   - GOB: the largest payloads since every message repeats its type
//     description. Kept for completeness.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	Serializers are typically created once and reused throughout the application:
//
//	  serializer := serializer.NewBinarySerializer()
//	  data, err := serializer.Serialize(message)
//	  // ... send data ...
//	  var receivedMsg common.Message
//	  err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer
