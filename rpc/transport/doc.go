// Package transport defines the interfaces for moving serialized RPC
// messages between client and server. Requests are routed by shard id; the
// transport never looks into the payload.
//
// Key Components:
//
//   - IRPCClientTransport: connection management and request sending.
//
//   - IRPCServerTransport: receives requests and hands them to the
//     registered ServerHandleFunc.
//
// The only implementation is package http.
package transport
