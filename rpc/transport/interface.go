package transport

import (
	"context"

	"github.com/ValentinKolb/mvkv/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc answers one serialized request addressed to shardId.
// It never fails; errors are encoded into the response.
type ServerHandleFunc func(shardId uint64, req []byte) (resp []byte)

// IRPCServerTransport accepts requests from the network and hands them to
// the registered handler
type IRPCServerTransport interface {
	// RegisterHandler sets the handler. It must be called before Listen.
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and blocks until Shutdown was called
	// or listening failed. It returns nil after a Shutdown.
	Listen(config common.ServerConfig) error
	// Shutdown stops accepting requests and waits for active ones
	Shutdown(ctx context.Context) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport delivers serialized requests to a server
type IRPCClientTransport interface {
	// Connect prepares the transport for the configured endpoints
	Connect(config common.ClientConfig) error
	// Send delivers req to shardId and returns the serialized response.
	// ctx bounds all retries.
	Send(ctx context.Context, shardId uint64, req []byte) (resp []byte, err error)
	// Close releases idle connections
	Close() error
}
