package transport

import (
	"github.com/qkv-io/qkv/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the sender's ring epoch and a request as parameters and returns a response
type ServerHandleFunc func(epoch uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
// It must accept a ServerConfig as a parameter
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler is called for every request the transport layer receives
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and listens for incoming requests
	Listen(config common.ServerConfig) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response.
	// The epoch is the sender's current ring epoch and travels in the frame
	// header so the receiver can detect a diverged ring view before decoding
	// the payload.
	Send(epoch uint64, req []byte) (resp []byte, err error)
	// SendTo sends a request to a specific endpoint instead of the next
	// round-robin connection. Replica operations are endpoint-addressed.
	SendTo(endpoint string, epoch uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
