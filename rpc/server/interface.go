package server

import (
	"github.com/qkv-io/qkv/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	// It takes the sender's ring epoch and a Message as parameters.
	// It returns a Message as a response
	// If an error occurs, it should be set in the response
	Handle(senderEpoch uint64, req *common.Message) (resp *common.Message)
}
