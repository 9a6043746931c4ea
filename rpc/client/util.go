package client

import (
	"fmt"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/qkv-io/qkv/rpc/common"
	"github.com/qkv-io/qkv/rpc/serializer"
	"github.com/qkv-io/qkv/rpc/transport"
)

var (
	Logger = logger.GetLogger("rpc")
)

// invokeRPCRequest is a helper function used to send one request to one peer
// It serializes the request, sends it over the endpoint-addressed transport
// and deserializes the response.
// A response of type MsgTError is returned as a message, not an error: the
// caller interprets the response code (e.g. a diverged ring epoch). The error
// return covers transport and codec failures only.
func invokeRPCRequest(endpoint string, epoch uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the request
	respBytes, err := transport.SendTo(endpoint, epoch, reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	err = serializer.Deserialize(respBytes, resp)
	if err != nil {
		return nil, fmt.Errorf("rpc client - error: %s", err)
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType && resp.MsgType != common.MsgTError {
		return nil, fmt.Errorf("rpc client - unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	// Return the response
	return resp, nil
}
