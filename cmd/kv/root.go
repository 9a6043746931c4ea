package kv

import (
	"github.com/qkv-io/qkv/cmd/util"
	"github.com/spf13/cobra"
)

// KeyValueCommands groups the client-side key-value operations. They talk to
// the HTTP API of any qkv node, which coordinates the request across the
// key's replicas.
var KeyValueCommands = &cobra.Command{
	Use:   "kv",
	Short: "Interact with a qkv cluster",
	Long:  `Read, write and delete keys via the HTTP API of a qkv node. Any node can serve any key.`,
}

func init() {
	cobra.OnInitialize(util.InitConfig)

	key := "endpoint"
	KeyValueCommands.PersistentFlags().String(key, "http://localhost:9080", util.WrapString("The HTTP API address of a qkv node"))

	key = "timeout"
	KeyValueCommands.PersistentFlags().Int(key, 10, util.WrapString("The request timeout in seconds"))

	key = "context"
	KeyValueCommands.PersistentFlags().String(key, "", util.WrapString("The causal context of a write: the X-Version-Vector value returned by a previous get. Writes without context create a sibling if the key changed concurrently"))

	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(delCmd)
}
