package cmd

import (
	"fmt"
	"os"

	"github.com/qkv-io/qkv/cmd/kv"
	"github.com/qkv-io/qkv/cmd/serve"
	"github.com/qkv-io/qkv/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.2"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "qkv",
		Short: "quorum-replicated key-value store",
		Long: fmt.Sprintf(`qkv (v%s)

A distributed, eventually consistent key-value store written in Go,
using quorum replication, version vectors and anti-entropy repair
for high availability under node failures and network partitions.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of qkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("qkv v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use for inter-node messages (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use for inter-node messages (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
