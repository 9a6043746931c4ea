// Package cmd implements the command-line interface for the qkv distributed
// key-value store. It provides a hierarchical command structure with operations
// for running a node and interacting with a cluster as a client.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value operations against a running cluster (get, put, del)
//   - serve: Commands for starting and configuring a qkv node
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See qkv -help for a list of all commands.
package cmd
