// Package common provides core data structures and utilities shared across
// the distributed key-value store system. It defines fundamental types,
// configuration structures, and protocol elements used by other packages.
//
// The package focuses on:
//   - Message protocol definition for inter-node replica communication
//   - Configuration structures for client and server components
//   - Custom logging implementation shared by all packages
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication between nodes,
//     with a flexible structure that adapts to different operation types.
//     Includes factory methods for creating various request and response
//     messages (replica reads and writes, heartbeats, gossip exchange and
//     anti-entropy repair).
//
//   - MessageType: Enumeration defining all supported operation types in the
//     system, categorized into replica operations, membership messages, and
//     repair messages.
//
//   - ServerConfig: Comprehensive configuration for server nodes, including
//     replication parameters (N/W/R), ring settings, failure detection
//     timeouts, repair intervals, and network configuration.
//
//   - ClientConfig: Configuration for client components, controlling
//     connection parameters, timeouts, and retry behavior.
//
//   - Logger: Custom logging implementation providing consistent formatting
//     across the application.
package common
