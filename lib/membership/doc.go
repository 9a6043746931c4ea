// Package membership tracks the liveness of cluster nodes and drives ring
// updates when nodes fail or recover.
//
// Each node moves through a three-state machine: Alive, then Suspect when no
// heartbeat arrives within the suspect timeout, then Dead when the silence
// persists past the dead timeout. A heartbeat from any state returns the node
// to Alive. State is additionally exchanged between nodes gossip-style: each
// member carries an incarnation number and remote views are merged with
// higher incarnations winning, which reduces false positives from a single
// observer's network view.
//
// Subscribers (the node server) are notified asynchronously on every state
// transition so they can rewire the ring and trigger anti-entropy for the
// affected token ranges.
package membership
