package antientropy

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/qkv-io/qkv/lib/engine"
)

// KeyDigest is one key's position in a Merkle tree: the key and a digest
// covering its full sibling set.
type KeyDigest struct {
	Key    string
	Digest uint64
}

// merkleNode is one node of a range's Merkle tree. Key is only set on leaves.
type merkleNode struct {
	Digest uint64
	Left   *merkleNode
	Right  *merkleNode
	Key    string
}

// DigestSiblings computes the digest of one key's sibling set. Two replicas
// holding the same siblings for a key produce the same digest regardless of
// write order.
func DigestSiblings(key string, siblings []engine.Versioned) uint64 {
	// Per-sibling digests are order-independent via sorting.
	parts := make([]uint64, len(siblings))
	for i, s := range siblings {
		d := xxhash.New()
		d.WriteString(s.Version.String())
		d.Write(s.Value)
		if s.Tombstone {
			d.WriteString("!")
		}
		var ts [8]byte
		binary.BigEndian.PutUint64(ts[:], uint64(s.Timestamp))
		d.Write(ts[:])
		parts[i] = d.Sum64()
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })

	d := xxhash.New()
	d.WriteString(key)
	var buf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(buf[:], p)
		d.Write(buf[:])
	}
	return d.Sum64()
}

// buildTree constructs a Merkle tree from a set of key digests.
// Sorts entries by key, pads to the next power of 2, then merges
// bottom-up: parent digest = xxhash(left.digest + right.digest).
func buildTree(entries []KeyDigest) *merkleNode {
	if len(entries) == 0 {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})

	// create leaf nodes
	leaves := make([]*merkleNode, len(entries))
	for i, e := range entries {
		leaves[i] = &merkleNode{Digest: e.Digest, Key: e.Key}
	}

	// pad to next power of 2
	for len(leaves)&(len(leaves)-1) != 0 {
		leaves = append(leaves, &merkleNode{})
	}

	// merge bottom-up
	layer := leaves
	for len(layer) > 1 {
		var next []*merkleNode
		for i := 0; i < len(layer); i += 2 {
			var combined [16]byte
			binary.BigEndian.PutUint64(combined[:8], layer[i].Digest)
			binary.BigEndian.PutUint64(combined[8:], layer[i+1].Digest)
			next = append(next, &merkleNode{
				Digest: xxhash.Sum64(combined[:]),
				Left:   layer[i],
				Right:  layer[i+1],
			})
		}
		layer = next
	}

	return layer[0]
}

// rootDigest returns the tree's root digest, zero for an empty tree.
func rootDigest(entries []KeyDigest) uint64 {
	root := buildTree(entries)
	if root == nil {
		return 0
	}
	return root.Digest
}

// diffTrees walks two Merkle trees top-down and returns the keys that differ.
// If roots match, the entire subtree is in sync. On mismatch, recurse
// into children to find exactly which leaves diverged.
func diffTrees(a, b *merkleNode) []string {
	if a == nil && b == nil {
		return nil
	}
	// one side has data the other doesn't
	if a == nil {
		return collectKeys(b)
	}
	if b == nil {
		return collectKeys(a)
	}
	// digests match, subtree is in sync
	if a.Digest == b.Digest {
		return nil
	}
	// both are leaves, this key diverged
	if a.Left == nil && b.Left == nil {
		if a.Key != "" && a.Key != b.Key {
			// differing keys at the same position diverge on both sides
			if b.Key != "" {
				return []string{a.Key, b.Key}
			}
			return []string{a.Key}
		}
		if a.Key != "" {
			return []string{a.Key}
		}
		if b.Key != "" {
			return []string{b.Key}
		}
		return nil
	}
	// recurse into children
	left := diffTrees(a.Left, b.Left)
	right := diffTrees(a.Right, b.Right)
	return append(left, right...)
}

// collectKeys gathers all non-empty leaf keys from a subtree.
func collectKeys(n *merkleNode) []string {
	if n == nil {
		return nil
	}
	if n.Left == nil && n.Right == nil {
		if n.Key != "" {
			return []string{n.Key}
		}
		return nil
	}
	left := collectKeys(n.Left)
	right := collectKeys(n.Right)
	return append(left, right...)
}

// diffEntries compares two key digest listings and returns the keys whose
// digests differ or that exist on one side only, deduplicated.
func diffEntries(local, remote []KeyDigest) []string {
	keys := diffTrees(buildTree(local), buildTree(remote))
	if len(keys) < 2 {
		return keys
	}
	sort.Strings(keys)
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}
