// Package merkle builds Merkle trees over ordered byte leaves and produces
// per-leaf inclusion proofs.
//
// Odd-node policy: when a level has an odd number of hashes, the last hash is
// DUPLICATED to complete the final pair. This is an invariant of the format:
// roots and proofs are only comparable between implementations that duplicate.
// Domain separation (0x00 for leaves, 0x01 for interior nodes) prevents a
// leaf from being reinterpreted as an interior node.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	leafPrefix = []byte{0x00}
	nodePrefix = []byte{0x01}
)

// ErrNoLeaves is returned when building a tree from an empty leaf set.
var ErrNoLeaves = errors.New("merkle: cannot build tree with no leaves")

// Tree is a Merkle tree. Level 0 holds the leaf hashes, the last level holds
// the single root hash.
type Tree struct {
	levels [][][]byte
}

// LeafHash computes the domain-separated hash of one leaf:
// sha256(0x00 || data).
func LeafHash(data []byte) []byte {
	h := sha256.New()
	h.Write(leafPrefix)
	h.Write(data)
	return h.Sum(nil)
}

func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write(nodePrefix)
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// New builds a tree from an ordered list of leaf byte-strings.
func New(leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	level := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		level[i] = LeafHash(leaf)
	}

	levels := [][][]byte{level}
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, nodeHash(level[i], level[i+1]))
		}
		level = next
		levels = append(levels, level)
	}

	return &Tree{levels: levels}, nil
}

// Root returns the root hash.
func (t *Tree) Root() []byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// RootHex returns the root hash as a hex string.
func (t *Tree) RootHex() string {
	return hex.EncodeToString(t.Root())
}

// LeafCount returns the number of original leaves.
func (t *Tree) LeafCount() int {
	return len(t.levels[0])
}

// Proof returns the ordered sibling hashes for the leaf at index i, from the
// leaf level upward. Sides are implied by the index: at each level an even
// position pairs with the sibling to its right, an odd position with the
// sibling to its left. A duplicated odd node is its own right sibling.
func (t *Tree) Proof(i int) ([][]byte, error) {
	if i < 0 || i >= t.LeafCount() {
		return nil, errors.New("merkle: leaf index out of range")
	}

	siblings := make([][]byte, 0, len(t.levels)-1)
	idx := i
	for _, level := range t.levels[:len(t.levels)-1] {
		sibIdx := idx ^ 1
		if sibIdx >= len(level) {
			sibIdx = idx
		}
		siblings = append(siblings, level[sibIdx])
		idx /= 2
	}
	return siblings, nil
}

// Verify recomputes the root from a leaf hash, its index, and an ordered
// sibling list, and compares against the expected root. It must agree with
// direct recomputation of the tree for every leaf.
func Verify(index int, proof [][]byte, leafHash, root []byte) bool {
	if index < 0 {
		return false
	}
	current := leafHash
	idx := index
	for _, sibling := range proof {
		if idx%2 == 0 {
			current = nodeHash(current, sibling)
		} else {
			current = nodeHash(sibling, current)
		}
		idx /= 2
	}
	return bytes.Equal(current, root)
}
