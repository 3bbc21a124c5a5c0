package statetree

import (
	"fmt"

	"github.com/megamcloud/starcoin/types"
)

// maxDepth is the number of nibbles in a key.
const maxDepth = types.HashLength * 2

// NodeStore is the persistence the tree reads through and commits into.
type NodeStore interface {
	GetStateNode(hash types.HashValue) (*Node, error)
	WriteStateNodes(nodes map[types.HashValue]*Node) error
}

// StateTree is a sparse Merkle tree over account states keyed by the hash of
// the account address. Mutations are staged in memory; nothing reaches the
// store until Commit, so a failed block apply leaves no partial state.
type StateTree struct {
	store NodeStore
	root  types.HashValue
	dirty map[types.HashValue]*Node
}

// NewStateTree opens the tree at root. A zero root means the empty tree.
func NewStateTree(store NodeStore, root types.HashValue) *StateTree {
	if root.IsZero() {
		root = SparseMerklePlaceholder
	}
	return &StateTree{
		store: store,
		root:  root,
		dirty: make(map[types.HashValue]*Node),
	}
}

// Root returns the current (possibly uncommitted) root hash.
func (t *StateTree) Root() types.HashValue {
	return t.root
}

func (t *StateTree) getNode(hash types.HashValue) (*Node, error) {
	if node, ok := t.dirty[hash]; ok {
		return node, nil
	}
	node, err := t.store.GetStateNode(hash)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, fmt.Errorf("state node %s not found", hash)
	}
	return node, nil
}

// Get returns the blob stored under key, or nil if absent.
func (t *StateTree) Get(key types.HashValue) ([]byte, error) {
	current := t.root
	for depth := 0; depth < maxDepth; depth++ {
		if current == SparseMerklePlaceholder {
			return nil, nil
		}
		node, err := t.getNode(current)
		if err != nil {
			return nil, err
		}
		switch node.Kind {
		case LeafNode:
			if node.Key == key {
				return node.Blob, nil
			}
			return nil, nil
		case InternalNode:
			current = node.Children[nibble(key, depth)]
		default:
			return nil, nil
		}
	}
	return nil, fmt.Errorf("state tree deeper than %d nibbles", maxDepth)
}

// Put stages blob under key, restructuring the path as needed.
func (t *StateTree) Put(key types.HashValue, blob []byte) error {
	newRoot, err := t.insert(t.root, 0, key, blob)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

func (t *StateTree) insert(current types.HashValue, depth int, key types.HashValue, blob []byte) (types.HashValue, error) {
	if depth >= maxDepth {
		return types.ZeroHash, fmt.Errorf("state tree deeper than %d nibbles", maxDepth)
	}
	if current == SparseMerklePlaceholder {
		return t.stage(NewLeafNode(key, blob)), nil
	}
	node, err := t.getNode(current)
	if err != nil {
		return types.ZeroHash, err
	}
	switch node.Kind {
	case LeafNode:
		if node.Key == key {
			return t.stage(NewLeafNode(key, blob)), nil
		}
		return t.splitLeaf(node, depth, key, blob)
	case InternalNode:
		idx := nibble(key, depth)
		childHash, err := t.insert(node.Children[idx], depth+1, key, blob)
		if err != nil {
			return types.ZeroHash, err
		}
		updated := *node
		updated.Children[idx] = childHash
		return t.stage(&updated), nil
	}
	return types.ZeroHash, fmt.Errorf("cannot insert below null node %s", current)
}

// splitLeaf replaces an existing leaf with a chain of internal nodes down to
// the first nibble where the two keys diverge.
func (t *StateTree) splitLeaf(existing *Node, depth int, key types.HashValue, blob []byte) (types.HashValue, error) {
	divergence := depth
	for divergence < maxDepth && nibble(existing.Key, divergence) == nibble(key, divergence) {
		divergence++
	}
	if divergence == maxDepth {
		return types.ZeroHash, fmt.Errorf("duplicate leaf key %s", key)
	}

	bottom := NewInternalNode()
	bottom.Children[nibble(existing.Key, divergence)] = t.stage(existing)
	bottom.Children[nibble(key, divergence)] = t.stage(NewLeafNode(key, blob))
	current := t.stage(bottom)

	for d := divergence - 1; d >= depth; d-- {
		internal := NewInternalNode()
		internal.Children[nibble(key, d)] = current
		current = t.stage(internal)
	}
	return current, nil
}

func (t *StateTree) stage(node *Node) types.HashValue {
	hash := node.Hash()
	t.dirty[hash] = node
	return hash
}

// Commit persists all staged nodes as one batch and returns the root.
func (t *StateTree) Commit() (types.HashValue, error) {
	if len(t.dirty) == 0 {
		return t.root, nil
	}
	if err := t.store.WriteStateNodes(t.dirty); err != nil {
		return types.ZeroHash, err
	}
	t.dirty = make(map[types.HashValue]*Node)
	return t.root, nil
}

// Fork returns an independent tree at the same root with no staged state.
func (t *StateTree) Fork() *StateTree {
	return NewStateTree(t.store, t.root)
}

func nibble(key types.HashValue, depth int) int {
	b := key[depth/2]
	if depth%2 == 0 {
		return int(b >> 4)
	}
	return int(b & 0x0f)
}
