package statetree

import (
	"fmt"

	"github.com/megamcloud/starcoin/types"
)

// NumChildren is the branching factor: one child per nibble of the key.
const NumChildren = 16

// SparseMerklePlaceholder marks an empty subtree; it is also the root of the
// empty state tree.
var SparseMerklePlaceholder = types.CreateLiteralHash("SPARSE_MERKLE_PLACEHOLDER_HASH")

type NodeKind uint8

const (
	NullNode NodeKind = iota
	InternalNode
	LeafNode
)

// Node is a content-addressed state tree node. Internal nodes hold up to 16
// children, one per nibble; empty slots carry the placeholder hash. Leaf
// nodes hold the full key (the account address hash) and the account blob.
type Node struct {
	Kind     NodeKind
	Children [NumChildren]types.HashValue
	Key      types.HashValue
	Blob     []byte
}

func NewLeafNode(key types.HashValue, blob []byte) *Node {
	return &Node{Kind: LeafNode, Key: key, Blob: blob}
}

func NewInternalNode() *Node {
	n := &Node{Kind: InternalNode}
	for i := range n.Children {
		n.Children[i] = SparseMerklePlaceholder
	}
	return n
}

// Encode produces the canonical binary form the node hash is defined over.
func (n *Node) Encode() []byte {
	switch n.Kind {
	case NullNode:
		return []byte{byte(NullNode)}
	case InternalNode:
		out := make([]byte, 1, 1+NumChildren*types.HashLength)
		out[0] = byte(InternalNode)
		for i := range n.Children {
			out = append(out, n.Children[i][:]...)
		}
		return out
	case LeafNode:
		out := make([]byte, 1, 1+types.HashLength+len(n.Blob))
		out[0] = byte(LeafNode)
		out = append(out, n.Key[:]...)
		out = append(out, n.Blob...)
		return out
	}
	panic(fmt.Sprintf("unknown state node kind %d", n.Kind))
}

// DecodeNode parses the canonical binary form back into a node.
func DecodeNode(data []byte) (*Node, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty state node data")
	}
	switch NodeKind(data[0]) {
	case NullNode:
		return &Node{Kind: NullNode}, nil
	case InternalNode:
		if len(data) != 1+NumChildren*types.HashLength {
			return nil, fmt.Errorf("invalid internal node length %d", len(data))
		}
		n := &Node{Kind: InternalNode}
		for i := 0; i < NumChildren; i++ {
			begin := 1 + i*types.HashLength
			copy(n.Children[i][:], data[begin:begin+types.HashLength])
		}
		return n, nil
	case LeafNode:
		if len(data) < 1+types.HashLength {
			return nil, fmt.Errorf("invalid leaf node length %d", len(data))
		}
		n := &Node{Kind: LeafNode}
		copy(n.Key[:], data[1:1+types.HashLength])
		if rest := data[1+types.HashLength:]; len(rest) > 0 {
			n.Blob = append([]byte(nil), rest...)
		}
		return n, nil
	}
	return nil, fmt.Errorf("unknown state node kind %d", data[0])
}

// Hash is the node's content hash, which is also its storage key.
func (n *Node) Hash() types.HashValue {
	return types.HashData(n.Encode())
}

// AllChildren returns the hashes of the non-empty children of an internal
// node; nil for other kinds.
func (n *Node) AllChildren() []types.HashValue {
	if n.Kind != InternalNode {
		return nil
	}
	var out []types.HashValue
	for i := range n.Children {
		if n.Children[i] != SparseMerklePlaceholder {
			out = append(out, n.Children[i])
		}
	}
	return out
}

func (n *Node) IsLeaf() bool {
	return n.Kind == LeafNode
}
