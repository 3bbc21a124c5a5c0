package accumulator

import (
	"fmt"

	"github.com/megamcloud/starcoin/types"
)

// AccumulatorPlaceholder marks an empty accumulator subtree; it is also the
// root of the empty accumulator.
var AccumulatorPlaceholder = types.CreateLiteralHash("ACCUMULATOR_PLACEHOLDER_HASH")

type NodeKind uint8

const (
	NullNode NodeKind = iota
	InternalNode
	LeafNode
)

// Node is a content-addressed accumulator tree node. Internal nodes commit
// to (left, right); leaf nodes commit to a single value hash.
type Node struct {
	Kind  NodeKind
	Left  types.HashValue
	Right types.HashValue
	Value types.HashValue
}

func NewLeafNode(value types.HashValue) *Node {
	return &Node{Kind: LeafNode, Value: value}
}

func NewInternalNode(left, right types.HashValue) *Node {
	return &Node{Kind: InternalNode, Left: left, Right: right}
}

// Encode produces the canonical binary form the node hash is defined over.
func (n *Node) Encode() []byte {
	switch n.Kind {
	case NullNode:
		return []byte{byte(NullNode)}
	case InternalNode:
		out := make([]byte, 1, 1+2*types.HashLength)
		out[0] = byte(InternalNode)
		out = append(out, n.Left[:]...)
		out = append(out, n.Right[:]...)
		return out
	case LeafNode:
		out := make([]byte, 1, 1+types.HashLength)
		out[0] = byte(LeafNode)
		out = append(out, n.Value[:]...)
		return out
	}
	panic(fmt.Sprintf("unknown accumulator node kind %d", n.Kind))
}

// DecodeNode parses the canonical binary form back into a node.
func DecodeNode(data []byte) (*Node, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty accumulator node data")
	}
	switch NodeKind(data[0]) {
	case NullNode:
		return &Node{Kind: NullNode}, nil
	case InternalNode:
		if len(data) != 1+2*types.HashLength {
			return nil, fmt.Errorf("invalid internal node length %d", len(data))
		}
		n := &Node{Kind: InternalNode}
		copy(n.Left[:], data[1:1+types.HashLength])
		copy(n.Right[:], data[1+types.HashLength:])
		return n, nil
	case LeafNode:
		if len(data) != 1+types.HashLength {
			return nil, fmt.Errorf("invalid leaf node length %d", len(data))
		}
		n := &Node{Kind: LeafNode}
		copy(n.Value[:], data[1:])
		return n, nil
	}
	return nil, fmt.Errorf("unknown accumulator node kind %d", data[0])
}

// Hash is the node's content hash, which is also its storage key.
func (n *Node) Hash() types.HashValue {
	return types.HashData(n.Encode())
}

func (n *Node) IsLeaf() bool {
	return n.Kind == LeafNode
}
