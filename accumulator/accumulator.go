package accumulator

import (
	"github.com/megamcloud/starcoin/types"
)

// NodeStore is the persistence the accumulator reads through and flushes
// into.
type NodeStore interface {
	GetAccumulatorNode(hash types.HashValue) (*Node, error)
	SaveAccumulatorNodes(nodes map[types.HashValue]*Node) error
}

// Accumulator is an append-only Merkle structure committing to the ordered
// sequence of transaction infos. It keeps only the frozen subtree roots in
// memory, so it can be reconstructed from a BlockInfo snapshot without
// replaying history. Appends are staged until Flush.
type Accumulator struct {
	store     NodeStore
	frozen    []types.HashValue
	numLeaves uint64
	numNodes  uint64
	staged    map[types.HashValue]*Node
}

// NewAccumulator opens an empty accumulator.
func NewAccumulator(store NodeStore) *Accumulator {
	return &Accumulator{
		store:  store,
		staged: make(map[types.HashValue]*Node),
	}
}

// NewAccumulatorFromInfo reopens the accumulator frozen at a block snapshot.
func NewAccumulatorFromInfo(store NodeStore, info *types.BlockInfo) *Accumulator {
	frozen := make([]types.HashValue, len(info.FrozenSubtreeRoots))
	copy(frozen, info.FrozenSubtreeRoots)
	return &Accumulator{
		store:     store,
		frozen:    frozen,
		numLeaves: info.NumLeaves,
		numNodes:  info.NumNodes,
		staged:    make(map[types.HashValue]*Node),
	}
}

func (a *Accumulator) stage(node *Node) types.HashValue {
	hash := node.Hash()
	a.staged[hash] = node
	return hash
}

// Append adds leaves in order, merging frozen subtrees as their counts
// carry, like binary addition over perfect subtrees.
func (a *Accumulator) Append(leaves ...types.HashValue) {
	for _, leaf := range leaves {
		carry := a.stage(NewLeafNode(leaf))
		a.numNodes++
		count := a.numLeaves
		for count&1 == 1 {
			left := a.frozen[len(a.frozen)-1]
			a.frozen = a.frozen[:len(a.frozen)-1]
			carry = a.stage(NewInternalNode(left, carry))
			a.numNodes++
			count >>= 1
		}
		a.frozen = append(a.frozen, carry)
		a.numLeaves++
	}
}

// Root bags the frozen subtree roots right to left into the accumulator
// root. The bagging nodes are staged so the full tree is reachable from the
// root after Flush.
func (a *Accumulator) Root() types.HashValue {
	if len(a.frozen) == 0 {
		return AccumulatorPlaceholder
	}
	root := a.frozen[len(a.frozen)-1]
	for i := len(a.frozen) - 2; i >= 0; i-- {
		root = a.stage(NewInternalNode(a.frozen[i], root))
	}
	return root
}

func (a *Accumulator) NumLeaves() uint64 {
	return a.numLeaves
}

func (a *Accumulator) NumNodes() uint64 {
	return a.numNodes
}

// GetBlockInfo snapshots the accumulator state for the given block.
func (a *Accumulator) GetBlockInfo(blockID types.HashValue) *types.BlockInfo {
	frozen := make([]types.HashValue, len(a.frozen))
	copy(frozen, a.frozen)
	return types.NewBlockInfo(blockID, frozen, a.numLeaves, a.numNodes)
}

// Flush persists every staged node. The root must have been computed before
// flushing for the bagging nodes to be included.
func (a *Accumulator) Flush() error {
	if len(a.staged) == 0 {
		return nil
	}
	if err := a.store.SaveAccumulatorNodes(a.staged); err != nil {
		return err
	}
	a.staged = make(map[types.HashValue]*Node)
	return nil
}

// Fork returns an independent accumulator at the same snapshot with nothing
// staged.
func (a *Accumulator) Fork() *Accumulator {
	frozen := make([]types.HashValue, len(a.frozen))
	copy(frozen, a.frozen)
	return &Accumulator{
		store:     a.store,
		frozen:    frozen,
		numLeaves: a.numLeaves,
		numNodes:  a.numNodes,
		staged:    make(map[types.HashValue]*Node),
	}
}
