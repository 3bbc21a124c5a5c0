package types

import (
	"hash"

	"github.com/holiman/uint256"
)

// BlockNumber is the height of a block within its branch.
type BlockNumber = uint64

// BlockHeader is immutable once built; its identity is the content hash over
// every field.
type BlockHeader struct {
	// ParentHash is the id of the parent block, zero for genesis.
	ParentHash HashValue `json:"parent_hash"`
	// Timestamp in milliseconds since epoch.
	Timestamp uint64 `json:"timestamp"`
	// Number is the block height.
	Number BlockNumber `json:"number"`
	// Author is the account that mined this block.
	Author AccountAddress `json:"author"`
	// AccumulatorRoot is the transaction accumulator root after executing
	// this block.
	AccumulatorRoot HashValue `json:"accumulator_root"`
	// StateRoot is the state tree root after executing this block.
	StateRoot HashValue `json:"state_root"`
	// GasUsed by every transaction in the block.
	GasUsed uint64 `json:"gas_used"`
	// GasLimit of the block.
	GasLimit uint64 `json:"gas_limit"`
	// Difficulty of this block.
	Difficulty *uint256.Int `json:"difficulty"`
	// TotalDifficulty accumulated from genesis to this block.
	TotalDifficulty *uint256.Int `json:"total_difficulty"`
	// ConsensusHeader is the consensus extension field, opaque to the chain.
	ConsensusHeader []byte `json:"consensus_header"`
}

// ID computes the header's content hash.
func (h *BlockHeader) ID() HashValue {
	hasher := NewHasher()
	hasher.Write(h.ParentHash[:])
	writeUint64(hasher, h.Timestamp)
	writeUint64(hasher, h.Number)
	hasher.Write(h.Author[:])
	hasher.Write(h.AccumulatorRoot[:])
	hasher.Write(h.StateRoot[:])
	writeUint64(hasher, h.GasUsed)
	writeUint64(hasher, h.GasLimit)
	writeUint256(hasher, h.Difficulty)
	writeUint256(hasher, h.TotalDifficulty)
	hasher.Write(h.ConsensusHeader)
	var out HashValue
	copy(out[:], hasher.Sum(nil))
	return out
}

// writeUint256 hashes the 32-byte big-endian form; a nil value hashes as
// zero so a malformed peer header still has a stable id to report.
func writeUint256(h hash.Hash, value *uint256.Int) {
	var buf [32]byte
	if value != nil {
		buf = value.Bytes32()
	}
	h.Write(buf[:])
}

// Compare orders headers by (number, timestamp, gas used descending).
// This ordering is for inspection and sorting only; fork choice compares
// total difficulty, never this.
func (h *BlockHeader) Compare(other *BlockHeader) int {
	switch {
	case h.Number < other.Number:
		return -1
	case h.Number > other.Number:
		return 1
	}
	switch {
	case h.Timestamp < other.Timestamp:
		return -1
	case h.Timestamp > other.Timestamp:
		return 1
	}
	switch {
	case h.GasUsed > other.GasUsed:
		return -1
	case h.GasUsed < other.GasUsed:
		return 1
	}
	return 0
}

// GenesisBlockHeader builds the deterministic header of block zero.
func GenesisBlockHeader(accumulatorRoot, stateRoot HashValue, consensusHeader []byte) *BlockHeader {
	return &BlockHeader{
		ParentHash:      ZeroHash,
		Timestamp:       0,
		Number:          0,
		Author:          DefaultAddress,
		AccumulatorRoot: accumulatorRoot,
		StateRoot:       stateRoot,
		GasUsed:         0,
		GasLimit:        0,
		Difficulty:      uint256.NewInt(0),
		TotalDifficulty: uint256.NewInt(0),
		ConsensusHeader: consensusHeader,
	}
}

// BlockBody is the ordered sequence of signed user transactions in a block.
type BlockBody struct {
	Transactions []SignedUserTransaction `json:"transactions"`
}

// Hash computes the body's content hash over the ordered transaction ids.
func (b *BlockBody) Hash() HashValue {
	hasher := NewHasher()
	writeUint64(hasher, uint64(len(b.Transactions)))
	for i := range b.Transactions {
		id := b.Transactions[i].ID()
		hasher.Write(id[:])
	}
	var out HashValue
	copy(out[:], hasher.Sum(nil))
	return out
}

// Block is a header paired with its body.
type Block struct {
	Header BlockHeader `json:"header"`
	Body   BlockBody   `json:"body"`
}

func NewBlock(header BlockHeader, body BlockBody) *Block {
	return &Block{Header: header, Body: body}
}

// ID is the header id; the body is committed to through the template roots.
func (b *Block) ID() HashValue {
	return b.Header.ID()
}

func (b *Block) Transactions() []SignedUserTransaction {
	return b.Body.Transactions
}

// GenesisBlock builds block zero with an empty body.
func GenesisBlock(accumulatorRoot, stateRoot HashValue, consensusHeader []byte) *Block {
	return &Block{
		Header: *GenesisBlockHeader(accumulatorRoot, stateRoot, consensusHeader),
		Body:   BlockBody{},
	}
}

// BlockInfo is the per-block accumulator snapshot persisted alongside the
// block. It allows rebuilding the accumulator at that block without replay.
type BlockInfo struct {
	BlockID            HashValue   `json:"block_id"`
	FrozenSubtreeRoots []HashValue `json:"frozen_subtree_roots"`
	NumLeaves          uint64      `json:"num_leaves"`
	NumNodes           uint64      `json:"num_nodes"`
}

func NewBlockInfo(blockID HashValue, frozenSubtreeRoots []HashValue, numLeaves, numNodes uint64) *BlockInfo {
	return &BlockInfo{
		BlockID:            blockID,
		FrozenSubtreeRoots: frozenSubtreeRoots,
		NumLeaves:          numLeaves,
		NumNodes:           numNodes,
	}
}

func (info *BlockInfo) ID() HashValue {
	hasher := NewHasher()
	hasher.Write(info.BlockID[:])
	writeUint64(hasher, uint64(len(info.FrozenSubtreeRoots)))
	for _, root := range info.FrozenSubtreeRoots {
		hasher.Write(root[:])
	}
	writeUint64(hasher, info.NumLeaves)
	writeUint64(hasher, info.NumNodes)
	var out HashValue
	copy(out[:], hasher.Sum(nil))
	return out
}

// BlockTemplate is the mutable pre-header bundle produced by block creation.
// Mining attaches a consensus header to finalize it into a Block.
type BlockTemplate struct {
	ParentHash      HashValue
	Timestamp       uint64
	Number          BlockNumber
	Author          AccountAddress
	AccumulatorRoot HashValue
	StateRoot       HashValue
	GasUsed         uint64
	GasLimit        uint64
	Difficulty      *uint256.Int
	TotalDifficulty *uint256.Int
	Body            BlockBody
}

// IntoHeader finalizes the template into an immutable header.
func (t *BlockTemplate) IntoHeader(consensusHeader []byte) *BlockHeader {
	return &BlockHeader{
		ParentHash:      t.ParentHash,
		Timestamp:       t.Timestamp,
		Number:          t.Number,
		Author:          t.Author,
		AccumulatorRoot: t.AccumulatorRoot,
		StateRoot:       t.StateRoot,
		GasUsed:         t.GasUsed,
		GasLimit:        t.GasLimit,
		Difficulty:      t.Difficulty,
		TotalDifficulty: t.TotalDifficulty,
		ConsensusHeader: consensusHeader,
	}
}

// IntoBlock finalizes the template into a block.
func (t *BlockTemplate) IntoBlock(consensusHeader []byte) *Block {
	return &Block{
		Header: *t.IntoHeader(consensusHeader),
		Body:   t.Body,
	}
}

// TemplateFromBlock rebuilds the template of an existing block, used when
// re-mining a block with a different consensus header.
func TemplateFromBlock(block *Block) *BlockTemplate {
	return &BlockTemplate{
		ParentHash:      block.Header.ParentHash,
		Timestamp:       block.Header.Timestamp,
		Number:          block.Header.Number,
		Author:          block.Header.Author,
		AccumulatorRoot: block.Header.AccumulatorRoot,
		StateRoot:       block.Header.StateRoot,
		GasUsed:         block.Header.GasUsed,
		GasLimit:        block.Header.GasLimit,
		Difficulty:      block.Header.Difficulty,
		TotalDifficulty: block.Header.TotalDifficulty,
		Body:            block.Body,
	}
}
