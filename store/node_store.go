package store

import (
	"fmt"

	"github.com/megamcloud/starcoin/accumulator"
	"github.com/megamcloud/starcoin/statetree"
	"github.com/megamcloud/starcoin/types"
)

// Tree nodes are persisted in their canonical binary form: the storage key
// is the hash of the stored bytes, so a value that decodes but does not
// hash back to its key is corrupt.

// GetStateNode returns the state tree node under hash, nil if absent.
func (s *Storage) GetStateNode(hash types.HashValue) (*statetree.Node, error) {
	value, err := s.provider.Get(hashKey(PrefixStateNode, hash))
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	node, err := statetree.DecodeNode(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode state node %s: %w", hash, err)
	}
	return node, nil
}

// PutStateNode stores one state tree node under its declared key.
func (s *Storage) PutStateNode(hash types.HashValue, node *statetree.Node) error {
	return s.provider.Put(hashKey(PrefixStateNode, hash), node.Encode())
}

// WriteStateNodes stores a set of state tree nodes as one atomic batch.
func (s *Storage) WriteStateNodes(nodes map[types.HashValue]*statetree.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	batch := s.provider.Batch()
	for hash, node := range nodes {
		batch.Put(hashKey(PrefixStateNode, hash), node.Encode())
	}
	return batch.Write()
}

// GetAccumulatorNode returns the accumulator node under hash, nil if absent.
func (s *Storage) GetAccumulatorNode(hash types.HashValue) (*accumulator.Node, error) {
	value, err := s.provider.Get(hashKey(PrefixAccumulatorNode, hash))
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	node, err := accumulator.DecodeNode(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode accumulator node %s: %w", hash, err)
	}
	return node, nil
}

// SaveAccumulatorNode stores one accumulator node under its own hash.
func (s *Storage) SaveAccumulatorNode(node *accumulator.Node) error {
	return s.provider.Put(hashKey(PrefixAccumulatorNode, node.Hash()), node.Encode())
}

// SaveAccumulatorNodes stores a set of accumulator nodes as one atomic
// batch.
func (s *Storage) SaveAccumulatorNodes(nodes map[types.HashValue]*accumulator.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	batch := s.provider.Batch()
	for hash, node := range nodes {
		batch.Put(hashKey(PrefixAccumulatorNode, hash), node.Encode())
	}
	return batch.Write()
}

// DeleteAccumulatorNodes removes a set of accumulator nodes.
func (s *Storage) DeleteAccumulatorNodes(hashes []types.HashValue) error {
	if len(hashes) == 0 {
		return nil
	}
	batch := s.provider.Batch()
	for _, hash := range hashes {
		batch.Delete(hashKey(PrefixAccumulatorNode, hash))
	}
	return batch.Write()
}
