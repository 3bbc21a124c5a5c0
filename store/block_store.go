package store

import (
	"encoding/binary"
	"fmt"

	"github.com/megamcloud/starcoin/jsonx"
	"github.com/megamcloud/starcoin/logx"
	"github.com/megamcloud/starcoin/types"
)

// SaveBlock stores the full block under its id.
func (s *Storage) SaveBlock(block *types.Block) error {
	return s.putJSON(hashKey(PrefixBlock, block.ID()), block)
}

// SaveHeader stores the header and records it as a son of its parent. The
// sons entry is deduplicated, so saving the same header twice is idempotent.
func (s *Storage) SaveHeader(header *types.BlockHeader) error {
	id := header.ID()
	if err := s.putJSON(hashKey(PrefixBlockHeader, id), header); err != nil {
		return err
	}
	s.headerCache.Add(id, header)

	s.sonsMu.Lock()
	defer s.sonsMu.Unlock()
	return s.putSonLocked(header.ParentHash, id)
}

// putSonLocked appends son to the parent's sons entry unless already there.
// Caller holds sonsMu.
func (s *Storage) putSonLocked(parent, son types.HashValue) error {
	sons, err := s.getSonsLocked(parent)
	if err != nil {
		return err
	}
	for _, existing := range sons {
		if existing == son {
			return nil
		}
	}
	sons = append(sons, son)
	logx.Debug("STORE", "put son ", parent.ShortString(), " -> ", son.ShortString())
	return s.putJSON(hashKey(PrefixBlockSons, parent), sons)
}

func (s *Storage) getSonsLocked(parent types.HashValue) ([]types.HashValue, error) {
	var sons []types.HashValue
	if _, err := s.getJSON(hashKey(PrefixBlockSons, parent), &sons); err != nil {
		return nil, err
	}
	return sons, nil
}

// GetSons returns the recorded children of parent. A block with no recorded
// children is a hard error: every saved header registers with its parent.
func (s *Storage) GetSons(parent types.HashValue) ([]types.HashValue, error) {
	s.sonsMu.RLock()
	defer s.sonsMu.RUnlock()
	sons, err := s.getSonsLocked(parent)
	if err != nil {
		return nil, err
	}
	if len(sons) == 0 {
		return nil, fmt.Errorf("can't find sons of %s", parent)
	}
	return sons, nil
}

// SaveBody stores the block body under the block id.
func (s *Storage) SaveBody(blockID types.HashValue, body *types.BlockBody) error {
	return s.putJSON(hashKey(PrefixBlockBody, blockID), body)
}

// SaveNumber records blockID at number in the canonical number index.
func (s *Storage) SaveNumber(number uint64, blockID types.HashValue) error {
	return s.provider.Put(numberKey(PrefixBlockNum, number), blockID.Bytes())
}

// DeleteNumber removes the canonical index entry at number. Promotion uses
// it for heights the incoming head chain does not reach.
func (s *Storage) DeleteNumber(number uint64) error {
	return s.provider.Delete(numberKey(PrefixBlockNum, number))
}

// SaveBranchNumber records blockID at number within one branch's index.
func (s *Storage) SaveBranchNumber(branchID types.HashValue, number uint64, blockID types.HashValue) error {
	return s.provider.Put(branchNumberKey(branchID, number), blockID.Bytes())
}

// CommitBlock persists header, sons entry, number index, body and block as
// one atomic batch.
func (s *Storage) CommitBlock(block *types.Block) error {
	return s.commitBlock(block, nil)
}

// CommitBranchBlock is CommitBlock with the number recorded in the given
// branch's index instead of the canonical one.
func (s *Storage) CommitBranchBlock(branchID types.HashValue, block *types.Block) error {
	return s.commitBlock(block, &branchID)
}

func (s *Storage) commitBlock(block *types.Block, branchID *types.HashValue) error {
	blockID := block.ID()
	header := block.Header

	headerValue, err := jsonx.Marshal(&header)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	bodyValue, err := jsonx.Marshal(&block.Body)
	if err != nil {
		return fmt.Errorf("failed to encode body: %w", err)
	}
	blockValue, err := jsonx.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to encode block: %w", err)
	}

	s.sonsMu.Lock()
	defer s.sonsMu.Unlock()

	sons, err := s.getSonsLocked(header.ParentHash)
	if err != nil {
		return err
	}
	present := false
	for _, existing := range sons {
		if existing == blockID {
			present = true
			break
		}
	}
	if !present {
		sons = append(sons, blockID)
	}
	sonsValue, err := jsonx.Marshal(sons)
	if err != nil {
		return fmt.Errorf("failed to encode sons: %w", err)
	}

	batch := s.provider.Batch()
	batch.Put(hashKey(PrefixBlockHeader, blockID), headerValue)
	batch.Put(hashKey(PrefixBlockSons, header.ParentHash), sonsValue)
	if branchID != nil {
		batch.Put(branchNumberKey(*branchID, header.Number), blockID.Bytes())
	} else {
		batch.Put(numberKey(PrefixBlockNum, header.Number), blockID.Bytes())
	}
	batch.Put(hashKey(PrefixBlockBody, blockID), bodyValue)
	batch.Put(hashKey(PrefixBlock, blockID), blockValue)
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to commit block %s: %w", blockID, err)
	}

	s.headerCache.Add(blockID, &header)
	logx.Info("STORE", "committed block ", blockID.ShortString(), " number ", header.Number)
	return nil
}

// GetBlock returns the block under id, nil if absent.
func (s *Storage) GetBlock(blockID types.HashValue) (*types.Block, error) {
	var block types.Block
	found, err := s.getJSON(hashKey(PrefixBlock, blockID), &block)
	if err != nil || !found {
		return nil, err
	}
	return &block, nil
}

// GetHeader returns the header under id, nil if absent.
func (s *Storage) GetHeader(blockID types.HashValue) (*types.BlockHeader, error) {
	if header, ok := s.headerCache.Get(blockID); ok {
		return header, nil
	}
	var header types.BlockHeader
	found, err := s.getJSON(hashKey(PrefixBlockHeader, blockID), &header)
	if err != nil || !found {
		return nil, err
	}
	s.headerCache.Add(blockID, &header)
	return &header, nil
}

// GetBody returns the body under id, nil if absent.
func (s *Storage) GetBody(blockID types.HashValue) (*types.BlockBody, error) {
	var body types.BlockBody
	found, err := s.getJSON(hashKey(PrefixBlockBody, blockID), &body)
	if err != nil || !found {
		return nil, err
	}
	return &body, nil
}

// GetNumber resolves a canonical block number to its block id.
func (s *Storage) GetNumber(number uint64) (types.HashValue, bool, error) {
	return s.getNumberKey(numberKey(PrefixBlockNum, number))
}

// GetBranchNumber resolves a block number within one branch's index.
func (s *Storage) GetBranchNumber(branchID types.HashValue, number uint64) (types.HashValue, bool, error) {
	return s.getNumberKey(branchNumberKey(branchID, number))
}

func (s *Storage) getNumberKey(key []byte) (types.HashValue, bool, error) {
	value, err := s.provider.Get(key)
	if err != nil {
		return types.ZeroHash, false, err
	}
	if value == nil {
		return types.ZeroHash, false, nil
	}
	hash, err := types.HashValueFromSlice(value)
	if err != nil {
		return types.ZeroHash, false, fmt.Errorf("malformed number index entry: %w", err)
	}
	return hash, true, nil
}

// GetHeaderByNumber resolves number through the canonical index. A missing
// index entry is a hard error: callers ask only for assigned numbers.
func (s *Storage) GetHeaderByNumber(number uint64) (*types.BlockHeader, error) {
	blockID, found, err := s.GetNumber(number)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("can't find block header by number %d", number)
	}
	return s.GetHeader(blockID)
}

// GetBlockByNumber resolves number through the canonical index, nil when
// the number is unassigned.
func (s *Storage) GetBlockByNumber(number uint64) (*types.Block, error) {
	blockID, found, err := s.GetNumber(number)
	if err != nil || !found {
		return nil, err
	}
	return s.GetBlock(blockID)
}

// GetHeaderByBranchNumber resolves number within a branch's index.
func (s *Storage) GetHeaderByBranchNumber(branchID types.HashValue, number uint64) (*types.BlockHeader, error) {
	blockID, found, err := s.GetBranchNumber(branchID, number)
	if err != nil || !found {
		return nil, err
	}
	return s.GetHeader(blockID)
}

// GetBlockByBranchNumber resolves number within a branch's index.
func (s *Storage) GetBlockByBranchNumber(branchID types.HashValue, number uint64) (*types.Block, error) {
	blockID, found, err := s.GetBranchNumber(branchID, number)
	if err != nil || !found {
		return nil, err
	}
	return s.GetBlock(blockID)
}

// maxNumber scans the canonical number index for the highest assigned
// number. (false) means the index is empty.
func (s *Storage) maxNumber() (uint64, bool, error) {
	var max uint64
	found := false
	prefix := []byte(PrefixBlockNum)
	err := s.provider.IteratePrefix(prefix, func(key, _ []byte) bool {
		if len(key) == len(prefix)+8 {
			max = binary.BigEndian.Uint64(key[len(prefix):])
			found = true
		}
		return true
	})
	return max, found, err
}

// GetLatestHeader returns the header at the highest assigned canonical
// number, or nil on an empty store.
func (s *Storage) GetLatestHeader() (*types.BlockHeader, error) {
	max, found, err := s.maxNumber()
	if err != nil || !found {
		return nil, err
	}
	return s.GetHeaderByNumber(max)
}

// GetLatestBlock returns the block at the highest assigned canonical
// number, or nil on an empty store.
func (s *Storage) GetLatestBlock() (*types.Block, error) {
	max, found, err := s.maxNumber()
	if err != nil || !found {
		return nil, err
	}
	return s.GetBlockByNumber(max)
}

// GetHeaders lists every stored header id.
func (s *Storage) GetHeaders() ([]types.HashValue, error) {
	var out []types.HashValue
	prefix := []byte(PrefixBlockHeader)
	err := s.provider.IteratePrefix(prefix, func(key, _ []byte) bool {
		if len(key) == len(prefix)+types.HashLength {
			hash, err := types.HashValueFromSlice(key[len(prefix):])
			if err == nil {
				out = append(out, hash)
			}
		}
		return true
	})
	return out, err
}

// GetBranchHashes walks parent links upward from blockID, collecting each
// visited id, and stops when the parent is a fork point (more than one
// recorded child). Every visited block must have a header and every visited
// parent a sons entry; anything else is a hard error.
func (s *Storage) GetBranchHashes(blockID types.HashValue) ([]types.HashValue, error) {
	var out []types.HashValue
	current := blockID
	for {
		header, err := s.GetHeader(current)
		if err != nil {
			return nil, err
		}
		if header == nil {
			return nil, fmt.Errorf("can not find block %s", current)
		}
		out = append(out, current)
		sons, err := s.GetSons(header.ParentHash)
		if err != nil {
			return nil, fmt.Errorf("get sons of %s: %w", header.ParentHash, err)
		}
		if len(sons) > 1 {
			break
		}
		current = header.ParentHash
	}
	return out, nil
}

// relationship reports parent if child is a recorded son of parent.
func (s *Storage) relationship(parent, child types.HashValue) (bool, error) {
	s.sonsMu.RLock()
	sons, err := s.getSonsLocked(parent)
	s.sonsMu.RUnlock()
	if err != nil {
		return false, err
	}
	for _, son := range sons {
		if son == child {
			return true, nil
		}
	}
	return false, nil
}

// GetCommonAncestor finds the nearest common ancestor of two blocks.
// Fast path: one id is a recorded parent of the other. Otherwise walk a's
// ancestry; at each fork point walk b's ancestry until it lands inside the
// fork point's child set. Reaching the zero hash without a match is an
// error, as is any missing header.
func (s *Storage) GetCommonAncestor(blockID1, blockID2 types.HashValue) (types.HashValue, error) {
	logx.Debug("STORE", "common ancestor of ", blockID1.ShortString(), " and ", blockID2.ShortString())

	if ok, err := s.relationship(blockID1, blockID2); err == nil && ok {
		return blockID1, nil
	}
	if ok, err := s.relationship(blockID2, blockID1); err == nil && ok {
		return blockID2, nil
	}

	parent1 := blockID1
	parent2 := blockID2
	for {
		header1, err := s.GetHeader(parent1)
		if err != nil {
			return types.ZeroHash, err
		}
		if header1 == nil {
			return types.ZeroHash, fmt.Errorf("can not find block %s", parent1)
		}
		parent1 = header1.ParentHash
		if parent1.IsZero() {
			return types.ZeroHash, fmt.Errorf("no common ancestor of %s and %s", blockID1, blockID2)
		}
		sons1, err := s.GetSons(parent1)
		if err != nil {
			return types.ZeroHash, fmt.Errorf("get sons of %s: %w", parent1, err)
		}
		if len(sons1) <= 1 {
			continue
		}
		for {
			if parent2.IsZero() {
				return types.ZeroHash, fmt.Errorf("no common ancestor of %s and %s", blockID1, blockID2)
			}
			if containsHash(sons1, parent2) {
				return parent1, nil
			}
			header2, err := s.GetHeader(parent2)
			if err != nil {
				return types.ZeroHash, err
			}
			if header2 == nil {
				return types.ZeroHash, fmt.Errorf("can not find block %s", parent2)
			}
			parent2 = header2.ParentHash
		}
	}
}

func containsHash(hashes []types.HashValue, target types.HashValue) bool {
	for _, h := range hashes {
		if h == target {
			return true
		}
	}
	return false
}
