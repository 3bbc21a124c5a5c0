package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/megamcloud/starcoin/db"
	"github.com/megamcloud/starcoin/jsonx"
	"github.com/megamcloud/starcoin/types"
)

const headerCacheSize = 1024

// Storage is the content-addressed chain store: every persisted entity
// lives in its own key-prefixed column of a single DatabaseProvider.
// Writes to one entity are atomic at single-key granularity; multi-entity
// commits go through provider batches.
type Storage struct {
	provider db.IterableProvider

	// sonsMu guards read-modify-write of the sons index, which is read far
	// more often than written.
	sonsMu sync.RWMutex

	headerCache *lru.Cache[types.HashValue, *types.BlockHeader]
}

// NewStorage wraps a database provider into the chain store.
func NewStorage(provider db.IterableProvider) (*Storage, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	cache, err := lru.New[types.HashValue, *types.BlockHeader](headerCacheSize)
	if err != nil {
		return nil, err
	}
	return &Storage{provider: provider, headerCache: cache}, nil
}

// Close closes the underlying provider.
func (s *Storage) Close() error {
	return s.provider.Close()
}

// hashKey builds a column key for a hash-addressed entity.
func hashKey(prefix string, hash types.HashValue) []byte {
	key := make([]byte, 0, len(prefix)+types.HashLength)
	key = append(key, prefix...)
	key = append(key, hash[:]...)
	return key
}

// numberKey builds a column key for a numeric index entry. Numbers are
// big-endian fixed-width so lexicographic order equals numeric order.
func numberKey(prefix string, number uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], number)
	return key
}

// branchNumberKey scopes a numeric index entry to one branch.
func branchNumberKey(branchID types.HashValue, number uint64) []byte {
	key := make([]byte, 0, len(PrefixBranchNum)+types.HashLength+8)
	key = append(key, PrefixBranchNum...)
	key = append(key, branchID[:]...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], number)
	key = append(key, buf[:]...)
	return key
}

// getJSON decodes the value at key into out; (false, nil) when absent.
// A present value that fails to decode is a hard error, never skipped.
func (s *Storage) getJSON(key []byte, out interface{}) (bool, error) {
	value, err := s.provider.Get(key)
	if err != nil {
		return false, err
	}
	if value == nil {
		return false, nil
	}
	if err := jsonx.Unmarshal(value, out); err != nil {
		return false, fmt.Errorf("failed to decode value at %q: %w", key, err)
	}
	return true, nil
}

func (s *Storage) putJSON(key []byte, value interface{}) error {
	encoded, err := jsonx.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %q: %w", key, err)
	}
	return s.provider.Put(key, encoded)
}

// GetStartupInfo returns the durable head pointer, or nil before first boot.
func (s *Storage) GetStartupInfo() (*types.StartupInfo, error) {
	var info types.StartupInfo
	found, err := s.getJSON([]byte(PrefixStartupInfo), &info)
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}

// SaveStartupInfo persists the head pointer read at next boot.
func (s *Storage) SaveStartupInfo(info *types.StartupInfo) error {
	return s.putJSON([]byte(PrefixStartupInfo), info)
}

// SaveBlockInfo persists the per-block accumulator snapshot.
func (s *Storage) SaveBlockInfo(info *types.BlockInfo) error {
	return s.putJSON(hashKey(PrefixBlockInfo, info.BlockID), info)
}

// GetBlockInfo returns the accumulator snapshot for a block, nil if absent.
func (s *Storage) GetBlockInfo(blockID types.HashValue) (*types.BlockInfo, error) {
	var info types.BlockInfo
	found, err := s.getJSON(hashKey(PrefixBlockInfo, blockID), &info)
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}
