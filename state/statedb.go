package state

import (
	"fmt"

	"github.com/megamcloud/starcoin/statetree"
	"github.com/megamcloud/starcoin/types"
)

// ChainStateReader is the read-only state view handed to the executor and
// to RPC-level callers.
type ChainStateReader interface {
	GetAccountState(addr types.AccountAddress) (*types.AccountState, error)
	StateRoot() types.HashValue
}

// ChainStateDB is a mutable account state view over the sparse Merkle tree.
// Mutations stay staged in the tree until Commit, so discarding a
// ChainStateDB discards its writes.
type ChainStateDB struct {
	tree *statetree.StateTree
}

// NewChainStateDB opens the state at root; a zero root is the empty state.
func NewChainStateDB(store statetree.NodeStore, root types.HashValue) *ChainStateDB {
	return &ChainStateDB{tree: statetree.NewStateTree(store, root)}
}

// GetAccountState returns the account under addr, nil if absent.
func (db *ChainStateDB) GetAccountState(addr types.AccountAddress) (*types.AccountState, error) {
	blob, err := db.tree.Get(addr.Hash())
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, nil
	}
	account, err := types.DecodeAccountState(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode account %s: %w", addr, err)
	}
	return account, nil
}

// SetAccountState stages the account under addr.
func (db *ChainStateDB) SetAccountState(addr types.AccountAddress, account *types.AccountState) error {
	blob, err := account.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode account %s: %w", addr, err)
	}
	return db.tree.Put(addr.Hash(), blob)
}

// ApplyWriteSet stages every mutation of a transaction output, in order.
func (db *ChainStateDB) ApplyWriteSet(ws types.WriteSet) error {
	for _, op := range ws {
		if op.Blob == nil {
			// account deletion is not part of transfer semantics
			return fmt.Errorf("unsupported delete op for %s", op.Address)
		}
		if err := db.tree.Put(op.Address.Hash(), op.Blob); err != nil {
			return err
		}
	}
	return nil
}

// StateRoot is the current (possibly uncommitted) root.
func (db *ChainStateDB) StateRoot() types.HashValue {
	return db.tree.Root()
}

// Commit persists staged nodes and returns the committed root.
func (db *ChainStateDB) Commit() (types.HashValue, error) {
	return db.tree.Commit()
}

// Fork returns an independent view at the same root with nothing staged.
func (db *ChainStateDB) Fork() *ChainStateDB {
	return &ChainStateDB{tree: db.tree.Fork()}
}
