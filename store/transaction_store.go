package store

import (
	"fmt"

	"github.com/megamcloud/starcoin/jsonx"
	"github.com/megamcloud/starcoin/types"
)

// SaveTransaction stores a signed transaction under its id.
func (s *Storage) SaveTransaction(txn types.SignedUserTransaction) error {
	return s.putJSON(hashKey(PrefixTransaction, txn.ID()), &txn)
}

// SaveTransactionBatch stores many transactions as one atomic batch.
func (s *Storage) SaveTransactionBatch(txns []types.SignedUserTransaction) error {
	if len(txns) == 0 {
		return nil
	}
	batch := s.provider.Batch()
	for i := range txns {
		value, err := jsonx.Marshal(&txns[i])
		if err != nil {
			return fmt.Errorf("failed to encode transaction: %w", err)
		}
		batch.Put(hashKey(PrefixTransaction, txns[i].ID()), value)
	}
	return batch.Write()
}

// GetTransaction returns the transaction under hash, nil if absent.
func (s *Storage) GetTransaction(txnHash types.HashValue) (*types.SignedUserTransaction, error) {
	var txn types.SignedUserTransaction
	found, err := s.getJSON(hashKey(PrefixTransaction, txnHash), &txn)
	if err != nil || !found {
		return nil, err
	}
	return &txn, nil
}

// SaveTransactionInfo stores one execution receipt keyed by the transaction
// hash it belongs to.
func (s *Storage) SaveTransactionInfo(info types.TransactionInfo) error {
	return s.putJSON(hashKey(PrefixTransactionInfo, info.TransactionHash), &info)
}

// SaveTransactionInfos stores many receipts as one atomic batch.
func (s *Storage) SaveTransactionInfos(infos []types.TransactionInfo) error {
	if len(infos) == 0 {
		return nil
	}
	batch := s.provider.Batch()
	for i := range infos {
		value, err := jsonx.Marshal(&infos[i])
		if err != nil {
			return fmt.Errorf("failed to encode transaction info: %w", err)
		}
		batch.Put(hashKey(PrefixTransactionInfo, infos[i].TransactionHash), value)
	}
	return batch.Write()
}

// GetTransactionInfo returns the receipt for a transaction, nil if absent.
func (s *Storage) GetTransactionInfo(txnHash types.HashValue) (*types.TransactionInfo, error) {
	var info types.TransactionInfo
	found, err := s.getJSON(hashKey(PrefixTransactionInfo, txnHash), &info)
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}

// SaveBlockTransactions records the ordered transaction hashes of a block.
func (s *Storage) SaveBlockTransactions(blockID types.HashValue, txnHashes []types.HashValue) error {
	return s.putJSON(hashKey(PrefixBlockTxns, blockID), txnHashes)
}

// GetBlockTransactions returns the ordered transaction hashes of a block;
// empty for an unknown block.
func (s *Storage) GetBlockTransactions(blockID types.HashValue) ([]types.HashValue, error) {
	var hashes []types.HashValue
	if _, err := s.getJSON(hashKey(PrefixBlockTxns, blockID), &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}
