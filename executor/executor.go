package executor

import (
	"github.com/holiman/uint256"

	"github.com/megamcloud/starcoin/state"
	"github.com/megamcloud/starcoin/types"
)

// transferGas is the flat gas cost of a transfer. Gas metering beyond the
// flat cost is out of scope for the built-in executor.
const transferGas = 600

// TransactionExecutor turns one transaction into its deterministic output
// against a read-only state view. Execution never mutates state directly;
// the caller applies the returned write set.
type TransactionExecutor interface {
	ExecuteTransaction(txn types.SignedUserTransaction, reader state.ChainStateReader, blockTimestamp uint64) (types.TransactionOutput, error)
	ValidateTransaction(txn types.SignedUserTransaction, reader state.ChainStateReader, blockTimestamp uint64) (types.VMStatus, error)
}

// TransferExecutor is the built-in executor: plain balance transfers with a
// flat gas cost. Same transaction against the same state always yields the
// same output.
type TransferExecutor struct{}

func NewTransferExecutor() *TransferExecutor {
	return &TransferExecutor{}
}

// ValidateTransaction runs the pre-execution checks that lead to a discard.
// A discarded transaction is never recorded and costs nothing.
func (e *TransferExecutor) ValidateTransaction(txn types.SignedUserTransaction, reader state.ChainStateReader, blockTimestamp uint64) (types.VMStatus, error) {
	if !txn.CheckSignature() {
		return types.DiscardStatus("invalid signature"), nil
	}
	if txn.Raw.ExpirationTimestamp <= blockTimestamp {
		return types.DiscardStatus("transaction expired"), nil
	}
	if txn.Raw.MaxGasAmount < transferGas {
		return types.DiscardStatus("max gas below transfer cost"), nil
	}
	sender, err := reader.GetAccountState(txn.Raw.Sender)
	if err != nil {
		return types.VMStatus{}, err
	}
	if sender == nil {
		return types.DiscardStatus("sender account not found"), nil
	}
	if txn.Raw.SequenceNumber != sender.SequenceNumber {
		return types.DiscardStatus("sequence number mismatch"), nil
	}
	gasFee := new(uint256.Int).Mul(
		uint256.NewInt(transferGas),
		uint256.NewInt(txn.Raw.GasUnitPrice),
	)
	if sender.Balance.Lt(gasFee) {
		return types.DiscardStatus("balance below gas fee"), nil
	}
	return types.KeepStatus(), nil
}

// ExecuteTransaction validates then executes. Discards produce an empty
// output; kept failures charge gas and bump the sequence number without
// moving the amount.
func (e *TransferExecutor) ExecuteTransaction(txn types.SignedUserTransaction, reader state.ChainStateReader, blockTimestamp uint64) (types.TransactionOutput, error) {
	status, err := e.ValidateTransaction(txn, reader, blockTimestamp)
	if err != nil {
		return types.TransactionOutput{}, err
	}
	if status.IsDiscard() {
		return types.TransactionOutput{Status: status}, nil
	}

	sender, err := reader.GetAccountState(txn.Raw.Sender)
	if err != nil {
		return types.TransactionOutput{}, err
	}
	gasFee := new(uint256.Int).Mul(
		uint256.NewInt(transferGas),
		uint256.NewInt(txn.Raw.GasUnitPrice),
	)
	total := new(uint256.Int).Add(txn.Raw.Amount, gasFee)

	senderNext := &types.AccountState{
		Balance:        new(uint256.Int).Set(sender.Balance),
		SequenceNumber: sender.SequenceNumber + 1,
		StorageRoots:   sender.StorageRoots,
	}

	if sender.Balance.Lt(total) {
		// Gas fee is covered (validated above) but the amount is not.
		senderNext.Balance.Sub(senderNext.Balance, gasFee)
		ws, err := writeSetFor(txn.Raw.Sender, senderNext)
		if err != nil {
			return types.TransactionOutput{}, err
		}
		return types.TransactionOutput{
			WriteSet: ws,
			GasUsed:  transferGas,
			Status:   types.KeepFailureStatus("insufficient balance"),
		}, nil
	}

	senderNext.Balance.Sub(senderNext.Balance, total)
	if txn.Raw.Recipient == txn.Raw.Sender {
		// Self transfer only burns the gas fee.
		senderNext.Balance.Add(senderNext.Balance, txn.Raw.Amount)
		ws, err := writeSetFor(txn.Raw.Sender, senderNext)
		if err != nil {
			return types.TransactionOutput{}, err
		}
		return types.TransactionOutput{
			WriteSet: ws,
			GasUsed:  transferGas,
			Status:   types.KeepStatus(),
		}, nil
	}

	recipient, err := reader.GetAccountState(txn.Raw.Recipient)
	if err != nil {
		return types.TransactionOutput{}, err
	}
	if recipient == nil {
		recipient = types.NewAccountState(uint256.NewInt(0))
	}
	recipientNext := &types.AccountState{
		Balance:        new(uint256.Int).Add(recipient.Balance, txn.Raw.Amount),
		SequenceNumber: recipient.SequenceNumber,
		StorageRoots:   recipient.StorageRoots,
	}

	ws, err := writeSetFor(txn.Raw.Sender, senderNext)
	if err != nil {
		return types.TransactionOutput{}, err
	}
	more, err := writeSetFor(txn.Raw.Recipient, recipientNext)
	if err != nil {
		return types.TransactionOutput{}, err
	}
	ws = append(ws, more...)
	return types.TransactionOutput{
		WriteSet: ws,
		GasUsed:  transferGas,
		Status:   types.KeepStatus(),
	}, nil
}

func writeSetFor(addr types.AccountAddress, account *types.AccountState) (types.WriteSet, error) {
	blob, err := account.Encode()
	if err != nil {
		return nil, err
	}
	return types.WriteSet{{Address: addr, Blob: blob}}, nil
}
