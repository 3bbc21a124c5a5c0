package executor

import (
	"crypto/ed25519"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megamcloud/starcoin/db"
	"github.com/megamcloud/starcoin/state"
	"github.com/megamcloud/starcoin/store"
	"github.com/megamcloud/starcoin/types"
)

type account struct {
	priv ed25519.PrivateKey
	addr types.AccountAddress
}

func newAccount(t *testing.T) account {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return account{priv: priv, addr: types.AddressFromPublicKey(priv.Public().(ed25519.PublicKey))}
}

func testState(t *testing.T) *state.ChainStateDB {
	t.Helper()
	storage, err := store.NewStorage(db.NewMemProvider())
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return state.NewChainStateDB(storage, types.ZeroHash)
}

func fund(t *testing.T, stateDB *state.ChainStateDB, addr types.AccountAddress, balance uint64) {
	t.Helper()
	require.NoError(t, stateDB.SetAccountState(addr, types.NewAccountState(uint256.NewInt(balance))))
}

func transfer(sender account, recipient types.AccountAddress, amount, seq uint64) types.SignedUserTransaction {
	return types.SignTransaction(types.RawUserTransaction{
		Sender:              sender.addr,
		SequenceNumber:      seq,
		Recipient:           recipient,
		Amount:              uint256.NewInt(amount),
		MaxGasAmount:        10_000,
		GasUnitPrice:        1,
		ExpirationTimestamp: 1_000_000,
	}, sender.priv)
}

func TestExecuteTransferSuccess(t *testing.T) {
	stateDB := testState(t)
	alice := newAccount(t)
	bob := newAccount(t)
	fund(t, stateDB, alice.addr, 10_000)

	exec := NewTransferExecutor()
	output, err := exec.ExecuteTransaction(transfer(alice, bob.addr, 1_000, 0), stateDB, 100)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExecuted, output.Status.Kind)
	assert.Equal(t, uint64(transferGas), output.GasUsed)

	require.NoError(t, stateDB.ApplyWriteSet(output.WriteSet))

	sender, err := stateDB.GetAccountState(alice.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000-1_000-transferGas), sender.Balance.Uint64())
	assert.Equal(t, uint64(1), sender.SequenceNumber)

	recipient, err := stateDB.GetAccountState(bob.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), recipient.Balance.Uint64())
}

func TestExecuteDeterministic(t *testing.T) {
	alice := newAccount(t)
	bob := newAccount(t)
	txn := transfer(alice, bob.addr, 500, 0)
	exec := NewTransferExecutor()

	s1 := testState(t)
	fund(t, s1, alice.addr, 10_000)
	out1, err := exec.ExecuteTransaction(txn, s1, 100)
	require.NoError(t, err)

	s2 := testState(t)
	fund(t, s2, alice.addr, 10_000)
	out2, err := exec.ExecuteTransaction(txn, s2, 100)
	require.NoError(t, err)

	assert.Equal(t, out1, out2)
}

func TestDiscardStatuses(t *testing.T) {
	stateDB := testState(t)
	alice := newAccount(t)
	bob := newAccount(t)
	fund(t, stateDB, alice.addr, 10_000)
	exec := NewTransferExecutor()

	t.Run("bad signature", func(t *testing.T) {
		txn := transfer(alice, bob.addr, 100, 0)
		txn.Signature[0] ^= 0xff
		status, err := exec.ValidateTransaction(txn, stateDB, 100)
		require.NoError(t, err)
		assert.True(t, status.IsDiscard())
	})

	t.Run("expired", func(t *testing.T) {
		status, err := exec.ValidateTransaction(transfer(alice, bob.addr, 100, 0), stateDB, 2_000_000)
		require.NoError(t, err)
		assert.True(t, status.IsDiscard())
	})

	t.Run("unknown sender", func(t *testing.T) {
		stranger := newAccount(t)
		status, err := exec.ValidateTransaction(transfer(stranger, bob.addr, 100, 0), stateDB, 100)
		require.NoError(t, err)
		assert.True(t, status.IsDiscard())
	})

	t.Run("sequence mismatch", func(t *testing.T) {
		status, err := exec.ValidateTransaction(transfer(alice, bob.addr, 100, 7), stateDB, 100)
		require.NoError(t, err)
		assert.True(t, status.IsDiscard())
	})
}

func TestKeptFailureChargesGasOnly(t *testing.T) {
	stateDB := testState(t)
	alice := newAccount(t)
	bob := newAccount(t)
	fund(t, stateDB, alice.addr, transferGas+50)
	exec := NewTransferExecutor()

	// Gas is covered but the amount is not: kept failure.
	output, err := exec.ExecuteTransaction(transfer(alice, bob.addr, 10_000, 0), stateDB, 100)
	require.NoError(t, err)
	assert.Equal(t, types.StatusKeptFailure, output.Status.Kind)
	assert.Equal(t, uint64(transferGas), output.GasUsed)

	require.NoError(t, stateDB.ApplyWriteSet(output.WriteSet))
	sender, err := stateDB.GetAccountState(alice.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), sender.Balance.Uint64())
	assert.Equal(t, uint64(1), sender.SequenceNumber)

	recipient, err := stateDB.GetAccountState(bob.addr)
	require.NoError(t, err)
	assert.Nil(t, recipient)
}

func TestSelfTransferBurnsOnlyGas(t *testing.T) {
	stateDB := testState(t)
	alice := newAccount(t)
	fund(t, stateDB, alice.addr, 10_000)
	exec := NewTransferExecutor()

	output, err := exec.ExecuteTransaction(transfer(alice, alice.addr, 3_000, 0), stateDB, 100)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExecuted, output.Status.Kind)

	require.NoError(t, stateDB.ApplyWriteSet(output.WriteSet))
	account, err := stateDB.GetAccountState(alice.addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000-transferGas), account.Balance.Uint64())
	assert.Equal(t, uint64(1), account.SequenceNumber)
}
