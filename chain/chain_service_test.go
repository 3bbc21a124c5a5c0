package chain

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megamcloud/starcoin/consensus"
	"github.com/megamcloud/starcoin/db"
	"github.com/megamcloud/starcoin/events"
	"github.com/megamcloud/starcoin/executor"
	"github.com/megamcloud/starcoin/store"
	"github.com/megamcloud/starcoin/types"
)

// fixedConsensus removes the dummy engine's randomness and sleep so chain
// tests are fast and deterministic.
type fixedConsensus struct {
	difficulty uint64
}

func (c fixedConsensus) CalculateNextDifficulty(consensus.ChainReader) (*uint256.Int, error) {
	return uint256.NewInt(c.difficulty), nil
}

func (c fixedConsensus) SolveConsensusHeader([]byte, *uint256.Int) []byte {
	return []byte{}
}

func (c fixedConsensus) VerifyHeader(consensus.ChainReader, *types.BlockHeader) error {
	return nil
}

type testAccount struct {
	priv ed25519.PrivateKey
	addr types.AccountAddress
}

func newTestAccount(t *testing.T) testAccount {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return testAccount{priv: priv, addr: types.AddressFromPublicKey(priv.Public().(ed25519.PublicKey))}
}

func testStorage(t *testing.T) *store.Storage {
	t.Helper()
	storage, err := store.NewStorage(db.NewMemProvider())
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func newTestService(t *testing.T, storage *store.Storage, alloc []GenesisAllocation) *ChainService {
	t.Helper()
	service, err := NewChainService(storage, executor.NewTransferExecutor(), fixedConsensus{difficulty: 1}, alloc)
	require.NoError(t, err)
	return service
}

// mineNext produces a valid block on the service's head through the normal
// template path.
func mineNext(t *testing.T, service *ChainService, txns []types.SignedUserTransaction) *types.Block {
	t.Helper()
	template, err := service.CreateBlockTemplate(types.DefaultAddress, txns)
	require.NoError(t, err)
	return template.IntoBlock([]byte{})
}

// siblingOf handcrafts an empty block on top of parent with the given
// difficulty; valid because an empty body leaves both roots unchanged.
func siblingOf(parent *types.Block, difficulty, timestamp uint64) *types.Block {
	header := types.BlockHeader{
		ParentHash:      parent.ID(),
		Timestamp:       timestamp,
		Number:          parent.Header.Number + 1,
		Author:          types.DefaultAddress,
		AccumulatorRoot: parent.Header.AccumulatorRoot,
		StateRoot:       parent.Header.StateRoot,
		GasUsed:         0,
		GasLimit:        defaultGasLimit,
		Difficulty:      uint256.NewInt(difficulty),
		TotalDifficulty: new(uint256.Int).AddUint64(parent.Header.TotalDifficulty, difficulty),
		ConsensusHeader: []byte{},
	}
	return types.NewBlock(header, types.BlockBody{})
}

func TestGenesisBootstrapDeterministic(t *testing.T) {
	alloc := []GenesisAllocation{{Address: types.DefaultAddress, Balance: uint256.NewInt(1_000_000)}}
	s1 := newTestService(t, testStorage(t), alloc)
	s2 := newTestService(t, testStorage(t), alloc)

	assert.Equal(t, s1.CurrentHeader().ID(), s2.CurrentHeader().ID())
	assert.Equal(t, uint64(0), s1.CurrentHeader().Number)
	assert.Equal(t, types.ZeroHash, s1.CurrentHeader().ParentHash)
}

func TestGenesisAllocationFunded(t *testing.T) {
	account := newTestAccount(t)
	service := newTestService(t, testStorage(t), []GenesisAllocation{
		{Address: account.addr, Balance: uint256.NewInt(5_000)},
	})
	state, err := service.ChainStateReader().GetAccountState(account.addr)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, uint64(5_000), state.Balance.Uint64())
}

func TestTryConnectExtendsHead(t *testing.T) {
	storage := testStorage(t)
	service := newTestService(t, storage, nil)
	genesisID := service.CurrentHeader().ID()

	block := mineNext(t, service, nil)
	require.NoError(t, service.TryConnect(block))

	head := service.CurrentHeader()
	assert.Equal(t, block.ID(), head.ID())
	assert.Equal(t, uint64(1), head.Number)
	assert.Equal(t, genesisID, head.ParentHash)

	byNumber, err := service.GetBlockByNumber(1)
	require.NoError(t, err)
	require.NotNil(t, byNumber)
	assert.Equal(t, block.ID(), byNumber.ID())
}

func TestTryConnectExecutesTransactions(t *testing.T) {
	alice := newTestAccount(t)
	bob := newTestAccount(t)
	service := newTestService(t, testStorage(t), []GenesisAllocation{
		{Address: alice.addr, Balance: uint256.NewInt(100_000)},
	})

	txn := types.SignTransaction(types.RawUserTransaction{
		Sender:              alice.addr,
		SequenceNumber:      0,
		Recipient:           bob.addr,
		Amount:              uint256.NewInt(2_500),
		MaxGasAmount:        10_000,
		GasUnitPrice:        1,
		ExpirationTimestamp: ^uint64(0),
	}, alice.priv)

	block := mineNext(t, service, []types.SignedUserTransaction{txn})
	require.Len(t, block.Body.Transactions, 1)
	require.NoError(t, service.TryConnect(block))

	recipient, err := service.ChainStateReader().GetAccountState(bob.addr)
	require.NoError(t, err)
	require.NotNil(t, recipient)
	assert.Equal(t, uint64(2_500), recipient.Balance.Uint64())

	info, err := service.GetTransactionInfo(txn.ID())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, types.StatusExecuted, info.Status.Kind)

	stored, err := service.GetTransaction(txn.ID())
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestTryConnectDuplicateIsNoop(t *testing.T) {
	service := newTestService(t, testStorage(t), nil)
	block := mineNext(t, service, nil)
	require.NoError(t, service.TryConnect(block))
	require.NoError(t, service.TryConnect(block))
	assert.Equal(t, block.ID(), service.CurrentHeader().ID())
}

func TestTryConnectUnknownParent(t *testing.T) {
	service := newTestService(t, testStorage(t), nil)
	genesis := service.HeadBlock()

	orphan := siblingOf(genesis, 1, 50)
	orphan.Header.ParentHash = types.RandomHash()

	err := service.TryConnect(orphan)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestTryConnectNilDifficultyRejected(t *testing.T) {
	service := newTestService(t, testStorage(t), nil)
	genesis := service.HeadBlock()
	headBefore := service.CurrentHeader().ID()

	// A peer block decoded without difficulty fields must be rejected, not
	// crash the service.
	bad := siblingOf(genesis, 1, 10)
	bad.Header.Difficulty = nil
	bad.Header.TotalDifficulty = nil

	require.Error(t, service.TryConnect(bad))
	assert.Equal(t, headBefore, service.CurrentHeader().ID())
}

func TestForkChoicePrefersGreaterTotalDifficulty(t *testing.T) {
	service := newTestService(t, testStorage(t), nil)
	genesis := service.HeadBlock()

	a := siblingOf(genesis, 1, 10)
	require.NoError(t, service.TryConnect(a))
	assert.Equal(t, a.ID(), service.CurrentHeader().ID())

	// A heavier sibling of the head displaces it.
	b := siblingOf(genesis, 5, 11)
	require.NoError(t, service.TryConnect(b))
	assert.Equal(t, b.ID(), service.CurrentHeader().ID())
	assert.Equal(t, 1, service.BranchCount())

	// A lighter newcomer does not.
	c := siblingOf(genesis, 2, 12)
	require.NoError(t, service.TryConnect(c))
	assert.Equal(t, b.ID(), service.CurrentHeader().ID())
}

func TestForkChoiceHeadMonotoneInTotalDifficulty(t *testing.T) {
	service := newTestService(t, testStorage(t), nil)
	genesis := service.HeadBlock()

	previous := service.CurrentHeader().TotalDifficulty.Clone()
	blocks := []*types.Block{
		siblingOf(genesis, 3, 10),
		siblingOf(genesis, 1, 11),
		siblingOf(genesis, 7, 12),
	}
	for _, block := range blocks {
		require.NoError(t, service.TryConnect(block))
		current := service.CurrentHeader().TotalDifficulty
		assert.True(t, current.Cmp(previous) >= 0, "head total difficulty decreased")
		previous = current.Clone()
	}
	assert.Equal(t, blocks[2].ID(), service.CurrentHeader().ID())
}

func TestForkChoiceTieBreaksToSmallerHash(t *testing.T) {
	service := newTestService(t, testStorage(t), nil)
	genesis := service.HeadBlock()

	// Equal difficulty siblings; only the timestamps differ.
	x := siblingOf(genesis, 1, 10)
	y := siblingOf(genesis, 1, 11)
	require.NoError(t, service.TryConnect(x))
	require.NoError(t, service.TryConnect(y))

	xID, yID := x.ID(), y.ID()
	want := xID
	if bytes.Compare(yID[:], xID[:]) < 0 {
		want = yID
	}
	assert.Equal(t, want, service.CurrentHeader().ID())
}

func TestApplyRejectsWrongStateRoot(t *testing.T) {
	alice := newTestAccount(t)
	bob := newTestAccount(t)
	service := newTestService(t, testStorage(t), []GenesisAllocation{
		{Address: alice.addr, Balance: uint256.NewInt(100_000)},
	})
	headBefore := service.CurrentHeader().ID()

	txn := types.SignTransaction(types.RawUserTransaction{
		Sender:              alice.addr,
		SequenceNumber:      0,
		Recipient:           bob.addr,
		Amount:              uint256.NewInt(100),
		MaxGasAmount:        10_000,
		GasUnitPrice:        1,
		ExpirationTimestamp: ^uint64(0),
	}, alice.priv)

	// The header claims the parent's roots but the body moves money, so the
	// computed roots cannot match.
	bad := siblingOf(service.HeadBlock(), 1, 10)
	bad.Body.Transactions = []types.SignedUserTransaction{txn}
	bad.Header.GasUsed = 600

	require.Error(t, service.TryConnect(bad))

	// Head unchanged, nothing persisted, state untouched.
	assert.Equal(t, headBefore, service.CurrentHeader().ID())
	header, err := service.GetHeaderByHash(bad.ID())
	require.NoError(t, err)
	assert.Nil(t, header)
	recipient, err := service.ChainStateReader().GetAccountState(bob.addr)
	require.NoError(t, err)
	assert.Nil(t, recipient)
}

func TestApplyRejectsDiscardedTransaction(t *testing.T) {
	alice := newTestAccount(t)
	service := newTestService(t, testStorage(t), nil)
	headBefore := service.CurrentHeader().ID()

	// Unknown sender: the executor discards, so the block is invalid.
	txn := types.SignTransaction(types.RawUserTransaction{
		Sender:              alice.addr,
		Recipient:           types.DefaultAddress,
		Amount:              uint256.NewInt(1),
		MaxGasAmount:        10_000,
		GasUnitPrice:        1,
		ExpirationTimestamp: ^uint64(0),
	}, alice.priv)

	bad := siblingOf(service.HeadBlock(), 1, 10)
	bad.Body.Transactions = []types.SignedUserTransaction{txn}

	require.Error(t, service.TryConnect(bad))
	assert.Equal(t, headBefore, service.CurrentHeader().ID())
}

func TestRestartRestoresHeadAndBranches(t *testing.T) {
	storage := testStorage(t)
	service := newTestService(t, storage, nil)
	genesis := service.HeadBlock()

	a := siblingOf(genesis, 1, 10)
	b := siblingOf(genesis, 5, 11)
	require.NoError(t, service.TryConnect(a))
	require.NoError(t, service.TryConnect(b))
	headID := service.CurrentHeader().ID()
	branchCount := service.BranchCount()

	restarted := newTestService(t, storage, nil)
	assert.Equal(t, headID, restarted.CurrentHeader().ID())
	assert.Equal(t, branchCount, restarted.BranchCount())
}

func TestReorgDropsStaleCanonicalNumbers(t *testing.T) {
	storage := testStorage(t)
	service := newTestService(t, storage, nil)
	genesis := service.HeadBlock()

	a1 := siblingOf(genesis, 1, 10)
	require.NoError(t, service.TryConnect(a1))
	a2 := siblingOf(a1, 1, 11)
	require.NoError(t, service.TryConnect(a2))

	// Shorter but heavier chain wins the reorg.
	b1 := siblingOf(genesis, 5, 12)
	require.NoError(t, service.TryConnect(b1))
	require.Equal(t, b1.ID(), service.CurrentHeader().ID())

	header, err := service.GetHeaderByNumber(1)
	require.NoError(t, err)
	assert.Equal(t, b1.ID(), header.ID())

	// Height 2 belongs to the demoted chain only; the canonical index must
	// not resolve it, and the latest header must be the head tip.
	_, found, err := storage.GetNumber(2)
	require.NoError(t, err)
	assert.False(t, found)

	latest, err := storage.GetLatestHeader()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, b1.ID(), latest.ID())
}

func TestDemotedBranchReadableByNumber(t *testing.T) {
	service := newTestService(t, testStorage(t), nil)
	genesis := service.HeadBlock()

	a1 := siblingOf(genesis, 1, 10)
	require.NoError(t, service.TryConnect(a1))
	a2 := siblingOf(a1, 1, 11)
	require.NoError(t, service.TryConnect(a2))

	b1 := siblingOf(genesis, 5, 12)
	require.NoError(t, service.TryConnect(b1))
	require.Equal(t, b1.ID(), service.CurrentHeader().ID())

	// The demoted chain is rekeyed by its first block and its heights stay
	// readable through its own index.
	require.Len(t, service.branches, 1)
	demoted := service.branches[0]
	assert.Equal(t, a2.ID(), demoted.HeadBlock().ID())
	assert.Equal(t, a1.ID(), demoted.BranchID())

	header, err := demoted.GetHeaderByNumber(1)
	require.NoError(t, err)
	require.NotNil(t, header)
	assert.Equal(t, a1.ID(), header.ID())

	header, err = demoted.GetHeaderByNumber(2)
	require.NoError(t, err)
	require.NotNil(t, header)
	assert.Equal(t, a2.ID(), header.ID())
}

func TestHeadEventsPublished(t *testing.T) {
	service := newTestService(t, testStorage(t), nil)
	genesis := service.HeadBlock()
	_, ch := service.Events().Subscribe()

	a := siblingOf(genesis, 1, 10)
	require.NoError(t, service.TryConnect(a))
	event := <-ch
	head, ok := event.(events.NewHeadEvent)
	require.True(t, ok)
	assert.Equal(t, a.ID(), head.Header.ID())

	// A heavier sibling produces a branch event followed by a head event.
	b := siblingOf(genesis, 5, 11)
	require.NoError(t, service.TryConnect(b))
	event = <-ch
	branch, ok := event.(events.NewBranchEvent)
	require.True(t, ok)
	assert.Equal(t, b.ID(), branch.Header.ID())
	event = <-ch
	head, ok = event.(events.NewHeadEvent)
	require.True(t, ok)
	assert.Equal(t, b.ID(), head.Header.ID())
}

func TestPromotedBranchGetsCanonicalNumbers(t *testing.T) {
	service := newTestService(t, testStorage(t), nil)
	genesis := service.HeadBlock()

	a := siblingOf(genesis, 1, 10)
	require.NoError(t, service.TryConnect(a))

	b := siblingOf(genesis, 5, 11)
	require.NoError(t, service.TryConnect(b))
	require.Equal(t, b.ID(), service.CurrentHeader().ID())

	// Number 1 now resolves to the promoted branch's block.
	header, err := service.GetHeaderByNumber(1)
	require.NoError(t, err)
	require.NotNil(t, header)
	assert.Equal(t, b.ID(), header.ID())
}
