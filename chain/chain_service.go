package chain

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/megamcloud/starcoin/accumulator"
	"github.com/megamcloud/starcoin/consensus"
	"github.com/megamcloud/starcoin/events"
	"github.com/megamcloud/starcoin/executor"
	"github.com/megamcloud/starcoin/logx"
	"github.com/megamcloud/starcoin/state"
	"github.com/megamcloud/starcoin/store"
	"github.com/megamcloud/starcoin/types"
)

// ErrParentNotFound rejects a block whose parent is unknown locally; the
// caller is expected to sync the gap first.
var ErrParentNotFound = fmt.Errorf("parent block not found")

// GenesisAllocation pre-funds one account in block zero.
type GenesisAllocation struct {
	Address types.AccountAddress
	Balance *uint256.Int
}

// ChainService owns the head chain and every candidate branch. All
// mutations funnel through TryConnect under one lock, so fork choice always
// sees a consistent branch set.
type ChainService struct {
	mu sync.Mutex

	storage   *store.Storage
	executor  executor.TransactionExecutor
	consensus consensus.Consensus
	bus       *events.EventBus

	head     *BlockChain
	branches []*BlockChain
}

// NewChainService restores the service from the durable startup info,
// writing the genesis block first on an empty store. The allocation only
// applies when genesis is created here; a restored chain ignores it.
func NewChainService(storage *store.Storage, exec executor.TransactionExecutor, cons consensus.Consensus, alloc []GenesisAllocation) (*ChainService, error) {
	startup, err := storage.GetStartupInfo()
	if err != nil {
		return nil, err
	}
	if startup == nil {
		startup, err = bootstrapGenesis(storage, alloc)
		if err != nil {
			return nil, err
		}
	}

	head, err := NewBlockChain(storage, exec, cons, startup.HeadBlock, startup.HeadBlock, true)
	if err != nil {
		return nil, err
	}
	service := &ChainService{
		storage:   storage,
		executor:  exec,
		consensus: cons,
		bus:       events.NewEventBus(),
		head:      head,
	}
	for _, tip := range startup.Branches {
		branch, err := NewBlockChain(storage, exec, cons, tip, tip, false)
		if err != nil {
			return nil, err
		}
		service.branches = append(service.branches, branch)
	}
	return service, nil
}

// bootstrapGenesis writes block zero: the configured accounts funded over
// an otherwise empty state, and an empty accumulator.
func bootstrapGenesis(storage *store.Storage, alloc []GenesisAllocation) (*types.StartupInfo, error) {
	stateDB := state.NewChainStateDB(storage, types.ZeroHash)
	for _, entry := range alloc {
		account := types.NewAccountState(entry.Balance)
		if err := stateDB.SetAccountState(entry.Address, account); err != nil {
			return nil, err
		}
	}
	stateRoot, err := stateDB.Commit()
	if err != nil {
		return nil, err
	}
	acc := accumulator.NewAccumulator(storage)
	genesis := types.GenesisBlock(acc.Root(), stateRoot, []byte{})

	if err := storage.CommitBlock(genesis); err != nil {
		return nil, err
	}
	if err := storage.SaveBlockInfo(acc.GetBlockInfo(genesis.ID())); err != nil {
		return nil, err
	}
	startup := &types.StartupInfo{HeadBlock: genesis.ID()}
	if err := storage.SaveStartupInfo(startup); err != nil {
		return nil, err
	}
	logx.Info("CHAIN", "genesis block written: "+genesis.ID().ShortString())
	return startup, nil
}

// HeadBlock returns the current head chain's tip block.
func (s *ChainService) HeadBlock() *types.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head.HeadBlock()
}

// CurrentHeader returns the current head chain's tip header.
func (s *ChainService) CurrentHeader() *types.BlockHeader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head.CurrentHeader()
}

func (s *ChainService) GetHeaderByHash(hash types.HashValue) (*types.BlockHeader, error) {
	return s.storage.GetHeader(hash)
}

func (s *ChainService) GetBlock(hash types.HashValue) (*types.Block, error) {
	return s.storage.GetBlock(hash)
}

func (s *ChainService) GetHeaderByNumber(number types.BlockNumber) (*types.BlockHeader, error) {
	s.mu.Lock()
	head := s.head
	s.mu.Unlock()
	return head.GetHeaderByNumber(number)
}

func (s *ChainService) GetBlockByNumber(number types.BlockNumber) (*types.Block, error) {
	s.mu.Lock()
	head := s.head
	s.mu.Unlock()
	return head.GetBlockByNumber(number)
}

func (s *ChainService) GetTransaction(txnHash types.HashValue) (*types.SignedUserTransaction, error) {
	return s.storage.GetTransaction(txnHash)
}

func (s *ChainService) GetTransactionInfo(txnHash types.HashValue) (*types.TransactionInfo, error) {
	return s.storage.GetTransactionInfo(txnHash)
}

// ChainStateReader exposes account state at the current head.
func (s *ChainService) ChainStateReader() state.ChainStateReader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head.ChainStateReader()
}

// StateAt opens a read-only state view at an arbitrary state root.
func (s *ChainService) StateAt(root types.HashValue) state.ChainStateReader {
	return state.NewChainStateDB(s.storage, root)
}

// CreateBlockTemplate assembles a candidate block on the current head.
func (s *ChainService) CreateBlockTemplate(author types.AccountAddress, txns []types.SignedUserTransaction) (*types.BlockTemplate, error) {
	s.mu.Lock()
	head := s.head
	s.mu.Unlock()
	return head.CreateBlockTemplate(author, txns)
}

// Events exposes the bus carrying head and branch notifications.
func (s *ChainService) Events() *events.EventBus {
	return s.bus
}

// BranchCount reports how many non-head candidate branches exist.
func (s *ChainService) BranchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.branches)
}

// findOrFork locates the branch whose tip is the header's parent, forking a
// new branch off stored history when no live branch matches.
func (s *ChainService) findOrFork(header *types.BlockHeader) (*BlockChain, error) {
	if header.ParentHash == s.head.HeadBlock().ID() {
		return s.head, nil
	}
	for _, branch := range s.branches {
		if header.ParentHash == branch.HeadBlock().ID() {
			return branch, nil
		}
	}

	parent, err := s.storage.GetBlock(header.ParentHash)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("%w: %s", ErrParentNotFound, header.ParentHash)
	}
	// The new branch is keyed by its first block so sibling forks off the
	// same parent cannot collide in the number index.
	branch, err := NewBlockChain(s.storage, s.executor, s.consensus, parent.ID(), header.ID(), false)
	if err != nil {
		return nil, err
	}
	s.branches = append(s.branches, branch)
	logx.Info("CHAIN", fmt.Sprintf("forked new branch %s at parent %s", header.ID().ShortString(), parent.ID().ShortString()))
	s.bus.Publish(events.NewBranchEvent{Header: header})
	return branch, nil
}

// TryConnect applies an externally supplied block: find or fork the owning
// branch, apply, then re-run fork choice. A block that fails validation or
// execution leaves every branch untouched.
func (s *ChainService) TryConnect(block *types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.storage.GetHeader(block.ID())
	if err != nil {
		return err
	}
	if existing != nil {
		logx.Debug("CHAIN", "ignoring known block "+block.ID().ShortString())
		return nil
	}

	headBefore := s.head.HeadBlock().ID()
	branch, err := s.findOrFork(&block.Header)
	if err != nil {
		return err
	}
	if err := branch.Apply(block); err != nil {
		return err
	}
	if err := s.selectHead(); err != nil {
		return err
	}
	if headAfter := s.head.CurrentHeader(); headAfter.ID() != headBefore {
		s.bus.Publish(events.NewHeadEvent{Header: headAfter})
	}
	return nil
}

// selectHead re-runs fork choice over the head and all branches: greatest
// total difficulty wins, ties fall to the lexicographically smaller tip
// hash so every node picks the same winner.
func (s *ChainService) selectHead() error {
	best := s.head
	for _, branch := range s.branches {
		switch branch.TotalDifficulty().Cmp(best.TotalDifficulty()) {
		case 1:
			best = branch
		case 0:
			bestID := best.HeadBlock().ID()
			branchID := branch.HeadBlock().ID()
			if bytes.Compare(branchID[:], bestID[:]) < 0 {
				best = branch
			}
		}
	}

	if best != s.head {
		if err := s.promote(best); err != nil {
			return err
		}
	}
	return s.saveStartupInfo()
}

// promote swaps a winning branch into the head position and rebuilds the
// canonical number index for the blocks it contributes.
func (s *ChainService) promote(winner *BlockChain) error {
	old := s.head

	ancestor, err := s.storage.GetCommonAncestor(winner.HeadBlock().ID(), old.HeadBlock().ID())
	if err != nil {
		return err
	}
	if err := s.reindexCanonical(winner.HeadBlock().ID(), ancestor); err != nil {
		return err
	}
	// Heights beyond the new tip must not keep resolving to demoted blocks.
	for number := winner.CurrentHeader().Number + 1; number <= old.CurrentHeader().Number; number++ {
		if err := s.storage.DeleteNumber(number); err != nil {
			return err
		}
	}
	if err := s.indexDemotedBranch(old, ancestor); err != nil {
		return err
	}

	for i, branch := range s.branches {
		if branch == winner {
			s.branches = append(s.branches[:i], s.branches[i+1:]...)
			break
		}
	}
	winner.isHead = true
	old.isHead = false
	s.branches = append(s.branches, old)
	s.head = winner
	logx.Info("CHAIN", fmt.Sprintf("head switched to %s number %d", winner.HeadBlock().ID().ShortString(), winner.CurrentHeader().Number))
	return nil
}

// indexDemotedBranch writes branch-number entries for the outgoing head
// chain from its tip down to (excluding) ancestor; those blocks were only
// indexed canonically while it was head. The demoted chain is rekeyed by
// its first block above the ancestor, matching how forks are keyed.
func (s *ChainService) indexDemotedBranch(old *BlockChain, ancestor types.HashValue) error {
	var headers []*types.BlockHeader
	for current := old.HeadBlock().ID(); current != ancestor; {
		header, err := s.storage.GetHeader(current)
		if err != nil {
			return err
		}
		if header == nil {
			return fmt.Errorf("missing header %s while demoting", current)
		}
		headers = append(headers, header)
		current = header.ParentHash
	}
	if len(headers) == 0 {
		return nil
	}
	branchID := headers[len(headers)-1].ID()
	for _, header := range headers {
		if err := s.storage.SaveBranchNumber(branchID, header.Number, header.ID()); err != nil {
			return err
		}
	}
	old.branchID = branchID
	return nil
}

// reindexCanonical writes global number entries for every block from tip
// down to (excluding) ancestor.
func (s *ChainService) reindexCanonical(tip, ancestor types.HashValue) error {
	for current := tip; current != ancestor; {
		header, err := s.storage.GetHeader(current)
		if err != nil {
			return err
		}
		if header == nil {
			return fmt.Errorf("missing header %s while reindexing", current)
		}
		if err := s.storage.SaveNumber(header.Number, current); err != nil {
			return err
		}
		current = header.ParentHash
	}
	return nil
}

func (s *ChainService) saveStartupInfo() error {
	info := &types.StartupInfo{HeadBlock: s.head.HeadBlock().ID()}
	for _, branch := range s.branches {
		info.Branches = append(info.Branches, branch.HeadBlock().ID())
	}
	return s.storage.SaveStartupInfo(info)
}
