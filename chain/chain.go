package chain

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/megamcloud/starcoin/accumulator"
	"github.com/megamcloud/starcoin/consensus"
	"github.com/megamcloud/starcoin/executor"
	"github.com/megamcloud/starcoin/logx"
	"github.com/megamcloud/starcoin/state"
	"github.com/megamcloud/starcoin/store"
	"github.com/megamcloud/starcoin/types"
)

// defaultGasLimit caps the gas of every produced block until dynamic gas
// limits are needed.
const defaultGasLimit = 1_000_000

// BlockChain is a read/write view of one branch. It holds only the head
// block and the accumulator position in memory; everything else is looked
// up in the store on demand.
type BlockChain struct {
	storage   *store.Storage
	executor  executor.TransactionExecutor
	consensus consensus.Consensus

	head *types.Block
	acc  *accumulator.Accumulator

	// branchID keys this branch's number index; the head branch writes the
	// global number index instead.
	branchID types.HashValue
	isHead   bool
}

// NewBlockChain opens a branch view whose tip is headBlockID.
func NewBlockChain(storage *store.Storage, exec executor.TransactionExecutor, cons consensus.Consensus, headBlockID, branchID types.HashValue, isHead bool) (*BlockChain, error) {
	head, err := storage.GetBlock(headBlockID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, fmt.Errorf("head block %s not found", headBlockID)
	}
	info, err := storage.GetBlockInfo(headBlockID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("block info for %s not found", headBlockID)
	}
	return &BlockChain{
		storage:   storage,
		executor:  exec,
		consensus: cons,
		head:      head,
		acc:       accumulator.NewAccumulatorFromInfo(storage, info),
		branchID:  branchID,
		isHead:    isHead,
	}, nil
}

func (c *BlockChain) HeadBlock() *types.Block {
	return c.head
}

func (c *BlockChain) CurrentHeader() *types.BlockHeader {
	return &c.head.Header
}

func (c *BlockChain) BranchID() types.HashValue {
	return c.branchID
}

// TotalDifficulty of the branch tip; the fork-choice ranking key.
func (c *BlockChain) TotalDifficulty() *uint256.Int {
	return c.head.Header.TotalDifficulty
}

func (c *BlockChain) GetHeaderByHash(hash types.HashValue) (*types.BlockHeader, error) {
	return c.storage.GetHeader(hash)
}

func (c *BlockChain) GetBlock(hash types.HashValue) (*types.Block, error) {
	return c.storage.GetBlock(hash)
}

// GetHeaderByNumber resolves a height within this branch's number index.
func (c *BlockChain) GetHeaderByNumber(number types.BlockNumber) (*types.BlockHeader, error) {
	if c.isHead {
		return c.storage.GetHeaderByNumber(number)
	}
	return c.storage.GetHeaderByBranchNumber(c.branchID, number)
}

func (c *BlockChain) GetBlockByNumber(number types.BlockNumber) (*types.Block, error) {
	if c.isHead {
		return c.storage.GetBlockByNumber(number)
	}
	return c.storage.GetBlockByBranchNumber(c.branchID, number)
}

func (c *BlockChain) GetTransaction(txnHash types.HashValue) (*types.SignedUserTransaction, error) {
	return c.storage.GetTransaction(txnHash)
}

func (c *BlockChain) GetTransactionInfo(txnHash types.HashValue) (*types.TransactionInfo, error) {
	return c.storage.GetTransactionInfo(txnHash)
}

// ChainStateReader is the account state view at the branch tip.
func (c *BlockChain) ChainStateReader() state.ChainStateReader {
	return state.NewChainStateDB(c.storage, c.head.Header.StateRoot)
}

// CreateBlockTemplate assembles a candidate block on top of the current
// head. Transactions the executor discards are dropped from the body;
// nothing is persisted.
func (c *BlockChain) CreateBlockTemplate(author types.AccountAddress, txns []types.SignedUserTransaction) (*types.BlockTemplate, error) {
	parent := &c.head.Header
	timestamp := uint64(time.Now().UnixMilli())
	if timestamp <= parent.Timestamp {
		timestamp = parent.Timestamp + 1
	}

	stateDB := state.NewChainStateDB(c.storage, parent.StateRoot)
	acc := c.acc.Fork()

	var (
		kept    []types.SignedUserTransaction
		leaves  []types.HashValue
		gasUsed uint64
	)
	for _, txn := range txns {
		output, err := c.executor.ExecuteTransaction(txn, stateDB, timestamp)
		if err != nil {
			return nil, err
		}
		if output.Status.IsDiscard() {
			logx.Debug("CHAIN", fmt.Sprintf("dropping txn %s from template: %s", txn.ID().ShortString(), output.Status.Reason))
			continue
		}
		if gasUsed+output.GasUsed > defaultGasLimit {
			break
		}
		if err := stateDB.ApplyWriteSet(output.WriteSet); err != nil {
			return nil, err
		}
		gasUsed += output.GasUsed
		kept = append(kept, txn)
		info := types.TransactionInfo{
			TransactionHash: txn.ID(),
			StateRootHash:   stateDB.StateRoot(),
			GasUsed:         output.GasUsed,
			Status:          output.Status,
		}
		leaves = append(leaves, info.ID())
	}
	acc.Append(leaves...)

	difficulty, err := c.consensus.CalculateNextDifficulty(c)
	if err != nil {
		return nil, err
	}
	return &types.BlockTemplate{
		ParentHash:      c.head.ID(),
		Timestamp:       timestamp,
		Number:          parent.Number + 1,
		Author:          author,
		AccumulatorRoot: acc.Root(),
		StateRoot:       stateDB.StateRoot(),
		GasUsed:         gasUsed,
		GasLimit:        defaultGasLimit,
		Difficulty:      difficulty,
		TotalDifficulty: new(uint256.Int).Add(parent.TotalDifficulty, difficulty),
		Body:            types.BlockBody{Transactions: kept},
	}, nil
}

// verifyHeader runs the structural checks that tie a block to this branch
// tip before any transaction executes.
func (c *BlockChain) verifyHeader(header *types.BlockHeader) error {
	parent := &c.head.Header
	if header.ParentHash != c.head.ID() {
		return fmt.Errorf("block %s does not extend branch tip %s", header.ID(), c.head.ID())
	}
	if header.Number != parent.Number+1 {
		return fmt.Errorf("block number %d does not follow %d", header.Number, parent.Number)
	}
	if header.Timestamp < parent.Timestamp {
		return fmt.Errorf("block timestamp %d precedes parent %d", header.Timestamp, parent.Timestamp)
	}
	if header.GasUsed > header.GasLimit {
		return fmt.Errorf("gas used %d exceeds limit %d", header.GasUsed, header.GasLimit)
	}
	if header.Difficulty == nil || header.TotalDifficulty == nil {
		return fmt.Errorf("block %s has no difficulty", header.ID())
	}
	expected := new(uint256.Int).Add(parent.TotalDifficulty, header.Difficulty)
	if !header.TotalDifficulty.Eq(expected) {
		return fmt.Errorf("total difficulty %s does not extend parent by block difficulty", header.TotalDifficulty)
	}
	return c.consensus.VerifyHeader(c, header)
}

// Apply executes a block on top of the branch tip and, when every check
// passes, persists it and advances the tip. A failed apply leaves both the
// branch and the store's visible state untouched: execution results stay
// staged in memory until the final commit.
func (c *BlockChain) Apply(block *types.Block) error {
	if err := c.verifyHeader(&block.Header); err != nil {
		return err
	}

	parent := &c.head.Header
	stateDB := state.NewChainStateDB(c.storage, parent.StateRoot)
	acc := c.acc.Fork()

	var (
		infos   []types.TransactionInfo
		leaves  []types.HashValue
		hashes  []types.HashValue
		gasUsed uint64
	)
	for i := range block.Body.Transactions {
		txn := block.Body.Transactions[i]
		output, err := c.executor.ExecuteTransaction(txn, stateDB, block.Header.Timestamp)
		if err != nil {
			return err
		}
		if output.Status.IsDiscard() {
			return fmt.Errorf("block %s contains discarded transaction %s: %s", block.ID(), txn.ID(), output.Status.Reason)
		}
		if err := stateDB.ApplyWriteSet(output.WriteSet); err != nil {
			return err
		}
		gasUsed += output.GasUsed
		info := types.TransactionInfo{
			TransactionHash: txn.ID(),
			StateRootHash:   stateDB.StateRoot(),
			GasUsed:         output.GasUsed,
			Status:          output.Status,
		}
		infos = append(infos, info)
		leaves = append(leaves, info.ID())
		hashes = append(hashes, txn.ID())
	}
	acc.Append(leaves...)

	if gasUsed != block.Header.GasUsed {
		return fmt.Errorf("executed gas %d does not match header gas %d", gasUsed, block.Header.GasUsed)
	}
	if stateRoot := stateDB.StateRoot(); stateRoot != block.Header.StateRoot {
		return fmt.Errorf("computed state root %s does not match header %s", stateRoot, block.Header.StateRoot)
	}
	if accRoot := acc.Root(); accRoot != block.Header.AccumulatorRoot {
		return fmt.Errorf("computed accumulator root %s does not match header %s", accRoot, block.Header.AccumulatorRoot)
	}

	// Tree nodes are content addressed, so committing them before the block
	// pointer cannot expose partial state: without the block they are
	// unreachable.
	if _, err := stateDB.Commit(); err != nil {
		return err
	}
	if err := acc.Flush(); err != nil {
		return err
	}
	if err := c.storage.SaveTransactionBatch(block.Body.Transactions); err != nil {
		return err
	}
	if err := c.storage.SaveTransactionInfos(infos); err != nil {
		return err
	}
	if err := c.storage.SaveBlockTransactions(block.ID(), hashes); err != nil {
		return err
	}
	if err := c.storage.SaveBlockInfo(acc.GetBlockInfo(block.ID())); err != nil {
		return err
	}
	if c.isHead {
		if err := c.storage.CommitBlock(block); err != nil {
			return err
		}
	} else {
		if err := c.storage.CommitBranchBlock(c.branchID, block); err != nil {
			return err
		}
	}

	c.head = block
	c.acc = acc
	logx.Info("CHAIN", fmt.Sprintf("applied block %s number %d txns %d", block.ID().ShortString(), block.Header.Number, len(block.Body.Transactions)))
	return nil
}
