package store

// Database key prefixes, one logical column per persisted entity kind.
const (
	PrefixAccumulatorNode = "acc_node:"
	PrefixBlock           = "block:"
	PrefixBlockHeader     = "block_header:"
	PrefixBlockSons       = "block_sons:"
	PrefixBlockBody       = "block_body:"
	PrefixBlockNum        = "block_num:"
	PrefixBranchNum       = "branch_num:"
	PrefixBlockInfo       = "block_info:"
	PrefixBlockTxns       = "block_txns:"
	PrefixStateNode       = "state_node:"
	PrefixStartupInfo     = "startup_info:"
	PrefixTransaction     = "transaction:"
	PrefixTransactionInfo = "transaction_info:"
)
