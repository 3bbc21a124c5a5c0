package types

// StartupInfo is the process-durable pointer to the chain heads, read at
// boot to reconstruct the head chain and candidate branches.
type StartupInfo struct {
	// HeadBlock is the id of the canonical head.
	HeadBlock HashValue `json:"head_block"`
	// Branches are the tips of known candidate branches.
	Branches []HashValue `json:"branches"`
}

func NewStartupInfo(headBlock HashValue) *StartupInfo {
	return &StartupInfo{HeadBlock: headBlock}
}
