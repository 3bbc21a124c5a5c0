package events

import (
	"github.com/megamcloud/starcoin/types"
)

// ChainEvent is anything the chain service announces to subscribers.
type ChainEvent interface {
	Name() string
}

// NewHeadEvent is published after fork choice moves the head chain's tip,
// whether by extension or by branch promotion.
type NewHeadEvent struct {
	Header *types.BlockHeader
}

func (NewHeadEvent) Name() string { return "new_head" }

// NewBranchEvent is published when a connected block opens a new candidate
// branch instead of extending an existing one.
type NewBranchEvent struct {
	Header *types.BlockHeader
}

func (NewBranchEvent) Name() string { return "new_branch" }
