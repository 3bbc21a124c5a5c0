package network

import (
	"github.com/megamcloud/starcoin/accumulator"
	"github.com/megamcloud/starcoin/statetree"
	"github.com/megamcloud/starcoin/types"
)

// Request is one peer-to-peer request variant. Variants are closed: only
// the types in this file implement it.
type Request interface {
	isRequest()
}

// Response is the reply to one Request variant.
type Response interface {
	isResponse()
}

// GetBodiesRequest asks a peer for block bodies by block id.
type GetBodiesRequest struct {
	Hashes []types.HashValue `json:"hashes"`
}

// GetStateNodeRequest asks a peer for one state tree node by its hash.
type GetStateNodeRequest struct {
	NodeHash types.HashValue `json:"node_hash"`
}

// GetAccumulatorNodeRequest asks a peer for one accumulator node by its
// hash.
type GetAccumulatorNodeRequest struct {
	NodeHash types.HashValue `json:"node_hash"`
}

func (GetBodiesRequest) isRequest()          {}
func (GetStateNodeRequest) isRequest()       {}
func (GetAccumulatorNodeRequest) isRequest() {}

// BodiesResponse carries the bodies a peer knows, in request order. Unknown
// ids are skipped.
type BodiesResponse struct {
	Hashes []types.HashValue `json:"hashes"`
	Bodies []types.BlockBody `json:"bodies"`
}

// StateNodeResponse carries one state tree node; Node is nil when the peer
// does not have it.
type StateNodeResponse struct {
	Node *statetree.Node
}

// AccumulatorNodeResponse carries one accumulator node; Node is nil when
// the peer does not have it.
type AccumulatorNodeResponse struct {
	Node *accumulator.Node
}

func (BodiesResponse) isResponse()          {}
func (StateNodeResponse) isResponse()       {}
func (AccumulatorNodeResponse) isResponse() {}
