package network

import (
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/megamcloud/starcoin/accumulator"
	"github.com/megamcloud/starcoin/statetree"
	"github.com/megamcloud/starcoin/types"
)

// RequestTimeout bounds every peer round trip issued by the helpers. Node
// startup may override it from the sync config section before any peer
// traffic starts.
var RequestTimeout = 15 * time.Second

// GetStateNodeByHash fetches one state tree node from a peer. A peer that
// does not have the node is a fetch error.
func GetStateNodeByHash(service NetworkService, peerID peer.ID, nodeHash types.HashValue) (*statetree.Node, error) {
	resp, err := service.SendRequest(peerID, GetStateNodeRequest{NodeHash: nodeHash}, RequestTimeout)
	if err != nil {
		return nil, err
	}
	nodeResp, ok := resp.(StateNodeResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T to state node request", resp)
	}
	if nodeResp.Node == nil {
		return nil, fmt.Errorf("peer %s does not have state node %s", peerID, nodeHash)
	}
	return nodeResp.Node, nil
}

// GetAccumulatorNodeByHash fetches one accumulator node from a peer.
func GetAccumulatorNodeByHash(service NetworkService, peerID peer.ID, nodeHash types.HashValue) (*accumulator.Node, error) {
	resp, err := service.SendRequest(peerID, GetAccumulatorNodeRequest{NodeHash: nodeHash}, RequestTimeout)
	if err != nil {
		return nil, err
	}
	nodeResp, ok := resp.(AccumulatorNodeResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T to accumulator node request", resp)
	}
	if nodeResp.Node == nil {
		return nil, fmt.Errorf("peer %s does not have accumulator node %s", peerID, nodeHash)
	}
	return nodeResp.Node, nil
}

// GetBodiesByHash fetches block bodies by block id from a peer, in request
// order for the ids the peer knows.
func GetBodiesByHash(service NetworkService, peerID peer.ID, hashes []types.HashValue) (*BodiesResponse, error) {
	resp, err := service.SendRequest(peerID, GetBodiesRequest{Hashes: hashes}, RequestTimeout)
	if err != nil {
		return nil, err
	}
	bodies, ok := resp.(BodiesResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T to bodies request", resp)
	}
	return &bodies, nil
}
