package types

import (
	"github.com/holiman/uint256"
	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerInfo describes a connected peer's chain tip; the best peer is the one
// advertising the greatest total difficulty.
type PeerInfo struct {
	PeerID          peer.ID      `json:"peer_id"`
	LatestHeader    *BlockHeader `json:"latest_header"`
	TotalDifficulty *uint256.Int `json:"total_difficulty"`
}

func NewPeerInfo(id peer.ID, latestHeader *BlockHeader) *PeerInfo {
	info := &PeerInfo{PeerID: id, LatestHeader: latestHeader}
	if latestHeader != nil {
		info.TotalDifficulty = latestHeader.TotalDifficulty
	} else {
		info.TotalDifficulty = uint256.NewInt(0)
	}
	return info
}
