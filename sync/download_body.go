package sync

import (
	"fmt"

	"github.com/megamcloud/starcoin/logx"
	"github.com/megamcloud/starcoin/network"
	"github.com/megamcloud/starcoin/types"
)

// BlockConnector consumes downloaded blocks; the chain service implements
// it.
type BlockConnector interface {
	TryConnect(block *types.Block) error
}

// BodyDownloader fills in the bodies for a batch of headers fetched during
// block sync and hands the assembled blocks to the connector.
type BodyDownloader struct {
	network   network.NetworkService
	connector BlockConnector
}

func NewBodyDownloader(net network.NetworkService, connector BlockConnector) *BodyDownloader {
	return &BodyDownloader{network: net, connector: connector}
}

// DownloadBodies asks each candidate peer in turn for the bodies of the
// given headers, stopping at the first peer that answers. Assembled blocks
// are connected in header order.
func (d *BodyDownloader) DownloadBodies(headers []*types.BlockHeader, peers []*types.PeerInfo) error {
	if len(headers) == 0 {
		return nil
	}
	hashes := make([]types.HashValue, 0, len(headers))
	for _, header := range headers {
		hashes = append(hashes, header.ID())
	}

	var lastErr error
	for _, peerInfo := range peers {
		resp, err := network.GetBodiesByHash(d.network, peerInfo.PeerID, hashes)
		if err != nil {
			logx.Warn("SYNC", "body fetch from "+peerInfo.PeerID.String()+" failed: "+err.Error())
			lastErr = err
			continue
		}
		return d.connect(headers, resp)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no peers to download bodies from")
	}
	return lastErr
}

func (d *BodyDownloader) connect(headers []*types.BlockHeader, resp *network.BodiesResponse) error {
	bodies := make(map[types.HashValue]types.BlockBody, len(resp.Bodies))
	for i, hash := range resp.Hashes {
		if i < len(resp.Bodies) {
			bodies[hash] = resp.Bodies[i]
		}
	}
	for _, header := range headers {
		body, ok := bodies[header.ID()]
		if !ok {
			return fmt.Errorf("peer response missing body for block %s", header.ID())
		}
		block := types.NewBlock(*header, body)
		if err := d.connector.TryConnect(block); err != nil {
			return err
		}
	}
	return nil
}
