package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/megamcloud/starcoin/types"
)

// ErrNoPeers is returned by BestPeer when the node knows no peer at all.
var ErrNoPeers = fmt.Errorf("no peers connected")

// NetworkService is the request/response primitive the chain and sync
// layers consume. The wire transport behind it is interchangeable.
type NetworkService interface {
	// SendRequest sends one request to one peer and waits for its reply up
	// to timeout.
	SendRequest(peerID peer.ID, req Request, timeout time.Duration) (Response, error)
	// BestPeer returns the known peer with the highest total difficulty,
	// which may be the local node itself.
	BestPeer() (*types.PeerInfo, error)
	// SelfPeerID identifies the local node.
	SelfPeerID() peer.ID
}

// RequestHandler answers requests on behalf of one peer.
type RequestHandler interface {
	HandleRequest(req Request) (Response, error)
}

// LocalNetwork connects peers living in the same process. It backs tests
// and single-node setups; requests are answered synchronously by the
// target's handler.
type LocalNetwork struct {
	self peer.ID

	mu       sync.RWMutex
	handlers map[peer.ID]RequestHandler
	infos    map[peer.ID]*types.PeerInfo
}

func NewLocalNetwork(self peer.ID) *LocalNetwork {
	return &LocalNetwork{
		self:     self,
		handlers: make(map[peer.ID]RequestHandler),
		infos:    make(map[peer.ID]*types.PeerInfo),
	}
}

// AddPeer registers a peer's handler and its advertised chain position.
func (n *LocalNetwork) AddPeer(info *types.PeerInfo, handler RequestHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[info.PeerID] = handler
	n.infos[info.PeerID] = info
}

// UpdatePeerInfo refreshes a peer's advertised head.
func (n *LocalNetwork) UpdatePeerInfo(info *types.PeerInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos[info.PeerID] = info
}

func (n *LocalNetwork) SelfPeerID() peer.ID {
	return n.self
}

// BestPeer picks the registered peer with the highest total difficulty.
func (n *LocalNetwork) BestPeer() (*types.PeerInfo, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var best *types.PeerInfo
	for _, info := range n.infos {
		if best == nil || info.TotalDifficulty.Gt(best.TotalDifficulty) {
			best = info
		}
	}
	if best == nil {
		return nil, ErrNoPeers
	}
	return best, nil
}

// SendRequest dispatches to the target peer's handler. The timeout bounds
// the handler call so a stuck handler behaves like a dead peer.
func (n *LocalNetwork) SendRequest(peerID peer.ID, req Request, timeout time.Duration) (Response, error) {
	n.mu.RLock()
	handler, ok := n.handlers[peerID]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown peer %s", peerID)
	}

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := handler.HandleRequest(req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("request to %s timed out after %s", peerID, timeout)
	}
}
