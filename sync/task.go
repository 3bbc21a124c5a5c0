package sync

import (
	"github.com/libp2p/go-libp2p/core/peer"
)

// SyncTask tracks one class of pending node fetches: a FIFO of keys still
// waiting and the key currently in flight per peer. A peer holds at most
// one outstanding request because the in-flight map is keyed by peer id.
type SyncTask[T any] struct {
	waitToSync   []T
	syncingNodes map[peer.ID]T
}

func NewSyncTask[T any]() *SyncTask[T] {
	return &SyncTask[T]{syncingNodes: make(map[peer.ID]T)}
}

// IsEmpty reports whether nothing is pending and nothing is in flight.
func (t *SyncTask[T]) IsEmpty() bool {
	return len(t.waitToSync) == 0 && len(t.syncingNodes) == 0
}

func (t *SyncTask[T]) PushBack(value T) {
	t.waitToSync = append(t.waitToSync, value)
}

// PopFront removes and returns the oldest pending value.
func (t *SyncTask[T]) PopFront() (T, bool) {
	var zero T
	if len(t.waitToSync) == 0 {
		return zero, false
	}
	value := t.waitToSync[0]
	t.waitToSync = t.waitToSync[1:]
	return value, true
}

// Clear drops all pending and in-flight work; used on reset.
func (t *SyncTask[T]) Clear() {
	t.waitToSync = nil
	t.syncingNodes = make(map[peer.ID]T)
}

// Insert records the value as in flight to the peer.
func (t *SyncTask[T]) Insert(peerID peer.ID, value T) {
	t.syncingNodes[peerID] = value
}

// Get returns the value in flight to the peer, if any.
func (t *SyncTask[T]) Get(peerID peer.ID) (T, bool) {
	value, ok := t.syncingNodes[peerID]
	return value, ok
}

// Remove clears the peer's in-flight entry.
func (t *SyncTask[T]) Remove(peerID peer.ID) {
	delete(t.syncingNodes, peerID)
}
