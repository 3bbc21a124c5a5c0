package sync

import (
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/megamcloud/starcoin/accumulator"
	"github.com/megamcloud/starcoin/logx"
	"github.com/megamcloud/starcoin/network"
	"github.com/megamcloud/starcoin/statetree"
	"github.com/megamcloud/starcoin/store"
	"github.com/megamcloud/starcoin/types"
)

// retryDelay spaces out re-dispatch after a failed or unroutable fetch so a
// flaky peer cannot spin the task hot.
const retryDelay = 500 * time.Millisecond

// Roots is the pair of tree roots a sync run converges to. Replaced
// wholesale on reset.
type Roots struct {
	State       types.HashValue
	Accumulator types.HashValue
}

type taskKind int

const (
	kindState taskKind = iota
	kindAccumulator
)

// stateItem carries the global-tree flag with each state node key: leaves
// of the global tree may reference per-account storage roots that must be
// synced too, while storage-tree leaves are terminal.
type stateItem struct {
	Hash     types.HashValue
	IsGlobal bool
}

type taskEvent struct {
	kind      taskKind
	peerID    peer.ID
	nodeKey   types.HashValue
	stateNode *statetree.Node
	accNode   *accumulator.Node
}

// StateSyncTask walks the state tree and the accumulator tree from a pair
// of target roots, fetching missing nodes from the best peer one at a time
// and persisting them until both trees are locally complete.
//
// One goroutine owns all task state; fetches run detached and re-enter the
// loop as events. The mutex only covers the queue/in-flight maps that the
// detached self-delivery path touches.
type StateSyncTask struct {
	selfPeerID peer.ID
	storage    *store.Storage
	network    network.NetworkService

	mu        sync.Mutex
	roots     Roots
	stateTask *SyncTask[stateItem]
	accTask   *SyncTask[types.HashValue]

	events chan taskEvent
	resets chan Roots
	kicks  chan taskKind

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// Launch starts a sync run toward the given roots. The returned task is
// already working; wait on Done for completion.
func Launch(selfPeerID peer.ID, stateRoot, accumulatorRoot types.HashValue, storage *store.Storage, net network.NetworkService) *StateSyncTask {
	t := &StateSyncTask{
		selfPeerID: selfPeerID,
		storage:    storage,
		network:    net,
		roots:      Roots{State: stateRoot, Accumulator: accumulatorRoot},
		stateTask:  NewSyncTask[stateItem](),
		accTask:    NewSyncTask[types.HashValue](),
		events:     make(chan taskEvent, 16),
		resets:     make(chan Roots),
		kicks:      make(chan taskKind, 16),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	t.seed()
	go t.loop()
	return t
}

// seed enqueues the roots; a placeholder or zero root means that tree is
// already complete.
func (t *StateSyncTask) seed() {
	if !emptyStateRoot(t.roots.State) {
		t.stateTask.PushBack(stateItem{Hash: t.roots.State, IsGlobal: true})
	}
	if !emptyAccumulatorRoot(t.roots.Accumulator) {
		t.accTask.PushBack(t.roots.Accumulator)
	}
}

func emptyStateRoot(root types.HashValue) bool {
	return root.IsZero() || root == statetree.SparseMerklePlaceholder
}

func emptyAccumulatorRoot(root types.HashValue) bool {
	return root.IsZero() || root == accumulator.AccumulatorPlaceholder
}

// Done is closed when both trees are complete.
func (t *StateSyncTask) Done() <-chan struct{} {
	return t.done
}

func (t *StateSyncTask) IsDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Stop abandons the run without completing it.
func (t *StateSyncTask) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Reset abandons all pending and in-flight work and restarts toward new
// roots; used when the sync target moves to a better tip.
func (t *StateSyncTask) Reset(stateRoot, accumulatorRoot types.HashValue) {
	select {
	case t.resets <- Roots{State: stateRoot, Accumulator: accumulatorRoot}:
	case <-t.stop:
	case <-t.done:
	}
}

func (t *StateSyncTask) loop() {
	logx.Info("SYNC", "state sync task started")
	t.dispatch(kindState)
	t.dispatch(kindAccumulator)
	if t.syncDone() {
		t.finish()
		return
	}
	for {
		select {
		case <-t.stop:
			logx.Info("SYNC", "state sync task stopped")
			return
		case roots := <-t.resets:
			t.applyReset(roots)
			t.dispatch(kindState)
			t.dispatch(kindAccumulator)
		case kind := <-t.kicks:
			t.dispatch(kind)
		case ev := <-t.events:
			if ev.kind == kindState {
				t.handleStateEvent(ev)
			} else {
				t.handleAccumulatorEvent(ev)
			}
			if t.syncDone() {
				t.finish()
				return
			}
			t.dispatch(ev.kind)
		}
	}
}

func (t *StateSyncTask) finish() {
	t.doneOnce.Do(func() {
		logx.Info("SYNC", "state sync complete")
		close(t.done)
	})
}

func (t *StateSyncTask) syncDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateTask.IsEmpty() && t.accTask.IsEmpty()
}

func (t *StateSyncTask) applyReset(roots Roots) {
	t.mu.Lock()
	defer t.mu.Unlock()
	logx.Info("SYNC", "resetting state sync task")
	t.stateTask.Clear()
	t.accTask.Clear()
	t.roots = roots
	t.seed()
}

// scheduleKick re-arms a dispatch after the retry delay.
func (t *StateSyncTask) scheduleKick(kind taskKind) {
	time.AfterFunc(retryDelay, func() {
		select {
		case t.kicks <- kind:
		case <-t.stop:
		case <-t.done:
		}
	})
}

func (t *StateSyncTask) deliver(ev taskEvent) {
	select {
	case t.events <- ev:
	case <-t.stop:
	}
}

// dispatch pops one pending key and either fulfills it from the local
// store or sends it to the best peer. The item re-enters the queue on any
// path that cannot make progress now.
func (t *StateSyncTask) dispatch(kind taskKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if kind == kindState {
		t.dispatchStateLocked()
	} else {
		t.dispatchAccumulatorLocked()
	}
}

func (t *StateSyncTask) dispatchStateLocked() {
	item, ok := t.stateTask.PopFront()
	if !ok {
		return
	}
	node, err := t.storage.GetStateNode(item.Hash)
	if err != nil {
		logx.Error("SYNC", "state node read failed: "+err.Error())
		t.stateTask.PushBack(item)
		t.scheduleKick(kindState)
		return
	}
	if node != nil {
		// Already local: deliver to self so the bookkeeping stays uniform.
		if _, busy := t.stateTask.Get(t.selfPeerID); busy {
			t.stateTask.PushBack(item)
			t.scheduleKick(kindState)
			return
		}
		t.stateTask.Insert(t.selfPeerID, item)
		ev := taskEvent{kind: kindState, peerID: t.selfPeerID, nodeKey: item.Hash, stateNode: node}
		go t.deliver(ev)
		return
	}

	peerID, ok := t.pickPeerLocked(kindState)
	if !ok {
		t.stateTask.PushBack(item)
		t.scheduleKick(kindState)
		return
	}
	t.stateTask.Insert(peerID, item)
	go t.fetchStateNode(peerID, item.Hash)
}

func (t *StateSyncTask) dispatchAccumulatorLocked() {
	nodeKey, ok := t.accTask.PopFront()
	if !ok {
		return
	}
	node, err := t.storage.GetAccumulatorNode(nodeKey)
	if err != nil {
		logx.Error("SYNC", "accumulator node read failed: "+err.Error())
		t.accTask.PushBack(nodeKey)
		t.scheduleKick(kindAccumulator)
		return
	}
	if node != nil {
		if _, busy := t.accTask.Get(t.selfPeerID); busy {
			t.accTask.PushBack(nodeKey)
			t.scheduleKick(kindAccumulator)
			return
		}
		t.accTask.Insert(t.selfPeerID, nodeKey)
		ev := taskEvent{kind: kindAccumulator, peerID: t.selfPeerID, nodeKey: nodeKey, accNode: node}
		go t.deliver(ev)
		return
	}

	peerID, ok := t.pickPeerLocked(kindAccumulator)
	if !ok {
		t.accTask.PushBack(nodeKey)
		t.scheduleKick(kindAccumulator)
		return
	}
	t.accTask.Insert(peerID, nodeKey)
	go t.fetchAccumulatorNode(peerID, nodeKey)
}

// pickPeerLocked chooses the best peer that is remote and idle for the
// given task kind.
func (t *StateSyncTask) pickPeerLocked(kind taskKind) (peer.ID, bool) {
	info, err := t.network.BestPeer()
	if err != nil {
		logx.Warn("SYNC", "best peer lookup failed: "+err.Error())
		return "", false
	}
	if info.PeerID == t.selfPeerID {
		// We are the best peer; there is nobody ahead of us to fetch from.
		return "", false
	}
	if kind == kindState {
		if _, busy := t.stateTask.Get(info.PeerID); busy {
			return "", false
		}
	} else {
		if _, busy := t.accTask.Get(info.PeerID); busy {
			return "", false
		}
	}
	return info.PeerID, true
}

// fetchStateNode runs detached; the result re-enters the loop as an event.
// A node whose hash does not match the requested key counts as a failed
// delivery.
func (t *StateSyncTask) fetchStateNode(peerID peer.ID, nodeKey types.HashValue) {
	node, err := network.GetStateNodeByHash(t.network, peerID, nodeKey)
	if err != nil {
		logx.Warn("SYNC", "state node fetch failed: "+err.Error())
		node = nil
	} else if node.Hash() != nodeKey {
		logx.Warn("SYNC", fmt.Sprintf("state node hash mismatch: requested %s got %s", nodeKey.ShortString(), node.Hash().ShortString()))
		node = nil
	}
	t.deliver(taskEvent{kind: kindState, peerID: peerID, nodeKey: nodeKey, stateNode: node})
}

func (t *StateSyncTask) fetchAccumulatorNode(peerID peer.ID, nodeKey types.HashValue) {
	node, err := network.GetAccumulatorNodeByHash(t.network, peerID, nodeKey)
	if err != nil {
		logx.Warn("SYNC", "accumulator node fetch failed: "+err.Error())
		node = nil
	} else if node.Hash() != nodeKey {
		logx.Warn("SYNC", fmt.Sprintf("accumulator node hash mismatch: requested %s got %s", nodeKey.ShortString(), node.Hash().ShortString()))
		node = nil
	}
	t.deliver(taskEvent{kind: kindAccumulator, peerID: peerID, nodeKey: nodeKey, accNode: node})
}

// handleStateEvent accepts or rejects one delivery. A nil node re-queues
// the key; an accepted node is persisted and its children enqueued.
func (t *StateSyncTask) handleStateEvent(ev taskEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, ok := t.stateTask.Get(ev.peerID)
	if !ok {
		logx.Warn("SYNC", "discarding state event from idle peer "+ev.peerID.String())
		return
	}
	if item.Hash != ev.nodeKey {
		logx.Warn("SYNC", fmt.Sprintf("state event key %s does not match in-flight %s", ev.nodeKey.ShortString(), item.Hash.ShortString()))
		return
	}
	t.stateTask.Remove(ev.peerID)

	if ev.stateNode == nil {
		t.stateTask.PushBack(item)
		t.scheduleKick(kindState)
		return
	}
	if err := t.storage.PutStateNode(ev.nodeKey, ev.stateNode); err != nil {
		logx.Error("SYNC", "state node write failed: "+err.Error())
		t.stateTask.PushBack(item)
		t.scheduleKick(kindState)
		return
	}
	t.expandStateNodeLocked(item, ev.stateNode)
}

// expandStateNodeLocked enqueues what a freshly stored node points at:
// internal children, or the storage roots referenced by a global-tree leaf.
func (t *StateSyncTask) expandStateNodeLocked(item stateItem, node *statetree.Node) {
	switch {
	case node.IsLeaf():
		if !item.IsGlobal {
			return
		}
		account, err := types.DecodeAccountState(node.Blob)
		if err != nil {
			logx.Error("SYNC", "account state decode failed: "+err.Error())
			return
		}
		for _, root := range account.StorageRoots {
			if root == nil || emptyStateRoot(*root) {
				continue
			}
			t.stateTask.PushBack(stateItem{Hash: *root, IsGlobal: false})
		}
	case node.Kind == statetree.InternalNode:
		for _, child := range node.AllChildren() {
			t.stateTask.PushBack(stateItem{Hash: child, IsGlobal: item.IsGlobal})
		}
	default:
		logx.Warn("SYNC", "null state node "+item.Hash.ShortString())
	}
}

func (t *StateSyncTask) handleAccumulatorEvent(ev taskEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nodeKey, ok := t.accTask.Get(ev.peerID)
	if !ok {
		logx.Warn("SYNC", "discarding accumulator event from idle peer "+ev.peerID.String())
		return
	}
	if nodeKey != ev.nodeKey {
		logx.Warn("SYNC", fmt.Sprintf("accumulator event key %s does not match in-flight %s", ev.nodeKey.ShortString(), nodeKey.ShortString()))
		return
	}
	t.accTask.Remove(ev.peerID)

	if ev.accNode == nil {
		t.accTask.PushBack(nodeKey)
		t.scheduleKick(kindAccumulator)
		return
	}
	if err := t.storage.SaveAccumulatorNode(ev.accNode); err != nil {
		logx.Error("SYNC", "accumulator node write failed: "+err.Error())
		t.accTask.PushBack(nodeKey)
		t.scheduleKick(kindAccumulator)
		return
	}
	if !ev.accNode.IsLeaf() {
		if !emptyAccumulatorRoot(ev.accNode.Left) {
			t.accTask.PushBack(ev.accNode.Left)
		}
		if !emptyAccumulatorRoot(ev.accNode.Right) {
			t.accTask.PushBack(ev.accNode.Right)
		}
	}
}
