package sync

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megamcloud/starcoin/accumulator"
	"github.com/megamcloud/starcoin/db"
	"github.com/megamcloud/starcoin/network"
	"github.com/megamcloud/starcoin/statetree"
	"github.com/megamcloud/starcoin/store"
	"github.com/megamcloud/starcoin/types"
)

const syncWait = 15 * time.Second

func newStorage(t *testing.T) *store.Storage {
	t.Helper()
	storage, err := store.NewStorage(db.NewMemProvider())
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

// populateTrees fills storage with a global state tree (one account carrying
// a non-empty storage tree) and a flushed accumulator, returning both roots.
func populateTrees(t *testing.T, storage *store.Storage, salt byte) Roots {
	t.Helper()

	sub := statetree.NewStateTree(storage, types.ZeroHash)
	require.NoError(t, sub.Put(types.HashData([]byte{salt, 'k', '1'}), []byte("v1")))
	require.NoError(t, sub.Put(types.HashData([]byte{salt, 'k', '2'}), []byte("v2")))
	subRoot, err := sub.Commit()
	require.NoError(t, err)

	global := statetree.NewStateTree(storage, types.ZeroHash)
	for i := byte(0); i < 6; i++ {
		account := types.NewAccountState(uint256.NewInt(uint64(i) + 1))
		if i == 0 {
			account.StorageRoots = []*types.HashValue{&subRoot}
		}
		blob, err := account.Encode()
		require.NoError(t, err)
		require.NoError(t, global.Put(types.HashData([]byte{salt, 'a', i}), blob))
	}
	stateRoot, err := global.Commit()
	require.NoError(t, err)

	acc := accumulator.NewAccumulator(storage)
	for i := byte(0); i < 5; i++ {
		acc.Append(types.HashData([]byte{salt, 'l', i}))
	}
	accRoot := acc.Root()
	require.NoError(t, acc.Flush())

	return Roots{State: stateRoot, Accumulator: accRoot}
}

// assertStateTreeLocal walks the state tree from root and fails on any node
// missing from storage, descending into account storage trees along the way.
func assertStateTreeLocal(t *testing.T, storage *store.Storage, root types.HashValue, global bool) {
	t.Helper()
	if emptyStateRoot(root) {
		return
	}
	node, err := storage.GetStateNode(root)
	require.NoError(t, err)
	require.NotNil(t, node, "missing state node %s", root)
	if node.IsLeaf() {
		if !global {
			return
		}
		account, err := types.DecodeAccountState(node.Blob)
		require.NoError(t, err)
		for _, storageRoot := range account.StorageRoots {
			if storageRoot != nil {
				assertStateTreeLocal(t, storage, *storageRoot, false)
			}
		}
		return
	}
	for _, child := range node.AllChildren() {
		assertStateTreeLocal(t, storage, child, global)
	}
}

func assertAccumulatorLocal(t *testing.T, storage *store.Storage, root types.HashValue) {
	t.Helper()
	if emptyAccumulatorRoot(root) {
		return
	}
	node, err := storage.GetAccumulatorNode(root)
	require.NoError(t, err)
	require.NotNil(t, node, "missing accumulator node %s", root)
	if !node.IsLeaf() {
		assertAccumulatorLocal(t, storage, node.Left)
		assertAccumulatorLocal(t, storage, node.Right)
	}
}

func waitDone(t *testing.T, task *StateSyncTask) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(syncWait):
		t.Fatal("sync did not complete in time")
	}
}

func TestStateSyncFromRemotePeer(t *testing.T) {
	remote := newStorage(t)
	roots := populateTrees(t, remote, 1)

	selfID := peer.ID("local")
	remoteID := peer.ID("remote")
	net := network.NewLocalNetwork(selfID)
	net.AddPeer(&types.PeerInfo{PeerID: remoteID, TotalDifficulty: uint256.NewInt(100)}, network.NewStorageHandler(remote))

	local := newStorage(t)
	task := Launch(selfID, roots.State, roots.Accumulator, local, net)
	waitDone(t, task)

	assert.True(t, task.IsDone())
	assertStateTreeLocal(t, local, roots.State, true)
	assertAccumulatorLocal(t, local, roots.Accumulator)
}

func TestStateSyncCompletesFromLocalNodes(t *testing.T) {
	// Everything already on disk and no peers at all: the self-delivery path
	// still walks both trees to completion.
	local := newStorage(t)
	roots := populateTrees(t, local, 2)

	net := network.NewLocalNetwork(peer.ID("local"))
	task := Launch(peer.ID("local"), roots.State, roots.Accumulator, local, net)
	waitDone(t, task)
}

func TestStateSyncEmptyRootsDoneImmediately(t *testing.T) {
	local := newStorage(t)
	net := network.NewLocalNetwork(peer.ID("local"))
	task := Launch(peer.ID("local"), statetree.SparseMerklePlaceholder, accumulator.AccumulatorPlaceholder, local, net)
	waitDone(t, task)
}

func TestStateSyncResetMovesToNewRoots(t *testing.T) {
	remote := newStorage(t)
	roots := populateTrees(t, remote, 3)

	selfID := peer.ID("local")
	net := network.NewLocalNetwork(selfID)
	net.AddPeer(&types.PeerInfo{PeerID: peer.ID("remote"), TotalDifficulty: uint256.NewInt(100)}, network.NewStorageHandler(remote))

	// The initial target exists nowhere, so the task can only spin on
	// retries until the reset points it at reachable roots.
	local := newStorage(t)
	task := Launch(selfID, types.HashData([]byte("unreachable")), types.ZeroHash, local, net)
	defer task.Stop()

	task.Reset(roots.State, roots.Accumulator)
	waitDone(t, task)

	assertStateTreeLocal(t, local, roots.State, true)
	assertAccumulatorLocal(t, local, roots.Accumulator)
}

func TestStateSyncStopAbandonsRun(t *testing.T) {
	local := newStorage(t)
	net := network.NewLocalNetwork(peer.ID("local"))

	task := Launch(peer.ID("local"), types.HashData([]byte("unreachable")), types.ZeroHash, local, net)
	task.Stop()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, task.IsDone())
}
