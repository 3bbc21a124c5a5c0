package statetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megamcloud/starcoin/types"
)

// memNodeStore keeps committed nodes in a map; enough to exercise the tree
// without a database.
type memNodeStore struct {
	nodes map[types.HashValue]*Node
}

func newMemNodeStore() *memNodeStore {
	return &memNodeStore{nodes: make(map[types.HashValue]*Node)}
}

func (s *memNodeStore) GetStateNode(hash types.HashValue) (*Node, error) {
	return s.nodes[hash], nil
}

func (s *memNodeStore) WriteStateNodes(nodes map[types.HashValue]*Node) error {
	for hash, node := range nodes {
		s.nodes[hash] = node
	}
	return nil
}

func TestEmptyTreeRootIsPlaceholder(t *testing.T) {
	tree := NewStateTree(newMemNodeStore(), types.ZeroHash)
	assert.Equal(t, SparseMerklePlaceholder, tree.Root())

	blob, err := tree.Get(types.HashData([]byte("missing")))
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestPutGetSingleLeaf(t *testing.T) {
	tree := NewStateTree(newMemNodeStore(), types.ZeroHash)
	key := types.HashData([]byte("alice"))

	require.NoError(t, tree.Put(key, []byte("balance=100")))
	assert.NotEqual(t, SparseMerklePlaceholder, tree.Root())

	blob, err := tree.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("balance=100"), blob)
}

func TestPutManyAndOverwrite(t *testing.T) {
	tree := NewStateTree(newMemNodeStore(), types.ZeroHash)
	keys := make([]types.HashValue, 20)
	for i := range keys {
		keys[i] = types.HashData([]byte{byte(i)})
		require.NoError(t, tree.Put(keys[i], []byte{byte(i)}))
	}
	for i, key := range keys {
		blob, err := tree.Get(key)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, blob)
	}

	before := tree.Root()
	require.NoError(t, tree.Put(keys[3], []byte("updated")))
	assert.NotEqual(t, before, tree.Root())

	blob, err := tree.Get(keys[3])
	require.NoError(t, err)
	assert.Equal(t, []byte("updated"), blob)
}

func TestRootDeterministicAcrossInsertionOrder(t *testing.T) {
	k1 := types.HashData([]byte("a"))
	k2 := types.HashData([]byte("b"))
	k3 := types.HashData([]byte("c"))

	t1 := NewStateTree(newMemNodeStore(), types.ZeroHash)
	require.NoError(t, t1.Put(k1, []byte("1")))
	require.NoError(t, t1.Put(k2, []byte("2")))
	require.NoError(t, t1.Put(k3, []byte("3")))

	t2 := NewStateTree(newMemNodeStore(), types.ZeroHash)
	require.NoError(t, t2.Put(k3, []byte("3")))
	require.NoError(t, t2.Put(k1, []byte("1")))
	require.NoError(t, t2.Put(k2, []byte("2")))

	assert.Equal(t, t1.Root(), t2.Root())
}

func TestCommitPersistsAndReopens(t *testing.T) {
	store := newMemNodeStore()
	tree := NewStateTree(store, types.ZeroHash)
	key := types.HashData([]byte("alice"))
	require.NoError(t, tree.Put(key, []byte("v1")))

	root, err := tree.Commit()
	require.NoError(t, err)

	reopened := NewStateTree(store, root)
	blob, err := reopened.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), blob)
}

func TestUncommittedStateInvisibleToFork(t *testing.T) {
	store := newMemNodeStore()
	tree := NewStateTree(store, types.ZeroHash)
	key := types.HashData([]byte("alice"))
	require.NoError(t, tree.Put(key, []byte("v1")))
	root, err := tree.Commit()
	require.NoError(t, err)

	fork := tree.Fork()
	require.NoError(t, tree.Put(key, []byte("v2")))

	// The fork still reads the committed value and root.
	assert.Equal(t, root, fork.Root())
	blob, err := fork.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), blob)
}

func TestNodeCodecRoundTrip(t *testing.T) {
	leaf := NewLeafNode(types.HashData([]byte("key")), []byte("blob"))
	decoded, err := DecodeNode(leaf.Encode())
	require.NoError(t, err)
	assert.Equal(t, leaf.Hash(), decoded.Hash())
	assert.Equal(t, leaf.Blob, decoded.Blob)

	internal := NewInternalNode()
	internal.Children[0] = leaf.Hash()
	internal.Children[15] = types.HashData([]byte("other"))
	decodedInternal, err := DecodeNode(internal.Encode())
	require.NoError(t, err)
	assert.Equal(t, internal.Hash(), decodedInternal.Hash())
	assert.Equal(t, internal.Children, decodedInternal.Children)
	assert.Len(t, decodedInternal.AllChildren(), 2)
}
