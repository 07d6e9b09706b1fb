package synchs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockStoreAddIsIdempotent(t *testing.T) {
	store := NewBlockStore()
	g := newGenesis()
	b := NewBlock([]*Block{g}, []Hash{cmdHash(1)}, Hash{}, nil, nil)

	first := store.Add(b)
	second := store.Add(b)
	assert.Same(t, first, second)
	assert.Equal(t, 1, store.Len())

	// an equal block built separately resolves to the stored copy
	twin := NewBlock([]*Block{g}, []Hash{cmdHash(1)}, Hash{}, nil, nil)
	require.Equal(t, b.BlockHash(), twin.BlockHash())
	assert.Same(t, first, store.Add(twin))
}

func TestBlockStoreFindAndPrune(t *testing.T) {
	store := NewBlockStore()
	g := newGenesis()
	store.Add(g)
	parent := g
	var blocks []*Block
	for i := 0; i < 5; i++ {
		b := NewBlock([]*Block{parent}, []Hash{cmdHash(byte(i))}, Hash{}, nil, nil)
		store.Add(b)
		blocks = append(blocks, b)
		parent = b
	}
	require.Equal(t, 6, store.Len())
	require.NotNil(t, store.Find(blocks[2].BlockHash()))

	pruned := store.Prune(3)
	assert.Equal(t, 3, pruned) // genesis, height 1, height 2
	assert.Nil(t, store.Find(blocks[0].BlockHash()))
	assert.Nil(t, store.Find(blocks[1].BlockHash()))
	assert.NotNil(t, store.Find(blocks[2].BlockHash()))

	assert.Nil(t, store.Find(cmdHash(42)))
}

func TestBlockHashExcludesCertSignatures(t *testing.T) {
	tc := newTestCluster(t, 4, 1)
	g := tc.cores[0].GetGenesis()

	// two blocks embedding different aggregations over the same
	// referenced block hash to the same value
	qcA := tc.schemes[0].CreateQuorumCert(VoteProofTextHash(g.BlockHash()))
	require.NoError(t, qcA.AddPart(0, tc.schemes[0].CreatePartCert(VoteProofTextHash(g.BlockHash()))))
	qcB := tc.schemes[1].CreateQuorumCert(VoteProofTextHash(g.BlockHash()))

	bA := NewBlock([]*Block{g}, []Hash{cmdHash(1)}, g.BlockHash(), qcA, nil)
	bB := NewBlock([]*Block{g}, []Hash{cmdHash(1)}, g.BlockHash(), qcB, nil)
	assert.Equal(t, bA.BlockHash(), bB.BlockHash())
}

func TestDeliverRejectsTamperedBlock(t *testing.T) {
	tc := newTestCluster(t, 4, 1)
	core := tc.cores[0]
	g := core.GetGenesis()

	b := NewBlock([]*Block{g}, []Hash{cmdHash(1)}, g.BlockHash(), g.SelfQC(), nil)
	b.Cmds = append(b.Cmds, cmdHash(2)) // the self hash no longer matches
	assert.False(t, core.OnDeliverBlk(b))
}

func TestDeliverRejectsUnknownParent(t *testing.T) {
	tc := newTestCluster(t, 4, 1)
	core := tc.cores[0]

	orphanParent := newGenesis()
	orphan := NewBlock([]*Block{orphanParent}, []Hash{cmdHash(1)}, Hash{}, nil, nil)
	orphan.ParentHashes[0] = cmdHash(77)
	orphan.hash = orphan.computeHash()
	assert.False(t, core.OnDeliverBlk(orphan))
}

func TestDeliverIsIdempotent(t *testing.T) {
	tc := newTestCluster(t, 4, 1)
	core := tc.cores[0]
	g := core.GetGenesis()

	b := NewBlock([]*Block{g}, []Hash{cmdHash(1)}, g.BlockHash(), g.SelfQC(), nil)
	require.True(t, core.OnDeliverBlk(b))
	require.True(t, core.OnDeliverBlk(b))
	assert.Len(t, core.GetTails(), 1)
}
