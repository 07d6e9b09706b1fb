package synchs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoteRoundTrip(t *testing.T) {
	tc := newTestCluster(t, 4, 1)
	ctx := tc.cores[0].MsgContext()
	blkHash := cmdHash(5)
	vote := tc.craftVote(2, blkHash)

	var buf bytes.Buffer
	vote.Serialize(&buf)
	parsed, err := DeserializeVote(bytes.NewReader(buf.Bytes()), ctx)
	require.NoError(t, err)

	assert.Equal(t, vote.Voter, parsed.Voter)
	assert.Equal(t, vote.BlkHash, parsed.BlkHash)
	assert.Equal(t, vote.Cert.ProofTextHash(), parsed.Cert.ProofTextHash())
	assert.Equal(t, vote.Cert.Signer(), parsed.Cert.Signer())
	assert.True(t, parsed.Verify(ctx))
}

func TestVoteVerifyRejectsForgedVoter(t *testing.T) {
	tc := newTestCluster(t, 4, 1)
	ctx := tc.cores[0].MsgContext()
	vote := tc.craftVote(2, cmdHash(5))
	vote.Voter = 3 // the cert was signed by replica 2
	assert.False(t, vote.Verify(ctx))
}

func TestVoteVerifyRejectsWrongProofText(t *testing.T) {
	tc := newTestCluster(t, 4, 1)
	ctx := tc.cores[0].MsgContext()
	vote := tc.craftVote(2, cmdHash(5))
	vote.BlkHash = cmdHash(6)
	assert.False(t, vote.Verify(ctx))
}

func TestNotifyRoundTrip(t *testing.T) {
	tc := newTestCluster(t, 4, 1)
	ctx := tc.cores[0].MsgContext()
	blkHash := cmdHash(5)

	qc := tc.schemes[0].CreateQuorumCert(VoteProofTextHash(blkHash))
	for i := 0; i < 3; i++ {
		cert := tc.schemes[i].CreatePartCert(VoteProofTextHash(blkHash))
		require.NoError(t, qc.AddPart(ReplicaID(i), cert))
	}
	require.NoError(t, qc.Compute())
	notify := &Notify{BlkHash: blkHash, QC: qc}
	require.True(t, notify.Verify(ctx))

	var buf bytes.Buffer
	notify.Serialize(&buf)
	parsed, err := DeserializeNotify(bytes.NewReader(buf.Bytes()), ctx)
	require.NoError(t, err)
	assert.Equal(t, notify.BlkHash, parsed.BlkHash)
	assert.Equal(t, notify.QC.ProofTextHash(), parsed.QC.ProofTextHash())
	assert.True(t, parsed.Verify(ctx))
}

func TestBlameRoundTrip(t *testing.T) {
	tc := newTestCluster(t, 4, 1)
	ctx := tc.cores[0].MsgContext()
	blame := &Blame{
		Blamer: 1,
		View:   7,
		Cert:   tc.schemes[1].CreatePartCert(BlameProofTextHash(7)),
	}
	require.True(t, blame.Verify(ctx))

	var buf bytes.Buffer
	blame.Serialize(&buf)
	parsed, err := DeserializeBlame(bytes.NewReader(buf.Bytes()), ctx)
	require.NoError(t, err)
	assert.Equal(t, blame.Blamer, parsed.Blamer)
	assert.Equal(t, blame.View, parsed.View)
	assert.True(t, parsed.Verify(ctx))

	// a blame cert never passes as a vote cert
	vote := &Vote{Voter: 1, BlkHash: cmdHash(1), Cert: blame.Cert}
	assert.False(t, vote.Verify(ctx))
}

func TestBlameNotifyRoundTrip(t *testing.T) {
	tc := newTestCluster(t, 4, 1)
	ctx := tc.cores[0].MsgContext()

	qc := tc.schemes[0].CreateQuorumCert(BlameProofTextHash(3))
	for i := 1; i < 4; i++ {
		cert := tc.schemes[i].CreatePartCert(BlameProofTextHash(3))
		require.NoError(t, qc.AddPart(ReplicaID(i), cert))
	}
	require.NoError(t, qc.Compute())
	bn := &BlameNotify{View: 3, QC: qc}
	require.True(t, bn.Verify(ctx))

	var buf bytes.Buffer
	bn.Serialize(&buf)
	parsed, err := DeserializeBlameNotify(bytes.NewReader(buf.Bytes()), ctx)
	require.NoError(t, err)
	assert.Equal(t, bn.View, parsed.View)
	assert.True(t, parsed.Verify(ctx))

	// the view is part of the proof text
	parsed.View = 4
	assert.False(t, parsed.Verify(ctx))
}

func TestFinalityRoundTrip(t *testing.T) {
	fin := &Finality{
		Rid:       2,
		Decision:  1,
		CmdIdx:    4,
		CmdHeight: 17,
		CmdHash:   cmdHash(9),
		BlkHash:   cmdHash(10),
	}
	var buf bytes.Buffer
	fin.Serialize(&buf)
	parsed, err := DeserializeFinality(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, fin, parsed)

	// decision 0 omits the block hash on the wire
	rejected := &Finality{Rid: 2, Decision: 0, CmdIdx: 1, CmdHeight: 3, CmdHash: cmdHash(1)}
	buf.Reset()
	rejected.Serialize(&buf)
	assert.Equal(t, 2+1+4+4+HashSize, buf.Len())
	parsed, err = DeserializeFinality(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, rejected, parsed)
}

func TestProposalRoundTripWithoutStatus(t *testing.T) {
	tc := newTestCluster(t, 4, 1)
	leader := tc.cores[0]
	b1 := leader.OnPropose([]Hash{cmdHash(1), cmdHash(2)}, []*Block{leader.GetGenesis()}, []byte("extra"))
	require.NotNil(t, b1)
	prop := tc.hosts[0].proposals[0]

	var buf bytes.Buffer
	prop.Serialize(&buf)
	ctx := tc.cores[1].MsgContext()
	parsed, err := DeserializeProposal(bytes.NewReader(buf.Bytes()), ctx)
	require.NoError(t, err)
	assert.Equal(t, prop.Proposer, parsed.Proposer)
	assert.Equal(t, prop.Blk.BlockHash(), parsed.Blk.BlockHash())
	assert.Equal(t, prop.Blk.Cmds, parsed.Blk.Cmds)
	assert.Equal(t, prop.Blk.Extra, parsed.Blk.Extra)
	assert.Nil(t, parsed.StatusCert)
	assert.True(t, parsed.Verify(ctx))
}

func TestTruncatedMessagesAreMalformed(t *testing.T) {
	tc := newTestCluster(t, 4, 1)
	ctx := tc.cores[0].MsgContext()
	vote := tc.craftVote(2, cmdHash(5))

	var buf bytes.Buffer
	vote.Serialize(&buf)
	wire := buf.Bytes()
	for _, cut := range []int{0, 1, 2, len(wire) / 2, len(wire) - 1} {
		_, err := DeserializeVote(bytes.NewReader(wire[:cut]), ctx)
		assert.ErrorIs(t, err, ErrMalformedMessage, "cut=%d", cut)
	}
}
