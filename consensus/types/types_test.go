package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
)

func addr(b byte) Address {
	var a Address
	a[19] = b
	return a
}

func hash(b byte) Hash {
	var h Hash
	h[31] = b
	return h
}

func TestProposalRLPRoundTrip_NoLock(t *testing.T) {
	p := Proposal{
		Height:    7,
		Round:     2,
		BlockHash: hash(1),
		Proof:     Proof{Height: 6, Round: 0, BlockHash: hash(9), PrecommitVotes: map[Address][]byte{}},
		Proposer:  addr(1),
	}
	encoded, err := rlp.EncodeToBytes(&p)
	require.NoError(t, err)

	var decoded Proposal
	require.NoError(t, rlp.DecodeBytes(encoded, &decoded))
	require.Nil(t, decoded.LockRound)
	require.Equal(t, p.Height, decoded.Height)
	require.Equal(t, p.BlockHash, decoded.BlockHash)
	require.Equal(t, p.Proposer, decoded.Proposer)
	require.Empty(t, decoded.LockVotes)
}

func TestProposalRLPRoundTrip_WithLock(t *testing.T) {
	round := Round(3)
	p := Proposal{
		Height:    8,
		Round:     4,
		BlockHash: hash(2),
		Proof:     Proof{PrecommitVotes: map[Address][]byte{}},
		LockRound: &round,
		LockVotes: []SignedVote{
			{Vote: Vote{Kind: Prevote, Height: 8, Round: round, BlockHash: hash(2), Voter: addr(5)}, Signature: []byte{0xaa}},
		},
		Proposer: addr(9),
	}
	encoded, err := rlp.EncodeToBytes(&p)
	require.NoError(t, err)

	var decoded Proposal
	require.NoError(t, rlp.DecodeBytes(encoded, &decoded))
	require.NotNil(t, decoded.LockRound)
	require.Equal(t, round, *decoded.LockRound)
	require.Len(t, decoded.LockVotes, 1)
	require.Equal(t, p.LockVotes[0].Vote.Voter, decoded.LockVotes[0].Vote.Voter)
}

func TestProofRLPRoundTrip(t *testing.T) {
	p := Proof{
		Height:    10,
		Round:     1,
		BlockHash: hash(3),
		PrecommitVotes: map[Address][]byte{
			addr(1): {0x01, 0x02},
			addr(2): {0x03},
			addr(3): {},
		},
	}
	encoded, err := rlp.EncodeToBytes(&p)
	require.NoError(t, err)

	var decoded Proof
	require.NoError(t, rlp.DecodeBytes(encoded, &decoded))
	require.Equal(t, p.Height, decoded.Height)
	require.Len(t, decoded.PrecommitVotes, 3)
	require.Equal(t, []byte{0x01, 0x02}, decoded.PrecommitVotes[addr(1)])
}

func TestProofRLPRoundTrip_Empty(t *testing.T) {
	p := Proof{Height: 0, PrecommitVotes: map[Address][]byte{}}
	encoded, err := rlp.EncodeToBytes(&p)
	require.NoError(t, err)

	var decoded Proof
	require.NoError(t, rlp.DecodeBytes(encoded, &decoded))
	require.True(t, decoded.IsGenesis())
	require.Empty(t, decoded.PrecommitVotes)
}

func TestStatusRLPRoundTrip_NoInterval(t *testing.T) {
	st := Status{Height: 5, AuthorityList: []Node{{Address: addr(1), ProposalWeight: 1, VoteWeight: 1}}}
	encoded, err := rlp.EncodeToBytes(&st)
	require.NoError(t, err)

	var decoded Status
	require.NoError(t, rlp.DecodeBytes(encoded, &decoded))
	require.Nil(t, decoded.Interval)
	require.Len(t, decoded.AuthorityList, 1)
}

func TestStatusRLPRoundTrip_WithInterval(t *testing.T) {
	interval := uint64(4000)
	st := Status{Height: 5, Interval: &interval}
	encoded, err := rlp.EncodeToBytes(&st)
	require.NoError(t, err)

	var decoded Status
	require.NoError(t, rlp.DecodeBytes(encoded, &decoded))
	require.NotNil(t, decoded.Interval)
	require.Equal(t, interval, *decoded.Interval)
}

func TestSignedVoteRLPRoundTrip(t *testing.T) {
	sv := SignedVote{
		Vote:      Vote{Kind: Precommit, Height: 12, Round: 0, BlockHash: hash(4), Voter: addr(7)},
		Signature: []byte{0x1, 0x2, 0x3},
	}
	encoded, err := rlp.EncodeToBytes(&sv)
	require.NoError(t, err)

	var decoded SignedVote
	require.NoError(t, rlp.DecodeBytes(encoded, &decoded))
	require.Equal(t, sv.Vote, decoded.Vote)
	require.Equal(t, sv.Signature, decoded.Signature)
}

func TestHashIsZero(t *testing.T) {
	require.True(t, Hash{}.IsZero())
	require.False(t, hash(1).IsZero())
}

func TestBytesToAddressTruncates(t *testing.T) {
	long := make([]byte, 32)
	long[31] = 0xFF
	a := BytesToAddress(long)
	require.Equal(t, byte(0xFF), a[19])
}
