package collectors

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bftcore/consensus/bfterr"
	"bftcore/consensus/types"
)

func addr(b byte) types.Address {
	var a types.Address
	a[19] = b
	return a
}

func hash(b byte) types.Hash {
	var h types.Hash
	h[31] = b
	return h
}

func vote(kind types.VoteKind, height types.Height, round types.Round, voter types.Address, blockHash types.Hash) types.SignedVote {
	return types.SignedVote{Vote: types.Vote{Kind: kind, Height: height, Round: round, BlockHash: blockHash, Voter: voter}}
}

func TestVoteSetRejectsDuplicateVoter(t *testing.T) {
	vs := newVoteSet()
	require.NoError(t, vs.Add(vote(types.Prevote, 1, 0, addr(1), hash(1)), 1))

	err := vs.Add(vote(types.Prevote, 1, 0, addr(1), hash(2)), 1)
	require.Error(t, err)
	var bftErr *bfterr.Error
	require.ErrorAs(t, err, &bftErr)
	require.Equal(t, bfterr.Duplicate, bftErr.Kind)

	require.Equal(t, uint64(1), vs.Count(), "the rejected duplicate must not change the tally")
}

func TestVoteSetTalliesWeightPerBlockHash(t *testing.T) {
	vs := newVoteSet()
	require.NoError(t, vs.Add(vote(types.Precommit, 1, 0, addr(1), hash(1)), 3))
	require.NoError(t, vs.Add(vote(types.Precommit, 1, 0, addr(2), hash(1)), 2))
	require.NoError(t, vs.Add(vote(types.Precommit, 1, 0, addr(3), hash(2)), 5))

	require.Equal(t, uint64(10), vs.Count())
	require.Equal(t, uint64(5), vs.WeightFor(hash(1)))
	require.Equal(t, uint64(5), vs.WeightFor(hash(2)))
	require.Len(t, vs.ExtractPoLC(hash(1)), 2)
	require.Len(t, vs.Votes(), 3)
}

func TestVoteCollectorAddAndGetVoteSet(t *testing.T) {
	vc := NewVoteCollector()
	require.NoError(t, vc.Add(vote(types.Prevote, 5, 1, addr(1), hash(1)), 1, 5))

	vs := vc.GetVoteSet(5, 1, types.Prevote)
	require.NotNil(t, vs)
	require.Equal(t, uint64(1), vs.Count())

	require.Equal(t, uint64(0), vc.GetVoteSet(5, 1, types.Precommit).Count(), "a distinct kind does not share the other's set")
}

func TestVoteCollectorPrevoteCountOnlyTracksCurrentHeight(t *testing.T) {
	vc := NewVoteCollector()
	require.NoError(t, vc.Add(vote(types.Prevote, 5, 0, addr(1), hash(1)), 3, 5))
	require.NoError(t, vc.Add(vote(types.Prevote, 99, 0, addr(1), hash(1)), 7, 5), "a vote for a different height must not pollute the current-height tally")

	round, weight, ok := vc.PrevoteCountAtOrAfter(0)
	require.True(t, ok)
	require.Equal(t, types.Round(0), round)
	require.Equal(t, uint64(3), weight)
}

func TestVoteCollectorPrevoteCountAtOrAfterPicksLowestQualifyingRound(t *testing.T) {
	vc := NewVoteCollector()
	require.NoError(t, vc.Add(vote(types.Prevote, 5, 3, addr(1), hash(1)), 1, 5))
	require.NoError(t, vc.Add(vote(types.Prevote, 5, 1, addr(2), hash(1)), 1, 5))

	round, _, ok := vc.PrevoteCountAtOrAfter(2)
	require.True(t, ok)
	require.Equal(t, types.Round(3), round, "round 1 is below the floor, so round 3 should win")

	_, _, ok = vc.PrevoteCountAtOrAfter(4)
	require.False(t, ok, "no round >= 4 was recorded")
}

func TestVoteCollectorClearPrevoteCount(t *testing.T) {
	vc := NewVoteCollector()
	require.NoError(t, vc.Add(vote(types.Prevote, 5, 0, addr(1), hash(1)), 1, 5))
	vc.ClearPrevoteCount()

	_, _, ok := vc.PrevoteCountAtOrAfter(0)
	require.False(t, ok)
}

func TestVoteCollectorRemoveEvictsOlderHeights(t *testing.T) {
	vc := NewVoteCollector()
	require.NoError(t, vc.Add(vote(types.Prevote, 1, 0, addr(1), hash(1)), 1, 1))
	require.NoError(t, vc.Add(vote(types.Prevote, 2, 0, addr(1), hash(1)), 1, 2))
	require.NoError(t, vc.Add(vote(types.Prevote, 3, 0, addr(1), hash(1)), 1, 3))

	vc.Remove(3)

	require.Equal(t, uint64(0), vc.GetVoteSet(1, 0, types.Prevote).Count(), "evicted height must come back as a freshly created empty set")
	require.Equal(t, uint64(0), vc.GetVoteSet(2, 0, types.Prevote).Count())
	require.Equal(t, uint64(1), vc.GetVoteSet(3, 0, types.Prevote).Count(), "current height must survive eviction")
}

func TestProposalCollectorAddAndGet(t *testing.T) {
	pc := NewProposalCollector()
	sp := types.SignedProposal{Proposal: types.Proposal{Height: 10, Round: 1, BlockHash: hash(1), Proposer: addr(1)}}
	require.NoError(t, pc.Add(sp))

	got, ok := pc.Get(10, 1)
	require.True(t, ok)
	require.Equal(t, sp.Proposal.BlockHash, got.Proposal.BlockHash)
}

func TestProposalCollectorRejectsDuplicateRound(t *testing.T) {
	pc := NewProposalCollector()
	sp1 := types.SignedProposal{Proposal: types.Proposal{Height: 10, Round: 1, BlockHash: hash(1), Proposer: addr(1)}}
	sp2 := types.SignedProposal{Proposal: types.Proposal{Height: 10, Round: 1, BlockHash: hash(2), Proposer: addr(2)}}

	require.NoError(t, pc.Add(sp1))
	err := pc.Add(sp2)
	require.Error(t, err)
	var bftErr *bfterr.Error
	require.ErrorAs(t, err, &bftErr)
	require.Equal(t, bfterr.Duplicate, bftErr.Kind)

	got, ok := pc.Get(10, 1)
	require.True(t, ok)
	require.Equal(t, sp1.Proposal.BlockHash, got.Proposal.BlockHash, "the rejected duplicate must not overwrite the original")
}

func TestProposalCollectorDistinguishesRounds(t *testing.T) {
	pc := NewProposalCollector()
	require.NoError(t, pc.Add(types.SignedProposal{Proposal: types.Proposal{Height: 10, Round: 0, BlockHash: hash(1), Proposer: addr(1)}}))
	require.NoError(t, pc.Add(types.SignedProposal{Proposal: types.Proposal{Height: 10, Round: 1, BlockHash: hash(2), Proposer: addr(2)}}))

	got0, ok := pc.Get(10, 0)
	require.True(t, ok)
	require.Equal(t, hash(1), got0.Proposal.BlockHash)

	got1, ok := pc.Get(10, 1)
	require.True(t, ok)
	require.Equal(t, hash(2), got1.Proposal.BlockHash)
}
