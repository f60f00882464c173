package authority

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bftcore/consensus/types"
)

func node(b byte, weight uint64) types.Node {
	var a types.Address
	a[19] = b
	return types.Node{Address: a, ProposalWeight: weight, VoteWeight: weight}
}

func TestVotingWeightsFallsBackToOldBeforeSupersession(t *testing.T) {
	m := New([]types.Node{node(1, 1)})
	m.ReceiveAuthorities(10, []types.Node{node(1, 1), node(2, 1)})

	require.Len(t, m.VotingWeights(9), 1, "height before supersession sees the old set")
	require.Len(t, m.VotingWeights(10), 2, "height at/after supersession sees the new set")
}

func TestReceiveAuthoritiesNoopOnIdenticalSet(t *testing.T) {
	m := New([]types.Node{node(1, 1), node(2, 1)})
	m.ReceiveAuthorities(5, []types.Node{node(2, 1), node(1, 1)})

	require.Empty(t, m.old, "an unordered-but-identical set must not record a supersession")
}

func TestAboveThreshold(t *testing.T) {
	require.False(t, AboveThreshold(2, 3))
	require.True(t, AboveThreshold(3, 4))
	require.True(t, AboveThreshold(7, 10))
	require.False(t, AboveThreshold(6, 9))
}

func TestSelectProposerDeterministic(t *testing.T) {
	nodes := []types.Node{node(1, 1), node(2, 1), node(3, 1)}
	a := SelectProposer(nodes, 100, 0)
	b := SelectProposer(nodes, 100, 0)
	require.Equal(t, a, b, "the same (height, round) must always draw the same proposer")
}

func TestSelectProposerRespectsZeroWeightMembers(t *testing.T) {
	nodes := []types.Node{node(1, 0), node(2, 0), node(3, 10)}
	for round := types.Round(0); round < 50; round++ {
		require.Equal(t, node(3, 10).Address, SelectProposer(nodes, 1, round))
	}
}

func TestSelectProposerDistributionRoughlyMatchesWeight(t *testing.T) {
	heavy := node(1, 9)
	light := node(2, 1)
	nodes := []types.Node{heavy, light}

	counts := map[types.Address]int{}
	const rounds = 2000
	for r := types.Round(0); r < rounds; r++ {
		counts[SelectProposer(nodes, 1, r)]++
	}

	heavyShare := float64(counts[heavy.Address]) / float64(rounds)
	require.InDelta(t, 0.9, heavyShare, 0.05, "a 9:1 weight split should draw the heavy node roughly 90%% of the time")
}

func TestSelectProposerEmptySetReturnsZeroAddress(t *testing.T) {
	require.Equal(t, types.Address{}, SelectProposer(nil, 1, 1))
}
