// Package authority manages the current and previous authority sets and
// derives the deterministic, weighted proposer for a given height and
// round.
package authority

import (
	"math"
	"sort"
	"sync"

	"bftcore/consensus/types"
)

// Manager holds the current authority set plus the previous one, retained
// alongside the height at which it was superseded.
type Manager struct {
	mu            sync.RWMutex
	current       []types.Node
	old           []types.Node
	oldSupersedAt types.Height
}

// New constructs a Manager seeded with the genesis authority list.
func New(initial []types.Node) *Manager {
	return &Manager{current: append([]types.Node(nil), initial...)}
}

// ReceiveAuthorities applies a new authority list observed in a Status at
// height h. If the list differs from the current one, the current list is
// retained as "old" and h is recorded as the height it was superseded at.
func (m *Manager) ReceiveAuthorities(height types.Height, list []types.Node) {
	sorted := append([]types.Node(nil), list...)
	sort.Slice(sorted, func(i, j int) bool {
		return lessAddress(sorted[i].Address, sorted[j].Address)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if sameSet(m.current, sorted) {
		return
	}
	m.old = m.current
	m.oldSupersedAt = height
	m.current = sorted
}

func lessAddress(a, b types.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func sameSet(a, b []types.Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// VotingWeights returns the authority list effective at height h: the
// current list, or the retained old list if h predates the supersession.
func (m *Manager) VotingWeights(h types.Height) []types.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.old != nil && h < m.oldSupersedAt {
		return append([]types.Node(nil), m.old...)
	}
	return append([]types.Node(nil), m.current...)
}

// Current returns the current authority list.
func (m *Manager) Current() []types.Node {
	return m.VotingWeights(math.MaxUint64)
}

// TotalVoteWeight sums VoteWeight across a list of nodes.
func TotalVoteWeight(nodes []types.Node) uint64 {
	var total uint64
	for _, n := range nodes {
		total += n.VoteWeight
	}
	return total
}

// TotalProposalWeight sums ProposalWeight across a list of nodes.
func TotalProposalWeight(nodes []types.Node) uint64 {
	var total uint64
	for _, n := range nodes {
		total += n.ProposalWeight
	}
	return total
}

// WeightOf sums VoteWeight for the members of addrs present in nodes.
func WeightOf(nodes []types.Node, addrs map[types.Address]struct{}) uint64 {
	var total uint64
	for _, n := range nodes {
		if _, ok := addrs[n.Address]; ok {
			total += n.VoteWeight
		}
	}
	return total
}

// AboveThreshold reports whether weight w exceeds 2/3 of total.
func AboveThreshold(w, total uint64) bool {
	return 3*w > 2*total
}

// AllVotes reports whether weight w equals the entire total.
func AllVotes(w, total uint64) bool {
	return w == total
}

// SelectProposer deterministically draws the proposer for (height, round)
// from the authority list effective at height, weighted by ProposalWeight,
// using a PCG64MCG generator seeded from height+round. The algorithm
// performs rejection sampling to avoid modulo bias: let S be the total
// weight, bound = floor(maxUint64/S); draw uniform 64-bit values until one
// falls below S*bound, then linear-scan cumulative weights to find the
// index whose cumulative weight exceeds value/bound.
func SelectProposer(nodes []types.Node, height types.Height, round types.Round) types.Address {
	ordered := append([]types.Node(nil), nodes...)
	sort.Slice(ordered, func(i, j int) bool { return lessAddress(ordered[i].Address, ordered[j].Address) })

	total := TotalProposalWeight(ordered)
	if total == 0 || len(ordered) == 0 {
		return types.Address{}
	}

	seed := height + round
	gen := newPCG64MCG(seed)
	bound := ^uint64(0) / total

	var draw uint64
	for {
		v := gen.next64()
		if v < total*bound {
			draw = v
			break
		}
	}
	pick := draw / bound

	var cumulative uint64
	for _, n := range ordered {
		cumulative += n.ProposalWeight
		if pick < cumulative {
			return n.Address
		}
	}
	return ordered[len(ordered)-1].Address
}
