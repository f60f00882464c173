// Package collectors implements the bounded caches that hold in-flight
// proposals and votes: a three-level LRU for votes (height -> round ->
// kind -> VoteSet) and a two-level LRU for proposals (height -> round).
// Every level is capped at 16 entries so an adversarial flood of distant
// heights or rounds cannot grow memory without bound.
package collectors

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"bftcore/consensus/bfterr"
	"bftcore/consensus/types"
)

// Capacity is the LRU bound applied at every level of both collectors.
const Capacity = 16

// VoteSet accumulates signed votes for one (height, round, kind).
type VoteSet struct {
	mu               sync.Mutex
	votesByVoter     map[types.Address]types.SignedVote
	votesByBlockHash map[types.Hash]uint64
	count            uint64
}

func newVoteSet() *VoteSet {
	return &VoteSet{
		votesByVoter:     make(map[types.Address]types.SignedVote),
		votesByBlockHash: make(map[types.Hash]uint64),
	}
}

// Add records sv with the given voting weight. It returns a Duplicate
// error, leaving the set unchanged, if voter already has a vote recorded.
func (vs *VoteSet) Add(sv types.SignedVote, weight uint64) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if _, exists := vs.votesByVoter[sv.Vote.Voter]; exists {
		return bfterr.New(bfterr.Duplicate, "voter already voted for this height/round/kind")
	}
	vs.votesByVoter[sv.Vote.Voter] = sv
	vs.votesByBlockHash[sv.Vote.BlockHash] += weight
	vs.count += weight
	return nil
}

// Count returns the total weight tallied in the set.
func (vs *VoteSet) Count() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.count
}

// WeightFor returns the weight tallied for a specific block hash.
func (vs *VoteSet) WeightFor(hash types.Hash) uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.votesByBlockHash[hash]
}

// ExtractPoLC returns the subset of votes matching hash, to be embedded as
// the lock-votes bundle of the next proposal.
func (vs *VoteSet) ExtractPoLC(hash types.Hash) []types.SignedVote {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	out := make([]types.SignedVote, 0, len(vs.votesByVoter))
	for _, sv := range vs.votesByVoter {
		if sv.Vote.BlockHash == hash {
			out = append(out, sv)
		}
	}
	return out
}

// Votes returns every vote currently held, regardless of target hash.
func (vs *VoteSet) Votes() []types.SignedVote {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	out := make([]types.SignedVote, 0, len(vs.votesByVoter))
	for _, sv := range vs.votesByVoter {
		out = append(out, sv)
	}
	return out
}

// stepCollector holds the VoteSets for both vote kinds at one round.
type stepCollector struct {
	mu   sync.Mutex
	sets map[types.VoteKind]*VoteSet
}

func newStepCollector() *stepCollector {
	return &stepCollector{sets: make(map[types.VoteKind]*VoteSet)}
}

func (sc *stepCollector) voteSet(kind types.VoteKind) *VoteSet {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	vs, ok := sc.sets[kind]
	if !ok {
		vs = newVoteSet()
		sc.sets[kind] = vs
	}
	return vs
}

// roundCollector holds an LRU of stepCollectors keyed by round.
type roundCollector struct {
	rounds *lru.Cache[types.Round, *stepCollector]
}

func newRoundCollector() *roundCollector {
	c, _ := lru.New[types.Round, *stepCollector](Capacity)
	return &roundCollector{rounds: c}
}

func (rc *roundCollector) step(round types.Round) *stepCollector {
	if sc, ok := rc.rounds.Get(round); ok {
		return sc
	}
	sc := newStepCollector()
	rc.rounds.Add(round, sc)
	return sc
}

// VoteCollector is the three-level height -> round -> kind vote cache, plus
// a per-round prevote weight map for the current height, answering "is there
// already +2/3 prevote at any round >= current" without scanning the vote sets.
type VoteCollector struct {
	mu      sync.Mutex
	heights *lru.Cache[types.Height, *roundCollector]

	prevoteMu    sync.Mutex
	prevoteCount map[types.Round]uint64
}

// NewVoteCollector constructs an empty collector.
func NewVoteCollector() *VoteCollector {
	c, _ := lru.New[types.Height, *roundCollector](Capacity)
	return &VoteCollector{
		heights:      c,
		prevoteCount: make(map[types.Round]uint64),
	}
}

func (vc *VoteCollector) round(height types.Height) *roundCollector {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if rc, ok := vc.heights.Get(height); ok {
		return rc
	}
	rc := newRoundCollector()
	vc.heights.Add(height, rc)
	return rc
}

// Add records a signed vote at (height, round, kind), tallying weight.
// When kind is Prevote and height equals currentHeight, the per-round
// prevote weight map is updated too, enabling PrevoteCountAtOrAfter.
func (vc *VoteCollector) Add(sv types.SignedVote, weight uint64, currentHeight types.Height) error {
	rc := vc.round(sv.Vote.Height)
	vs := rc.step(sv.Vote.Round).voteSet(sv.Vote.Kind)
	if err := vs.Add(sv, weight); err != nil {
		return err
	}
	if sv.Vote.Kind == types.Prevote && sv.Vote.Height == currentHeight {
		vc.prevoteMu.Lock()
		vc.prevoteCount[sv.Vote.Round] += weight
		vc.prevoteMu.Unlock()
	}
	return nil
}

// GetVoteSet returns the VoteSet at (height, round, kind), creating an empty
// one if none exists yet; it never returns nil.
func (vc *VoteCollector) GetVoteSet(height types.Height, round types.Round, kind types.VoteKind) *VoteSet {
	rc := vc.round(height)
	return rc.step(round).voteSet(kind)
}

// PrevoteCountAtOrAfter returns the lowest round >= fromRound that holds a
// recorded prevote weight, and that weight, or ok=false if none exists.
func (vc *VoteCollector) PrevoteCountAtOrAfter(fromRound types.Round) (round types.Round, weight uint64, ok bool) {
	vc.prevoteMu.Lock()
	defer vc.prevoteMu.Unlock()
	found := false
	for r, w := range vc.prevoteCount {
		if r >= fromRound && (!found || r < round) {
			round, weight, found = r, w, true
		}
	}
	return round, weight, found
}

// ClearPrevoteCount discards the per-round prevote weight map, called on
// goto-new-height.
func (vc *VoteCollector) ClearPrevoteCount() {
	vc.prevoteMu.Lock()
	vc.prevoteCount = make(map[types.Round]uint64)
	vc.prevoteMu.Unlock()
}

// Remove evicts every height strictly older than currentHeight, matching
// the LRU's natural eviction but invoked explicitly on goto-new-height so
// stale heights do not linger merely because they were never re-touched.
func (vc *VoteCollector) Remove(currentHeight types.Height) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	for _, h := range vc.heights.Keys() {
		if h < currentHeight {
			vc.heights.Remove(h)
		}
	}
}

// ProposalCollector is the height -> round LRU cache of signed proposals.
type ProposalCollector struct {
	mu      sync.Mutex
	heights *lru.Cache[types.Height, *lru.Cache[types.Round, types.SignedProposal]]
}

// NewProposalCollector constructs an empty collector.
func NewProposalCollector() *ProposalCollector {
	c, _ := lru.New[types.Height, *lru.Cache[types.Round, types.SignedProposal]](Capacity)
	return &ProposalCollector{heights: c}
}

func (pc *ProposalCollector) rounds(height types.Height) *lru.Cache[types.Round, types.SignedProposal] {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if rc, ok := pc.heights.Get(height); ok {
		return rc
	}
	rc, _ := lru.New[types.Round, types.SignedProposal](Capacity)
	pc.heights.Add(height, rc)
	return rc
}

// Add records sp, rejecting a second distinct proposal for the same
// (height, round) with a Duplicate error.
func (pc *ProposalCollector) Add(sp types.SignedProposal) error {
	rc := pc.rounds(sp.Proposal.Height)
	if _, exists := rc.Get(sp.Proposal.Round); exists {
		return bfterr.New(bfterr.Duplicate, "proposal already received for this height/round")
	}
	rc.Add(sp.Proposal.Round, sp)
	return nil
}

// Get returns the proposal recorded at (height, round), if any.
func (pc *ProposalCollector) Get(height types.Height, round types.Round) (types.SignedProposal, bool) {
	rc := pc.rounds(height)
	return rc.Get(round)
}
