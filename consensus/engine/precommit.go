package engine

import (
	"context"

	"bftcore/consensus/authority"
	"bftcore/consensus/bfterr"
	"bftcore/consensus/proof"
	"bftcore/consensus/types"
	"bftcore/observability"
	"bftcore/timer"
)

// transmitPrecommit broadcasts a precommit for the locked block, else nil,
// arms a retransmit timer, and moves to PrecommitWait.
func (e *Engine) transmitPrecommit(ctx context.Context) {
	e.mu.Lock()
	height, round := e.height, e.round
	var hash types.Hash
	if e.lock != nil {
		hash = e.lock.BlockHash
	} else {
		e.activeProposal = nil
	}
	e.step = types.Precommit
	e.mu.Unlock()

	sv := e.signVote(types.Precommit, height, round, hash)
	if sv == nil {
		return
	}
	e.recordOwnVote(ctx, height, *sv)

	e.mu.Lock()
	e.step = types.PrecommitWait
	e.mu.Unlock()
	e.armTimeout(height, round, types.Precommit, e.durations.Precommit*timer.RetransmitMultiplier)

	e.checkPrecommitCount(ctx)
}

// precommitResult mirrors the four outcomes the original design's
// check_precommit_count distinguishes.
type precommitResult int

const (
	precommitBelowThreshold precommitResult = iota
	precommitOnNothing
	precommitOnNil
	precommitOnProposal
)

// checkPrecommitCount tallies the precommit VoteSet for the current round
// and advances the state machine according to the observed outcome.
func (e *Engine) checkPrecommitCount(ctx context.Context) {
	height, round, _ := e.currentHRS()
	nodes := e.auth.VotingWeights(height)
	total := authority.TotalVoteWeight(nodes)

	vs := e.votes.GetVoteSet(height, round, types.Precommit)
	if vs == nil {
		return
	}
	weight := vs.Count()
	if !authority.AboveThreshold(weight, total) {
		tv := e.durations.Precommit
		if authority.AllVotes(weight, total) {
			tv = 0
		}
		e.armTimeout(height, round, types.PrecommitWait, tv)
		return
	}

	var winner types.Hash
	found := false
	for _, sv := range vs.Votes() {
		h := sv.Vote.BlockHash
		if authority.AboveThreshold(vs.WeightFor(h), total) {
			winner, found = h, true
			break
		}
	}

	switch {
	case found && winner.IsZero():
		// +2/3 for nil: clear the active proposal (not the lock, if any is
		// held) and move to the next round.
		e.mu.Lock()
		e.activeProposal = nil
		e.mu.Unlock()
		e.gotoNextRound(ctx)
	case found:
		e.mu.Lock()
		if e.lock == nil || e.lock.Round < round {
			e.lock = &types.LockStatus{BlockHash: winner, Round: round, Votes: vs.ExtractPoLC(winner)}
		}
		e.mu.Unlock()
		e.commit(ctx, winner)
	default:
		// +2/3 received overall but no single hash reached it yet.
		e.armTimeout(height, round, types.PrecommitWait, e.durations.Precommit)
	}
}

// commit emits a Commit built from the current precommit VoteSet.
func (e *Engine) commit(ctx context.Context, hash types.Hash) {
	height, round, _ := e.currentHRS()
	nodes := e.auth.VotingWeights(height)
	vs := e.votes.GetVoteSet(height, round, types.Precommit)
	if vs == nil {
		bfterr.Handle(e.logger, bfterr.New(bfterr.ShouldNotHappen, "commit with no precommit vote set"))
		return
	}
	built, ok := proof.Build(height, round, hash, vs.Votes(), nodes)
	if !ok {
		bfterr.Handle(e.logger, bfterr.New(bfterr.ShouldNotHappen, "commit threshold reported but proof build failed"))
		return
	}

	e.mu.RLock()
	sp := e.activeProposal
	e.mu.RUnlock()
	var block []byte
	if sp != nil && sp.Proposal.BlockHash == hash {
		// The host retains the actual block bytes keyed by hash; the engine
		// only carries the hash on the wire.
		block = sp.Proposal.BlockHash.Bytes()
	}

	commit := types.Commit{Height: height, Block: block, Proof: built, Address: e.address}
	status, err := e.support.Commit(ctx, commit)
	if err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.Commit, "host commit failed", err))
		e.mu.Lock()
		e.step = types.Precommit
		e.mu.Unlock()
		e.transmitPrevote(ctx)
		return
	}

	e.mu.Lock()
	interval := e.now().Sub(e.htime)
	e.lastCommitRound = round
	e.lastCommitHash = hash
	e.haveCommitted = true
	e.step = types.CommitWait
	e.mu.Unlock()

	observability.Consensus().RecordCommit()
	observability.Consensus().RecordBlockInterval(interval)

	e.handleStatus(ctx, &status)
}
