package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/rlp"

	"bftcore/consensus/authority"
	"bftcore/consensus/bfterr"
	"bftcore/consensus/types"
	"bftcore/observability"
	"bftcore/timer"
	"bftcore/wal"
)

// transmitPrevote broadcasts a prevote for the locked block if one is
// held, else for the currently held proposal, else nil, then moves to
// PrevoteWait.
func (e *Engine) transmitPrevote(ctx context.Context) {
	e.mu.Lock()
	height, round := e.height, e.round
	var hash types.Hash
	switch {
	case e.lock != nil:
		hash = e.lock.BlockHash
	case e.activeProposal != nil:
		hash = e.activeProposal.Proposal.BlockHash
	}
	e.step = types.Prevote
	e.mu.Unlock()

	sv := e.signVote(types.Prevote, height, round, hash)
	if sv == nil {
		return
	}
	e.recordOwnVote(ctx, height, *sv)

	e.mu.Lock()
	e.step = types.PrevoteWait
	e.mu.Unlock()
	e.armTimeout(height, round, types.PrevoteWait, e.durations.Prevote)
	e.armTimeout(height, round, types.Prevote, e.durations.Prevote*timer.RetransmitMultiplier)
}

func (e *Engine) signVote(kind types.VoteKind, height types.Height, round types.Round, hash types.Hash) *types.SignedVote {
	v := types.Vote{Kind: kind, Height: height, Round: round, BlockHash: hash, Voter: e.address}
	encoded, err := rlp.EncodeToBytes(&v)
	if err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.ShouldNotHappen, "encode vote", err))
		return nil
	}
	sig, err := e.support.Sign(e.support.CryptHash(encoded))
	if err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.Sign, "sign vote", err))
		return nil
	}
	return &types.SignedVote{Vote: v, Signature: sig}
}

func (e *Engine) recordOwnVote(ctx context.Context, height types.Height, sv types.SignedVote) {
	nodes := e.auth.VotingWeights(height)
	weight := weightOfVoter(nodes, sv.Vote.Voter)
	if err := e.votes.Add(sv, weight, height); err != nil {
		bfterr.Handle(e.logger, err)
	} else {
		observability.Consensus().RecordVote(sv.Vote.Kind.String())
	}
	e.appendWAL(wal.RecordVote, height, &sv)

	encoded, err := rlp.EncodeToBytes(&sv)
	if err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.ShouldNotHappen, "encode signed vote", err))
		return
	}
	if err := e.support.Transmit(ctx, encoded); err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.Send, "transmit vote", err))
	}
	if sv.Vote.Kind == types.Prevote {
		e.checkPrevoteCount(ctx)
	}
}

func weightOfVoter(nodes []types.Node, addr types.Address) uint64 {
	for _, n := range nodes {
		if n.Address == addr {
			return n.VoteWeight
		}
	}
	return 0
}

// onPrevoteWaitExpired handles a PrevoteWait timeout: with no lock held the
// proposal is dropped, then the engine proceeds to precommit with whatever
// PoLC is currently held, possibly none — unless the verify_req feature is
// enabled and the lock's transaction verification is still undetermined, in
// which case the engine pauses in VerifyWait instead.
func (e *Engine) onPrevoteWaitExpired(ctx context.Context) {
	e.mu.Lock()
	if e.lock == nil {
		e.activeProposal = nil
	}
	e.mu.Unlock()

	if e.cfg.VerifyReq && e.enterVerifyWaitIfUndetermined(ctx) {
		return
	}
	e.transmitPrecommit(ctx)
}

// enterVerifyWaitIfUndetermined consults the cached CheckTxs outcome for the
// held lock's block hash. A known negative result clears the lock; a known
// positive result is a no-op (the caller proceeds straight to precommit). An
// unknown result arms a VerifyWait timeout and returns true so the caller
// defers precommit until a VerifyResp arrives.
func (e *Engine) enterVerifyWaitIfUndetermined(ctx context.Context) bool {
	e.mu.Lock()
	lock := e.lock
	height, round := e.height, e.round
	if lock != nil {
		if res, known := e.verifyResults[lock.BlockHash]; known {
			if !res {
				e.lock = nil
				e.activeProposal = nil
			}
			e.mu.Unlock()
			return false
		}
	}
	if lock == nil {
		e.mu.Unlock()
		return false
	}
	e.step = types.VerifyWait
	e.mu.Unlock()

	e.armTimeout(height, round, types.VerifyWait, e.durations.Prevote*timer.VerifyAwaitMultiplier)
	return true
}

// checkPrevoteCount inspects the vote collector for +2/3 prevotes at any
// round >= current round and updates the lock accordingly.
func (e *Engine) checkPrevoteCount(ctx context.Context) {
	height, round, _ := e.currentHRS()
	atRound, weight, ok := e.votes.PrevoteCountAtOrAfter(round)
	if !ok {
		return
	}
	nodes := e.auth.VotingWeights(height)
	total := authority.TotalVoteWeight(nodes)
	if !authority.AboveThreshold(weight, total) {
		return
	}

	if atRound > round {
		e.mu.Lock()
		e.round = atRound
		e.mu.Unlock()
		round = atRound
	}

	vs := e.votes.GetVoteSet(height, round, types.Prevote)
	if vs == nil {
		return
	}
	// Find which block hash, if any, reached the threshold.
	var nilWeight uint64
	var lockedHash types.Hash
	var lockedWeight uint64
	foundNonNil := false
	for _, sv := range vs.Votes() {
		h := sv.Vote.BlockHash
		w := vs.WeightFor(h)
		if h.IsZero() {
			nilWeight = w
			continue
		}
		if authority.AboveThreshold(w, total) {
			lockedHash = h
			lockedWeight = w
			foundNonNil = true
		}
	}

	e.mu.Lock()
	switch {
	case authority.AboveThreshold(nilWeight, total):
		e.lock = nil
		e.activeProposal = nil
	case foundNonNil:
		if e.lock == nil || e.lock.Round < round {
			e.lock = &types.LockStatus{
				BlockHash: lockedHash,
				Round:     round,
				Votes:     vs.ExtractPoLC(lockedHash),
			}
		}
		_ = lockedWeight
	}
	e.mu.Unlock()

	if authority.AllVotes(vs.Count(), total) {
		e.armTimeout(height, round, types.PrevoteWait, 0)
	}
}
