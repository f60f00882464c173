package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/rlp"

	"bftcore/consensus/authority"
	"bftcore/consensus/bfterr"
	"bftcore/consensus/types"
	"bftcore/timer"
	"bftcore/wal"
)

// newRoundStart begins a fresh (height, round): the proposer attempts to
// transmit a proposal and, on success, immediately prevotes; everyone else
// arms a ProposeWait timeout.
func (e *Engine) newRoundStart(ctx context.Context) {
	e.mu.Lock()
	height, round := e.height, e.round
	e.step = types.Propose
	e.mu.Unlock()

	if e.isProposer(height, round) {
		if e.tryTransmitProposal(ctx, height, round) {
			e.transmitPrevote(ctx)
			return
		}
	}
	e.mu.Lock()
	e.step = types.ProposeWait
	e.mu.Unlock()
	e.armTimeout(height, round, types.ProposeWait, timer.ProposeBackoff(e.durations.Propose, round))
}

func (e *Engine) isProposer(height types.Height, round types.Round) bool {
	nodes := e.auth.VotingWeights(height)
	proposer := authority.SelectProposer(nodes, height, round)
	return proposer == e.address
}

// tryTransmitProposal broadcasts a locked proposal if one is held, else an
// available feed block, else returns false so the caller schedules a
// back-off retry.
func (e *Engine) tryTransmitProposal(ctx context.Context, height types.Height, round types.Round) bool {
	e.mu.Lock()
	lock := e.lock
	feed := e.feed
	e.mu.Unlock()

	var sp types.SignedProposal
	switch {
	case lock != nil:
		sp.Proposal = types.Proposal{
			Height:    height,
			Round:     round,
			BlockHash: lock.BlockHash,
			LockRound: &lock.Round,
			LockVotes: lock.Votes,
			Proposer:  e.address,
		}
	case feed != nil && feed.Height == height:
		sp.Proposal = types.Proposal{
			Height:    height,
			Round:     round,
			BlockHash: feed.BlockHash,
			Proposer:  e.address,
		}
	default:
		return false
	}

	encoded, err := rlp.EncodeToBytes(&sp.Proposal)
	if err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.ShouldNotHappen, "encode proposal", err))
		return false
	}
	sig, err := e.support.Sign(e.support.CryptHash(encoded))
	if err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.Sign, "sign proposal", err))
		return false
	}
	sp.Signature = sig

	e.mu.Lock()
	e.activeProposal = &sp
	e.mu.Unlock()
	e.appendWAL(wal.RecordProposal, height, &sp)

	spEncoded, err := rlp.EncodeToBytes(&sp)
	if err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.ShouldNotHappen, "encode signed proposal", err))
		return false
	}
	if err := e.support.Transmit(ctx, spEncoded); err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.Send, "transmit proposal", err))
	}
	return true
}

// handleFeed records a proposer-side candidate block. If the engine was
// waiting on a feed to propose (ProposeWait with no lock held), it
// immediately retries starting the round.
func (e *Engine) handleFeed(ctx context.Context, f *types.Feed) {
	if f == nil {
		return
	}
	e.mu.Lock()
	if f.Height < e.height {
		e.mu.Unlock()
		return
	}
	e.feed = f
	waiting := e.step == types.ProposeWait
	e.mu.Unlock()

	if waiting {
		e.newRoundStart(ctx)
	}
}
