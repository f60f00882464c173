package engine

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"bftcore/consensus/bfterr"
	"bftcore/consensus/proof"
	"bftcore/consensus/types"
	"bftcore/observability"
	"bftcore/timer"
	"bftcore/wal"
)

// handleStatus applies the host's height acknowledgement: a Status at or
// beyond the current height is the only way the engine advances to a new
// height. A status below current height is obsolete and ignored.
func (e *Engine) handleStatus(ctx context.Context, st *types.Status) {
	if st == nil {
		return
	}
	height, _, _ := e.currentHRS()
	if st.Height < height {
		bfterr.Handle(e.logger, bfterr.New(bfterr.Obsolete, "status below current height"))
		return
	}

	e.appendWAL(wal.RecordStatus, st.Height, st)
	e.auth.ReceiveAuthorities(st.Height, st.AuthorityList)
	if st.Interval != nil {
		e.mu.Lock()
		e.durations = timer.FromTotal(*st.Interval)
		e.mu.Unlock()
	}

	e.gotoNewHeight(st.Height + 1)
	e.newRoundStart(ctx)
}

// handleVerifyResp records the host's asynchronous transaction verification
// outcome and, if the engine is waiting on it, proceeds to precommit.
func (e *Engine) handleVerifyResp(ctx context.Context, resp *types.VerifyResp) {
	if resp == nil {
		return
	}
	e.mu.Lock()
	if prev, known := e.verifyResults[resp.BlockHash]; known && prev != resp.Approved {
		e.mu.Unlock()
		bfterr.Handle(e.logger, bfterr.New(bfterr.ShouldNotHappen, "conflicting verify results for the same block hash"))
		return
	}
	e.verifyResults[resp.BlockHash] = resp.Approved
	step := e.step
	lock := e.lock
	e.mu.Unlock()

	if step != types.VerifyWait || lock == nil || lock.BlockHash != resp.BlockHash {
		return
	}
	if !resp.Approved {
		e.mu.Lock()
		e.lock = nil
		e.activeProposal = nil
		e.mu.Unlock()
	}
	e.mu.Lock()
	e.step = types.Precommit
	e.mu.Unlock()
	e.transmitPrecommit(ctx)
}

// handleClear applies an operator-issued Clear(Proof) command: if the proof
// independently verifies against the authorities at its height and is not
// behind the engine's own progress, the engine fast-forwards to it. This is
// the crash-recovery escape hatch for a node handed an externally-attested
// commit instead of replaying forward message by message.
func (e *Engine) handleClear(ctx context.Context, p *types.Proof) {
	if p == nil {
		e.mu.Lock()
		e.lock = nil
		e.activeProposal = nil
		e.mu.Unlock()
		return
	}
	height, _, _ := e.currentHRS()
	if p.Height+1 < height {
		bfterr.Handle(e.logger, bfterr.New(bfterr.Obsolete, "clear proof predates current height"))
		return
	}
	if !proof.Verify(*p, p.Height+1, e.auth.VotingWeights(p.Height), e.support.CryptHash, e.support.CheckSig) {
		bfterr.Handle(e.logger, bfterr.New(bfterr.Proof, "clear proof failed verification"))
		return
	}

	e.mu.Lock()
	e.lastCommitRound = p.Round
	e.lastCommitHash = p.BlockHash
	e.haveCommitted = true
	e.mu.Unlock()

	e.gotoNewHeight(p.Height + 1)
	e.newRoundStart(ctx)
}

// gotoNewHeight resets per-height state: the held proposal and lock are
// dropped, both stale-sender filters are cleared, and the round resets to
// zero. The vote collector's prevote-count map and any height strictly
// older than newHeight are evicted.
func (e *Engine) gotoNewHeight(newHeight types.Height) {
	e.mu.Lock()
	e.activeProposal = nil
	e.lock = nil
	e.height = newHeight
	e.round = 0
	e.htime = e.now()
	e.heightFilter = make(map[types.Address]time.Time)
	e.roundFilter = make(map[types.Address]time.Time)
	e.verifyResults = make(map[types.Hash]bool)
	e.mu.Unlock()

	e.votes.ClearPrevoteCount()
	e.votes.Remove(newHeight)
	if e.wal != nil {
		_ = e.wal.Prune(newHeight)
	}
}

// gotoNextRound clears the stale-round filter, increments the round, and
// restarts the per-round protocol.
func (e *Engine) gotoNextRound(ctx context.Context) {
	e.mu.Lock()
	e.round++
	e.roundFilter = make(map[types.Address]time.Time)
	e.mu.Unlock()
	observability.Consensus().RecordRoundChange()
	e.newRoundStart(ctx)
}

// maybeRetransmitHeight re-broadcasts the local node's own prevote and
// precommit of round for height-1 to help a sender that is stuck a height
// behind catch up, gated to at most once per StaleHeightCoef-wide window
// shared by all senders.
func (e *Engine) maybeRetransmitHeight(ctx context.Context, round types.Round) {
	if e.shouldRetransmit(e.heightFilter, zeroAddressSentinel, timer.StaleHeightCoef) {
		e.retransmitVoteSet(ctx, round)
	}
}

// maybeRetransmitRound sends a nil precommit vote at the sender's own
// height/round to help a sender that is stuck a round behind catch up,
// gated to at most once per StaleRoundCoef-wide window per sender.
func (e *Engine) maybeRetransmitRound(ctx context.Context, sender types.Address, round types.Round) {
	if e.shouldRetransmit(e.roundFilter, sender, timer.StaleRoundCoef) {
		height, _, _ := e.currentHRS()
		e.broadcastNilVote(ctx, types.Precommit, height, round)
	}
}

// zeroAddressSentinel keys the height filter under a single bucket: a
// stuck-height peer is helped by the same rebroadcast regardless of which
// specific address requested it, matching the original design's filter on
// "any sender observed at height-1".
var zeroAddressSentinel types.Address

func (e *Engine) shouldRetransmit(filter map[types.Address]time.Time, sender types.Address, coef time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, seen := filter[sender]
	if !seen {
		filter[sender] = e.now()
		return true
	}
	if e.now().Sub(last) > e.durations.Prevote*coef {
		filter[sender] = e.now()
		return true
	}
	return false
}

// retransmitVoteSet re-broadcasts the local node's own prevote and
// precommit for the last committed height/round, for the benefit of a peer
// observed stuck one height behind.
func (e *Engine) retransmitVoteSet(ctx context.Context, round types.Round) {
	e.mu.RLock()
	height := e.height - 1
	hash := e.lastCommitHash
	e.mu.RUnlock()

	for _, kind := range [...]types.VoteKind{types.Prevote, types.Precommit} {
		v := types.Vote{Kind: kind, Height: height, Round: round, BlockHash: hash, Voter: e.address}
		encoded, err := rlp.EncodeToBytes(&v)
		if err != nil {
			continue
		}
		sig, err := e.support.Sign(e.support.CryptHash(encoded))
		if err != nil {
			bfterr.Handle(e.logger, bfterr.Wrap(bfterr.Sign, "sign retransmit vote", err))
			continue
		}
		sv := types.SignedVote{Vote: v, Signature: sig}
		svEncoded, err := rlp.EncodeToBytes(&sv)
		if err != nil {
			continue
		}
		if err := e.support.Transmit(ctx, svEncoded); err != nil {
			bfterr.Handle(e.logger, bfterr.Wrap(bfterr.Send, "retransmit vote", err))
		}
	}
}

// broadcastNilVote transmits a single nil vote of kind at (height, round),
// without recording it locally, to nudge a lagging peer toward the current
// round.
func (e *Engine) broadcastNilVote(ctx context.Context, kind types.VoteKind, height types.Height, round types.Round) {
	v := types.Vote{Kind: kind, Height: height, Round: round, Voter: e.address}
	encoded, err := rlp.EncodeToBytes(&v)
	if err != nil {
		return
	}
	sig, err := e.support.Sign(e.support.CryptHash(encoded))
	if err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.Sign, "sign nudge vote", err))
		return
	}
	sv := types.SignedVote{Vote: v, Signature: sig}
	svEncoded, err := rlp.EncodeToBytes(&sv)
	if err != nil {
		return
	}
	if err := e.support.Transmit(ctx, svEncoded); err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.Send, "transmit nudge vote", err))
	}
}
