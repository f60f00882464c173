package engine

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"bftcore/consensus/authority"
	"bftcore/consensus/bfterr"
	"bftcore/consensus/collectors"
	"bftcore/consensus/proof"
	"bftcore/consensus/types"
	"bftcore/observability"
)

// checkAcceptanceWindow applies the height/round cache-protection policy:
// messages at or beyond self.height+16 or self.round+16 are rejected as
// Higher; messages older than self.height-1 are rejected as Obsolete.
func (e *Engine) checkAcceptanceWindow(msgHeight types.Height, msgRound types.Round) *bfterr.Error {
	height, round, _ := e.currentHRS()
	if msgHeight >= height+collectors.Capacity || msgRound >= round+collectors.Capacity {
		return bfterr.New(bfterr.Higher, "message beyond the acceptance window")
	}
	if msgHeight+1 < height {
		return bfterr.New(bfterr.Obsolete, "message height predates the retained window")
	}
	return nil
}

// handleInboundProposal runs the ingress validation pipeline (signature,
// window, proposer match, lock-vote bundle, embedded proof, block/tx
// validity) on a remote proposal and, if it survives, applies the locking
// rules and advances to Prevote when appropriate.
func (e *Engine) handleInboundProposal(ctx context.Context, sp *types.SignedProposal) {
	if sp == nil {
		return
	}
	p := sp.Proposal
	height, round, step := e.currentHRS()

	if err := e.checkAcceptanceWindow(p.Height, p.Round); err != nil {
		bfterr.Handle(e.logger, err)
		return
	}

	encoded, err := rlp.EncodeToBytes(&p)
	if err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.Decode, "encode proposal for signature check", err))
		return
	}
	recovered, ok := e.support.CheckSig(sp.Signature, e.support.CryptHash(encoded))
	if !ok || recovered != p.Proposer {
		bfterr.Handle(e.logger, bfterr.New(bfterr.Signature, "proposal signature does not recover to proposer"))
		return
	}

	if p.Height == height-1 {
		if e.haveCommitted && p.Round >= e.lastCommitRoundSnapshot() {
			e.maybeRetransmitHeight(ctx, p.Round)
		}
		return
	}
	if p.Height != height || p.Round < round {
		bfterr.Handle(e.logger, bfterr.New(bfterr.Obsolete, "proposal height/round mismatch"))
		return
	}
	if step > types.ProposeWait {
		bfterr.Handle(e.logger, bfterr.New(bfterr.Obsolete, "proposal arrived after propose window"))
		return
	}

	nodes := e.auth.VotingWeights(height)
	if authority.SelectProposer(nodes, height, p.Round) != p.Proposer {
		bfterr.Handle(e.logger, bfterr.New(bfterr.Proposer, "sender is not the selected proposer"))
		return
	}

	if !e.verifyLockVotes(p, nodes) {
		bfterr.Handle(e.logger, bfterr.New(bfterr.LockVotes, "embedded lock-vote bundle failed verification"))
		return
	}

	if !proof.Verify(p.Proof, p.Height, e.auth.VotingWeights(p.Proof.Height), e.support.CryptHash, e.support.CheckSig) {
		bfterr.Handle(e.logger, bfterr.New(bfterr.Proof, "embedded previous-height proof failed verification"))
		return
	}

	if err := e.support.CheckBlock(ctx, nil, p.BlockHash, p.Height); err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.Block, "host rejected block", err))
		return
	}
	// When verify_req is enabled, CheckTxs may hand off to a background
	// worker and report the outcome later as a VerifyResp fed back through
	// Submit; a synchronous error here still drops the proposal immediately.
	if err := e.support.CheckTxs(ctx, nil, p.BlockHash, p.BlockHash, p.Height, p.Round); err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.Tx, "host rejected transactions", err))
		return
	}

	if err := e.props.Add(*sp); err != nil {
		bfterr.Handle(e.logger, err)
	}
	e.applyProposal(sp)

	if step == types.ProposeWait {
		e.mu.Lock()
		e.step = types.Prevote
		e.mu.Unlock()
		e.transmitPrevote(ctx)
	}
}

// applyProposal implements the locking rules on an incoming proposal: a
// proposal carrying a lock_round strictly more recent than the locally held one
// is adopted (jumping the round forward if needed); an unlocked proposal is
// adopted only when no local lock is held and the round matches exactly.
func (e *Engine) applyProposal(sp *types.SignedProposal) {
	p := sp.Proposal
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case p.LockRound != nil && (e.lock == nil || e.lock.Round < *p.LockRound):
		if p.Round > e.round {
			e.round = p.Round
			e.roundFilter = make(map[types.Address]time.Time)
		}
		e.activeProposal = sp
		e.lock = &types.LockStatus{BlockHash: p.BlockHash, Round: *p.LockRound, Votes: p.LockVotes}
	case p.LockRound == nil && e.lock == nil && p.Round == e.round:
		e.activeProposal = sp
	default:
		// The embedded PoLC is no later than the one already held; ignored.
	}
}

// verifyLockVotes checks that a proposal's embedded lock-vote bundle is a
// set of distinct-voter prevotes for the same (height, lock_round,
// block_hash) whose combined weight exceeds 2/3 of total.
func (e *Engine) verifyLockVotes(p types.Proposal, nodes []types.Node) bool {
	if p.LockRound == nil {
		return true
	}
	if len(p.LockVotes) == 0 {
		return false
	}
	weightByAddr := make(map[types.Address]uint64, len(nodes))
	for _, n := range nodes {
		weightByAddr[n.Address] = n.VoteWeight
	}
	seen := make(map[types.Address]struct{}, len(p.LockVotes))
	var weight uint64
	for _, sv := range p.LockVotes {
		v := sv.Vote
		if v.Kind != types.Prevote || v.Height != p.Height || v.Round != *p.LockRound || v.BlockHash != p.BlockHash {
			return false
		}
		if _, dup := seen[v.Voter]; dup {
			return false
		}
		seen[v.Voter] = struct{}{}
		w, isMember := weightByAddr[v.Voter]
		if !isMember {
			return false
		}
		encoded, err := rlp.EncodeToBytes(&v)
		if err != nil {
			return false
		}
		recovered, ok := e.support.CheckSig(sv.Signature, e.support.CryptHash(encoded))
		if !ok || recovered != v.Voter {
			return false
		}
		weight += w
	}
	return authority.AboveThreshold(weight, authority.TotalVoteWeight(nodes))
}

// handleInboundVote runs the ingress validation pipeline on a remote vote
// and, once admitted, feeds it to the vote collector and re-checks the
// relevant threshold.
func (e *Engine) handleInboundVote(ctx context.Context, sv *types.SignedVote) {
	if sv == nil {
		return
	}
	v := sv.Vote
	height, round, step := e.currentHRS()

	if err := e.checkAcceptanceWindow(v.Height, v.Round); err != nil {
		bfterr.Handle(e.logger, err)
		return
	}

	encoded, err := rlp.EncodeToBytes(&v)
	if err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.Decode, "encode vote for signature check", err))
		return
	}
	recovered, ok := e.support.CheckSig(sv.Signature, e.support.CryptHash(encoded))
	if !ok || recovered != v.Voter {
		bfterr.Handle(e.logger, bfterr.New(bfterr.Signature, "vote signature does not recover to voter"))
		return
	}

	nodes := e.auth.VotingWeights(v.Height)
	weight := weightOfVoter(nodes, v.Voter)
	if weight == 0 {
		bfterr.Handle(e.logger, bfterr.New(bfterr.Voter, "voter is not a member of the authority set at this height"))
		return
	}

	switch {
	case v.Height == height-1:
		if e.haveCommitted && v.Round >= e.lastCommitRoundSnapshot() {
			e.maybeRetransmitHeight(ctx, v.Round)
		}
	case v.Height == height && round != 0 && v.Round == round-1:
		e.maybeRetransmitRound(ctx, v.Voter, v.Round)
	case v.Height == height && v.Round >= round:
		if v.Kind == types.Prevote {
			if step > types.PrevoteWait {
				return
			}
			if err := e.votes.Add(*sv, weight, height); err != nil {
				bfterr.Handle(e.logger, err)
				return
			}
			observability.Consensus().RecordVote(v.Kind.String())
			if step >= types.Prevote {
				e.checkPrevoteCount(ctx)
			}
		} else {
			if err := e.votes.Add(*sv, weight, height); err != nil {
				bfterr.Handle(e.logger, err)
				return
			}
			observability.Consensus().RecordVote(v.Kind.String())
			if step == types.Precommit || step == types.PrecommitWait {
				e.checkPrecommitCount(ctx)
			}
		}
	}
}

func (e *Engine) lastCommitRoundSnapshot() types.Round {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastCommitRound
}
