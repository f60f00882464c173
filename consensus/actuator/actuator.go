// Package actuator is the boundary that serialises inbound messages onto
// the engine's single logical queue (spec component H). It owns no state
// of its own beyond the engine reference: every call is a thin, validated
// hand-off onto Engine.Submit, mirroring the original design's
// BftActuator/BftExecutor senders.
package actuator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"bftcore/consensus/engine"
	"bftcore/consensus/types"
)

// Actuator serialises proposals, votes, statuses, feeds, verify responses
// and operator commands onto a single engine.
type Actuator struct {
	engine *engine.Engine
}

// New wraps eng in an Actuator.
func New(eng *engine.Engine) *Actuator {
	return &Actuator{engine: eng}
}

// SendProposal forwards a signed proposal to the engine after rejecting the
// structurally malformed case of a lock_round carried with no lock_votes,
// matching the original actuator's pre-ingress check.
func (a *Actuator) SendProposal(sp *types.SignedProposal) error {
	if sp == nil {
		return fmt.Errorf("actuator: nil proposal")
	}
	if sp.Proposal.LockRound != nil && len(sp.Proposal.LockVotes) == 0 {
		return fmt.Errorf("actuator: proposal at height %d round %d carries lock_round with no lock_votes", sp.Proposal.Height, sp.Proposal.Round)
	}
	return a.engine.Submit(engine.Msg{Kind: engine.MsgProposal, Proposal: sp})
}

// SendVote forwards a signed vote to the engine.
func (a *Actuator) SendVote(sv *types.SignedVote) error {
	if sv == nil {
		return fmt.Errorf("actuator: nil vote")
	}
	return a.engine.Submit(engine.Msg{Kind: engine.MsgVote, Vote: sv})
}

// SendStatus forwards a host status acknowledgement to the engine.
func (a *Actuator) SendStatus(st *types.Status) error {
	if st == nil {
		return fmt.Errorf("actuator: nil status")
	}
	return a.engine.Submit(engine.Msg{Kind: engine.MsgStatus, Status: st})
}

// SendFeed forwards a proposer-side candidate block to the engine.
func (a *Actuator) SendFeed(f *types.Feed) error {
	if f == nil {
		return fmt.Errorf("actuator: nil feed")
	}
	return a.engine.Submit(engine.Msg{Kind: engine.MsgFeed, Feed: f})
}

// SendVerifyResp forwards the host's asynchronous transaction-verification
// outcome to the engine.
func (a *Actuator) SendVerifyResp(vr *types.VerifyResp) error {
	if vr == nil {
		return fmt.Errorf("actuator: nil verify response")
	}
	return a.engine.Submit(engine.Msg{Kind: engine.MsgVerifyResp, VerifyResp: vr})
}

// Pause forwards a Pause command.
func (a *Actuator) Pause() error {
	return a.engine.Submit(engine.Msg{Kind: engine.MsgPause})
}

// Start forwards a Start command.
func (a *Actuator) Start() error {
	return a.engine.Submit(engine.Msg{Kind: engine.MsgStart})
}

// Kill forwards a Kill command.
func (a *Actuator) Kill() error {
	return a.engine.Submit(engine.Msg{Kind: engine.MsgKill})
}

// Corrupt forwards a Corrupt command, used by fault-injection harnesses to
// exercise the engine's error-handling paths.
func (a *Actuator) Corrupt() error {
	return a.engine.Submit(engine.Msg{Kind: engine.MsgCorrupt})
}

// Clear forwards an operator-issued proof fast-forward/reset command. A nil
// proof clears the local lock and held proposal without changing height.
func (a *Actuator) Clear(p *types.Proof) error {
	return a.engine.Submit(engine.Msg{Kind: engine.MsgClear, Clear: p})
}

// Snapshot returns the engine's current (height, round, step).
func (a *Actuator) Snapshot() engine.Snapshot {
	return a.engine.Snapshot()
}

// DecodeProposalBytes parses the wire bytes the support interface's
// Transmit/receive path carries for a proposal, as handed to the actuator
// by the networking transport collaborator.
func DecodeProposalBytes(b []byte) (*types.SignedProposal, error) {
	var sp types.SignedProposal
	if err := rlp.DecodeBytes(b, &sp); err != nil {
		return nil, err
	}
	return &sp, nil
}

// DecodeVoteBytes parses the wire bytes carried for a vote.
func DecodeVoteBytes(b []byte) (*types.SignedVote, error) {
	var sv types.SignedVote
	if err := rlp.DecodeBytes(b, &sv); err != nil {
		return nil, err
	}
	return &sv, nil
}
