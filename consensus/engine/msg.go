package engine

import "bftcore/consensus/types"

// MsgKind discriminates the inbound message sum type accepted by the
// engine's single logical queue.
type MsgKind int

const (
	MsgProposal MsgKind = iota
	MsgVote
	MsgFeed
	MsgStatus
	MsgVerifyResp
	MsgPause
	MsgStart
	MsgKill
	MsgCorrupt
	MsgClear
)

func (k MsgKind) String() string {
	switch k {
	case MsgProposal:
		return "proposal"
	case MsgVote:
		return "vote"
	case MsgFeed:
		return "feed"
	case MsgStatus:
		return "status"
	case MsgVerifyResp:
		return "verify_resp"
	case MsgPause:
		return "pause"
	case MsgStart:
		return "start"
	case MsgKill:
		return "kill"
	case MsgCorrupt:
		return "corrupt"
	case MsgClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Msg is the engine's single inbound message sum type: proposals, votes,
// feeds, statuses, verify responses and the actuator's command set all
// flow through the same logical queue.
type Msg struct {
	Kind       MsgKind
	Proposal   *types.SignedProposal
	Vote       *types.SignedVote
	Feed       *types.Feed
	Status     *types.Status
	VerifyResp *types.VerifyResp
	Clear      *types.Proof
}
