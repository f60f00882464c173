// Package bfterr models the engine's error taxonomy: every failure that can
// arise while processing a message or timer tick is classified into a Kind
// that determines how loudly it is logged and whether it ever reaches the
// network peer (it never does).
package bfterr

import (
	"fmt"
	"log/slog"
)

// Kind classifies an engine error by the log level and handling it
// receives.
type Kind int

const (
	// Obsolete: message for a height/round behind current. Trace only.
	Obsolete Kind = iota
	// Higher: message beyond the acceptance window. Trace only.
	Higher
	// Duplicate: voter already has a vote for this (height, round, kind). Trace only.
	Duplicate
	// Decode: message failed to decode.
	Decode
	// Signature: recovered signer does not match the claimed identity.
	Signature
	// Proposer: the sender is not the round's selected proposer.
	Proposer
	// Voter: the sender is not a member of the authority set.
	Voter
	// LockVotes: an embedded lock-vote bundle failed verification.
	LockVotes
	// Proof: a commit proof failed verification.
	Proof
	// Block: the host rejected the block on structural/header grounds.
	Block
	// Tx: the host rejected the block's transactions.
	Tx
	// ShouldNotHappen: an invariant was violated.
	ShouldNotHappen
	// Send: a transmit call failed.
	Send
	// Recv: a receive call failed.
	Recv
	// Commit: the host's commit callback failed.
	Commit
	// Sign: a local signing operation failed.
	Sign
	// WAL: a write-ahead log I/O or decode error.
	WAL
	// GetBlock: the host's get_block callback failed.
	GetBlock
	// ObsoleteTimer: a timer tick no longer matches engine state. Silent.
	ObsoleteTimer
)

func (k Kind) String() string {
	switch k {
	case Obsolete:
		return "obsolete"
	case Higher:
		return "higher"
	case Duplicate:
		return "duplicate"
	case Decode:
		return "decode"
	case Signature:
		return "signature"
	case Proposer:
		return "proposer"
	case Voter:
		return "voter"
	case LockVotes:
		return "lock_votes"
	case Proof:
		return "proof"
	case Block:
		return "block"
	case Tx:
		return "tx"
	case ShouldNotHappen:
		return "should_not_happen"
	case Send:
		return "send"
	case Recv:
		return "recv"
	case Commit:
		return "commit"
	case Sign:
		return "sign"
	case WAL:
		return "wal"
	case GetBlock:
		return "get_block"
	case ObsoleteTimer:
		return "obsolete_timer"
	default:
		return "unknown"
	}
}

// Error is an engine-internal error tagged with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an Error of the given kind wrapping a lower-level cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Handle dispatches an engine error to the appropriate log level. It never
// propagates the error to a network peer; the driver always continues.
func Handle(logger *slog.Logger, err error) {
	if err == nil || logger == nil {
		return
	}
	e, ok := err.(*Error)
	if !ok {
		logger.Error("unclassified engine error", "error", err)
		return
	}
	switch e.Kind {
	case ObsoleteTimer:
		return
	case Obsolete, Higher, Duplicate:
		logger.Debug(e.Msg, "kind", e.Kind.String(), "error", e.Err)
	case Decode, Signature, Proposer, Voter, LockVotes, Proof, Block, Tx:
		logger.Warn(e.Msg, "kind", e.Kind.String(), "error", e.Err)
	case ShouldNotHappen, Send, Recv, Commit, Sign, WAL, GetBlock:
		logger.Error(e.Msg, "kind", e.Kind.String(), "error", e.Err)
	default:
		logger.Error("unclassified engine error kind", "kind", int(e.Kind), "error", e.Err)
	}
}
