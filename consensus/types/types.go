// Package types defines the wire-level data model of the consensus engine:
// heights, rounds, addresses, votes, proposals, proofs and the other
// entities exchanged between validators. Every type here is RLP-encodable
// so it can cross the wire or be appended to the write-ahead log unchanged.
package types

import (
	"bytes"
	"errors"
	"io"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
)

// Height indexes decided blocks; Round indexes attempts within a height.
type Height = uint64
type Round = uint64

// Address is a recovered signer identity, 20 bytes as produced by
// crypto.PubkeyToAddress.
type Address [20]byte

// Hash is a 32-byte digest. The zero-value Hash stands for "nil" (no block)
// as a vote target; see IsZero.
type Hash [32]byte

// IsZero reports whether h is the all-zero hash, used as the wire
// representation of "nil" (no block) in votes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (a Address) Bytes() []byte { return a[:] }
func (h Hash) Bytes() []byte    { return h[:] }

// BytesToAddress left-pads/truncates b into an Address.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > 20 {
		b = b[len(b)-20:]
	}
	copy(a[20-min(len(b), 20):], b)
	return a
}

// BytesToHash left-pads/truncates b into a Hash.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(h[32-min(len(b), 32):], b)
	return h
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// VoteKind distinguishes a prevote from a precommit.
type VoteKind byte

const (
	Prevote   VoteKind = 1
	Precommit VoteKind = 2
)

func (k VoteKind) String() string {
	switch k {
	case Prevote:
		return "prevote"
	case Precommit:
		return "precommit"
	default:
		return "unknown"
	}
}

// Node is one member of an authority set: its identity plus the weight it
// carries in proposer selection and in vote tallying.
type Node struct {
	Address        Address
	ProposalWeight uint64
	VoteWeight     uint64
}

// Vote is a single validator's position on a block at a given height,
// round and kind. An empty BlockHash denotes a nil vote.
type Vote struct {
	Kind      VoteKind
	Height    Height
	Round     Round
	BlockHash Hash
	Voter     Address
}

// SignedVote bundles a Vote with the signature over its canonical encoding.
type SignedVote struct {
	Vote      Vote
	Signature []byte
}

// Proposal is a round's candidate block together with any lock it carries
// forward from a prior PoLC.
type Proposal struct {
	Height    Height
	Round     Round
	BlockHash Hash
	Proof     Proof
	LockRound *Round
	LockVotes []SignedVote
	Proposer  Address
}

// SignedProposal bundles a Proposal with the proposer's signature over its
// canonical encoding.
type SignedProposal struct {
	Proposal  Proposal
	Signature []byte
}

// proposalRLP is the wire shape of Proposal: LockRound is carried as a
// list of zero or one elements (empty list == None), matching the
// Option<Round> convention of the original encoder.
type proposalRLP struct {
	Height    Height
	Round     Round
	BlockHash Hash
	Proof     Proof
	LockRound []Round
	LockVotes []SignedVote
	Proposer  Address
}

// EncodeRLP implements rlp.Encoder.
func (p Proposal) EncodeRLP(w io.Writer) error {
	wire := proposalRLP{
		Height:    p.Height,
		Round:     p.Round,
		BlockHash: p.BlockHash,
		Proof:     p.Proof,
		LockVotes: p.LockVotes,
		Proposer:  p.Proposer,
	}
	if p.LockRound != nil {
		wire.LockRound = []Round{*p.LockRound}
	}
	if wire.LockVotes == nil {
		wire.LockVotes = []SignedVote{}
	}
	return rlp.Encode(w, &wire)
}

// DecodeRLP implements rlp.Decoder.
func (p *Proposal) DecodeRLP(s *rlp.Stream) error {
	var wire proposalRLP
	if err := s.Decode(&wire); err != nil {
		return err
	}
	switch len(wire.LockRound) {
	case 0:
		p.LockRound = nil
	case 1:
		r := wire.LockRound[0]
		p.LockRound = &r
	default:
		return errors.New("types: lock_round carries more than one element")
	}
	p.Height = wire.Height
	p.Round = wire.Round
	p.BlockHash = wire.BlockHash
	p.Proof = wire.Proof
	p.LockVotes = wire.LockVotes
	p.Proposer = wire.Proposer
	return nil
}

// LockStatus is the locally-held Proof-of-Lock-Change: a block hash and the
// round at which >2/3 weight of prevotes for it were observed.
type LockStatus struct {
	BlockHash Hash
	Round     Round
	Votes     []SignedVote
}

// Proof is the evidence that a block was committed: precommit signatures
// from more than 2/3 of the voting weight, encoded as two parallel sorted
// lists of equal length (addresses, signatures).
type Proof struct {
	Height         Height
	Round          Round
	BlockHash      Hash
	PrecommitVotes map[Address][]byte
}

type proofRLP struct {
	Height     Height
	Round      Round
	BlockHash  Hash
	Addresses  []Address
	Signatures [][]byte
}

// EncodeRLP implements rlp.Encoder, splitting PrecommitVotes into two
// address-sorted parallel lists.
func (p Proof) EncodeRLP(w io.Writer) error {
	addrs := make([]Address, 0, len(p.PrecommitVotes))
	for a := range p.PrecommitVotes {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	sigs := make([][]byte, 0, len(addrs))
	for _, a := range addrs {
		sigs = append(sigs, p.PrecommitVotes[a])
	}
	wire := proofRLP{
		Height:     p.Height,
		Round:      p.Round,
		BlockHash:  p.BlockHash,
		Addresses:  addrs,
		Signatures: sigs,
	}
	return rlp.Encode(w, &wire)
}

// DecodeRLP implements rlp.Decoder, re-zipping the parallel lists.
func (p *Proof) DecodeRLP(s *rlp.Stream) error {
	var wire proofRLP
	if err := s.Decode(&wire); err != nil {
		return err
	}
	if len(wire.Addresses) != len(wire.Signatures) {
		return errors.New("types: proof address/signature list length mismatch")
	}
	p.Height = wire.Height
	p.Round = wire.Round
	p.BlockHash = wire.BlockHash
	p.PrecommitVotes = make(map[Address][]byte, len(wire.Addresses))
	for i, a := range wire.Addresses {
		p.PrecommitVotes[a] = wire.Signatures[i]
	}
	return nil
}

// IsGenesis reports whether the proof is the trivially-accepted genesis
// proof (height 0, no signatures required).
func (p Proof) IsGenesis() bool { return p.Height == 0 }

// Commit is the engine's output for a decided height.
type Commit struct {
	Height  Height
	Block   []byte
	Proof   Proof
	Address Address
}

// Status is the host application's acknowledgement that a height has been
// durably applied, carrying the authority list effective from the next
// height and, optionally, a new total-duration interval in milliseconds.
type Status struct {
	Height        Height
	Interval      *uint64
	AuthorityList []Node
}

type statusRLP struct {
	Height        Height
	Interval      []uint64
	AuthorityList []Node
}

// EncodeRLP implements rlp.Encoder.
func (s Status) EncodeRLP(w io.Writer) error {
	wire := statusRLP{Height: s.Height, AuthorityList: s.AuthorityList}
	if wire.AuthorityList == nil {
		wire.AuthorityList = []Node{}
	}
	if s.Interval != nil {
		wire.Interval = []uint64{*s.Interval}
	}
	return rlp.Encode(w, &wire)
}

// DecodeRLP implements rlp.Decoder.
func (s *Status) DecodeRLP(r *rlp.Stream) error {
	var wire statusRLP
	if err := r.Decode(&wire); err != nil {
		return err
	}
	switch len(wire.Interval) {
	case 0:
		s.Interval = nil
	case 1:
		v := wire.Interval[0]
		s.Interval = &v
	default:
		return errors.New("types: status interval carries more than one element")
	}
	s.Height = wire.Height
	s.AuthorityList = wire.AuthorityList
	return nil
}

// Feed is an application-supplied candidate block for a height, offered by
// the local node when it is the proposer.
type Feed struct {
	Height    Height
	Block     []byte
	BlockHash Hash
}

// VerifyResp is the asynchronous result of the host's transaction-level
// block verification, used only when the verify_req feature is enabled.
type VerifyResp struct {
	Height    Height
	Round     Round
	BlockHash Hash
	Approved  bool
}
