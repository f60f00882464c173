// Package proof builds and independently verifies the commit proof: the
// set of precommit signatures whose combined weight exceeds 2/3 of the
// authority set's total voting weight.
package proof

import (
	"github.com/ethereum/go-ethereum/rlp"

	"bftcore/consensus/authority"
	"bftcore/consensus/types"
)

// Build assembles a Proof from the signed precommits in votes that target
// hash, provided their combined weight exceeds 2/3 of total. ok is false
// if the threshold is not met.
func Build(height types.Height, round types.Round, hash types.Hash, votes []types.SignedVote, nodes []types.Node) (types.Proof, bool) {
	weightByAddr := make(map[types.Address]uint64, len(nodes))
	for _, n := range nodes {
		weightByAddr[n.Address] = n.VoteWeight
	}

	p := types.Proof{
		Height:         height,
		Round:          round,
		BlockHash:      hash,
		PrecommitVotes: make(map[types.Address][]byte),
	}
	var weight uint64
	for _, sv := range votes {
		if sv.Vote.BlockHash != hash {
			continue
		}
		if _, already := p.PrecommitVotes[sv.Vote.Voter]; already {
			continue
		}
		p.PrecommitVotes[sv.Vote.Voter] = sv.Signature
		weight += weightByAddr[sv.Vote.Voter]
	}
	if !authority.AboveThreshold(weight, authority.TotalVoteWeight(nodes)) {
		return types.Proof{}, false
	}
	return p, true
}

// CryptHashFunc hashes arbitrary bytes into the chosen digest type, pinned to
// the host's crypt_hash support operation by the caller; Verify below
// always uses the function supplied by the caller, never a hard-coded
// algorithm, since the hash/signature scheme is an external collaborator
// per the engine's support interface.
type CryptHashFunc func([]byte) types.Hash

// CheckSigFunc recovers the signer address from a signature and message
// hash, returning ok=false if recovery fails.
type CheckSigFunc func(sig []byte, hash types.Hash) (types.Address, bool)

// Verify independently checks a Proof against the authority set effective
// at proof.Height. The genesis proof (height 0) is trivially accepted.
func Verify(p types.Proof, height types.Height, authorities []types.Node, cryptHash CryptHashFunc, checkSig CheckSigFunc) bool {
	if p.IsGenesis() {
		return true
	}
	if height != p.Height+1 {
		return false
	}

	memberWeight := make(map[types.Address]uint64, len(authorities))
	for _, n := range authorities {
		memberWeight[n.Address] = n.VoteWeight
	}

	var weight uint64
	seen := make(map[types.Address]struct{}, len(p.PrecommitVotes))
	for voter, sig := range p.PrecommitVotes {
		if _, dup := seen[voter]; dup {
			return false
		}
		seen[voter] = struct{}{}

		w, isMember := memberWeight[voter]
		if !isMember {
			return false
		}

		vote := types.Vote{
			Kind:      types.Precommit,
			Height:    p.Height,
			Round:     p.Round,
			BlockHash: p.BlockHash,
			Voter:     voter,
		}
		encoded, err := rlp.EncodeToBytes(&vote)
		if err != nil {
			return false
		}
		recovered, ok := checkSig(sig, cryptHash(encoded))
		if !ok || recovered != voter {
			return false
		}
		weight += w
	}

	return authority.AboveThreshold(weight, authority.TotalVoteWeight(authorities))
}
