package proof

import (
	"crypto/ecdsa"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"bftcore/consensus/authority"
	"bftcore/consensus/types"
)

func cryptHash(b []byte) types.Hash {
	return types.BytesToHash(gethcrypto.Keccak256(b))
}

func checkSig(sig []byte, hash types.Hash) (types.Address, bool) {
	pub, err := gethcrypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return types.Address{}, false
	}
	return types.BytesToAddress(gethcrypto.PubkeyToAddress(*pub).Bytes()), true
}

type validator struct {
	key  *ecdsa.PrivateKey
	addr types.Address
}

func newValidator(t *testing.T) validator {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	return validator{key: key, addr: types.BytesToAddress(gethcrypto.PubkeyToAddress(key.PublicKey).Bytes())}
}

func (v validator) signPrecommit(t *testing.T, height, round uint64, hash types.Hash) types.SignedVote {
	t.Helper()
	vote := types.Vote{Kind: types.Precommit, Height: height, Round: round, BlockHash: hash, Voter: v.addr}
	encoded, err := rlp.EncodeToBytes(&vote)
	require.NoError(t, err)
	sig, err := gethcrypto.Sign(cryptHash(encoded).Bytes(), v.key)
	require.NoError(t, err)
	return types.SignedVote{Vote: vote, Signature: sig}
}

func TestBuildAndVerifyRoundTrip(t *testing.T) {
	validators := make([]validator, 4)
	nodes := make([]types.Node, 4)
	for i := range validators {
		validators[i] = newValidator(t)
		nodes[i] = types.Node{Address: validators[i].addr, ProposalWeight: 1, VoteWeight: 1}
	}

	blockHash := types.BytesToHash([]byte("block-5"))
	var votes []types.SignedVote
	for i := 0; i < 3; i++ { // 3 of 4 clears the 2/3 threshold
		votes = append(votes, validators[i].signPrecommit(t, 5, 0, blockHash))
	}

	built, ok := Build(5, 0, blockHash, votes, nodes)
	require.True(t, ok)
	require.Len(t, built.PrecommitVotes, 3)

	require.True(t, Verify(built, 6, nodes, cryptHash, checkSig))
}

func TestBuildFailsBelowThreshold(t *testing.T) {
	validators := make([]validator, 4)
	nodes := make([]types.Node, 4)
	for i := range validators {
		validators[i] = newValidator(t)
		nodes[i] = types.Node{Address: validators[i].addr, ProposalWeight: 1, VoteWeight: 1}
	}

	blockHash := types.BytesToHash([]byte("block-5"))
	votes := []types.SignedVote{validators[0].signPrecommit(t, 5, 0, blockHash)}

	_, ok := Build(5, 0, blockHash, votes, nodes)
	require.False(t, ok)
}

func TestVerifyRejectsWrongHeight(t *testing.T) {
	v := newValidator(t)
	nodes := []types.Node{{Address: v.addr, ProposalWeight: 1, VoteWeight: 1}}
	blockHash := types.BytesToHash([]byte("block"))
	sv := v.signPrecommit(t, 1, 0, blockHash)
	built, ok := Build(1, 0, blockHash, []types.SignedVote{sv}, nodes)
	require.True(t, ok)

	require.False(t, Verify(built, 3, nodes, cryptHash, checkSig), "verify must reject a proof presented at the wrong subsequent height")
}

func TestVerifyRejectsCorruptedSignature(t *testing.T) {
	validators := make([]validator, 3)
	nodes := make([]types.Node, 3)
	for i := range validators {
		validators[i] = newValidator(t)
		nodes[i] = types.Node{Address: validators[i].addr, ProposalWeight: 1, VoteWeight: 1}
	}
	blockHash := types.BytesToHash([]byte("block"))
	var votes []types.SignedVote
	for i := 0; i < 3; i++ {
		votes = append(votes, validators[i].signPrecommit(t, 2, 0, blockHash))
	}
	built, ok := Build(2, 0, blockHash, votes, nodes)
	require.True(t, ok)

	for addr := range built.PrecommitVotes {
		corrupted := append([]byte(nil), built.PrecommitVotes[addr]...)
		corrupted[0] ^= 0xFF
		built.PrecommitVotes[addr] = corrupted
		break
	}

	require.False(t, Verify(built, 3, nodes, cryptHash, checkSig))
}

func TestVerifyRejectsNonMemberSigner(t *testing.T) {
	member := newValidator(t)
	outsider := newValidator(t)
	nodes := []types.Node{{Address: member.addr, ProposalWeight: 1, VoteWeight: 1}}
	blockHash := types.BytesToHash([]byte("block"))

	sv := outsider.signPrecommit(t, 4, 0, blockHash)
	p := types.Proof{Height: 4, Round: 0, BlockHash: blockHash, PrecommitVotes: map[types.Address][]byte{outsider.addr: sv.Signature}}

	require.False(t, Verify(p, 5, nodes, cryptHash, checkSig))
}

func TestVerifyAcceptsGenesisTrivially(t *testing.T) {
	require.True(t, Verify(types.Proof{Height: 0}, 1, nil, cryptHash, checkSig))
}

func TestAboveThresholdUsedByBuild(t *testing.T) {
	require.True(t, authority.AboveThreshold(3, 4))
	require.False(t, authority.AboveThreshold(2, 4))
}
