package engine

import (
	"context"
	"crypto/ecdsa"
	"io"
	"log/slog"
	"testing"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"bftcore/consensus/authority"
	"bftcore/consensus/collectors"
	"bftcore/consensus/types"
	"bftcore/timer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSupport is a minimal in-memory support.Support used to drive the
// engine end to end without a real host application or network.
type fakeSupport struct {
	key     *ecdsa.PrivateKey
	address types.Address
	commits chan types.Commit
	nodes   []types.Node
}

func newFakeSupport(t *testing.T, nodes []types.Node) *fakeSupport {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	return &fakeSupport{
		key:     key,
		address: types.BytesToAddress(gethcrypto.PubkeyToAddress(key.PublicKey).Bytes()),
		commits: make(chan types.Commit, 4),
		nodes:   nodes,
	}
}

func (s *fakeSupport) CheckBlock(ctx context.Context, block []byte, blockHash types.Hash, height types.Height) error {
	return nil
}

func (s *fakeSupport) CheckTxs(ctx context.Context, block []byte, blockHash, proposalHash types.Hash, height types.Height, round types.Round) error {
	return nil
}

func (s *fakeSupport) Transmit(ctx context.Context, message []byte) error { return nil }

func (s *fakeSupport) Commit(ctx context.Context, commit types.Commit) (types.Status, error) {
	s.commits <- commit
	return types.Status{Height: commit.Height + 1, AuthorityList: s.nodes}, nil
}

func (s *fakeSupport) GetBlock(ctx context.Context, height types.Height, previousProof types.Proof) ([]byte, types.Hash, error) {
	return nil, types.Hash{}, nil
}

func (s *fakeSupport) Sign(hash types.Hash) ([]byte, error) {
	return gethcrypto.Sign(hash.Bytes(), s.key)
}

func (s *fakeSupport) CheckSig(sig []byte, hash types.Hash) (types.Address, bool) {
	pub, err := gethcrypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return types.Address{}, false
	}
	return types.BytesToAddress(gethcrypto.PubkeyToAddress(*pub).Bytes()), true
}

func (s *fakeSupport) CryptHash(msg []byte) types.Hash {
	return types.BytesToHash(gethcrypto.Keccak256(msg))
}

func blockHash(b byte) types.Hash {
	var h types.Hash
	h[31] = b
	return h
}

func TestEngineCommitsAsSoleValidator(t *testing.T) {
	sup := newFakeSupport(t, nil)
	nodes := []types.Node{{Address: sup.address, ProposalWeight: 1, VoteWeight: 1}}
	sup.nodes = nodes

	auth := authority.New(nodes)
	eng := New(discardLogger(), sup, auth, collectors.NewVoteCollector(), collectors.NewProposalCollector(), nil, timer.New(), sup.address, WithConfig(Config{TotalDurationMS: 200}))

	hash := blockHash(1)
	require.NoError(t, eng.Submit(Msg{Kind: MsgFeed, Feed: &types.Feed{Height: 1, BlockHash: hash}}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Start(ctx)

	select {
	case commit := <-sup.commits:
		require.Equal(t, types.Height(1), commit.Height)
		require.Equal(t, sup.address, commit.Address)
		require.Len(t, commit.Proof.PrecommitVotes, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not commit height 1 in time")
	}
}

// remoteValidator signs votes on behalf of a validator that is not the
// engine under test, exercising the ingress verification pipeline.
type remoteValidator struct {
	key  *ecdsa.PrivateKey
	addr types.Address
}

func newRemoteValidator(t *testing.T) remoteValidator {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	return remoteValidator{key: key, addr: types.BytesToAddress(gethcrypto.PubkeyToAddress(key.PublicKey).Bytes())}
}

func (v remoteValidator) vote(t *testing.T, kind types.VoteKind, height types.Height, round types.Round, hash types.Hash) types.SignedVote {
	t.Helper()
	vt := types.Vote{Kind: kind, Height: height, Round: round, BlockHash: hash, Voter: v.addr}
	encoded, err := rlp.EncodeToBytes(&vt)
	require.NoError(t, err)
	sig, err := gethcrypto.Sign(gethcrypto.Keccak256(encoded), v.key)
	require.NoError(t, err)
	return types.SignedVote{Vote: vt, Signature: sig}
}

func TestEngineCommitsWithRemoteVotesAtThreshold(t *testing.T) {
	sup := newFakeSupport(t, nil)
	v1 := newRemoteValidator(t)
	v2 := newRemoteValidator(t)
	v3 := newRemoteValidator(t)

	nodes := []types.Node{
		{Address: sup.address, ProposalWeight: 1_000_000, VoteWeight: 1}, // always proposer
		{Address: v1.addr, ProposalWeight: 0, VoteWeight: 1},
		{Address: v2.addr, ProposalWeight: 0, VoteWeight: 1},
		{Address: v3.addr, ProposalWeight: 0, VoteWeight: 1},
	}
	sup.nodes = nodes

	auth := authority.New(nodes)
	eng := New(discardLogger(), sup, auth, collectors.NewVoteCollector(), collectors.NewProposalCollector(), nil, timer.New(), sup.address, WithConfig(Config{TotalDurationMS: 300}))

	hash := blockHash(7)

	require.NoError(t, eng.Submit(Msg{Kind: MsgFeed, Feed: &types.Feed{Height: 1, BlockHash: hash}}))
	// Two remote prevotes plus the engine's own reach 3 of 4 (threshold).
	pv1 := v1.vote(t, types.Prevote, 1, 0, hash)
	pv2 := v2.vote(t, types.Prevote, 1, 0, hash)
	require.NoError(t, eng.Submit(Msg{Kind: MsgVote, Vote: &pv1}))
	require.NoError(t, eng.Submit(Msg{Kind: MsgVote, Vote: &pv2}))
	// Remote precommits queue ahead of the engine's own; they are recorded
	// immediately but only re-tallied once the local precommit step begins.
	pc1 := v1.vote(t, types.Precommit, 1, 0, hash)
	pc2 := v2.vote(t, types.Precommit, 1, 0, hash)
	require.NoError(t, eng.Submit(Msg{Kind: MsgVote, Vote: &pc1}))
	require.NoError(t, eng.Submit(Msg{Kind: MsgVote, Vote: &pc2}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Start(ctx)

	select {
	case commit := <-sup.commits:
		require.Equal(t, types.Height(1), commit.Height)
		require.Len(t, commit.Proof.PrecommitVotes, 3, "local plus two remote precommits clear the 3-of-4 threshold")
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not commit height 1 in time")
	}
}
