package main

import (
	"context"
	"encoding/binary"
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"bftcore/consensus/authority"
	"bftcore/consensus/types"
	nhbcrypto "bftcore/crypto"
	"bftcore/p2p"
	"bftcore/storage"
)

const (
	msgTypeVote     byte = 1
	msgTypeProposal byte = 2
)

var blockKeyPrefix = []byte("support/block/")

// localSupport is the demo binary's implementation of consensus/support's
// host boundary: it stores candidate blocks as trivial height counters,
// signs with the local validator key, and fans outbound proposals/votes out
// through the resilient broadcaster.
type localSupport struct {
	db   storage.Database
	key  *nhbcrypto.PrivateKey
	sink p2p.Broadcaster
	auth *authority.Manager
	ival uint64
}

func newLocalSupport(db storage.Database, key *nhbcrypto.PrivateKey, sink p2p.Broadcaster, auth *authority.Manager, totalDurationMS uint64) *localSupport {
	return &localSupport{db: db, key: key, sink: sink, auth: auth, ival: totalDurationMS}
}

// CheckBlock performs the minimal structural check available without an
// execution layer: the block hash must not be the empty hash.
func (s *localSupport) CheckBlock(ctx context.Context, block []byte, blockHash types.Hash, height types.Height) error {
	if blockHash.IsZero() {
		return fmt.Errorf("support: empty block hash at height %d", height)
	}
	return nil
}

// CheckTxs is a no-op: this demo host carries no transaction execution
// layer, so every proposed block is accepted synchronously.
func (s *localSupport) CheckTxs(ctx context.Context, block []byte, blockHash, proposalHash types.Hash, height types.Height, round types.Round) error {
	return nil
}

// Transmit fans an outbound proposal or vote out through the broadcaster.
// The engine hands over the raw RLP encoding of whichever type it signed;
// since the wire payload carries no discriminant of its own, Transmit
// recovers it by trial-decoding into SignedProposal first, which RLP's
// strict list-arity checking rejects for vote bytes.
func (s *localSupport) Transmit(ctx context.Context, message []byte) error {
	if s.sink == nil {
		return nil
	}
	msgType := msgTypeVote
	var sp types.SignedProposal
	if err := rlp.DecodeBytes(message, &sp); err == nil {
		msgType = msgTypeProposal
	}
	return s.sink.Broadcast(&p2p.Message{Type: msgType, Payload: message})
}

// Commit durably records the decided block and returns the static genesis
// authority list unchanged: this demo host performs no validator rotation.
func (s *localSupport) Commit(ctx context.Context, commit types.Commit) (types.Status, error) {
	key := append(append([]byte{}, blockKeyPrefix...), heightKey(commit.Height)...)
	encoded, err := rlp.EncodeToBytes(&commit)
	if err != nil {
		return types.Status{}, fmt.Errorf("support: encode commit: %w", err)
	}
	if err := s.db.Put(key, encoded); err != nil {
		return types.Status{}, fmt.Errorf("support: persist commit: %w", err)
	}
	interval := s.ival
	return types.Status{
		Height:        commit.Height,
		Interval:      &interval,
		AuthorityList: s.auth.Current(),
	}, nil
}

// GetBlock manufactures the next candidate block: an 8-byte big-endian
// height counter, since this demo host carries no transaction pool or
// execution layer to source real block contents from.
func (s *localSupport) GetBlock(ctx context.Context, height types.Height, previousProof types.Proof) ([]byte, types.Hash, error) {
	block := heightKey(height)
	hash := types.BytesToHash(gethcrypto.Keccak256(block))
	return block, hash, nil
}

// Sign produces a recoverable secp256k1 signature over hash.
func (s *localSupport) Sign(hash types.Hash) ([]byte, error) {
	return gethcrypto.Sign(hash.Bytes(), s.key.PrivateKey)
}

// CheckSig recovers the signer's address from a recoverable signature.
func (s *localSupport) CheckSig(sig []byte, hash types.Hash) (types.Address, bool) {
	pub, err := gethcrypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return types.Address{}, false
	}
	return types.BytesToAddress(gethcrypto.PubkeyToAddress(*pub).Bytes()), true
}

// CryptHash hashes msg with Keccak-256, the hash primitive the rest of the
// stack already uses for signature recovery.
func (s *localSupport) CryptHash(msg []byte) types.Hash {
	return types.BytesToHash(gethcrypto.Keccak256(msg))
}

func heightKey(h types.Height) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, h)
	return b
}
