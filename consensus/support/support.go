// Package support declares the boundary between the consensus engine and
// the hosting application: block production/validity, transaction
// execution, networking transport and signing are all provided through
// this interface rather than implemented by the engine itself.
package support

import (
	"context"

	"bftcore/consensus/types"
)

// Support is implemented by the host application. All methods are invoked
// synchronously from the engine's single driver goroutine and must either
// be fast or, for CheckTxs, hand off to a background worker and report the
// result later via a VerifyResp fed back into the engine.
type Support interface {
	// CheckBlock validates a block's headers/structure synchronously.
	CheckBlock(ctx context.Context, block []byte, blockHash types.Hash, height types.Height) error

	// CheckTxs validates a block's transactions. It may run asynchronously
	// when the verify_req feature is enabled, in which case it returns
	// immediately and the result arrives later as a VerifyResp.
	CheckTxs(ctx context.Context, block []byte, blockHash, proposalHash types.Hash, height types.Height, round types.Round) error

	// Transmit fans an outbound proposal or vote out to the network.
	Transmit(ctx context.Context, message []byte) error

	// Commit hands a decided block upstream and returns the host's
	// subsequent Status once it has durably applied the block.
	Commit(ctx context.Context, commit types.Commit) (types.Status, error)

	// GetBlock returns the application's candidate block for height,
	// given the proof of the previous height's commit.
	GetBlock(ctx context.Context, height types.Height, previousProof types.Proof) ([]byte, types.Hash, error)

	// Sign produces a signature over hash using the local validator key.
	Sign(hash types.Hash) ([]byte, error)

	// CheckSig recovers the signer's address from a signature over hash.
	CheckSig(sig []byte, hash types.Hash) (types.Address, bool)

	// CryptHash hashes arbitrary bytes into the engine's digest type.
	CryptHash(msg []byte) types.Hash
}
