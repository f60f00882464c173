// Package wal implements the engine's write-ahead log: an append-only,
// height-segmented log of typed records, replayed on boot through the same
// processing path used for live traffic but with persistence disabled so
// replay is idempotent.
package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"bftcore/consensus/types"
	"bftcore/storage"
)

// RecordType tags the payload carried by a Record, mirroring the original
// design's LogType taxonomy.
type RecordType byte

const (
	RecordProposal RecordType = iota
	RecordVote
	RecordStatus
	RecordProof
	RecordFeed
	RecordVerifyResp
	RecordTimeoutInfo
	RecordBlock
	RecordAuthorities
)

// Record is one WAL entry: a typed, height-tagged, RLP-encoded payload.
type Record struct {
	Type    RecordType
	Height  types.Height
	Payload []byte
}

const keyPrefix = "wal/"

// key orders records lexicographically by height then an internal sequence
// number, so replay proceeds in height order and, within one height, in
// append order.
func key(height types.Height, seq uint64) []byte {
	b := make([]byte, len(keyPrefix)+8+8)
	copy(b, keyPrefix)
	binary.BigEndian.PutUint64(b[len(keyPrefix):], height)
	binary.BigEndian.PutUint64(b[len(keyPrefix)+8:], seq)
	return b
}

// WAL appends and replays Records against a durable, iterable key-value
// store.
type WAL struct {
	db  storage.IterableDatabase
	seq uint64
}

// Open wraps db as a WAL. db must support ordered iteration (LevelDB and
// MemDB both do).
func Open(db storage.IterableDatabase) *WAL {
	w := &WAL{db: db}
	it := db.Iterator([]byte(keyPrefix))
	defer it.Release()
	for it.Next() {
		k := it.Key()
		if len(k) != len(keyPrefix)+16 {
			continue
		}
		if s := binary.BigEndian.Uint64(k[len(keyPrefix)+8:]); s > w.seq {
			w.seq = s
		}
	}
	return w
}

// Append persists a record. An I/O error here is classified bfterr.WAL by
// the caller and execution continues: recovery is best-effort, not a
// correctness requirement of the live path.
func (w *WAL) Append(rec Record) error {
	encoded, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return fmt.Errorf("wal: encode record: %w", err)
	}
	w.seq++
	return w.db.Put(key(rec.Height, w.seq), encoded)
}

// Replay invokes fn for every record in height order, and in append order
// within one height. If fn returns an
// error for a given record, that record's replay is aborted but iteration
// continues with the next one: an undecodable or unprocessable record must
// never halt recovery of the rest of the log.
func (w *WAL) Replay(fn func(Record) error) error {
	it := w.db.Iterator([]byte(keyPrefix))
	defer it.Release()
	for it.Next() {
		var rec Record
		if err := rlp.DecodeBytes(it.Value(), &rec); err != nil {
			continue
		}
		_ = fn(rec)
	}
	return it.Error()
}

// Prune discards all records strictly older than keepFrom - 1, i.e.
// retains only records from height >= keepFrom-1 onward.
func (w *WAL) Prune(keepFrom types.Height) error {
	if keepFrom == 0 {
		return nil
	}
	floor := keepFrom - 1
	it := w.db.Iterator([]byte(keyPrefix))
	defer it.Release()
	var toDelete [][]byte
	for it.Next() {
		h := binary.BigEndian.Uint64(it.Key()[len(keyPrefix):])
		if h < floor {
			k := make([]byte, len(it.Key()))
			copy(k, it.Key())
			toDelete = append(toDelete, k)
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	for _, k := range toDelete {
		if err := w.db.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
