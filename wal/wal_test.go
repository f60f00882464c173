package wal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"bftcore/consensus/types"
	"bftcore/storage"
)

func TestAppendReplayPreservesOrder(t *testing.T) {
	w := Open(storage.NewMemDB())

	require.NoError(t, w.Append(Record{Type: RecordProposal, Height: 1, Payload: []byte("p1")}))
	require.NoError(t, w.Append(Record{Type: RecordVote, Height: 1, Payload: []byte("v1")}))
	require.NoError(t, w.Append(Record{Type: RecordProposal, Height: 2, Payload: []byte("p2")}))

	var replayed []Record
	require.NoError(t, w.Replay(func(r Record) error {
		replayed = append(replayed, r)
		return nil
	}))

	require.Len(t, replayed, 3)
	require.Equal(t, []byte("p1"), replayed[0].Payload)
	require.Equal(t, []byte("v1"), replayed[1].Payload)
	require.Equal(t, []byte("p2"), replayed[2].Payload)
	require.Equal(t, types.Height(2), replayed[2].Height)
}

func TestReplayOrdersByHeightAcrossOutOfOrderAppends(t *testing.T) {
	w := Open(storage.NewMemDB())

	require.NoError(t, w.Append(Record{Type: RecordBlock, Height: 5, Payload: []byte("h5")}))
	require.NoError(t, w.Append(Record{Type: RecordBlock, Height: 2, Payload: []byte("h2")}))
	require.NoError(t, w.Append(Record{Type: RecordBlock, Height: 3, Payload: []byte("h3")}))

	var heights []types.Height
	require.NoError(t, w.Replay(func(r Record) error {
		heights = append(heights, r.Height)
		return nil
	}))

	require.Equal(t, []types.Height{2, 3, 5}, heights, "replay must proceed in height order regardless of append order")
}

func TestReplaySkipsUndecodableRecordsButContinues(t *testing.T) {
	db := storage.NewMemDB()
	w := Open(db)

	require.NoError(t, w.Append(Record{Type: RecordProposal, Height: 1, Payload: []byte("good-1")}))
	require.NoError(t, db.Put(key(1, 999), []byte{0xff, 0xff, 0xff}))
	require.NoError(t, w.Append(Record{Type: RecordProposal, Height: 2, Payload: []byte("good-2")}))

	var payloads [][]byte
	require.NoError(t, w.Replay(func(r Record) error {
		payloads = append(payloads, r.Payload)
		return nil
	}))

	require.Equal(t, [][]byte{[]byte("good-1"), []byte("good-2")}, payloads)
}

func TestReplayContinuesAfterHandlerError(t *testing.T) {
	w := Open(storage.NewMemDB())
	require.NoError(t, w.Append(Record{Type: RecordVote, Height: 1, Payload: []byte("a")}))
	require.NoError(t, w.Append(Record{Type: RecordVote, Height: 2, Payload: []byte("b")}))

	var seen int
	err := w.Replay(func(r Record) error {
		seen++
		return errors.New("handler refused this record")
	})

	require.NoError(t, err, "a per-record handler error must not abort Replay")
	require.Equal(t, 2, seen, "every record must still be visited")
}

func TestPruneRetainsKeepFromMinusOneAndNewer(t *testing.T) {
	w := Open(storage.NewMemDB())
	for h := types.Height(1); h <= 5; h++ {
		require.NoError(t, w.Append(Record{Type: RecordBlock, Height: h, Payload: []byte{byte(h)}}))
	}

	require.NoError(t, w.Prune(4)) // keeps height >= 3

	var remaining []types.Height
	require.NoError(t, w.Replay(func(r Record) error {
		remaining = append(remaining, r.Height)
		return nil
	}))
	require.Equal(t, []types.Height{3, 4, 5}, remaining)
}

func TestPruneZeroIsNoop(t *testing.T) {
	w := Open(storage.NewMemDB())
	require.NoError(t, w.Append(Record{Type: RecordBlock, Height: 1, Payload: []byte("x")}))
	require.NoError(t, w.Prune(0))

	var remaining []types.Height
	require.NoError(t, w.Replay(func(r Record) error {
		remaining = append(remaining, r.Height)
		return nil
	}))
	require.Equal(t, []types.Height{1}, remaining)
}
