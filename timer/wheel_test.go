package timer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bftcore/consensus/types"
)

func TestFromTotalApportionsFixedFractions(t *testing.T) {
	d := FromTotal(3000)
	require.Equal(t, 2400*time.Millisecond, d.Propose)
	require.Equal(t, 100*time.Millisecond, d.Prevote)
	require.Equal(t, 100*time.Millisecond, d.Precommit)
}

func TestProposeBackoffDoublesUntilCap(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, ProposeBackoff(base, 0))
	require.Equal(t, base*2, ProposeBackoff(base, 1))
	require.Equal(t, base*4, ProposeBackoff(base, 2))
	atCap := ProposeBackoff(base, maxProposeBackoffRound)
	beyondCap := ProposeBackoff(base, maxProposeBackoffRound+5)
	require.Equal(t, atCap, beyondCap, "backoff must not grow past the round cap")
}

func TestWheelFiresInDeadlineOrder(t *testing.T) {
	w := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	defer w.Close()

	later := types.TimeoutInfo{Height: 1, Round: 0, Step: types.Prevote}
	sooner := types.TimeoutInfo{Height: 1, Round: 0, Step: types.Propose}

	w.Set(later, 40*time.Millisecond)
	w.Set(sooner, 5*time.Millisecond)

	first := mustFire(t, w)
	require.Equal(t, sooner, first, "the earlier deadline must fire first despite being armed second")

	second := mustFire(t, w)
	require.Equal(t, later, second)
}

func TestWheelDeliversMultipleIndependentDeadlines(t *testing.T) {
	w := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	defer w.Close()

	for i := 0; i < 5; i++ {
		w.Set(types.TimeoutInfo{Height: types.Height(i), Round: 0, Step: types.Propose}, time.Millisecond)
	}

	seen := map[types.Height]bool{}
	for i := 0; i < 5; i++ {
		info := mustFire(t, w)
		seen[info.Height] = true
	}
	require.Len(t, seen, 5)
}

func TestWheelCloseStopsDelivery(t *testing.T) {
	w := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Close()
	w.Set(types.TimeoutInfo{Height: 1}, time.Millisecond)

	select {
	case <-w.Fired():
		t.Fatal("no tick should fire once the wheel is closed")
	case <-time.After(50 * time.Millisecond):
	}
}

func mustFire(t *testing.T, w *Wheel) types.TimeoutInfo {
	t.Helper()
	select {
	case info := <-w.Fired():
		return info
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a tick")
		return types.TimeoutInfo{}
	}
}
