// Package timer implements the engine's timer wheel: a min-heap of scheduled
// deadlines, each keyed by (height, round, step), served by a single
// consumer goroutine. Setters may enqueue from any goroutine; the wheel
// never cancels an entry, relying on the recipient to discard stale ticks
// by comparing (height, round, step) against current engine state.
package timer

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"bftcore/consensus/types"
)

// Durations apportioned from a configurable total interval, matching the
// fixed fractions of the original design.
const (
	proposeNumerator   = 24
	prevoteNumerator   = 1
	precommitNumerator = 1
	denominator        = 30
)

// Coefficients applied to the base vote duration.
const (
	// RetransmitMultiplier arms prevote/precommit retransmission this many
	// times the base vote duration after the vote is first sent.
	RetransmitMultiplier = 15
	// StaleHeightCoef gates re-broadcast to a sender stuck a height behind.
	StaleHeightCoef = 20
	// StaleRoundCoef gates a nil-vote broadcast to a sender stuck a round behind.
	StaleRoundCoef = 300
	// VerifyAwaitMultiplier bounds how long the engine waits in VerifyWait
	// for an asynchronous CheckTxs result before giving up on the lock.
	VerifyAwaitMultiplier = 50
)

const maxProposeBackoffRound = 10

// Durations holds the base step durations derived from a total interval.
type Durations struct {
	Propose   time.Duration
	Prevote   time.Duration
	Precommit time.Duration
}

// FromTotal apportions totalMS milliseconds into the three base durations.
func FromTotal(totalMS uint64) Durations {
	total := time.Duration(totalMS) * time.Millisecond
	return Durations{
		Propose:   total * proposeNumerator / denominator,
		Prevote:   total * prevoteNumerator / denominator,
		Precommit: total * precommitNumerator / denominator,
	}
}

// ProposeBackoff applies the round-dependent exponential back-off to the
// base propose duration: 2^min(round, 10).
func ProposeBackoff(base time.Duration, round types.Round) time.Duration {
	shift := round
	if shift > maxProposeBackoffRound {
		shift = maxProposeBackoffRound
	}
	return base * time.Duration(uint64(1)<<shift)
}

// entry is one scheduled deadline.
type entry struct {
	deadline time.Time
	info     types.TimeoutInfo
	index    int
}

// entryHeap is a min-heap of entries ordered by deadline.
type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// idleSleep bounds how long the consumer goroutine blocks with an empty
// heap before re-checking for new arrivals.
const idleSleep = 100 * time.Second

// Wheel is the timer wheel. Set enqueues a new deadline; Fired delivers
// ticks whose deadline has elapsed.
type Wheel struct {
	mu      sync.Mutex
	heap    entryHeap
	wake    chan struct{}
	fired   chan types.TimeoutInfo
	closeCh chan struct{}
	once    sync.Once
}

// New constructs a Wheel. Run must be started in its own goroutine.
func New() *Wheel {
	return &Wheel{
		wake:    make(chan struct{}, 1),
		fired:   make(chan types.TimeoutInfo, 64),
		closeCh: make(chan struct{}),
	}
}

// Fired is the channel the driver selects on to receive due timeouts.
func (w *Wheel) Fired() <-chan types.TimeoutInfo { return w.fired }

// Set arms a new deadline, due after d from now.
func (w *Wheel) Set(info types.TimeoutInfo, d time.Duration) {
	w.mu.Lock()
	heap.Push(&w.heap, &entry{deadline: time.Now().Add(d), info: info})
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Close stops the consumer goroutine.
func (w *Wheel) Close() {
	w.once.Do(func() { close(w.closeCh) })
}

// Run is the single consumer loop; it must be invoked exactly once, in its
// own goroutine.
func (w *Wheel) Run(ctx context.Context) {
	timer := time.NewTimer(idleSleep)
	defer timer.Stop()
	for {
		w.mu.Lock()
		var sleep time.Duration
		if len(w.heap) == 0 {
			sleep = idleSleep
		} else {
			sleep = time.Until(w.heap[0].deadline)
			if sleep < 0 {
				sleep = 0
			}
		}
		w.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(sleep)

		select {
		case <-ctx.Done():
			return
		case <-w.closeCh:
			return
		case <-w.wake:
			continue
		case <-timer.C:
			w.drainDue()
		}
	}
}

func (w *Wheel) drainDue() {
	now := time.Now()
	w.mu.Lock()
	var due []types.TimeoutInfo
	for len(w.heap) > 0 && !w.heap[0].deadline.After(now) {
		e := heap.Pop(&w.heap).(*entry)
		due = append(due, e.info)
	}
	w.mu.Unlock()
	for _, info := range due {
		select {
		case w.fired <- info:
		default:
			// consumer is behind; drop rather than block the wheel. The
			// recipient treats a missing tick the same as any other stale
			// timeout: the engine re-arms on its own cadence.
		}
	}
}
