// Package engine implements the core BFT state machine: the height/round/
// step driver, proposal and vote processing, Proof-of-Lock-Change locking,
// and commit emission. A single goroutine selects over timer ticks and
// inbound messages and processes each to completion before selecting
// again, so no lock is required on engine state.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"bftcore/consensus/authority"
	"bftcore/consensus/bfterr"
	"bftcore/consensus/collectors"
	"bftcore/consensus/proof"
	"bftcore/consensus/support"
	"bftcore/consensus/types"
	"bftcore/observability"
	"bftcore/timer"
	"bftcore/wal"
)

const inboxCapacity = 4096

// Engine is the consensus state machine.
type Engine struct {
	logger  *slog.Logger
	support support.Support
	auth    *authority.Manager
	votes   *collectors.VoteCollector
	props   *collectors.ProposalCollector
	wal     *wal.WAL
	wheel   *timer.Wheel
	cfg     Config
	now     func() time.Time
	address types.Address

	inbox chan Msg

	// mu guards the fields below, read by metrics/diagnostics from other
	// goroutines; all mutation happens on the single driver goroutine.
	mu sync.RWMutex

	height types.Height
	round  types.Round
	step   types.Step

	feed           *types.Feed
	activeProposal *types.SignedProposal
	lock           *types.LockStatus

	lastCommitRound types.Round
	lastCommitHash  types.Hash
	haveCommitted   bool

	htime time.Time

	saveToWAL bool

	heightFilter map[types.Address]time.Time
	roundFilter  map[types.Address]time.Time

	// verifyResults caches the host's asynchronous CheckTxs outcome per
	// block hash, consulted when the verify_req feature holds the engine in
	// VerifyWait.
	verifyResults map[types.Hash]bool

	durations timer.Durations
}

// New constructs an Engine. Start must be called to run it.
func New(logger *slog.Logger, sup support.Support, auth *authority.Manager, votes *collectors.VoteCollector, props *collectors.ProposalCollector, w *wal.WAL, wheel *timer.Wheel, address types.Address, opts ...Option) *Engine {
	e := &Engine{
		logger:       logger,
		support:      sup,
		auth:         auth,
		votes:        votes,
		props:        props,
		wal:          w,
		wheel:        wheel,
		address:      address,
		now:          time.Now,
		height:       1,
		round:        0,
		step:         types.Propose,
		saveToWAL:    true,
		heightFilter:  make(map[types.Address]time.Time),
		roundFilter:   make(map[types.Address]time.Time),
		verifyResults: make(map[types.Hash]bool),
		inbox:         make(chan Msg, inboxCapacity),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.durations = timer.FromTotal(e.cfg.totalDurationOrDefault())
	return e
}

// Snapshot is a read-only view of engine state, safe to read concurrently
// with the driver goroutine.
type Snapshot struct {
	Height types.Height
	Round  types.Round
	Step   types.Step
}

// Snapshot returns the engine's current (height, round, step).
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{Height: e.height, Round: e.round, Step: e.step}
}

// Submit enqueues an inbound message for processing. It returns a Send
// error, without blocking, if the queue is full.
func (e *Engine) Submit(msg Msg) error {
	select {
	case e.inbox <- msg:
		return nil
	default:
		return bfterr.New(bfterr.Send, "engine inbox full, dropping message")
	}
}

// Start replays the WAL, then drives the state machine until ctx is
// cancelled. It must be called exactly once.
func (e *Engine) Start(ctx context.Context) error {
	e.replayWAL()
	go e.wheel.Run(ctx)

	e.mu.Lock()
	e.htime = e.now()
	e.mu.Unlock()
	e.newRoundStart(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-e.inbox:
			e.process(ctx, msg)
			e.reportPosition()
		case info := <-e.wheel.Fired():
			e.timeoutProcess(ctx, info)
			e.reportPosition()
		}
	}
}

func (e *Engine) replayWAL() {
	if e.wal == nil {
		return
	}
	e.saveToWAL = false
	_ = e.wal.Replay(func(rec wal.Record) error {
		switch rec.Type {
		case wal.RecordProposal:
			var sp types.SignedProposal
			if err := rlp.DecodeBytes(rec.Payload, &sp); err != nil {
				return err
			}
			e.process(context.Background(), Msg{Kind: MsgProposal, Proposal: &sp})
		case wal.RecordVote:
			var sv types.SignedVote
			if err := rlp.DecodeBytes(rec.Payload, &sv); err != nil {
				return err
			}
			e.process(context.Background(), Msg{Kind: MsgVote, Vote: &sv})
		case wal.RecordStatus:
			var st types.Status
			if err := rlp.DecodeBytes(rec.Payload, &st); err != nil {
				return err
			}
			e.process(context.Background(), Msg{Kind: MsgStatus, Status: &st})
		case wal.RecordFeed:
			var f types.Feed
			if err := rlp.DecodeBytes(rec.Payload, &f); err != nil {
				return err
			}
			e.process(context.Background(), Msg{Kind: MsgFeed, Feed: &f})
		}
		return nil
	})
	e.saveToWAL = true
}

func (e *Engine) appendWAL(kind wal.RecordType, height types.Height, payload interface{}) {
	if e.wal == nil || !e.saveToWAL {
		return
	}
	encoded, err := rlp.EncodeToBytes(payload)
	if err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.WAL, "encode wal record", err))
		return
	}
	if err := e.wal.Append(wal.Record{Type: kind, Height: height, Payload: encoded}); err != nil {
		bfterr.Handle(e.logger, bfterr.Wrap(bfterr.WAL, "append wal record", err))
	}
}

// process dispatches one inbound message, guarded by the step conditions
// of the per-round protocol.
func (e *Engine) process(ctx context.Context, msg Msg) {
	switch msg.Kind {
	case MsgProposal:
		e.handleInboundProposal(ctx, msg.Proposal)
	case MsgVote:
		e.handleInboundVote(ctx, msg.Vote)
	case MsgFeed:
		e.handleFeed(ctx, msg.Feed)
	case MsgStatus:
		e.handleStatus(ctx, msg.Status)
	case MsgVerifyResp:
		e.handleVerifyResp(ctx, msg.VerifyResp)
	case MsgClear:
		e.handleClear(ctx, msg.Clear)
	case MsgPause, MsgKill:
		// No effect on the driver: neither the engine nor the actuator
		// keeps a paused or stopped state, and Submit calls continue to be
		// processed.
	case MsgCorrupt, MsgStart:
		// No-ops at the engine level; recognised for actuator API parity.
	}
}

// reportPosition refreshes the consensus position gauges after processing
// one inbound message or timer tick.
func (e *Engine) reportPosition() {
	height, round, step := e.currentHRS()
	observability.Consensus().SetPosition(height, round, int(step))
}

func (e *Engine) stepAtLeast(s types.Step) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.step >= s
}

func (e *Engine) currentHRS() (types.Height, types.Round, types.Step) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.height, e.round, e.step
}
