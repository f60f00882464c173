package engine

import (
	"context"
	"time"

	"bftcore/consensus/types"
)

// armTimeout schedules a timer-wheel entry for (height, round, step) due
// after d.
func (e *Engine) armTimeout(height types.Height, round types.Round, step types.Step, d time.Duration) {
	e.wheel.Set(types.TimeoutInfo{Height: height, Round: round, Step: step, Duration: uint64(d.Milliseconds())}, d)
}

// timeoutProcess handles a fired timer tick, discarding it if it no longer
// matches current engine state.
func (e *Engine) timeoutProcess(ctx context.Context, info types.TimeoutInfo) {
	height, round, step := e.currentHRS()
	if info.Height < height {
		return
	}
	if info.Height == height && info.Round < round {
		return
	}
	if info.Height == height && info.Round == round && info.Step != step {
		return
	}

	switch info.Step {
	case types.ProposeWait:
		e.transmitPrevote(ctx)
	case types.Prevote:
		e.transmitPrevote(ctx)
	case types.PrevoteWait:
		e.onPrevoteWaitExpired(ctx)
	case types.Precommit:
		e.transmitPrecommit(ctx)
	case types.PrecommitWait:
		e.gotoNextRound(ctx)
	case types.VerifyWait:
		e.mu.Lock()
		e.lock = nil
		e.mu.Unlock()
		e.transmitPrecommit(ctx)
	}
}
