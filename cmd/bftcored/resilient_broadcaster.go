package main

import (
	"context"
	"sync"
	"time"

	"bftcore/p2p"
)

const (
	outboundQueueCapacity  = 4096
	outboundRetryBaseDelay = 100 * time.Millisecond
	outboundRetryMaxDelay  = 5 * time.Second
	notifyBuffer           = 1
	idleTickInterval       = time.Second
)

// resilientBroadcaster buffers outbound consensus messages and retries them
// against whatever p2p.Broadcaster sink is currently attached, so the
// engine's transmit calls never block on an unready or flapping transport.
type resilientBroadcaster struct {
	mu      sync.Mutex
	queue   []*p2p.Message
	updates chan p2p.Broadcaster
	notify  chan struct{}
}

func newResilientBroadcaster(ctx context.Context) *resilientBroadcaster {
	rb := &resilientBroadcaster{
		queue:   make([]*p2p.Message, 0, outboundQueueCapacity),
		updates: make(chan p2p.Broadcaster, notifyBuffer),
		notify:  make(chan struct{}, notifyBuffer),
	}
	go rb.run(ctx)
	return rb
}

func (r *resilientBroadcaster) Broadcast(msg *p2p.Message) error {
	if msg == nil {
		return nil
	}

	copyMsg := &p2p.Message{Type: msg.Type, Payload: append([]byte(nil), msg.Payload...)}

	r.mu.Lock()
	if len(r.queue) >= outboundQueueCapacity {
		r.queue = r.queue[1:]
	}
	r.queue = append(r.queue, copyMsg)
	r.mu.Unlock()

	r.signal()
	return nil
}

// SetSink attaches (or replaces) the underlying transport the queue drains
// into. Passing nil pauses delivery until a non-nil sink arrives.
func (r *resilientBroadcaster) SetSink(sink p2p.Broadcaster) {
	if r == nil {
		return
	}

	select {
	case r.updates <- sink:
	default:
		select {
		case <-r.updates:
		default:
		}
		r.updates <- sink
	}
	r.signal()
}

func (r *resilientBroadcaster) run(ctx context.Context) {
	if r == nil {
		return
	}

	var (
		sink       p2p.Broadcaster
		retryDelay = outboundRetryBaseDelay
	)

	for {
		if ctx.Err() != nil {
			return
		}

		r.mu.Lock()
		var next *p2p.Message
		if len(r.queue) > 0 {
			next = r.queue[0]
		}
		r.mu.Unlock()

		if sink != nil && next != nil {
			if err := sink.Broadcast(next); err != nil {
				retryDelay = nextRetryDelay(retryDelay)
				select {
				case <-ctx.Done():
					return
				case newSink := <-r.updates:
					sink = newSink
					retryDelay = outboundRetryBaseDelay
				case <-time.After(retryDelay):
				case <-r.notify:
				}
				continue
			}

			r.mu.Lock()
			if len(r.queue) > 0 {
				r.queue = r.queue[1:]
			}
			r.mu.Unlock()
			retryDelay = outboundRetryBaseDelay
			continue
		}

		select {
		case <-ctx.Done():
			return
		case sink = <-r.updates:
			retryDelay = outboundRetryBaseDelay
		case <-r.notify:
			// Wake loop to inspect queue or sink updates.
		case <-time.After(idleTickInterval):
			// Periodic wake-up to avoid starving updates when idle.
		}
	}
}

func (r *resilientBroadcaster) signal() {
	if r == nil {
		return
	}
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func nextRetryDelay(current time.Duration) time.Duration {
	next := current * 2
	if next < outboundRetryBaseDelay {
		next = outboundRetryBaseDelay
	}
	if next > outboundRetryMaxDelay {
		return outboundRetryMaxDelay
	}
	return next
}
