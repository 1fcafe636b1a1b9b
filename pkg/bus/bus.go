// Package bus decouples chat transports from the command engine: every
// transport publishes raw inbound events, the bot consumes them, and
// replies flow back outbound. Named taps get copies of both streams for
// observability (the webhook transport's websocket feed reads a tap).
package bus

import (
	"context"
	"sync"
)

// Subscriber is a named tap on a message stream. Multiple subscribers
// can independently consume the same published messages (fan-out).
type Subscriber struct {
	Name string
	ch   chan interface{} // receives copies of published messages
}

type MessageBus struct {
	inbound   chan Inbound
	outbound  chan Outbound
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	// Fan-out subscribers — every published message is sent to all taps
	inboundSubs  []*Subscriber
	outboundSubs []*Subscriber
}

func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan Inbound, 100),
		outbound: make(chan Outbound, 100),
	}
}

// --- Fan-out subscriptions ---

// TapInbound creates a named subscriber that receives copies of all
// inbound events. The returned channel is buffered; slow consumers drop.
func (mb *MessageBus) TapInbound(name string) <-chan interface{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	mb.inboundSubs = append(mb.inboundSubs, sub)
	return sub.ch
}

// TapOutbound creates a named subscriber for outbound replies.
func (mb *MessageBus) TapOutbound(name string) <-chan interface{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	mb.outboundSubs = append(mb.outboundSubs, sub)
	return sub.ch
}

func (mb *MessageBus) fanOutInbound(msg Inbound) {
	for _, sub := range mb.inboundSubs {
		select {
		case sub.ch <- msg:
		default: // non-blocking — drop if subscriber is slow
		}
	}
}

func (mb *MessageBus) fanOutOutbound(msg Outbound) {
	for _, sub := range mb.outboundSubs {
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// --- Publish / consume ---

// PublishInbound enqueues one event, dropping the oldest when full.
// The send happens under the read lock so Close cannot close the
// channel out from under an in-flight publish.
func (mb *MessageBus) PublishInbound(msg Inbound) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.fanOutInbound(msg)

	select {
	case mb.inbound <- msg:
	default:
		// Channel full — drop oldest and retry
		select {
		case <-mb.inbound:
		default:
		}
		select {
		case mb.inbound <- msg:
		default:
		}
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (Inbound, bool) {
	select {
	case msg := <-mb.inbound:
		return msg, true
	case <-ctx.Done():
		return Inbound{}, false
	}
}

// PublishOutbound enqueues one reply, dropping the oldest when full.
// Like PublishInbound, the send stays under the read lock.
func (mb *MessageBus) PublishOutbound(msg Outbound) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	mb.fanOutOutbound(msg)

	select {
	case mb.outbound <- msg:
	default:
		// Channel full — drop oldest and retry
		select {
		case <-mb.outbound:
		default:
		}
		select {
		case mb.outbound <- msg:
		default:
		}
	}
}

func (mb *MessageBus) ConsumeOutbound(ctx context.Context) (Outbound, bool) {
	select {
	case msg := <-mb.outbound:
		return msg, true
	case <-ctx.Done():
		return Outbound{}, false
	}
}

// Close marks the bus closed and closes every channel. Publishers hold
// the read lock through their sends, so once the write lock is
// acquired here no send can be in flight.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		mb.closed = true
		for _, sub := range mb.inboundSubs {
			close(sub.ch)
		}
		for _, sub := range mb.outboundSubs {
			close(sub.ch)
		}
		mb.mu.Unlock()
		close(mb.inbound)
		close(mb.outbound)
	})
}
