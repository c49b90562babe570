package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/sipeed/picoclaw-orchestrator/pkg/logger"
)

// ErrBusClosed is returned when publishing to a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

const defaultBusBufferSize = 64

// Stats is a point-in-time snapshot of queue depths and drop counters,
// surfaced for /status diagnostics.
type Stats struct {
	InboundLen      int
	InboundDropped  uint64
	OutboundLen     int
	OutboundDropped uint64
	ReactionLen     int
	ReactionDropped uint64
	MediaLen        int
	MediaDropped    uint64
}

// boundedQueue is one drop-oldest queue plus its drop counter and a
// rate.Sometimes gate that surfaces the first drop and every hundredth one
// in the log without spamming under sustained overload.
type boundedQueue[T any] struct {
	ch      chan T
	dropped atomic.Uint64
	logGate rate.Sometimes
	name    string
}

func newBoundedQueue[T any](name string, size int) *boundedQueue[T] {
	return &boundedQueue[T]{
		ch:      make(chan T, size),
		logGate: rate.Sometimes{First: 1, Every: 100},
		name:    name,
	}
}

// put drops the oldest queued item when the queue is full, then enqueues
// msg. Producers (channel adapters) must never block on a congested
// consumer, so inbound/outbound traffic favors recency over completeness
// under overload.
func (q *boundedQueue[T]) put(msg T) {
	select {
	case q.ch <- msg:
		return
	default:
	}

	select {
	case <-q.ch:
		q.recordDrop()
	default:
	}

	select {
	case q.ch <- msg:
	default:
		// Another producer raced us for the freed slot; drop this one too
		// rather than block, preserving the never-block guarantee.
		q.recordDrop()
	}
}

func (q *boundedQueue[T]) recordDrop() {
	n := q.dropped.Add(1)
	q.logGate.Do(func() {
		logger.WarnCF("bus", "dropped oldest queued message under backpressure", map[string]any{
			"queue":         q.name,
			"dropped_total": n,
		})
	})
}

func (q *boundedQueue[T]) drain() int {
	drained := 0
	for {
		select {
		case <-q.ch:
			drained++
		default:
			return drained
		}
	}
}

type MessageBus struct {
	inbound       *boundedQueue[InboundMessage]
	outbound      *boundedQueue[OutboundMessage]
	reaction      *boundedQueue[ReactionMessage]
	outboundMedia *boundedQueue[OutboundMediaMessage]
	done          chan struct{}
	closed        atomic.Bool

	subsMu sync.RWMutex
	subs   map[string]*ChannelSubscription
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:       newBoundedQueue[InboundMessage]("inbound", defaultBusBufferSize),
		outbound:      newBoundedQueue[OutboundMessage]("outbound", defaultBusBufferSize),
		reaction:      newBoundedQueue[ReactionMessage]("reaction", defaultBusBufferSize),
		outboundMedia: newBoundedQueue[OutboundMediaMessage]("outbound_media", defaultBusBufferSize),
		done:          make(chan struct{}),
	}
}

// Stats returns a snapshot of current queue depths and cumulative drop counts.
func (mb *MessageBus) Stats() Stats {
	return Stats{
		InboundLen:      len(mb.inbound.ch),
		InboundDropped:  mb.inbound.dropped.Load(),
		OutboundLen:     len(mb.outbound.ch),
		OutboundDropped: mb.outbound.dropped.Load(),
		ReactionLen:     len(mb.reaction.ch),
		ReactionDropped: mb.reaction.dropped.Load(),
		MediaLen:        len(mb.outboundMedia.ch),
		MediaDropped:    mb.outboundMedia.dropped.Load(),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	mb.inbound.put(msg)
	return nil
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-mb.inbound.ch:
		return msg, ok
	case <-mb.done:
		return InboundMessage{}, false
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	mb.outbound.put(msg)
	return nil
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg, ok := <-mb.outbound.ch:
		return msg, ok
	case <-mb.done:
		return OutboundMessage{}, false
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

func (mb *MessageBus) PublishReaction(ctx context.Context, msg ReactionMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	mb.reaction.put(msg)
	return nil
}

func (mb *MessageBus) SubscribeReaction(ctx context.Context) (ReactionMessage, bool) {
	select {
	case msg, ok := <-mb.reaction.ch:
		return msg, ok
	case <-mb.done:
		return ReactionMessage{}, false
	case <-ctx.Done():
		return ReactionMessage{}, false
	}
}

func (mb *MessageBus) PublishOutboundMedia(ctx context.Context, msg OutboundMediaMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	mb.outboundMedia.put(msg)
	return nil
}

func (mb *MessageBus) SubscribeOutboundMedia(ctx context.Context) (OutboundMediaMessage, bool) {
	select {
	case msg, ok := <-mb.outboundMedia.ch:
		return msg, ok
	case <-mb.done:
		return OutboundMediaMessage{}, false
	case <-ctx.Done():
		return OutboundMediaMessage{}, false
	}
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)

		// Drain buffered channels so messages aren't silently lost.
		// Channels are NOT closed to avoid send-on-closed panics from concurrent publishers.
		drained := mb.inbound.drain() + mb.outbound.drain() + mb.reaction.drain() + mb.outboundMedia.drain()
		if drained > 0 {
			logger.DebugCF("bus", "Drained buffered messages during close", map[string]any{
				"count": drained,
			})
		}
	}
}
