package bus

import (
	"context"
	"sync"

	"github.com/sipeed/picoclaw-orchestrator/pkg/logger"
)

// ChannelSubscription is one channel adapter's private view of the
// outbound and reaction queues, filled by RunDispatcher. Both channels use
// the same drop-oldest discipline as the shared queues.
type ChannelSubscription struct {
	Outbound <-chan OutboundMessage
	Reaction <-chan ReactionMessage

	outbound *boundedQueue[OutboundMessage]
	reaction *boundedQueue[ReactionMessage]
}

// SubscribeChannel registers a per-channel subscription; RunDispatcher
// routes outbound/reaction messages whose Channel matches into it. buffer
// <= 0 uses the bus default.
func (mb *MessageBus) SubscribeChannel(channel string, buffer int) *ChannelSubscription {
	if buffer <= 0 {
		buffer = defaultBusBufferSize
	}
	sub := &ChannelSubscription{
		outbound: newBoundedQueue[OutboundMessage]("outbound:"+channel, buffer),
		reaction: newBoundedQueue[ReactionMessage]("reaction:"+channel, buffer),
	}
	sub.Outbound = sub.outbound.ch
	sub.Reaction = sub.reaction.ch

	mb.subsMu.Lock()
	if mb.subs == nil {
		mb.subs = map[string]*ChannelSubscription{}
	}
	mb.subs[channel] = sub
	mb.subsMu.Unlock()
	return sub
}

func (mb *MessageBus) subscriber(channel string) *ChannelSubscription {
	mb.subsMu.RLock()
	defer mb.subsMu.RUnlock()
	return mb.subs[channel]
}

// RunDispatcher drains the shared outbound and reaction queues and fans
// each message out to its channel's subscription. A message for a channel
// with no subscriber is dropped with a warning — running the dispatcher
// means per-channel delivery is the delivery path. Blocks until ctx is
// canceled or the bus closes.
func (mb *MessageBus) RunDispatcher(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for {
			msg, ok := mb.SubscribeOutbound(ctx)
			if !ok {
				return
			}
			if sub := mb.subscriber(msg.Channel); sub != nil {
				sub.outbound.put(msg)
			} else {
				logger.WarnCF("bus", "outbound message for channel with no subscriber", map[string]any{
					"channel": msg.Channel,
				})
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			msg, ok := mb.SubscribeReaction(ctx)
			if !ok {
				return
			}
			if sub := mb.subscriber(msg.Channel); sub != nil {
				sub.reaction.put(msg)
			} else {
				logger.WarnCF("bus", "reaction for channel with no subscriber", map[string]any{
					"channel": msg.Channel,
				})
			}
		}
	}()

	wg.Wait()
}
