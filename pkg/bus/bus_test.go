package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishConsume(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx := context.Background()

	msg := InboundMessage{
		Channel:  "test",
		SenderID: "user1",
		ChatID:   "chat1",
		Content:  "hello",
	}

	if err := mb.PublishInbound(ctx, msg); err != nil {
		t.Fatalf("PublishInbound failed: %v", err)
	}

	got, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("ConsumeInbound returned ok=false")
	}
	if got.Content != "hello" {
		t.Fatalf("expected content 'hello', got %q", got.Content)
	}
	if got.Channel != "test" {
		t.Fatalf("expected channel 'test', got %q", got.Channel)
	}
}

func TestPublishOutboundSubscribe(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx := context.Background()

	msg := OutboundMessage{
		Channel: "telegram",
		ChatID:  "123",
		Content: "world",
	}

	if err := mb.PublishOutbound(ctx, msg); err != nil {
		t.Fatalf("PublishOutbound failed: %v", err)
	}

	got, ok := mb.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("SubscribeOutbound returned ok=false")
	}
	if got.Content != "world" {
		t.Fatalf("expected content 'world', got %q", got.Content)
	}
}

func TestPublishInbound_BusClosed(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	err := mb.PublishInbound(context.Background(), InboundMessage{Content: "test"})
	if err != ErrBusClosed {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}

func TestPublishOutbound_BusClosed(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	err := mb.PublishOutbound(context.Background(), OutboundMessage{Content: "test"})
	if err != ErrBusClosed {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}

func TestConsumeInbound_ContextCancel(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := mb.ConsumeInbound(ctx)
	if ok {
		t.Fatal("expected ok=false when context is canceled")
	}
}

func TestConsumeInbound_BusClosed(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, ok := mb.ConsumeInbound(ctx)
	if ok {
		t.Fatal("expected ok=false when bus is closed")
	}
}

func TestSubscribeOutbound_BusClosed(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, ok := mb.SubscribeOutbound(ctx)
	if ok {
		t.Fatal("expected ok=false when bus is closed")
	}
}

func TestConcurrentPublishClose(t *testing.T) {
	mb := NewMessageBus()
	ctx := context.Background()

	const numGoroutines = 100
	var wg sync.WaitGroup
	wg.Add(numGoroutines + 1)

	// Spawn many goroutines trying to publish
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			publishCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			// Errors are expected; we just must not panic or deadlock
			_ = mb.PublishInbound(publishCtx, InboundMessage{Content: "concurrent"})
		}()
	}

	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		mb.Close()
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("test timed out - possible deadlock")
	}
}

// PublishInbound never blocks producers: once the buffer is full it drops
// the oldest queued message instead of waiting for a consumer.
func TestPublishInbound_DropsOldestUnderBackpressure(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx := context.Background()

	for i := 0; i < defaultBusBufferSize; i++ {
		if err := mb.PublishInbound(ctx, InboundMessage{Content: "fill"}); err != nil {
			t.Fatalf("fill failed at %d: %v", i, err)
		}
	}

	if err := mb.PublishInbound(ctx, InboundMessage{Content: "overflow"}); err != nil {
		t.Fatalf("expected PublishInbound to never block/error under backpressure, got %v", err)
	}

	stats := mb.Stats()
	if stats.InboundDropped != 1 {
		t.Fatalf("expected exactly one dropped message, got %d", stats.InboundDropped)
	}
	if stats.InboundLen != defaultBusBufferSize {
		t.Fatalf("expected queue to remain at capacity %d, got %d", defaultBusBufferSize, stats.InboundLen)
	}

	// The oldest ("fill" #0) must be gone; the newest surviving message is
	// the overflow one, queued behind the remaining 63 "fill" entries.
	var last InboundMessage
	for i := 0; i < defaultBusBufferSize; i++ {
		msg, ok := mb.ConsumeInbound(ctx)
		if !ok {
			t.Fatalf("expected message at position %d", i)
		}
		last = msg
	}
	if last.Content != "overflow" {
		t.Fatalf("expected last queued message to be 'overflow', got %q", last.Content)
	}
}

func TestDispatcher_FansOutPerChannel(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	telegram := mb.SubscribeChannel("telegram", 8)
	whatsapp := mb.SubscribeChannel("whatsapp", 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		mb.RunDispatcher(ctx)
		close(done)
	}()

	_ = mb.PublishOutbound(ctx, OutboundMessage{Channel: "telegram", ChatID: "c1", Content: "for tg"})
	_ = mb.PublishReaction(ctx, ReactionMessage{Channel: "whatsapp", ChatID: "c2", Emoji: "👍"})

	select {
	case msg := <-telegram.Outbound:
		if msg.Content != "for tg" {
			t.Fatalf("unexpected outbound %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("telegram subscriber never received its outbound")
	}

	select {
	case r := <-whatsapp.Reaction:
		if r.Emoji != "👍" {
			t.Fatalf("unexpected reaction %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("whatsapp subscriber never received its reaction")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop on context cancel")
	}
}

func TestPublishReactionSubscribe(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx := context.Background()

	msg := ReactionMessage{
		Channel:   "whatsapp",
		ChatID:    "g1@g.us",
		MessageID: "m1",
		Emoji:     "💡",
	}

	if err := mb.PublishReaction(ctx, msg); err != nil {
		t.Fatalf("PublishReaction failed: %v", err)
	}

	got, ok := mb.SubscribeReaction(ctx)
	if !ok {
		t.Fatal("SubscribeReaction returned ok=false")
	}
	if got.Emoji != "💡" || got.MessageID != "m1" {
		t.Fatalf("unexpected reaction %+v", got)
	}
}

func TestCloseIdempotent(t *testing.T) {
	mb := NewMessageBus()

	// Multiple Close calls must not panic
	mb.Close()
	mb.Close()
	mb.Close()

	// After close, publish should return ErrBusClosed
	err := mb.PublishInbound(context.Background(), InboundMessage{Content: "test"})
	if err != ErrBusClosed {
		t.Fatalf("expected ErrBusClosed after multiple closes, got %v", err)
	}
}
