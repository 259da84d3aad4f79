package shmexchange

import (
	"context"
	"errors"
	"testing"
	"time"
)

// cleanRegion removes a leftover region before and after a test; the regions
// live under the well-known shared name, not a per-test directory.
func cleanRegion(t *testing.T, index int) {
	t.Helper()
	Remove(index)
	t.Cleanup(func() { Remove(index) })
}

// One producer, one consumer, two rounds of publish/read over a real mapped
// region.
func TestProducerConsumerExchange(t *testing.T) {
	cleanRegion(t, 0)

	p, err := NewProducer(0)
	if err != nil {
		t.Fatalf("producer failed: %v", err)
	}
	defer p.Close()

	c, err := NewConsumer(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("consumer failed: %v", err)
	}
	defer c.Close()

	if c.HasMessage() {
		t.Fatalf("consumer sees a message before any publish")
	}
	if err := p.Publish(Message{Val: 7}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if !c.HasMessage() {
		t.Fatalf("consumer does not see the publication")
	}

	msg, err := c.Lock()
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if msg.Val != 7 {
		t.Fatalf("expected 7, got %d", msg.Val)
	}
	if err := c.Unlock(); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	if err := p.Publish(Message{Val: 9}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	msg, err = c.Lock()
	if err != nil {
		t.Fatalf("second lock failed: %v", err)
	}
	if msg.Val != 9 {
		t.Fatalf("expected 9, got %d", msg.Val)
	}
	if err := c.Unlock(); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
}

// The consumer waits for the producer's region; the context bounds the wait.
func TestConsumerAttachWaits(t *testing.T) {
	cleanRegion(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewConsumer(ctx, 0, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	// With the region appearing late, the same wait succeeds.
	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(30 * time.Millisecond)
		p, err := NewProducer(2)
		if err != nil {
			t.Errorf("producer failed: %v", err)
			return
		}
		p.Close()
	}()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	c, err := NewConsumer(ctx2, 0, 2)
	if err != nil {
		t.Fatalf("consumer failed: %v", err)
	}
	c.Close()
	<-done
}

// A producer restart repairs a half-finished publish: the stray writer mark
// goes, the current slot and reader pins stay.
func TestProducerRestartRecovery(t *testing.T) {
	cleanRegion(t, 0)

	p, err := NewProducer(0)
	if err != nil {
		t.Fatalf("producer failed: %v", err)
	}
	if err := p.Publish(Message{Val: 5}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	// Crash between preparing a slot and making it current: the new slot
	// carries the writer mark but currentSlotID still names the old one.
	cur := int(p.c.currentSlotID.Load() - 1)
	stray := (cur + 1) % SlotCount
	p.c.slots[stray].state.Or(usedByWriter)
	if err := p.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	p2, err := NewProducer(0)
	if err != nil {
		t.Fatalf("restarted producer failed: %v", err)
	}
	defer p2.Close()

	if p2.c.slots[stray].state.Load()&usedByWriter != 0 {
		t.Fatalf("stray writer mark survived the restart")
	}
	if p2.c.slots[cur].state.Load()&usedByWriter == 0 {
		t.Fatalf("current slot's writer mark was cleared")
	}

	// The container is healthy: the old publication is still readable and
	// publishing continues.
	c, err := NewConsumer(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("consumer failed: %v", err)
	}
	defer c.Close()
	msg, err := c.Lock()
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if msg.Val != 5 {
		t.Fatalf("expected 5, got %d", msg.Val)
	}
	if err := c.Unlock(); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if err := p2.Publish(Message{Val: 6}); err != nil {
		t.Fatalf("publish after restart failed: %v", err)
	}
}

// A consumer restart releases the pins its previous incarnation held.
func TestConsumerRestartRecovery(t *testing.T) {
	cleanRegion(t, 0)

	p, err := NewProducer(0)
	if err != nil {
		t.Fatalf("producer failed: %v", err)
	}
	defer p.Close()
	if err := p.Publish(Message{Val: 1}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	c, err := NewConsumer(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("consumer failed: %v", err)
	}
	if _, err := c.Lock(); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	// Killed while holding the pin: no Unlock, just detach.
	if err := c.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	c2, err := NewConsumer(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("restarted consumer failed: %v", err)
	}
	defer c2.Close()

	for i := range p.c.slots {
		if p.c.slots[i].state.Load()&(1<<1) != 0 {
			t.Fatalf("slot %d still carries the restarted consumer's pin", i)
		}
	}
	if _, err := c2.Lock(); err != nil {
		t.Fatalf("lock after restart failed: %v", err)
	}
	if err := c2.Unlock(); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
}

// The consumer enforces one pin at a time and tracks its own lock state.
func TestConsumerPinDiscipline(t *testing.T) {
	cleanRegion(t, 0)

	p, err := NewProducer(0)
	if err != nil {
		t.Fatalf("producer failed: %v", err)
	}
	defer p.Close()

	c, err := NewConsumer(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("consumer failed: %v", err)
	}
	defer c.Close()

	if err := c.Unlock(); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("expected ErrNotLocked, got %v", err)
	}
	if _, err := c.Message(); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("expected ErrNotLocked from Message, got %v", err)
	}
	if _, err := c.Lock(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}

	if err := p.Publish(Message{Val: 3}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if _, err := c.Lock(); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if _, err := c.Lock(); !errors.Is(err, ErrDoubleLock) {
		t.Fatalf("expected ErrDoubleLock, got %v", err)
	}
	msg, err := c.Message()
	if err != nil {
		t.Fatalf("Message failed: %v", err)
	}
	if msg.Val != 3 {
		t.Fatalf("expected 3, got %d", msg.Val)
	}
	if err := c.Unlock(); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if err := c.Unlock(); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("expected ErrNotLocked on second unlock, got %v", err)
	}
}
