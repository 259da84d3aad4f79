// Package shmexchange implements a lock-free single-producer multi-consumer
// latest-value exchange designed to live in memory shared between processes.
//
// Each producing process owns one Container. The producer publishes its
// current message into a free slot and flips the container-level current
// slot id; consumers pin whichever slot is current by setting their own
// reader bit in the slot's state word. A pinned slot is never reclaimed, so
// a consumer's in-flight copy stays stable even while the producer keeps
// publishing. Either side may be killed at any instant; the reset operations
// repair the state word on reattach.
package shmexchange

import (
	"fmt"
	"sync/atomic"

	"code.hybscloud.com/spin"
	"golang.org/x/sys/cpu"
)

var (
	ErrEmpty      = fmt.Errorf("container is empty")
	ErrDoubleLock = fmt.Errorf("slot already locked by this process")
	ErrNotLocked  = fmt.Errorf("slot is not locked by this process")
	ErrNoFreeSlot = fmt.Errorf("no free slot for writer")
)

// Container is a bounded-slot publish-latest register: SlotCount slots plus
// the id of the slot holding the most recent message. Id is 1 + slot index;
// zero means nothing was ever published.
//
// All fields are zero initialized and the zero value is the valid empty
// state. This allows the container to be mapped over a freshly created,
// zero-filled shared region without ever running a constructor there: the
// supervisor cannot tell a fresh start from a restart, so no initialization
// handshake can exist.
type Container struct {
	currentSlotID atomic.Uint32
	_             uint32
	_             cpu.CacheLinePad
	slots         [SlotCount]slot
}

// IsEmpty reports whether nothing was ever published. Observational only; it
// provides no ordering guarantee on subsequent publishes.
func (c *Container) IsEmpty() bool {
	return c.currentSlotID.Load() == 0
}

// ReaderLock pins the slot with the most recent message for the process with
// index process. The slot won't be emptied until the corresponding
// ReaderUnlock by the same process. Locks can't be nested, and the same slot
// can be locked by multiple processes.
//
// Returns a handle to read the message and to unlock it. The handle is valid
// until the ReaderUnlock call.
//
// Fails with ErrEmpty when nothing was ever published and with ErrDoubleLock
// when the process already holds a pin on the slot being locked.
//
// Precondition: a single process must not pin several slots at the same
// time. The container does not check this; the Consumer adapter does.
func (c *Container) ReaderLock(process int) (int, error) {
	// Pinning means "set my bit on the current slot, provided that slot is
	// still used by the writer". That is not one atomic step: between reading
	// currentSlotID and setting the bit, new messages can be written and the
	// slot can be recycled. Losing currency is fine; losing the payload is
	// not. The CAS both verifies the writer mark and sets the bit; on failure
	// currentSlotID is reread, because the failure may mean the writer has
	// since republished.
	sw := spin.Wait{}
	for {
		id := c.currentSlotID.Load()
		if id == 0 {
			return 0, ErrEmpty
		}
		s := &c.slots[id-1]
		cur := s.state.Load()
		if cur&usedByWriter == 0 {
			// The writer has already moved on and dropped its mark; the last
			// reader may free this slot any moment. Retry for a newer slot.
			sw.Once()
			continue
		}
		if cur&(1<<uint(process)) != 0 {
			return 0, ErrDoubleLock
		}
		if s.state.CompareAndSwap(cur, cur|1<<uint(process)) {
			return int(id - 1), nil
		}
		sw.Once()
	}
}

// ReaderUnlock clears the pin of process on the slot at handle.
//
// Fails with ErrNotLocked when the process's bit is not set there. The state
// word is the source of truth: no record is kept of which lock call produced
// the handle, so a handle carrying this process's bit unlocks successfully
// no matter how the bit got there.
func (c *Container) ReaderUnlock(process, handle int) error {
	bit := uint32(1) << uint(process)
	if c.slots[handle].state.Load()&bit == 0 {
		return ErrNotLocked
	}
	c.slots[handle].state.And(^bit)
	return nil
}

// ReaderReset clears every pin held by process, on all slots. Recovery step
// after a crash: a killed reader leaves its pin set, and on restart this
// releases it. Safe to call when the process holds no pins.
func (c *Container) ReaderReset(process int) {
	bit := uint32(1) << uint(process)
	for i := range c.slots {
		if c.slots[i].state.Load()&bit != 0 {
			c.slots[i].state.And(^bit)
		}
	}
}

// Payload returns the message pinned at handle. The pointer stays valid
// until the pin is released.
func (c *Container) Payload(handle int) *Message {
	return &c.slots[handle].msg
}

// WriterPublish writes msg into a free slot and makes that slot current.
// Single producer only.
//
// Fails with ErrNoFreeSlot when every slot carries a bit. With at most
// NumProcesses-1 readers holding one pin each plus the current slot, at
// least one of the SlotCount slots is always free, so this is reachable only
// when a reader violated the single-pin precondition.
func (c *Container) WriterPublish(msg Message) error {
	next := -1
	for i := range c.slots {
		if c.slots[i].state.Load() == 0 {
			next = i
			break
		}
	}
	if next < 0 {
		return ErrNoFreeSlot
	}

	// No reader can observe the slot while its state is zero, so the payload
	// write needs no atomicity. The Or below publishes the payload to
	// readers pinning the slot, the store of currentSlotID publishes the
	// slot to readers locking after this point.
	c.slots[next].msg = msg
	c.slots[next].state.Or(usedByWriter)

	old := c.currentSlotID.Load()
	c.currentSlotID.Store(uint32(next + 1))
	// The previous slot stays in use only as long as readers still pin it.
	if old != 0 {
		c.slots[old-1].state.And(^usedByWriter)
	}
	return nil
}

// WriterReset clears the writer mark from every slot except the current one.
// Recovery step after a crash: a writer killed mid-publish leaves a mark on
// a slot that never became current, or on both the new and the previous
// current slot. Reader pins are untouched.
func (c *Container) WriterReset() {
	cur := c.currentSlotID.Load()
	for i := range c.slots {
		if uint32(i+1) == cur {
			continue
		}
		if c.slots[i].state.Load()&usedByWriter != 0 {
			c.slots[i].state.And(^usedByWriter)
		}
	}
}
