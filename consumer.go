package shmexchange

import (
	"context"
	"fmt"
	"time"
)

// attachRetryInterval paces the wait for a peer's region to appear.
const attachRetryInterval = 10 * time.Millisecond

// Consumer is the reader side of one peer's shared region, scoped to the
// reading process's own index. It holds at most one pin at a time and
// enforces that; the container itself does not.
type Consumer struct {
	// ProducerIndex is the index of the peer whose messages this consumer
	// reads.
	ProducerIndex int

	self   int
	seg    *segment
	c      *Container
	handle int
}

// NewConsumer attaches to the region owned by the process with index
// producer, for reading by the process with index self. The producer may not
// have created its region yet; NewConsumer retries until it appears or ctx
// is done. Pins left behind by a previous run of this process are released
// on attach.
func NewConsumer(ctx context.Context, self, producer int) (*Consumer, error) {
	if self < 0 || self >= NumProcesses {
		return nil, fmt.Errorf("process index %d out of range [0, %d)", self, NumProcesses)
	}
	if producer < 0 || producer >= NumProcesses {
		return nil, fmt.Errorf("producer index %d out of range [0, %d)", producer, NumProcesses)
	}

	path := segmentPath(producer)
	var seg *segment
	for {
		s, err := openSegment(path)
		if err == nil {
			seg = s
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for producer %d: %w", producer, ctx.Err())
		case <-time.After(attachRetryInterval):
		}
	}

	c := seg.container()
	c.ReaderReset(self)
	return &Consumer{ProducerIndex: producer, self: self, seg: seg, c: c, handle: -1}, nil
}

// HasMessage reports whether the producer has published at least once.
func (cn *Consumer) HasMessage() bool {
	return !cn.c.IsEmpty()
}

// Lock pins the producer's most recent message and returns it. The message
// stays valid until Unlock. Fails with ErrDoubleLock when a previous Lock
// was not unlocked and with ErrEmpty when nothing was published yet.
func (cn *Consumer) Lock() (*Message, error) {
	if cn.handle != -1 {
		return nil, ErrDoubleLock
	}
	h, err := cn.c.ReaderLock(cn.self)
	if err != nil {
		return nil, err
	}
	cn.handle = h
	return cn.c.Payload(h), nil
}

// Message returns the currently locked message. Fails with ErrNotLocked when
// no lock is held.
func (cn *Consumer) Message() (*Message, error) {
	if cn.handle == -1 {
		return nil, ErrNotLocked
	}
	return cn.c.Payload(cn.handle), nil
}

// Unlock releases the pin taken by the previous Lock. Fails with
// ErrNotLocked when no lock is held.
func (cn *Consumer) Unlock() error {
	if cn.handle == -1 {
		return ErrNotLocked
	}
	if err := cn.c.ReaderUnlock(cn.self, cn.handle); err != nil {
		return err
	}
	cn.handle = -1
	return nil
}

// Close detaches from the peer's region.
func (cn *Consumer) Close() error {
	return cn.seg.close()
}
