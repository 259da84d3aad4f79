package shmexchange

import "fmt"

// Producer is the writer side of one process's shared region. Exactly one
// producer per region may be alive at a time.
type Producer struct {
	seg *segment
	c   *Container
}

// NewProducer attaches to the shared region owned by the process with the
// given index, creating it on a fresh start and reopening it after a crash.
// Half-finished publishes from a previous run are repaired on attach.
func NewProducer(index int) (*Producer, error) {
	if index < 0 || index >= NumProcesses {
		return nil, fmt.Errorf("process index %d out of range [0, %d)", index, NumProcesses)
	}
	seg, err := createSegment(segmentPath(index))
	if err != nil {
		return nil, err
	}
	c := seg.container()
	c.WriterReset()
	return &Producer{seg: seg, c: c}, nil
}

// Publish makes msg the region's most recent message.
func (p *Producer) Publish(msg Message) error {
	return p.c.WriterPublish(msg)
}

// Close detaches from the region. The region stays on disk for restarts.
func (p *Producer) Close() error {
	return p.seg.close()
}
