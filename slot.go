package shmexchange

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// usedByWriter is the writer-owned mark in a slot's state word. It is set
// while the producer considers the slot as holding the latest message or is
// still preparing it. Bits [0, NumProcesses) are reader-pin bits, one per
// process; a set bit pins the slot against reuse.
const usedByWriter uint32 = 1 << 31

// slot is the unit of publication: one 32-bit state word followed by the
// payload at a fixed offset. state == 0 means the slot is free and its
// payload is garbage. The explicit pad keeps the payload 8-byte aligned, the
// tail pad spaces adjacent slots apart to avoid false sharing.
type slot struct {
	state atomic.Uint32 // controls visibility and slot ownership
	_     uint32
	msg   Message
	_     cpu.CacheLinePad
}
