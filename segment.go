package shmexchange

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// containerSize is the exact byte size of the shared region backing one
// Container. Every mapping process runs the same binary, so the layout
// (including padding) is identical on both sides of the mapping.
const containerSize = unsafe.Sizeof(Container{})

// segment is one producer's shared region mapped into this process.
type segment struct {
	file *os.File
	mem  mmap.MMap
}

// createSegment attaches to the region at path, creating it when absent.
// A fresh region comes back zero filled, which is the container's valid
// empty state; a pre-existing one keeps whatever the previous run left.
func createSegment(path string) (*segment, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create segment %s: %w", path, err)
	}
	if err := f.Truncate(int64(containerSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("resize segment %s: %w", path, err)
	}
	mem, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map segment %s: %w", path, err)
	}
	return &segment{file: f, mem: mem}, nil
}

// openSegment attaches to an existing region at path. A region smaller than
// the container means a concurrent creator has not finished resizing it yet;
// that is reported as an error so the caller can retry.
func openSegment(path string) (*segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < int64(containerSize) {
		f.Close()
		return nil, fmt.Errorf("segment %s too small: %d bytes", path, info.Size())
	}
	mem, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map segment %s: %w", path, err)
	}
	return &segment{file: f, mem: mem}, nil
}

// container reinterprets the mapped bytes as a Container.
func (s *segment) container() *Container {
	return (*Container)(unsafe.Pointer(&s.mem[0]))
}

// close unmaps the region and closes the backing file. The region itself
// stays on disk; see Remove.
func (s *segment) close() error {
	var firstErr error
	if s.mem != nil {
		if err := s.mem.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.mem = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.file = nil
	}
	return firstErr
}

// segmentPath returns the backing file path of the region owned by the
// process with the given index: /dev/shm when available, the temporary
// directory otherwise.
func segmentPath(index int) string {
	name := SharedNamePrefix + strconv.Itoa(index)
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", name)
	}
	return filepath.Join(os.TempDir(), name)
}

// Remove deletes the shared region of the process with the given index.
// Regions are never removed during normal operation; cleanup between runs
// with a different process count or layout is an explicit external step.
func Remove(index int) error {
	return os.Remove(segmentPath(index))
}
