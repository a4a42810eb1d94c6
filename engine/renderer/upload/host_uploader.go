package upload

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type hostBuffer struct {
	mu       *sync.RWMutex
	label    string
	usage    BufferUsage
	data     []byte
	released bool
	owner    *HostUploader
}

var _ Buffer = &hostBuffer{}

func (b *hostBuffer) Label() string {
	return b.label
}

func (b *hostBuffer) Size() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return uint64(len(b.data))
}

func (b *hostBuffer) Usage() BufferUsage {
	return b.usage
}

func (b *hostBuffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	b.owner.liveBytes.Add(-int64(len(b.data)))
	b.owner.liveBuffers.Add(-1)
	b.data = nil
}

// HostUploader keeps buffers in process memory. It backs headless runs and tests.
type HostUploader struct {
	liveBuffers  atomic.Int64
	liveBytes    atomic.Int64
	created      atomic.Int64
	writes       atomic.Int64
	bytesWritten atomic.Int64
}

var _ Uploader = &HostUploader{}

// NewHostUploader creates an uploader backed by host memory.
func NewHostUploader() *HostUploader {
	return &HostUploader{}
}

func (u *HostUploader) CreateBuffer(label string, usage BufferUsage, size uint64) (Buffer, error) {
	b := &hostBuffer{
		mu:    &sync.RWMutex{},
		label: label,
		usage: usage,
		data:  make([]byte, AlignSize(size)),
		owner: u,
	}
	u.created.Add(1)
	u.liveBuffers.Add(1)
	u.liveBytes.Add(int64(len(b.data)))
	return b, nil
}

func (u *HostUploader) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	hb, ok := buf.(*hostBuffer)
	if !ok || hb.owner != u {
		return ErrForeignBuffer
	}

	hb.mu.Lock()
	defer hb.mu.Unlock()
	if hb.released {
		return fmt.Errorf("write %q: %w", hb.label, ErrReleased)
	}
	if offset+uint64(len(data)) > uint64(len(hb.data)) {
		return fmt.Errorf("write %d bytes at %d into %q (%d bytes): %w",
			len(data), offset, hb.label, len(hb.data), ErrOutOfRange)
	}
	copy(hb.data[offset:], data)
	u.writes.Add(1)
	u.bytesWritten.Add(int64(len(data)))
	return nil
}

// Contents returns a copy of a host buffer's bytes, or nil for foreign or released buffers.
func (u *HostUploader) Contents(buf Buffer) []byte {
	hb, ok := buf.(*hostBuffer)
	if !ok || hb.owner != u {
		return nil
	}
	hb.mu.RLock()
	defer hb.mu.RUnlock()
	if hb.released {
		return nil
	}
	out := make([]byte, len(hb.data))
	copy(out, hb.data)
	return out
}

// LiveBuffers returns the number of buffers not yet released.
func (u *HostUploader) LiveBuffers() int64 {
	return u.liveBuffers.Load()
}

// LiveBytes returns the bytes held by buffers not yet released.
func (u *HostUploader) LiveBytes() int64 {
	return u.liveBytes.Load()
}

// CreatedBuffers returns how many buffers have been created.
func (u *HostUploader) CreatedBuffers() int64 {
	return u.created.Load()
}

// Writes returns how many successful writes were made.
func (u *HostUploader) Writes() int64 {
	return u.writes.Load()
}

// BytesWritten returns the total bytes copied by successful writes.
func (u *HostUploader) BytesWritten() int64 {
	return u.bytesWritten.Load()
}
