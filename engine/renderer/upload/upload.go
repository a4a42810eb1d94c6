// package upload defines the GPU upload collaborator used by double-buffered meshes: create a
// buffer of a given size and write bytes into it. Implementations must complete or fail a
// single write atomically with respect to that buffer.
package upload

import (
	"errors"
)

// BufferUsage describes how a GPU buffer is bound.
type BufferUsage uint32

const (
	// UsageVertex marks a vertex stream.
	UsageVertex BufferUsage = 1 << iota
	// UsageIndex marks an index buffer.
	UsageIndex
	// UsageStorage allows compute shaders to read and write the buffer.
	UsageStorage
	// UsageCopyDst allows the buffer to be the target of uploads.
	UsageCopyDst
	// UsageUniform marks uniform data.
	UsageUniform
)

var (
	// ErrOutOfRange is returned when a write does not fit in the target buffer.
	ErrOutOfRange = errors.New("upload: write out of range")
	// ErrReleased is returned when writing to a released buffer.
	ErrReleased = errors.New("upload: buffer released")
	// ErrForeignBuffer is returned when a buffer is passed to an uploader that did not create it.
	ErrForeignBuffer = errors.New("upload: buffer not created by this uploader")
)

// Buffer is a GPU-side resource created by an Uploader.
type Buffer interface {
	// Label returns the debug label the buffer was created with.
	Label() string
	// Size returns the buffer size in bytes.
	Size() uint64
	// Usage returns the usage flags the buffer was created with.
	Usage() BufferUsage
	// Release frees the GPU resource. Further writes fail with ErrReleased.
	Release()
}

// Uploader creates GPU buffers and writes bytes into them.
type Uploader interface {
	// CreateBuffer allocates a GPU buffer.
	//
	// Parameters:
	//   - label: debug label
	//   - usage: binding flags
	//   - size: size in bytes
	//
	// Returns:
	//   - Buffer: the new buffer
	//   - error: error if the backend could not allocate it
	CreateBuffer(label string, usage BufferUsage, size uint64) (Buffer, error)

	// WriteBuffer copies data into buf at offset.
	//
	// Parameters:
	//   - buf: a buffer created by this uploader
	//   - offset: byte offset into buf
	//   - data: bytes to write
	//
	// Returns:
	//   - error: ErrOutOfRange, ErrReleased, ErrForeignBuffer or a backend error
	WriteBuffer(buf Buffer, offset uint64, data []byte) error
}

// AlignSize rounds size up to the 4-byte multiple GPU copies require.
func AlignSize(size uint64) uint64 {
	return (size + 3) &^ 3
}
