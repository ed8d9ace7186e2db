// Package pool provides reusable byte buffers for streaming file I/O.
package pool

import "sync"

// FixedBufferPool hands out byte slices of a single fixed size. It is used for
// chunked file reads (hashing) and buffered copies, bounding memory use
// regardless of file size while avoiding per-file allocations.
type FixedBufferPool struct {
	size int64
	pool sync.Pool
}

// NewFixedBuffer creates a pool of buffers of exactly 'size' bytes.
func NewFixedBuffer(size int64) *FixedBufferPool {
	return &FixedBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, int(size))
				return &b
			},
		},
	}
}

// Get retrieves a pointer to a byte slice of the pool's fixed size.
func (fp *FixedBufferPool) Get() *[]byte {
	bufPtr := fp.pool.Get().(*[]byte)
	// Always reset len to cap before handing the slice out; a previous user
	// may have sub-sliced it.
	*bufPtr = (*bufPtr)[:cap(*bufPtr)]
	return bufPtr
}

// Put returns the buffer to the pool if it still has the expected capacity.
func (fp *FixedBufferPool) Put(bufPtr *[]byte) {
	if bufPtr == nil || int64(cap(*bufPtr)) != fp.size {
		return
	}
	fp.pool.Put(bufPtr)
}

// Size returns the fixed buffer size in bytes.
func (fp *FixedBufferPool) Size() int64 {
	return fp.size
}
