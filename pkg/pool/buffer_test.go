package pool

import "testing"

func TestFixedBufferPool(t *testing.T) {
	fp := NewFixedBuffer(1024)

	bufPtr := fp.Get()
	if len(*bufPtr) != 1024 {
		t.Fatalf("expected buffer of len 1024, got %d", len(*bufPtr))
	}

	// Sub-slice and return; the next Get must hand out a full-length buffer.
	*bufPtr = (*bufPtr)[:10]
	fp.Put(bufPtr)

	bufPtr2 := fp.Get()
	if len(*bufPtr2) != 1024 {
		t.Errorf("expected reset buffer of len 1024, got %d", len(*bufPtr2))
	}
	fp.Put(bufPtr2)
}

func TestFixedBufferPoolRejectsForeignBuffers(t *testing.T) {
	fp := NewFixedBuffer(64)

	foreign := make([]byte, 32)
	fp.Put(&foreign) // must be silently dropped
	fp.Put(nil)

	bufPtr := fp.Get()
	if cap(*bufPtr) != 64 {
		t.Errorf("pool handed out a foreign buffer of cap %d", cap(*bufPtr))
	}
}
