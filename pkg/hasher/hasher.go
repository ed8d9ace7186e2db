// Package hasher computes file content digests for change detection.
//
// The digest is MD5: this is a cheap equality fingerprint between two local
// trees, never a security boundary. Files are streamed in fixed-size chunks
// through a shared buffer pool so memory use stays constant regardless of
// file size.
package hasher

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"

	"github.com/replisync/replisync/pkg/pool"
)

// DefaultChunkSizeKB is the default read chunk size for digest computation.
const DefaultChunkSizeKB = 64

// Digest is a fixed-length content fingerprint.
type Digest [md5.Size]byte

// String renders the digest as lowercase hex.
func (d Digest) String() string {
	return fmt.Sprintf("%x", d[:])
}

// PathSentinel returns a digest derived from the path itself, for entries
// whose content could not be read. Unreadable counterparts under different
// roots get distinct sentinels, so they never compare as equal content.
func PathSentinel(absPath string) Digest {
	return Digest(md5.Sum([]byte(absPath)))
}

// Hasher computes streamed file digests using pooled read buffers.
type Hasher struct {
	bufferPool *pool.FixedBufferPool
}

// New creates a Hasher reading in chunks of chunkSizeKB kilobytes.
// A non-positive size falls back to DefaultChunkSizeKB.
func New(chunkSizeKB int) *Hasher {
	if chunkSizeKB <= 0 {
		chunkSizeKB = DefaultChunkSizeKB
	}
	return &Hasher{
		bufferPool: pool.NewFixedBuffer(int64(chunkSizeKB) * 1024),
	}
}

// Digest computes the content digest of the file at absPath.
// It fails if the file cannot be opened or read mid-stream.
func (h *Hasher) Digest(absPath string) (Digest, error) {
	var digest Digest

	f, err := os.Open(absPath)
	if err != nil {
		return digest, fmt.Errorf("failed to open file for hashing %s: %w", absPath, err)
	}
	defer f.Close()

	bufPtr := h.bufferPool.Get()
	defer h.bufferPool.Put(bufPtr)

	sum := md5.New()
	if _, err := io.CopyBuffer(sum, f, *bufPtr); err != nil {
		return digest, fmt.Errorf("failed to read file for hashing %s: %w", absPath, err)
	}

	copy(digest[:], sum.Sum(nil))
	return digest, nil
}
