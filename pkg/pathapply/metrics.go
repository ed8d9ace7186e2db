package pathapply

import (
	"sync/atomic"
	"time"

	"github.com/replisync/replisync/pkg/plog"
	"github.com/replisync/replisync/pkg/util"
)

// Metrics receives per-pass counters from the applier. Implementations must
// be safe for concurrent use.
type Metrics interface {
	AddDirsCreated(n int64)
	AddFilesCopied(n int64)
	AddBytesCopied(n int64)
	AddFilesDeleted(n int64)
	AddDirsDeleted(n int64)
	AddFailures(n int64)
}

// NoopMetrics discards all counters.
type NoopMetrics struct{}

func (NoopMetrics) AddDirsCreated(int64)  {}
func (NoopMetrics) AddFilesCopied(int64)  {}
func (NoopMetrics) AddBytesCopied(int64)  {}
func (NoopMetrics) AddFilesDeleted(int64) {}
func (NoopMetrics) AddDirsDeleted(int64)  {}
func (NoopMetrics) AddFailures(int64)     {}

// SyncMetrics accumulates pass counters with atomics.
type SyncMetrics struct {
	dirsCreated  atomic.Int64
	filesCopied  atomic.Int64
	bytesCopied  atomic.Int64
	filesDeleted atomic.Int64
	dirsDeleted  atomic.Int64
	failures     atomic.Int64
}

func NewSyncMetrics() *SyncMetrics { return &SyncMetrics{} }

func (m *SyncMetrics) AddDirsCreated(n int64)  { m.dirsCreated.Add(n) }
func (m *SyncMetrics) AddFilesCopied(n int64)  { m.filesCopied.Add(n) }
func (m *SyncMetrics) AddBytesCopied(n int64)  { m.bytesCopied.Add(n) }
func (m *SyncMetrics) AddFilesDeleted(n int64) { m.filesDeleted.Add(n) }
func (m *SyncMetrics) AddDirsDeleted(n int64)  { m.dirsDeleted.Add(n) }
func (m *SyncMetrics) AddFailures(n int64)     { m.failures.Add(n) }

func (m *SyncMetrics) DirsCreated() int64  { return m.dirsCreated.Load() }
func (m *SyncMetrics) FilesCopied() int64  { return m.filesCopied.Load() }
func (m *SyncMetrics) BytesCopied() int64  { return m.bytesCopied.Load() }
func (m *SyncMetrics) FilesDeleted() int64 { return m.filesDeleted.Load() }
func (m *SyncMetrics) DirsDeleted() int64  { return m.dirsDeleted.Load() }
func (m *SyncMetrics) Failures() int64     { return m.failures.Load() }

// Reset zeroes all counters at the start of a pass.
func (m *SyncMetrics) Reset() {
	m.dirsCreated.Store(0)
	m.filesCopied.Store(0)
	m.bytesCopied.Store(0)
	m.filesDeleted.Store(0)
	m.dirsDeleted.Store(0)
	m.failures.Store(0)
}

// Changed reports whether the pass touched the replica at all.
func (m *SyncMetrics) Changed() bool {
	return m.DirsCreated()+m.FilesCopied()+m.FilesDeleted()+m.DirsDeleted() > 0
}

// LogSummary emits the pass summary as one NOTICE line.
func (m *SyncMetrics) LogSummary(elapsed time.Duration) {
	plog.Notice("Pass complete",
		"elapsed", elapsed.Round(time.Millisecond).String(),
		"dirs_created", m.DirsCreated(),
		"files_copied", m.FilesCopied(),
		"bytes_copied", util.ByteCountIEC(m.BytesCopied()),
		"files_deleted", m.FilesDeleted(),
		"dirs_deleted", m.DirsDeleted(),
		"failures", m.Failures(),
	)
}
