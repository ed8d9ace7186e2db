// Package pathapply executes a diff plan against the replica. Plan order is
// honored for everything except file copies, which run on a bounded worker
// pool; one event is emitted per operation and individual failures never
// abort the pass.
package pathapply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/replisync/replisync/pkg/event"
	"github.com/replisync/replisync/pkg/pathdiff"
	"github.com/replisync/replisync/pkg/pool"
	"github.com/replisync/replisync/pkg/sharded"
	"github.com/replisync/replisync/pkg/util"
)

// dirCacheShards sizes the known-directories cache. Must be a power of two.
const dirCacheShards = 16

const (
	// DefaultCopyWorkers bounds parallel file copies.
	DefaultCopyWorkers = 4
	// DefaultBufferSizeKB is the copy buffer size per worker.
	DefaultBufferSizeKB = 256
)

// Options tune an Applier. Zero values select the defaults.
type Options struct {
	CopyWorkers  int
	BufferSizeKB int
	DryRun       bool
	Metrics      Metrics
	Sink         event.Sink
}

// Applier executes plans for one source/replica pair.
type Applier struct {
	sourceRoot  string
	replicaRoot string
	copyWorkers int
	bufferPool  *pool.FixedBufferPool
	dryRun      bool
	metrics     Metrics
	sink        event.Sink
	dirFlight   singleflight.Group
	knownDirs   *sharded.Set
}

// New creates an Applier for the given roots.
func New(sourceRoot, replicaRoot string, opts Options) *Applier {
	if opts.CopyWorkers <= 0 {
		opts.CopyWorkers = DefaultCopyWorkers
	}
	if opts.BufferSizeKB <= 0 {
		opts.BufferSizeKB = DefaultBufferSizeKB
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	if opts.Sink == nil {
		opts.Sink = event.SinkFunc(func(event.Event) {})
	}
	return &Applier{
		sourceRoot:  sourceRoot,
		replicaRoot: replicaRoot,
		copyWorkers: opts.CopyWorkers,
		bufferPool:  pool.NewFixedBuffer(int64(opts.BufferSizeKB) * 1024),
		dryRun:      opts.DryRun,
		metrics:     opts.Metrics,
		sink:        opts.Sink,
		knownDirs:   sharded.NewSet(dirCacheShards),
	}
}

// Apply executes the plan in order. Consecutive copy operations run in
// parallel on the worker pool; everything else is sequential because plan
// order carries the parent/child safety guarantees. The only error Apply
// returns is context cancellation.
func (a *Applier) Apply(ctx context.Context, plan []pathdiff.Operation) error {
	// The directory cache only vouches for the current pass; the replica may
	// change between passes.
	a.knownDirs.Clear()
	i := 0
	for i < len(plan) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if plan[i].Kind == pathdiff.OpCopyFile {
			j := i
			for j < len(plan) && plan[j].Kind == pathdiff.OpCopyFile {
				j++
			}
			if err := a.copyBatch(ctx, plan[i:j]); err != nil {
				return err
			}
			i = j
			continue
		}
		a.applySequential(plan[i])
		i++
	}
	return nil
}

func (a *Applier) applySequential(op pathdiff.Operation) {
	abs := util.DenormalizedAbsPath(a.replicaRoot, op.Path)
	switch op.Kind {
	case pathdiff.OpCreateDir:
		a.createDir(op.Path, abs)
	case pathdiff.OpDeleteFile:
		a.delete(event.ActionDeleteFile, op.Path, abs)
	case pathdiff.OpDeleteDir:
		a.delete(event.ActionDeleteDir, op.Path, abs)
	}
}

func (a *Applier) createDir(relKey, abs string) {
	if a.dryRun {
		a.sink.Emit(event.Success(event.ActionCreateDir, relKey))
		a.metrics.AddDirsCreated(1)
		return
	}
	if err := os.MkdirAll(abs, util.UserWritableDirPerms); err != nil {
		a.sink.Emit(event.Failed(event.ActionCreateDir, relKey, err))
		a.metrics.AddFailures(1)
		return
	}
	a.knownDirs.Store(abs)
	a.sink.Emit(event.Success(event.ActionCreateDir, relKey))
	a.metrics.AddDirsCreated(1)
}

func (a *Applier) delete(action event.Action, relKey, abs string) {
	if a.dryRun {
		a.sink.Emit(event.Success(action, relKey))
		a.countDelete(action)
		return
	}
	// Already absent counts as success: the goal state is "gone" and a
	// repeated pass must be a no-op.
	if err := a.remove(abs); err != nil {
		a.sink.Emit(event.Failed(action, relKey, err))
		a.metrics.AddFailures(1)
		return
	}
	a.sink.Emit(event.Success(action, relKey))
	a.countDelete(action)
}

func (a *Applier) countDelete(action event.Action) {
	if action == event.ActionDeleteDir {
		a.metrics.AddDirsDeleted(1)
	} else {
		a.metrics.AddFilesDeleted(1)
	}
}

// remove deletes one path. A read-only parent directory gets its user-write
// bit restored and the delete retried, matching the copy path which never
// writes a directory the process cannot modify later.
func (a *Applier) remove(abs string) error {
	err := os.Remove(abs)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if !errors.Is(err, fs.ErrPermission) {
		return err
	}
	parent := filepath.Dir(abs)
	info, statErr := os.Stat(parent)
	if statErr != nil {
		return err
	}
	if chmodErr := os.Chmod(parent, util.WithUserWritePermission(info.Mode().Perm())); chmodErr != nil {
		return err
	}
	if retryErr := os.Remove(abs); retryErr != nil && !errors.Is(retryErr, fs.ErrNotExist) {
		return retryErr
	}
	return nil
}

func (a *Applier) copyBatch(ctx context.Context, ops []pathdiff.Operation) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.copyWorkers)
	for _, op := range ops {
		op := op
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a.copyOne(op.Path)
			return nil
		})
	}
	return g.Wait()
}

func (a *Applier) copyOne(relKey string) {
	if a.dryRun {
		a.sink.Emit(event.Success(event.ActionCopyFile, relKey))
		a.metrics.AddFilesCopied(1)
		return
	}
	srcAbs := util.DenormalizedAbsPath(a.sourceRoot, relKey)
	dstAbs := util.DenormalizedAbsPath(a.replicaRoot, relKey)
	written, err := a.copyFileSafe(srcAbs, dstAbs)
	if err != nil {
		a.sink.Emit(event.Failed(event.ActionCopyFile, relKey, err))
		a.metrics.AddFailures(1)
		return
	}
	a.sink.Emit(event.Success(event.ActionCopyFile, relKey))
	a.metrics.AddFilesCopied(1)
	a.metrics.AddBytesCopied(written)
}

// ensureParentDir creates the destination's parent if needed. Directories
// already handled this pass are skipped via the cache, and concurrent copies
// into the same directory collapse to a single MkdirAll.
func (a *Applier) ensureParentDir(dstAbs string) error {
	parent := filepath.Dir(dstAbs)
	if a.knownDirs.Has(parent) {
		return nil
	}
	_, err, _ := a.dirFlight.Do(parent, func() (any, error) {
		if a.knownDirs.Has(parent) {
			return nil, nil
		}
		if err := os.MkdirAll(parent, util.UserWritableDirPerms); err != nil {
			return nil, err
		}
		a.knownDirs.Store(parent)
		return nil, nil
	})
	return err
}

// copyFileSafe copies src to dst through a temp file in the destination
// directory, then renames it into place so readers of the replica never see
// a half-written file. The source mode is preserved with the user-write bit
// forced on, and the source mtime is carried over.
func (a *Applier) copyFileSafe(srcAbs, dstAbs string) (int64, error) {
	src, err := os.Open(srcAbs)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat source file: %w", err)
	}

	if err := a.ensureParentDir(dstAbs); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dstAbs), ".replisync-tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	bufPtr := a.bufferPool.Get()
	written, err := io.CopyBuffer(tmp, src, *bufPtr)
	a.bufferPool.Put(bufPtr)
	if err != nil {
		return 0, fmt.Errorf("failed to copy file data: %w", err)
	}

	if err := tmp.Chmod(util.WithUserWritePermission(srcInfo.Mode().Perm())); err != nil {
		return 0, fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize temp file: %w", err)
	}
	if err := os.Chtimes(tmpName, time.Now(), srcInfo.ModTime()); err != nil {
		return 0, fmt.Errorf("failed to set file times: %w", err)
	}

	if err := os.Rename(tmpName, dstAbs); err != nil {
		// A leftover read-only destination can block the rename on some
		// platforms. Clear it and try once more.
		if removeErr := a.remove(dstAbs); removeErr != nil {
			return 0, fmt.Errorf("failed to replace destination: %w", err)
		}
		if err := os.Rename(tmpName, dstAbs); err != nil {
			return 0, fmt.Errorf("failed to move file into place: %w", err)
		}
	}
	committed = true
	return written, nil
}
