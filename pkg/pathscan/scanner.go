package pathscan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/replisync/replisync/pkg/event"
	"github.com/replisync/replisync/pkg/hasher"
	"github.com/replisync/replisync/pkg/plog"
	"github.com/replisync/replisync/pkg/sharded"
)

const inventoryShards = 32

var (
	errSymlinkCycle   = errors.New("symlink cycle")
	errIrregularEntry = errors.New("unsupported file type")
)

// Scanner builds inventories. One Scanner can be reused across passes and
// roots; Scan itself runs a pool of digest workers fed by a single tree walk.
type Scanner struct {
	hasher      *hasher.Hasher
	hashWorkers int
	sink        event.Sink
}

// NewScanner creates a scanner. bufferSizeKB sizes the pooled hash read
// buffers, hashWorkers bounds digest concurrency (0 means NumCPU). Skipped
// entries are reported through sink.
func NewScanner(bufferSizeKB, hashWorkers int, sink event.Sink) *Scanner {
	if hashWorkers <= 0 {
		hashWorkers = runtime.NumCPU()
	}
	if sink == nil {
		sink = event.SinkFunc(func(event.Event) {})
	}
	return &Scanner{
		hasher:      hasher.New(bufferSizeKB),
		hashWorkers: hashWorkers,
		sink:        sink,
	}
}

type hashJob struct {
	relKey  string
	absPath string
	size    int64
}

// Scan walks root and returns its inventory. Symlinks are followed and
// recorded as their targets; cycles, broken links, irregular entries and
// unreadable subtrees are skipped with a warning so one bad entry never
// aborts the pass. A missing root returns an error wrapping fs.ErrNotExist;
// a root that is not a directory returns one wrapping ErrNotDirectory.
func (s *Scanner) Scan(ctx context.Context, root string, fileExcl, dirExcl ExclusionSet) (Inventory, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root %q: %w", root, ErrNotDirectory)
	}
	rootReal, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolving scan root %q: %w", root, err)
	}

	found := sharded.NewMap[Entry](inventoryShards)
	jobs := make(chan hashJob, 4*s.hashWorkers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.hashWorkers; i++ {
		g.Go(func() error {
			for job := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				digest, err := s.hasher.Digest(job.absPath)
				if err != nil {
					// Record the entry under a path-derived sentinel instead
					// of dropping it: a stale replica copy is repaired rather
					// than silently deleted, and an unreadable source/replica
					// pair never compares as equal content.
					digest = hasher.PathSentinel(job.absPath)
					s.sink.Emit(event.Skip(job.relKey, fmt.Errorf("hashing: %w", err)))
				}
				found.Store(job.relKey, Entry{Kind: KindFile, Size: job.size, Digest: digest})
			}
			return nil
		})
	}

	w := &walker{
		scanner:  s,
		fileExcl: fileExcl,
		dirExcl:  dirExcl,
		found:    found,
		jobs:     jobs,
	}
	walkErr := w.walk(gctx, root, rootReal, ".", []string{rootReal})
	close(jobs)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, walkErr
	}

	inv := make(Inventory, found.Count())
	found.Range(func(key string, value Entry) bool {
		inv[key] = value
		return true
	})
	return inv, nil
}

type walker struct {
	scanner  *Scanner
	fileExcl ExclusionSet
	dirExcl  ExclusionSet
	found    *sharded.Map[Entry]
	jobs     chan<- hashJob
}

// walk descends into absDir. realDir is absDir with all symlinks resolved
// and stack holds the resolved paths of every directory on the current
// descent, which is what makes cycle detection possible.
func (w *walker) walk(ctx context.Context, absDir, realDir, relKey string, stack []string) error {
	dirEntries, err := os.ReadDir(absDir)
	if err != nil {
		if relKey == "." {
			return fmt.Errorf("reading scan root %q: %w", absDir, err)
		}
		w.scanner.sink.Emit(event.Skip(relKey, fmt.Errorf("reading directory: %w", err)))
		return nil
	}

	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := de.Name()
		childRel := name
		if relKey != "." {
			childRel = relKey + "/" + name
		}
		childAbs := filepath.Join(absDir, name)

		isDir := de.IsDir()
		isRegular := de.Type().IsRegular()
		childReal := filepath.Join(realDir, name)
		var size int64
		sized := false

		if de.Type()&fs.ModeSymlink != 0 {
			// Follow the link and classify the entry by its target.
			ti, err := os.Stat(childAbs)
			if err != nil {
				w.scanner.sink.Emit(event.Skip(childRel, fmt.Errorf("broken symlink: %w", err)))
				continue
			}
			isDir = ti.IsDir()
			isRegular = ti.Mode().IsRegular()
			size = ti.Size()
			sized = true
			if isDir {
				childReal, err = filepath.EvalSymlinks(childAbs)
				if err != nil {
					w.scanner.sink.Emit(event.Skip(childRel, fmt.Errorf("resolving symlink: %w", err)))
					continue
				}
			}
		}

		switch {
		case isDir:
			if w.dirExcl.Matches(childRel, name) {
				plog.Debug("Excluding directory", "path", childRel)
				continue
			}
			if slices.Contains(stack, childReal) {
				w.scanner.sink.Emit(event.Skip(childRel, errSymlinkCycle))
				continue
			}
			w.found.Store(childRel, Entry{Kind: KindDir})
			if err := w.walk(ctx, childAbs, childReal, childRel, append(stack, childReal)); err != nil {
				return err
			}

		case isRegular:
			if w.fileExcl.Matches(childRel, name) {
				plog.Debug("Excluding file", "path", childRel)
				continue
			}
			if !sized {
				fi, err := de.Info()
				if err != nil {
					w.scanner.sink.Emit(event.Skip(childRel, fmt.Errorf("reading entry: %w", err)))
					continue
				}
				size = fi.Size()
			}
			select {
			case w.jobs <- hashJob{relKey: childRel, absPath: childAbs, size: size}:
			case <-ctx.Done():
				return ctx.Err()
			}

		default:
			w.scanner.sink.Emit(event.Skip(childRel, errIrregularEntry))
		}
	}
	return nil
}
