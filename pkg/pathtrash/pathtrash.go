// Package pathtrash archives files the next pass is about to delete. The
// archive is a safety net against a bad source (mass deletion upstream), so
// a trash failure is reported but never blocks the mirror itself.
package pathtrash

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/replisync/replisync/pkg/pathdiff"
	"github.com/replisync/replisync/pkg/plog"
	"github.com/replisync/replisync/pkg/pool"
	"github.com/replisync/replisync/pkg/util"
)

// TrashDirName is the trash directory under the replica root. It must be
// excluded from replica scans so the mirror never deletes its own archives.
const TrashDirName = ".replisync-trash"

// Archiver writes doomed replica files into timestamped archives.
type Archiver struct {
	replicaRoot  string
	format       Format
	ioBufferPool *pool.FixedBufferPool
	ioBufferSize int64
}

// New creates an Archiver for the given replica root.
func New(replicaRoot string, format Format, bufferSizeKB int) *Archiver {
	if bufferSizeKB <= 0 {
		bufferSizeKB = 256
	}
	size := int64(bufferSizeKB) * 1024
	return &Archiver{
		replicaRoot:  replicaRoot,
		format:       format,
		ioBufferPool: pool.NewFixedBuffer(size),
		ioBufferSize: size,
	}
}

// ArchiveDoomed collects every file the plan will delete and writes it into
// one archive under the trash directory, preserving relative paths. It
// returns the archive path, or "" when the plan deletes no files. Files that
// vanished since the scan are skipped.
func (a *Archiver) ArchiveDoomed(ctx context.Context, plan []pathdiff.Operation) (retPath string, retErr error) {
	var doomed []string
	for _, op := range plan {
		if op.Kind == pathdiff.OpDeleteFile {
			doomed = append(doomed, op.Path)
		}
	}
	if len(doomed) == 0 {
		return "", nil
	}

	trashDir := filepath.Join(a.replicaRoot, TrashDirName)
	if err := os.MkdirAll(trashDir, util.UserWritableDirPerms); err != nil {
		return "", fmt.Errorf("failed to create trash directory: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102T150405Z")
	archivePath := filepath.Join(trashDir, fmt.Sprintf("trash-%s.%s", stamp, a.format))

	tmp, err := os.CreateTemp(trashDir, "replisync-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := a.writeArchive(ctx, tmp, doomed); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp archive: %w", err)
	}
	if err := os.Rename(tmpName, archivePath); err != nil {
		return "", fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}
	plog.Notice("TRASH", "archive", archivePath, "files", len(doomed))
	return archivePath, nil
}

func (a *Archiver) writeArchive(ctx context.Context, target io.Writer, doomed []string) (retErr error) {
	bufWriter := bufio.NewWriterSize(target, int(a.ioBufferSize))

	var compressedWriter io.WriteCloser
	if a.format == TarZst {
		zw, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zw
	} else {
		gw, err := pgzip.NewWriterLevel(bufWriter, pgzip.DefaultCompression)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		compressedWriter = gw
	}

	tarWriter := tar.NewWriter(compressedWriter)
	defer func() {
		if err := tarWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := compressedWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	bufPtr := a.ioBufferPool.Get()
	defer a.ioBufferPool.Put(bufPtr)

	for _, relKey := range doomed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.addFile(tarWriter, relKey, *bufPtr); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archiver) addFile(tw *tar.Writer, relKey string, buf []byte) error {
	abs := util.DenormalizedAbsPath(a.replicaRoot, relKey)
	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			plog.Debug("Doomed file vanished before archiving", "path", relKey)
			return nil
		}
		return fmt.Errorf("failed to open doomed file %s: %w", relKey, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat doomed file %s: %w", relKey, err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build tar header for %s: %w", relKey, err)
	}
	hdr.Name = relKey

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", relKey, err)
	}
	if _, err := io.CopyBuffer(tw, f, buf); err != nil {
		return fmt.Errorf("failed to archive %s: %w", relKey, err)
	}
	return nil
}
