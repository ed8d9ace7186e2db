// Package lockfile guards a replica directory against concurrent mirror
// processes. The lock is a JSON file holding owner identity plus a heartbeat
// timestamp; a lock whose heartbeat has gone quiet is considered stale and
// may be taken over atomically.
package lockfile

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/replisync/replisync/pkg/plog"
	"github.com/replisync/replisync/pkg/util"
)

// LockFileName is created inside the replica directory. The '~' prefix marks
// it as transient.
const LockFileName = ".~replisync.lock"

// ownerInfo is the JSON payload written to the lock file.
type ownerInfo struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	LastUpdate time.Time `json:"lastUpdate"`
	Nonce      string    `json:"nonce,omitempty"`
}

// ErrLockActive reports a lock held by a live process.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("replica is locked by PID %d on host '%s', last updated %s ago",
		e.PID, e.Hostname, e.TimeSince.Truncate(time.Second))
}

var (
	// ErrLostRace means another process won a stale lock takeover.
	ErrLostRace = errors.New("lost race during stale lock takeover")
	// errCorrupt marks a lock file that is empty or not valid JSON.
	errCorrupt = errors.New("lock file is corrupt or empty")
)

// Vars so tests can shrink the timing.
var (
	heartbeatInterval = 1 * time.Minute
	staleTimeout      = 3 * heartbeatInterval
)

// Lock is a held replica lock. Release it when the mirror loop exits.
type Lock struct {
	path   string
	owner  ownerInfo
	cancel context.CancelFunc
	mu     sync.Mutex
	held   bool
}

// Acquire locks the replica directory. It returns *ErrLockActive when a live
// process holds the lock, takes over stale or corrupt locks, and starts a
// background heartbeat on success.
func Acquire(ctx context.Context, replicaDir string) (*Lock, error) {
	lockPath := filepath.Join(replicaDir, LockFileName)

	const maxAttempts = 3
	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock, err := tryCreate(lockPath)
		if err == nil {
			return lock.start(), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}

		owner, readErr := readOwner(lockPath)
		switch {
		case errors.Is(readErr, errCorrupt):
			plog.Warn("Found corrupt lock file, treating as stale", "path", lockPath)
		case readErr != nil:
			time.Sleep(100 * time.Millisecond)
			continue
		default:
			elapsed := time.Since(owner.LastUpdate)
			if elapsed < staleTimeout {
				return nil, &ErrLockActive{PID: owner.PID, Hostname: owner.Hostname, TimeSince: elapsed}
			}
			plog.Warn("Found stale lock, attempting takeover", "pid", owner.PID, "age", elapsed)
		}

		lock, err = takeOver(lockPath)
		if err != nil {
			plog.Debug("Lock takeover failed, retrying", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		return lock.start(), nil
	}
	return nil, fmt.Errorf("failed to acquire lock after %d attempts (contention)", maxAttempts)
}

// Release stops the heartbeat and removes the lock file. Safe to call twice.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.cancel()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
	}
	l.held = false
}

func (l *Lock) start() *Lock {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.heartbeat(ctx)
	return l
}

func (l *Lock) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.owner.LastUpdate = time.Now().UTC()
			if err := writeOwnerAtomic(l.path, l.owner); err != nil {
				plog.Warn("Heartbeat failed to update lock file", "error", err)
			}
		}
	}
}

func newOwner() (ownerInfo, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return ownerInfo{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	hostname, err := os.Hostname()
	if err != nil {
		return ownerInfo{}, err
	}
	return ownerInfo{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		LastUpdate: time.Now().UTC(),
		Nonce:      fmt.Sprintf("%x", nonce),
	}, nil
}

// tryCreate attempts atomic creation with O_EXCL, succeeding only if no lock
// file exists yet.
func tryCreate(lockPath string) (*Lock, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	owner, err := newOwner()
	if err != nil {
		os.Remove(lockPath)
		return nil, err
	}
	data, err := json.MarshalIndent(owner, "", "  ")
	if err != nil {
		os.Remove(lockPath)
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock content: %w", err)
	}
	return &Lock{path: lockPath, owner: owner, held: true}, nil
}

// takeOver replaces a stale lock via atomic rename and reads the file back:
// finding our own nonce means we won any concurrent takeover race.
func takeOver(lockPath string) (*Lock, error) {
	owner, err := newOwner()
	if err != nil {
		return nil, err
	}
	if err := writeOwnerAtomic(lockPath, owner); err != nil {
		return nil, err
	}
	current, err := readOwner(lockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read back lock file after takeover: %w", err)
	}
	if current.PID != owner.PID || current.Nonce != owner.Nonce {
		return nil, ErrLostRace
	}
	return &Lock{path: lockPath, owner: owner, held: true}, nil
}

// writeOwnerAtomic writes the payload to a sibling temp file and renames it
// into place, so the lock file on disk is never partially written.
func writeOwnerAtomic(lockPath string, owner ownerInfo) error {
	data, err := json.MarshalIndent(owner, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(lockPath), filepath.Base(lockPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, lockPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file to lock file: %w", err)
	}
	return nil
}

// readOwner reads and decodes the lock file, retrying briefly to ride out a
// concurrent writer.
func readOwner(lockPath string) (ownerInfo, error) {
	var decodeErr error
	for i := 0; i < 3; i++ {
		data, err := os.ReadFile(lockPath)
		if err != nil {
			return ownerInfo{}, err
		}
		if len(data) > 0 {
			var owner ownerInfo
			if decodeErr = json.Unmarshal(data, &owner); decodeErr == nil {
				return owner, nil
			}
		} else {
			decodeErr = errors.New("empty file")
		}
		time.Sleep(50 * time.Millisecond)
	}
	return ownerInfo{}, fmt.Errorf("%w: %v", errCorrupt, decodeErr)
}
