// Package pathscan walks a directory tree and produces a normalized
// inventory: relative path key -> kind, size and content digest. Inventories
// are rebuilt from scratch on every pass; nothing is cached between passes.
package pathscan

import (
	"errors"

	"github.com/replisync/replisync/pkg/hasher"
)

// ErrNotDirectory is returned by Scan when the root exists but is not a directory.
var ErrNotDirectory = errors.New("path is not a directory")

// Kind distinguishes the two entry types an inventory tracks.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

func (k Kind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// Entry describes one file or directory reachable from the scan root.
// Size and Digest are only meaningful for files.
type Entry struct {
	Kind   Kind
	Size   int64
	Digest hasher.Digest
}

// Inventory maps normalized relative path keys to their entries. The scan
// root itself is never part of the inventory.
type Inventory map[string]Entry

// Equal reports whether two inventories describe the same tree: same path
// set, same kinds, and same digests for files.
func (inv Inventory) Equal(other Inventory) bool {
	if len(inv) != len(other) {
		return false
	}
	for key, e := range inv {
		o, ok := other[key]
		if !ok || o.Kind != e.Kind {
			return false
		}
		if e.Kind == KindFile && o.Digest != e.Digest {
			return false
		}
	}
	return true
}
