// Package pathdiff computes the ordered operation plan that turns a replica
// inventory into the source inventory. It is pure: no filesystem access, no
// side effects, identical inputs always yield the identical plan.
package pathdiff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/replisync/replisync/pkg/pathscan"
	"github.com/replisync/replisync/pkg/util"
)

// OpKind identifies one of the four plan operations.
type OpKind int

const (
	OpCreateDir OpKind = iota
	OpCopyFile
	OpDeleteFile
	OpDeleteDir
)

var opNames = map[OpKind]string{
	OpCreateDir:  "create_dir",
	OpCopyFile:   "copy_file",
	OpDeleteFile: "delete_file",
	OpDeleteDir:  "delete_dir",
}

func (k OpKind) String() string {
	if name, ok := opNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown_op(%d)", int(k))
}

// Operation is one planned action, addressed by normalized relative path key.
type Operation struct {
	Kind OpKind
	Path string
}

func (o Operation) String() string {
	return o.Kind.String() + " " + o.Path
}

// Diff plans the pass. The plan comes out in four phases whose order is a
// safety invariant:
//
//  1. blocking deletes: replica entries whose kind conflicts with the
//     source, children before parents, so replacements find the path free
//  2. directory creates, parents before children
//  3. file copies
//  4. stale deletes: replica-only entries, files first, children before parents
//
// Identical trees produce an empty plan.
func Diff(source, replica pathscan.Inventory) []Operation {
	var blockFiles, blockDirs []string

	// A replica directory losing to a source file drags its whole replica
	// subtree into the blocking phase.
	doomedDirs := make(map[string]struct{})
	for key, r := range replica {
		s, ok := source[key]
		if !ok || s.Kind == r.Kind {
			continue
		}
		if r.Kind == pathscan.KindFile {
			blockFiles = append(blockFiles, key)
		} else {
			doomedDirs[key] = struct{}{}
			blockDirs = append(blockDirs, key)
		}
	}
	beneathDoomed := func(key string) bool {
		for dir := range doomedDirs {
			if strings.HasPrefix(key, dir+"/") {
				return true
			}
		}
		return false
	}
	for key, r := range replica {
		if _, doomed := doomedDirs[key]; doomed || !beneathDoomed(key) {
			continue
		}
		if r.Kind == pathscan.KindFile {
			blockFiles = append(blockFiles, key)
		} else {
			blockDirs = append(blockDirs, key)
		}
	}

	var createDirs, copyFiles []string
	for key, s := range source {
		r, present := replica[key]
		switch s.Kind {
		case pathscan.KindDir:
			if !present || r.Kind != pathscan.KindDir {
				createDirs = append(createDirs, key)
			}
		case pathscan.KindFile:
			if !present || r.Kind != pathscan.KindFile || r.Digest != s.Digest {
				copyFiles = append(copyFiles, key)
			}
		}
	}

	var staleFiles, staleDirs []string
	for key, r := range replica {
		if _, ok := source[key]; ok {
			continue
		}
		if beneathDoomed(key) {
			continue
		}
		if r.Kind == pathscan.KindFile {
			staleFiles = append(staleFiles, key)
		} else {
			staleDirs = append(staleDirs, key)
		}
	}

	sortDeepFirst(blockFiles)
	sortDeepFirst(blockDirs)
	sort.Strings(createDirs)
	sort.Strings(copyFiles)
	sortDeepFirst(staleFiles)
	sortDeepFirst(staleDirs)

	plan := make([]Operation, 0, len(blockFiles)+len(blockDirs)+len(createDirs)+len(copyFiles)+len(staleFiles)+len(staleDirs))
	appendOps := func(kind OpKind, keys []string) {
		for _, key := range keys {
			plan = append(plan, Operation{Kind: kind, Path: key})
		}
	}
	appendOps(OpDeleteFile, blockFiles)
	appendOps(OpDeleteDir, blockDirs)
	appendOps(OpCreateDir, createDirs)
	appendOps(OpCopyFile, copyFiles)
	appendOps(OpDeleteFile, staleFiles)
	appendOps(OpDeleteDir, staleDirs)
	return plan
}

// sortDeepFirst orders keys so every child precedes its parent, ties broken
// lexically for determinism.
func sortDeepFirst(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		di, dj := util.PathDepth(keys[i]), util.PathDepth(keys[j])
		if di != dj {
			return di > dj
		}
		return keys[i] < keys[j]
	})
}
