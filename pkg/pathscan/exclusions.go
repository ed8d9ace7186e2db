package pathscan

import (
	"path"
	"strings"

	"github.com/replisync/replisync/pkg/plog"
	"github.com/replisync/replisync/pkg/util"
)

// ExclusionSet holds compiled exclusion patterns, bucketed by match strategy
// so the common cases stay O(1) map lookups on the hot scan path.
type ExclusionSet struct {
	names    map[string]struct{} // bare names, matched against the base name
	relPaths map[string]struct{} // slash patterns, matched against the rel key
	prefixes []string            // slash patterns with trailing "/", subtree match
	globs    []glob              // patterns containing metacharacters
}

type glob struct {
	pattern  string
	baseOnly bool
}

// CompileExclusions normalizes raw patterns into an ExclusionSet. Patterns
// without a slash match any entry of that base name anywhere in the tree;
// patterns with a slash match the whole normalized relative path; a trailing
// slash excludes the entire subtree. Patterns may use path.Match wildcards.
// Invalid or empty patterns are dropped with a warning.
func CompileExclusions(patterns []string) ExclusionSet {
	set := ExclusionSet{
		names:    make(map[string]struct{}),
		relPaths: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		p := util.NormalizePath(strings.TrimSpace(raw))
		p = strings.TrimPrefix(p, "./")
		if p == "" || p == "." || p == "/" {
			continue
		}
		subtree := strings.HasSuffix(p, "/")
		p = strings.TrimSuffix(p, "/")
		switch {
		case strings.ContainsAny(p, "*?["):
			if _, err := path.Match(p, ""); err != nil {
				plog.Warn("Ignoring invalid exclusion pattern", "pattern", raw, "error", err)
				continue
			}
			set.globs = append(set.globs, glob{pattern: p, baseOnly: !strings.Contains(p, "/")})
		case subtree:
			set.prefixes = append(set.prefixes, p+"/")
			set.relPaths[p] = struct{}{}
		case strings.Contains(p, "/"):
			set.relPaths[p] = struct{}{}
		default:
			set.names[p] = struct{}{}
		}
	}
	return set
}

// Matches reports whether the entry at relKey is excluded. baseName must be
// the final path segment of relKey.
func (s ExclusionSet) Matches(relKey, baseName string) bool {
	if _, ok := s.names[baseName]; ok {
		return true
	}
	if _, ok := s.relPaths[relKey]; ok {
		return true
	}
	for _, prefix := range s.prefixes {
		if strings.HasPrefix(relKey, prefix) {
			return true
		}
	}
	for _, g := range s.globs {
		target := relKey
		if g.baseOnly {
			target = baseName
		}
		if ok, _ := path.Match(g.pattern, target); ok {
			return true
		}
	}
	return false
}

// Empty reports whether the set contains no patterns at all.
func (s ExclusionSet) Empty() bool {
	return len(s.names) == 0 && len(s.relPaths) == 0 && len(s.prefixes) == 0 && len(s.globs) == 0
}
