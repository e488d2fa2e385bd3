// Package util holds small helpers shared by the ingest packages.
package util

import (
	"path/filepath"
	"strings"
)

// MatchesGitignore reports whether pathToMatchRel (relative to walkerBaseAbsPath)
// matches a gitignore-style pattern defined in patternBaseAbsPath.
//
// A pattern matches a path when it matches the path itself or any of its parent
// directories. Patterns without a slash match at any depth unless rooted; patterns
// containing a slash are anchored to their base. "**" matches zero or more segments.
func MatchesGitignore(pattern, patternBaseAbsPath, walkerBaseAbsPath, pathToMatchRel string, isRooted bool) bool {
	pattern = strings.Trim(filepath.ToSlash(pattern), "/")
	pathToMatchRel = filepath.ToSlash(pathToMatchRel)
	if pattern == "" || pathToMatchRel == "" || pathToMatchRel == "." {
		return false
	}

	pathAbs := filepath.Join(walkerBaseAbsPath, filepath.FromSlash(pathToMatchRel))
	relToPatternBase, err := filepath.Rel(patternBaseAbsPath, pathAbs)
	if err != nil {
		return false
	}
	relToPatternBase = filepath.ToSlash(relToPatternBase)
	if relToPatternBase == ".." || strings.HasPrefix(relToPatternBase, "../") {
		return false
	}

	patternSegs := strings.Split(pattern, "/")
	if !isRooted && len(patternSegs) == 1 {
		patternSegs = append([]string{"**"}, patternSegs...)
	}
	pathSegs := strings.Split(relToPatternBase, "/")
	for end := 1; end <= len(pathSegs); end++ {
		if matchSegments(patternSegs, pathSegs[:end]) {
			return true
		}
	}
	return false
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		for i := 0; i <= len(path); i++ {
			if matchSegments(pattern[1:], path[i:]) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	if ok, _ := filepath.Match(pattern[0], path[0]); !ok {
		return false
	}
	return matchSegments(pattern[1:], path[1:])
}
