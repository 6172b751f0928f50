package paths

import (
	"path/filepath"
	"strings"
)

// SnapshotPatterns are the relative-path globs a backup directory is
// scanned with.
var SnapshotPatterns = []string{"**/*.json", "**/*.json.gz", "**/*.msgpack"}

// MatchGlob checks if a slash-separated path matches a glob pattern.
// Supports *, ? and ** patterns
func MatchGlob(pattern, path string) bool {
	if strings.Contains(pattern, "**") {
		return matchParts(SplitPath(pattern), SplitPath(path))
	}

	matched, err := filepath.Match(pattern, path)
	if err != nil {
		return false
	}
	return matched
}

// MatchAny reports whether path matches at least one of the patterns.
func MatchAny(patterns []string, path string) bool {
	path = filepath.ToSlash(path)
	for _, p := range patterns {
		if MatchGlob(p, path) {
			return true
		}
	}
	return false
}

func matchParts(patternParts, pathParts []string) bool {
	if len(patternParts) == 0 {
		return len(pathParts) == 0
	}

	if len(pathParts) == 0 {
		for _, p := range patternParts {
			if p != "**" {
				return false
			}
		}
		return true
	}

	pattern := patternParts[0]
	if pattern == "**" {
		// zero or more segments
		return matchParts(patternParts[1:], pathParts) ||
			matchParts(patternParts, pathParts[1:])
	}

	matched, err := filepath.Match(pattern, pathParts[0])
	if err != nil || !matched {
		return false
	}

	return matchParts(patternParts[1:], pathParts[1:])
}

// SplitPath splits a slash-separated path into segments
func SplitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
