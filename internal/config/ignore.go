package config

import (
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is searched at the repository root; its newline-delimited
// patterns exclude files before scanning.
const IgnoreFileName = ".autopatchignore"

// ReadIgnorePatterns reads ignore patterns from the repository root. Blank
// lines and #-comments are skipped. A missing file yields no patterns.
func ReadIgnorePatterns(repoPath string) ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(repoPath, IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var patterns []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, nil
}

// ShouldIgnore reports whether a file path matches any ignore pattern.
// Supported forms: exact path, directory prefix ("dir/"), bare prefix
// ("src/legacy"), name globs ("*.min.js"), and anchored globs ("src/*.py",
// "**/*.lock").
func ShouldIgnore(path string, patterns []string) bool {
	normalized := filepath.ToSlash(path)
	for _, pattern := range patterns {
		if patternMatches(normalized, filepath.ToSlash(pattern)) {
			return true
		}
	}
	return false
}

func patternMatches(path, pattern string) bool {
	if path == pattern {
		return true
	}

	if strings.HasSuffix(pattern, "/") {
		dir := strings.TrimSuffix(pattern, "/")
		return path == dir || strings.HasPrefix(path, dir+"/")
	}

	if strings.ContainsAny(pattern, "*?") {
		if strings.HasPrefix(pattern, "**/") {
			rest := pattern[3:]
			if ok, _ := filepath.Match(rest, path); ok {
				return true
			}
			if ok, _ := filepath.Match(rest, filepath.Base(path)); ok {
				return true
			}
			return false
		}
		if strings.Contains(pattern, "/") {
			ok, _ := filepath.Match(pattern, path)
			return ok
		}
		ok, _ := filepath.Match(pattern, filepath.Base(path))
		return ok
	}

	// Bare prefix: "src/legacy" matches everything under it.
	if strings.Contains(pattern, "/") {
		return strings.HasPrefix(path, pattern+"/")
	}
	return false
}

// FilterIgnored removes files that match any ignore pattern, preserving the
// input order.
func FilterIgnored(paths []string, patterns []string) []string {
	if len(patterns) == 0 {
		return paths
	}
	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		if !ShouldIgnore(p, patterns) {
			kept = append(kept, p)
		}
	}
	return kept
}
