package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-directory ignore file read by `put -r`.
const IgnoreFileName = ".tgfsignore"

// defaultIgnorePatterns are always applied regardless of config or the ignore file.
var defaultIgnorePatterns = []string{IgnoreFileName, ".tgfs-*"}

type ignorePattern struct {
	pattern string
	// anchored patterns contain a '/' and match the whole relative path.
	anchored bool
	// segment patterns end in '/' and match any directory on the path.
	segment bool
}

// IgnoreMatcher decides which local files `put -r` skips.
//
// A pattern without '/' matches the basename, one with an inner '/' matches
// the full relative path, and one ending in '/' matches any directory
// segment of the path.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher parses raw pattern lines. Blank lines and '#' comments
// are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		p := ignorePattern{pattern: raw}
		if strings.HasSuffix(raw, "/") {
			p.pattern = strings.TrimSuffix(raw, "/")
			p.segment = true
		} else {
			p.anchored = strings.Contains(raw, "/")
		}
		m.patterns = append(m.patterns, p)
	}
	return m
}

// Match reports whether relativePath should be ignored.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	normalized := filepath.ToSlash(relativePath)
	segments := strings.Split(normalized, "/")
	basename := segments[len(segments)-1]

	for _, p := range m.patterns {
		switch {
		case p.segment:
			for _, seg := range segments {
				if ok, _ := filepath.Match(p.pattern, seg); ok {
					return true
				}
			}
		case p.anchored:
			if ok, _ := filepath.Match(p.pattern, normalized); ok {
				return true
			}
		default:
			if ok, _ := filepath.Match(p.pattern, basename); ok {
				return true
			}
		}
	}
	return false
}

// ParseIgnoreFile reads an ignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}

// LoadIgnoreMatcher combines the default patterns, the configured patterns
// and the ignore file found in dir.
func LoadIgnoreMatcher(dir string, configured []string) (*IgnoreMatcher, error) {
	fromFile, err := ParseIgnoreFile(filepath.Join(dir, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	patterns := append([]string{}, defaultIgnorePatterns...)
	patterns = append(patterns, configured...)
	patterns = append(patterns, fromFile...)
	return NewIgnoreMatcher(patterns), nil
}
