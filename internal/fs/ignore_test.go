package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewIgnoreMatcher(t *testing.T) {
	t.Run("skips blank lines and comments", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"", "  ", "# comment", "*.log"})
		if len(m.patterns) != 1 {
			t.Fatalf("expected 1 pattern, got %d", len(m.patterns))
		}
		if m.patterns[0].pattern != "*.log" {
			t.Errorf("expected *.log, got %s", m.patterns[0].pattern)
		}
	})

	t.Run("classifies pattern kinds", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"*.log", "build/output", "node_modules/"})
		if m.patterns[0].anchored || m.patterns[0].segment {
			t.Error("*.log should be a basename pattern")
		}
		if !m.patterns[1].anchored {
			t.Error("build/output should be anchored")
		}
		if !m.patterns[2].segment || m.patterns[2].pattern != "node_modules" {
			t.Errorf("node_modules/ should be a segment pattern, got %+v", m.patterns[2])
		}
	})
}

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name         string
		patterns     []string
		relativePath string
		want         bool
	}{
		{"basename glob in root", []string{"*.log"}, "app.log", true},
		{"basename glob in subdirectory", []string{"*.log"}, filepath.Join("sub", "app.log"), true},
		{"basename glob other extension", []string{"*.log"}, "app.txt", false},
		{"exact basename in subdirectory", []string{".DS_Store"}, filepath.Join("sub", ".DS_Store"), true},
		{"anchored exact path", []string{"build/output"}, filepath.Join("build", "output"), true},
		{"anchored wrong path", []string{"build/output"}, filepath.Join("src", "output"), false},
		{"anchored glob", []string{"build/*.o"}, filepath.Join("build", "main.o"), true},
		{"segment matches nested dir", []string{"node_modules/"}, filepath.Join("web", "node_modules", "x.js"), true},
		{"segment matches dir itself", []string{"node_modules/"}, "node_modules", true},
		{"segment does not match prefix", []string{"node_modules/"}, filepath.Join("node_modules2", "x.js"), false},
		{"question mark wildcard", []string{"?.txt"}, "a.txt", true},
		{"question mark single char only", []string{"?.txt"}, "ab.txt", false},
		{"character class", []string{"*.[oa]"}, "main.o", true},
		{"no patterns", nil, "anything.txt", false},
		{"empty path", []string{"*.log"}, "", false},
		{"second pattern matches", []string{"*.log", "*.tmp"}, "data.tmp", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewIgnoreMatcher(tt.patterns)
			if got := m.Match(tt.relativePath); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.relativePath, got, tt.want)
			}
		})
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("reads raw lines", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), IgnoreFileName)
		content := "*.log\n# comment\n\n*.tmp\nbuild/output\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("writing test file: %v", err)
		}

		patterns, err := ParseIgnoreFile(path)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if len(patterns) != 5 {
			t.Fatalf("expected 5 raw lines, got %d", len(patterns))
		}
		if m := NewIgnoreMatcher(patterns); len(m.patterns) != 3 {
			t.Errorf("expected 3 parsed patterns, got %d", len(m.patterns))
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		patterns, err := ParseIgnoreFile(filepath.Join(t.TempDir(), IgnoreFileName))
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if patterns != nil {
			t.Errorf("expected nil patterns, got %v", patterns)
		}
	})
}

func TestLoadIgnoreMatcher(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, IgnoreFileName), []byte("*.tmp\n"), 0644); err != nil {
		t.Fatalf("writing ignore file: %v", err)
	}

	m, err := LoadIgnoreMatcher(dir, []string{"*.log"})
	if err != nil {
		t.Fatalf("LoadIgnoreMatcher() error = %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{IgnoreFileName, true},
		{"sub/" + IgnoreFileName, true},
		{"build.log", true},
		{"cache.tmp", true},
		{".tgfs-123", true},
		{"report.pdf", false},
	}
	for _, tt := range tests {
		if got := m.Match(tt.path); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
