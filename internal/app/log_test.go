package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tgfs-go/internal/config"
)

func TestTabHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "file uploaded",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\tfile uploaded\n",
		},
		{
			name:    "warn level",
			opID:    "op-456",
			level:   slog.LevelWarn,
			message: "descriptor moved",
			want:    "2024-06-15T14:30:45Z\tWARN\top-456\tdescriptor moved\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "directory created",
			attrs:   []slog.Attr{slog.String("path", "/d1/d2"), slog.Int("size", 42)},
			want:    "2024-06-15T14:30:45Z\tINFO\top-789\tdirectory created\tpath=/d1/d2\tsize=42\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &tabHandler{sinks: []logSink{{w: &buf, level: slog.LevelDebug}}, opID: tt.opID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			r.AddAttrs(tt.attrs...)

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestTabHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &tabHandler{sinks: []logSink{{w: &buf, level: slog.LevelDebug}}, opID: "op"}
	child := h.WithAttrs([]slog.Attr{slog.String("store", "default")})

	r := slog.NewRecord(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), slog.LevelInfo, "msg", 0)
	r.AddAttrs(slog.Int("n", 1))
	if err := child.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	want := "2024-01-01T00:00:00Z\tINFO\top\tmsg\tstore=default\tn=1\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
	if len(h.attrs) != 0 {
		t.Error("WithAttrs must not modify the parent handler")
	}
}

func TestTabHandler_SinkLevels(t *testing.T) {
	var file, stderr bytes.Buffer
	logger := slog.New(&tabHandler{
		sinks: []logSink{
			{w: &file, level: slog.LevelInfo},
			{w: &stderr, level: slog.LevelWarn},
		},
		opID: "op",
	})

	logger.Debug("dropped")
	logger.Info("file only")
	logger.Warn("both")

	if got := strings.Count(file.String(), "\n"); got != 2 {
		t.Errorf("file got %d lines, want 2:\n%s", got, file.String())
	}
	if strings.Contains(file.String(), "dropped") {
		t.Error("debug record should be filtered")
	}
	if got := stderr.String(); !strings.Contains(got, "both") || strings.Contains(got, "file only") {
		t.Errorf("stderr = %q, want only the warning", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "log")
	var stderr bytes.Buffer

	logger, closer, err := newLogger(logDir, config.LogConfig{Level: "debug", MaxSizeMB: 1}, "op-1", &stderr)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Debug("part uploaded", "part", 0)
	logger.Error("upload failed")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(logDir, LogFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "\tDEBUG\top-1\tpart uploaded\tpart=0") {
		t.Errorf("log file missing debug line:\n%s", data)
	}
	if !strings.Contains(stderr.String(), "upload failed") || strings.Contains(stderr.String(), "part uploaded") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
