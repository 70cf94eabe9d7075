package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"tgfs-go/internal/config"
	"tgfs-go/internal/tgfs"
)

// LogFileName is the rotating log file written under the configured log dir.
const LogFileName = "tgfs.log"

// logSink is one destination with its own minimum level.
type logSink struct {
	w     io.Writer
	level slog.Level
}

// tabHandler is a slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
type tabHandler struct {
	sinks []logSink
	opID  string
	attrs []slog.Attr
}

func (h *tabHandler) Enabled(_ context.Context, level slog.Level) bool {
	for _, s := range h.sinks {
		if level >= s.level {
			return true
		}
	}
	return false
}

func (h *tabHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%s\t%s\t%s", r.Time.UTC().Format("2006-01-02T15:04:05Z"), r.Level, h.opID, r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, "\t%s=%v", a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')

	line := b.String()
	var firstErr error
	for _, s := range h.sinks {
		if r.Level < s.level {
			continue
		}
		if _, err := io.WriteString(s.w, line); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *tabHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &tabHandler{
		sinks: h.sinks,
		opID:  h.opID,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *tabHandler) WithGroup(string) slog.Handler { return h }

// parseLevel maps a config level name to a slog level. Unknown names
// select info.
func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger creates a logger writing every record at or above the
// configured level to logDir/tgfs.log (rotated by lumberjack) and warnings
// and errors to stderr. The returned closer releases the log file.
func newLogger(logDir string, cfg config.LogConfig, opID string, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, LogFileName),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	stderrLevel := max(parseLevel(cfg.Level), slog.LevelWarn)
	handler := &tabHandler{
		sinks: []logSink{
			{w: file, level: parseLevel(cfg.Level)},
			{w: stderr, level: stderrLevel},
		},
		opID: opID,
	}
	return slog.New(handler), file, nil
}

// slogAdapter wraps *slog.Logger to satisfy the tgfs.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

var _ tgfs.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
