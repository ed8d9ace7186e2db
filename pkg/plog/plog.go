// Package plog provides the global structured logger for the application.
//
// Console output is split by level: NOTICE and below go to stdout, WARN and
// above go to stderr. An optional file sink mirrors every enabled record to a
// rotating log file, so that mirror actions are visible both on the console
// and in the configured log file.
package plog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelNotice sits between INFO and WARN. It is used for per-action lines
// (COPY, DIR, DELETE) so they can be filtered independently of general info.
const LevelNotice = slog.Level(2)

// levelNames maps the custom level to its display name.
var levelNames = map[slog.Leveler]string{
	LevelNotice: "NOTICE",
}

// LevelDispatchHandler is a slog.Handler that writes log records to different
// handlers based on the record's level. NOTICE and below go to one handler,
// while WARNING and above go to another. An optional third handler receives
// every record (the file sink).
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
	fileHandler   slog.Handler
}

// Enabled checks if the level is enabled for any of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level) {
		return true
	}
	return h.fileHandler != nil && h.fileHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate console handler and to the
// file handler if one is configured.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	var consoleErr error
	if r.Level >= slog.LevelWarn {
		if h.stderrHandler.Enabled(ctx, r.Level) {
			consoleErr = h.stderrHandler.Handle(ctx, r)
		}
	} else if h.stdoutHandler.Enabled(ctx, r.Level) {
		consoleErr = h.stdoutHandler.Handle(ctx, r)
	}
	if h.fileHandler != nil && h.fileHandler.Enabled(ctx, r.Level) {
		if err := h.fileHandler.Handle(ctx, r.Clone()); err != nil && consoleErr == nil {
			consoleErr = err
		}
	}
	return consoleErr
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
	if h.fileHandler != nil {
		clone.fileHandler = h.fileHandler.WithAttrs(attrs)
	}
	return clone
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	clone := &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
	if h.fileHandler != nil {
		clone.fileHandler = h.fileHandler.WithGroup(name)
	}
	return clone
}

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
	levelVar      = new(slog.LevelVar) // Shared by all handlers; defaults to INFO.
)

// handlerOptions returns the common options for all text handlers, wiring the
// shared level var and the NOTICE level name replacement.
func handlerOptions() *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				level := a.Value.Any().(slog.Level)
				if name, ok := levelNames[level]; ok {
					a.Value = slog.StringValue(name)
				}
			}
			return a
		},
	}
}

func newDispatchLogger(fileHandler slog.Handler) *slog.Logger {
	return slog.New(&LevelDispatchHandler{
		stdoutHandler: slog.NewTextHandler(os.Stdout, handlerOptions()),
		stderrHandler: slog.NewTextHandler(os.Stderr, handlerOptions()),
		fileHandler:   fileHandler,
	})
}

func init() {
	defaultLogger = newDispatchLogger(nil)
}

// SetLevel sets the minimum level for all sinks.
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// LevelFromString maps a configuration string to a slog level.
// Unknown strings fall back to INFO.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "notice":
		return LevelNotice
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetFileOutput attaches a rotating file sink at the given path. All records
// at or above the configured level are mirrored to the file.
func SetFileOutput(path string) {
	mu.Lock()
	defer mu.Unlock()
	fileHandler := slog.NewTextHandler(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // megabytes per file before rotation
		MaxBackups: 5,
	}, handlerOptions())
	defaultLogger = newDispatchLogger(fileHandler)
}

// SetOutput redirects all logger output to the given writer, primarily for
// testing. The level is reset to DEBUG so tests observe every record.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	levelVar.Set(slog.LevelDebug)
	defaultLogger = slog.New(slog.NewTextHandler(w, handlerOptions()))
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Notice logs a per-action message (COPY, DIR, DELETE and friends).
func Notice(msg string, args ...any) {
	defaultLogger.Log(context.Background(), LevelNotice, msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}
