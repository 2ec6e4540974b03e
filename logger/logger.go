// Package logger provides the package-level structured logger every
// other package in this module calls instead of fmt.Println/log.Print.
// It layers a five-level severity scheme (TRACE, DEBUG, INFO, WARNING,
// ERROR) on top of log/slog's four stdlib levels, with a custom Trace
// level sitting below slog.LevelDebug. See DESIGN.md for the grounding
// of this package.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LevelTrace sits one rung below slog.LevelDebug so that "trace" is
// strictly more verbose than "debug".
const LevelTrace = slog.Level(-8)

var programLevel = new(slog.LevelVar)

var defaultLogger = slog.New(newTextHandler(os.Stderr, programLevel))

func init() {
	SetLevel(os.Getenv("CRATEFS_LOG"))
	if format := os.Getenv("CRATEFS_LOG_FORMAT"); format == "json" {
		defaultLogger = slog.New(newJSONHandler(os.Stderr, programLevel))
	}
}

// SetFormat switches the package-level logger's output encoding between
// "text" (the default) and "json". Any other value is ignored, leaving
// the current format in place.
func SetFormat(format string) {
	switch format {
	case "json":
		defaultLogger = slog.New(newJSONHandler(os.Stderr, programLevel))
	case "text":
		defaultLogger = slog.New(newTextHandler(os.Stderr, programLevel))
	}
}

// SetLevel parses a severity name (case-insensitive; trace, debug, info,
// warn/warning, error) and adjusts the package-level filter. An unknown
// or empty value defaults to info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		programLevel.Set(LevelTrace)
	case "debug":
		programLevel.Set(slog.LevelDebug)
	case "warn", "warning":
		programLevel.Set(slog.LevelWarn)
	case "error":
		programLevel.Set(slog.LevelError)
	default:
		programLevel.Set(slog.LevelInfo)
	}
}

func severityName(l slog.Level) string {
	switch {
	case l < slog.LevelDebug:
		return "TRACE"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func newTextHandler(w *os.File, level *slog.LevelVar) slog.Handler {
	return &textHandler{w: w, level: level}
}

// textHandler writes `time="..." severity=X message="..."` lines,
// matching the teacher's text log format exactly.
type textHandler struct {
	w     *os.File
	level *slog.LevelVar
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q\n",
		r.Time.Format(time.RFC3339Nano), severityName(r.Level), r.Message)
	return err
}

func (h *textHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *textHandler) WithGroup(_ string) slog.Handler      { return h }

// jsonHandler writes `{"timestamp":{"seconds":N,"nanos":N},"severity":"X","message":"..."}`,
// matching the teacher's JSON log format.
type jsonHandler struct {
	w     *os.File
	level *slog.LevelVar
}

func newJSONHandler(w *os.File, level *slog.LevelVar) slog.Handler {
	return &jsonHandler{w: w, level: level}
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *jsonHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintf(h.w, "{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":%q,\"message\":%q}\n",
		r.Time.Unix(), r.Time.Nanosecond(), severityName(r.Level), r.Message)
	return err
}

func (h *jsonHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *jsonHandler) WithGroup(_ string) slog.Handler      { return h }

// Tracef logs at the Trace severity, below Debug.
func Tracef(format string, args ...any) {
	logAt(LevelTrace, format, args...)
}

// Debugf logs at the Debug severity.
func Debugf(format string, args ...any) {
	logAt(slog.LevelDebug, format, args...)
}

// Infof logs at the Info severity.
func Infof(format string, args ...any) {
	logAt(slog.LevelInfo, format, args...)
}

// Warnf logs at the Warning severity.
func Warnf(format string, args ...any) {
	logAt(slog.LevelWarn, format, args...)
}

// Errorf logs at the Error severity.
func Errorf(format string, args ...any) {
	logAt(slog.LevelError, format, args...)
}

func logAt(level slog.Level, format string, args ...any) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}
