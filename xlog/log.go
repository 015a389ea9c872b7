// Package xlog provides leveled, structured logging for the IMAP engine, with
// dedicated trace levels for wire protocol logging.
//
// Each Log carries a set of fields that are attached to every line it emits.
// The trace levels (Trace, TraceAuth, TraceData) let callers dial up protocol
// visibility without printing credentials or message bodies by default:
// TraceAuth lines are replaced with "***" and TraceData lines with "..." unless
// explicitly enabled.
package xlog

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Level orders from least to most verbose. Fatal/Error/Info are always
// considered at or below the configured level; Trace/TraceAuth/TraceData are
// opt-in.
type Level int

const (
	LevelError     Level = 0
	LevelInfo      Level = 1
	LevelDebug     Level = 2
	LevelTrace     Level = 3 // Protocol line tracing (tag/command/response text).
	LevelTraceAuth Level = 4 // Like Trace, but for lines carrying credentials.
	LevelTraceData Level = 5 // Like Trace, but for lines carrying message bytes.
)

var current atomic.Int32

// SetLevel sets the process-wide verbosity. Safe for concurrent use.
func SetLevel(l Level) { current.Store(int32(l)) }

func enabled(l Level) bool { return l <= Level(current.Load()) }

// Log is an immutable logger with an attached field set and a backing
// *slog.Logger. The zero value is not usable; construct with New.
type Log struct {
	base   *slog.Logger
	fields []any
}

// New returns a Log that tags every line with a "component" field.
func New(component string, base *slog.Logger) Log {
	if base == nil {
		base = slog.Default()
	}
	return Log{base: base, fields: []any{"component", component}}
}

// With returns a derived Log with additional key/value fields.
func (l Log) With(kvs ...any) Log {
	nl := l
	nl.fields = append(append([]any{}, l.fields...), kvs...)
	return nl
}

// WithContext is a no-op hook kept for parity with request-scoped loggers;
// reserved for a future correlation-id field.
func (l Log) WithContext(ctx context.Context) Log { return l }

func (l Log) log(ctx context.Context, level slog.Level, msg string, err error, kvs ...any) {
	args := append(append([]any{}, l.fields...), kvs...)
	if err != nil {
		args = append(args, "err", err)
	}
	l.base.Log(ctx, level, msg, args...)
}

func (l Log) Error(msg string, kvs ...any)            { l.log(context.Background(), slog.LevelError, msg, nil, kvs...) }
func (l Log) Errorx(msg string, err error, kvs ...any) { l.log(context.Background(), slog.LevelError, msg, err, kvs...) }
func (l Log) Info(msg string, kvs ...any)              { l.log(context.Background(), slog.LevelInfo, msg, nil, kvs...) }
func (l Log) Debug(msg string, kvs ...any) {
	if enabled(LevelDebug) {
		l.log(context.Background(), slog.LevelDebug, msg, nil, kvs...)
	}
}

// Trace logs a protocol line at the given trace sublevel. It returns whether
// the line was actually emitted, so call sites can cheaply skip formatting
// when tracing is off.
func (l Log) Trace(level Level, direction, line string) bool {
	if level == LevelTraceAuth && !enabled(LevelTraceAuth) {
		if enabled(LevelTrace) {
			l.log(context.Background(), slog.LevelDebug, "***", nil, "dir", direction)
			return true
		}
		return false
	}
	if level == LevelTraceData && !enabled(LevelTraceData) {
		if enabled(LevelTrace) {
			l.log(context.Background(), slog.LevelDebug, "...", nil, "dir", direction)
			return true
		}
		return false
	}
	if !enabled(LevelTrace) {
		return false
	}
	l.log(context.Background(), slog.LevelDebug, line, nil, "dir", direction)
	return true
}
