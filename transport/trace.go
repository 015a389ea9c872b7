package transport

import (
	"io"

	"github.com/aTiKhan/MailKit/xlog"
)

// TraceReader wraps a reader, logging every successful read to log at the
// given trace level, prefixed for readability in mixed client/server traces.
type TraceReader struct {
	log    xlog.Log
	prefix string
	r      io.Reader
	level  xlog.Level
}

func NewTraceReader(log xlog.Log, prefix string, r io.Reader) *TraceReader {
	return &TraceReader{log, prefix, r, xlog.LevelTrace}
}

func (r *TraceReader) Read(buf []byte) (int, error) {
	n, err := r.r.Read(buf)
	if n > 0 {
		r.log.Trace(r.level, r.prefix, string(buf[:n]))
	}
	return n, err
}

// SetLevel changes the trace level applied to subsequent reads, letting a
// caller temporarily mark a region as carrying credentials (TraceAuth) or
// message bytes (TraceData).
func (r *TraceReader) SetLevel(level xlog.Level) (restore func()) {
	prev := r.level
	r.level = level
	return func() { r.level = prev }
}

// TraceWriter is the write-side counterpart of TraceReader.
type TraceWriter struct {
	log    xlog.Log
	prefix string
	w      io.Writer
	level  xlog.Level
}

func NewTraceWriter(log xlog.Log, prefix string, w io.Writer) *TraceWriter {
	return &TraceWriter{log, prefix, w, xlog.LevelTrace}
}

func (w *TraceWriter) Write(buf []byte) (int, error) {
	w.log.Trace(w.level, w.prefix, string(buf))
	return w.w.Write(buf)
}

func (w *TraceWriter) SetLevel(level xlog.Level) (restore func()) {
	prev := w.level
	w.level = level
	return func() { w.level = prev }
}
