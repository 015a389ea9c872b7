// Package transport provides the duplex byte-stream abstraction the IMAP
// engine runs over (layer L1). It owns deadlines, cancellation and the
// transient/terminal classification of I/O failures; it never makes framing
// decisions — that is the wire package's job.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"time"
)

// Conn is a reliable, ordered, byte-duplex stream with independently
// cancellable and timeout-bounded reads and writes. A *tls.Conn or *net.TCPConn
// satisfies this directly; Dial and WrapTLS construct one.
type Conn interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dial opens a plain TCP connection. Callers that need TLS from the start
// should use WrapTLS on the result, or dial with tls.Dial directly and pass
// the result to New elsewhere in this module.
func Dial(ctx context.Context, network, addr string) (Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// WrapTLS upgrades an established Conn to TLS, performing the handshake
// bounded by ctx. Certificate validation is the caller's responsibility via
// cfg; this package only drives the handshake.
func WrapTLS(ctx context.Context, conn Conn, cfg *tls.Config) (Conn, error) {
	nc, ok := conn.(net.Conn)
	if !ok {
		return nil, errors.New("transport: underlying connection is not a net.Conn, cannot start TLS")
	}
	tc := tls.Client(nc, cfg)
	if dl, ok := ctx.Deadline(); ok {
		_ = tc.SetDeadline(dl)
	}
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	_ = tc.SetDeadline(time.Time{})
	return tc, nil
}

// Timeouts bounds how long a single read or write operation may block. A zero
// value disables that bound.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
}

// Classify reports whether err is a transient failure (an I/O timeout or
// exceeded deadline) as opposed to a terminal one (any other error, such as
// peer reset, TLS fault or closed connection). Session state machines in the engine layer treat both
// as fatal to the current session, but callers building reconnect logic need
// the distinction to decide whether retrying is worthwhile.
func Classify(err error) (transient bool) {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
