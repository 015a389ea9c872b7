package transport

import (
	"bufio"
	"io"
	"time"

	"github.com/klauspost/compress/flate"
)

// DeflateConn wraps an established Conn in raw DEFLATE framing (RFC 4978
// COMPRESS=DEFLATE): every byte after the tagged OK to COMPRESS is a single,
// continuous deflate stream in both directions, with no message boundaries
// of its own. Writes are flushed eagerly since IMAP commands and responses
// are line-oriented and the peer is waiting on each one.
type DeflateConn struct {
	inner Conn
	br    io.ReadCloser
	bw    *flate.Writer
}

// NewDeflateConn builds the COMPRESS=DEFLATE layer for use as the newLayer
// callback passed to Session.CompressDeflate.
func NewDeflateConn(inner Conn) *DeflateConn {
	fw, err := flate.NewWriter(inner, flate.DefaultCompression)
	if err != nil {
		// DefaultCompression is always a valid level; NewWriter only errors on
		// an out-of-range level, so this is unreachable.
		panic(err)
	}
	return &DeflateConn{
		inner: inner,
		br:    flate.NewReader(bufio.NewReader(inner)),
		bw:    fw,
	}
}

func (c *DeflateConn) Read(buf []byte) (int, error) {
	return c.br.Read(buf)
}

func (c *DeflateConn) Write(buf []byte) (int, error) {
	n, err := c.bw.Write(buf)
	if err != nil {
		return n, err
	}
	if err := c.bw.Flush(); err != nil {
		return n, err
	}
	return n, nil
}

func (c *DeflateConn) SetReadDeadline(t time.Time) error  { return c.inner.SetReadDeadline(t) }
func (c *DeflateConn) SetWriteDeadline(t time.Time) error { return c.inner.SetWriteDeadline(t) }

func (c *DeflateConn) Close() error {
	_ = c.bw.Close()
	_ = c.br.Close()
	return c.inner.Close()
}
