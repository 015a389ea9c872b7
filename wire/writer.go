package wire

import (
	"bufio"
	"fmt"
	"io"
)

// Writer composes outgoing command lines, pausing for a continuation
// response whenever a synchronizing literal has just been written.
type Writer struct {
	bw *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	return &Writer{bw: bw}
}

func (w *Writer) WriteString(s string) error {
	_, err := w.bw.WriteString(s)
	return err
}

func (w *Writer) Flush() error { return w.bw.Flush() }

// Command accumulates a single command's tokens, tracking whether the most
// recently appended token was a synchronizing literal announcement that
// requires a "+ " continuation from the server before the remainder can be
// sent.
type Command struct {
	Tag    string
	Name   string
	parts  []part
}

type part struct {
	text       string
	needsSync  bool // caller must wait for "+" before the FOLLOWING part is sent
}

func NewCommand(tag, name string) *Command {
	return &Command{Tag: tag, Name: name}
}

func (c *Command) Raw(s string) *Command {
	c.parts = append(c.parts, part{text: s})
	return c
}

func (c *Command) Space() *Command { return c.Raw(" ") }

// Astring appends s encoded as an atom/quoted-string/literal. If it must be a
// synchronizing literal and the caller hasn't indicated LITERAL+/- support,
// the returned Command records a sync point the caller must honor by
// flushing and awaiting "+" before further writes.
func (c *Command) Astring(s string, nonSync bool) *Command {
	if needsLiteral(s) {
		if nonSync {
			c.parts = append(c.parts, part{text: NonSyncLiteralPrefix(len(s))})
			c.parts = append(c.parts, part{text: s})
		} else {
			c.parts = append(c.parts, part{text: fmt.Sprintf("{%d}\r\n", len(s)), needsSync: true})
			c.parts = append(c.parts, part{text: s})
		}
		return c
	}
	return c.Raw(Astring(s))
}

func needsLiteral(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c == 0 || c == '\r' || c == '\n' {
			return true
		}
	}
	return false
}

// WriteTo writes the command's tag, name and parts to w, calling await
// before any part flagged needsSync (await must read until a "+" line is
// seen, or return an error for a premature NO/BAD).
func (c *Command) WriteTo(w *Writer, await func() error) error {
	if err := w.WriteString(c.Tag + " " + c.Name); err != nil {
		return err
	}
	for _, p := range c.parts {
		if err := w.WriteString(p.text); err != nil {
			return err
		}
		if p.needsSync {
			if err := w.Flush(); err != nil {
				return err
			}
			if await != nil {
				if err := await(); err != nil {
					return err
				}
			}
		}
	}
	if err := w.WriteString("\r\n"); err != nil {
		return err
	}
	return w.Flush()
}
