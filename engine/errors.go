package engine

import (
	"errors"
	"fmt"

	"github.com/aTiKhan/MailKit/wire"
)

// Error wraps the error taxonomy from spec.md §7: protocol violations and
// i/o failures are always fatal to the session; a tagged NO is local and
// non-fatal; a tagged BAD or an unexpected BYE are fatal.
type Error struct {
	err   error
	Fatal bool
}

func (e Error) Error() string { return e.err.Error() }
func (e Error) Unwrap() error { return e.err }

func newFatal(err error) Error     { return Error{err: err, Fatal: true} }
func newNonFatal(err error) Error  { return Error{err: err, Fatal: false} }

// ErrCancelled is returned when a command is abandoned locally, e.g. because
// its context was canceled or the session was closed while it was pending.
var ErrCancelled = errors.New("command cancelled")

// ErrCapabilityUnavailable is a client-side, pre-wire failure: the command
// requires a capability the server hasn't advertised.
type ErrCapabilityUnavailable struct{ Capability wire.Capability }

func (e ErrCapabilityUnavailable) Error() string {
	return fmt.Sprintf("server does not advertise required capability %s", e.Capability)
}

// ErrArgument is a client-side, pre-wire failure: the caller passed a request
// that cannot be represented on the wire (e.g. an empty NumSet where the
// operation requires at least one member).
type ErrArgument struct{ Msg string }

func (e ErrArgument) Error() string { return e.Msg }

// classify turns a tagged completion into the appropriate Error, or nil for
// OK. NO is non-fatal (the command simply failed); BAD is fatal (client
// protocol bug); a raised transport/parse error is always fatal and is
// handled separately by the caller before reaching classify.
func classify(t wire.Tagged) error {
	switch t.Status {
	case wire.OK:
		return nil
	case wire.NO:
		return newNonFatal(t)
	case wire.BAD:
		return newFatal(t)
	}
	return newFatal(fmt.Errorf("unrecognized status %q", t.Status))
}
