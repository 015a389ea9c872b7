package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/aTiKhan/MailKit/transport"
	"github.com/aTiKhan/MailKit/wire"
	"github.com/aTiKhan/MailKit/xlog"
)

// MetricsSink receives command/untagged-response telemetry from a Session.
// imapmetrics.Metrics satisfies this without engine importing that package,
// keeping instrumentation an optional, ambient concern rather than a hard
// dependency of the protocol engine.
type MetricsSink interface {
	ObserveCommand(command, status string, d time.Duration)
	ObserveUntagged(kind string)
	SetDisconnected()
}

// Listener receives every untagged response the session observes, in order,
// before the tagged completion that followed it is returned to the caller
// that issued the command. Listeners run synchronously on the session's
// goroutine and must not call back into the session.
type Listener func(wire.Untagged)

// MailboxState is the subset of SELECT/EXAMINE-reported state the session
// tracks for the currently opened mailbox. The mailbox package builds its
// richer Folder view on top of this.
type MailboxState struct {
	Name           string
	ReadWrite      bool
	UIDValidity    uint32
	UIDNext        uint32
	Exists         uint32
	Recent         uint32
	Unseen         uint32
	Flags          []string
	PermanentFlags []string
	HighestModSeq  int64
	NoModSeq       bool
}

// Session drives a single IMAP connection's protocol state machine: it owns
// tag allocation, the capability registry, command serialization and the
// untagged-update dispatch loop. It knows how to hold a conversation; it
// does not know about folder trees or message caches, which live one layer
// up in the mailbox package.
type Session struct {
	mu   sync.Mutex
	conn transport.Conn
	r    *wire.Reader
	w    *wire.Writer
	tr   *transport.TraceReader
	tw   *transport.TraceWriter
	tags tagGen
	log  xlog.Log

	state   State
	preauth bool

	caps    map[wire.Capability]bool
	enabled map[wire.Capability]bool

	mailbox *MailboxState

	listeners []Listener
	metrics   MetricsSink

	searchRes bool // true once the server has populated $ via SEARCHRES
}

// SetMetrics attaches a telemetry sink; pass nil to detach. Safe to call at
// any point in the session's lifetime.
func (s *Session) SetMetrics(m MetricsSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// New wraps an already-dialed transport.Conn (plain or TLS) in a Session,
// positioned in the Connecting state until the caller reads the greeting
// with ReadGreeting.
func New(conn transport.Conn, log xlog.Log) *Session {
	tr := transport.NewTraceReader(log, "<-", conn)
	tw := transport.NewTraceWriter(log, "->", conn)
	return &Session{
		conn:    conn,
		r:       wire.NewReader(tr),
		w:       wire.NewWriter(tw),
		tr:      tr,
		tw:      tw,
		log:     log,
		state:   Connecting,
		caps:    map[wire.Capability]bool{},
		enabled: map[wire.Capability]bool{},
	}
}

func (s *Session) State() State { return s.currentState() }

func (s *Session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mailbox returns a snapshot of the currently selected mailbox state, or nil
// outside the Selected state.
func (s *Session) Mailbox() *MailboxState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mailbox == nil {
		return nil
	}
	cp := *s.mailbox
	return &cp
}

// Capabilities returns the server's currently advertised capability set.
func (s *Session) Capabilities() []wire.Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.Capability
	for c := range s.caps {
		out = append(out, c)
	}
	return out
}

func (s *Session) Has(c wire.Capability) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps[c]
}

// AddListener registers a callback invoked for every untagged response, in
// arrival order, returning a function that removes it.
func (s *Session) AddListener(l Listener) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
	idx := len(s.listeners) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners[idx] = nil
	}
}

// ReadGreeting reads the server's initial untagged OK/PREAUTH/BYE line and
// moves the session to NotAuthenticated (or Authenticated, for PREAUTH).
func (s *Session) ReadGreeting(ctx context.Context) (wire.Untagged, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, err := s.r.ReadNext()
	if err != nil {
		s.state = Disconnected
		return nil, newFatal(err)
	}
	switch v := line.Untagged.(type) {
	case wire.UntaggedPreauth:
		s.preauth = true
		s.state = Authenticated
		s.applyCode(v.Code)
	case wire.UntaggedBye:
		s.state = Disconnected
		return line.Untagged, newFatal(wire.Tagged{Status: wire.Status("BYE"), Code: v.Code, Text: v.Text})
	case wire.UntaggedResult:
		s.state = NotAuthenticated
		s.applyCode(v.Code)
	default:
		s.state = NotAuthenticated
	}
	s.dispatchLocked(line.Untagged)
	return line.Untagged, nil
}

func (s *Session) dispatch(u wire.Untagged) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchLocked(u)
}

// dispatchLocked applies an untagged response to session/mailbox state and
// fans it out to listeners. Must be called with s.mu held.
func (s *Session) dispatchLocked(u wire.Untagged) {
	if s.metrics != nil {
		s.metrics.ObserveUntagged(untaggedKind(u))
	}
	switch v := u.(type) {
	case wire.UntaggedCapability:
		s.setCaps(v)
	case wire.UntaggedEnabled:
		for _, c := range v {
			s.enabled[c] = true
		}
	case wire.UntaggedExists:
		if s.mailbox != nil {
			s.mailbox.Exists = uint32(v)
		}
	case wire.UntaggedRecent:
		if s.mailbox != nil {
			s.mailbox.Recent = uint32(v)
		}
	case wire.UntaggedFlags:
		if s.mailbox != nil {
			s.mailbox.Flags = v
		}
	case wire.UntaggedExpunge:
		if s.mailbox != nil && s.mailbox.Exists > 0 {
			s.mailbox.Exists--
		}
	case wire.UntaggedVanished:
		// Count decrements are approximate without tracking the full UID list;
		// mailbox.Folder reconciles precisely against its own cache.
	case wire.UntaggedBye:
		s.state = Disconnected
		if s.metrics != nil {
			s.metrics.SetDisconnected()
		}
	}
	for _, l := range s.listeners {
		if l != nil {
			l(u)
		}
	}
}

// untaggedKind derives a metrics label from an Untagged value's concrete
// type, e.g. wire.UntaggedExists -> "Exists". Reflection is acceptable here:
// this runs once per untagged line, well off any hot per-byte parsing path.
func untaggedKind(u wire.Untagged) string {
	if u == nil {
		return "unknown"
	}
	name := reflect.TypeOf(u).Name()
	const prefix = "Untagged"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):]
	}
	return name
}

func (s *Session) setCaps(caps []wire.Capability) {
	s.caps = map[wire.Capability]bool{}
	for _, c := range caps {
		s.caps[c] = true
	}
}

func (s *Session) applyCode(code wire.Code) {
	switch c := code.(type) {
	case wire.CodeCapability:
		s.setCaps(c)
	case wire.CodePermanentFlags:
		if s.mailbox != nil {
			s.mailbox.PermanentFlags = c
		}
	case wire.CodeUIDNext:
		if s.mailbox != nil {
			s.mailbox.UIDNext = uint32(c)
		}
	case wire.CodeUIDValidity:
		if s.mailbox != nil {
			s.mailbox.UIDValidity = uint32(c)
		}
	case wire.CodeUnseen:
		if s.mailbox != nil {
			s.mailbox.Unseen = uint32(c)
		}
	case wire.CodeHighestModSeq:
		if s.mailbox != nil {
			s.mailbox.HighestModSeq = int64(c)
		}
	case wire.CodeWord:
		if c == "NOMODSEQ" && s.mailbox != nil {
			s.mailbox.NoModSeq = true
		}
	}
}

// execute serializes one full command/response round trip: write the
// command (pausing for continuations where the command needs them), then
// read lines until the matching tagged completion, dispatching every
// untagged line as it arrives. The session mutex is held for the whole
// round trip, which is the concurrency model spec.md §5 calls for:
// single-threaded-cooperative per session.
func (s *Session) execute(ctx context.Context, cmd *wire.Command) (resp wire.Response, rerr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.metrics != nil {
		start := time.Now()
		defer func() {
			s.metrics.ObserveCommand(cmd.Name, commandStatus(rerr), time.Since(start))
		}()
	}

	if ctx != nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			_ = s.conn.Close()
			// Bytes may already be on the wire by the time cancellation lands;
			// the connection is unusable either way, so the session can't stay
			// in whatever state it was in. execute (this goroutine) holds s.mu
			// for the whole round trip, so this blocks until the closed conn
			// unblocks the pending read and execute returns.
			s.mu.Lock()
			s.state = Disconnected
			s.mu.Unlock()
		})
		defer stop()
	}

	await := func() error {
		line, err := s.r.ReadNext()
		if err != nil {
			return newFatal(err)
		}
		if line.Continuation {
			return nil
		}
		if line.Tag == cmd.Tag {
			return classify(line.Tagged)
		}
		if line.Untagged != nil {
			s.dispatchLocked(line.Untagged)
			return s.awaitRetry(cmd)
		}
		return newFatal(fmt.Errorf("unexpected line awaiting continuation for %s", cmd.Tag))
	}

	if err := cmd.WriteTo(s.w, await); err != nil {
		if ctx != nil && ctx.Err() != nil {
			return resp, ErrCancelled
		}
		s.state = Disconnected
		return resp, newFatal(err)
	}

	for {
		line, err := s.r.ReadNext()
		if err != nil {
			if ctx != nil && ctx.Err() != nil {
				return resp, ErrCancelled
			}
			s.state = Disconnected
			return resp, newFatal(err)
		}
		if line.Continuation {
			continue
		}
		if line.Tag == "" {
			resp.Untagged = append(resp.Untagged, line.Untagged)
			s.dispatchLocked(line.Untagged)
			continue
		}
		if line.Tag != cmd.Tag {
			s.state = Disconnected
			return resp, newFatal(fmt.Errorf("tag mismatch: got %s want %s", line.Tag, cmd.Tag))
		}
		resp.Tagged = line.Tagged
		s.applyCode(line.Tagged.Code)
		err = classify(line.Tagged)
		if fatalErr, ok := err.(Error); ok && fatalErr.Fatal {
			s.state = Disconnected
		}
		return resp, err
	}
}

// awaitRetry handles the rare case of an untagged line arriving while the
// client is paused waiting for a continuation to a literal.
func (s *Session) awaitRetry(cmd *wire.Command) error {
	line, err := s.r.ReadNext()
	if err != nil {
		return newFatal(err)
	}
	if line.Continuation {
		return nil
	}
	if line.Tag == cmd.Tag {
		return classify(line.Tagged)
	}
	if line.Untagged != nil {
		s.dispatchLocked(line.Untagged)
		return s.awaitRetry(cmd)
	}
	return newFatal(fmt.Errorf("unexpected line awaiting continuation for %s", cmd.Tag))
}

// commandStatus derives a low-cardinality metrics label from the error
// execute returns: "ok" on success, "no" for a tagged NO (the command simply
// failed server-side), "cancelled" for a locally abandoned command, and
// "error" for anything fatal (BAD, transport/parse failure, protocol
// violation).
func commandStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	}
	var e Error
	if errors.As(err, &e) && !e.Fatal {
		return "no"
	}
	return "error"
}

func (s *Session) nextTag() string { return s.tags.next() }
