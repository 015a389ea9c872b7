package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/aTiKhan/MailKit/transport"
	"github.com/aTiKhan/MailKit/wire"
	"github.com/aTiKhan/MailKit/xlog"
)

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func b64decode(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

func (s *Session) requireState(states ...State) error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if err := st.oneOf(states...); err != nil {
		return err
	}
	return nil
}

// Capability issues CAPABILITY and returns the refreshed set.
func (s *Session) Capability(ctx context.Context) ([]wire.Capability, error) {
	cmd := wire.NewCommand(s.nextTag(), "CAPABILITY")
	_, err := s.execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return s.Capabilities(), nil
}

// Noop issues NOOP, a no-op that still drains any pending untagged updates
// (new message counts, flag changes) to the listeners.
func (s *Session) Noop(ctx context.Context) error {
	cmd := wire.NewCommand(s.nextTag(), "NOOP")
	_, err := s.execute(ctx, cmd)
	return err
}

// Logout issues LOGOUT and transitions to LoggedOut on success.
func (s *Session) Logout(ctx context.Context) error {
	cmd := wire.NewCommand(s.nextTag(), "LOGOUT")
	_, err := s.execute(ctx, cmd)
	if err == nil {
		s.mu.Lock()
		s.state = LoggedOut
		s.mu.Unlock()
	}
	return err
}

// Login issues LOGIN with the given credentials. Requires NotAuthenticated
// and that LOGINDISABLED is not advertised.
func (s *Session) Login(ctx context.Context, username, password string) error {
	if err := s.requireState(NotAuthenticated); err != nil {
		return err
	}
	if s.Has(wire.CapLoginDisabled) {
		return ErrCapabilityUnavailable{Capability: wire.CapLoginDisabled}
	}
	cmd := wire.NewCommand(s.nextTag(), "LOGIN").Space().Astring(username, false).Space().Astring(password, false)
	restoreR := s.tr.SetLevel(xlog.LevelTraceAuth)
	restoreW := s.tw.SetLevel(xlog.LevelTraceAuth)
	defer restoreR()
	defer restoreW()
	_, err := s.execute(ctx, cmd)
	if err == nil {
		s.mu.Lock()
		s.state = Authenticated
		s.mu.Unlock()
	}
	return err
}

// AuthMechanism is a single step of a SASL conversation: given the server's
// last challenge (nil for the initial step), return the client's response,
// or done=true with a nil response if the mechanism has nothing more to
// send before the tagged completion.
type AuthMechanism interface {
	Name() string
	Step(challenge []byte) (response []byte, done bool, err error)
}

// Authenticate drives a generic SASL mechanism via AUTHENTICATE, honoring
// SASL-IR (sending the initial response inline) when advertised. Credential
// bytes are traced at TraceAuth level rather than Trace, so they stay
// redacted unless a caller explicitly raises verbosity.
func (s *Session) Authenticate(ctx context.Context, m AuthMechanism) error {
	if err := s.requireState(NotAuthenticated); err != nil {
		return err
	}
	cmd := wire.NewCommand(s.nextTag(), "AUTHENTICATE").Space().Raw(m.Name())
	if s.Has(wire.CapSASLIR) {
		ir, _, err := m.Step(nil)
		if err != nil {
			return err
		}
		if len(ir) == 0 {
			cmd.Space().Raw("=")
		} else {
			cmd.Space().Raw(b64(ir))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	restoreR := s.tr.SetLevel(xlog.LevelTraceAuth)
	restoreW := s.tw.SetLevel(xlog.LevelTraceAuth)
	defer restoreR()
	defer restoreW()

	if err := cmd.WriteTo(s.w, nil); err != nil {
		return newFatal(err)
	}

	for {
		line, err := s.r.ReadNext()
		if err != nil {
			return newFatal(err)
		}
		if line.Continuation {
			challenge, derr := b64decode(line.ContinuationText)
			if derr != nil {
				return newFatal(derr)
			}
			resp, _, serr := m.Step(challenge)
			if serr != nil {
				return serr
			}
			encoded := ""
			if len(resp) > 0 {
				encoded = b64(resp)
			}
			if err := s.w.WriteString(encoded + "\r\n"); err != nil {
				return newFatal(err)
			}
			if err := s.w.Flush(); err != nil {
				return newFatal(err)
			}
			continue
		}
		if line.Tag == "" {
			s.dispatchLocked(line.Untagged)
			continue
		}
		if line.Tag != cmd.Tag {
			return newFatal(fmt.Errorf("tag mismatch during AUTHENTICATE"))
		}
		s.applyCode(line.Tagged.Code)
		if err := classify(line.Tagged); err != nil {
			return err
		}
		s.state = Authenticated
		return nil
	}
}

// StartTLS issues STARTTLS and, on success, hands the underlying connection
// to upgrade and rebuilds the reader/writer over the TLS conn. Capabilities
// must be rediscovered afterward (the server is required to forget its
// pre-TLS CAPABILITY answer).
func (s *Session) StartTLS(ctx context.Context, upgrade func(transport.Conn) (transport.Conn, error)) error {
	if err := s.requireState(NotAuthenticated); err != nil {
		return err
	}
	if !s.Has(wire.CapStartTLS) {
		return ErrCapabilityUnavailable{Capability: wire.CapStartTLS}
	}
	cmd := wire.NewCommand(s.nextTag(), "STARTTLS")
	_, err := s.execute(ctx, cmd)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	nc, err := upgrade(s.conn)
	if err != nil {
		return newFatal(err)
	}
	s.conn = nc
	s.tr = transport.NewTraceReader(s.log, "<-", nc)
	s.tw = transport.NewTraceWriter(s.log, "->", nc)
	s.r = wire.NewReader(s.tr)
	s.w = wire.NewWriter(s.tw)
	s.caps = map[wire.Capability]bool{}
	return nil
}

// Enable issues ENABLE for the given capabilities (RFC 5161), returning the
// set the server actually enabled.
func (s *Session) Enable(ctx context.Context, caps ...wire.Capability) ([]wire.Capability, error) {
	if err := s.requireState(Authenticated, Selected); err != nil {
		return nil, err
	}
	cmd := wire.NewCommand(s.nextTag(), "ENABLE")
	for _, c := range caps {
		cmd.Space().Raw(string(c))
	}
	_, err := s.execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.Capability
	for _, c := range caps {
		if s.enabled[c] {
			out = append(out, c)
		}
	}
	return out, nil
}

// SelectOpts configures a SELECT/EXAMINE: CONDSTORE forces modseq tracking;
// QRESYNC resumes from a prior (uidvalidity, modseq[, known-uids]) tuple per
// RFC 7162. QResyncState.KnownSeqMatch is not rendered: the SELECT carries
// no seq-match-data.
type SelectOpts struct {
	CondStore bool
	QResync   *QResyncState
}

type QResyncState struct {
	UIDValidity   uint32
	ModSeq        int64
	KnownUIDs     wire.NumSet
	KnownSeqMatch wire.NumSet // seq-match-data paired positionally with KnownUIDs; selectMailbox does not send it
}

func (s *Session) selectMailbox(ctx context.Context, cmdName, mailbox string, opts SelectOpts) (*MailboxState, error) {
	if err := s.requireState(Authenticated, Selected); err != nil {
		return nil, err
	}
	cmd := wire.NewCommand(s.nextTag(), cmdName).Space().Astring(mailbox, false)
	if opts.CondStore || opts.QResync != nil {
		cmd.Raw(" (")
		first := true
		if opts.CondStore {
			cmd.Raw("CONDSTORE")
			first = false
		}
		if opts.QResync != nil {
			if !first {
				cmd.Raw(" ")
			}
			qr := opts.QResync
			cmd.Raw(fmt.Sprintf("QRESYNC (%d %d", qr.UIDValidity, qr.ModSeq))
			if !qr.KnownUIDs.IsZero() {
				cmd.Raw(" " + qr.KnownUIDs.String())
			}
			cmd.Raw(")")
		}
		cmd.Raw(")")
	}

	s.mu.Lock()
	s.mailbox = &MailboxState{Name: mailbox}
	s.mu.Unlock()

	resp, err := s.execute(ctx, cmd)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.mailbox = nil
		return nil, err
	}
	if code, ok := resp.Tagged.Code.(wire.CodeWord); ok {
		s.mailbox.ReadWrite = code == "READ-WRITE" || cmdName == "SELECT"
	} else {
		s.mailbox.ReadWrite = cmdName == "SELECT"
	}
	s.state = Selected
	cp := *s.mailbox
	return &cp, nil
}

func (s *Session) Select(ctx context.Context, mailbox string, opts SelectOpts) (*MailboxState, error) {
	return s.selectMailbox(ctx, "SELECT", mailbox, opts)
}

func (s *Session) Examine(ctx context.Context, mailbox string, opts SelectOpts) (*MailboxState, error) {
	mb, err := s.selectMailbox(ctx, "EXAMINE", mailbox, opts)
	if mb != nil {
		mb.ReadWrite = false
	}
	return mb, err
}

// Unselect leaves the Selected state without expunging \Deleted messages
// (RFC 3691); falls back to CLOSE's semantics is not attempted here since
// that does expunge.
func (s *Session) Unselect(ctx context.Context) error {
	if err := s.requireState(Selected); err != nil {
		return err
	}
	if !s.Has(wire.CapUnselect) {
		return ErrCapabilityUnavailable{Capability: wire.CapUnselect}
	}
	cmd := wire.NewCommand(s.nextTag(), "UNSELECT")
	_, err := s.execute(ctx, cmd)
	s.mu.Lock()
	if err == nil {
		s.state = Authenticated
		s.mailbox = nil
	}
	s.mu.Unlock()
	return err
}

// CloseMailbox issues CLOSE, which expunges \Deleted messages and leaves the
// Selected state. Named CloseMailbox (not Close) so it isn't confused with
// closing the connection.
func (s *Session) CloseMailbox(ctx context.Context) error {
	if err := s.requireState(Selected); err != nil {
		return err
	}
	cmd := wire.NewCommand(s.nextTag(), "CLOSE")
	_, err := s.execute(ctx, cmd)
	s.mu.Lock()
	if err == nil {
		s.state = Authenticated
		s.mailbox = nil
	}
	s.mu.Unlock()
	return err
}

func (s *Session) Create(ctx context.Context, mailbox string) error {
	cmd := wire.NewCommand(s.nextTag(), "CREATE").Space().Astring(mailbox, false)
	_, err := s.execute(ctx, cmd)
	return err
}

// CreateSpecialUse issues CREATE with a USE attribute list (RFC 6154),
// requiring the server advertise SPECIAL-USE.
func (s *Session) CreateSpecialUse(ctx context.Context, mailbox string, uses []wire.Capability) error {
	if len(uses) == 0 {
		return s.Create(ctx, mailbox)
	}
	if !s.Has(wire.CapSpecialUse) {
		return ErrCapabilityUnavailable{Capability: wire.CapSpecialUse}
	}
	cmd := wire.NewCommand(s.nextTag(), "CREATE").Space().Astring(mailbox, false).Raw(" (USE (")
	for i, u := range uses {
		if i > 0 {
			cmd.Raw(" ")
		}
		cmd.Raw(string(u))
	}
	cmd.Raw("))")
	_, err := s.execute(ctx, cmd)
	return err
}

func (s *Session) Delete(ctx context.Context, mailbox string) error {
	cmd := wire.NewCommand(s.nextTag(), "DELETE").Space().Astring(mailbox, false)
	_, err := s.execute(ctx, cmd)
	return err
}

func (s *Session) Rename(ctx context.Context, from, to string) error {
	cmd := wire.NewCommand(s.nextTag(), "RENAME").Space().Astring(from, false).Space().Astring(to, false)
	_, err := s.execute(ctx, cmd)
	return err
}

func (s *Session) Subscribe(ctx context.Context, mailbox string) error {
	cmd := wire.NewCommand(s.nextTag(), "SUBSCRIBE").Space().Astring(mailbox, false)
	_, err := s.execute(ctx, cmd)
	return err
}

func (s *Session) Unsubscribe(ctx context.Context, mailbox string) error {
	cmd := wire.NewCommand(s.nextTag(), "UNSUBSCRIBE").Space().Astring(mailbox, false)
	_, err := s.execute(ctx, cmd)
	return err
}

// List issues LIST (or LSUB when subscribedOnly is set) and returns every
// UntaggedList/UntaggedLsub observed.
func (s *Session) List(ctx context.Context, reference, pattern string, subscribedOnly bool) ([]wire.UntaggedList, error) {
	name := "LIST"
	if subscribedOnly {
		name = "LSUB"
	}
	cmd := wire.NewCommand(s.nextTag(), name).Space().Astring(reference, false).Space().Astring(pattern, false)
	resp, err := s.execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	var out []wire.UntaggedList
	for _, u := range resp.Untagged {
		switch v := u.(type) {
		case wire.UntaggedList:
			out = append(out, v)
		case wire.UntaggedLsub:
			out = append(out, wire.UntaggedList(v))
		}
	}
	return out, nil
}

func (s *Session) Namespace(ctx context.Context) (*wire.UntaggedNamespace, error) {
	if !s.Has(wire.CapNamespace) {
		return nil, ErrCapabilityUnavailable{Capability: wire.CapNamespace}
	}
	cmd := wire.NewCommand(s.nextTag(), "NAMESPACE")
	resp, err := s.execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	for _, u := range resp.Untagged {
		if ns, ok := u.(wire.UntaggedNamespace); ok {
			return &ns, nil
		}
	}
	return nil, nil
}

func (s *Session) Status(ctx context.Context, mailbox string, attrs []wire.StatusAttr) (*wire.UntaggedStatus, error) {
	cmd := wire.NewCommand(s.nextTag(), "STATUS").Space().Astring(mailbox, false).Raw(" (")
	for i, a := range attrs {
		if i > 0 {
			cmd.Raw(" ")
		}
		cmd.Raw(string(a))
	}
	cmd.Raw(")")
	resp, err := s.execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	for _, u := range resp.Untagged {
		if st, ok := u.(wire.UntaggedStatus); ok {
			return &st, nil
		}
	}
	return nil, nil
}

// AppendOpts carries the optional flags/date of an APPEND.
type AppendOpts struct {
	Flags    []string
	Date     string // already-formatted IMAP date-time, empty to omit
}

// Append issues APPEND for a single message.
func (s *Session) Append(ctx context.Context, mailbox string, opts AppendOpts, message []byte) (wire.Response, error) {
	if err := s.requireState(Authenticated, Selected); err != nil {
		return wire.Response{}, err
	}
	cmd := wire.NewCommand(s.nextTag(), "APPEND").Space().Astring(mailbox, false)
	if len(opts.Flags) > 0 {
		cmd.Raw(" (" + strings.Join(opts.Flags, " ") + ")")
	}
	if opts.Date != "" {
		cmd.Raw(" ").Raw(wire.Quote(opts.Date))
	}
	cmd.Space().Astring(string(message), s.Has(wire.CapLiteralPlus) || (s.Has(wire.CapLiteralMinus) && len(message) <= 4096))
	return s.execute(ctx, cmd)
}

// MultiAppend issues a single APPEND with multiple message parts (RFC 3502),
// requiring MULTIAPPEND.
func (s *Session) MultiAppend(ctx context.Context, mailbox string, msgs []AppendMessage) (wire.Response, error) {
	if !s.Has(wire.CapMultiAppend) {
		return wire.Response{}, ErrCapabilityUnavailable{Capability: wire.CapMultiAppend}
	}
	if len(msgs) == 0 {
		return wire.Response{}, ErrArgument{Msg: "MultiAppend requires at least one message"}
	}
	cmd := wire.NewCommand(s.nextTag(), "APPEND").Space().Astring(mailbox, false)
	for _, m := range msgs {
		cmd.Raw(" ")
		if len(m.Flags) > 0 {
			cmd.Raw("(" + strings.Join(m.Flags, " ") + ") ")
		}
		if m.Date != "" {
			cmd.Raw(wire.Quote(m.Date) + " ")
		}
		nonSync := s.Has(wire.CapLiteralPlus) || (s.Has(wire.CapLiteralMinus) && len(m.Content) <= 4096)
		cmd.Astring(string(m.Content), nonSync)
	}
	return s.execute(ctx, cmd)
}

type AppendMessage struct {
	Flags   []string
	Date    string
	Content []byte
}

func (s *Session) Expunge(ctx context.Context) (wire.Response, error) {
	if err := s.requireState(Selected); err != nil {
		return wire.Response{}, err
	}
	cmd := wire.NewCommand(s.nextTag(), "EXPUNGE")
	return s.execute(ctx, cmd)
}

func (s *Session) UIDExpunge(ctx context.Context, uids wire.NumSet) (wire.Response, error) {
	if err := s.requireState(Selected); err != nil {
		return wire.Response{}, err
	}
	if !s.Has(wire.CapUidplus) {
		return wire.Response{}, ErrCapabilityUnavailable{Capability: wire.CapUidplus}
	}
	if uids.IsZero() {
		return wire.Response{}, ErrArgument{Msg: "UIDExpunge requires a non-empty UID set"}
	}
	cmd := wire.NewCommand(s.nextTag(), "UID EXPUNGE").Space().Raw(uids.String())
	return s.execute(ctx, cmd)
}

// StoreAction is Add/Remove/Set semantics for STORE and its GMail-label
// vendor-extension counterpart X-GM-LABELS.
type StoreAction int

const (
	StoreSet StoreAction = iota
	StoreAdd
	StoreRemove
)

func (a StoreAction) item(silent bool, name string) string {
	prefix := map[StoreAction]string{StoreSet: "", StoreAdd: "+", StoreRemove: "-"}[a]
	suffix := ""
	if silent {
		suffix = ".SILENT"
	}
	return prefix + name + suffix
}

// StoreFlags issues STORE/UID STORE for message flags, with optional
// CONDSTORE unchanged-since guard.
func (s *Session) StoreFlags(ctx context.Context, uid bool, set wire.NumSet, action StoreAction, silent bool, unchangedSince int64, flags []string) (wire.Response, error) {
	if err := s.requireState(Selected); err != nil {
		return wire.Response{}, err
	}
	if set.IsZero() {
		return wire.Response{}, nil
	}
	name := "STORE"
	if uid {
		name = "UID STORE"
	}
	cmd := wire.NewCommand(s.nextTag(), name).Space().Raw(set.String())
	if unchangedSince > 0 {
		cmd.Raw(fmt.Sprintf(" (UNCHANGEDSINCE %d)", unchangedSince))
	}
	cmd.Raw(" " + action.item(silent, "FLAGS") + " (" + strings.Join(flags, " ") + ")")
	return s.execute(ctx, cmd)
}

// StoreLabels issues STORE X-GM-LABELS, a GMail vendor extension gated on
// the server advertising wire.CapGMailExt ("X-GM-EXT-1"); servers without it
// don't understand X-GM-LABELS at all, so this is checked client-side like
// every other capability-gated command rather than left to a raw server
// NO/BAD.
func (s *Session) StoreLabels(ctx context.Context, uid bool, set wire.NumSet, action StoreAction, silent bool, labels []string) (wire.Response, error) {
	if err := s.requireState(Selected); err != nil {
		return wire.Response{}, err
	}
	if !s.Has(wire.CapGMailExt) {
		return wire.Response{}, ErrCapabilityUnavailable{Capability: wire.CapGMailExt}
	}
	if set.IsZero() {
		return wire.Response{}, nil
	}
	name := "STORE"
	if uid {
		name = "UID STORE"
	}
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = wire.Astring(l)
	}
	cmd := wire.NewCommand(s.nextTag(), name).Space().Raw(set.String())
	cmd.Raw(" " + action.item(silent, "X-GM-LABELS") + " (" + strings.Join(quoted, " ") + ")")
	return s.execute(ctx, cmd)
}

func (s *Session) copyOrMove(ctx context.Context, name string, uid bool, set wire.NumSet, destMailbox string) (wire.Response, error) {
	if err := s.requireState(Selected); err != nil {
		return wire.Response{}, err
	}
	if set.IsZero() {
		return wire.Response{}, nil
	}
	cmdName := name
	if uid {
		cmdName = "UID " + name
	}
	cmd := wire.NewCommand(s.nextTag(), cmdName).Space().Raw(set.String()).Space().Astring(destMailbox, false)
	return s.execute(ctx, cmd)
}

func (s *Session) Copy(ctx context.Context, uid bool, set wire.NumSet, destMailbox string) (wire.Response, error) {
	return s.copyOrMove(ctx, "COPY", uid, set, destMailbox)
}

func (s *Session) Move(ctx context.Context, uid bool, set wire.NumSet, destMailbox string) (wire.Response, error) {
	if !s.Has(wire.CapMove) {
		return wire.Response{}, ErrCapabilityUnavailable{Capability: wire.CapMove}
	}
	return s.copyOrMove(ctx, "MOVE", uid, set, destMailbox)
}

// Replace issues REPLACE/UID REPLACE (RFC 8508), an atomic append+expunge.
func (s *Session) Replace(ctx context.Context, uid bool, num uint32, mailbox string, opts AppendOpts, message []byte) (wire.Response, error) {
	if !s.Has(wire.CapReplace) {
		return wire.Response{}, ErrCapabilityUnavailable{Capability: wire.CapReplace}
	}
	name := "REPLACE"
	if uid {
		name = "UID REPLACE"
	}
	cmd := wire.NewCommand(s.nextTag(), name).Space().Raw(strconv.FormatUint(uint64(num), 10)).Space().Astring(mailbox, false)
	if len(opts.Flags) > 0 {
		cmd.Raw(" (" + strings.Join(opts.Flags, " ") + ")")
	}
	if opts.Date != "" {
		cmd.Raw(" ").Raw(wire.Quote(opts.Date))
	}
	cmd.Space().Astring(string(message), s.Has(wire.CapLiteralPlus))
	return s.execute(ctx, cmd)
}

// Fetch issues FETCH/UID FETCH with a raw already-rendered attribute-list
// string (e.g. "(FLAGS UID)" or "(BODY.PEEK[HEADER])"); imaptype.FetchRequest
// is responsible for rendering that string from its structured form.
func (s *Session) Fetch(ctx context.Context, uid bool, set wire.NumSet, attrs string, changedSince int64) (wire.Response, error) {
	if err := s.requireState(Selected); err != nil {
		return wire.Response{}, err
	}
	if set.IsZero() {
		return wire.Response{}, nil
	}
	name := "FETCH"
	if uid {
		name = "UID FETCH"
	}
	cmd := wire.NewCommand(s.nextTag(), name).Space().Raw(set.String()).Space().Raw(attrs)
	if changedSince > 0 {
		cmd.Raw(fmt.Sprintf(" (CHANGEDSINCE %d)", changedSince))
	}
	return s.execute(ctx, cmd)
}

// Search issues SEARCH/UID SEARCH with an already-rendered query string; it
// is imaptype.SearchQuery's job to lower the structured query to that text.
func (s *Session) Search(ctx context.Context, uid bool, charset string, query string, esearch bool) (wire.Response, error) {
	if err := s.requireState(Selected); err != nil {
		return wire.Response{}, err
	}
	name := "SEARCH"
	if uid {
		name = "UID SEARCH"
	}
	cmd := wire.NewCommand(s.nextTag(), name)
	if esearch {
		if !s.Has(wire.CapEsearch) {
			return wire.Response{}, ErrCapabilityUnavailable{Capability: wire.CapEsearch}
		}
		cmd.Raw(" RETURN (ALL)")
	}
	if charset != "" {
		cmd.Raw(" CHARSET ").Raw(charset)
	}
	cmd.Raw(" " + query)
	return s.execute(ctx, cmd)
}

// Sort issues SORT/UID SORT (RFC 5256), requiring the SORT capability.
func (s *Session) Sort(ctx context.Context, uid bool, sortKeys []string, charset string, query string) (wire.Response, error) {
	if !s.Has(wire.CapSort) {
		return wire.Response{}, ErrCapabilityUnavailable{Capability: wire.CapSort}
	}
	if err := s.requireState(Selected); err != nil {
		return wire.Response{}, err
	}
	name := "SORT"
	if uid {
		name = "UID SORT"
	}
	if charset == "" {
		charset = "UTF-8"
	}
	cmd := wire.NewCommand(s.nextTag(), name).Raw(" (" + strings.Join(sortKeys, " ") + ") " + charset + " " + query)
	return s.execute(ctx, cmd)
}

// Thread issues THREAD/UID THREAD (RFC 5256), requiring one of the
// THREAD=<algorithm> capabilities.
func (s *Session) Thread(ctx context.Context, uid bool, algorithm, charset string, query string) (wire.Response, error) {
	if !s.Has(wire.Capability("THREAD=" + algorithm)) {
		return wire.Response{}, ErrCapabilityUnavailable{Capability: wire.Capability("THREAD=" + algorithm)}
	}
	if err := s.requireState(Selected); err != nil {
		return wire.Response{}, err
	}
	name := "THREAD"
	if uid {
		name = "UID THREAD"
	}
	if charset == "" {
		charset = "UTF-8"
	}
	cmd := wire.NewCommand(s.nextTag(), name).Raw(" " + algorithm + " " + charset + " " + query)
	return s.execute(ctx, cmd)
}

// Check issues CHECK, a server-implementation-defined housekeeping hint.
func (s *Session) Check(ctx context.Context) error {
	if err := s.requireState(Selected); err != nil {
		return err
	}
	cmd := wire.NewCommand(s.nextTag(), "CHECK")
	_, err := s.execute(ctx, cmd)
	return err
}

// Idle enters IDLE mode: it blocks until ctx is canceled or stop is invoked,
// feeding every untagged update observed meanwhile to listeners as usual,
// then sends DONE and waits for the tagged completion. IDLE's own
// cancellation (DONE) is the one exception to the "disconnect cancels
// everything" rule in spec.md §5.
func (s *Session) Idle(ctx context.Context, stop <-chan struct{}) error {
	if !s.Has(wire.CapIdle) {
		return ErrCapabilityUnavailable{Capability: wire.CapIdle}
	}
	if err := s.requireState(Selected); err != nil {
		return err
	}
	// The session mutex is held for the whole IDLE, matching spec.md §5's rule
	// that IDLE is an exclusive command; the DONE-sending goroutine below is
	// logically part of this call and writes without re-acquiring it.
	s.mu.Lock()
	defer s.mu.Unlock()

	tag := s.nextTag()
	if err := s.w.WriteString(tag + " IDLE\r\n"); err != nil {
		return newFatal(err)
	}
	if err := s.w.Flush(); err != nil {
		return newFatal(err)
	}
	line, err := s.r.ReadNext()
	if err != nil {
		return newFatal(err)
	}
	if !line.Continuation {
		if line.Tag == tag {
			return classify(line.Tagged)
		}
		return newFatal(fmt.Errorf("expected continuation for IDLE"))
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		case <-done:
			return
		}
		_ = s.w.WriteString("DONE\r\n")
		_ = s.w.Flush()
	}()
	defer close(done)

	for {
		l, err := s.r.ReadNext()
		if err != nil {
			return newFatal(err)
		}
		if l.Tag == tag {
			return classify(l.Tagged)
		}
		if l.Untagged != nil {
			s.dispatchLocked(l.Untagged)
		}
	}
}

// GetMetadata issues GETMETADATA (RFC 5464) for the given entries under
// mailbox, returning every annotation the server returned.
func (s *Session) GetMetadata(ctx context.Context, mailbox string, entries []string) ([]wire.Annotation, error) {
	if !s.Has(wire.CapMetadata) {
		return nil, ErrCapabilityUnavailable{Capability: wire.CapMetadata}
	}
	cmd := wire.NewCommand(s.nextTag(), "GETMETADATA").Space().Astring(mailbox, false).Raw(" (")
	for i, e := range entries {
		if i > 0 {
			cmd.Raw(" ")
		}
		cmd.Raw(wire.Astring(e))
	}
	cmd.Raw(")")
	resp, err := s.execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	var out []wire.Annotation
	for _, u := range resp.Untagged {
		if a, ok := u.(wire.UntaggedMetadataAnnotations); ok {
			out = append(out, a.Annotations...)
		}
	}
	return out, nil
}

// SetMetadata issues SETMETADATA, writing one or more annotation entries; a
// nil value un-sets a previously stored entry.
func (s *Session) SetMetadata(ctx context.Context, mailbox string, entries map[string][]byte) error {
	if !s.Has(wire.CapMetadata) {
		return ErrCapabilityUnavailable{Capability: wire.CapMetadata}
	}
	cmd := wire.NewCommand(s.nextTag(), "SETMETADATA").Space().Astring(mailbox, false).Raw(" (")
	first := true
	for k, v := range entries {
		if !first {
			cmd.Raw(" ")
		}
		first = false
		cmd.Raw(wire.Astring(k)).Raw(" ")
		if v == nil {
			cmd.Raw("NIL")
		} else {
			cmd.Astring(string(v), s.Has(wire.CapLiteralPlus))
		}
	}
	cmd.Raw(")")
	_, err := s.execute(ctx, cmd)
	return err
}

// CompressDeflate issues COMPRESS DEFLATE (RFC 4978) and, on success, wraps
// the reader/writer in DEFLATE framing.
func (s *Session) CompressDeflate(ctx context.Context, newLayer func(transport.Conn) transport.Conn) error {
	if !s.Has(wire.CapCompressDeflate) {
		return ErrCapabilityUnavailable{Capability: wire.CapCompressDeflate}
	}
	cmd := wire.NewCommand(s.nextTag(), "COMPRESS DEFLATE")
	_, err := s.execute(ctx, cmd)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	nc := newLayer(s.conn)
	s.conn = nc
	s.tr = transport.NewTraceReader(s.log, "<-", nc)
	s.tw = transport.NewTraceWriter(s.log, "->", nc)
	s.r = wire.NewReader(s.tr)
	s.w = wire.NewWriter(s.tw)
	return nil
}
