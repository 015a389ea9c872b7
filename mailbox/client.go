package mailbox

import (
	"fmt"
	"sync"

	"github.com/aTiKhan/MailKit/engine"
	"github.com/aTiKhan/MailKit/imaptype"
	"github.com/aTiKhan/MailKit/wire"
)

// Client is the folder subsystem's entry point: one per engine.Session, it
// owns the namespace registry and the event bus, and exposes every §4.4
// folder operation. Exactly one Folder can be Selected at a time, mirroring
// the underlying session's state machine.
type Client struct {
	sess *engine.Session

	mu       sync.Mutex
	registry registry
	selected *Folder
	bus      eventBus
}

// New wraps an already-authenticated engine.Session. The caller is
// responsible for completing the connect/login sequence first; Client only
// ever issues folder-level commands (SELECT and below).
func New(sess *engine.Session) *Client {
	c := &Client{sess: sess, registry: registry{}}
	sess.AddListener(c.onUntagged)
	return c
}

// Session exposes the underlying engine session for capability checks or
// operations the mailbox package doesn't wrap (e.g. Idle, StartTLS).
func (c *Client) Session() *engine.Session { return c.sess }

// Selected returns the currently open folder, or nil.
func (c *Client) Selected() *Folder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// onUntagged is the engine.Listener that keeps Folder state and the event
// bus in sync with every unsolicited update. It runs on the session's
// goroutine while the session mutex is held by execute/Idle, so it must
// never call back into the session.
func (c *Client) onUntagged(u wire.Untagged) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.selected
	switch v := u.(type) {
	case wire.UntaggedExists:
		if f != nil {
			f.Count = uint32(v)
			f.Exists = uint32(v)
			c.bus.publish(Event{Kind: EventCountChanged, Folder: f})
		}
	case wire.UntaggedExpunge:
		if f != nil {
			if f.Count > 0 {
				f.Count--
			}
			c.bus.publish(Event{Kind: EventMessageExpunged, Folder: f, Seq: uint32(v)})
			c.bus.publish(Event{Kind: EventCountChanged, Folder: f})
		}
	case wire.UntaggedVanished:
		if f != nil {
			nums := v.UIDs.Numbers(f.UIDNext)
			if !v.Earlier && f.Count >= uint32(len(nums)) {
				f.Count -= uint32(len(nums))
			}
			c.bus.publish(Event{Kind: EventMessagesVanished, Folder: f, UIDs: nums, Earlier: v.Earlier})
			if !v.Earlier {
				c.bus.publish(Event{Kind: EventCountChanged, Folder: f})
			}
		}
	case wire.UntaggedRecent:
		if f != nil {
			f.Recent = uint32(v)
			c.bus.publish(Event{Kind: EventRecentChanged, Folder: f})
		}
	case wire.UntaggedFlags:
		if f != nil {
			sys, kw := ParseFlags(v)
			f.AcceptedFlags = sys
			f.AcceptedKeywords = kw
		}
	case wire.UntaggedFetch:
		c.dispatchFetch(f, v)
	case wire.UntaggedStatus:
		c.dispatchStatus(v)
	case wire.UntaggedID:
		c.bus.publish(Event{Kind: EventIDChanged, ID: map[string]string(v)})
	case wire.UntaggedMetadataAnnotations:
		folder := c.registry[v.Mailbox]
		for _, a := range v.Annotations {
			c.bus.publish(Event{
				Kind: EventMetadataChanged, Folder: folder,
				MetadataTag: a.Key, MetadataValue: a.Value,
			})
		}
	case wire.UntaggedBye:
		if f != nil {
			f.IsOpen = false
		}
		c.bus.publish(Event{Kind: EventDisconnected})
	}
}

// dispatchFetch applies an (often unsolicited) per-message FETCH update to
// the event bus: one MessageSummaryFetched for the full summary, plus a
// narrower event per attribute kind the server actually sent, matching
// spec.md's per-attribute event surface (message_flags_changed,
// message_labels_changed, annotations_changed, mod_seq_changed).
func (c *Client) dispatchFetch(f *Folder, fe wire.UntaggedFetch) {
	validity := uint32(0)
	if f != nil {
		validity = f.UIDValidity
	}
	s := &imaptype.MessageSummary{Seq: fe.Seq, UID: imaptype.UniqueId{Validity: validity}}
	s.ApplyFetch(fe.Attrs)
	c.bus.publish(Event{Kind: EventMessageSummaryFetched, Folder: f, Summary: s})

	var modSeq int64
	if s.ModSeq != nil {
		modSeq = *s.ModSeq
	}
	for _, a := range fe.Attrs {
		switch a.(type) {
		case wire.FetchFlags:
			_, kw := ParseFlags(s.Flags)
			c.bus.publish(Event{Kind: EventMessageFlagsChanged, Folder: f, Seq: fe.Seq, Flags: s.Flags, Keywords: kw, ModSeq: modSeq})
		case wire.FetchGMailLabels:
			c.bus.publish(Event{Kind: EventMessageLabelsChanged, Folder: f, Seq: fe.Seq, Labels: s.GMailLabels, ModSeq: modSeq})
		case wire.FetchAnnotation:
			c.bus.publish(Event{Kind: EventAnnotationsChanged, Folder: f, Seq: fe.Seq, Annotations: s.Annotations, ModSeq: modSeq})
		case wire.FetchModSeq:
			c.bus.publish(Event{Kind: EventModSeqChanged, Folder: f, Seq: fe.Seq, ModSeq: modSeq})
		}
	}
}

// dispatchStatus translates a STATUS response's attribute deltas into the
// matching per-field events, applied against whichever registered Folder the
// response names (STATUS can target any mailbox, not just the Selected one).
func (c *Client) dispatchStatus(v wire.UntaggedStatus) {
	folder := c.registry[v.Mailbox]
	if folder == nil {
		return
	}
	for attr, n := range v.Attrs {
		switch attr {
		case wire.StatusMessages:
			folder.Count = uint32(n)
			c.bus.publish(Event{Kind: EventCountChanged, Folder: folder})
		case wire.StatusUIDNext:
			folder.UIDNext = uint32(n)
			c.bus.publish(Event{Kind: EventUIDNextChanged, Folder: folder})
		case wire.StatusUIDValidity:
			folder.UIDValidity = uint32(n)
			c.bus.publish(Event{Kind: EventUIDValidityChanged, Folder: folder})
		case wire.StatusUnseen:
			folder.Unread = uint32(n)
			c.bus.publish(Event{Kind: EventUnreadChanged, Folder: folder})
		case wire.StatusSize:
			folder.Size = n
			c.bus.publish(Event{Kind: EventSizeChanged, Folder: folder})
		case wire.StatusRecent:
			folder.Recent = uint32(n)
			c.bus.publish(Event{Kind: EventRecentChanged, Folder: folder})
		case wire.StatusHighestModSeq:
			folder.HighestModSeq = n
			c.bus.publish(Event{Kind: EventHighestModSeqChanged, Folder: folder})
		}
	}
}

// errUIDValidityChanged is returned when an already-SELECTed folder reports a
// different UIDVALIDITY without having been closed first: every UID the
// caller cached for it is now meaningless, and RFC 3501 §2.3.1.1 guarantees
// UIDVALIDITY is stable for the lifetime of a single SELECT, so this can only
// mean a protocol violation. A folder that was properly Closed (or dropped by
// a disconnect) and is now being reopened with a new UIDVALIDITY is a normal
// cache-invalidation event instead; see syncFromMailboxState's validityChanged
// return.
type errUIDValidityChanged struct {
	Folder   string
	Old, New uint32
}

func (e errUIDValidityChanged) Error() string {
	return fmt.Sprintf("mailbox: UIDVALIDITY of %q changed from %d to %d", e.Folder, e.Old, e.New)
}

// syncFromMailboxState copies the engine's freshly (re)selected mailbox
// state onto the Folder, applied right after SELECT/EXAMINE succeeds.
// validityChanged reports whether UIDVALIDITY differs from a previously
// known value for an already-closed folder; the caller publishes
// EventUIDValidityChanged for that case rather than syncFromMailboxState
// itself, since this function also runs standalone from tests with no bus to
// publish to.
func syncFromMailboxState(f *Folder, ms *engine.MailboxState) (validityChanged bool, err error) {
	changed := f.UIDValidity != 0 && ms.UIDValidity != 0 && f.UIDValidity != ms.UIDValidity
	if changed && f.IsOpen {
		return false, errUIDValidityChanged{Folder: f.FullName, Old: f.UIDValidity, New: ms.UIDValidity}
	}
	f.IsOpen = true
	f.Exists = ms.Exists
	f.Count = ms.Exists
	f.Recent = ms.Recent
	f.Unread = ms.Unseen
	f.UIDValidity = ms.UIDValidity
	f.UIDNext = ms.UIDNext
	f.HighestModSeq = ms.HighestModSeq
	f.NoModSeq = ms.NoModSeq
	sys, kw := ParseFlags(ms.PermanentFlags)
	f.PermanentFlags = sys
	f.PermanentKeywords = kw
	asys, akw := ParseFlags(ms.Flags)
	f.AcceptedFlags = asys
	f.AcceptedKeywords = akw
	if ms.ReadWrite {
		f.Access = AccessReadWrite
	} else {
		f.Access = AccessReadOnly
	}
	return changed, nil
}
