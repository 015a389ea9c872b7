package mailbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aTiKhan/MailKit/engine"
	"github.com/aTiKhan/MailKit/imaptype"
	"github.com/aTiKhan/MailKit/wire"
)

// recordEvents returns a Subscriber plus the slice it appends to, for
// asserting the sequence of events a dispatch produced.
func recordEvents() (Subscriber, *[]Event) {
	var got []Event
	return func(e Event) { got = append(got, e) }, &got
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestSyncFromMailboxStateRejectsUIDValidityChangeWhileOpen(t *testing.T) {
	f := &Folder{FullName: "INBOX", UIDValidity: 100, IsOpen: true}
	_, err := syncFromMailboxState(f, &engine.MailboxState{UIDValidity: 200, Exists: 5})
	require.Error(t, err)
	var uverr errUIDValidityChanged
	require.ErrorAs(t, err, &uverr)
	require.Equal(t, uint32(100), uverr.Old)
	require.Equal(t, uint32(200), uverr.New)
	// the folder must be left untouched on rejection
	require.Equal(t, uint32(100), f.UIDValidity)
	require.True(t, f.IsOpen)
}

func TestSyncFromMailboxStateAcceptsUIDValidityChangeOnReopen(t *testing.T) {
	// folder was known (cached from a prior session) but is not currently
	// open: a new UIDVALIDITY on reopen is a cache-invalidation event, not a
	// protocol violation (spec.md scenario 4).
	f := &Folder{FullName: "INBOX", UIDValidity: 1234}
	changed, err := syncFromMailboxState(f, &engine.MailboxState{UIDValidity: 9999, Exists: 11})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, uint32(9999), f.UIDValidity)
	require.True(t, f.IsOpen)
}

func TestSyncFromMailboxStateFirstSelectAcceptsAnyUIDValidity(t *testing.T) {
	f := &Folder{FullName: "INBOX"}
	changed, err := syncFromMailboxState(f, &engine.MailboxState{UIDValidity: 200, Exists: 5, ReadWrite: true})
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, uint32(200), f.UIDValidity)
	require.True(t, f.IsOpen)
	require.Equal(t, AccessReadWrite, f.Access)
}

func TestSyncFromMailboxStateSameValidityIsFine(t *testing.T) {
	f := &Folder{FullName: "INBOX", UIDValidity: 100, IsOpen: true}
	changed, err := syncFromMailboxState(f, &engine.MailboxState{UIDValidity: 100, Exists: 9})
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, uint32(9), f.Count)
}

func TestCopyMoveStoreEmptySetIsNoOp(t *testing.T) {
	c := &Client{registry: registry{}}
	ctx := context.Background()

	m, err := c.CopyTo(ctx, true, nil, "Archive")
	require.NoError(t, err)
	require.True(t, m.IsZero())

	m, err = c.MoveTo(ctx, true, nil, "Archive")
	require.NoError(t, err)
	require.True(t, m.IsZero())

	skipped, err := c.Store(ctx, true, nil, imaptype.StoreFlagsRequest{})
	require.NoError(t, err)
	require.Nil(t, skipped)
}

func TestResyncPointNilForUnopenedFolder(t *testing.T) {
	require.Nil(t, ResyncPoint(nil))
	require.Nil(t, ResyncPoint(&Folder{}))
}

func TestResyncPointCarriesValidityAndModSeq(t *testing.T) {
	f := &Folder{UIDValidity: 100, HighestModSeq: 55}
	qr := ResyncPoint(f)
	require.NotNil(t, qr)
	require.Equal(t, uint32(100), qr.UIDValidity)
	require.Equal(t, int64(55), qr.ModSeq)
}

func TestOnUntaggedExistsFiresCountChanged(t *testing.T) {
	c := &Client{registry: registry{}}
	f := &Folder{FullName: "INBOX"}
	c.selected = f
	sub, got := recordEvents()
	c.Listen(sub)

	c.onUntagged(wire.UntaggedExists(7))

	require.Equal(t, uint32(7), f.Count)
	require.Equal(t, []EventKind{EventCountChanged}, kinds(*got))
}

func TestOnUntaggedExpungeFiresExpungedThenCountChanged(t *testing.T) {
	c := &Client{registry: registry{}}
	f := &Folder{FullName: "INBOX", Count: 3}
	c.selected = f
	sub, got := recordEvents()
	c.Listen(sub)

	c.onUntagged(wire.UntaggedExpunge(2))

	require.Equal(t, uint32(2), f.Count)
	require.Equal(t, []EventKind{EventMessageExpunged, EventCountChanged}, kinds(*got))
	require.Equal(t, uint32(2), (*got)[0].Seq)
}

func TestOnUntaggedRecentFiresRecentChanged(t *testing.T) {
	c := &Client{registry: registry{}}
	f := &Folder{FullName: "INBOX"}
	c.selected = f
	sub, got := recordEvents()
	c.Listen(sub)

	c.onUntagged(wire.UntaggedRecent(4))

	require.Equal(t, uint32(4), f.Recent)
	require.Equal(t, []EventKind{EventRecentChanged}, kinds(*got))
}

func TestOnUntaggedFetchFiresSummaryAndFlagsChanged(t *testing.T) {
	c := &Client{registry: registry{}}
	f := &Folder{FullName: "INBOX", UIDValidity: 10}
	c.selected = f
	sub, got := recordEvents()
	c.Listen(sub)

	c.onUntagged(wire.UntaggedFetch{Seq: 5, Attrs: []wire.FetchAttr{
		wire.FetchFlags{`\Seen`},
		wire.FetchModSeq(42),
	}})

	require.Equal(t, []EventKind{EventMessageSummaryFetched, EventMessageFlagsChanged, EventModSeqChanged}, kinds(*got))
	flagsEvt := (*got)[1]
	require.Equal(t, uint32(5), flagsEvt.Seq)
	require.Equal(t, []string{`\Seen`}, flagsEvt.Flags)
	require.Equal(t, int64(42), flagsEvt.ModSeq)
}

func TestOnUntaggedStatusUpdatesRegisteredFolderAndFiresEvents(t *testing.T) {
	f := &Folder{FullName: "Archive"}
	c := &Client{registry: registry{"Archive": f}}
	sub, got := recordEvents()
	c.Listen(sub)

	c.onUntagged(wire.UntaggedStatus{
		Mailbox: "Archive",
		Attrs: map[wire.StatusAttr]int64{
			wire.StatusMessages:  12,
			wire.StatusUIDNext:   99,
			wire.StatusUnseen:    3,
		},
	})

	require.Equal(t, uint32(12), f.Count)
	require.Equal(t, uint32(99), f.UIDNext)
	require.Equal(t, uint32(3), f.Unread)
	require.ElementsMatch(t, []EventKind{EventCountChanged, EventUIDNextChanged, EventUnreadChanged}, kinds(*got))
}

func TestOnUntaggedStatusIgnoresUnknownMailbox(t *testing.T) {
	c := &Client{registry: registry{}}
	sub, got := recordEvents()
	c.Listen(sub)

	c.onUntagged(wire.UntaggedStatus{Mailbox: "Nope", Attrs: map[wire.StatusAttr]int64{wire.StatusMessages: 1}})

	require.Empty(t, *got)
}

func TestThreadRejectsUnsupportedAlgorithmClientSide(t *testing.T) {
	c := &Client{registry: registry{}}
	c.selected = &Folder{
		FullName:            "INBOX",
		ThreadingAlgorithms: map[string]bool{"REFERENCES": true},
	}
	_, err := c.Thread(context.Background(), true, "ORDEREDSUBJECT", imaptype.Term("ALL"))
	require.Error(t, err)
	var capErr engine.ErrCapabilityUnavailable
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, "THREAD=ORDEREDSUBJECT", string(capErr.Capability))
}
