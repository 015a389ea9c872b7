package imaptype

import (
	"time"

	"github.com/aTiKhan/MailKit/wire"
)

// MessageSummary is a sparse per-message record addressed by (folder,
// sequence number, UniqueId). Every field beyond those three is populated
// only when the corresponding FETCH item was requested or volunteered by
// the server unsolicited; a plain zero value could not distinguish "not
// requested" from "empty on the wire", which is why most of them are
// pointers or nil-able slices.
type MessageSummary struct {
	Seq uint32
	UID UniqueId

	Envelope      *wire.Envelope
	InternalDate  *time.Time
	Size          *int64
	Flags         []string
	ModSeq        *int64
	GMailLabels   []string
	GMailThreadID *uint64
	GMailMsgID    *uint64
	Bodystructure any
	Preview       *string

	// Annotations holds any METADATA-style per-message annotations fetched via
	// the ANNOTATE extension, keyed by entry name.
	Annotations map[string][]byte
}

// ApplyFetch merges one FETCH response's attributes into the summary,
// mirroring how a live session updates its message cache when unsolicited
// FETCH updates arrive (spec.md's "merge items into cached MessageSummary").
func (m *MessageSummary) ApplyFetch(attrs []wire.FetchAttr) {
	for _, a := range attrs {
		switch v := a.(type) {
		case wire.FetchFlags:
			m.Flags = []string(v)
		case wire.FetchEnvelope:
			e := wire.Envelope(v)
			m.Envelope = &e
		case wire.FetchInternalDate:
			d := v.Date
			m.InternalDate = &d
		case wire.FetchRFC822Size:
			sz := int64(v)
			m.Size = &sz
		case wire.FetchUID:
			m.UID.Value = uint32(v)
		case wire.FetchModSeq:
			ms := int64(v)
			m.ModSeq = &ms
		case wire.FetchGMailLabels:
			m.GMailLabels = []string(v)
		case wire.FetchGMailThreadID:
			id := uint64(v)
			m.GMailThreadID = &id
		case wire.FetchGMailMsgID:
			id := uint64(v)
			m.GMailMsgID = &id
		case wire.FetchBodystructure:
			m.Bodystructure = v.Body
		case wire.FetchPreview:
			m.Preview = v.Preview
		case wire.FetchAnnotation:
			ann := make(map[string][]byte, len(v))
			for _, a := range v {
				ann[a.Key] = a.Value
			}
			m.Annotations = ann
		}
	}
}

// MessageThread is one node of a THREAD response forest: its UID is the zero
// UniqueId for a placeholder ("dummy") node introduced only to connect
// children that share no real parent message, per RFC 5256 §2.
type MessageThread struct {
	UID      UniqueId
	Children []*MessageThread
}

// IsDummy reports whether this node is a placeholder with no real message.
func (t *MessageThread) IsDummy() bool { return t.UID.IsZero() }
