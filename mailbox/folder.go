// Package mailbox implements the folder subsystem (layer L4): the Folder
// abstraction, a namespace registry keyed by full name, a synchronous event
// bus, and the high-level operations (open/close/create/rename/delete/
// fetch/store/search/sort/thread/...) that translate into engine-layer
// commands.
package mailbox

import (
	"github.com/aTiKhan/MailKit/wire"
)

// Attributes is a bitset of LIST response flags and special-use hints.
type Attributes uint32

const (
	AttrHasChildren Attributes = 1 << iota
	AttrHasNoChildren
	AttrMarked
	AttrUnmarked
	AttrNoSelect
	AttrNoInferiors
	AttrSubscribed
	AttrRemote
	AttrInbox
	AttrAll
	AttrArchive
	AttrDrafts
	AttrFlagged
	AttrJunk
	AttrSent
	AttrTrash
	AttrImportant
)

var attrNames = map[string]Attributes{
	`\HasChildren`:   AttrHasChildren,
	`\HasNoChildren`: AttrHasNoChildren,
	`\Marked`:        AttrMarked,
	`\Unmarked`:      AttrUnmarked,
	`\Noselect`:      AttrNoSelect,
	`\Noinferiors`:   AttrNoInferiors,
	`\Subscribed`:    AttrSubscribed,
	`\Remote`:        AttrRemote,
	`\All`:           AttrAll,
	`\Archive`:       AttrArchive,
	`\Drafts`:        AttrDrafts,
	`\Flagged`:       AttrFlagged,
	`\Junk`:          AttrJunk,
	`\Sent`:          AttrSent,
	`\Trash`:         AttrTrash,
	`\Important`:     AttrImportant,
}

// ParseAttributes maps the \-prefixed LIST-response flag atoms to a bitset.
// \Inbox has no wire representation; callers set it from the mailbox name.
func ParseAttributes(flags []string) Attributes {
	var a Attributes
	for _, f := range flags {
		a |= attrNames[f]
	}
	return a
}

func (a Attributes) Has(f Attributes) bool { return a&f != 0 }

// SystemFlag is a bitset of the RFC 3501 system flags, plus a marker bit for
// whether the folder accepts arbitrary user-defined keywords.
type SystemFlag uint32

const (
	FlagAnswered SystemFlag = 1 << iota
	FlagDeleted
	FlagDraft
	FlagFlagged
	FlagRecent
	FlagSeen
	FlagAllowsKeywords
)

var systemFlagNames = map[string]SystemFlag{
	`\Answered`: FlagAnswered,
	`\Deleted`:  FlagDeleted,
	`\Draft`:    FlagDraft,
	`\Flagged`:  FlagFlagged,
	`\Recent`:   FlagRecent,
	`\Seen`:     FlagSeen,
	`\*`:        FlagAllowsKeywords,
}

// ParseFlags splits a raw IMAP flag list into known system flags and
// free-form keywords.
func ParseFlags(flags []string) (sys SystemFlag, keywords []string) {
	for _, f := range flags {
		if bit, ok := systemFlagNames[f]; ok {
			sys |= bit
			continue
		}
		keywords = append(keywords, f)
	}
	return
}

// AccessMode is the effective access level of an open folder.
type AccessMode int

const (
	AccessNone AccessMode = iota
	AccessReadOnly
	AccessReadWrite
)

func (a AccessMode) String() string {
	switch a {
	case AccessReadOnly:
		return "read-only"
	case AccessReadWrite:
		return "read-write"
	}
	return "none"
}

// AnnotationScope describes where ANNOTATE-EXPERIMENT-1 entries may be
// attached: the mailbox itself, its messages, or both.
type AnnotationScope int

const (
	AnnotationScopeNone AnnotationScope = iota
	AnnotationScopeMailbox
	AnnotationScopeMessage
	AnnotationScopeBoth
)

// Folder is a node in the hierarchical mailbox namespace. It is owned
// exclusively by its Client: mutated on response dispatch and by the
// explicit operations in ops.go, read freely by callers via its exported
// fields and accessor methods.
type Folder struct {
	FullName           string
	Name               string
	DirectorySeparator byte
	parentName         string // looked up lazily via the owning Client's registry
	client             *Client

	Attributes Attributes
	Access     AccessMode
	IsOpen     bool
	Exists     uint32
	IsSubscribed bool
	IsNamespace bool

	PermanentFlags   SystemFlag
	PermanentKeywords []string
	AcceptedFlags    SystemFlag
	AcceptedKeywords []string

	UIDValidity       uint32
	UIDNext           uint32
	HighestModSeq     int64
	NoModSeq          bool
	Count             uint32
	Recent            uint32
	Unread            uint32
	FirstUnread       uint32
	Size              int64
	AppendLimit       int64 // 0 or -1 when unknown/unbounded
	ID                string // stable across renames, requires OBJECTID

	AnnotationAccess   AnnotationScope
	MaxAnnotationSize  int64
	ThreadingAlgorithms map[string]bool
}

// Parent returns the parent folder via the owning Client's registry, or nil
// for a top-level folder. The relation is a lookup, never ownership: Folder
// holds only the parent's name.
func (f *Folder) Parent() *Folder {
	if f.parentName == "" || f.client == nil {
		return nil
	}
	return f.client.registry[f.parentName]
}

func (f *Folder) HasSpecialUse(a Attributes) bool { return f.Attributes.Has(a) }

// wireSpecialUse maps special-use Attributes bits back to wire capability
// tokens, used when rendering a CREATE with USE (RFC 6154).
func wireSpecialUse(a Attributes) []wire.Capability {
	var out []wire.Capability
	pairs := []struct {
		bit Attributes
		tok string
	}{
		{AttrAll, `\All`}, {AttrArchive, `\Archive`}, {AttrDrafts, `\Drafts`},
		{AttrFlagged, `\Flagged`}, {AttrJunk, `\Junk`}, {AttrSent, `\Sent`},
		{AttrTrash, `\Trash`}, {AttrImportant, `\Important`},
	}
	for _, p := range pairs {
		if a.Has(p.bit) {
			out = append(out, wire.Capability(p.tok))
		}
	}
	return out
}
