// Package imaptype holds the request/result types of layer L5: UniqueId and
// UniqueIdMap, MessageSummary and MessageThread, and the structured
// FetchRequest/SearchQuery/OrderBy/Append/Replace/Store request builders that
// lower to wire-level strings consumed by the engine package.
package imaptype

import "fmt"

// UniqueId is a (validity, value) pair. Two UniqueIds are only meaningfully
// comparable when their Validity fields match; a UIDVALIDITY change on the
// folder invalidates every UniqueId a caller has cached for it.
type UniqueId struct {
	Validity uint32
	Value    uint32
}

func (u UniqueId) IsZero() bool { return u.Validity == 0 && u.Value == 0 }

func (u UniqueId) String() string { return fmt.Sprintf("%d:%d", u.Validity, u.Value) }

// UniqueIdMap is an ordered source→destination UniqueId mapping, as returned
// by a COPY/MOVE that the server acknowledged with APPENDUID/COPYUID
// (requires UIDPLUS). It is empty, not nil-valued per entry, when the
// extension isn't available.
type UniqueIdMap struct {
	Validity uint32 // destination folder's UIDVALIDITY
	Pairs    []UniqueIdPair
}

type UniqueIdPair struct {
	Src, Dst uint32
}

func (m UniqueIdMap) IsZero() bool { return m.Validity == 0 && len(m.Pairs) == 0 }

// Dst looks up the destination UID for a given source UID, the common case
// when a caller copied/moved a single message.
func (m UniqueIdMap) Dst(src uint32) (uint32, bool) {
	for _, p := range m.Pairs {
		if p.Src == src {
			return p.Dst, true
		}
	}
	return 0, false
}
