package imaptype

import (
	"fmt"
	"strings"

	"github.com/aTiKhan/MailKit/wire"
)

// SearchQuery is a tree of logical operators over atomic search terms. The
// zero value matches every message (renders to "ALL").
type SearchQuery struct {
	and  []*SearchQuery
	or   []*SearchQuery // exactly 2 entries when op is opOr
	not  *SearchQuery
	term string // pre-rendered atomic term, or "" for a pure combinator node
	op   op
}

type op int

const (
	opTerm op = iota
	opAnd
	opOr
	opNot
)

func Term(rendered string) *SearchQuery { return &SearchQuery{op: opTerm, term: rendered} }

func And(qs ...*SearchQuery) *SearchQuery { return &SearchQuery{op: opAnd, and: qs} }

func Or(a, b *SearchQuery) *SearchQuery { return &SearchQuery{op: opOr, or: []*SearchQuery{a, b}} }

func Not(q *SearchQuery) *SearchQuery { return &SearchQuery{op: opNot, not: q} }

// Atomic term constructors. Each maps to exactly one IMAP SEARCH key per
// spec.md's lowering rule; string-valued terms that contain non-ASCII bytes
// force Render's caller to declare a CHARSET.
func HeaderContains(field, value string) *SearchQuery {
	return Term(fmt.Sprintf("HEADER %s %s", strings.ToUpper(field), wire.Astring(value)))
}

func BodyContains(value string) *SearchQuery { return Term("BODY " + wire.Astring(value)) }

func TextContains(value string) *SearchQuery { return Term("TEXT " + wire.Astring(value)) }

func HasFlag(flag string) *SearchQuery {
	switch strings.ToLower(flag) {
	case "\\seen", "seen":
		return Term("SEEN")
	case "\\answered", "answered":
		return Term("ANSWERED")
	case "\\flagged", "flagged":
		return Term("FLAGGED")
	case "\\deleted", "deleted":
		return Term("DELETED")
	case "\\draft", "draft":
		return Term("DRAFT")
	}
	return Term("KEYWORD " + wire.Astring(flag))
}

func LacksFlag(flag string) *SearchQuery { return Not(HasFlag(flag)) }

func Before(date string) *SearchQuery { return Term("BEFORE " + date) }
func Since(date string) *SearchQuery  { return Term("SINCE " + date) }
func On(date string) *SearchQuery     { return Term("ON " + date) }

func UIDIn(set wire.NumSet) *SearchQuery { return Term("UID " + set.String()) }

func ModSeqAtLeast(modSeq int64) *SearchQuery {
	return Term(fmt.Sprintf("MODSEQ %d", modSeq))
}

func LargerThan(bytes int64) *SearchQuery  { return Term(fmt.Sprintf("LARGER %d", bytes)) }
func SmallerThan(bytes int64) *SearchQuery { return Term(fmt.Sprintf("SMALLER %d", bytes)) }

func AnnotationMatch(entry, attr, value string) *SearchQuery {
	return Term(fmt.Sprintf("ANNOTATION %s %s %s", wire.Astring(entry), wire.Astring(attr), wire.Astring(value)))
}

func GMailRaw(query string) *SearchQuery { return Term("X-GM-RAW " + wire.Astring(query)) }
func GMailThreadID(id uint64) *SearchQuery {
	return Term(fmt.Sprintf("X-GM-THRID %d", id))
}
func GMailMsgID(id uint64) *SearchQuery { return Term(fmt.Sprintf("X-GM-MSGID %d", id)) }
func GMailHasLabel(label string) *SearchQuery {
	return Term("X-GM-LABELS " + wire.Astring(label))
}

// Render lowers the query tree to IMAP SEARCH key syntax: conjunctions
// concatenate space-separated, disjunctions wrap in "OR a b", negations
// prefix "NOT".
func (q *SearchQuery) Render() string {
	if q == nil {
		return "ALL"
	}
	switch q.op {
	case opTerm:
		if q.term == "" {
			return "ALL"
		}
		return q.term
	case opAnd:
		if len(q.and) == 0 {
			return "ALL"
		}
		parts := make([]string, len(q.and))
		for i, c := range q.and {
			parts[i] = c.Render()
		}
		return strings.Join(parts, " ")
	case opOr:
		return fmt.Sprintf("OR %s %s", q.or[0].Render(), q.or[1].Render())
	case opNot:
		return "NOT " + q.not.Render()
	}
	return "ALL"
}

// NeedsUTF8 reports whether the rendered query contains non-ASCII bytes, in
// which case the caller must declare CHARSET UTF-8 per spec.md's rule.
func (q *SearchQuery) NeedsUTF8() bool {
	for _, b := range []byte(q.Render()) {
		if b >= 0x80 {
			return true
		}
	}
	return false
}

// OrderBy is one SORT key, optionally reversed.
type OrderBy struct {
	Key     SortKey
	Reverse bool
}

type SortKey string

const (
	SortArrival SortKey = "ARRIVAL"
	SortCc      SortKey = "CC"
	SortDate    SortKey = "DATE"
	SortFrom    SortKey = "FROM"
	SortSize    SortKey = "SIZE"
	SortSubject SortKey = "SUBJECT"
	SortTo      SortKey = "TO"
)

// RenderSortKeys lowers an ordered list of OrderBy to the "(key...)" list
// SORT expects, prefixing reversed keys with "REVERSE".
func RenderSortKeys(order []OrderBy) []string {
	out := make([]string, 0, len(order))
	for _, o := range order {
		if o.Reverse {
			out = append(out, "REVERSE", string(o.Key))
		} else {
			out = append(out, string(o.Key))
		}
	}
	return out
}
