package imaptype

import "strings"

// FetchField is one coarse FETCH attribute a caller can request.
type FetchField int

const (
	FieldUID FetchField = iota
	FieldFlags
	FieldInternalDate
	FieldSize
	FieldEnvelope
	FieldBodyStructure
	FieldGMailLabels
	FieldGMailMessageID
	FieldGMailThreadID
	FieldModSeq
	FieldAnnotations
	FieldReferences
	FieldPreviewText
)

var fieldWire = map[FetchField]string{
	FieldUID:            "UID",
	FieldFlags:          "FLAGS",
	FieldInternalDate:   "INTERNALDATE",
	FieldSize:           "RFC822.SIZE",
	FieldEnvelope:       "ENVELOPE",
	FieldBodyStructure:  "BODYSTRUCTURE",
	FieldGMailLabels:    "X-GM-LABELS",
	FieldGMailMessageID: "X-GM-MSGID",
	FieldGMailThreadID:  "X-GM-THRID",
	FieldModSeq:         "MODSEQ",
	FieldPreviewText:    "PREVIEW",
	// FieldAnnotations requests every per-message annotation entry (RFC 5257)
	// in both the private and shared namespace; a server with no ANNOTATE
	// support for the entry wildcard will reject this item, which callers
	// should treat as engine.ErrCapabilityUnavailable-worthy but is not
	// client-side gated here since ANNOTATE support is a mailbox-level, not
	// session-level, capability.
	FieldAnnotations: `ANNOTATION ("/*" ("value.priv" "value.shared"))`,
}

// HeaderSelector requests a specific named header field's value via
// BODY.PEEK[HEADER.FIELDS (...)], or the whole header block when Fields is
// empty.
type HeaderSelector struct {
	Fields []string
}

// FetchRequest is the structured form of a FETCH item list: a set of coarse
// fields, an ordered list of header selectors, and an optional CONDSTORE
// changed-since floor.
type FetchRequest struct {
	Fields       map[FetchField]bool
	Headers      []HeaderSelector
	ChangedSince int64
}

func NewFetchRequest(fields ...FetchField) *FetchRequest {
	r := &FetchRequest{Fields: map[FetchField]bool{}}
	for _, f := range fields {
		r.Fields[f] = true
	}
	return r
}

func (r *FetchRequest) WithHeaders(fields ...string) *FetchRequest {
	r.Headers = append(r.Headers, HeaderSelector{Fields: fields})
	return r
}

func (r *FetchRequest) WithChangedSince(modSeq int64) *FetchRequest {
	r.ChangedSince = modSeq
	return r
}

// order fixes a stable, human-familiar rendering order independent of Go's
// randomized map iteration, so two equivalent requests always render to the
// same wire string (useful for tests and for idempotent re-fetching).
var order = []FetchField{
	FieldUID, FieldFlags, FieldInternalDate, FieldSize, FieldEnvelope,
	FieldBodyStructure, FieldModSeq, FieldGMailLabels, FieldGMailThreadID,
	FieldGMailMessageID, FieldPreviewText, FieldReferences, FieldAnnotations,
}

// Render lowers the request to the parenthesized FETCH attribute-list
// string the engine package writes on the wire, e.g. "(UID FLAGS)".
func (r *FetchRequest) Render() string {
	var items []string
	for _, f := range order {
		if r.Fields[f] && fieldWire[f] != "" {
			items = append(items, fieldWire[f])
		}
	}
	if r.Fields[FieldReferences] {
		items = append(items, "BODY.PEEK[HEADER.FIELDS (REFERENCES)]")
	}
	for _, h := range r.Headers {
		if len(h.Fields) == 0 {
			items = append(items, "BODY.PEEK[HEADER]")
			continue
		}
		items = append(items, "BODY.PEEK[HEADER.FIELDS ("+strings.Join(h.Fields, " ")+")]")
	}
	if len(items) == 0 {
		items = []string{"UID"}
	}
	return "(" + strings.Join(items, " ") + ")"
}
