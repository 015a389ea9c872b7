package imaptype

import "github.com/aTiKhan/MailKit/engine"

// AppendRequest carries the octet stream and metadata for a single message
// to append; AppendRequest and ReplaceRequest share the same shape since
// REPLACE (RFC 8508) is defined as an atomic append-then-expunge.
type AppendRequest struct {
	Content     []byte
	Flags       []string
	Keywords    []string
	InternalDate string // already-formatted IMAP date-time, empty to let the server assign "now"
	Annotations map[string][]byte
}

func (r AppendRequest) allFlags() []string { return append(append([]string{}, r.Flags...), r.Keywords...) }

// ToEngineOpts lowers the request to the engine package's flat AppendOpts,
// merging Flags and Keywords into the one list APPEND's wire form expects.
func (r AppendRequest) ToEngineOpts() engine.AppendOpts {
	return engine.AppendOpts{Flags: r.allFlags(), Date: r.InternalDate}
}

type ReplaceRequest = AppendRequest

// StoreAction mirrors engine.StoreAction so callers of imaptype don't need
// to import engine directly for this one enum.
type StoreAction = engine.StoreAction

const (
	StoreSet    = engine.StoreSet
	StoreAdd    = engine.StoreAdd
	StoreRemove = engine.StoreRemove
)

// StoreFlagsRequest describes a STORE of message flags/keywords.
type StoreFlagsRequest struct {
	Action         StoreAction
	Silent         bool
	Flags          []string
	Keywords       []string
	UnchangedSince int64
}

// AllFlags concatenates Flags and Keywords into the single list STORE's wire
// form expects (the two are distinguished for callers, not on the wire).
func (r StoreFlagsRequest) AllFlags() []string {
	return append(append([]string{}, r.Flags...), r.Keywords...)
}

// StoreLabelsRequest is the GMail vendor-extension counterpart of
// StoreFlagsRequest, targeting X-GM-LABELS instead of IMAP flags. Per
// spec.md's Open Question, this is feature-gated behind the X-GM-EXT-1-style
// capability surfaced as wire.CapGMailExt in the engine/mailbox layer, and
// callers should expect ErrCapabilityUnavailable on non-GMail servers.
type StoreLabelsRequest struct {
	Action StoreAction
	Silent bool
	Labels []string
}
