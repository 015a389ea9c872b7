package mailbox

import (
	"context"
	"fmt"

	"github.com/aTiKhan/MailKit/engine"
	"github.com/aTiKhan/MailKit/imaptype"
	"github.com/aTiKhan/MailKit/wire"
)

// Open SELECTs (or EXAMINEs, for AccessReadOnly) a folder by full name,
// registering it in the namespace if this is the first time it's been seen,
// and makes it the Client's Selected folder.
func (c *Client) Open(ctx context.Context, fullName string, access AccessMode, qr *engine.QResyncState) (*Folder, error) {
	opts := engine.SelectOpts{QResync: qr}
	if qr != nil {
		opts.CondStore = true
	}
	var ms *engine.MailboxState
	var err error
	if access == AccessReadOnly {
		ms, err = c.sess.Examine(ctx, fullName, opts)
	} else {
		ms, err = c.sess.Select(ctx, fullName, opts)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	f, ok := c.registry[fullName]
	if !ok {
		f = &Folder{client: c, FullName: fullName, Name: fullName}
		c.registry[fullName] = f
	}
	if c.selected != nil && c.selected != f {
		c.selected.IsOpen = false
	}
	validityChanged, syncErr := syncFromMailboxState(f, ms)
	if syncErr == nil {
		c.selected = f
		c.bus.publish(Event{Kind: EventOpened, Folder: f})
		if validityChanged {
			c.bus.publish(Event{Kind: EventUIDValidityChanged, Folder: f})
		}
	}
	c.mu.Unlock()
	if syncErr != nil {
		return nil, syncErr
	}
	return f, nil
}

// Close closes the Selected folder, optionally expunging \Deleted messages
// first (CLOSE does; UNSELECT, used when expunge is false, does not).
func (c *Client) Close(ctx context.Context, expunge bool) error {
	var err error
	if expunge {
		err = c.sess.CloseMailbox(ctx)
	} else {
		err = c.sess.Unselect(ctx)
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.selected
	if closed != nil {
		closed.IsOpen = false
	}
	c.selected = nil
	c.bus.publish(Event{Kind: EventClosed, Folder: closed})
	c.mu.Unlock()
	return nil
}

// Create issues CREATE, optionally with USE (RFC 6154) for the given
// special-use attributes.
func (c *Client) Create(ctx context.Context, fullName string, specialUse Attributes) error {
	return c.sess.CreateSpecialUse(ctx, fullName, wireSpecialUse(specialUse))
}

func (c *Client) Rename(ctx context.Context, fullName, newFullName string) error {
	if err := c.sess.Rename(ctx, fullName, newFullName); err != nil {
		return err
	}
	c.rename(fullName, newFullName)
	c.mu.Lock()
	c.bus.publish(Event{Kind: EventMailboxRenamed, OldName: fullName})
	c.mu.Unlock()
	return nil
}

func (c *Client) Delete(ctx context.Context, fullName string) error {
	if err := c.sess.Delete(ctx, fullName); err != nil {
		return err
	}
	c.forget(fullName)
	c.mu.Lock()
	c.bus.publish(Event{Kind: EventMailboxDeleted, OldName: fullName})
	c.mu.Unlock()
	return nil
}

func (c *Client) Subscribe(ctx context.Context, fullName string) error {
	if err := c.sess.Subscribe(ctx, fullName); err != nil {
		return err
	}
	c.mu.Lock()
	f, ok := c.registry[fullName]
	if ok {
		f.IsSubscribed = true
	}
	c.bus.publish(Event{Kind: EventSubscribed, Folder: f, OldName: fullName})
	c.mu.Unlock()
	return nil
}

func (c *Client) Unsubscribe(ctx context.Context, fullName string) error {
	if err := c.sess.Unsubscribe(ctx, fullName); err != nil {
		return err
	}
	c.mu.Lock()
	f, ok := c.registry[fullName]
	if ok {
		f.IsSubscribed = false
	}
	c.bus.publish(Event{Kind: EventUnsubscribed, Folder: f, OldName: fullName})
	c.mu.Unlock()
	return nil
}

// List refreshes the namespace registry from LIST (or LSUB, via
// subscribedOnly) and returns the folders observed.
func (c *Client) List(ctx context.Context, reference, pattern string, subscribedOnly bool) ([]*Folder, error) {
	items, err := c.sess.List(ctx, reference, pattern, subscribedOnly)
	if err != nil {
		return nil, err
	}
	out := make([]*Folder, 0, len(items))
	for _, it := range items {
		attrs := ParseAttributes(it.Flags)
		if subscribedOnly {
			attrs |= AttrSubscribed
		}
		f := c.upsert(it.Mailbox, it.Separator, attrs)
		if subscribedOnly {
			f.IsSubscribed = true
		}
		out = append(out, f)
	}
	return out, nil
}

// Status issues STATUS for a folder without requiring it be Selected.
func (c *Client) Status(ctx context.Context, fullName string, attrs []wire.StatusAttr) (*wire.UntaggedStatus, error) {
	return c.sess.Status(ctx, fullName, attrs)
}

func (c *Client) Check(ctx context.Context) error { return c.sess.Check(ctx) }

// Expunge removes \Deleted messages from the Selected folder. When uids is
// non-empty it issues UID EXPUNGE (RFC 4315), requiring UIDPLUS; an empty
// uids expunges unconditionally via EXPUNGE.
func (c *Client) Expunge(ctx context.Context, uids []uint32) ([]uint32, error) {
	var resp wire.Response
	var err error
	if len(uids) == 0 {
		resp, err = c.sess.Expunge(ctx)
	} else {
		resp, err = c.sess.UIDExpunge(ctx, wire.NumSetOf(uids...))
	}
	if err != nil {
		return nil, err
	}
	var expunged []uint32
	for _, u := range resp.Untagged {
		if seq, ok := u.(wire.UntaggedExpunge); ok {
			expunged = append(expunged, uint32(seq))
		}
	}
	return expunged, nil
}

// Append adds one or more messages to fullName, client-side rejecting any
// message whose size exceeds a known AppendLimit without touching the wire
// (spec's "fails client-side" rule). Uses MULTIAPPEND in one round trip when
// the server supports it and more than one message is given, falling back to
// one APPEND per message otherwise.
func (c *Client) Append(ctx context.Context, fullName string, requests []imaptype.AppendRequest) (imaptype.UniqueIdMap, error) {
	if len(requests) == 0 {
		return imaptype.UniqueIdMap{}, nil
	}
	limit := int64(-1)
	if f, ok := c.Folder(fullName); ok && f.AppendLimit > 0 {
		limit = f.AppendLimit
	}
	for _, r := range requests {
		if limit >= 0 && int64(len(r.Content)) > limit {
			return imaptype.UniqueIdMap{}, fmt.Errorf("mailbox: message of %d bytes exceeds folder append limit %d", len(r.Content), limit)
		}
	}

	if len(requests) > 1 && c.sess.Has(wire.CapMultiAppend) {
		msgs := make([]engine.AppendMessage, len(requests))
		for i, r := range requests {
			opts := r.ToEngineOpts()
			msgs[i] = engine.AppendMessage{Flags: opts.Flags, Date: opts.Date, Content: r.Content}
		}
		resp, err := c.sess.MultiAppend(ctx, fullName, msgs)
		if err != nil {
			return imaptype.UniqueIdMap{}, err
		}
		return appendUIDFromCode(resp.Tagged.Code), nil
	}

	var result imaptype.UniqueIdMap
	for _, r := range requests {
		resp, err := c.sess.Append(ctx, fullName, r.ToEngineOpts(), r.Content)
		if err != nil {
			return imaptype.UniqueIdMap{}, err
		}
		m := appendUIDFromCode(resp.Tagged.Code)
		result.Validity = m.Validity
		result.Pairs = append(result.Pairs, m.Pairs...)
	}
	return result, nil
}

func appendUIDFromCode(code wire.Code) imaptype.UniqueIdMap {
	ac, ok := code.(wire.CodeAppendUID)
	if !ok {
		return imaptype.UniqueIdMap{}
	}
	var m imaptype.UniqueIdMap
	m.Validity = ac.UIDValidity
	for _, n := range ac.UIDs.Numbers(0) {
		m.Pairs = append(m.Pairs, imaptype.UniqueIdPair{Dst: n})
	}
	return m
}

// Replace atomically appends a new message and expunges uid/seq num (RFC
// 8508), requiring the REPLACE capability.
func (c *Client) Replace(ctx context.Context, uid bool, num uint32, fullName string, r imaptype.ReplaceRequest) (imaptype.UniqueIdMap, error) {
	resp, err := c.sess.Replace(ctx, uid, num, fullName, r.ToEngineOpts(), r.Content)
	if err != nil {
		return imaptype.UniqueIdMap{}, err
	}
	return appendUIDFromCode(resp.Tagged.Code), nil
}

func copyUIDFromCode(code wire.Code) imaptype.UniqueIdMap {
	cc, ok := code.(wire.CodeCopyUID)
	if !ok {
		return imaptype.UniqueIdMap{}
	}
	srcs, dsts := cc.From.Numbers(0), cc.To.Numbers(0)
	m := imaptype.UniqueIdMap{Validity: cc.DestUIDValidity}
	for i := range srcs {
		if i < len(dsts) {
			m.Pairs = append(m.Pairs, imaptype.UniqueIdPair{Src: srcs[i], Dst: dsts[i]})
		}
	}
	return m
}

// CopyTo copies uid/seq nums to destMailbox. An empty nums is a no-op
// returning a zero UniqueIdMap without issuing any command, per spec.
func (c *Client) CopyTo(ctx context.Context, uid bool, nums []uint32, destMailbox string) (imaptype.UniqueIdMap, error) {
	if len(nums) == 0 {
		return imaptype.UniqueIdMap{}, nil
	}
	resp, err := c.sess.Copy(ctx, uid, wire.NumSetOf(nums...), destMailbox)
	if err != nil {
		return imaptype.UniqueIdMap{}, err
	}
	return copyUIDFromCode(resp.Tagged.Code), nil
}

// MoveTo moves uid/seq nums to destMailbox (RFC 6851), requiring MOVE. An
// empty nums is a no-op.
func (c *Client) MoveTo(ctx context.Context, uid bool, nums []uint32, destMailbox string) (imaptype.UniqueIdMap, error) {
	if len(nums) == 0 {
		return imaptype.UniqueIdMap{}, nil
	}
	resp, err := c.sess.Move(ctx, uid, wire.NumSetOf(nums...), destMailbox)
	if err != nil {
		return imaptype.UniqueIdMap{}, err
	}
	return copyUIDFromCode(resp.Tagged.Code), nil
}

// Fetch retrieves MessageSummary records for the given uid/seq nums.
func (c *Client) Fetch(ctx context.Context, uid bool, nums []uint32, req *imaptype.FetchRequest) ([]*imaptype.MessageSummary, error) {
	if len(nums) == 0 {
		return nil, nil
	}
	return c.fetchSet(ctx, uid, wire.NumSetOf(nums...), req)
}

// FetchRange issues one FETCH/UID FETCH over the inclusive range [first,
// last] without the caller having to materialize every member client-side
// first; last == 0 denotes the open-ended "*" upper bound (spec.md §4.4's
// max==-1 convention), matching wire.NumSetRange.
func (c *Client) FetchRange(ctx context.Context, uid bool, first, last uint32, req *imaptype.FetchRequest) ([]*imaptype.MessageSummary, error) {
	return c.fetchSet(ctx, uid, wire.NumSetRange(first, last), req)
}

func (c *Client) fetchSet(ctx context.Context, uid bool, set wire.NumSet, req *imaptype.FetchRequest) ([]*imaptype.MessageSummary, error) {
	validity := uint32(0)
	if f := c.Selected(); f != nil {
		validity = f.UIDValidity
	}
	resp, err := c.sess.Fetch(ctx, uid, set, req.Render(), req.ChangedSince)
	if err != nil {
		return nil, err
	}
	return summariesFromResponse(resp, validity), nil
}

func summariesFromResponse(resp wire.Response, validity uint32) []*imaptype.MessageSummary {
	var out []*imaptype.MessageSummary
	for _, u := range resp.Untagged {
		fe, ok := u.(wire.UntaggedFetch)
		if !ok {
			continue
		}
		m := &imaptype.MessageSummary{Seq: fe.Seq, UID: imaptype.UniqueId{Validity: validity}}
		m.ApplyFetch(fe.Attrs)
		out = append(out, m)
	}
	return out
}

// GetHeaders fetches selected header fields (or the whole header block when
// fields is empty) for one message.
func (c *Client) GetHeaders(ctx context.Context, uid uint32, fields []string) ([]byte, error) {
	attrs := imaptype.NewFetchRequest().WithHeaders(fields...)
	resp, err := c.sess.Fetch(ctx, true, wire.NumSetOf(uid), attrs.Render(), 0)
	if err != nil {
		return nil, err
	}
	return firstBody(resp)
}

// GetMessage fetches the full RFC 5322 octet stream of one message.
func (c *Client) GetMessage(ctx context.Context, uid uint32) ([]byte, error) {
	resp, err := c.sess.Fetch(ctx, true, wire.NumSetOf(uid), "(BODY.PEEK[])", 0)
	if err != nil {
		return nil, err
	}
	return firstBody(resp)
}

// GetBodyPart fetches a single MIME body part by its BODYSTRUCTURE-numbered
// part specifier (e.g. "1.2").
func (c *Client) GetBodyPart(ctx context.Context, uid uint32, part string) ([]byte, error) {
	resp, err := c.sess.Fetch(ctx, true, wire.NumSetOf(uid), fmt.Sprintf("(BODY.PEEK[%s])", part), 0)
	if err != nil {
		return nil, err
	}
	return firstBody(resp)
}

// GetStream fetches count bytes of the full message starting at offset,
// using a partial FETCH ("<offset.count>") so large messages can be streamed
// in bounded chunks rather than loaded whole.
func (c *Client) GetStream(ctx context.Context, uid uint32, offset, count int64) ([]byte, error) {
	resp, err := c.sess.Fetch(ctx, true, wire.NumSetOf(uid), fmt.Sprintf("(BODY.PEEK[]<%d.%d>)", offset, count), 0)
	if err != nil {
		return nil, err
	}
	return firstBody(resp)
}

func firstBody(resp wire.Response) ([]byte, error) {
	for _, u := range resp.Untagged {
		fe, ok := u.(wire.UntaggedFetch)
		if !ok {
			continue
		}
		for _, a := range fe.Attrs {
			if b, ok := a.(wire.FetchBody); ok {
				return []byte(b.Body), nil
			}
		}
	}
	return nil, nil
}

// Store applies a flags STORE. Per CONDSTORE, when UnchangedSince rejects
// some messages the server reports them via the MODIFIED response code
// rather than failing the whole command; Store surfaces those as skipped,
// not an error.
func (c *Client) Store(ctx context.Context, uid bool, nums []uint32, r imaptype.StoreFlagsRequest) (skipped []uint32, err error) {
	if len(nums) == 0 {
		return nil, nil
	}
	resp, err := c.sess.StoreFlags(ctx, uid, wire.NumSetOf(nums...), engine.StoreAction(r.Action), r.Silent, r.UnchangedSince, r.AllFlags())
	if err != nil {
		return nil, err
	}
	return skippedFromCode(resp.Tagged.Code), nil
}

// StoreLabels applies an X-GM-LABELS STORE (GMail vendor extension), gated
// behind the server advertising wire.CapGMailExt.
func (c *Client) StoreLabels(ctx context.Context, uid bool, nums []uint32, r imaptype.StoreLabelsRequest) error {
	if len(nums) == 0 {
		return nil
	}
	_, err := c.sess.StoreLabels(ctx, uid, wire.NumSetOf(nums...), engine.StoreAction(r.Action), r.Silent, r.Labels)
	return err
}

func skippedFromCode(code wire.Code) []uint32 {
	m, ok := code.(wire.CodeModified)
	if !ok {
		return nil
	}
	return wire.NumSet(m).Numbers(0)
}

// StoreAnnotations writes per-message ANNOTATE-EXPERIMENT-1 entries via
// SETMETADATA on fullName, each entry keyed "/private/message/<uid>/<name>";
// requires METADATA.
func (c *Client) StoreAnnotations(ctx context.Context, fullName string, uid uint32, anns map[string][]byte) error {
	scoped := make(map[string][]byte, len(anns))
	for k, v := range anns {
		scoped[fmt.Sprintf("/private/message/%d/%s", uid, k)] = v
	}
	return c.sess.SetMetadata(ctx, fullName, scoped)
}

// Search issues SEARCH/ESEARCH with the given query, requesting CHARSET
// UTF-8 whenever the query contains non-ASCII terms.
func (c *Client) Search(ctx context.Context, uid bool, q *imaptype.SearchQuery) ([]uint32, error) {
	charset := ""
	if q.NeedsUTF8() {
		charset = "UTF-8"
	}
	esearch := c.sess.Has(wire.CapEsearch)
	resp, err := c.sess.Search(ctx, uid, charset, q.Render(), esearch)
	if err != nil {
		return nil, err
	}
	return numbersFromSearch(resp), nil
}

func numbersFromSearch(resp wire.Response) []uint32 {
	for _, u := range resp.Untagged {
		switch v := u.(type) {
		case wire.UntaggedSearch:
			return []uint32(v)
		case wire.UntaggedSort:
			return []uint32(v)
		case wire.UntaggedEsearch:
			return v.All.Numbers(0)
		}
	}
	return nil
}

// Sort issues SORT (RFC 5256), requiring the SORT capability.
func (c *Client) Sort(ctx context.Context, uid bool, order []imaptype.OrderBy, q *imaptype.SearchQuery) ([]uint32, error) {
	charset := ""
	if q.NeedsUTF8() {
		charset = "UTF-8"
	}
	resp, err := c.sess.Sort(ctx, uid, imaptype.RenderSortKeys(order), charset, q.Render())
	if err != nil {
		return nil, err
	}
	return numbersFromSearch(resp), nil
}

// Thread issues THREAD (RFC 5256), first validating the algorithm against
// the Selected folder's advertised ThreadingAlgorithms: an unsupported
// algorithm fails client-side without touching the wire.
func (c *Client) Thread(ctx context.Context, uid bool, algorithm string, q *imaptype.SearchQuery) ([]*imaptype.MessageThread, error) {
	if f := c.Selected(); f != nil && f.ThreadingAlgorithms != nil && !f.ThreadingAlgorithms[algorithm] {
		return nil, engine.ErrCapabilityUnavailable{Capability: wire.Capability("THREAD=" + algorithm)}
	}
	charset := ""
	if q.NeedsUTF8() {
		charset = "UTF-8"
	}
	resp, err := c.sess.Thread(ctx, uid, algorithm, charset, q.Render())
	if err != nil {
		return nil, err
	}
	validity := uint32(0)
	if f := c.Selected(); f != nil {
		validity = f.UIDValidity
	}
	for _, u := range resp.Untagged {
		if t, ok := u.(wire.UntaggedThread); ok {
			return threadsFromWire([]wire.ThreadNode(t), validity), nil
		}
	}
	return nil, nil
}

func threadsFromWire(nodes []wire.ThreadNode, validity uint32) []*imaptype.MessageThread {
	out := make([]*imaptype.MessageThread, len(nodes))
	for i, n := range nodes {
		uid := imaptype.UniqueId{}
		if n.UID != 0 {
			uid = imaptype.UniqueId{Validity: validity, Value: n.UID}
		}
		out[i] = &imaptype.MessageThread{UID: uid, Children: threadsFromWire(n.Children, validity)}
	}
	return out
}
