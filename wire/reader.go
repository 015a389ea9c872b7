package wire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ParseError is returned for malformed wire syntax. It is always a protocol
// violation per spec.md §7 and is fatal to the owning session.
type ParseError struct{ err error }

func (e ParseError) Error() string { return e.err.Error() }
func (e ParseError) Unwrap() error { return e.err }

// Reader tokenizes IMAP response bytes from an underlying byte stream: atoms,
// quoted strings, literals (the "{N}" prefix commits the next N bytes
// regardless of line boundaries), parenthesized lists, NIL, numbers, and the
// end-of-line sentinel.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{br: br}
}

func (p *Reader) recover(rerr *error) {
	x := recover()
	if x == nil {
		return
	}
	if e, ok := x.(ParseError); ok {
		*rerr = e
		return
	}
	panic(x)
}

func (p *Reader) xerrorf(format string, args ...any) {
	panic(ParseError{fmt.Errorf(format, args...)})
}

func (p *Reader) xcheckf(err error, format string, args ...any) {
	if err != nil {
		p.xerrorf("%s: %w", fmt.Sprintf(format, args...), err)
	}
}

func (p *Reader) xtake(s string) {
	buf := make([]byte, len(s))
	_, err := io.ReadFull(p.br, buf)
	p.xcheckf(err, "taking %q", s)
	if !strings.EqualFold(string(buf), s) {
		p.xerrorf("got %q, expected %q", buf, s)
	}
}

func (p *Reader) xbyte() byte {
	b, err := p.br.ReadByte()
	p.xcheckf(err, "read byte")
	return b
}

func (p *Reader) peek(exp byte) bool {
	b, err := p.br.ReadByte()
	if err != nil {
		return false
	}
	_ = p.br.UnreadByte()
	return b == exp || (exp >= 'a' && exp <= 'z' && b == exp-0x20) || (exp >= 'A' && exp <= 'Z' && b == exp+0x20)
}

func (p *Reader) take(exp byte) bool {
	if p.peek(exp) {
		p.xbyte()
		return true
	}
	return false
}

func (p *Reader) xspace() { p.xtake(" ") }
func (p *Reader) xcrlf()  { p.xtake("\r\n") }

func (p *Reader) xstatus() Status {
	w := p.xword()
	switch strings.ToUpper(w) {
	case "OK":
		return OK
	case "NO":
		return NO
	case "BAD":
		return BAD
	}
	p.xerrorf("expected status, got %q", w)
	panic("unreachable")
}

// ReadResult parses a tagged completion line after "<tag> <status>" have been
// consumed by the caller: "[code] text\r\n".
func (p *Reader) ReadResult(status Status) Tagged {
	var code Code
	if p.take('[') {
		code = p.xrespCode()
		p.xtake("]")
		p.xspace()
	}
	var text strings.Builder
	for !p.peek('\r') {
		text.WriteByte(p.xbyte())
	}
	p.xcrlf()
	return Tagged{Status: status, Code: code, Text: text.String()}
}

var wordCodes = map[string]bool{
	"ALERT": true, "PARSE": true, "READ-ONLY": true, "READ-WRITE": true,
	"TRYCREATE": true, "UIDNOTSTICKY": true, "NOMODSEQ": true,
	"OVERQUOTA": true, "ALREADYEXISTS": true, "NONEXISTENT": true,
	"CANNOT": true, "SERVERBUG": true, "CLIENTBUG": true, "CLOSED": true,
}

func (p *Reader) xrespCode() Code {
	w := p.xatomUpper()
	switch w {
	case "CAPABILITY":
		var caps []Capability
		for p.take(' ') {
			caps = append(caps, Capability(strings.ToUpper(p.xatom())))
		}
		return CodeCapability(caps)
	case "PERMANENTFLAGS":
		p.xspace()
		return CodePermanentFlags(p.xflagList())
	case "UIDNEXT":
		p.xspace()
		return CodeUIDNext(p.xuint32())
	case "UIDVALIDITY":
		p.xspace()
		return CodeUIDValidity(p.xuint32())
	case "UNSEEN":
		p.xspace()
		return CodeUnseen(p.xuint32())
	case "HIGHESTMODSEQ":
		p.xspace()
		return CodeHighestModSeq(p.xint64())
	case "MODIFIED":
		p.xspace()
		return CodeModified(p.xsequenceSet())
	case "APPENDUID":
		p.xspace()
		uv := p.xuint32()
		p.xspace()
		return CodeAppendUID{UIDValidity: uv, UIDs: p.xsequenceSet()}
	case "COPYUID":
		p.xspace()
		uv := p.xuint32()
		p.xspace()
		from := p.xsequenceSet()
		p.xspace()
		to := p.xsequenceSet()
		return CodeCopyUID{DestUIDValidity: uv, From: from, To: to}
	case "BADCHARSET":
		var l []string
		if p.take(' ') {
			p.xtake("(")
			l = append(l, p.xastring())
			for p.take(' ') {
				l = append(l, p.xastring())
			}
			p.xtake(")")
		}
		return CodeBadCharset(l)
	default:
		if wordCodes[w] {
			return CodeWord(w)
		}
		var args []string
		for p.take(' ') {
			args = append(args, p.xtakeuntil(']'))
			break
		}
		return CodeParams{Code: w, Args: args}
	}
}

func (p *Reader) xtakeuntil(b byte) string {
	var s strings.Builder
	for !p.peek(b) {
		s.WriteByte(p.xbyte())
	}
	return s.String()
}

func (p *Reader) xdigits() string {
	var s strings.Builder
	for {
		b, err := p.br.ReadByte()
		if err != nil {
			break
		}
		if b < '0' || b > '9' {
			_ = p.br.UnreadByte()
			break
		}
		s.WriteByte(b)
	}
	if s.Len() == 0 {
		p.xerrorf("expected digits")
	}
	return s.String()
}

func (p *Reader) xint64() int64 {
	neg := p.take('-')
	v, err := strconv.ParseInt(p.xdigits(), 10, 64)
	p.xcheckf(err, "parsing int64")
	if neg {
		v = -v
	}
	return v
}

func (p *Reader) xuint32() uint32 {
	v, err := strconv.ParseUint(p.xdigits(), 10, 32)
	p.xcheckf(err, "parsing uint32")
	return uint32(v)
}

// xnonspace reads an atom-like token up to the next space, used for tags and
// command status words where the alphabet is unconstrained ASCII.
func (p *Reader) xnonspace() string {
	var s strings.Builder
	for {
		b, err := p.br.ReadByte()
		if err != nil {
			break
		}
		if b == ' ' || b == '\r' {
			_ = p.br.UnreadByte()
			break
		}
		s.WriteByte(b)
	}
	if s.Len() == 0 {
		p.xerrorf("expected non-space token")
	}
	return s.String()
}

func (p *Reader) xword() string { return p.xnonspace() }

func (p *Reader) xatom() string {
	var s strings.Builder
	for {
		b, err := p.br.ReadByte()
		if err != nil {
			break
		}
		if b <= ' ' || b >= 0x7f || strings.IndexByte("(){%*\"\\]", b) >= 0 {
			_ = p.br.UnreadByte()
			break
		}
		s.WriteByte(b)
	}
	if s.Len() == 0 {
		p.xerrorf("expected atom")
	}
	return s.String()
}

func (p *Reader) xatomUpper() string { return strings.ToUpper(p.xatom()) }

func (p *Reader) xnilString() string {
	if p.peek('N') || p.peek('n') {
		p.xtake("NIL")
		return ""
	}
	return p.xstring()
}

func (p *Reader) xstring() string {
	if p.peek('"') {
		return p.xquoted()
	}
	return string(p.xliteral())
}

func (p *Reader) xastring() string {
	if p.peek('"') || p.peek('{') {
		return p.xstring()
	}
	return p.xatom()
}

func (p *Reader) xquoted() string {
	p.xtake(`"`)
	var s strings.Builder
	for {
		b := p.xbyte()
		if b == '"' {
			break
		}
		if b == '\\' {
			b = p.xbyte()
		}
		s.WriteByte(b)
	}
	return s.String()
}

func (p *Reader) xliteral() []byte {
	p.xtake("{")
	n := p.xdigits()
	p.take('+')
	p.xtake("}")
	p.xcrlf()
	size, err := strconv.Atoi(n)
	p.xcheckf(err, "literal size")
	buf := make([]byte, size)
	_, err = io.ReadFull(p.br, buf)
	p.xcheckf(err, "reading literal")
	return buf
}

func (p *Reader) xflag() string {
	if p.peek('\\') {
		p.xbyte()
		return `\` + p.xatom()
	}
	return p.xatom()
}

func (p *Reader) xflagList() []string {
	p.xtake("(")
	var l []string
	if !p.peek(')') {
		l = append(l, p.xflag())
		for p.take(' ') {
			l = append(l, p.xflag())
		}
	}
	p.xtake(")")
	return l
}

func (p *Reader) xsequenceSet() NumSet {
	if p.peek('$') {
		p.xbyte()
		return NumSet{SearchResult: true}
	}
	var ranges []NumRange
	for {
		ranges = append(ranges, p.xnumrange())
		if !p.take(',') {
			break
		}
	}
	return NumSet{Ranges: ranges}
}

func (p *Reader) xnumrange() NumRange {
	first := p.xstar()
	if !p.take(':') {
		return NumRange{First: first}
	}
	last := p.xstar()
	return NumRange{First: first, Last: &last}
}

func (p *Reader) xstar() uint32 {
	if p.peek('*') {
		p.xbyte()
		return 0
	}
	return p.xuint32()
}

func (p *Reader) xenvelope() Envelope {
	p.xtake("(")
	e := Envelope{}
	e.Date = p.xnilString()
	p.xspace()
	e.Subject = p.xnilString()
	p.xspace()
	e.From = p.xaddresses()
	p.xspace()
	e.Sender = p.xaddresses()
	p.xspace()
	e.ReplyTo = p.xaddresses()
	p.xspace()
	e.To = p.xaddresses()
	p.xspace()
	e.CC = p.xaddresses()
	p.xspace()
	e.BCC = p.xaddresses()
	p.xspace()
	e.InReplyTo = p.xnilString()
	p.xspace()
	e.MessageID = p.xnilString()
	p.xtake(")")
	return e
}

func (p *Reader) xaddresses() []Address {
	if p.peek('N') || p.peek('n') {
		p.xtake("NIL")
		return nil
	}
	p.xtake("(")
	var l []Address
	for {
		l = append(l, p.xaddress())
		if p.peek(')') {
			break
		}
		p.xspace()
	}
	p.xtake(")")
	return l
}

func (p *Reader) xaddress() Address {
	p.xtake("(")
	name := p.xnilString()
	p.xspace()
	adl := p.xnilString()
	p.xspace()
	mailbox := p.xnilString()
	p.xspace()
	host := p.xnilString()
	p.xtake(")")
	return Address{Name: name, Adl: adl, Mailbox: mailbox, Host: host}
}

func (p *Reader) xdatetime(s string) time.Time {
	t, err := time.Parse("_2-Jan-2006 15:04:05 -0700", s)
	p.xcheckf(err, "parsing date-time %q", s)
	return t
}

func (p *Reader) xtimeInParens() FetchInternalDate {
	s := p.xquoted()
	return FetchInternalDate{Date: p.xdatetime(s)}
}

// xbodystructureAny parses a FETCH BODYSTRUCTURE/BODY response into a loosely
// typed tree. Only the shape needed to round-trip structural information is
// kept; full MIME semantics remain out of scope per spec.md §1.
func (p *Reader) xbodystructureAny() any {
	p.xtake("(")
	if p.peek('(') {
		var bodies []any
		for p.peek('(') {
			bodies = append(bodies, p.xbodystructureAny())
		}
		p.xspace()
		subtype := p.xstring()
		// Extension data (params/disposition/...) is optional and ignored beyond
		// what is already captured; skip to the closing paren.
		p.skipToMatchingParen()
		return BodyTypeMpart{Bodies: bodies, MediaSubtype: subtype}
	}
	mediaType := p.xstring()
	p.xspace()
	mediaSubtype := p.xstring()
	p.xspace()
	fields := p.xbodyFields()
	mediaUpper := strings.ToUpper(mediaType)
	subtypeUpper := strings.ToUpper(mediaSubtype)
	if mediaUpper == "MESSAGE" && subtypeUpper == "RFC822" {
		p.xspace()
		env := p.xenvelope()
		p.xspace()
		body := p.xbodystructureAny()
		p.xspace()
		lines := p.xint64()
		p.skipToMatchingParen()
		return BodyTypeMsg{MediaType: mediaType, MediaSubtype: mediaSubtype, BodyFields: fields, Envelope: env, Bodystructure: body, Lines: lines}
	}
	if mediaUpper == "TEXT" {
		p.xspace()
		lines := p.xint64()
		p.skipToMatchingParen()
		return BodyTypeText{MediaType: mediaType, MediaSubtype: mediaSubtype, BodyFields: fields, Lines: lines}
	}
	p.skipToMatchingParen()
	return BodyTypeBasic{MediaType: mediaType, MediaSubtype: mediaSubtype, BodyFields: fields}
}

// skipToMatchingParen consumes any remaining extension data up to (and
// including) the paren that closes the current body part, tolerating nested
// parens, quoted strings and literals.
func (p *Reader) skipToMatchingParen() {
	depth := 1
	for depth > 0 {
		b := p.xbyte()
		switch b {
		case '(':
			depth++
		case ')':
			depth--
		case '"':
			_ = p.br.UnreadByte()
			p.xquoted()
		case '{':
			_ = p.br.UnreadByte()
			p.xliteral()
		}
	}
}

func (p *Reader) xbodyFields() BodyFields {
	var f BodyFields
	f.Params = p.xbodyFldParam()
	p.xspace()
	f.ContentID = p.xnilString()
	p.xspace()
	f.ContentDescr = p.xnilString()
	p.xspace()
	f.CTE = p.xnilString()
	p.xspace()
	f.Octets = int32(p.xuint32())
	return f
}

func (p *Reader) xbodyFldParam() [][2]string {
	if p.peek('N') || p.peek('n') {
		p.xtake("NIL")
		return nil
	}
	p.xtake("(")
	var l [][2]string
	for {
		k := p.xstring()
		p.xspace()
		v := p.xstring()
		l = append(l, [2]string{k, v})
		if p.peek(')') {
			break
		}
		p.xspace()
	}
	p.xtake(")")
	return l
}

func (p *Reader) xmsgatt1(seq uint32) FetchAttr {
	w := p.xatomUpper()
	switch w {
	case "FLAGS":
		p.xspace()
		return FetchFlags(p.xflagList())
	case "ENVELOPE":
		p.xspace()
		return FetchEnvelope(p.xenvelope())
	case "INTERNALDATE":
		p.xspace()
		return p.xtimeInParens()
	case "RFC822.SIZE":
		p.xspace()
		return FetchRFC822Size(p.xint64())
	case "UID":
		p.xspace()
		return FetchUID(p.xuint32())
	case "MODSEQ":
		p.xspace()
		p.xtake("(")
		m := p.xint64()
		p.xtake(")")
		return FetchModSeq(m)
	case "BODYSTRUCTURE", "BODY":
		if p.peek('[') {
			sect := p.xtakeuntil(']')
			p.xtake("]")
			var off int32
			if p.take('<') {
				off = int32(p.xuint32())
				p.xtake(">")
			}
			p.xspace()
			body := p.xnilString()
			return FetchBody{RespAttr: w, Section: sect, Offset: off, Body: body}
		}
		p.xspace()
		return FetchBodystructure{RespAttr: w, Body: p.xbodystructureAny()}
	case "PREVIEW":
		p.xspace()
		if p.peek('N') || p.peek('n') {
			p.xtake("NIL")
			return FetchPreview{}
		}
		s := p.xstring()
		return FetchPreview{Preview: &s}
	case "X-GM-LABELS":
		p.xspace()
		p.xtake("(")
		var l []string
		if !p.peek(')') {
			l = append(l, p.xastring())
			for p.take(' ') {
				l = append(l, p.xastring())
			}
		}
		p.xtake(")")
		return FetchGMailLabels(l)
	case "X-GM-THRID":
		p.xspace()
		v, _ := strconv.ParseUint(p.xdigits(), 10, 64)
		return FetchGMailThreadID(v)
	case "X-GM-MSGID":
		p.xspace()
		v, _ := strconv.ParseUint(p.xdigits(), 10, 64)
		return FetchGMailMsgID(v)
	case "ANNOTATION":
		p.xspace()
		return FetchAnnotation(p.xannotationEntries())
	default:
		p.xerrorf("unrecognized fetch attribute %q", w)
		panic("unreachable")
	}
}

func (p *Reader) xfetch(seq uint32) UntaggedFetch {
	p.xtake("(")
	var attrs []FetchAttr
	for {
		attrs = append(attrs, p.xmsgatt1(seq))
		if !p.take(' ') {
			break
		}
	}
	p.xtake(")")
	return UntaggedFetch{Seq: seq, Attrs: attrs}
}

func (p *Reader) xmailboxList() UntaggedList {
	flags := p.xflagList()
	p.xspace()
	var sep byte
	if p.peek('"') {
		q := p.xquoted()
		if len(q) == 1 {
			sep = q[0]
		}
	} else {
		p.xtake("NIL")
	}
	p.xspace()
	mailbox := p.xastring()
	return UntaggedList{Flags: flags, Separator: sep, Mailbox: mailbox}
}

func (p *Reader) xesearchResponse() UntaggedEsearch {
	var r UntaggedEsearch
	if p.take('(') {
		p.xtake("TAG")
		p.xspace()
		r.Tag = p.xstring()
		p.xtake(")")
		p.xspace()
	}
	if p.peek('U') || p.peek('u') {
		p.xtake("UID")
		p.xspace()
		r.UID = true
	}
	for {
		w := p.xatomUpper()
		p.xspace()
		switch w {
		case "MIN":
			r.Min = p.xuint32()
		case "MAX":
			r.Max = p.xuint32()
		case "ALL":
			r.All = p.xsequenceSet()
		case "COUNT":
			c := p.xuint32()
			r.Count = &c
		case "MODSEQ":
			r.ModSeq = p.xint64()
		default:
			p.xerrorf("unrecognized esearch item %q", w)
		}
		if !p.take(' ') {
			break
		}
	}
	return r
}

func (p *Reader) xnamespaceList() []NamespaceDescr {
	if p.peek('N') || p.peek('n') {
		p.xtake("NIL")
		return nil
	}
	p.xtake("(")
	var l []NamespaceDescr
	for p.peek('(') {
		p.xtake("(")
		prefix := p.xstring()
		p.xspace()
		var sep byte
		if p.peek('"') {
			q := p.xquoted()
			if len(q) == 1 {
				sep = q[0]
			}
		} else {
			p.xtake("NIL")
		}
		// Skip any namespace-response-extensions.
		for p.peek(' ') {
			p.xspace()
			p.xatom()
			p.xspace()
			p.xtake("(")
			for !p.peek(')') {
				p.xbyte()
			}
			p.xtake(")")
		}
		p.xtake(")")
		l = append(l, NamespaceDescr{Prefix: prefix, Separator: sep})
	}
	p.xtake(")")
	return l
}

func (p *Reader) xquotaResources() []QuotaResource {
	p.xtake("(")
	var l []QuotaResource
	for {
		name := p.xatomUpper()
		p.xspace()
		usage := p.xint64()
		p.xspace()
		limit := p.xint64()
		l = append(l, QuotaResource{Name: name, Usage: usage, Limit: limit})
		if p.peek(')') {
			break
		}
		p.xspace()
	}
	p.xtake(")")
	return l
}

func (p *Reader) xidParams() map[string]string {
	if p.peek('N') || p.peek('n') {
		p.xtake("NIL")
		return nil
	}
	p.xtake("(")
	m := map[string]string{}
	if !p.peek(')') {
		for {
			k := p.xstring()
			p.xspace()
			v := p.xnilString()
			m[k] = v
			if p.peek(')') {
				break
			}
			p.xspace()
		}
	}
	p.xtake(")")
	return m
}

// xannotationEntries parses the parenthesized entry list of a FETCH
// (ANNOTATION (...)) item: "(entry (attrib value [attrib value ...]) ...)".
// Per entry, the first non-NIL value.priv/value.shared attribute wins.
func (p *Reader) xannotationEntries() []Annotation {
	p.xtake("(")
	var anns []Annotation
	if !p.peek(')') {
		for {
			entry := p.xastring()
			p.xspace()
			p.xtake("(")
			var ann = Annotation{Key: entry}
			for {
				attrib := p.xastring()
				p.xspace()
				if p.peek('N') || p.peek('n') {
					p.xtake("NIL")
				} else {
					v := p.xstring()
					if !ann.IsString && strings.HasPrefix(attrib, "value") {
						ann.IsString = true
						ann.Value = []byte(v)
					}
				}
				if p.peek(')') {
					break
				}
				p.xspace()
			}
			p.xtake(")")
			anns = append(anns, ann)
			if p.peek(')') {
				break
			}
			p.xspace()
		}
	}
	p.xtake(")")
	return anns
}

func (p *Reader) xmetadataEntries() (mailbox string, keys []string, anns []Annotation, isKeysOnly bool) {
	// Caller has consumed "METADATA " already.
	mailbox = p.xastring()
	p.xspace()
	if p.peek('(') {
		p.xtake("(")
		for {
			key := p.xastring()
			p.xspace()
			if p.peek('N') || p.peek('n') {
				p.xtake("NIL")
				anns = append(anns, Annotation{Key: key})
			} else {
				v := p.xstring()
				anns = append(anns, Annotation{Key: key, IsString: true, Value: []byte(v)})
			}
			if p.peek(')') {
				break
			}
			p.xspace()
		}
		p.xtake(")")
		return
	}
	isKeysOnly = true
	keys = append(keys, p.xastring())
	for p.take(' ') {
		keys = append(keys, p.xastring())
	}
	return
}

// ReadUntagged reads a single "* ..." line (the "* " must already have been
// consumed by the caller, as ReadNext does before dispatching).
func (p *Reader) ReadUntagged() (Untagged, error) {
	var rerr error
	var ut Untagged
	func() {
		defer p.recover(&rerr)
		ut = p.xuntagged()
	}()
	return ut, rerr
}

func (p *Reader) xuntagged() Untagged {
	if p.isDigit() {
		num := p.xuint32()
		p.xspace()
		w := p.xatomUpper()
		switch w {
		case "EXISTS":
			return UntaggedExists(num)
		case "RECENT":
			return UntaggedRecent(num)
		case "EXPUNGE":
			return UntaggedExpunge(num)
		case "FETCH":
			p.xspace()
			return p.xfetch(num)
		default:
			p.xerrorf("unrecognized numbered untagged response %q", w)
		}
	}
	w := p.xatomUpper()
	switch w {
	case "OK":
		r := p.xrespTextAfterStatus()
		return UntaggedResult(Tagged{Status: OK, Code: r.Code, Text: r.Text})
	case "NO":
		r := p.xrespTextAfterStatus()
		return UntaggedResult(Tagged{Status: NO, Code: r.Code, Text: r.Text})
	case "BAD":
		r := p.xrespTextAfterStatus()
		return UntaggedResult(Tagged{Status: BAD, Code: r.Code, Text: r.Text})
	case "BYE":
		r := p.xrespTextAfterStatus()
		return UntaggedBye{Code: r.Code, Text: r.Text}
	case "PREAUTH":
		r := p.xrespTextAfterStatus()
		return UntaggedPreauth{Code: r.Code, Text: r.Text}
	case "CAPABILITY":
		p.xspace()
		var caps []Capability
		caps = append(caps, Capability(strings.ToUpper(p.xatom())))
		for p.take(' ') {
			caps = append(caps, Capability(strings.ToUpper(p.xatom())))
		}
		return UntaggedCapability(caps)
	case "ENABLED":
		var caps []Capability
		for p.take(' ') {
			caps = append(caps, Capability(strings.ToUpper(p.xatom())))
		}
		return UntaggedEnabled(caps)
	case "FLAGS":
		p.xspace()
		return UntaggedFlags(p.xflagList())
	case "LIST":
		p.xspace()
		return p.xmailboxList()
	case "LSUB":
		p.xspace()
		l := p.xmailboxList()
		return UntaggedLsub{Flags: l.Flags, Separator: l.Separator, Mailbox: l.Mailbox}
	case "SEARCH":
		var nums []uint32
		var modseq int64
		for p.take(' ') {
			if p.peek('(') {
				p.xtake("(")
				p.xtake("MODSEQ")
				p.xspace()
				modseq = p.xint64()
				p.xtake(")")
				continue
			}
			nums = append(nums, p.xuint32())
		}
		if modseq != 0 {
			return UntaggedSearchModSeq{Nums: nums, ModSeq: modseq}
		}
		return UntaggedSearch(nums)
	case "ESEARCH":
		p.xspace()
		return p.xesearchResponse()
	case "STATUS":
		p.xspace()
		mailbox := p.xastring()
		p.xspace()
		p.xtake("(")
		attrs := map[StatusAttr]int64{}
		if !p.peek(')') {
			for {
				a := StatusAttr(p.xatomUpper())
				p.xspace()
				attrs[a] = p.xint64()
				if p.peek(')') {
					break
				}
				p.xspace()
			}
		}
		p.xtake(")")
		return UntaggedStatus{Mailbox: mailbox, Attrs: attrs}
	case "NAMESPACE":
		p.xspace()
		personal := p.xnamespaceList()
		p.xspace()
		other := p.xnamespaceList()
		p.xspace()
		shared := p.xnamespaceList()
		return UntaggedNamespace{Personal: personal, Other: other, Shared: shared}
	case "VANISHED":
		p.xspace()
		earlier := false
		if p.peek('(') {
			p.xtake("(EARLIER)")
			p.xspace()
			earlier = true
		}
		return UntaggedVanished{Earlier: earlier, UIDs: p.xsequenceSet()}
	case "QUOTAROOT":
		var roots []string
		for p.take(' ') {
			roots = append(roots, p.xastring())
		}
		return UntaggedQuotaroot(roots)
	case "QUOTA":
		p.xspace()
		root := p.xastring()
		p.xspace()
		return UntaggedQuota{Root: root, Resources: p.xquotaResources()}
	case "ID":
		p.xspace()
		return UntaggedID(p.xidParams())
	case "METADATA":
		p.xspace()
		mailbox, keys, anns, keysOnly := p.xmetadataEntries()
		if keysOnly {
			return UntaggedMetadataKeys{Mailbox: mailbox, Keys: keys}
		}
		return UntaggedMetadataAnnotations{Mailbox: mailbox, Annotations: anns}
	case "SORT":
		var nums []uint32
		for p.take(' ') {
			nums = append(nums, p.xuint32())
		}
		return UntaggedSort(nums)
	case "THREAD":
		var nodes []ThreadNode
		if p.take(' ') {
			nodes = p.xthreadList()
		}
		return UntaggedThread(nodes)
	default:
		// Unknown/future untagged response: drain to end of line so the caller
		// stream stays in sync, per spec.md §4.2's tolerance requirement.
		p.xtakeuntil('\r')
		return CodeWord(w)
	}
}

// xthreadList parses a sequence of adjacent "(" thread-chain ")" groups, the
// top-level shape of a THREAD response (RFC 5256): "(2)(3 6 (4 23)(44 7 96))".
func (p *Reader) xthreadList() []ThreadNode {
	var out []ThreadNode
	for p.peek('(') {
		p.xtake("(")
		out = append(out, p.xthreadChain())
		p.xtake(")")
	}
	return out
}

// xthreadChain parses one thread-members production: a straight-line chain
// of message numbers, each the sole child of the previous, optionally ending
// in a branch point where the adjacent "(" groups become the chain's
// children instead of a single successor.
func (p *Reader) xthreadChain() ThreadNode {
	root := ThreadNode{UID: p.xuint32()}
	cur := &root
	for p.take(' ') {
		if p.peek('(') {
			var kids []ThreadNode
			for p.peek('(') {
				p.xtake("(")
				kids = append(kids, p.xthreadChain())
				p.xtake(")")
			}
			cur.Children = kids
			return root
		}
		cur.Children = []ThreadNode{{UID: p.xuint32()}}
		cur = &cur.Children[0]
	}
	return root
}

func (p *Reader) xrespTextAfterStatus() Tagged {
	var code Code
	if p.take(' ') {
		if p.take('[') {
			code = p.xrespCode()
			p.xtake("]")
			p.take(' ')
		}
	}
	var text strings.Builder
	for !p.peek('\r') {
		b, err := p.br.ReadByte()
		if err != nil {
			break
		}
		text.WriteByte(b)
	}
	return Tagged{Code: code, Text: text.String()}
}

func (p *Reader) isDigit() bool {
	b, err := p.br.ReadByte()
	if err != nil {
		return false
	}
	_ = p.br.UnreadByte()
	return b >= '0' && b <= '9'
}

// ReadLine reads a raw line up to and including CRLF without parsing it.
// The engine's IDLE and literal-continuation handling use ReadNext instead.
func (p *Reader) ReadLine() (string, error) {
	return p.br.ReadString('\n')
}

// Peek reports whether the next unread byte equals b, without consuming it.
func (p *Reader) Peek(b byte) bool { return p.peek(b) }

// ParseNumSet parses a bare sequence-set/UID-set string, e.g. from a test or
// from a response code argument already extracted by the caller.
func ParseNumSet(s string) (ns NumSet, rerr error) {
	r := NewReader(strings.NewReader(s))
	defer r.recover(&rerr)
	ns = r.xsequenceSet()
	return
}

// ParseUntagged parses a full line, "* ..." included, ending in CRLF.
func ParseUntagged(s string) (ut Untagged, rerr error) {
	r := NewReader(strings.NewReader(s))
	defer r.recover(&rerr)
	r.xtake("* ")
	ut = r.xuntagged()
	return
}
