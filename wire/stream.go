package wire

// Line is one parsed response line: either a continuation ("+"), an untagged
// line ("*"), or a tagged completion (<tag>).
type Line struct {
	Continuation bool
	ContinuationText string
	Tag          string // non-empty for a tagged completion
	Untagged     Untagged
	Tagged       Tagged
}

// ReadNext reads and parses exactly one response line from the stream: a
// continuation request, an untagged response, or a tagged completion.
func (p *Reader) ReadNext() (line Line, rerr error) {
	defer p.recover(&rerr)
	if p.take('+') {
		p.take(' ')
		var text []byte
		for !p.peek('\r') {
			text = append(text, p.xbyte())
		}
		p.xcrlf()
		return Line{Continuation: true, ContinuationText: string(text)}, nil
	}
	if p.take('*') {
		p.xspace()
		ut := p.xuntagged()
		p.xcrlf()
		return Line{Untagged: ut}, nil
	}
	tag := p.xnonspace()
	p.xspace()
	status := p.xstatus()
	p.xspace()
	tagged := p.ReadResult(status)
	return Line{Tag: tag, Tagged: tagged}, nil
}
