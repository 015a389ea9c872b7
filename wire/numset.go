package wire

import "fmt"

// NumRange is a single number, or an inclusive range. First == 0 and/or
// Last == 0 denote "*", the open-ended/highest-numbered end used in
// sequence and UID sets (e.g. "min:*").
type NumRange struct {
	First uint32
	Last  *uint32
}

func (nr NumRange) String() string {
	r := "*"
	if nr.First != 0 {
		r = fmt.Sprintf("%d", nr.First)
	}
	if nr.Last == nil {
		return r
	}
	if *nr.Last == 0 {
		return r + ":*"
	}
	return fmt.Sprintf("%s:%d", r, *nr.Last)
}

// NumSet is an IMAP sequence-set or UID-set: either a reference to a
// previously saved SEARCHRES result ("$") or an ordered list of NumRanges.
type NumSet struct {
	SearchResult bool
	Ranges       []NumRange
}

func (ns NumSet) IsZero() bool { return !ns.SearchResult && len(ns.Ranges) == 0 }

func (ns NumSet) String() string {
	if ns.SearchResult {
		return "$"
	}
	s := ""
	for i, r := range ns.Ranges {
		if i > 0 {
			s += ","
		}
		s += r.String()
	}
	return s
}

// NumSetOf builds a NumSet containing only the given individual numbers, in
// the given order, without attempting to collapse them into ranges. Folder
// range-building code collapses contiguous runs where that matters; this
// helper is for the common case of "these specific UIDs".
func NumSetOf(nums ...uint32) NumSet {
	ns := NumSet{Ranges: make([]NumRange, len(nums))}
	for i, n := range nums {
		ns.Ranges[i] = NumRange{First: n}
	}
	return ns
}

// NumSetRange builds a single-range NumSet [first, last]. A last of 0 means
// the open-ended "*" upper bound, per spec.md §4.4's max==-1 convention;
// String renders it as "*".
func NumSetRange(first, last uint32) NumSet {
	return NumSet{Ranges: []NumRange{{First: first, Last: &last}}}
}

// Numbers expands the set to the concrete list of numbers it denotes, given
// the current highest number ("*"). A SearchResult set expands to nil;
// callers must resolve "$" against the server's SEARCHRES state first.
func (ns NumSet) Numbers(highest uint32) []uint32 {
	if ns.SearchResult {
		return nil
	}
	var out []uint32
	for _, r := range ns.Ranges {
		first := r.First
		if first == 0 {
			first = highest
		}
		if r.Last == nil {
			out = append(out, first)
			continue
		}
		last := *r.Last
		if last == 0 {
			last = highest
		}
		if first > last {
			first, last = last, first
		}
		for n := first; n <= last; n++ {
			out = append(out, n)
		}
	}
	return out
}
