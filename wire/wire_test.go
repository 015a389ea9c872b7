package wire

import "testing"

func TestNumSetRoundTrip(t *testing.T) {
	cases := []string{"1", "1:5", "1,3,5", "1:*", "*:5", "1,3:7,9"}
	for _, s := range cases {
		ns, err := ParseNumSet(s)
		if err != nil {
			t.Fatalf("ParseNumSet(%q): %v", s, err)
		}
		if got := ns.String(); got != s {
			t.Errorf("ParseNumSet(%q).String() = %q, want %q", s, got, s)
		}
	}
}

func TestNumSetOf(t *testing.T) {
	ns := NumSetOf(3, 1, 4)
	if got, want := ns.String(), "3,1,4"; got != want {
		t.Errorf("NumSetOf(3,1,4).String() = %q, want %q", got, want)
	}
	if ns.SearchResult {
		t.Error("NumSetOf should never set SearchResult")
	}
}

func TestNumSetNumbersOpenEnded(t *testing.T) {
	ns := NumSetRange(3, 0)
	if got, want := ns.Numbers(5), []uint32{3, 4, 5}; !equalUint32(got, want) {
		t.Errorf("Numbers(5) = %v, want %v", got, want)
	}
}

func equalUint32(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAstringBareAtom(t *testing.T) {
	if got, want := Astring("INBOX"), "INBOX"; got != want {
		t.Errorf("Astring(%q) = %q, want %q", "INBOX", got, want)
	}
}

func TestAstringQuotesSpecials(t *testing.T) {
	for _, s := range []string{"has space", `with"quote`, "", "a(b)"} {
		got := Astring(s)
		if got == s {
			t.Errorf("Astring(%q) returned the bare string unescaped: %q", s, got)
		}
	}
}

func TestQuoteFallsBackToLiteralOnControlBytes(t *testing.T) {
	got := Quote("a\r\nb")
	if got == `"a\r\nb"` {
		t.Errorf("Quote must not produce a quoted string containing CR/LF, got %q", got)
	}
}

func TestParseUntaggedThreadBranching(t *testing.T) {
	ut, err := ParseUntagged("* THREAD (2)(3 6 (4 23)(44 7 96))\r\n")
	if err != nil {
		t.Fatalf("ParseUntagged: %v", err)
	}
	th, ok := ut.(UntaggedThread)
	if !ok {
		t.Fatalf("got %T, want UntaggedThread", ut)
	}
	if len(th) != 2 {
		t.Fatalf("got %d top-level chains, want 2", len(th))
	}

	if th[0].UID != 2 || len(th[0].Children) != 0 {
		t.Errorf("first chain = %+v, want a lone root 2", th[0])
	}

	second := th[1]
	if second.UID != 3 {
		t.Fatalf("second chain root = %d, want 3", second.UID)
	}
	if len(second.Children) != 1 || second.Children[0].UID != 6 {
		t.Fatalf("3's child = %+v, want a lone 6", second.Children)
	}
	branch := second.Children[0].Children
	if len(branch) != 2 {
		t.Fatalf("6 should branch into 2 siblings, got %d", len(branch))
	}
	if branch[0].UID != 4 || len(branch[0].Children) != 1 || branch[0].Children[0].UID != 23 {
		t.Errorf("first sibling = %+v, want 4 with child 23", branch[0])
	}
	if branch[1].UID != 44 {
		t.Fatalf("second sibling root = %d, want 44", branch[1].UID)
	}
	if len(branch[1].Children) != 1 || branch[1].Children[0].UID != 7 {
		t.Errorf("44's child = %+v, want a lone 7", branch[1].Children)
	}
	if len(branch[1].Children[0].Children) != 1 || branch[1].Children[0].Children[0].UID != 96 {
		t.Errorf("7's child = %+v, want a lone 96", branch[1].Children[0].Children)
	}
}

func TestParseUntaggedThreadDummyRoot(t *testing.T) {
	ut, err := ParseUntagged("* THREAD (0 2 3)\r\n")
	if err != nil {
		t.Fatalf("ParseUntagged: %v", err)
	}
	th := ut.(UntaggedThread)
	if len(th) != 1 || th[0].UID != 0 {
		t.Fatalf("got %+v, want a single dummy-rooted chain", th)
	}
	if len(th[0].Children) != 1 || th[0].Children[0].UID != 2 {
		t.Fatalf("dummy's child = %+v, want a lone 2", th[0].Children)
	}
}

func TestParseUntaggedSort(t *testing.T) {
	ut, err := ParseUntagged("* SORT 2 84 882\r\n")
	if err != nil {
		t.Fatalf("ParseUntagged: %v", err)
	}
	got := []uint32(ut.(UntaggedSort))
	want := []uint32{2, 84, 882}
	if !equalUint32(got, want) {
		t.Errorf("UntaggedSort = %v, want %v", got, want)
	}
}
