package engine

import "fmt"

// tagGen allocates ever-increasing command tags "a1", "a2", ..., distinct
// from the server's own greeting/continuation lines which never share the
// "a" prefix.
type tagGen struct{ n int }

func (g *tagGen) next() string {
	g.n++
	return fmt.Sprintf("a%d", g.n)
}
