package query

import (
	"strings"
)

func isDirSep(c byte) bool {
	return c == '/' || c == '\\'
}

// dirNameTerm matches files that live underneath a given directory.
//
// ["dirname", "foo"] is sugar for ["dirname", "foo", ["depth", "ge", 0]].
// The depth triple constrains how many directory levels below the operand
// the file sits. idirname is the case-insensitive variant.
type dirNameTerm struct {
	dirname    string
	depth      IntCompare
	startsWith func(whole, prefix string) bool
}

func (t *dirNameTerm) Evaluate(ctx *Context, file FileResult) Result {
	whole := ctx.WholeName(file)

	if len(whole) <= len(t.dirname) {
		// Either it doesn't prefix match, or the file name equals the
		// operand. A dirname match requires the file to be a strict
		// descendant, so equal length can never match.
		return NoMatch()
	}

	// The candidate must be a child of dirname, so the byte after the
	// prefix has to be a separator. Special case for dirname == "" (the
	// root), which has no separator at position 0.
	if len(t.dirname) > 0 && !isDirSep(whole[len(t.dirname)]) {
		return NoMatch()
	}

	if !t.startsWith(whole, t.dirname) {
		return NoMatch()
	}

	// Depth of the file below dirname, counted as the number of
	// separators after the one we already checked.
	var actualDepth int64
	for i := len(t.dirname) + 1; i < len(whole); i++ {
		if isDirSep(whole[i]) {
			actualDepth++
		}
	}

	if t.depth.Eval(actualDepth) {
		return Match()
	}
	return NoMatch()
}

func startsWith(whole, prefix string) bool {
	return strings.HasPrefix(whole, prefix)
}

func startsWithFold(whole, prefix string) bool {
	return len(whole) >= len(prefix) && strings.EqualFold(whole[:len(prefix)], prefix)
}

// ["dirname", "foo"] -> ["dirname", "foo", ["depth", "ge", 0]]
func parseDirName(which string, caseless bool) TermParser {
	return func(q *Query, term []any) (Term, error) {
		if len(term) < 2 || len(term) > 3 {
			return nil, NewParseError("invalid number of arguments for %q term", which)
		}

		dir, ok := term[1].(string)
		if !ok {
			return nil, NewParseError("argument 2 to %q must be a string", which)
		}

		depth := IntCompare{Op: CmpGe, Operand: 0}
		if len(term) == 3 {
			triple, ok := term[2].([]any)
			if !ok || len(triple) != 3 {
				return nil, NewParseError("invalid number of arguments for %q term", which)
			}
			label, ok := triple[0].(string)
			if !ok || label != "depth" {
				return nil, NewParseError("third parameter to %q should be a relational depth term", which)
			}
			var err error
			depth, err = parseIntCompare(triple[1], triple[2])
			if err != nil {
				return nil, err
			}
		}

		sw := startsWith
		if caseless {
			sw = startsWithFold
		}
		return &dirNameTerm{dirname: dir, depth: depth, startsWith: sw}, nil
	}
}

func init() {
	RegisterTerm("dirname", parseDirName("dirname", false))
	RegisterTerm("idirname", parseDirName("idirname", true))
}
