package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseTestTerm parses a raw term against an empty query.
func parseTestTerm(t *testing.T, raw []any) Term {
	t.Helper()
	q := &Query{}
	term, err := parseTerm(q, raw)
	require.NoError(t, err)
	return term
}

func evalAgainst(t *testing.T, term Term, wholeName string) bool {
	t.Helper()
	ctx := &Context{Query: &Query{}}
	res := term.Evaluate(ctx, makeTestFile(wholeName))
	require.True(t, res.Decided(), "dirname terms always decide")
	return res.Matched
}

func TestDirName_Matching(t *testing.T) {
	testCases := []struct {
		name      string
		term      []any
		wholeName string
		want      bool
	}{
		{"child matches", []any{"dirname", "src"}, "src/a/b.c", true},
		{"direct child matches", []any{"dirname", "src"}, "src/a.c", true},
		{"equal name never matches", []any{"dirname", "src"}, "src", false},
		{"common prefix is not a child", []any{"dirname", "src"}, "srcx/a", false},
		{"different tree", []any{"dirname", "src"}, "lib/a.c", false},
		{"empty dirname matches everything below the root", []any{"dirname", ""}, "a.c", true},
		{"backslash separator accepted", []any{"dirname", "src"}, `src\a.c`, true},
		{"case sensitive", []any{"dirname", "Src"}, "src/a.c", false},
		{"deep nesting", []any{"dirname", "src/lib"}, "src/lib/x/y/z.c", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			term := parseTestTerm(t, tc.term)
			assert.Equal(t, tc.want, evalAgainst(t, term, tc.wholeName))
		})
	}
}

func TestDirName_DepthConstraints(t *testing.T) {
	testCases := []struct {
		name      string
		depth     []any
		wholeName string
		want      bool
	}{
		{"ge 0 matches direct child", []any{"depth", "ge", float64(0)}, "src/a.c", true},
		{"eq 0 rejects nested", []any{"depth", "eq", float64(0)}, "src/a/b.c", false},
		{"eq 1 matches one level", []any{"depth", "eq", float64(1)}, "src/a/b.c", true},
		{"gt 1 rejects one level", []any{"depth", "gt", float64(1)}, "src/a/b.c", false},
		{"le 1 matches one level", []any{"depth", "le", float64(1)}, "src/a/b.c", true},
		{"lt 1 rejects one level", []any{"depth", "lt", float64(1)}, "src/a/b.c", false},
		{"ne 1 rejects one level", []any{"depth", "ne", float64(1)}, "src/a/b.c", false},
		{"ne 2 matches one level", []any{"depth", "ne", float64(2)}, "src/a/b.c", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			term := parseTestTerm(t, []any{"dirname", "src", tc.depth})
			assert.Equal(t, tc.want, evalAgainst(t, term, tc.wholeName))
		})
	}
}

func TestDirName_DefaultDepthIsGeZero(t *testing.T) {
	bare := parseTestTerm(t, []any{"dirname", "src"})
	explicit := parseTestTerm(t, []any{"dirname", "src", []any{"depth", "ge", float64(0)}})

	for _, w := range []string{"src/a.c", "src/a/b/c.d", "src", "other/a.c"} {
		assert.Equal(t, evalAgainst(t, explicit, w), evalAgainst(t, bare, w), "wholename %q", w)
	}
}

func TestIDirName_CaseInsensitive(t *testing.T) {
	term := parseTestTerm(t, []any{"idirname", "Src"})
	assert.True(t, evalAgainst(t, term, "src/a.c"))
	assert.True(t, evalAgainst(t, term, "SRC/a.c"))
	assert.False(t, evalAgainst(t, term, "srcx/a.c"))
	assert.False(t, evalAgainst(t, term, "src"))
}

func TestIDirName_AgreesWithDirNameOnLowercase(t *testing.T) {
	names := []string{"src/a.c", "src/a/b.c", "src", "lib/x", "srcx/y"}
	ci := parseTestTerm(t, []any{"idirname", "src"})
	cs := parseTestTerm(t, []any{"dirname", "src"})
	for _, w := range names {
		assert.Equal(t, evalAgainst(t, cs, w), evalAgainst(t, ci, w), "wholename %q", w)
	}
}

func TestDirName_ParseErrors(t *testing.T) {
	testCases := []struct {
		name string
		term []any
	}{
		{"too few arguments", []any{"dirname"}},
		{"too many arguments", []any{"dirname", "src", []any{"depth", "ge", float64(0)}, "extra"}},
		{"non string dir", []any{"dirname", float64(42)}},
		{"depth not an array", []any{"dirname", "src", "depth"}},
		{"depth wrong arity", []any{"dirname", "src", []any{"depth", "ge"}}},
		{"depth wrong label", []any{"dirname", "src", []any{"height", "ge", float64(0)}}},
		{"invalid operator", []any{"dirname", "src", []any{"depth", "between", float64(0)}}},
		{"non integer operand", []any{"dirname", "src", []any{"depth", "ge", "zero"}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q := &Query{}
			_, err := parseTerm(q, tc.term)
			require.Error(t, err)
			assert.True(t, IsParseError(err), "expected a parse error, got %v", err)
		})
	}
}

func TestRelativeRoot_RescopesWholeName(t *testing.T) {
	term := parseTestTerm(t, []any{"dirname", "inner"})
	ctx := &Context{Query: &Query{RelativeRoot: "sub"}}

	res := term.Evaluate(ctx, makeTestFile("sub/inner/a.c"))
	require.True(t, res.Decided())
	assert.True(t, res.Matched, "wholename should be relative to the relative root")
}
