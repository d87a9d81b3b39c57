package query

import (
	"path"
	"strings"
)

// constTerm always evaluates to the same verdict.
type constTerm bool

func (t constTerm) Evaluate(*Context, FileResult) Result {
	if t {
		return Match()
	}
	return NoMatch()
}

// notTerm inverts its child. A deferred child stays deferred.
type notTerm struct {
	child Term
}

func (t *notTerm) Evaluate(ctx *Context, file FileResult) Result {
	res := t.child.Evaluate(ctx, file)
	if !res.Decided() {
		return res
	}
	res.Matched = !res.Matched
	return res
}

// listTerm combines children with allof/anyof semantics.
// Any undecided child defers the whole combination; the accumulated
// field sets are merged so one load satisfies every child.
type listTerm struct {
	children []Term
	allOf    bool
}

func (t *listTerm) Evaluate(ctx *Context, file FileResult) Result {
	var need FieldSet
	for _, child := range t.children {
		res := child.Evaluate(ctx, file)
		if !res.Decided() {
			need |= res.NeedFields
			continue
		}
		if t.allOf && !res.Matched {
			return NoMatch()
		}
		if !t.allOf && res.Matched {
			return Match()
		}
	}
	if need != 0 {
		return NeedsData(need)
	}
	if t.allOf {
		return Match()
	}
	return NoMatch()
}

// nameTerm matches the whole name or basename against a set of strings.
type nameTerm struct {
	names    map[string]struct{}
	caseless bool
	basename bool
}

func (t *nameTerm) Evaluate(ctx *Context, file FileResult) Result {
	candidate := ctx.WholeName(file)
	if t.basename {
		candidate = path.Base(candidate)
	}
	if t.caseless {
		candidate = strings.ToLower(candidate)
	}
	if _, ok := t.names[candidate]; ok {
		return Match()
	}
	return NoMatch()
}

// existsTerm matches files that currently exist.
type existsTerm struct{}

func (existsTerm) Evaluate(_ *Context, file FileResult) Result {
	exists, ok := file.Exists()
	if !ok {
		return NeedsData(FieldExists)
	}
	if exists {
		return Match()
	}
	return NoMatch()
}

func parseConst(value bool) TermParser {
	return func(q *Query, term []any) (Term, error) {
		if len(term) != 1 {
			return nil, NewParseError("%q term requires no arguments", term[0])
		}
		return constTerm(value), nil
	}
}

func parseNot(q *Query, term []any) (Term, error) {
	if len(term) != 2 {
		return nil, NewParseError("must use [\"not\", expr]")
	}
	child, err := parseTerm(q, term[1])
	if err != nil {
		return nil, err
	}
	return &notTerm{child: child}, nil
}

func parseList(allOf bool) TermParser {
	return func(q *Query, term []any) (Term, error) {
		if len(term) < 2 {
			return nil, NewParseError("%q must have at least one term", term[0])
		}
		children := make([]Term, 0, len(term)-1)
		for _, raw := range term[1:] {
			child, err := parseTerm(q, raw)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return &listTerm{children: children, allOf: allOf}, nil
	}
}

func parseName(which string, caseless bool) TermParser {
	return func(q *Query, term []any) (Term, error) {
		if len(term) < 2 || len(term) > 3 {
			return nil, NewParseError("invalid number of arguments for %q term", which)
		}

		var rawNames []any
		switch v := term[1].(type) {
		case string:
			rawNames = []any{v}
		case []any:
			rawNames = v
		default:
			return nil, NewParseError("argument 2 to %q must be either a string or an array of strings", which)
		}

		basename := true
		if len(term) == 3 {
			scope, ok := term[2].(string)
			if !ok || (scope != "basename" && scope != "wholename") {
				return nil, NewParseError("invalid scope %v for %q expression", term[2], which)
			}
			basename = scope == "basename"
		}

		names := make(map[string]struct{}, len(rawNames))
		for _, raw := range rawNames {
			name, ok := raw.(string)
			if !ok {
				return nil, NewParseError("all entries in the %q term must be strings", which)
			}
			if caseless {
				name = strings.ToLower(name)
			}
			names[name] = struct{}{}
		}
		return &nameTerm{names: names, caseless: caseless, basename: basename}, nil
	}
}

func parseExists(q *Query, term []any) (Term, error) {
	if len(term) != 1 {
		return nil, NewParseError("\"exists\" term requires no arguments")
	}
	return existsTerm{}, nil
}

func init() {
	RegisterTerm("true", parseConst(true))
	RegisterTerm("false", parseConst(false))
	RegisterTerm("not", parseNot)
	RegisterTerm("allof", parseList(true))
	RegisterTerm("anyof", parseList(false))
	RegisterTerm("name", parseName("name", false))
	RegisterTerm("iname", parseName("iname", true))
	RegisterTerm("exists", parseExists)
}
