package query

import (
	"path"
	"strings"
)

// matchTerm matches a glob pattern against the basename or wholename of
// a candidate. imatch is the case-insensitive variant. Dotfiles are not
// matched by wildcard components unless includedotfiles is set.
type matchTerm struct {
	pattern         string
	caseless        bool
	wholename       bool
	includeDotfiles bool
}

func (t *matchTerm) Evaluate(ctx *Context, file FileResult) Result {
	candidate := ctx.WholeName(file)
	if !t.wholename {
		candidate = path.Base(candidate)
	}

	if !t.includeDotfiles && leadingDot(candidate, t.wholename) && !leadingDot(t.pattern, t.wholename) {
		return NoMatch()
	}

	pattern, subject := t.pattern, candidate
	if t.caseless {
		pattern = strings.ToLower(pattern)
		subject = strings.ToLower(subject)
	}

	matched, err := path.Match(pattern, subject)
	if err != nil || !matched {
		return NoMatch()
	}
	return Match()
}

// leadingDot reports whether the name (or, for wholename scope, any of
// its path components) starts with a dot.
func leadingDot(name string, wholename bool) bool {
	if !wholename {
		return strings.HasPrefix(name, ".")
	}
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func parseMatch(which string, caseless bool) TermParser {
	return func(q *Query, term []any) (Term, error) {
		if len(term) < 2 || len(term) > 4 {
			return nil, NewParseError("invalid number of arguments for %q term", which)
		}

		pattern, ok := term[1].(string)
		if !ok {
			return nil, NewParseError("first parameter to %q term must be a pattern string", which)
		}

		scope := "basename"
		if len(term) > 2 {
			scope, ok = term[2].(string)
			if !ok {
				return nil, NewParseError("second parameter to %q term must be an optional scope string", which)
			}
			if scope != "basename" && scope != "wholename" {
				return nil, NewParseError("invalid scope %q for %q expression", scope, which)
			}
		}

		includeDotfiles := false
		if len(term) > 3 {
			opts, ok := term[3].(map[string]any)
			if !ok {
				return nil, NewParseError("third parameter to %q term must be an optional object", which)
			}
			if raw, present := opts["includedotfiles"]; present {
				includeDotfiles, ok = raw.(bool)
				if !ok {
					return nil, NewParseError("includedotfiles option for %q term must be a boolean", which)
				}
			}
		}

		return &matchTerm{
			pattern:         pattern,
			caseless:        caseless,
			wholename:       scope == "wholename",
			includeDotfiles: includeDotfiles,
		}, nil
	}
}

func init() {
	RegisterTerm("match", parseMatch("match", false))
	RegisterTerm("imatch", parseMatch("imatch", true))
}
