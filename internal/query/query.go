package query

import (
	"time"

	"github.com/vigil-watch/vigil/internal/clock"
)

// DefaultSyncTimeout caps the pre-query cookie sync when the client does
// not specify one.
const DefaultSyncTimeout = 60 * time.Second

// PathSpec is one entry of the path generator input: walk the named
// directory up to Depth levels deep (negative means unlimited).
type PathSpec struct {
	Name  string
	Depth int64
}

// Query is a parsed query: an expression tree plus the knobs that select
// which candidate files are generated and how results are shaped.
type Query struct {
	// Expression is the root of the boolean term tree. Never nil after
	// Parse; an absent "expression" key means match-everything.
	Expression Term

	// FieldList is the ordered list of output field names projected into
	// each result record.
	FieldList []string

	// RelativeRoot, when set, scopes the query to a subdirectory and
	// makes all reported names relative to it.
	RelativeRoot string

	// SinceSpec selects the time generator when present.
	SinceSpec *clock.Spec

	// Paths and Globs feed the path and glob generators.
	Paths []PathSpec
	Globs []string

	// DedupResults requests that every unique file name be recorded
	// (in order of first sight) into the result's DedupedFileNames.
	DedupResults bool

	// SyncTimeout bounds the pre-query cookie sync. Zero means no sync.
	SyncTimeout time.Duration

	// RequestID tags log lines for this query.
	RequestID string
}

var defaultFieldList = []string{"name"}

// knownFields is the set of projectable field names.
var knownFields = map[string]struct{}{
	"name":   {},
	"exists": {},
	"new":    {},
	"size":   {},
	"mode":   {},
	"mtime":  {},
	"ctime":  {},
}

// Parse builds a Query from the decoded JSON query spec.
func Parse(spec map[string]any) (*Query, error) {
	q := &Query{
		SyncTimeout: DefaultSyncTimeout,
		FieldList:   defaultFieldList,
	}

	if raw, ok := spec["relative_root"]; ok {
		rel, ok := raw.(string)
		if !ok {
			return nil, NewParseError("relative_root must be a string")
		}
		q.RelativeRoot = rel
	}

	if raw, ok := spec["since"]; ok {
		since, err := clock.ParseSpec(raw)
		if err != nil {
			return nil, NewParseError("invalid since value: %v", err)
		}
		q.SinceSpec = since
	}

	if raw, ok := spec["sync_timeout"]; ok {
		ms, isInt := jsonInt(raw)
		if !isInt || ms < 0 {
			return nil, NewParseError("sync_timeout must be an integer >= 0")
		}
		q.SyncTimeout = time.Duration(ms) * time.Millisecond
	}

	if raw, ok := spec["dedup_results"]; ok {
		dedup, ok := raw.(bool)
		if !ok {
			return nil, NewParseError("dedup_results must be a boolean")
		}
		q.DedupResults = dedup
	}

	if raw, ok := spec["path"]; ok {
		paths, err := parsePaths(raw)
		if err != nil {
			return nil, err
		}
		q.Paths = paths
	}

	if raw, ok := spec["glob"]; ok {
		globs, ok := raw.([]any)
		if !ok {
			return nil, NewParseError("glob must be an array of strings")
		}
		for _, g := range globs {
			pattern, ok := g.(string)
			if !ok {
				return nil, NewParseError("glob must be an array of strings")
			}
			q.Globs = append(q.Globs, pattern)
		}
	}

	if raw, ok := spec["fields"]; ok {
		fields, err := ParseFieldList(raw)
		if err != nil {
			return nil, err
		}
		q.FieldList = fields
	}

	if raw, ok := spec["expression"]; ok {
		expr, err := parseTerm(q, raw)
		if err != nil {
			return nil, err
		}
		q.Expression = expr
	} else {
		q.Expression = constTerm(true)
	}

	return q, nil
}

// ParseFieldList validates a raw JSON field list.
func ParseFieldList(raw any) ([]string, error) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, NewParseError("field list must be an array of strings")
	}
	if len(arr) == 0 {
		return nil, NewParseError("field list must not be empty")
	}
	fields := make([]string, 0, len(arr))
	for _, f := range arr {
		name, ok := f.(string)
		if !ok {
			return nil, NewParseError("field list must be an array of strings")
		}
		if _, known := knownFields[name]; !known {
			return nil, NewParseError("unknown field name %q", name)
		}
		fields = append(fields, name)
	}
	return fields, nil
}

func parsePaths(raw any) ([]PathSpec, error) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, NewParseError("path must be an array")
	}
	paths := make([]PathSpec, 0, len(arr))
	for _, ele := range arr {
		switch v := ele.(type) {
		case string:
			paths = append(paths, PathSpec{Name: v, Depth: -1})
		case map[string]any:
			name, ok := v["path"].(string)
			if !ok {
				return nil, NewParseError("path entry must have a string \"path\" key")
			}
			depth := int64(-1)
			if rawDepth, present := v["depth"]; present {
				d, isInt := jsonInt(rawDepth)
				if !isInt {
					return nil, NewParseError("path depth must be an integer")
				}
				depth = d
			}
			paths = append(paths, PathSpec{Name: name, Depth: depth})
		default:
			return nil, NewParseError("path entry must be a string or an object")
		}
	}
	return paths, nil
}

// ParseLegacy builds a query from the positional pattern syntax used by
// find and the short trigger form: a list of basename match patterns with
// the optional separators "--" (end of patterns) and "-X"/"-I" toggles
// for exclusion. An empty pattern list matches everything that exists.
//
// nextArg, when non-nil, receives the index of the first argument that
// was not consumed as a pattern.
func ParseLegacy(args []any, startAt int, nextArg *int) (*Query, error) {
	q := &Query{
		SyncTimeout: DefaultSyncTimeout,
		FieldList:   defaultFieldList,
	}

	include := true
	var includeTerms, excludeTerms []Term
	i := startAt
patterns:
	for ; i < len(args); i++ {
		pattern, ok := args[i].(string)
		if !ok {
			return nil, NewParseError("expected argument %d to be a string", i)
		}
		switch pattern {
		case "--":
			i++
			break patterns
		case "-X":
			include = false
			continue
		case "-I":
			include = true
			continue
		}
		term, err := parseTerm(q, []any{"match", pattern, "basename"})
		if err != nil {
			return nil, err
		}
		if include {
			includeTerms = append(includeTerms, term)
		} else {
			excludeTerms = append(excludeTerms, term)
		}
	}
	if nextArg != nil {
		*nextArg = i
	}

	matcher := Term(constTerm(true))
	if len(includeTerms) > 0 {
		matcher = &listTerm{children: includeTerms}
	}
	if len(excludeTerms) > 0 {
		matcher = &listTerm{
			children: []Term{matcher, &notTerm{child: &listTerm{children: excludeTerms}}},
			allOf:    true,
		}
	}
	q.Expression = &listTerm{children: []Term{existsTerm{}, matcher}, allOf: true}
	return q, nil
}
