package query

import (
	"strings"
	"time"

	"github.com/vigil-watch/vigil/internal/clock"
)

// QueryableView is the capability surface a query runs against.
//
// Concrete views implement only the generators they support; the
// remainder fail with an ExecError so the evaluator can surface
// "<name> not implemented" for unsupported combinations.
type QueryableView interface {
	// TimeGenerator emits files whose observed tick is newer than the
	// query's since spec.
	TimeGenerator(q *Query, ctx *Context) error

	// PathGenerator walks files under the query's path specs.
	PathGenerator(q *Query, ctx *Context) error

	// GlobGenerator emits files matching the query's glob patterns.
	GlobGenerator(q *Query, ctx *Context) error

	// AllFilesGenerator emits every file known to the view.
	AllFilesGenerator(q *Query, ctx *Context) error

	CurrentPosition() clock.Position
	GetCurrentClockString() string

	GetLastAgeOutTickValue() uint64
	GetLastAgeOutTimeStamp() time.Time
	AgeOut(minAge time.Duration) error

	// IsVCSOperationInProgress reports whether a version control
	// operation holds one of the well-known lock files under the root.
	IsVCSOperationInProgress() bool

	// SyncToNow issues a cookie sync and waits up to timeout for the
	// watcher to observe it.
	SyncToNow(timeout time.Duration) error
}

// Generator produces candidate files into a context. Callers may supply
// their own time generator (triggers and subscriptions do) in place of
// the view's.
type Generator func(q *Query, ctx *Context) error

// SavedStateProvider loads fields that the view does not hold locally.
type SavedStateProvider interface {
	Enrich(file FileResult, fields FieldSet) error
}

// Result is the outcome of executing a query.
type Result struct {
	// ResultsArray holds one record per matched file, shaped by the
	// query's field list.
	ResultsArray []map[string]any

	// ClockAtStartOfQuery is sampled before any generator iterates
	// entries, so it is safe to use as the since of the next query.
	ClockAtStartOfQuery *clock.Spec

	// DedupedFileNames records unique matched names in order of first
	// sight. Populated only when the query sets DedupResults.
	DedupedFileNames []string

	// IsFreshInstance is true when the result set was generated without
	// the benefit of the client's since spec: no spec was given, or the
	// spec predates what the view still remembers.
	IsFreshInstance bool
}

// Context carries per-execution state through the generators and the
// expression tree.
type Context struct {
	Query *Query
	View  QueryableView

	ClockAtStartOfQuery clock.Position

	// FreshInstance is set by the time generator when it degrades to a
	// full listing because the since spec is no longer answerable.
	FreshInstance bool

	saved SavedStateProvider

	resultsArray     []map[string]any
	dedupedFileNames []string
	dedupSeen        map[string]struct{}
}

// WholeName returns the name a term should match against: the file's
// root-relative name, re-rooted onto the query's relative root when one
// is set.
func (ctx *Context) WholeName(file FileResult) string {
	name := file.Name()
	if ctx.Query.RelativeRoot == "" {
		return name
	}
	rel := ctx.Query.RelativeRoot
	if strings.HasPrefix(name, rel) && len(name) > len(rel) && isDirSep(name[len(rel)]) {
		return name[len(rel)+1:]
	}
	return name
}

// insideRelativeRoot reports whether the file participates in the query
// at all when a relative root is set.
func (ctx *Context) insideRelativeRoot(file FileResult) bool {
	if ctx.Query.RelativeRoot == "" {
		return true
	}
	name := file.Name()
	rel := ctx.Query.RelativeRoot
	return strings.HasPrefix(name, rel) && len(name) > len(rel) && isDirSep(name[len(rel)])
}

// ProcessFile evaluates one candidate against the expression tree and,
// on a match, projects it into the result set.
//
// A term may defer with NeedsData; the engine loads the missing fields
// (consulting the saved-state provider if the view cannot satisfy them)
// and re-evaluates. A file whose re-evaluation, after a load, still
// cannot decide and asks for the same fields again is an execution error.
func (ctx *Context) ProcessFile(file FileResult) error {
	if !ctx.insideRelativeRoot(file) {
		return nil
	}

	res := ctx.Query.Expression.Evaluate(ctx, file)
	for !res.Decided() {
		if err := file.LoadFields(res.NeedFields); err != nil {
			if ctx.saved == nil {
				return NewExecError("failed to load fields for %s: %v", file.Name(), err)
			}
			if err := ctx.saved.Enrich(file, res.NeedFields); err != nil {
				return NewExecError("failed to load fields for %s: %v", file.Name(), err)
			}
		}
		again := ctx.Query.Expression.Evaluate(ctx, file)
		if again.NeedFields == res.NeedFields && !again.Decided() {
			return NewExecError("expression cannot decide %s: fields unavailable", file.Name())
		}
		res = again
	}
	if !res.Matched {
		return nil
	}

	record, err := ctx.projectFields(file)
	if err != nil {
		return err
	}
	ctx.resultsArray = append(ctx.resultsArray, record)

	if ctx.Query.DedupResults {
		name := ctx.WholeName(file)
		if _, dup := ctx.dedupSeen[name]; !dup {
			ctx.dedupSeen[name] = struct{}{}
			ctx.dedupedFileNames = append(ctx.dedupedFileNames, name)
		}
	}
	return nil
}

func (ctx *Context) projectFields(file FileResult) (map[string]any, error) {
	record := make(map[string]any, len(ctx.Query.FieldList))
	for _, field := range ctx.Query.FieldList {
		value, err := ctx.fieldValue(file, field)
		if err != nil {
			return nil, err
		}
		record[field] = value
	}
	return record, nil
}

func (ctx *Context) fieldValue(file FileResult, field string) (any, error) {
	load := func(fs FieldSet) error {
		if err := file.LoadFields(fs); err != nil {
			if ctx.saved != nil {
				return ctx.saved.Enrich(file, fs)
			}
			return err
		}
		return nil
	}

	switch field {
	case "name":
		return ctx.WholeName(file), nil
	case "exists":
		if v, ok := file.Exists(); ok {
			return v, nil
		}
		if err := load(FieldExists); err != nil {
			return nil, NewExecError("cannot load field exists for %s", file.Name())
		}
		v, _ := file.Exists()
		return v, nil
	case "new":
		if v, ok := file.IsNew(); ok {
			return v, nil
		}
		if err := load(FieldNew); err != nil {
			return nil, NewExecError("cannot load field new for %s", file.Name())
		}
		v, _ := file.IsNew()
		return v, nil
	case "size":
		if v, ok := file.Size(); ok {
			return v, nil
		}
		if err := load(FieldSize); err != nil {
			return nil, NewExecError("cannot load field size for %s", file.Name())
		}
		v, _ := file.Size()
		return v, nil
	case "mode":
		if v, ok := file.Mode(); ok {
			return v, nil
		}
		if err := load(FieldMode); err != nil {
			return nil, NewExecError("cannot load field mode for %s", file.Name())
		}
		v, _ := file.Mode()
		return v, nil
	case "mtime":
		if v, ok := file.MTime(); ok {
			return v.Unix(), nil
		}
		if err := load(FieldMTime); err != nil {
			return nil, NewExecError("cannot load field mtime for %s", file.Name())
		}
		v, _ := file.MTime()
		return v.Unix(), nil
	case "ctime":
		if v, ok := file.CTime(); ok {
			return v.Unix(), nil
		}
		if err := load(FieldCTime); err != nil {
			return nil, NewExecError("cannot load field ctime for %s", file.Name())
		}
		v, _ := file.CTime()
		return v.Unix(), nil
	default:
		return nil, NewExecError("unknown field %q", field)
	}
}

// Execute runs a query against a view.
//
// The start-of-query clock is sampled before any generator iterates
// entries, so callers can chain the returned clock into their next since
// query without losing observations. When SyncTimeout is positive a
// cookie sync runs first; a sync that does not complete in time fails
// the query with a SyncTimeoutError.
func Execute(q *Query, view QueryableView, timeGen Generator, saved SavedStateProvider) (*Result, error) {
	ctx := &Context{
		Query:               q,
		View:                view,
		ClockAtStartOfQuery: view.CurrentPosition(),
		saved:               saved,
	}
	if q.DedupResults {
		ctx.dedupSeen = make(map[string]struct{})
	}

	if q.SyncTimeout > 0 {
		if err := view.SyncToNow(q.SyncTimeout); err != nil {
			return nil, err
		}
	}

	gen := selectGenerator(q, view, timeGen)
	if err := gen(q, ctx); err != nil {
		return nil, err
	}

	return &Result{
		ResultsArray:        ctx.resultsArray,
		ClockAtStartOfQuery: clock.NewClockSpec(ctx.ClockAtStartOfQuery),
		DedupedFileNames:    ctx.dedupedFileNames,
		IsFreshInstance:     q.SinceSpec == nil || ctx.FreshInstance,
	}, nil
}

// selectGenerator picks exactly one generator for the query: the time
// generator wins when a since spec is present, then paths, then globs,
// then all files.
func selectGenerator(q *Query, view QueryableView, timeGen Generator) Generator {
	switch {
	case q.SinceSpec != nil:
		if timeGen != nil {
			return timeGen
		}
		return view.TimeGenerator
	case len(q.Paths) > 0:
		return view.PathGenerator
	case len(q.Globs) > 0:
		return view.GlobGenerator
	default:
		return view.AllFilesGenerator
	}
}
