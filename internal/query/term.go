package query

import (
	"time"
)

// FieldSet names file fields a term needs before it can decide.
type FieldSet uint32

const (
	FieldName FieldSet = 1 << iota
	FieldExists
	FieldNew
	FieldSize
	FieldMode
	FieldMTime
	FieldCTime
)

// Result is the tri-valued outcome of evaluating a term against a file.
//
// A term either decides (Matched valid), or reports that it cannot decide
// until the listed fields are loaded. The evaluator fetches the missing
// fields and re-runs the term.
type Result struct {
	Matched    bool
	NeedFields FieldSet
}

// Decided reports whether the term reached a verdict.
func (r Result) Decided() bool {
	return r.NeedFields == 0
}

// Match is a decided positive result.
func Match() Result { return Result{Matched: true} }

// NoMatch is a decided negative result.
func NoMatch() Result { return Result{Matched: false} }

// NeedsData defers the verdict until the fields are available.
func NeedsData(fields FieldSet) Result { return Result{NeedFields: fields} }

// FileResult is one candidate file presented to the expression tree.
//
// Field accessors return (value, ok); ok == false means the field has not
// been loaded yet and the caller should return NeedsData. LoadFields makes
// the listed fields available, possibly by consulting a saved-state
// provider.
type FileResult interface {
	// Name returns the root-relative path of the file. Always loaded.
	Name() string

	Exists() (bool, bool)
	IsNew() (bool, bool)
	Size() (int64, bool)
	Mode() (uint32, bool)
	MTime() (time.Time, bool)
	CTime() (time.Time, bool)

	// OTime returns the tick at which the file was last observed to
	// change. Always loaded; drives since queries.
	OTime() uint64

	// LoadFields ensures the given fields are available.
	LoadFields(fields FieldSet) error
}

// Term is one node of a parsed query expression tree.
//
// Evaluate must be pure with respect to the context: terms are re-run
// after field loads and may be shared between evaluations.
type Term interface {
	Evaluate(ctx *Context, file FileResult) Result
}
