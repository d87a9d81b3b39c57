package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// triggerSchema constrains trigger definitions before they reach the
// trigger constructor, so shape errors are reported with field paths
// instead of surfacing one key at a time.
const triggerSchema = `
#Trigger: {
	name:    string & != ""
	command: [string, ...string]

	append_files?:    bool
	stdin?:           "/dev/null" | "NAME_PER_LINE" | [string, ...string]
	max_files_stdin?: int & >=0
	stdout?:          "" | =~"^>{1,2}."
	stderr?:          "" | =~"^>{1,2}."
	chdir?:           string
	relative_root?:   string
	expression?:      _
}
`

var (
	schemaOnce  sync.Once
	schemaValue cue.Value
)

func compiledSchema() cue.Value {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		schemaValue = ctx.CompileString(triggerSchema).LookupPath(cue.ParsePath("#Trigger"))
	})
	return schemaValue
}

// normalizeNumbers rewrites integral float64 values (the shape
// encoding/json produces for JSON integers) as int64 so they unify with
// the schema's int constraints.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	case []any:
		out := make([]any, len(val))
		for i, ele := range val {
			out[i] = normalizeNumbers(ele)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, ele := range val {
			out[k] = normalizeNumbers(ele)
		}
		return out
	default:
		return v
	}
}

// ValidateTriggerDefinition checks a decoded trigger definition against
// the schema. The returned error lists every violation.
func ValidateTriggerDefinition(def map[string]any) error {
	schema := compiledSchema()
	if err := schema.Err(); err != nil {
		return fmt.Errorf("internal trigger schema error: %w", err)
	}

	data := schema.Context().Encode(normalizeNumbers(def))
	if err := data.Err(); err != nil {
		return fmt.Errorf("invalid trigger definition: %w", err)
	}

	unified := schema.Unify(data)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		details := cueerrors.Details(err, nil)
		return fmt.Errorf("invalid trigger definition:\n%s", details)
	}
	return nil
}
