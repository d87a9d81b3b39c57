// Package trigger implements stored queries that fire at settle points
// and spawn at most one child process each, feeding matched file names
// to the child over stdin and/or argv.
package trigger

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vigil-watch/vigil/internal/pubsub"
	"github.com/vigil-watch/vigil/internal/query"
	"github.com/vigil-watch/vigil/internal/root"
)

// StdinStyle selects what the child process reads on stdin.
type StdinStyle int

const (
	// InputDevNull gives the child an empty stdin.
	InputDevNull StdinStyle = iota
	// InputJSON feeds the results array as one JSON document.
	InputJSON
	// InputNamePerLine feeds one matched name per line.
	InputNamePerLine
)

// Options carries the process-wide context a trigger needs, passed in
// explicitly so tests can substitute fakes.
type Options struct {
	// SockName is exported to children as WATCHMAN_SOCK.
	SockName string

	// TempDir hosts the stdin temp files. Empty means os.TempDir.
	TempDir string

	// ArgMax bounds the combined argv+environment size for spawned
	// children. Zero selects the platform default.
	ArgMax int

	Log *slog.Logger

	// Saved supplies fields the view cannot load during query
	// re-evaluation.
	Saved query.SavedStateProvider
}

// DefaultArgMax approximates the kernel's exec argument limit closely
// enough for overflow accounting.
const DefaultArgMax = 2 * 1024 * 1024

// Command is one registered trigger: a stored query plus the command
// template and spawn policy, with its own goroutine running the
// subscribe-settle-query-spawn loop.
//
// Concurrency: only the trigger goroutine touches the mutable fields
// (env, query since spec, current child); the exceptions are the stop
// flag (atomic) and the ping signal, which any thread may poke.
type Command struct {
	definition map[string]any
	name       string
	argv       []string

	query         *query.Query
	appendFiles   bool
	stdinStyle    StdinStyle
	maxFilesStdin int

	stdoutName  string
	stdoutFlags int
	stderrName  string
	stderrFlags int

	env map[string]string

	opts    Options
	log     *slog.Logger
	root    *root.Root
	current *childProcess

	sub    *pubsub.Subscriber
	ping   chan struct{}
	stop   atomic.Bool
	wg     sync.WaitGroup
	active atomic.Bool
}

// New parses a trigger definition and builds the command. The trigger
// is inert until Start.
func New(r *root.Root, def map[string]any, opts Options) (*Command, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.ArgMax <= 0 {
		opts.ArgMax = DefaultArgMax
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}

	cmd := &Command{
		definition: def,
		opts:       opts,
		root:       r,
		ping:       make(chan struct{}, 1),
	}

	queryDef := map[string]any{}
	if expr, ok := def["expression"]; ok {
		queryDef["expression"] = expr
	}
	if rel, ok := def["relative_root"]; ok {
		queryDef["relative_root"] = rel
	}
	q, err := query.Parse(queryDef)
	if err != nil {
		return nil, err
	}
	cmd.query = q

	name, ok := def["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("invalid or missing name")
	}
	cmd.name = name
	cmd.log = opts.Log.With("trigger", name, "root", r.Path)

	rawCmd, ok := def["command"].([]any)
	if !ok || len(rawCmd) == 0 {
		return nil, fmt.Errorf("invalid command array")
	}
	cmd.argv = make([]string, 0, len(rawCmd))
	for _, ele := range rawCmd {
		arg, ok := ele.(string)
		if !ok {
			return nil, fmt.Errorf("invalid command array")
		}
		cmd.argv = append(cmd.argv, arg)
	}

	if af, ok := def["append_files"].(bool); ok && af {
		cmd.appendFiles = true
		// Appending file names to argv needs the list of unique names.
		// The field list may be claimed by the stdin setting below, so
		// capture the names through the dedup mechanism instead.
		cmd.query.DedupResults = true
	}

	if err := cmd.parseStdin(def); err != nil {
		return nil, err
	}

	if raw, ok := def["max_files_stdin"]; ok {
		n, isNum := raw.(float64)
		if !isNum || n < 0 {
			return nil, fmt.Errorf("max_files_stdin must be >= 0")
		}
		cmd.maxFilesStdin = int(n)
	}

	if cmd.stdoutName, cmd.stdoutFlags, err = parseRedirection(def, "stdout"); err != nil {
		return nil, err
	}
	if cmd.stderrName, cmd.stderrFlags, err = parseRedirection(def, "stderr"); err != nil {
		return nil, err
	}

	// Children inherit the daemon's environment plus the standard vars.
	cmd.env = make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			cmd.env[k] = v
		}
	}
	cmd.env["WATCHMAN_ROOT"] = r.Path
	cmd.env["WATCHMAN_SOCK"] = opts.SockName
	cmd.env["WATCHMAN_TRIGGER"] = cmd.name

	return cmd, nil
}

func (c *Command) parseStdin(def map[string]any) error {
	raw, present := def["stdin"]
	if !present {
		c.stdinStyle = InputDevNull
		return nil
	}
	switch v := raw.(type) {
	case []any:
		fields, err := query.ParseFieldList(v)
		if err != nil {
			return err
		}
		c.stdinStyle = InputJSON
		c.query.FieldList = fields
		return nil
	case string:
		switch v {
		case "/dev/null":
			c.stdinStyle = InputDevNull
		case "NAME_PER_LINE":
			c.stdinStyle = InputNamePerLine
			c.query.FieldList = []string{"name"}
		default:
			return fmt.Errorf("invalid stdin value %s", v)
		}
		return nil
	default:
		return fmt.Errorf("invalid value for stdin")
	}
}

// parseRedirection interprets the stdout/stderr syntax: ">path" means
// create+truncate, ">>path" means create+append. Absent or empty means
// inherit the daemon's descriptor.
func parseRedirection(def map[string]any, label string) (string, int, error) {
	raw, present := def[label]
	if !present {
		return "", 0, nil
	}
	name, ok := raw.(string)
	if !ok {
		return "", 0, fmt.Errorf("%s must be a string", label)
	}
	if name == "" {
		return "", 0, nil
	}
	if name[0] != '>' {
		return "", 0, fmt.Errorf("%s: must be prefixed with either > or >>, got %s", label, name)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if len(name) > 1 && name[1] == '>' {
		if runtime.GOOS == "windows" {
			return "", 0, fmt.Errorf("%s: Windows does not support O_APPEND", label)
		}
		return name[2:], flags | os.O_APPEND, nil
	}
	return name[1:], flags | os.O_TRUNC, nil
}

// Name returns the trigger name.
func (c *Command) Name() string { return c.name }

// Definition returns the raw definition this trigger was built from.
func (c *Command) Definition() map[string]any { return c.definition }
