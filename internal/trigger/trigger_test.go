package trigger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-watch/vigil/internal/root"
	"github.com/vigil-watch/vigil/internal/watcher"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRoot(t *testing.T) (*root.Root, *watcher.FakeWatcher) {
	t.Helper()
	fake := watcher.NewFake()
	r, err := root.New(t.TempDir(), fake, root.Options{
		Settle: 10 * time.Millisecond,
		Log:    testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(r.Stop)
	return r, fake
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		SockName: "/tmp/vigil-test.sock",
		TempDir:  t.TempDir(),
		Log:      testLogger(),
	}
}

func makeTrigger(t *testing.T, r *root.Root, def map[string]any) *Command {
	t.Helper()
	cmd, err := New(r, def, testOptions(t))
	require.NoError(t, err)
	return cmd
}

func TestNew_DefinitionParsing(t *testing.T) {
	r, _ := newTestRoot(t)

	cmd := makeTrigger(t, r, map[string]any{
		"name":            "build",
		"command":         []any{"make", "all"},
		"append_files":    true,
		"stdin":           "NAME_PER_LINE",
		"max_files_stdin": float64(5),
		"stdout":          ">/tmp/out.log",
		"stderr":          ">>/tmp/err.log",
	})

	assert.Equal(t, "build", cmd.Name())
	assert.Equal(t, []string{"make", "all"}, cmd.argv)
	assert.True(t, cmd.appendFiles)
	assert.True(t, cmd.query.DedupResults, "append_files captures names via dedup")
	assert.Equal(t, InputNamePerLine, cmd.stdinStyle)
	assert.Equal(t, []string{"name"}, cmd.query.FieldList)
	assert.Equal(t, 5, cmd.maxFilesStdin)
	assert.Equal(t, "/tmp/out.log", cmd.stdoutName)
	assert.Equal(t, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, cmd.stdoutFlags)
	assert.Equal(t, "/tmp/err.log", cmd.stderrName)
	assert.Equal(t, os.O_CREATE|os.O_WRONLY|os.O_APPEND, cmd.stderrFlags)

	assert.Equal(t, r.Path, cmd.env["WATCHMAN_ROOT"])
	assert.Equal(t, "/tmp/vigil-test.sock", cmd.env["WATCHMAN_SOCK"])
	assert.Equal(t, "build", cmd.env["WATCHMAN_TRIGGER"])
}

func TestNew_StdinStyles(t *testing.T) {
	r, _ := newTestRoot(t)

	cmd := makeTrigger(t, r, map[string]any{"name": "a", "command": []any{"x"}})
	assert.Equal(t, InputDevNull, cmd.stdinStyle)

	cmd = makeTrigger(t, r, map[string]any{"name": "b", "command": []any{"x"}, "stdin": "/dev/null"})
	assert.Equal(t, InputDevNull, cmd.stdinStyle)

	cmd = makeTrigger(t, r, map[string]any{
		"name": "c", "command": []any{"x"},
		"stdin": []any{"name", "size"},
	})
	assert.Equal(t, InputJSON, cmd.stdinStyle)
	assert.Equal(t, []string{"name", "size"}, cmd.query.FieldList)
}

func TestNew_DefinitionErrors(t *testing.T) {
	r, _ := newTestRoot(t)
	testCases := []struct {
		name string
		def  map[string]any
		want string
	}{
		{"missing name", map[string]any{"command": []any{"x"}}, "invalid or missing name"},
		{"missing command", map[string]any{"name": "t"}, "invalid command array"},
		{"empty command", map[string]any{"name": "t", "command": []any{}}, "invalid command array"},
		{"non string command", map[string]any{"name": "t", "command": []any{float64(1)}}, "invalid command array"},
		{"bad stdin", map[string]any{"name": "t", "command": []any{"x"}, "stdin": "SOMETHING"}, "invalid stdin value"},
		{"bad stdin type", map[string]any{"name": "t", "command": []any{"x"}, "stdin": float64(4)}, "invalid value for stdin"},
		{"negative max files", map[string]any{"name": "t", "command": []any{"x"}, "max_files_stdin": float64(-2)}, "max_files_stdin must be >= 0"},
		{"redirection without >", map[string]any{"name": "t", "command": []any{"x"}, "stdout": "/tmp/x"}, "must be prefixed"},
		{"redirection type", map[string]any{"name": "t", "command": []any{"x"}, "stderr": float64(2)}, "must be a string"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(r, tc.def, testOptions(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestWorkingDir(t *testing.T) {
	r, _ := newTestRoot(t)

	cmd := makeTrigger(t, r, map[string]any{"name": "t", "command": []any{"x"}})
	assert.Equal(t, r.Path, cmd.workingDir())

	cmd = makeTrigger(t, r, map[string]any{
		"name": "t2", "command": []any{"x"}, "relative_root": "sub",
	})
	assert.Equal(t, filepath.Join(r.Path, "sub"), cmd.workingDir())

	cmd = makeTrigger(t, r, map[string]any{
		"name": "t3", "command": []any{"x"}, "chdir": "deeper",
	})
	assert.Equal(t, filepath.Join(r.Path, "deeper"), cmd.workingDir())

	cmd = makeTrigger(t, r, map[string]any{
		"name": "t4", "command": []any{"x"}, "chdir": "/abs/dir",
	})
	assert.Equal(t, "/abs/dir", cmd.workingDir(), "absolute chdir wins")

	cmd = makeTrigger(t, r, map[string]any{
		"name": "t5", "command": []any{"x"}, "relative_root": "sub", "chdir": "deeper",
	})
	assert.Equal(t, filepath.Join(r.Path, "sub", "deeper"), cmd.workingDir())
}
