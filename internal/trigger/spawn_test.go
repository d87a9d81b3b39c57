package trigger

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-watch/vigil/internal/clock"
	"github.com/vigil-watch/vigil/internal/query"
)

func makeResult(names ...string) *query.Result {
	res := &query.Result{
		ClockAtStartOfQuery: clock.NewClockSpec(clock.Position{Ticks: 9, WallTime: 1700000000}),
	}
	for _, name := range names {
		res.ResultsArray = append(res.ResultsArray, map[string]any{"name": name})
		res.DedupedFileNames = append(res.DedupedFileNames, name)
	}
	return res
}

func readAll(t *testing.T, f *os.File) string {
	t.Helper()
	buf, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(buf)
}

func TestPrepareStdin_NamePerLine(t *testing.T) {
	r, _ := newTestRoot(t)
	cmd := makeTrigger(t, r, map[string]any{
		"name": "t", "command": []any{"x"}, "stdin": "NAME_PER_LINE",
	})

	f, err := cmd.prepareStdin(makeResult("a", "b", "c"))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "a\nb\nc\n", readAll(t, f))
}

func TestPrepareStdin_TruncatesToMaxFiles(t *testing.T) {
	r, _ := newTestRoot(t)
	cmd := makeTrigger(t, r, map[string]any{
		"name": "t", "command": []any{"x"},
		"stdin": "NAME_PER_LINE", "max_files_stdin": float64(2),
	})

	f, err := cmd.prepareStdin(makeResult("a", "b", "c"))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "a\nb\n", readAll(t, f))
}

func TestPrepareStdin_JSONIdentity(t *testing.T) {
	r, _ := newTestRoot(t)
	cmd := makeTrigger(t, r, map[string]any{
		"name": "t", "command": []any{"x"}, "stdin": []any{"name"},
	})

	res := makeResult("a", "b")
	f, err := cmd.prepareStdin(res)
	require.NoError(t, err)
	defer f.Close()

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(readAll(t, f)), &decoded))
	assert.Equal(t, res.ResultsArray, decoded)
}

func TestPrepareStdin_DevNull(t *testing.T) {
	r, _ := newTestRoot(t)
	cmd := makeTrigger(t, r, map[string]any{"name": "t", "command": []any{"x"}})

	f, err := cmd.prepareStdin(makeResult("a"))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "", readAll(t, f))
}

func TestPrepareStdin_TempFileIsUnlinked(t *testing.T) {
	r, _ := newTestRoot(t)
	opts := testOptions(t)
	cmd, err := New(r, map[string]any{
		"name": "t", "command": []any{"x"}, "stdin": "NAME_PER_LINE",
	}, opts)
	require.NoError(t, err)

	f, err := cmd.prepareStdin(makeResult("a"))
	require.NoError(t, err)
	defer f.Close()

	entries, err := os.ReadDir(opts.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the stdin temp file must not linger in the filesystem")
}

// spawnAndWait runs spawnCommand and waits for the child to exit.
func spawnAndWait(t *testing.T, cmd *Command, res *query.Result, prior *clock.Spec) {
	t.Helper()
	cmd.spawnCommand(res, prior)
	require.NotNil(t, cmd.current, "the spawn must have started a child")
	cmd.current.Wait()
}

func TestSpawnCommand_ChildSeesStdinAndEnv(t *testing.T) {
	r, _ := newTestRoot(t)
	cmd := makeTrigger(t, r, map[string]any{
		"name":            "capture",
		"command":         []any{"/bin/sh", "-c", "cat > stdin.out; env > env.out"},
		"stdin":           "NAME_PER_LINE",
		"max_files_stdin": float64(2),
	})

	prior := clock.NewClockSpec(clock.Position{Ticks: 4, WallTime: 1700000000})
	spawnAndWait(t, cmd, makeResult("a", "b", "c"), prior)

	stdin, err := os.ReadFile(filepath.Join(r.Path, "stdin.out"))
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(stdin))

	envOut, err := os.ReadFile(filepath.Join(r.Path, "env.out"))
	require.NoError(t, err)
	env := parseEnvFile(string(envOut))
	assert.Equal(t, r.Path, env["WATCHMAN_ROOT"])
	assert.Equal(t, "/tmp/vigil-test.sock", env["WATCHMAN_SOCK"])
	assert.Equal(t, "capture", env["WATCHMAN_TRIGGER"])
	assert.Equal(t, "c:1700000000:9", env["WATCHMAN_CLOCK"])
	assert.Equal(t, "c:1700000000:4", env["WATCHMAN_SINCE"])
	assert.Equal(t, "true", env["WATCHMAN_FILES_OVERFLOW"])
	assert.NotContains(t, env, "WATCHMAN_RELATIVE_ROOT")
}

func TestSpawnCommand_NoOverflowAndNoSince(t *testing.T) {
	r, _ := newTestRoot(t)
	cmd := makeTrigger(t, r, map[string]any{
		"name":    "plain",
		"command": []any{"/bin/sh", "-c", "env > env.out"},
	})

	// A relative prior spec is not replayable and must not be exported.
	prior := clock.NewRelativeSpec(30)
	spawnAndWait(t, cmd, makeResult("a"), prior)

	envOut, err := os.ReadFile(filepath.Join(r.Path, "env.out"))
	require.NoError(t, err)
	env := parseEnvFile(string(envOut))
	assert.NotContains(t, env, "WATCHMAN_SINCE")
	assert.Equal(t, "false", env["WATCHMAN_FILES_OVERFLOW"])
}

func TestSpawnCommand_AppendFilesToArgv(t *testing.T) {
	r, _ := newTestRoot(t)
	cmd := makeTrigger(t, r, map[string]any{
		"name":         "argv",
		"command":      []any{"/bin/sh", "-c", `printf '%s\n' "$@" > argv.out`, "sh"},
		"append_files": true,
	})

	spawnAndWait(t, cmd, makeResult("one", "two"), nil)

	argvOut, err := os.ReadFile(filepath.Join(r.Path, "argv.out"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(argvOut))
}

func TestSpawnCommand_ArgspaceExhaustionSetsOverflow(t *testing.T) {
	r, _ := newTestRoot(t)
	opts := testOptions(t)
	// Tight argv budget: enough for the base argv and environment plus
	// one appended name, but not two.
	opts.ArgMax = 4096
	cmd, err := New(r, map[string]any{
		"name":         "tight",
		"command":      []any{"/bin/sh", "-c", "env > env.out"},
		"append_files": true,
	}, opts)
	require.NoError(t, err)

	big := strings.Repeat("x", 3000)
	bigger := strings.Repeat("y", 3000)
	spawnAndWait(t, cmd, makeResult(big, bigger), nil)

	envOut, err := os.ReadFile(filepath.Join(r.Path, "env.out"))
	require.NoError(t, err)
	env := parseEnvFile(string(envOut))
	assert.Equal(t, "true", env["WATCHMAN_FILES_OVERFLOW"])
}

func TestSpawnCommand_RedirectsStdout(t *testing.T) {
	r, _ := newTestRoot(t)
	outPath := filepath.Join(t.TempDir(), "out.log")
	cmd := makeTrigger(t, r, map[string]any{
		"name":    "redir",
		"command": []any{"/bin/sh", "-c", "echo hello"},
		"stdout":  ">" + outPath,
	})

	spawnAndWait(t, cmd, makeResult("a"), nil)

	buf, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(buf))

	// Append mode accumulates across spawns.
	cmd2 := makeTrigger(t, r, map[string]any{
		"name":    "redir2",
		"command": []any{"/bin/sh", "-c", "echo again"},
		"stdout":  ">>" + outPath,
	})
	spawnAndWait(t, cmd2, makeResult("a"), nil)

	buf, err = os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "hello\nagain\n", string(buf))
}

func TestSpawnCommand_KillsPreviousChild(t *testing.T) {
	r, _ := newTestRoot(t)
	cmd := makeTrigger(t, r, map[string]any{
		"name":    "churn",
		"command": []any{"/bin/sh", "-c", "sleep 30"},
	})

	cmd.spawnCommand(makeResult("a"), nil)
	first := cmd.current
	require.NotNil(t, first)
	require.False(t, first.Terminated())

	cmd.spawnCommand(makeResult("b"), nil)
	second := cmd.current
	require.NotNil(t, second)
	assert.NotSame(t, first, second)

	// The old child was killed and reaped before the new one started.
	assert.True(t, first.Terminated())

	second.Kill()
	second.Wait()
	cmd.current = nil
}

func parseEnvFile(content string) map[string]string {
	env := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			env[k] = v
		}
	}
	return env
}
