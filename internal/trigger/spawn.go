package trigger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/vigil-watch/vigil/internal/clock"
	"github.com/vigil-watch/vigil/internal/query"
	"github.com/vigil-watch/vigil/internal/telemetry"
)

// pointerSize accounts for the argv slot each argument occupies in the
// child's address space, matching the kernel's ARG_MAX bookkeeping.
const pointerSize = 8

// argvOverhead is misc working headroom subtracted from ArgMax before
// any argument accounting.
const argvOverhead = 32

// prepareStdin builds the descriptor the child reads as stdin. For file
// feeding styles the content lands in an unlinked temp file, so the
// descriptor cleans itself up on every exit path including a crash.
//
// When maxFilesStdin caps the feed, the results array is truncated in
// place; callers must take their overflow measurement beforehand.
func (c *Command) prepareStdin(res *query.Result) (*os.File, error) {
	if c.stdinStyle == InputDevNull {
		return os.Open(os.DevNull)
	}

	if c.maxFilesStdin > 0 && len(res.ResultsArray) > c.maxFilesStdin {
		res.ResultsArray = res.ResultsArray[:c.maxFilesStdin]
	}

	f, err := os.CreateTemp(c.opts.TempDir, "vigil-trigger-*")
	if err != nil {
		return nil, fmt.Errorf("unable to create a temporary file: %w", err)
	}
	// Unlink now; the descriptor is all we pass to the child.
	os.Remove(f.Name())

	switch c.stdinStyle {
	case InputJSON:
		buf, err := json.Marshal(res.ResultsArray)
		if err != nil {
			f.Close()
			return nil, err
		}
		if _, err := f.Write(buf); err != nil {
			f.Close()
			return nil, err
		}
	case InputNamePerLine:
		for _, record := range res.ResultsArray {
			name, _ := record["name"].(string)
			if _, err := io.WriteString(f, name+"\n"); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// environList renders the env map for exec, sorted for determinism.
func environList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// environSize measures the address space the environment consumes in
// the child, the same way the argv accounting does.
func environSize(env map[string]string) int {
	size := 0
	for k, v := range env {
		size += len(k) + 1 + len(v) + 1 + pointerSize
	}
	return size
}

// spawnCommand launches the trigger's command for one query result.
// prior is the since spec the query held before this run; an absolute
// prior is exported as WATCHMAN_SINCE so the child can resume from it.
//
// Only the trigger goroutine calls this, which is what makes the env
// mutation below safe.
func (c *Command) spawnCommand(res *query.Result, prior *clock.Spec) {
	argspace := c.opts.ArgMax - argvOverhead

	// Measure overflow before prepareStdin truncates the results.
	fileOverflow := c.maxFilesStdin > 0 && len(res.ResultsArray) > c.maxFilesStdin

	stdin, err := c.prepareStdin(res)
	if err != nil {
		c.log.Error("unable to prepare trigger stdin", "error", err)
		return
	}
	defer stdin.Close()

	if prior != nil && prior.Tag == clock.TagClock {
		c.env["WATCHMAN_SINCE"] = prior.String()
	} else {
		// Relative specs are not replayable; don't hand one to the child.
		delete(c.env, "WATCHMAN_SINCE")
	}

	c.env["WATCHMAN_CLOCK"] = res.ClockAtStartOfQuery.String()

	if c.query.RelativeRoot != "" {
		c.env["WATCHMAN_RELATIVE_ROOT"] = c.query.RelativeRoot
	} else {
		delete(c.env, "WATCHMAN_RELATIVE_ROOT")
	}

	args := make([]string, len(c.argv), len(c.argv)+len(res.DedupedFileNames))
	copy(args, c.argv)

	if c.appendFiles {
		for _, arg := range args {
			argspace -= len(arg) + 1 + pointerSize
		}
		argspace -= environSize(c.env)

		for _, name := range res.DedupedFileNames {
			need := len(name) + 1 + pointerSize
			if argspace < need {
				fileOverflow = true
				break
			}
			argspace -= need
			args = append(args, name)
		}
	}

	if fileOverflow {
		c.env["WATCHMAN_FILES_OVERFLOW"] = "true"
		telemetry.TriggerOverflows.WithLabelValues(c.root.Path, c.name).Inc()
	} else {
		c.env["WATCHMAN_FILES_OVERFLOW"] = "false"
	}

	stdout, closeOut, err := c.redirect(c.stdoutName, c.stdoutFlags, os.Stdout)
	if err != nil {
		c.log.Error("unable to open trigger stdout", "error", err)
		return
	}
	defer closeOut()

	stderr, closeErr, err := c.redirect(c.stderrName, c.stderrFlags, os.Stderr)
	if err != nil {
		c.log.Error("unable to open trigger stderr", "error", err)
		return
	}
	defer closeErr()

	workingDir := c.workingDir()
	c.log.Debug("using working dir for trigger", "dir", workingDir)

	if c.current != nil {
		c.current.Kill()
		c.current.Wait()
		c.current = nil
	}

	child, err := startChild(args, environList(c.env), workingDir, stdin, stdout, stderr)
	if err != nil {
		c.log.Error("trigger spawn failed", "error", err)
		return
	}
	c.current = child
	telemetry.TriggerSpawns.WithLabelValues(c.root.Path, c.name).Inc()
	c.log.Debug("spawned trigger child", "pid", child.cmd.Process.Pid)
}

// redirect opens the configured redirection target, or falls back to
// the daemon's own descriptor.
func (c *Command) redirect(name string, flags int, inherit *os.File) (*os.File, func(), error) {
	if name == "" {
		return inherit, func() {}, nil
	}
	f, err := os.OpenFile(name, flags, 0666)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// workingDir resolves the child's working directory: the relative root
// when the query has one, else the root path, optionally re-targeted by
// the trigger definition's chdir key (absolute paths win).
func (c *Command) workingDir() string {
	dir := c.query.RelativeRoot
	if dir == "" {
		dir = c.root.Path
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.root.Path, dir)
	}

	if raw, ok := c.definition["chdir"].(string); ok && raw != "" {
		if filepath.IsAbs(raw) {
			return raw
		}
		return filepath.Join(dir, raw)
	}
	return dir
}
