package command

import (
	"fmt"
	"path/filepath"

	"github.com/vigil-watch/vigil/internal/query"
)

// validateRealpathRoot resolves the root argument to an absolute path
// before the PDU leaves the CLI.
func validateRealpathRoot(args []any) error {
	if len(args) < 2 {
		return fmt.Errorf("wrong number of arguments")
	}
	path, ok := args[1].(string)
	if !ok {
		return fmt.Errorf("second argument must be a string naming the root")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("unable to resolve root %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	args[1] = abs
	return nil
}

/* query /root {query-spec} */
func cmdQuery(c *Client, args []any) error {
	if len(args) != 3 {
		return fmt.Errorf("wrong number of arguments for 'query'")
	}
	r, err := resolveRoot(c, args)
	if err != nil {
		return err
	}
	spec, ok := args[2].(map[string]any)
	if !ok {
		return fmt.Errorf("expected query spec to be an object")
	}

	q, err := query.Parse(spec)
	if err != nil {
		return err
	}
	if c.ClientMode {
		q.SyncTimeout = 0
	}

	res, err := query.Execute(q, r.View(), nil, nil)
	if err != nil {
		return err
	}

	c.SendResponse(map[string]any{
		"clock":             res.ClockAtStartOfQuery.String(),
		"is_fresh_instance": res.IsFreshInstance,
		"files":             res.ResultsArray,
	})
	return nil
}

/* find /root [patterns] */
func cmdFind(c *Client, args []any) error {
	if len(args) < 2 {
		return fmt.Errorf("not enough arguments for 'find'")
	}
	r, err := resolveRoot(c, args)
	if err != nil {
		return err
	}

	q, err := query.ParseLegacy(args, 2, nil)
	if err != nil {
		return err
	}
	if c.ClientMode {
		q.SyncTimeout = 0
	}

	res, err := query.Execute(q, r.View(), nil, nil)
	if err != nil {
		return err
	}

	c.SendResponse(map[string]any{
		"clock": res.ClockAtStartOfQuery.String(),
		"files": res.ResultsArray,
	})
	return nil
}

/* clock /root [{sync_timeout: ms}] */
func cmdClock(c *Client, args []any) error {
	r, err := resolveRoot(c, args)
	if err != nil {
		return err
	}

	if len(args) == 3 {
		opts, ok := args[2].(map[string]any)
		if !ok {
			return fmt.Errorf("the third argument to 'clock' must be an optional object")
		}
		if raw, present := opts["sync_timeout"]; present {
			ms, isNum := raw.(float64)
			if !isNum || ms < 0 {
				return fmt.Errorf("sync_timeout must be >= 0")
			}
			if ms > 0 {
				if err := r.View().SyncToNow(msToDuration(ms)); err != nil {
					return err
				}
			}
		}
	} else if len(args) != 2 {
		return fmt.Errorf("wrong number of arguments for 'clock'")
	}

	c.SendResponse(map[string]any{"clock": r.View().GetCurrentClockString()})
	return nil
}

func init() {
	Register(Def{
		Name:        "query",
		Handler:     cmdQuery,
		Flags:       FlagDaemon | FlagClient | FlagAllowAnyUser,
		CLIValidate: validateRealpathRoot,
	})
	Register(Def{
		Name:        "find",
		Handler:     cmdFind,
		Flags:       FlagDaemon | FlagAllowAnyUser,
		CLIValidate: validateRealpathRoot,
	})
	Register(Def{
		Name:        "clock",
		Handler:     cmdClock,
		Flags:       FlagDaemon | FlagAllowAnyUser,
		CLIValidate: validateRealpathRoot,
	})
}
