package command

import (
	"fmt"

	"github.com/vigil-watch/vigil/internal/config"
	"github.com/vigil-watch/vigil/internal/trigger"
	"github.com/vigil-watch/vigil/internal/wire"
)

/* trigger /root {definition}
 * trigger /root triggername [patterns] -- cmd to run
 * Registers a trigger that executes a command when matching changes
 * settle. */
func cmdTrigger(c *Client, args []any) error {
	r, err := resolveRoot(c, args)
	if err != nil {
		return err
	}
	if len(args) < 3 {
		return fmt.Errorf("not enough arguments")
	}

	def, ok := args[2].(map[string]any)
	if !ok {
		def, err = buildLegacyTrigger(args)
		if err != nil {
			return err
		}
	}

	if err := config.ValidateTriggerDefinition(def); err != nil {
		return err
	}

	opts := c.TriggerOpts
	opts.SockName = c.SockName
	if opts.Log == nil {
		opts.Log = c.Log
	}
	cmd, err := trigger.New(r, def, opts)
	if err != nil {
		return err
	}

	resp := map[string]any{"triggerid": cmd.Name()}
	needSave := true

	old := r.GetTrigger(cmd.Name())
	if old != nil && wire.Equal(old.Definition(), def) {
		// Same definition: leave the existing trigger alone so its
		// clock is preserved and it doesn't immediately re-fire.
		resp["disposition"] = "already_defined"
		needSave = false
	} else {
		if old != nil {
			// Stop the old one before we start its replacement.
			old.Stop()
			resp["disposition"] = "replaced"
		} else {
			resp["disposition"] = "created"
		}
		cmd.Start()
		r.SetTrigger(cmd.Name(), cmd)
	}

	if needSave {
		saveState()
	}
	c.SendResponse(resp)
	return nil
}

// buildLegacyTrigger translates the positional syntax into a definition
// object: name, patterns, then "--" and the command argv.
func buildLegacyTrigger(args []any) (map[string]any, error) {
	name, ok := args[2].(string)
	if !ok {
		return nil, fmt.Errorf("expected trigger name to be a string")
	}

	var nextArg int
	q, err := legacyTriggerQuery(args, 3, &nextArg)
	if err != nil {
		return nil, err
	}

	if nextArg >= len(args) {
		return nil, fmt.Errorf("no command was specified")
	}
	command := make([]any, 0, len(args)-nextArg)
	for i := nextArg; i < len(args); i++ {
		arg, ok := args[i].(string)
		if !ok {
			return nil, fmt.Errorf("expected argument %d to be a string", i)
		}
		command = append(command, arg)
	}

	return map[string]any{
		"name":         name,
		"append_files": true,
		"stdin":        []any{"name", "exists", "new", "size", "mode"},
		"expression":   q,
		"command":      command,
	}, nil
}

// legacyTriggerQuery consumes the pattern section of the positional
// syntax and returns it as an expression term.
func legacyTriggerQuery(args []any, startAt int, nextArg *int) (any, error) {
	patterns := make([]any, 0)
	i := startAt
	for ; i < len(args); i++ {
		pattern, ok := args[i].(string)
		if !ok {
			return nil, fmt.Errorf("expected argument %d to be a string", i)
		}
		if pattern == "--" {
			i++
			break
		}
		patterns = append(patterns, pattern)
	}
	*nextArg = i

	if len(patterns) == 0 {
		return []any{"exists"}, nil
	}
	matchers := make([]any, 0, len(patterns)+1)
	matchers = append(matchers, "anyof")
	for _, pattern := range patterns {
		matchers = append(matchers, []any{"match", pattern, "basename"})
	}
	return []any{"allof", []any{"exists"}, matchers}, nil
}

/* trigger-del /root triggername
 * Delete a trigger from a root. */
func cmdTriggerDelete(c *Client, args []any) error {
	r, err := resolveRoot(c, args)
	if err != nil {
		return err
	}
	if len(args) != 3 {
		return fmt.Errorf("wrong number of arguments")
	}
	name, ok := args[2].(string)
	if !ok {
		return fmt.Errorf("expected 2nd parameter to be trigger name")
	}

	cmd, deleted := r.DeleteTrigger(name)
	if cmd != nil {
		cmd.Stop()
	}
	if deleted {
		saveState()
	}

	c.SendResponse(map[string]any{
		"deleted": deleted,
		"trigger": name,
	})
	return nil
}

/* trigger-list /root
 * Report the triggers registered on a root. */
func cmdTriggerList(c *Client, args []any) error {
	r, err := resolveRoot(c, args)
	if err != nil {
		return err
	}
	c.SendResponse(map[string]any{"triggers": r.TriggerDefinitions()})
	return nil
}

func init() {
	Register(Def{Name: "trigger", Handler: cmdTrigger, Flags: FlagDaemon, CLIValidate: validateRealpathRoot})
	Register(Def{Name: "trigger-del", Handler: cmdTriggerDelete, Flags: FlagDaemon, CLIValidate: validateRealpathRoot})
	Register(Def{Name: "trigger-list", Handler: cmdTriggerList, Flags: FlagDaemon, CLIValidate: validateRealpathRoot})
}
