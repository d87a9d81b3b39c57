package command

import (
	"fmt"

	"github.com/vigil-watch/vigil/internal/query"
)

/* watch /root
 * Start watching a directory tree. */
func cmdWatch(c *Client, args []any) error {
	if len(args) != 2 {
		return fmt.Errorf("wrong number of arguments to 'watch'")
	}
	path, ok := args[1].(string)
	if !ok {
		return fmt.Errorf("invalid root argument")
	}
	r, err := c.Roots.Watch(path)
	if err != nil {
		return err
	}
	saveState()
	c.SendResponse(map[string]any{
		"watch": r.Path,
	})
	return nil
}

/* watch-del /root
 * Stop watching a directory tree. */
func cmdWatchDel(c *Client, args []any) error {
	if len(args) != 2 {
		return fmt.Errorf("wrong number of arguments to 'watch-del'")
	}
	path, ok := args[1].(string)
	if !ok {
		return fmt.Errorf("invalid root argument")
	}
	deleted := c.Roots.Remove(path)
	if deleted {
		saveState()
	}
	c.SendResponse(map[string]any{
		"watch-del": deleted,
		"root":      path,
	})
	return nil
}

/* watch-list
 * Report the watched roots. */
func cmdWatchList(c *Client, args []any) error {
	c.SendResponse(map[string]any{"roots": c.Roots.Paths()})
	return nil
}

/* version
 * Report the daemon version and, on request, capabilities. */
func cmdVersion(c *Client, args []any) error {
	resp := map[string]any{"version": Version}

	if len(args) == 2 {
		opts, ok := args[1].(map[string]any)
		if !ok {
			return fmt.Errorf("the argument to 'version' must be an optional object")
		}
		if raw, present := opts["optional"]; present {
			names, ok := raw.([]any)
			if !ok {
				return fmt.Errorf("optional must be an array of capability names")
			}
			caps := make(map[string]bool, len(names))
			for _, n := range names {
				name, ok := n.(string)
				if !ok {
					return fmt.Errorf("capability names must be strings")
				}
				caps[name] = CapabilitySupported(name)
			}
			resp["capabilities"] = caps
		}
		if raw, present := opts["required"]; present {
			names, ok := raw.([]any)
			if !ok {
				return fmt.Errorf("required must be an array of capability names")
			}
			for _, n := range names {
				name, ok := n.(string)
				if !ok {
					return fmt.Errorf("capability names must be strings")
				}
				if !CapabilitySupported(name) {
					return fmt.Errorf("client required capability %q is not supported by this server", name)
				}
			}
		}
	}

	c.SendResponse(resp)
	return nil
}

/* list-capabilities
 * Report every capability string. */
func cmdListCapabilities(c *Client, args []any) error {
	c.SendResponse(map[string]any{"capabilities": CapabilityList()})
	return nil
}

// Version identifies the daemon build.
const Version = "0.3.0"

func init() {
	Register(Def{Name: "watch", Handler: cmdWatch, Flags: FlagDaemon, CLIValidate: validateRealpathRoot})
	Register(Def{Name: "watch-del", Handler: cmdWatchDel, Flags: FlagDaemon, CLIValidate: validateRealpathRoot})
	Register(Def{Name: "watch-list", Handler: cmdWatchList, Flags: FlagDaemon | FlagAllowAnyUser})
	Register(Def{Name: "version", Handler: cmdVersion, Flags: FlagDaemon | FlagClient | FlagAllowAnyUser | FlagPoisonImmune})
	Register(Def{Name: "list-capabilities", Handler: cmdListCapabilities, Flags: FlagDaemon | FlagClient | FlagAllowAnyUser})

	for _, term := range query.KnownTerms() {
		RegisterCapability("term-" + term)
	}
	RegisterCapability("relative_root")
	RegisterCapability("dedup_results")
	RegisterCapability("wildmatch")
}
