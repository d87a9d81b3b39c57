// Package command implements the dispatch registry and the built-in
// command handlers.
package command

import (
	"fmt"
	"sort"
	"sync"
)

// Flags gate where a command may execute.
type Flags uint8

const (
	// FlagDaemon marks commands served by the daemon process.
	FlagDaemon Flags = 1 << iota
	// FlagClient marks commands the CLI can satisfy without a daemon.
	FlagClient
	// FlagPoisonImmune marks commands that still run when a root has
	// been poisoned by a fatal watcher error.
	FlagPoisonImmune
	// FlagAllowAnyUser marks commands exempt from the owner check.
	FlagAllowAnyUser
)

// Handler executes a command. args is the full decoded PDU, command name
// included. A returned error becomes an error PDU; success responses are
// sent through the client by the handler itself.
type Handler func(c *Client, args []any) error

// Validator adjusts or rejects CLI arguments before they are sent to the
// daemon (e.g. resolving the root argument to an absolute path).
type Validator func(args []any) error

// Def is one registered command.
type Def struct {
	Name        string
	Handler     Handler
	Flags       Flags
	CLIValidate Validator
}

type registry struct {
	mu   sync.RWMutex
	defs map[string]*Def
	caps map[string]struct{}
}

var reg = &registry{
	defs: make(map[string]*Def),
	caps: make(map[string]struct{}),
}

// Register installs a command definition. Called during initialization
// of each command module; safe under any init interleaving. Duplicate
// registration is a programmer error and panics.
func Register(def Def) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, dup := reg.defs[def.Name]; dup {
		panic(fmt.Sprintf("command %q is already registered", def.Name))
	}
	d := def
	reg.defs[def.Name] = &d
	reg.caps["cmd-"+def.Name] = struct{}{}
}

// Lookup returns the definition for name if its flags intersect mode.
func Lookup(name string, mode Flags) (*Def, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	def, ok := reg.defs[name]
	if !ok || def.Flags&mode == 0 {
		return nil, false
	}
	return def, true
}

// All returns every registered definition, sorted by name.
func All() []*Def {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	defs := make([]*Def, 0, len(reg.defs))
	for _, def := range reg.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// RegisterCapability announces a supported capability string.
func RegisterCapability(name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.caps[name] = struct{}{}
}

// CapabilitySupported reports whether the capability is available.
func CapabilitySupported(name string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.caps[name]
	return ok
}

// CapabilityList returns the sorted capability names.
func CapabilityList() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	names := make([]string, 0, len(reg.caps))
	for name := range reg.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
