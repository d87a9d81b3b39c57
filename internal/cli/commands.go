package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vigil-watch/vigil/internal/config"
)

// NewWatchCommand starts watching a directory tree.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <root>",
		Short: "Start watching a directory tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return roundTrip(opts, []any{"watch", args[0]})
		},
	}
}

// NewClockCommand reports the current clock of a root.
func NewClockCommand(opts *RootOptions) *cobra.Command {
	var syncTimeout int
	cmd := &cobra.Command{
		Use:   "clock <root>",
		Short: "Report the current clock of a watched root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pdu := []any{"clock", args[0]}
			if syncTimeout > 0 {
				pdu = append(pdu, map[string]any{"sync_timeout": float64(syncTimeout)})
			}
			return roundTrip(opts, pdu)
		},
	}
	cmd.Flags().IntVar(&syncTimeout, "sync-timeout", 0, "cookie sync timeout in milliseconds")
	return cmd
}

// NewQueryCommand runs a query against a watched root. The query spec
// is given as a JSON argument or read from a file with @path.
func NewQueryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <root> <query-json>",
		Short: "Run a query against a watched root",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := decodeJSONArg(args[1])
			if err != nil {
				return err
			}
			return roundTrip(opts, []any{"query", args[0], spec})
		},
	}
}

// NewTriggerCommand manages triggers on a root.
func NewTriggerCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manage triggers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <root> <definition-json>",
		Short: "Register a trigger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := decodeJSONArg(args[1])
			if err != nil {
				return err
			}
			return roundTrip(opts, []any{"trigger", args[0], def})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "del <root> <name>",
		Short: "Delete a trigger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return roundTrip(opts, []any{"trigger-del", args[0], args[1]})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list <root>",
		Short: "List the triggers on a root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return roundTrip(opts, []any{"trigger-list", args[0]})
		},
	})
	return cmd
}

// NewValidateCommand checks a trigger definition file without a daemon.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition-json>",
		Short: "Validate a trigger definition against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := decodeJSONArg(args[0])
			if err != nil {
				return err
			}
			def, ok := raw.(map[string]any)
			if !ok {
				return fmt.Errorf("trigger definition must be a JSON object")
			}
			if err := config.ValidateTriggerDefinition(def); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

// decodeJSONArg parses arg as JSON; an @path argument reads the JSON
// from the named file.
func decodeJSONArg(arg string) (any, error) {
	data := []byte(arg)
	if len(arg) > 1 && arg[0] == '@' {
		buf, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, err
		}
		data = buf
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("invalid JSON argument: %w", err)
	}
	return decoded, nil
}
