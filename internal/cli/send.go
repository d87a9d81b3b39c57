package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/vigil-watch/vigil/internal/command"
	"github.com/vigil-watch/vigil/internal/config"
)

// dial connects to the daemon socket.
func dial(opts *RootOptions) (net.Conn, error) {
	sock := opts.SockName
	if sock == "" {
		cfg := config.DefaultDaemon()
		if opts.Config != "" {
			var err error
			if cfg, err = config.LoadDaemon(opts.Config); err != nil {
				return nil, err
			}
		}
		sock = cfg.SockName
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %s (is the daemon running?): %w", sock, err)
	}
	return conn, nil
}

// roundTrip sends one command PDU and prints the first response.
// The command's CLI validator runs first, so e.g. root arguments are
// resolved to absolute paths before they leave this process.
func roundTrip(opts *RootOptions, pdu []any) error {
	if name, ok := pdu[0].(string); ok {
		if def, found := command.Lookup(name, command.FlagDaemon|command.FlagClient); found && def.CLIValidate != nil {
			if err := def.CLIValidate(pdu); err != nil {
				return err
			}
		}
	}

	conn, err := dial(opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	enc, err := json.Marshal(pdu)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(enc, '\n')); err != nil {
		return err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return err
		}
		return fmt.Errorf("connection closed before a response arrived")
	}
	return printResponse(opts, scanner.Bytes())
}

func printResponse(opts *RootOptions, raw []byte) error {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	if errMsg, isErr := resp["error"]; isErr {
		return fmt.Errorf("%v", errMsg)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}

// NewSendCommand forwards an arbitrary command PDU to the daemon. The
// arguments after the command name are parsed as JSON when they look
// like it, and passed as strings otherwise.
func NewSendCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <command> [args...]",
		Short: "Send a raw command to the daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pdu := make([]any, 0, len(args))
			for i, arg := range args {
				if i == 0 {
					pdu = append(pdu, arg)
					continue
				}
				var decoded any
				if err := json.Unmarshal([]byte(arg), &decoded); err == nil {
					pdu = append(pdu, decoded)
				} else {
					pdu = append(pdu, arg)
				}
			}
			return roundTrip(opts, pdu)
		},
	}
}
