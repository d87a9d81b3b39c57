// Package server carries the JSON command protocol over a local unix
// socket: one JSON array in per line, one JSON object out per command.
// Unilateral payloads published on a root are not written to sessions.
package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/vigil-watch/vigil/internal/command"
	"github.com/vigil-watch/vigil/internal/root"
	"github.com/vigil-watch/vigil/internal/trigger"
)

// maxPDUSize bounds one inbound command line.
const maxPDUSize = 16 * 1024 * 1024

// Server accepts client sessions on a unix socket and dispatches their
// commands through the registry.
type Server struct {
	sockName    string
	roots       *root.Registry
	triggerOpts trigger.Options
	log         *slog.Logger

	ln       net.Listener
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a server. Listen must be called before Serve.
func New(sockName string, roots *root.Registry, triggerOpts trigger.Options, log *slog.Logger) *Server {
	return &Server{
		sockName:    sockName,
		roots:       roots,
		triggerOpts: triggerOpts,
		log:         log,
		done:        make(chan struct{}),
	}
}

// Listen binds the unix socket, replacing a stale one left behind by a
// previous daemon.
func (s *Server) Listen() error {
	if err := os.Remove(s.sockName); err != nil && !os.IsNotExist(err) {
		return err
	}
	ln, err := net.Listen("unix", s.sockName)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Serve accepts connections until Stop. Blocks.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Stop closes the listener and waits for in-flight sessions.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.ln != nil {
			s.ln.Close()
		}
		s.wg.Wait()
		os.Remove(s.sockName)
	})
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	sender := &jsonSender{w: conn}
	client := command.NewClient(s.roots, sender, s.log)
	client.SockName = s.sockName
	client.TriggerOpts = s.triggerOpts
	defer client.Disconnect()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxPDUSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var args []any
		if err := json.Unmarshal(line, &args); err != nil {
			client.SendError("failed to parse command: %v", err)
			continue
		}
		client.Dispatch(args, command.FlagDaemon)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		s.log.Debug("client read error", "error", err)
	}
}

// jsonSender writes one JSON object per line, serializing concurrent
// senders.
type jsonSender struct {
	mu sync.Mutex
	w  io.Writer
}

func (j *jsonSender) SendPDU(payload map[string]any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	buf = append(buf, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.w.Write(buf)
	return err
}
