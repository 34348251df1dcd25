// Package server implements the Unix-domain-socket listener: one goroutine
// per accepted connection, each running a single request/response exchange
// through the line-oriented protocol and the command dispatch table.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/gnupg/payproc/internal/commands"
	"github.com/gnupg/payproc/internal/logger"
	"github.com/gnupg/payproc/internal/metrics"
	"github.com/gnupg/payproc/internal/peercred"
	"github.com/gnupg/payproc/internal/perr"
	"github.com/gnupg/payproc/internal/protocol"
)

// TickInterval is how often Serve's housekeeping callback runs, matching
// TIMERTICK_INTERVAL.
const TickInterval = 30 * time.Second

// Server accepts connections on a Unix domain socket and dispatches each
// request through a commands.Dispatcher.
type Server struct {
	SocketPath string
	AllowUID   []int
	AdminUID   []int

	Dispatcher *commands.Dispatcher
	Metrics    *metrics.Metrics
	Log        zerolog.Logger

	// OnTick is invoked roughly every TickInterval; the daemon wires this to
	// session housekeeping and the exchange-rate reload. May be nil.
	OnTick func()

	mu       sync.Mutex
	listener *net.UnixListener
	wg       sync.WaitGroup
	closing  bool
}

// Listen binds the Unix domain socket, removing a stale socket file left
// behind by a crashed prior instance. Returns an error if another instance
// is already listening on the path.
func (s *Server) Listen() error {
	addr, err := net.ResolveUnixAddr("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("server: resolving socket path: %w", err)
	}

	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		if !errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("server: listen on %s: %w", s.SocketPath, err)
		}
		if probeAlive(s.SocketPath) {
			return fmt.Errorf("server: a payprocd process is already running on %s", s.SocketPath)
		}
		os.Remove(s.SocketPath)
		ln, err = net.ListenUnix("unix", addr)
		if err != nil {
			return fmt.Errorf("server: listen on %s after removing stale socket: %w", s.SocketPath, err)
		}
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.Log.Info().Str("socket", s.SocketPath).Msg("server.listening")
	return nil
}

// probeAlive dials the socket with a PING to tell a live daemon apart from
// a stale socket file left behind by an unclean shutdown.
func probeAlive(path string) bool {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return false
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	fmt.Fprint(conn, "PING\n\n")
	reply := make([]byte, 32)
	n, err := conn.Read(reply)
	return err == nil && n > 0
}

// Serve accepts connections until ctx is cancelled, then stops accepting
// new ones and waits for in-flight connections to finish before returning.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server: Listen must be called before Serve")
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		s.listener.Close()
		close(done)
	}()

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if s.OnTick != nil {
					s.OnTick()
				}
			case <-done:
				return
			}
		}
	}()

	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Shutdown stops accepting new connections and blocks until every
// in-flight connection has finished.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
}

func (s *Server) handleConn(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()

	connID := logger.NextConnID()
	ctx = logger.WithConnID(ctx, connID)
	log := s.Log.With().Uint64("conn_id", connID).Logger()
	ctx = logger.WithContext(ctx, log)

	creds, err := peercred.FromConn(conn)
	if err != nil {
		log.Error().Err(err).Msg("server.peercred_failed")
		return
	}

	start := time.Now()
	reader := bufio.NewReader(conn)
	req, err := protocol.ReadRequest(reader)
	if err != nil {
		log.Warn().Err(err).Msg("server.read_request_failed")
		var pe *perr.Error
		if !errors.As(err, &pe) {
			pe = perr.ProtocolViolation
		}
		protocol.ErrResponse(pe, nil).WriteTo(conn)
		return
	}

	resp, async := s.dispatch(ctx, creds, req)
	resp.WriteTo(conn)

	if s.Metrics != nil {
		code := "0"
		if !resp.OK {
			code = fmt.Sprintf("%d", resp.Code)
		}
		s.Metrics.ObserveCommand(req.Command, time.Since(start), code)
	}

	if async != nil {
		conn.Close()
		async()
	}
}

func (s *Server) dispatch(ctx context.Context, creds peercred.Creds, req *protocol.Request) (*protocol.Response, func()) {
	if !peercred.Allowed(creds.UID, s.AllowUID) {
		return protocol.ErrResponse(perr.EPerm.Withf("User not allowed"), nil), nil
	}

	entry, ok := s.Dispatcher.Lookup(req.Command)
	if !ok {
		unknown := req.Data.Clone()
		unknown.Set("_cmd", req.Command)
		return protocol.ErrResponse(perr.UnknownCommand.Withf("Unknown command"), unknown), nil
	}

	if entry.Admin && !peercred.IsAdmin(creds.UID, s.AdminUID) {
		return protocol.ErrResponse(perr.Forbidden.Withf("User is not an admin"), nil), nil
	}

	return s.Dispatcher.Dispatch(ctx, entry, req.Args, req.Data)
}
