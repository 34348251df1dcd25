package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gnupg/payproc/internal/commands"
	"github.com/gnupg/payproc/internal/session"
)

func startTestServer(t *testing.T, srv *Server) {
	t.Helper()
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		srv.Shutdown()
		<-done
	})
}

func dial(t *testing.T, path string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readReply(t *testing.T, conn net.Conn) (status string, lines []string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading reply: %v", err)
		}
		if line == "\n" {
			break
		}
		lines = append(lines, line)
	}
	return status, lines
}

func newTestServerStack(t *testing.T) *Server {
	t.Helper()
	disp := commands.New(commands.Deps{
		Version:  "1.0.0",
		Sessions: session.New(),
	})
	return &Server{
		SocketPath: filepath.Join(t.TempDir(), "payprocd.sock"),
		Dispatcher: disp,
		Log:        zerolog.Nop(),
	}
}

func TestServerPingRoundTrip(t *testing.T) {
	srv := newTestServerStack(t)
	startTestServer(t, srv)

	conn := dial(t, srv.SocketPath)
	fmt.Fprint(conn, "PING\n\n")
	status, _ := readReply(t, conn)
	if status != "OK pong\n" {
		t.Errorf("status = %q, want OK pong", status)
	}
}

func TestServerUnknownCommand(t *testing.T) {
	srv := newTestServerStack(t)
	startTestServer(t, srv)

	conn := dial(t, srv.SocketPath)
	fmt.Fprint(conn, "BOGUS\n\n")
	status, lines := readReply(t, conn)
	if status != "ERR 1 (Unknown command)\n" {
		t.Errorf("status = %q, want ERR 1 (Unknown command)", status)
	}
	found := false
	for _, l := range lines {
		if l == "_cmd: BOGUS\n" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an echoed _cmd line, got %v", lines)
	}
}

func TestServerAdminCommandRejectedForNonAdmin(t *testing.T) {
	srv := newTestServerStack(t)
	srv.AdminUID = []int{999999}
	startTestServer(t, srv)

	conn := dial(t, srv.SocketPath)
	fmt.Fprint(conn, "SHUTDOWN\n\n")
	status, _ := readReply(t, conn)
	if status != "ERR 9 (User is not an admin)\n" {
		t.Errorf("status = %q, want ERR 9 (User is not an admin)", status)
	}
}

func TestServerAllowUIDRejectsOutsiders(t *testing.T) {
	srv := newTestServerStack(t)
	srv.AllowUID = []int{999999}
	startTestServer(t, srv)

	conn := dial(t, srv.SocketPath)
	fmt.Fprint(conn, "PING\n\n")
	status, _ := readReply(t, conn)
	if status != "ERR 8 (User not allowed)\n" {
		t.Errorf("status = %q, want ERR 8 (User not allowed)", status)
	}
}

func TestServerSessionCreateGetRoundTrip(t *testing.T) {
	srv := newTestServerStack(t)
	startTestServer(t, srv)

	conn := dial(t, srv.SocketPath)
	fmt.Fprint(conn, "SESSION create\nFoo: bar\n\n")
	status, lines := readReply(t, conn)
	if status != "OK\n" {
		t.Fatalf("create status = %q, want OK", status)
	}
	var sessid string
	for _, l := range lines {
		if len(l) > len("_SESSID: ") && l[:len("_SESSID: ")] == "_SESSID: " {
			sessid = l[len("_SESSID: ") : len(l)-1]
		}
	}
	if sessid == "" {
		t.Fatalf("expected a _SESSID line, got %v", lines)
	}

	conn2 := dial(t, srv.SocketPath)
	fmt.Fprintf(conn2, "SESSION get %s\n\n", sessid)
	status2, lines2 := readReply(t, conn2)
	if status2 != "OK\n" {
		t.Fatalf("get status = %q, want OK", status2)
	}
	found := false
	for _, l := range lines2 {
		if l == "Foo: bar\n" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Foo: bar in get reply, got %v", lines2)
	}
}

func TestServerShutdownStopsAcceptingConnections(t *testing.T) {
	srv := newTestServerStack(t)
	startTestServer(t, srv)

	conn := dial(t, srv.SocketPath)
	fmt.Fprint(conn, "PING\n\n")
	readReply(t, conn)

	srv.Shutdown()

	if _, err := net.DialTimeout("unix", srv.SocketPath, time.Second); err == nil {
		t.Error("expected dialing after Shutdown to fail")
	}
}
