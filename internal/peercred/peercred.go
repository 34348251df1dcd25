// Package peercred extracts the connecting peer's pid/uid/gid from a Unix
// domain socket, the Go equivalent of the daemon's SO_PEERCRED credential
// lookup used to decide who may issue which command.
package peercred

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Creds holds the peer's process credentials as reported by the kernel.
type Creds struct {
	PID int32
	UID uint32
	GID uint32
}

// FromConn retrieves the peer credentials of a Unix domain socket
// connection via SO_PEERCRED. conn must be a *net.UnixConn.
func FromConn(conn net.Conn) (Creds, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return Creds{}, fmt.Errorf("peercred: not a unix socket connection")
	}

	raw, err := unixConn.SyscallConn()
	if err != nil {
		return Creds{}, fmt.Errorf("peercred: syscall conn: %w", err)
	}

	var cred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return Creds{}, fmt.Errorf("peercred: control: %w", ctrlErr)
	}
	if sockErr != nil {
		return Creds{}, fmt.Errorf("peercred: getsockopt SO_PEERCRED: %w", sockErr)
	}

	return Creds{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}

// Allowed reports whether uid is in the allow list. An empty list allows
// everyone, matching the daemon's default of no UID restriction.
func Allowed(uid uint32, allowUID []int) bool {
	if len(allowUID) == 0 {
		return true
	}
	for _, a := range allowUID {
		if uint32(a) == uid {
			return true
		}
	}
	return false
}

// IsAdmin reports whether uid is in the admin list. Admin commands
// (SHUTDOWN, COMMITPREORDER, GETPREORDER, LISTPREORDER) require this.
func IsAdmin(uid uint32, adminUID []int) bool {
	for _, a := range adminUID {
		if uint32(a) == uid {
			return true
		}
	}
	return false
}
