//go:build linux

package acceptor

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/goxel/goxeld/internal/session"
)

// readPeerCreds reads SO_PEERCRED off the just-accepted connection. This
// necessarily happens post-accept: a listening Unix socket has no connected
// file descriptor to read credentials from before Accept returns one.
func readPeerCreds(conn *net.UnixConn) (uint32, session.PeerCreds, bool) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, session.PeerCreds{}, false
	}

	var ucred *unix.Ucred
	var sockErr error
	ctlErr := raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctlErr != nil || sockErr != nil || ucred == nil {
		return 0, session.PeerCreds{}, false
	}

	creds := session.PeerCreds{UID: ucred.Uid, GID: ucred.Gid, PID: ucred.Pid}
	return ucred.Uid, creds, true
}
