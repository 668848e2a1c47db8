//go:build !linux

package acceptor

import (
	"net"

	"github.com/goxel/goxeld/internal/session"
)

// readPeerCreds is a non-fatal no-op on platforms without SO_PEERCRED: the
// session simply runs unauthenticated-by-uid, relying on the access token
// gate instead.
func readPeerCreds(_ *net.UnixConn) (uint32, session.PeerCreds, bool) {
	return 0, session.PeerCreds{}, false
}
