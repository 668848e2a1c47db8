// Package acceptor binds the daemon's Unix domain socket and turns each
// accepted connection into a session.Session, enforcing the connection
// ceiling and (optionally) a per-peer-uid connect-rate limit before a
// client ID is ever allocated.
package acceptor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goxel/goxeld/internal/ratelimit"
	"github.com/goxel/goxeld/internal/registry"
	"github.com/goxel/goxeld/internal/rpc"
	"github.com/goxel/goxeld/internal/session"
)

// ErrAddressInUse is returned by Listen when socket_path names a regular
// file, or an already-live socket nothing unlinked first.
var ErrAddressInUse = errors.New("acceptor: address already in use")

// Config parameterizes an Acceptor.
type Config struct {
	SocketPath        string
	MaxConnections    int
	ConnectRatePerSec int
	ConnectBurst      int
	Session           session.Config
}

// Acceptor owns the listening socket and the set of live sessions it has
// handed off.
type Acceptor struct {
	cfg    Config
	reg    *registry.Registry
	pool   session.Dispatcher
	logger *slog.Logger

	listener *net.UnixListener
	limiter  *ratelimit.UIDLimiter

	nextClientID atomic.Uint64
	activeCount  atomic.Int64
	forcedCount  atomic.Int64

	mu       sync.Mutex
	sessions map[uint64]*session.Session

	wg sync.WaitGroup
}

// New builds an Acceptor. It does not bind the socket; call Listen.
func New(cfg Config, reg *registry.Registry, pool session.Dispatcher, logger *slog.Logger) *Acceptor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Acceptor{
		cfg:      cfg,
		reg:      reg,
		pool:     pool,
		logger:   logger,
		sessions: make(map[uint64]*session.Session),
	}
	if cfg.ConnectRatePerSec > 0 {
		a.limiter = ratelimit.NewUIDLimiter(time.Minute, 10*time.Minute, logger)
	}
	return a
}

// Listen binds the Unix socket at cfg.SocketPath, removing a stale socket
// file first if one is found with nothing listening behind it.
func (a *Acceptor) Listen() error {
	if err := a.bind(); err != nil {
		return err
	}
	if a.limiter != nil {
		a.limiter.StartCleanup(context.Background())
	}
	return nil
}

func (a *Acceptor) bind() error {
	info, err := os.Stat(a.cfg.SocketPath)
	switch {
	case err == nil:
		if info.Mode()&os.ModeSocket == 0 {
			return fmt.Errorf("%w: %s exists and is not a socket", ErrAddressInUse, a.cfg.SocketPath)
		}
		if isSocketLive(a.cfg.SocketPath) {
			return fmt.Errorf("%w: %s", ErrAddressInUse, a.cfg.SocketPath)
		}
		if rmErr := os.Remove(a.cfg.SocketPath); rmErr != nil {
			return fmt.Errorf("acceptor: remove stale socket: %w", rmErr)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("acceptor: stat socket path: %w", err)
	}

	addr, err := net.ResolveUnixAddr("unix", a.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("acceptor: resolve socket path: %w", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("acceptor: listen: %w", err)
	}
	if err := os.Chmod(a.cfg.SocketPath, 0660); err != nil {
		_ = ln.Close()
		return fmt.Errorf("acceptor: chmod socket: %w", err)
	}
	a.listener = ln
	return nil
}

func isSocketLive(path string) bool {
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Serve accepts connections until ctx is cancelled or the listener errors.
// Each accepted connection is handed to a new session.Session running in
// its own goroutine; Serve itself returns once the accept loop exits, but
// does not wait for live sessions to finish — call Wait for that.
func (a *Acceptor) Serve(ctx context.Context) {
	for {
		conn, err := a.listener.AcceptUnix()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				a.logger.Error("acceptor: accept failed", "error", err)
				return
			}
		}
		a.handleAccept(ctx, conn)
	}
}

func (a *Acceptor) handleAccept(ctx context.Context, conn *net.UnixConn) {
	if a.cfg.MaxConnections > 0 && a.activeCount.Load() >= int64(a.cfg.MaxConnections) {
		a.refuse(conn, rpc.Overloaded())
		return
	}

	uid, creds, ok := readPeerCreds(conn)
	if a.limiter != nil && ok {
		res := a.limiter.Allow(uid, ratelimit.Config{
			Rate:   a.cfg.ConnectRatePerSec,
			Burst:  a.cfg.ConnectBurst,
			Period: time.Second,
		})
		if !res.Allowed {
			_ = conn.Close()
			return
		}
	}

	id := a.nextClientID.Add(1)
	sess := session.New(id, conn, creds, a.cfg.Session, a.reg, a.pool, a.logger)

	a.activeCount.Add(1)
	a.mu.Lock()
	a.sessions[id] = sess
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		sess.Run(ctx)
		if sess.Forced() {
			a.forcedCount.Add(1)
		}
		a.activeCount.Add(-1)
		a.mu.Lock()
		delete(a.sessions, id)
		a.mu.Unlock()
	}()
}

func (a *Acceptor) refuse(conn *net.UnixConn, errObj *rpc.ErrorObject) {
	resp := rpc.NewErrorResponse(rpc.NullID, errObj)
	if data, err := rpc.EncodeOne(resp); err == nil {
		_ = rpc.NewFrameWriter(conn).WriteMessage(data)
	}
	_ = conn.Close()
}

// ActiveSessions returns the current number of live sessions.
func (a *Acceptor) ActiveSessions() int {
	return int(a.activeCount.Load())
}

// ForcedShutdown reports whether any session handed off by this Acceptor
// had its drain deadline fire before it finished in-flight work. Call after
// Wait returns.
func (a *Acceptor) ForcedShutdown() bool {
	return a.forcedCount.Load() > 0
}

// Close stops accepting new connections and unlinks the socket file. It
// does not touch sessions already handed off; the supervisor relies on
// ctx cancellation plus Wait for that.
func (a *Acceptor) Close() error {
	if a.listener == nil {
		return nil
	}
	err := a.listener.Close()
	_ = os.Remove(a.cfg.SocketPath)
	return err
}

// Wait blocks until every handed-off session's Run has returned.
func (a *Acceptor) Wait() {
	a.wg.Wait()
}

// Stop releases the rate limiter's background goroutine. Call after Wait.
func (a *Acceptor) Stop() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
}
