// Package session owns one accepted connection: a read goroutine parsing
// framed JSON-RPC 2.0 messages and dispatching them to the worker pool, a
// write goroutine draining replies back to the client over a bounded
// channel, and the Accepted -> Active -> Draining -> Closed state machine
// the two goroutines move through together.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goxel/goxeld/internal/accesstoken"
	"github.com/goxel/goxeld/internal/registry"
	"github.com/goxel/goxeld/internal/rpc"
	"github.com/goxel/goxeld/internal/worker"
)

// State is one point in a Session's lifecycle.
type State int32

const (
	Accepted State = iota
	Active
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Accepted:
		return "Accepted"
	case Active:
		return "Active"
	case Draining:
		return "Draining"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// PeerCreds are the credentials the Acceptor read off SO_PEERCRED at accept
// time. The zero value means credentials were unavailable, e.g. a platform
// without SO_PEERCRED support.
type PeerCreds struct {
	UID uint32
	GID uint32
	PID int32
}

// Config parameterizes a Session.
type Config struct {
	OutboundQueueDepth int
	IdleTimeout        time.Duration
	DrainDeadline      time.Duration
	MaxMessageBytes    int64
	// AccessTokenHash, when non-empty, requires every message to carry a
	// matching params._auth field until one succeeds.
	AccessTokenHash string
}

// Dispatcher is the subset of worker.Pool a Session depends on.
type Dispatcher interface {
	Enqueue(item worker.Item) bool
}

// Session drives one accepted net.Conn through its whole lifetime.
type Session struct {
	ID     uint64
	Peer   PeerCreds
	cfg    Config
	conn   net.Conn
	reg    *registry.Registry
	pool   Dispatcher
	logger *slog.Logger

	state atomic.Int32

	authenticated atomic.Bool

	outbound chan []byte
	framer   *rpc.FrameWriter
	writeWG  sync.WaitGroup

	inflight  sync.Map // idKey(id) -> time.Time
	inflightN atomic.Int64

	drainOnce sync.Once
	drained   chan struct{}
	forced    atomic.Bool
}

// New builds a Session around an already-accepted connection. Goroutines do
// not start until Run is called.
func New(id uint64, conn net.Conn, peer PeerCreds, cfg Config, reg *registry.Registry, pool Dispatcher, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OutboundQueueDepth < 1 {
		cfg.OutboundQueueDepth = 256
	}
	s := &Session{
		ID:       id,
		Peer:     peer,
		cfg:      cfg,
		conn:     conn,
		reg:      reg,
		pool:     pool,
		logger:   logger,
		outbound: make(chan []byte, cfg.OutboundQueueDepth),
		framer:   rpc.NewFrameWriter(conn),
		drained:  make(chan struct{}),
	}
	s.state.Store(int32(Accepted))
	if cfg.AccessTokenHash == "" {
		s.authenticated.Store(true)
	}
	return s
}

// State reports the Session's current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// InflightCount returns the number of requests dispatched but not yet
// replied to.
func (s *Session) InflightCount() int64 { return s.inflightN.Load() }

// Forced reports whether this session's drain deadline fired before every
// in-flight request finished, forcing the connection closed out from under
// it. The supervisor uses this to decide the process exit status.
func (s *Session) Forced() bool { return s.forced.Load() }

// Run drives the session to completion: it blocks until the connection is
// fully closed, whether that is because the peer disconnected, the session
// idled out, or ctx was cancelled by the daemon shutting down.
func (s *Session) Run(ctx context.Context) {
	s.setState(Active)

	s.writeWG.Add(1)
	go s.writeLoop()

	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.beginDrain()
		case <-stopWatch:
		}
	}()

	s.readLoop()
	close(stopWatch)
	s.beginDrain()

	<-s.drained
	close(s.outbound)
	s.writeWG.Wait()
	s.setState(Closed)
}

// beginDrain moves the session into Draining exactly once, regardless of
// which of the several triggers (EOF, idle timeout, write error, context
// cancellation) reached it first, and closes the connection once every
// in-flight request has replied or the drain deadline elapses.
func (s *Session) beginDrain() {
	s.drainOnce.Do(func() {
		s.setState(Draining)
		go func() {
			defer close(s.drained)
			deadline := time.NewTimer(s.cfg.DrainDeadline)
			defer deadline.Stop()
			ticker := time.NewTicker(20 * time.Millisecond)
			defer ticker.Stop()

		drainLoop:
			for s.inflightN.Load() > 0 {
				select {
				case <-deadline.C:
					s.forced.Store(true)
					s.logger.Warn("session: drain deadline exceeded, forcing close",
						"client_id", s.ID, "inflight", s.inflightN.Load())
					break drainLoop
				case <-ticker.C:
				}
			}
			_ = s.conn.Close()
		}()
	})
}

func (s *Session) readLoop() {
	framer := rpc.NewFrameReader(s.conn, s.cfg.MaxMessageBytes)
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		line, err := framer.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}
		if len(line) == 0 {
			continue
		}
		s.handleLine(line)
	}
}

func (s *Session) handleReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		s.logger.Debug("session: peer closed connection", "client_id", s.ID)
	case errors.Is(err, rpc.ErrOversized):
		s.sendOne(rpc.NewErrorResponse(rpc.NullID, rpc.ParseError("message exceeds max_message_bytes")))
	case isTimeout(err):
		s.logger.Debug("session: idle timeout", "client_id", s.ID)
	default:
		s.logger.Debug("session: read error", "client_id", s.ID, "error", err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *Session) handleLine(line []byte) {
	batch := isBatchLine(line)
	pr := rpc.Decode(line)
	if pr.Err != nil {
		s.sendOne(rpc.NewErrorResponse(pr.ErrID, pr.Err))
		return
	}
	if !batch {
		s.dispatchSingle(pr.Messages[0])
		return
	}
	s.dispatchBatch(pr.Messages)
}

// isBatchLine reports whether line's first non-whitespace byte opens a JSON
// array, independent of rpc.Decode's own parsing, so the session can decide
// whether to wrap the eventual response(s) in an array even for a
// single-element batch.
func isBatchLine(line []byte) bool {
	for _, b := range line {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b == '['
	}
	return false
}

func (s *Session) dispatchSingle(msg rpc.Message) {
	if !s.checkAuth(msg) {
		if !msg.IsNotification() {
			s.sendOne(rpc.NewErrorResponse(msg.ID, rpc.Unauthorized()))
		}
		return
	}
	s.enqueue(msg, func(resp rpc.Response) {
		s.releaseInflight(msg.ID)
		s.sendOne(resp)
	})
}

// batchState accumulates responses for one batch until every non-
// notification member has replied, then writes a single JSON array.
type batchState struct {
	mu        sync.Mutex
	responses []rpc.Response
	remaining int
}

func (b *batchState) deliver(s *Session, resp rpc.Response) {
	b.mu.Lock()
	b.responses = append(b.responses, resp)
	b.remaining--
	done := b.remaining == 0
	out := b.responses
	b.mu.Unlock()

	if !done {
		return
	}
	data, err := rpc.EncodeBatch(out)
	if err != nil {
		s.logger.Error("session: encode batch response failed", "client_id", s.ID, "error", err)
		return
	}
	s.enqueueOutbound(data)
}

func (s *Session) dispatchBatch(msgs []rpc.Message) {
	pending := 0
	for _, m := range msgs {
		if !m.IsNotification() {
			pending++
		}
	}
	if pending == 0 {
		for _, m := range msgs {
			if s.checkAuth(m) {
				s.enqueue(m, nil)
			}
		}
		return
	}

	bs := &batchState{responses: make([]rpc.Response, 0, pending), remaining: pending}
	for _, m := range msgs {
		m := m
		if !s.checkAuth(m) {
			if !m.IsNotification() {
				bs.deliver(s, rpc.NewErrorResponse(m.ID, rpc.Unauthorized()))
			}
			continue
		}
		if m.IsNotification() {
			s.enqueue(m, nil)
			continue
		}
		s.enqueue(m, func(resp rpc.Response) {
			s.releaseInflight(m.ID)
			bs.deliver(s, resp)
		})
	}
}

// checkAuth reports whether msg may proceed to dispatch. Once authenticated
// it always returns true; until then it inspects params._auth on every
// message, flipping to authenticated on the first valid token.
func (s *Session) checkAuth(msg rpc.Message) bool {
	if s.authenticated.Load() {
		return true
	}
	var p struct {
		Auth string `json:"_auth"`
	}
	if len(msg.Params) > 0 {
		_ = json.Unmarshal(msg.Params, &p)
	}
	if p.Auth == "" {
		return false
	}
	ok, err := accesstoken.Verify(p.Auth, s.cfg.AccessTokenHash)
	if err != nil || !ok {
		return false
	}
	s.authenticated.Store(true)
	return true
}

func (s *Session) enqueue(msg rpc.Message, reply func(rpc.Response)) {
	desc, ok := s.reg.Lookup(msg.Method)
	if !ok {
		if !msg.IsNotification() {
			s.sendOne(rpc.NewErrorResponse(msg.ID, rpc.MethodNotFound()))
		}
		return
	}

	if !msg.IsNotification() {
		s.trackInflight(msg.ID)
	}

	item := worker.Item{
		ClientID:       s.ID,
		PeerUID:        s.Peer.UID,
		ID:             msg.ID,
		IsNotification: msg.IsNotification(),
		Descriptor:     desc,
		Params:         msg.Params,
		Reply:          reply,
	}

	if !s.pool.Enqueue(item) {
		if !msg.IsNotification() {
			s.releaseInflight(msg.ID)
			s.sendOne(rpc.NewErrorResponse(msg.ID, rpc.Overloaded()))
		}
	}
}

func idKey(id rpc.Id) string { return string(id.Raw) }

func (s *Session) trackInflight(id rpc.Id) {
	s.inflight.Store(idKey(id), time.Now())
	s.inflightN.Add(1)
}

func (s *Session) releaseInflight(id rpc.Id) {
	if _, loaded := s.inflight.LoadAndDelete(idKey(id)); loaded {
		s.inflightN.Add(-1)
	}
}

func (s *Session) sendOne(resp rpc.Response) {
	data, err := rpc.EncodeOne(resp)
	if err != nil {
		s.logger.Error("session: encode response failed", "client_id", s.ID, "error", err)
		return
	}
	s.enqueueOutbound(data)
}

// enqueueOutbound blocks until there is room in the outbound channel, which
// is the session's backpressure mechanism: a slow client's writer stalls
// the replies meant for it, not anyone else's. The select on s.drained
// keeps a reply from blocking forever once the session is tearing down.
func (s *Session) enqueueOutbound(data []byte) {
	select {
	case s.outbound <- data:
	case <-s.drained:
	}
}

func (s *Session) writeLoop() {
	defer s.writeWG.Done()
	for data := range s.outbound {
		if err := s.framer.WriteMessage(data); err != nil {
			s.logger.Debug("session: write error", "client_id", s.ID, "error", err)
			s.beginDrain()
			for range s.outbound {
				// Drain without writing so Run's close(s.outbound) cannot
				// block forever on a connection that is already broken.
			}
			return
		}
	}
}
