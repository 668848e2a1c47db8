package acceptor

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/goxel/goxeld/internal/registry"
	"github.com/goxel/goxeld/internal/rpc"
	"github.com/goxel/goxeld/internal/worker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeDispatcher struct {
	seen chan worker.Item
}

func (d *fakeDispatcher) Enqueue(item worker.Item) bool {
	if d.seen != nil {
		d.seen <- item
	}
	if item.Reply != nil {
		resp, _ := rpc.NewResultResponse(item.ID, map[string]bool{"ok": true})
		item.Reply(resp)
	}
	return true
}

func testRegistry() *registry.Registry {
	reg := registry.New()
	reg.Register(registry.MethodDescriptor{Name: "ping", Concurrency: registry.Free})
	return reg
}

func newTestAcceptor(t *testing.T, cfg Config) (*Acceptor, string) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "goxeld.sock")
	cfg.SocketPath = sockPath
	a := New(cfg, testRegistry(), &fakeDispatcher{}, nil)
	if err := a.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return a, sockPath
}

func TestAcceptor_BindAndAccept(t *testing.T) {
	t.Parallel()

	a, sockPath := newTestAcceptor(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	serveDone := make(chan struct{})
	go func() {
		a.Serve(ctx)
		close(serveDone)
	}()

	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := conn.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	if _, err := r.ReadBytes('\n'); err != nil {
		t.Fatalf("read reply: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for a.ActiveSessions() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if a.ActiveSessions() < 1 {
		t.Fatal("expected at least one active session")
	}

	_ = conn.Close()
	cancel()
	_ = a.Close()
	<-serveDone
	a.Wait()
	a.Stop()
}

func TestAcceptor_MaxConnectionsRefused(t *testing.T) {
	t.Parallel()

	a, sockPath := newTestAcceptor(t, Config{MaxConnections: 1})
	ctx, cancel := context.WithCancel(context.Background())

	serveDone := make(chan struct{})
	go func() {
		a.Serve(ctx)
		close(serveDone)
	}()

	held, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for a.ActiveSessions() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	refused, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	_ = refused.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(refused)
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read refusal: %v", err)
	}
	if len(line) == 0 {
		t.Fatal("expected a refusal message")
	}

	_ = held.Close()
	_ = refused.Close()
	cancel()
	_ = a.Close()
	<-serveDone
	a.Wait()
	a.Stop()
}

func TestAcceptor_StaleSocketIsReplaced(t *testing.T) {
	t.Parallel()

	sockPath := filepath.Join(t.TempDir(), "goxeld.sock")

	stale, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("create stale listener: %v", err)
	}
	_ = stale.Close() // leaves the socket file behind with nothing listening

	a := New(Config{SocketPath: sockPath}, testRegistry(), &fakeDispatcher{}, nil)
	if err := a.Listen(); err != nil {
		t.Fatalf("Listen over stale socket: %v", err)
	}
	_ = a.Close()
	a.Stop()
}

func TestAcceptor_LiveSocketRefusesRebind(t *testing.T) {
	t.Parallel()

	a, sockPath := newTestAcceptor(t, Config{})
	defer func() {
		_ = a.Close()
		a.Stop()
	}()

	b := New(Config{SocketPath: sockPath}, testRegistry(), &fakeDispatcher{}, nil)
	if err := b.Listen(); err == nil {
		t.Fatal("expected Listen to fail against a live socket")
	}
}
