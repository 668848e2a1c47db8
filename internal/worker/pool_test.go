package worker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/goxel/goxeld/internal/audit"
	"github.com/goxel/goxeld/internal/registry"
	"github.com/goxel/goxeld/internal/rpc"
	"github.com/goxel/goxeld/internal/scene"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestAuditStore(t *testing.T) *audit.Store {
	t.Helper()
	store, err := audit.Open(audit.Config{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("audit.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func echoDescriptor(name string, concurrency registry.Concurrency) registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:        name,
		Concurrency: concurrency,
		Handler: func(ctx context.Context, params []byte) (any, error) {
			return map[string]string{"ok": "true"}, nil
		},
	}
}

func replyCollector() (func(rpc.Response), chan rpc.Response) {
	ch := make(chan rpc.Response, 1)
	return func(r rpc.Response) { ch <- r }, ch
}

func TestPool_DispatchesSuccessfully(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Register(echoDescriptor("ping", registry.Free))

	gate, err := registry.NewPolicyGate()
	if err != nil {
		t.Fatalf("NewPolicyGate() error: %v", err)
	}
	p, err := New(Config{WorkerCount: 1, QueueCapacity: 1, RequestTimeout: time.Second}, reg, gate, newTestAuditStore(t), nil, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	p.Start()
	defer p.Stop()

	d, _ := reg.Lookup("ping")
	reply, ch := replyCollector()
	if !p.Enqueue(Item{ID: rpc.NewIntID(1), Descriptor: d, Reply: reply}) {
		t.Fatal("Enqueue() returned false on empty queue")
	}

	select {
	case resp := <-ch:
		if resp.Err != nil {
			t.Fatalf("unexpected error response: %+v", resp.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestPool_QueueFullReturnsFalse(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	blockCh := make(chan struct{})
	reg.Register(registry.MethodDescriptor{
		Name: "block",
		Handler: func(ctx context.Context, params []byte) (any, error) {
			<-blockCh
			return nil, nil
		},
	})

	gate, _ := registry.NewPolicyGate()
	p, err := New(Config{WorkerCount: 1, QueueCapacity: 1, RequestTimeout: 5 * time.Second}, reg, gate, newTestAuditStore(t), nil, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	p.Start()
	defer func() {
		close(blockCh)
		p.Stop()
	}()

	d, _ := reg.Lookup("block")

	// First item occupies the sole worker; it blocks on blockCh.
	reply1, _ := replyCollector()
	if !p.Enqueue(Item{ID: rpc.NewIntID(1), Descriptor: d, Reply: reply1}) {
		t.Fatal("expected first enqueue to succeed")
	}

	// Give the worker a moment to dequeue the first item so the queue is
	// genuinely empty again before filling it for real.
	time.Sleep(50 * time.Millisecond)

	reply2, _ := replyCollector()
	if !p.Enqueue(Item{ID: rpc.NewIntID(2), Descriptor: d, Reply: reply2}) {
		t.Fatal("expected second enqueue to fill the one-slot queue")
	}

	reply3, _ := replyCollector()
	if p.Enqueue(Item{ID: rpc.NewIntID(3), Descriptor: d, Reply: reply3}) {
		t.Fatal("expected third enqueue to be rejected, queue is full")
	}
}

func TestPool_TimeoutRepliesWithTimeoutCode(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	releaseCh := make(chan struct{})
	reg.Register(registry.MethodDescriptor{
		Name: "slow",
		Handler: func(ctx context.Context, params []byte) (any, error) {
			<-releaseCh
			return "done", nil
		},
	})

	gate, _ := registry.NewPolicyGate()
	p, err := New(Config{WorkerCount: 1, QueueCapacity: 1, RequestTimeout: 20 * time.Millisecond}, reg, gate, newTestAuditStore(t), nil, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	p.Start()
	defer func() {
		close(releaseCh)
		p.Stop()
	}()

	d, _ := reg.Lookup("slow")
	reply, ch := replyCollector()
	p.Enqueue(Item{ID: rpc.NewIntID(1), Descriptor: d, Reply: reply})

	select {
	case resp := <-ch:
		if resp.Err == nil || resp.Err.Code != rpc.CodeTimeout {
			t.Fatalf("expected CodeTimeout, got %+v", resp.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for timeout reply")
	}
}

func TestPool_PanicRecoversToInternalError(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Register(registry.MethodDescriptor{
		Name: "boom",
		Handler: func(ctx context.Context, params []byte) (any, error) {
			panic("kaboom")
		},
	})

	gate, _ := registry.NewPolicyGate()
	p, err := New(Config{WorkerCount: 1, QueueCapacity: 1, RequestTimeout: time.Second}, reg, gate, newTestAuditStore(t), nil, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	p.Start()
	defer p.Stop()

	d, _ := reg.Lookup("boom")
	reply, ch := replyCollector()
	p.Enqueue(Item{ID: rpc.NewIntID(1), Descriptor: d, Reply: reply})

	select {
	case resp := <-ch:
		if resp.Err == nil || resp.Err.Code != rpc.CodeInternalError {
			t.Fatalf("expected CodeInternalError, got %+v", resp.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestPool_DomainErrorPassesThroughCode(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Register(registry.MethodDescriptor{
		Name: "fails",
		Handler: func(ctx context.Context, params []byte) (any, error) {
			return nil, scene.ErrUnknownLayer("no such layer")
		},
	})

	gate, _ := registry.NewPolicyGate()
	p, err := New(Config{WorkerCount: 1, QueueCapacity: 1, RequestTimeout: time.Second}, reg, gate, newTestAuditStore(t), nil, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	p.Start()
	defer p.Stop()

	d, _ := reg.Lookup("fails")
	reply, ch := replyCollector()
	p.Enqueue(Item{ID: rpc.NewIntID(1), Descriptor: d, Reply: reply})

	select {
	case resp := <-ch:
		if resp.Err == nil || resp.Err.Code != scene.CodeUnknownLayer {
			t.Fatalf("expected CodeUnknownLayer, got %+v", resp.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestPool_PolicyDeniesCall(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Register(registry.MethodDescriptor{
		Name:   "restricted",
		Policy: "client_id == uint(1)",
		Handler: func(ctx context.Context, params []byte) (any, error) {
			return "should not run", nil
		},
	})

	gate, err := registry.NewPolicyGate()
	if err != nil {
		t.Fatalf("NewPolicyGate() error: %v", err)
	}
	p, err := New(Config{WorkerCount: 1, QueueCapacity: 1, RequestTimeout: time.Second}, reg, gate, newTestAuditStore(t), nil, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	p.Start()
	defer p.Stop()

	d, _ := reg.Lookup("restricted")
	reply, ch := replyCollector()
	p.Enqueue(Item{ID: rpc.NewIntID(1), ClientID: 2, Descriptor: d, Reply: reply})

	select {
	case resp := <-ch:
		if resp.Err == nil || resp.Err.Code != rpc.CodePolicyDenied {
			t.Fatalf("expected CodePolicyDenied, got %+v", resp.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
}

func TestPool_InvalidPolicyExpressionFailsAtConstruction(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Register(registry.MethodDescriptor{Name: "bad", Policy: "((("})

	gate, _ := registry.NewPolicyGate()
	_, err := New(Config{WorkerCount: 1, QueueCapacity: 1}, reg, gate, newTestAuditStore(t), nil, nil)
	if err == nil {
		t.Fatal("expected New() to fail compiling an invalid policy expression")
	}
}

func TestPool_NotificationGetsNoReply(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Register(echoDescriptor("notify", registry.Free))

	gate, _ := registry.NewPolicyGate()
	p, err := New(Config{WorkerCount: 1, QueueCapacity: 1, RequestTimeout: time.Second}, reg, gate, newTestAuditStore(t), nil, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	p.Start()
	defer p.Stop()

	d, _ := reg.Lookup("notify")
	called := make(chan struct{}, 1)
	p.Enqueue(Item{IsNotification: true, Descriptor: d, Reply: func(rpc.Response) { called <- struct{}{} }})

	select {
	case <-called:
		t.Fatal("expected no reply for a notification")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	t.Parallel()

	a := fingerprint("goxel.add_voxel", []byte(`{"x":1}`))
	b := fingerprint("goxel.add_voxel", []byte(`{"x":1}`))
	if a != b {
		t.Errorf("fingerprint not deterministic: %q != %q", a, b)
	}
	c := fingerprint("goxel.add_voxel", []byte(`{"x":2}`))
	if a == c {
		t.Errorf("expected different params to produce different fingerprints")
	}
}

func TestOutcomeFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  *rpc.ErrorObject
		want audit.Outcome
	}{
		{"nil", nil, audit.OutcomeOK},
		{"timeout", rpc.Timeout(), audit.OutcomeTimeout},
		{"domain", scene.ErrUnknownLayer("x").ToRPC(), audit.OutcomeDomainError},
		{"internal", rpc.InternalError("x"), audit.OutcomeInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := outcomeFor(tc.err); got != tc.want {
				t.Errorf("outcomeFor() = %v, want %v", got, tc.want)
			}
		})
	}
}
