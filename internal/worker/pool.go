// Package worker implements the bounded dispatcher pool: a fixed number of
// worker goroutines draining a single buffered queue of parsed RPC calls,
// applying the per-method policy gate, enforcing a per-request timeout
// measured from dequeue, and recovering from handler panics.
//
// The pool is deliberately agnostic to the scene engine: a method's
// Concurrency class is carried through only for audit/metrics labeling and
// for list_methods introspection. Acquiring the Scene Guard is the
// responsibility of each handler closure (built in internal/handlers),
// since registry.HandlerFunc has no Engine parameter to thread a lock
// through — the guard discipline lives at the point that actually touches
// the engine, not in the generic dispatcher.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	"github.com/goxel/goxeld/internal/audit"
	"github.com/goxel/goxeld/internal/registry"
	"github.com/goxel/goxeld/internal/rpc"
)

// Item is one unit of work handed from a Session's read loop to the Pool.
type Item struct {
	ClientID       uint64
	PeerUID        uint32
	ID             rpc.Id
	IsNotification bool
	Descriptor     registry.MethodDescriptor
	Params         []byte
	Reply          func(rpc.Response)
}

// Observer receives dispatch outcomes and queue-depth samples; the
// telemetry package implements it with Prometheus/OTel, nil is a valid
// no-op Observer for tests.
type Observer interface {
	ObserveDispatch(method, concurrency, outcome string, d time.Duration)
	SetQueueDepth(depth int)
}

type noopObserver struct{}

func (noopObserver) ObserveDispatch(string, string, string, time.Duration) {}
func (noopObserver) SetQueueDepth(int)                                    {}

// Config parameterizes a Pool.
type Config struct {
	WorkerCount    int
	QueueCapacity  int
	RequestTimeout time.Duration
}

// Pool is a fixed-size set of worker goroutines sharing one MPMC queue.
type Pool struct {
	cfg      Config
	queue    chan Item
	policies map[string]cel.Program
	gate     *registry.PolicyGate
	audit    *audit.Store
	observer Observer
	logger   *slog.Logger

	wg sync.WaitGroup
}

// New builds a Pool. reg is scanned once up front so every method with a
// Policy expression is compiled exactly once, not on every dispatch.
func New(cfg Config, reg *registry.Registry, gate *registry.PolicyGate, store *audit.Store, observer Observer, logger *slog.Logger) (*Pool, error) {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueCapacity < cfg.WorkerCount {
		cfg.QueueCapacity = cfg.WorkerCount
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = noopObserver{}
	}

	policies := make(map[string]cel.Program)
	for _, info := range reg.List() {
		if !info.Policy {
			continue
		}
		d, _ := reg.Lookup(info.Name)
		prg, err := gate.Compile(d.Policy)
		if err != nil {
			return nil, fmt.Errorf("worker: compile policy for %q: %w", d.Name, err)
		}
		policies[d.Name] = prg
	}

	return &Pool{
		cfg:      cfg,
		queue:    make(chan Item, cfg.QueueCapacity),
		policies: policies,
		gate:     gate,
		audit:    store,
		observer: observer,
		logger:   logger,
	}, nil
}

// Start launches the worker goroutines. Safe to call once.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
}

// QueueDepth returns the current number of items buffered ahead of the
// workers, for status introspection. Approximate under concurrent use, like
// any len(chan) read.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Enqueue attempts to add item to the queue without blocking. It reports
// false if the queue is full, in which case the caller (the Session read
// loop) must reply Overloaded to a Request or silently drop a
// Notification.
func (p *Pool) Enqueue(item Item) bool {
	select {
	case p.queue <- item:
		p.observer.SetQueueDepth(len(p.queue))
		return true
	default:
		return false
	}
}

// Stop closes the queue so every worker's range loop drains what remains
// and exits, then waits for them all to finish. Enqueue must not be called
// concurrently with or after Stop.
func (p *Pool) Stop() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) runWorker() {
	defer p.wg.Done()
	for item := range p.queue {
		p.observer.SetQueueDepth(len(p.queue))
		p.dispatch(item)
	}
}

func (p *Pool) dispatch(item Item) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RequestTimeout)
	defer cancel()

	concurrency := item.Descriptor.Concurrency.String()
	resultCh := make(chan dispatchResult, 1)

	go func() {
		resultCh <- p.invoke(ctx, item)
	}()

	var res dispatchResult
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		// The handler goroutine is not interrupted: scene.Engine methods
		// take no context, so it runs to completion regardless. Its
		// eventual result lands in the buffered resultCh and is simply
		// never read, preserving scene invariants over client
		// responsiveness.
		res = dispatchResult{errObj: rpc.Timeout()}
	}

	duration := time.Since(start)
	outcome := outcomeFor(res.errObj)
	p.observer.ObserveDispatch(item.Descriptor.Name, concurrency, outcome, duration)
	p.recordAudit(item, concurrency, outcome, duration, res.errObj)

	if item.IsNotification || item.Reply == nil {
		return
	}
	if res.errObj != nil {
		item.Reply(rpc.NewErrorResponse(item.ID, res.errObj))
		return
	}
	resp, err := rpc.NewResultResponse(item.ID, res.value)
	if err != nil {
		item.Reply(rpc.NewErrorResponse(item.ID, rpc.InternalError("marshal result: "+err.Error())))
		return
	}
	item.Reply(resp)
}

type dispatchResult struct {
	value  any
	errObj *rpc.ErrorObject
}

// invoke runs the policy check (if any) and the handler itself, recovering
// from a panic and translating it to InternalError so one bad handler
// never brings down the pool.
func (p *Pool) invoke(ctx context.Context, item Item) (result dispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker: handler panic", "method", item.Descriptor.Name, "panic", r)
			result = dispatchResult{errObj: rpc.InternalError(fmt.Sprintf("panic in handler %q", item.Descriptor.Name))}
		}
	}()

	if prg, ok := p.policies[item.Descriptor.Name]; ok {
		allowed, err := p.gate.Evaluate(ctx, prg, registry.Activation{
			Method:   item.Descriptor.Name,
			ClientID: item.ClientID,
			PeerUID:  item.PeerUID,
		})
		if err != nil {
			return dispatchResult{errObj: rpc.InternalError("policy evaluation failed: " + err.Error())}
		}
		if !allowed {
			return dispatchResult{errObj: rpc.PolicyDenied()}
		}
	}

	value, err := item.Descriptor.Handler(ctx, item.Params)
	if err == nil {
		return dispatchResult{value: value}
	}
	if rpcErr, ok := err.(interface{ ToRPC() *rpc.ErrorObject }); ok {
		return dispatchResult{errObj: rpcErr.ToRPC()}
	}
	return dispatchResult{errObj: rpc.InternalError(err.Error())}
}

func outcomeFor(errObj *rpc.ErrorObject) audit.Outcome {
	if errObj == nil {
		return audit.OutcomeOK
	}
	switch {
	case errObj.Code == rpc.CodeTimeout:
		return audit.OutcomeTimeout
	case errObj.Code <= rpc.CodeDomainErrorMax && errObj.Code >= rpc.CodeDomainErrorMin:
		return audit.OutcomeDomainError
	default:
		return audit.OutcomeInternalError
	}
}

func (p *Pool) recordAudit(item Item, concurrency string, outcome audit.Outcome, d time.Duration, errObj *rpc.ErrorObject) {
	if p.audit == nil {
		return
	}
	rec := audit.Record{
		Timestamp:        time.Now().UTC(),
		ClientID:         item.ClientID,
		PeerUID:          item.PeerUID,
		Method:           item.Descriptor.Name,
		Fingerprint:      fingerprint(item.Descriptor.Name, item.Params),
		ConcurrencyClass: concurrency,
		DurationMS:       d.Milliseconds(),
		Outcome:          outcome,
	}
	if errObj != nil {
		rec.ErrorCode = errObj.Code
	}
	if err := p.audit.Append(rec); err != nil {
		p.logger.Warn("worker: audit append failed", "method", item.Descriptor.Name, "error", err)
	}
}

// fingerprint hashes method name and params together into a short hex
// string for the audit line, so repeated identical calls are easy to spot
// without storing params verbatim.
func fingerprint(method string, params []byte) string {
	h := xxhash.New()
	_, _ = h.WriteString(method)
	_, _ = h.Write(params)
	return fmt.Sprintf("%016x", h.Sum64())
}
