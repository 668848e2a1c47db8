// Package registry holds the static map of method name to handler that the
// worker pool dispatches through, plus the optional per-method CEL policy
// gate described alongside it.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Concurrency declares what scene access a method needs.
type Concurrency int

const (
	// Free methods take neither side of the scene guard.
	Free Concurrency = iota
	// Shared methods take the scene guard's read side.
	Shared
	// Exclusive methods take the scene guard's write side.
	Exclusive
)

func (c Concurrency) String() string {
	switch c {
	case Free:
		return "Free"
	case Shared:
		return "Shared"
	case Exclusive:
		return "Exclusive"
	default:
		return "Unknown"
	}
}

// HandlerFunc executes one method call and returns a JSON-marshalable
// result or an error. Domain errors should be *rpc.ErrorObject-compatible;
// the worker pool translates plain errors to InternalError.
type HandlerFunc func(ctx context.Context, params []byte) (any, error)

// MethodDescriptor is one entry in the Registry.
type MethodDescriptor struct {
	Name        string
	Handler     HandlerFunc
	Concurrency Concurrency
	// Policy, when non-empty, is a CEL expression gating this method;
	// evaluation is the caller's responsibility (see PolicyGate).
	Policy string
}

// Registry is a static, build-once map of method name to descriptor. It is
// safe for concurrent use: every method takes its RWMutex, and the daemon
// never registers methods after startup.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]MethodDescriptor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{methods: make(map[string]MethodDescriptor)}
}

// Register adds a method descriptor. Registering the same name twice is a
// programming error and panics, since the registry is only ever built once
// at startup from a fixed set of call sites.
func (r *Registry) Register(d MethodDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[d.Name]; exists {
		panic(fmt.Sprintf("registry: method %q already registered", d.Name))
	}
	r.methods[d.Name] = d
}

// AttachPolicy sets or replaces the CEL policy expression for an already
// registered method, for applying config.DaemonConfig.MethodPolicies after
// the fixed set of handlers.Register calls has built the method set. A
// name not present in the registry is a no-op: an operator policy entry
// for a method that doesn't exist is a config mistake, not a panic.
func (r *Registry) AttachPolicy(name, expression string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.methods[name]
	if !ok {
		return
	}
	d.Policy = expression
	r.methods[name] = d
}

// Lookup returns the descriptor for name, if registered.
func (r *Registry) Lookup(name string) (MethodDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.methods[name]
	return d, ok
}

// MethodInfo is the introspection shape returned by list_methods.
type MethodInfo struct {
	Name        string `json:"name"`
	Concurrency string `json:"concurrency"`
	Policy      bool   `json:"has_policy"`
}

// List returns every registered method sorted by name, for list_methods.
func (r *Registry) List() []MethodInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]MethodInfo, 0, len(r.methods))
	for _, d := range r.methods {
		out = append(out, MethodInfo{
			Name:        d.Name,
			Concurrency: d.Concurrency.String(),
			Policy:      d.Policy != "",
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
