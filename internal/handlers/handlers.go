// Package handlers adapts the daemon's domain and ambient subsystems
// (scene.Guard, render.Store, audit.Store, the worker pool, the supervisor)
// into registry.HandlerFunc values and registers them under their wire
// method names. This is the only package that both knows the wire shape of
// every method's params/result and is allowed to reach into scene.Guard —
// the registry and worker pool stay ignorant of both.
package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/goxel/goxeld/internal/audit"
	"github.com/goxel/goxeld/internal/config"
	"github.com/goxel/goxeld/internal/registry"
	"github.com/goxel/goxeld/internal/render"
	"github.com/goxel/goxeld/internal/rpc"
	"github.com/goxel/goxeld/internal/scene"
)

// Deps are the daemon subsystems handlers close over. Every field the
// supervisor constructs is passed by pointer or read-only accessor func, so
// handlers never need the Supervisor itself.
type Deps struct {
	Guard  *scene.Guard
	Render *render.Store
	Audit  *audit.Store
	Config *config.DaemonConfig

	InstanceID          string
	StartTime           func() time.Time
	ActiveSessions      func() int
	QueueDepth          func() int
	AllowRemoteShutdown bool
	RequestShutdown     func()
	Version             string
}

// Register builds every method's HandlerFunc and adds it to reg. Called
// once at startup from a fixed set of methods; panics (via Registry.Register)
// on a duplicate name, which would be a programming error here.
func Register(reg *registry.Registry, deps Deps) {
	registerCore(reg, deps)
	registerScene(reg, deps)
	registerRender(reg, deps)
}

// decodeParams unmarshals raw into T, treating an empty params field as the
// zero value rather than an error: several methods (close, clear, get_info)
// take no parameters at all.
func decodeParams[T any](raw []byte) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, rpc.InvalidParams(err.Error())
	}
	return v, nil
}

// withExclusive adapts a (scene.Engine) (any, error) closure to
// scene.Guard.Exclusive's func(Engine) error shape, since HandlerFunc needs
// to return a result value the guard methods have no room for.
func withExclusive(guard *scene.Guard, fn func(scene.Engine) (any, error)) (any, error) {
	var result any
	err := guard.Exclusive(func(e scene.Engine) error {
		r, ferr := fn(e)
		result = r
		return ferr
	})
	return result, err
}

// withShared is withExclusive's read-lock counterpart.
func withShared(guard *scene.Guard, fn func(scene.Engine) (any, error)) (any, error) {
	var result any
	err := guard.Shared(func(e scene.Engine) error {
		r, ferr := fn(e)
		result = r
		return ferr
	})
	return result, err
}

func registerCore(reg *registry.Registry, deps Deps) {
	reg.Register(registry.MethodDescriptor{
		Name:        "ping",
		Concurrency: registry.Free,
		Handler: func(context.Context, []byte) (any, error) {
			return map[string]any{"timestamp": time.Now().UnixMilli()}, nil
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "version",
		Concurrency: registry.Free,
		Handler: func(context.Context, []byte) (any, error) {
			return map[string]any{
				"version":          deps.Version,
				"protocol_version": "2.0",
				"instance_id":      deps.InstanceID,
			}, nil
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "echo",
		Concurrency: registry.Free,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			if len(raw) == 0 {
				return nil, nil
			}
			return json.RawMessage(raw), nil
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "list_methods",
		Concurrency: registry.Free,
		Handler: func(context.Context, []byte) (any, error) {
			return reg.List(), nil
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "status",
		Concurrency: registry.Free,
		Handler: func(context.Context, []byte) (any, error) {
			status := map[string]any{
				"instance_id":     deps.InstanceID,
				"version":         deps.Version,
				"active_sessions": deps.ActiveSessions(),
				"queue_depth":     deps.QueueDepth(),
			}
			if deps.Config != nil {
				status["worker_count"] = deps.Config.WorkerCount
			}
			if st := deps.StartTime(); !st.IsZero() {
				status["uptime_seconds"] = time.Since(st).Seconds()
			}
			if deps.Render != nil {
				stats := deps.Render.Stats()
				status["render_stats"] = map[string]any{
					"artifact_count":  stats.ArtifactCount,
					"total_bytes":     stats.TotalBytes,
					"max_total_bytes": stats.MaxTotalBytes,
				}
			}
			return status, nil
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "shutdown",
		Concurrency: registry.Free,
		Handler: func(context.Context, []byte) (any, error) {
			if !deps.AllowRemoteShutdown {
				return nil, rpc.PolicyDenied()
			}
			go deps.RequestShutdown()
			return map[string]any{"shutting_down": true}, nil
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "get_audit_log",
		Concurrency: registry.Free,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Limit int `json:"limit"`
			}](raw)
			if err != nil {
				return nil, err
			}
			limit := p.Limit
			if limit <= 0 {
				limit = 100
			}
			if limit > 1000 {
				limit = 1000
			}
			if deps.Audit == nil {
				return []audit.Record{}, nil
			}
			return deps.Audit.Recent(limit), nil
		},
	})
}
