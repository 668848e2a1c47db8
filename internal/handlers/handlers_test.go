package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/goxel/goxeld/internal/registry"
	"github.com/goxel/goxeld/internal/render"
	"github.com/goxel/goxeld/internal/scene"
)

func testDeps(t *testing.T) (*registry.Registry, Deps) {
	t.Helper()
	store, err := render.Open(t.TempDir(), 1<<20, time.Minute, nil)
	if err != nil {
		t.Fatalf("render.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	deps := Deps{
		Guard:               scene.NewGuard(scene.NewMemoryEngine()),
		Render:              store,
		InstanceID:          "test-instance",
		StartTime:           func() time.Time { return time.Now().Add(-time.Minute) },
		ActiveSessions:      func() int { return 1 },
		QueueDepth:          func() int { return 0 },
		AllowRemoteShutdown: false,
		RequestShutdown:     func() {},
		Version:             "test",
	}
	reg := registry.New()
	Register(reg, deps)
	return reg, deps
}

func call(t *testing.T, reg *registry.Registry, method string, params any) (any, error) {
	t.Helper()
	d, ok := reg.Lookup(method)
	if !ok {
		t.Fatalf("method %q not registered", method)
	}
	var raw []byte
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		raw = b
	}
	return d.Handler(context.Background(), raw)
}

func TestPingReturnsTimestamp(t *testing.T) {
	reg, _ := testDeps(t)
	result, err := call(t, reg, "ping", nil)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("ping result type = %T", result)
	}
	if _, ok := m["timestamp"]; !ok {
		t.Fatalf("ping result missing timestamp: %v", m)
	}
}

func TestEchoReturnsParamsVerbatim(t *testing.T) {
	reg, _ := testDeps(t)
	result, err := call(t, reg, "echo", map[string]any{"x": 42})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	raw, ok := result.(json.RawMessage)
	if !ok {
		t.Fatalf("echo result type = %T", result)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal echo result: %v", err)
	}
	if got["x"].(float64) != 42 {
		t.Fatalf("echo result = %v", got)
	}
}

func TestShutdownDeniedWhenNotAllowed(t *testing.T) {
	reg, _ := testDeps(t)
	_, err := call(t, reg, "shutdown", nil)
	if err == nil {
		t.Fatal("expected shutdown to be denied")
	}
}

func TestAddAndGetVoxel(t *testing.T) {
	reg, _ := testDeps(t)

	if _, err := call(t, reg, "goxel.create_project", map[string]any{"name": "scratch"}); err != nil {
		t.Fatalf("create_project: %v", err)
	}

	_, err := call(t, reg, "goxel.add_voxel", map[string]any{
		"position": map[string]any{"x": 1, "y": 2, "z": 3},
		"color":    map[string]any{"r": 255, "g": 0, "b": 0, "a": 255},
	})
	if err != nil {
		t.Fatalf("add_voxel: %v", err)
	}

	result, err := call(t, reg, "goxel.get_voxel", map[string]any{
		"position": map[string]any{"x": 1, "y": 2, "z": 3},
	})
	if err != nil {
		t.Fatalf("get_voxel: %v", err)
	}
	m := result.(map[string]any)
	if m["present"] != true {
		t.Fatalf("expected voxel to be present: %v", m)
	}
}

func TestRenderSceneFilePathRegistersArtifact(t *testing.T) {
	reg, _ := testDeps(t)

	if _, err := call(t, reg, "goxel.create_project", map[string]any{"name": "scratch"}); err != nil {
		t.Fatalf("create_project: %v", err)
	}

	result, err := call(t, reg, "goxel.render_scene", map[string]any{
		"width":  64,
		"height": 64,
		"options": map[string]any{
			"return_mode": "file_path",
		},
	})
	if err != nil {
		t.Fatalf("render_scene: %v", err)
	}
	m := result.(map[string]any)
	file, ok := m["file"].(map[string]any)
	if !ok {
		t.Fatalf("render_scene result missing file: %v", m)
	}
	if file["token"] == "" {
		t.Fatalf("render_scene result missing token: %v", file)
	}
}

func TestListMethodsIncludesCoreAndScene(t *testing.T) {
	reg, _ := testDeps(t)
	result, err := call(t, reg, "list_methods", nil)
	if err != nil {
		t.Fatalf("list_methods: %v", err)
	}
	infos := result.([]registry.MethodInfo)
	seen := map[string]bool{}
	for _, info := range infos {
		seen[info.Name] = true
	}
	for _, want := range []string{"ping", "goxel.add_voxel", "goxel.render_scene", "get_render_stats"} {
		if !seen[want] {
			t.Errorf("list_methods missing %q", want)
		}
	}
}
