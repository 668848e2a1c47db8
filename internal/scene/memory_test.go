package scene

import (
	"errors"
	"testing"
)

func TestMemoryEngine_RequiresOpenProject(t *testing.T) {
	t.Parallel()

	e := &MemoryEngine{layers: make(map[string]*layer)}
	err := e.AddVoxel(Position{}, Color{})
	var sceneErr *Error
	if !errors.As(err, &sceneErr) || sceneErr.Code != CodeNoActiveProject {
		t.Fatalf("expected CodeNoActiveProject, got %v", err)
	}
}

func TestMemoryEngine_AddAndGetVoxel(t *testing.T) {
	t.Parallel()

	e := NewMemoryEngine()
	if err := e.CreateProject("test"); err != nil {
		t.Fatalf("CreateProject() error: %v", err)
	}

	pos := Position{X: 1, Y: 2, Z: 3}
	color := Color{R: 10, G: 20, B: 30, A: 255}
	if err := e.AddVoxel(pos, color); err != nil {
		t.Fatalf("AddVoxel() error: %v", err)
	}

	got, ok, err := e.GetVoxel(pos)
	if err != nil {
		t.Fatalf("GetVoxel() error: %v", err)
	}
	if !ok {
		t.Fatal("expected voxel to exist")
	}
	if got != color {
		t.Errorf("GetVoxel() = %+v, want %+v", got, color)
	}
}

func TestMemoryEngine_RemoveVoxel(t *testing.T) {
	t.Parallel()

	e := NewMemoryEngine()
	_ = e.CreateProject("test")
	pos := Position{X: 1, Y: 1, Z: 1}
	_ = e.AddVoxel(pos, Color{A: 255})
	if err := e.RemoveVoxel(pos); err != nil {
		t.Fatalf("RemoveVoxel() error: %v", err)
	}
	_, ok, err := e.GetVoxel(pos)
	if err != nil {
		t.Fatalf("GetVoxel() error: %v", err)
	}
	if ok {
		t.Error("expected voxel to be removed")
	}
}

func TestMemoryEngine_PaintVoxel_MissingFails(t *testing.T) {
	t.Parallel()

	e := NewMemoryEngine()
	_ = e.CreateProject("test")
	err := e.PaintVoxel(Position{X: 5}, Color{A: 255})
	var sceneErr *Error
	if !errors.As(err, &sceneErr) || sceneErr.Code != CodeInvalidCoordinates {
		t.Fatalf("expected CodeInvalidCoordinates, got %v", err)
	}
}

func TestMemoryEngine_AddVoxelsBatch_LengthMismatch(t *testing.T) {
	t.Parallel()

	e := NewMemoryEngine()
	_ = e.CreateProject("test")
	err := e.AddVoxelsBatch([]Position{{X: 1}}, nil)
	var sceneErr *Error
	if !errors.As(err, &sceneErr) || sceneErr.Code != CodeInvalidCoordinates {
		t.Fatalf("expected CodeInvalidCoordinates, got %v", err)
	}
}

func TestMemoryEngine_Fill(t *testing.T) {
	t.Parallel()

	e := NewMemoryEngine()
	_ = e.CreateProject("test")
	region := Region{Min: Position{0, 0, 0}, Max: Position{1, 1, 1}}
	color := Color{R: 5, A: 255}
	if err := e.Fill(region, color); err != nil {
		t.Fatalf("Fill() error: %v", err)
	}

	info, err := e.GetInfo()
	if err != nil {
		t.Fatalf("GetInfo() error: %v", err)
	}
	if info.VoxelCount != 8 {
		t.Errorf("VoxelCount = %d, want 8", info.VoxelCount)
	}
}

func TestMemoryEngine_Fill_InvertedRegionFails(t *testing.T) {
	t.Parallel()

	e := NewMemoryEngine()
	_ = e.CreateProject("test")
	region := Region{Min: Position{5, 0, 0}, Max: Position{0, 0, 0}}
	err := e.Fill(region, Color{})
	var sceneErr *Error
	if !errors.As(err, &sceneErr) || sceneErr.Code != CodeInvalidCoordinates {
		t.Fatalf("expected CodeInvalidCoordinates, got %v", err)
	}
}

func TestMemoryEngine_LayerLifecycle(t *testing.T) {
	t.Parallel()

	e := NewMemoryEngine()
	_ = e.CreateProject("test")

	id, err := e.CreateLayer("roof")
	if err != nil {
		t.Fatalf("CreateLayer() error: %v", err)
	}

	if _, err := e.CreateLayer("roof"); err == nil {
		t.Fatal("expected LayerNameConflict on duplicate name")
	} else {
		var sceneErr *Error
		if !errors.As(err, &sceneErr) || sceneErr.Code != CodeLayerNameConflict {
			t.Fatalf("expected CodeLayerNameConflict, got %v", err)
		}
	}

	if err := e.RenameLayer(id, "attic"); err != nil {
		t.Fatalf("RenameLayer() error: %v", err)
	}
	if err := e.SetLayerVisibility(id, false); err != nil {
		t.Fatalf("SetLayerVisibility() error: %v", err)
	}
	if err := e.SetActiveLayer(id); err != nil {
		t.Fatalf("SetActiveLayer() error: %v", err)
	}

	layers, err := e.ListLayers()
	if err != nil {
		t.Fatalf("ListLayers() error: %v", err)
	}
	if len(layers) != 2 {
		t.Fatalf("len(layers) = %d, want 2", len(layers))
	}

	if err := e.DeleteLayer(id); err != nil {
		t.Fatalf("DeleteLayer() error: %v", err)
	}
	if err := e.DeleteLayer(id); err == nil {
		t.Fatal("expected error deleting already-deleted layer")
	}
}

func TestMemoryEngine_DeleteLayer_LastOneFails(t *testing.T) {
	t.Parallel()

	e := NewMemoryEngine()
	_ = e.CreateProject("test")
	layers, _ := e.ListLayers()
	if err := e.DeleteLayer(layers[0].ID); err == nil {
		t.Fatal("expected error deleting the only remaining layer")
	}
}

func TestMemoryEngine_MergeLayers(t *testing.T) {
	t.Parallel()

	e := NewMemoryEngine()
	_ = e.CreateProject("test")
	layers, _ := e.ListLayers()
	base := layers[0].ID
	_ = e.AddVoxel(Position{X: 1}, Color{A: 255})

	other, err := e.CreateLayer("roof")
	if err != nil {
		t.Fatalf("CreateLayer() error: %v", err)
	}
	_ = e.SetActiveLayer(other)
	_ = e.AddVoxel(Position{X: 2}, Color{A: 255})

	if err := e.MergeLayers(other, base); err != nil {
		t.Fatalf("MergeLayers() error: %v", err)
	}

	remaining, err := e.ListLayers()
	if err != nil {
		t.Fatalf("ListLayers() error: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("len(remaining) = %d, want 1", len(remaining))
	}
}

func TestMemoryEngine_Clear(t *testing.T) {
	t.Parallel()

	e := NewMemoryEngine()
	_ = e.CreateProject("test")
	_ = e.AddVoxel(Position{X: 1}, Color{A: 255})
	if err := e.Clear(); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	info, err := e.GetInfo()
	if err != nil {
		t.Fatalf("GetInfo() error: %v", err)
	}
	if info.VoxelCount != 0 {
		t.Errorf("VoxelCount = %d, want 0", info.VoxelCount)
	}
}

func TestMemoryEngine_Render_RequiresPositiveDimensions(t *testing.T) {
	t.Parallel()

	e := NewMemoryEngine()
	_ = e.CreateProject("test")
	_, err := e.Render(Camera{}, Lighting{}, RenderOptions{Width: 0, Height: 10})
	var sceneErr *Error
	if !errors.As(err, &sceneErr) || sceneErr.Code != CodeInvalidCoordinates {
		t.Fatalf("expected CodeInvalidCoordinates, got %v", err)
	}
}

func TestMemoryEngine_Render_ReturnsSizedBuffer(t *testing.T) {
	t.Parallel()

	e := NewMemoryEngine()
	_ = e.CreateProject("test")
	result, err := e.Render(Camera{}, Lighting{}, RenderOptions{Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if len(result.Data) != 4*4*4 {
		t.Errorf("len(result.Data) = %d, want %d", len(result.Data), 4*4*4)
	}
	if result.MimeType != "image/png" {
		t.Errorf("MimeType = %q, want image/png", result.MimeType)
	}
}

func TestMemoryEngine_Export_RequiresFormatAndPath(t *testing.T) {
	t.Parallel()

	e := NewMemoryEngine()
	_ = e.CreateProject("test")
	err := e.Export("", "", nil)
	var sceneErr *Error
	if !errors.As(err, &sceneErr) || sceneErr.Code != CodeExportFailed {
		t.Fatalf("expected CodeExportFailed, got %v", err)
	}
}

func TestMemoryEngine_Import_RequiresPath(t *testing.T) {
	t.Parallel()

	e := NewMemoryEngine()
	err := e.Import("", nil)
	var sceneErr *Error
	if !errors.As(err, &sceneErr) || sceneErr.Code != CodeImportFailed {
		t.Fatalf("expected CodeImportFailed, got %v", err)
	}
}

func TestGuard_SharedSeesExclusiveWrite(t *testing.T) {
	t.Parallel()

	g := NewGuard(NewMemoryEngine())
	if err := g.Exclusive(func(e Engine) error { return e.CreateProject("test") }); err != nil {
		t.Fatalf("Exclusive() error: %v", err)
	}

	done := make(chan struct{})
	if err := g.Shared(func(e Engine) error {
		info, err := e.GetInfo()
		if err != nil {
			return err
		}
		if info.LayerCount != 1 {
			t.Errorf("LayerCount = %d, want 1", info.LayerCount)
		}
		close(done)
		return nil
	}); err != nil {
		t.Fatalf("Shared() error: %v", err)
	}
	<-done
}

func TestError_ToRPC(t *testing.T) {
	t.Parallel()

	err := ErrUnknownLayer("no such layer")
	rpcErr := err.ToRPC()
	if rpcErr.Code != CodeUnknownLayer {
		t.Errorf("Code = %d, want %d", rpcErr.Code, CodeUnknownLayer)
	}
	if rpcErr.Message != "no such layer" {
		t.Errorf("Message = %q, want %q", rpcErr.Message, "no such layer")
	}
}
