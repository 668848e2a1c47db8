// Package scene defines the narrow capability set the daemon core requires
// from the voxel data engine, plus the readers-writer guard serializing
// access to it, and an in-memory reference implementation exercised by the
// rest of the daemon's tests. The real voxel engine (volumes, brushes,
// file formats) is an external collaborator; this package only fixes the
// contract the core dispatches through.
package scene

// Position is an integer voxel coordinate.
type Position struct {
	X, Y, Z int32
}

// Color is an RGBA voxel color.
type Color struct {
	R, G, B, A uint8
}

// Region is an axis-aligned inclusive voxel range used by Fill.
type Region struct {
	Min, Max Position
}

// LayerInfo describes one layer.
type LayerInfo struct {
	ID      string
	Name    string
	Visible bool
}

// SceneInfo summarizes scene state for get_info.
type SceneInfo struct {
	Dimensions Region
	VoxelCount int64
	LayerCount int
	Modified   bool
}

// Camera and Lighting parameterize a render call; fields are intentionally
// minimal, the real engine's options are opaque beyond what the core needs
// to pass through.
type Camera struct {
	Position Position
	Target   Position
	FovDeg   float64
}

type Lighting struct {
	Ambient   float64
	Intensity float64
}

// RenderOptions controls render output shape.
type RenderOptions struct {
	Width, Height int
}

// RenderResult is the raw output of a render call, returned to the caller
// (a render-store method handler) for registration as an artifact.
type RenderResult struct {
	Data     []byte
	MimeType string
}

// ImportExportOptions carries format-specific knobs for import/export.
type ImportExportOptions map[string]any

// Engine is the capability set the core dispatches scene operations
// through. Every method is categorized Exclusive or Shared at the call
// site in the method registry (see internal/handlers), not on
// the interface itself, since the same engine value backs both.
type Engine interface {
	CreateProject(name string) error
	Open(path string) error
	Save(path string) error
	Close() error

	AddVoxel(pos Position, color Color) error
	RemoveVoxel(pos Position) error
	PaintVoxel(pos Position, color Color) error
	GetVoxel(pos Position) (Color, bool, error)

	AddVoxelsBatch(positions []Position, colors []Color) error
	Clear() error
	Fill(region Region, color Color) error

	CreateLayer(name string) (string, error)
	DeleteLayer(id string) error
	RenameLayer(id, name string) error
	SetLayerVisibility(id string, visible bool) error
	MergeLayers(srcID, dstID string) error
	ListLayers() ([]LayerInfo, error)
	SetActiveLayer(id string) error

	Export(format, path string, options ImportExportOptions) error
	Import(path string, options ImportExportOptions) error

	Render(camera Camera, lighting Lighting, options RenderOptions) (RenderResult, error)

	GetInfo() (SceneInfo, error)
}
