package scene

import (
	"fmt"
	"sync/atomic"
)

type layer struct {
	id      string
	name    string
	visible bool
	voxels  map[Position]Color
}

// MemoryEngine is an in-process reference Engine: everything lives in Go
// maps and nothing touches disk; Export and Import only validate their
// arguments (Import also resets the scene to one empty layer). It exists so the worker pool, session, and registry
// layers have a real collaborator to run against in tests, standing in for
// the external voxel engine the specification treats as out of scope.
type MemoryEngine struct {
	projectName string
	opened      bool
	modified    bool

	layers      map[string]*layer
	layerOrder  []string
	activeLayer string
	nextLayerID int64
}

// NewMemoryEngine returns an Engine with a single default layer, matching
// how a freshly created project would look.
func NewMemoryEngine() *MemoryEngine {
	e := &MemoryEngine{layers: make(map[string]*layer)}
	e.resetToDefaultLayer()
	return e
}

func (e *MemoryEngine) resetToDefaultLayer() {
	e.layers = make(map[string]*layer)
	e.layerOrder = nil
	e.nextLayerID = 0
	id := e.newLayerID()
	e.layers[id] = &layer{id: id, name: "Layer 1", visible: true, voxels: make(map[Position]Color)}
	e.layerOrder = append(e.layerOrder, id)
	e.activeLayer = id
}

func (e *MemoryEngine) newLayerID() string {
	id := atomic.AddInt64(&e.nextLayerID, 1)
	return fmt.Sprintf("layer-%d", id)
}

func (e *MemoryEngine) CreateProject(name string) error {
	e.projectName = name
	e.opened = true
	e.modified = false
	e.resetToDefaultLayer()
	return nil
}

func (e *MemoryEngine) requireOpen() error {
	if !e.opened {
		return ErrNoActiveProject("no project is open")
	}
	return nil
}

func (e *MemoryEngine) activeLayerRef() *layer {
	return e.layers[e.activeLayer]
}

func (e *MemoryEngine) Open(path string) error {
	e.projectName = path
	e.opened = true
	e.modified = false
	e.resetToDefaultLayer()
	return nil
}

func (e *MemoryEngine) Save(path string) error {
	if err := e.requireOpen(); err != nil {
		return err
	}
	e.modified = false
	return nil
}

func (e *MemoryEngine) Close() error {
	e.opened = false
	return nil
}

func (e *MemoryEngine) AddVoxel(pos Position, color Color) error {
	if err := e.requireOpen(); err != nil {
		return err
	}
	e.activeLayerRef().voxels[pos] = color
	e.modified = true
	return nil
}

func (e *MemoryEngine) RemoveVoxel(pos Position) error {
	if err := e.requireOpen(); err != nil {
		return err
	}
	delete(e.activeLayerRef().voxels, pos)
	e.modified = true
	return nil
}

func (e *MemoryEngine) PaintVoxel(pos Position, color Color) error {
	if err := e.requireOpen(); err != nil {
		return err
	}
	l := e.activeLayerRef()
	if _, exists := l.voxels[pos]; !exists {
		return ErrInvalidCoordinates(fmt.Sprintf("no voxel at %+v to paint", pos))
	}
	l.voxels[pos] = color
	e.modified = true
	return nil
}

func (e *MemoryEngine) GetVoxel(pos Position) (Color, bool, error) {
	if err := e.requireOpen(); err != nil {
		return Color{}, false, err
	}
	for _, id := range e.layerOrder {
		l := e.layers[id]
		if !l.visible {
			continue
		}
		if c, ok := l.voxels[pos]; ok {
			return c, true, nil
		}
	}
	return Color{}, false, nil
}

func (e *MemoryEngine) AddVoxelsBatch(positions []Position, colors []Color) error {
	if err := e.requireOpen(); err != nil {
		return err
	}
	if len(positions) != len(colors) {
		return ErrInvalidCoordinates("positions and colors length mismatch")
	}
	l := e.activeLayerRef()
	for i, pos := range positions {
		l.voxels[pos] = colors[i]
	}
	e.modified = true
	return nil
}

func (e *MemoryEngine) Clear() error {
	if err := e.requireOpen(); err != nil {
		return err
	}
	e.activeLayerRef().voxels = make(map[Position]Color)
	e.modified = true
	return nil
}

func (e *MemoryEngine) Fill(region Region, color Color) error {
	if err := e.requireOpen(); err != nil {
		return err
	}
	if region.Min.X > region.Max.X || region.Min.Y > region.Max.Y || region.Min.Z > region.Max.Z {
		return ErrInvalidCoordinates("region min exceeds max")
	}
	l := e.activeLayerRef()
	for x := region.Min.X; x <= region.Max.X; x++ {
		for y := region.Min.Y; y <= region.Max.Y; y++ {
			for z := region.Min.Z; z <= region.Max.Z; z++ {
				l.voxels[Position{X: x, Y: y, Z: z}] = color
			}
		}
	}
	e.modified = true
	return nil
}

func (e *MemoryEngine) CreateLayer(name string) (string, error) {
	if err := e.requireOpen(); err != nil {
		return "", err
	}
	for _, id := range e.layerOrder {
		if e.layers[id].name == name {
			return "", ErrLayerNameConflict(fmt.Sprintf("layer %q already exists", name))
		}
	}
	id := e.newLayerID()
	e.layers[id] = &layer{id: id, name: name, visible: true, voxels: make(map[Position]Color)}
	e.layerOrder = append(e.layerOrder, id)
	e.modified = true
	return id, nil
}

func (e *MemoryEngine) DeleteLayer(id string) error {
	if err := e.requireOpen(); err != nil {
		return err
	}
	if _, ok := e.layers[id]; !ok {
		return ErrUnknownLayer(fmt.Sprintf("unknown layer %q", id))
	}
	if len(e.layerOrder) == 1 {
		return ErrUnknownLayer("cannot delete the only remaining layer")
	}
	delete(e.layers, id)
	for i, lid := range e.layerOrder {
		if lid == id {
			e.layerOrder = append(e.layerOrder[:i], e.layerOrder[i+1:]...)
			break
		}
	}
	if e.activeLayer == id {
		e.activeLayer = e.layerOrder[0]
	}
	e.modified = true
	return nil
}

func (e *MemoryEngine) RenameLayer(id, name string) error {
	if err := e.requireOpen(); err != nil {
		return err
	}
	l, ok := e.layers[id]
	if !ok {
		return ErrUnknownLayer(fmt.Sprintf("unknown layer %q", id))
	}
	l.name = name
	e.modified = true
	return nil
}

func (e *MemoryEngine) SetLayerVisibility(id string, visible bool) error {
	if err := e.requireOpen(); err != nil {
		return err
	}
	l, ok := e.layers[id]
	if !ok {
		return ErrUnknownLayer(fmt.Sprintf("unknown layer %q", id))
	}
	l.visible = visible
	e.modified = true
	return nil
}

func (e *MemoryEngine) MergeLayers(srcID, dstID string) error {
	if err := e.requireOpen(); err != nil {
		return err
	}
	src, ok := e.layers[srcID]
	if !ok {
		return ErrUnknownLayer(fmt.Sprintf("unknown layer %q", srcID))
	}
	dst, ok := e.layers[dstID]
	if !ok {
		return ErrUnknownLayer(fmt.Sprintf("unknown layer %q", dstID))
	}
	for pos, c := range src.voxels {
		dst.voxels[pos] = c
	}
	return e.DeleteLayer(srcID)
}

func (e *MemoryEngine) ListLayers() ([]LayerInfo, error) {
	if err := e.requireOpen(); err != nil {
		return nil, err
	}
	out := make([]LayerInfo, 0, len(e.layerOrder))
	for _, id := range e.layerOrder {
		l := e.layers[id]
		out = append(out, LayerInfo{ID: l.id, Name: l.name, Visible: l.visible})
	}
	return out, nil
}

func (e *MemoryEngine) SetActiveLayer(id string) error {
	if err := e.requireOpen(); err != nil {
		return err
	}
	if _, ok := e.layers[id]; !ok {
		return ErrUnknownLayer(fmt.Sprintf("unknown layer %q", id))
	}
	e.activeLayer = id
	return nil
}

func (e *MemoryEngine) Export(format, path string, options ImportExportOptions) error {
	if err := e.requireOpen(); err != nil {
		return err
	}
	if format == "" || path == "" {
		return ErrExportFailed("format and path are required")
	}
	return nil
}

func (e *MemoryEngine) Import(path string, options ImportExportOptions) error {
	if path == "" {
		return ErrImportFailed("path is required")
	}
	e.opened = true
	e.resetToDefaultLayer()
	return nil
}

func (e *MemoryEngine) Render(camera Camera, lighting Lighting, options RenderOptions) (RenderResult, error) {
	if err := e.requireOpen(); err != nil {
		return RenderResult{}, err
	}
	if options.Width <= 0 || options.Height <= 0 {
		return RenderResult{}, ErrInvalidCoordinates("width and height must be positive")
	}
	// A minimal deterministic placeholder image: the point of this
	// reference engine is exercising the Render Store's TTL/eviction
	// machinery, not producing real pixels.
	data := make([]byte, options.Width*options.Height*4)
	return RenderResult{Data: data, MimeType: "image/png"}, nil
}

func (e *MemoryEngine) GetInfo() (SceneInfo, error) {
	if err := e.requireOpen(); err != nil {
		return SceneInfo{}, err
	}
	count := int64(0)
	minPos := Position{}
	maxPos := Position{}
	first := true
	for _, id := range e.layerOrder {
		for pos := range e.layers[id].voxels {
			count++
			if first {
				minPos, maxPos = pos, pos
				first = false
				continue
			}
			minPos = minCoord(minPos, pos)
			maxPos = maxCoord(maxPos, pos)
		}
	}
	return SceneInfo{
		Dimensions: Region{Min: minPos, Max: maxPos},
		VoxelCount: count,
		LayerCount: len(e.layerOrder),
		Modified:   e.modified,
	}, nil
}

func minCoord(a, b Position) Position {
	return Position{X: minI(a.X, b.X), Y: minI(a.Y, b.Y), Z: minI(a.Z, b.Z)}
}

func maxCoord(a, b Position) Position {
	return Position{X: maxI(a.X, b.X), Y: maxI(a.Y, b.Y), Z: maxI(a.Z, b.Z)}
}

func minI(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func maxI(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
