package handlers

import (
	"context"

	"github.com/goxel/goxeld/internal/registry"
	"github.com/goxel/goxeld/internal/scene"
)

// positionJSON/colorJSON/regionJSON are the wire shapes for scene.Position,
// scene.Color and scene.Region: the domain types carry no JSON tags of
// their own since scene is meant to stay transport-agnostic.
type positionJSON struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

func (p positionJSON) toScene() scene.Position {
	return scene.Position{X: p.X, Y: p.Y, Z: p.Z}
}

func fromScenePosition(p scene.Position) positionJSON {
	return positionJSON{X: p.X, Y: p.Y, Z: p.Z}
}

type colorJSON struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

func (c colorJSON) toScene() scene.Color {
	return scene.Color{R: c.R, G: c.G, B: c.B, A: c.A}
}

func fromSceneColor(c scene.Color) colorJSON {
	return colorJSON{R: c.R, G: c.G, B: c.B, A: c.A}
}

type regionJSON struct {
	Min positionJSON `json:"min"`
	Max positionJSON `json:"max"`
}

func (r regionJSON) toScene() scene.Region {
	return scene.Region{Min: r.Min.toScene(), Max: r.Max.toScene()}
}

func registerScene(reg *registry.Registry, deps Deps) {
	guard := deps.Guard

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.create_project",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Name string `json:"name"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.CreateProject(p.Name); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.open",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Path string `json:"path"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.Open(p.Path); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.save",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Path string `json:"path"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.Save(p.Path); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.close",
		Concurrency: registry.Exclusive,
		Handler: func(context.Context, []byte) (any, error) {
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.Close(); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.add_voxel",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Position positionJSON `json:"position"`
				Color    colorJSON    `json:"color"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.AddVoxel(p.Position.toScene(), p.Color.toScene()); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.remove_voxel",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Position positionJSON `json:"position"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.RemoveVoxel(p.Position.toScene()); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.paint_voxel",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Position positionJSON `json:"position"`
				Color    colorJSON    `json:"color"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.PaintVoxel(p.Position.toScene(), p.Color.toScene()); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.get_voxel",
		Concurrency: registry.Shared,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Position positionJSON `json:"position"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withShared(guard, func(e scene.Engine) (any, error) {
				color, present, err := e.GetVoxel(p.Position.toScene())
				if err != nil {
					return nil, err
				}
				if !present {
					return map[string]any{"present": false}, nil
				}
				return map[string]any{"present": true, "color": fromSceneColor(color)}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.add_voxels_batch",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Positions []positionJSON `json:"positions"`
				Colors    []colorJSON    `json:"colors"`
			}](raw)
			if err != nil {
				return nil, err
			}
			positions := make([]scene.Position, len(p.Positions))
			for i, pos := range p.Positions {
				positions[i] = pos.toScene()
			}
			colors := make([]scene.Color, len(p.Colors))
			for i, c := range p.Colors {
				colors[i] = c.toScene()
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.AddVoxelsBatch(positions, colors); err != nil {
					return nil, err
				}
				return map[string]any{"success": true, "count": len(positions)}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.clear",
		Concurrency: registry.Exclusive,
		Handler: func(context.Context, []byte) (any, error) {
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.Clear(); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.fill",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Region regionJSON `json:"region"`
				Color  colorJSON  `json:"color"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.Fill(p.Region.toScene(), p.Color.toScene()); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.create_layer",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Name string `json:"name"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				id, err := e.CreateLayer(p.Name)
				if err != nil {
					return nil, err
				}
				return map[string]any{"id": id}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.delete_layer",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				ID string `json:"id"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.DeleteLayer(p.ID); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.rename_layer",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.RenameLayer(p.ID, p.Name); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.set_layer_visibility",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				ID      string `json:"id"`
				Visible bool   `json:"visible"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.SetLayerVisibility(p.ID, p.Visible); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.merge_layers",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				SrcID string `json:"src_id"`
				DstID string `json:"dst_id"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.MergeLayers(p.SrcID, p.DstID); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.list_layers",
		Concurrency: registry.Shared,
		Handler: func(context.Context, []byte) (any, error) {
			return withShared(guard, func(e scene.Engine) (any, error) {
				layers, err := e.ListLayers()
				if err != nil {
					return nil, err
				}
				return map[string]any{"layers": layers}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.set_active_layer",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				ID string `json:"id"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.SetActiveLayer(p.ID); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.export",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Format  string                     `json:"format"`
				Path    string                     `json:"path"`
				Options scene.ImportExportOptions `json:"options"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.Export(p.Format, p.Path, p.Options); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.import",
		Concurrency: registry.Exclusive,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Path    string                     `json:"path"`
				Options scene.ImportExportOptions `json:"options"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return withExclusive(guard, func(e scene.Engine) (any, error) {
				if err := e.Import(p.Path, p.Options); err != nil {
					return nil, err
				}
				return map[string]any{"success": true}, nil
			})
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.get_info",
		Concurrency: registry.Shared,
		Handler: func(context.Context, []byte) (any, error) {
			return withShared(guard, func(e scene.Engine) (any, error) {
				info, err := e.GetInfo()
				if err != nil {
					return nil, err
				}
				return info, nil
			})
		},
	})
}
