package handlers

import (
	"context"
	"encoding/base64"
	"os"
	"strings"

	"github.com/goxel/goxeld/internal/registry"
	"github.com/goxel/goxeld/internal/render"
	"github.com/goxel/goxeld/internal/rpc"
	"github.com/goxel/goxeld/internal/scene"
)

type renderSceneParams struct {
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Camera   *cameraJSON   `json:"camera"`
	Lighting *lightingJSON `json:"lighting"`
	Options  struct {
		ReturnMode string `json:"return_mode"`
	} `json:"options"`
}

type cameraJSON struct {
	Position positionJSON `json:"position"`
	Target   positionJSON `json:"target"`
	FovDeg   float64      `json:"fov_deg"`
}

func (c cameraJSON) toScene() scene.Camera {
	return scene.Camera{Position: c.Position.toScene(), Target: c.Target.toScene(), FovDeg: c.FovDeg}
}

type lightingJSON struct {
	Ambient   float64 `json:"ambient"`
	Intensity float64 `json:"intensity"`
}

func (l lightingJSON) toScene() scene.Lighting {
	return scene.Lighting{Ambient: l.Ambient, Intensity: l.Intensity}
}

// extForMimeType picks a filesystem extension for an artifact file from its
// render MIME type, defaulting to "bin" for anything unrecognized.
func extForMimeType(mime string) string {
	switch {
	case strings.Contains(mime, "png"):
		return "png"
	case strings.Contains(mime, "jpeg"), strings.Contains(mime, "jpg"):
		return "jpg"
	default:
		return "bin"
	}
}

func artifactJSON(a render.Artifact) map[string]any {
	return map[string]any{
		"token":      a.Token,
		"path":       a.Path,
		"mime_type":  a.MimeType,
		"size":       a.SizeBytes,
		"created_at": a.CreatedAt.Unix(),
		"expires_at": a.ExpiresAt.Unix(),
	}
}

func registerRender(reg *registry.Registry, deps Deps) {
	guard := deps.Guard
	store := deps.Render

	reg.Register(registry.MethodDescriptor{
		Name:        "goxel.render_scene",
		Concurrency: registry.Shared,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[renderSceneParams](raw)
			if err != nil {
				return nil, err
			}
			camera := scene.Camera{}
			if p.Camera != nil {
				camera = p.Camera.toScene()
			}
			lighting := scene.Lighting{}
			if p.Lighting != nil {
				lighting = p.Lighting.toScene()
			}
			options := scene.RenderOptions{Width: p.Width, Height: p.Height}

			result, err := withShared(guard, func(e scene.Engine) (any, error) {
				return e.Render(camera, lighting, options)
			})
			if err != nil {
				return nil, err
			}
			rr := result.(scene.RenderResult)

			artifact, err := store.Register(rr.Data, extForMimeType(rr.MimeType), rr.MimeType)
			if err != nil {
				return nil, err
			}

			if p.Options.ReturnMode != "inline" {
				return map[string]any{"file": artifactJSON(artifact)}, nil
			}

			_, release, err := store.Acquire(artifact.Token)
			if err != nil {
				return nil, err
			}
			defer release()

			data, readErr := os.ReadFile(artifact.Path)
			if readErr != nil {
				return nil, rpc.InternalError(readErr.Error())
			}
			inline := artifactJSON(artifact)
			inline["data"] = base64.StdEncoding.EncodeToString(data)
			return map[string]any{"inline": inline}, nil
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "get_render_info",
		Concurrency: registry.Free,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Token string `json:"token"`
			}](raw)
			if err != nil {
				return nil, err
			}
			artifact, err := store.Get(p.Token)
			if err != nil {
				return nil, err
			}
			return artifactJSON(artifact), nil
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "list_renders",
		Concurrency: registry.Free,
		Handler: func(context.Context, []byte) (any, error) {
			artifacts := store.List()
			out := make([]map[string]any, len(artifacts))
			for i, a := range artifacts {
				out[i] = artifactJSON(a)
			}
			return map[string]any{"renders": out}, nil
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "cleanup_render",
		Concurrency: registry.Free,
		Handler: func(_ context.Context, raw []byte) (any, error) {
			p, err := decodeParams[struct {
				Token string `json:"token"`
			}](raw)
			if err != nil {
				return nil, err
			}
			if err := store.Delete(p.Token); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true}, nil
		},
	})

	reg.Register(registry.MethodDescriptor{
		Name:        "get_render_stats",
		Concurrency: registry.Free,
		Handler: func(context.Context, []byte) (any, error) {
			stats := store.Stats()
			return map[string]any{
				"artifact_count":  stats.ArtifactCount,
				"total_bytes":     stats.TotalBytes,
				"max_total_bytes": stats.MaxTotalBytes,
			}, nil
		},
	})
}
