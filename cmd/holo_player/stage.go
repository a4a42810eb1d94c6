package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Carmen-Shannon/oxy-holo/common"
	"github.com/Carmen-Shannon/oxy-holo/engine/decoder"
	"github.com/Carmen-Shannon/oxy-holo/engine/game_object"
	"github.com/Carmen-Shannon/oxy-holo/engine/holo_manager"
	"github.com/Carmen-Shannon/oxy-holo/engine/holo_player"
	"github.com/Carmen-Shannon/oxy-holo/engine/renderer/upload"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ActorEntry describes one streamed actor on the stage.
type ActorEntry struct {
	Name        string     `yaml:"name"`
	Position    [3]float32 `yaml:"position"`
	Source      string     `yaml:"source"` // directory of per-frame .gltf/.glb files; empty for a procedural grid
	Sequence    int        `yaml:"sequence"`
	Sequences   int        `yaml:"sequences"`
	GridSize    int        `yaml:"grid_size"` // quads per side of sequence 0
	GridStep    int        `yaml:"grid_step"` // extra quads per side for each later sequence
	Frames      int        `yaml:"frames"`
	FrameRate   float64    `yaml:"frame_rate"`
	TextureSize int        `yaml:"texture_size"`
	Looping     *bool      `yaml:"looping"` // default true
	Hidden      bool       `yaml:"hidden"`
	Editor      bool       `yaml:"editor"`
	LOD         *LODEntry  `yaml:"lod"`
}

// LODEntry overrides an actor's LOD selection.
type LODEntry struct {
	ScreenSizes []float32 `yaml:"screen_sizes"`
	MinimumLOD  int       `yaml:"minimum_lod"`
	ForceLOD    *int      `yaml:"force_lod"`
}

type manifestFile struct {
	Actors []ActorEntry `yaml:"actors"`
}

// LoadManifest reads a YAML stage manifest.
func LoadManifest(path string) ([]ActorEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage manifest: %w", err)
	}
	var f manifestFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse stage manifest: %w", err)
	}
	if len(f.Actors) == 0 {
		return nil, fmt.Errorf("stage manifest %s: no actors", path)
	}
	var errs []error
	for i, a := range f.Actors {
		if a.Sequences > 0 && a.Sequence >= a.Sequences {
			errs = append(errs, fmt.Errorf("actor %d: sequence %d out of %d", i, a.Sequence, a.Sequences))
		}
		if a.Source != "" && !filepath.IsAbs(a.Source) {
			f.Actors[i].Source = filepath.Join(filepath.Dir(path), a.Source)
		}
		if a.GridSize < 0 || a.GridStep < 0 || a.Frames < 0 || a.TextureSize < 0 || a.FrameRate < 0 {
			errs = append(errs, fmt.Errorf("actor %d: negative size or rate", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("stage manifest %s: %w", path, err)
	}
	return f.Actors, nil
}

// DefaultStage lays out a side by side grid of actors whose mesh density grows along X.
func DefaultStage(side int) []ActorEntry {
	actors := make([]ActorEntry, 0, side*side)
	for z := range side {
		for x := range side {
			actors = append(actors, ActorEntry{
				Name:        fmt.Sprintf("actor-%d-%d", x, z),
				Position:    [3]float32{float32(x-side/2) * 3, 0, float32(z-side/2) * 3},
				Sequences:   2,
				GridSize:    8 << x,
				Frames:      90,
				TextureSize: 32,
			})
		}
	}
	return actors
}

// Spawn creates a player and an owning game object for every entry and attaches them to the
// manager. Already spawned actors are destroyed when a later one fails.
func Spawn(entries []ActorEntry, manager holo_manager.Manager, uploader upload.Uploader, log *zap.Logger) ([]game_object.GameObject, error) {
	actors := make([]game_object.GameObject, 0, len(entries))
	for i, a := range entries {
		name := common.Coalesce(a.Name, fmt.Sprintf("actor-%d", i))

		dec, err := a.decoder(log.Named("decoder").With(zap.String("actor", name)))
		if err != nil {
			for _, spawned := range actors {
				spawned.Destroy()
			}
			return nil, fmt.Errorf("open %s: %w", name, err)
		}

		looping := a.Looping == nil || *a.Looping
		p := holo_player.NewPlayer(manager, dec, uploader,
			holo_player.WithName(name),
			holo_player.WithLogger(log.Named("player").With(zap.String("actor", name))),
			holo_player.WithLooping(looping),
			holo_player.WithAutoPlay(true),
			holo_player.WithSequence(a.Sequence),
			holo_player.WithLODOptions(a.lodOptions()),
		)

		obj := game_object.NewGameObject(
			game_object.WithID(uint64(i+1)),
			game_object.WithName(name),
			game_object.WithPosition(a.Position[0], a.Position[1], a.Position[2]),
			game_object.WithHidden(a.Hidden),
			game_object.WithEditor(a.Editor),
		)
		if err := obj.AttachPlayer(p); err != nil {
			for _, spawned := range actors {
				spawned.Destroy()
			}
			return nil, fmt.Errorf("attach %s: %w", name, err)
		}
		actors = append(actors, obj)
	}
	log.Info("stage spawned", zap.Int("actors", len(actors)))
	return actors, nil
}

func (a ActorEntry) decoder(log *zap.Logger) (decoder.Decoder, error) {
	if a.Source != "" {
		return decoder.NewGLTFSequenceDecoder(a.Source,
			decoder.WithGLTFFrameRate(a.FrameRate),
			decoder.WithGLTFTextureSize(a.TextureSize),
			decoder.WithGLTFLogger(log),
		)
	}
	return decoder.NewProceduralDecoder(
		decoder.WithGridSize(common.Coalesce(a.GridSize, 16)),
		decoder.WithGridStep(common.Coalesce(a.GridStep, 8)),
		decoder.WithSequences(common.Coalesce(a.Sequences, 1)),
		decoder.WithFrameCount(common.Coalesce(a.Frames, 60)),
		decoder.WithFrameRate(common.Coalesce(a.FrameRate, 30)),
		decoder.WithTextureSize(a.TextureSize),
		decoder.WithLogger(log),
	), nil
}

func (a ActorEntry) lodOptions() holo_player.LODOptions {
	opts := holo_player.DefaultLODOptions()
	if a.LOD == nil {
		return opts
	}
	if len(a.LOD.ScreenSizes) > 0 {
		opts.ScreenSizes = a.LOD.ScreenSizes
	}
	opts.MinimumLOD = a.LOD.MinimumLOD
	if a.LOD.ForceLOD != nil {
		opts.ForceLOD = *a.LOD.ForceLOD
	}
	return opts
}
