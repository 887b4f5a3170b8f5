package engine

import (
	"github.com/spaghettifunk/anima-core/engine/assets"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-core/engine/systems"
)

/**
 * @brief The application driven by the engine. Every callback is optional.
 * FnBuildScene runs once after initialization and again whenever a watched
 * asset changes; the returned graph replaces the live asset set.
 */
type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnBuildScene      BuildScene
	FnBuildFrame      BuildFrame
	FnOnResize        OnResize
}

type Initialize func(camera *systems.Camera) error
type Update func(deltaTime float64) error

// BuildScene receives a nil asset manager when no asset directory is available.
type BuildScene func(am *assets.AssetManager) (*metadata.SceneGraph, error)

// BuildFrame may add per-node transform overrides; the view-projection is already set.
type BuildFrame func(input *metadata.FrameInput) error
type OnResize func(width uint32, height uint32) error
