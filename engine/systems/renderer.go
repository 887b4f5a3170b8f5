package systems

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/config"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

/**
 * @brief The application-facing renderer: owns the device, the rendering
 * systems and the currently live asset set.
 */
type RendererSystem struct {
	Config *config.Config

	device  renderer.Device
	loader  ShaderLoader
	systems *SystemManager

	mu    sync.Mutex
	scene *AssetSet
}

func NewRendererSystem(cfg *config.Config, device renderer.Device, loader ShaderLoader) (*RendererSystem, error) {
	if device == nil {
		return nil, errors.New("func NewRendererSystem - device must not be nil")
	}
	if loader == nil {
		loader = FileShaderLoader{Dir: cfg.Renderer.ShaderDir}
	}
	return &RendererSystem{Config: cfg, device: device, loader: loader}, nil
}

func (r *RendererSystem) Initialize() error {
	sm, err := NewSystemManager(r.Config, r.device, r.loader)
	if err != nil {
		core.LogError("failed to initialize the rendering systems", "err", err)
		return err
	}
	r.systems = sm
	props := r.device.Properties()
	core.LogInfo("renderer initialized", "device", props.DeviceName, "frames_in_flight", r.Config.Renderer.FramesInFlight)
	return nil
}

func (r *RendererSystem) Systems() *SystemManager {
	return r.systems
}

func (r *RendererSystem) Device() renderer.Device {
	return r.device
}

// Scene returns the live asset set, or nil.
func (r *RendererSystem) Scene() *AssetSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scene
}

/**
 * @brief Loads a scene and makes it the live asset set. A previous set is
 * destroyed first, after the device has drained. When the load fails no
 * scene is live.
 */
func (r *RendererSystem) LoadScene(scene *metadata.SceneGraph) (*AssetSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scene != nil {
		if err := r.device.WaitIdle(); err != nil {
			return nil, err
		}
		r.scene.Destroy()
		r.scene = nil
	}
	set, err := r.systems.SceneSystem.Load(scene)
	if err != nil {
		return nil, err
	}
	r.scene = set
	return set, nil
}

// UnloadScene destroys the live asset set, if any.
func (r *RendererSystem) UnloadScene() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scene == nil {
		return nil
	}
	if err := r.device.WaitIdle(); err != nil {
		return err
	}
	r.scene.Destroy()
	r.scene = nil
	return nil
}

/**
 * @brief Draws one frame of the live asset set. ErrSwapchainBooting means
 * the frame was skipped and is not an error for the caller; see core.IsFatal
 * for the errors that must stop the application.
 */
func (r *RendererSystem) DrawFrame(input metadata.FrameInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.systems.FrameSystem.DrawFrame(r.scene, input)
}

// OnResize forwards a window size change; recreation happens on the next frame.
func (r *RendererSystem) OnResize(width, height uint32) {
	r.systems.SwapchainSystem.NotifyResize(metadata.Extent{Width: width, Height: height})
}

func (r *RendererSystem) SurfaceExtent() metadata.Extent {
	return r.systems.SwapchainSystem.Extent()
}

func (r *RendererSystem) WriteMemoryStats(w io.Writer) error {
	return r.systems.MemorySystem.WriteStatsJSON(w)
}

func (r *RendererSystem) Shutdown() error {
	if r.systems == nil {
		r.device.Destroy()
		return nil
	}
	if err := r.UnloadScene(); err != nil {
		core.LogWarn("unable to unload scene at shutdown", "err", err)
	}
	if err := r.systems.Shutdown(); err != nil {
		return err
	}
	r.systems = nil
	r.device.Destroy()
	core.LogInfo("renderer shut down")
	return nil
}
