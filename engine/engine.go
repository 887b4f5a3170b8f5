package engine

import (
	"bytes"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/assets"
	"github.com/spaghettifunk/anima-core/engine/config"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/platform"
	"github.com/spaghettifunk/anima-core/engine/renderer"
	"github.com/spaghettifunk/anima-core/engine/renderer/headless"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-core/engine/renderer/vulkan"
	"github.com/spaghettifunk/anima-core/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage Stage
	config       *config.Config
	gameInstance *Game
	backend      renderer.RendererType

	// nil for the headless backend
	platform     *platform.Platform
	assetManager *assets.AssetManager
	renderer     *systems.RendererSystem
	camera       *systems.Camera

	clock     *core.Clock
	lastTime  float64
	maxFrames int
	frames    int

	isRunning   atomic.Bool
	isSuspended bool
	// set from the asset watcher goroutine, consumed by the run loop
	reloadRequested atomic.Bool
}

func New(cfg *config.Config, g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, errors.New("func New - game and its application config must be set")
	}
	backend, err := renderer.ParseRendererType(cfg.Renderer.Backend)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		currentStage: EngineStageUninitialized,
		config:       cfg,
		gameInstance: g,
		backend:      backend,
		clock:        core.NewClock(),
		maxFrames:    config.MaxFrames(),
	}
	if backend == renderer.Vulkan {
		e.platform = platform.New()
	}
	return e, nil
}

// newDevice builds the rendering backend selected by the configuration.
func (e *Engine) newDevice() (renderer.Device, error) {
	switch e.backend {
	case renderer.Headless:
		return headless.New(headless.Options{
			Extent: metadata.Extent{Width: e.gameInstance.ApplicationConfig.StartWidth, Height: e.gameInstance.ApplicationConfig.StartHeight},
		}), nil
	case renderer.Vulkan:
		return vulkan.New(vulkan.Options{
			ApplicationName: e.gameInstance.ApplicationConfig.Name,
			Validation:      e.config.Renderer.ValidationLayers,
			Surface:         e.platform,
		})
	}
	return nil, errors.Newf("unsupported renderer backend %s", e.backend)
}

func (e *Engine) shaderLoader() systems.ShaderLoader {
	if e.backend == renderer.Headless {
		return systems.StubShaderLoader{}
	}
	return systems.FileShaderLoader{Dir: e.config.Renderer.ShaderDir}
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	if !core.EventSystemInitialize() {
		return errors.New("failed to initialize the event system")
	}
	if err := core.MetricsInitialize(); err != nil {
		return err
	}
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	core.EventRegister(core.EVENT_CODE_RESIZED, e, e.onResized)
	core.EventRegister(core.EVENT_CODE_ASSETS_CHANGED, e, e.onAssetsChanged)

	app := e.gameInstance.ApplicationConfig
	if e.platform != nil {
		if err := e.platform.Startup(app.Name, app.StartPosX, app.StartPosY, app.StartWidth, app.StartHeight); err != nil {
			return err
		}
	}

	if e.config.Assets.Dir != "" {
		e.assetManager = assets.NewAssetManager(assets.DefaultDebounce)
		if err := e.assetManager.Initialize(e.config.Assets.Dir, e.config.Assets.Watch); err != nil {
			core.LogWarn("assets unavailable, continuing without them", "dir", e.config.Assets.Dir, "err", err)
			e.assetManager = nil
		}
	}

	device, err := e.newDevice()
	if err != nil {
		return errors.Wrapf(err, "creating %s device", e.backend)
	}
	if e.renderer, err = systems.NewRendererSystem(e.config, device, e.shaderLoader()); err != nil {
		device.Destroy()
		return err
	}
	if err := e.renderer.Initialize(); err != nil {
		return err
	}
	e.camera = e.renderer.Systems().CameraSystem.GetDefault()

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.camera); err != nil {
			return errors.Wrap(err, "game initialization failed")
		}
	}
	if err := e.loadScene(); err != nil {
		return err
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized", "backend", e.backend, "frames_in_flight", e.config.Renderer.FramesInFlight)
	return nil
}

// loadScene asks the game for its scene graph and makes it the live asset set.
func (e *Engine) loadScene() error {
	if e.gameInstance.FnBuildScene == nil {
		return nil
	}
	scene, err := e.gameInstance.FnBuildScene(e.assetManager)
	if err != nil {
		return errors.Wrap(err, "building scene")
	}
	if scene == nil {
		return nil
	}
	_, err = e.renderer.LoadScene(scene)
	return err
}

func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return errors.New("engine is not initialized")
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if e.platform != nil && !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}
		if e.isSuspended {
			continue
		}

		if e.reloadRequested.CompareAndSwap(true, false) {
			if err := e.loadScene(); err != nil {
				if errors.Is(err, core.ErrDeviceLost) || errors.Is(err, core.ErrOutOfDeviceMemory) {
					return err
				}
				// the previous scene is gone; keep presenting an empty frame until the asset is fixed
				core.LogError("scene reload failed", "err", err)
			}
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		e.lastTime = currentTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("game update failed, shutting down", "err", err)
				return err
			}
		}

		input := metadata.FrameInput{
			ViewProjection: e.camera.ViewProjection(e.renderer.SurfaceExtent()),
			DeltaTime:      delta,
		}
		if e.gameInstance.FnBuildFrame != nil {
			if err := e.gameInstance.FnBuildFrame(&input); err != nil {
				core.LogError("game frame build failed, shutting down", "err", err)
				return err
			}
		}

		if err := e.renderer.DrawFrame(input); err != nil {
			switch {
			case errors.Is(err, core.ErrSwapchainBooting):
			case core.IsFatal(err):
				core.LogError("frame failed, shutting down", "err", err)
				return err
			default:
				core.LogWarn("frame dropped", "err", err)
			}
		}

		e.clock.Update()
		core.MetricsUpdate(e.clock.Elapsed() - currentTime)

		e.frames++
		if e.maxFrames > 0 && e.frames >= e.maxFrames {
			core.LogInfo("frame limit reached", "frames", e.frames)
			e.isRunning.Store(false)
		}
	}
	return nil
}

// Stop asks the run loop to exit after the current frame. Safe from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	core.EventUnregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	core.EventUnregister(core.EVENT_CODE_RESIZED, e)
	core.EventUnregister(core.EVENT_CODE_ASSETS_CHANGED, e)

	var errs error
	if e.assetManager != nil {
		errs = errors.CombineErrors(errs, e.assetManager.Shutdown())
	}
	if e.renderer != nil {
		var stats bytes.Buffer
		if err := e.renderer.WriteMemoryStats(&stats); err == nil {
			core.LogDebug("device memory at shutdown", "stats", stats.String())
		}
		errs = errors.CombineErrors(errs, e.renderer.Shutdown())
		e.renderer = nil
	}
	if e.platform != nil {
		errs = errors.CombineErrors(errs, e.platform.Shutdown())
	}
	fps := core.MetricsFPS()
	drawn, skipped, recreated := core.MetricsCounters()
	core.LogInfo("engine stopped", "frames", e.frames, "drawn", drawn, "skipped", skipped, "recreations", recreated, "fps", fps, "frame_ms", core.MetricsFrameTime())
	errs = errors.CombineErrors(errs, core.EventShutdown())
	e.currentStage = EngineStageUninitialized
	return errs
}

func (e *Engine) Renderer() *systems.RendererSystem {
	return e.renderer
}

func (e *Engine) onEvent(code core.SystemEventCode, sender, listenerInst interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender, listenerInst interface{}, data core.EventContext) bool {
	width, height := data.Data.U32[0], data.Data.U32[1]
	if width == 0 || height == 0 {
		core.LogDebug("window minimized, suspending")
		e.isSuspended = true
		return true
	}
	e.isSuspended = false
	if e.renderer != nil {
		e.renderer.OnResize(width, height)
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogWarn("game resize handler failed", "err", err)
		}
	}
	return false
}

func (e *Engine) onAssetsChanged(code core.SystemEventCode, sender, listenerInst interface{}, data core.EventContext) bool {
	core.LogInfo("asset changed, scene reload scheduled", "path", data.Data.C[0])
	e.reloadRequested.Store(true)
	return false
}
