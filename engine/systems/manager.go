package systems

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/config"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer"
)

const megabyte = 1 << 20

// SystemManager builds the rendering systems in dependency order and tears them down in reverse.
type SystemManager struct {
	JobSystem        *JobSystem
	MemorySystem     *MemorySystem
	UploadSystem     *UploadSystem
	TextureSystem    *TextureSystem
	DescriptorSystem *DescriptorSystem
	SceneSystem      *SceneSystem
	PipelineSystem   *PipelineSystem
	SwapchainSystem  *SwapchainSystem
	FrameSystem      *FrameSystem
	CameraSystem     *CameraSystem

	device renderer.Device
}

func NewSystemManager(cfg *config.Config, device renderer.Device, loader ShaderLoader) (sm *SystemManager, err error) {
	sm = &SystemManager{device: device}
	defer func() {
		if err != nil {
			if serr := sm.Shutdown(); serr != nil {
				core.LogError("partial system shutdown failed", "err", serr)
			}
			sm = nil
		}
	}()

	if sm.JobSystem, err = NewJobSystem(cfg.Renderer.RecordWorkers, cfg.Renderer.RecordWorkers*2); err != nil {
		return sm, err
	}
	sm.MemorySystem, err = NewMemorySystem(&MemorySystemConfig{
		BlockSize:          cfg.Memory.BlockSizeMB * megabyte,
		DedicatedThreshold: cfg.Memory.DedicatedThreshold * megabyte,
	}, device)
	if err != nil {
		return sm, err
	}
	sm.UploadSystem, err = NewUploadSystem(&UploadSystemConfig{
		Concurrency:  cfg.Upload.Concurrency,
		GenerateMips: cfg.Upload.GenerateMips,
	}, device, sm.MemorySystem)
	if err != nil {
		return sm, err
	}
	if sm.TextureSystem, err = NewTextureSystem(&TextureSystemConfig{MaxSamplerCount: 64}, device, sm.MemorySystem, sm.UploadSystem); err != nil {
		return sm, err
	}
	if err = sm.TextureSystem.Initialize(); err != nil {
		return sm, err
	}
	if sm.DescriptorSystem, err = NewDescriptorSystem(device, sm.TextureSystem); err != nil {
		return sm, err
	}
	sm.SceneSystem, err = NewSceneSystem(&SceneSystemConfig{UploadConcurrency: cfg.Upload.Concurrency}, sm.MemorySystem, sm.UploadSystem, sm.TextureSystem, sm.DescriptorSystem)
	if err != nil {
		return sm, err
	}

	sm.SwapchainSystem, err = NewSwapchainSystem(&SwapchainSystemConfig{
		VSync:          cfg.Window.VSync,
		FramesInFlight: uint32(cfg.Renderer.FramesInFlight),
	}, device, sm.MemorySystem)
	if err != nil {
		return sm, err
	}
	sm.PipelineSystem, err = NewPipelineSystem(&PipelineSystemConfig{
		ShaderName: "material",
		ClearColor: cfg.Renderer.ClearColor,
	}, device, loader, sm.DescriptorSystem)
	if err != nil {
		return sm, err
	}
	if err = sm.PipelineSystem.Initialize(sm.SwapchainSystem.ColorFormat(), sm.SwapchainSystem.DepthFormat()); err != nil {
		return sm, err
	}
	// A minimized window at startup leaves the swapchain invalidated until it has a size.
	if err = sm.SwapchainSystem.Create(sm.PipelineSystem.RenderPass); err != nil && !errors.Is(err, core.ErrSwapchainBooting) {
		return sm, err
	}
	err = nil

	sm.FrameSystem, err = NewFrameSystem(&FrameSystemConfig{
		FramesInFlight:    uint32(cfg.Renderer.FramesInFlight),
		DrawChunkSize:     cfg.Renderer.DrawChunkSize,
		ClearColor:        cfg.Renderer.ClearColor,
		DeferredQueueSize: cfg.Renderer.DeferredQueueSize,
	}, device, sm.MemorySystem, sm.SwapchainSystem, sm.PipelineSystem, sm.DescriptorSystem, sm.JobSystem)
	if err != nil {
		return sm, err
	}
	if sm.CameraSystem, err = NewCameraSystem(&CameraSystemConfig{MaxCameraCount: 16}); err != nil {
		return sm, err
	}
	return sm, nil
}

// Shutdown waits for the device and destroys every system that was created.
func (sm *SystemManager) Shutdown() error {
	if err := sm.device.WaitIdle(); err != nil {
		core.LogWarn("wait idle before shutdown failed", "err", err)
	}
	if sm.CameraSystem != nil {
		if err := sm.CameraSystem.Shutdown(); err != nil {
			return err
		}
	}
	if sm.FrameSystem != nil {
		if err := sm.FrameSystem.Shutdown(); err != nil {
			return err
		}
	}
	if sm.SwapchainSystem != nil {
		if err := sm.SwapchainSystem.Shutdown(); err != nil {
			return err
		}
	}
	if sm.PipelineSystem != nil {
		if err := sm.PipelineSystem.Shutdown(); err != nil {
			return err
		}
	}
	if sm.DescriptorSystem != nil {
		if err := sm.DescriptorSystem.Shutdown(); err != nil {
			return err
		}
	}
	if sm.TextureSystem != nil {
		if err := sm.TextureSystem.Shutdown(); err != nil {
			return err
		}
	}
	if sm.UploadSystem != nil {
		if err := sm.UploadSystem.Shutdown(); err != nil {
			return err
		}
	}
	if sm.JobSystem != nil {
		if err := sm.JobSystem.Shutdown(); err != nil {
			return err
		}
	}
	if sm.MemorySystem != nil {
		if err := sm.MemorySystem.Shutdown(); err != nil {
			return err
		}
	}
	return nil
}
