package systems

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

type SwapchainState int32

const (
	SwapchainStateValid SwapchainState = iota
	SwapchainStateInvalidated
	SwapchainStateRecreating
)

func (s SwapchainState) String() string {
	switch s {
	case SwapchainStateValid:
		return "valid"
	case SwapchainStateInvalidated:
		return "invalidated"
	case SwapchainStateRecreating:
		return "recreating"
	}
	return "unknown"
}

type SwapchainSystemConfig struct {
	VSync bool
	/** @brief Number of frame slots; one acquire semaphore each. */
	FramesInFlight uint32
	AcquireTimeout time.Duration
	FenceTimeout   time.Duration
}

/**
 * @brief Owns the swapchain and everything sized after it: image views, the
 * depth attachment, framebuffers and the acquire/present semaphores.
 */
type SwapchainSystem struct {
	Config *SwapchainSystemConfig

	device renderer.Device
	memory *MemorySystem

	mu         sync.Mutex
	state      SwapchainState
	outOfDate  bool
	generation uint64
	resizes    uint64

	renderPass  metadata.Handle
	handle      metadata.Handle
	format      metadata.SurfaceFormat
	presentMode metadata.PresentMode
	depthFormat metadata.Format
	extent      metadata.Extent

	images       []metadata.Handle
	views        []metadata.Handle
	depth        *metadata.GpuImage
	framebuffers []metadata.Handle
	// fence of the last submission that rendered into each image; not owned.
	imageFences       []metadata.Handle
	presentSemaphores []metadata.Handle
	acquireSemaphores []metadata.Handle
}

func NewSwapchainSystem(config *SwapchainSystemConfig, device renderer.Device, memory *MemorySystem) (*SwapchainSystem, error) {
	if config.FramesInFlight == 0 {
		err := errors.New("func NewSwapchainSystem - config.FramesInFlight must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	if config.AcquireTimeout == 0 {
		config.AcquireTimeout = time.Second
	}
	if config.FenceTimeout == 0 {
		config.FenceTimeout = 10 * time.Second
	}
	caps, err := device.SurfaceCapabilities()
	if err != nil {
		return nil, errors.Wrap(err, "querying surface capabilities")
	}
	if len(caps.Formats) == 0 {
		return nil, errors.New("surface reports no formats")
	}
	s := &SwapchainSystem{
		Config:      config,
		device:      device,
		memory:      memory,
		state:       SwapchainStateInvalidated,
		format:      chooseSurfaceFormat(caps.Formats),
		presentMode: choosePresentMode(caps.PresentModes, config.VSync),
		depthFormat: device.Properties().DepthFormat,
	}
	if s.depthFormat == metadata.FormatUndefined {
		return nil, errors.New("no supported depth format")
	}
	return s, nil
}

func chooseSurfaceFormat(formats []metadata.SurfaceFormat) metadata.SurfaceFormat {
	for _, f := range formats {
		if f.Format == metadata.FormatB8G8R8A8Srgb && f.ColorSpace == metadata.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return formats[0]
}

func choosePresentMode(modes []metadata.PresentMode, vsync bool) metadata.PresentMode {
	if vsync {
		return metadata.PresentModeFifo
	}
	for _, m := range modes {
		if m == metadata.PresentModeMailbox {
			return m
		}
	}
	return metadata.PresentModeFifo
}

func chooseImageCount(caps metadata.SurfaceCapabilities) uint32 {
	n := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && n > caps.MaxImageCount {
		n = caps.MaxImageCount
	}
	return n
}

func clampExtent(e metadata.Extent, caps metadata.SurfaceCapabilities) metadata.Extent {
	return metadata.Extent{
		Width:  clampU32(e.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clampU32(e.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

func clampU32(v, lo, hi uint32) uint32 {
	if hi > 0 && v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}

func (s *SwapchainSystem) ColorFormat() metadata.Format { return s.format.Format }
func (s *SwapchainSystem) DepthFormat() metadata.Format { return s.depthFormat }

func (s *SwapchainSystem) State() SwapchainState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SwapchainSystem) Extent() metadata.Extent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

// Generation counts successful (re)creations.
func (s *SwapchainSystem) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *SwapchainSystem) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

func (s *SwapchainSystem) Framebuffer(imageIndex uint32) metadata.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framebuffers[imageIndex]
}

func (s *SwapchainSystem) AcquireSemaphore(slot int) metadata.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquireSemaphores[slot]
}

func (s *SwapchainSystem) PresentSemaphore(imageIndex uint32) metadata.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presentSemaphores[imageIndex]
}

/**
 * @brief Records the fence guarding the frame that renders into the image and
 * returns the one it replaces, which the caller waits on before reusing the image.
 */
func (s *SwapchainSystem) SwapImageFence(imageIndex uint32, fence metadata.Handle) metadata.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.imageFences[imageIndex]
	s.imageFences[imageIndex] = fence
	return prev
}

// ForgetFence drops every reference to a fence that is about to be destroyed.
func (s *SwapchainSystem) ForgetFence(fence metadata.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.imageFences {
		if f == fence {
			s.imageFences[i] = nil
		}
	}
}

/**
 * @brief Creates the swapchain for the first time against the given render pass.
 */
func (s *SwapchainSystem) Create(renderPass metadata.Handle) error {
	s.mu.Lock()
	s.renderPass = renderPass
	s.outOfDate = true
	s.mu.Unlock()
	_, err := s.RecreateIfNeeded()
	return err
}

/**
 * @brief Notifies the system of a surface size change. Notifications that
 * arrive before the next frame coalesce into a single recreation.
 */
func (s *SwapchainSystem) NotifyResize(extent metadata.Extent) {
	s.mu.Lock()
	s.resizes++
	ctx, fire := s.invalidateLocked("resize", extent)
	s.mu.Unlock()
	if fire {
		core.EventFire(core.EVENT_CODE_SWAPCHAIN_RECREATE_REQUESTED, s, ctx)
	}
}

// Invalidate marks the swapchain out of date; the next RecreateIfNeeded rebuilds it.
func (s *SwapchainSystem) Invalidate(reason string) {
	s.mu.Lock()
	s.outOfDate = true
	ctx, fire := s.invalidateLocked(reason, s.extent)
	s.mu.Unlock()
	if fire {
		core.EventFire(core.EVENT_CODE_SWAPCHAIN_RECREATE_REQUESTED, s, ctx)
	}
}

// invalidateLocked moves a valid swapchain to Invalidated and returns the
// event the caller fires once s.mu is released.
func (s *SwapchainSystem) invalidateLocked(reason string, extent metadata.Extent) (core.EventContext, bool) {
	ctx := core.EventContext{}
	if s.state != SwapchainStateValid {
		return ctx, false
	}
	s.state = SwapchainStateInvalidated
	core.LogDebug("swapchain invalidated", "reason", reason, "width", extent.Width, "height", extent.Height)

	ctx.Data.U32[0] = extent.Width
	ctx.Data.U32[1] = extent.Height
	ctx.Data.C[0] = reason
	return ctx, true
}

/**
 * @brief Rebuilds the swapchain when it was invalidated and the settled
 * surface extent differs from the live one (or the presentation engine
 * reported it out of date). Returns whether a recreation happened.
 * A zero extent returns ErrSwapchainBooting and leaves the state Invalidated.
 */
func (s *SwapchainSystem) RecreateIfNeeded() (bool, error) {
	s.mu.Lock()
	switch s.state {
	case SwapchainStateValid:
		s.mu.Unlock()
		return false, nil
	case SwapchainStateRecreating:
		s.mu.Unlock()
		return false, errors.WithStack(core.ErrSwapchainBusy)
	}

	caps, err := s.device.SurfaceCapabilities()
	if err != nil {
		s.mu.Unlock()
		return false, errors.Wrap(err, "querying surface capabilities")
	}
	if caps.CurrentExtent.IsZero() {
		s.mu.Unlock()
		return false, errors.WithStack(core.ErrSwapchainBooting)
	}
	extent := clampExtent(caps.CurrentExtent, caps)
	if extent == s.extent && !s.outOfDate && s.handle != nil {
		s.state = SwapchainStateValid
		s.mu.Unlock()
		core.LogDebug("swapchain revalidated without recreation", "width", extent.Width, "height", extent.Height)
		return false, nil
	}
	s.state = SwapchainStateRecreating
	s.mu.Unlock()

	err = s.recreate(extent, caps)

	s.mu.Lock()
	if err != nil {
		s.state = SwapchainStateInvalidated
		s.mu.Unlock()
		return false, err
	}
	s.state = SwapchainStateValid
	s.outOfDate = false
	s.generation++
	generation, images := s.generation, len(s.images)
	s.mu.Unlock()
	core.MetricsSwapchainRecreated()

	ctx := core.EventContext{}
	ctx.Data.U32[0] = extent.Width
	ctx.Data.U32[1] = extent.Height
	ctx.Data.U64[0] = generation
	core.EventFire(core.EVENT_CODE_SWAPCHAIN_RECREATED, s, ctx)
	core.LogInfo("swapchain created", "width", extent.Width, "height", extent.Height, "images", images, "generation", generation)
	return true, nil
}

// recreate runs in the Recreating state; acquire and present are rejected meanwhile.
func (s *SwapchainSystem) recreate(extent metadata.Extent, caps metadata.SurfaceCapabilities) error {
	if err := s.drain(); err != nil {
		return err
	}
	old := s.handle
	s.destroyAttachments()

	handle, images, err := s.device.CreateSwapchain(metadata.SwapchainDesc{
		Extent:       extent,
		ImageCount:   chooseImageCount(caps),
		Format:       s.format,
		PresentMode:  s.presentMode,
		OldSwapchain: old,
	})
	if old != nil {
		s.device.DestroySwapchain(old)
		s.handle = nil
	}
	if err != nil {
		return errors.Wrap(err, "creating swapchain")
	}
	s.handle, s.images, s.extent = handle, images, extent

	if err := s.createAttachments(); err != nil {
		s.destroyAttachments()
		s.device.DestroySwapchain(s.handle)
		s.handle, s.images = nil, nil
		return err
	}
	return nil
}

// drain waits for every frame that rendered into a swapchain image, then for the device.
func (s *SwapchainSystem) drain() error {
	for i, f := range s.imageFences {
		if f == nil {
			continue
		}
		ok, err := s.device.WaitFence(f, s.Config.FenceTimeout)
		if err != nil {
			return errors.Wrap(err, "waiting for swapchain image fence")
		}
		if !ok {
			core.LogWarn("swapchain image fence not signalled before recreation", "image", i)
		}
		s.imageFences[i] = nil
	}
	return s.device.WaitIdle()
}

func (s *SwapchainSystem) createAttachments() error {
	var err error
	s.views = make([]metadata.Handle, len(s.images))
	for i, img := range s.images {
		if s.views[i], err = s.device.CreateImageView(img, s.format.Format, metadata.ImageAspectColor, 1); err != nil {
			return errors.Wrap(err, "creating swapchain image view")
		}
	}

	s.depth, err = s.memory.CreateImage(metadata.ImageDesc{
		Width:     s.extent.Width,
		Height:    s.extent.Height,
		MipLevels: 1,
		Format:    s.depthFormat,
		Usage:     metadata.ImageUsageDepthStencilAttachment,
	})
	if err != nil {
		return errors.Wrap(err, "creating depth attachment")
	}

	s.framebuffers = make([]metadata.Handle, len(s.images))
	for i := range s.images {
		attachments := []metadata.Handle{s.views[i], s.depth.View}
		if s.framebuffers[i], err = s.device.CreateFramebuffer(s.renderPass, attachments, s.extent); err != nil {
			return errors.Wrap(err, "creating framebuffer")
		}
	}

	s.imageFences = make([]metadata.Handle, len(s.images))
	s.presentSemaphores = make([]metadata.Handle, len(s.images))
	for i := range s.presentSemaphores {
		if s.presentSemaphores[i], err = s.device.CreateSemaphore(); err != nil {
			return err
		}
	}
	s.acquireSemaphores = make([]metadata.Handle, s.Config.FramesInFlight)
	for i := range s.acquireSemaphores {
		if s.acquireSemaphores[i], err = s.device.CreateSemaphore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SwapchainSystem) destroyAttachments() {
	for _, h := range s.acquireSemaphores {
		if h != nil {
			s.device.DestroySemaphore(h)
		}
	}
	for _, h := range s.presentSemaphores {
		if h != nil {
			s.device.DestroySemaphore(h)
		}
	}
	for _, fb := range s.framebuffers {
		if fb != nil {
			s.device.DestroyFramebuffer(fb)
		}
	}
	if s.depth != nil {
		s.memory.DestroyImage(s.depth)
	}
	// Only destroy the views, not the images, since those are owned by the swapchain.
	for _, v := range s.views {
		if v != nil {
			s.device.DestroyImageView(v)
		}
	}
	s.acquireSemaphores, s.presentSemaphores = nil, nil
	s.framebuffers, s.views, s.depth = nil, nil, nil
	s.imageFences = nil
}

/**
 * @brief Acquires the next image for the frame slot. Signals come back as
 * ErrOutOfDate (no image, swapchain invalidated) or ErrSuboptimal (image
 * acquired and usable, swapchain invalidated for the next frame).
 */
func (s *SwapchainSystem) Acquire(slot int) (uint32, error) {
	s.mu.Lock()
	if s.state == SwapchainStateRecreating {
		s.mu.Unlock()
		return 0, errors.WithStack(core.ErrSwapchainBusy)
	}
	if s.handle == nil {
		s.mu.Unlock()
		return 0, errors.WithStack(core.ErrOutOfDate)
	}
	handle, sem := s.handle, s.acquireSemaphores[slot]
	s.mu.Unlock()

	idx, err := s.device.AcquireNextImage(handle, s.Config.AcquireTimeout, sem)
	switch {
	case err == nil:
		return idx, nil
	case errors.Is(err, core.ErrSuboptimal):
		s.Invalidate("acquire suboptimal")
		return idx, err
	case errors.Is(err, core.ErrOutOfDate):
		s.Invalidate("acquire out of date")
		return 0, err
	}
	return 0, errors.Wrap(err, "acquiring swapchain image")
}

/**
 * @brief Presents the image after its render-complete semaphore. Out-of-date
 * and suboptimal results invalidate the swapchain and are not errors; any
 * other failure except device loss is reported as ErrPresentFailed.
 */
func (s *SwapchainSystem) Present(imageIndex uint32) error {
	s.mu.Lock()
	if s.state == SwapchainStateRecreating {
		s.mu.Unlock()
		return errors.WithStack(core.ErrSwapchainBusy)
	}
	handle, sem := s.handle, s.presentSemaphores[imageIndex]
	s.mu.Unlock()

	err := s.device.Present(handle, imageIndex, sem)
	switch {
	case err == nil:
		return nil
	case core.IsSwapchainSignal(err):
		s.Invalidate("present " + err.Error())
		return nil
	case errors.Is(err, core.ErrDeviceLost):
		return err
	}
	s.Invalidate("present failed")
	return errors.Mark(errors.Wrap(err, "presenting swapchain image"), core.ErrPresentFailed)
}

func (s *SwapchainSystem) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.drain(); err != nil {
		core.LogWarn("swapchain shutdown drain failed", "err", err)
	}
	s.destroyAttachments()
	if s.handle != nil {
		s.device.DestroySwapchain(s.handle)
		s.handle, s.images = nil, nil
	}
	s.state = SwapchainStateInvalidated
	return nil
}
