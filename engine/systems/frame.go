package systems

import (
	"encoding/binary"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/containers"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

const (
	mat4Size               = 64
	initialTransformCount  = 64
	defaultDeferredQueue   = 64
	defaultDrawChunkSize   = 64
	defaultFrameFenceLimit = 10 * time.Second
)

type FrameSystemConfig struct {
	FramesInFlight uint32
	/** @brief Draws recorded per secondary command buffer. */
	DrawChunkSize int
	ClearColor    [4]float32
	FenceTimeout  time.Duration
	/** @brief Capacity of the queue of retired objects waiting for their frame to complete. */
	DeferredQueueSize int
}

// workerArena holds the secondary command buffers one worker records into for one slot.
type workerArena struct {
	pool    metadata.Handle
	buffers []renderer.CommandBuffer
	used    int
}

func (a *workerArena) next(device renderer.Device) (renderer.CommandBuffer, error) {
	if a.used == len(a.buffers) {
		cb, err := device.AllocateCommandBuffer(a.pool, metadata.CommandBufferLevelSecondary)
		if err != nil {
			return nil, err
		}
		a.buffers = append(a.buffers, cb)
	}
	cb := a.buffers[a.used]
	a.used++
	return cb, nil
}

type frameSlot struct {
	index   int
	pool    metadata.Handle
	primary renderer.CommandBuffer
	// Created signalled; waited before the slot is reused.
	fence  metadata.Handle
	arenas []*workerArena

	camera            *metadata.GpuBuffer
	transforms        *metadata.GpuBuffer
	transformCapacity int
	descriptorSet     metadata.Handle
}

type retiredWork struct {
	frame uint64
	fn    func()
}

/**
 * @brief Drives frames through acquire, parallel recording, submit and
 * present using a fixed number of frame slots.
 */
type FrameSystem struct {
	Config *FrameSystemConfig

	device      renderer.Device
	memory      *MemorySystem
	swapchain   *SwapchainSystem
	pipelines   *PipelineSystem
	descriptors *DescriptorSystem
	jobs        *JobSystem

	slots          []*frameSlot
	descriptorPool metadata.Handle
	frameNumber    uint64
	retired        *containers.RingQueue[retiredWork]

	lastFrameTime time.Duration
}

func NewFrameSystem(config *FrameSystemConfig, device renderer.Device, memory *MemorySystem, swapchain *SwapchainSystem, pipelines *PipelineSystem, descriptors *DescriptorSystem, jobs *JobSystem) (*FrameSystem, error) {
	if config.FramesInFlight == 0 {
		err := errors.New("func NewFrameSystem - config.FramesInFlight must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	if config.DrawChunkSize <= 0 {
		config.DrawChunkSize = defaultDrawChunkSize
	}
	if config.FenceTimeout == 0 {
		config.FenceTimeout = defaultFrameFenceLimit
	}
	if config.DeferredQueueSize <= 0 {
		config.DeferredQueueSize = defaultDeferredQueue
	}
	fs := &FrameSystem{
		Config:      config,
		device:      device,
		memory:      memory,
		swapchain:   swapchain,
		pipelines:   pipelines,
		descriptors: descriptors,
		jobs:        jobs,
		retired:     containers.NewRingQueue[retiredWork](config.DeferredQueueSize),
	}
	if err := fs.createSlots(); err != nil {
		fs.destroySlots()
		return nil, err
	}
	return fs, nil
}

func (fs *FrameSystem) createSlots() error {
	n := fs.Config.FramesInFlight
	var err error
	fs.descriptorPool, err = fs.device.CreateDescriptorPool(n, []metadata.DescriptorPoolSize{
		{Type: metadata.DescriptorTypeUniformBuffer, Count: n},
		{Type: metadata.DescriptorTypeStorageBuffer, Count: n},
	})
	if err != nil {
		return errors.Wrap(err, "creating frame descriptor pool")
	}

	for i := 0; i < int(n); i++ {
		slot := &frameSlot{index: i}
		fs.slots = append(fs.slots, slot)

		if slot.pool, err = fs.device.CreateCommandPool(metadata.QueueGraphics); err != nil {
			return errors.Wrap(err, "creating frame command pool")
		}
		if slot.primary, err = fs.device.AllocateCommandBuffer(slot.pool, metadata.CommandBufferLevelPrimary); err != nil {
			return errors.Wrap(err, "allocating primary command buffer")
		}
		if slot.fence, err = fs.device.CreateFence(true); err != nil {
			return errors.Wrap(err, "creating frame fence")
		}
		for w := 0; w < fs.jobs.NumWorkers(); w++ {
			pool, err := fs.device.CreateCommandPool(metadata.QueueGraphics)
			if err != nil {
				return errors.Wrap(err, "creating worker command pool")
			}
			slot.arenas = append(slot.arenas, &workerArena{pool: pool})
		}

		if slot.camera, err = fs.memory.CreateBuffer(mat4Size, metadata.BufferUsageUniform, metadata.MemoryKindUpload); err != nil {
			return errors.Wrap(err, "creating camera buffer")
		}
		if slot.transforms, err = fs.memory.CreateBuffer(initialTransformCount*mat4Size, metadata.BufferUsageStorage, metadata.MemoryKindUpload); err != nil {
			return errors.Wrap(err, "creating transform buffer")
		}
		slot.transformCapacity = initialTransformCount
		if slot.descriptorSet, err = fs.device.AllocateDescriptorSet(fs.descriptorPool, fs.descriptors.FrameLayout); err != nil {
			return errors.Wrap(err, "allocating frame descriptor set")
		}
		fs.writeFrameSet(slot)
	}
	return nil
}

func (fs *FrameSystem) writeFrameSet(slot *frameSlot) {
	fs.device.UpdateDescriptorSet(slot.descriptorSet, []metadata.DescriptorWrite{
		{Binding: FrameBindingCamera, Type: metadata.DescriptorTypeUniformBuffer, Buffer: slot.camera.Handle, Range: mat4Size},
		{Binding: FrameBindingTransforms, Type: metadata.DescriptorTypeStorageBuffer, Buffer: slot.transforms.Handle, Range: slot.transforms.Size},
	})
}

// FrameNumber is the number of frames submitted so far.
func (fs *FrameSystem) FrameNumber() uint64 {
	return fs.frameNumber
}

func (fs *FrameSystem) LastFrameTime() time.Duration {
	return fs.lastFrameTime
}

/**
 * @brief Schedules fn to run once every frame submitted up to now has
 * completed on the GPU.
 */
func (fs *FrameSystem) Retire(fn func()) {
	w := retiredWork{frame: fs.frameNumber, fn: fn}
	if err := fs.retired.Enqueue(w); err != nil {
		// Queue full: drain the device and run everything.
		if werr := fs.device.WaitIdle(); werr != nil {
			core.LogWarn("wait idle while flushing retired work failed", "err", werr)
		}
		fs.flushRetired()
		_ = fs.retired.Enqueue(w)
	}
}

// runRetired runs work retired during frames that are known to be complete.
func (fs *FrameSystem) runRetired() {
	n := uint64(len(fs.slots))
	for !fs.retired.IsEmpty() {
		w, _ := fs.retired.Peek()
		if w.frame+n > fs.frameNumber {
			return
		}
		fs.retired.Dequeue()
		w.fn()
	}
}

func (fs *FrameSystem) flushRetired() {
	for !fs.retired.IsEmpty() {
		w, _ := fs.retired.Dequeue()
		w.fn()
	}
}

func (fs *FrameSystem) waitSlot(slot *frameSlot) error {
	ok, err := fs.device.WaitFence(slot.fence, fs.Config.FenceTimeout)
	if err != nil {
		return errors.Wrap(err, "waiting for frame fence")
	}
	if !ok {
		return errors.Newf("frame slot %d fence timed out", slot.index)
	}
	return nil
}

/**
 * @brief Draws one frame of the asset set (which may be nil). Returns
 * ErrSwapchainBooting when the frame was skipped because the surface is
 * minimized or could not be acquired after one recreation.
 */
func (fs *FrameSystem) DrawFrame(set *AssetSet, input metadata.FrameInput) error {
	start := time.Now()
	slot := fs.slots[fs.frameNumber%uint64(len(fs.slots))]

	// Idle: the slot's previous frame must be finished before anything it used is touched.
	if err := fs.waitSlot(slot); err != nil {
		return err
	}
	fs.runRetired()

	// Acquiring
	if _, err := fs.swapchain.RecreateIfNeeded(); err != nil {
		return fs.skip(err)
	}
	imageIndex, err := fs.swapchain.Acquire(slot.index)
	if errors.Is(err, core.ErrOutOfDate) {
		if _, err := fs.swapchain.RecreateIfNeeded(); err != nil {
			return fs.skip(err)
		}
		imageIndex, err = fs.swapchain.Acquire(slot.index)
	}
	if err != nil && !errors.Is(err, core.ErrSuboptimal) {
		return fs.skip(err)
	}
	// Another slot may still be rendering into this image.
	if prev := fs.swapchain.SwapImageFence(imageIndex, nil); prev != nil && prev != slot.fence {
		if _, err := fs.device.WaitFence(prev, fs.Config.FenceTimeout); err != nil {
			return fs.abandon(errors.Wrap(err, "waiting for swapchain image fence"))
		}
	}

	// Recording
	var snapshot DrawSnapshot
	var draws []metadata.DrawItem
	if set != nil {
		snapshot = set.ResolveTransforms(input.Overrides)
		draws = set.DrawList
	}
	if err := fs.updateFrameData(slot, input.ViewProjection, snapshot.Transforms); err != nil {
		return fs.abandon(err)
	}
	chunks, err := fs.record(slot, imageIndex, draws, snapshot.ReversedWinding)
	if err != nil {
		return fs.abandon(err)
	}

	// Submitted
	if err := fs.device.ResetFence(slot.fence); err != nil {
		return fs.abandon(err)
	}
	err = fs.device.Submit(metadata.QueueGraphics, metadata.SubmitInfo{
		CommandBuffers:   []metadata.CommandBufferRef{slot.primary.Handle()},
		WaitSemaphores:   []metadata.Handle{fs.swapchain.AcquireSemaphore(slot.index)},
		WaitStages:       []metadata.PipelineStage{metadata.PipelineStageColorAttachmentOutput},
		SignalSemaphores: []metadata.Handle{fs.swapchain.PresentSemaphore(imageIndex)},
		Fence:            slot.fence,
	})
	if err != nil {
		if rerr := fs.replaceFence(slot); rerr != nil {
			core.LogError("unable to replace frame fence", "err", rerr)
		}
		return fs.abandon(errors.Wrap(err, "submitting frame"))
	}
	fs.swapchain.SwapImageFence(imageIndex, slot.fence)
	fs.frameNumber++

	// Presenting
	if err := fs.swapchain.Present(imageIndex); err != nil {
		if errors.Is(err, core.ErrDeviceLost) {
			return err
		}
		core.LogWith("frame").Warn("present failed, swapchain will be recreated", "err", err)
		core.MetricsFrameSkipped()
		return nil
	}

	fs.lastFrameTime = time.Since(start)
	core.MetricsFrameDrawn(len(draws), len(chunks))
	return nil
}

// skip turns swapchain signals into a skipped frame; anything else is returned.
func (fs *FrameSystem) skip(err error) error {
	if errors.Is(err, core.ErrSwapchainBooting) || core.IsSwapchainSignal(err) {
		core.MetricsFrameSkipped()
		return errors.Mark(err, core.ErrSwapchainBooting)
	}
	return err
}

// abandon handles a failure between acquire and submit. The acquire semaphore
// stays signalled, so the swapchain is rebuilt before the next frame.
func (fs *FrameSystem) abandon(err error) error {
	fs.swapchain.Invalidate("frame abandoned")
	core.MetricsFrameSkipped()
	return err
}

func (fs *FrameSystem) replaceFence(slot *frameSlot) error {
	fs.swapchain.ForgetFence(slot.fence)
	fs.device.DestroyFence(slot.fence)
	f, err := fs.device.CreateFence(true)
	if err != nil {
		return err
	}
	slot.fence = f
	return nil
}

func (fs *FrameSystem) updateFrameData(slot *frameSlot, viewProjection math.Mat4, transforms []math.Mat4) error {
	copy(slot.camera.Allocation.Mapped, sliceBytes(viewProjection[:]))

	if len(transforms) > slot.transformCapacity {
		capacity := slot.transformCapacity
		for capacity < len(transforms) {
			capacity *= 2
		}
		buf, err := fs.memory.CreateBuffer(uint64(capacity)*mat4Size, metadata.BufferUsageStorage, metadata.MemoryKindUpload)
		if err != nil {
			return errors.Wrap(err, "growing transform buffer")
		}
		old := slot.transforms
		fs.Retire(func() { fs.memory.DestroyBuffer(old) })
		slot.transforms, slot.transformCapacity = buf, capacity
		fs.writeFrameSet(slot)
		core.LogDebug("transform buffer grown", "slot", slot.index, "capacity", capacity)
	}
	copy(slot.transforms.Allocation.Mapped, sliceBytes(transforms))
	return nil
}

type drawChunk struct {
	first, count int
	cb           renderer.CommandBuffer
}

/**
 * @brief Records the draw list into per-worker secondary buffers, one per
 * chunk, and composes them into the slot's primary in draw-list order.
 */
func (fs *FrameSystem) record(slot *frameSlot, imageIndex uint32, draws []metadata.DrawItem, reversed []bool) ([]*drawChunk, error) {
	if err := fs.device.ResetCommandPool(slot.pool); err != nil {
		return nil, err
	}
	for _, a := range slot.arenas {
		if err := fs.device.ResetCommandPool(a.pool); err != nil {
			return nil, err
		}
		a.used = 0
	}

	// Pipelines are built up front so that workers only read shared state.
	pipelines := make(map[metadata.PipelineArchetype]*ArchetypePipeline)
	for _, d := range draws {
		if _, ok := pipelines[d.Archetype]; ok {
			continue
		}
		p, err := fs.pipelines.Build(d.Archetype)
		if err != nil {
			return nil, err
		}
		pipelines[d.Archetype] = p
	}

	framebuffer := fs.swapchain.Framebuffer(imageIndex)
	extent := fs.swapchain.Extent()
	inheritance := &metadata.InheritanceInfo{RenderPass: fs.pipelines.RenderPass, Framebuffer: framebuffer}

	var chunks []*drawChunk
	for first := 0; first < len(draws); first += fs.Config.DrawChunkSize {
		count := fs.Config.DrawChunkSize
		if first+count > len(draws) {
			count = len(draws) - first
		}
		chunks = append(chunks, &drawChunk{first: first, count: count})
	}

	jobs := make([]JobTask, len(chunks))
	for i, c := range chunks {
		c := c
		jobs[i] = JobTask{
			Name: "record draw chunk",
			OnStart: func(workerID int) error {
				cb, err := slot.arenas[workerID].next(fs.device)
				if err != nil {
					return err
				}
				c.cb = cb
				return fs.recordChunk(cb, inheritance, extent, slot.descriptorSet, pipelines, draws[c.first:c.first+c.count], reversed[c.first:c.first+c.count])
			},
		}
	}
	if err := fs.jobs.RunAll(jobs); err != nil {
		return nil, errors.Wrap(err, "recording draw chunks")
	}

	primary := slot.primary
	if err := primary.Begin(metadata.CommandBufferUsageOneTimeSubmit, nil); err != nil {
		return nil, err
	}
	clear := metadata.ClearValues{Color: fs.Config.ClearColor, Depth: 1}
	primary.BeginRenderPass(fs.pipelines.RenderPass, framebuffer, extent, clear, metadata.SubpassContentsSecondary)
	if len(chunks) > 0 {
		secondaries := make([]renderer.CommandBuffer, len(chunks))
		for i, c := range chunks {
			secondaries[i] = c.cb
		}
		primary.ExecuteCommands(secondaries)
	}
	primary.EndRenderPass()
	if err := primary.End(); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (fs *FrameSystem) recordChunk(cb renderer.CommandBuffer, inheritance *metadata.InheritanceInfo, extent metadata.Extent, frameSet metadata.Handle, pipelines map[metadata.PipelineArchetype]*ArchetypePipeline, draws []metadata.DrawItem, reversed []bool) error {
	usage := metadata.CommandBufferUsageOneTimeSubmit | metadata.CommandBufferUsageRenderPassContinue
	if err := cb.Begin(usage, inheritance); err != nil {
		return err
	}
	cb.SetViewport(extent)
	cb.SetScissor(extent)
	layout := fs.pipelines.Layout
	cb.BindDescriptorSets(layout, 0, []metadata.Handle{frameSet}, nil)

	var (
		boundPipeline metadata.Handle
		boundMaterial metadata.Handle
		push          [4]byte
	)
	for i, d := range draws {
		p := pipelines[d.Archetype].Select(reversed[i])
		if p != boundPipeline {
			cb.BindPipeline(p)
			boundPipeline = p
		}
		if d.DescriptorSet != boundMaterial {
			cb.BindDescriptorSets(layout, 1, []metadata.Handle{d.DescriptorSet}, nil)
			boundMaterial = d.DescriptorSet
		}
		binary.LittleEndian.PutUint32(push[:], d.DrawIndex)
		cb.PushConstants(layout, metadata.ShaderStageVertex, 0, push[:])
		cb.BindVertexBuffer(d.Mesh.VertexBuffer.Handle, 0)
		if d.Mesh.IndexBuffer != nil {
			cb.BindIndexBuffer(d.Mesh.IndexBuffer.Handle, 0)
			cb.DrawIndexed(d.Mesh.IndexCount, 1, 0, 0, 0)
		} else {
			cb.Draw(d.Mesh.VertexCount, 1, 0, 0)
		}
	}
	return cb.End()
}

func (fs *FrameSystem) destroySlots() {
	for _, slot := range fs.slots {
		for _, a := range slot.arenas {
			fs.device.DestroyCommandPool(a.pool)
		}
		if slot.pool != nil {
			fs.device.DestroyCommandPool(slot.pool)
		}
		if slot.fence != nil {
			fs.swapchain.ForgetFence(slot.fence)
			fs.device.DestroyFence(slot.fence)
		}
		fs.memory.DestroyBuffer(slot.camera)
		fs.memory.DestroyBuffer(slot.transforms)
	}
	fs.slots = nil
	if fs.descriptorPool != nil {
		fs.device.DestroyDescriptorPool(fs.descriptorPool)
		fs.descriptorPool = nil
	}
}

// Shutdown waits for every slot, runs retired work and destroys the slots.
func (fs *FrameSystem) Shutdown() error {
	for _, slot := range fs.slots {
		if err := fs.waitSlot(slot); err != nil {
			core.LogWarn("frame slot did not finish before shutdown", "slot", slot.index, "err", err)
		}
	}
	if err := fs.device.WaitIdle(); err != nil {
		core.LogWarn("wait idle at frame shutdown failed", "err", err)
	}
	fs.flushRetired()
	fs.destroySlots()
	return nil
}
