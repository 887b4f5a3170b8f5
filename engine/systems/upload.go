package systems

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

type UploadSystemConfig struct {
	/** @brief The number of uploads that may be recorded and in flight at once. */
	Concurrency int
	/** @brief Generate a full mip chain for uploaded textures. */
	GenerateMips bool
	/** @brief How long an upload waits for its transfer fence. */
	FenceTimeout time.Duration
}

// uploadContext is the command pool and fence one upload owns while it runs.
type uploadContext struct {
	pool  metadata.Handle
	cb    renderer.CommandBuffer
	fence metadata.Handle
}

type UploadSystem struct {
	Config *UploadSystemConfig

	device   renderer.Device
	memory   *MemorySystem
	contexts chan *uploadContext
	all      []*uploadContext
}

func NewUploadSystem(config *UploadSystemConfig, device renderer.Device, memory *MemorySystem) (*UploadSystem, error) {
	if config.Concurrency <= 0 {
		err := errors.New("func NewUploadSystem - config.Concurrency must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	if config.FenceTimeout == 0 {
		config.FenceTimeout = 10 * time.Second
	}
	us := &UploadSystem{
		Config:   config,
		device:   device,
		memory:   memory,
		contexts: make(chan *uploadContext, config.Concurrency),
	}
	for i := 0; i < config.Concurrency; i++ {
		ctx, err := us.newContext()
		if err != nil {
			us.Shutdown()
			return nil, err
		}
		us.all = append(us.all, ctx)
		us.contexts <- ctx
	}
	return us, nil
}

func (us *UploadSystem) newContext() (*uploadContext, error) {
	pool, err := us.device.CreateCommandPool(metadata.QueueGraphics)
	if err != nil {
		return nil, errors.Wrap(err, "creating upload command pool")
	}
	cb, err := us.device.AllocateCommandBuffer(pool, metadata.CommandBufferLevelPrimary)
	if err != nil {
		us.device.DestroyCommandPool(pool)
		return nil, errors.Wrap(err, "allocating upload command buffer")
	}
	fence, err := us.device.CreateFence(false)
	if err != nil {
		us.device.DestroyCommandPool(pool)
		return nil, errors.Wrap(err, "creating upload fence")
	}
	return &uploadContext{pool: pool, cb: cb, fence: fence}, nil
}

/**
 * @brief Records commands with the given function into a one-time command
 * buffer, submits it on the graphics queue and blocks until it completed.
 * Mip blits and the fragment-stage barriers need a graphics-capable queue,
 * and the graphics queue then owns every uploaded resource.
 * A rejected submission is reported as core.ErrTransferFailed.
 */
func (us *UploadSystem) submit(record func(cb renderer.CommandBuffer)) error {
	ctx := <-us.contexts
	defer func() { us.contexts <- ctx }()

	if err := us.device.ResetCommandPool(ctx.pool); err != nil {
		return errors.Wrap(err, "resetting upload command pool")
	}
	if err := ctx.cb.Begin(metadata.CommandBufferUsageOneTimeSubmit, nil); err != nil {
		return errors.Wrap(err, "beginning upload command buffer")
	}
	record(ctx.cb)
	if err := ctx.cb.End(); err != nil {
		return errors.Wrap(err, "ending upload command buffer")
	}
	if err := us.device.ResetFence(ctx.fence); err != nil {
		return errors.Wrap(err, "resetting upload fence")
	}

	err := us.device.Submit(metadata.QueueGraphics, metadata.SubmitInfo{
		CommandBuffers: []metadata.CommandBufferRef{ctx.cb.Handle()},
		Fence:          ctx.fence,
	})
	if err != nil {
		if errors.Is(err, core.ErrDeviceLost) {
			return err
		}
		return errors.Mark(errors.Wrap(err, "transfer submission rejected"), core.ErrTransferFailed)
	}

	signaled, err := us.device.WaitFence(ctx.fence, us.Config.FenceTimeout)
	if err != nil {
		return err
	}
	if !signaled {
		// The staging buffer must outlive the copy, so drain before reporting.
		if err := us.device.WaitIdle(); err != nil {
			return err
		}
		return errors.Wrapf(core.ErrTransferFailed, "transfer fence not signalled after %s", us.Config.FenceTimeout)
	}
	return nil
}

func (us *UploadSystem) createStaging(data []byte) (*metadata.GpuBuffer, error) {
	staging, err := us.memory.CreateBuffer(uint64(len(data)), metadata.BufferUsageTransferSrc, metadata.MemoryKindUpload)
	if err != nil {
		return nil, errors.Wrap(err, "creating staging buffer")
	}
	copy(staging.Allocation.Mapped, data)
	return staging, nil
}

/**
 * @brief Copies data into a new device-local buffer. Blocks until the
 * transfer completed. On failure nothing is left allocated.
 */
func (us *UploadSystem) UploadBuffer(data []byte, usage metadata.BufferUsage) (*metadata.GpuBuffer, error) {
	if len(data) == 0 {
		return nil, errors.New("upload of an empty buffer")
	}
	dst, err := us.memory.CreateBuffer(uint64(len(data)), usage|metadata.BufferUsageTransferDst, metadata.MemoryKindDeviceLocal)
	if err != nil {
		return nil, err
	}
	staging, err := us.createStaging(data)
	if err != nil {
		us.memory.DestroyBuffer(dst)
		return nil, err
	}
	defer us.memory.DestroyBuffer(staging)

	err = us.submit(func(cb renderer.CommandBuffer) {
		cb.CopyBuffer(staging.Handle, dst.Handle, []metadata.BufferCopy{{Size: uint64(len(data))}})
	})
	if err != nil {
		us.memory.DestroyBuffer(dst)
		return nil, err
	}
	return dst, nil
}

/**
 * @brief Uploads texture pixels into a new sampled image, generating the
 * mip chain by successive blits when enabled. The image is left in
 * shader-read layout.
 */
func (us *UploadSystem) UploadImage(src *metadata.TextureSource) (*metadata.GpuImage, error) {
	pixels, err := TextureSourceRGBA(src)
	if err != nil {
		return nil, err
	}
	format := metadata.FormatR8G8B8A8Unorm
	if src.SRGB {
		format = metadata.FormatR8G8B8A8Srgb
	}
	mips := uint32(1)
	if us.Config.GenerateMips {
		mips = math.MipLevels(src.Width, src.Height)
	}

	img, err := us.memory.CreateImage(metadata.ImageDesc{
		Width:     src.Width,
		Height:    src.Height,
		MipLevels: mips,
		Format:    format,
		Usage:     metadata.ImageUsageTransferSrc | metadata.ImageUsageTransferDst | metadata.ImageUsageSampled,
	})
	if err != nil {
		return nil, err
	}
	staging, err := us.createStaging(pixels)
	if err != nil {
		us.memory.DestroyImage(img)
		return nil, err
	}
	defer us.memory.DestroyBuffer(staging)

	err = us.submit(func(cb renderer.CommandBuffer) {
		cb.TransitionImageLayout(img.Handle, format, metadata.ImageLayoutUndefined, metadata.ImageLayoutTransferDst, 0, mips)
		cb.CopyBufferToImage(staging.Handle, img.Handle, src.Width, src.Height)

		w, h := int32(src.Width), int32(src.Height)
		for level := uint32(1); level < mips; level++ {
			cb.TransitionImageLayout(img.Handle, format, metadata.ImageLayoutTransferDst, metadata.ImageLayoutTransferSrc, level-1, 1)
			cb.BlitMip(img.Handle, level, w, h)
			cb.TransitionImageLayout(img.Handle, format, metadata.ImageLayoutTransferSrc, metadata.ImageLayoutShaderReadOnly, level-1, 1)
			w, h = max(w/2, 1), max(h/2, 1)
		}
		cb.TransitionImageLayout(img.Handle, format, metadata.ImageLayoutTransferDst, metadata.ImageLayoutShaderReadOnly, mips-1, 1)
	})
	if err != nil {
		us.memory.DestroyImage(img)
		return nil, err
	}
	return img, nil
}

func (us *UploadSystem) Shutdown() error {
	for _, ctx := range us.all {
		us.device.DestroyFence(ctx.fence)
		us.device.FreeCommandBuffer(ctx.pool, ctx.cb)
		us.device.DestroyCommandPool(ctx.pool)
	}
	us.all = nil
	return nil
}
