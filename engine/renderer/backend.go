package renderer

import (
	"time"

	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

/**
 * @brief The device a rendering backend exposes to the systems. Every
 * GPU-resident object is created and destroyed through it; the returned
 * handles are opaque and only meaningful to the same device.
 *
 * Blocking calls (WaitFence, WaitIdle, AcquireNextImage) return
 * core.ErrDeviceLost when the device is gone. AllocateMemory returns
 * core.ErrOutOfDeviceMemory when the heap is exhausted.
 */
type Device interface {
	Properties() metadata.DeviceProperties

	MemoryTypes() []metadata.MemoryType
	AllocateMemory(size uint64, memoryTypeIndex uint32) (metadata.Handle, error)
	FreeMemory(memory metadata.Handle)
	// MapMemory returns a slice aliasing the whole allocation.
	MapMemory(memory metadata.Handle, size uint64) ([]byte, error)
	UnmapMemory(memory metadata.Handle)

	CreateBuffer(size uint64, usage metadata.BufferUsage) (metadata.Handle, metadata.MemoryRequirements, error)
	BindBufferMemory(buffer, memory metadata.Handle, offset uint64) error
	DestroyBuffer(buffer metadata.Handle)

	CreateImage(desc metadata.ImageDesc) (metadata.Handle, metadata.MemoryRequirements, error)
	BindImageMemory(image, memory metadata.Handle, offset uint64) error
	DestroyImage(image metadata.Handle)
	CreateImageView(image metadata.Handle, format metadata.Format, aspect metadata.ImageAspect, mipLevels uint32) (metadata.Handle, error)
	DestroyImageView(view metadata.Handle)
	CreateSampler(desc metadata.SamplerDesc) (metadata.Handle, error)
	DestroySampler(sampler metadata.Handle)

	CreateCommandPool(queue metadata.QueueKind) (metadata.Handle, error)
	// ResetCommandPool resets every command buffer allocated from the pool.
	ResetCommandPool(pool metadata.Handle) error
	DestroyCommandPool(pool metadata.Handle)
	AllocateCommandBuffer(pool metadata.Handle, level metadata.CommandBufferLevel) (CommandBuffer, error)
	FreeCommandBuffer(pool metadata.Handle, cb CommandBuffer)
	Submit(queue metadata.QueueKind, info metadata.SubmitInfo) error
	WaitIdle() error

	CreateFence(signaled bool) (metadata.Handle, error)
	// WaitFence returns false when the timeout elapsed before the fence signalled.
	WaitFence(fence metadata.Handle, timeout time.Duration) (bool, error)
	ResetFence(fence metadata.Handle) error
	DestroyFence(fence metadata.Handle)
	CreateSemaphore() (metadata.Handle, error)
	DestroySemaphore(semaphore metadata.Handle)

	SurfaceCapabilities() (metadata.SurfaceCapabilities, error)
	CreateSwapchain(desc metadata.SwapchainDesc) (metadata.Handle, []metadata.Handle, error)
	DestroySwapchain(swapchain metadata.Handle)
	// AcquireNextImage may return a valid index together with core.ErrSuboptimal,
	// or core.ErrOutOfDate with no usable image.
	AcquireNextImage(swapchain metadata.Handle, timeout time.Duration, signal metadata.Handle) (uint32, error)
	Present(swapchain metadata.Handle, imageIndex uint32, wait metadata.Handle) error

	CreateDescriptorSetLayout(bindings []metadata.DescriptorBinding) (metadata.Handle, error)
	DestroyDescriptorSetLayout(layout metadata.Handle)
	CreateDescriptorPool(maxSets uint32, sizes []metadata.DescriptorPoolSize) (metadata.Handle, error)
	// DestroyDescriptorPool frees every set allocated from the pool.
	DestroyDescriptorPool(pool metadata.Handle)
	AllocateDescriptorSet(pool, layout metadata.Handle) (metadata.Handle, error)
	UpdateDescriptorSet(set metadata.Handle, writes []metadata.DescriptorWrite)

	CreateShaderModule(code []uint32) (metadata.Handle, error)
	DestroyShaderModule(module metadata.Handle)
	CreateRenderPass(desc metadata.RenderPassDesc) (metadata.Handle, error)
	DestroyRenderPass(pass metadata.Handle)
	CreateFramebuffer(pass metadata.Handle, attachments []metadata.Handle, extent metadata.Extent) (metadata.Handle, error)
	DestroyFramebuffer(framebuffer metadata.Handle)
	CreatePipelineLayout(setLayouts []metadata.Handle, pushConstants []metadata.PushConstantRange) (metadata.Handle, error)
	DestroyPipelineLayout(layout metadata.Handle)
	CreateGraphicsPipeline(desc metadata.PipelineDesc) (metadata.Handle, error)
	DestroyPipeline(pipeline metadata.Handle)

	Destroy()
}

/**
 * @brief A command buffer being recorded. A command buffer is owned by one
 * goroutine between Begin and End.
 */
type CommandBuffer interface {
	Handle() metadata.CommandBufferRef
	Level() metadata.CommandBufferLevel

	Begin(usage metadata.CommandBufferUsage, inheritance *metadata.InheritanceInfo) error
	End() error
	Reset() error

	CopyBuffer(src, dst metadata.Handle, regions []metadata.BufferCopy)
	CopyBufferToImage(src, dst metadata.Handle, width, height uint32)
	TransitionImageLayout(image metadata.Handle, format metadata.Format, from, to metadata.ImageLayout, baseMip, mipCount uint32)
	// BlitMip downsamples mip level-1 into level. Level-1 must be in
	// TransferSrc layout and level in TransferDst layout.
	BlitMip(image metadata.Handle, level uint32, srcWidth, srcHeight int32)

	BeginRenderPass(pass, framebuffer metadata.Handle, extent metadata.Extent, clear metadata.ClearValues, contents metadata.SubpassContents)
	EndRenderPass()
	SetViewport(extent metadata.Extent)
	SetScissor(extent metadata.Extent)
	BindPipeline(pipeline metadata.Handle)
	BindDescriptorSets(layout metadata.Handle, firstSet uint32, sets []metadata.Handle, dynamicOffsets []uint32)
	BindVertexBuffer(buffer metadata.Handle, offset uint64)
	BindIndexBuffer(buffer metadata.Handle, offset uint64)
	PushConstants(layout metadata.Handle, stages metadata.ShaderStage, offset uint32, data []byte)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	ExecuteCommands(secondaries []CommandBuffer)
}
