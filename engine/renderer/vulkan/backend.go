package vulkan

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

type Options struct {
	ApplicationName string
	// Validation enables VK_LAYER_KHRONOS_validation when the layer is installed.
	Validation bool
	Surface    SurfaceProvider
}

/**
 * @brief renderer.Device on top of goki/vulkan. Handles given out are the
 * raw vk handle types, except swapchains and command pools which carry
 * extra bookkeeping.
 */
type Device struct {
	context *VulkanContext
	device  *VulkanDevice
	surface SurfaceProvider
	locks   *VulkanLockPool

	properties  metadata.DeviceProperties
	memoryTypes []metadata.MemoryType

	lost atomic.Bool
}

var _ renderer.Device = (*Device)(nil)

func New(opts Options) (*Device, error) {
	if opts.Surface == nil {
		return nil, errors.New("vulkan backend needs a surface provider")
	}
	ctx, err := newContext(opts.ApplicationName, opts.Validation, opts.Surface)
	if err != nil {
		return nil, err
	}
	device, err := DeviceCreate(ctx)
	if err != nil {
		ctx.destroy()
		return nil, err
	}

	d := &Device{
		context: ctx,
		device:  device,
		surface: opts.Surface,
		locks:   NewVulkanLockPool(),
	}
	d.locks.SetQueueFamily(device.GraphicsQueueIndex)
	d.locks.SetQueueFamily(device.PresentQueueIndex)
	d.locks.SetQueueFamily(device.TransferQueueIndex)

	limits := device.Properties.Limits
	d.properties = metadata.DeviceProperties{
		DeviceName:                      cString(device.Properties.DeviceName[:]),
		MinUniformBufferOffsetAlignment: uint64(limits.MinUniformBufferOffsetAlignment),
		MinStorageBufferOffsetAlignment: uint64(limits.MinStorageBufferOffsetAlignment),
		MaxPushConstantsSize:            limits.MaxPushConstantsSize,
		DepthFormat:                     fromVkFormat(device.DepthFormat),
	}

	memory := device.Memory
	for i := uint32(0); i < memory.MemoryTypeCount; i++ {
		t := memory.MemoryTypes[i]
		t.Deref()
		d.memoryTypes = append(d.memoryTypes, metadata.MemoryType{
			Flags:     memoryFlags(vk.MemoryPropertyFlagBits(t.PropertyFlags)),
			HeapIndex: t.HeapIndex,
		})
	}
	return d, nil
}

func memoryFlags(bits vk.MemoryPropertyFlagBits) metadata.MemoryPropertyFlags {
	var flags metadata.MemoryPropertyFlags
	if bits&vk.MemoryPropertyDeviceLocalBit != 0 {
		flags |= metadata.MemoryPropertyDeviceLocal
	}
	if bits&vk.MemoryPropertyHostVisibleBit != 0 {
		flags |= metadata.MemoryPropertyHostVisible
	}
	if bits&vk.MemoryPropertyHostCoherentBit != 0 {
		flags |= metadata.MemoryPropertyHostCoherent
	}
	if bits&vk.MemoryPropertyHostCachedBit != 0 {
		flags |= metadata.MemoryPropertyHostCached
	}
	return flags
}

func (d *Device) logical() vk.Device {
	return d.device.LogicalDevice
}

// check maps a result and latches device loss.
func (d *Device) check(result vk.Result, op string) error {
	err := resultError(result, op)
	if result == vk.ErrorDeviceLost && !d.lost.Swap(true) {
		core.LogError("device lost", "op", op)
	}
	return err
}

func (d *Device) lostError() error {
	if d.lost.Load() {
		return errors.Mark(errors.New("device lost"), core.ErrDeviceLost)
	}
	return nil
}

func (d *Device) Properties() metadata.DeviceProperties {
	return d.properties
}

func (d *Device) MemoryTypes() []metadata.MemoryType {
	return d.memoryTypes
}

func (d *Device) queue(kind metadata.QueueKind) (vk.Queue, uint32) {
	switch kind {
	case metadata.QueueTransfer:
		return d.device.TransferQueue, d.device.TransferQueueIndex
	case metadata.QueuePresent:
		return d.device.PresentQueue, d.device.PresentQueueIndex
	}
	return d.device.GraphicsQueue, d.device.GraphicsQueueIndex
}

func (d *Device) Submit(kind metadata.QueueKind, info metadata.SubmitInfo) error {
	if err := d.lostError(); err != nil {
		return err
	}
	buffers := make([]vk.CommandBuffer, 0, len(info.CommandBuffers))
	for _, cb := range info.CommandBuffers {
		buffers = append(buffers, handleAs[vk.CommandBuffer](cb))
	}
	waits := make([]vk.Semaphore, 0, len(info.WaitSemaphores))
	for _, s := range info.WaitSemaphores {
		waits = append(waits, handleAs[vk.Semaphore](s))
	}
	stages := make([]vk.PipelineStageFlags, 0, len(info.WaitStages))
	for _, s := range info.WaitStages {
		stages = append(stages, vkPipelineStages(s))
	}
	signals := make([]vk.Semaphore, 0, len(info.SignalSemaphores))
	for _, s := range info.SignalSemaphores {
		signals = append(signals, handleAs[vk.Semaphore](s))
	}

	submit := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(buffers)),
		PCommandBuffers:      buffers,
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}
	fence := vk.NullFence
	if info.Fence != nil {
		fence = handleAs[vk.Fence](info.Fence)
	}

	queue, family := d.queue(kind)
	return d.locks.SafeQueueCall(family, func() error {
		return d.check(vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submit}, fence), "vkQueueSubmit")
	})
}

func (d *Device) WaitIdle() error {
	if err := d.lostError(); err != nil {
		return err
	}
	return d.check(vk.DeviceWaitIdle(d.logical()), "vkDeviceWaitIdle")
}

// Destroy tears down the logical device, surface and instance. Every object
// created through the device must be destroyed first.
func (d *Device) Destroy() {
	if d.device == nil {
		return
	}
	if !d.lost.Load() {
		vk.DeviceWaitIdle(d.logical())
	}
	DeviceDestroy(d.context, d.device)
	d.context.destroy()
	d.device = nil
	core.LogInfo("vulkan device destroyed")
}
