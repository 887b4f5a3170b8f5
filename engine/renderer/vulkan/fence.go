package vulkan

import (
	"math"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

func (d *Device) CreateFence(signaled bool) (metadata.Handle, error) {
	info := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := d.check(vk.CreateFence(d.logical(), &info, d.context.Allocator, &fence), "vkCreateFence"); err != nil {
		return nil, err
	}
	return fence, nil
}

func (d *Device) WaitFence(fence metadata.Handle, timeout time.Duration) (bool, error) {
	if err := d.lostError(); err != nil {
		return false, err
	}
	ns := uint64(math.MaxUint64)
	if timeout >= 0 {
		ns = uint64(timeout.Nanoseconds())
	}
	result := vk.WaitForFences(d.logical(), 1, []vk.Fence{handleAs[vk.Fence](fence)}, vk.True, ns)
	switch result {
	case vk.Success:
		return true, nil
	case vk.Timeout:
		return false, nil
	}
	return false, d.check(result, "vkWaitForFences")
}

func (d *Device) ResetFence(fence metadata.Handle) error {
	return d.check(vk.ResetFences(d.logical(), 1, []vk.Fence{handleAs[vk.Fence](fence)}), "vkResetFences")
}

func (d *Device) DestroyFence(fence metadata.Handle) {
	if f := handleAs[vk.Fence](fence); f != vk.NullFence {
		vk.DestroyFence(d.logical(), f, d.context.Allocator)
	}
}

func (d *Device) CreateSemaphore() (metadata.Handle, error) {
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if err := d.check(vk.CreateSemaphore(d.logical(), &info, d.context.Allocator, &semaphore), "vkCreateSemaphore"); err != nil {
		return nil, err
	}
	return semaphore, nil
}

func (d *Device) DestroySemaphore(semaphore metadata.Handle) {
	if s := handleAs[vk.Semaphore](semaphore); s != vk.NullSemaphore {
		vk.DestroySemaphore(d.logical(), s, d.context.Allocator)
	}
}
