package vulkan

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

// undefinedExtent is reported by surfaces whose size follows the swapchain.
const undefinedExtent = math.MaxUint32

type VulkanSwapchain struct {
	Handle      vk.Swapchain
	ImageFormat vk.SurfaceFormat
	Images      []vk.Image
	Extent      vk.Extent2D
}

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface) (VulkanSwapchainSupportInfo, error) {
	var info VulkanSwapchainSupportInfo
	if err := resultError(vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &info.Capabilities), "vkGetPhysicalDeviceSurfaceCapabilitiesKHR"); err != nil {
		return info, err
	}
	info.Capabilities.Deref()
	info.Capabilities.CurrentExtent.Deref()
	info.Capabilities.MinImageExtent.Deref()
	info.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := resultError(vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil), "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
		return info, err
	}
	if formatCount > 0 {
		info.Formats = make([]vk.SurfaceFormat, formatCount)
		if err := resultError(vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, info.Formats), "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
			return info, err
		}
		for i := range info.Formats {
			info.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if err := resultError(vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil), "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
		return info, err
	}
	if modeCount > 0 {
		info.PresentModes = make([]vk.PresentMode, modeCount)
		if err := resultError(vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, info.PresentModes), "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
			return info, err
		}
	}
	return info, nil
}

/**
 * @brief Reports what the surface supports. Formats and present modes the
 * engine has no enum for are left out. An undefined current extent is
 * replaced by the platform framebuffer size.
 */
func (d *Device) SurfaceCapabilities() (metadata.SurfaceCapabilities, error) {
	if err := d.lostError(); err != nil {
		return metadata.SurfaceCapabilities{}, err
	}
	support, err := DeviceQuerySwapchainSupport(d.device.PhysicalDevice, d.context.Surface)
	if err != nil {
		return metadata.SurfaceCapabilities{}, err
	}
	caps := support.Capabilities
	out := metadata.SurfaceCapabilities{
		CurrentExtent:  metadata.Extent{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height},
		MinImageExtent: metadata.Extent{Width: caps.MinImageExtent.Width, Height: caps.MinImageExtent.Height},
		MaxImageExtent: metadata.Extent{Width: caps.MaxImageExtent.Width, Height: caps.MaxImageExtent.Height},
		MinImageCount:  caps.MinImageCount,
		MaxImageCount:  caps.MaxImageCount,
	}
	if caps.CurrentExtent.Width == undefinedExtent {
		out.CurrentExtent = d.surface.FramebufferExtent()
	}
	for _, f := range support.Formats {
		format := fromVkFormat(f.Format)
		if format == metadata.FormatUndefined || f.ColorSpace != vk.ColorSpaceSrgbNonlinear {
			continue
		}
		out.Formats = append(out.Formats, metadata.SurfaceFormat{Format: format, ColorSpace: metadata.ColorSpaceSrgbNonlinear})
	}
	for _, m := range support.PresentModes {
		switch m {
		case vk.PresentModeFifo:
			out.PresentModes = append(out.PresentModes, metadata.PresentModeFifo)
		case vk.PresentModeMailbox:
			out.PresentModes = append(out.PresentModes, metadata.PresentModeMailbox)
		case vk.PresentModeImmediate:
			out.PresentModes = append(out.PresentModes, metadata.PresentModeImmediate)
		}
	}
	return out, nil
}

func (d *Device) CreateSwapchain(desc metadata.SwapchainDesc) (metadata.Handle, []metadata.Handle, error) {
	if err := d.lostError(); err != nil {
		return nil, nil, err
	}
	support, err := DeviceQuerySwapchainSupport(d.device.PhysicalDevice, d.context.Surface)
	if err != nil {
		return nil, nil, err
	}

	info := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         d.context.Surface,
		MinImageCount:   desc.ImageCount,
		ImageFormat:     vkFormat(desc.Format.Format),
		ImageColorSpace: vk.ColorSpaceSrgbNonlinear,
		ImageExtent: vk.Extent2D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
		},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      vkPresentMode(desc.PresentMode),
		Clipped:          vk.True,
		OldSwapchain:     vk.NullSwapchain,
	}
	if d.device.GraphicsQueueIndex != d.device.PresentQueueIndex {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{d.device.GraphicsQueueIndex, d.device.PresentQueueIndex}
	} else {
		info.ImageSharingMode = vk.SharingModeExclusive
	}
	if old := handleAs[*VulkanSwapchain](desc.OldSwapchain); old != nil {
		info.OldSwapchain = old.Handle
	}

	var handle vk.Swapchain
	if err := d.check(vk.CreateSwapchain(d.logical(), &info, d.context.Allocator, &handle), "vkCreateSwapchainKHR"); err != nil {
		return nil, nil, err
	}

	var count uint32
	if err := d.check(vk.GetSwapchainImages(d.logical(), handle, &count, nil), "vkGetSwapchainImagesKHR"); err != nil {
		vk.DestroySwapchain(d.logical(), handle, d.context.Allocator)
		return nil, nil, err
	}
	images := make([]vk.Image, count)
	if err := d.check(vk.GetSwapchainImages(d.logical(), handle, &count, images), "vkGetSwapchainImagesKHR"); err != nil {
		vk.DestroySwapchain(d.logical(), handle, d.context.Allocator)
		return nil, nil, err
	}

	sc := &VulkanSwapchain{
		Handle:      handle,
		ImageFormat: vk.SurfaceFormat{Format: info.ImageFormat, ColorSpace: info.ImageColorSpace},
		Images:      images,
		Extent:      info.ImageExtent,
	}
	out := make([]metadata.Handle, len(images))
	for i, img := range images {
		out[i] = img
	}
	core.LogDebug("vulkan swapchain created", "width", desc.Extent.Width, "height", desc.Extent.Height, "images", count)
	return sc, out, nil
}

// DestroySwapchain releases the swapchain; its images are owned by it and go with it.
func (d *Device) DestroySwapchain(swapchain metadata.Handle) {
	sc := handleAs[*VulkanSwapchain](swapchain)
	if sc == nil || sc.Handle == vk.NullSwapchain {
		return
	}
	vk.DestroySwapchain(d.logical(), sc.Handle, d.context.Allocator)
	sc.Handle = vk.NullSwapchain
	sc.Images = nil
}

func (d *Device) AcquireNextImage(swapchain metadata.Handle, timeout time.Duration, signal metadata.Handle) (uint32, error) {
	if err := d.lostError(); err != nil {
		return 0, err
	}
	sc := handleAs[*VulkanSwapchain](swapchain)
	if sc == nil {
		return 0, errors.New("acquire on a nil swapchain")
	}
	ns := uint64(math.MaxUint64)
	if timeout >= 0 {
		ns = uint64(timeout.Nanoseconds())
	}
	var index uint32
	result := vk.AcquireNextImage(d.logical(), sc.Handle, ns, handleAs[vk.Semaphore](signal), vk.NullFence, &index)
	switch result {
	case vk.Success:
		return index, nil
	case vk.Suboptimal:
		return index, resultError(result, "vkAcquireNextImageKHR")
	case vk.Timeout, vk.NotReady:
		return 0, errors.Newf("vkAcquireNextImageKHR returned %s", VulkanResultString(result))
	}
	return 0, d.check(result, "vkAcquireNextImageKHR")
}

func (d *Device) Present(swapchain metadata.Handle, imageIndex uint32, wait metadata.Handle) error {
	if err := d.lostError(); err != nil {
		return err
	}
	sc := handleAs[*VulkanSwapchain](swapchain)
	if sc == nil {
		return errors.New("present on a nil swapchain")
	}
	info := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{sc.Handle},
		PImageIndices:  []uint32{imageIndex},
	}
	if s := handleAs[vk.Semaphore](wait); s != vk.NullSemaphore {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{s}
	}
	queue, family := d.queue(metadata.QueuePresent)
	return d.locks.SafeQueueCall(family, func() error {
		return d.check(vk.QueuePresent(queue, &info), "vkQueuePresentKHR")
	})
}
