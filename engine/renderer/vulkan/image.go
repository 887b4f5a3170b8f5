package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

func (d *Device) AllocateMemory(size uint64, memoryTypeIndex uint32) (metadata.Handle, error) {
	if err := d.lostError(); err != nil {
		return nil, err
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: memoryTypeIndex,
	}
	var memory vk.DeviceMemory
	if err := d.check(vk.AllocateMemory(d.logical(), &info, d.context.Allocator, &memory), "vkAllocateMemory"); err != nil {
		return nil, err
	}
	return memory, nil
}

func (d *Device) FreeMemory(memory metadata.Handle) {
	if m := handleAs[vk.DeviceMemory](memory); m != vk.NullDeviceMemory {
		vk.FreeMemory(d.logical(), m, d.context.Allocator)
	}
}

func (d *Device) MapMemory(memory metadata.Handle, size uint64) ([]byte, error) {
	var data unsafe.Pointer
	if err := d.check(vk.MapMemory(d.logical(), handleAs[vk.DeviceMemory](memory), 0, vk.DeviceSize(size), 0, &data), "vkMapMemory"); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(data), size), nil
}

func (d *Device) UnmapMemory(memory metadata.Handle) {
	vk.UnmapMemory(d.logical(), handleAs[vk.DeviceMemory](memory))
}

func (d *Device) CreateBuffer(size uint64, usage metadata.BufferUsage) (metadata.Handle, metadata.MemoryRequirements, error) {
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vkBufferUsage(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if err := d.check(vk.CreateBuffer(d.logical(), &info, d.context.Allocator, &buffer), "vkCreateBuffer"); err != nil {
		return nil, metadata.MemoryRequirements{}, err
	}
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.logical(), buffer, &reqs)
	reqs.Deref()
	return buffer, requirements(reqs), nil
}

func requirements(reqs vk.MemoryRequirements) metadata.MemoryRequirements {
	return metadata.MemoryRequirements{
		Size:           uint64(reqs.Size),
		Alignment:      uint64(reqs.Alignment),
		MemoryTypeBits: reqs.MemoryTypeBits,
	}
}

func (d *Device) BindBufferMemory(buffer, memory metadata.Handle, offset uint64) error {
	return d.check(vk.BindBufferMemory(d.logical(), handleAs[vk.Buffer](buffer), handleAs[vk.DeviceMemory](memory), vk.DeviceSize(offset)), "vkBindBufferMemory")
}

func (d *Device) DestroyBuffer(buffer metadata.Handle) {
	if b := handleAs[vk.Buffer](buffer); b != vk.NullBuffer {
		vk.DestroyBuffer(d.logical(), b, d.context.Allocator)
	}
}

func (d *Device) CreateImage(desc metadata.ImageDesc) (metadata.Handle, metadata.MemoryRequirements, error) {
	mips := desc.MipLevels
	if mips == 0 {
		mips = 1
	}
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vkFormat(desc.Format),
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     mips,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var image vk.Image
	if err := d.check(vk.CreateImage(d.logical(), &info, d.context.Allocator, &image), "vkCreateImage"); err != nil {
		return nil, metadata.MemoryRequirements{}, err
	}
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.logical(), image, &reqs)
	reqs.Deref()
	req := requirements(reqs)
	req.Optimal = true
	return image, req, nil
}

func (d *Device) BindImageMemory(image, memory metadata.Handle, offset uint64) error {
	return d.check(vk.BindImageMemory(d.logical(), handleAs[vk.Image](image), handleAs[vk.DeviceMemory](memory), vk.DeviceSize(offset)), "vkBindImageMemory")
}

func (d *Device) DestroyImage(image metadata.Handle) {
	if i := handleAs[vk.Image](image); i != vk.NullImage {
		vk.DestroyImage(d.logical(), i, d.context.Allocator)
	}
}

func (d *Device) CreateImageView(image metadata.Handle, format metadata.Format, aspect metadata.ImageAspect, mipLevels uint32) (metadata.Handle, error) {
	if mipLevels == 0 {
		mipLevels = 1
	}
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    handleAs[vk.Image](image),
		ViewType: vk.ImageViewType2d,
		Format:   vkFormat(format),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vkAspect(aspect),
			BaseMipLevel:   0,
			LevelCount:     mipLevels,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	var view vk.ImageView
	if err := d.check(vk.CreateImageView(d.logical(), &info, d.context.Allocator, &view), "vkCreateImageView"); err != nil {
		return nil, err
	}
	return view, nil
}

func (d *Device) DestroyImageView(view metadata.Handle) {
	if v := handleAs[vk.ImageView](view); v != vk.NullImageView {
		vk.DestroyImageView(d.logical(), v, d.context.Allocator)
	}
}

func (d *Device) CreateSampler(desc metadata.SamplerDesc) (metadata.Handle, error) {
	info := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vkFilter(desc.MagFilter),
		MinFilter:               vkFilter(desc.MinFilter),
		AddressModeU:            vkAddressMode(desc.AddressModeU),
		AddressModeV:            vkAddressMode(desc.AddressModeV),
		AddressModeW:            vkAddressMode(desc.AddressModeU),
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		MinLod:                  0,
		MaxLod:                  desc.MaxLod,
	}
	if desc.Anisotropy > 1 && d.device.Features.SamplerAnisotropy == vk.True {
		info.AnisotropyEnable = vk.True
		info.MaxAnisotropy = math.Clamp(desc.Anisotropy, 1, d.device.Properties.Limits.MaxSamplerAnisotropy)
	}
	var sampler vk.Sampler
	if err := d.check(vk.CreateSampler(d.logical(), &info, d.context.Allocator, &sampler), "vkCreateSampler"); err != nil {
		return nil, err
	}
	return sampler, nil
}

func (d *Device) DestroySampler(sampler metadata.Handle) {
	if s := handleAs[vk.Sampler](sampler); s != vk.NullSampler {
		vk.DestroySampler(d.logical(), s, d.context.Allocator)
	}
}
