package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

func (d *Device) CreateFramebuffer(pass metadata.Handle, attachments []metadata.Handle, extent metadata.Extent) (metadata.Handle, error) {
	views := make([]vk.ImageView, len(attachments))
	for i, a := range attachments {
		views[i] = handleAs[vk.ImageView](a)
	}
	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      handleAs[vk.RenderPass](pass),
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	var framebuffer vk.Framebuffer
	if err := d.check(vk.CreateFramebuffer(d.logical(), &info, d.context.Allocator, &framebuffer), "vkCreateFramebuffer"); err != nil {
		return nil, err
	}
	return framebuffer, nil
}

func (d *Device) DestroyFramebuffer(framebuffer metadata.Handle) {
	if f := handleAs[vk.Framebuffer](framebuffer); f != vk.NullFramebuffer {
		vk.DestroyFramebuffer(d.logical(), f, d.context.Allocator)
	}
}
