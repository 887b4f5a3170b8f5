package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

/**
 * @brief Creates the single-subpass forward pass: a cleared color attachment
 * that ends in present layout and, when DepthFormat is set, a cleared depth
 * attachment that is not stored.
 */
func (d *Device) CreateRenderPass(desc metadata.RenderPassDesc) (metadata.Handle, error) {
	attachments := []vk.AttachmentDescription{{
		Format:         vkFormat(desc.ColorFormat),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutPresentSrc,
	}}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
	}
	stages := vk.PipelineStageColorAttachmentOutputBit
	access := vk.AccessColorAttachmentWriteBit

	if desc.DepthFormat != metadata.FormatUndefined {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         vkFormat(desc.DepthFormat),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		stages |= vk.PipelineStageEarlyFragmentTestsBit
		access |= vk.AccessDepthStencilAttachmentWriteBit
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(stages),
		DstStageMask:  vk.PipelineStageFlags(stages),
		DstAccessMask: vk.AccessFlags(access),
	}
	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	var pass vk.RenderPass
	if err := d.check(vk.CreateRenderPass(d.logical(), &info, d.context.Allocator, &pass), "vkCreateRenderPass"); err != nil {
		return nil, err
	}
	return pass, nil
}

func (d *Device) DestroyRenderPass(pass metadata.Handle) {
	if p := handleAs[vk.RenderPass](pass); p != vk.NullRenderPass {
		vk.DestroyRenderPass(d.logical(), p, d.context.Allocator)
	}
}
