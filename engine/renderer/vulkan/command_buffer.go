package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-core/engine/renderer"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandPool struct {
	Handle      vk.CommandPool
	QueueFamily uint32
}

/**
 * @brief A vk.CommandBuffer plus the recording state the engine checks
 * before Begin and End.
 */
type VulkanCommandBuffer struct {
	device *Device
	handle vk.CommandBuffer
	level  metadata.CommandBufferLevel
	State  VulkanCommandBufferState
}

var _ renderer.CommandBuffer = (*VulkanCommandBuffer)(nil)

func (d *Device) CreateCommandPool(kind metadata.QueueKind) (metadata.Handle, error) {
	_, family := d.queue(kind)
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if err := d.check(vk.CreateCommandPool(d.logical(), &info, d.context.Allocator, &pool), "vkCreateCommandPool"); err != nil {
		return nil, err
	}
	return &VulkanCommandPool{Handle: pool, QueueFamily: family}, nil
}

func (d *Device) ResetCommandPool(pool metadata.Handle) error {
	p := handleAs[*VulkanCommandPool](pool)
	if p == nil {
		return errors.New("reset of a nil command pool")
	}
	return d.check(vk.ResetCommandPool(d.logical(), p.Handle, 0), "vkResetCommandPool")
}

func (d *Device) DestroyCommandPool(pool metadata.Handle) {
	p := handleAs[*VulkanCommandPool](pool)
	if p == nil || p.Handle == vk.NullCommandPool {
		return
	}
	_ = d.locks.SafeCall(CommandPoolManagement, func() error {
		vk.DestroyCommandPool(d.logical(), p.Handle, d.context.Allocator)
		p.Handle = vk.NullCommandPool
		return nil
	})
}

func (d *Device) AllocateCommandBuffer(pool metadata.Handle, level metadata.CommandBufferLevel) (renderer.CommandBuffer, error) {
	p := handleAs[*VulkanCommandPool](pool)
	if p == nil {
		return nil, errors.New("allocation from a nil command pool")
	}
	vkLevel := vk.CommandBufferLevelPrimary
	if level == metadata.CommandBufferLevelSecondary {
		vkLevel = vk.CommandBufferLevelSecondary
	}
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.Handle,
		CommandBufferCount: 1,
		Level:              vkLevel,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if err := d.locks.SafeCall(CommandPoolManagement, func() error {
		return d.check(vk.AllocateCommandBuffers(d.logical(), &info, buffers), "vkAllocateCommandBuffers")
	}); err != nil {
		return nil, err
	}
	return &VulkanCommandBuffer{
		device: d,
		handle: buffers[0],
		level:  level,
		State:  COMMAND_BUFFER_STATE_READY,
	}, nil
}

func (d *Device) FreeCommandBuffer(pool metadata.Handle, cb renderer.CommandBuffer) {
	p := handleAs[*VulkanCommandPool](pool)
	v, ok := cb.(*VulkanCommandBuffer)
	if p == nil || !ok || v.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return
	}
	_ = d.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(d.logical(), p.Handle, 1, []vk.CommandBuffer{v.handle})
		return nil
	})
	v.handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Handle() metadata.CommandBufferRef {
	return v.handle
}

func (v *VulkanCommandBuffer) Level() metadata.CommandBufferLevel {
	return v.level
}

func (v *VulkanCommandBuffer) Begin(usage metadata.CommandBufferUsage, inheritance *metadata.InheritanceInfo) error {
	if v.State != COMMAND_BUFFER_STATE_READY && v.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return errors.Newf("command buffer begin in state %d", v.State)
	}
	var flags vk.CommandBufferUsageFlagBits
	if usage&metadata.CommandBufferUsageOneTimeSubmit != 0 {
		flags |= vk.CommandBufferUsageOneTimeSubmitBit
	}
	if usage&metadata.CommandBufferUsageRenderPassContinue != 0 {
		flags |= vk.CommandBufferUsageRenderPassContinueBit
	}
	if usage&metadata.CommandBufferUsageSimultaneousUse != 0 {
		flags |= vk.CommandBufferUsageSimultaneousUseBit
	}
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(flags),
	}
	if inheritance != nil {
		info.PInheritanceInfo = []vk.CommandBufferInheritanceInfo{{
			SType:       vk.StructureTypeCommandBufferInheritanceInfo,
			RenderPass:  handleAs[vk.RenderPass](inheritance.RenderPass),
			Subpass:     inheritance.Subpass,
			Framebuffer: handleAs[vk.Framebuffer](inheritance.Framebuffer),
		}}
	}
	if err := v.device.check(vk.BeginCommandBuffer(v.handle, &info), "vkBeginCommandBuffer"); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return errors.Newf("command buffer end in state %d", v.State)
	}
	if err := v.device.check(vk.EndCommandBuffer(v.handle), "vkEndCommandBuffer"); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) Reset() error {
	if err := v.device.check(vk.ResetCommandBuffer(v.handle, 0), "vkResetCommandBuffer"); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (v *VulkanCommandBuffer) CopyBuffer(src, dst metadata.Handle, regions []metadata.BufferCopy) {
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(v.handle, handleAs[vk.Buffer](src), handleAs[vk.Buffer](dst), uint32(len(copies)), copies)
}

func (v *VulkanCommandBuffer) CopyBufferToImage(src, dst metadata.Handle, width, height uint32) {
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(v.handle, handleAs[vk.Buffer](src), handleAs[vk.Image](dst), vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
}

func (v *VulkanCommandBuffer) TransitionImageLayout(image metadata.Handle, format metadata.Format, from, to metadata.ImageLayout, baseMip, mipCount uint32) {
	oldLayout, srcAccess, srcStage := layoutAccess(from)
	newLayout, dstAccess, dstStage := layoutAccess(to)
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               handleAs[vk.Image](image),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:   aspectOf(format),
			BaseMipLevel: baseMip,
			LevelCount:   max(mipCount, 1),
			LayerCount:   1,
		},
	}
	vk.CmdPipelineBarrier(v.handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func (v *VulkanCommandBuffer) BlitMip(image metadata.Handle, level uint32, srcWidth, srcHeight int32) {
	dstWidth, dstHeight := max(srcWidth/2, 1), max(srcHeight/2, 1)
	blit := vk.ImageBlit{
		SrcSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:   level - 1,
			LayerCount: 1,
		},
		SrcOffsets: [2]vk.Offset3D{{}, {X: srcWidth, Y: srcHeight, Z: 1}},
		DstSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:   level,
			LayerCount: 1,
		},
		DstOffsets: [2]vk.Offset3D{{}, {X: dstWidth, Y: dstHeight, Z: 1}},
	}
	img := handleAs[vk.Image](image)
	vk.CmdBlitImage(v.handle,
		img, vk.ImageLayoutTransferSrcOptimal,
		img, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{blit}, vk.FilterLinear)
}

func (v *VulkanCommandBuffer) BeginRenderPass(pass, framebuffer metadata.Handle, extent metadata.Extent, clear metadata.ClearValues, contents metadata.SubpassContents) {
	clearValues := []vk.ClearValue{
		vk.NewClearValue(clear.Color[:]),
		vk.NewClearDepthStencil(clear.Depth, 0),
	}
	info := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  handleAs[vk.RenderPass](pass),
		Framebuffer: handleAs[vk.Framebuffer](framebuffer),
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	subpass := vk.SubpassContentsInline
	if contents == metadata.SubpassContentsSecondary {
		subpass = vk.SubpassContentsSecondaryCommandBuffers
	}
	vk.CmdBeginRenderPass(v.handle, &info, subpass)
	v.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (v *VulkanCommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(v.handle)
	v.State = COMMAND_BUFFER_STATE_RECORDING
}

func (v *VulkanCommandBuffer) SetViewport(extent metadata.Extent) {
	viewport := vk.Viewport{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	vk.CmdSetViewport(v.handle, 0, 1, []vk.Viewport{viewport})
}

func (v *VulkanCommandBuffer) SetScissor(extent metadata.Extent) {
	scissor := vk.Rect2D{
		Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
	}
	vk.CmdSetScissor(v.handle, 0, 1, []vk.Rect2D{scissor})
}

func (v *VulkanCommandBuffer) BindPipeline(pipeline metadata.Handle) {
	vk.CmdBindPipeline(v.handle, vk.PipelineBindPointGraphics, handleAs[vk.Pipeline](pipeline))
}

func (v *VulkanCommandBuffer) BindDescriptorSets(layout metadata.Handle, firstSet uint32, sets []metadata.Handle, dynamicOffsets []uint32) {
	vkSets := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		vkSets[i] = handleAs[vk.DescriptorSet](s)
	}
	vk.CmdBindDescriptorSets(v.handle, vk.PipelineBindPointGraphics, handleAs[vk.PipelineLayout](layout),
		firstSet, uint32(len(vkSets)), vkSets, uint32(len(dynamicOffsets)), dynamicOffsets)
}

func (v *VulkanCommandBuffer) BindVertexBuffer(buffer metadata.Handle, offset uint64) {
	vk.CmdBindVertexBuffers(v.handle, 0, 1, []vk.Buffer{handleAs[vk.Buffer](buffer)}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (v *VulkanCommandBuffer) BindIndexBuffer(buffer metadata.Handle, offset uint64) {
	vk.CmdBindIndexBuffer(v.handle, handleAs[vk.Buffer](buffer), vk.DeviceSize(offset), vk.IndexTypeUint32)
}

func (v *VulkanCommandBuffer) PushConstants(layout metadata.Handle, stages metadata.ShaderStage, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(v.handle, handleAs[vk.PipelineLayout](layout), vkShaderStages(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (v *VulkanCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(v.handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (v *VulkanCommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(v.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (v *VulkanCommandBuffer) ExecuteCommands(secondaries []renderer.CommandBuffer) {
	if len(secondaries) == 0 {
		return
	}
	buffers := make([]vk.CommandBuffer, 0, len(secondaries))
	for _, s := range secondaries {
		buffers = append(buffers, handleAs[vk.CommandBuffer](s.Handle()))
	}
	vk.CmdExecuteCommands(v.handle, uint32(len(buffers)), buffers)
}
