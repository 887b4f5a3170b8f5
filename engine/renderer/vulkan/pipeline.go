package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

// maxPushConstantRanges is what a 128 byte push block with 4 byte alignment allows.
const maxPushConstantRanges = 32

func (d *Device) CreateShaderModule(code []uint32) (metadata.Handle, error) {
	if len(code) == 0 {
		return nil, errors.New("empty SPIR-V module")
	}
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}
	var module vk.ShaderModule
	if err := d.check(vk.CreateShaderModule(d.logical(), &info, d.context.Allocator, &module), "vkCreateShaderModule"); err != nil {
		return nil, err
	}
	return module, nil
}

func (d *Device) DestroyShaderModule(module metadata.Handle) {
	if m := handleAs[vk.ShaderModule](module); m != vk.NullShaderModule {
		vk.DestroyShaderModule(d.logical(), m, d.context.Allocator)
	}
}

func (d *Device) CreatePipelineLayout(setLayouts []metadata.Handle, pushConstants []metadata.PushConstantRange) (metadata.Handle, error) {
	if len(pushConstants) > maxPushConstantRanges {
		return nil, errors.Newf("cannot have more than %d push constant ranges, got %d", maxPushConstantRanges, len(pushConstants))
	}
	layouts := make([]vk.DescriptorSetLayout, len(setLayouts))
	for i, l := range setLayouts {
		layouts[i] = handleAs[vk.DescriptorSetLayout](l)
	}
	ranges := make([]vk.PushConstantRange, len(pushConstants))
	for i, r := range pushConstants {
		ranges[i] = vk.PushConstantRange{
			StageFlags: vkShaderStages(r.Stages),
			Offset:     r.Offset,
			Size:       r.Size,
		}
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(layouts)),
		PSetLayouts:            layouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	var layout vk.PipelineLayout
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		return d.check(vk.CreatePipelineLayout(d.logical(), &info, d.context.Allocator, &layout), "vkCreatePipelineLayout")
	}); err != nil {
		return nil, err
	}
	return layout, nil
}

func (d *Device) DestroyPipelineLayout(layout metadata.Handle) {
	if l := handleAs[vk.PipelineLayout](layout); l != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(d.logical(), l, d.context.Allocator)
	}
}

/**
 * @brief Builds a graphics pipeline with dynamic viewport and scissor so it
 * survives swapchain resizes. Only the render pass compatibility ties it to
 * the swapchain format.
 */
func (d *Device) CreateGraphicsPipeline(desc metadata.PipelineDesc) (metadata.Handle, error) {
	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: handleAs[vk.ShaderModule](desc.VertexShader),
			PName:  VulkanSafeString("main"),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: handleAs[vk.ShaderModule](desc.FragmentShader),
			PName:  VulkanSafeString("main"),
		},
	}

	attributes := make([]vk.VertexInputAttributeDescription, len(desc.Vertex.Attributes))
	for i, a := range desc.Vertex.Attributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  0,
			Format:   vkVertexFormat(a.Format),
			Offset:   a.Offset,
		}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                         vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions: []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    desc.Vertex.Stride,
			InputRate: vk.VertexInputRateVertex,
		}},
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		LineWidth:   1.0,
		FrontFace:   vk.FrontFaceCounterClockwise,
	}
	if desc.FrontFace == metadata.FrontFaceClockwise {
		rasterizer.FrontFace = vk.FrontFaceClockwise
	}
	switch desc.CullMode {
	case metadata.CullModeNone:
		rasterizer.CullMode = vk.CullModeFlags(vk.CullModeNone)
	case metadata.CullModeFront:
		rasterizer.CullMode = vk.CullModeFlags(vk.CullModeFrontBit)
	default:
		rasterizer.CullMode = vk.CullModeFlags(vk.CullModeBackBit)
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:          vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthCompareOp: vk.CompareOpLess,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	blend := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
			vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	if desc.BlendEnabled {
		blend.BlendEnable = vk.True
		blend.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		blend.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blend.ColorBlendOp = vk.BlendOpAdd
		blend.SrcAlphaBlendFactor = vk.BlendFactorOne
		blend.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blend.AlphaBlendOp = vk.BlendOpAdd
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{blend},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		Layout:              handleAs[vk.PipelineLayout](desc.Layout),
		RenderPass:          handleAs[vk.RenderPass](desc.RenderPass),
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		return d.check(vk.CreateGraphicsPipelines(d.logical(), vk.NullPipelineCache, 1,
			[]vk.GraphicsPipelineCreateInfo{info}, d.context.Allocator, pipelines), "vkCreateGraphicsPipelines")
	}); err != nil {
		return nil, errors.Wrapf(err, "pipeline %q", desc.Name)
	}
	core.LogDebug("graphics pipeline created", "name", desc.Name)
	return pipelines[0], nil
}

func (d *Device) DestroyPipeline(pipeline metadata.Handle) {
	p := handleAs[vk.Pipeline](pipeline)
	if p == vk.NullPipeline {
		return
	}
	_ = d.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipeline(d.logical(), p, d.context.Allocator)
		return nil
	})
}
