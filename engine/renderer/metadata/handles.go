package metadata

// Handle is an opaque backend object (buffer, image, fence, pipeline, ...).
// The Vulkan backend stores goki/vulkan handles, the headless backend stores
// pointers to its own bookkeeping structs. A nil Handle is the null object.
type Handle interface{}

type Extent struct {
	Width  uint32
	Height uint32
}

func (e Extent) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

type Format uint32

const (
	FormatUndefined Format = iota
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8Srgb
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8Srgb
	FormatD32Sfloat
	FormatD32SfloatS8Uint
	FormatD24UnormS8Uint
)

func (f Format) IsDepth() bool {
	return f == FormatD32Sfloat || f == FormatD32SfloatS8Uint || f == FormatD24UnormS8Uint
}

func (f Format) HasStencil() bool {
	return f == FormatD32SfloatS8Uint || f == FormatD24UnormS8Uint
}

// BytesPerPixel of the color formats; depth formats report 4.
func (f Format) BytesPerPixel() uint32 {
	if f == FormatUndefined {
		return 0
	}
	return 4
}

type ColorSpace uint32

const (
	ColorSpaceSrgbNonlinear ColorSpace = iota
)

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

type PresentMode uint32

const (
	PresentModeFifo PresentMode = iota
	PresentModeMailbox
	PresentModeImmediate
)

type QueueKind uint8

const (
	QueueGraphics QueueKind = iota
	QueueTransfer
	QueuePresent
)

type MemoryPropertyFlags uint32

const (
	MemoryPropertyDeviceLocal MemoryPropertyFlags = 1 << iota
	MemoryPropertyHostVisible
	MemoryPropertyHostCoherent
	MemoryPropertyHostCached
)

type MemoryType struct {
	Flags     MemoryPropertyFlags
	HeapIndex uint32
}

type MemoryHeap struct {
	Size        uint64
	DeviceLocal bool
}

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
	// Optimal is set for optimal-tiling images; they never share a memory block with linear resources.
	Optimal bool
}

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
)

type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
)

type ImageAspect uint32

const (
	ImageAspectColor ImageAspect = 1 << iota
	ImageAspectDepth
	ImageAspectStencil
)

type ImageLayout uint32

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutTransferDst
	ImageLayoutTransferSrc
	ImageLayoutShaderReadOnly
	ImageLayoutColorAttachment
	ImageLayoutDepthStencilAttachment
	ImageLayoutPresentSrc
)

type CommandBufferLevel uint8

const (
	CommandBufferLevelPrimary CommandBufferLevel = iota
	CommandBufferLevelSecondary
)

type CommandBufferUsage uint32

const (
	CommandBufferUsageOneTimeSubmit CommandBufferUsage = 1 << iota
	CommandBufferUsageRenderPassContinue
	CommandBufferUsageSimultaneousUse
)

type SubpassContents uint8

const (
	SubpassContentsInline SubpassContents = iota
	SubpassContentsSecondary
)

type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
)

type DescriptorType uint8

const (
	DescriptorTypeCombinedImageSampler DescriptorType = iota
	DescriptorTypeUniformBuffer
	DescriptorTypeStorageBuffer
)

type PipelineStage uint32

const (
	PipelineStageTopOfPipe PipelineStage = 1 << iota
	PipelineStageTransfer
	PipelineStageColorAttachmentOutput
	PipelineStageFragmentShader
	PipelineStageBottomOfPipe
)

type Filter uint8

const (
	FilterLinear Filter = iota
	FilterNearest
)

type SamplerAddressMode uint8

const (
	SamplerAddressRepeat SamplerAddressMode = iota
	SamplerAddressMirroredRepeat
	SamplerAddressClampToEdge
)

type CullMode uint8

const (
	CullModeBack CullMode = iota
	CullModeNone
	CullModeFront
)

type FrontFace uint8

const (
	FrontFaceCounterClockwise FrontFace = iota
	FrontFaceClockwise
)
