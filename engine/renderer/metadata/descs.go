package metadata

// DeviceProperties exposes the limits the rendering core depends on.
type DeviceProperties struct {
	DeviceName string
	// MinUniformBufferOffsetAlignment applies to dynamic uniform offsets.
	MinUniformBufferOffsetAlignment uint64
	MinStorageBufferOffsetAlignment uint64
	MaxPushConstantsSize            uint32
	// DepthFormat is the first supported candidate of D32, D32S8, D24S8.
	DepthFormat Format
}

type ImageDesc struct {
	Width     uint32
	Height    uint32
	MipLevels uint32
	Format    Format
	Usage     ImageUsage
}

type SamplerDesc struct {
	MagFilter    Filter
	MinFilter    Filter
	AddressModeU SamplerAddressMode
	AddressModeV SamplerAddressMode
	MaxLod       float32
	Anisotropy   float32
}

// DefaultSamplerDesc is linear filtering with repeat addressing.
func DefaultSamplerDesc() SamplerDesc {
	return SamplerDesc{
		MagFilter:    FilterLinear,
		MinFilter:    FilterLinear,
		AddressModeU: SamplerAddressRepeat,
		AddressModeV: SamplerAddressRepeat,
		MaxLod:       1,
		Anisotropy:   16,
	}
}

type SurfaceCapabilities struct {
	CurrentExtent  Extent
	MinImageExtent Extent
	MaxImageExtent Extent
	MinImageCount  uint32
	// MaxImageCount of zero means unbounded.
	MaxImageCount uint32
	Formats       []SurfaceFormat
	PresentModes  []PresentMode
}

type SwapchainDesc struct {
	Extent      Extent
	ImageCount  uint32
	Format      SurfaceFormat
	PresentMode PresentMode
	// OldSwapchain is handed to the driver so it can reuse resources; it is not destroyed.
	OldSwapchain Handle
}

type SubmitInfo struct {
	CommandBuffers   []CommandBufferRef
	WaitSemaphores   []Handle
	WaitStages       []PipelineStage
	SignalSemaphores []Handle
	// Fence is signalled once every command buffer finished executing.
	Fence Handle
}

// CommandBufferRef is the raw handle of a recorded command buffer.
type CommandBufferRef = Handle

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

type DescriptorWrite struct {
	Binding uint32
	Type    DescriptorType
	// Image writes.
	ImageView Handle
	Sampler   Handle
	// Buffer writes.
	Buffer Handle
	Offset uint64
	Range  uint64
}

type RenderPassDesc struct {
	ColorFormat Format
	DepthFormat Format
	ClearColor  [4]float32
}

type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

type VertexAttribute struct {
	Location uint32
	Format   VertexFormat
	Offset   uint32
}

type VertexFormat uint8

const (
	VertexFormatFloat2 VertexFormat = iota
	VertexFormatFloat3
	VertexFormatFloat4
)

type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

type PipelineDesc struct {
	Name           string
	VertexShader   Handle
	FragmentShader Handle
	Layout         Handle
	RenderPass     Handle
	Vertex         VertexLayout
	CullMode       CullMode
	FrontFace      FrontFace
	BlendEnabled   bool
	DepthTest      bool
	DepthWrite     bool
}

type InheritanceInfo struct {
	RenderPass  Handle
	Subpass     uint32
	Framebuffer Handle
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type ClearValues struct {
	Color [4]float32
	Depth float32
}
