package metadata

import "github.com/google/uuid"

type MemoryKind uint8

const (
	// MemoryKindDeviceLocal is GPU-only memory, filled through transfers.
	MemoryKindDeviceLocal MemoryKind = iota
	// MemoryKindUpload is host-visible, coherent and persistently mapped.
	MemoryKindUpload
	// MemoryKindReadback is host-visible and cached for GPU to CPU copies.
	MemoryKindReadback
)

func (k MemoryKind) String() string {
	switch k {
	case MemoryKindDeviceLocal:
		return "device-local"
	case MemoryKindUpload:
		return "upload"
	case MemoryKindReadback:
		return "readback"
	}
	return "unknown"
}

// Allocation is a range of device memory handed out by the memory system.
// Mapped is non-nil for host-visible kinds and aliases exactly [Offset, Offset+Size).
type Allocation struct {
	Memory          Handle
	Offset          uint64
	Size            uint64
	MemoryTypeIndex uint32
	Kind            MemoryKind
	Dedicated       bool
	Mapped          []byte

	// Owner is the memory system's private bookkeeping (block pointer).
	Owner interface{}
}

/** @brief A buffer and the memory backing it. */
type GpuBuffer struct {
	Handle     Handle
	Allocation *Allocation
	Size       uint64
	Usage      BufferUsage
}

/** @brief An image, its default view and the memory backing it. */
type GpuImage struct {
	Handle     Handle
	View       Handle
	Allocation *Allocation
	Width      uint32
	Height     uint32
	MipLevels  uint32
	Format     Format
}

/** @brief A sampled texture: image plus sampler. */
type Texture struct {
	ID      uuid.UUID
	Name    string
	Image   *GpuImage
	Sampler Handle
}
