package systems

import (
	"io"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

type MemorySystemConfig struct {
	/** @brief The size of each device memory block sub-allocations are carved from. */
	BlockSize uint64
	/** @brief Requests at or above this size get their own device allocation. */
	DedicatedThreshold uint64
}

type freeRange struct {
	offset uint64
	size   uint64
}

type memoryBlock struct {
	memory      metadata.Handle
	size        uint64
	typeIndex   uint32
	kind        metadata.MemoryKind
	optimal     bool
	mapped      []byte
	free        []freeRange
	allocations int
}

// MemoryStats is a snapshot of the allocator state.
type MemoryStats struct {
	Blocks               int
	DedicatedAllocations int
	Allocations          int
	ReservedBytes        uint64
	UsedBytes            uint64
}

type MemorySystem struct {
	Config *MemorySystemConfig

	device      renderer.Device
	memoryTypes []metadata.MemoryType

	mu        sync.Mutex
	blocks    map[uint32][]*memoryBlock
	dedicated map[*metadata.Allocation]struct{}
	used      uint64
}

func NewMemorySystem(config *MemorySystemConfig, device renderer.Device) (*MemorySystem, error) {
	if config.BlockSize == 0 {
		err := errors.New("func NewMemorySystem - config.BlockSize must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	if config.DedicatedThreshold == 0 || config.DedicatedThreshold > config.BlockSize {
		config.DedicatedThreshold = config.BlockSize / 2
	}
	return &MemorySystem{
		Config:      config,
		device:      device,
		memoryTypes: device.MemoryTypes(),
		blocks:      make(map[uint32][]*memoryBlock),
		dedicated:   make(map[*metadata.Allocation]struct{}),
	}, nil
}

func memoryKindFlags(kind metadata.MemoryKind) (required, preferred metadata.MemoryPropertyFlags) {
	switch kind {
	case metadata.MemoryKindUpload:
		return metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent, 0
	case metadata.MemoryKindReadback:
		return metadata.MemoryPropertyHostVisible, metadata.MemoryPropertyHostCached
	}
	return metadata.MemoryPropertyDeviceLocal, 0
}

// FindMemoryIndex returns the first memory type allowed by typeBits that has
// all the required flags, trying required|preferred first. Returns -1 when
// no type qualifies.
func (ms *MemorySystem) FindMemoryIndex(typeBits uint32, kind metadata.MemoryKind) int32 {
	required, preferred := memoryKindFlags(kind)
	for _, flags := range []metadata.MemoryPropertyFlags{required | preferred, required} {
		for i, t := range ms.memoryTypes {
			if typeBits&(1<<uint(i)) != 0 && t.Flags&flags == flags {
				return int32(i)
			}
		}
	}
	core.LogWarn("unable to find suitable memory type", "type_bits", typeBits, "kind", kind)
	return -1
}

/**
 * @brief Allocates a range of device memory satisfying the given requirements.
 * Live allocations never overlap. ErrOutOfDeviceMemory from the device is
 * returned to the caller as is; the allocator never retries.
 */
func (ms *MemorySystem) Allocate(req metadata.MemoryRequirements, kind metadata.MemoryKind) (*metadata.Allocation, error) {
	if req.Size == 0 {
		return nil, errors.New("allocation size must be greater than zero")
	}
	alignment := req.Alignment
	if alignment == 0 {
		alignment = 1
	}
	typeIndex := ms.FindMemoryIndex(req.MemoryTypeBits, kind)
	if typeIndex < 0 {
		return nil, errors.Newf("no memory type for kind %s in mask %#b", kind, req.MemoryTypeBits)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if req.Size >= ms.Config.DedicatedThreshold {
		return ms.allocateDedicated(req.Size, uint32(typeIndex), kind)
	}

	for _, b := range ms.blocks[uint32(typeIndex)] {
		if b.optimal != req.Optimal {
			continue
		}
		if a := b.carve(req.Size, alignment); a != nil {
			ms.used += a.Size
			return a, nil
		}
	}

	b, err := ms.newBlock(uint32(typeIndex), kind, req.Optimal)
	if err != nil {
		return nil, err
	}
	a := b.carve(req.Size, alignment)
	if a == nil {
		return nil, errors.Newf("allocation of %d bytes does not fit in a fresh block of %d bytes", req.Size, b.size)
	}
	ms.used += a.Size
	return a, nil
}

func (ms *MemorySystem) allocateDedicated(size uint64, typeIndex uint32, kind metadata.MemoryKind) (*metadata.Allocation, error) {
	mem, err := ms.device.AllocateMemory(size, typeIndex)
	if err != nil {
		return nil, errors.Wrapf(err, "dedicated allocation of %d bytes", size)
	}
	a := &metadata.Allocation{
		Memory:          mem,
		Size:            size,
		MemoryTypeIndex: typeIndex,
		Kind:            kind,
		Dedicated:       true,
	}
	if kind != metadata.MemoryKindDeviceLocal {
		if a.Mapped, err = ms.device.MapMemory(mem, size); err != nil {
			ms.device.FreeMemory(mem)
			return nil, errors.Wrap(err, "mapping dedicated allocation")
		}
	}
	ms.dedicated[a] = struct{}{}
	ms.used += size
	return a, nil
}

func (ms *MemorySystem) newBlock(typeIndex uint32, kind metadata.MemoryKind, optimal bool) (*memoryBlock, error) {
	mem, err := ms.device.AllocateMemory(ms.Config.BlockSize, typeIndex)
	if err != nil {
		return nil, errors.Wrapf(err, "allocating memory block of %d bytes", ms.Config.BlockSize)
	}
	b := &memoryBlock{
		memory:    mem,
		size:      ms.Config.BlockSize,
		typeIndex: typeIndex,
		kind:      kind,
		optimal:   optimal,
		free:      []freeRange{{offset: 0, size: ms.Config.BlockSize}},
	}
	// Host-visible blocks stay mapped for their whole lifetime.
	if kind != metadata.MemoryKindDeviceLocal {
		if b.mapped, err = ms.device.MapMemory(mem, b.size); err != nil {
			ms.device.FreeMemory(mem)
			return nil, errors.Wrap(err, "mapping memory block")
		}
	}
	ms.blocks[typeIndex] = append(ms.blocks[typeIndex], b)
	core.LogDebug("memory block created", "type", typeIndex, "kind", kind, "optimal", optimal, "size", b.size)
	return b, nil
}

// carve takes the first free range that fits size at the given alignment.
func (b *memoryBlock) carve(size, alignment uint64) *metadata.Allocation {
	for i, r := range b.free {
		start := math.AlignUp(r.offset, alignment)
		end := start + size
		if end > r.offset+r.size {
			continue
		}
		var rest []freeRange
		if start > r.offset {
			rest = append(rest, freeRange{offset: r.offset, size: start - r.offset})
		}
		if tail := r.offset + r.size - end; tail > 0 {
			rest = append(rest, freeRange{offset: end, size: tail})
		}
		b.free = append(b.free[:i], append(rest, b.free[i+1:]...)...)
		b.allocations++

		a := &metadata.Allocation{
			Memory:          b.memory,
			Offset:          start,
			Size:            size,
			MemoryTypeIndex: b.typeIndex,
			Kind:            b.kind,
			Owner:           b,
		}
		if b.mapped != nil {
			a.Mapped = b.mapped[start:end:end]
		}
		return a
	}
	return nil
}

// release returns a range to the free list, merging it with its neighbours.
func (b *memoryBlock) release(offset, size uint64) {
	i := sort.Search(len(b.free), func(i int) bool { return b.free[i].offset > offset })
	b.free = append(b.free, freeRange{})
	copy(b.free[i+1:], b.free[i:])
	b.free[i] = freeRange{offset: offset, size: size}

	if i+1 < len(b.free) && b.free[i].offset+b.free[i].size == b.free[i+1].offset {
		b.free[i].size += b.free[i+1].size
		b.free = append(b.free[:i+1], b.free[i+2:]...)
	}
	if i > 0 && b.free[i-1].offset+b.free[i-1].size == b.free[i].offset {
		b.free[i-1].size += b.free[i].size
		b.free = append(b.free[:i], b.free[i+1:]...)
	}
	b.allocations--
}

/**
 * @brief Returns an allocation to the allocator. Blocks left without any
 * allocation are given back to the device.
 */
func (ms *MemorySystem) Free(a *metadata.Allocation) {
	if a == nil {
		return
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if a.Dedicated {
		if _, ok := ms.dedicated[a]; !ok {
			core.LogWarn("free of unknown dedicated allocation", "size", a.Size)
			return
		}
		delete(ms.dedicated, a)
		if a.Mapped != nil {
			ms.device.UnmapMemory(a.Memory)
		}
		ms.device.FreeMemory(a.Memory)
		ms.used -= a.Size
		return
	}

	b, ok := a.Owner.(*memoryBlock)
	if !ok {
		core.LogWarn("free of allocation without an owning block", "size", a.Size)
		return
	}
	b.release(a.Offset, a.Size)
	ms.used -= a.Size
	a.Owner = nil
	a.Mapped = nil

	if b.allocations == 0 {
		ms.releaseBlock(b)
	}
}

func (ms *MemorySystem) releaseBlock(b *memoryBlock) {
	blocks := ms.blocks[b.typeIndex]
	for i, other := range blocks {
		if other == b {
			ms.blocks[b.typeIndex] = append(blocks[:i], blocks[i+1:]...)
			break
		}
	}
	if b.mapped != nil {
		ms.device.UnmapMemory(b.memory)
	}
	ms.device.FreeMemory(b.memory)
	core.LogDebug("memory block released", "type", b.typeIndex, "size", b.size)
}

// CreateBuffer creates a buffer and binds freshly allocated memory of the given kind to it.
func (ms *MemorySystem) CreateBuffer(size uint64, usage metadata.BufferUsage, kind metadata.MemoryKind) (*metadata.GpuBuffer, error) {
	handle, req, err := ms.device.CreateBuffer(size, usage)
	if err != nil {
		return nil, errors.Wrap(err, "creating buffer")
	}
	alloc, err := ms.Allocate(req, kind)
	if err != nil {
		ms.device.DestroyBuffer(handle)
		return nil, err
	}
	if err := ms.device.BindBufferMemory(handle, alloc.Memory, alloc.Offset); err != nil {
		ms.device.DestroyBuffer(handle)
		ms.Free(alloc)
		return nil, errors.Wrap(err, "binding buffer memory")
	}
	return &metadata.GpuBuffer{Handle: handle, Allocation: alloc, Size: size, Usage: usage}, nil
}

func (ms *MemorySystem) DestroyBuffer(b *metadata.GpuBuffer) {
	if b == nil || b.Handle == nil {
		return
	}
	ms.device.DestroyBuffer(b.Handle)
	ms.Free(b.Allocation)
	b.Handle, b.Allocation = nil, nil
}

// CreateImage creates a device-local image with a view covering all its mips.
func (ms *MemorySystem) CreateImage(desc metadata.ImageDesc) (*metadata.GpuImage, error) {
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	handle, req, err := ms.device.CreateImage(desc)
	if err != nil {
		return nil, errors.Wrap(err, "creating image")
	}
	alloc, err := ms.Allocate(req, metadata.MemoryKindDeviceLocal)
	if err != nil {
		ms.device.DestroyImage(handle)
		return nil, err
	}
	if err := ms.device.BindImageMemory(handle, alloc.Memory, alloc.Offset); err != nil {
		ms.device.DestroyImage(handle)
		ms.Free(alloc)
		return nil, errors.Wrap(err, "binding image memory")
	}
	aspect := metadata.ImageAspectColor
	if desc.Format.IsDepth() {
		aspect = metadata.ImageAspectDepth
	}
	view, err := ms.device.CreateImageView(handle, desc.Format, aspect, desc.MipLevels)
	if err != nil {
		ms.device.DestroyImage(handle)
		ms.Free(alloc)
		return nil, errors.Wrap(err, "creating image view")
	}
	return &metadata.GpuImage{
		Handle:     handle,
		View:       view,
		Allocation: alloc,
		Width:      desc.Width,
		Height:     desc.Height,
		MipLevels:  desc.MipLevels,
		Format:     desc.Format,
	}, nil
}

func (ms *MemorySystem) DestroyImage(img *metadata.GpuImage) {
	if img == nil || img.Handle == nil {
		return
	}
	if img.View != nil {
		ms.device.DestroyImageView(img.View)
	}
	ms.device.DestroyImage(img.Handle)
	ms.Free(img.Allocation)
	img.Handle, img.View, img.Allocation = nil, nil, nil
}

func (ms *MemorySystem) Stats() MemoryStats {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	s := MemoryStats{DedicatedAllocations: len(ms.dedicated), UsedBytes: ms.used}
	for _, blocks := range ms.blocks {
		for _, b := range blocks {
			s.Blocks++
			s.Allocations += b.allocations
			s.ReservedBytes += b.size
		}
	}
	for a := range ms.dedicated {
		s.ReservedBytes += a.Size
	}
	s.Allocations += s.DedicatedAllocations
	return s
}

// WriteStatsJSON dumps per-block usage, including free ranges, as JSON.
func (ms *MemorySystem) WriteStatsJSON(out io.Writer) error {
	stats := ms.Stats()

	ms.mu.Lock()
	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("Blocks").Int(stats.Blocks)
	obj.Name("DedicatedAllocations").Int(stats.DedicatedAllocations)
	obj.Name("Allocations").Int(stats.Allocations)
	obj.Name("ReservedBytes").Float64(float64(stats.ReservedBytes))
	obj.Name("UsedBytes").Float64(float64(stats.UsedBytes))

	types := make([]int, 0, len(ms.blocks))
	for t := range ms.blocks {
		types = append(types, int(t))
	}
	sort.Ints(types)

	arr := obj.Name("BlockList").Array()
	for _, t := range types {
		for _, b := range ms.blocks[uint32(t)] {
			bo := arr.Object()
			bo.Name("MemoryType").Int(t)
			bo.Name("Kind").String(b.kind.String())
			bo.Name("Optimal").Bool(b.optimal)
			bo.Name("Size").Float64(float64(b.size))
			bo.Name("Allocations").Int(b.allocations)
			fr := bo.Name("FreeRanges").Array()
			for _, r := range b.free {
				ro := fr.Object()
				ro.Name("Offset").Float64(float64(r.offset))
				ro.Name("Size").Float64(float64(r.size))
				ro.End()
			}
			fr.End()
			bo.End()
		}
	}
	arr.End()
	obj.End()
	ms.mu.Unlock()

	if err := w.Error(); err != nil {
		return errors.Wrap(err, "encoding allocator stats")
	}
	_, err := out.Write(w.Bytes())
	return err
}

// Shutdown frees whatever is still allocated. Leftover allocations are logged as leaks.
func (ms *MemorySystem) Shutdown() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for t, blocks := range ms.blocks {
		for _, b := range blocks {
			if b.allocations > 0 {
				core.LogWarn("memory block freed with live allocations", "type", t, "allocations", b.allocations)
			}
			if b.mapped != nil {
				ms.device.UnmapMemory(b.memory)
			}
			ms.device.FreeMemory(b.memory)
		}
	}
	for a := range ms.dedicated {
		core.LogWarn("dedicated allocation leaked", "size", a.Size)
		if a.Mapped != nil {
			ms.device.UnmapMemory(a.Memory)
		}
		ms.device.FreeMemory(a.Memory)
	}
	ms.blocks = make(map[uint32][]*memoryBlock)
	ms.dedicated = make(map[*metadata.Allocation]struct{})
	ms.used = 0
	return nil
}
