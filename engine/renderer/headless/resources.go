package headless

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

type memory struct {
	object
	size      uint64
	typeIndex uint32
	heap      uint32
	data      []byte
	mapped    bool
}

func (m *memory) bytes() []byte {
	if m.data == nil {
		m.data = make([]byte, m.size)
	}
	return m.data
}

type buffer struct {
	object
	size   uint64
	usage  metadata.BufferUsage
	memory *memory
	offset uint64
}

type image struct {
	object
	desc      metadata.ImageDesc
	memory    *memory
	offset    uint64
	swapchain *swapchain
	layouts   []metadata.ImageLayout
}

type imageView struct {
	object
	image *image
}

type sampler struct {
	object
	desc metadata.SamplerDesc
}

func (d *Device) AllocateMemory(size uint64, memoryTypeIndex uint32) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	if int(memoryTypeIndex) >= len(d.memoryTypes) {
		return nil, errors.Newf("memory type index %d out of range", memoryTypeIndex)
	}
	heap := d.memoryTypes[memoryTypeIndex].HeapIndex
	budget := d.opts.DeviceHeapSize
	if heap == 1 {
		budget = d.opts.HostHeapSize
	}
	if d.heapUsed[heap]+size > budget {
		return nil, errors.Wrapf(core.ErrOutOfDeviceMemory, "heap %d: %d of %d bytes used, %d requested", heap, d.heapUsed[heap], budget, size)
	}
	d.heapUsed[heap] += size
	m := &memory{object: d.newObject("memory"), size: size, typeIndex: memoryTypeIndex, heap: heap}
	d.track(m)
	return m, nil
}

func (d *Device) FreeMemory(h metadata.Handle) {
	m, ok := h.(*memory)
	if !ok || m == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.release(m, "FreeMemory") {
		d.heapUsed[m.heap] -= m.size
		m.data = nil
	}
}

func (d *Device) MapMemory(h metadata.Handle, size uint64) ([]byte, error) {
	m, ok := h.(*memory)
	if !ok || m == nil {
		return nil, errors.New("map of an invalid memory handle")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.memoryTypes[m.typeIndex].Flags&metadata.MemoryPropertyHostVisible == 0 {
		return nil, errors.Newf("%s is not host visible", m)
	}
	if size > m.size {
		return nil, errors.Newf("map of %d bytes exceeds %s size %d", size, m, m.size)
	}
	m.mapped = true
	return m.bytes()[:size:size], nil
}

func (d *Device) UnmapMemory(h metadata.Handle) {
	if m, ok := h.(*memory); ok && m != nil {
		d.mu.Lock()
		m.mapped = false
		d.mu.Unlock()
	}
}

func (d *Device) CreateBuffer(size uint64, usage metadata.BufferUsage) (metadata.Handle, metadata.MemoryRequirements, error) {
	if size == 0 {
		return nil, metadata.MemoryRequirements{}, errors.New("buffer size must be greater than zero")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	alignment := uint64(16)
	if usage&(metadata.BufferUsageUniform|metadata.BufferUsageStorage) != 0 {
		alignment = 256
	}
	b := &buffer{object: d.newObject("buffer"), size: size, usage: usage}
	d.track(b)
	return b, metadata.MemoryRequirements{
		Size:           math.AlignUp(size, alignment),
		Alignment:      alignment,
		MemoryTypeBits: 0b111,
	}, nil
}

func (d *Device) BindBufferMemory(bh, mh metadata.Handle, offset uint64) error {
	b, ok := bh.(*buffer)
	m, ok2 := mh.(*memory)
	if !ok || !ok2 {
		return errors.New("bind of an invalid buffer or memory handle")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.memory != nil {
		return errors.Newf("%s already bound", b)
	}
	if offset+b.size > m.size {
		return errors.Newf("%s does not fit in %s at offset %d", b, m, offset)
	}
	b.memory, b.offset = m, offset
	return nil
}

func (d *Device) DestroyBuffer(h metadata.Handle) {
	if b, ok := h.(*buffer); ok && b != nil {
		d.mu.Lock()
		d.release(b, "DestroyBuffer")
		d.mu.Unlock()
	}
}

func (d *Device) CreateImage(desc metadata.ImageDesc) (metadata.Handle, metadata.MemoryRequirements, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, metadata.MemoryRequirements{}, errors.Newf("invalid image size %dx%d", desc.Width, desc.Height)
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	size := uint64(0)
	w, h := desc.Width, desc.Height
	for i := uint32(0); i < desc.MipLevels; i++ {
		size += uint64(w) * uint64(h) * uint64(desc.Format.BytesPerPixel())
		w, h = max(w/2, 1), max(h/2, 1)
	}
	img := &image{object: d.newObject("image"), desc: desc, layouts: make([]metadata.ImageLayout, desc.MipLevels)}
	d.track(img)
	return img, metadata.MemoryRequirements{
		Size:           math.AlignUp(size, 1024),
		Alignment:      1024,
		MemoryTypeBits: 0b001,
		Optimal:        true,
	}, nil
}

func (d *Device) BindImageMemory(ih, mh metadata.Handle, offset uint64) error {
	img, ok := ih.(*image)
	m, ok2 := mh.(*memory)
	if !ok || !ok2 {
		return errors.New("bind of an invalid image or memory handle")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if img.memory != nil {
		return errors.Newf("%s already bound", img)
	}
	img.memory, img.offset = m, offset
	return nil
}

func (d *Device) DestroyImage(h metadata.Handle) {
	img, ok := h.(*image)
	if !ok || img == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if img.swapchain != nil {
		d.violate("DestroyImage", img.String()+" is owned by a swapchain")
		return
	}
	d.release(img, "DestroyImage")
}

func (d *Device) CreateImageView(h metadata.Handle, format metadata.Format, aspect metadata.ImageAspect, mipLevels uint32) (metadata.Handle, error) {
	img, ok := h.(*image)
	if !ok || img == nil {
		return nil, errors.New("view of an invalid image handle")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if img.destroyed {
		return nil, errors.Newf("view of destroyed %s", img)
	}
	v := &imageView{object: d.newObject("image_view"), image: img}
	d.track(v)
	return v, nil
}

func (d *Device) DestroyImageView(h metadata.Handle) {
	if v, ok := h.(*imageView); ok && v != nil {
		d.mu.Lock()
		d.release(v, "DestroyImageView")
		d.mu.Unlock()
	}
}

func (d *Device) CreateSampler(desc metadata.SamplerDesc) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &sampler{object: d.newObject("sampler"), desc: desc}
	d.track(s)
	return s, nil
}

func (d *Device) DestroySampler(h metadata.Handle) {
	if s, ok := h.(*sampler); ok && s != nil {
		d.mu.Lock()
		d.release(s, "DestroySampler")
		d.mu.Unlock()
	}
}

// ReadBuffer returns a copy of the bytes currently stored in a buffer.
func (d *Device) ReadBuffer(h metadata.Handle) ([]byte, error) {
	b, ok := h.(*buffer)
	if !ok || b == nil {
		return nil, errors.New("read of an invalid buffer handle")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.memory == nil {
		return nil, errors.Newf("%s has no memory bound", b)
	}
	out := make([]byte, b.size)
	copy(out, b.memory.bytes()[b.offset:b.offset+b.size])
	return out, nil
}

// ImageLayout returns the layout a mip level of an image was last transitioned to.
func (d *Device) ImageLayout(h metadata.Handle, mip uint32) metadata.ImageLayout {
	img, ok := h.(*image)
	if !ok || img == nil || int(mip) >= len(img.layouts) {
		return metadata.ImageLayoutUndefined
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return img.layouts[mip]
}
