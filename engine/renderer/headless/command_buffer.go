package headless

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/renderer"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

type commandPool struct {
	object
	queue   metadata.QueueKind
	buffers map[*CommandBuffer]struct{}
}

type cbState uint8

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
)

// Command is one recorded command. Refs lists the device objects it uses.
type Command struct {
	Op   string
	Args []interface{}
	Refs []metadata.Handle

	exec func()
}

// CommandBuffer records commands for later replay. Like a real command
// buffer it must only be recorded from one goroutine at a time.
type CommandBuffer struct {
	object
	dev   *Device
	pool  *commandPool
	level metadata.CommandBufferLevel

	mu          sync.Mutex
	state       cbState
	usage       metadata.CommandBufferUsage
	inheritance *metadata.InheritanceInfo
	commands    []Command
	inPass      bool
}

var _ renderer.CommandBuffer = (*CommandBuffer)(nil)

func (d *Device) CreateCommandPool(queue metadata.QueueKind) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &commandPool{object: d.newObject("command_pool"), queue: queue, buffers: make(map[*CommandBuffer]struct{})}
	d.track(p)
	return p, nil
}

func (d *Device) ResetCommandPool(h metadata.Handle) error {
	p, ok := h.(*commandPool)
	if !ok || p == nil {
		return errors.New("reset of an invalid command pool")
	}
	d.mu.Lock()
	for cb := range p.buffers {
		if d.pendingBuffer(cb) {
			d.violate("ResetCommandPool", cb.String()+" is still in flight")
		}
	}
	d.mu.Unlock()
	for cb := range p.buffers {
		cb.reset()
	}
	return nil
}

func (d *Device) DestroyCommandPool(h metadata.Handle) {
	p, ok := h.(*commandPool)
	if !ok || p == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for cb := range p.buffers {
		d.release(cb, "DestroyCommandPool")
	}
	d.release(p, "DestroyCommandPool")
}

func (d *Device) AllocateCommandBuffer(h metadata.Handle, level metadata.CommandBufferLevel) (renderer.CommandBuffer, error) {
	p, ok := h.(*commandPool)
	if !ok || p == nil {
		return nil, errors.New("allocation from an invalid command pool")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := &CommandBuffer{object: d.newObject("command_buffer"), dev: d, pool: p, level: level}
	p.buffers[cb] = struct{}{}
	d.track(cb)
	return cb, nil
}

func (d *Device) FreeCommandBuffer(h metadata.Handle, c renderer.CommandBuffer) {
	p, ok := h.(*commandPool)
	cb, ok2 := c.(*CommandBuffer)
	if !ok || !ok2 || p == nil || cb == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(p.buffers, cb)
	d.release(cb, "FreeCommandBuffer")
}

func (d *Device) pendingBuffer(cb *CommandBuffer) bool {
	for _, s := range d.inFlight {
		if _, ok := s.buffers[cb]; ok {
			return true
		}
	}
	return false
}

func (cb *CommandBuffer) Handle() metadata.CommandBufferRef { return cb }

func (cb *CommandBuffer) Level() metadata.CommandBufferLevel { return cb.level }

func (cb *CommandBuffer) reset() {
	cb.mu.Lock()
	cb.state = cbInitial
	cb.commands = nil
	cb.inheritance = nil
	cb.inPass = false
	cb.mu.Unlock()
}

func (cb *CommandBuffer) Begin(usage metadata.CommandBufferUsage, inheritance *metadata.InheritanceInfo) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.destroyed {
		return errors.Newf("begin on freed %s", cb)
	}
	if cb.state == cbRecording {
		return errors.Newf("%s is already recording", cb)
	}
	if cb.level == metadata.CommandBufferLevelSecondary && usage&metadata.CommandBufferUsageRenderPassContinue != 0 && inheritance == nil {
		return errors.Newf("%s continues a render pass without inheritance info", cb)
	}
	cb.state = cbRecording
	cb.usage = usage
	cb.inheritance = inheritance
	cb.commands = cb.commands[:0]
	return nil
}

func (cb *CommandBuffer) End() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != cbRecording {
		return errors.Newf("end on %s which is not recording", cb)
	}
	if cb.inPass {
		return errors.Newf("end on %s inside a render pass", cb)
	}
	cb.state = cbExecutable
	return nil
}

func (cb *CommandBuffer) Reset() error {
	cb.reset()
	return nil
}

// Commands returns the commands recorded since the last Begin.
func (cb *CommandBuffer) Commands() []Command {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	out := make([]Command, len(cb.commands))
	copy(out, cb.commands)
	return out
}

func (cb *CommandBuffer) record(c Command) {
	cb.mu.Lock()
	recording := cb.state == cbRecording
	if recording {
		cb.commands = append(cb.commands, c)
	}
	cb.mu.Unlock()
	if !recording {
		cb.dev.mu.Lock()
		cb.dev.violate(c.Op, cb.String()+" is not recording")
		cb.dev.mu.Unlock()
	}
}

func (cb *CommandBuffer) CopyBuffer(src, dst metadata.Handle, regions []metadata.BufferCopy) {
	s, _ := src.(*buffer)
	t, _ := dst.(*buffer)
	regs := append([]metadata.BufferCopy(nil), regions...)
	cb.record(Command{
		Op:   "CopyBuffer",
		Args: []interface{}{regs},
		Refs: []metadata.Handle{src, dst},
		exec: func() {
			if s == nil || t == nil || s.memory == nil || t.memory == nil {
				return
			}
			for _, r := range regs {
				from := s.memory.bytes()[s.offset+r.SrcOffset : s.offset+r.SrcOffset+r.Size]
				copy(t.memory.bytes()[t.offset+r.DstOffset:], from)
			}
		},
	})
}

func (cb *CommandBuffer) CopyBufferToImage(src, dst metadata.Handle, width, height uint32) {
	cb.record(Command{Op: "CopyBufferToImage", Args: []interface{}{width, height}, Refs: []metadata.Handle{src, dst}})
}

func (cb *CommandBuffer) TransitionImageLayout(h metadata.Handle, format metadata.Format, from, to metadata.ImageLayout, baseMip, mipCount uint32) {
	img, _ := h.(*image)
	if to == metadata.ImageLayoutShaderReadOnly {
		cb.requireGraphics("TransitionImageLayout")
	}
	cb.record(Command{
		Op:   "TransitionImageLayout",
		Args: []interface{}{from, to, baseMip, mipCount},
		Refs: []metadata.Handle{h},
		exec: func() {
			if img == nil {
				return
			}
			for m := baseMip; m < baseMip+mipCount && int(m) < len(img.layouts); m++ {
				img.layouts[m] = to
			}
		},
	})
}

// requireGraphics flags commands a transfer-only or present-only queue cannot execute.
func (cb *CommandBuffer) requireGraphics(op string) {
	if cb.pool.queue == metadata.QueueGraphics {
		return
	}
	cb.dev.mu.Lock()
	cb.dev.violate(op, cb.String()+" was allocated from a pool without graphics support")
	cb.dev.mu.Unlock()
}

func (cb *CommandBuffer) BlitMip(h metadata.Handle, level uint32, srcWidth, srcHeight int32) {
	cb.requireGraphics("BlitMip")
	cb.record(Command{Op: "BlitMip", Args: []interface{}{level, srcWidth, srcHeight}, Refs: []metadata.Handle{h}})
}

func (cb *CommandBuffer) BeginRenderPass(pass, framebuffer metadata.Handle, extent metadata.Extent, clear metadata.ClearValues, contents metadata.SubpassContents) {
	refs := []metadata.Handle{pass, framebuffer}
	if fb, ok := framebuffer.(*framebufferObj); ok && fb != nil {
		for _, v := range fb.attachments {
			refs = append(refs, v, v.image)
		}
	}
	cb.record(Command{Op: "BeginRenderPass", Args: []interface{}{extent, clear, contents}, Refs: refs})
	cb.mu.Lock()
	cb.inPass = true
	cb.mu.Unlock()
}

func (cb *CommandBuffer) EndRenderPass() {
	cb.record(Command{Op: "EndRenderPass"})
	cb.mu.Lock()
	cb.inPass = false
	cb.mu.Unlock()
}

func (cb *CommandBuffer) SetViewport(extent metadata.Extent) {
	cb.record(Command{Op: "SetViewport", Args: []interface{}{extent}})
}

func (cb *CommandBuffer) SetScissor(extent metadata.Extent) {
	cb.record(Command{Op: "SetScissor", Args: []interface{}{extent}})
}

func (cb *CommandBuffer) BindPipeline(p metadata.Handle) {
	cb.record(Command{Op: "BindPipeline", Args: []interface{}{p}, Refs: []metadata.Handle{p}})
}

func (cb *CommandBuffer) BindDescriptorSets(layout metadata.Handle, firstSet uint32, sets []metadata.Handle, dynamicOffsets []uint32) {
	refs := append([]metadata.Handle{layout}, sets...)
	cb.record(Command{
		Op:   "BindDescriptorSets",
		Args: []interface{}{firstSet, append([]metadata.Handle(nil), sets...), append([]uint32(nil), dynamicOffsets...)},
		Refs: refs,
	})
}

func (cb *CommandBuffer) BindVertexBuffer(b metadata.Handle, offset uint64) {
	cb.record(Command{Op: "BindVertexBuffer", Args: []interface{}{b, offset}, Refs: []metadata.Handle{b}})
}

func (cb *CommandBuffer) BindIndexBuffer(b metadata.Handle, offset uint64) {
	cb.record(Command{Op: "BindIndexBuffer", Args: []interface{}{b, offset}, Refs: []metadata.Handle{b}})
}

func (cb *CommandBuffer) PushConstants(layout metadata.Handle, stages metadata.ShaderStage, offset uint32, data []byte) {
	cb.record(Command{
		Op:   "PushConstants",
		Args: []interface{}{stages, offset, append([]byte(nil), data...)},
		Refs: []metadata.Handle{layout},
	})
}

func (cb *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	cb.record(Command{Op: "Draw", Args: []interface{}{vertexCount, instanceCount, firstVertex, firstInstance}})
}

func (cb *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	cb.record(Command{Op: "DrawIndexed", Args: []interface{}{indexCount, instanceCount, firstIndex, vertexOffset, firstInstance}})
}

// ExecuteCommands inlines the secondaries' commands into the primary.
func (cb *CommandBuffer) ExecuteCommands(secondaries []renderer.CommandBuffer) {
	refs := make([]metadata.Handle, 0, len(secondaries))
	for _, s := range secondaries {
		sc, ok := s.(*CommandBuffer)
		if !ok {
			continue
		}
		sc.mu.Lock()
		state := sc.state
		sc.mu.Unlock()
		if state != cbExecutable || sc.level != metadata.CommandBufferLevelSecondary {
			cb.dev.mu.Lock()
			cb.dev.violate("ExecuteCommands", sc.String()+" is not an executable secondary")
			cb.dev.mu.Unlock()
			continue
		}
		refs = append(refs, sc)
	}
	cb.record(Command{Op: "ExecuteCommands", Args: []interface{}{len(refs)}, Refs: refs})
}
