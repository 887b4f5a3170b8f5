package headless

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

type descriptorSetLayout struct {
	object
	bindings []metadata.DescriptorBinding
}

type descriptorPool struct {
	object
	maxSets uint32
	sets    []*descriptorSet
}

type descriptorSet struct {
	object
	layout *descriptorSetLayout
	writes map[uint32]metadata.DescriptorWrite
}

type shaderModule struct {
	object
	words int
}

type renderPass struct {
	object
	desc metadata.RenderPassDesc
}

type framebufferObj struct {
	object
	pass        *renderPass
	attachments []*imageView
	extent      metadata.Extent
}

type pipelineLayout struct {
	object
	setLayouts    []metadata.Handle
	pushConstants []metadata.PushConstantRange
}

type pipeline struct {
	object
}

func (d *Device) CreateDescriptorSetLayout(bindings []metadata.DescriptorBinding) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := &descriptorSetLayout{object: d.newObject("descriptor_set_layout"), bindings: append([]metadata.DescriptorBinding(nil), bindings...)}
	d.track(l)
	return l, nil
}

func (d *Device) DestroyDescriptorSetLayout(h metadata.Handle) {
	if l, ok := h.(*descriptorSetLayout); ok && l != nil {
		d.mu.Lock()
		d.release(l, "DestroyDescriptorSetLayout")
		d.mu.Unlock()
	}
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []metadata.DescriptorPoolSize) (metadata.Handle, error) {
	if maxSets == 0 {
		return nil, errors.New("descriptor pool must hold at least one set")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &descriptorPool{object: d.newObject("descriptor_pool"), maxSets: maxSets}
	d.track(p)
	return p, nil
}

func (d *Device) DestroyDescriptorPool(h metadata.Handle) {
	p, ok := h.(*descriptorPool)
	if !ok || p == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range p.sets {
		d.release(s, "DestroyDescriptorPool")
	}
	d.release(p, "DestroyDescriptorPool")
}

func (d *Device) AllocateDescriptorSet(ph, lh metadata.Handle) (metadata.Handle, error) {
	p, ok := ph.(*descriptorPool)
	l, ok2 := lh.(*descriptorSetLayout)
	if !ok || !ok2 || p == nil || l == nil {
		return nil, errors.New("descriptor set allocation with invalid pool or layout")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint32(len(p.sets)) >= p.maxSets {
		return nil, errors.Wrapf(core.ErrPoolExhausted, "%s holds %d sets", p, p.maxSets)
	}
	s := &descriptorSet{object: d.newObject("descriptor_set"), layout: l, writes: make(map[uint32]metadata.DescriptorWrite)}
	p.sets = append(p.sets, s)
	d.track(s)
	return s, nil
}

func (d *Device) UpdateDescriptorSet(h metadata.Handle, writes []metadata.DescriptorWrite) {
	s, ok := h.(*descriptorSet)
	if !ok || s == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s2 := range d.inFlight {
		if s2.references(s) {
			d.violate("UpdateDescriptorSet", s.String()+" is bound by in-flight work")
			break
		}
	}
	for _, w := range writes {
		s.writes[w.Binding] = w
	}
}

// DescriptorWrites returns the current contents of a descriptor set by binding.
func (d *Device) DescriptorWrites(h metadata.Handle) map[uint32]metadata.DescriptorWrite {
	s, ok := h.(*descriptorSet)
	if !ok || s == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[uint32]metadata.DescriptorWrite, len(s.writes))
	for k, v := range s.writes {
		out[k] = v
	}
	return out
}

func (d *Device) CreateShaderModule(code []uint32) (metadata.Handle, error) {
	if len(code) == 0 {
		return nil, errors.New("empty shader module")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	m := &shaderModule{object: d.newObject("shader_module"), words: len(code)}
	d.track(m)
	return m, nil
}

func (d *Device) DestroyShaderModule(h metadata.Handle) {
	if m, ok := h.(*shaderModule); ok && m != nil {
		d.mu.Lock()
		d.release(m, "DestroyShaderModule")
		d.mu.Unlock()
	}
}

func (d *Device) CreateRenderPass(desc metadata.RenderPassDesc) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &renderPass{object: d.newObject("render_pass"), desc: desc}
	d.track(p)
	return p, nil
}

func (d *Device) DestroyRenderPass(h metadata.Handle) {
	if p, ok := h.(*renderPass); ok && p != nil {
		d.mu.Lock()
		d.release(p, "DestroyRenderPass")
		d.mu.Unlock()
	}
}

func (d *Device) CreateFramebuffer(ph metadata.Handle, attachments []metadata.Handle, extent metadata.Extent) (metadata.Handle, error) {
	p, ok := ph.(*renderPass)
	if !ok || p == nil {
		return nil, errors.New("framebuffer with an invalid render pass")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fb := &framebufferObj{object: d.newObject("framebuffer"), pass: p, extent: extent}
	for _, a := range attachments {
		v, ok := a.(*imageView)
		if !ok || v == nil || v.destroyed {
			return nil, errors.New("framebuffer with an invalid attachment")
		}
		fb.attachments = append(fb.attachments, v)
	}
	d.track(fb)
	return fb, nil
}

func (d *Device) DestroyFramebuffer(h metadata.Handle) {
	if fb, ok := h.(*framebufferObj); ok && fb != nil {
		d.mu.Lock()
		d.release(fb, "DestroyFramebuffer")
		d.mu.Unlock()
	}
}

func (d *Device) CreatePipelineLayout(setLayouts []metadata.Handle, pushConstants []metadata.PushConstantRange) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := &pipelineLayout{
		object:        d.newObject("pipeline_layout"),
		setLayouts:    append([]metadata.Handle(nil), setLayouts...),
		pushConstants: append([]metadata.PushConstantRange(nil), pushConstants...),
	}
	d.track(l)
	return l, nil
}

func (d *Device) DestroyPipelineLayout(h metadata.Handle) {
	if l, ok := h.(*pipelineLayout); ok && l != nil {
		d.mu.Lock()
		d.release(l, "DestroyPipelineLayout")
		d.mu.Unlock()
	}
}

func (d *Device) CreateGraphicsPipeline(desc metadata.PipelineDesc) (metadata.Handle, error) {
	if desc.VertexShader == nil || desc.FragmentShader == nil || desc.Layout == nil || desc.RenderPass == nil {
		return nil, errors.Newf("pipeline %q is missing shaders, layout or render pass", desc.Name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &pipeline{object: d.newObject("pipeline")}
	d.pipelines[p] = desc
	d.track(p)
	return p, nil
}

func (d *Device) DestroyPipeline(h metadata.Handle) {
	if p, ok := h.(*pipeline); ok && p != nil {
		d.mu.Lock()
		if d.release(p, "DestroyPipeline") {
			delete(d.pipelines, p)
		}
		d.mu.Unlock()
	}
}

// PipelineDesc returns the description a live pipeline was created from.
func (d *Device) PipelineDesc(h metadata.Handle) (metadata.PipelineDesc, bool) {
	p, ok := h.(*pipeline)
	if !ok || p == nil {
		return metadata.PipelineDesc{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	desc, ok := d.pipelines[p]
	return desc, ok
}
