package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

func (d *Device) CreateDescriptorSetLayout(bindings []metadata.DescriptorBinding) (metadata.Handle, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vkDescriptorType(b.Type),
			DescriptorCount: max(b.Count, 1),
			StageFlags:      vkShaderStages(b.Stages),
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	var layout vk.DescriptorSetLayout
	if err := d.check(vk.CreateDescriptorSetLayout(d.logical(), &info, d.context.Allocator, &layout), "vkCreateDescriptorSetLayout"); err != nil {
		return nil, err
	}
	return layout, nil
}

func (d *Device) DestroyDescriptorSetLayout(layout metadata.Handle) {
	if l := handleAs[vk.DescriptorSetLayout](layout); l != nil {
		vk.DestroyDescriptorSetLayout(d.logical(), l, d.context.Allocator)
	}
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []metadata.DescriptorPoolSize) (metadata.Handle, error) {
	vkSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		vkSizes[i] = vk.DescriptorPoolSize{
			Type:            vkDescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(vkSizes)),
		PPoolSizes:    vkSizes,
	}
	var pool vk.DescriptorPool
	if err := d.check(vk.CreateDescriptorPool(d.logical(), &info, d.context.Allocator, &pool), "vkCreateDescriptorPool"); err != nil {
		return nil, err
	}
	return pool, nil
}

func (d *Device) DestroyDescriptorPool(pool metadata.Handle) {
	p := handleAs[vk.DescriptorPool](pool)
	if p == nil {
		return
	}
	_ = d.locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorPool(d.logical(), p, d.context.Allocator)
		return nil
	})
}

// AllocateDescriptorSet reports core.ErrPoolExhausted when the pool is out of sets or descriptors.
func (d *Device) AllocateDescriptorSet(pool, layout metadata.Handle) (metadata.Handle, error) {
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     handleAs[vk.DescriptorPool](pool),
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{handleAs[vk.DescriptorSetLayout](layout)},
	}
	var set vk.DescriptorSet
	if err := d.locks.SafeCall(DescriptorManagement, func() error {
		return d.check(vk.AllocateDescriptorSets(d.logical(), &info, &set), "vkAllocateDescriptorSets")
	}); err != nil {
		return nil, err
	}
	return set, nil
}

func (d *Device) UpdateDescriptorSet(set metadata.Handle, writes []metadata.DescriptorWrite) {
	if len(writes) == 0 {
		return
	}
	dst := handleAs[vk.DescriptorSet](set)
	vkWrites := make([]vk.WriteDescriptorSet, len(writes))
	for i, w := range writes {
		vkWrites[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          dst,
			DstBinding:      w.Binding,
			DescriptorCount: 1,
			DescriptorType:  vkDescriptorType(w.Type),
		}
		if w.Type == metadata.DescriptorTypeCombinedImageSampler {
			vkWrites[i].PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     handleAs[vk.Sampler](w.Sampler),
				ImageView:   handleAs[vk.ImageView](w.ImageView),
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}}
			continue
		}
		rng := vk.DeviceSize(w.Range)
		if w.Range == 0 {
			rng = vk.DeviceSize(^uint64(0))
		}
		vkWrites[i].PBufferInfo = []vk.DescriptorBufferInfo{{
			Buffer: handleAs[vk.Buffer](w.Buffer),
			Offset: vk.DeviceSize(w.Offset),
			Range:  rng,
		}}
	}
	_ = d.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(d.logical(), uint32(len(vkWrites)), vkWrites, 0, nil)
		return nil
	})
}
