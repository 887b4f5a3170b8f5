package systems

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

// Frame set (set 0) bindings.
const (
	FrameBindingCamera     uint32 = 0
	FrameBindingTransforms uint32 = 1
)

type bindingKey struct {
	material uuid.UUID
	layout   metadata.Handle
}

/**
 * @brief Hands out material descriptor sets from a single pool whose
 * capacity is fixed by Reserve. Every material slot is written, with the
 * default texture standing in for missing textures.
 */
type DescriptorSystem struct {
	// Set 1: one combined image sampler per texture slot.
	MaterialLayout metadata.Handle
	// Set 0: camera uniform buffer and the per-draw transform array.
	FrameLayout metadata.Handle

	device   renderer.Device
	textures *TextureSystem

	mu       sync.Mutex
	reserved bool
	capacity uint32
	pool     metadata.Handle
	sets     map[bindingKey]metadata.Handle
}

func NewDescriptorSystem(device renderer.Device, textures *TextureSystem) (*DescriptorSystem, error) {
	ds := &DescriptorSystem{
		device:   device,
		textures: textures,
		sets:     make(map[bindingKey]metadata.Handle),
	}

	bindings := make([]metadata.DescriptorBinding, metadata.TextureSlotCount)
	for slot := range bindings {
		bindings[slot] = metadata.DescriptorBinding{
			Binding: uint32(slot),
			Type:    metadata.DescriptorTypeCombinedImageSampler,
			Count:   1,
			Stages:  metadata.ShaderStageFragment,
		}
	}
	var err error
	if ds.MaterialLayout, err = device.CreateDescriptorSetLayout(bindings); err != nil {
		return nil, errors.Wrap(err, "creating material descriptor set layout")
	}
	ds.FrameLayout, err = device.CreateDescriptorSetLayout([]metadata.DescriptorBinding{
		{Binding: FrameBindingCamera, Type: metadata.DescriptorTypeUniformBuffer, Count: 1, Stages: metadata.ShaderStageVertex | metadata.ShaderStageFragment},
		{Binding: FrameBindingTransforms, Type: metadata.DescriptorTypeStorageBuffer, Count: 1, Stages: metadata.ShaderStageVertex},
	})
	if err != nil {
		device.DestroyDescriptorSetLayout(ds.MaterialLayout)
		return nil, errors.Wrap(err, "creating frame descriptor set layout")
	}
	return ds, nil
}

/**
 * @brief Fixes the pool capacity to the final number of distinct materials.
 * Must be called exactly once before any Bind; Reset allows it again.
 */
func (ds *DescriptorSystem) Reserve(materialCount uint32) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.reserved {
		return errors.WithStack(core.ErrAlreadyReserved)
	}
	if materialCount > 0 {
		pool, err := ds.device.CreateDescriptorPool(materialCount, []metadata.DescriptorPoolSize{
			{Type: metadata.DescriptorTypeCombinedImageSampler, Count: materialCount * uint32(metadata.TextureSlotCount)},
		})
		if err != nil {
			return errors.Wrap(err, "creating material descriptor pool")
		}
		ds.pool = pool
	}
	ds.reserved = true
	ds.capacity = materialCount
	core.LogDebug("descriptor pool reserved", "materials", materialCount)
	return nil
}

/**
 * @brief Returns the descriptor set of a material, allocating and writing it
 * on first use. Repeated calls return the identical set.
 */
func (ds *DescriptorSystem) Bind(material *metadata.Material) (metadata.Handle, error) {
	if material == nil {
		return nil, errors.New("bind of a nil material")
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if !ds.reserved {
		return nil, errors.WithStack(core.ErrNotReserved)
	}
	key := bindingKey{material: material.ID, layout: ds.MaterialLayout}
	if set, ok := ds.sets[key]; ok {
		return set, nil
	}
	if uint32(len(ds.sets)) >= ds.capacity {
		return nil, errors.Wrapf(core.ErrPoolExhausted, "material %q: all %d sets are bound", material.Name, ds.capacity)
	}

	set, err := ds.device.AllocateDescriptorSet(ds.pool, ds.MaterialLayout)
	if err != nil {
		return nil, errors.Wrapf(err, "allocating descriptor set for material %q", material.Name)
	}
	ds.device.UpdateDescriptorSet(set, ds.materialWrites(material))
	ds.sets[key] = set
	return set, nil
}

func (ds *DescriptorSystem) materialWrites(material *metadata.Material) []metadata.DescriptorWrite {
	writes := make([]metadata.DescriptorWrite, metadata.TextureSlotCount)
	for slot := range writes {
		tex := material.Textures[slot]
		if tex == nil || tex.Image == nil {
			tex = ds.textures.DefaultTexture
		}
		writes[slot] = metadata.DescriptorWrite{
			Binding:   uint32(slot),
			Type:      metadata.DescriptorTypeCombinedImageSampler,
			ImageView: tex.Image.View,
			Sampler:   tex.Sampler,
		}
	}
	return writes
}

// Bound returns the number of distinct sets handed out since the last reservation.
func (ds *DescriptorSystem) Bound() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return len(ds.sets)
}

/**
 * @brief Destroys the pool and forgets every binding. Only valid once no
 * submitted frame uses the sets anymore.
 */
func (ds *DescriptorSystem) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.pool != nil {
		ds.device.DestroyDescriptorPool(ds.pool)
		ds.pool = nil
	}
	ds.sets = make(map[bindingKey]metadata.Handle)
	ds.reserved = false
	ds.capacity = 0
}

func (ds *DescriptorSystem) Shutdown() error {
	ds.Reset()
	ds.device.DestroyDescriptorSetLayout(ds.FrameLayout)
	ds.device.DestroyDescriptorSetLayout(ds.MaterialLayout)
	return nil
}
