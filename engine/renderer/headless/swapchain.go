package headless

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

type swapchain struct {
	object
	desc     metadata.SwapchainDesc
	images   []*image
	acquired map[uint32]bool
	next     uint32
}

// PresentRecord describes one successful or signalled Present call.
type PresentRecord struct {
	Swapchain  metadata.Handle
	ImageIndex uint32
	Extent     metadata.Extent
	// Destroyed is true when the swapchain was already destroyed at present time.
	Destroyed bool
}

// SetSurfaceExtent simulates a window resize; zero means minimized.
func (d *Device) SetSurfaceExtent(e metadata.Extent) {
	d.mu.Lock()
	d.surfaceExtent = e
	d.mu.Unlock()
}

// InjectAcquireResult queues an error for a future AcquireNextImage call.
func (d *Device) InjectAcquireResult(err error) {
	d.mu.Lock()
	d.acquireResults = append(d.acquireResults, err)
	d.mu.Unlock()
}

// InjectPresentResult queues an error for a future Present call.
func (d *Device) InjectPresentResult(err error) {
	d.mu.Lock()
	d.presentResults = append(d.presentResults, err)
	d.mu.Unlock()
}

// SwapchainsCreated counts CreateSwapchain calls.
func (d *Device) SwapchainsCreated() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.swapchainsCreated
}

func (d *Device) Presents() []PresentRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]PresentRecord, len(d.presents))
	copy(out, d.presents)
	return out
}

func (d *Device) SurfaceCapabilities() (metadata.SurfaceCapabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return metadata.SurfaceCapabilities{}, err
	}
	return metadata.SurfaceCapabilities{
		CurrentExtent:  d.surfaceExtent,
		MinImageExtent: metadata.Extent{Width: 1, Height: 1},
		MaxImageExtent: metadata.Extent{Width: 16384, Height: 16384},
		MinImageCount:  d.opts.MinImageCount,
		MaxImageCount:  d.opts.MaxImageCount,
		Formats: []metadata.SurfaceFormat{
			{Format: metadata.FormatB8G8R8A8Unorm, ColorSpace: metadata.ColorSpaceSrgbNonlinear},
			{Format: metadata.FormatB8G8R8A8Srgb, ColorSpace: metadata.ColorSpaceSrgbNonlinear},
		},
		PresentModes: []metadata.PresentMode{metadata.PresentModeFifo, metadata.PresentModeMailbox},
	}, nil
}

func (d *Device) CreateSwapchain(desc metadata.SwapchainDesc) (metadata.Handle, []metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return nil, nil, err
	}
	if desc.Extent.IsZero() {
		return nil, nil, errors.New("swapchain extent must not be zero")
	}
	if desc.ImageCount < d.opts.MinImageCount || desc.ImageCount > d.opts.MaxImageCount {
		return nil, nil, errors.Newf("image count %d outside [%d, %d]", desc.ImageCount, d.opts.MinImageCount, d.opts.MaxImageCount)
	}
	if old, ok := desc.OldSwapchain.(*swapchain); ok && old != nil && old.destroyed {
		d.violate("CreateSwapchain", "old "+old.String()+" already destroyed")
	}
	sc := &swapchain{object: d.newObject("swapchain"), desc: desc, acquired: make(map[uint32]bool)}
	handles := make([]metadata.Handle, desc.ImageCount)
	for i := range handles {
		img := &image{
			object:    d.newObject("swapchain_image"),
			desc:      metadata.ImageDesc{Width: desc.Extent.Width, Height: desc.Extent.Height, MipLevels: 1, Format: desc.Format.Format},
			swapchain: sc,
			layouts:   make([]metadata.ImageLayout, 1),
		}
		sc.images = append(sc.images, img)
		handles[i] = img
	}
	d.track(sc)
	d.swapchainsCreated++
	return sc, handles, nil
}

func (d *Device) DestroySwapchain(h metadata.Handle) {
	sc, ok := h.(*swapchain)
	if !ok || sc == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, img := range sc.images {
		for _, s := range d.inFlight {
			if s.references(img) {
				d.violate("DestroySwapchain", img.String()+" still used by in-flight submission")
				break
			}
		}
		img.destroyed = true
	}
	d.release(sc, "DestroySwapchain")
}

func (d *Device) AcquireNextImage(h metadata.Handle, timeout time.Duration, signal metadata.Handle) (uint32, error) {
	sc, ok := h.(*swapchain)
	if !ok || sc == nil {
		return 0, errors.New("acquire from an invalid swapchain")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return 0, err
	}
	if sc.destroyed {
		d.violate("AcquireNextImage", sc.String()+" was destroyed")
		return 0, errors.WithStack(core.ErrOutOfDate)
	}
	var injected error
	if len(d.acquireResults) > 0 {
		injected = d.acquireResults[0]
		d.acquireResults = d.acquireResults[1:]
	}
	if injected != nil && !errors.Is(injected, core.ErrSuboptimal) {
		return 0, injected
	}
	if d.surfaceExtent != sc.desc.Extent {
		return 0, errors.WithStack(core.ErrOutOfDate)
	}

	idx := sc.next
	sc.next = (sc.next + 1) % uint32(len(sc.images))
	sc.acquired[idx] = true
	if sem, ok := signal.(*semaphore); ok && sem != nil {
		if sem.signaled {
			d.violate("AcquireNextImage", "signal of already signalled "+sem.String())
		}
		sem.signaled = true
	}
	return idx, injected
}

func (d *Device) Present(h metadata.Handle, imageIndex uint32, wait metadata.Handle) error {
	sc, ok := h.(*swapchain)
	if !ok || sc == nil {
		return errors.New("present to an invalid swapchain")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return err
	}
	d.presents = append(d.presents, PresentRecord{Swapchain: sc, ImageIndex: imageIndex, Extent: sc.desc.Extent, Destroyed: sc.destroyed})
	if sc.destroyed {
		d.violate("Present", sc.String()+" was destroyed")
		return errors.WithStack(core.ErrOutOfDate)
	}
	if !sc.acquired[imageIndex] {
		d.violate("Present", "image was not acquired")
	}
	delete(sc.acquired, imageIndex)
	if sem, ok := wait.(*semaphore); ok && sem != nil {
		if !sem.signaled {
			d.violate("Present", "wait on unsignalled "+sem.String())
		}
		sem.signaled = false
	}
	if len(d.presentResults) > 0 {
		err := d.presentResults[0]
		d.presentResults = d.presentResults[1:]
		if err != nil {
			return err
		}
	}
	if d.surfaceExtent != sc.desc.Extent {
		return errors.WithStack(core.ErrOutOfDate)
	}
	return nil
}
