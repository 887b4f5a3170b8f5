package headless

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

func submitCopy(t *testing.T, d *Device, src, dst metadata.Handle, size uint64) metadata.Handle {
	t.Helper()
	pool, _ := d.CreateCommandPool(metadata.QueueTransfer)
	cb, err := d.AllocateCommandBuffer(pool, metadata.CommandBufferLevelPrimary)
	if err != nil {
		t.Fatal(err)
	}
	if err := cb.Begin(metadata.CommandBufferUsageOneTimeSubmit, nil); err != nil {
		t.Fatal(err)
	}
	cb.CopyBuffer(src, dst, []metadata.BufferCopy{{Size: size}})
	if err := cb.End(); err != nil {
		t.Fatal(err)
	}
	fence, _ := d.CreateFence(false)
	if err := d.Submit(metadata.QueueTransfer, metadata.SubmitInfo{CommandBuffers: []metadata.CommandBufferRef{cb.Handle()}, Fence: fence}); err != nil {
		t.Fatal(err)
	}
	return fence
}

func newBoundBuffer(t *testing.T, d *Device, size uint64, typeIndex uint32) (metadata.Handle, metadata.Handle) {
	t.Helper()
	buf, req, err := d.CreateBuffer(size, metadata.BufferUsageTransferSrc|metadata.BufferUsageTransferDst)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := d.AllocateMemory(req.Size, typeIndex)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.BindBufferMemory(buf, mem, 0); err != nil {
		t.Fatal(err)
	}
	return buf, mem
}

func TestCopyBufferMovesBytes(t *testing.T) {
	d := New(Options{})
	src, srcMem := newBoundBuffer(t, d, 8, 1)
	dst, _ := newBoundBuffer(t, d, 8, 0)

	mapped, err := d.MapMemory(srcMem, 8)
	if err != nil {
		t.Fatal(err)
	}
	copy(mapped, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	fence := submitCopy(t, d, src, dst, 8)
	if ok, err := d.WaitFence(fence, time.Second); !ok || err != nil {
		t.Fatalf("wait: %v %v", ok, err)
	}
	got, err := d.ReadBuffer(dst)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range got {
		if b != byte(i+1) {
			t.Fatalf("byte %d = %d", i, b)
		}
	}
	if len(d.Violations()) != 0 {
		t.Errorf("unexpected violations: %v", d.Violations())
	}
}

func TestDestroyWhileInFlightIsViolation(t *testing.T) {
	d := New(Options{})
	src, _ := newBoundBuffer(t, d, 16, 1)
	dst, _ := newBoundBuffer(t, d, 16, 0)
	fence := submitCopy(t, d, src, dst, 16)

	d.DestroyBuffer(dst)
	if len(d.Violations()) != 1 {
		t.Fatalf("expected 1 violation, got %v", d.Violations())
	}

	d.WaitFence(fence, time.Second)
	d.DestroyBuffer(src)
	if len(d.Violations()) != 1 {
		t.Fatalf("destroy after fence must be clean, got %v", d.Violations())
	}
}

func TestQueueCapabilities(t *testing.T) {
	tests := []struct {
		name   string
		pool   metadata.QueueKind
		record func(cb *CommandBuffer, img metadata.Handle)
		ops    []string
	}{
		{
			name: "blit on transfer pool",
			pool: metadata.QueueTransfer,
			record: func(cb *CommandBuffer, img metadata.Handle) {
				cb.BlitMip(img, 1, 4, 4)
			},
			ops: []string{"BlitMip"},
		},
		{
			name: "shader read barrier on transfer pool",
			pool: metadata.QueueTransfer,
			record: func(cb *CommandBuffer, img metadata.Handle) {
				cb.TransitionImageLayout(img, metadata.FormatR8G8B8A8Unorm, metadata.ImageLayoutTransferDst, metadata.ImageLayoutShaderReadOnly, 0, 1)
			},
			ops: []string{"TransitionImageLayout"},
		},
		{
			name: "transfer barrier on transfer pool",
			pool: metadata.QueueTransfer,
			record: func(cb *CommandBuffer, img metadata.Handle) {
				cb.TransitionImageLayout(img, metadata.FormatR8G8B8A8Unorm, metadata.ImageLayoutUndefined, metadata.ImageLayoutTransferDst, 0, 1)
			},
		},
		{
			name: "full mip chain on graphics pool",
			pool: metadata.QueueGraphics,
			record: func(cb *CommandBuffer, img metadata.Handle) {
				cb.BlitMip(img, 1, 4, 4)
				cb.TransitionImageLayout(img, metadata.FormatR8G8B8A8Unorm, metadata.ImageLayoutTransferSrc, metadata.ImageLayoutShaderReadOnly, 0, 2)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(Options{})
			img, _, err := d.CreateImage(metadata.ImageDesc{Width: 4, Height: 4, MipLevels: 2, Format: metadata.FormatR8G8B8A8Unorm})
			if err != nil {
				t.Fatal(err)
			}
			pool, _ := d.CreateCommandPool(tt.pool)
			c, _ := d.AllocateCommandBuffer(pool, metadata.CommandBufferLevelPrimary)
			cb := c.(*CommandBuffer)
			if err := cb.Begin(metadata.CommandBufferUsageOneTimeSubmit, nil); err != nil {
				t.Fatal(err)
			}
			tt.record(cb, img)

			got := d.Violations()
			if len(got) != len(tt.ops) {
				t.Fatalf("violations %v, want ops %v", got, tt.ops)
			}
			for i, op := range tt.ops {
				if got[i].Op != op {
					t.Errorf("violation %d op %s, want %s", i, got[i].Op, op)
				}
			}
		})
	}
}

func TestSubmitOnForeignQueueIsViolation(t *testing.T) {
	d := New(Options{})
	pool, _ := d.CreateCommandPool(metadata.QueueTransfer)
	cb, _ := d.AllocateCommandBuffer(pool, metadata.CommandBufferLevelPrimary)
	if err := cb.Begin(metadata.CommandBufferUsageOneTimeSubmit, nil); err != nil {
		t.Fatal(err)
	}
	if err := cb.End(); err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(metadata.QueueGraphics, metadata.SubmitInfo{CommandBuffers: []metadata.CommandBufferRef{cb.Handle()}}); err != nil {
		t.Fatal(err)
	}
	if v := d.Violations(); len(v) != 1 || v[0].Op != "Submit" {
		t.Errorf("violations %v, want one Submit violation", v)
	}
}

func TestMapDeviceLocalFails(t *testing.T) {
	d := New(Options{})
	mem, err := d.AllocateMemory(64, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.MapMemory(mem, 64); err == nil {
		t.Error("expected mapping device-local memory to fail")
	}
}

func TestHeapBudget(t *testing.T) {
	d := New(Options{DeviceHeapSize: 1024})
	if _, err := d.AllocateMemory(1024, 0); err != nil {
		t.Fatal(err)
	}
	_, err := d.AllocateMemory(1, 0)
	if !errors.Is(err, core.ErrOutOfDeviceMemory) {
		t.Fatalf("expected ErrOutOfDeviceMemory, got %v", err)
	}
}

func TestDescriptorPoolCapacity(t *testing.T) {
	d := New(Options{})
	layout, _ := d.CreateDescriptorSetLayout([]metadata.DescriptorBinding{{Binding: 0, Type: metadata.DescriptorTypeCombinedImageSampler, Count: 1}})
	pool, err := d.CreateDescriptorPool(2, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := d.AllocateDescriptorSet(pool, layout); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}
	if _, err := d.AllocateDescriptorSet(pool, layout); !errors.Is(err, core.ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
}

func TestAcquireAfterResizeIsOutOfDate(t *testing.T) {
	d := New(Options{Extent: metadata.Extent{Width: 800, Height: 600}})
	sc, images, err := d.CreateSwapchain(metadata.SwapchainDesc{
		Extent:     metadata.Extent{Width: 800, Height: 600},
		ImageCount: 3,
		Format:     metadata.SurfaceFormat{Format: metadata.FormatB8G8R8A8Srgb},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(images) != 3 {
		t.Fatalf("expected 3 images, got %d", len(images))
	}
	sem, _ := d.CreateSemaphore()
	if _, err := d.AcquireNextImage(sc, time.Second, sem); err != nil {
		t.Fatal(err)
	}

	d.SetSurfaceExtent(metadata.Extent{Width: 1024, Height: 768})
	sem2, _ := d.CreateSemaphore()
	if _, err := d.AcquireNextImage(sc, time.Second, sem2); !errors.Is(err, core.ErrOutOfDate) {
		t.Fatalf("expected ErrOutOfDate, got %v", err)
	}
}

func TestInjectedSuboptimalStillAcquires(t *testing.T) {
	d := New(Options{})
	sc, _, err := d.CreateSwapchain(metadata.SwapchainDesc{Extent: d.opts.Extent, ImageCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	d.InjectAcquireResult(core.ErrSuboptimal)
	idx, err := d.AcquireNextImage(sc, time.Second, nil)
	if !errors.Is(err, core.ErrSuboptimal) {
		t.Fatalf("expected ErrSuboptimal, got %v", err)
	}
	if idx != 0 {
		t.Errorf("expected image 0, got %d", idx)
	}
}
