package systems

import (
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/headless"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

func newTestUploadSystem(t *testing.T, dev *headless.Device, concurrency int, mips bool) (*MemorySystem, *UploadSystem) {
	t.Helper()
	ms := newTestMemorySystem(t, dev, 1<<20)
	us, err := NewUploadSystem(&UploadSystemConfig{Concurrency: concurrency, GenerateMips: mips}, dev, ms)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { us.Shutdown() })
	return ms, us
}

func TestUploadBuffer(t *testing.T) {
	dev := headless.New(headless.Options{})
	ms, us := newTestUploadSystem(t, dev, 1, false)

	data := []byte("vertex data lives on the gpu now")
	buf, err := us.UploadBuffer(data, metadata.BufferUsageVertex)
	if err != nil {
		t.Fatal(err)
	}
	got, err := dev.ReadBuffer(buf.Handle)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Errorf("uploaded %q, read back %q", data, got)
	}
	if buf.Allocation.Kind != metadata.MemoryKindDeviceLocal {
		t.Errorf("expected device-local destination, got %s", buf.Allocation.Kind)
	}
	// Only the destination survives; the staging buffer is gone.
	if n := dev.LiveObjects("buffer"); n != 1 {
		t.Errorf("expected 1 live buffer, got %d", n)
	}
	ms.DestroyBuffer(buf)
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}

func TestUploadFailures(t *testing.T) {
	tests := []struct {
		name    string
		inject  func(dev *headless.Device)
		wantErr error
	}{
		{"rejected submission", func(dev *headless.Device) { dev.FailNextSubmit(errors.New("queue rejected batch")) }, core.ErrTransferFailed},
		{"device lost", func(dev *headless.Device) { dev.FailNextSubmit(core.ErrDeviceLost) }, core.ErrDeviceLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := headless.New(headless.Options{})
			_, us := newTestUploadSystem(t, dev, 1, false)
			tt.inject(dev)

			_, err := us.UploadBuffer([]byte{1, 2, 3, 4}, metadata.BufferUsageIndex)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if n := dev.LiveObjects("buffer"); n != 0 {
				t.Errorf("expected no buffers after a failed upload, got %d", n)
			}
			if n := dev.LiveObjects("memory"); n != 0 {
				t.Errorf("expected no memory after a failed upload, got %d", n)
			}
		})
	}
}

func TestUploadImageGeneratesMips(t *testing.T) {
	dev := headless.New(headless.Options{})
	ms, us := newTestUploadSystem(t, dev, 1, true)

	src := &metadata.TextureSource{Name: "checker", Width: 8, Height: 4, Format: metadata.PixelFormatRGB8, Pixels: make([]byte, 8*4*3)}
	img, err := us.UploadImage(src)
	if err != nil {
		t.Fatal(err)
	}
	if img.MipLevels != 4 {
		t.Fatalf("expected 4 mip levels for 8x4, got %d", img.MipLevels)
	}
	for mip := uint32(0); mip < img.MipLevels; mip++ {
		if l := dev.ImageLayout(img.Handle, mip); l != metadata.ImageLayoutShaderReadOnly {
			t.Errorf("mip %d left in layout %d", mip, l)
		}
	}

	subs := dev.Submissions()
	blits := 0
	for _, c := range subs[len(subs)-1].Commands {
		if c.Op == "BlitMip" {
			blits++
		}
	}
	if blits != 3 {
		t.Errorf("expected 3 blits, got %d", blits)
	}
	if q := subs[len(subs)-1].Queue; q != metadata.QueueGraphics {
		t.Errorf("mip chain submitted on queue %d, want the graphics queue", q)
	}
	for _, v := range dev.Violations() {
		t.Error(v)
	}
	ms.DestroyImage(img)
}

func TestUploadImageRejectsShortPixels(t *testing.T) {
	dev := headless.New(headless.Options{})
	_, us := newTestUploadSystem(t, dev, 1, false)
	_, err := us.UploadImage(&metadata.TextureSource{Name: "short", Width: 2, Height: 2, Pixels: []byte{1, 2, 3}})
	if err == nil {
		t.Fatal("expected an error for truncated pixel data")
	}
	if n := dev.LiveObjects("image"); n != 0 {
		t.Errorf("expected no image, got %d", n)
	}
}

func TestConcurrentUploads(t *testing.T) {
	dev := headless.New(headless.Options{})
	ms, us := newTestUploadSystem(t, dev, 3, false)

	const n = 12
	var wg sync.WaitGroup
	bufs := make([]*metadata.GpuBuffer, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bufs[i], errs[i] = us.UploadBuffer([]byte(fmt.Sprintf("payload-%02d", i)), metadata.BufferUsageVertex)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("upload %d: %v", i, errs[i])
		}
		got, _ := dev.ReadBuffer(bufs[i].Handle)
		if want := fmt.Sprintf("payload-%02d", i); string(got) != want {
			t.Errorf("upload %d: got %q want %q", i, got, want)
		}
		ms.DestroyBuffer(bufs[i])
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("unexpected violations: %v", v)
	}
}
