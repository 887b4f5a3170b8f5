package systems

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/headless"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

func newTestMemorySystem(t *testing.T, dev *headless.Device, blockSize uint64) *MemorySystem {
	t.Helper()
	ms, err := NewMemorySystem(&MemorySystemConfig{BlockSize: blockSize, DedicatedThreshold: blockSize / 2}, dev)
	if err != nil {
		t.Fatal(err)
	}
	return ms
}

func TestAllocationsNeverOverlap(t *testing.T) {
	dev := headless.New(headless.Options{})
	ms := newTestMemorySystem(t, dev, 4096)

	req := func(size, align uint64) metadata.MemoryRequirements {
		return metadata.MemoryRequirements{Size: size, Alignment: align, MemoryTypeBits: 0b111}
	}
	var live []*metadata.Allocation
	for _, r := range []metadata.MemoryRequirements{
		req(100, 16), req(256, 256), req(7, 1), req(512, 64), req(300, 256), req(1000, 16),
	} {
		a, err := ms.Allocate(r, metadata.MemoryKindDeviceLocal)
		if err != nil {
			t.Fatal(err)
		}
		if a.Offset%r.Alignment != 0 {
			t.Errorf("offset %d not aligned to %d", a.Offset, r.Alignment)
		}
		live = append(live, a)
	}
	// Free every other one and allocate again into the holes.
	for i := 0; i < len(live); i += 2 {
		ms.Free(live[i])
	}
	kept := []*metadata.Allocation{live[1], live[3], live[5]}
	for _, size := range []uint64{64, 90, 200} {
		a, err := ms.Allocate(req(size, 16), metadata.MemoryKindDeviceLocal)
		if err != nil {
			t.Fatal(err)
		}
		kept = append(kept, a)
	}

	for i, a := range kept {
		for j, b := range kept {
			if i >= j || a.Memory != b.Memory {
				continue
			}
			if a.Offset < b.Offset+b.Size && b.Offset < a.Offset+a.Size {
				t.Errorf("allocations %d [%d,%d) and %d [%d,%d) overlap", i, a.Offset, a.Offset+a.Size, j, b.Offset, b.Offset+b.Size)
			}
		}
	}
}

func TestFreeCoalescesAndReleasesBlock(t *testing.T) {
	dev := headless.New(headless.Options{})
	ms := newTestMemorySystem(t, dev, 4096)
	req := metadata.MemoryRequirements{Size: 1000, Alignment: 8, MemoryTypeBits: 0b1}

	a, _ := ms.Allocate(req, metadata.MemoryKindDeviceLocal)
	b, _ := ms.Allocate(req, metadata.MemoryKindDeviceLocal)
	c, _ := ms.Allocate(req, metadata.MemoryKindDeviceLocal)
	if s := ms.Stats(); s.Blocks != 1 || s.Allocations != 3 {
		t.Fatalf("expected 1 block with 3 allocations, got %+v", s)
	}

	ms.Free(b)
	ms.Free(a)
	// a and b coalesced: a 2000 byte request fits at offset 0 again.
	big, err := ms.Allocate(metadata.MemoryRequirements{Size: 2000, Alignment: 8, MemoryTypeBits: 0b1}, metadata.MemoryKindDeviceLocal)
	if err != nil {
		t.Fatal(err)
	}
	if big.Offset != 0 || ms.Stats().Blocks != 1 {
		t.Errorf("expected coalesced range at offset 0 in the same block, got offset %d blocks %d", big.Offset, ms.Stats().Blocks)
	}

	ms.Free(big)
	ms.Free(c)
	if s := ms.Stats(); s.Blocks != 0 || s.UsedBytes != 0 {
		t.Errorf("expected empty allocator, got %+v", s)
	}
	if n := dev.LiveObjects("memory"); n != 0 {
		t.Errorf("expected all device memory freed, %d left", n)
	}
}

func TestDedicatedAllocation(t *testing.T) {
	dev := headless.New(headless.Options{})
	ms := newTestMemorySystem(t, dev, 4096)

	a, err := ms.Allocate(metadata.MemoryRequirements{Size: 3000, Alignment: 16, MemoryTypeBits: 0b111}, metadata.MemoryKindUpload)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Dedicated || len(a.Mapped) != 3000 {
		t.Fatalf("expected a mapped dedicated allocation, got dedicated=%v mapped=%d", a.Dedicated, len(a.Mapped))
	}
	ms.Free(a)
	if s := ms.Stats(); s.DedicatedAllocations != 0 {
		t.Errorf("expected dedicated allocation to be released, got %+v", s)
	}
}

func TestMemoryKindSelection(t *testing.T) {
	dev := headless.New(headless.Options{})
	ms := newTestMemorySystem(t, dev, 4096)

	tests := []struct {
		name string
		bits uint32
		kind metadata.MemoryKind
		want int32
	}{
		{"device local", 0b111, metadata.MemoryKindDeviceLocal, 0},
		{"upload", 0b111, metadata.MemoryKindUpload, 1},
		{"readback prefers cached", 0b111, metadata.MemoryKindReadback, 2},
		{"readback falls back to uncached", 0b011, metadata.MemoryKindReadback, 1},
		{"no match", 0b001, metadata.MemoryKindUpload, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ms.FindMemoryIndex(tt.bits, tt.kind); got != tt.want {
				t.Errorf("FindMemoryIndex() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOutOfDeviceMemoryPropagates(t *testing.T) {
	dev := headless.New(headless.Options{DeviceHeapSize: 8192})
	ms := newTestMemorySystem(t, dev, 4096)
	req := metadata.MemoryRequirements{Size: 1500, Alignment: 1, MemoryTypeBits: 0b1}

	for i := 0; i < 4; i++ {
		if _, err := ms.Allocate(req, metadata.MemoryKindDeviceLocal); err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
	}
	_, err := ms.Allocate(req, metadata.MemoryKindDeviceLocal)
	if !errors.Is(err, core.ErrOutOfDeviceMemory) {
		t.Fatalf("expected ErrOutOfDeviceMemory, got %v", err)
	}
}

func TestUploadAllocationsAreMapped(t *testing.T) {
	dev := headless.New(headless.Options{})
	ms := newTestMemorySystem(t, dev, 4096)

	buf, err := ms.CreateBuffer(64, metadata.BufferUsageTransferSrc, metadata.MemoryKindUpload)
	if err != nil {
		t.Fatal(err)
	}
	copy(buf.Allocation.Mapped, []byte("staging"))
	got, err := dev.ReadBuffer(buf.Handle)
	if err != nil {
		t.Fatal(err)
	}
	if string(got[:7]) != "staging" {
		t.Errorf("mapped write not visible in buffer: %q", got[:7])
	}
	ms.DestroyBuffer(buf)
	if n := dev.LiveObjects("buffer"); n != 0 {
		t.Errorf("expected buffer destroyed, %d live", n)
	}
}

func TestImagesAndBuffersNeverShareBlocks(t *testing.T) {
	dev := headless.New(headless.Options{})
	ms := newTestMemorySystem(t, dev, 64<<10)

	vb, err := ms.CreateBuffer(100, metadata.BufferUsageVertex|metadata.BufferUsageTransferDst, metadata.MemoryKindDeviceLocal)
	if err != nil {
		t.Fatal(err)
	}
	img, err := ms.CreateImage(metadata.ImageDesc{Width: 4, Height: 4, Format: metadata.FormatR8G8B8A8Unorm, Usage: metadata.ImageUsageSampled})
	if err != nil {
		t.Fatal(err)
	}
	ib, err := ms.CreateBuffer(100, metadata.BufferUsageIndex|metadata.BufferUsageTransferDst, metadata.MemoryKindDeviceLocal)
	if err != nil {
		t.Fatal(err)
	}

	if img.Allocation.Memory == vb.Allocation.Memory || img.Allocation.Memory == ib.Allocation.Memory {
		t.Error("an optimal image shares a block with linear buffers")
	}
	if vb.Allocation.Memory != ib.Allocation.Memory {
		t.Error("buffers of the same memory type should share a block")
	}
	if s := ms.Stats(); s.Blocks != 2 {
		t.Errorf("blocks = %d, want one linear and one optimal", s.Blocks)
	}

	ms.DestroyImage(img)
	if s := ms.Stats(); s.Blocks != 1 {
		t.Errorf("blocks = %d after freeing the image, want 1", s.Blocks)
	}
	ms.DestroyBuffer(vb)
	ms.DestroyBuffer(ib)
}

func TestWriteStatsJSON(t *testing.T) {
	dev := headless.New(headless.Options{})
	ms := newTestMemorySystem(t, dev, 4096)
	if _, err := ms.Allocate(metadata.MemoryRequirements{Size: 128, Alignment: 1, MemoryTypeBits: 0b1}, metadata.MemoryKindDeviceLocal); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := ms.WriteStatsJSON(&out); err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Blocks      int
		Allocations int
		BlockList   []struct {
			Kind       string
			FreeRanges []struct{ Offset, Size float64 }
		}
	}
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json %q: %v", out.String(), err)
	}
	if decoded.Blocks != 1 || decoded.Allocations != 1 || len(decoded.BlockList) != 1 {
		t.Fatalf("unexpected stats %+v", decoded)
	}
	if fr := decoded.BlockList[0].FreeRanges; len(fr) != 1 || fr[0].Offset != 128 {
		t.Errorf("unexpected free ranges %+v", fr)
	}
}
