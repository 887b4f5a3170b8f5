package systems

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/headless"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

func newTestDescriptorSystem(t *testing.T, dev *headless.Device) (*TextureSystem, *DescriptorSystem) {
	t.Helper()
	_, ts := newTestTextureSystem(t, dev)
	ds, err := NewDescriptorSystem(dev, ts)
	if err != nil {
		t.Fatal(err)
	}
	return ts, ds
}

func testMaterial(name string) *metadata.Material {
	return &metadata.Material{ID: core.NewUUID(), Name: name}
}

func TestReserveAllowsExactlyKBinds(t *testing.T) {
	for _, k := range []uint32{0, 1, 3, 8} {
		dev := headless.New(headless.Options{})
		_, ds := newTestDescriptorSystem(t, dev)
		if err := ds.Reserve(k); err != nil {
			t.Fatal(err)
		}
		for i := uint32(0); i < k; i++ {
			if _, err := ds.Bind(testMaterial("m")); err != nil {
				t.Fatalf("k=%d: bind %d failed: %v", k, i, err)
			}
		}
		if _, err := ds.Bind(testMaterial("one too many")); !errors.Is(err, core.ErrPoolExhausted) {
			t.Fatalf("k=%d: expected ErrPoolExhausted, got %v", k, err)
		}
		if ds.Bound() != int(k) {
			t.Errorf("k=%d: %d sets bound", k, ds.Bound())
		}
	}
}

func TestConcurrentBind(t *testing.T) {
	const (
		k         = 5
		materials = 16
		callers   = 2
	)
	dev := headless.New(headless.Options{})
	_, ds := newTestDescriptorSystem(t, dev)
	if err := ds.Reserve(k); err != nil {
		t.Fatal(err)
	}

	mats := make([]*metadata.Material, materials)
	for i := range mats {
		mats[i] = testMaterial("m")
	}
	type result struct {
		set metadata.Handle
		err error
	}
	results := make([][callers]result, materials)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range mats {
		for c := 0; c < callers; c++ {
			wg.Add(1)
			go func(i, c int) {
				defer wg.Done()
				<-start
				set, err := ds.Bind(mats[i])
				results[i][c] = result{set, err}
			}(i, c)
		}
	}
	close(start)
	wg.Wait()

	sets := make(map[metadata.Handle]int)
	for i, rs := range results {
		first := rs[0]
		for c, r := range rs {
			if r.err != nil && !errors.Is(r.err, core.ErrPoolExhausted) {
				t.Errorf("material %d caller %d: unexpected error %v", i, c, r.err)
			}
			if (r.err == nil) != (first.err == nil) || r.set != first.set {
				t.Errorf("material %d: callers disagree (%v, %v) vs (%v, %v)", i, first.set, first.err, r.set, r.err)
			}
		}
		if first.err == nil {
			if other, ok := sets[first.set]; ok {
				t.Errorf("materials %d and %d share a descriptor set", other, i)
			}
			sets[first.set] = i
		}
	}
	if len(sets) != k {
		t.Errorf("%d materials bound, want %d", len(sets), k)
	}
	if ds.Bound() != k {
		t.Errorf("Bound() = %d, want %d", ds.Bound(), k)
	}
	for _, v := range dev.Violations() {
		t.Error(v)
	}
}

func TestBindIsIdempotent(t *testing.T) {
	dev := headless.New(headless.Options{})
	_, ds := newTestDescriptorSystem(t, dev)
	if err := ds.Reserve(1); err != nil {
		t.Fatal(err)
	}
	m := testMaterial("stone")
	first, err := ds.Bind(m)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		again, err := ds.Bind(m)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatal("repeated bind returned a different set")
		}
	}
	if ds.Bound() != 1 {
		t.Errorf("expected 1 bound set, got %d", ds.Bound())
	}
}

func TestReserveOrdering(t *testing.T) {
	dev := headless.New(headless.Options{})
	_, ds := newTestDescriptorSystem(t, dev)

	if _, err := ds.Bind(testMaterial("early")); !errors.Is(err, core.ErrNotReserved) {
		t.Fatalf("expected ErrNotReserved, got %v", err)
	}
	if err := ds.Reserve(2); err != nil {
		t.Fatal(err)
	}
	if err := ds.Reserve(4); !errors.Is(err, core.ErrAlreadyReserved) {
		t.Fatalf("expected ErrAlreadyReserved, got %v", err)
	}

	ds.Reset()
	if n := dev.LiveObjects("descriptor_pool"); n != 0 {
		t.Errorf("expected pool destroyed on reset, %d live", n)
	}
	if err := ds.Reserve(4); err != nil {
		t.Fatalf("reserve after reset: %v", err)
	}
}

func TestMissingSlotsUseDefaultTexture(t *testing.T) {
	dev := headless.New(headless.Options{})
	ts, ds := newTestDescriptorSystem(t, dev)
	if err := ds.Reserve(1); err != nil {
		t.Fatal(err)
	}

	baseColor, err := ts.CreateTexture(&metadata.TextureSource{Name: "albedo", Width: 2, Height: 2, Pixels: make([]byte, 16)})
	if err != nil {
		t.Fatal(err)
	}
	m := testMaterial("partial")
	m.Textures[metadata.TextureSlotBaseColor] = baseColor

	set, err := ds.Bind(m)
	if err != nil {
		t.Fatal(err)
	}
	writes := dev.DescriptorWrites(set)
	if len(writes) != int(metadata.TextureSlotCount) {
		t.Fatalf("expected %d written bindings, got %d", metadata.TextureSlotCount, len(writes))
	}
	for slot := metadata.TextureSlot(0); slot < metadata.TextureSlotCount; slot++ {
		w := writes[uint32(slot)]
		want := ts.DefaultTexture.Image.View
		if slot == metadata.TextureSlotBaseColor {
			want = baseColor.Image.View
		}
		if w.ImageView != want {
			t.Errorf("slot %s bound to the wrong view", slot)
		}
		if w.Sampler == nil {
			t.Errorf("slot %s has no sampler", slot)
		}
	}
}
