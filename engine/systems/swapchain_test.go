package systems

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer/headless"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

func newTestSwapchainSystem(t *testing.T, dev *headless.Device) *SwapchainSystem {
	t.Helper()
	ms := newTestMemorySystem(t, dev, 4<<20)
	pass, err := dev.CreateRenderPass(metadata.RenderPassDesc{
		ColorFormat: metadata.FormatB8G8R8A8Srgb,
		DepthFormat: metadata.FormatD32Sfloat,
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewSwapchainSystem(&SwapchainSystemConfig{FramesInFlight: 2}, dev, ms)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Create(pass); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		s.Shutdown()
		dev.DestroyRenderPass(pass)
	})
	return s
}

func TestSwapchainSelection(t *testing.T) {
	srgb := metadata.SurfaceFormat{Format: metadata.FormatB8G8R8A8Srgb, ColorSpace: metadata.ColorSpaceSrgbNonlinear}
	unorm := metadata.SurfaceFormat{Format: metadata.FormatB8G8R8A8Unorm, ColorSpace: metadata.ColorSpaceSrgbNonlinear}
	if got := chooseSurfaceFormat([]metadata.SurfaceFormat{unorm, srgb}); got != srgb {
		t.Errorf("chooseSurfaceFormat picked %v, want the sRGB format", got)
	}
	if got := chooseSurfaceFormat([]metadata.SurfaceFormat{unorm}); got != unorm {
		t.Errorf("chooseSurfaceFormat fallback picked %v", got)
	}

	modes := []struct {
		name      string
		available []metadata.PresentMode
		vsync     bool
		want      metadata.PresentMode
	}{
		{"vsync", []metadata.PresentMode{metadata.PresentModeFifo, metadata.PresentModeMailbox}, true, metadata.PresentModeFifo},
		{"mailbox", []metadata.PresentMode{metadata.PresentModeFifo, metadata.PresentModeMailbox}, false, metadata.PresentModeMailbox},
		{"fifo fallback", []metadata.PresentMode{metadata.PresentModeFifo, metadata.PresentModeImmediate}, false, metadata.PresentModeFifo},
	}
	for _, tt := range modes {
		t.Run(tt.name, func(t *testing.T) {
			if got := choosePresentMode(tt.available, tt.vsync); got != tt.want {
				t.Errorf("choosePresentMode = %d, want %d", got, tt.want)
			}
		})
	}

	counts := []struct {
		min, max, want uint32
	}{
		{2, 3, 3},
		{2, 0, 3},
		{3, 3, 3},
	}
	for _, tt := range counts {
		if got := chooseImageCount(metadata.SurfaceCapabilities{MinImageCount: tt.min, MaxImageCount: tt.max}); got != tt.want {
			t.Errorf("chooseImageCount(%d, %d) = %d, want %d", tt.min, tt.max, got, tt.want)
		}
	}

	caps := metadata.SurfaceCapabilities{
		MinImageExtent: metadata.Extent{Width: 16, Height: 16},
		MaxImageExtent: metadata.Extent{Width: 4096, Height: 2048},
	}
	if got := clampExtent(metadata.Extent{Width: 8, Height: 9000}, caps); got != (metadata.Extent{Width: 16, Height: 2048}) {
		t.Errorf("clampExtent = %+v", got)
	}
}

func TestSwapchainCreate(t *testing.T) {
	dev := headless.New(headless.Options{})
	s := newTestSwapchainSystem(t, dev)

	if s.State() != SwapchainStateValid || s.Generation() != 1 {
		t.Fatalf("state %s generation %d after create", s.State(), s.Generation())
	}
	if s.ImageCount() != 3 || dev.LiveObjects("framebuffer") != 3 {
		t.Errorf("images %d framebuffers %d, want 3 each", s.ImageCount(), dev.LiveObjects("framebuffer"))
	}
	if s.ColorFormat() != metadata.FormatB8G8R8A8Srgb || s.DepthFormat() != metadata.FormatD32Sfloat {
		t.Errorf("formats %d/%d", s.ColorFormat(), s.DepthFormat())
	}
	if s.Extent() != (metadata.Extent{Width: 1280, Height: 720}) {
		t.Errorf("extent %+v", s.Extent())
	}
}

func TestSwapchainResizeCoalesces(t *testing.T) {
	dev := headless.New(headless.Options{})
	s := newTestSwapchainSystem(t, dev)

	for _, w := range []uint32{800, 900, 1024} {
		e := metadata.Extent{Width: w, Height: 600}
		dev.SetSurfaceExtent(e)
		s.NotifyResize(e)
	}
	if s.State() != SwapchainStateInvalidated {
		t.Fatalf("state %s after resize", s.State())
	}
	recreated, err := s.RecreateIfNeeded()
	if err != nil || !recreated {
		t.Fatalf("RecreateIfNeeded = %v, %v", recreated, err)
	}
	if recreated, _ := s.RecreateIfNeeded(); recreated {
		t.Error("a valid swapchain must not be recreated again")
	}
	if dev.SwapchainsCreated() != 2 || s.Generation() != 2 {
		t.Errorf("swapchains created %d generation %d, want 2", dev.SwapchainsCreated(), s.Generation())
	}
	if s.Extent() != (metadata.Extent{Width: 1024, Height: 600}) {
		t.Errorf("extent %+v, want the last size", s.Extent())
	}
	if dev.LiveObjects("swapchain") != 1 || dev.LiveObjects("framebuffer") != 3 {
		t.Errorf("old swapchain resources leaked")
	}
	for _, v := range dev.Violations() {
		t.Error(v)
	}
}

func TestSwapchainSameExtentRevalidates(t *testing.T) {
	dev := headless.New(headless.Options{})
	s := newTestSwapchainSystem(t, dev)

	s.NotifyResize(s.Extent())
	recreated, err := s.RecreateIfNeeded()
	if err != nil || recreated {
		t.Fatalf("RecreateIfNeeded = %v, %v; want a revalidation", recreated, err)
	}
	if s.State() != SwapchainStateValid || dev.SwapchainsCreated() != 1 {
		t.Errorf("state %s swapchains %d", s.State(), dev.SwapchainsCreated())
	}

	// An out-of-date report forces a rebuild even at the same size.
	s.Invalidate("test")
	if recreated, err := s.RecreateIfNeeded(); err != nil || !recreated {
		t.Fatalf("RecreateIfNeeded after invalidate = %v, %v", recreated, err)
	}
}

func TestSwapchainMinimized(t *testing.T) {
	dev := headless.New(headless.Options{})
	s := newTestSwapchainSystem(t, dev)

	dev.SetSurfaceExtent(metadata.Extent{})
	s.NotifyResize(metadata.Extent{})
	for i := 0; i < 3; i++ {
		if _, err := s.RecreateIfNeeded(); !errors.Is(err, core.ErrSwapchainBooting) {
			t.Fatalf("expected ErrSwapchainBooting while minimized, got %v", err)
		}
	}
	if s.State() != SwapchainStateInvalidated {
		t.Errorf("state %s while minimized", s.State())
	}

	restored := metadata.Extent{Width: 640, Height: 480}
	dev.SetSurfaceExtent(restored)
	s.NotifyResize(restored)
	if recreated, err := s.RecreateIfNeeded(); err != nil || !recreated {
		t.Fatalf("RecreateIfNeeded after restore = %v, %v", recreated, err)
	}
	if s.Extent() != restored {
		t.Errorf("extent %+v", s.Extent())
	}
}

func TestSwapchainBusyWhileRecreating(t *testing.T) {
	dev := headless.New(headless.Options{})
	s := newTestSwapchainSystem(t, dev)

	s.mu.Lock()
	s.state = SwapchainStateRecreating
	s.mu.Unlock()

	if _, err := s.Acquire(0); !errors.Is(err, core.ErrSwapchainBusy) {
		t.Errorf("Acquire: %v", err)
	}
	if err := s.Present(0); !errors.Is(err, core.ErrSwapchainBusy) {
		t.Errorf("Present: %v", err)
	}
	if _, err := s.RecreateIfNeeded(); !errors.Is(err, core.ErrSwapchainBusy) {
		t.Errorf("RecreateIfNeeded: %v", err)
	}

	s.mu.Lock()
	s.state = SwapchainStateValid
	s.mu.Unlock()
}

func TestSwapchainPresentSignals(t *testing.T) {
	tests := []struct {
		name    string
		inject  error
		wantErr error
	}{
		{"out of date", core.ErrOutOfDate, nil},
		{"suboptimal", core.ErrSuboptimal, nil},
		{"failure", errors.New("surface lost"), core.ErrPresentFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := headless.New(headless.Options{})
			s := newTestSwapchainSystem(t, dev)

			idx, err := s.Acquire(0)
			if err != nil {
				t.Fatal(err)
			}
			// Nothing renders here, so mark the present semaphore signalled through an empty submit.
			if err := dev.Submit(metadata.QueueGraphics, metadata.SubmitInfo{
				WaitSemaphores:   []metadata.Handle{s.AcquireSemaphore(0)},
				WaitStages:       []metadata.PipelineStage{metadata.PipelineStageColorAttachmentOutput},
				SignalSemaphores: []metadata.Handle{s.PresentSemaphore(idx)},
			}); err != nil {
				t.Fatal(err)
			}
			dev.InjectPresentResult(tt.inject)
			err = s.Present(idx)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Present: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Present = %v, want %v", err, tt.wantErr)
			}
			if s.State() != SwapchainStateInvalidated {
				t.Errorf("state %s after %s", s.State(), tt.name)
			}
			if _, err := s.RecreateIfNeeded(); err != nil {
				t.Fatal(err)
			}
			if dev.SwapchainsCreated() != 2 {
				t.Errorf("swapchains created %d", dev.SwapchainsCreated())
			}
		})
	}
}

type swapchainListener struct {
	requested []string
	recreated []uint64
}

func TestSwapchainEvents(t *testing.T) {
	core.EventSystemInitialize()
	l := &swapchainListener{}
	core.EventRegister(core.EVENT_CODE_SWAPCHAIN_RECREATE_REQUESTED, l, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		l.requested = append(l.requested, data.Data.C[0])
		return false
	})
	core.EventRegister(core.EVENT_CODE_SWAPCHAIN_RECREATED, l, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		l.recreated = append(l.recreated, data.Data.U64[0])
		return false
	})
	t.Cleanup(func() {
		core.EventUnregister(core.EVENT_CODE_SWAPCHAIN_RECREATE_REQUESTED, l)
		core.EventUnregister(core.EVENT_CODE_SWAPCHAIN_RECREATED, l)
	})

	dev := headless.New(headless.Options{})
	s := newTestSwapchainSystem(t, dev)
	e := metadata.Extent{Width: 300, Height: 200}
	dev.SetSurfaceExtent(e)
	s.NotifyResize(e)
	s.NotifyResize(e)
	if _, err := s.RecreateIfNeeded(); err != nil {
		t.Fatal(err)
	}

	if len(l.requested) != 1 || l.requested[0] != "resize" {
		t.Errorf("recreate requests %v, want one resize", l.requested)
	}
	if len(l.recreated) != 2 || l.recreated[0] != 1 || l.recreated[1] != 2 {
		t.Errorf("recreated generations %v, want [1 2]", l.recreated)
	}
}

func TestSwapchainListenersCanQuerySender(t *testing.T) {
	core.EventSystemInitialize()
	dev := headless.New(headless.Options{})
	s := newTestSwapchainSystem(t, dev)

	var seen []SwapchainState
	var generations []uint64
	l := &swapchainListener{}
	core.EventRegister(core.EVENT_CODE_SWAPCHAIN_RECREATE_REQUESTED, l, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		seen = append(seen, sender.(*SwapchainSystem).State())
		return false
	})
	core.EventRegister(core.EVENT_CODE_SWAPCHAIN_RECREATED, l, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		sc := sender.(*SwapchainSystem)
		seen = append(seen, sc.State())
		generations = append(generations, sc.Generation())
		return false
	})
	t.Cleanup(func() {
		core.EventUnregister(core.EVENT_CODE_SWAPCHAIN_RECREATE_REQUESTED, l)
		core.EventUnregister(core.EVENT_CODE_SWAPCHAIN_RECREATED, l)
	})

	done := make(chan error, 1)
	go func() {
		e := metadata.Extent{Width: 640, Height: 480}
		dev.SetSurfaceExtent(e)
		s.NotifyResize(e)
		if _, err := s.RecreateIfNeeded(); err != nil {
			done <- err
			return
		}
		s.Invalidate("out of date")
		_, err := s.RecreateIfNeeded()
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("swapchain blocked while a listener queried it")
	}

	want := []SwapchainState{SwapchainStateInvalidated, SwapchainStateValid, SwapchainStateInvalidated, SwapchainStateValid}
	if len(seen) != len(want) {
		t.Fatalf("listeners saw states %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("event %d saw state %s, want %s", i, seen[i], want[i])
		}
	}
	if len(generations) != 2 || generations[0] != 2 || generations[1] != 3 {
		t.Errorf("generations seen %v, want [2 3]", generations)
	}
}
