package headless

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

type fence struct {
	object
	signaled bool
	pending  *submission
}

type semaphore struct {
	object
	signaled bool
}

// SubmissionRecord is the flattened view of one queue submission: secondary
// command buffers are expanded in place of the ExecuteCommands that ran them.
type SubmissionRecord struct {
	ID       int
	Queue    metadata.QueueKind
	Commands []Command
}

// Ops lists the op names of the recorded commands, in execution order.
func (r *SubmissionRecord) Ops() []string {
	ops := make([]string, len(r.Commands))
	for i, c := range r.Commands {
		ops[i] = c.Op
	}
	return ops
}

type submission struct {
	record  *SubmissionRecord
	refs    map[metadata.Handle]struct{}
	buffers map[*CommandBuffer]struct{}
	fence   *fence
	signals []*semaphore
	done    bool
}

func (s *submission) references(o named) bool {
	_, ok := s.refs[o]
	return ok
}

func (s *submission) complete() {
	if s.done {
		return
	}
	s.done = true
	if s.fence != nil {
		s.fence.signaled = true
		s.fence.pending = nil
	}
}

func (d *Device) CreateFence(signaled bool) (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := &fence{object: d.newObject("fence"), signaled: signaled}
	d.track(f)
	return f, nil
}

// WaitFence completes the submission guarded by the fence. A fence that is
// neither signalled nor pending would block forever, so it times out.
func (d *Device) WaitFence(h metadata.Handle, timeout time.Duration) (bool, error) {
	f, ok := h.(*fence)
	if !ok || f == nil {
		return false, errors.New("wait on an invalid fence")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return false, err
	}
	if f.signaled {
		return true, nil
	}
	if f.pending == nil {
		return false, nil
	}
	s := f.pending
	s.complete()
	d.removeInFlight(s)
	return true, nil
}

func (d *Device) removeInFlight(s *submission) {
	for i, p := range d.inFlight {
		if p == s {
			d.inFlight = append(d.inFlight[:i], d.inFlight[i+1:]...)
			return
		}
	}
}

func (d *Device) ResetFence(h metadata.Handle) error {
	f, ok := h.(*fence)
	if !ok || f == nil {
		return errors.New("reset of an invalid fence")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if f.pending != nil {
		d.violate("ResetFence", f.String()+" is guarding in-flight work")
	}
	f.signaled = false
	return nil
}

func (d *Device) DestroyFence(h metadata.Handle) {
	f, ok := h.(*fence)
	if !ok || f == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if f.pending != nil {
		d.violate("DestroyFence", f.String()+" is guarding in-flight work")
	}
	d.release(f, "DestroyFence")
}

func (d *Device) CreateSemaphore() (metadata.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &semaphore{object: d.newObject("semaphore")}
	d.track(s)
	return s, nil
}

func (d *Device) DestroySemaphore(h metadata.Handle) {
	if s, ok := h.(*semaphore); ok && s != nil {
		d.mu.Lock()
		d.release(s, "DestroySemaphore")
		d.mu.Unlock()
	}
}

// Submit replays the command buffers and keeps the submission in flight
// until its fence is waited on.
func (d *Device) Submit(queue metadata.QueueKind, info metadata.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLost(); err != nil {
		return err
	}
	if len(d.submitFailures) > 0 {
		err := d.submitFailures[0]
		d.submitFailures = d.submitFailures[1:]
		if err != nil {
			return err
		}
	}

	var f *fence
	if info.Fence != nil {
		var ok bool
		if f, ok = info.Fence.(*fence); !ok {
			return errors.New("submit with an invalid fence")
		}
		if f.signaled || f.pending != nil {
			return errors.Newf("submit with %s that was not reset", f)
		}
	}

	s := &submission{
		record:  &SubmissionRecord{ID: len(d.submissions) + 1, Queue: queue},
		refs:    make(map[metadata.Handle]struct{}),
		buffers: make(map[*CommandBuffer]struct{}),
		fence:   f,
	}
	for _, ref := range info.CommandBuffers {
		cb, ok := ref.(*CommandBuffer)
		if !ok || cb == nil {
			return errors.New("submit of an invalid command buffer")
		}
		cb.mu.Lock()
		state, level := cb.state, cb.level
		cb.mu.Unlock()
		if state != cbExecutable || level != metadata.CommandBufferLevelPrimary {
			return errors.Newf("%s is not an executable primary command buffer", cb)
		}
		if d.pendingBuffer(cb) {
			d.violate("Submit", cb.String()+" is already in flight")
		}
		if cb.pool.queue != queue {
			d.violate("Submit", cb.String()+" was recorded for another queue family")
		}
		d.flatten(s, cb)
	}
	for _, wh := range info.WaitSemaphores {
		if sem, ok := wh.(*semaphore); ok && sem != nil {
			if !sem.signaled {
				d.violate("Submit", "wait on unsignalled "+sem.String())
			}
			sem.signaled = false
			s.refs[sem] = struct{}{}
		}
	}
	for _, sh := range info.SignalSemaphores {
		if sem, ok := sh.(*semaphore); ok && sem != nil {
			sem.signaled = true
			s.refs[sem] = struct{}{}
		}
	}
	for _, c := range s.record.Commands {
		if c.exec != nil {
			c.exec()
		}
	}
	if f != nil {
		f.pending = s
		s.refs[f] = struct{}{}
	}
	d.submissions = append(d.submissions, s.record)
	d.inFlight = append(d.inFlight, s)
	return nil
}

func (d *Device) flatten(s *submission, cb *CommandBuffer) {
	s.buffers[cb] = struct{}{}
	s.refs[cb] = struct{}{}
	for _, c := range cb.Commands() {
		for _, r := range c.Refs {
			if r != nil {
				s.refs[r] = struct{}{}
			}
		}
		if c.Op == "ExecuteCommands" {
			for _, r := range c.Refs {
				if sc, ok := r.(*CommandBuffer); ok {
					d.flatten(s, sc)
				}
			}
			continue
		}
		s.record.Commands = append(s.record.Commands, c)
	}
}

// Submissions returns every successful submission so far.
func (d *Device) Submissions() []*SubmissionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*SubmissionRecord, len(d.submissions))
	copy(out, d.submissions)
	return out
}
