// Package headless implements renderer.Device without a GPU. Commands are
// recorded and replayed at submit time (buffer copies really move bytes),
// and every submission stays in flight until the host observes its fence
// or waits for the device to go idle. Destroying an object that an
// in-flight submission still references is recorded as a violation.
package headless

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/renderer"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

// Options configures a headless device. Zero values pick sensible defaults.
type Options struct {
	DeviceName string
	// Extent is the initial surface size.
	Extent metadata.Extent
	// DeviceHeapSize and HostHeapSize bound the two memory heaps.
	DeviceHeapSize uint64
	HostHeapSize   uint64
	MinImageCount  uint32
	MaxImageCount  uint32
	DepthFormat    metadata.Format
}

// Violation is a misuse of the device that a real driver would not report
// but that would corrupt or crash a real frame.
type Violation struct {
	Op     string
	Object string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Op, v.Object)
}

type object struct {
	kind      string
	id        uint64
	destroyed bool
}

func (o *object) String() string {
	return fmt.Sprintf("%s#%d", o.kind, o.id)
}

type named interface {
	base() *object
}

func (o *object) base() *object { return o }

type Device struct {
	mu sync.Mutex

	opts        Options
	memoryTypes []metadata.MemoryType
	heapUsed    [2]uint64
	nextID      uint64

	live        map[named]struct{}
	violations  []Violation
	inFlight    []*submission
	submissions []*SubmissionRecord
	presents    []PresentRecord

	surfaceExtent     metadata.Extent
	swapchainsCreated int
	acquireResults    []error
	presentResults    []error
	submitFailures    []error
	lost              bool

	pipelines map[*pipeline]metadata.PipelineDesc
}

var _ renderer.Device = (*Device)(nil)

func New(opts Options) *Device {
	if opts.DeviceName == "" {
		opts.DeviceName = "anima headless device"
	}
	if opts.Extent.IsZero() {
		opts.Extent = metadata.Extent{Width: 1280, Height: 720}
	}
	if opts.DeviceHeapSize == 0 {
		opts.DeviceHeapSize = 1 << 30
	}
	if opts.HostHeapSize == 0 {
		opts.HostHeapSize = 256 << 20
	}
	if opts.MinImageCount == 0 {
		opts.MinImageCount = 2
	}
	if opts.MaxImageCount == 0 {
		opts.MaxImageCount = 3
	}
	if opts.DepthFormat == metadata.FormatUndefined {
		opts.DepthFormat = metadata.FormatD32Sfloat
	}
	return &Device{
		opts: opts,
		memoryTypes: []metadata.MemoryType{
			{Flags: metadata.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{Flags: metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent, HeapIndex: 1},
			{Flags: metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent | metadata.MemoryPropertyHostCached, HeapIndex: 1},
		},
		live:          make(map[named]struct{}),
		surfaceExtent: opts.Extent,
		pipelines:     make(map[*pipeline]metadata.PipelineDesc),
	}
}

func (d *Device) newObject(kind string) object {
	d.nextID++
	return object{kind: kind, id: d.nextID}
}

func (d *Device) track(o named) {
	d.live[o] = struct{}{}
}

// release marks o destroyed and checks it is not used by in-flight work.
// Callers hold d.mu.
func (d *Device) release(o named, op string) bool {
	if o == nil {
		return false
	}
	b := o.base()
	if b.destroyed {
		d.violate(op, b.String()+" destroyed twice")
		return false
	}
	for _, s := range d.inFlight {
		if s.references(o) {
			d.violate(op, fmt.Sprintf("%s still used by in-flight submission %d", b, s.record.ID))
			break
		}
	}
	b.destroyed = true
	delete(d.live, o)
	return true
}

func (d *Device) violate(op, what string) {
	core.LogWith("headless").Warn("device misuse", "op", op, "object", what)
	d.violations = append(d.violations, Violation{Op: op, Object: what})
}

func (d *Device) Properties() metadata.DeviceProperties {
	return metadata.DeviceProperties{
		DeviceName:                      d.opts.DeviceName,
		MinUniformBufferOffsetAlignment: 256,
		MinStorageBufferOffsetAlignment: 64,
		MaxPushConstantsSize:            128,
		DepthFormat:                     d.opts.DepthFormat,
	}
}

func (d *Device) MemoryTypes() []metadata.MemoryType {
	out := make([]metadata.MemoryType, len(d.memoryTypes))
	copy(out, d.memoryTypes)
	return out
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return core.ErrDeviceLost
	}
	for _, s := range d.inFlight {
		s.complete()
	}
	d.inFlight = d.inFlight[:0]
	return nil
}

func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.inFlight {
		s.complete()
	}
	d.inFlight = nil
	if len(d.live) > 0 {
		core.LogWith("headless").Warn("device destroyed with live objects", "count", len(d.live))
	}
}

// Violations returns every misuse recorded so far.
func (d *Device) Violations() []Violation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Violation, len(d.violations))
	copy(out, d.violations)
	return out
}

// LiveObjects counts objects of the given kind ("" for all) that were not destroyed.
func (d *Device) LiveObjects(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for o := range d.live {
		if kind == "" || o.base().kind == kind {
			n++
		}
	}
	return n
}

// InFlight returns the number of submissions whose fence was not observed yet.
func (d *Device) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

// HeapUsage returns the bytes allocated from the device-local and host heaps.
func (d *Device) HeapUsage() (deviceLocal, host uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heapUsed[0], d.heapUsed[1]
}

// SetDeviceLost makes every blocking call fail with core.ErrDeviceLost.
func (d *Device) SetDeviceLost() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()
}

// FailNextSubmit queues a result for a future Submit call. A non-nil err is
// returned without executing anything; nil lets that submission through.
func (d *Device) FailNextSubmit(err error) {
	d.mu.Lock()
	d.submitFailures = append(d.submitFailures, err)
	d.mu.Unlock()
}

func (d *Device) checkLost() error {
	if d.lost {
		return errors.WithStack(core.ErrDeviceLost)
	}
	return nil
}
