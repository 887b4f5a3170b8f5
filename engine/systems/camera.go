package systems

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
)

const DEFAULT_CAMERA_NAME = "default"

/** @brief A perspective camera producing the per-frame view-projection. */
type Camera struct {
	Position math.Vec3
	// Euler angles in radians: pitch around X, yaw around Y.
	Pitch float32
	Yaw   float32
	// Vertical field of view in radians.
	FOV  float32
	Near float32
	Far  float32
}

func NewCamera() *Camera {
	c := &Camera{}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	*c = Camera{
		Position: math.Vec3{0, 0, 5},
		FOV:      math.DegToRad(45),
		Near:     0.1,
		Far:      1000,
	}
}

// Forward is the unit view direction.
func (c *Camera) Forward() math.Vec3 {
	rot := mgl32.AnglesToQuat(c.Pitch, c.Yaw, 0, mgl32.XYZ)
	return rot.Rotate(math.Vec3{0, 0, -1}).Normalize()
}

func (c *Camera) View() math.Mat4 {
	return math.NewMat4LookAt(c.Position, c.Position.Add(c.Forward()), math.Vec3{0, 1, 0})
}

// ViewProjection for a surface of the given extent. A zero extent yields the view alone.
func (c *Camera) ViewProjection(extent metadata.Extent) math.Mat4 {
	if extent.IsZero() {
		return c.View()
	}
	aspect := float32(extent.Width) / float32(extent.Height)
	return math.NewMat4PerspectiveVulkan(c.FOV, aspect, c.Near, c.Far).Mul4(c.View())
}

type cameraLookup struct {
	camera         *Camera
	referenceCount int
}

type CameraSystem struct {
	Config *CameraSystemConfig
	// A default, non-registered camera that always exists as a fallback.
	DefaultCamera *Camera

	mu      sync.Mutex
	cameras map[string]*cameraLookup
}

/** @brief The camera system configuration. */
type CameraSystemConfig struct {
	/** @brief The maximum number of cameras that can be managed by the system. */
	MaxCameraCount int
}

func NewCameraSystem(config *CameraSystemConfig) (*CameraSystem, error) {
	if config.MaxCameraCount <= 0 {
		err := errors.New("func NewCameraSystem - config.MaxCameraCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &CameraSystem{
		Config:        config,
		DefaultCamera: NewCamera(),
		cameras:       make(map[string]*cameraLookup, config.MaxCameraCount),
	}, nil
}

func (cs *CameraSystem) Shutdown() error {
	cs.mu.Lock()
	cs.cameras = make(map[string]*cameraLookup)
	cs.mu.Unlock()
	return nil
}

/**
 * @brief Acquires a camera by name, creating it when it does not exist yet.
 * Internal reference counter is incremented.
 */
func (cs *CameraSystem) Acquire(name string) (*Camera, error) {
	if name == DEFAULT_CAMERA_NAME {
		return cs.DefaultCamera, nil
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	l, ok := cs.cameras[name]
	if !ok {
		if len(cs.cameras) >= cs.Config.MaxCameraCount {
			err := errors.Newf("unable to acquire camera %q, adjust camera system config to allow more", name)
			core.LogError(err.Error())
			return nil, err
		}
		core.LogDebug("creating new camera", "name", name)
		l = &cameraLookup{camera: NewCamera()}
		cs.cameras[name] = l
	}
	l.referenceCount++
	return l.camera, nil
}

/**
 * @brief Releases a camera with the given name. When the reference count
 * reaches 0 the camera is dropped.
 */
func (cs *CameraSystem) Release(name string) {
	if name == DEFAULT_CAMERA_NAME {
		core.LogDebug("cannot release default camera, nothing was done")
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	l, ok := cs.cameras[name]
	if !ok {
		core.LogWarn("camera release failed lookup, nothing was done", "name", name)
		return
	}
	l.referenceCount--
	if l.referenceCount < 1 {
		delete(cs.cameras, name)
	}
}

func (cs *CameraSystem) GetDefault() *Camera {
	return cs.DefaultCamera
}
