package testbed

import (
	stdmath "math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima-core/engine"
	"github.com/spaghettifunk/anima-core/engine/assets"
	"github.com/spaghettifunk/anima-core/engine/config"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-core/engine/systems"
)

// GroundTexture is picked up from the asset directory when present; edits to it reload the scene.
const GroundTexture = "textures/ground.png"

const (
	gridSize    = 4
	gridSpacing = 2.5
	orbitRadius = 14
	orbitHeight = 6
	// radians per second
	orbitSpeed = 0.25
	spinSpeed  = 1.5
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	camera   *systems.Camera
	orbit    float64
	spin     float64
	spinNode int
}

func NewTestGame(cfg *config.Config) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: engine.NewApplicationConfig(cfg.Window),
			State:             &gameState{spinNode: -1},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnBuildScene = tg.BuildScene
	tg.FnBuildFrame = tg.BuildFrame
	tg.FnOnResize = tg.OnResize

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(camera *systems.Camera) error {
	core.LogInfo("initializing testbed")
	s := g.state()
	s.camera = camera
	s.orbit = 0
	g.placeCamera()
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	s := g.state()
	s.orbit = stdmath.Mod(s.orbit+orbitSpeed*deltaTime, 2*stdmath.Pi)
	s.spin = stdmath.Mod(s.spin+spinSpeed*deltaTime, 2*stdmath.Pi)
	g.placeCamera()
	return nil
}

// placeCamera puts the camera on a circle around the origin, looking at it.
func (g *TestGame) placeCamera() {
	s := g.state()
	if s.camera == nil {
		return
	}
	a := float32(s.orbit)
	s.camera.Position = math.Vec3{orbitRadius * float32(stdmath.Sin(float64(a))), orbitHeight, orbitRadius * float32(stdmath.Cos(float64(a)))}
	s.camera.Yaw = a
	s.camera.Pitch = -float32(stdmath.Atan2(orbitHeight, orbitRadius))
}

func (g *TestGame) BuildFrame(input *metadata.FrameInput) error {
	s := g.state()
	if s.spinNode < 0 {
		return nil
	}
	rotation := mgl32.QuatRotate(float32(s.spin), math.Vec3{0, 1, 0})
	t := math.TransformFromPositionRotationScale(math.Vec3{0, 2.5, 0}, rotation, math.Vec3{1.5, 1.5, 1.5})
	input.Overrides = map[int]math.Mat4{s.spinNode: t.Local()}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	core.LogDebug("testbed resized", "width", width, "height", height)
	return nil
}

func (g *TestGame) BuildScene(am *assets.AssetManager) (*metadata.SceneGraph, error) {
	scene := &metadata.SceneGraph{Name: "testbed"}

	checker := CheckerTexture("checker", 64, 8)
	scene.Textures = append(scene.Textures, *checker)
	groundTex := 0
	if am != nil {
		if _, ok := am.Lookup(GroundTexture); ok {
			src, err := am.LoadTexture(GroundTexture, true)
			if err != nil {
				// a half-written file during hot reload; fall back to the checker
				core.LogWarn("ground texture unusable", "path", GroundTexture, "err", err)
			} else {
				scene.Textures = append(scene.Textures, *src)
				groundTex = len(scene.Textures) - 1
			}
		}
	}

	opaque := metadata.NewMaterialSource("checker")
	opaque.Textures[metadata.TextureSlotBaseColor] = 0
	ground := metadata.NewMaterialSource("ground")
	ground.Textures[metadata.TextureSlotBaseColor] = groundTex
	ground.DoubleSided = true
	glass := metadata.NewMaterialSource("glass")
	glass.AlphaMode = metadata.AlphaModeBlend
	scene.Materials = []metadata.MaterialSource{opaque, ground, glass}

	cube := CubeMesh("cube", 0)
	glassCube := CubeMesh("glass_cube", 2)
	plane := PlaneMesh("ground", 1)
	scene.Meshes = []metadata.MeshSource{cube, plane, glassCube}

	root := addNode(scene, "world", math.TransformCreate(), -1)
	scene.Roots = []int{root}

	floor := addNode(scene, "floor", math.TransformFromPositionRotationScale(math.Vec3{0, -0.5, 0}, mgl32.QuatIdent(), math.Vec3{20, 1, 20}), 1)
	scene.Nodes[root].Children = append(scene.Nodes[root].Children, floor)

	half := float32(gridSize-1) * gridSpacing / 2
	for z := 0; z < gridSize; z++ {
		for x := 0; x < gridSize; x++ {
			pos := math.Vec3{float32(x)*gridSpacing - half, 0.5, float32(z)*gridSpacing - half}
			mesh := 0
			if (x+z)%5 == 4 {
				mesh = 2
			}
			n := addNode(scene, "cube", math.TransformFromPosition(pos), mesh)
			scene.Nodes[root].Children = append(scene.Nodes[root].Children, n)
		}
	}

	// A mirrored copy exercises the reversed-winding pipelines.
	mirror := addNode(scene, "mirrored", math.TransformFromPositionRotationScale(math.Vec3{0, 0.5, half + gridSpacing}, mgl32.QuatIdent(), math.Vec3{-1, 1, 1}), 0)
	scene.Nodes[root].Children = append(scene.Nodes[root].Children, mirror)

	spinner := addNode(scene, "spinner", math.TransformFromPosition(math.Vec3{0, 2.5, 0}), 0)
	scene.Nodes[root].Children = append(scene.Nodes[root].Children, spinner)
	g.state().spinNode = spinner

	return scene, nil
}

func addNode(scene *metadata.SceneGraph, name string, t math.Transform, mesh int) int {
	scene.Nodes = append(scene.Nodes, metadata.NodeSource{Name: name, Transform: t, Mesh: mesh})
	return len(scene.Nodes) - 1
}

// CheckerTexture is a size x size RGBA checkerboard with cells of cell texels.
func CheckerTexture(name string, size, cell uint32) *metadata.TextureSource {
	pixels := make([]byte, 0, size*size*4)
	for y := uint32(0); y < size; y++ {
		for x := uint32(0); x < size; x++ {
			v := byte(230)
			if (x/cell+y/cell)%2 == 1 {
				v = 40
			}
			pixels = append(pixels, v, v, v, 255)
		}
	}
	return &metadata.TextureSource{
		Name:    name,
		Width:   size,
		Height:  size,
		Format:  metadata.PixelFormatRGBA8,
		Pixels:  pixels,
		Sampler: metadata.DefaultSamplerDesc(),
		SRGB:    true,
	}
}

type cubeFace struct {
	normal, u, v math.Vec3
}

// u x v == normal, so (0,1,2) and (0,2,3) wind counter-clockwise seen from outside.
var cubeFaces = [6]cubeFace{
	{math.Vec3{1, 0, 0}, math.Vec3{0, 0, -1}, math.Vec3{0, 1, 0}},
	{math.Vec3{-1, 0, 0}, math.Vec3{0, 0, 1}, math.Vec3{0, 1, 0}},
	{math.Vec3{0, 1, 0}, math.Vec3{1, 0, 0}, math.Vec3{0, 0, -1}},
	{math.Vec3{0, -1, 0}, math.Vec3{1, 0, 0}, math.Vec3{0, 0, 1}},
	{math.Vec3{0, 0, 1}, math.Vec3{1, 0, 0}, math.Vec3{0, 1, 0}},
	{math.Vec3{0, 0, -1}, math.Vec3{-1, 0, 0}, math.Vec3{0, 1, 0}},
}

// CubeMesh is a unit cube with per-face normals and texcoords. Tangents are left to the scene loader.
func CubeMesh(name string, material int) metadata.MeshSource {
	m := metadata.MeshSource{Name: name, Material: material}
	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
	for _, f := range cubeFaces {
		base := uint32(len(m.Positions))
		for _, c := range corners {
			p := f.normal.Mul(0.5).Add(f.u.Mul(c[0] * 0.5)).Add(f.v.Mul(c[1] * 0.5))
			m.Positions = append(m.Positions, p)
			m.Normals = append(m.Normals, f.normal)
			m.Texcoords = append(m.Texcoords, math.Vec2{(c[0] + 1) / 2, (1 - c[1]) / 2})
		}
		m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return m
}

// PlaneMesh is a unit quad in the XZ plane facing +Y. Normals are left to the scene loader.
func PlaneMesh(name string, material int) metadata.MeshSource {
	return metadata.MeshSource{
		Name: name,
		Positions: []math.Vec3{
			{-0.5, 0, 0.5}, {0.5, 0, 0.5}, {0.5, 0, -0.5}, {-0.5, 0, -0.5},
		},
		Texcoords: []math.Vec2{{0, 8}, {8, 8}, {8, 0}, {0, 0}},
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
		Material:  material,
	}
}
