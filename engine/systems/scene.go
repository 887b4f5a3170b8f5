package systems

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-core/engine/core"
	"github.com/spaghettifunk/anima-core/engine/math"
	"github.com/spaghettifunk/anima-core/engine/renderer/metadata"
	"golang.org/x/sync/errgroup"
)

type SceneSystemConfig struct {
	/** @brief How many mesh/texture uploads a load runs at once. */
	UploadConcurrency int
}

type SceneSystem struct {
	Config *SceneSystemConfig

	memory      *MemorySystem
	uploads     *UploadSystem
	textures    *TextureSystem
	descriptors *DescriptorSystem
}

/** @brief A node of a loaded scene with its resolved world transform. */
type SceneNode struct {
	Index  int
	Name   string
	Parent int
	Local  math.Mat4
	World  math.Mat4
	// Mesh is an index into AssetSet.Meshes, or -1.
	Mesh int
	// Mirrored is set when the world determinant is negative.
	Mirrored bool
	// Singular is set when the world transform is not invertible.
	Singular bool
}

/**
 * @brief The GPU-resident result of loading one scene graph. It is either
 * completely live or does not exist.
 */
type AssetSet struct {
	ID        uuid.UUID
	Name      string
	Nodes     []SceneNode
	Meshes    []*metadata.Mesh
	Materials []*metadata.Material
	Textures  []*metadata.Texture
	// DrawList is ordered by (archetype, winding). DrawList[i].DrawIndex == i.
	DrawList []metadata.DrawItem

	// order lists node indices parents-first.
	order    []int
	byName   map[string]int
	system   *SceneSystem
	reserved bool
}

// DrawSnapshot is the immutable per-frame view of the draw list transforms.
type DrawSnapshot struct {
	// Transforms is indexed by draw index.
	Transforms      []math.Mat4
	ReversedWinding []bool
}

func NewSceneSystem(config *SceneSystemConfig, memory *MemorySystem, uploads *UploadSystem, textures *TextureSystem, descriptors *DescriptorSystem) (*SceneSystem, error) {
	if config.UploadConcurrency <= 0 {
		err := errors.New("func NewSceneSystem - config.UploadConcurrency must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &SceneSystem{
		Config:      config,
		memory:      memory,
		uploads:     uploads,
		textures:    textures,
		descriptors: descriptors,
	}, nil
}

/**
 * @brief Converts a parsed scene graph into GPU-resident, draw-ready assets.
 * The descriptor system must be unreserved. Any failure destroys whatever
 * was created and returns a *core.AssetLoadError.
 */
func (ss *SceneSystem) Load(scene *metadata.SceneGraph) (*AssetSet, error) {
	if scene == nil {
		return nil, core.NewAssetLoadError(-1, -1, errors.New("nil scene graph"))
	}
	logger := core.LogWith("scene")
	roots, err := validateScene(scene)
	if err != nil {
		return nil, err
	}

	set := &AssetSet{
		ID:     core.NewUUID(),
		Name:   scene.Name,
		byName: make(map[string]int),
		system: ss,
	}
	set.flatten(scene, roots)
	for _, n := range set.Nodes {
		if n.Singular {
			logger.Warn("node transform is not invertible, rendering as is", "node", n.Index, "name", n.Name)
		}
	}

	// Only meshes and textures reachable from the tree are uploaded.
	meshUsers := make(map[int]int)
	for _, i := range set.order {
		if m := scene.Nodes[i].Mesh; m >= 0 {
			if _, ok := meshUsers[m]; !ok {
				meshUsers[m] = i
			}
		}
	}
	materialUsed := make(map[int]bool)
	for m := range meshUsers {
		materialUsed[scene.Meshes[m].Material] = true
	}
	textureUsers := make(map[int]int)
	for mat := range materialUsed {
		if mat < 0 {
			continue
		}
		for _, tex := range scene.Materials[mat].Textures {
			if tex >= 0 {
				textureUsers[tex] = mat
			}
		}
	}

	logger.Info("loading scene", "set", set.ID, "nodes", len(set.Nodes), "meshes", len(meshUsers), "textures", len(textureUsers))
	if err := ss.upload(set, scene, meshUsers, textureUsers); err != nil {
		ss.rollback(set)
		return nil, err
	}
	if err := ss.bindMaterials(set, scene, meshUsers, materialUsed); err != nil {
		ss.rollback(set)
		return nil, err
	}
	set.buildDrawList()
	logger.Info("scene loaded", "set", set.ID, "draws", len(set.DrawList), "materials", len(set.Materials))
	return set, nil
}

// validateScene checks every index before any GPU work and returns the roots to walk.
func validateScene(scene *metadata.SceneGraph) ([]int, error) {
	nodeCount := len(scene.Nodes)
	parent := make([]int, nodeCount)
	for i := range parent {
		parent[i] = -1
	}
	for i, n := range scene.Nodes {
		if n.Mesh < -1 || n.Mesh >= len(scene.Meshes) {
			return nil, core.NewAssetLoadError(i, n.Mesh, errors.Newf("mesh index %d out of range", n.Mesh))
		}
		for _, c := range n.Children {
			if c < 0 || c >= nodeCount {
				return nil, core.NewAssetLoadError(i, -1, errors.Newf("child index %d out of range", c))
			}
			if c == i || parent[c] >= 0 {
				return nil, core.NewAssetLoadError(c, -1, errors.New("node has more than one parent"))
			}
			parent[c] = i
		}
	}

	roots := scene.Roots
	if len(roots) == 0 {
		for i, p := range parent {
			if p < 0 {
				roots = append(roots, i)
			}
		}
	}
	for _, r := range roots {
		if r < 0 || r >= nodeCount {
			return nil, core.NewAssetLoadError(r, -1, errors.Newf("root index %d out of range", r))
		}
		if parent[r] >= 0 {
			return nil, core.NewAssetLoadError(r, -1, errors.New("root node has a parent"))
		}
	}

	visited := make([]bool, nodeCount)
	stack := append([]int(nil), roots...)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[i] {
			return nil, core.NewAssetLoadError(i, -1, errors.New("node graph is not a tree"))
		}
		visited[i] = true
		stack = append(stack, scene.Nodes[i].Children...)
	}
	for i, ok := range visited {
		if ok {
			continue
		}
		// Every node has at most one parent, so a parent chain that never
		// ends is a cycle.
		p, steps := parent[i], 0
		for p >= 0 && steps <= nodeCount {
			p, steps = parent[p], steps+1
		}
		if p >= 0 {
			return nil, core.NewAssetLoadError(i, -1, errors.New("node graph contains a cycle"))
		}
		core.LogWarn("node is not reachable from any root and is ignored", "node", i)
	}

	for m, mesh := range scene.Meshes {
		if err := validateMesh(scene, &mesh); err != nil {
			return nil, core.NewAssetLoadError(-1, m, err)
		}
	}
	for i, mat := range scene.Materials {
		for slot, tex := range mat.Textures {
			if tex < -1 || tex >= len(scene.Textures) {
				return nil, core.NewAssetLoadError(-1, -1, errors.Newf("material %d slot %s: texture index %d out of range", i, metadata.TextureSlot(slot), tex))
			}
		}
	}
	return roots, nil
}

func validateMesh(scene *metadata.SceneGraph, mesh *metadata.MeshSource) error {
	n := len(mesh.Positions)
	if n == 0 {
		return errors.New("mesh has no positions")
	}
	if len(mesh.Normals) != 0 && len(mesh.Normals) != n {
		return errors.Newf("mesh has %d normals for %d positions", len(mesh.Normals), n)
	}
	if len(mesh.Texcoords) != 0 && len(mesh.Texcoords) != n {
		return errors.Newf("mesh has %d texcoords for %d positions", len(mesh.Texcoords), n)
	}
	if len(mesh.Tangents) != 0 && len(mesh.Tangents) != n {
		return errors.Newf("mesh has %d tangents for %d positions", len(mesh.Tangents), n)
	}
	if mesh.Indices == nil {
		if n%3 != 0 {
			return errors.Newf("non-indexed mesh has %d vertices, not a multiple of 3", n)
		}
	} else {
		if len(mesh.Indices) == 0 || len(mesh.Indices)%3 != 0 {
			return errors.Newf("mesh has %d indices, not a positive multiple of 3", len(mesh.Indices))
		}
		for _, idx := range mesh.Indices {
			if int(idx) >= n {
				return errors.Newf("index %d out of range for %d vertices", idx, n)
			}
		}
	}
	if mesh.Material < -1 || mesh.Material >= len(scene.Materials) {
		return errors.Newf("material index %d out of range", mesh.Material)
	}
	return nil
}

// flatten resolves world transforms top-down with an explicit stack.
func (a *AssetSet) flatten(scene *metadata.SceneGraph, roots []int) {
	a.Nodes = make([]SceneNode, len(scene.Nodes))
	for i, n := range scene.Nodes {
		a.Nodes[i] = SceneNode{Index: i, Name: n.Name, Parent: -1, Local: n.Transform.Local(), Mesh: n.Mesh}
		if n.Name != "" {
			if _, dup := a.byName[n.Name]; !dup {
				a.byName[n.Name] = i
			}
		}
	}

	type entry struct {
		node   int
		parent int
	}
	stack := make([]entry, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, entry{node: roots[i], parent: -1})
	}
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &a.Nodes[e.node]
		n.Parent = e.parent
		n.World = n.Local
		if e.parent >= 0 {
			n.World = a.Nodes[e.parent].World.Mul4(n.Local)
		}
		n.Singular = math.IsSingular(n.World)
		n.Mirrored = math.IsMirrored(n.World)
		a.order = append(a.order, e.node)

		children := scene.Nodes[e.node].Children
		for c := len(children) - 1; c >= 0; c-- {
			stack = append(stack, entry{node: children[c], parent: e.node})
		}
	}
}

// normalizeMesh fills in missing attributes and packs the vertex stream.
func normalizeMesh(src *metadata.MeshSource) ([]metadata.Vertex, []uint32) {
	positions := src.Positions
	normals := src.Normals
	texcoords := src.Texcoords
	tangents := src.Tangents
	indices := src.Indices
	if indices == nil {
		indices = make([]uint32, len(positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}

	if len(normals) == 0 {
		var remap []uint32
		positions, normals, remap = math.GeometryGenerateFlatNormals(positions, indices)
		if len(texcoords) != 0 {
			texcoords = remapAttribute(texcoords, remap)
		}
		// Tangents authored for welded vertices do not match flat normals.
		tangents = nil
		indices = make([]uint32, len(positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	if len(texcoords) == 0 {
		texcoords = make([]math.Vec2, len(positions))
	}
	if len(tangents) == 0 {
		tangents = math.GeometryGenerateTangents(positions, normals, texcoords, indices)
	}

	vertices := make([]metadata.Vertex, len(positions))
	for i := range vertices {
		vertices[i] = metadata.Vertex{
			Position: positions[i],
			Normal:   normals[i],
			Texcoord: texcoords[i],
			Tangent:  tangents[i],
		}
	}
	return vertices, indices
}

func remapAttribute[T any](values []T, remap []uint32) []T {
	out := make([]T, len(remap))
	for i, src := range remap {
		out[i] = values[src]
	}
	return out
}

// upload creates every mesh buffer and texture concurrently.
func (ss *SceneSystem) upload(set *AssetSet, scene *metadata.SceneGraph, meshUsers, textureUsers map[int]int) error {
	set.Meshes = make([]*metadata.Mesh, len(scene.Meshes))
	set.Textures = make([]*metadata.Texture, len(scene.Textures))

	var g errgroup.Group
	g.SetLimit(ss.Config.UploadConcurrency)

	var mu sync.Mutex
	for m, node := range meshUsers {
		m, node := m, node
		g.Go(func() error {
			mesh, err := ss.uploadMesh(m, &scene.Meshes[m])
			if err != nil {
				return core.NewAssetLoadError(node, m, err)
			}
			mu.Lock()
			set.Meshes[m] = mesh
			mu.Unlock()
			return nil
		})
	}
	for t, mat := range textureUsers {
		t, mat := t, mat
		g.Go(func() error {
			src := scene.Textures[t]
			src.SRGB = src.SRGB || textureIsColor(scene.Materials[mat], t)
			tex, err := ss.textures.CreateTexture(&src)
			if err != nil {
				node, mesh := firstUserOf(scene, meshUsers, mat)
				return core.NewAssetLoadError(node, mesh, errors.Wrapf(err, "texture %d (%q)", t, src.Name))
			}
			mu.Lock()
			set.Textures[t] = tex
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// firstUserOf returns the lowest mesh index drawn with material mat and the node drawing it.
func firstUserOf(scene *metadata.SceneGraph, meshUsers map[int]int, mat int) (node, mesh int) {
	node, mesh = -1, -1
	for m, n := range meshUsers {
		if scene.Meshes[m].Material == mat && (mesh < 0 || m < mesh) {
			node, mesh = n, m
		}
	}
	return node, mesh
}

func textureIsColor(mat metadata.MaterialSource, tex int) bool {
	return mat.Textures[metadata.TextureSlotBaseColor] == tex || mat.Textures[metadata.TextureSlotEmissive] == tex
}

func (ss *SceneSystem) uploadMesh(index int, src *metadata.MeshSource) (*metadata.Mesh, error) {
	vertices, indices := normalizeMesh(src)

	mesh := &metadata.Mesh{
		Index:       index,
		Name:        src.Name,
		VertexCount: uint32(len(vertices)),
		IndexCount:  uint32(len(indices)),
		Extents:     math.Extents3D{Min: vertices[0].Position, Max: vertices[0].Position},
	}
	for _, v := range vertices {
		mesh.Extents.Grow(v.Position)
	}

	vb, err := ss.uploads.UploadBuffer(sliceBytes(vertices), metadata.BufferUsageVertex)
	if err != nil {
		return nil, errors.Wrap(err, "uploading vertices")
	}
	ib, err := ss.uploads.UploadBuffer(sliceBytes(indices), metadata.BufferUsageIndex)
	if err != nil {
		ss.memory.DestroyBuffer(vb)
		return nil, errors.Wrap(err, "uploading indices")
	}
	mesh.VertexBuffer, mesh.IndexBuffer = vb, ib
	return mesh, nil
}

// bindMaterials builds the GPU materials, reserves exactly one set per material and binds them.
func (ss *SceneSystem) bindMaterials(set *AssetSet, scene *metadata.SceneGraph, meshUsers map[int]int, materialUsed map[int]bool) error {
	indices := make([]int, 0, len(materialUsed))
	for m := range materialUsed {
		indices = append(indices, m)
	}
	sort.Ints(indices)

	byIndex := make(map[int]*metadata.Material, len(indices))
	for _, i := range indices {
		mat := &metadata.Material{ID: core.NewUUID(), Index: i, Name: "default"}
		if i >= 0 {
			src := scene.Materials[i]
			mat.Name = src.Name
			mat.Archetype = metadata.PipelineArchetype{AlphaMode: src.AlphaMode, DoubleSided: src.DoubleSided}
			for slot, tex := range src.Textures {
				if tex >= 0 {
					mat.Textures[slot] = set.Textures[tex]
				}
			}
		}
		byIndex[i] = mat
		set.Materials = append(set.Materials, mat)
	}

	if err := ss.descriptors.Reserve(uint32(len(set.Materials))); err != nil {
		return core.NewAssetLoadError(-1, -1, err)
	}
	set.reserved = true
	for m, node := range meshUsers {
		mesh := set.Meshes[m]
		mesh.Material = byIndex[scene.Meshes[m].Material]
		if _, err := ss.descriptors.Bind(mesh.Material); err != nil {
			return core.NewAssetLoadError(node, m, err)
		}
	}
	return nil
}

func (a *AssetSet) buildDrawList() {
	a.DrawList = a.DrawList[:0]
	for _, i := range a.order {
		n := &a.Nodes[i]
		if n.Mesh < 0 {
			continue
		}
		mesh := a.Meshes[n.Mesh]
		set, _ := a.system.descriptors.Bind(mesh.Material)
		a.DrawList = append(a.DrawList, metadata.DrawItem{
			NodeIndex:       i,
			Archetype:       mesh.Material.Archetype,
			Mesh:            mesh,
			DescriptorSet:   set,
			World:           n.World,
			ReversedWinding: n.Mirrored,
		})
	}
	sort.SliceStable(a.DrawList, func(i, j int) bool {
		x, y := a.DrawList[i], a.DrawList[j]
		if x.Archetype != y.Archetype {
			return x.Archetype.Less(y.Archetype)
		}
		return !x.ReversedWinding && y.ReversedWinding
	})
	for i := range a.DrawList {
		a.DrawList[i].DrawIndex = uint32(i)
	}
}

func (ss *SceneSystem) rollback(set *AssetSet) {
	core.LogWith("scene").Warn("scene load failed, rolling back", "set", set.ID)
	set.release()
}

func (a *AssetSet) release() {
	ss := a.system
	for i, m := range a.Meshes {
		if m == nil {
			continue
		}
		ss.memory.DestroyBuffer(m.VertexBuffer)
		ss.memory.DestroyBuffer(m.IndexBuffer)
		a.Meshes[i] = nil
	}
	for i, t := range a.Textures {
		if t != nil {
			ss.textures.DestroyTexture(t)
			a.Textures[i] = nil
		}
	}
	if a.reserved {
		ss.descriptors.Reset()
		a.reserved = false
	}
	a.DrawList = nil
}

/**
 * @brief Destroys every GPU resource of the set and resets the descriptor
 * pool. No submitted frame may still reference the set.
 */
func (a *AssetSet) Destroy() {
	if a == nil || a.system == nil {
		return
	}
	a.release()
	a.system = nil
	core.LogWith("scene").Info("asset set destroyed", "set", a.ID)
}

// FindNode returns the first node with the given name.
func (a *AssetSet) FindNode(name string) (*SceneNode, bool) {
	i, ok := a.byName[name]
	if !ok {
		return nil, false
	}
	return &a.Nodes[i], true
}

/**
 * @brief Resolves world transforms for one frame. An override replaces the
 * world transform of a node and is inherited by its descendants. The result
 * is indexed by draw index.
 */
func (a *AssetSet) ResolveTransforms(overrides map[int]math.Mat4) DrawSnapshot {
	snap := DrawSnapshot{
		Transforms:      make([]math.Mat4, len(a.DrawList)),
		ReversedWinding: make([]bool, len(a.DrawList)),
	}
	if len(overrides) == 0 {
		for i, d := range a.DrawList {
			snap.Transforms[i] = d.World
			snap.ReversedWinding[i] = d.ReversedWinding
		}
		return snap
	}

	world := make([]math.Mat4, len(a.Nodes))
	for _, i := range a.order {
		n := &a.Nodes[i]
		if o, ok := overrides[i]; ok {
			world[i] = o
		} else if n.Parent >= 0 {
			world[i] = world[n.Parent].Mul4(n.Local)
		} else {
			world[i] = n.Local
		}
	}
	for i, d := range a.DrawList {
		w := world[d.NodeIndex]
		snap.Transforms[i] = w
		snap.ReversedWinding[i] = math.IsMirrored(w)
	}
	return snap
}
