// Package asset holds the immutable description of a loaded model and the
// transform engine that evaluates its node hierarchy.
package asset

import (
	"errors"

	"github.com/Faultbox/gltfcache/internal/atlas"
	"github.com/Faultbox/gltfcache/internal/resource"
	"github.com/Faultbox/gltfcache/pkg/math"
)

var (
	ErrInvalidSceneIndex     = errors.New("invalid scene index")
	ErrInvalidAnimationIndex = errors.New("invalid animation index")
	// ErrInvalidHierarchy is returned at load for cycles, nodes with more than
	// one parent and out-of-range references.
	ErrInvalidHierarchy = errors.New("invalid node hierarchy")
)

// Node is one entry of the flat node array. References are indices into the
// model's arrays; -1 means none.
type Node struct {
	Name        string
	Translation math.Vec3
	Rotation    math.Quat
	Scale       math.Vec3
	// Matrix replaces TRS when HasMatrix is set. Animated nodes use TRS.
	Matrix    math.Mat4
	HasMatrix bool

	Mesh     int
	Skin     int
	Camera   int
	Children []int
	Parent   int
	Weights  []float32 // default morph weights, overrides the mesh's
}

// NewNode returns a node with identity TRS and no attachments.
func NewNode(name string) Node {
	return Node{
		Name:     name,
		Rotation: math.QuatIdentity(),
		Scale:    math.Vec3{X: 1, Y: 1, Z: 1},
		Mesh:     -1,
		Skin:     -1,
		Camera:   -1,
		Parent:   -1,
	}
}

// LocalMatrix composes the node's rest transform.
func (n *Node) LocalMatrix() math.Mat4 {
	if n.HasMatrix {
		return n.Matrix
	}
	return math.Compose(n.Translation, n.Rotation, n.Scale)
}

// Scene is a named set of root nodes with its evaluation order.
type Scene struct {
	Name  string
	Roots []int
	// Linear lists every reachable node, parents before children.
	Linear []int
	// Cameras lists nodes with a perspective camera, in Linear order.
	Cameras []int
}

// Primitive is one draw call. Vertex and index ranges are relative to the
// model's regions.
type Primitive struct {
	BaseVertex  int
	VertexCount int
	FirstIndex  int
	IndexCount  int // 0 for non-indexed draws
	Material    int
	Bounds      math.Box // local space
	Skinned     bool
	HasColors   bool
}

type Mesh struct {
	Name       string
	Primitives []Primitive
	Weights    []float32
}

// AlphaMode follows glTF.
type AlphaMode uint8

const (
	AlphaOpaque AlphaMode = iota
	AlphaMask
	AlphaBlend
)

type Material struct {
	Name             string
	BaseColorFactor  [4]float32
	BaseColorTexture int // texture index or -1
	MetallicFactor   float32
	RoughnessFactor  float32
	NormalTexture    int
	EmissiveTexture  int
	EmissiveFactor   math.Vec3
	AlphaMode        AlphaMode
	AlphaCutoff      float32
	DoubleSided      bool
	TexCoordSet      int
}

// Texture is an image placed in an atlas. UV maps [0,1] coordinates into the
// region as {scaleU, scaleV, biasU, biasV}.
type Texture struct {
	Name   string
	Region atlas.Region
	UV     [4]float32
}

type Skin struct {
	Name        string
	Joints      []int
	InverseBind []math.Mat4
	Skeleton    int
}

// Projection is a camera type.
type Projection uint8

const (
	Perspective Projection = iota
	Orthographic
)

type Camera struct {
	Name       string
	Projection Projection
	YFov       float32 // radians
	Aspect     float32 // 0 means use the viewport
	ZNear      float32
	ZFar       float32
	XMag, YMag float32
}

// Model is immutable after Load. It owns the regions listed in Allocations
// until Release.
type Model struct {
	Name         string
	Nodes        []Node
	Scenes       []Scene
	DefaultScene int
	Meshes       []Mesh
	Materials    []Material
	Textures     []Texture
	Skins        []Skin
	Animations   []Animation
	Cameras      []Camera

	Allocations resource.AllocationSet
	released    bool
}

// Released reports whether Release has run.
func (m *Model) Released() bool { return m.released }

// Release returns every region to mgr. It is safe to call twice.
func (m *Model) Release(mgr *resource.Manager) error {
	if m.released {
		return nil
	}
	m.released = true
	return mgr.Release(m.Allocations)
}
