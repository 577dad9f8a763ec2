package asset

import (
	"image"

	"github.com/Faultbox/gltfcache/pkg/math"
)

// Source is decoded, CPU-side model data handed to Load by a file decoder.
type Source struct {
	Name         string
	Nodes        []Node // Parent is ignored and recomputed from Children
	Scenes       []SceneSource
	DefaultScene int
	Meshes       []MeshSource
	Materials    []Material
	Images       []ImageSource
	Skins        []Skin
	Animations   []Animation
	Cameras      []Camera
}

type SceneSource struct {
	Name  string
	Roots []int
}

type MeshSource struct {
	Name       string
	Primitives []PrimitiveSource
	Weights    []float32
}

// PrimitiveSource carries de-indexed attribute arrays; every present array has
// len(Positions) entries.
type PrimitiveSource struct {
	Positions []math.Vec3
	Normals   []math.Vec3
	TexCoord0 [][2]float32
	TexCoord1 [][2]float32
	Colors    [][4]float32
	Joints    [][4]uint16
	Weights   [][4]float32
	Indices   []uint32
	Material  int

	// Bounds from the accessor's min/max, used unless bounds are recomputed.
	Bounds    math.Box
	HasBounds bool
}

// ImageSource is one texture image. Decoders leave Image nil for images they
// could not decode; such textures are skipped.
type ImageSource struct {
	Name  string
	Image image.Image
}
