package resource

import "github.com/Faultbox/gltfcache/internal/gpu"

// PoolSpec declares a vertex pool set created up front.
type PoolSpec struct {
	Layout   string `yaml:"layout"` // canonical LayoutKey form
	Capacity int    `yaml:"capacity"`
}

// AtlasSpec declares a texture atlas.
type AtlasSpec struct {
	Format    gpu.Format `yaml:"format"`
	Width     int        `yaml:"width"`
	Height    int        `yaml:"height"`
	MipLevels int        `yaml:"mip_levels"`
	Slices    int        `yaml:"slices"`
	MaxSlices int        `yaml:"max_slices"`
}

// Config sizes every resource the manager owns.
type Config struct {
	IndexBufferSize    int  `yaml:"index_buffer_size"`     // bytes
	MaxIndexBufferSize int  `yaml:"max_index_buffer_size"` // 0 = unbounded
	GrowIndexBuffer    bool `yaml:"grow_index_buffer"`

	Pools               []PoolSpec `yaml:"pools"`
	DefaultPoolCapacity int        `yaml:"default_pool_capacity"` // elements
	MaxPoolCapacity     int        `yaml:"max_pool_capacity"`     // 0 = unbounded
	MaxPools            int        `yaml:"max_pools"`             // pool sets per layout
	CreatePools         bool       `yaml:"create_pools"`
	GrowPools           bool       `yaml:"grow_pools"`

	DefaultAtlas  AtlasSpec   `yaml:"default_atlas"`
	Atlases       []AtlasSpec `yaml:"atlases"`
	CreateAtlases bool        `yaml:"create_atlases"`
}

// DefaultConfig matches the viewer's shared cache: one 32768-vertex pool per
// layout, a 32 KiB index buffer and a 4096x4096 RGBA8 atlas with 6 mips.
func DefaultConfig() Config {
	atlas := AtlasSpec{
		Format:    gpu.FormatRGBA8Unorm,
		Width:     4096,
		Height:    4096,
		MipLevels: 6,
		Slices:    1,
		MaxSlices: 4,
	}
	return Config{
		IndexBufferSize:     4 * (8 << 10),
		GrowIndexBuffer:     true,
		DefaultPoolCapacity: 32768,
		MaxPools:            4,
		CreatePools:         true,
		GrowPools:           true,
		DefaultAtlas:        atlas,
		Atlases:             []AtlasSpec{atlas},
		CreateAtlases:       true,
	}
}

// PrivateConfig sizes a manager owned by a single asset: small, growable,
// created on demand.
func PrivateConfig() Config {
	cfg := DefaultConfig()
	cfg.DefaultPoolCapacity = 1024
	cfg.IndexBufferSize = 4096
	cfg.DefaultAtlas.Width, cfg.DefaultAtlas.Height = 1024, 1024
	cfg.DefaultAtlas.MaxSlices = 16
	cfg.Atlases = nil
	return cfg
}

// FitAtlas widens the default atlas to the next power of two holding a w x h
// texture. It never shrinks the atlas.
func (c Config) FitAtlas(w, h int) Config {
	c.DefaultAtlas.Width = max(c.DefaultAtlas.Width, ceilPow2(w))
	c.DefaultAtlas.Height = max(c.DefaultAtlas.Height, ceilPow2(h))
	return c
}

func ceilPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
