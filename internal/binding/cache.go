// Package binding caches ready-to-bind descriptor sets per pipeline and asset
// allocation set.
package binding

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/gltfcache/internal/alloc"
	"github.com/Faultbox/gltfcache/internal/atlas"
	"github.com/Faultbox/gltfcache/internal/gpu"
	"github.com/Faultbox/gltfcache/internal/logger"
	"github.com/Faultbox/gltfcache/internal/resource"
)

// PipelineKey identifies a pipeline state.
type PipelineKey struct {
	Name  string
	Flags Flags
}

func (k PipelineKey) String() string {
	return k.Name + "[" + k.Flags.String() + "]"
}

// VertexStream is one bound vertex buffer range.
type VertexStream struct {
	Role   resource.Role
	Buffer gpu.Handle
	Offset int // bytes
	Stride int
}

// IndexBinding is the bound index buffer range.
type IndexBinding struct {
	Buffer gpu.Handle
	Offset int // bytes
	Count  int
	Type   gpu.IndexType
}

// TextureBinding is one atlas texture array.
type TextureBinding struct {
	Format  gpu.Format
	Atlas   resource.ResourceID
	Texture gpu.Handle
}

// BindingSet is everything a draw of one asset needs bound. It is only valid
// while Version equals the manager's version.
type BindingSet struct {
	Pipeline PipelineKey
	Streams  []VertexStream
	Index    IndexBinding
	HasIndex bool
	Textures []TextureBinding
	Version  uint64

	resources []resource.ResourceID
}

// Stream returns the stream bound for role.
func (b *BindingSet) Stream(role resource.Role) (VertexStream, bool) {
	for _, s := range b.Streams {
		if s.Role == role {
			return s, true
		}
	}
	return VertexStream{}, false
}

// Texture returns the atlas texture bound for format.
func (b *BindingSet) Texture(format gpu.Format) (TextureBinding, bool) {
	for _, t := range b.Textures {
		if t.Format == format {
			return t, true
		}
	}
	return TextureBinding{}, false
}

func (b *BindingSet) references(id resource.ResourceID) bool {
	for _, r := range b.resources {
		if r == id {
			return true
		}
	}
	return false
}

// Builder resolves an allocation set into a BindingSet.
type Builder interface {
	Build(pipeline PipelineKey, set resource.AllocationSet) (*BindingSet, error)
}

// Resolver is the part of resource.Manager a ManagerBuilder needs.
type Resolver interface {
	Version() uint64
	ResolveVertex(r alloc.PoolRegion) (gpu.Handle, int, int, error)
	ResolveIndex(r alloc.IndexRegion) (gpu.Handle, int, error)
	ResolveAtlas(r atlas.Region) (gpu.Handle, error)
	AtlasFormat(id resource.ResourceID) (gpu.Format, bool)
}

// ManagerBuilder resolves regions through a manager at build time.
type ManagerBuilder struct {
	Resolver Resolver
}

// Build resolves every region of set through the manager.
func (b ManagerBuilder) Build(pipeline PipelineKey, set resource.AllocationSet) (*BindingSet, error) {
	bs := &BindingSet{
		Pipeline:  pipeline,
		Version:   b.Resolver.Version(),
		resources: set.Resources(),
	}
	for i, r := range set.Vertex {
		role := set.Layout.Element(i).Role
		if !pipeline.Flags.Wants(role) {
			continue
		}
		h, off, stride, err := b.Resolver.ResolveVertex(r)
		if err != nil {
			return nil, fmt.Errorf("binding: %s stream: %w", role, err)
		}
		bs.Streams = append(bs.Streams, VertexStream{Role: role, Buffer: h, Offset: off, Stride: stride})
	}
	if set.HasIndex {
		h, off, err := b.Resolver.ResolveIndex(set.Index)
		if err != nil {
			return nil, fmt.Errorf("binding: index: %w", err)
		}
		bs.Index = IndexBinding{Buffer: h, Offset: off, Count: set.Index.Count, Type: set.Index.Type}
		bs.HasIndex = true
	}
	if pipeline.Flags.Has(FlagTextureAtlas) {
		seen := make(map[resource.ResourceID]bool)
		for _, r := range set.Textures {
			if seen[r.Atlas] {
				continue
			}
			seen[r.Atlas] = true
			h, err := b.Resolver.ResolveAtlas(r)
			if err != nil {
				return nil, fmt.Errorf("binding: atlas %d: %w", r.Atlas, err)
			}
			format, _ := b.Resolver.AtlasFormat(r.Atlas)
			bs.Textures = append(bs.Textures, TextureBinding{Atlas: r.Atlas, Texture: h, Format: format})
		}
	}
	return bs, nil
}

// Stats counts cache traffic.
type Stats struct {
	Entries       int
	Hits          uint64
	Misses        uint64
	Invalidations uint64
}

// Cache maps (pipeline, allocation set) to a built BindingSet. Entries live
// until a resource they reference is relocated or the cache is cleared.
type Cache struct {
	mu      sync.Mutex
	builder Builder
	entries map[string]*BindingSet
	// gen counts invalidations so a build racing one is not cached.
	gen   uint64
	stats Stats
	log   *zap.Logger
}

func New(b Builder) *Cache {
	return &Cache{
		builder: b,
		entries: make(map[string]*BindingSet),
		log:     logger.Named("binding"),
	}
}

// NewForManager returns a cache that builds through mgr and invalidates itself
// on mgr's growth notifications. Call the returned stop function before
// dropping the cache.
func NewForManager(mgr *resource.Manager) (*Cache, func()) {
	c := New(ManagerBuilder{Resolver: mgr})
	return c, mgr.Subscribe(c.Invalidate)
}

func key(pipeline PipelineKey, set resource.AllocationSet) string {
	return pipeline.String() + "#" + set.Key()
}

// Acquire returns the cached binding set for pipeline and set, building it on
// a miss.
func (c *Cache) Acquire(pipeline PipelineKey, set resource.AllocationSet) (*BindingSet, error) {
	k := key(pipeline, set)
	c.mu.Lock()
	if bs, ok := c.entries[k]; ok {
		c.stats.Hits++
		c.mu.Unlock()
		return bs, nil
	}
	c.stats.Misses++
	gen := c.gen
	c.mu.Unlock()

	// Built without the cache lock: the builder takes the manager lock, and
	// growth callbacks take ours while holding it.
	bs, err := c.builder.Build(pipeline, set)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.entries[k] = bs
	}
	c.log.Debug("built", zap.Stringer("pipeline", pipeline), zap.Int("streams", len(bs.Streams)), zap.Uint64("version", bs.Version))
	return bs, nil
}

// Invalidate drops every entry that references the pool, index buffer or
// atlas id.
func (c *Cache) Invalidate(id resource.ResourceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	dropped := 0
	for k, bs := range c.entries {
		if bs.references(id) {
			delete(c.entries, k)
			dropped++
		}
	}
	c.stats.Invalidations++
	if dropped > 0 {
		c.log.Debug("invalidated", zap.Uint32("resource", uint32(id)), zap.Int("entries", dropped))
	}
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.stats.Invalidations++
	clear(c.entries)
}

// Forget drops the entries built for set under any pipeline, as when the
// asset holding set is released.
func (c *Cache) Forget(set resource.AllocationSet) {
	suffix := "#" + set.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasSuffix(k, suffix) {
			delete(c.entries, k)
		}
	}
}

// Stats returns the entry count and lookup counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.Entries = len(c.entries)
	return st
}
