// Package resource owns every GPU allocation shared by loaded assets: vertex
// pools keyed by layout, the index buffer and texture atlases keyed by format.
package resource

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/gltfcache/internal/alloc"
	"github.com/Faultbox/gltfcache/internal/atlas"
	"github.com/Faultbox/gltfcache/internal/gpu"
	"github.com/Faultbox/gltfcache/internal/logger"
)

// ResourceID identifies a pool, the index buffer or an atlas.
type ResourceID = alloc.ID

// ErrUnsupportedLayout is returned when no pool or atlas matches a request
// and creation is disabled.
var ErrUnsupportedLayout = errors.New("unsupported layout")

// poolSet holds one pool per stream of a layout.
type poolSet struct {
	pools []*alloc.VertexPool
}

// Manager is the single owner of all pools and atlases. All methods are safe
// for concurrent use; growth callbacks run with the manager locked.
type Manager struct {
	mu  sync.Mutex
	dev gpu.Device
	cfg Config
	log *zap.Logger

	nextID    ResourceID
	sets      map[string][]*poolSet
	pools     map[ResourceID]*alloc.VertexPool
	index     *alloc.IndexAllocator
	atlases   map[gpu.Format]*atlas.Atlas
	atlasByID map[ResourceID]*atlas.Atlas

	subs    map[int]func(ResourceID)
	nextSub int
	version uint64
	closed  bool
}

// NewManager creates the index buffer and every predefined pool and atlas.
func NewManager(dev gpu.Device, cfg Config) (*Manager, error) {
	m := &Manager{
		dev:       dev,
		cfg:       cfg,
		log:       logger.Named("resource"),
		sets:      make(map[string][]*poolSet),
		pools:     make(map[ResourceID]*alloc.VertexPool),
		atlases:   make(map[gpu.Format]*atlas.Atlas),
		atlasByID: make(map[ResourceID]*atlas.Atlas),
		subs:      make(map[int]func(ResourceID)),
	}

	index, err := alloc.NewIndexAllocator(dev, m.newID(), alloc.IndexConfig{
		Name:     "indices",
		Size:     cfg.IndexBufferSize,
		MaxSize:  cfg.MaxIndexBufferSize,
		Growable: cfg.GrowIndexBuffer,
	})
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}
	index.OnGrow(m.grown)
	m.index = index

	for _, p := range cfg.Pools {
		key, err := ParseLayoutKey(p.Layout)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("resource: pool %q: %w", p.Layout, err)
		}
		if _, err := m.addPoolSet(key, nil, p.Capacity); err != nil {
			m.Close()
			return nil, err
		}
	}
	for _, spec := range cfg.Atlases {
		if _, err := m.addAtlas(spec); err != nil {
			m.Close()
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) newID() ResourceID {
	m.nextID++
	return m.nextID
}

// grown runs inside a locked allocation call when a backing resource moved.
func (m *Manager) grown(id ResourceID) {
	m.version++
	m.log.Debug("resource relocated", zap.Uint32("id", uint32(id)), zap.Uint64("version", m.version))
	keys := make([]int, 0, len(m.subs))
	for k := range m.subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		m.subs[k](id)
	}
}

// Subscribe registers fn for growth notifications. fn must not call back into
// the manager. The returned function removes the subscription.
func (m *Manager) Subscribe(fn func(ResourceID)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Version increases every time any owned resource is reallocated.
func (m *Manager) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

func (m *Manager) addPoolSet(key LayoutKey, counts []int, capacity int) (*poolSet, error) {
	if key.Len() == 0 {
		return nil, fmt.Errorf("resource: empty layout: %w", ErrUnsupportedLayout)
	}
	if capacity <= 0 {
		capacity = m.cfg.DefaultPoolCapacity
	}
	n := len(m.sets[key.String()])
	set := &poolSet{}
	for i := 0; i < key.Len(); i++ {
		e := key.Element(i)
		c := capacity
		if counts != nil && counts[i] > c {
			c = counts[i]
		}
		p, err := alloc.NewVertexPool(m.dev, m.newID(), alloc.PoolConfig{
			Name:        fmt.Sprintf("pool[%s]#%d/%s", key, n, e.Role),
			Stride:      e.Stride,
			Capacity:    c,
			MaxCapacity: m.cfg.MaxPoolCapacity,
			Growable:    m.cfg.GrowPools,
		})
		if err != nil {
			for _, made := range set.pools {
				delete(m.pools, made.ID())
				made.Close()
			}
			return nil, fmt.Errorf("resource: %w", err)
		}
		p.OnGrow(m.grown)
		m.pools[p.ID()] = p
		set.pools = append(set.pools, p)
	}
	m.sets[key.String()] = append(m.sets[key.String()], set)
	m.log.Info("pool set created", zap.Stringer("layout", key), zap.Int("set", n), zap.Int("capacity", capacity))
	return set, nil
}

// acquireFrom takes one region per stream from set, or none.
func acquireFrom(set *poolSet, counts []int, allowGrow bool) ([]alloc.PoolRegion, error) {
	out := make([]alloc.PoolRegion, 0, len(counts))
	for i, p := range set.pools {
		var r alloc.PoolRegion
		var err error
		if allowGrow {
			r, err = p.Acquire(counts[i])
		} else {
			r, err = p.TryAcquire(counts[i])
		}
		if err != nil {
			for j, done := range out {
				_ = set.pools[j].Release(done)
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// AcquireVertexRegions reserves counts[i] elements in stream i of layout. It
// tries the existing pool sets in order, then growth, then a new pool set while
// fewer than MaxPools exist.
func (m *Manager) AcquireVertexRegions(layout LayoutKey, counts []int) ([]alloc.PoolRegion, error) {
	if len(counts) != layout.Len() {
		return nil, fmt.Errorf("resource: %d counts for layout %s with %d streams", len(counts), layout, layout.Len())
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sets := m.sets[layout.String()]
	if len(sets) == 0 && !m.cfg.CreatePools {
		return nil, fmt.Errorf("resource: layout %s: %w", layout, ErrUnsupportedLayout)
	}

	var lastErr error
	for _, allowGrow := range []bool{false, true} {
		if allowGrow && !m.cfg.GrowPools {
			break
		}
		for _, set := range sets {
			regions, err := acquireFrom(set, counts, allowGrow)
			if err == nil {
				return regions, nil
			}
			if !errors.Is(err, alloc.ErrOutOfSpace) {
				return nil, err
			}
			lastErr = err
		}
	}

	if len(sets) >= m.maxPools() || (len(sets) > 0 && !m.cfg.CreatePools) {
		if lastErr == nil {
			lastErr = alloc.ErrOutOfSpace
		}
		return nil, fmt.Errorf("resource: layout %s (%d pool sets): %w", layout, len(sets), lastErr)
	}
	set, err := m.addPoolSet(layout, counts, 0)
	if err != nil {
		return nil, err
	}
	return acquireFrom(set, counts, false)
}

func (m *Manager) maxPools() int {
	if m.cfg.MaxPools <= 0 {
		return 1
	}
	return m.cfg.MaxPools
}

// ReleaseVertexRegions returns every region, reporting all failures.
func (m *Manager) ReleaseVertexRegions(regions []alloc.PoolRegion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	for _, r := range regions {
		p, ok := m.pools[r.Pool]
		if !ok {
			err = multierr.Append(err, fmt.Errorf("resource: pool %d: %w", r.Pool, alloc.ErrInvalidRegion))
			continue
		}
		err = multierr.Append(err, p.Release(r))
	}
	return err
}

// ResolveVertex returns the buffer, byte offset and stride of r.
func (m *Manager) ResolveVertex(r alloc.PoolRegion) (gpu.Handle, int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[r.Pool]
	if !ok {
		return 0, 0, 0, fmt.Errorf("resource: pool %d: %w", r.Pool, alloc.ErrInvalidRegion)
	}
	h, off, err := p.Resolve(r)
	return h, off, p.Stride(), err
}

// WriteVertex uploads r's elements.
func (m *Manager) WriteVertex(r alloc.PoolRegion, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[r.Pool]
	if !ok {
		return fmt.Errorf("resource: pool %d: %w", r.Pool, alloc.ErrInvalidRegion)
	}
	return p.Write(r, data)
}

// AcquireIndexRegion reserves room for count indices of type t.
func (m *Manager) AcquireIndexRegion(count int, t gpu.IndexType) (alloc.IndexRegion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Acquire(count, t)
}

// ReleaseIndexRegion returns r to the index buffer.
func (m *Manager) ReleaseIndexRegion(r alloc.IndexRegion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Release(r)
}

// ResolveIndex returns the index buffer and the byte offset of r.
func (m *Manager) ResolveIndex(r alloc.IndexRegion) (gpu.Handle, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Resolve(r)
}

// WriteIndex uploads r's indices.
func (m *Manager) WriteIndex(r alloc.IndexRegion, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Write(r, data)
}

func (m *Manager) addAtlas(spec AtlasSpec) (*atlas.Atlas, error) {
	if _, dup := m.atlases[spec.Format]; dup {
		return nil, fmt.Errorf("resource: duplicate atlas for %v", spec.Format)
	}
	a, err := atlas.New(m.dev, m.newID(), atlas.Config{
		Name:      "atlas/" + spec.Format.String(),
		Format:    spec.Format,
		Width:     spec.Width,
		Height:    spec.Height,
		MipLevels: spec.MipLevels,
		Slices:    spec.Slices,
		MaxSlices: spec.MaxSlices,
	})
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}
	a.OnGrow(m.grown)
	m.atlases[spec.Format] = a
	m.atlasByID[a.ID()] = a
	m.log.Info("atlas created", zap.Stringer("format", spec.Format), zap.Int("width", spec.Width), zap.Int("height", spec.Height))
	return a, nil
}

// AcquireAtlasRegion reserves a w x h region with mips levels in the atlas of format.
func (m *Manager) AcquireAtlasRegion(format gpu.Format, w, h, mips int) (atlas.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.atlases[format]
	if !ok {
		if !m.cfg.CreateAtlases {
			return atlas.Region{}, fmt.Errorf("resource: no atlas for %v: %w", format, ErrUnsupportedLayout)
		}
		spec := m.cfg.DefaultAtlas
		spec.Format = format
		var err error
		if a, err = m.addAtlas(spec); err != nil {
			return atlas.Region{}, err
		}
	}
	return a.Allocate(w, h, mips)
}

// AtlasMipLevels returns the most mip levels a region of format can hold,
// taken from the default atlas when none exists yet.
func (m *Manager) AtlasMipLevels(format gpu.Format) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.atlases[format]; ok {
		return a.MipLevels()
	}
	return m.cfg.DefaultAtlas.MipLevels
}

func (m *Manager) atlasFor(r atlas.Region) (*atlas.Atlas, error) {
	a, ok := m.atlasByID[r.Atlas]
	if !ok {
		return nil, fmt.Errorf("resource: atlas %d: %w", r.Atlas, atlas.ErrInvalidRegion)
	}
	return a, nil
}

// ReleaseAtlasRegion returns r to its atlas.
func (m *Manager) ReleaseAtlasRegion(r atlas.Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.atlasFor(r)
	if err != nil {
		return err
	}
	return a.Free(r)
}

// ResolveAtlas returns the texture array currently holding r.
func (m *Manager) ResolveAtlas(r atlas.Region) (gpu.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.atlasFor(r)
	if err != nil {
		return 0, err
	}
	return a.Resolve(r)
}

// AtlasUV returns the {scale, bias} pair mapping [0,1] UVs into r.
func (m *Manager) AtlasUV(r atlas.Region) ([4]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.atlasFor(r)
	if err != nil {
		return [4]float32{}, err
	}
	return a.UVTransform(r), nil
}

// CopyImage uploads img with a generated mip chain into r.
func (m *Manager) CopyImage(r atlas.Region, img image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.atlasFor(r)
	if err != nil {
		return err
	}
	return a.CopyImage(r, img)
}

// AtlasTexture returns the texture of the atlas with the given id.
func (m *Manager) AtlasTexture(id ResourceID) (gpu.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.atlasByID[id]
	if !ok {
		return 0, false
	}
	return a.Texture(), true
}

// AtlasFormat returns the texel format of the atlas with the given id.
func (m *Manager) AtlasFormat(id ResourceID) (gpu.Format, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.atlasByID[id]
	if !ok {
		return gpu.FormatUnknown, false
	}
	return a.Format(), true
}

// Stats is a snapshot of every owned resource.
type Stats struct {
	Version uint64
	Index   alloc.Stats
	Pools   []alloc.Stats
	Atlases []atlas.Stats
}

// Stats snapshots the index buffer, every pool and every atlas.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{Version: m.version, Index: m.index.Stats()}
	for _, p := range m.pools {
		st.Pools = append(st.Pools, p.Stats())
	}
	sort.Slice(st.Pools, func(i, j int) bool { return st.Pools[i].ID < st.Pools[j].ID })
	for _, a := range m.atlases {
		st.Atlases = append(st.Atlases, a.Stats())
	}
	sort.Slice(st.Atlases, func(i, j int) bool { return st.Atlases[i].ID < st.Atlases[j].ID })
	return st
}

// Close destroys every owned resource. Regions still held become invalid.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, p := range m.pools {
		p.Close()
	}
	if m.index != nil {
		m.index.Close()
	}
	for _, a := range m.atlases {
		a.Close()
	}
	m.pools, m.sets = map[ResourceID]*alloc.VertexPool{}, map[string][]*poolSet{}
	m.atlases, m.atlasByID = map[gpu.Format]*atlas.Atlas{}, map[ResourceID]*atlas.Atlas{}
}
