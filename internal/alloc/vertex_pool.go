package alloc

import (
	"fmt"

	"github.com/Faultbox/gltfcache/internal/gpu"
)

// PoolRegion is a run of elements inside one VertexPool.
type PoolRegion struct {
	Pool   ID
	Offset int // first element
	Count  int
}

// PoolConfig configures a VertexPool.
type PoolConfig struct {
	Name     string
	Stride   int // bytes per element
	Capacity int // initial element count
	// MaxCapacity caps growth in elements; 0 leaves growth unbounded.
	MaxCapacity int
	Growable    bool
}

// VertexPool suballocates a single vertex buffer into same-stride regions.
type VertexPool struct {
	b      *backing
	stride int
}

// NewVertexPool creates the pool's backing buffer on dev.
func NewVertexPool(dev gpu.Device, id ID, cfg PoolConfig) (*VertexPool, error) {
	if cfg.Stride <= 0 {
		return nil, fmt.Errorf("alloc: pool %s: stride must be positive", cfg.Name)
	}
	b, err := newBacking(dev, id, cfg.Name, gpu.UsageVertex, cfg.Stride, cfg.Capacity, cfg.MaxCapacity, cfg.Growable)
	if err != nil {
		return nil, err
	}
	return &VertexPool{b: b, stride: cfg.Stride}, nil
}

// ID returns the pool id carried by its regions.
func (p *VertexPool) ID() ID { return p.b.id }

// Stride returns the element size in bytes.
func (p *VertexPool) Stride() int { return p.stride }

// Version counts how often the backing buffer has been reallocated.
func (p *VertexPool) Version() uint64 { return p.b.version }

// OnGrow registers fn to run after every reallocation of the backing buffer.
func (p *VertexPool) OnGrow(fn func(ID)) { p.b.onGrow = fn }

// Acquire reserves count contiguous elements. It grows the pool if allowed,
// otherwise it fails with ErrOutOfSpace.
func (p *VertexPool) Acquire(count int) (PoolRegion, error) {
	return p.acquire(count, true)
}

// TryAcquire is Acquire without growth.
func (p *VertexPool) TryAcquire(count int) (PoolRegion, error) {
	return p.acquire(count, false)
}

func (p *VertexPool) acquire(count int, allowGrow bool) (PoolRegion, error) {
	off, err := p.b.acquire(count, allowGrow)
	if err != nil {
		return PoolRegion{}, err
	}
	return PoolRegion{Pool: p.b.id, Offset: off, Count: count}, nil
}

// Release returns r to the pool. Releasing a region twice fails with
// ErrInvalidRegion and leaves the pool unchanged.
func (p *VertexPool) Release(r PoolRegion) error {
	if r.Pool != p.b.id {
		return fmt.Errorf("%s: region of pool %d: %w", p.b.name, r.Pool, ErrInvalidRegion)
	}
	return p.b.release(r.Offset, r.Count)
}

// Resolve returns the buffer currently backing r and r's byte offset in it.
// The handle changes after growth, so it must not be cached past a draw.
func (p *VertexPool) Resolve(r PoolRegion) (gpu.Handle, int, error) {
	if r.Pool != p.b.id || !p.b.list.owns(r.Offset, r.Count) {
		return 0, 0, fmt.Errorf("%s: resolve %+v: %w", p.b.name, r, ErrInvalidRegion)
	}
	return p.b.buf, r.Offset * p.stride, nil
}

// Write uploads exactly Count*Stride bytes into r.
func (p *VertexPool) Write(r PoolRegion, data []byte) error {
	if r.Pool != p.b.id {
		return fmt.Errorf("%s: write region of pool %d: %w", p.b.name, r.Pool, ErrInvalidRegion)
	}
	if want := r.Count * p.stride; len(data) != want {
		return fmt.Errorf("%s: write %d bytes into region of %d elements (%d bytes)", p.b.name, len(data), r.Count, want)
	}
	return p.b.write(r.Offset, r.Count, data)
}

// Stats reports occupancy in elements.
func (p *VertexPool) Stats() Stats { return p.b.stats() }

// Close destroys the backing buffer. Outstanding regions become invalid.
func (p *VertexPool) Close() { p.b.close() }
