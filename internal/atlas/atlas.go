// Package atlas packs many small textures into one growable texture array.
//
// Each region reserves room for its whole mip chain: the rectangle is aligned
// to 1<<(mipCount-1) texels, so level k of a region at (x, y, w, h) lives at
// (x>>k, y>>k, w>>k, h>>k) of the same slice without touching its neighbours.
package atlas

import (
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/Faultbox/gltfcache/internal/alloc"
	"github.com/Faultbox/gltfcache/internal/gpu"
	"github.com/Faultbox/gltfcache/internal/logger"
)

var (
	// ErrOutOfSpace is returned when no slice fits a region and the array
	// already has MaxSlices slices. It matches alloc.ErrOutOfSpace with errors.Is.
	ErrOutOfSpace = fmt.Errorf("atlas: %w", alloc.ErrOutOfSpace)
	// ErrInvalidSize is returned for empty or oversized rectangles and mip counts.
	ErrInvalidSize = errors.New("atlas: invalid region size")
	// ErrInvalidRegion is returned for regions this atlas does not hold.
	ErrInvalidRegion = fmt.Errorf("atlas: %w", alloc.ErrInvalidRegion)
)

// Region is a rectangle of one slice, stable across array growth.
type Region struct {
	Atlas    alloc.ID
	Slice    int
	Rect     image.Rectangle // mip 0 texels
	MipCount int
}

// MipRect returns the texels of level k.
func (r Region) MipRect(k int) image.Rectangle {
	x, y := r.Rect.Min.X>>k, r.Rect.Min.Y>>k
	return image.Rect(x, y, x+mipDim(r.Rect.Dx(), k), y+mipDim(r.Rect.Dy(), k))
}

// Config describes one atlas.
type Config struct {
	Name      string
	Format    gpu.Format
	Width     int
	Height    int
	MipLevels int
	Slices    int // created up front
	MaxSlices int // growth stops here
}

// Stats describes the occupancy of an atlas.
type Stats struct {
	ID         alloc.ID
	Name       string
	Format     gpu.Format
	Slices     int
	MaxSlices  int
	Live       int
	UsedTexels int // footprint area, all slices
	Version    uint64
	Texture    gpu.Handle
}

// Atlas owns one texture array and the packers of its slices.
type Atlas struct {
	id      alloc.ID
	cfg     Config
	dev     gpu.Device
	tex     gpu.Handle
	slices  []*slicePacker
	version uint64
	onGrow  func(alloc.ID)
	log     *zap.Logger
}

// New creates the texture array on dev.
func New(dev gpu.Device, id alloc.ID, cfg Config) (*Atlas, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.MipLevels <= 0 {
		return nil, fmt.Errorf("atlas %s: %dx%d with %d mips: %w", cfg.Name, cfg.Width, cfg.Height, cfg.MipLevels, ErrInvalidSize)
	}
	if cfg.Slices <= 0 {
		cfg.Slices = 1
	}
	if cfg.MaxSlices < cfg.Slices {
		cfg.MaxSlices = cfg.Slices
	}
	a := &Atlas{
		id:  id,
		cfg: cfg,
		dev: dev,
		log: logger.Named("atlas").With(zap.String("atlas", cfg.Name), zap.Stringer("format", cfg.Format)),
	}
	tex, err := dev.NewTextureArray(a.textureDesc(cfg.Slices))
	if err != nil {
		return nil, fmt.Errorf("atlas %s: %w", cfg.Name, err)
	}
	a.tex = tex
	for i := 0; i < cfg.Slices; i++ {
		a.slices = append(a.slices, newSlicePacker(cfg.Width, cfg.Height))
	}
	return a, nil
}

func (a *Atlas) textureDesc(slices int) gpu.TextureDesc {
	return gpu.TextureDesc{
		Name:      a.cfg.Name,
		Format:    a.cfg.Format,
		Width:     a.cfg.Width,
		Height:    a.cfg.Height,
		Slices:    slices,
		MipLevels: a.cfg.MipLevels,
	}
}

// ID identifies the atlas in region handles.
func (a *Atlas) ID() alloc.ID { return a.id }

// Format is the texel format of every slice.
func (a *Atlas) Format() gpu.Format { return a.cfg.Format }

// MipLevels is the most levels a region can hold.
func (a *Atlas) MipLevels() int { return a.cfg.MipLevels }

// Version increases every time the texture array is reallocated.
func (a *Atlas) Version() uint64 { return a.version }

// Texture returns the current texture array.
func (a *Atlas) Texture() gpu.Handle { return a.tex }

// OnGrow registers fn to run after the texture array is reallocated.
func (a *Atlas) OnGrow(fn func(alloc.ID)) { a.onGrow = fn }

// Allocate reserves a w x h region with room for mipCount levels.
func (a *Atlas) Allocate(w, h, mipCount int) (Region, error) {
	if w <= 0 || h <= 0 || mipCount <= 0 || mipCount > a.cfg.MipLevels {
		return Region{}, fmt.Errorf("%dx%d with %d mips in %s: %w", w, h, mipCount, a.cfg.Name, ErrInvalidSize)
	}
	align := 1 << (mipCount - 1)
	fw, fh := alignUp(w, align), alignUp(h, align)
	if fw > a.cfg.Width || fh > a.cfg.Height {
		return Region{}, fmt.Errorf("%dx%d exceeds %dx%d of %s: %w", w, h, a.cfg.Width, a.cfg.Height, a.cfg.Name, ErrInvalidSize)
	}

	for i, s := range a.slices {
		if fp, ok := s.alloc(fw, fh, align); ok {
			return a.place(i, fp, w, h, mipCount), nil
		}
	}

	if len(a.slices) >= a.cfg.MaxSlices {
		a.log.Warn("out of space", zap.Int("w", w), zap.Int("h", h), zap.Int("slices", len(a.slices)))
		return Region{}, fmt.Errorf("%dx%d in %s (%d slices): %w", w, h, a.cfg.Name, len(a.slices), ErrOutOfSpace)
	}
	if err := a.addSlice(); err != nil {
		return Region{}, err
	}
	i := len(a.slices) - 1
	fp, _ := a.slices[i].alloc(fw, fh, align)
	return a.place(i, fp, w, h, mipCount), nil
}

func (a *Atlas) place(slice int, fp image.Rectangle, w, h, mips int) Region {
	content := image.Rectangle{Min: fp.Min, Max: fp.Min.Add(image.Pt(w, h))}
	a.slices[slice].live[fp.Min] = placement{footprint: fp, content: content, mips: mips}
	return Region{Atlas: a.id, Slice: slice, Rect: content, MipCount: mips}
}

// addSlice reallocates the texture array with one more slice and copies the
// existing slices over.
func (a *Atlas) addSlice() error {
	n := len(a.slices)
	tex, err := a.dev.NewTextureArray(a.textureDesc(n + 1))
	if err != nil {
		return fmt.Errorf("atlas %s: grow to %d slices: %w", a.cfg.Name, n+1, err)
	}
	if err := a.dev.CopyTextureSlices(tex, a.tex, n); err != nil {
		a.dev.DestroyTexture(tex)
		return fmt.Errorf("atlas %s: copy slices: %w", a.cfg.Name, err)
	}
	a.dev.DestroyTexture(a.tex)
	a.tex = tex
	a.slices = append(a.slices, newSlicePacker(a.cfg.Width, a.cfg.Height))
	a.version++
	a.log.Info("slice added", zap.Int("slices", n+1), zap.Uint64("version", a.version))
	if a.onGrow != nil {
		a.onGrow(a.id)
	}
	return nil
}

func (a *Atlas) lookup(r Region) (placement, error) {
	if r.Atlas != a.id || r.Slice < 0 || r.Slice >= len(a.slices) {
		return placement{}, fmt.Errorf("%+v: %w", r, ErrInvalidRegion)
	}
	p, ok := a.slices[r.Slice].live[r.Rect.Min]
	if !ok || p.content != r.Rect || p.mips != r.MipCount {
		return placement{}, fmt.Errorf("%+v: %w", r, ErrInvalidRegion)
	}
	return p, nil
}

// Free returns r to its slice's free-rect list.
func (a *Atlas) Free(r Region) error {
	if _, err := a.lookup(r); err != nil {
		return err
	}
	a.slices[r.Slice].release(r.Rect.Min)
	return nil
}

// Resolve returns the texture currently holding r.
func (a *Atlas) Resolve(r Region) (gpu.Handle, error) {
	if _, err := a.lookup(r); err != nil {
		return 0, err
	}
	return a.tex, nil
}

// CopyIn uploads one tightly packed pixel slice per mip level.
func (a *Atlas) CopyIn(r Region, levels [][]byte) error {
	if _, err := a.lookup(r); err != nil {
		return err
	}
	if len(levels) != r.MipCount {
		return fmt.Errorf("atlas %s: %d mip levels supplied for a region of %d", a.cfg.Name, len(levels), r.MipCount)
	}
	bpp := a.cfg.Format.BytesPerPixel()
	for k, pix := range levels {
		rect := r.MipRect(k)
		if want := rect.Dx() * rect.Dy() * bpp; len(pix) != want {
			return fmt.Errorf("atlas %s: mip %d has %d bytes, want %d", a.cfg.Name, k, len(pix), want)
		}
		if err := a.dev.WriteTexture(a.tex, r.Slice, k, rect, pix); err != nil {
			return fmt.Errorf("atlas %s: upload mip %d: %w", a.cfg.Name, k, err)
		}
	}
	return nil
}

// UVTransform maps a primitive's [0,1] texture coordinates into r:
// uv' = uv*scale + bias, returned as {scaleU, scaleV, biasU, biasV}.
func (a *Atlas) UVTransform(r Region) [4]float32 {
	w, h := float32(a.cfg.Width), float32(a.cfg.Height)
	return [4]float32{
		float32(r.Rect.Dx()) / w,
		float32(r.Rect.Dy()) / h,
		float32(r.Rect.Min.X) / w,
		float32(r.Rect.Min.Y) / h,
	}
}

// Stats reports occupancy.
func (a *Atlas) Stats() Stats {
	st := Stats{
		ID:        a.id,
		Name:      a.cfg.Name,
		Format:    a.cfg.Format,
		Slices:    len(a.slices),
		MaxSlices: a.cfg.MaxSlices,
		Version:   a.version,
		Texture:   a.tex,
	}
	for _, s := range a.slices {
		st.Live += len(s.live)
		st.UsedTexels += s.area()
	}
	return st
}

// Close destroys the texture array.
func (a *Atlas) Close() {
	if a.tex != 0 {
		a.dev.DestroyTexture(a.tex)
		a.tex = 0
	}
}

func mipDim(n, k int) int {
	if v := n >> k; v > 0 {
		return v
	}
	return 1
}
