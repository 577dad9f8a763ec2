// Package memgpu implements gpu.Device in system memory. It backs the headless
// inspection tool and lets tests check that data survives buffer growth.
package memgpu

import (
	"errors"
	"fmt"
	"image"

	"github.com/Faultbox/gltfcache/internal/gpu"
)

// ErrInjected is returned by creation calls when failure injection is armed.
var ErrInjected = errors.New("memgpu: injected failure")

type buffer struct {
	desc gpu.BufferDesc
	data []byte
}

type texture struct {
	desc gpu.TextureDesc
	// levels[slice][mip] holds tightly packed texels.
	levels [][][]byte
}

// Device is an in-memory gpu.Device. It is not safe for concurrent use.
type Device struct {
	next     gpu.Handle
	buffers  map[gpu.Handle]*buffer
	textures map[gpu.Handle]*texture

	// FailCreateAfter makes the n-th following NewBuffer/NewTextureArray call
	// fail with ErrInjected. Zero disables injection.
	FailCreateAfter int
}

// New returns an empty device.
func New() *Device {
	return &Device{
		buffers:  make(map[gpu.Handle]*buffer),
		textures: make(map[gpu.Handle]*texture),
	}
}

func (d *Device) allocHandle() (gpu.Handle, error) {
	if d.FailCreateAfter > 0 {
		d.FailCreateAfter--
		if d.FailCreateAfter == 0 {
			return 0, ErrInjected
		}
	}
	d.next++
	return d.next, nil
}

// NewBuffer implements gpu.Device.
func (d *Device) NewBuffer(desc gpu.BufferDesc) (gpu.Handle, error) {
	if desc.Size <= 0 {
		return 0, fmt.Errorf("memgpu: buffer %q: size must be > 0", desc.Name)
	}
	h, err := d.allocHandle()
	if err != nil {
		return 0, err
	}
	d.buffers[h] = &buffer{desc: desc, data: make([]byte, desc.Size)}
	return h, nil
}

// WriteBuffer implements gpu.Device.
func (d *Device) WriteBuffer(h gpu.Handle, offset int, data []byte) error {
	b, ok := d.buffers[h]
	if !ok {
		return gpu.ErrInvalidHandle
	}
	if offset < 0 || offset+len(data) > len(b.data) {
		return fmt.Errorf("write [%d,%d) into %q of %d bytes: %w", offset, offset+len(data), b.desc.Name, len(b.data), gpu.ErrOutOfRange)
	}
	copy(b.data[offset:], data)
	return nil
}

// CopyBuffer implements gpu.Device.
func (d *Device) CopyBuffer(dst gpu.Handle, dstOffset int, src gpu.Handle, srcOffset int, size int) error {
	db, ok := d.buffers[dst]
	if !ok {
		return gpu.ErrInvalidHandle
	}
	sb, ok := d.buffers[src]
	if !ok {
		return gpu.ErrInvalidHandle
	}
	if srcOffset < 0 || dstOffset < 0 || srcOffset+size > len(sb.data) || dstOffset+size > len(db.data) {
		return gpu.ErrOutOfRange
	}
	copy(db.data[dstOffset:dstOffset+size], sb.data[srcOffset:srcOffset+size])
	return nil
}

// DestroyBuffer implements gpu.Device.
func (d *Device) DestroyBuffer(h gpu.Handle) {
	delete(d.buffers, h)
}

// NewTextureArray implements gpu.Device.
func (d *Device) NewTextureArray(desc gpu.TextureDesc) (gpu.Handle, error) {
	bpp := desc.Format.BytesPerPixel()
	if bpp == 0 {
		return 0, fmt.Errorf("memgpu: texture %q: unsupported format %v", desc.Name, desc.Format)
	}
	if desc.Width <= 0 || desc.Height <= 0 || desc.Slices <= 0 || desc.MipLevels <= 0 {
		return 0, fmt.Errorf("memgpu: texture %q: invalid dimensions", desc.Name)
	}
	h, err := d.allocHandle()
	if err != nil {
		return 0, err
	}
	t := &texture{desc: desc, levels: make([][][]byte, desc.Slices)}
	for s := range t.levels {
		t.levels[s] = make([][]byte, desc.MipLevels)
		for m := range t.levels[s] {
			w, hgt := mipDim(desc.Width, m), mipDim(desc.Height, m)
			t.levels[s][m] = make([]byte, w*hgt*bpp)
		}
	}
	d.textures[h] = t
	return h, nil
}

// WriteTexture implements gpu.Device.
func (d *Device) WriteTexture(h gpu.Handle, slice, mip int, rect image.Rectangle, pix []byte) error {
	t, ok := d.textures[h]
	if !ok {
		return gpu.ErrInvalidHandle
	}
	if slice < 0 || slice >= len(t.levels) || mip < 0 || mip >= t.desc.MipLevels {
		return gpu.ErrOutOfRange
	}
	w, hgt := mipDim(t.desc.Width, mip), mipDim(t.desc.Height, mip)
	if !rect.In(image.Rect(0, 0, w, hgt)) {
		return fmt.Errorf("rect %v outside mip %d (%dx%d): %w", rect, mip, w, hgt, gpu.ErrOutOfRange)
	}
	bpp := t.desc.Format.BytesPerPixel()
	rowBytes := rect.Dx() * bpp
	if len(pix) != rowBytes*rect.Dy() {
		return fmt.Errorf("memgpu: %d bytes for %v, want %d", len(pix), rect, rowBytes*rect.Dy())
	}
	dst := t.levels[slice][mip]
	for y := 0; y < rect.Dy(); y++ {
		off := ((rect.Min.Y+y)*w + rect.Min.X) * bpp
		copy(dst[off:off+rowBytes], pix[y*rowBytes:(y+1)*rowBytes])
	}
	return nil
}

// CopyTextureSlices implements gpu.Device.
func (d *Device) CopyTextureSlices(dst, src gpu.Handle, n int) error {
	dt, ok := d.textures[dst]
	if !ok {
		return gpu.ErrInvalidHandle
	}
	st, ok := d.textures[src]
	if !ok {
		return gpu.ErrInvalidHandle
	}
	if n > len(st.levels) || n > len(dt.levels) || dt.desc.Width != st.desc.Width ||
		dt.desc.Height != st.desc.Height || dt.desc.MipLevels != st.desc.MipLevels {
		return gpu.ErrOutOfRange
	}
	for s := 0; s < n; s++ {
		for m := range st.levels[s] {
			copy(dt.levels[s][m], st.levels[s][m])
		}
	}
	return nil
}

// DestroyTexture implements gpu.Device.
func (d *Device) DestroyTexture(h gpu.Handle) {
	delete(d.textures, h)
}

// BufferBytes exposes a buffer's contents for inspection.
func (d *Device) BufferBytes(h gpu.Handle) []byte {
	if b, ok := d.buffers[h]; ok {
		return b.data
	}
	return nil
}

// TexturePixels exposes one slice and mip level of a texture array.
func (d *Device) TexturePixels(h gpu.Handle, slice, mip int) []byte {
	t, ok := d.textures[h]
	if !ok || slice >= len(t.levels) || mip >= len(t.levels[slice]) {
		return nil
	}
	return t.levels[slice][mip]
}

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *Device) LiveBuffers() int { return len(d.buffers) }

// LiveTextures returns the number of textures not yet destroyed.
func (d *Device) LiveTextures() int { return len(d.textures) }

func mipDim(base, level int) int {
	v := base >> level
	if v < 1 {
		return 1
	}
	return v
}
