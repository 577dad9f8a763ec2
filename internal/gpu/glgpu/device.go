// Package glgpu implements gpu.Device on OpenGL 4.1 core.
//
// A context must be current on the calling thread before New and for every
// call that follows.
package glgpu

import (
	"fmt"
	"image"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/gltfcache/internal/gpu"
	"github.com/Faultbox/gltfcache/internal/logger"
)

type glFormat struct {
	internal int32
	format   uint32
}

var formats = map[gpu.Format]glFormat{
	gpu.FormatRGBA8Unorm:     {gl.RGBA8, gl.RGBA},
	gpu.FormatRGBA8UnormSRGB: {gl.SRGB8_ALPHA8, gl.RGBA},
	gpu.FormatRG8Unorm:       {gl.RG8, gl.RG},
	gpu.FormatR8Unorm:        {gl.R8, gl.RED},
}

// Device tracks sizes so out-of-range writes fail instead of raising GL
// errors later.
type Device struct {
	log      *zap.Logger
	buffers  map[gpu.Handle]int
	textures map[gpu.Handle]gpu.TextureDesc
}

// New loads GL function pointers for the current context.
func New() (*Device, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", err)
	}
	d := &Device{
		log:      logger.Named("glgpu"),
		buffers:  make(map[gpu.Handle]int),
		textures: make(map[gpu.Handle]gpu.TextureDesc),
	}
	d.log.Info("OpenGL initialized",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
	)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	return d, nil
}

func (d *Device) check(op string) error {
	if code := gl.GetError(); code != gl.NO_ERROR {
		return fmt.Errorf("glgpu: %s: GL error 0x%x", op, code)
	}
	return nil
}

// NewBuffer implements gpu.Device.
func (d *Device) NewBuffer(desc gpu.BufferDesc) (gpu.Handle, error) {
	if desc.Size <= 0 {
		return 0, fmt.Errorf("glgpu: buffer %q: size must be > 0", desc.Name)
	}
	var name uint32
	gl.GenBuffers(1, &name)
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, name)
	gl.BufferData(gl.COPY_WRITE_BUFFER, desc.Size, nil, gl.DYNAMIC_DRAW)
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, 0)
	if err := d.check("NewBuffer " + desc.Name); err != nil {
		gl.DeleteBuffers(1, &name)
		return 0, err
	}
	h := gpu.Handle(name)
	d.buffers[h] = desc.Size
	d.log.Debug("buffer created", zap.String("name", desc.Name), zap.Uint32("id", name), zap.Int("size", desc.Size))
	return h, nil
}

// WriteBuffer implements gpu.Device.
func (d *Device) WriteBuffer(h gpu.Handle, offset int, data []byte) error {
	size, ok := d.buffers[h]
	if !ok {
		return gpu.ErrInvalidHandle
	}
	if offset < 0 || offset+len(data) > size {
		return fmt.Errorf("glgpu: write [%d,%d) of %d: %w", offset, offset+len(data), size, gpu.ErrOutOfRange)
	}
	if len(data) == 0 {
		return nil
	}
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, uint32(h))
	gl.BufferSubData(gl.COPY_WRITE_BUFFER, offset, len(data), unsafe.Pointer(&data[0]))
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, 0)
	return d.check("WriteBuffer")
}

// CopyBuffer implements gpu.Device.
func (d *Device) CopyBuffer(dst gpu.Handle, dstOffset int, src gpu.Handle, srcOffset int, size int) error {
	dstSize, ok := d.buffers[dst]
	srcSize, ok2 := d.buffers[src]
	if !ok || !ok2 {
		return gpu.ErrInvalidHandle
	}
	if srcOffset < 0 || dstOffset < 0 || srcOffset+size > srcSize || dstOffset+size > dstSize {
		return fmt.Errorf("glgpu: copy %d bytes: %w", size, gpu.ErrOutOfRange)
	}
	gl.BindBuffer(gl.COPY_READ_BUFFER, uint32(src))
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, uint32(dst))
	gl.CopyBufferSubData(gl.COPY_READ_BUFFER, gl.COPY_WRITE_BUFFER, srcOffset, dstOffset, size)
	gl.BindBuffer(gl.COPY_READ_BUFFER, 0)
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, 0)
	return d.check("CopyBuffer")
}

// DestroyBuffer implements gpu.Device.
func (d *Device) DestroyBuffer(h gpu.Handle) {
	if _, ok := d.buffers[h]; !ok {
		return
	}
	delete(d.buffers, h)
	name := uint32(h)
	gl.DeleteBuffers(1, &name)
}

// NewTextureArray implements gpu.Device.
func (d *Device) NewTextureArray(desc gpu.TextureDesc) (gpu.Handle, error) {
	f, ok := formats[desc.Format]
	if !ok {
		return 0, fmt.Errorf("glgpu: texture %q: unsupported format %v", desc.Name, desc.Format)
	}
	var name uint32
	gl.GenTextures(1, &name)
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, name)
	for mip := 0; mip < desc.MipLevels; mip++ {
		w, h := mipDim(desc.Width, mip), mipDim(desc.Height, mip)
		gl.TexImage3D(gl.TEXTURE_2D_ARRAY, int32(mip), f.internal, int32(w), int32(h), int32(desc.Slices), 0, f.format, gl.UNSIGNED_BYTE, nil)
	}
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_MAX_LEVEL, int32(desc.MipLevels-1))
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_MIN_FILTER, gl.LINEAR_MIPMAP_LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D_ARRAY, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, 0)
	if err := d.check("NewTextureArray " + desc.Name); err != nil {
		gl.DeleteTextures(1, &name)
		return 0, err
	}
	h := gpu.Handle(name)
	d.textures[h] = desc
	d.log.Debug("texture array created",
		zap.String("name", desc.Name),
		zap.Uint32("id", name),
		zap.Int("width", desc.Width),
		zap.Int("height", desc.Height),
		zap.Int("slices", desc.Slices))
	return h, nil
}

// WriteTexture implements gpu.Device.
func (d *Device) WriteTexture(h gpu.Handle, slice, mip int, rect image.Rectangle, pix []byte) error {
	desc, ok := d.textures[h]
	if !ok {
		return gpu.ErrInvalidHandle
	}
	bounds := image.Rect(0, 0, mipDim(desc.Width, mip), mipDim(desc.Height, mip))
	if slice < 0 || slice >= desc.Slices || mip < 0 || mip >= desc.MipLevels || !rect.In(bounds) {
		return fmt.Errorf("glgpu: write %v slice %d mip %d: %w", rect, slice, mip, gpu.ErrOutOfRange)
	}
	if len(pix) != rect.Dx()*rect.Dy()*desc.Format.BytesPerPixel() {
		return fmt.Errorf("glgpu: write %v: %d bytes: %w", rect, len(pix), gpu.ErrOutOfRange)
	}
	if len(pix) == 0 {
		return nil
	}
	f := formats[desc.Format]
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, uint32(h))
	gl.TexSubImage3D(gl.TEXTURE_2D_ARRAY, int32(mip), int32(rect.Min.X), int32(rect.Min.Y), int32(slice),
		int32(rect.Dx()), int32(rect.Dy()), 1, f.format, gl.UNSIGNED_BYTE, unsafe.Pointer(&pix[0]))
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, 0)
	return d.check("WriteTexture")
}

// CopyTextureSlices implements gpu.Device. GL 4.1 has no image copy, so each
// level is read back and uploaded again.
func (d *Device) CopyTextureSlices(dst, src gpu.Handle, n int) error {
	sd, ok := d.textures[src]
	dd, ok2 := d.textures[dst]
	if !ok || !ok2 {
		return gpu.ErrInvalidHandle
	}
	if sd.Format != dd.Format || n > sd.Slices || n > dd.Slices || sd.Width != dd.Width || sd.Height != dd.Height {
		return fmt.Errorf("glgpu: copy %d slices: %w", n, gpu.ErrOutOfRange)
	}
	f := formats[sd.Format]
	bpp := sd.Format.BytesPerPixel()
	for mip := 0; mip < min(sd.MipLevels, dd.MipLevels); mip++ {
		w, h := mipDim(sd.Width, mip), mipDim(sd.Height, mip)
		level := make([]byte, w*h*sd.Slices*bpp)
		gl.BindTexture(gl.TEXTURE_2D_ARRAY, uint32(src))
		gl.GetTexImage(gl.TEXTURE_2D_ARRAY, int32(mip), f.format, gl.UNSIGNED_BYTE, unsafe.Pointer(&level[0]))
		gl.BindTexture(gl.TEXTURE_2D_ARRAY, uint32(dst))
		gl.TexSubImage3D(gl.TEXTURE_2D_ARRAY, int32(mip), 0, 0, 0, int32(w), int32(h), int32(n),
			f.format, gl.UNSIGNED_BYTE, unsafe.Pointer(&level[0]))
	}
	gl.BindTexture(gl.TEXTURE_2D_ARRAY, 0)
	return d.check("CopyTextureSlices")
}

// DestroyTexture implements gpu.Device.
func (d *Device) DestroyTexture(h gpu.Handle) {
	if _, ok := d.textures[h]; !ok {
		return
	}
	delete(d.textures, h)
	name := uint32(h)
	gl.DeleteTextures(1, &name)
}

func mipDim(base, level int) int {
	return max(base>>level, 1)
}
