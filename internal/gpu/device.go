// Package gpu defines the opaque GPU resource API the cache allocates from.
//
// Handles are plain integers so they map directly onto OpenGL object names;
// other backends are free to use them as table indices.
package gpu

import (
	"errors"
	"image"
)

// Handle identifies a buffer or texture created by a Device. Zero is never valid.
type Handle uint32

// Usage flags describe how a buffer will be bound.
type Usage uint32

const (
	UsageVertex Usage = 1 << iota
	UsageIndex
	UsageUniform
	UsageCopySrc
	UsageCopyDst
)

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Name  string
	Size  int
	Usage Usage
}

// TextureDesc describes a 2D texture array to create.
type TextureDesc struct {
	Name      string
	Format    Format
	Width     int
	Height    int
	Slices    int
	MipLevels int
}

// Device creates and updates GPU resources. All calls are made from the
// thread that owns the graphics context.
type Device interface {
	NewBuffer(desc BufferDesc) (Handle, error)
	WriteBuffer(buf Handle, offset int, data []byte) error
	CopyBuffer(dst Handle, dstOffset int, src Handle, srcOffset int, size int) error
	DestroyBuffer(buf Handle)

	NewTextureArray(desc TextureDesc) (Handle, error)
	// WriteTexture uploads tightly packed pixels into rect of one slice and mip level.
	WriteTexture(tex Handle, slice, mip int, rect image.Rectangle, pix []byte) error
	// CopyTextureSlices copies the first n slices (all mip levels) from src to dst.
	CopyTextureSlices(dst, src Handle, n int) error
	DestroyTexture(tex Handle)
}

var (
	// ErrInvalidHandle is returned for unknown or destroyed resources.
	ErrInvalidHandle = errors.New("gpu: invalid handle")
	// ErrOutOfRange is returned when a write or copy exceeds a resource's bounds.
	ErrOutOfRange = errors.New("gpu: range out of bounds")
)
