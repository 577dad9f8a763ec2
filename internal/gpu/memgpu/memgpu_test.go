package memgpu

import (
	"errors"
	"image"
	"testing"

	"github.com/Faultbox/gltfcache/internal/gpu"
)

func TestBufferWriteCopy(t *testing.T) {
	d := New()
	a, err := d.NewBuffer(gpu.BufferDesc{Name: "a", Size: 16})
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	b, _ := d.NewBuffer(gpu.BufferDesc{Name: "b", Size: 32})

	if err := d.WriteBuffer(a, 4, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	if err := d.CopyBuffer(b, 20, a, 4, 4); err != nil {
		t.Fatalf("CopyBuffer: %v", err)
	}
	got := d.BufferBytes(b)[20:24]
	if string(got) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("copied bytes: got %v", got)
	}

	if err := d.WriteBuffer(a, 14, []byte{1, 2, 3}); !errors.Is(err, gpu.ErrOutOfRange) {
		t.Errorf("overflowing write: got %v, want ErrOutOfRange", err)
	}
	d.DestroyBuffer(a)
	if err := d.WriteBuffer(a, 0, []byte{1}); !errors.Is(err, gpu.ErrInvalidHandle) {
		t.Errorf("write after destroy: got %v, want ErrInvalidHandle", err)
	}
	if d.LiveBuffers() != 1 {
		t.Errorf("LiveBuffers: got %d, want 1", d.LiveBuffers())
	}
}

func TestTextureWriteAndCopySlices(t *testing.T) {
	d := New()
	desc := gpu.TextureDesc{Name: "atlas", Format: gpu.FormatR8Unorm, Width: 8, Height: 8, Slices: 1, MipLevels: 2}
	src, err := d.NewTextureArray(desc)
	if err != nil {
		t.Fatalf("NewTextureArray: %v", err)
	}
	if err := d.WriteTexture(src, 0, 1, image.Rect(2, 2, 4, 4), []byte{9, 9, 9, 9}); err != nil {
		t.Fatalf("WriteTexture: %v", err)
	}
	pix := d.TexturePixels(src, 0, 1)
	if len(pix) != 16 || pix[2*4+2] != 9 || pix[3*4+3] != 9 || pix[0] != 0 {
		t.Errorf("mip 1 contents unexpected: %v", pix)
	}
	if err := d.WriteTexture(src, 0, 1, image.Rect(3, 3, 5, 5), []byte{1, 1, 1, 1}); !errors.Is(err, gpu.ErrOutOfRange) {
		t.Errorf("out-of-mip write: got %v, want ErrOutOfRange", err)
	}

	desc.Slices = 2
	dst, _ := d.NewTextureArray(desc)
	if err := d.CopyTextureSlices(dst, src, 1); err != nil {
		t.Fatalf("CopyTextureSlices: %v", err)
	}
	if d.TexturePixels(dst, 0, 1)[2*4+2] != 9 {
		t.Error("slice copy lost texels")
	}
}

func TestFailureInjection(t *testing.T) {
	d := New()
	d.FailCreateAfter = 2
	if _, err := d.NewBuffer(gpu.BufferDesc{Size: 4}); err != nil {
		t.Fatalf("first create should succeed: %v", err)
	}
	if _, err := d.NewBuffer(gpu.BufferDesc{Size: 4}); !errors.Is(err, ErrInjected) {
		t.Fatalf("second create: got %v, want ErrInjected", err)
	}
	if _, err := d.NewBuffer(gpu.BufferDesc{Size: 4}); err != nil {
		t.Fatalf("injection should disarm after firing: %v", err)
	}
}
