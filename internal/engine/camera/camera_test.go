package camera

import (
	"testing"

	"github.com/chewxy/math32"

	"github.com/Faultbox/gltfcache/pkg/math"
)

func TestPositionLooksAtCenter(t *testing.T) {
	c := NewOrbitCamera()
	c.RotationX, c.RotationY = 0, 0
	c.Center = math.Vec3{X: 1}
	if got := c.Position(); got != (math.Vec3{X: 1, Z: c.Distance}) {
		t.Errorf("position: got %v", got)
	}
	center := c.ViewMatrix().TransformPoint(c.Center)
	if math32.Abs(center.X) > 1e-5 || math32.Abs(center.Z+c.Distance) > 1e-5 {
		t.Errorf("center in view space: got %v", center)
	}
}

func TestHandleClamps(t *testing.T) {
	c := NewOrbitCamera()
	c.HandleDrag(0, 1e6)
	if c.RotationX != c.MaxPitch {
		t.Errorf("pitch: got %v, want %v", c.RotationX, c.MaxPitch)
	}
	for i := 0; i < 200; i++ {
		c.HandleZoom(1)
	}
	if c.Distance != c.MinDistance {
		t.Errorf("distance: got %v, want %v", c.Distance, c.MinDistance)
	}
}

func TestFitToBox(t *testing.T) {
	c := NewOrbitCamera()
	c.FitToBox(math.Box{Min: math.Vec3{X: -1, Y: -1, Z: -1}, Max: math.Vec3{X: 3, Y: 1, Z: 1}})
	if c.Center != (math.Vec3{X: 1}) {
		t.Errorf("center: got %v", c.Center)
	}
	// The bounding sphere touches the frustum.
	radius := math32.Sqrt(24) / 2
	if got := c.Distance * math32.Sin(c.FovY/2); math32.Abs(got-radius) > 1e-4 {
		t.Errorf("distance %v does not frame radius %v", c.Distance, radius)
	}

	c.FitToBox(math.EmptyBox())
	if c.Center != (math.Vec3{}) {
		t.Errorf("empty box center: got %v", c.Center)
	}
}
