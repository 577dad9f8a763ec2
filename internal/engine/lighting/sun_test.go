package lighting

import (
	"testing"

	"github.com/chewxy/math32"

	"github.com/Faultbox/gltfcache/pkg/math"
)

func TestSunDirection(t *testing.T) {
	tests := []struct {
		name string
		sun  Sun
		want math.Vec3
	}{
		{"zenith", Sun{Longitude: 0, Latitude: 90}, math.Vec3{Y: 1}},
		{"horizon front", Sun{Longitude: 0, Latitude: 0}, math.Vec3{Z: 1}},
		{"horizon right", Sun{Longitude: 90, Latitude: 0}, math.Vec3{X: 1}},
		{"low back", Sun{Longitude: 180, Latitude: 30}, math.Vec3{Y: 0.5, Z: -math32.Sqrt(3) / 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.sun.Direction()
			if got.Sub(tt.want).Length() > 1e-5 {
				t.Errorf("Direction: got %v, want %v", got, tt.want)
			}
			if l := got.Length(); math32.Abs(l-1) > 1e-5 {
				t.Errorf("Direction length: got %v, want 1", l)
			}
			if sum := got.Add(tt.sun.Travel()); sum.Length() > 1e-6 {
				t.Errorf("Travel is not opposite Direction: sum %v", sum)
			}
		})
	}
}
