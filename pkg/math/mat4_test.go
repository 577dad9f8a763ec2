package math

import (
	"math"
	"testing"
)

func TestIdentity(t *testing.T) {
	m := Identity()
	if m[0] != 1 || m[5] != 1 || m[10] != 1 || m[15] != 1 {
		t.Error("Identity diagonal should be 1")
	}
	if m[1] != 0 || m[4] != 0 {
		t.Error("Identity off-diagonal should be 0")
	}
}

func TestMulIdentity(t *testing.T) {
	m := Translate(1, 2, 3)
	result := m.Mul(Identity())
	if result != m {
		t.Errorf("M * I should equal M: got %v, want %v", result, m)
	}
}

func TestMulOrder(t *testing.T) {
	// Translate after scale: point (1,0,0) -> scale 2 -> (2,0,0) -> +(0,5,0).
	m := Translate(0, 5, 0).Mul(Scale(2, 2, 2))
	got := m.TransformPoint(Vec3{1, 0, 0})
	want := Vec3{2, 5, 0}
	if got != want {
		t.Errorf("T*S applied to point: got %v, want %v", got, want)
	}
}

func TestTranslate(t *testing.T) {
	m := Translate(5, 10, 15)
	if m[12] != 5 || m[13] != 10 || m[14] != 15 {
		t.Errorf("Translate: got (%f, %f, %f), want (5, 10, 15)", m[12], m[13], m[14])
	}
	if m.Translation() != (Vec3{5, 10, 15}) {
		t.Errorf("Translation(): got %v", m.Translation())
	}
}

func TestCompose(t *testing.T) {
	r := QuatFromAxisAngle(Vec3{0, 1, 0}, float32(math.Pi/2))
	m := Compose(Vec3{1, 2, 3}, r, Vec3{2, 2, 2})
	want := Translate(1, 2, 3).Mul(r.ToMat4()).Mul(Scale(2, 2, 2))
	for i := range m {
		if abs(m[i]-want[i]) > 1e-5 {
			t.Fatalf("Compose element %d: got %f, want %f", i, m[i], want[i])
		}
	}
}

func TestTransformPointScale(t *testing.T) {
	m := Scale(2, 2, 2)
	result := m.TransformPoint(Vec3{1, 2, 3})
	if result != (Vec3{2, 4, 6}) {
		t.Errorf("TransformPoint with scale: got %v, want (2, 4, 6)", result)
	}
}

func TestTransformDirectionIgnoresTranslation(t *testing.T) {
	m := Translate(10, 20, 30)
	d := m.TransformDirection(Vec3{0, 0, 1})
	if d != (Vec3{0, 0, 1}) {
		t.Errorf("TransformDirection: got %v", d)
	}
}

func TestInverse(t *testing.T) {
	r := QuatFromAxisAngle(Vec3{1, 0, 0}, 0.7)
	m := Compose(Vec3{3, -2, 1}, r, Vec3{1, 2, 3})
	p := m.Mul(m.Inverse())
	id := Identity()
	for i := range p {
		if abs(p[i]-id[i]) > 1e-4 {
			t.Fatalf("M * inverse(M) element %d: got %f, want %f", i, p[i], id[i])
		}
	}
}

func TestInverseSingular(t *testing.T) {
	if got := (Mat4{}).Inverse(); got != Identity() {
		t.Errorf("singular inverse should be identity, got %v", got)
	}
}

func TestTranspose(t *testing.T) {
	m := Translate(1, 2, 3)
	tr := m.Transpose()
	if tr[3] != 1 || tr[7] != 2 || tr[11] != 3 {
		t.Errorf("Transpose moved translation incorrectly: %v", tr)
	}
	if tr.Transpose() != m {
		t.Error("double transpose should be identity operation")
	}
}

func TestPerspective(t *testing.T) {
	m := Perspective(float32(math.Pi/4), 1, 0.1, 100)
	if m[0] == 0 || m[5] == 0 {
		t.Error("Perspective should have non-zero elements")
	}
	if m[15] != 0 {
		t.Errorf("Perspective [15] should be 0, got %f", m[15])
	}
	if m[11] != -1 {
		t.Errorf("Perspective [11] should be -1, got %f", m[11])
	}
}

func abs(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func TestLookAt(t *testing.T) {
	m := LookAt(Vec3{0, 0, 5}, Vec3{}, Vec3{0, 1, 0})
	if m[15] != 1 {
		t.Errorf("LookAt [15] should be 1, got %f", m[15])
	}
	// The eye lands on the origin and the center straight ahead on -Z.
	if got := m.TransformPoint(Vec3{0, 0, 5}); got.Length() > 1e-5 {
		t.Errorf("eye in view space: got %v", got)
	}
	if got := m.TransformPoint(Vec3{}); abs(got.Z+5) > 1e-5 || abs(got.X) > 1e-5 {
		t.Errorf("center in view space: got %v", got)
	}
}

func TestOrthographic(t *testing.T) {
	m := Orthographic(2, 4, 1, 11)
	tests := []struct {
		in, want Vec3
	}{
		{Vec3{2, 4, -1}, Vec3{1, 1, -1}},
		{Vec3{-2, -4, -11}, Vec3{-1, -1, 1}},
		{Vec3{0, 0, -6}, Vec3{0, 0, 0}},
	}
	for _, tt := range tests {
		got := m.TransformPoint(tt.in)
		if abs(got.X-tt.want.X) > 1e-5 || abs(got.Y-tt.want.Y) > 1e-5 || abs(got.Z-tt.want.Z) > 1e-5 {
			t.Errorf("Orthographic(%v): got %v, want %v", tt.in, got, tt.want)
		}
	}
}
