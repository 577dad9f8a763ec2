package math

import (
	"math"
	"testing"
)

func TestQuatIdentity(t *testing.T) {
	q := QuatIdentity()
	if q.X != 0 || q.Y != 0 || q.Z != 0 || q.W != 1 {
		t.Errorf("Identity quaternion should be (0,0,0,1), got (%v,%v,%v,%v)", q.X, q.Y, q.Z, q.W)
	}
}

func TestQuatNormalize(t *testing.T) {
	n := Quat{X: 1, Y: 2, Z: 3, W: 4}.Normalize()
	length := math.Sqrt(float64(n.Dot(n)))
	if math.Abs(length-1.0) > 0.0001 {
		t.Errorf("Normalized quaternion length should be 1, got %v", length)
	}
	if (Quat{}).Normalize() != QuatIdentity() {
		t.Error("zero quaternion should normalize to identity")
	}
}

func TestQuatSlerp(t *testing.T) {
	q1 := QuatIdentity()
	q2 := QuatFromAxisAngle(Vec3{X: 0, Y: 1, Z: 0}, float32(math.Pi/2))

	if r := q1.Slerp(q2, 0); math.Abs(float64(r.W-q1.W)) > 0.001 {
		t.Errorf("Slerp at t=0 should equal q1, got %v", r)
	}
	if r := q1.Slerp(q2, 1); math.Abs(float64(r.W-q2.W)) > 0.001 {
		t.Errorf("Slerp at t=1 should equal q2, got %v", r)
	}

	r := q1.Slerp(q2, 0.5)
	expectedW := float32(math.Cos(math.Pi / 8))
	if math.Abs(float64(r.W-expectedW)) > 0.01 {
		t.Errorf("Slerp at t=0.5: expected W ~%v, got %v", expectedW, r.W)
	}
}

func TestQuatSlerpShortestPath(t *testing.T) {
	q := QuatFromAxisAngle(Vec3{Y: 1}, 0.2)
	r := q.Slerp(q.Neg(), 0.5)
	// q and -q are the same rotation; the midpoint must be that rotation too.
	if math.Abs(float64(math.Abs(float64(r.Dot(q)))-1)) > 1e-4 {
		t.Errorf("Slerp between q and -q drifted: %v", r)
	}
}

func TestQuatToMat4(t *testing.T) {
	m := QuatIdentity().ToMat4()
	if m != Identity() {
		t.Errorf("Identity quat should produce identity matrix, got %v", m)
	}

	rot := QuatFromAxisAngle(Vec3{Y: 1}, float32(math.Pi/2)).ToMat4()
	p := rot.TransformPoint(Vec3{1, 0, 0})
	if abs(p.X) > 0.001 || abs(p.Y) > 0.001 || abs(p.Z+1) > 0.001 {
		t.Errorf("90 degree Y rotation: got %v, want (0, 0, -1)", p)
	}
}

func TestQuatMulComposes(t *testing.T) {
	a := QuatFromAxisAngle(Vec3{Z: 1}, 0.3)
	b := QuatFromAxisAngle(Vec3{Z: 1}, 0.4)
	c := a.Mul(b)
	want := QuatFromAxisAngle(Vec3{Z: 1}, 0.7)
	if math.Abs(float64(c.Dot(want))-1) > 1e-5 {
		t.Errorf("Mul of coaxial rotations: got %v, want %v", c, want)
	}
}
