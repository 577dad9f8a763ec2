package asset

import (
	stdmath "math"
	"testing"

	"github.com/Faultbox/gltfcache/internal/gpu/memgpu"
	"github.com/Faultbox/gltfcache/pkg/math"
)

func near(a, b float32) bool {
	return stdmath.Abs(float64(a-b)) < 1e-5
}

func TestSampleBoundaries(t *testing.T) {
	times := []float32{1, 2, 4}
	// Cubic keys are {in, value, out} with in/out tangents of zero.
	cubic := []float32{
		0, 0, 0, 10, 0, 0, 0, 0, 0,
		0, 0, 0, 20, 0, 0, 0, 0, 0,
		0, 0, 0, 40, 0, 0, 0, 0, 0,
	}
	linear := []float32{10, 0, 0, 20, 0, 0, 40, 0, 0}

	tests := []struct {
		name   string
		interp Interpolation
		values []float32
		at     float32
		want   float32
	}{
		{"step before first", InterpStep, linear, 0, 10},
		{"step at first", InterpStep, linear, 1, 10},
		{"step inside", InterpStep, linear, 1.99, 10},
		{"step at key", InterpStep, linear, 2, 20},
		{"step just before end", InterpStep, linear, 3.999, 20},
		{"step at end", InterpStep, linear, 4, 40},
		{"step after end", InterpStep, linear, 9, 40},
		{"linear at first", InterpLinear, linear, 1, 10},
		{"linear midpoint", InterpLinear, linear, 1.5, 15},
		{"linear second segment", InterpLinear, linear, 3, 30},
		{"linear after end", InterpLinear, linear, 5, 40},
		{"cubic at first", InterpCubicSpline, cubic, 0, 10},
		{"cubic at key", InterpCubicSpline, cubic, 2, 20},
		{"cubic midpoint flat tangents", InterpCubicSpline, cubic, 3, 30},
		{"cubic after end", InterpCubicSpline, cubic, 4.5, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := Channel{Path: PathTranslation, Interpolation: tt.interp, Times: times, Values: tt.values}
			if err := ch.validate(); err != nil {
				t.Fatal(err)
			}
			dst := make([]float32, 3)
			ch.Sample(tt.at, dst)
			if !near(dst[0], tt.want) {
				t.Errorf("Sample(%v).x: got %v, want %v", tt.at, dst[0], tt.want)
			}
		})
	}
}

func TestSampleApproachesLastKey(t *testing.T) {
	ch := Channel{Path: PathTranslation, Times: []float32{0, 1}, Values: []float32{0, 0, 0, 1, 0, 0}}
	dst := make([]float32, 3)
	ch.Sample(0.99999, dst)
	below := dst[0]
	ch.Sample(1, dst)
	if dst[0]-below > 1e-4 {
		t.Errorf("discontinuity at end: %v then %v", below, dst[0])
	}
}

func TestCubicTangentsScaleWithDuration(t *testing.T) {
	// Value 0 with out-tangent 1 to value 0 with in-tangent 0 over 2 seconds.
	ch := Channel{
		Path:          PathTranslation,
		Interpolation: InterpCubicSpline,
		Times:         []float32{0, 2},
		Values: []float32{
			0, 0, 0, 0, 0, 0, 1, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0,
		},
	}
	dst := make([]float32, 3)
	ch.Sample(1, dst)
	// h10(0.5) = 0.125, times dt = 2.
	if !near(dst[0], 0.25) {
		t.Errorf("got %v, want 0.25", dst[0])
	}
}

func TestRotationSlerpStaysUnit(t *testing.T) {
	a := math.QuatIdentity()
	b := math.QuatFromAxisAngle(math.Vec3{Y: 1}, stdmath.Pi/2)
	ch := Channel{
		Path:   PathRotation,
		Times:  []float32{0, 1},
		Values: []float32{a.X, a.Y, a.Z, a.W, b.X, b.Y, b.Z, b.W},
	}
	dst := make([]float32, 4)
	ch.Sample(0.5, dst)
	q := math.Q([4]float32(dst))
	if !near(q.Dot(q), 1) {
		t.Errorf("|q|^2 = %v", q.Dot(q))
	}
	want := math.QuatFromAxisAngle(math.Vec3{Y: 1}, stdmath.Pi/4)
	if !near(q.Dot(want), 1) {
		t.Errorf("halfway rotation: got %v, want %v", q, want)
	}
}

func TestValidateChannels(t *testing.T) {
	tests := []struct {
		name string
		ch   Channel
	}{
		{"no keys", Channel{Path: PathScale}},
		{"short values", Channel{Path: PathScale, Times: []float32{0, 1}, Values: []float32{1, 1, 1}}},
		{"cubic without tangents", Channel{Path: PathScale, Interpolation: InterpCubicSpline, Times: []float32{0}, Values: []float32{1, 1, 1}}},
		{"descending times", Channel{Path: PathScale, Times: []float32{1, 0}, Values: make([]float32, 6)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.ch.validate(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

// animated returns a root with a rotating child, a skin over both and a
// morph-weight channel on the child.
func animated() *Source {
	src := parentChild()
	src.Nodes[0].Skin = 0
	src.Nodes[1].Weights = []float32{0.5, 0.5}
	src.Skins = []Skin{{
		Name:        "skin",
		Joints:      []int{0, 1},
		InverseBind: []math.Mat4{math.Identity()}, // second defaults to identity
		Skeleton:    0,
	}}
	q := math.QuatFromAxisAngle(math.Vec3{Z: 1}, stdmath.Pi/2)
	src.Animations = []Animation{{
		Name: "spin",
		Channels: []Channel{
			{Node: 1, Path: PathRotation, Times: []float32{0, 2}, Values: []float32{0, 0, 0, 1, q.X, q.Y, q.Z, q.W}},
			{Node: 0, Path: PathTranslation, Interpolation: InterpStep, Times: []float32{0, 1}, Values: []float32{0, 0, 0, 0, 3, 0}},
			{Node: 1, Path: PathWeights, Times: []float32{0, 2}, Values: []float32{0, 1, 1, 0}},
		},
	}}
	return src
}

func TestEvaluateAnimation(t *testing.T) {
	m, err := Load(animated(), newManager(t, memgpu.New(), nil), LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if m.Animations[0].End != 2 {
		t.Fatalf("End: got %v, want 2", m.Animations[0].End)
	}

	tr, err := m.ComputeTransforms(0, math.Identity(), &AnimationSample{Index: 0, Time: 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := tr.NodeGlobal[0].Translation(); got != (math.Vec3{Y: 3}) {
		t.Errorf("root translation: got %v", got)
	}
	if got := tr.NodeGlobal[1].Translation(); got != (math.Vec3{X: 1, Y: 3}) {
		t.Errorf("child translation: got %v", got)
	}
	if got := tr.MorphWeights[1]; len(got) != 2 || !near(got[0], 0.5) || !near(got[1], 0.5) {
		t.Errorf("morph weights: got %v", got)
	}
	if len(tr.JointMatrices) != 1 || len(tr.JointMatrices[0]) != 2 {
		t.Fatalf("joint matrices: %v", tr.JointMatrices)
	}
	if tr.JointMatrices[0][1] != tr.NodeGlobal[1] {
		t.Errorf("joint with identity inverse bind should equal its global")
	}

	// The source nodes are untouched by evaluation.
	if m.Nodes[1].Rotation != math.QuatIdentity() || m.Nodes[0].Translation != (math.Vec3{}) {
		t.Errorf("evaluation mutated the model: %+v", m.Nodes[:2])
	}
	rest, _ := m.ComputeTransforms(0, math.Identity(), nil)
	if got := rest.NodeGlobal[1].Translation(); got != (math.Vec3{X: 1}) {
		t.Errorf("rest pose after animation: got %v", got)
	}
	if got := rest.MorphWeights[1]; got[0] != 0.5 {
		t.Errorf("rest weights come from the node: got %v", got)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	m, err := Load(animated(), newManager(t, memgpu.New(), nil), LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	e := m.NewEvaluator()
	if e.State() != StateIdle {
		t.Errorf("new evaluator state: %v", e.State())
	}
	sample := &AnimationSample{Index: 0, Time: 0.7}
	root := math.Translate(1, 2, 3)

	var a, b Transforms
	if err := e.Evaluate(0, root, sample, &a); err != nil {
		t.Fatal(err)
	}
	// Evaluate something else in between to dirty the scratch space.
	var junk Transforms
	_ = e.Evaluate(0, math.Scale(2, 2, 2), &AnimationSample{Index: 0, Time: 1.9}, &junk)
	if err := e.Evaluate(0, root, sample, &b); err != nil {
		t.Fatal(err)
	}
	if e.State() != StateDone {
		t.Errorf("state after evaluation: %v", e.State())
	}
	for i := range a.NodeGlobal {
		if a.NodeGlobal[i] != b.NodeGlobal[i] {
			t.Errorf("node %d differs between evaluations", i)
		}
	}
	for i := range a.MorphWeights {
		for j := range a.MorphWeights[i] {
			if a.MorphWeights[i][j] != b.MorphWeights[i][j] {
				t.Errorf("weight %d/%d differs", i, j)
			}
		}
	}
}

func TestAnimationRejectsBadTargets(t *testing.T) {
	src := animated()
	src.Animations[0].Channels[0].Node = 7
	if _, err := Load(src, newManager(t, memgpu.New(), nil), LoadOptions{}); err == nil {
		t.Error("channel targeting a missing node should fail the load")
	}
}
