package asset

import (
	"fmt"

	"github.com/Faultbox/gltfcache/pkg/math"
)

// AnimationSample selects an animation and a time already wrapped into
// [0, End] by the caller.
type AnimationSample struct {
	Index int
	Time  float32
}

// Transforms is the output of one evaluation. It is rebuilt wholesale every
// time and never patched.
type Transforms struct {
	NodeGlobal    []math.Mat4
	JointMatrices [][]math.Mat4 // per skin
	MorphWeights  [][]float32   // per node, nil when the node has none
}

// State of an Evaluator.
type State uint8

const (
	StateIdle State = iota
	StateTraversing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateTraversing:
		return "traversing"
	case StateDone:
		return "done"
	}
	return "idle"
}

// trs is a node's local transform for one evaluation.
type trs struct {
	t     math.Vec3
	r     math.Quat
	s     math.Vec3
	anim  bool
	morph []float32
}

// Evaluator computes Transforms for one model. It keeps scratch space between
// calls; results depend only on the arguments.
type Evaluator struct {
	model  *Model
	state  State
	locals []trs
	sample []float32
}

// NewEvaluator returns an idle evaluator for m.
func (m *Model) NewEvaluator() *Evaluator {
	return &Evaluator{model: m}
}

// State returns where the evaluator is in its traversal.
func (e *Evaluator) State() State { return e.state }

// Evaluate fills out for scene, composing every root with root and applying
// anim when it is non-nil. out is resized as needed and may be reused.
func (e *Evaluator) Evaluate(scene int, root math.Mat4, anim *AnimationSample, out *Transforms) error {
	m := e.model
	if scene < 0 || scene >= len(m.Scenes) {
		return fmt.Errorf("scene %d of %d: %w", scene, len(m.Scenes), ErrInvalidSceneIndex)
	}
	if anim != nil && (anim.Index < 0 || anim.Index >= len(m.Animations)) {
		return fmt.Errorf("animation %d of %d: %w", anim.Index, len(m.Animations), ErrInvalidAnimationIndex)
	}
	e.state = StateTraversing
	defer func() { e.state = StateDone }()

	if cap(e.locals) < len(m.Nodes) {
		e.locals = make([]trs, len(m.Nodes))
	}
	e.locals = e.locals[:len(m.Nodes)]
	for i := range m.Nodes {
		n := &m.Nodes[i]
		e.locals[i] = trs{t: n.Translation, r: n.Rotation, s: n.Scale}
	}
	if anim != nil {
		e.applyAnimation(&m.Animations[anim.Index], anim.Time)
	}

	if len(out.NodeGlobal) != len(m.Nodes) {
		out.NodeGlobal = make([]math.Mat4, len(m.Nodes))
	}
	for i := range out.NodeGlobal {
		out.NodeGlobal[i] = math.Identity()
	}
	for _, n := range m.Scenes[scene].Linear {
		node := &m.Nodes[n]
		var local math.Mat4
		if l := &e.locals[n]; node.HasMatrix && !l.anim {
			local = node.Matrix
		} else {
			local = math.Compose(l.t, l.r, l.s)
		}
		parent := root
		if node.Parent >= 0 {
			parent = out.NodeGlobal[node.Parent]
		}
		out.NodeGlobal[n] = parent.Mul(local)
	}

	e.computeJoints(out)
	e.computeMorphWeights(out)
	return nil
}

func (e *Evaluator) applyAnimation(a *Animation, t float32) {
	for i := range a.Channels {
		ch := &a.Channels[i]
		comps := ch.Components()
		if cap(e.sample) < comps {
			e.sample = make([]float32, comps)
		}
		v := e.sample[:comps]
		ch.Sample(t, v)

		l := &e.locals[ch.Node]
		l.anim = true
		switch ch.Path {
		case PathTranslation:
			l.t = math.Vec3{X: v[0], Y: v[1], Z: v[2]}
		case PathRotation:
			l.r = math.Quat{X: v[0], Y: v[1], Z: v[2], W: v[3]}
		case PathScale:
			l.s = math.Vec3{X: v[0], Y: v[1], Z: v[2]}
		case PathWeights:
			l.morph = append(l.morph[:0], v...)
		}
	}
}

func (e *Evaluator) computeJoints(out *Transforms) {
	m := e.model
	if len(out.JointMatrices) != len(m.Skins) {
		out.JointMatrices = make([][]math.Mat4, len(m.Skins))
	}
	for s := range m.Skins {
		skin := &m.Skins[s]
		if len(out.JointMatrices[s]) != len(skin.Joints) {
			out.JointMatrices[s] = make([]math.Mat4, len(skin.Joints))
		}
		for j, node := range skin.Joints {
			out.JointMatrices[s][j] = out.NodeGlobal[node].Mul(skin.InverseBind[j])
		}
	}
}

func (e *Evaluator) computeMorphWeights(out *Transforms) {
	m := e.model
	if len(out.MorphWeights) != len(m.Nodes) {
		out.MorphWeights = make([][]float32, len(m.Nodes))
	}
	for i := range m.Nodes {
		var w []float32
		switch node := &m.Nodes[i]; {
		case e.locals[i].morph != nil:
			w = e.locals[i].morph
		case len(node.Weights) > 0:
			w = node.Weights
		case node.Mesh >= 0 && len(m.Meshes[node.Mesh].Weights) > 0:
			w = m.Meshes[node.Mesh].Weights
		}
		if w == nil {
			out.MorphWeights[i] = nil
			continue
		}
		out.MorphWeights[i] = append(out.MorphWeights[i][:0], w...)
	}
}

// ComputeTransforms evaluates scene with a fresh evaluator.
func (m *Model) ComputeTransforms(scene int, root math.Mat4, anim *AnimationSample) (*Transforms, error) {
	var out Transforms
	if err := m.NewEvaluator().Evaluate(scene, root, anim, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ComputeBoundingBox folds every primitive's local bounds through its node's
// global matrix. The result is empty when the scene draws nothing.
func (m *Model) ComputeBoundingBox(scene int, t *Transforms) (math.Box, error) {
	if scene < 0 || scene >= len(m.Scenes) {
		return math.EmptyBox(), fmt.Errorf("scene %d of %d: %w", scene, len(m.Scenes), ErrInvalidSceneIndex)
	}
	box := math.EmptyBox()
	for _, n := range m.Scenes[scene].Linear {
		mesh := m.Nodes[n].Mesh
		if mesh < 0 {
			continue
		}
		for _, p := range m.Meshes[mesh].Primitives {
			box = box.Union(p.Bounds.Transform(t.NodeGlobal[n]))
		}
	}
	return box, nil
}
