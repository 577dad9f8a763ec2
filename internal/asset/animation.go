package asset

import (
	"fmt"
	"sort"

	"github.com/Faultbox/gltfcache/pkg/math"
)

// Path is the node property a channel animates.
type Path uint8

const (
	PathTranslation Path = iota
	PathRotation
	PathScale
	PathWeights
)

func (p Path) String() string {
	switch p {
	case PathTranslation:
		return "translation"
	case PathRotation:
		return "rotation"
	case PathScale:
		return "scale"
	}
	return "weights"
}

// Interpolation is a keyframe interpolation mode.
type Interpolation uint8

const (
	InterpLinear Interpolation = iota
	InterpStep
	InterpCubicSpline
)

func (i Interpolation) String() string {
	switch i {
	case InterpStep:
		return "STEP"
	case InterpCubicSpline:
		return "CUBICSPLINE"
	}
	return "LINEAR"
}

// Channel animates one property of one node. Values are flat: each key holds
// Components() floats, or three times that for cubic splines, stored as
// in-tangent, value, out-tangent.
type Channel struct {
	Node          int
	Path          Path
	Interpolation Interpolation
	Times         []float32 // ascending
	Values        []float32
}

// Components returns the number of floats in one sampled value.
func (c *Channel) Components() int {
	switch c.Path {
	case PathTranslation, PathScale:
		return 3
	case PathRotation:
		return 4
	}
	if len(c.Times) == 0 {
		return 0
	}
	n := len(c.Values) / len(c.Times)
	if c.Interpolation == InterpCubicSpline {
		n /= 3
	}
	return n
}

func (c *Channel) validate() error {
	if len(c.Times) == 0 {
		return fmt.Errorf("%s channel of node %d has no keyframes", c.Path, c.Node)
	}
	per := c.Components()
	if c.Interpolation == InterpCubicSpline {
		per *= 3
	}
	if per == 0 || len(c.Values) != per*len(c.Times) {
		return fmt.Errorf("%s channel of node %d: %d values for %d keys", c.Path, c.Node, len(c.Values), len(c.Times))
	}
	for i := 1; i < len(c.Times); i++ {
		if c.Times[i] < c.Times[i-1] {
			return fmt.Errorf("%s channel of node %d: keyframe times not ascending", c.Path, c.Node)
		}
	}
	return nil
}

// value returns key k's value (not a tangent).
func (c *Channel) value(k, comps int) []float32 {
	if c.Interpolation == InterpCubicSpline {
		base := k*3*comps + comps
		return c.Values[base : base+comps]
	}
	return c.Values[k*comps : (k+1)*comps]
}

func (c *Channel) inTangent(k, comps int) []float32 {
	base := k * 3 * comps
	return c.Values[base : base+comps]
}

func (c *Channel) outTangent(k, comps int) []float32 {
	base := k*3*comps + 2*comps
	return c.Values[base : base+comps]
}

// Sample writes the channel's value at time t into dst, which must hold
// Components() floats. Times outside the keyframe range clamp to the first or
// last key.
func (c *Channel) Sample(t float32, dst []float32) {
	comps := c.Components()
	n := len(c.Times)
	if n == 1 || t <= c.Times[0] {
		copy(dst, c.value(0, comps))
		return
	}
	if t >= c.Times[n-1] {
		copy(dst, c.value(n-1, comps))
		return
	}

	// First key strictly after t; its predecessor starts the segment.
	k := sort.Search(n, func(i int) bool { return c.Times[i] > t }) - 1
	t0, t1 := c.Times[k], c.Times[k+1]
	dt := t1 - t0
	var u float32
	if dt > 0 {
		u = (t - t0) / dt
	}

	switch c.Interpolation {
	case InterpStep:
		copy(dst, c.value(k, comps))

	case InterpLinear:
		a, b := c.value(k, comps), c.value(k+1, comps)
		if c.Path == PathRotation {
			q := math.Q([4]float32(a)).Slerp(math.Q([4]float32(b)), u).Array()
			copy(dst, q[:])
			return
		}
		for i := range dst[:comps] {
			dst[i] = a[i] + (b[i]-a[i])*u
		}

	case InterpCubicSpline:
		u2 := u * u
		u3 := u2 * u
		h00 := 2*u3 - 3*u2 + 1
		h10 := u3 - 2*u2 + u
		h01 := -2*u3 + 3*u2
		h11 := u3 - u2
		p0, m0 := c.value(k, comps), c.outTangent(k, comps)
		p1, m1 := c.value(k+1, comps), c.inTangent(k+1, comps)
		for i := range dst[:comps] {
			dst[i] = h00*p0[i] + h10*dt*m0[i] + h01*p1[i] + h11*dt*m1[i]
		}
		if c.Path == PathRotation {
			q := math.Q([4]float32(dst[:4])).Normalize().Array()
			copy(dst, q[:])
		}
	}
}

// Animation is a set of channels sharing one timeline.
type Animation struct {
	Name     string
	Channels []Channel
	// End is the latest keyframe time over all channels.
	End float32
}

// computeEnd sets End from the channels.
func (a *Animation) computeEnd() {
	a.End = 0
	for i := range a.Channels {
		if ts := a.Channels[i].Times; len(ts) > 0 && ts[len(ts)-1] > a.End {
			a.End = ts[len(ts)-1]
		}
	}
}
