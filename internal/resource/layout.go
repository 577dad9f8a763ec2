package resource

import (
	"fmt"
	"strconv"
	"strings"
)

// Role is the semantic of one vertex stream.
type Role string

const (
	RolePosition  Role = "position"
	RoleNormal    Role = "normal"
	RoleTangent   Role = "tangent"
	RoleTexCoord0 Role = "texcoord0"
	RoleTexCoord1 Role = "texcoord1"
	RoleColor0    Role = "color0"
	RoleJoints0   Role = "joints0"
	RoleWeights0  Role = "weights0"
)

// LayoutElement is one stream of a vertex layout.
type LayoutElement struct {
	Stride int
	Role   Role
}

func (e LayoutElement) String() string {
	return strconv.Itoa(e.Stride) + ":" + string(e.Role)
}

// LayoutKey identifies a vertex layout: an ordered list of streams. Two keys
// are equal when their elements are equal in order. The zero value is empty.
type LayoutKey struct {
	elems []LayoutElement
	key   string
}

// NewLayoutKey copies elems into an immutable key.
func NewLayoutKey(elems ...LayoutElement) LayoutKey {
	k := LayoutKey{elems: append([]LayoutElement(nil), elems...)}
	parts := make([]string, len(elems))
	for i, e := range elems {
		parts[i] = e.String()
	}
	k.key = strings.Join(parts, ",")
	return k
}

// ParseLayoutKey reads the canonical form produced by String, e.g.
// "12:position,12:normal,8:texcoord0".
func ParseLayoutKey(s string) (LayoutKey, error) {
	if strings.TrimSpace(s) == "" {
		return LayoutKey{}, fmt.Errorf("empty vertex layout")
	}
	var elems []LayoutElement
	for _, part := range strings.Split(s, ",") {
		stride, role, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return LayoutKey{}, fmt.Errorf("layout element %q: want stride:role", part)
		}
		n, err := strconv.Atoi(stride)
		if err != nil || n <= 0 {
			return LayoutKey{}, fmt.Errorf("layout element %q: invalid stride", part)
		}
		elems = append(elems, LayoutElement{Stride: n, Role: Role(role)})
	}
	return NewLayoutKey(elems...), nil
}

// String returns the canonical form, which is also the map key.
func (k LayoutKey) String() string { return k.key }

// Len returns the number of streams.
func (k LayoutKey) Len() int { return len(k.elems) }

// Element returns stream i.
func (k LayoutKey) Element(i int) LayoutElement { return k.elems[i] }

// Elements returns a copy of the streams.
func (k LayoutKey) Elements() []LayoutElement {
	return append([]LayoutElement(nil), k.elems...)
}

// Equal reports structural equality.
func (k LayoutKey) Equal(o LayoutKey) bool { return k.key == o.key }

// Index returns the stream position of role, or -1.
func (k LayoutKey) Index(role Role) int {
	for i, e := range k.elems {
		if e.Role == role {
			return i
		}
	}
	return -1
}
