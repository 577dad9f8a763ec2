package binding

import (
	"strings"

	"github.com/Faultbox/gltfcache/internal/resource"
)

// Flags are independent pipeline capabilities. A pipeline binds only the
// vertex streams its flags ask for.
type Flags uint32

const (
	FlagTextureAtlas Flags = 1 << iota
	FlagVertexColors
	FlagJoints
	FlagTexCoord0
	FlagTexCoord1
	FlagNormalMap
	FlagMorphTargets
	FlagAlphaMask
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagTextureAtlas, "atlas"},
	{FlagVertexColors, "colors"},
	{FlagJoints, "joints"},
	{FlagTexCoord0, "uv0"},
	{FlagTexCoord1, "uv1"},
	{FlagNormalMap, "normalmap"},
	{FlagMorphTargets, "morph"},
	{FlagAlphaMask, "alphamask"},
}

// Has reports whether every flag in mask is set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// With returns f with mask set.
func (f Flags) With(mask Flags) Flags { return f | mask }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range flagNames {
		if f.Has(n.f) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Wants reports whether a pipeline with f reads the stream of role.
func (f Flags) Wants(role resource.Role) bool {
	switch role {
	case resource.RolePosition, resource.RoleNormal:
		return true
	case resource.RoleTexCoord0:
		return f.Has(FlagTexCoord0) || f.Has(FlagTextureAtlas)
	case resource.RoleTexCoord1:
		return f.Has(FlagTexCoord1)
	case resource.RoleColor0:
		return f.Has(FlagVertexColors)
	case resource.RoleJoints0, resource.RoleWeights0:
		return f.Has(FlagJoints)
	case resource.RoleTangent:
		return f.Has(FlagNormalMap)
	}
	return false
}
