package gpu

import "fmt"

// Format is a texel format for atlas textures.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatRGBA8Unorm
	FormatRGBA8UnormSRGB
	FormatRG8Unorm
	FormatR8Unorm
)

var formatNames = map[Format]string{
	FormatUnknown:        "unknown",
	FormatRGBA8Unorm:     "rgba8_unorm",
	FormatRGBA8UnormSRGB: "rgba8_unorm_srgb",
	FormatRG8Unorm:       "rg8_unorm",
	FormatR8Unorm:        "r8_unorm",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// BytesPerPixel returns the texel size, or 0 for unknown formats.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8Unorm, FormatRGBA8UnormSRGB:
		return 4
	case FormatRG8Unorm:
		return 2
	case FormatR8Unorm:
		return 1
	}
	return 0
}

// ParseFormat converts a config name such as "rgba8_unorm" to a Format.
func ParseFormat(s string) (Format, error) {
	for f, name := range formatNames {
		if name == s && f != FormatUnknown {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("gpu: unknown texture format %q", s)
}

// MarshalText implements encoding.TextMarshaler so formats read naturally in YAML.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(b []byte) error {
	v, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// IndexType is the element type of an index buffer region.
type IndexType uint8

const (
	IndexUint16 IndexType = iota
	IndexUint32
)

// Size returns the byte size of one index.
func (t IndexType) Size() int {
	if t == IndexUint16 {
		return 2
	}
	return 4
}

func (t IndexType) String() string {
	if t == IndexUint16 {
		return "uint16"
	}
	return "uint32"
}
