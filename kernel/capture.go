package kernel

import (
	"fmt"
	"math"

	"github.com/gogpu/compute/gpucore"
)

// CaptureKind is the closed set of values a kernel may capture.
type CaptureKind uint8

// Capture kinds.
const (
	KindScalar CaptureKind = iota + 1
	KindReadOnlyBuffer
	KindReadWriteBuffer
	KindTexture
)

func (k CaptureKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindReadOnlyBuffer:
		return "read-only buffer"
	case KindReadWriteBuffer:
		return "read-write buffer"
	case KindTexture:
		return "texture"
	default:
		return fmt.Sprintf("CaptureKind(%d)", uint8(k))
	}
}

// IsResource reports whether captures of this kind occupy a binding slot.
func (k CaptureKind) IsResource() bool {
	return k == KindReadOnlyBuffer || k == KindReadWriteBuffer || k == KindTexture
}

// Access describes how a kernel may use a texture.
type Access uint8

// Texture access modes.
const (
	ReadOnly Access = iota + 1
	ReadWrite
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "read"
	case ReadWrite:
		return "read_write"
	default:
		return fmt.Sprintf("Access(%d)", uint8(a))
	}
}

// Capture is one value captured by a kernel: a scalar constant, a buffer or
// a texture. Name, Kind, Elem, Dim and Access are structural and take part
// in the shape key; Value, Buffer and Texture are per-invocation.
type Capture struct {
	Name string
	Kind CaptureKind
	Elem ElemType

	// Dim and Access apply to textures only.
	Dim    gpucore.TextureDimension
	Access Access

	// Value holds a scalar capture's value: bool, int32, uint32, float32,
	// their fixed-size arrays for vector types, or int/uint/float64 for
	// single-lane types.
	Value any

	Buffer  gpucore.BufferID
	Texture gpucore.TextureID
}

// Scalar captures a constant value.
func Scalar(name string, elem ElemType, value any) Capture {
	return Capture{Name: name, Kind: KindScalar, Elem: elem, Value: value}
}

// ReadOnlyBuffer captures a buffer the kernel only reads.
func ReadOnlyBuffer(name string, elem ElemType, buf gpucore.BufferID) Capture {
	return Capture{Name: name, Kind: KindReadOnlyBuffer, Elem: elem, Buffer: buf}
}

// ReadWriteBuffer captures a buffer the kernel may read and write.
func ReadWriteBuffer(name string, elem ElemType, buf gpucore.BufferID) Capture {
	return Capture{Name: name, Kind: KindReadWriteBuffer, Elem: elem, Buffer: buf}
}

// Texture2D captures a 2D rgba32float texture.
func Texture2D(name string, access Access, tex gpucore.TextureID) Capture {
	return Capture{Name: name, Kind: KindTexture, Elem: Float4, Dim: gpucore.TextureDimension2D, Access: access, Texture: tex}
}

// Texture3D captures a 3D rgba32float texture.
func Texture3D(name string, access Access, tex gpucore.TextureID) Capture {
	return Capture{Name: name, Kind: KindTexture, Elem: Float4, Dim: gpucore.TextureDimension3D, Access: access, Texture: tex}
}

// Bits holds a scalar capture's value as raw 32-bit lanes, in the layout the
// device reads: IEEE-754 for floats, two's complement for ints, 0 or 1 for
// bools.
type Bits [4]uint32

// ScalarBits converts c.Value to lanes. It fails if the value does not match
// c.Elem.
func (c Capture) ScalarBits() (Bits, error) {
	var out Bits
	n := c.Elem.Lanes()
	switch c.Elem.Scalar() {
	case Bool:
		b, ok := c.Value.(bool)
		if !ok {
			return out, fmt.Errorf("want bool, got %T", c.Value)
		}
		if b {
			out[0] = 1
		}
		return out, nil
	case Int:
		vals, ok := int32Lanes(c.Value)
		if !ok || len(vals) != n {
			return out, fmt.Errorf("want %s, got %T", c.Elem, c.Value)
		}
		for i, v := range vals {
			out[i] = uint32(v)
		}
		return out, nil
	case UInt:
		vals, ok := uint32Lanes(c.Value)
		if !ok || len(vals) != n {
			return out, fmt.Errorf("want %s, got %T", c.Elem, c.Value)
		}
		copy(out[:], vals)
		return out, nil
	case Float:
		vals, ok := float32Lanes(c.Value)
		if !ok || len(vals) != n {
			return out, fmt.Errorf("want %s, got %T", c.Elem, c.Value)
		}
		for i, v := range vals {
			out[i] = math.Float32bits(v)
		}
		return out, nil
	default:
		return out, fmt.Errorf("type %s cannot be captured as a scalar", c.Elem)
	}
}

func int32Lanes(v any) ([]int32, bool) {
	switch x := v.(type) {
	case int32:
		return []int32{x}, true
	case int:
		if x < math.MinInt32 || x > math.MaxInt32 {
			return nil, false
		}
		return []int32{int32(x)}, true
	case [2]int32:
		return x[:], true
	case [3]int32:
		return x[:], true
	case [4]int32:
		return x[:], true
	}
	return nil, false
}

func uint32Lanes(v any) ([]uint32, bool) {
	switch x := v.(type) {
	case uint32:
		return []uint32{x}, true
	case uint:
		if uint64(x) > math.MaxUint32 {
			return nil, false
		}
		return []uint32{uint32(x)}, true
	case [2]uint32:
		return x[:], true
	case [3]uint32:
		return x[:], true
	case [4]uint32:
		return x[:], true
	}
	return nil, false
}

func float32Lanes(v any) ([]float32, bool) {
	switch x := v.(type) {
	case float32:
		return []float32{x}, true
	case float64:
		return []float32{float32(x)}, true
	case [2]float32:
		return x[:], true
	case [3]float32:
		return x[:], true
	case [4]float32:
		return x[:], true
	}
	return nil, false
}
