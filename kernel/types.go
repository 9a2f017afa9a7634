package kernel

import "fmt"

// ElemType is the closed set of value types a kernel can capture or compute.
type ElemType uint8

// Element types. Vector types follow their scalar in lane order.
const (
	Invalid ElemType = iota
	Bool
	Int
	Int2
	Int3
	Int4
	UInt
	UInt2
	UInt3
	UInt4
	Float
	Float2
	Float3
	Float4
	// Double is recognized so descriptors can name it, but no device
	// target accepts 64-bit floats; validation rejects it.
	Double
)

var elemNames = [...]string{
	Invalid: "invalid",
	Bool:    "bool",
	Int:     "int", Int2: "int2", Int3: "int3", Int4: "int4",
	UInt: "uint", UInt2: "uint2", UInt3: "uint3", UInt4: "uint4",
	Float: "float", Float2: "float2", Float3: "float3", Float4: "float4",
	Double: "double",
}

func (t ElemType) String() string {
	if int(t) < len(elemNames) {
		return elemNames[t]
	}
	return fmt.Sprintf("ElemType(%d)", uint8(t))
}

// Valid reports whether t names a known type.
func (t ElemType) Valid() bool {
	return t > Invalid && t <= Double
}

// Supported reports whether t can be used on a device.
func (t ElemType) Supported() bool {
	return t > Invalid && t < Double
}

// Scalar returns the component type of t.
func (t ElemType) Scalar() ElemType {
	switch {
	case t >= Int && t <= Int4:
		return Int
	case t >= UInt && t <= UInt4:
		return UInt
	case t >= Float && t <= Float4:
		return Float
	default:
		return t
	}
}

// Lanes returns the number of components in t.
func (t ElemType) Lanes() int {
	switch {
	case t >= Int && t <= Int4:
		return int(t-Int) + 1
	case t >= UInt && t <= UInt4:
		return int(t-UInt) + 1
	case t >= Float && t <= Float4:
		return int(t-Float) + 1
	case t == Bool || t == Double:
		return 1
	default:
		return 0
	}
}

// WithLanes returns the type with t's component type and n lanes, or
// Invalid if no such type exists.
func (t ElemType) WithLanes(n int) ElemType {
	if n < 1 || n > 4 {
		return Invalid
	}
	switch t.Scalar() {
	case Int, UInt, Float:
		return t.Scalar() + ElemType(n-1)
	case Bool, Double:
		if n == 1 {
			return t.Scalar()
		}
	}
	return Invalid
}

// IsVector reports whether t has more than one lane.
func (t ElemType) IsVector() bool { return t.Lanes() > 1 }

// IsNumeric reports whether t supports arithmetic.
func (t ElemType) IsNumeric() bool {
	s := t.Scalar()
	return s == Int || s == UInt || s == Float
}

// IsInteger reports whether t has integer components.
func (t ElemType) IsInteger() bool {
	s := t.Scalar()
	return s == Int || s == UInt
}

// IsFloat reports whether t has floating-point components.
func (t ElemType) IsFloat() bool { return t.Scalar() == Float }

// IsSigned reports whether t supports negation.
func (t ElemType) IsSigned() bool {
	s := t.Scalar()
	return s == Int || s == Float
}

// Size returns the packed byte size of one value of t: four bytes per
// lane. Use Stride to size buffers.
func (t ElemType) Size() uint32 {
	if !t.Supported() {
		return 0
	}
	return 4 * uint32(t.Lanes())
}

// Stride returns the distance in bytes between consecutive elements of a
// storage buffer of t. Three-lane vectors are padded to 16 bytes.
func (t ElemType) Stride() uint32 {
	if t.Lanes() == 3 {
		return t.WithLanes(4).Size()
	}
	return t.Size()
}
