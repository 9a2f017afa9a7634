package codegen

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gogpu/compute/kernel"
)

// Identifier prefixes keep user names clear of WGSL keywords and of each
// other.
const (
	prefixScalar  = "c_"
	prefixBuffer  = "b_"
	prefixTexture = "t_"
	prefixLocal   = "v_"
)

var axisLane = [...]string{kernel.X: "x", kernel.Y: "y", kernel.Z: "z"}

// wgslType returns the WGSL spelling of a supported type.
func wgslType(t kernel.ElemType) string {
	var scalar string
	switch t.Scalar() {
	case kernel.Bool:
		return "bool"
	case kernel.Int:
		scalar = "i32"
	case kernel.UInt:
		scalar = "u32"
	case kernel.Float:
		scalar = "f32"
	default:
		return ""
	}
	if n := t.Lanes(); n > 1 {
		return fmt.Sprintf("vec%d<%s>", n, scalar)
	}
	return scalar
}

// uniformType returns the type a scalar capture has inside the constant
// block. Bools are stored as u32.
func uniformType(t kernel.ElemType) string {
	if t == kernel.Bool {
		return "u32"
	}
	return wgslType(t)
}

func formatLiteral(l kernel.LiteralExpr) (string, error) {
	switch l.Type {
	case kernel.Bool:
		if l.Bits != 0 {
			return "true", nil
		}
		return "false", nil
	case kernel.Int:
		v := l.Int32()
		switch {
		case v == math.MinInt32:
			return "i32(-2147483647 - 1)", nil
		case v < 0:
			return "(" + strconv.FormatInt(int64(v), 10) + "i)", nil
		default:
			return strconv.FormatInt(int64(v), 10) + "i", nil
		}
	case kernel.UInt:
		return strconv.FormatUint(uint64(l.Bits), 10) + "u", nil
	case kernel.Float:
		f := l.Float32()
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return "", fmt.Errorf("float literal %v is not representable", f)
		}
		s := formatFloat(f)
		if f < 0 || (f == 0 && math.Signbit(float64(f))) {
			return "(" + s + ")", nil
		}
		return s, nil
	default:
		return "", fmt.Errorf("literal of type %s", l.Type)
	}
}

// formatFloat renders f as a WGSL f32 literal that round-trips exactly.
func formatFloat(f float32) string {
	s := strconv.FormatFloat(float64(f), 'g', -1, 32)
	mant, exp, hasExp := strings.Cut(s, "e")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	if hasExp {
		return mant + "e" + exp + "f"
	}
	return mant + "f"
}
