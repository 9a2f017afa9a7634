package codegen

import (
	"fmt"
	"strings"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/kernel"
)

// expr type-checks e and returns its WGSL code and type.
func (g *generator) expr(path string, e kernel.Expr) (string, kernel.ElemType, error) {
	switch n := e.(type) {
	case kernel.ThreadIDExpr:
		if n.Axis > kernel.Z {
			return "", 0, descErr(gpucore.ReasonInvalidValue, path, "axis %s", n.Axis)
		}
		return "i32(gid." + axisLane[n.Axis] + ")", kernel.Int, nil

	case kernel.DomainExpr:
		if n.Axis > kernel.Z {
			return "", 0, descErr(gpucore.ReasonInvalidValue, path, "axis %s", n.Axis)
		}
		return "i32(constants.domain." + axisLane[n.Axis] + ")", kernel.Int, nil

	case kernel.LiteralExpr:
		if !n.Type.Supported() || n.Type.IsVector() {
			return "", 0, descErr(gpucore.ReasonUnsupportedType, path, "literal of type %s", n.Type)
		}
		code, err := formatLiteral(n)
		if err != nil {
			return "", 0, descErr(gpucore.ReasonInvalidValue, path, "%v", err)
		}
		return code, n.Type, nil

	case kernel.RefExpr:
		return g.ref(path, n.Name)

	case kernel.BinaryExpr:
		return g.binary(path, n)

	case kernel.UnaryExpr:
		return g.unary(path, n)

	case kernel.CallExpr:
		return g.call(path, n)

	case kernel.LoadExpr:
		return g.load(path, n)

	case kernel.ConstructExpr:
		return g.construct(path, n)

	case kernel.SwizzleExpr:
		return g.swizzle(path, n)

	case kernel.ConvertExpr:
		if !n.Type.Supported() {
			return "", 0, descErr(gpucore.ReasonUnsupportedType, path, "conversion to %s", n.Type)
		}
		code, t, err := g.expr(path+".value", n.Value)
		if err != nil {
			return "", 0, err
		}
		if t.Lanes() != n.Type.Lanes() {
			return "", 0, descErr(gpucore.ReasonTypeMismatch, path, "cannot convert %s to %s", t, n.Type)
		}
		if t == n.Type {
			return code, t, nil
		}
		return wgslType(n.Type) + "(" + code + ")", n.Type, nil

	case kernel.SelectExpr:
		cond, ct, err := g.expr(path+".cond", n.Cond)
		if err != nil {
			return "", 0, err
		}
		if ct != kernel.Bool {
			return "", 0, descErr(gpucore.ReasonTypeMismatch, path+".cond", "condition is %s, want bool", ct)
		}
		then, tt, err := g.expr(path+".then", n.Then)
		if err != nil {
			return "", 0, err
		}
		els, et, err := g.expr(path+".else", n.Else)
		if err != nil {
			return "", 0, err
		}
		if tt != et {
			return "", 0, descErr(gpucore.ReasonTypeMismatch, path, "branches are %s and %s", tt, et)
		}
		return "select(" + els + ", " + then + ", " + cond + ")", tt, nil

	case nil:
		return "", 0, descErr(gpucore.ReasonUnsupportedOperation, path, "nil expression")

	default:
		return "", 0, descErr(gpucore.ReasonUnsupportedOperation, path, "expression %T", e)
	}
}

func (g *generator) ref(path, name string) (string, kernel.ElemType, error) {
	if l, ok := g.lookup(name); ok {
		return prefixLocal + name, l.typ, nil
	}
	c, ok := g.captures[name]
	if !ok {
		return "", 0, descErr(gpucore.ReasonUndefinedName, path, "%q is not declared", name)
	}
	if c.Kind != kernel.KindScalar {
		return "", 0, descErr(gpucore.ReasonUnsupportedOperation, path, "%s %q used as a value; use Load", c.Kind, name)
	}
	if c.Elem == kernel.Bool {
		return "(constants." + prefixScalar + name + " != 0u)", kernel.Bool, nil
	}
	return "constants." + prefixScalar + name, c.Elem, nil
}

func (g *generator) binary(path string, n kernel.BinaryExpr) (string, kernel.ElemType, error) {
	l, lt, err := g.expr(path+".left", n.Left)
	if err != nil {
		return "", 0, err
	}
	r, rt, err := g.expr(path+".right", n.Right)
	if err != nil {
		return "", 0, err
	}
	mismatch := func() error {
		return descErr(gpucore.ReasonTypeMismatch, path, "%s %s %s", lt, n.Op, rt)
	}

	var result kernel.ElemType
	switch n.Op {
	case kernel.OpAdd, kernel.OpSub, kernel.OpMul, kernel.OpDiv, kernel.OpRem:
		if !lt.IsNumeric() || lt.Scalar() != rt.Scalar() {
			return "", 0, mismatch()
		}
		switch {
		case lt == rt:
			result = lt
		case !lt.IsVector():
			result = rt
		case !rt.IsVector():
			result = lt
		default:
			return "", 0, mismatch()
		}
	case kernel.OpEq, kernel.OpNe:
		if lt != rt || lt.IsVector() {
			return "", 0, mismatch()
		}
		result = kernel.Bool
	case kernel.OpLt, kernel.OpLe, kernel.OpGt, kernel.OpGe:
		if lt != rt || lt.IsVector() || !lt.IsNumeric() {
			return "", 0, mismatch()
		}
		result = kernel.Bool
	case kernel.OpAnd, kernel.OpOr:
		if lt != kernel.Bool || rt != kernel.Bool {
			return "", 0, mismatch()
		}
		result = kernel.Bool
	case kernel.OpBitAnd, kernel.OpBitOr, kernel.OpBitXor:
		if lt != rt || !lt.IsInteger() {
			return "", 0, mismatch()
		}
		result = lt
	case kernel.OpShl, kernel.OpShr:
		if !lt.IsInteger() || !rt.IsInteger() || lt.Lanes() != rt.Lanes() {
			return "", 0, mismatch()
		}
		if rt.Scalar() == kernel.Int {
			r = wgslType(kernel.UInt.WithLanes(rt.Lanes())) + "(" + r + ")"
		}
		result = lt
	default:
		return "", 0, descErr(gpucore.ReasonUnsupportedOperation, path, "operator %s", n.Op)
	}
	return "(" + l + " " + n.Op.Symbol() + " " + r + ")", result, nil
}

func (g *generator) unary(path string, n kernel.UnaryExpr) (string, kernel.ElemType, error) {
	x, t, err := g.expr(path+".operand", n.Operand)
	if err != nil {
		return "", 0, err
	}
	var ok bool
	switch n.Op {
	case kernel.OpNeg:
		ok = t.IsSigned()
	case kernel.OpNot:
		ok = t == kernel.Bool
	case kernel.OpBitNot:
		ok = t.IsInteger()
	default:
		return "", 0, descErr(gpucore.ReasonUnsupportedOperation, path, "operator %s", n.Op)
	}
	if !ok {
		return "", 0, descErr(gpucore.ReasonTypeMismatch, path, "%s applied to %s", n.Op, t)
	}
	return "(" + n.Op.Symbol() + x + ")", t, nil
}

func (g *generator) load(path string, n kernel.LoadExpr) (string, kernel.ElemType, error) {
	c, ok := g.captures[n.Resource]
	if !ok {
		return "", 0, descErr(gpucore.ReasonUndefinedName, path, "resource %q is not captured", n.Resource)
	}
	switch c.Kind {
	case kernel.KindReadOnlyBuffer, kernel.KindReadWriteBuffer:
		idx, err := g.bufferIndex(path, n.Index)
		if err != nil {
			return "", 0, err
		}
		return prefixBuffer + c.Name + "[" + idx + "]", c.Elem, nil
	case kernel.KindTexture:
		coords, err := g.texelCoords(path, c, n.Index)
		if err != nil {
			return "", 0, err
		}
		if c.Access == kernel.ReadWrite {
			return "textureLoad(" + prefixTexture + c.Name + ", " + coords + ")", kernel.Float4, nil
		}
		return "textureLoad(" + prefixTexture + c.Name + ", " + coords + ", 0)", kernel.Float4, nil
	default:
		return "", 0, descErr(gpucore.ReasonUnsupportedOperation, path, "%q is a %s, not a resource", c.Name, c.Kind)
	}
}

func (g *generator) bufferIndex(path string, index []kernel.Expr) (string, error) {
	if len(index) != 1 {
		return "", descErr(gpucore.ReasonInvalidValue, path+".index", "buffers take 1 index, got %d", len(index))
	}
	code, t, err := g.expr(path+".index[0]", index[0])
	if err != nil {
		return "", err
	}
	if t != kernel.Int && t != kernel.UInt {
		return "", descErr(gpucore.ReasonTypeMismatch, path+".index[0]", "index is %s, want int or uint", t)
	}
	return code, nil
}

func (g *generator) texelCoords(path string, c kernel.Capture, index []kernel.Expr) (string, error) {
	want := c.Dim.Coords()
	if len(index) != want {
		return "", descErr(gpucore.ReasonInvalidValue, path+".index", "%s texture takes %d coordinates, got %d", c.Dim, want, len(index))
	}
	parts := make([]string, len(index))
	for i, e := range index {
		p := fmt.Sprintf("%s.index[%d]", path, i)
		code, t, err := g.expr(p, e)
		if err != nil {
			return "", err
		}
		switch t {
		case kernel.Int:
			parts[i] = code
		case kernel.UInt:
			parts[i] = "i32(" + code + ")"
		default:
			return "", descErr(gpucore.ReasonTypeMismatch, p, "coordinate is %s, want int or uint", t)
		}
	}
	return fmt.Sprintf("vec%d<i32>(%s)", want, strings.Join(parts, ", ")), nil
}

func (g *generator) construct(path string, n kernel.ConstructExpr) (string, kernel.ElemType, error) {
	if !n.Type.Supported() || !n.Type.IsVector() {
		return "", 0, descErr(gpucore.ReasonUnsupportedType, path, "cannot construct %s; use Convert for scalars", n.Type)
	}
	if len(n.Args) == 0 {
		return wgslType(n.Type) + "()", n.Type, nil
	}
	parts := make([]string, len(n.Args))
	lanes := 0
	for i, a := range n.Args {
		p := fmt.Sprintf("%s.args[%d]", path, i)
		code, t, err := g.expr(p, a)
		if err != nil {
			return "", 0, err
		}
		if t.Scalar() != n.Type.Scalar() {
			return "", 0, descErr(gpucore.ReasonTypeMismatch, p, "%s component in %s", t, n.Type)
		}
		parts[i] = code
		lanes += t.Lanes()
	}
	splat := len(n.Args) == 1 && lanes == 1
	if !splat && lanes != n.Type.Lanes() {
		return "", 0, descErr(gpucore.ReasonTypeMismatch, path, "%d lanes supplied for %s", lanes, n.Type)
	}
	return wgslType(n.Type) + "(" + strings.Join(parts, ", ") + ")", n.Type, nil
}

func (g *generator) swizzle(path string, n kernel.SwizzleExpr) (string, kernel.ElemType, error) {
	code, t, err := g.expr(path+".vector", n.Vector)
	if err != nil {
		return "", 0, err
	}
	if !t.IsVector() {
		return "", 0, descErr(gpucore.ReasonTypeMismatch, path, "swizzle of %s", t)
	}
	if len(n.Lanes) == 0 || len(n.Lanes) > 4 {
		return "", 0, descErr(gpucore.ReasonInvalidValue, path, "swizzle %q", n.Lanes)
	}
	set := "xyzw"
	if strings.IndexByte("rgba", n.Lanes[0]) >= 0 {
		set = "rgba"
	}
	for i := 0; i < len(n.Lanes); i++ {
		idx := strings.IndexByte(set, n.Lanes[i])
		if idx < 0 || idx >= t.Lanes() {
			return "", 0, descErr(gpucore.ReasonInvalidValue, path, "swizzle %q on %s", n.Lanes, t)
		}
	}
	return "(" + code + ")." + n.Lanes, t.WithLanes(len(n.Lanes)), nil
}
