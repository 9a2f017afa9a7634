package codegen

import (
	"fmt"
	"strings"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/kernel"
)

// signature classes for intrinsics.
type signature uint8

const (
	sigFloatUnary   signature = iota + 1 // f(T) T, T float
	sigNumericUnary                      // f(T) T, T numeric
	sigSignedUnary                       // f(T) T, T int or float
	sigNumericBinary                     // f(T, T) T, T numeric
	sigFloatBinary                       // f(T, T) T, T float
	sigNumericTernary                    // f(T, T, T) T, T numeric
	sigFloatTernary                      // f(T, T, T) T, T float
	sigDot                               // f(vecN, vecN) scalar
	sigCross                             // f(float3, float3) float3
	sigLength                            // f(T) float
	sigDistance                          // f(T, T) float
	sigNormalize                         // f(vecN) vecN, float vector
)

var signatures = [...]signature{
	kernel.FnAbs:         sigNumericUnary,
	kernel.FnMin:         sigNumericBinary,
	kernel.FnMax:         sigNumericBinary,
	kernel.FnClamp:       sigNumericTernary,
	kernel.FnSign:        sigSignedUnary,
	kernel.FnSqrt:        sigFloatUnary,
	kernel.FnInverseSqrt: sigFloatUnary,
	kernel.FnSin:         sigFloatUnary,
	kernel.FnCos:         sigFloatUnary,
	kernel.FnTan:         sigFloatUnary,
	kernel.FnAsin:        sigFloatUnary,
	kernel.FnAcos:        sigFloatUnary,
	kernel.FnAtan:        sigFloatUnary,
	kernel.FnAtan2:       sigFloatBinary,
	kernel.FnExp:         sigFloatUnary,
	kernel.FnExp2:        sigFloatUnary,
	kernel.FnLog:         sigFloatUnary,
	kernel.FnLog2:        sigFloatUnary,
	kernel.FnPow:         sigFloatBinary,
	kernel.FnFloor:       sigFloatUnary,
	kernel.FnCeil:        sigFloatUnary,
	kernel.FnRound:       sigFloatUnary,
	kernel.FnTrunc:       sigFloatUnary,
	kernel.FnFract:       sigFloatUnary,
	kernel.FnMix:         sigFloatTernary,
	kernel.FnStep:        sigFloatBinary,
	kernel.FnSmoothstep:  sigFloatTernary,
	kernel.FnFma:         sigFloatTernary,
	kernel.FnDot:         sigDot,
	kernel.FnCross:       sigCross,
	kernel.FnLength:      sigLength,
	kernel.FnDistance:    sigDistance,
	kernel.FnNormalize:   sigNormalize,
}

func (s signature) arity() int {
	switch s {
	case sigFloatUnary, sigNumericUnary, sigSignedUnary, sigLength, sigNormalize:
		return 1
	case sigNumericBinary, sigFloatBinary, sigDot, sigCross, sigDistance:
		return 2
	default:
		return 3
	}
}

func (g *generator) call(path string, n kernel.CallExpr) (string, kernel.ElemType, error) {
	name := n.Func.Name()
	if name == "" {
		return "", 0, descErr(gpucore.ReasonUnsupportedOperation, path, "intrinsic %s", n.Func)
	}
	sig := signatures[n.Func]
	if len(n.Args) != sig.arity() {
		return "", 0, descErr(gpucore.ReasonInvalidValue, path, "%s takes %d arguments, got %d", name, sig.arity(), len(n.Args))
	}

	codes := make([]string, len(n.Args))
	types := make([]kernel.ElemType, len(n.Args))
	for i, a := range n.Args {
		code, t, err := g.expr(fmt.Sprintf("%s.args[%d]", path, i), a)
		if err != nil {
			return "", 0, err
		}
		codes[i], types[i] = code, t
	}
	for i := 1; i < len(types); i++ {
		if types[i] != types[0] {
			return "", 0, descErr(gpucore.ReasonTypeMismatch, path, "%s arguments are %s and %s", name, types[0], types[i])
		}
	}

	t := types[0]
	result := t
	var ok bool
	switch sig {
	case sigFloatUnary, sigFloatBinary, sigFloatTernary:
		ok = t.IsFloat()
	case sigNumericUnary, sigNumericBinary, sigNumericTernary:
		ok = t.IsNumeric()
	case sigSignedUnary:
		ok = t.IsSigned()
	case sigDot:
		ok = t.IsNumeric() && t.IsVector()
		result = t.Scalar()
	case sigCross:
		ok = t == kernel.Float3
	case sigLength, sigDistance:
		ok = t.IsFloat()
		result = kernel.Float
	case sigNormalize:
		ok = t.IsFloat() && t.IsVector()
	}
	if !ok {
		return "", 0, descErr(gpucore.ReasonTypeMismatch, path, "%s does not accept %s", name, t)
	}
	return name + "(" + strings.Join(codes, ", ") + ")", result, nil
}
