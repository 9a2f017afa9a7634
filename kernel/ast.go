package kernel

import (
	"fmt"
	"math"
)

// Axis selects a component of the thread index or iteration domain.
type Axis uint8

// Axes.
const (
	X Axis = iota
	Y
	Z
)

func (a Axis) String() string {
	switch a {
	case X:
		return "x"
	case Y:
		return "y"
	case Z:
		return "z"
	default:
		return fmt.Sprintf("Axis(%d)", uint8(a))
	}
}

// Expr is a per-thread expression. The set of implementations is closed.
type Expr interface{ expr() }

// Stmt is a per-thread statement. The set of implementations is closed.
type Stmt interface{ stmt() }

// ThreadIDExpr is the invoking thread's index along Axis, typed Int.
type ThreadIDExpr struct{ Axis Axis }

// DomainExpr is the iteration domain extent along Axis, typed Int.
type DomainExpr struct{ Axis Axis }

// LiteralExpr is a scalar constant. Bits holds the raw 32-bit pattern.
type LiteralExpr struct {
	Type ElemType
	Bits uint32
}

// Float32 returns the literal as a float.
func (l LiteralExpr) Float32() float32 { return math.Float32frombits(l.Bits) }

// Int32 returns the literal as a signed integer.
func (l LiteralExpr) Int32() int32 { return int32(l.Bits) }

// RefExpr names a scalar capture, a local or a loop counter.
type RefExpr struct{ Name string }

// BinaryOp is an infix operator.
type BinaryOp uint8

// Binary operators.
const (
	OpAdd BinaryOp = iota + 1
	OpSub
	OpMul
	OpDiv
	OpRem
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr
)

var binarySymbols = [...]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpRem: "%",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAnd: "&&", OpOr: "||",
	OpBitAnd: "&", OpBitOr: "|", OpBitXor: "^", OpShl: "<<", OpShr: ">>",
}

// Symbol returns the operator's source spelling.
func (op BinaryOp) Symbol() string {
	if op > 0 && int(op) < len(binarySymbols) {
		return binarySymbols[op]
	}
	return ""
}

func (op BinaryOp) String() string {
	if s := op.Symbol(); s != "" {
		return s
	}
	return fmt.Sprintf("BinaryOp(%d)", uint8(op))
}

// BinaryExpr applies Op to Left and Right.
type BinaryExpr struct {
	Op          BinaryOp
	Left, Right Expr
}

// UnaryOp is a prefix operator.
type UnaryOp uint8

// Unary operators.
const (
	OpNeg UnaryOp = iota + 1
	OpNot
	OpBitNot
)

// Symbol returns the operator's source spelling.
func (op UnaryOp) Symbol() string {
	switch op {
	case OpNeg:
		return "-"
	case OpNot:
		return "!"
	case OpBitNot:
		return "~"
	default:
		return ""
	}
}

func (op UnaryOp) String() string {
	if s := op.Symbol(); s != "" {
		return s
	}
	return fmt.Sprintf("UnaryOp(%d)", uint8(op))
}

// UnaryExpr applies Op to Operand.
type UnaryExpr struct {
	Op      UnaryOp
	Operand Expr
}

// Intrinsic is a built-in function available to kernel bodies.
type Intrinsic uint8

// Intrinsics.
const (
	FnAbs Intrinsic = iota + 1
	FnMin
	FnMax
	FnClamp
	FnSign
	FnSqrt
	FnInverseSqrt
	FnSin
	FnCos
	FnTan
	FnAsin
	FnAcos
	FnAtan
	FnAtan2
	FnExp
	FnExp2
	FnLog
	FnLog2
	FnPow
	FnFloor
	FnCeil
	FnRound
	FnTrunc
	FnFract
	FnMix
	FnStep
	FnSmoothstep
	FnFma
	FnDot
	FnCross
	FnLength
	FnDistance
	FnNormalize
	intrinsicCount
)

var intrinsicNames = [...]string{
	FnAbs: "abs", FnMin: "min", FnMax: "max", FnClamp: "clamp", FnSign: "sign",
	FnSqrt: "sqrt", FnInverseSqrt: "inverseSqrt",
	FnSin: "sin", FnCos: "cos", FnTan: "tan",
	FnAsin: "asin", FnAcos: "acos", FnAtan: "atan", FnAtan2: "atan2",
	FnExp: "exp", FnExp2: "exp2", FnLog: "log", FnLog2: "log2", FnPow: "pow",
	FnFloor: "floor", FnCeil: "ceil", FnRound: "round", FnTrunc: "trunc", FnFract: "fract",
	FnMix: "mix", FnStep: "step", FnSmoothstep: "smoothstep", FnFma: "fma",
	FnDot: "dot", FnCross: "cross", FnLength: "length", FnDistance: "distance", FnNormalize: "normalize",
}

// Name returns the intrinsic's device-language name.
func (f Intrinsic) Name() string {
	if f > 0 && f < intrinsicCount {
		return intrinsicNames[f]
	}
	return ""
}

func (f Intrinsic) String() string {
	if n := f.Name(); n != "" {
		return n
	}
	return fmt.Sprintf("Intrinsic(%d)", uint8(f))
}

// CallExpr invokes an intrinsic.
type CallExpr struct {
	Func Intrinsic
	Args []Expr
}

// LoadExpr reads a buffer element (one index) or a texel (2 or 3 coordinates).
type LoadExpr struct {
	Resource string
	Index    []Expr
}

// ConstructExpr builds a vector from scalars and smaller vectors, or splats
// a single scalar.
type ConstructExpr struct {
	Type ElemType
	Args []Expr
}

// SwizzleExpr selects vector lanes, e.g. "xy" or "zyx".
type SwizzleExpr struct {
	Vector Expr
	Lanes  string
}

// ConvertExpr converts Value to Type lane by lane.
type ConvertExpr struct {
	Type  ElemType
	Value Expr
}

// SelectExpr evaluates to Then when Cond holds and to Else otherwise.
type SelectExpr struct {
	Cond, Then, Else Expr
}

func (ThreadIDExpr) expr()  {}
func (DomainExpr) expr()    {}
func (LiteralExpr) expr()   {}
func (RefExpr) expr()       {}
func (BinaryExpr) expr()    {}
func (UnaryExpr) expr()     {}
func (CallExpr) expr()      {}
func (LoadExpr) expr()      {}
func (ConstructExpr) expr() {}
func (SwizzleExpr) expr()   {}
func (ConvertExpr) expr()   {}
func (SelectExpr) expr()    {}

// LetStmt binds an immutable local.
type LetStmt struct {
	Name  string
	Value Expr
}

// VarStmt declares a mutable local. A nil Value zero-initializes it.
type VarStmt struct {
	Name  string
	Type  ElemType
	Value Expr
}

// AssignStmt updates a mutable local.
type AssignStmt struct {
	Name  string
	Value Expr
}

// StoreStmt writes a buffer element or a texel.
type StoreStmt struct {
	Resource string
	Index    []Expr
	Value    Expr
}

// IfStmt branches on a Bool condition.
type IfStmt struct {
	Cond Expr
	Then []Stmt
	Else []Stmt
}

// ForStmt runs Body with Var counting from From (inclusive) to To
// (exclusive). Both bounds are Int and evaluated once.
type ForStmt struct {
	Var      string
	From, To Expr
	Body     []Stmt
}

// BreakStmt leaves the innermost loop.
type BreakStmt struct{}

// ContinueStmt skips to the next iteration of the innermost loop.
type ContinueStmt struct{}

// ReturnStmt ends the current thread.
type ReturnStmt struct{}

func (LetStmt) stmt()      {}
func (VarStmt) stmt()      {}
func (AssignStmt) stmt()   {}
func (StoreStmt) stmt()    {}
func (IfStmt) stmt()       {}
func (ForStmt) stmt()      {}
func (BreakStmt) stmt()    {}
func (ContinueStmt) stmt() {}
func (ReturnStmt) stmt()   {}

func cloneExprs(in []Expr) []Expr {
	if in == nil {
		return nil
	}
	out := make([]Expr, len(in))
	for i, e := range in {
		out[i] = cloneExpr(e)
	}
	return out
}

func cloneExpr(e Expr) Expr {
	switch x := e.(type) {
	case BinaryExpr:
		x.Left, x.Right = cloneExpr(x.Left), cloneExpr(x.Right)
		return x
	case UnaryExpr:
		x.Operand = cloneExpr(x.Operand)
		return x
	case CallExpr:
		x.Args = cloneExprs(x.Args)
		return x
	case LoadExpr:
		x.Index = cloneExprs(x.Index)
		return x
	case ConstructExpr:
		x.Args = cloneExprs(x.Args)
		return x
	case SwizzleExpr:
		x.Vector = cloneExpr(x.Vector)
		return x
	case ConvertExpr:
		x.Value = cloneExpr(x.Value)
		return x
	case SelectExpr:
		x.Cond, x.Then, x.Else = cloneExpr(x.Cond), cloneExpr(x.Then), cloneExpr(x.Else)
		return x
	default:
		return e
	}
}

func cloneStmts(in []Stmt) []Stmt {
	if in == nil {
		return nil
	}
	out := make([]Stmt, len(in))
	for i, s := range in {
		out[i] = cloneStmt(s)
	}
	return out
}

func cloneStmt(s Stmt) Stmt {
	switch x := s.(type) {
	case LetStmt:
		x.Value = cloneExpr(x.Value)
		return x
	case VarStmt:
		x.Value = cloneExpr(x.Value)
		return x
	case AssignStmt:
		x.Value = cloneExpr(x.Value)
		return x
	case StoreStmt:
		x.Index = cloneExprs(x.Index)
		x.Value = cloneExpr(x.Value)
		return x
	case IfStmt:
		x.Cond = cloneExpr(x.Cond)
		x.Then, x.Else = cloneStmts(x.Then), cloneStmts(x.Else)
		return x
	case ForStmt:
		x.From, x.To = cloneExpr(x.From), cloneExpr(x.To)
		x.Body = cloneStmts(x.Body)
		return x
	default:
		return s
	}
}
