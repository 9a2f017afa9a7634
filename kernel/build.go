package kernel

import "math"

// Expression constructors.

func ThreadID(a Axis) Expr     { return ThreadIDExpr{Axis: a} }
func DispatchSize(a Axis) Expr { return DomainExpr{Axis: a} }

func I(v int32) Expr   { return LiteralExpr{Type: Int, Bits: uint32(v)} }
func U(v uint32) Expr  { return LiteralExpr{Type: UInt, Bits: v} }
func F(v float32) Expr { return LiteralExpr{Type: Float, Bits: math.Float32bits(v)} }

func B(v bool) Expr {
	if v {
		return LiteralExpr{Type: Bool, Bits: 1}
	}
	return LiteralExpr{Type: Bool}
}

func Ref(name string) Expr { return RefExpr{Name: name} }

func Add(a, b Expr) Expr    { return BinaryExpr{Op: OpAdd, Left: a, Right: b} }
func Sub(a, b Expr) Expr    { return BinaryExpr{Op: OpSub, Left: a, Right: b} }
func Mul(a, b Expr) Expr    { return BinaryExpr{Op: OpMul, Left: a, Right: b} }
func Div(a, b Expr) Expr    { return BinaryExpr{Op: OpDiv, Left: a, Right: b} }
func Rem(a, b Expr) Expr    { return BinaryExpr{Op: OpRem, Left: a, Right: b} }
func Eq(a, b Expr) Expr     { return BinaryExpr{Op: OpEq, Left: a, Right: b} }
func Ne(a, b Expr) Expr     { return BinaryExpr{Op: OpNe, Left: a, Right: b} }
func Lt(a, b Expr) Expr     { return BinaryExpr{Op: OpLt, Left: a, Right: b} }
func Le(a, b Expr) Expr     { return BinaryExpr{Op: OpLe, Left: a, Right: b} }
func Gt(a, b Expr) Expr     { return BinaryExpr{Op: OpGt, Left: a, Right: b} }
func Ge(a, b Expr) Expr     { return BinaryExpr{Op: OpGe, Left: a, Right: b} }
func And(a, b Expr) Expr    { return BinaryExpr{Op: OpAnd, Left: a, Right: b} }
func Or(a, b Expr) Expr     { return BinaryExpr{Op: OpOr, Left: a, Right: b} }
func BitAnd(a, b Expr) Expr { return BinaryExpr{Op: OpBitAnd, Left: a, Right: b} }
func BitOr(a, b Expr) Expr  { return BinaryExpr{Op: OpBitOr, Left: a, Right: b} }
func BitXor(a, b Expr) Expr { return BinaryExpr{Op: OpBitXor, Left: a, Right: b} }
func Shl(a, b Expr) Expr    { return BinaryExpr{Op: OpShl, Left: a, Right: b} }
func Shr(a, b Expr) Expr    { return BinaryExpr{Op: OpShr, Left: a, Right: b} }

func Neg(x Expr) Expr    { return UnaryExpr{Op: OpNeg, Operand: x} }
func Not(x Expr) Expr    { return UnaryExpr{Op: OpNot, Operand: x} }
func BitNot(x Expr) Expr { return UnaryExpr{Op: OpBitNot, Operand: x} }

// Call invokes an intrinsic.
func Call(fn Intrinsic, args ...Expr) Expr { return CallExpr{Func: fn, Args: args} }

// Load reads resource at index. Buffers take one index; textures take one
// coordinate per dimension.
func Load(resource string, index ...Expr) Expr {
	return LoadExpr{Resource: resource, Index: index}
}

// Vec constructs a vector of type t.
func Vec(t ElemType, args ...Expr) Expr { return ConstructExpr{Type: t, Args: args} }

// Swizzle selects lanes of v.
func Swizzle(v Expr, lanes string) Expr { return SwizzleExpr{Vector: v, Lanes: lanes} }

// Convert converts v to t.
func Convert(t ElemType, v Expr) Expr { return ConvertExpr{Type: t, Value: v} }

// Select picks then or els by cond.
func Select(cond, then, els Expr) Expr { return SelectExpr{Cond: cond, Then: then, Else: els} }

// Statement constructors.

func Let(name string, value Expr) Stmt { return LetStmt{Name: name, Value: value} }

func Var(name string, t ElemType, value Expr) Stmt {
	return VarStmt{Name: name, Type: t, Value: value}
}

func Assign(name string, value Expr) Stmt { return AssignStmt{Name: name, Value: value} }

// Store writes value to resource at index.
func Store(resource string, value Expr, index ...Expr) Stmt {
	return StoreStmt{Resource: resource, Index: index, Value: value}
}

func If(cond Expr, then ...Stmt) Stmt { return IfStmt{Cond: cond, Then: then} }

func IfElse(cond Expr, then, els []Stmt) Stmt {
	return IfStmt{Cond: cond, Then: then, Else: els}
}

// For counts v from from up to, but not including, to.
func For(v string, from, to Expr, body ...Stmt) Stmt {
	return ForStmt{Var: v, From: from, To: to, Body: body}
}

func Break() Stmt    { return BreakStmt{} }
func Continue() Stmt { return ContinueStmt{} }
func Return() Stmt   { return ReturnStmt{} }
