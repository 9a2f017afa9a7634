package kernel

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// ShapeKey is the structural identity of a descriptor. Descriptors that
// differ only in captured values or bound resources share a key.
type ShapeKey [sha256.Size]byte

// String returns a short hexadecimal form for logs.
func (k ShapeKey) String() string { return hex.EncodeToString(k[:6]) }

// Hex returns the full hexadecimal form.
func (k ShapeKey) Hex() string { return hex.EncodeToString(k[:]) }

// Uint64 folds the key into a shard hash.
func (k ShapeKey) Uint64() uint64 { return binary.LittleEndian.Uint64(k[:8]) }

// Node tags for the canonical encoding. Values are part of the key format.
const (
	tagGroup byte = iota + 1
	tagCapture
	tagBody
	tagThreadID
	tagDomain
	tagLiteral
	tagRef
	tagBinary
	tagUnary
	tagCall
	tagLoad
	tagConstruct
	tagSwizzle
	tagConvert
	tagSelect
	tagLet
	tagVar
	tagAssign
	tagStore
	tagIf
	tagFor
	tagBreak
	tagContinue
	tagReturn
	tagNil
	tagUnknown
)

type keyEncoder struct {
	h   hash.Hash
	buf [4]byte
}

func computeShapeKey(group [3]uint32, captures []Capture, body []Stmt) ShapeKey {
	e := keyEncoder{h: sha256.New()}
	e.tag(tagGroup)
	for _, g := range group {
		e.u32(g)
	}
	e.u32(uint32(len(captures)))
	for _, c := range captures {
		e.tag(tagCapture)
		e.str(c.Name)
		e.tag(byte(c.Kind))
		e.tag(byte(c.Elem))
		e.tag(byte(c.Dim))
		e.tag(byte(c.Access))
	}
	e.tag(tagBody)
	e.stmts(body)

	var k ShapeKey
	e.h.Sum(k[:0])
	return k
}

func (e *keyEncoder) tag(b byte) {
	e.buf[0] = b
	_, _ = e.h.Write(e.buf[:1]) // hash.Hash.Write never returns an error
}

func (e *keyEncoder) u32(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[:], v)
	_, _ = e.h.Write(e.buf[:])
}

func (e *keyEncoder) str(s string) {
	e.u32(uint32(len(s)))
	_, _ = e.h.Write([]byte(s))
}

func (e *keyEncoder) exprs(list []Expr) {
	e.u32(uint32(len(list)))
	for _, x := range list {
		e.expr(x)
	}
}

func (e *keyEncoder) expr(x Expr) {
	switch n := x.(type) {
	case nil:
		e.tag(tagNil)
	case ThreadIDExpr:
		e.tag(tagThreadID)
		e.tag(byte(n.Axis))
	case DomainExpr:
		e.tag(tagDomain)
		e.tag(byte(n.Axis))
	case LiteralExpr:
		e.tag(tagLiteral)
		e.tag(byte(n.Type))
		e.u32(n.Bits)
	case RefExpr:
		e.tag(tagRef)
		e.str(n.Name)
	case BinaryExpr:
		e.tag(tagBinary)
		e.tag(byte(n.Op))
		e.expr(n.Left)
		e.expr(n.Right)
	case UnaryExpr:
		e.tag(tagUnary)
		e.tag(byte(n.Op))
		e.expr(n.Operand)
	case CallExpr:
		e.tag(tagCall)
		e.tag(byte(n.Func))
		e.exprs(n.Args)
	case LoadExpr:
		e.tag(tagLoad)
		e.str(n.Resource)
		e.exprs(n.Index)
	case ConstructExpr:
		e.tag(tagConstruct)
		e.tag(byte(n.Type))
		e.exprs(n.Args)
	case SwizzleExpr:
		e.tag(tagSwizzle)
		e.expr(n.Vector)
		e.str(n.Lanes)
	case ConvertExpr:
		e.tag(tagConvert)
		e.tag(byte(n.Type))
		e.expr(n.Value)
	case SelectExpr:
		e.tag(tagSelect)
		e.expr(n.Cond)
		e.expr(n.Then)
		e.expr(n.Else)
	default:
		e.tag(tagUnknown)
	}
}

func (e *keyEncoder) stmts(list []Stmt) {
	e.u32(uint32(len(list)))
	for _, s := range list {
		e.stmt(s)
	}
}

func (e *keyEncoder) stmt(s Stmt) {
	switch n := s.(type) {
	case nil:
		e.tag(tagNil)
	case LetStmt:
		e.tag(tagLet)
		e.str(n.Name)
		e.expr(n.Value)
	case VarStmt:
		e.tag(tagVar)
		e.str(n.Name)
		e.tag(byte(n.Type))
		e.expr(n.Value)
	case AssignStmt:
		e.tag(tagAssign)
		e.str(n.Name)
		e.expr(n.Value)
	case StoreStmt:
		e.tag(tagStore)
		e.str(n.Resource)
		e.exprs(n.Index)
		e.expr(n.Value)
	case IfStmt:
		e.tag(tagIf)
		e.expr(n.Cond)
		e.stmts(n.Then)
		e.stmts(n.Else)
	case ForStmt:
		e.tag(tagFor)
		e.str(n.Var)
		e.expr(n.From)
		e.expr(n.To)
		e.stmts(n.Body)
	case BreakStmt:
		e.tag(tagBreak)
	case ContinueStmt:
		e.tag(tagContinue)
	case ReturnStmt:
		e.tag(tagReturn)
	default:
		e.tag(tagUnknown)
	}
}
