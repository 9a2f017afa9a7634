package codegen

import (
	"fmt"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/kernel"
)

func (g *generator) block(path string, stmts []kernel.Stmt) error {
	g.push()
	defer g.pop()
	for i, s := range stmts {
		if err := g.stmt(fmt.Sprintf("%s[%d]", path, i), s); err != nil {
			return err
		}
	}
	return nil
}

func (g *generator) stmt(path string, s kernel.Stmt) error {
	switch n := s.(type) {
	case kernel.LetStmt:
		code, t, err := g.expr(path+".value", n.Value)
		if err != nil {
			return err
		}
		if err := g.declare(path, n.Name, local{typ: t}); err != nil {
			return err
		}
		g.linef("let %s%s = %s;", prefixLocal, n.Name, code)

	case kernel.VarStmt:
		if !n.Type.Supported() {
			return descErr(gpucore.ReasonUnsupportedType, path, "variable of type %s", n.Type)
		}
		if n.Value == nil {
			if err := g.declare(path, n.Name, local{typ: n.Type, mutable: true}); err != nil {
				return err
			}
			g.linef("var %s%s: %s;", prefixLocal, n.Name, wgslType(n.Type))
			return nil
		}
		code, t, err := g.expr(path+".value", n.Value)
		if err != nil {
			return err
		}
		if t != n.Type {
			return descErr(gpucore.ReasonTypeMismatch, path+".value", "initializer is %s, variable is %s", t, n.Type)
		}
		if err := g.declare(path, n.Name, local{typ: n.Type, mutable: true}); err != nil {
			return err
		}
		g.linef("var %s%s: %s = %s;", prefixLocal, n.Name, wgslType(n.Type), code)

	case kernel.AssignStmt:
		l, ok := g.lookup(n.Name)
		if !ok {
			if _, isCapture := g.captures[n.Name]; isCapture {
				return descErr(gpucore.ReasonUnsupportedOperation, path, "captured %q is read-only; use Store for resources", n.Name)
			}
			return descErr(gpucore.ReasonUndefinedName, path, "%q is not declared", n.Name)
		}
		if !l.mutable {
			return descErr(gpucore.ReasonUnsupportedOperation, path, "%q is immutable", n.Name)
		}
		code, t, err := g.expr(path+".value", n.Value)
		if err != nil {
			return err
		}
		if t != l.typ {
			return descErr(gpucore.ReasonTypeMismatch, path+".value", "assigning %s to %s %q", t, l.typ, n.Name)
		}
		g.linef("%s%s = %s;", prefixLocal, n.Name, code)

	case kernel.StoreStmt:
		return g.store(path, n)

	case kernel.IfStmt:
		cond, t, err := g.expr(path+".cond", n.Cond)
		if err != nil {
			return err
		}
		if t != kernel.Bool {
			return descErr(gpucore.ReasonTypeMismatch, path+".cond", "condition is %s, want bool", t)
		}
		g.linef("if (%s) {", cond)
		g.indent++
		if err := g.block(path+".then", n.Then); err != nil {
			return err
		}
		g.indent--
		if len(n.Else) > 0 {
			g.line("} else {")
			g.indent++
			if err := g.block(path+".else", n.Else); err != nil {
				return err
			}
			g.indent--
		}
		g.line("}")

	case kernel.ForStmt:
		return g.loop(path, n)

	case kernel.BreakStmt:
		if g.loopDepth == 0 {
			return descErr(gpucore.ReasonUnsupportedOperation, path, "break outside a loop")
		}
		g.line("break;")

	case kernel.ContinueStmt:
		if g.loopDepth == 0 {
			return descErr(gpucore.ReasonUnsupportedOperation, path, "continue outside a loop")
		}
		g.line("continue;")

	case kernel.ReturnStmt:
		g.line("return;")

	case nil:
		return descErr(gpucore.ReasonUnsupportedOperation, path, "nil statement")

	default:
		return descErr(gpucore.ReasonUnsupportedOperation, path, "statement %T", s)
	}
	return nil
}

// loop emits a counted loop. The upper bound is hoisted so it is evaluated
// once.
func (g *generator) loop(path string, n kernel.ForStmt) error {
	from, ft, err := g.expr(path+".from", n.From)
	if err != nil {
		return err
	}
	to, tt, err := g.expr(path+".to", n.To)
	if err != nil {
		return err
	}
	if ft != kernel.Int {
		return descErr(gpucore.ReasonTypeMismatch, path+".from", "loop bound is %s, want int", ft)
	}
	if tt != kernel.Int {
		return descErr(gpucore.ReasonTypeMismatch, path+".to", "loop bound is %s, want int", tt)
	}

	end := fmt.Sprintf("end%d", g.loopCount)
	g.loopCount++
	counter := prefixLocal + n.Var

	g.line("{")
	g.indent++
	g.linef("let %s = %s;", end, to)

	g.push()
	defer g.pop()
	if err := g.declare(path+".var", n.Var, local{typ: kernel.Int}); err != nil {
		return err
	}
	g.linef("for (var %s: i32 = %s; %s < %s; %s = %s + 1i) {", counter, from, counter, end, counter, counter)
	g.indent++
	g.loopDepth++
	if err := g.block(path+".body", n.Body); err != nil {
		return err
	}
	g.loopDepth--
	g.indent--
	g.line("}")
	g.indent--
	g.line("}")
	return nil
}

func (g *generator) store(path string, n kernel.StoreStmt) error {
	c, ok := g.captures[n.Resource]
	if !ok {
		return descErr(gpucore.ReasonUndefinedName, path, "resource %q is not captured", n.Resource)
	}
	value, vt, err := g.expr(path+".value", n.Value)
	if err != nil {
		return err
	}

	switch c.Kind {
	case kernel.KindReadWriteBuffer:
		idx, err := g.bufferIndex(path, n.Index)
		if err != nil {
			return err
		}
		if vt != c.Elem {
			return descErr(gpucore.ReasonTypeMismatch, path+".value", "storing %s into %s buffer %q", vt, c.Elem, c.Name)
		}
		g.linef("%s%s[%s] = %s;", prefixBuffer, c.Name, idx, value)
	case kernel.KindTexture:
		if c.Access != kernel.ReadWrite {
			return descErr(gpucore.ReasonUnsupportedOperation, path, "texture %q is read-only", c.Name)
		}
		coords, err := g.texelCoords(path, c, n.Index)
		if err != nil {
			return err
		}
		if vt != kernel.Float4 {
			return descErr(gpucore.ReasonTypeMismatch, path+".value", "storing %s into texture %q, want float4", vt, c.Name)
		}
		g.linef("textureStore(%s%s, %s, %s);", prefixTexture, c.Name, coords, value)
	case kernel.KindReadOnlyBuffer:
		return descErr(gpucore.ReasonUnsupportedOperation, path, "buffer %q is read-only", c.Name)
	default:
		return descErr(gpucore.ReasonUnsupportedOperation, path, "%q is a %s, not a resource", c.Name, c.Kind)
	}
	return nil
}
