// Package codegen translates kernel descriptors into WGSL compute programs.
//
// Translation type-checks the body, assigns the binding layout and emits a
// single entry point. Output is a pure function of the descriptor's shape:
// the same shape always yields byte-identical source and the same layout.
package codegen

import (
	"fmt"
	"strings"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/kernel"
)

// EntryPoint is the name of the generated compute entry point.
const EntryPoint = "main"

// Program is a translated kernel.
type Program struct {
	Source        string
	Layout        Layout
	EntryPoint    string
	WorkgroupSize [3]uint32
}

// Compile translates d. Rejections are *gpucore.DescriptorError.
func Compile(d *kernel.Descriptor) (*Program, error) {
	if err := d.ValidateShape(); err != nil {
		return nil, err
	}

	captures := d.Captures()
	g := &generator{
		layout:   BuildLayout(captures),
		captures: make(map[string]kernel.Capture, len(captures)),
	}
	for _, c := range captures {
		g.captures[c.Name] = c
	}

	g.header(captures)
	group := d.GroupShape()
	g.linef("@compute @workgroup_size(%d, %d, %d)", group[0], group[1], group[2])
	g.linef("fn %s(@builtin(global_invocation_id) gid: vec3<u32>) {", EntryPoint)
	g.indent++
	g.line("if (gid.x >= constants.domain.x || gid.y >= constants.domain.y || gid.z >= constants.domain.z) {")
	g.indent++
	g.line("return;")
	g.indent--
	g.line("}")
	if err := g.block("body", d.Body()); err != nil {
		return nil, err
	}
	g.indent--
	g.line("}")

	return &Program{
		Source:        g.b.String(),
		Layout:        g.layout,
		EntryPoint:    EntryPoint,
		WorkgroupSize: group,
	}, nil
}

type local struct {
	typ     kernel.ElemType
	mutable bool
}

type generator struct {
	layout   Layout
	captures map[string]kernel.Capture

	scopes    []map[string]local
	loopDepth int
	loopCount int

	b      strings.Builder
	indent int
}

func (g *generator) line(s string) {
	for i := 0; i < g.indent; i++ {
		g.b.WriteString("    ")
	}
	g.b.WriteString(s)
	g.b.WriteByte('\n')
}

func (g *generator) linef(format string, args ...any) {
	g.line(fmt.Sprintf(format, args...))
}

func (g *generator) header(captures []kernel.Capture) {
	g.line("struct Constants {")
	g.indent++
	g.line("domain: vec3<u32>,")
	for _, s := range g.layout.Scalars {
		g.linef("%s%s: %s,", prefixScalar, s.Name, uniformType(s.Elem))
	}
	g.indent--
	g.line("}")
	g.line("")
	g.linef("@group(0) @binding(%d) var<uniform> constants: Constants;", ConstantsBinding)
	for _, r := range g.layout.Resources {
		c := captures[r.Capture]
		switch r.Type {
		case gpucore.BindingTypeReadOnlyStorageBuffer:
			g.linef("@group(0) @binding(%d) var<storage, read> %s%s: array<%s>;", r.Binding, prefixBuffer, r.Name, wgslType(r.Elem))
		case gpucore.BindingTypeStorageBuffer:
			g.linef("@group(0) @binding(%d) var<storage, read_write> %s%s: array<%s>;", r.Binding, prefixBuffer, r.Name, wgslType(r.Elem))
		case gpucore.BindingTypeSampledTexture:
			g.linef("@group(0) @binding(%d) var %s%s: texture_%s<f32>;", r.Binding, prefixTexture, r.Name, c.Dim)
		case gpucore.BindingTypeStorageTexture:
			g.linef("@group(0) @binding(%d) var %s%s: texture_storage_%s<rgba32float, read_write>;", r.Binding, prefixTexture, r.Name, c.Dim)
		}
	}
	g.line("")
}

func (g *generator) push() { g.scopes = append(g.scopes, make(map[string]local)) }
func (g *generator) pop()  { g.scopes = g.scopes[:len(g.scopes)-1] }

func (g *generator) lookup(name string) (local, bool) {
	for i := len(g.scopes) - 1; i >= 0; i-- {
		if l, ok := g.scopes[i][name]; ok {
			return l, true
		}
	}
	return local{}, false
}

// declare adds a local to the innermost scope. Locals may shadow outer
// locals but never captures or names in the same scope.
func (g *generator) declare(path, name string, l local) error {
	if !kernel.ValidName(name) {
		return descErr(gpucore.ReasonInvalidName, path, "%q is not a valid name", name)
	}
	if _, ok := g.captures[name]; ok {
		return descErr(gpucore.ReasonInvalidName, path, "%q shadows a capture", name)
	}
	scope := g.scopes[len(g.scopes)-1]
	if _, ok := scope[name]; ok {
		return descErr(gpucore.ReasonInvalidName, path, "%q declared twice in the same scope", name)
	}
	scope[name] = l
	return nil
}

func descErr(reason gpucore.DescriptorReason, path, format string, args ...any) error {
	return &gpucore.DescriptorError{Reason: reason, Path: path, Detail: fmt.Sprintf(format, args...)}
}
