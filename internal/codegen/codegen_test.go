package codegen

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/naga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/kernel"
)

func saxpy(a float32) *kernel.Descriptor {
	return kernel.New("saxpy", [3]uint32{64, 1, 1},
		[]kernel.Capture{
			kernel.Scalar("a", kernel.Float, a),
			kernel.ReadOnlyBuffer("x", kernel.Float, 1),
			kernel.ReadWriteBuffer("y", kernel.Float, 2),
		},
		kernel.Let("i", kernel.ThreadID(kernel.X)),
		kernel.Store("y",
			kernel.Add(kernel.Mul(kernel.Ref("a"), kernel.Load("x", kernel.Ref("i"))), kernel.Load("y", kernel.Ref("i"))),
			kernel.Ref("i")),
	)
}

func TestCompileDeterministic(t *testing.T) {
	p1, err := Compile(saxpy(2))
	require.NoError(t, err)
	p2, err := Compile(saxpy(7))
	require.NoError(t, err)

	assert.Equal(t, p1.Source, p2.Source)
	assert.Equal(t, p1.Layout, p2.Layout)
	assert.Equal(t, EntryPoint, p1.EntryPoint)
	assert.Equal(t, [3]uint32{64, 1, 1}, p1.WorkgroupSize)
}

func TestCompileSource(t *testing.T) {
	p, err := Compile(saxpy(2))
	require.NoError(t, err)

	for _, want := range []string{
		"domain: vec3<u32>,",
		"c_a: f32,",
		"@group(0) @binding(0) var<uniform> constants: Constants;",
		"@group(0) @binding(1) var<storage, read> b_x: array<f32>;",
		"@group(0) @binding(2) var<storage, read_write> b_y: array<f32>;",
		"@compute @workgroup_size(64, 1, 1)",
		"if (gid.x >= constants.domain.x || gid.y >= constants.domain.y || gid.z >= constants.domain.z) {",
		"let v_i = i32(gid.x);",
		"b_y[v_i] = ((constants.c_a * b_x[v_i]) + b_y[v_i]);",
	} {
		assert.Contains(t, p.Source, want)
	}
}

func TestBuildLayoutMixedCaptures(t *testing.T) {
	captures := []kernel.Capture{
		kernel.Scalar("scalarA", kernel.Float, float32(1.5)),
		kernel.ReadOnlyBuffer("bufferB", kernel.Float, 7),
		kernel.Scalar("scalarC", kernel.UInt, uint32(9)),
		kernel.Texture2D("textureD", kernel.ReadOnly, 3),
	}
	l := BuildLayout(captures)

	require.Len(t, l.Scalars, 2)
	assert.Equal(t, ScalarSlot{Capture: 0, Name: "scalarA", Elem: kernel.Float, Offset: 12}, l.Scalars[0])
	assert.Equal(t, ScalarSlot{Capture: 2, Name: "scalarC", Elem: kernel.UInt, Offset: 16}, l.Scalars[1])
	assert.Equal(t, uint32(32), l.ConstantsSize)

	require.Len(t, l.Resources, 2)
	assert.Equal(t, "bufferB", l.Resources[0].Name)
	assert.Equal(t, uint32(1), l.Resources[0].Binding)
	assert.Equal(t, gpucore.BindingTypeReadOnlyStorageBuffer, l.Resources[0].Type)
	assert.Equal(t, "textureD", l.Resources[1].Name)
	assert.Equal(t, uint32(2), l.Resources[1].Binding)
	assert.Equal(t, gpucore.BindingTypeSampledTexture, l.Resources[1].Type)

	entries := l.BindGroupLayoutEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, gpucore.BindingTypeUniformBuffer, entries[0].Type)
	assert.Equal(t, uint64(32), entries[0].MinBindingSize)
	assert.Equal(t, gpucore.TextureDimension2D, entries[2].Dimension)
	assert.Equal(t, gpucore.TextureFormatRGBA32Float, entries[2].Format)
}

func TestBuildLayoutVectorAlignment(t *testing.T) {
	l := BuildLayout([]kernel.Capture{
		kernel.Scalar("f", kernel.Float, float32(1)),
		kernel.Scalar("v2", kernel.Float2, [2]float32{1, 2}),
		kernel.Scalar("v3", kernel.Float3, [3]float32{1, 2, 3}),
		kernel.Scalar("b", kernel.Bool, true),
		kernel.Scalar("v4", kernel.Int4, [4]int32{1, 2, 3, 4}),
	})

	offsets := make([]uint32, len(l.Scalars))
	for i, s := range l.Scalars {
		offsets[i] = s.Offset
	}
	assert.Equal(t, []uint32{12, 16, 32, 44, 48}, offsets)
	assert.Equal(t, uint32(64), l.ConstantsSize)
	for _, s := range l.Scalars {
		assert.LessOrEqual(t, s.Offset%16+uniformSize(s.Elem), uint32(16), "%s straddles a 16-byte boundary", s.Name)
	}
}

func TestCompileTextures(t *testing.T) {
	d := kernel.New("blur", [3]uint32{8, 8, 1},
		[]kernel.Capture{
			kernel.Texture2D("src", kernel.ReadOnly, 1),
			kernel.Texture2D("dst", kernel.ReadWrite, 2),
		},
		kernel.Let("x", kernel.ThreadID(kernel.X)),
		kernel.Let("y", kernel.ThreadID(kernel.Y)),
		kernel.Store("dst", kernel.Load("src", kernel.Ref("x"), kernel.Ref("y")), kernel.Ref("x"), kernel.Ref("y")),
	)
	p, err := Compile(d)
	require.NoError(t, err)

	assert.Contains(t, p.Source, "var t_src: texture_2d<f32>;")
	assert.Contains(t, p.Source, "var t_dst: texture_storage_2d<rgba32float, read_write>;")
	assert.Contains(t, p.Source, "textureStore(t_dst, vec2<i32>(v_x, v_y), textureLoad(t_src, vec2<i32>(v_x, v_y), 0));")
}

func TestCompileControlFlow(t *testing.T) {
	d := kernel.New("sum", [3]uint32{64, 1, 1},
		[]kernel.Capture{
			kernel.Scalar("n", kernel.Int, int32(8)),
			kernel.Scalar("skip", kernel.Bool, false),
			kernel.ReadOnlyBuffer("in", kernel.Float, 1),
			kernel.ReadWriteBuffer("out", kernel.Float, 2),
		},
		kernel.If(kernel.Ref("skip"), kernel.Return()),
		kernel.Var("acc", kernel.Float, nil),
		kernel.For("k", kernel.I(0), kernel.Ref("n"),
			kernel.If(kernel.Eq(kernel.Rem(kernel.Ref("k"), kernel.I(2)), kernel.I(1)), kernel.Continue()),
			kernel.Assign("acc", kernel.Add(kernel.Ref("acc"), kernel.Load("in", kernel.Ref("k")))),
		),
		kernel.Store("out", kernel.Call(kernel.FnSqrt, kernel.Ref("acc")), kernel.ThreadID(kernel.X)),
	)
	p, err := Compile(d)
	require.NoError(t, err)

	assert.Contains(t, p.Source, "if ((constants.c_skip != 0u)) {")
	assert.Contains(t, p.Source, "var v_acc: f32;")
	assert.Contains(t, p.Source, "let end0 = constants.c_n;")
	assert.Contains(t, p.Source, "for (var v_k: i32 = 0i; v_k < end0; v_k = v_k + 1i) {")
	assert.Contains(t, p.Source, "continue;")
	assert.Contains(t, p.Source, "b_out[i32(gid.x)] = sqrt(v_acc);")
}

func TestCompileExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr kernel.Expr
		want string
	}{
		{"negative int", kernel.I(-5), "(-5i)"},
		{"min int", kernel.I(-2147483648), "i32(-2147483647 - 1)"},
		{"uint", kernel.U(7), "7u"},
		{"float", kernel.F(0.5), "0.5f"},
		{"whole float", kernel.F(3), "3.0f"},
		{"tiny float", kernel.F(1e-10), "1.0e-10f"},
		{"shift by int", kernel.Shl(kernel.U(1), kernel.I(3)), "(1u << u32(3i))"},
		{"construct", kernel.Vec(kernel.Float2, kernel.F(1), kernel.F(2)), "vec2<f32>(1.0f, 2.0f)"},
		{"splat", kernel.Vec(kernel.Float3, kernel.F(1)), "vec3<f32>(1.0f)"},
		{"swizzle", kernel.Swizzle(kernel.Vec(kernel.Float4, kernel.F(0)), "zy"), "(vec4<f32>(0.0f)).zy"},
		{"convert", kernel.Convert(kernel.Float, kernel.ThreadID(kernel.X)), "f32(i32(gid.x))"},
		{"select", kernel.Select(kernel.B(true), kernel.F(1), kernel.F(2)), "select(2.0f, 1.0f, true)"},
		{"dot", kernel.Call(kernel.FnDot, kernel.Vec(kernel.Float2, kernel.F(1)), kernel.Vec(kernel.Float2, kernel.F(2))), "dot(vec2<f32>(1.0f), vec2<f32>(2.0f))"},
		{"clamp", kernel.Call(kernel.FnClamp, kernel.I(5), kernel.I(0), kernel.I(3)), "clamp(5i, 0i, 3i)"},
		{"dispatch size", kernel.DispatchSize(kernel.Y), "i32(constants.domain.y)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &generator{captures: map[string]kernel.Capture{}}
			g.push()
			code, _, err := g.expr("e", tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestCompileRejects(t *testing.T) {
	buf := kernel.ReadOnlyBuffer("in", kernel.Float, 1)
	out := kernel.ReadWriteBuffer("out", kernel.Float, 2)
	scalar := kernel.Scalar("s", kernel.Float, float32(1))
	tex := kernel.Texture2D("tex", kernel.ReadOnly, 3)

	tests := []struct {
		name     string
		captures []kernel.Capture
		body     []kernel.Stmt
		reason   gpucore.DescriptorReason
		path     string
	}{
		{
			name:   "undefined name",
			body:   []kernel.Stmt{kernel.Let("a", kernel.Ref("missing"))},
			reason: gpucore.ReasonUndefinedName,
			path:   "body[0].value",
		},
		{
			name:     "type mismatch",
			captures: []kernel.Capture{scalar},
			body:     []kernel.Stmt{kernel.Let("a", kernel.Add(kernel.Ref("s"), kernel.I(1)))},
			reason:   gpucore.ReasonTypeMismatch,
			path:     "body[0].value",
		},
		{
			name:     "store to read-only buffer",
			captures: []kernel.Capture{buf},
			body:     []kernel.Stmt{kernel.Store("in", kernel.F(1), kernel.I(0))},
			reason:   gpucore.ReasonUnsupportedOperation,
			path:     "body[0]",
		},
		{
			name:     "store to read-only texture",
			captures: []kernel.Capture{tex},
			body:     []kernel.Stmt{kernel.Store("tex", kernel.Vec(kernel.Float4, kernel.F(0)), kernel.I(0), kernel.I(0))},
			reason:   gpucore.ReasonUnsupportedOperation,
			path:     "body[0]",
		},
		{
			name:     "wrong element type stored",
			captures: []kernel.Capture{out},
			body:     []kernel.Stmt{kernel.Store("out", kernel.I(1), kernel.I(0))},
			reason:   gpucore.ReasonTypeMismatch,
			path:     "body[0].value",
		},
		{
			name:     "buffer used as value",
			captures: []kernel.Capture{buf},
			body:     []kernel.Stmt{kernel.Let("a", kernel.Ref("in"))},
			reason:   gpucore.ReasonUnsupportedOperation,
			path:     "body[0].value",
		},
		{
			name:     "texture coordinate count",
			captures: []kernel.Capture{tex},
			body:     []kernel.Stmt{kernel.Let("a", kernel.Load("tex", kernel.I(0)))},
			reason:   gpucore.ReasonInvalidValue,
			path:     "body[0].value.index",
		},
		{
			name:   "assign to let",
			body:   []kernel.Stmt{kernel.Let("a", kernel.I(1)), kernel.Assign("a", kernel.I(2))},
			reason: gpucore.ReasonUnsupportedOperation,
			path:   "body[1]",
		},
		{
			name:     "local shadows capture",
			captures: []kernel.Capture{scalar},
			body:     []kernel.Stmt{kernel.Let("s", kernel.I(1))},
			reason:   gpucore.ReasonInvalidName,
			path:     "body[0]",
		},
		{
			name:   "break outside loop",
			body:   []kernel.Stmt{kernel.Break()},
			reason: gpucore.ReasonUnsupportedOperation,
			path:   "body[0]",
		},
		{
			name:   "non-bool condition",
			body:   []kernel.Stmt{kernel.If(kernel.I(1), kernel.Return())},
			reason: gpucore.ReasonTypeMismatch,
			path:   "body[0].cond",
		},
		{
			name:   "float loop bound",
			body:   []kernel.Stmt{kernel.For("k", kernel.I(0), kernel.F(3))},
			reason: gpucore.ReasonTypeMismatch,
			path:   "body[0].to",
		},
		{
			name:   "intrinsic arity",
			body:   []kernel.Stmt{kernel.Let("a", kernel.Call(kernel.FnPow, kernel.F(1)))},
			reason: gpucore.ReasonInvalidValue,
			path:   "body[0].value",
		},
		{
			name:   "sqrt of int",
			body:   []kernel.Stmt{kernel.Let("a", kernel.Call(kernel.FnSqrt, kernel.I(4)))},
			reason: gpucore.ReasonTypeMismatch,
			path:   "body[0].value",
		},
		{
			name:   "swizzle out of range",
			body:   []kernel.Stmt{kernel.Let("a", kernel.Swizzle(kernel.Vec(kernel.Float2, kernel.F(1)), "xz"))},
			reason: gpucore.ReasonInvalidValue,
			path:   "body[0].value",
		},
		{
			name:   "construct lane count",
			body:   []kernel.Stmt{kernel.Let("a", kernel.Vec(kernel.Float3, kernel.F(1), kernel.F(2)))},
			reason: gpucore.ReasonTypeMismatch,
			path:   "body[0].value",
		},
		{
			name:   "nil statement",
			body:   []kernel.Stmt{nil},
			reason: gpucore.ReasonUnsupportedOperation,
			path:   "body[0]",
		},
		{
			name:   "NaN literal",
			body:   []kernel.Stmt{kernel.Let("a", kernel.LiteralExpr{Type: kernel.Float, Bits: 0x7fc00000})},
			reason: gpucore.ReasonInvalidValue,
			path:   "body[0].value",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(kernel.New(tt.name, [3]uint32{1, 1, 1}, tt.captures, tt.body...))
			var de *gpucore.DescriptorError
			require.True(t, errors.As(err, &de), "got %v", err)
			assert.Equal(t, tt.reason, de.Reason)
			assert.Equal(t, tt.path, de.Path)
		})
	}
}

func TestCompileScopes(t *testing.T) {
	d := kernel.New("scopes", [3]uint32{1, 1, 1}, nil,
		kernel.IfElse(kernel.B(true),
			[]kernel.Stmt{kernel.Let("a", kernel.I(1))},
			[]kernel.Stmt{kernel.Let("a", kernel.F(1))},
		),
		kernel.Let("a", kernel.U(2)),
	)
	_, err := Compile(d)
	require.NoError(t, err)

	d = kernel.New("leak", [3]uint32{1, 1, 1}, nil,
		kernel.If(kernel.B(true), kernel.Let("a", kernel.I(1))),
		kernel.Let("b", kernel.Ref("a")),
	)
	_, err = Compile(d)
	var de *gpucore.DescriptorError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, gpucore.ReasonUndefinedName, de.Reason)
}

func TestCompileInvalidGroupShape(t *testing.T) {
	_, err := Compile(kernel.New("zero", [3]uint32{0, 1, 1}, nil))
	var de *gpucore.DescriptorError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, gpucore.ReasonInvalidShape, de.Reason)
}

func TestGeneratedSourceValidates(t *testing.T) {
	d := kernel.New("poly", [3]uint32{64, 1, 1},
		[]kernel.Capture{
			kernel.Scalar("scale", kernel.Float, float32(0.5)),
			kernel.Scalar("bias", kernel.Float2, [2]float32{1, 2}),
			kernel.Scalar("mask", kernel.UInt, uint32(0xff)),
			kernel.ReadOnlyBuffer("in", kernel.Float, 1),
			kernel.ReadWriteBuffer("out", kernel.Float, 2),
			kernel.ReadWriteBuffer("bits", kernel.UInt, 3),
		},
		kernel.Let("i", kernel.ThreadID(kernel.X)),
		kernel.Var("acc", kernel.Float, kernel.F(0)),
		kernel.For("k", kernel.I(0), kernel.I(4),
			kernel.Assign("acc", kernel.Call(kernel.FnFma, kernel.Ref("acc"), kernel.Ref("scale"), kernel.Load("in", kernel.Ref("i")))),
		),
		kernel.Let("v", kernel.Add(kernel.Vec(kernel.Float2, kernel.Ref("acc")), kernel.Ref("bias"))),
		kernel.Store("out", kernel.Call(kernel.FnLength, kernel.Ref("v")), kernel.Ref("i")),
		kernel.Store("bits", kernel.BitAnd(kernel.Convert(kernel.UInt, kernel.Ref("i")), kernel.Ref("mask")), kernel.Ref("i")),
	)
	p, err := Compile(d)
	require.NoError(t, err)

	ast, err := naga.Parse(p.Source)
	require.NoError(t, err, p.Source)
	module, err := naga.LowerWithSource(ast, p.Source)
	require.NoError(t, err, p.Source)
	verrs, err := naga.Validate(module)
	require.NoError(t, err, p.Source)
	assert.Empty(t, verrs)
	assert.True(t, strings.HasPrefix(p.Source, "struct Constants {"))
}
