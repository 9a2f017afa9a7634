package plan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/codegen"
	"github.com/gogpu/compute/kernel"
)

func TestBuildGroups(t *testing.T) {
	tests := []struct {
		name   string
		domain [3]int
		group  [3]uint32
		want   [3]uint32
	}{
		{"exact", [3]int{1024, 1, 1}, [3]uint32{256, 1, 1}, [3]uint32{4, 1, 1}},
		{"ragged", [3]int{1000, 1, 1}, [3]uint32{256, 1, 1}, [3]uint32{4, 1, 1}},
		{"one thread", [3]int{1, 1, 1}, [3]uint32{64, 1, 1}, [3]uint32{1, 1, 1}},
		{"2d", [3]int{100, 30, 1}, [3]uint32{8, 8, 1}, [3]uint32{13, 4, 1}},
		{"3d", [3]int{9, 8, 7}, [3]uint32{4, 4, 4}, [3]uint32{3, 2, 2}},
		{"max extent", [3]int{math.MaxUint32, 1, 1}, [3]uint32{256, 1, 1}, [3]uint32{16777216, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Build(tt.domain, tt.group, nil, codegen.BuildLayout(nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Groups)
			for a := 0; a < 3; a++ {
				assert.GreaterOrEqual(t, uint64(p.Groups[a])*uint64(tt.group[a]), uint64(tt.domain[a]))
			}
		})
	}
}

func TestBuildMixedCaptures(t *testing.T) {
	captures := []kernel.Capture{
		kernel.Scalar("a", kernel.Float, float32(2.5)),
		kernel.ReadWriteBuffer("b", kernel.Float, 7),
		kernel.Scalar("c", kernel.UInt, uint32(42)),
		kernel.Texture2D("d", kernel.ReadOnly, 9),
	}
	layout := codegen.BuildLayout(captures)

	p, err := Build([3]int{1000, 1, 1}, [3]uint32{256, 1, 1}, captures, layout)
	require.NoError(t, err)

	assert.Equal(t, []gpucore.BindGroupEntry{
		{Binding: 1, Buffer: 7},
		{Binding: 2, Texture: 9},
	}, p.Bindings)

	require.Len(t, p.Constants, int(layout.ConstantsSize))
	assert.Equal(t, [3]uint32{1000, 1, 1}, DecodeDomain(p.Constants))

	require.Len(t, layout.Scalars, 2)
	a := DecodeScalar(p.Constants, layout.Scalars[0])
	assert.Equal(t, float32(2.5), math.Float32frombits(a[0]))
	c := DecodeScalar(p.Constants, layout.Scalars[1])
	assert.Equal(t, uint32(42), c[0])
}

func TestBuildVectorScalar(t *testing.T) {
	captures := []kernel.Capture{
		kernel.Scalar("flag", kernel.Bool, true),
		kernel.Scalar("origin", kernel.Int3, [3]int32{-1, 2, -3}),
	}
	layout := codegen.BuildLayout(captures)
	p, err := Build([3]int{4, 4, 1}, [3]uint32{8, 8, 1}, captures, layout)
	require.NoError(t, err)

	flag := DecodeScalar(p.Constants, layout.Scalars[0])
	assert.Equal(t, uint32(1), flag[0])
	origin := DecodeScalar(p.Constants, layout.Scalars[1])
	assert.Equal(t, [3]int32{-1, 2, -3}, [3]int32{int32(origin[0]), int32(origin[1]), int32(origin[2])})
	assert.Empty(t, p.Bindings)
}

func TestBuildRejectsDomain(t *testing.T) {
	tests := []struct {
		name   string
		domain [3]int
		group  [3]uint32
		axis   int
	}{
		{"zero x", [3]int{0, 1, 1}, [3]uint32{64, 1, 1}, 0},
		{"negative y", [3]int{16, -1, 1}, [3]uint32{8, 8, 1}, 1},
		{"zero z", [3]int{4, 4, 0}, [3]uint32{4, 4, 4}, 2},
		{"too wide", [3]int{math.MaxUint32 + 1, 1, 1}, [3]uint32{64, 1, 1}, 0},
		{"empty group", [3]int{16, 1, 1}, [3]uint32{0, 1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.domain, tt.group, nil, codegen.BuildLayout(nil))
			var de *gpucore.InputDomainError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.axis, de.Axis)
			assert.Equal(t, tt.domain, de.Domain)
		})
	}
}

func TestBuildRejectsBadScalar(t *testing.T) {
	captures := []kernel.Capture{kernel.Scalar("a", kernel.Float, "two")}
	_, err := Build([3]int{1, 1, 1}, [3]uint32{1, 1, 1}, captures, codegen.BuildLayout(captures))
	var de *gpucore.DescriptorError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, gpucore.ReasonInvalidValue, de.Reason)
	assert.Equal(t, "captures[0]", de.Path)
}

func TestBuildRejectsMissingCapture(t *testing.T) {
	captures := []kernel.Capture{
		kernel.Scalar("a", kernel.Float, float32(1)),
		kernel.ReadOnlyBuffer("b", kernel.Float, 3),
	}
	layout := codegen.BuildLayout(captures)
	_, err := Build([3]int{1, 1, 1}, [3]uint32{1, 1, 1}, captures[:1], layout)
	var de *gpucore.DescriptorError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "captures[1]", de.Path)
}

func TestCheckLimits(t *testing.T) {
	l := gpucore.DefaultLimits()

	p, err := Build([3]int{65535 * 64, 1, 1}, [3]uint32{64, 1, 1}, nil, codegen.BuildLayout(nil))
	require.NoError(t, err)
	assert.NoError(t, p.CheckLimits(l))

	p, err = Build([3]int{65535*64 + 1, 1, 1}, [3]uint32{64, 1, 1}, nil, codegen.BuildLayout(nil))
	require.NoError(t, err)
	var de *gpucore.InputDomainError
	require.ErrorAs(t, p.CheckLimits(l), &de)
	assert.Equal(t, 0, de.Axis)

	// Zero limits are treated as unknown.
	assert.NoError(t, p.CheckLimits(gpucore.Limits{}))
}

func TestCheckBindings(t *testing.T) {
	layout := codegen.BuildLayout([]kernel.Capture{
		kernel.Scalar("a", kernel.Float, float32(1)),
		kernel.ReadOnlyBuffer("x", kernel.Float, 1),
		kernel.ReadWriteBuffer("y", kernel.Float, 2),
	})
	l := gpucore.DefaultLimits()
	assert.NoError(t, CheckBindings(layout, l))

	l.MaxBindingsPerGroup = 3
	assert.NoError(t, CheckBindings(layout, l))

	l.MaxBindingsPerGroup = 2
	var de *gpucore.DescriptorError
	require.ErrorAs(t, CheckBindings(layout, l), &de)
	assert.Equal(t, gpucore.ReasonInvalidShape, de.Reason)
	assert.Equal(t, "captures", de.Path)

	assert.NoError(t, CheckBindings(layout, gpucore.Limits{}))
}

func TestCheckGroupShape(t *testing.T) {
	l := gpucore.DefaultLimits()
	tests := []struct {
		name  string
		group [3]uint32
		path  string
	}{
		{"fits", [3]uint32{256, 1, 1}, ""},
		{"x too wide", [3]uint32{512, 1, 1}, "group.x"},
		{"z too deep", [3]uint32{1, 1, 128}, "group.z"},
		{"too many threads", [3]uint32{32, 32, 1}, "group"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckGroupShape(tt.group, l)
			if tt.path == "" {
				assert.NoError(t, err)
				return
			}
			var de *gpucore.DescriptorError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, gpucore.ReasonInvalidShape, de.Reason)
			assert.Equal(t, tt.path, de.Path)
		})
	}
}

func TestGroupShapeFor(t *testing.T) {
	l := gpucore.DefaultLimits()
	assert.Equal(t, [3]uint32{32, 1, 1}, GroupShapeFor([3]int{1000, 1, 1}, l))
	assert.Equal(t, [3]uint32{8, 8, 1}, GroupShapeFor([3]int{64, 64, 1}, l))
	assert.Equal(t, [3]uint32{4, 4, 4}, GroupShapeFor([3]int{16, 16, 16}, l))

	small := gpucore.Limits{
		MaxWorkgroupSizeX:       16,
		MaxWorkgroupSizeY:       4,
		MaxWorkgroupSizeZ:       4,
		MaxWorkgroupInvocations: 16,
		SubgroupSize:            64,
	}
	assert.Equal(t, [3]uint32{16, 1, 1}, GroupShapeFor([3]int{1000, 1, 1}, small))
	assert.Equal(t, [3]uint32{4, 4, 1}, GroupShapeFor([3]int{64, 64, 1}, small))
	assert.Equal(t, [3]uint32{1, 4, 4}, GroupShapeFor([3]int{16, 16, 16}, small))
	for _, d := range [][3]int{{1000, 1, 1}, {64, 64, 1}, {16, 16, 16}} {
		assert.NoError(t, CheckGroupShape(GroupShapeFor(d, small), small))
	}
}
