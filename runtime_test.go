package compute

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/codegen"
	"github.com/gogpu/compute/internal/gputest"
	"github.com/gogpu/compute/internal/plan"
	"github.com/gogpu/compute/kernel"
)

// countingCompiler stands in for the device compiler and counts calls.
type countingCompiler struct {
	calls atomic.Int32
}

func (c *countingCompiler) Compile(source string, targets []gpucore.ShaderTarget) (map[gpucore.ShaderTarget]gpucore.Bytecode, error) {
	c.calls.Add(1)
	out := make(map[gpucore.ShaderTarget]gpucore.Bytecode, len(targets))
	for _, t := range targets {
		out[t] = gpucore.Bytecode{Target: t, Words: []uint32{0x07230203, uint32(len(source))}}
	}
	return out, nil
}

func newRuntime(opts ...Option) (*Runtime, *countingCompiler) {
	cc := &countingCompiler{}
	return New(append([]Option{WithCompiler(cc)}, opts...)...), cc
}

func saxpy(a float32, x, y gpucore.BufferID) *kernel.Descriptor {
	return kernel.New("saxpy", [3]uint32{64, 1, 1},
		[]kernel.Capture{
			kernel.Scalar("a", kernel.Float, a),
			kernel.ReadOnlyBuffer("x", kernel.Float, x),
			kernel.ReadWriteBuffer("y", kernel.Float, y),
		},
		kernel.Let("i", kernel.ThreadID(kernel.X)),
		kernel.Store("y",
			kernel.Add(
				kernel.Mul(kernel.Ref("a"), kernel.Load("x", kernel.Ref("i"))),
				kernel.Load("y", kernel.Ref("i"))),
			kernel.Ref("i")),
	)
}

// saxpyOnHost runs saxpy dispatches on the host, reading the captures
// back from the bind group and constant block the runtime produced.
func saxpyOnHost(t *testing.T) gputest.Executor {
	slot := codegen.BuildLayout(saxpy(0, 0, 0).Captures()).Scalars[0]
	return func(dev *gputest.Device, d gputest.Dispatch) {
		n := int(plan.DecodeDomain(d.Constants)[0])
		a := math.Float32frombits(plan.DecodeScalar(d.Constants, slot)[0])
		if !assert.Len(t, d.Bindings, 3) {
			return
		}
		x, err := dev.ReadFloats(d.Bindings[1].Buffer, n)
		assert.NoError(t, err)
		y, err := dev.ReadFloats(d.Bindings[2].Buffer, n)
		assert.NoError(t, err)
		for i := range y {
			y[i] += a * x[i]
		}
		assert.NoError(t, dev.WriteFloats(d.Bindings[2].Buffer, y))
	}
}

func newBuffer(t *testing.T, dev *gputest.Device, values []float32) gpucore.BufferID {
	t.Helper()
	id, err := dev.CreateBuffer(&gpucore.BufferDesc{
		Size:  uint64(4 * len(values)),
		Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst | gpucore.BufferUsageCopySrc,
	})
	require.NoError(t, err)
	require.NoError(t, dev.WriteFloats(id, values))
	return id
}

func TestDispatchSaxpy(t *testing.T) {
	rt, cc := newRuntime()
	dev := gputest.NewDevice("a", gputest.WithExecutor(saxpyOnHost(t)))

	const n = 1000
	xs := make([]float32, n)
	ys := make([]float32, n)
	for i := range xs {
		xs[i] = float32(i)
		ys[i] = 1
	}
	x := newBuffer(t, dev, xs)
	y := newBuffer(t, dev, ys)

	require.NoError(t, rt.Dispatch(saxpy(2, x, y), [3]int{n, 1, 1}, dev))

	got, err := dev.ReadFloats(y, n)
	require.NoError(t, err)
	for i, v := range got {
		require.Equal(t, 2*float32(i)+1, v, "y[%d]", i)
	}

	ds := dev.Dispatches()
	require.Len(t, ds, 1)
	// 1000 threads in groups of 64.
	assert.Equal(t, [3]uint32{16, 1, 1}, ds[0].Groups)
	assert.Equal(t, gpucore.BindGroupEntry{Binding: 1, Buffer: x}, ds[0].Bindings[1])
	assert.Equal(t, gpucore.BindGroupEntry{Binding: 2, Buffer: y}, ds[0].Bindings[2])

	assert.Equal(t, int32(1), cc.calls.Load())
	assert.Equal(t, 1, rt.ShapeCount())
	assert.Equal(t, 1, rt.PipelineCount(dev))

	s := rt.Stats()
	assert.Equal(t, uint64(1), s.Compiles)
	assert.Equal(t, uint64(1), s.PipelinesCreated)
	assert.Equal(t, uint64(1), s.Submitted)
	assert.Equal(t, uint64(1), s.Completed)
	assert.Zero(t, s.Failed)

	// Only the caller's buffers remain.
	assert.Equal(t, 2, dev.Live(gputest.KindBuffer))
	assert.Zero(t, dev.Live(gputest.KindBindGroup))
	assert.Zero(t, dev.Live(gputest.KindCommandContext))
}

func TestDispatchReusesShape(t *testing.T) {
	rt, cc := newRuntime()
	dev := gputest.NewDevice("a", gputest.WithExecutor(saxpyOnHost(t)))
	x := newBuffer(t, dev, []float32{1, 2, 3, 4})
	y := newBuffer(t, dev, []float32{0, 0, 0, 0})

	d := saxpy(1, x, y)
	require.NoError(t, rt.Dispatch(d, [3]int{4, 1, 1}, dev))
	d, err := d.Rebind(
		kernel.Scalar("a", kernel.Float, float32(10)),
		kernel.ReadOnlyBuffer("x", kernel.Float, x),
		kernel.ReadWriteBuffer("y", kernel.Float, y),
	)
	require.NoError(t, err)
	require.NoError(t, rt.Dispatch(d, [3]int{4, 1, 1}, dev))
	require.NoError(t, rt.Dispatch(saxpy(100, x, y), [3]int{4, 1, 1}, dev))

	got, err := dev.ReadFloats(y, 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{111, 222, 333, 444}, got)

	assert.Equal(t, int32(1), cc.calls.Load())
	assert.Equal(t, 1, rt.ShapeCount())
	assert.Equal(t, 1, rt.PipelineCount(dev))
	assert.Equal(t, 1, dev.Created(gputest.KindComputePipeline))
}

func TestConcurrentFirstDispatch(t *testing.T) {
	rt, cc := newRuntime()
	devs := []*gputest.Device{gputest.NewDevice("a"), gputest.NewDevice("b")}

	const n = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			dev := devs[i%len(devs)]
			d := saxpy(float32(i), gpucore.BufferID(i+1), gpucore.BufferID(i+100))
			assert.NoError(t, rt.Dispatch(d, [3]int{64 * (i + 1), 1, 1}, dev))
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), cc.calls.Load())
	assert.Equal(t, 1, rt.ShapeCount())
	for _, dev := range devs {
		assert.Equal(t, 1, rt.PipelineCount(dev), dev.Label())
		assert.Equal(t, 1, dev.Created(gputest.KindComputePipeline), dev.Label())
		assert.Len(t, dev.Dispatches(), n/len(devs))
	}
	assert.Equal(t, uint64(n), rt.Stats().Completed)
}

func TestDispatchDescriptorError(t *testing.T) {
	rt, cc := newRuntime()
	dev := gputest.NewDevice("a")

	require.NoError(t, rt.Dispatch(saxpy(1, 1, 2), [3]int{64, 1, 1}, dev))

	bad := kernel.New("bad", [3]uint32{64, 1, 1}, nil,
		kernel.Let("v", kernel.Ref("missing")))
	err := rt.Dispatch(bad, [3]int{64, 1, 1}, dev)
	var de *DescriptorError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, gpucore.ReasonUndefinedName, de.Reason)

	// The failure leaves the cached shape and its pipeline alone.
	require.NoError(t, rt.Dispatch(saxpy(2, 3, 4), [3]int{64, 1, 1}, dev))
	assert.Equal(t, int32(1), cc.calls.Load())
	assert.Equal(t, 1, rt.ShapeCount())
	assert.Equal(t, 1, dev.Created(gputest.KindComputePipeline))
	assert.Len(t, dev.Dispatches(), 2)
}

func TestDispatchInvalidGroupShape(t *testing.T) {
	rt, _ := newRuntime()
	dev := gputest.NewDevice("a")

	d := kernel.New("wide", [3]uint32{512, 1, 1},
		[]kernel.Capture{kernel.ReadWriteBuffer("out", kernel.Float, 1)},
		kernel.Store("out", kernel.F(0), kernel.ThreadID(kernel.X)),
	)
	err := rt.Dispatch(d, [3]int{512, 1, 1}, dev)
	var de *DescriptorError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, gpucore.ReasonInvalidShape, de.Reason)
	assert.Zero(t, dev.Created(gputest.KindShaderModule))
}

func TestDispatchTooManyBindings(t *testing.T) {
	rt, _ := newRuntime()
	l := gpucore.DefaultLimits()
	l.MaxBindingsPerGroup = 2
	dev := gputest.NewDevice("a", gputest.WithLimits(l))

	err := rt.Dispatch(saxpy(1, 1, 2), [3]int{64, 1, 1}, dev)
	var de *DescriptorError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, gpucore.ReasonInvalidShape, de.Reason)
	assert.Zero(t, rt.PipelineCount(dev))
	assert.Empty(t, dev.Dispatches())
}

func TestDispatchInputDomain(t *testing.T) {
	tests := []struct {
		name   string
		domain [3]int
		axis   int
	}{
		{"zero", [3]int{0, 1, 1}, 0},
		{"negative", [3]int{16, -1, 1}, 1},
		{"too many groups", [3]int{64 * 65536, 1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, _ := newRuntime()
			dev := gputest.NewDevice("a")

			err := rt.Dispatch(saxpy(1, 1, 2), tt.domain, dev)
			var ide *InputDomainError
			require.ErrorAs(t, err, &ide)
			assert.Equal(t, tt.axis, ide.Axis)
			assert.Empty(t, dev.Dispatches())
			assert.Zero(t, dev.Created(gputest.KindComputePipeline))
		})
	}
}

func TestDispatchNilArguments(t *testing.T) {
	rt, _ := newRuntime()
	dev := gputest.NewDevice("a")
	assert.ErrorIs(t, rt.Dispatch(nil, [3]int{1, 1, 1}, dev), ErrNilDescriptor)
	assert.ErrorIs(t, rt.Dispatch(saxpy(1, 1, 2), [3]int{1, 1, 1}, nil), ErrNilDevice)
}

func TestDeviceTeardown(t *testing.T) {
	rt, _ := newRuntime()
	dev := gputest.NewDevice("a")

	require.NoError(t, rt.Dispatch(saxpy(1, 1, 2), [3]int{64, 1, 1}, dev))
	assert.Equal(t, 1, rt.PipelineCount(dev))

	dev.Destroy()
	assert.Zero(t, rt.PipelineCount(dev))
	assert.Equal(t, uint64(1), rt.Stats().PipelinesDestroyed)

	err := rt.Dispatch(saxpy(1, 1, 2), [3]int{64, 1, 1}, dev)
	var dse *DeviceStateError
	require.ErrorAs(t, err, &dse)
	assert.Equal(t, dev.ID(), dse.Device)
	assert.ErrorIs(t, err, ErrDeviceDestroyed)

	fresh := gputest.NewDevice("b")
	require.NoError(t, rt.Dispatch(saxpy(1, 1, 2), [3]int{64, 1, 1}, fresh))
	assert.Equal(t, 1, rt.PipelineCount(fresh))
	assert.Equal(t, 1, rt.ShapeCount())
}

func TestDeviceLostDuringDispatch(t *testing.T) {
	rt, _ := newRuntime()
	dev := gputest.NewDevice("a")
	require.NoError(t, rt.Dispatch(saxpy(1, 1, 2), [3]int{64, 1, 1}, dev))

	dev.Fail(gputest.OpSubmit, fmt.Errorf("driver: %w", gpucore.ErrDeviceLost))
	err := rt.Dispatch(saxpy(1, 1, 2), [3]int{64, 1, 1}, dev)
	var dse *DeviceStateError
	require.ErrorAs(t, err, &dse)
	assert.Equal(t, "submit", dse.Op)
	assert.ErrorIs(t, err, ErrDeviceLost)
	assert.Zero(t, rt.PipelineCount(dev))
	assert.Zero(t, dev.Live(gputest.KindComputePipeline))
}

func TestReleaseDevice(t *testing.T) {
	rt, _ := newRuntime()
	dev := gputest.NewDevice("a")
	require.NoError(t, rt.Dispatch(saxpy(1, 1, 2), [3]int{64, 1, 1}, dev))

	assert.Equal(t, 1, rt.ReleaseDevice(dev))
	assert.Zero(t, dev.Live(gputest.KindComputePipeline))
	assert.Zero(t, rt.ReleaseDevice(dev))

	require.NoError(t, rt.Dispatch(saxpy(1, 1, 2), [3]int{64, 1, 1}, dev))
	assert.Equal(t, 2, dev.Created(gputest.KindComputePipeline))
}

func TestDispatchAsync(t *testing.T) {
	rt, _ := newRuntime()
	dev := gputest.NewDevice("a")
	gate := make(chan struct{})
	dev.BlockWaits(gate)

	c, err := rt.DispatchAsync(saxpy(1, 1, 2), [3]int{128, 1, 1}, dev)
	require.NoError(t, err)
	assert.NoError(t, c.Err())
	select {
	case <-c.Done():
		t.Fatal("completed before the device finished")
	case <-time.After(10 * time.Millisecond):
	}
	assert.Len(t, dev.Dispatches(), 1)

	close(gate)
	require.NoError(t, c.Wait())
	assert.Zero(t, dev.Live(gputest.KindBindGroup))

	// The pipeline use ended with the completion, so this does not block.
	assert.Equal(t, 1, rt.ReleaseDevice(dev))
}

func TestDispatchAsyncErrors(t *testing.T) {
	rt, _ := newRuntime(WithWaitTimeout(10 * time.Millisecond))
	dev := gputest.NewDevice("a")

	_, err := rt.DispatchAsync(saxpy(1, 1, 2), [3]int{0, 1, 1}, dev)
	var ide *InputDomainError
	require.ErrorAs(t, err, &ide)

	dev.BlockWaits(make(chan struct{}))
	c, err := rt.DispatchAsync(saxpy(1, 1, 2), [3]int{64, 1, 1}, dev)
	require.NoError(t, err)
	err = c.Wait()
	var dse *DeviceStateError
	require.ErrorAs(t, err, &dse)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.Equal(t, err, c.Err())
	assert.Equal(t, uint64(1), rt.Stats().Failed)

	// The timed-out work may still use its pipeline and bindings.
	assert.Equal(t, 1, rt.PipelineCount(dev))
	assert.Equal(t, 1, dev.Live(gputest.KindBindGroup))

	dev.Destroy()
	assert.Zero(t, rt.PipelineCount(dev))
	assert.Zero(t, dev.Live(gputest.KindBindGroup))
}

func TestShaderEvictionReleasesPipelines(t *testing.T) {
	rt, cc := newRuntime(WithShaderCacheCapacity(1))
	dev := gputest.NewDevice("a")

	// Find two shapes that share a cache shard. Seventeen group widths
	// guarantee a pair among sixteen shards.
	shape := func(width uint32) *kernel.Descriptor {
		return kernel.New("fill", [3]uint32{width, 1, 1},
			[]kernel.Capture{kernel.ReadWriteBuffer("out", kernel.Float, 1)},
			kernel.Store("out", kernel.F(1), kernel.ThreadID(kernel.X)),
		)
	}
	var first, second *kernel.Descriptor
	seen := make(map[byte]*kernel.Descriptor)
	for w := uint32(1); w <= 17 && second == nil; w++ {
		d := shape(w)
		shard := d.ShapeKey()[0] & 15
		if prev, ok := seen[shard]; ok {
			first, second = prev, d
		}
		seen[shard] = d
	}
	require.NotNil(t, second)

	require.NoError(t, rt.Dispatch(first, [3]int{64, 1, 1}, dev))
	require.NoError(t, rt.Dispatch(second, [3]int{64, 1, 1}, dev))

	s := rt.Stats()
	assert.Equal(t, uint64(1), s.Evictions)
	assert.Equal(t, uint64(1), s.PipelinesDestroyed)
	assert.Equal(t, 1, rt.ShapeCount())
	assert.Equal(t, 1, rt.PipelineCount(dev))

	// The evicted shape compiles again.
	require.NoError(t, rt.Dispatch(first, [3]int{64, 1, 1}, dev))
	assert.Equal(t, int32(3), cc.calls.Load())
}

func TestCompile(t *testing.T) {
	rt, _ := newRuntime()
	src, err := rt.Compile(saxpy(1, 1, 2))
	require.NoError(t, err)
	assert.Contains(t, src, "@compute @workgroup_size(64, 1, 1)")
	assert.Equal(t, 1, rt.ShapeCount())

	_, err = rt.Compile(nil)
	assert.True(t, errors.Is(err, ErrNilDescriptor))
}

func TestCompileUnboundResources(t *testing.T) {
	rt, _ := newRuntime()
	d := saxpy(1, gpucore.InvalidID, gpucore.InvalidID)

	src, err := rt.Compile(d)
	require.NoError(t, err)
	assert.Contains(t, src, "var<storage, read> b_x: array<f32>;")
	assert.Contains(t, src, "var<storage, read_write> b_y: array<f32>;")

	// The shape is cached, but dispatching still needs bound buffers.
	bound, err := rt.Compile(saxpy(2, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, src, bound)
	assert.Equal(t, 1, rt.ShapeCount())

	err = rt.Dispatch(d, [3]int{64, 1, 1}, gputest.NewDevice("a"))
	var de *DescriptorError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, gpucore.ReasonInvalidValue, de.Reason)
	assert.Equal(t, "captures[1]", de.Path)
}

func TestGroupShapeFor(t *testing.T) {
	dev := gputest.NewDevice("a")
	assert.Equal(t, [3]uint32{32, 1, 1}, GroupShapeFor([3]int{1000, 1, 1}, dev))
	assert.Equal(t, [3]uint32{8, 8, 1}, GroupShapeFor([3]int{64, 64, 1}, dev))
	assert.Equal(t, [3]uint32{4, 4, 4}, GroupShapeFor([3]int{16, 16, 16}, dev))
}
