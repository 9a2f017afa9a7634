package shader

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/kernel"
)

// countingCompiler records calls and optionally fails.
type countingCompiler struct {
	calls atomic.Int32
	fail  error
}

func (c *countingCompiler) Compile(source string, targets []gpucore.ShaderTarget) (map[gpucore.ShaderTarget]gpucore.Bytecode, error) {
	c.calls.Add(1)
	if c.fail != nil {
		return nil, &gpucore.CompilationError{Target: gpucore.TargetSPIRV, Err: c.fail}
	}
	out := make(map[gpucore.ShaderTarget]gpucore.Bytecode, len(targets))
	for _, t := range targets {
		out[t] = gpucore.Bytecode{Target: t, Words: []uint32{0x07230203, uint32(len(source))}}
	}
	return out, nil
}

func fill(value float32, buf gpucore.BufferID) *kernel.Descriptor {
	return kernel.New("fill", [3]uint32{64, 1, 1},
		[]kernel.Capture{
			kernel.Scalar("v", kernel.Float, value),
			kernel.ReadWriteBuffer("out", kernel.Float, buf),
		},
		kernel.Store("out", kernel.Ref("v"), kernel.ThreadID(kernel.X)),
	)
}

func TestGetOrCompileCachesByShape(t *testing.T) {
	cc := &countingCompiler{}
	c := NewCache(WithCompiler(cc))

	a, err := c.GetOrCompile(fill(1, 1))
	require.NoError(t, err)
	b, err := c.GetOrCompile(fill(2, 9))
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, int32(1), cc.calls.Load())
	assert.Equal(t, 1, c.Len())

	spv, ok := a.Artifact(gpucore.TargetSPIRV)
	require.True(t, ok)
	assert.NotEmpty(t, spv.Words)
	wgsl, ok := a.Artifact(gpucore.TargetWGSL)
	require.True(t, ok)
	assert.Equal(t, a.Source(), wgsl.Text)
	assert.Equal(t, []gpucore.ShaderTarget{gpucore.TargetWGSL, gpucore.TargetSPIRV}, a.Targets())
	assert.Equal(t, [3]uint32{64, 1, 1}, a.WorkgroupSize())
	assert.Equal(t, "main", a.EntryPoint())

	s := c.Stats()
	assert.Equal(t, uint64(1), s.Compiles)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(1), s.Hits)
}

func TestGetOrCompileConcurrentFirstUse(t *testing.T) {
	cc := &countingCompiler{}
	c := NewCache(WithCompiler(cc))

	const n = 64
	var wg sync.WaitGroup
	results := make([]*Compiled, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			cs, err := c.GetOrCompile(fill(float32(i), gpucore.BufferID(i+1)))
			assert.NoError(t, err)
			results[i] = cs
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), cc.calls.Load())
	assert.Equal(t, 1, c.Len())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestGetOrCompileDescriptorErrorIsolated(t *testing.T) {
	cc := &countingCompiler{}
	c := NewCache(WithCompiler(cc))

	good, err := c.GetOrCompile(fill(1, 1))
	require.NoError(t, err)

	bad := kernel.New("bad", [3]uint32{64, 1, 1}, nil,
		kernel.Let("x", kernel.Ref("undefined")))
	_, err = c.GetOrCompile(bad)
	var de *gpucore.DescriptorError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, gpucore.ReasonUndefinedName, de.Reason)

	again, err := c.GetOrCompile(fill(3, 4))
	require.NoError(t, err)
	assert.Same(t, good, again)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int32(1), cc.calls.Load())
	assert.Equal(t, uint64(1), c.Stats().Failures)
}

func TestGetOrCompileCompilationError(t *testing.T) {
	errReject := errors.New("rejected")
	cc := &countingCompiler{fail: errReject}
	c := NewCache(WithCompiler(cc))

	_, err := c.GetOrCompile(fill(1, 1))
	var ce *gpucore.CompilationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, gpucore.TargetSPIRV, ce.Target)
	assert.Equal(t, "fill", ce.Kernel)
	assert.Contains(t, ce.Source, "@compute")
	assert.ErrorIs(t, err, errReject)
	assert.Equal(t, 0, c.Len())

	// Failures are not retained; the next request compiles again.
	cc.fail = nil
	_, err = c.GetOrCompile(fill(1, 1))
	require.NoError(t, err)
	assert.Equal(t, int32(2), cc.calls.Load())
}

func TestEvictHook(t *testing.T) {
	var evicted []*Compiled
	c := NewCache(
		WithCompiler(&countingCompiler{}),
		WithEvictHook(func(cs *Compiled) { evicted = append(evicted, cs) }),
		WithCapacity(1),
	)

	// Distinct group widths give distinct shapes; keep compiling until two
	// land in the same shard.
	for w := uint32(1); w <= 64 && len(evicted) == 0; w++ {
		d := kernel.New("w", [3]uint32{w, 1, 1}, nil, kernel.Return())
		_, err := c.GetOrCompile(d)
		require.NoError(t, err)
	}
	require.NotEmpty(t, evicted)
	_, ok := c.Get(evicted[0].Key)
	assert.False(t, ok)
	assert.True(t, evicted[0].Retired())
	assert.Equal(t, uint64(len(evicted)), c.Stats().Evictions)
}

func TestRangeAndClear(t *testing.T) {
	c := NewCache(WithCompiler(&countingCompiler{}))
	for w := uint32(1); w <= 3; w++ {
		_, err := c.GetOrCompile(kernel.New("w", [3]uint32{w, 1, 1}, nil, kernel.Return()))
		require.NoError(t, err)
	}
	n := 0
	c.Range(func(*Compiled) bool { n++; return true })
	assert.Equal(t, 3, n)
	assert.Len(t, c.Clear(), 3)
	assert.Equal(t, 0, c.Len())
}

func TestNagaCompiler(t *testing.T) {
	c := NewCache(WithTargets(gpucore.TargetSPIRV))
	cs, err := c.GetOrCompile(fill(1, 1))
	require.NoError(t, err)

	spv, ok := cs.Artifact(gpucore.TargetSPIRV)
	require.True(t, ok)
	require.NotEmpty(t, spv.Words)
	assert.Equal(t, uint32(0x07230203), spv.Words[0], "SPIR-V magic number")
}

func TestNagaCompilerRejectsInvalidSource(t *testing.T) {
	_, err := NagaCompiler{}.Compile("fn main( {", []gpucore.ShaderTarget{gpucore.TargetSPIRV})
	var ce *gpucore.CompilationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, gpucore.TargetWGSL, ce.Target)
}

func TestSPIRVWords(t *testing.T) {
	words, err := spirvWords([]byte{0x03, 0x02, 0x23, 0x07, 0x01, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x07230203, 1}, words)

	_, err = spirvWords([]byte{1, 2, 3})
	assert.Error(t, err)
}
